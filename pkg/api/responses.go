package api

import (
	"time"

	"github.com/markiskorova/reviewpipeline/ent"
	"github.com/markiskorova/reviewpipeline/pkg/models"
)

// DocumentResponse is the serialized document shape.
type DocumentResponse struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	SourceType string    `json:"source_type,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// RunResponse is the serialized review run shape.
type RunResponse struct {
	ID                 string                 `json:"id"`
	DocumentID         string                 `json:"document_id"`
	IdempotencyKey     *string                `json:"idempotency_key"`
	RequestFingerprint *string                `json:"request_fingerprint"`
	Status             string                 `json:"status"`
	CurrentStage       *string                `json:"current_stage"`
	Error              *string                `json:"error"`
	LLMModel           *string                `json:"llm_model"`
	PromptRev          *string                `json:"prompt_rev"`
	CacheKey           *string                `json:"cache_key"`
	CacheHits          int                    `json:"cache_hits"`
	CacheMisses        int                    `json:"cache_misses"`
	TokenUsage         map[string]interface{} `json:"token_usage"`
	StageTimings       map[string]int         `json:"stage_timings"`
	StartedAt          *time.Time             `json:"started_at"`
	CompletedAt        *time.Time             `json:"completed_at"`
	CreatedAt          time.Time              `json:"created_at"`
}

// FindingResponse is the serialized finding shape.
type FindingResponse struct {
	ID             string                 `json:"id"`
	DocumentID     string                 `json:"document_id"`
	RunID          *string                `json:"run_id"`
	ClauseID       string                 `json:"clause_id"`
	ChunkID        string                 `json:"chunk_id,omitempty"`
	ClauseHeading  *string                `json:"clause_heading"`
	ClauseBody     *string                `json:"clause_body"`
	Summary        string                 `json:"summary"`
	Explanation    *string                `json:"explanation"`
	Recommendation *string                `json:"recommendation"`
	Severity       string                 `json:"severity"`
	Evidence       string                 `json:"evidence,omitempty"`
	EvidenceSpan   map[string]interface{} `json:"evidence_span"`
	Source         string                 `json:"source"`
	RuleCode       *string                `json:"rule_code"`
	Model          *string                `json:"model"`
	Confidence     *float64               `json:"confidence"`
	PromptRev      *string                `json:"prompt_rev"`
	CreatedAt      time.Time              `json:"created_at"`
}

// RunReviewResponse is returned by POST /v1/review/run for both new
// enqueues (202) and idempotent reuse (200). Clauses and findings are
// always empty at submission time; they materialize asynchronously.
type RunReviewResponse struct {
	Document          *DocumentResponse  `json:"document"`
	Clauses           []interface{}      `json:"clauses"`
	Findings          []*FindingResponse `json:"findings"`
	Run               *RunResponse       `json:"run"`
	IdempotencyReused bool               `json:"idempotency_reused"`
}

// RunDetailResponse is returned by GET /v1/review-runs/:id.
type RunDetailResponse struct {
	Run      *RunResponse      `json:"run"`
	Document *DocumentResponse `json:"document"`
}

// FindingsListResponse is returned by GET /v1/documents/:id/findings.
type FindingsListResponse struct {
	Document   *DocumentResponse  `json:"document"`
	Run        *RunResponse       `json:"run"`
	Findings   []*FindingResponse `json:"findings"`
	Pagination models.Pagination  `json:"pagination"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// HealthCheck represents the status of a single health check component.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func newDocumentResponse(doc *ent.Document) *DocumentResponse {
	if doc == nil {
		return nil
	}
	return &DocumentResponse{
		ID:         doc.ID,
		Title:      doc.Title,
		SourceType: string(doc.SourceType),
		CreatedAt:  doc.CreatedAt,
	}
}

func newRunResponse(run *ent.ReviewRun) *RunResponse {
	if run == nil {
		return nil
	}
	var stage *string
	if run.CurrentStage != nil {
		s := string(*run.CurrentStage)
		stage = &s
	}
	return &RunResponse{
		ID:                 run.ID,
		DocumentID:         run.DocumentID,
		IdempotencyKey:     run.IdempotencyKey,
		RequestFingerprint: run.RequestFingerprint,
		Status:             string(run.Status),
		CurrentStage:       stage,
		Error:              run.Error,
		LLMModel:           run.LlmModel,
		PromptRev:          run.PromptRev,
		CacheKey:           run.CacheKey,
		CacheHits:          run.CacheHits,
		CacheMisses:        run.CacheMisses,
		TokenUsage:         run.TokenUsage,
		StageTimings:       run.StageTimings,
		StartedAt:          run.StartedAt,
		CompletedAt:        run.CompletedAt,
		CreatedAt:          run.CreatedAt,
	}
}

func newFindingResponse(f *ent.Finding) *FindingResponse {
	return &FindingResponse{
		ID:             f.ID,
		DocumentID:     f.DocumentID,
		RunID:          f.RunID,
		ClauseID:       f.ClauseID,
		ChunkID:        f.ChunkID,
		ClauseHeading:  f.ClauseHeading,
		ClauseBody:     f.ClauseBody,
		Summary:        f.Summary,
		Explanation:    f.Explanation,
		Recommendation: f.Recommendation,
		Severity:       string(f.Severity),
		Evidence:       f.Evidence,
		EvidenceSpan:   f.EvidenceSpan,
		Source:         string(f.Source),
		RuleCode:       f.RuleCode,
		Model:          f.Model,
		Confidence:     f.Confidence,
		PromptRev:      f.PromptRev,
		CreatedAt:      f.CreatedAt,
	}
}

func newFindingResponses(findings []*ent.Finding) []*FindingResponse {
	out := make([]*FindingResponse, 0, len(findings))
	for _, f := range findings {
		out = append(out, newFindingResponse(f))
	}
	return out
}
