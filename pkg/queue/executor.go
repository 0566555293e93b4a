package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/markiskorova/reviewpipeline/ent"
	"github.com/markiskorova/reviewpipeline/ent/reviewrun"
	"github.com/markiskorova/reviewpipeline/pkg/cache"
	"github.com/markiskorova/reviewpipeline/pkg/chunker"
	"github.com/markiskorova/reviewpipeline/pkg/config"
	"github.com/markiskorova/reviewpipeline/pkg/llm"
	"github.com/markiskorova/reviewpipeline/pkg/rules"
	"github.com/markiskorova/reviewpipeline/pkg/store"
)

// PipelineExecutor drives one claimed review run through the staged
// pipeline: preprocess, rules, LLM, persist. It owns every run-row state
// transition from "running" to a terminal status.
//
// Failure policy: an LLM timeout or transport error is contained — the run
// degrades to "partial" with rule findings only and the cache is left
// unpopulated. A strict-schema or evidence-span validation error, and any
// error outside the LLM stage, marks the run "failed" and propagates to
// the worker for retry with backoff.
type PipelineExecutor struct {
	client      *ent.Client
	resultCache *cache.ResultCache
	provider    llm.Provider
	cfg         *config.ReviewConfig
	llmTimeout  time.Duration
}

// NewPipelineExecutor creates a new PipelineExecutor. resultCache may be
// nil when the pipeline cache is disabled.
func NewPipelineExecutor(client *ent.Client, resultCache *cache.ResultCache, provider llm.Provider, cfg *config.ReviewConfig, llmTimeout time.Duration) *PipelineExecutor {
	if client == nil {
		panic("NewPipelineExecutor: client must not be nil")
	}
	if provider == nil {
		panic("NewPipelineExecutor: provider must not be nil")
	}
	if cfg == nil {
		panic("NewPipelineExecutor: cfg must not be nil")
	}
	if llmTimeout <= 0 {
		llmTimeout = 60 * time.Second
	}
	return &PipelineExecutor{
		client:      client,
		resultCache: resultCache,
		provider:    provider,
		cfg:         cfg,
		llmTimeout:  llmTimeout,
	}
}

// stopwatch measures one stage in integer milliseconds.
type stopwatch struct{ start time.Time }

func startStopwatch() stopwatch { return stopwatch{start: time.Now()} }

func (s stopwatch) millis() int { return int(time.Since(s.start).Milliseconds()) }

// Process drives exactly one attempt for runID.
func (e *PipelineExecutor) Process(ctx context.Context, runID string) error {
	run, err := e.client.ReviewRun.Get(ctx, runID)
	if err != nil {
		return fmt.Errorf("executor: fetch run %s: %w", runID, err)
	}
	doc, err := e.client.Document.Get(ctx, run.DocumentID)
	if err != nil {
		return fmt.Errorf("executor: fetch document %s: %w", run.DocumentID, err)
	}

	log := slog.With("run_id", run.ID, "document_id", doc.ID)

	cacheKey, err := cache.BuildCacheKey(string(doc.SourceType), doc.Text, doc.IngestionMetadata, e.cfg.PromptRev, e.cfg.ChunkSchemaVersion)
	if err != nil {
		return e.markFailed(run.ID, err, nil, nil)
	}

	upd := run.Update().
		SetStatus(reviewrun.StatusRunning).
		SetCurrentStage(reviewrun.CurrentStagePreprocess).
		ClearError().
		ClearCompletedAt().
		SetStageTimings(map[string]int{}).
		SetTokenUsage(map[string]interface{}{}).
		SetCacheKey(cacheKey)
	if run.StartedAt == nil {
		upd.SetStartedAt(time.Now())
	}
	run, err = upd.Save(ctx)
	if err != nil {
		return fmt.Errorf("executor: transition run %s to running: %w", runID, err)
	}

	timings := map[string]int{}
	tokenUsage := map[string]interface{}{}
	llmFailed := false
	var llmError string

	var chunks []store.ChunkInput
	var findings []store.FindingInput
	var llmModel, promptRev string

	lookup := startStopwatch()
	bundle, hit := e.lookupCache(cacheKey)
	timings["cache_lookup_ms"] = lookup.millis()
	observeStage("cache_lookup", timings["cache_lookup_ms"])

	if hit {
		log.Info("Pipeline cache hit, skipping preprocess/rules/llm", "cache_key", cacheKey)
		if err := run.Update().AddCacheHits(1).Exec(ctx); err != nil {
			return e.markFailed(run.ID, err, timings, tokenUsage)
		}
		chunks = chunkRecordsToInputs(bundle.Chunks)
		findings = findingRecordsToInputs(bundle.Findings)
		llmModel = bundle.LLMModel
		promptRev = bundle.PromptRev
		if bundle.TokenUsage != nil {
			tokenUsage = bundle.TokenUsage
		}
		decorateFindings(findings, chunks)
	} else {
		if err := run.Update().AddCacheMisses(1).Exec(ctx); err != nil {
			return e.markFailed(run.ID, err, timings, tokenUsage)
		}

		if err := e.setStage(ctx, run.ID, reviewrun.CurrentStagePreprocess); err != nil {
			return e.markFailed(run.ID, err, timings, tokenUsage)
		}
		preprocess := startStopwatch()
		rawChunks := chunker.PreprocessDocumentToChunks(doc.Text, string(doc.SourceType), doc.IngestionMetadata)
		chunks = chunksToInputs(rawChunks)
		timings["preprocess_ms"] = preprocess.millis()
		observeStage("preprocess", timings["preprocess_ms"])

		if err := e.setStage(ctx, run.ID, reviewrun.CurrentStageRules); err != nil {
			return e.markFailed(run.ID, err, timings, tokenUsage)
		}
		ruleStage := startStopwatch()
		ruleFindings := rules.RunRules(chunksToRuleClauses(chunks), e.cfg.PreferredJurisdiction)
		timings["rules_ms"] = ruleStage.millis()
		observeStage("rules", timings["rules_ms"])

		if err := e.setStage(ctx, run.ID, reviewrun.CurrentStageLlm); err != nil {
			return e.markFailed(run.ID, err, timings, tokenUsage)
		}
		llmStage := startStopwatch()
		llmFindings, model, usage, llmErr := e.callLLM(ctx, chunks)
		timings["llm_ms"] = llmStage.millis()
		observeStage("llm", timings["llm_ms"])

		llmModel = model
		promptRev = e.cfg.PromptRev
		tokenUsage = tokenUsageToMap(usage)

		if llmErr != nil {
			var validationErr *llm.ValidationError
			if errors.As(llmErr, &validationErr) {
				// A malformed provider response is a hard failure: partial
				// results from an unvalidated payload must never persist.
				return e.markFailed(run.ID, fmt.Errorf("llm response validation failed: %w", llmErr), timings, tokenUsage)
			}
			llmFailed = true
			if errors.Is(llmErr, context.DeadlineExceeded) {
				llmError = fmt.Sprintf("LLM stage timeout: %v", llmErr)
			} else {
				llmError = fmt.Sprintf("LLM stage failed: %v", llmErr)
			}
			log.Warn("LLM stage degraded run to partial", "error", llmErr)
		}

		findings = ruleFindingsToInputs(ruleFindings)
		if !llmFailed {
			findings = append(findings, llmFindingsToInputs(llmFindings)...)
		}
		decorateFindings(findings, chunks)

		// Only fully successful runs populate the cache.
		if !llmFailed && e.resultCache != nil {
			e.resultCache.Set(cacheKey, cache.ResultBundle{
				Chunks:     inputsToChunkRecords(chunks),
				Findings:   inputsToFindingRecords(findings),
				LLMModel:   llmModel,
				PromptRev:  promptRev,
				TokenUsage: tokenUsage,
			})
		}
	}

	if err := e.setStage(ctx, run.ID, reviewrun.CurrentStagePersist); err != nil {
		return e.markFailed(run.ID, err, timings, tokenUsage)
	}
	persist := startStopwatch()
	if err := store.PersistChunksForRun(ctx, e.client, doc.ID, run.ID, chunks); err != nil {
		return e.markFailed(run.ID, err, timings, tokenUsage)
	}
	if err := store.PersistFindingsForRun(ctx, e.client, doc.ID, run.ID, findings); err != nil {
		return e.markFailed(run.ID, err, timings, tokenUsage)
	}
	timings["persist_ms"] = persist.millis()
	observeStage("persist", timings["persist_ms"])

	status := reviewrun.StatusSucceeded
	terminal := e.client.ReviewRun.UpdateOneID(run.ID).
		ClearCurrentStage().
		SetCompletedAt(time.Now()).
		SetStageTimings(timings).
		SetTokenUsage(tokenUsage)
	if llmFailed {
		status = reviewrun.StatusPartial
		terminal.SetError(llmError)
	} else {
		terminal.ClearError()
	}
	terminal.SetStatus(status)

	// Cache hits reuse the bundle's model/prompt revision; on a miss these
	// are written by PersistFindingsForRun from the first LLM finding, so
	// only the hit path needs them here.
	if hit {
		if llmModel != "" {
			terminal.SetLlmModel(llmModel)
		}
		if promptRev != "" {
			terminal.SetPromptRev(promptRev)
		}
	}

	if err := terminal.Exec(ctx); err != nil {
		return e.markFailed(run.ID, err, timings, tokenUsage)
	}

	runsCompletedTotal.WithLabelValues(string(status)).Inc()
	log.Info("Review run completed", "status", status, "cache_hit", hit)
	return nil
}

// callLLM invokes the provider under the configured timeout and projects
// chunks into the clause shape the provider expects.
func (e *PipelineExecutor) callLLM(ctx context.Context, chunks []store.ChunkInput) ([]llm.Finding, string, llm.TokenUsage, error) {
	clauses := make([]llm.Clause, 0, len(chunks))
	for _, c := range chunks {
		clauses = append(clauses, llm.Clause{ID: c.ChunkID, Heading: c.Heading, Body: c.Body})
	}

	llmCtx, cancel := context.WithTimeout(ctx, e.llmTimeout)
	defer cancel()
	return llm.GenerateFindingsForClauses(llmCtx, e.provider, clauses)
}

// lookupCache consults the result cache and records the outcome metric.
func (e *PipelineExecutor) lookupCache(cacheKey string) (cache.ResultBundle, bool) {
	if e.resultCache == nil {
		cacheLookupsTotal.WithLabelValues("disabled").Inc()
		return cache.ResultBundle{}, false
	}
	bundle, ok := e.resultCache.Get(cacheKey)
	if ok {
		cacheLookupsTotal.WithLabelValues("hit").Inc()
	} else {
		cacheLookupsTotal.WithLabelValues("miss").Inc()
	}
	return bundle, ok
}

// setStage records the stage the run is about to enter.
func (e *PipelineExecutor) setStage(ctx context.Context, runID string, stage reviewrun.CurrentStage) error {
	return e.client.ReviewRun.UpdateOneID(runID).SetCurrentStage(stage).Exec(ctx)
}

// markFailed writes the terminal failed state, preserving whatever timings
// and usage accumulated, then returns the original error so the worker can
// apply its retry policy. The write uses a background context because the
// run context may already be cancelled.
func (e *PipelineExecutor) markFailed(runID string, cause error, timings map[string]int, tokenUsage map[string]interface{}) error {
	upd := e.client.ReviewRun.UpdateOneID(runID).
		SetStatus(reviewrun.StatusFailed).
		SetError(cause.Error()).
		SetCompletedAt(time.Now()).
		ClearCurrentStage()
	if timings != nil {
		upd.SetStageTimings(timings)
	}
	if tokenUsage != nil {
		upd.SetTokenUsage(tokenUsage)
	}
	if err := upd.Exec(context.Background()); err != nil {
		slog.Error("Failed to mark run as failed", "run_id", runID, "error", err)
	}
	runsCompletedTotal.WithLabelValues(string(reviewrun.StatusFailed)).Inc()
	return cause
}

// decorateFindings fills clause heading/body from the owning chunk,
// guarantees every finding carries a usable evidence span, and attaches
// the chunk's evidence pointer (spreadsheet sheet/row range) when present.
func decorateFindings(findings []store.FindingInput, chunks []store.ChunkInput) {
	byID := make(map[string]store.ChunkInput, len(chunks))
	for _, c := range chunks {
		byID[c.ChunkID] = c
	}

	for i := range findings {
		f := &findings[i]
		if f.ChunkID == "" {
			f.ChunkID = f.ClauseID
		}
		chunk, ok := byID[f.ChunkID]
		if !ok {
			continue
		}
		if f.ClauseHeading == "" {
			f.ClauseHeading = chunk.Heading
		}
		if f.ClauseBody == "" {
			f.ClauseBody = chunk.Body
		}

		if f.EvidenceSpan == nil {
			end := len(f.Evidence)
			if end > len(chunk.Body) {
				end = len(chunk.Body)
			}
			if end < 1 {
				end = 1
			}
			f.EvidenceSpan = map[string]interface{}{"start": 0, "end": end}
		}
		if pointer, ok := chunk.Metadata["evidence_pointer"]; ok {
			if _, present := f.EvidenceSpan["pointer"]; !present {
				f.EvidenceSpan["pointer"] = pointer
			}
		}
	}
}

func chunksToInputs(chunks []chunker.Chunk) []store.ChunkInput {
	out := make([]store.ChunkInput, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, store.ChunkInput{
			ChunkID:       c.ChunkID,
			SchemaVersion: c.SchemaVersion,
			Ordinal:       c.Ordinal,
			Heading:       c.Heading,
			Body:          c.Body,
			StartOffset:   c.StartOffset,
			EndOffset:     c.EndOffset,
			Metadata:      c.Metadata,
		})
	}
	return out
}

func chunksToRuleClauses(chunks []store.ChunkInput) []rules.Clause {
	out := make([]rules.Clause, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, rules.Clause{ID: c.ChunkID, Heading: c.Heading, Body: c.Body})
	}
	return out
}

func ruleFindingsToInputs(findings []rules.Finding) []store.FindingInput {
	out := make([]store.FindingInput, 0, len(findings))
	for _, f := range findings {
		out = append(out, store.FindingInput{
			ClauseID:    f.ClauseID,
			ChunkID:     f.ClauseID,
			RuleCode:    f.RuleCode,
			Severity:    string(f.Severity),
			Summary:     f.Summary,
			Explanation: f.Explanation,
			Evidence:    f.Evidence,
			Source:      "rule",
		})
	}
	return out
}

func llmFindingsToInputs(findings []llm.Finding) []store.FindingInput {
	out := make([]store.FindingInput, 0, len(findings))
	for _, f := range findings {
		confidence := f.Confidence
		out = append(out, store.FindingInput{
			ClauseID:     f.ClauseID,
			ChunkID:      f.ClauseID,
			Severity:     f.Severity,
			Summary:      f.Summary,
			Explanation:  f.Explanation,
			Evidence:     f.Evidence,
			EvidenceSpan: f.EvidenceSpan,
			Source:       f.Source,
			Model:        f.Model,
			Confidence:   &confidence,
			PromptRev:    f.PromptRev,
		})
	}
	return out
}

func tokenUsageToMap(usage llm.TokenUsage) map[string]interface{} {
	return map[string]interface{}{
		"prompt_tokens":     usage.PromptTokens,
		"completion_tokens": usage.CompletionTokens,
		"total_tokens":      usage.TotalTokens,
	}
}

func chunkRecordsToInputs(records []cache.ChunkRecord) []store.ChunkInput {
	out := make([]store.ChunkInput, 0, len(records))
	for _, r := range records {
		out = append(out, store.ChunkInput(r))
	}
	return out
}

func inputsToChunkRecords(inputs []store.ChunkInput) []cache.ChunkRecord {
	out := make([]cache.ChunkRecord, 0, len(inputs))
	for _, c := range inputs {
		out = append(out, cache.ChunkRecord(c))
	}
	return out
}

func findingRecordsToInputs(records []cache.FindingRecord) []store.FindingInput {
	out := make([]store.FindingInput, 0, len(records))
	for _, r := range records {
		out = append(out, store.FindingInput{
			ClauseID:     r.ClauseID,
			ChunkID:      r.ChunkID,
			RuleCode:     r.RuleCode,
			Severity:     r.Severity,
			Summary:      r.Summary,
			Explanation:  r.Explanation,
			Evidence:     r.Evidence,
			EvidenceSpan: r.EvidenceSpan,
			Source:       r.Source,
			Model:        r.Model,
			Confidence:   r.Confidence,
			PromptRev:    r.PromptRev,
		})
	}
	return out
}

func inputsToFindingRecords(inputs []store.FindingInput) []cache.FindingRecord {
	out := make([]cache.FindingRecord, 0, len(inputs))
	for _, f := range inputs {
		out = append(out, cache.FindingRecord{
			ClauseID:     f.ClauseID,
			ChunkID:      f.ChunkID,
			RuleCode:     f.RuleCode,
			Severity:     f.Severity,
			Summary:      f.Summary,
			Explanation:  f.Explanation,
			Evidence:     f.Evidence,
			EvidenceSpan: f.EvidenceSpan,
			Source:       f.Source,
			Model:        f.Model,
			Confidence:   f.Confidence,
			PromptRev:    f.PromptRev,
		})
	}
	return out
}
