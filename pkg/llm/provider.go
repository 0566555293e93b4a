package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// PromptRev identifies the prompt version baked into every LLM-sourced
// finding; bump it whenever SystemPrompt changes in a way that affects
// output shape or substance.
const PromptRev = "review_v1"

const SystemPrompt = `You are a legal AI assistant helping review contract clauses.

Given a list of clauses, you will:
- Read each clause carefully.
- Decide if it contains any material legal risk or key commercial issue.
- If yes, produce a finding for that clause with:
  - severity: "low", "medium", or "high"
  - summary: a one-sentence plain-language summary of the issue
  - explanation: a short explanation in lawyer-friendly language
  - evidence_text: an exact quote from the clause that supports your finding
  - confidence: a number between 0 and 1

If a clause seems neutral or unremarkable, you may omit it (no finding).

Return ONLY valid JSON. Do not include comments or extra text.`

// Clause is the minimal shape a provider needs about a chunk.
type Clause struct {
	ID      string
	Heading string
	Body    string
}

// TokenUsage mirrors the usage block OpenAI returns alongside a
// completion; the mock provider reports zeroes.
type TokenUsage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// Provider is the narrow capability interface the pipeline executor talks
// to: given clauses, produce validated raw findings, the model name that
// produced them, and token usage for the run.
type Provider interface {
	Call(ctx context.Context, clauses []Clause) ([]RawFinding, string, TokenUsage, error)
}

// MockProvider returns one deterministic medium-severity finding per
// clause. Used when LLM_PROVIDER=mock or no API key is configured,
// so the pipeline remains runnable without external calls.
type MockProvider struct{}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func mockFindingsForClauses(clauses []Clause) []interface{} {
	findings := make([]interface{}, 0, len(clauses))
	for _, c := range clauses {
		heading := strings.TrimSpace(c.Heading)
		body := strings.TrimSpace(c.Body)

		evidenceText := "Evidence unavailable."
		if body != "" {
			evidenceText = truncate(body, 200)
		} else if heading != "" {
			evidenceText = truncate(heading, 200)
		}
		evidenceEnd := len(evidenceText)
		if evidenceEnd <= 0 {
			evidenceEnd = 1
		}

		summary := "Mock review: potential issues flagged for review."
		if heading != "" {
			summary = fmt.Sprintf("Mock review (%s): potential issues flagged for review.", heading)
		}

		findings = append(findings, map[string]interface{}{
			"clause_id":     c.ID,
			"severity":      "medium",
			"summary":       summary,
			"explanation":   "Mock mode is enabled, so this finding was generated without an LLM call.",
			"evidence_text": evidenceText,
			"evidence_span": map[string]interface{}{"start": 0, "end": evidenceEnd},
			"confidence":    0.65,
		})
	}
	return findings
}

func (MockProvider) Call(_ context.Context, clauses []Clause) ([]RawFinding, string, TokenUsage, error) {
	raw := map[string]interface{}{"findings": mockFindingsForClauses(clauses)}
	validated, err := ValidateRawResponse(raw)
	if err != nil {
		return nil, "", TokenUsage{}, err
	}
	return validated.Findings, "mock", TokenUsage{}, nil
}

// OpenAIProvider calls the OpenAI chat completions API with a strict JSON
// schema response format, so the model's output always satisfies
// FindingsJSONSchema by construction.
type OpenAIProvider struct {
	client openai.Client
	model  string
}

func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIProvider{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

type clausePayload struct {
	ID      string `json:"id"`
	Heading string `json:"heading"`
	Body    string `json:"body"`
}

func buildClausesPayload(clauses []Clause) []clausePayload {
	payload := make([]clausePayload, 0, len(clauses))
	for _, c := range clauses {
		payload = append(payload, clausePayload{ID: c.ID, Heading: c.Heading, Body: c.Body})
	}
	return payload
}

func (p *OpenAIProvider) Call(ctx context.Context, clauses []Clause) ([]RawFinding, string, TokenUsage, error) {
	if len(clauses) == 0 {
		return nil, p.model, TokenUsage{}, nil
	}

	payload, err := json.Marshal(map[string]interface{}{"clauses": buildClausesPayload(clauses)})
	if err != nil {
		return nil, p.model, TokenUsage{}, fmt.Errorf("marshal clause payload: %w", err)
	}

	userContent := "Review the following clauses and return JSON with a 'findings' array.\n\n" + string(payload)

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: p.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(strings.TrimSpace(SystemPrompt)),
			openai.UserMessage(userContent),
		},
		Temperature: openai.Float(0.1),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "contract_clause_findings",
					Schema: FindingsJSONSchema,
					Strict: openai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		return nil, p.model, TokenUsage{}, fmt.Errorf("llm call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, p.model, TokenUsage{}, fmt.Errorf("llm call returned no choices")
	}

	var rawResponse map[string]interface{}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &rawResponse); err != nil {
		return nil, p.model, TokenUsage{}, fmt.Errorf("decode llm response: %w", err)
	}

	validated, err := ValidateRawResponse(rawResponse)
	if err != nil {
		return nil, p.model, TokenUsage{}, err
	}

	usage := TokenUsage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	return validated.Findings, p.model, usage, nil
}

// SelectProvider picks mock or OpenAI per configuration, falling back to
// mock when no API key is available so the pipeline stays runnable.
func SelectProvider(providerName, apiKey, model string) Provider {
	if strings.ToLower(strings.TrimSpace(providerName)) == "mock" || apiKey == "" {
		return MockProvider{}
	}
	return NewOpenAIProvider(apiKey, model)
}
