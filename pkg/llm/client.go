package llm

import (
	"context"

	"github.com/google/uuid"
)

// Finding is a normalized LLM-sourced finding, shaped to match the
// deterministic rule findings so both can be persisted by pkg/store
// without a provider-specific branch.
type Finding struct {
	ID           string
	ClauseID     string
	Severity     string
	Summary      string
	Explanation  string
	Evidence     string
	EvidenceSpan map[string]interface{}
	Confidence   float64
	Model        string
	PromptRev    string
	Source       string
}

func isSpanInClauseBody(span EvidenceSpan, bodyLen int) bool {
	if span.Start < 0 || span.End <= span.Start {
		return false
	}
	return span.End <= bodyLen
}

// GenerateFindingsForClauses calls the given provider and normalizes its
// raw output into Findings. Findings referencing an unknown clause are
// dropped; findings without evidence text are dropped (evidence gating);
// an evidence span outside the clause body is a hard validation error
// since it indicates the model fabricated a quote.
func GenerateFindingsForClauses(ctx context.Context, provider Provider, clauses []Clause) ([]Finding, string, TokenUsage, error) {
	rawFindings, model, usage, err := provider.Call(ctx, clauses)
	if err != nil {
		return nil, model, usage, err
	}

	byClauseID := make(map[string]Clause, len(clauses))
	for _, c := range clauses {
		byClauseID[c.ID] = c
	}

	normalized := make([]Finding, 0, len(rawFindings))
	for _, item := range rawFindings {
		clause, ok := byClauseID[item.ClauseID]
		if !ok {
			continue
		}
		if item.EvidenceText == "" {
			continue
		}
		if !isSpanInClauseBody(item.EvidenceSpan, len(clause.Body)) {
			return nil, model, usage, newValidationError("evidence_span out of bounds for clause_id=%s", item.ClauseID)
		}

		normalized = append(normalized, Finding{
			ID:          uuid.NewString(),
			ClauseID:    item.ClauseID,
			Severity:    item.Severity,
			Summary:     item.Summary,
			Explanation: item.Explanation,
			Evidence:    item.EvidenceText,
			EvidenceSpan: map[string]interface{}{
				"start": item.EvidenceSpan.Start,
				"end":   item.EvidenceSpan.End,
			},
			Confidence: item.Confidence,
			Model:      model,
			PromptRev:  PromptRev,
			Source:     "llm",
		})
	}

	return normalized, model, usage, nil
}
