package llm

import (
	"fmt"
	"math"
	"strings"
)

// FindingsJSONSchema is the strict JSON schema handed to the OpenAI
// structured-output API and used to describe the expected mock/real
// response shape. Keep in sync with the validation in ValidateRawResponse.
var FindingsJSONSchema = map[string]interface{}{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []string{"findings"},
	"properties": map[string]interface{}{
		"findings": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type":                 "object",
				"additionalProperties": false,
				"required": []string{
					"clause_id",
					"severity",
					"summary",
					"explanation",
					"evidence_text",
					"evidence_span",
					"confidence",
				},
				"properties": map[string]interface{}{
					"clause_id":     map[string]interface{}{"type": "string", "minLength": 1},
					"severity":      map[string]interface{}{"type": "string", "enum": []string{"low", "medium", "high"}},
					"summary":       map[string]interface{}{"type": "string", "minLength": 1},
					"explanation":   map[string]interface{}{"type": "string", "minLength": 1},
					"evidence_text": map[string]interface{}{"type": "string", "minLength": 1},
					"evidence_span": map[string]interface{}{
						"type":                 "object",
						"additionalProperties": false,
						"required":             []string{"start", "end"},
						"properties": map[string]interface{}{
							"start": map[string]interface{}{"type": "integer", "minimum": 0},
							"end":   map[string]interface{}{"type": "integer", "minimum": 1},
						},
					},
					"confidence": map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1},
				},
			},
		},
	},
}

var allowedFindingKeys = []string{"clause_id", "severity", "summary", "explanation", "evidence_text", "evidence_span", "confidence"}
var allowedSpanKeys = []string{"start", "end"}

// ValidationError marks malformed LLM output that failed the strict
// response contract. Callers should treat it the same as an LLM stage
// failure, not retry it verbatim.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func newValidationError(format string, args ...interface{}) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

func requireKeys(obj map[string]interface{}, required []string, context string) error {
	var missing []string
	for _, k := range required {
		if _, ok := obj[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return newValidationError("%s: missing required keys: %v", context, missing)
	}
	return nil
}

func rejectExtraKeys(obj map[string]interface{}, allowed []string, context string) error {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, k := range allowed {
		allowedSet[k] = struct{}{}
	}
	var extra []string
	for k := range obj {
		if _, ok := allowedSet[k]; !ok {
			extra = append(extra, k)
		}
	}
	if len(extra) > 0 {
		return newValidationError("%s: unexpected keys: %v", context, extra)
	}
	return nil
}

func requireNonEmptyString(v interface{}, context string) (string, error) {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", newValidationError("%s: expected non-empty string", context)
	}
	return s, nil
}

func asInt(v interface{}) (int, bool) {
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

// RawFinding is one validated finding as produced by the LLM or mock
// provider, before it is normalized against the clause set.
type RawFinding struct {
	ClauseID     string
	Severity     string
	Summary      string
	Explanation  string
	EvidenceText string
	EvidenceSpan EvidenceSpan
	Confidence   float64
}

// EvidenceSpan marks the character range within a clause body that
// supports a finding.
type EvidenceSpan struct {
	Start int
	End   int
}

// FindingsResponse is the validated root response object.
type FindingsResponse struct {
	Findings []RawFinding
}

// ValidateRawResponse strictly validates a decoded JSON response against
// the findings schema: no extra keys, every required key present, enums
// and numeric ranges respected, and evidence spans well-formed.
func ValidateRawResponse(raw map[string]interface{}) (*FindingsResponse, error) {
	if err := requireKeys(raw, []string{"findings"}, "root"); err != nil {
		return nil, err
	}
	if err := rejectExtraKeys(raw, []string{"findings"}, "root"); err != nil {
		return nil, err
	}

	findingsRaw, ok := raw["findings"].([]interface{})
	if !ok {
		return nil, newValidationError("root.findings: expected array")
	}

	result := &FindingsResponse{Findings: make([]RawFinding, 0, len(findingsRaw))}

	for idx, fi := range findingsRaw {
		ctx := fmt.Sprintf("finding[%d]", idx)
		obj, ok := fi.(map[string]interface{})
		if !ok {
			return nil, newValidationError("%s: expected object", ctx)
		}
		if err := requireKeys(obj, allowedFindingKeys, ctx); err != nil {
			return nil, err
		}
		if err := rejectExtraKeys(obj, allowedFindingKeys, ctx); err != nil {
			return nil, err
		}

		clauseID, err := requireNonEmptyString(obj["clause_id"], ctx+".clause_id")
		if err != nil {
			return nil, err
		}

		severity, _ := obj["severity"].(string)
		if severity != "low" && severity != "medium" && severity != "high" {
			return nil, newValidationError("%s.severity: expected one of low|medium|high", ctx)
		}

		summary, err := requireNonEmptyString(obj["summary"], ctx+".summary")
		if err != nil {
			return nil, err
		}
		explanation, err := requireNonEmptyString(obj["explanation"], ctx+".explanation")
		if err != nil {
			return nil, err
		}
		evidenceText, err := requireNonEmptyString(obj["evidence_text"], ctx+".evidence_text")
		if err != nil {
			return nil, err
		}

		spanObj, ok := obj["evidence_span"].(map[string]interface{})
		if !ok {
			return nil, newValidationError("%s.evidence_span: expected object", ctx)
		}
		if err := requireKeys(spanObj, allowedSpanKeys, ctx+".evidence_span"); err != nil {
			return nil, err
		}
		if err := rejectExtraKeys(spanObj, allowedSpanKeys, ctx+".evidence_span"); err != nil {
			return nil, err
		}

		start, startOk := asInt(spanObj["start"])
		end, endOk := asInt(spanObj["end"])
		if !startOk || !endOk {
			return nil, newValidationError("%s.evidence_span: start/end must be integers", ctx)
		}
		if start < 0 || end <= start {
			return nil, newValidationError("%s.evidence_span: expected 0 <= start < end", ctx)
		}

		confidence, ok := obj["confidence"].(float64)
		if !ok {
			return nil, newValidationError("%s.confidence: expected number", ctx)
		}
		if confidence < 0 || confidence > 1 {
			return nil, newValidationError("%s.confidence: expected between 0 and 1", ctx)
		}

		result.Findings = append(result.Findings, RawFinding{
			ClauseID:     clauseID,
			Severity:     severity,
			Summary:      summary,
			Explanation:  explanation,
			EvidenceText: evidenceText,
			EvidenceSpan: EvidenceSpan{Start: start, End: end},
			Confidence:   confidence,
		})
	}

	return result, nil
}
