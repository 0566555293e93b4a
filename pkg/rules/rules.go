// Package rules implements the deterministic clause analysis engine: a
// fixed set of regex-driven checks that run against every chunk regardless
// of whether the LLM stage is available.
package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Severity mirrors the finding severity enum persisted by pkg/store.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Clause is the minimal shape a rule needs: a chunk reduced to its
// identifier, heading and body.
type Clause struct {
	ID      string
	Heading string
	Body    string
}

// Finding is one deterministic observation produced by a rule.
type Finding struct {
	ID          string
	ClauseID    string
	RuleCode    string
	Severity    Severity
	Summary     string
	Explanation string
	Evidence    string
	Source      string
}

func newFinding(clauseID, ruleCode string, severity Severity, summary, explanation, evidence string) Finding {
	return Finding{
		ID:          uuid.NewString(),
		ClauseID:    clauseID,
		RuleCode:    ruleCode,
		Severity:    severity,
		Summary:     summary,
		Explanation: explanation,
		Evidence:    strings.TrimSpace(evidence),
		Source:      "rule",
	}
}

var (
	daysRe            = regexp.MustCompile(`(?i)(\d+)\s+(business\s+)?days?`)
	yearsRe           = regexp.MustCompile(`(?i)(\d+)\s+years?`)
	terminationRe     = regexp.MustCompile(`(?i)terminate|termination`)
	indemnityRe       = regexp.MustCompile(`(?i)indemnify|indemnification`)
	confidentialityRe = regexp.MustCompile(`(?i)confidentiality|confidential information|non[- ]disclosure|nondisclosure`)
	perpetualRe       = regexp.MustCompile(`(?i)perpetual|in\s+perpetuity|indefinite`)
	governingLawRe    = regexp.MustCompile(`(?i)governing law|laws of`)
)

func findMinDays(text string) (int, bool) {
	matches := daysRe.FindAllStringSubmatch(text, -1)
	min := 0
	found := false
	for _, m := range matches {
		var n int
		if _, err := fmt.Sscanf(m[1], "%d", &n); err != nil {
			continue
		}
		if !found || n < min {
			min = n
			found = true
		}
	}
	return min, found
}

func findMaxYears(text string) (int, bool) {
	matches := yearsRe.FindAllStringSubmatch(text, -1)
	max := 0
	found := false
	for _, m := range matches {
		var n int
		if _, err := fmt.Sscanf(m[1], "%d", &n); err != nil {
			continue
		}
		if !found || n > max {
			max = n
			found = true
		}
	}
	return max, found
}

func shortSnippet(text string, maxLen int) string {
	text = strings.TrimSpace(text)
	if len(text) <= maxLen {
		return text
	}
	return strings.TrimRight(text[:maxLen-3], " \t\n") + "..."
}

func clauseText(clause Clause) string {
	return clause.Heading + "\n" + clause.Body
}

// ruleTerminationNoticePeriod flags termination clauses that grant less
// than 60 days' notice: high below 30 days, medium between 30 and 59.
func ruleTerminationNoticePeriod(clause Clause) []Finding {
	text := clauseText(clause)
	if !terminationRe.MatchString(text) {
		return nil
	}
	minDays, ok := findMinDays(text)
	if !ok {
		return nil
	}

	var severity Severity
	var summary string
	switch {
	case minDays < 30:
		severity = SeverityHigh
		summary = "Short termination notice period (< 30 days)."
	case minDays < 60:
		severity = SeverityMedium
		summary = "Termination notice period between 30 and 60 days."
	default:
		return nil
	}

	explanation := fmt.Sprintf(
		"The termination clause appears to allow termination with only %d days' notice. This may be shorter than a typical minimum of 30 days.",
		minDays,
	)
	return []Finding{newFinding(clause.ID, "TERM_NOTICE_MIN", severity, summary, explanation, shortSnippet(text, 280))}
}

// ruleIndemnityClause flags any clause mentioning indemnification as high
// risk; presence alone is treated as review-worthy.
func ruleIndemnityClause(clause Clause) []Finding {
	text := clauseText(clause)
	if !indemnityRe.MatchString(text) {
		return nil
	}

	summary := "Indemnity clause present."
	explanation := "This clause includes indemnity language (e.g., 'indemnify' or 'indemnification'). Indemnity provisions can shift significant liability and should be reviewed carefully."
	return []Finding{newFinding(clause.ID, "INDEMNITY_PRESENT", SeverityHigh, summary, explanation, shortSnippet(text, 280))}
}

// ruleConfidentialityDuration flags confidentiality clauses that are
// perpetual/indefinite (high) or exceed five years (medium).
func ruleConfidentialityDuration(clause Clause) []Finding {
	text := clauseText(clause)
	if !confidentialityRe.MatchString(text) {
		return nil
	}

	if perpetualRe.MatchString(text) {
		summary := "Confidentiality obligations appear perpetual."
		explanation := "The confidentiality clause appears to impose obligations in perpetuity or indefinitely. This may be more restrictive than typical time-limited confidentiality provisions."
		return []Finding{newFinding(clause.ID, "CONF_PERPETUAL", SeverityHigh, summary, explanation, shortSnippet(text, 280))}
	}

	maxYears, ok := findMaxYears(text)
	if !ok || maxYears <= 5 {
		return nil
	}

	summary := "Confidentiality obligations longer than 5 years."
	explanation := fmt.Sprintf(
		"The confidentiality clause appears to apply for %d years, which may be longer than common 2-5 year periods.",
		maxYears,
	)
	return []Finding{newFinding(clause.ID, "CONF_LONG_TERM", SeverityMedium, summary, explanation, shortSnippet(text, 280))}
}

// ruleGoverningLawMismatch flags governing-law clauses that name a
// jurisdiction other than the preferred one.
func ruleGoverningLawMismatch(clause Clause, preferredJurisdiction string) []Finding {
	text := clauseText(clause)
	if !governingLawRe.MatchString(text) {
		return nil
	}

	matchPreferred, err := regexp.MatchString("(?i)"+preferredJurisdiction, text)
	if err == nil && matchPreferred {
		return nil
	}

	summary := fmt.Sprintf("Governing law differs from preferred jurisdiction (%s).", preferredJurisdiction)
	explanation := fmt.Sprintf(
		"The clause appears to specify a governing law other than %s. This may affect dispute resolution and should be reviewed.",
		preferredJurisdiction,
	)
	return []Finding{newFinding(clause.ID, "GOV_LAW_MISMATCH", SeverityMedium, summary, explanation, shortSnippet(text, 280))}
}

type ruleFunc func(Clause, string) []Finding

var ruleFunctions = []ruleFunc{
	func(c Clause, _ string) []Finding { return ruleTerminationNoticePeriod(c) },
	func(c Clause, _ string) []Finding { return ruleIndemnityClause(c) },
	func(c Clause, _ string) []Finding { return ruleConfidentialityDuration(c) },
	ruleGoverningLawMismatch,
}

const DefaultPreferredJurisdiction = "California"

// RunRules runs every deterministic rule against every clause and returns
// the flattened list of findings.
func RunRules(clauses []Clause, preferredJurisdiction string) []Finding {
	if preferredJurisdiction == "" {
		preferredJurisdiction = DefaultPreferredJurisdiction
	}

	var all []Finding
	for _, clause := range clauses {
		for _, rf := range ruleFunctions {
			all = append(all, rf(clause, preferredJurisdiction)...)
		}
	}
	return all
}
