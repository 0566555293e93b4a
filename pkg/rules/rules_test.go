package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunRules_TerminationNoticeSeverity(t *testing.T) {
	short := Clause{ID: "c1", Heading: "Termination", Body: "Either party may terminate this agreement with 10 days notice."}
	findings := RunRules([]Clause{short}, "")

	require.Len(t, findings, 1)
	assert.Equal(t, "TERM_NOTICE_MIN", findings[0].RuleCode)
	assert.Equal(t, SeverityHigh, findings[0].Severity)
}

func TestRunRules_TerminationNoticeMedium(t *testing.T) {
	clause := Clause{ID: "c1", Heading: "Termination", Body: "Either party may terminate this agreement with 45 days notice."}
	findings := RunRules([]Clause{clause}, "")

	require.Len(t, findings, 1)
	assert.Equal(t, SeverityMedium, findings[0].Severity)
}

func TestRunRules_TerminationNoticeLongEnoughIsNotFlagged(t *testing.T) {
	clause := Clause{ID: "c1", Heading: "Termination", Body: "Either party may terminate this agreement with 90 days notice."}
	findings := RunRules([]Clause{clause}, "")
	assert.Empty(t, findings)
}

func TestRunRules_IndemnityAlwaysHigh(t *testing.T) {
	clause := Clause{ID: "c1", Heading: "Indemnification", Body: "Customer shall indemnify and hold harmless Vendor."}
	findings := RunRules([]Clause{clause}, "")

	require.Len(t, findings, 1)
	assert.Equal(t, "INDEMNITY_PRESENT", findings[0].RuleCode)
	assert.Equal(t, SeverityHigh, findings[0].Severity)
}

func TestRunRules_ConfidentialityPerpetual(t *testing.T) {
	clause := Clause{ID: "c1", Heading: "Confidentiality", Body: "These confidential information obligations survive in perpetuity."}
	findings := RunRules([]Clause{clause}, "")

	require.Len(t, findings, 1)
	assert.Equal(t, "CONF_PERPETUAL", findings[0].RuleCode)
}

func TestRunRules_ConfidentialityLongTerm(t *testing.T) {
	clause := Clause{ID: "c1", Heading: "Confidentiality", Body: "Confidential information must be protected for 7 years after disclosure."}
	findings := RunRules([]Clause{clause}, "")

	require.Len(t, findings, 1)
	assert.Equal(t, "CONF_LONG_TERM", findings[0].RuleCode)
	assert.Equal(t, SeverityMedium, findings[0].Severity)
}

func TestRunRules_ConfidentialityShortTermNotFlagged(t *testing.T) {
	clause := Clause{ID: "c1", Heading: "Confidentiality", Body: "Confidential information must be protected for 2 years after disclosure."}
	findings := RunRules([]Clause{clause}, "")
	assert.Empty(t, findings)
}

func TestRunRules_GoverningLawMismatch(t *testing.T) {
	clause := Clause{ID: "c1", Heading: "Governing Law", Body: "This agreement is governed by the laws of New York."}
	findings := RunRules([]Clause{clause}, "California")

	require.Len(t, findings, 1)
	assert.Equal(t, "GOV_LAW_MISMATCH", findings[0].RuleCode)
}

func TestRunRules_GoverningLawMatchNotFlagged(t *testing.T) {
	clause := Clause{ID: "c1", Heading: "Governing Law", Body: "This agreement is governed by the laws of California."}
	findings := RunRules([]Clause{clause}, "California")
	assert.Empty(t, findings)
}

func TestRunRules_MultipleClausesAccumulate(t *testing.T) {
	clauses := []Clause{
		{ID: "c1", Heading: "Termination", Body: "Either party may terminate with 10 days notice."},
		{ID: "c2", Heading: "Indemnification", Body: "Customer shall indemnify Vendor."},
	}
	findings := RunRules(clauses, "")
	assert.Len(t, findings, 2)
}

func TestRunRules_EveryFindingHasAUniqueID(t *testing.T) {
	clause := Clause{ID: "c1", Heading: "Termination", Body: "Either party may terminate with 10 days notice."}
	first := RunRules([]Clause{clause}, "")
	second := RunRules([]Clause{clause}, "")

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.NotEqual(t, first[0].ID, second[0].ID)
	assert.Equal(t, first[0].RuleCode, second[0].RuleCode)
}
