// Package testutils provides custom assertions and testing utilities
package testutils

import (
	"strings"
	"testing"

	"github.com/alchemorsel/mealguard/internal/domain/recommendation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ResultAssertions provides recommendation-specific assertion methods
type ResultAssertions struct {
	t *testing.T
}

// NewResultAssertions creates a new result assertions helper
func NewResultAssertions(t *testing.T) *ResultAssertions {
	return &ResultAssertions{t: t}
}

// NothingUnsafe asserts that no returned candidate carries an UNSAFE verdict
func (ra *ResultAssertions) NothingUnsafe(result *recommendation.RecommendationResult, msgAndArgs ...interface{}) {
	ra.t.Helper()
	require.NotNil(ra.t, result, "Result should not be nil")
	for _, c := range result.Candidates {
		assert.NotEqual(ra.t, recommendation.StatusUnsafe, c.Verdict.Status,
			append([]interface{}{"candidate %q must not be returned", c.Candidate.Name}, msgAndArgs...)...)
	}
}

// SummaryConsistent asserts that the summary counts add up and match the
// returned candidates
func (ra *ResultAssertions) SummaryConsistent(result *recommendation.RecommendationResult) {
	ra.t.Helper()
	require.NotNil(ra.t, result, "Result should not be nil")
	s := result.Summary
	assert.Equal(ra.t, s.Total, s.Passed+s.Filtered, "passed + filtered should equal total")
	assert.Equal(ra.t, s.Passed, len(result.Candidates), "passed should equal returned candidates")
	assert.LessOrEqual(ra.t, s.Warned, s.Passed, "warned candidates are a subset of passed ones")
}

// ContainsCandidate asserts that a candidate with name was returned
func (ra *ResultAssertions) ContainsCandidate(result *recommendation.RecommendationResult, name string) {
	ra.t.Helper()
	require.NotNil(ra.t, result, "Result should not be nil")
	for _, c := range result.Candidates {
		if strings.EqualFold(c.Candidate.Name, name) {
			return
		}
	}
	assert.Failf(ra.t, "candidate missing", "expected %q among %v", name, CandidateNames(result))
}

// VerdictHasRule asserts that the verdict carries a finding from ruleID
func VerdictHasRule(t *testing.T, v recommendation.SafetyVerdict, ruleID string, status recommendation.SafetyStatus) {
	t.Helper()
	for _, r := range v.Reasons {
		if r.RuleID == ruleID && r.Status == status {
			return
		}
	}
	assert.Failf(t, "rule finding missing", "expected %s finding from %q in %+v", status, ruleID, v.Reasons)
}

// CandidateNames lists the returned candidate names in order
func CandidateNames(result *recommendation.RecommendationResult) []string {
	if result == nil {
		return nil
	}
	names := make([]string, 0, len(result.Candidates))
	for _, c := range result.Candidates {
		names = append(names, c.Candidate.Name)
	}
	return names
}
