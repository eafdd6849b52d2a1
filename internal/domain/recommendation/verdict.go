package recommendation

import (
	"fmt"
	"sort"
	"strings"
)

// SafetyStatus is the outcome of validating one candidate
type SafetyStatus string

const (
	StatusSafe    SafetyStatus = "SAFE"
	StatusWarning SafetyStatus = "WARNING"
	StatusUnsafe  SafetyStatus = "UNSAFE"
)

func (s SafetyStatus) rank() int {
	switch s {
	case StatusUnsafe:
		return 2
	case StatusWarning:
		return 1
	default:
		return 0
	}
}

// Max returns the more severe of two statuses
func (s SafetyStatus) Max(other SafetyStatus) SafetyStatus {
	if other.rank() > s.rank() {
		return other
	}
	return s
}

// ParseSafetyStatus reads a status, case-insensitive
func ParseSafetyStatus(raw string) (SafetyStatus, bool) {
	switch SafetyStatus(strings.ToUpper(strings.TrimSpace(raw))) {
	case StatusSafe:
		return StatusSafe, true
	case StatusWarning:
		return StatusWarning, true
	case StatusUnsafe:
		return StatusUnsafe, true
	}
	return "", false
}

// Phase identifies which validation phase produced a reason
type Phase string

const (
	PhaseRule     Phase = "rule"
	PhaseSemantic Phase = "semantic"
)

// Reason explains a verdict
type Reason struct {
	RuleID  string       `json:"rule_id"`
	Phase   Phase        `json:"phase"`
	Status  SafetyStatus `json:"status"`
	Message string       `json:"message"`
}

// SafetyVerdict is the validation result for one candidate
type SafetyVerdict struct {
	Status  SafetyStatus `json:"status"`
	Reasons []Reason     `json:"reasons,omitempty"`
}

// SafeVerdict returns a verdict with no findings
func SafeVerdict() SafetyVerdict {
	return SafetyVerdict{Status: StatusSafe}
}

// Add records a finding and escalates the status; severity never decreases.
func (v *SafetyVerdict) Add(r Reason) {
	if v.Status == "" {
		v.Status = StatusSafe
	}
	v.Reasons = append(v.Reasons, r)
	v.Status = v.Status.Max(r.Status)
}

// Passed reports whether the candidate may be shown
func (v SafetyVerdict) Passed() bool {
	return v.Status == StatusSafe || v.Status == StatusWarning
}

// ValidatedCandidate pairs a candidate with its verdict
type ValidatedCandidate struct {
	Candidate CandidateRecipe `json:"candidate"`
	Verdict   SafetyVerdict   `json:"verdict"`
}

// SafetySummary aggregates the verdicts of one validation run
type SafetySummary struct {
	Total         int            `json:"total"`
	Passed        int            `json:"passed"`
	Warned        int            `json:"warned"`
	Filtered      int            `json:"filtered"`
	FilterReasons map[string]int `json:"filter_reasons,omitempty"`
	Message       string         `json:"message"`
	TopReasons    []string       `json:"top_reasons,omitempty"`
}

// Summarize builds a summary over all verdicts, including filtered ones
func Summarize(verdicts []SafetyVerdict) SafetySummary {
	s := SafetySummary{Total: len(verdicts), FilterReasons: map[string]int{}}
	for _, v := range verdicts {
		switch v.Status {
		case StatusUnsafe:
			s.Filtered++
			for _, r := range v.Reasons {
				if r.Status == StatusUnsafe {
					s.FilterReasons[r.RuleID]++
				}
			}
		case StatusWarning:
			s.Warned++
			s.Passed++
		default:
			s.Passed++
		}
	}
	s.Message = fmt.Sprintf("%d of %d passed safety check", s.Passed, s.Total)
	s.TopReasons = topReasons(s.FilterReasons, 3)
	return s
}

func topReasons(counts map[string]int, n int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}
