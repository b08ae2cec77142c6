package core

import (
	"fmt"
	"strings"
)

// ObservationSummary is the dispatcher's fan-in product for one iteration.
// It reflects exactly the subset of tasks that reported (or timed out)
// before the fan-in rule was satisfied, never more.
type ObservationSummary struct {
	ReactID    string       `json:"react_id"`
	Iteration  int          `json:"iteration"`
	Rule       FanInRule    `json:"rule"`
	Dispatched int          `json:"dispatched"`
	Results    []TaskResult `json:"results"`
	Satisfied  bool         `json:"satisfied"`
	Cancelled  bool         `json:"cancelled,omitempty"`
}

// Succeeded returns the number of collected success results.
func (o ObservationSummary) Succeeded() int { return o.countStatus(TaskStatusSuccess) }

// Failed returns the number of collected failed results.
func (o ObservationSummary) Failed() int { return o.countStatus(TaskStatusFailed) }

// Partial returns the number of collected partial results.
func (o ObservationSummary) Partial() int { return o.countStatus(TaskStatusPartial) }

func (o ObservationSummary) countStatus(s TaskStatus) int {
	n := 0
	for _, r := range o.Results {
		if r.Status == s {
			n++
		}
	}
	return n
}

// Issues aggregates the issue types present across collected results.
func (o ObservationSummary) Issues() []IssueType {
	seen := map[IssueType]bool{}
	var out []IssueType
	for _, r := range o.Results {
		for _, is := range r.Issues {
			if !seen[is.Type] {
				seen[is.Type] = true
				out = append(out, is.Type)
			}
		}
	}
	return out
}

// HasIssue reports whether any collected result carries the issue type.
func (o ObservationSummary) HasIssue(t IssueType) bool {
	for _, r := range o.Results {
		if r.HasIssue(t) {
			return true
		}
	}
	return false
}

// String renders a compact human-readable digest for decision log entries.
func (o ObservationSummary) String() string {
	var issues []string
	for _, t := range o.Issues() {
		issues = append(issues, string(t))
	}
	s := fmt.Sprintf("dispatched=%d success=%d partial=%d failed=%d",
		o.Dispatched, o.Succeeded(), o.Partial(), o.Failed())
	if len(issues) > 0 {
		s += " issues=" + strings.Join(issues, ",")
	}
	return s
}
