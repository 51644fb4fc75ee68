package noise

import (
	"fmt"
	"sort"
	"strings"
)

// FilterStats accumulates classification outcomes over a batch. Counters only
// ever grow; there is no reset.
type FilterStats struct {
	Total    int            `json:"total"`
	Filtered int            `json:"filtered"`
	Passed   int            `json:"passed"`
	ByReason map[Reason]int `json:"by_reason"`
}

// NewFilterStats returns an empty accumulator.
func NewFilterStats() *FilterStats {
	return &FilterStats{ByReason: make(map[Reason]int)}
}

// Record adds one classification result.
func (s *FilterStats) Record(r Result) {
	if s.ByReason == nil {
		s.ByReason = make(map[Reason]int)
	}
	s.Total++
	if !r.Filtered {
		s.Passed++
		return
	}
	s.Filtered++
	s.ByReason[r.Reason]++
}

// String renders a one-line summary, reasons sorted by count.
func (s *FilterStats) String() string {
	reasons := make([]Reason, 0, len(s.ByReason))
	for r := range s.ByReason {
		reasons = append(reasons, r)
	}
	sort.Slice(reasons, func(i, j int) bool {
		if s.ByReason[reasons[i]] != s.ByReason[reasons[j]] {
			return s.ByReason[reasons[i]] > s.ByReason[reasons[j]]
		}
		return reasons[i] < reasons[j]
	})

	parts := make([]string, 0, len(reasons))
	for _, r := range reasons {
		parts = append(parts, fmt.Sprintf("%s=%d", r, s.ByReason[r]))
	}
	return fmt.Sprintf("total=%d passed=%d filtered=%d [%s]", s.Total, s.Passed, s.Filtered, strings.Join(parts, " "))
}
