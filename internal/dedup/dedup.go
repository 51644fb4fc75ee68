// Package dedup merges near-duplicate FAQ candidates by lexical similarity
// of their questions.
package dedup

import (
	"sort"
	"strings"

	"github.com/hurttlocker/faqmine/internal/faq"
	"github.com/hurttlocker/faqmine/internal/textsim"
)

const (
	DefaultThreshold = 0.85
	// MaxAlternatePhrasings caps how many merged questions a survivor keeps.
	MaxAlternatePhrasings = 5
)

// Report summarizes a dedup pass.
type Report struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Merged int `json:"merged"`
}

// Deduplicate sorts candidates by descending confidence and, in one greedy
// pass, folds every later candidate whose question is at least threshold
// similar to an earlier survivor into that survivor. The input slice is not
// modified.
func Deduplicate(cands []faq.ExtractedCandidate, threshold float64) ([]faq.ExtractedCandidate, Report) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	sorted := make([]faq.ExtractedCandidate, len(cands))
	for i, c := range cands {
		sorted[i] = cloneCandidate(c)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score.ConfidenceScore > sorted[j].Score.ConfidenceScore
	})

	words := make([]map[string]struct{}, len(sorted))
	for i := range sorted {
		words[i] = textsim.WordSet(sorted[i].Question)
	}

	merged := make([]bool, len(sorted))
	out := make([]faq.ExtractedCandidate, 0, len(sorted))
	for i := range sorted {
		if merged[i] {
			continue
		}
		survivor := sorted[i]
		for j := i + 1; j < len(sorted); j++ {
			if merged[j] {
				continue
			}
			if textsim.Jaccard(words[i], words[j]) < threshold {
				continue
			}
			mergeInto(&survivor, sorted[j])
			merged[j] = true
		}
		out = append(out, survivor)
	}

	return out, Report{Input: len(cands), Output: len(out), Merged: len(cands) - len(out)}
}

// mergeInto folds dup into s: its question becomes an alternate phrasing,
// its sources are unioned, and its cluster size is added.
func mergeInto(s *faq.ExtractedCandidate, dup faq.ExtractedCandidate) {
	addPhrasing(s, dup.Question)
	for _, p := range dup.AlternatePhrasings {
		addPhrasing(s, p)
	}

	seen := make(map[string]struct{}, len(s.SourceConversations))
	for _, id := range s.SourceConversations {
		seen[id] = struct{}{}
	}
	for _, id := range sourcesOf(dup) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		s.SourceConversations = append(s.SourceConversations, id)
	}
	s.ClusterSize += dup.ClusterSize
}

func addPhrasing(s *faq.ExtractedCandidate, q string) {
	q = strings.TrimSpace(q)
	if q == "" || len(s.AlternatePhrasings) >= MaxAlternatePhrasings {
		return
	}
	key := textsim.Normalize(q)
	if key == textsim.Normalize(s.Question) {
		return
	}
	for _, p := range s.AlternatePhrasings {
		if textsim.Normalize(p) == key {
			return
		}
	}
	s.AlternatePhrasings = append(s.AlternatePhrasings, q)
}

func sourcesOf(c faq.ExtractedCandidate) []string {
	if len(c.SourceConversations) > 0 {
		return c.SourceConversations
	}
	return c.SourceConversationIDs
}

func cloneCandidate(c faq.ExtractedCandidate) faq.ExtractedCandidate {
	c.AlternatePhrasings = append([]string{}, c.AlternatePhrasings...)
	c.SourceConversations = append([]string{}, sourcesOf(c)...)
	c.SourceConversationIDs = append([]string(nil), c.SourceConversationIDs...)
	c.Tags = append([]string(nil), c.Tags...)
	return c
}
