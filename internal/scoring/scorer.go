// Package scoring turns clusters into FAQ candidates and assigns each a
// bounded confidence.
package scoring

import (
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/hurttlocker/faqmine/internal/faq"
	"github.com/rs/zerolog"
)

const (
	maxCandidateTags   = 10
	maxSubjectPatterns = 5
)

// Scorer builds scored candidates. A nil or empty golden set scores the
// golden factor as 0.
type Scorer struct {
	golden []faq.GoldenResponse
	log    zerolog.Logger
	newID  func() string
}

// NewScorer creates a scorer over the given golden responses.
func NewScorer(golden []faq.GoldenResponse, log zerolog.Logger) *Scorer {
	return &Scorer{
		golden: golden,
		log:    log.With().Str("component", "scoring").Logger(),
		newID:  uuid.NewString,
	}
}

// Representative picks the member whose answer stands for the cluster: the
// most recent unchanged-draft answer, else the most recent overall.
func Representative(c faq.ConversationCluster) (faq.ResolvedConversation, bool) {
	var best *faq.ResolvedConversation
	bestUnchanged := false
	for i := range c.Conversations {
		m := &c.Conversations[i]
		switch {
		case best == nil:
		case m.WasUnchanged && !bestUnchanged:
		case m.WasUnchanged == bestUnchanged && m.ResolvedAt.After(best.ResolvedAt):
		default:
			continue
		}
		best = m
		bestUnchanged = m.WasUnchanged
	}
	if best == nil {
		return faq.ResolvedConversation{}, false
	}
	return *best, true
}

// ScoreClusters builds one scored candidate per non-empty cluster, sized
// relative to the largest cluster in the batch.
func (s *Scorer) ScoreClusters(clusters []faq.ConversationCluster) []faq.ExtractedCandidate {
	maxSize := 0
	for _, c := range clusters {
		if c.Size() > maxSize {
			maxSize = c.Size()
		}
	}
	out := make([]faq.ExtractedCandidate, 0, len(clusters))
	for _, c := range clusters {
		cand, ok := s.ScoreCluster(c, maxSize)
		if !ok {
			s.log.Warn().Str("cluster_id", c.ID).Msg("cluster has no members; skipping")
			continue
		}
		out = append(out, cand)
	}
	if len(s.golden) == 0 {
		s.log.Warn().Msg("no golden responses loaded; golden match factor is 0")
	}
	s.log.Info().Int("clusters", len(clusters)).Int("candidates", len(out)).Msg("scoring complete")
	return out
}

// ScoreCluster scores a single cluster.
func (s *Scorer) ScoreCluster(c faq.ConversationCluster, maxSize int) (faq.ExtractedCandidate, bool) {
	rep, ok := Representative(c)
	if !ok {
		return faq.ExtractedCandidate{}, false
	}

	golden, match := GoldenMatchFactor(rep.Answer, s.golden)
	factors := faq.ScoreFactors{
		ClusterSize:     ClusterSizeFactor(c.Size(), maxSize),
		ThreadLength:    ThreadLengthFactor(rep.MessageCount),
		GoldenMatch:     golden,
		ResponseQuality: ResponseQuality(rep.Answer),
	}
	confidence := Confidence(factors)

	base := s.baseCandidate(c, rep)
	base.Confidence = confidence
	sources := append([]string(nil), base.SourceConversationIDs...)
	return faq.ExtractedCandidate{
		FaqCandidate:        base,
		Score:               faq.Score{ConfidenceScore: confidence, Factors: factors},
		GoldenResponseMatch: match,
		AlternatePhrasings:  []string{},
		SourceConversations: sources,
	}, true
}

// BuildClusterCandidates builds candidates with ClusterConfidence instead of
// the full factor model.
func (s *Scorer) BuildClusterCandidates(clusters []faq.ConversationCluster) []faq.FaqCandidate {
	out := make([]faq.FaqCandidate, 0, len(clusters))
	for _, c := range clusters {
		rep, ok := Representative(c)
		if !ok {
			continue
		}
		cand := s.baseCandidate(c, rep)
		cand.Confidence = ClusterConfidence(c.Size(), c.UnchangedRate, c.Cohesion)
		out = append(out, cand)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

func (s *Scorer) baseCandidate(c faq.ConversationCluster, rep faq.ResolvedConversation) faq.FaqCandidate {
	question := strings.TrimSpace(c.CentroidText)
	if question == "" {
		question = rep.Question
	}
	ids := make([]string, 0, c.Size())
	for _, m := range c.Conversations {
		ids = append(ids, m.ConversationID)
	}
	return faq.FaqCandidate{
		ID:                    s.newID(),
		Question:              question,
		Answer:                rep.Answer,
		ClusterID:             c.ID,
		ClusterSize:           c.Size(),
		UnchangedRate:         faq.Clamp01(c.UnchangedRate),
		Tags:                  topTags(c.Conversations),
		SubjectPatterns:       subjectPatterns(c.Conversations),
		SourceConversationIDs: ids,
		SuggestedCategory:     c.Label,
		Status:                faq.StatusPending,
	}
}

// ToFaqCandidate strips the scoring detail from an extracted candidate,
// folding merged source conversations back into the id list.
func ToFaqCandidate(c faq.ExtractedCandidate) faq.FaqCandidate {
	out := c.FaqCandidate
	out.Confidence = faq.Clamp01(c.Score.ConfidenceScore)
	if len(c.SourceConversations) > 0 {
		out.SourceConversationIDs = append([]string(nil), c.SourceConversations...)
	}
	if out.Status == "" {
		out.Status = faq.StatusPending
	}
	return out
}

func topTags(convs []faq.ResolvedConversation) []string {
	counts := make(map[string]int)
	var order []string
	for _, c := range convs {
		for _, t := range c.Tags {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			if counts[t] == 0 {
				order = append(order, t)
			}
			counts[t]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > maxCandidateTags {
		order = order[:maxCandidateTags]
	}
	if order == nil {
		return []string{}
	}
	return order
}

// subjectPatterns returns the most common distinct subjects, compared
// case-insensitively and with reply prefixes removed.
func subjectPatterns(convs []faq.ResolvedConversation) []string {
	counts := make(map[string]int)
	display := make(map[string]string)
	var order []string
	for _, c := range convs {
		subj := stripReplyPrefix(c.Subject)
		key := strings.ToLower(subj)
		if key == "" {
			continue
		}
		if counts[key] == 0 {
			order = append(order, key)
			display[key] = subj
		}
		counts[key]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > maxSubjectPatterns {
		order = order[:maxSubjectPatterns]
	}
	out := make([]string, 0, len(order))
	for _, k := range order {
		out = append(out, display[k])
	}
	return out
}

func stripReplyPrefix(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		lower := strings.ToLower(s)
		trimmed := false
		for _, p := range []string{"re:", "fwd:", "fw:", "aw:"} {
			if strings.HasPrefix(lower, p) {
				s = strings.TrimSpace(s[len(p):])
				trimmed = true
				break
			}
		}
		if !trimmed {
			return s
		}
	}
}
