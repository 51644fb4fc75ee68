package scoring

import (
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/hurttlocker/faqmine/internal/faq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClusterSizeFactor(t *testing.T) {
	assert.Equal(t, 1.0, ClusterSizeFactor(10, 10))
	assert.InDelta(t, math.Log10(4)/math.Log10(11), ClusterSizeFactor(3, 10), 1e-9)
	assert.Equal(t, 0.0, ClusterSizeFactor(0, 10))
	assert.Equal(t, 1.0, ClusterSizeFactor(12, 10))
}

func TestThreadLengthFactor(t *testing.T) {
	tests := map[int]float64{0: 1, 1: 1, 2: 1, 3: 0.9, 4: 0.7, 5: 0.5, 6: 0.5, 7: 0.3, 40: 0.3}
	for n, want := range tests {
		assert.Equal(t, want, ThreadLengthFactor(n), "messages=%d", n)
	}
}

func TestGoldenMatchFactor(t *testing.T) {
	golden := []faq.GoldenResponse{
		{ID: "gr_001", Template: "Reply with both addresses and we will transfer the license.", QualityScore: 0.8},
		{ID: "gr_002", Template: "refunds are processed within five business days of request", QualityScore: 0.5},
	}

	score, match := GoldenMatchFactor("  Hi! reply with both addresses and we will transfer the license. Thanks ", golden)
	assert.InDelta(t, 0.98, score, 1e-9)
	require.NotNil(t, match)
	assert.Equal(t, "gr_001", match.ResponseID)

	score, match = GoldenMatchFactor("Refunds are processed within five business days of your request", golden)
	require.NotNil(t, match)
	assert.Equal(t, "gr_002", match.ResponseID)
	assert.Greater(t, score, 0.25)
	assert.Less(t, score, 0.5)

	score, match = GoldenMatchFactor("totally unrelated answer about videos", golden)
	assert.Zero(t, score)
	assert.Nil(t, match)

	score, _ = GoldenMatchFactor("anything", nil)
	assert.Zero(t, score)
}

func TestResponseQuality(t *testing.T) {
	good := "Hi there, you can download the videos from your dashboard at https://example.com/dash. Let me know if that helps!"
	assert.InDelta(t, 0.75, ResponseQuality(good), 1e-9)

	assert.Zero(t, ResponseQuality("ok?"))
	// 20-49 chars: +0.15 -0.2 clamps to 0.
	assert.Zero(t, ResponseQuality("Sure, I have refunded that."))

	long := strings.Repeat("word ", 150)
	assert.InDelta(t, 0.25, ResponseQuality(long), 1e-9)

	question := strings.Repeat("a", 60) + "?"
	assert.InDelta(t, 0.2, ResponseQuality(question), 1e-9)
}

func TestConfidenceBounds(t *testing.T) {
	assert.Equal(t, 1.0, Confidence(faq.ScoreFactors{ClusterSize: 1, ThreadLength: 1, GoldenMatch: 1, ResponseQuality: 1}))
	assert.Equal(t, 0.0, Confidence(faq.ScoreFactors{}))
	assert.InDelta(t, 0.4+0.2*0.5, Confidence(faq.ScoreFactors{ClusterSize: 1, ThreadLength: 0.5}), 1e-9)
}

func TestClusterConfidence(t *testing.T) {
	assert.Greater(t, ClusterConfidence(10, 1.0, 0.9), 0.7)
	assert.InDelta(t, 1.0, ClusterConfidence(10, 1.0, 1.0), 1e-9)
	assert.Equal(t, 0.0, ClusterConfidence(0, 0, 0))
	assert.LessOrEqual(t, ClusterConfidence(1000, 5, 5), 1.0)
}

func TestRepresentative(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := faq.ConversationCluster{Conversations: []faq.ResolvedConversation{
		{ConversationID: "old-unchanged", WasUnchanged: true, ResolvedAt: base},
		{ConversationID: "newest-edited", ResolvedAt: base.Add(3 * time.Hour)},
		{ConversationID: "new-unchanged", WasUnchanged: true, ResolvedAt: base.Add(time.Hour)},
	}}
	rep, ok := Representative(c)
	require.True(t, ok)
	assert.Equal(t, "new-unchanged", rep.ConversationID)

	c.Conversations[0].WasUnchanged = false
	c.Conversations[2].WasUnchanged = false
	rep, _ = Representative(c)
	assert.Equal(t, "newest-edited", rep.ConversationID)

	_, ok = Representative(faq.ConversationCluster{})
	assert.False(t, ok)
}

func cluster(id string, size int, unchanged int) faq.ConversationCluster {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := faq.ConversationCluster{ID: id, Label: "License Transfer", CentroidText: "How do I transfer my license?", Cohesion: 0.75}
	for i := 0; i < size; i++ {
		c.Conversations = append(c.Conversations, faq.ResolvedConversation{
			ConversationID: fmt.Sprintf("%s-%d", id, i),
			Question:       "transfer question",
			Answer:         fmt.Sprintf("Hi, you can transfer it from settings, answer %d. Let me know!", i),
			Subject:        "Re: License transfer",
			ResolvedAt:     base.Add(time.Duration(i) * time.Hour),
			WasUnchanged:   i < unchanged,
			Tags:           []string{"transfer"},
			MessageCount:   2,
		})
	}
	if size > 0 {
		c.UnchangedRate = float64(unchanged) / float64(size)
	}
	return c
}

func TestScoreClusters(t *testing.T) {
	s := NewScorer(nil, zerolog.Nop())
	cands := s.ScoreClusters([]faq.ConversationCluster{cluster("big", 10, 2), cluster("small", 3, 0), {ID: "empty"}})
	require.Len(t, cands, 2)

	big := cands[0]
	assert.NotEmpty(t, big.ID)
	assert.Equal(t, "How do I transfer my license?", big.Question)
	assert.Contains(t, big.Answer, "answer 1")
	assert.Equal(t, 1.0, big.Score.Factors.ClusterSize)
	assert.Equal(t, 1.0, big.Score.Factors.ThreadLength)
	assert.Zero(t, big.Score.Factors.GoldenMatch)
	assert.Equal(t, big.Confidence, big.Score.ConfidenceScore)
	assert.Equal(t, []string{"transfer"}, big.Tags)
	assert.Equal(t, []string{"License transfer"}, big.SubjectPatterns)
	assert.Len(t, big.SourceConversationIDs, 10)
	assert.Equal(t, big.SourceConversationIDs, big.SourceConversations)
	assert.Equal(t, faq.StatusPending, big.Status)
	assert.Equal(t, "License Transfer", big.SuggestedCategory)

	small := cands[1]
	assert.Less(t, small.Score.Factors.ClusterSize, 1.0)
	assert.NotEqual(t, big.ID, small.ID)
	for _, c := range cands {
		assert.GreaterOrEqual(t, c.Confidence, 0.0)
		assert.LessOrEqual(t, c.Confidence, 1.0)
	}
}

func TestBuildClusterCandidates(t *testing.T) {
	s := NewScorer(nil, zerolog.Nop())
	cands := s.BuildClusterCandidates([]faq.ConversationCluster{cluster("low", 3, 0), cluster("high", 10, 10)})
	require.Len(t, cands, 2)
	assert.Equal(t, "high", cands[0].ClusterID)
	assert.Greater(t, cands[0].Confidence, 0.7)
	assert.Equal(t, 1.0, cands[0].UnchangedRate)
}

func TestToFaqCandidate(t *testing.T) {
	ec := faq.ExtractedCandidate{
		FaqCandidate:        faq.FaqCandidate{ID: "x", SourceConversationIDs: []string{"a"}},
		Score:               faq.Score{ConfidenceScore: 0.6},
		SourceConversations: []string{"a", "b"},
	}
	fc := ToFaqCandidate(ec)
	assert.Equal(t, 0.6, fc.Confidence)
	assert.Equal(t, []string{"a", "b"}, fc.SourceConversationIDs)
	assert.Equal(t, faq.StatusPending, fc.Status)
}

func TestStripReplyPrefix(t *testing.T) {
	assert.Equal(t, "Invoice", stripReplyPrefix("RE: Fwd: re:Invoice"))
	assert.Equal(t, "", stripReplyPrefix("  "))
}
