package golden

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hurttlocker/faqmine/internal/faq"
	"github.com/hurttlocker/faqmine/internal/logging"
	"github.com/hurttlocker/faqmine/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const refundText = "Hi there, I've gone ahead and issued a full refund for your purchase of $149.00. " +
	"It should appear on your statement within 5-10 business days. Let me know if there's anything else!"

const transferText = "No problem! I've moved your license from old@example.com to the new address. " +
	"You can log in at https://example.com/login with the new email right away."

func ids(n int, prefix string) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return out
}

func TestIsBoilerplate(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Thanks!", true},
		{strings.Repeat("x", 99), true},
		{"Hi 👋,\n\nWe work normal business hours, 9-5 Pacific. " + strings.Repeat("We'll get back to you soon. ", 4), true},
		{refundText, false},
		{refundText + "\nGreat!\n", true},
	}
	for _, tt := range tests {
		if got := IsBoilerplate(tt.text); got != tt.want {
			t.Errorf("IsBoilerplate(%.40q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestTemplatize(t *testing.T) {
	got := Templatize("Email joe.b@mail.co, see www.example.dev/docs/page or pay $20.50 by 2024-06-01.")
	assert.Equal(t, "Email {email}, see {url} or pay {amount} by {date}.", got)
}

func TestQuality(t *testing.T) {
	// 0.4*0.2 + 0.3*1 + 0.3*0.5
	assert.Equal(t, 0.53, Quality(10, 2, 250))
	assert.Equal(t, 1.0, Quality(80, 1, 900))
	// resolution clamps at 0
	assert.Equal(t, 0.024, Quality(3, 9, 0))
}

func TestTopicOrder(t *testing.T) {
	assert.Equal(t, "transfer", Topic("We can transfer the refund"))
	assert.Equal(t, "refund", Topic("Your REFUND is on the way"))
	assert.Equal(t, "content", Topic("Check lesson 3"))
	assert.Equal(t, "general", Topic("hello"))
}

func TestBuild(t *testing.T) {
	usages := []source.ResponseUsage{
		{Text: refundText, ConversationIDs: ids(25, "r"), AvgThreadLength: 2.5, Tags: []string{"refund", "", "billing"}},
		{Text: "Thanks!", ConversationIDs: ids(40, "t"), AvgThreadLength: 2},
		{Text: transferText, ConversationIDs: ids(4, "m"), AvgThreadLength: 3, Tags: []string{"transfer"}},
		{Text: strings.Replace(transferText, "old@example.com", "other@example.org", 1), ConversationIDs: ids(3, "n"), AvgThreadLength: 4},
	}
	res := Build(usages, DefaultParams())

	require.Len(t, res.Responses, 3)
	top := res.Responses[0]
	assert.Equal(t, "gr_001", top.ID)
	assert.Equal(t, "refund", top.Topic)
	assert.Contains(t, top.Template, "{amount}")
	assert.Len(t, top.SourceConversations, maxSourceConvs)
	assert.Equal(t, []string{"refund", "billing"}, top.AssociatedTags)
	for i := 1; i < len(res.Responses); i++ {
		assert.GreaterOrEqual(t, res.Responses[i-1].QualityScore, res.Responses[i].QualityScore)
	}
	// "Thanks!" at index 1 is dropped, leaving a gap in the ids.
	var got []string
	for _, r := range res.Responses {
		got = append(got, r.ID)
	}
	assert.ElementsMatch(t, []string{"gr_001", "gr_003", "gr_004"}, got)

	// The two transfer responses share one template.
	require.Len(t, res.Templates, 2)
	assert.Equal(t, "tpl_001", res.Templates[0].ID)
	assert.Equal(t, 25, res.Templates[0].UsageCount)
	assert.Equal(t, []string{"gr_003", "gr_004"}, res.Templates[1].Variations)
	assert.Equal(t, 7, res.Templates[1].UsageCount)
	assert.Equal(t, "transfer", res.Templates[1].Topic)

	st := res.Stats
	assert.Equal(t, 4, st.TotalAnalyzed)
	assert.Equal(t, 3, st.TotalGolden)
	assert.Equal(t, 2, st.TotalTemplates)
	assert.Equal(t, 10.7, st.AvgReuseCount)
	assert.Equal(t, 3, st.QualityDistribution.High+st.QualityDistribution.Medium+st.QualityDistribution.Low)
	require.NotEmpty(t, st.TopTags)
	assert.Equal(t, TagWeight{Tag: "billing", Weight: 25}, st.TopTags[0])
}

func TestWriteAndLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "golden", "v1")
	res := Build([]source.ResponseUsage{
		{Text: refundText, ConversationIDs: ids(5, "r"), AvgThreadLength: 2},
	}, DefaultParams())
	require.NoError(t, Write(dir, res))

	loaded, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, res.Responses[0].Template, loaded[0].Template)
	assert.Equal(t, res.Responses[0].QualityScore, loaded[0].QualityScore)

	loaded, err = Load(filepath.Join(dir, ResponsesFile))
	require.NoError(t, err)
	assert.Len(t, loaded, 1)

	_, err = Load(t.TempDir())
	assert.Error(t, err)
}

func TestExtractFromSQLite(t *testing.T) {
	src, err := source.OpenSQLite(source.SQLiteConfig{DBPath: ":memory:"})
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()
	base := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("cnv_%d", i)
		require.NoError(t, src.UpsertConversation(ctx, faq.Conversation{
			ID: id, AppID: "app", Subject: "Refund", Status: "archived",
			Tags: []string{"refund"}, CreatedAt: base, ResolvedAt: base.Add(time.Hour),
		}))
		require.NoError(t, src.AddMessage(ctx, faq.Message{
			ID: id + "_q", ConversationID: id, Inbound: true, Text: "Can I get a refund please?", CreatedAt: base,
		}))
		require.NoError(t, src.AddMessage(ctx, faq.Message{
			ID: id + "_a", ConversationID: id, Text: refundText, CreatedAt: base.Add(time.Minute),
		}))
	}

	res, err := Extract(ctx, src, DefaultParams(), logging.Nop())
	require.NoError(t, err)
	require.Len(t, res.Responses, 1)
	assert.Equal(t, 4, res.Responses[0].ReuseCount)
	assert.Equal(t, 2.0, res.Responses[0].AvgThreadLength)
	assert.Len(t, res.Golden(), 1)
}
