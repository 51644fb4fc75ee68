// Package golden extracts "golden" responses: outbound answers that agents
// reused verbatim across many resolved conversations. They serve as the
// reference set for candidate scoring.
package golden

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/hurttlocker/faqmine/internal/artifact"
	"github.com/hurttlocker/faqmine/internal/faq"
	"github.com/hurttlocker/faqmine/internal/source"
	"github.com/rs/zerolog"
)

// Output file names.
const (
	ResponsesFile = "responses.json"
	TemplatesFile = "templates.json"
	StatsFile     = "stats.json"
)

const (
	// MinBoilerplateLength is the length below which a response is treated
	// as boilerplate.
	MinBoilerplateLength = 100
	maxStoredText        = 2000
	maxTemplateText      = 1500
	maxSourceConvs       = 20
	maxTags              = 10
	maxTopTags           = 15
	maxTemplates         = 100
)

var boilerplatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?im)^thanks!?\s*$`),
	regexp.MustCompile(`(?im)^thank you!?\s*$`),
	regexp.MustCompile(`(?im)^ok!?\s*$`),
	regexp.MustCompile(`(?im)^okay!?\s*$`),
	regexp.MustCompile(`(?im)^great!?\s*$`),
	regexp.MustCompile(`(?im)^perfect!?\s*$`),
	regexp.MustCompile(`(?im)^awesome!?\s*$`),
	regexp.MustCompile(`(?im)^sounds good!?\s*$`),
	regexp.MustCompile(`(?im)^got it!?\s*$`),
	regexp.MustCompile(`(?i)we work normal business hours`),
	regexp.MustCompile(`(?i)if you email outside of those times`),
}

// piiPatterns are applied in order; email runs before url so addresses are
// not half-consumed as domains.
var piiPatterns = []struct {
	re          *regexp.Regexp
	placeholder string
}{
	{regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), "{email}"},
	{regexp.MustCompile(`\b(?:https?://)?(?:www\.)?[a-zA-Z0-9-]+\.(?:com|dev|io|net|org)/\S*`), "{url}"},
	{regexp.MustCompile(`\$\d+(?:\.\d{2})?`), "{amount}"},
	{regexp.MustCompile(`\b\d{4}[-/]\d{2}[-/]\d{2}\b`), "{date}"},
}

// topicKeywords is checked in order; the first topic with a matching term wins.
var topicKeywords = []struct {
	topic string
	terms []string
}{
	{"transfer", []string{"transfer", "move", "change email"}},
	{"refund", []string{"refund", "money back", "cancel"}},
	{"access", []string{"access", "login", "password", "can't log"}},
	{"discount", []string{"discount", "coupon", "code", "ppp"}},
	{"team", []string{"team", "license", "seats"}},
	{"invoice", []string{"invoice", "receipt", "tax"}},
	{"download", []string{"download", "zip", "video"}},
	{"content", []string{"module", "lesson", "workshop", "course"}},
}

// Params bounds which reused responses are considered.
type Params struct {
	MinReuse  int    `json:"min_reuse_count"`
	MinLength int    `json:"min_text_length"`
	MinThread int    `json:"min_thread_length"`
	MaxThread int    `json:"max_thread_length"`
	AppID     string `json:"app_id,omitempty"`
}

// DefaultParams returns the standard extraction bounds.
func DefaultParams() Params {
	return Params{MinReuse: 3, MinLength: 50, MinThread: 2, MaxThread: 10}
}

// Response is a golden response as written to responses.json.
type Response struct {
	faq.GoldenResponse
	TextLength int `json:"text_length"`
}

// Template groups golden responses that share a template.
type Template struct {
	ID         string   `json:"id"`
	Template   string   `json:"template"`
	Variations []string `json:"variations"`
	Topic      string   `json:"topic"`
	UsageCount int      `json:"usage_count"`
}

// TagWeight is a tag weighted by the reuse count of responses carrying it.
type TagWeight struct {
	Tag    string `json:"tag"`
	Weight int    `json:"weight"`
}

// QualityDistribution buckets responses by quality score.
type QualityDistribution struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// Stats summarizes an extraction.
type Stats struct {
	TotalAnalyzed       int                 `json:"total_analyzed"`
	TotalGolden         int                 `json:"total_golden"`
	TotalTemplates      int                 `json:"total_templates"`
	AvgQualityScore     float64             `json:"avg_quality_score"`
	AvgReuseCount       float64             `json:"avg_reuse_count"`
	TopTags             []TagWeight         `json:"top_tags"`
	QualityDistribution QualityDistribution `json:"quality_distribution"`
	ExtractionParams    Params              `json:"extraction_params"`
	BoilerplateFiltered bool                `json:"boilerplate_filtered"`
}

// Result is the full output of an extraction.
type Result struct {
	Responses []Response `json:"responses"`
	Templates []Template `json:"templates"`
	Stats     Stats      `json:"stats"`
}

// Golden returns the responses as scoring references.
func (r *Result) Golden() []faq.GoldenResponse {
	out := make([]faq.GoldenResponse, len(r.Responses))
	for i, resp := range r.Responses {
		out[i] = resp.GoldenResponse
	}
	return out
}

// ReuseSource is the query the extractor needs from the cache.
type ReuseSource interface {
	ReusedResponses(ctx context.Context, q source.ReuseQuery) ([]source.ResponseUsage, error)
}

// Extract queries reused responses and builds the golden set.
func Extract(ctx context.Context, src ReuseSource, p Params, log zerolog.Logger) (*Result, error) {
	usages, err := src.ReusedResponses(ctx, source.ReuseQuery{
		MinReuse:  p.MinReuse,
		MinLength: p.MinLength,
		MinThread: p.MinThread,
		MaxThread: p.MaxThread,
		AppID:     p.AppID,
	})
	if err != nil {
		return nil, fmt.Errorf("querying reused responses: %w", err)
	}
	res := Build(usages, p)
	log.Info().
		Int("analyzed", res.Stats.TotalAnalyzed).
		Int("golden", res.Stats.TotalGolden).
		Int("templates", res.Stats.TotalTemplates).
		Msg("golden responses extracted")
	return res, nil
}

// Build turns reused responses, most reused first, into golden responses,
// templates, and stats. Ids follow input position, so filtered responses
// leave gaps.
func Build(usages []source.ResponseUsage, p Params) *Result {
	type group struct {
		template string
		ids      []string
		usage    int
	}
	groups := map[string]*group{}
	var groupOrder []string

	responses := make([]Response, 0, len(usages))
	for i, u := range usages {
		if strings.TrimSpace(u.Text) == "" || IsBoilerplate(u.Text) {
			continue
		}
		id := fmt.Sprintf("gr_%03d", i+1)
		tmpl := Templatize(u.Text)
		reuse := len(u.ConversationIDs)
		length := utf8.RuneCountInString(u.Text)

		responses = append(responses, Response{
			GoldenResponse: faq.GoldenResponse{
				ID:                  id,
				Text:                truncate(u.Text, maxStoredText),
				Template:            truncate(tmpl, maxStoredText),
				QualityScore:        Quality(reuse, u.AvgThreadLength, length),
				Topic:               Topic(tmpl),
				ReuseCount:          reuse,
				AvgThreadLength:     round(u.AvgThreadLength, 2),
				SourceConversations: head(u.ConversationIDs, maxSourceConvs),
				AssociatedTags:      head(nonEmpty(u.Tags), maxTags),
			},
			TextLength: length,
		})

		g, ok := groups[tmpl]
		if !ok {
			g = &group{template: tmpl}
			groups[tmpl] = g
			groupOrder = append(groupOrder, tmpl)
		}
		g.ids = append(g.ids, id)
		g.usage += reuse
	}

	sort.SliceStable(responses, func(i, j int) bool {
		return responses[i].QualityScore > responses[j].QualityScore
	})

	sort.SliceStable(groupOrder, func(i, j int) bool {
		return groups[groupOrder[i]].usage > groups[groupOrder[j]].usage
	})
	var templates []Template
	for i, key := range groupOrder {
		g := groups[key]
		if g.usage < 5 && len(g.ids) < 2 {
			continue
		}
		templates = append(templates, Template{
			ID:         fmt.Sprintf("tpl_%03d", i+1),
			Template:   truncate(g.template, maxTemplateText),
			Variations: g.ids,
			Topic:      Topic(g.template),
			UsageCount: g.usage,
		})
		if len(templates) == maxTemplates {
			break
		}
	}

	return &Result{
		Responses: responses,
		Templates: templates,
		Stats:     buildStats(len(usages), responses, len(templates), p),
	}
}

func buildStats(analyzed int, responses []Response, templates int, p Params) Stats {
	st := Stats{
		TotalAnalyzed:       analyzed,
		TotalGolden:         len(responses),
		TotalTemplates:      templates,
		ExtractionParams:    p,
		BoilerplateFiltered: true,
		TopTags:             []TagWeight{},
	}
	if len(responses) == 0 {
		return st
	}

	var qualitySum float64
	var reuseSum int
	weights := map[string]int{}
	for _, r := range responses {
		qualitySum += r.QualityScore
		reuseSum += r.ReuseCount
		switch {
		case r.QualityScore >= 0.7:
			st.QualityDistribution.High++
		case r.QualityScore >= 0.4:
			st.QualityDistribution.Medium++
		default:
			st.QualityDistribution.Low++
		}
		for _, tag := range r.AssociatedTags {
			weights[tag] += r.ReuseCount
		}
	}
	st.AvgQualityScore = round(qualitySum/float64(len(responses)), 3)
	st.AvgReuseCount = round(float64(reuseSum)/float64(len(responses)), 1)

	for tag, w := range weights {
		st.TopTags = append(st.TopTags, TagWeight{Tag: tag, Weight: w})
	}
	sort.Slice(st.TopTags, func(i, j int) bool {
		if st.TopTags[i].Weight != st.TopTags[j].Weight {
			return st.TopTags[i].Weight > st.TopTags[j].Weight
		}
		return st.TopTags[i].Tag < st.TopTags[j].Tag
	})
	if len(st.TopTags) > maxTopTags {
		st.TopTags = st.TopTags[:maxTopTags]
	}
	return st
}

// IsBoilerplate reports whether a response is a short acknowledgement, an
// auto-responder, or too short to be useful.
func IsBoilerplate(text string) bool {
	trimmed := strings.TrimSpace(text)
	for _, re := range boilerplatePatterns {
		if re.MatchString(trimmed) {
			return true
		}
	}
	return utf8.RuneCountInString(trimmed) < MinBoilerplateLength
}

// Templatize replaces emails, urls, dollar amounts, and dates with
// placeholders.
func Templatize(text string) string {
	for _, p := range piiPatterns {
		text = p.re.ReplaceAllString(text, p.placeholder)
	}
	return text
}

// Quality scores a response from how often it was reused, how short the
// threads it resolved were, and its length. Rounded to three decimals.
func Quality(reuseCount int, avgThreadLength float64, textLength int) float64 {
	reuse := math.Min(float64(reuseCount)/50, 1)
	resolution := math.Max(0, 1-(avgThreadLength-2)/5)
	length := math.Min(float64(textLength)/500, 1)
	return round(faq.Clamp01(0.4*reuse+0.3*resolution+0.3*length), 3)
}

// Topic classifies text by the first matching keyword group, or "general".
func Topic(text string) string {
	lower := strings.ToLower(text)
	for _, k := range topicKeywords {
		for _, term := range k.terms {
			if strings.Contains(lower, term) {
				return k.topic
			}
		}
	}
	return "general"
}

// Write stores responses.json, templates.json, and stats.json in dir.
func Write(dir string, res *Result) error {
	files := []struct {
		name string
		v    interface{}
	}{
		{ResponsesFile, responsesFile{
			Responses:     res.Responses,
			TotalGolden:   res.Stats.TotalGolden,
			TotalAnalyzed: res.Stats.TotalAnalyzed,
		}},
		{TemplatesFile, templatesFile{Templates: nonNilTemplates(res.Templates)}},
		{StatsFile, res.Stats},
	}
	for _, f := range files {
		if err := artifact.WriteJSON(filepath.Join(dir, f.name), f.v); err != nil {
			return err
		}
	}
	return nil
}

type responsesFile struct {
	Responses     []Response `json:"responses"`
	TotalGolden   int        `json:"total_golden"`
	TotalAnalyzed int        `json:"total_analyzed"`
}

type templatesFile struct {
	Templates []Template `json:"templates"`
}

// Load reads golden responses for scoring. path may be a responses.json
// file or the directory containing it.
func Load(path string) ([]faq.GoldenResponse, error) {
	if filepath.Ext(path) != ".json" {
		path = filepath.Join(path, ResponsesFile)
	}
	var f struct {
		Responses []faq.GoldenResponse `json:"responses"`
	}
	if err := artifact.ReadJSON(path, &f); err != nil {
		return nil, fmt.Errorf("loading golden responses: %w", err)
	}
	return f.Responses, nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func head(v []string, n int) []string {
	if len(v) > n {
		v = v[:n]
	}
	return append([]string{}, v...)
}

func nonEmpty(v []string) []string {
	out := make([]string, 0, len(v))
	for _, s := range v {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func nonNilTemplates(t []Template) []Template {
	if t == nil {
		return []Template{}
	}
	return t
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
