package cluster

import (
	"sort"
	"strings"
	"unicode"

	"github.com/hurttlocker/faqmine/internal/faq"
)

// tierKeywords maps priority tiers to label keywords. Tier 1 is checked
// first; the first tier with a matching keyword wins.
var tierKeywords = [][]string{
	{"refund", "access", "login", "log in", "password", "payment", "invoice", "billing", "charge"},
	{"transfer", "license", "team", "discount", "coupon", "download", "upgrade", "purchase"},
	{"course", "lesson", "module", "workshop", "video", "content", "exercise", "tutorial"},
}

// TierFor returns the priority tier (1-3) of a cluster label, or 0 when no
// keyword matches.
func TierFor(label string) int {
	l := strings.ToLower(label)
	if strings.TrimSpace(l) == "" {
		return 0
	}
	for i, words := range tierKeywords {
		for _, w := range words {
			if strings.Contains(l, w) {
				return i + 1
			}
		}
	}
	return 0
}

var labelStopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "was": {}, "are": {}, "were": {}, "i": {}, "you": {},
	"my": {}, "your": {}, "to": {}, "for": {}, "of": {}, "and": {}, "in": {}, "on": {}, "with": {},
	"this": {}, "that": {}, "it": {}, "be": {}, "have": {}, "has": {}, "had": {}, "can": {},
	"would": {}, "like": {}, "just": {}, "if": {}, "me": {}, "we": {}, "us": {}, "as": {}, "at": {},
	"but": {}, "not": {}, "so": {}, "do": {}, "does": {}, "did": {}, "will": {}, "when": {},
	"what": {}, "how": {}, "all": {}, "from": {},
}

const (
	labelTagMinCount = 5
	labelSampleSize  = 3
	labelSampleChars = 200
)

// GenerateLabel names a cluster that arrived without one: the top tag when
// it appears more than five times, otherwise the two most frequent keywords
// of the first three representative questions, otherwise "Cluster <id>".
func GenerateLabel(id string, topTags []TagCount, representatives []string) string {
	if len(topTags) > 0 && topTags[0].Count > labelTagMinCount {
		return titleCase(strings.ReplaceAll(topTags[0].Tag, "_", " "))
	}

	counts := make(map[string]int)
	var order []string
	for i, q := range representatives {
		if i == labelSampleSize {
			break
		}
		r := []rune(q)
		if len(r) > labelSampleChars {
			r = r[:labelSampleChars]
		}
		for _, w := range strings.Fields(strings.ToLower(string(r))) {
			w = strings.Map(func(c rune) rune {
				if unicode.IsLetter(c) || unicode.IsDigit(c) {
					return c
				}
				return -1
			}, w)
			if len([]rune(w)) <= 3 {
				continue
			}
			if _, stop := labelStopWords[w]; stop {
				continue
			}
			if counts[w] == 0 {
				order = append(order, w)
			}
			counts[w]++
		}
	}
	if len(order) == 0 {
		return "Cluster " + strings.TrimPrefix(id, "cluster-")
	}

	sort.SliceStable(order, func(a, b int) bool { return counts[order[a]] > counts[order[b]] })
	if len(order) > 2 {
		order = order[:2]
	}
	for i, w := range order {
		order[i] = titleCase(w)
	}
	return strings.Join(order, " ")
}

// TagStats counts tags across members, most common first (top 10), and
// reports the share of members carrying the top tag.
func TagStats(convs []faq.ResolvedConversation) ([]TagCount, float64) {
	counts := make(map[string]int)
	var order []string
	for _, c := range convs {
		for _, t := range c.Tags {
			if counts[t] == 0 {
				order = append(order, t)
			}
			counts[t]++
		}
	}
	sort.SliceStable(order, func(a, b int) bool { return counts[order[a]] > counts[order[b]] })
	if len(order) > 10 {
		order = order[:10]
	}

	top := make([]TagCount, 0, len(order))
	for _, t := range order {
		top = append(top, TagCount{Tag: t, Count: counts[t]})
	}
	coverage := 0.0
	if len(top) > 0 && len(convs) > 0 {
		coverage = float64(top[0].Count) / float64(len(convs))
	}
	return top, coverage
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
