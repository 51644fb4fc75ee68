package scoring

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/hurttlocker/faqmine/internal/faq"
	"github.com/hurttlocker/faqmine/internal/textsim"
)

// Factor weights. They sum to 1.
const (
	WeightClusterSize     = 0.4
	WeightThreadLength    = 0.2
	WeightGoldenMatch     = 0.2
	WeightResponseQuality = 0.2
)

// ClusterSizeFactor is log10(size+1)/log10(maxSize+1), clamped to [0,1].
func ClusterSizeFactor(size, maxSize int) float64 {
	if size <= 0 {
		return 0
	}
	if maxSize < size {
		maxSize = size
	}
	return faq.Clamp01(math.Log10(float64(size)+1) / math.Log10(float64(maxSize)+1))
}

// ThreadLengthFactor favours conversations resolved in few messages.
func ThreadLengthFactor(messages int) float64 {
	switch {
	case messages <= 2:
		return 1.0
	case messages == 3:
		return 0.9
	case messages == 4:
		return 0.7
	case messages <= 6:
		return 0.5
	default:
		return 0.3
	}
}

// GoldenMatchFactor scores answer against the golden set and returns the
// best match. Containment either way scores 0.9+0.1·quality; otherwise word
// Jaccard above 0.5 scores jaccard·quality.
func GoldenMatchFactor(answer string, golden []faq.GoldenResponse) (float64, *faq.GoldenMatch) {
	a := strings.ToLower(strings.TrimSpace(answer))
	if a == "" || len(golden) == 0 {
		return 0, nil
	}

	best := 0.0
	var match *faq.GoldenMatch
	for _, g := range golden {
		quality := faq.Clamp01(g.QualityScore)
		for _, ref := range []string{g.Template, g.Text} {
			r := strings.ToLower(strings.TrimSpace(ref))
			if r == "" {
				continue
			}
			score, sim := 0.0, 0.0
			if strings.Contains(a, r) || strings.Contains(r, a) {
				score, sim = 0.9+0.1*quality, 1
			} else if j := textsim.TextJaccard(a, r); j > 0.5 {
				score, sim = j*quality, j
			}
			if score > best {
				best = score
				match = &faq.GoldenMatch{
					ResponseID:   g.ID,
					Template:     g.Template,
					QualityScore: g.QualityScore,
					Similarity:   sim,
				}
			}
		}
	}
	return faq.Clamp01(best), match
}

var greetings = []string{"hi", "hello", "hey", "dear", "good morning", "good afternoon", "thanks for reaching out", "thank you for reaching out"}

var closings = []string{"let me know", "hope this helps", "hope that helps", "cheers", "best,", "regards", "thanks!", "thank you!", "happy to help"}

var actionMarkers = []string{"you can", "here's how", "here is how", "steps", "step 1", "go to", "click", "follow these", "navigate to"}

var referenceMarkers = []string{"http://", "https://", "www.", "link"}

// ResponseQuality estimates how well an answer reads as an FAQ answer.
func ResponseQuality(answer string) float64 {
	text := strings.TrimSpace(answer)
	n := utf8.RuneCountInString(text)
	lower := strings.ToLower(text)

	score := 0.0
	switch {
	case n >= 50 && n <= 500:
		score += 0.3
	case n > 500 && n <= 1000:
		score += 0.25
	case n >= 20 && n < 50:
		score += 0.15
	}
	if hasGreeting(lower) {
		score += 0.1
	}
	if containsAny(lower, closings) {
		score += 0.1
	}
	if containsAny(lower, actionMarkers) {
		score += 0.15
	}
	if containsAny(lower, referenceMarkers) {
		score += 0.1
	}
	if n < 50 {
		score -= 0.2
	}
	if strings.HasSuffix(text, "?") {
		score -= 0.1
	}
	return faq.Clamp01(score)
}

// Confidence combines factors with the fixed weights, clamped to [0,1].
func Confidence(f faq.ScoreFactors) float64 {
	return faq.Clamp01(WeightClusterSize*f.ClusterSize +
		WeightThreadLength*f.ThreadLength +
		WeightGoldenMatch*f.GoldenMatch +
		WeightResponseQuality*f.ResponseQuality)
}

// ClusterConfidence is the lighter model used when no scorer runs:
// 0.3·size + 0.4·unchangedRate + 0.3·cohesion, where size saturates at 10.
func ClusterConfidence(size int, unchangedRate, cohesion float64) float64 {
	sizeScore := 0.0
	if size > 0 {
		sizeScore = math.Min(1, math.Log10(float64(size)+1)/math.Log10(11))
	}
	return faq.Clamp01(0.3*sizeScore + 0.4*faq.Clamp01(unchangedRate) + 0.3*faq.Clamp01(cohesion))
}

func hasGreeting(lower string) bool {
	for _, g := range greetings {
		if lower == g || strings.HasPrefix(lower, g+" ") || strings.HasPrefix(lower, g+",") || strings.HasPrefix(lower, g+"!") {
			return true
		}
	}
	return false
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
