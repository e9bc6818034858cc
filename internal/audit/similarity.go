package audit

import (
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/booking-manager/backend/internal/storage/models"
)

const (
	// Similarity weights, summing to 1.
	WeightTitle       = 0.4
	WeightDescription = 0.2
	WeightStart       = 0.2
	WeightEnd         = 0.2

	// Texts are compared on their first maxCompareRunes runes.
	maxCompareRunes = 512
)

// scorer compares events. It holds a case folder, which is not safe for
// concurrent use, so every scan builds its own.
type scorer struct {
	fold     cases.Caser
	maxDelta time.Duration
}

func newScorer(maxDelta time.Duration) *scorer {
	return &scorer{fold: cases.Fold(), maxDelta: maxDelta}
}

// Score returns the weighted similarity of a and b in [0, 1].
func (s *scorer) Score(a, b *models.Event) float64 {
	return WeightTitle*s.text(a.Title, b.Title) +
		WeightDescription*s.text(a.Description, b.Description) +
		WeightStart*timeSimilarity(a.Start, b.Start, s.maxDelta) +
		WeightEnd*timeSimilarity(a.EffectiveEnd(), b.EffectiveEnd(), s.maxDelta)
}

func (s *scorer) normalize(text string) []rune {
	text = norm.NFKC.String(s.fold.String(strings.TrimSpace(text)))
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) > maxCompareRunes {
		return []rune(text)[:maxCompareRunes]
	}
	return []rune(text)
}

func (s *scorer) text(a, b string) float64 {
	ra, rb := s.normalize(a), s.normalize(b)
	longest := max(len(ra), len(rb))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

// timeSimilarity is 1 for equal instants and falls linearly to 0 at maxDelta.
func timeSimilarity(a, b time.Time, maxDelta time.Duration) float64 {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	if maxDelta <= 0 || d >= maxDelta {
		if d == 0 {
			return 1
		}
		return 0
	}
	return 1 - float64(d)/float64(maxDelta)
}

// levenshtein is the edit distance between a and b using two rows.
func levenshtein(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}
