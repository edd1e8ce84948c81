// Package readability provides the word counter and the heuristic
// readability score shown next to generated papers.
//
// The score is not a validated readability formula. It treats 17.5 words per
// sentence as the ideal academic register and penalises deviation linearly:
//
//	score = 100 - |wordsPerSentence - 17.5| * 2.5, clamped to [0, 100]
//
// Consumers compare scores across papers, so the formula must stay as is.
package readability

import (
	"math"
	"regexp"
	"strings"

	"github.com/citeai/citeai/internal/sections"
)

const (
	// MinWords is the sample size below which Score returns 0.
	MinWords = 10

	idealSentenceLength = 17.5
	penaltyPerWord      = 2.5
)

var sentenceBoundary = regexp.MustCompile(`[.!?]+`)

// Words returns the number of whitespace-delimited tokens in text.
func Words(text string) int {
	return len(strings.Fields(text))
}

// Sentences returns the number of maximal runs of '.', '!' or '?' in text,
// or 1 when there are none.
func Sentences(text string) int {
	n := len(sentenceBoundary.FindAllStringIndex(text, -1))
	if n == 0 {
		return 1
	}
	return n
}

// Score returns the heuristic readability score of text, 0 to 100.
func Score(text string) int {
	words := Words(text)
	if words < MinWords {
		return 0
	}
	avg := float64(words) / float64(Sentences(text))
	score := 100 - math.Abs(avg-idealSentenceLength)*penaltyPerWord
	score = math.Max(0, math.Min(100, score))
	return int(math.Round(score))
}

// WordCount sums Words over every section body in m.
func WordCount(m sections.Map) int {
	total := 0
	for _, body := range m.Bodies() {
		total += Words(body)
	}
	return total
}

// Text joins section bodies the way they are scored: separated by blank lines.
// Headings and any text outside the requested sections are left out, so the
// score differs from scoring the raw model output, which counts each heading
// as part of the following sentence.
func Text(m sections.Map) string {
	return strings.Join(m.Bodies(), "\n\n")
}
