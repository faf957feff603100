package sentiment

import (
	"strings"
	"unicode"

	"catalyst-bot/internal/types"
)

// LexicalScorer scores headline text by counting hits against curated
// positive/negative word lists. It is the cheap, always-available path and
// also serves as the prescale signal for the expensive model pass.
type LexicalScorer struct {
	positive map[string]bool
	negative map[string]bool
}

func NewLexicalScorer() *LexicalScorer {
	return &LexicalScorer{
		positive: loadPositiveWords(),
		negative: loadNegativeWords(),
	}
}

// Score analyzes the given texts and returns a reading in [-1,1].
// The source is always available; with no text it reads neutral at the
// floor confidence.
func (s *LexicalScorer) Score(texts []string) types.SentimentReading {
	reading := types.SentimentReading{
		Source:     "lexical",
		Confidence: 0.3,
		Available:  true,
	}

	var pos, neg, total int
	for _, text := range texts {
		for _, word := range tokenize(text) {
			total++
			if s.positive[word] {
				pos++
			}
			if s.negative[word] {
				neg++
			}
		}
	}
	if total == 0 || pos+neg == 0 {
		return reading
	}

	reading.Score = float64(pos-neg) / float64(pos+neg)

	// Confidence grows with match density, capped at 0.8.
	density := float64(pos+neg) / float64(total)
	reading.Confidence = 0.3 + 0.5*minf(1, density*10)
	return reading
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func loadPositiveWords() map[string]bool {
	words := []string{
		"beat", "beats", "upgrade", "upgraded", "surge", "surges", "soar",
		"soars", "rally", "record", "growth", "profit", "profits", "gain",
		"gains", "approval", "approved", "breakthrough", "partnership",
		"acquisition", "buyback", "dividend", "outperform", "raises",
		"raised", "strong", "bullish", "expands", "expansion", "wins",
		"won", "contract", "milestone", "exceeds", "accelerates",
	}
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

func loadNegativeWords() map[string]bool {
	words := []string{
		"miss", "misses", "missed", "downgrade", "downgraded", "plunge",
		"plunges", "crash", "crashes", "loss", "losses", "lawsuit", "probe",
		"investigation", "recall", "bankruptcy", "default", "cuts", "cut",
		"layoffs", "warning", "warns", "weak", "bearish", "decline",
		"declines", "halt", "halted", "fraud", "delist", "dilution",
		"offering", "shortfall", "suspends", "resigns",
	}
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}
