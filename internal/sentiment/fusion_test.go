package sentiment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalyst-bot/internal/types"
)

func TestFuseRenormalizesMissingWeights(t *testing.T) {
	// Only the two always-available sources contribute; with equal raw
	// weights (0.25 each) the fused score must be their simple average,
	// not a value damped by the absent 0.5 of weight mass.
	f := NewFuser(DefaultWeights(), nil, 0)
	texts := []string{"Company beats estimates, raises guidance", "Analyst upgrade fuels rally"}

	lex := NewLexicalScorer().Score(texts)
	cls := NewClassifier().Score(texts)
	want := (lex.Score + cls.Score) / 2

	sig, err := f.Fuse(context.Background(), Input{Ticker: "AAPL", Texts: texts})
	require.NoError(t, err)
	assert.InDelta(t, want, sig.Score, 1e-9)
	assert.ElementsMatch(t, []string{"lexical", "classifier"}, sig.Sources)
}

func TestFuseWeightedAverage(t *testing.T) {
	// Empty text keeps the immediate sources at exactly zero so the
	// arithmetic over the optional sources is fully determined.
	f := NewFuser(DefaultWeights(), nil, 0)
	in := Input{
		Ticker: "TSLA",
		LLM:    &types.SentimentReading{Source: "llm", Score: 0.8, Confidence: 0.65, Available: true},
		HardData: &types.SentimentReading{
			Source: "hard_data", Score: 0.4, Confidence: 0.9, Available: true,
		},
	}

	sig, err := f.Fuse(context.Background(), in)
	require.NoError(t, err)

	// (0*0.25 + 0*0.25 + 0.8*0.15 + 0.4*0.35) / 1.0
	assert.InDelta(t, 0.26, sig.Score, 1e-9)
	assert.Len(t, sig.Sources, 4)
}

func TestFuseIgnoresUnavailableReading(t *testing.T) {
	f := NewFuser(DefaultWeights(), nil, 0)
	in := Input{
		Ticker: "AMD",
		Texts:  []string{"Company beats estimates"},
		LLM:    &types.SentimentReading{Source: "llm", Score: -1, Available: false},
	}
	sig, err := f.Fuse(context.Background(), in)
	require.NoError(t, err)
	assert.NotContains(t, sig.Sources, "llm")
}

func TestFuseAllSourcesUnavailable(t *testing.T) {
	f := NewFuser(Weights{}, nil, 0)
	_, err := f.Fuse(context.Background(), Input{Ticker: "AAPL"})
	assert.ErrorIs(t, err, ErrAllSourcesUnavailable)
}

func TestPrescaleMatchesImmediateSources(t *testing.T) {
	f := NewFuser(DefaultWeights(), nil, 0)
	texts := []string{"Bankruptcy filing and fraud investigation"}

	lex := NewLexicalScorer().Score(texts)
	cls := NewClassifier().Score(texts)
	assert.InDelta(t, (lex.Score+cls.Score)/2, f.Prescale(texts), 1e-9)
	assert.Negative(t, f.Prescale(texts))
}
