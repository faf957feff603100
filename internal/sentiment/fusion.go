// Package sentiment fuses heterogeneous sentiment estimators into one
// confidence-weighted score per ticker.
package sentiment

import (
	"context"
	"errors"
	"time"

	"catalyst-bot/internal/logger"
	"catalyst-bot/internal/types"
	"catalyst-bot/internal/velocity"
)

// ErrAllSourcesUnavailable means fusion had nothing to combine. Callers
// must treat this as "no decision possible", not as a crash.
var ErrAllSourcesUnavailable = errors.New("sentiment: all sources unavailable")

// Weights are the relative source weights before renormalization. They
// need not sum to 1; missing sources drop out of the denominator.
type Weights struct {
	Lexical    float64
	Classifier float64
	Velocity   float64
	LLM        float64
	HardData   float64
}

// DefaultWeights mirrors the production weighting: the externally supplied
// hard-data reading carries the largest share when present.
func DefaultWeights() Weights {
	return Weights{Lexical: 0.25, Classifier: 0.25, Velocity: 0.05, LLM: 0.15, HardData: 0.35}
}

// Input carries everything one fusion call needs. LLM and HardData are nil
// when those sources produced nothing this cycle.
type Input struct {
	Ticker   string
	Texts    []string
	LLM      *types.SentimentReading
	HardData *types.SentimentReading
}

// Fuser combines the lexical scorer, the classifier, velocity and the
// per-cycle model readings into one FusedSignal.
type Fuser struct {
	weights        Weights
	lexical        *LexicalScorer
	classifier     *Classifier
	tracker        *velocity.Tracker // nil when velocity tracking is disabled
	baselinePerDay float64
	now            func() time.Time
}

func NewFuser(weights Weights, tracker *velocity.Tracker, baselinePerDay float64) *Fuser {
	return &Fuser{
		weights:        weights,
		lexical:        NewLexicalScorer(),
		classifier:     NewClassifier(),
		tracker:        tracker,
		baselinePerDay: baselinePerDay,
		now:            time.Now,
	}
}

// Prescale returns the cheap preliminary score used to gate the expensive
// model pass. It is the equal-weight blend of the two immediate sources.
func (f *Fuser) Prescale(texts []string) float64 {
	lex := f.lexical.Score(texts)
	cls := f.classifier.Score(texts)
	return (lex.Score + cls.Score) / 2
}

// Fuse combines all available readings for a ticker. A source that errors
// is marked unavailable and its weight redistributed; the call only fails
// when no source at all could answer.
func (f *Fuser) Fuse(ctx context.Context, in Input) (types.FusedSignal, error) {
	ctx, span := logger.StartSpan(ctx, "sentiment-fuse")
	defer span.End()

	type weighted struct {
		reading types.SentimentReading
		weight  float64
	}
	readings := []weighted{
		{f.lexical.Score(in.Texts), f.weights.Lexical},
		{f.classifier.Score(in.Texts), f.weights.Classifier},
	}

	aux := types.SignalAux{}
	if f.tracker != nil {
		vr, err := f.tracker.Velocity(ctx, in.Ticker, f.baselinePerDay)
		switch {
		case errors.Is(err, velocity.ErrNoData):
			// No coverage yet; the source simply sits out this call.
		case err != nil:
			logger.Warn(ctx, "Velocity source failed", "ticker", in.Ticker, "error", err)
		default:
			readings = append(readings, weighted{
				types.SentimentReading{
					Source:     "velocity",
					Score:      vr.Score,
					Confidence: vr.Confidence,
					Available:  true,
				},
				f.weights.Velocity,
			})
			aux = types.SignalAux{
				HasVelocity:   true,
				VelocityScore: vr.Score,
				Spike:         vr.Spike,
				Articles24h:   vr.Count24h,
			}
		}
	}
	if in.LLM != nil && in.LLM.Available {
		readings = append(readings, weighted{*in.LLM, f.weights.LLM})
	}
	if in.HardData != nil && in.HardData.Available {
		readings = append(readings, weighted{*in.HardData, f.weights.HardData})
	}

	// Weighted average over available sources only. Unavailable sources
	// leave the denominator entirely so the score is never dragged toward
	// zero by a source that simply had nothing to say.
	var scoreSum, confSum, weightSum float64
	var sources []string
	for _, w := range readings {
		if !w.reading.Available || w.weight <= 0 {
			continue
		}
		scoreSum += w.reading.Score * w.weight
		confSum += w.reading.Confidence * w.weight
		weightSum += w.weight
		sources = append(sources, w.reading.Source)
	}
	if weightSum == 0 {
		return types.FusedSignal{}, ErrAllSourcesUnavailable
	}

	sig := types.FusedSignal{
		Ticker:     in.Ticker,
		Score:      scoreSum / weightSum,
		Confidence: confSum / weightSum,
		Sources:    sources,
		Timestamp:  f.now(),
		Aux:        aux,
	}
	logger.Signal(ctx, sig.Ticker, sig.Score, sig.Confidence, sig.Sources)
	return sig, nil
}
