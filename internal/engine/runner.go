package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"catalyst-bot/internal/llm"
	"catalyst-bot/internal/logger"
	"catalyst-bot/internal/sentiment"
	"catalyst-bot/internal/store"
	"catalyst-bot/internal/tradelog"
	"catalyst-bot/internal/types"
	"catalyst-bot/internal/velocity"
)

const headlineWindow = 24 * time.Hour

type headline struct {
	text string
	at   time.Time
}

// Runner drives the recurring signal cycle: it accepts ingested articles,
// schedules the model pass, fuses signals and hands them to the engine.
// Cycles are not reentrant; a tick that lands while the previous cycle is
// still in flight is skipped.
type Runner struct {
	cfg       *store.Config
	tracker   *velocity.Tracker
	fuser     *sentiment.Fuser
	scheduler *llm.Scheduler
	engine    *Engine

	mu        sync.Mutex
	headlines map[string][]headline
	cycleMu   sync.Mutex
	now       func() time.Time
}

func NewRunner(cfg *store.Config, tracker *velocity.Tracker, fuser *sentiment.Fuser, scheduler *llm.Scheduler, eng *Engine) *Runner {
	return &Runner{
		cfg:       cfg,
		tracker:   tracker,
		fuser:     fuser,
		scheduler: scheduler,
		engine:    eng,
		headlines: make(map[string][]headline),
		now:       time.Now,
	}
}

// Ingest accepts one article from the (external) feed layer: it records
// the arrival for velocity tracking and buffers the headline for the next
// fusion pass. Duplicates are dropped from both.
func (r *Runner) Ingest(ctx context.Context, ticker, title, url, source string) (velocity.RecordResult, error) {
	if r.tracker != nil {
		res, err := r.tracker.Record(ctx, ticker, title, url, source)
		if err != nil {
			return "", err
		}
		if res == velocity.DuplicateRejected {
			return res, nil
		}
	}
	r.mu.Lock()
	r.headlines[ticker] = append(r.headlines[ticker], headline{text: title, at: r.now()})
	r.mu.Unlock()
	return velocity.Accepted, nil
}

// recentTexts returns the buffered headlines for a ticker inside the
// window, pruning expired ones as a side effect.
func (r *Runner) recentTexts(ticker string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-headlineWindow)
	kept := r.headlines[ticker][:0]
	var texts []string
	for _, h := range r.headlines[ticker] {
		if h.at.After(cutoff) {
			kept = append(kept, h)
			texts = append(texts, h.text)
		}
	}
	if len(kept) == 0 {
		delete(r.headlines, ticker)
	} else {
		r.headlines[ticker] = kept
	}
	return texts
}

// RunCycle executes one full pass: model batch, fusion and evaluation for
// every ticker with coverage, then the monitoring pass over open
// positions. Returns false when the previous cycle was still running.
func (r *Runner) RunCycle(ctx context.Context) bool {
	if !r.cycleMu.TryLock() {
		logger.Warn(ctx, "Previous cycle still in flight, skipping tick")
		return false
	}
	defer r.cycleMu.Unlock()

	ctx, span := logger.StartSpan(ctx, "signal-cycle")
	defer span.End()
	start := r.now()

	// Candidates: tickers from the configured universe that have fresh
	// coverage buffered.
	texts := make(map[string][]string, len(r.cfg.Universe))
	var items []llm.Item
	for _, ticker := range r.cfg.Universe {
		tx := r.recentTexts(ticker)
		if len(tx) == 0 {
			continue
		}
		texts[ticker] = tx
		items = append(items, llm.Item{
			Ticker:   ticker,
			Texts:    tx,
			Prescale: r.fuser.Prescale(tx),
		})
	}

	var llmResults map[string]llm.Result
	if r.scheduler != nil && len(items) > 0 {
		llmResults = r.scheduler.Submit(ctx, items)
	}

	for ticker, tx := range texts {
		in := sentiment.Input{Ticker: ticker, Texts: tx}
		if res, ok := llmResults[ticker]; ok && res.Kind == llm.Scored {
			reading := res.Reading
			in.LLM = &reading
		}

		sig, err := r.fuser.Fuse(ctx, in)
		if err != nil {
			// All sources down for this ticker; no decision possible.
			logger.Warn(ctx, "Fusion unavailable", "ticker", ticker, "error", err)
			continue
		}
		_ = tradelog.AppendSignal(tradelog.SignalEntry{
			Ticker:     sig.Ticker,
			Score:      sig.Score,
			Confidence: sig.Confidence,
			Sources:    sig.Sources,
		})

		if _, err := r.engine.Evaluate(ctx, sig); err != nil {
			r.logEvaluateOutcome(ctx, sig, err)
		}
	}

	r.engine.MonitorCycle(ctx)

	logger.Debug(ctx, "Cycle complete",
		"candidates", len(items),
		"duration_ms", r.now().Sub(start).Milliseconds())
	return true
}

func (r *Runner) logEvaluateOutcome(ctx context.Context, sig types.FusedSignal, err error) {
	// Weak signals are the common case and stay at debug; risk rejections
	// were already logged as risk events by the engine.
	switch {
	case errors.Is(err, ErrSignalTooWeak):
		logger.Debug(ctx, "Signal below thresholds", "ticker", sig.Ticker,
			"score", sig.Score, "confidence", sig.Confidence)
	case errors.Is(err, ErrPriceUnavailable):
		logger.Warn(ctx, "No entry price for signal", "ticker", sig.Ticker)
	}
}

// Sweep runs the global retention sweep. Idempotent alongside the
// tracker's lazy per-ticker purge.
func (r *Runner) Sweep(ctx context.Context) {
	if r.tracker == nil {
		return
	}
	if n, err := r.tracker.Sweep(ctx); err != nil {
		logger.Warn(ctx, "Retention sweep failed", "error", err)
	} else if n > 0 {
		logger.Debug(ctx, "Retention sweep", "purged", n)
	}
}
