package llm

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"catalyst-bot/internal/logger"
	"catalyst-bot/internal/types"
)

// ResultKind classifies a scheduler outcome for one candidate.
type ResultKind string

const (
	// Scored means the backend returned a parseable number.
	Scored ResultKind = "SCORED"
	// ParseFailure means the backend answered but no number could be
	// extracted. The reading is excluded from fusion.
	ParseFailure ResultKind = "PARSE_FAILURE"
	// Skipped means the candidate's prescale magnitude was below the
	// threshold and the backend was never consulted.
	Skipped ResultKind = "SKIPPED"
)

// Item is one scoring candidate: a ticker plus its recent headline texts
// and its cheap prescale score.
type Item struct {
	Ticker   string
	Texts    []string
	Prescale float64
}

// Result is the scheduler's outcome for one item.
type Result struct {
	Kind    ResultKind
	Reading types.SentimentReading
}

// llmConfidence is the fixed confidence attached to model readings; the
// backend gives no calibrated estimate of its own.
const llmConfidence = 0.65

var numberRe = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// Scheduler pre-filters candidates and runs the survivors through the
// inference backend in fixed-size, rate-limited batches. One scheduler
// guards one shared backend.
type Scheduler struct {
	client    Client
	batchSize int
	delay     time.Duration
	threshold float64
	warmup    bool
	warmed    bool

	// sleep is swapped out in tests so batch pacing costs no wall clock.
	sleep func(ctx context.Context, d time.Duration)
}

func NewScheduler(client Client, batchSize int, delay time.Duration, prescaleThreshold float64, warmup bool) *Scheduler {
	if batchSize <= 0 {
		batchSize = 5
	}
	return &Scheduler{
		client:    client,
		batchSize: batchSize,
		delay:     delay,
		threshold: prescaleThreshold,
		warmup:    warmup,
		sleep:     sleepCtx,
	}
}

// Submit scores the candidates and returns one result per ticker. Items
// below the prescale threshold are Skipped without touching the backend;
// retained items run in batches of batchSize with a fixed delay between
// batches to bound peak load. Backend errors and unparseable responses
// become ParseFailure results, never errors.
func (s *Scheduler) Submit(ctx context.Context, items []Item) map[string]Result {
	ctx, span := logger.StartSpan(ctx, "llm-batch-submit")
	defer span.End()

	results := make(map[string]Result, len(items))

	var retained []Item
	for _, it := range items {
		if it.Prescale >= s.threshold || it.Prescale <= -s.threshold {
			retained = append(retained, it)
		} else {
			results[it.Ticker] = Result{Kind: Skipped}
		}
	}
	logger.Debug(ctx, "Prescale filter applied",
		"candidates", len(items), "retained", len(retained), "threshold", s.threshold)
	if len(retained) == 0 {
		return results
	}

	if s.warmup && !s.warmed {
		// One throwaway call so the first scored batch does not eat the
		// backend's cold-start latency. Failure here is not fatal.
		if _, err := s.client.Complete(ctx, "Reply with the single word OK."); err != nil {
			logger.Warn(ctx, "Inference warm-up failed", "error", err)
		}
		s.warmed = true
	}

	for start := 0; start < len(retained); start += s.batchSize {
		if start > 0 {
			s.sleep(ctx, s.delay)
		}
		end := start + s.batchSize
		if end > len(retained) {
			end = len(retained)
		}
		for _, it := range retained[start:end] {
			results[it.Ticker] = s.scoreOne(ctx, it)
		}
	}
	return results
}

func (s *Scheduler) scoreOne(ctx context.Context, it Item) Result {
	prompt := buildPrompt(it)
	out, err := s.client.Complete(ctx, prompt)
	if err != nil {
		logger.Warn(ctx, "Inference call failed", "ticker", it.Ticker, "error", err)
		return Result{Kind: ParseFailure}
	}
	score, ok := parseScore(out)
	if !ok {
		logger.Warn(ctx, "Unparseable inference response", "ticker", it.Ticker, "response", truncate(out, 120))
		return Result{Kind: ParseFailure}
	}
	return Result{
		Kind: Scored,
		Reading: types.SentimentReading{
			Source:     "llm",
			Score:      score,
			Confidence: llmConfidence,
			Available:  true,
		},
	}
}

func buildPrompt(it Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rate the overall market sentiment of these %s headlines.\n", it.Ticker)
	fmt.Fprintf(&b, "Respond with a single number between -1 (very bearish) and 1 (very bullish).\n")
	for _, t := range it.Texts {
		fmt.Fprintf(&b, "- %s\n", t)
	}
	return b.String()
}

// parseScore extracts the first number in the response and clamps it into
// [-1,1]. Returns false when the response contains no number at all.
func parseScore(out string) (float64, bool) {
	m := numberRe.FindString(out)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	if v > 1 {
		v = 1
	}
	if v < -1 {
		v = -1
	}
	return v, true
}

// truncate cuts s to at most n bytes, backing up to a rune boundary so a
// multi-byte character is never split.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
