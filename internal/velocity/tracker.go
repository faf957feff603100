// Package velocity tracks article arrival rates per ticker and converts
// them into a bounded attention signal.
package velocity

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"strings"
	"time"
	"unicode"

	"catalyst-bot/internal/logger"
	"catalyst-bot/internal/store"
	"catalyst-bot/internal/types"
)

// ErrNoData is returned by Velocity when no events exist in any window.
var ErrNoData = errors.New("velocity: no article events for ticker")

// RecordResult is the outcome of recording one article.
type RecordResult string

const (
	Accepted          RecordResult = "ACCEPTED"
	DuplicateRejected RecordResult = "DUPLICATE_REJECTED"
)

const (
	dedupWindow = 24 * time.Hour
)

// scoreLadder maps the 1-hour article count to a base score. Brackets are
// evaluated top-down; lower bounds are exclusive. Counts at or below the
// last bound scale linearly (n/10 * 0.3).
var scoreLadder = []struct {
	lowerBound int
	score      float64
}{
	{50, 0.9},
	{20, 0.7},
	{10, 0.5},
}

// confidenceLadder maps the 24-hour article count to a confidence level.
// Lower bounds are inclusive.
var confidenceLadder = []struct {
	lowerBound int
	confidence float64
}{
	{10, 0.70},
	{5, 0.60},
	{2, 0.50},
}

// Tracker records article arrivals and derives velocity readings from the
// stored event history. It holds no derived state; every reading is
// recomputed from the store at query time.
type Tracker struct {
	events    *store.EventStore
	retention time.Duration
	now       func() time.Time
}

// New creates a tracker over the given event store with the given
// retention window for stored events.
func New(events *store.EventStore, retentionDays int) *Tracker {
	return &Tracker{
		events:    events,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		now:       time.Now,
	}
}

// Record stores one article arrival. Articles whose normalized title was
// already seen for the same ticker within the prior 24 hours are rejected
// and leave no trace in the counts. Events past the retention window for
// this ticker are purged on the way in.
func (t *Tracker) Record(ctx context.Context, ticker, title, url, source string) (RecordResult, error) {
	now := t.now()

	// Lazy retention: clear this ticker's expired rows before writing.
	if _, err := t.events.PurgeBefore(ctx, ticker, now.Add(-t.retention)); err != nil {
		logger.Warn(ctx, "Event purge failed", "ticker", ticker, "error", err)
	}

	ev := store.ArticleEvent{
		Ticker:    ticker,
		Timestamp: now,
		TitleHash: TitleHash(title),
		Source:    source,
		URL:       url,
	}
	err := t.events.Insert(ctx, ev, dedupWindow)
	if errors.Is(err, store.ErrDuplicate) {
		logger.Debug(ctx, "Duplicate article rejected", "ticker", ticker, "hash", ev.TitleHash)
		return DuplicateRejected, nil
	}
	if err != nil {
		return "", err
	}
	return Accepted, nil
}

// Velocity computes the current reading for a ticker. baselinePerDay is
// the ticker's normal daily article count, used for the sustained-coverage
// check. Returns ErrNoData when the ticker has no events in any window.
func (t *Tracker) Velocity(ctx context.Context, ticker string, baselinePerDay float64) (types.VelocityReading, error) {
	now := t.now()

	c24, err := t.events.CountSince(ctx, ticker, now.Add(-24*time.Hour))
	if err != nil {
		return types.VelocityReading{}, err
	}
	if c24 == 0 {
		return types.VelocityReading{}, ErrNoData
	}
	c4, err := t.events.CountSince(ctx, ticker, now.Add(-4*time.Hour))
	if err != nil {
		return types.VelocityReading{}, err
	}
	c1, err := t.events.CountSince(ctx, ticker, now.Add(-1*time.Hour))
	if err != nil {
		return types.VelocityReading{}, err
	}

	r := types.VelocityReading{
		Ticker:   ticker,
		Count1h:  c1,
		Count4h:  c4,
		Count24h: c24,
		Rate1h:   float64(c1),
		Rate4h:   float64(c4) / 4,
		Rate24h:  float64(c24) / 24,
	}

	r.Score = baseScore(c1)

	// Sustained coverage: broad 4-hour pickup well above the ticker's
	// normal rate earns a bonus on top of the bracket score.
	baselineHourly := baselinePerDay / 24
	if c4 >= 15 && baselineHourly > 0 && r.Rate4h > 3*baselineHourly {
		r.Score += 0.2
		r.Spike = true
	}
	// Clamp once, on the final score.
	if r.Score > 1.0 {
		r.Score = 1.0
	}

	r.Confidence = confidenceFor(c24)
	return r, nil
}

func baseScore(count1h int) float64 {
	for _, bracket := range scoreLadder {
		if count1h > bracket.lowerBound {
			return bracket.score
		}
	}
	return float64(count1h) / 10 * 0.3
}

func confidenceFor(count24h int) float64 {
	for _, bracket := range confidenceLadder {
		if count24h >= bracket.lowerBound {
			return bracket.confidence
		}
	}
	return 0.40
}

// Sweep purges expired events across all tickers. Safe to run at any
// frequency alongside the per-ticker lazy purge.
func (t *Tracker) Sweep(ctx context.Context) (int64, error) {
	return t.events.PurgeBefore(ctx, "", t.now().Add(-t.retention))
}

// TitleHash normalizes an article title (lowercase, punctuation stripped,
// whitespace collapsed) and returns its hex sha1. Two titles differing
// only in casing or punctuation hash identically.
func TitleHash(title string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	normalized := strings.TrimSpace(b.String())
	sum := sha1.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
