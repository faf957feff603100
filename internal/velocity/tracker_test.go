package velocity

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalyst-bot/internal/store"
)

func newTestTracker(t *testing.T) (*Tracker, *store.EventStore) {
	t.Helper()
	es, err := store.OpenEventStore(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { es.Close() })
	return New(es, 7), es
}

// seed inserts n events for ticker at the given age, each with a unique
// title so dedup never interferes.
func seed(t *testing.T, es *store.EventStore, ticker string, n int, age time.Duration) {
	t.Helper()
	ts := time.Now().Add(-age)
	for i := 0; i < n; i++ {
		err := es.Insert(context.Background(), store.ArticleEvent{
			Ticker:    ticker,
			Timestamp: ts,
			TitleHash: TitleHash(fmt.Sprintf("%s headline %s %d", ticker, age, i)),
			Source:    "test",
		}, 24*time.Hour)
		require.NoError(t, err)
	}
}

func TestRecordDedupIdempotence(t *testing.T) {
	tr, es := newTestTracker(t)
	ctx := context.Background()

	res, err := tr.Record(ctx, "AAPL", "Apple Beats Q3 Estimates!", "http://a", "src1")
	require.NoError(t, err)
	assert.Equal(t, Accepted, res)

	// Same title modulo casing, punctuation and whitespace.
	res, err = tr.Record(ctx, "AAPL", "  apple   beats q3 estimates ", "http://b", "src2")
	require.NoError(t, err)
	assert.Equal(t, DuplicateRejected, res)

	count, err := es.CountSince(ctx, "AAPL", time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count, "duplicate must not be stored")
}

func TestRecordSameTitleDifferentTicker(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	res, err := tr.Record(ctx, "AAPL", "Chipmakers rally on AI demand", "http://a", "src")
	require.NoError(t, err)
	assert.Equal(t, Accepted, res)

	res, err = tr.Record(ctx, "NVDA", "Chipmakers rally on AI demand", "http://a", "src")
	require.NoError(t, err)
	assert.Equal(t, Accepted, res, "dedup is per ticker")
}

func TestTitleHashNormalization(t *testing.T) {
	assert.Equal(t, TitleHash("Apple Beats Q3!"), TitleHash("apple beats  q3"))
	assert.NotEqual(t, TitleHash("Apple beats Q3"), TitleHash("Apple misses Q3"))
}

func TestVelocityScoreLadder(t *testing.T) {
	// A huge baseline suppresses the sustained-coverage bonus so the
	// bracket scores come through unmodified.
	const quietBaseline = 500.0

	cases := []struct {
		name    string
		count1h int
		want    float64
	}{
		{"above 50", 60, 0.9},
		{"bracket 20-50", 25, 0.7},
		{"bracket 10-20", 15, 0.5},
		{"linear below 10", 3, 0.09},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr, es := newTestTracker(t)
			seed(t, es, "TSLA", tc.count1h, 30*time.Minute)

			r, err := tr.Velocity(context.Background(), "TSLA", quietBaseline)
			require.NoError(t, err)
			assert.InDelta(t, tc.want, r.Score, 1e-9)
			assert.False(t, r.Spike)
		})
	}
}

func TestVelocitySpikeBonus(t *testing.T) {
	tr, es := newTestTracker(t)
	// 15 articles in the last hour: 4h count is 15 and the 4h rate of
	// 3.75/hr is far above 3x the baseline hourly rate for baseline 5/day.
	seed(t, es, "PLTR", 15, 30*time.Minute)

	r, err := tr.Velocity(context.Background(), "PLTR", 5)
	require.NoError(t, err)
	assert.True(t, r.Spike)
	assert.InDelta(t, 0.7, r.Score, 1e-9, "0.5 bracket plus 0.2 bonus")
}

func TestVelocitySpikeClampedOnce(t *testing.T) {
	tr, es := newTestTracker(t)
	seed(t, es, "NVDA", 60, 30*time.Minute)

	r, err := tr.Velocity(context.Background(), "NVDA", 5)
	require.NoError(t, err)
	assert.True(t, r.Spike)
	assert.Equal(t, 1.0, r.Score, "0.9 plus 0.2 clamps to 1.0")
}

func TestVelocityConfidenceLadder(t *testing.T) {
	cases := []struct {
		count24h int
		want     float64
	}{
		{12, 0.70},
		{7, 0.60},
		{3, 0.50},
		{1, 0.40},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("count=%d", tc.count24h), func(t *testing.T) {
			tr, es := newTestTracker(t)
			// Outside the 1h window so the score ladder stays out of the way.
			seed(t, es, "AMD", tc.count24h, 6*time.Hour)

			r, err := tr.Velocity(context.Background(), "AMD", 500)
			require.NoError(t, err)
			assert.InDelta(t, tc.want, r.Confidence, 1e-9)
			assert.Equal(t, 0, r.Count1h)
			assert.Equal(t, tc.count24h, r.Count24h)
		})
	}
}

func TestVelocityNoData(t *testing.T) {
	tr, _ := newTestTracker(t)
	_, err := tr.Velocity(context.Background(), "GHOST", 5)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestLazyPurgeOnRecord(t *testing.T) {
	tr, es := newTestTracker(t)
	ctx := context.Background()

	// An event well past the 7 day retention window.
	require.NoError(t, es.Insert(ctx, store.ArticleEvent{
		Ticker:    "AAPL",
		Timestamp: time.Now().Add(-8 * 24 * time.Hour),
		TitleHash: TitleHash("ancient news"),
	}, 24*time.Hour))

	_, err := tr.Record(ctx, "AAPL", "fresh headline", "http://a", "src")
	require.NoError(t, err)

	count, err := es.CountSince(ctx, "AAPL", time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count, "expired event purged on write")
}

func TestSweepIdempotent(t *testing.T) {
	tr, es := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, es.Insert(ctx, store.ArticleEvent{
		Ticker:    "TSLA",
		Timestamp: time.Now().Add(-8 * 24 * time.Hour),
		TitleHash: TitleHash("stale"),
	}, 24*time.Hour))

	n, err := tr.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = tr.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "second sweep removes nothing")
}
