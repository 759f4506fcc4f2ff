package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkarlsen/updown/internal/domain"
)

type midpointFunc func(ctx context.Context, tokenID string) (float64, error)

func (f midpointFunc) Midpoint(ctx context.Context, tokenID string) (float64, error) {
	return f(ctx, tokenID)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noPull(t *testing.T) midpointFunc {
	return func(ctx context.Context, tokenID string) (float64, error) {
		t.Helper()
		t.Fatalf("unexpected pull for %s", tokenID)
		return 0, nil
	}
}

func failingPull() midpointFunc {
	return func(ctx context.Context, tokenID string) (float64, error) {
		return 0, domain.ErrNoData
	}
}

var testPair = domain.TokenPair{UpTokenID: "up-tok", DownTokenID: "down-tok"}

func newTestQuotes(clob MidpointClient) *Quotes {
	return NewQuotes(clob, nil, QuotesConfig{
		SumTolerance: 0.15,
		PullTimeout:  time.Second,
	}, discardLogger())
}

func TestQuotesPushThenSample(t *testing.T) {
	q := newTestQuotes(noPull(t))
	gen := q.Rearm()

	q.Push(gen, "up-tok", 0.62)
	q.Push(gen, "down-tok", 0.38)

	up, down := q.SamplePair(context.Background(), testPair)
	require.NotNil(t, up)
	require.NotNil(t, down)
	assert.Equal(t, 0.62, *up)
	assert.Equal(t, 0.38, *down)
}

func TestQuotesStaleGenerationDropped(t *testing.T) {
	q := newTestQuotes(failingPull())
	old := q.Rearm()
	q.Rearm()

	q.Push(old, "up-tok", 0.62)

	_, ok := q.Latest("up-tok")
	assert.False(t, ok, "stale-generation push must not land")
}

func TestQuotesRearmClearsCache(t *testing.T) {
	q := newTestQuotes(failingPull())
	gen := q.Rearm()
	q.Push(gen, "up-tok", 0.62)

	q.Rearm()

	_, ok := q.Latest("up-tok")
	assert.False(t, ok)
}

func TestQuotesNoiseBounds(t *testing.T) {
	q := newTestQuotes(failingPull())
	gen := q.Rearm()

	for _, p := range []float64{0.0005, 0.0001, 0.9999, 1.0, 0} {
		q.Push(gen, "up-tok", p)
		_, ok := q.Latest("up-tok")
		assert.False(t, ok, "price %v should be filtered", p)
	}

	q.Push(gen, "up-tok", 0.0006)
	got, ok := q.Latest("up-tok")
	require.True(t, ok)
	assert.Equal(t, 0.0006, got)
}

func TestQuotesPullFallback(t *testing.T) {
	prices := map[string]float64{"up-tok": 0.71, "down-tok": 0.29}
	q := newTestQuotes(midpointFunc(func(ctx context.Context, tokenID string) (float64, error) {
		p, ok := prices[tokenID]
		if !ok {
			return 0, errors.New("unknown token")
		}
		return p, nil
	}))
	q.Rearm()

	up, down := q.SamplePair(context.Background(), testPair)
	require.NotNil(t, up)
	require.NotNil(t, down)
	assert.Equal(t, 0.71, *up)
	assert.Equal(t, 0.29, *down)
}

func TestQuotesPushPreferredOverPull(t *testing.T) {
	q := newTestQuotes(midpointFunc(func(ctx context.Context, tokenID string) (float64, error) {
		if tokenID == "down-tok" {
			return 0.40, nil
		}
		t.Fatalf("unexpected pull for %s", tokenID)
		return 0, nil
	}))
	gen := q.Rearm()
	q.Push(gen, "up-tok", 0.58)

	up, down := q.SamplePair(context.Background(), testPair)
	require.NotNil(t, up)
	require.NotNil(t, down)
	assert.Equal(t, 0.58, *up)
	assert.Equal(t, 0.40, *down)
}

func TestQuotesComplementaryFill(t *testing.T) {
	q := newTestQuotes(midpointFunc(func(ctx context.Context, tokenID string) (float64, error) {
		if tokenID == "up-tok" {
			return 0.9731, nil
		}
		return 0, domain.ErrNoData
	}))
	q.Rearm()

	up, down := q.SamplePair(context.Background(), testPair)
	require.NotNil(t, up)
	require.NotNil(t, down)
	assert.Equal(t, 0.9731, *up)
	assert.Equal(t, 0.0269, *down, "missing side is the 4dp complement")
}

func TestQuotesSumToleranceDiscard(t *testing.T) {
	q := newTestQuotes(failingPull())
	gen := q.Rearm()
	q.Push(gen, "up-tok", 0.80)
	q.Push(gen, "down-tok", 0.40)

	up, down := q.SamplePair(context.Background(), testPair)
	assert.Nil(t, up)
	assert.Nil(t, down)

	assert.ErrorIs(t, q.checkPair(0.80, 0.40), domain.ErrInconsistentQuote)
	assert.NoError(t, q.checkPair(0.60, 0.38))
}

func TestQuotesBothSidesMissing(t *testing.T) {
	q := newTestQuotes(failingPull())
	q.Rearm()

	up, down := q.SamplePair(context.Background(), testPair)
	assert.Nil(t, up)
	assert.Nil(t, down)
}

func TestQuotesPullsSidesConcurrently(t *testing.T) {
	// Each pull blocks until the other side's pull has also started. A
	// sequential implementation times out the first pull before the second
	// begins and falls back to complement fill, losing the real up price.
	var started sync.WaitGroup
	started.Add(2)
	both := make(chan struct{})
	go func() {
		started.Wait()
		close(both)
	}()

	barrier := func(ctx context.Context, tokenID string) (float64, error) {
		started.Done()
		select {
		case <-both:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		if tokenID == "up-tok" {
			return 0.70, nil
		}
		return 0.25, nil
	}

	q := newTestQuotes(midpointFunc(barrier))
	q.Rearm()

	up, down := q.SamplePair(context.Background(), testPair)
	require.NotNil(t, up)
	require.NotNil(t, down)
	assert.Equal(t, 0.70, *up)
	assert.Equal(t, 0.25, *down)
}
