package service

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mkarlsen/updown/internal/domain"
)

// Push prices outside these bounds are stuck-book noise and are dropped.
const (
	pushNoiseFloor = 0.0005
	pushNoiseCeil  = 0.9999
)

// MidpointClient is the pull-side quote source.
type MidpointClient interface {
	Midpoint(ctx context.Context, tokenID string) (float64, error)
}

// QuotesConfig tunes quote acquisition.
type QuotesConfig struct {
	// SumTolerance bounds |up + down - 1| before a sampled pair is
	// discarded as inconsistent.
	SumTolerance float64
	// PullTimeout caps each midpoint request so a slow REST endpoint
	// cannot stall the sampling loop.
	PullTimeout time.Duration
}

// Quotes combines a push-fed price cache with pull fallback. Pushed prices
// are tagged with a generation so that callbacks left over from a previous
// window cannot leak into the current one.
type Quotes struct {
	clob   MidpointClient
	mirror domain.QuoteCache
	cfg    QuotesConfig
	logger *slog.Logger

	mu     sync.RWMutex
	gen    uint64
	latest map[string]float64
}

// NewQuotes creates a quote source. mirror may be nil when no external
// cache is configured.
func NewQuotes(clob MidpointClient, mirror domain.QuoteCache, cfg QuotesConfig, logger *slog.Logger) *Quotes {
	return &Quotes{
		clob:   clob,
		mirror: mirror,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "quotes")),
		latest: make(map[string]float64),
	}
}

// Rearm clears the push cache and advances the generation. It returns the
// new generation, which feeders must pass back on every Push.
func (q *Quotes) Rearm() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.gen++
	q.latest = make(map[string]float64)
	return q.gen
}

// Generation returns the current generation.
func (q *Quotes) Generation() uint64 {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.gen
}

// Push records a streamed price. Pushes carrying a stale generation or a
// price outside the noise bounds are dropped.
func (q *Quotes) Push(gen uint64, tokenID string, price float64) {
	if price <= pushNoiseFloor || price >= pushNoiseCeil {
		return
	}

	q.mu.Lock()
	if gen != q.gen {
		q.mu.Unlock()
		return
	}
	q.latest[tokenID] = price
	q.mu.Unlock()

	if q.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		if err := q.mirror.SetQuote(ctx, tokenID, price, time.Now()); err != nil {
			q.logger.Debug("quote mirror write failed", slog.String("error", err.Error()))
		}
	}
}

// Latest returns the pushed price for a token, if one has arrived this
// generation.
func (q *Quotes) Latest(tokenID string) (float64, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	p, ok := q.latest[tokenID]
	return p, ok
}

// SamplePair produces the current up/down price pair. Push prices win when
// present; otherwise each side falls back to a midpoint pull. The two sides
// are fetched concurrently so a tick never blocks for more than one pull
// timeout. A side that fails both paths is nil. When exactly one side is
// known the other is filled with its complement; when both are known but
// their sum drifts past the tolerance the pair is discarded.
func (q *Quotes) SamplePair(ctx context.Context, pair domain.TokenPair) (up, down *float64) {
	var g errgroup.Group
	g.Go(func() error {
		up = q.side(ctx, pair.UpTokenID)
		return nil
	})
	g.Go(func() error {
		down = q.side(ctx, pair.DownTokenID)
		return nil
	})
	_ = g.Wait()

	switch {
	case up != nil && down == nil:
		down = complement(*up)
	case up == nil && down != nil:
		up = complement(*down)
	case up != nil && down != nil:
		if err := q.checkPair(*up, *down); err != nil {
			q.logger.Debug("discarding sample",
				slog.Float64("up", *up),
				slog.Float64("down", *down),
				slog.String("error", err.Error()),
			)
			return nil, nil
		}
	}
	return up, down
}

// checkPair validates that a fully-known pair sums to approximately 1,
// returning domain.ErrInconsistentQuote when it drifts past the tolerance.
func (q *Quotes) checkPair(up, down float64) error {
	if math.Abs(up+down-1) > q.cfg.SumTolerance {
		return domain.ErrInconsistentQuote
	}
	return nil
}

func (q *Quotes) side(ctx context.Context, tokenID string) *float64 {
	if tokenID == "" {
		return nil
	}
	if p, ok := q.Latest(tokenID); ok {
		return &p
	}

	pullCtx := ctx
	if q.cfg.PullTimeout > 0 {
		var cancel context.CancelFunc
		pullCtx, cancel = context.WithTimeout(ctx, q.cfg.PullTimeout)
		defer cancel()
	}
	p, err := q.clob.Midpoint(pullCtx, tokenID)
	if err != nil {
		return nil
	}
	return &p
}

func complement(p float64) *float64 {
	c := math.Round((1-p)*10000) / 10000
	return &c
}
