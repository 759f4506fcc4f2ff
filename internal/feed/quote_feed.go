// Package feed maintains the streaming quote subscription for the window
// currently being tracked.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mkarlsen/updown/internal/domain"
	"github.com/mkarlsen/updown/internal/platform/polymarket"
)

// QuoteSink receives streamed prices. Rearm fences off pushes from any
// previous subscription.
type QuoteSink interface {
	Rearm() uint64
	Push(gen uint64, tokenID string, price float64)
}

// streamClient is the websocket surface the feed drives.
type streamClient interface {
	OnQuote(polymarket.QuoteHandler)
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, assetIDs []string) error
	Done() <-chan struct{}
	Close() error
}

// Feed runs one websocket subscription per tracked window and reconnects
// with a fixed delay while the window is live. Stopping the feed disables
// reconnection before the connection is torn down, so a close observed by
// the read loop after Stop never respawns a dial.
type Feed struct {
	dial   func() streamClient
	sink   QuoteSink
	delay  time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	live   bool
	client streamClient
	wg     sync.WaitGroup
}

// New creates a feed dialing the given websocket host.
func New(wsURL string, sink QuoteSink, reconnectDelay time.Duration, logger *slog.Logger) *Feed {
	return &Feed{
		dial:   func() streamClient { return polymarket.NewWSClient(wsURL) },
		sink:   sink,
		delay:  reconnectDelay,
		logger: logger.With(slog.String("component", "feed")),
	}
}

// Start rearms the sink and begins streaming quotes for the pair. It
// returns the generation guarding this subscription. Any previous
// subscription is stopped first.
func (f *Feed) Start(ctx context.Context, pair domain.TokenPair) uint64 {
	f.Stop()

	gen := f.sink.Rearm()

	f.mu.Lock()
	f.live = true
	f.mu.Unlock()

	f.wg.Add(1)
	go f.run(ctx, pair, gen)
	return gen
}

// Stop disables reconnection and closes the active connection, then waits
// for the streaming loop to exit.
func (f *Feed) Stop() {
	f.mu.Lock()
	f.live = false
	client := f.client
	f.client = nil
	f.mu.Unlock()

	if client != nil {
		_ = client.Close()
	}
	f.wg.Wait()
}

func (f *Feed) isLive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live
}

func (f *Feed) run(ctx context.Context, pair domain.TokenPair, gen uint64) {
	defer f.wg.Done()

	for f.isLive() && ctx.Err() == nil {
		client := f.dial()
		client.OnQuote(func(assetID string, price float64) {
			f.sink.Push(gen, assetID, price)
		})

		if err := f.connect(ctx, client, pair); err != nil {
			f.logger.Warn("stream connect failed",
				slog.String("error", err.Error()),
			)
			if !f.wait(ctx) {
				return
			}
			continue
		}

		f.mu.Lock()
		if !f.live {
			f.mu.Unlock()
			_ = client.Close()
			return
		}
		f.client = client
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			_ = client.Close()
			return
		case <-client.Done():
		}

		f.mu.Lock()
		if f.client == client {
			f.client = nil
		}
		f.mu.Unlock()

		if !f.isLive() {
			return
		}
		f.logger.Warn("stream dropped, reconnecting")
		if !f.wait(ctx) {
			return
		}
	}
}

func (f *Feed) connect(ctx context.Context, client streamClient, pair domain.TokenPair) error {
	if err := client.Connect(ctx); err != nil {
		return err
	}
	if err := client.Subscribe(ctx, pair.IDs()); err != nil {
		_ = client.Close()
		return err
	}
	return nil
}

func (f *Feed) wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(f.delay):
		return f.isLive()
	}
}
