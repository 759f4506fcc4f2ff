package feed

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkarlsen/updown/internal/domain"
	"github.com/mkarlsen/updown/internal/platform/polymarket"
)

type recordingSink struct {
	mu     sync.Mutex
	gen    uint64
	pushes []struct {
		gen   uint64
		token string
		price float64
	}
}

func (s *recordingSink) Rearm() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	return s.gen
}

func (s *recordingSink) Push(gen uint64, tokenID string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushes = append(s.pushes, struct {
		gen   uint64
		token string
		price float64
	}{gen, tokenID, price})
}

type fakeStream struct {
	mu         sync.Mutex
	handler    polymarket.QuoteHandler
	done       chan struct{}
	closeOnce  sync.Once
	subscribed []string
}

func newFakeStream() *fakeStream {
	return &fakeStream{done: make(chan struct{})}
}

func (f *fakeStream) OnQuote(h polymarket.QuoteHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeStream) Connect(ctx context.Context) error { return nil }

func (f *fakeStream) Subscribe(ctx context.Context, assetIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = assetIDs
	return nil
}

func (f *fakeStream) Done() <-chan struct{} { return f.done }

func (f *fakeStream) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

func (f *fakeStream) emit(assetID string, price float64) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(assetID, price)
	}
}

type streamFactory struct {
	mu      sync.Mutex
	streams []*fakeStream
}

func (sf *streamFactory) dial() streamClient {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	s := newFakeStream()
	sf.streams = append(sf.streams, s)
	return s
}

func (sf *streamFactory) count() int {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return len(sf.streams)
}

func (sf *streamFactory) last() *fakeStream {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.streams[len(sf.streams)-1]
}

func newTestFeed(sink QuoteSink, sf *streamFactory) *Feed {
	f := New("ws://unused", sink, 5*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.dial = sf.dial
	return f
}

var pair = domain.TokenPair{UpTokenID: "up-tok", DownTokenID: "down-tok"}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestFeedStreamsIntoSink(t *testing.T) {
	sink := &recordingSink{}
	sf := &streamFactory{}
	f := newTestFeed(sink, sf)
	defer f.Stop()

	gen := f.Start(context.Background(), pair)
	waitFor(t, func() bool { return sf.count() == 1 })

	stream := sf.last()
	waitFor(t, func() bool {
		stream.mu.Lock()
		defer stream.mu.Unlock()
		return len(stream.subscribed) == 2
	})
	stream.emit("up-tok", 0.55)

	waitFor(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.pushes) == 1
	})
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, gen, sink.pushes[0].gen)
	assert.Equal(t, "up-tok", sink.pushes[0].token)
	assert.Equal(t, 0.55, sink.pushes[0].price)
}

func TestFeedReconnectsWhileLive(t *testing.T) {
	sink := &recordingSink{}
	sf := &streamFactory{}
	f := newTestFeed(sink, sf)
	defer f.Stop()

	f.Start(context.Background(), pair)
	waitFor(t, func() bool { return sf.count() == 1 })

	sf.last().Close()
	waitFor(t, func() bool { return sf.count() == 2 })
}

func TestFeedStopSuppressesReconnect(t *testing.T) {
	sink := &recordingSink{}
	sf := &streamFactory{}
	f := newTestFeed(sink, sf)

	f.Start(context.Background(), pair)
	waitFor(t, func() bool { return sf.count() == 1 })

	f.Stop()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, sf.count(), "a stopped feed must not redial")
}

func TestFeedRestartBumpsGeneration(t *testing.T) {
	sink := &recordingSink{}
	sf := &streamFactory{}
	f := newTestFeed(sink, sf)
	defer f.Stop()

	first := f.Start(context.Background(), pair)
	waitFor(t, func() bool { return sf.count() == 1 })
	second := f.Start(context.Background(), pair)

	require.Greater(t, second, first)
	waitFor(t, func() bool { return sf.count() >= 2 })
}
