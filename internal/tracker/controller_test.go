package tracker

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
	"github.com/mkarlsen/updown/internal/window"
)

const windowStart = int64(1700000100) // aligned to a 300s boundary

type fakeClock struct {
	mu sync.Mutex
	t  int64
}

func (f *fakeClock) now() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) advance(d int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t += d
}

type fakeMarkets struct {
	mu      sync.Mutex
	markets map[domain.WindowID]domain.MarketInfo
	errs    map[domain.WindowID]error
}

func (f *fakeMarkets) Lookup(ctx context.Context, id domain.WindowID) (domain.MarketInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[id]; ok {
		return domain.MarketInfo{}, err
	}
	if info, ok := f.markets[id]; ok {
		return info, nil
	}
	return domain.MarketInfo{}, domain.ErrNotFound
}

// fakeSampler returns a fixed pair and moves the fake clock forward on
// every sample, so each tick lands on the next observation boundary.
type fakeSampler struct {
	clk      *fakeClock
	step     int64
	up, down float64
	noData   bool

	mu    sync.Mutex
	calls int
}

func (f *fakeSampler) SamplePair(ctx context.Context, pair domain.TokenPair) (*float64, *float64) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	f.clk.advance(f.step)
	if f.noData {
		return nil, nil
	}
	u, d := f.up, f.down
	return &u, &d
}

func (f *fakeSampler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeResolver struct {
	outcome   domain.Outcome
	confident bool

	mu    sync.Mutex
	calls int
}

func (f *fakeResolver) PollForSettlement(ctx context.Context, pair domain.TokenPair, slug string) (domain.Outcome, bool) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.outcome, f.confident
}

type fakeFeed struct {
	mu     sync.Mutex
	starts int
	stops  int
}

func (f *fakeFeed) Start(ctx context.Context, pair domain.TokenPair) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return uint64(f.starts)
}

func (f *fakeFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeFeed) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

type fakeSink struct {
	mu   sync.Mutex
	recs []domain.ObservationRecord
}

func (f *fakeSink) Upsert(ctx context.Context, rec domain.ObservationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recs)
}

func (f *fakeSink) first() domain.ObservationRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recs[0]
}

type controllerFixture struct {
	clk      *fakeClock
	markets  *fakeMarkets
	sampler  *fakeSampler
	resolver *fakeResolver
	feed     *fakeFeed
	sink     *fakeSink
	ctrl     *Controller
}

func newFixture(t *testing.T) *controllerFixture {
	t.Helper()
	clk := &fakeClock{t: windowStart}
	fx := &controllerFixture{
		clk:      clk,
		markets:  &fakeMarkets{markets: map[domain.WindowID]domain.MarketInfo{}, errs: map[domain.WindowID]error{}},
		sampler:  &fakeSampler{clk: clk, step: 60, up: 0.62, down: 0.38},
		resolver: &fakeResolver{outcome: domain.OutcomeUp, confident: true},
		feed:     &fakeFeed{},
		sink:     &fakeSink{},
	}
	clock := window.New(300, "btc-up-or-down-in-5-minutes")
	fx.ctrl = New(clock, fx.markets, fx.sampler, fx.resolver, fx.feed, fx.sink, nil, Config{
		SampleInterval:    time.Millisecond,
		CountdownInterval: time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	fx.ctrl.now = clk.now
	return fx
}

func (fx *controllerFixture) run(t *testing.T) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = fx.ctrl.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("controller did not stop")
		}
	})
	return cancel
}

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

func openMarket(id domain.WindowID, slug string) domain.MarketInfo {
	return domain.MarketInfo{
		Slug:     slug,
		Question: "Bitcoin Up or Down",
		Tokens:   domain.TokenPair{UpTokenID: "up-tok", DownTokenID: "down-tok"},
	}
}

func TestControllerFullWindow(t *testing.T) {
	fx := newFixture(t)
	id := domain.WindowID(windowStart)
	slug := "btc-up-or-down-in-5-minutes-1700000100"
	fx.markets.markets[id] = openMarket(id, slug)
	// First tick lands one observation interval in.
	fx.clk.t = windowStart + 60

	fx.run(t)
	waitFor(t, func() bool { return fx.sink.count() == 1 })

	rec := fx.sink.first()
	assert.Equal(t, id, rec.WindowID)
	assert.Equal(t, slug, rec.Slug)
	assert.Equal(t, windowStart+300, rec.ResolutionTime)
	assert.Equal(t, domain.OutcomeUp, rec.Outcome)
	assert.True(t, rec.Confident)
	assert.NotZero(t, rec.SavedAt)

	require.Len(t, rec.PriceHistory, 5)
	for i, want := range []int64{60, 120, 180, 240, 300} {
		assert.Equal(t, want, rec.PriceHistory[i].ElapsedSeconds)
		require.NotNil(t, rec.PriceHistory[i].Up)
		assert.Equal(t, 0.62, *rec.PriceHistory[i].Up)
	}
	assert.Equal(t, 1, fx.feed.startCount())
}

func TestControllerRecordsNullPointsWhenQuotesFail(t *testing.T) {
	fx := newFixture(t)
	id := domain.WindowID(windowStart)
	fx.markets.markets[id] = openMarket(id, "btc-up-or-down-in-5-minutes-1700000100")
	fx.sampler.noData = true
	fx.resolver.outcome = domain.OutcomeUnknown
	fx.resolver.confident = false
	fx.clk.t = windowStart + 60

	fx.run(t)
	waitFor(t, func() bool { return fx.sink.count() == 1 })

	// Every tick keeps its place in the series even when both quote paths
	// fail, as a point with null prices.
	rec := fx.sink.first()
	require.Len(t, rec.PriceHistory, 5)
	for i, want := range []int64{60, 120, 180, 240, 300} {
		assert.Equal(t, want, rec.PriceHistory[i].ElapsedSeconds)
		assert.Nil(t, rec.PriceHistory[i].Up)
		assert.Nil(t, rec.PriceHistory[i].Down)
	}
	assert.Equal(t, domain.OutcomeUnknown, rec.Outcome)
	assert.False(t, rec.Confident)
}

func TestControllerMarketNotFound(t *testing.T) {
	fx := newFixture(t)

	fx.run(t)
	waitFor(t, func() bool { return fx.ctrl.Status().State == StateError })

	assert.Zero(t, fx.sink.count(), "a missing market must not produce a record")
	assert.Zero(t, fx.sampler.count())
	assert.Zero(t, fx.feed.startCount())
}

func TestControllerClosedMarketFastPath(t *testing.T) {
	fx := newFixture(t)
	id := domain.WindowID(windowStart)
	info := openMarket(id, "btc-up-or-down-in-5-minutes-1700000100")
	info.Closed = true
	info.WinnerHint = domain.OutcomeDown
	fx.markets.markets[id] = info
	fx.resolver.outcome = domain.OutcomeDown

	fx.run(t)
	waitFor(t, func() bool { return fx.sink.count() == 1 })

	rec := fx.sink.first()
	assert.Equal(t, domain.OutcomeDown, rec.Outcome)
	assert.Empty(t, rec.PriceHistory)
	assert.Zero(t, fx.feed.startCount(), "closed markets are not streamed")
	assert.Zero(t, fx.sampler.count())
}

func TestControllerSaveIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	id := domain.WindowID(windowStart)
	info := openMarket(id, "btc-up-or-down-in-5-minutes-1700000100")
	info.Closed = true
	info.WinnerHint = domain.OutcomeUp
	fx.markets.markets[id] = info

	fx.run(t)
	waitFor(t, func() bool { return fx.sink.count() == 1 })

	// Re-track the same window; the second resolution must not produce a
	// second record.
	require.NoError(t, fx.ctrl.Track(id))
	waitFor(t, func() bool {
		fx.resolver.mu.Lock()
		defer fx.resolver.mu.Unlock()
		return fx.resolver.calls >= 2
	})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, fx.sink.count())
}

func TestControllerRolloverDoesNotSkipWindows(t *testing.T) {
	fx := newFixture(t)
	first := domain.WindowID(windowStart)
	second := domain.WindowID(windowStart + 300)

	firstInfo := openMarket(first, "btc-up-or-down-in-5-minutes-1700000100")
	firstInfo.Closed = true
	firstInfo.WinnerHint = domain.OutcomeDown
	fx.markets.markets[first] = firstInfo

	secondInfo := openMarket(second, "btc-up-or-down-in-5-minutes-1700000400")
	secondInfo.Closed = true
	secondInfo.WinnerHint = domain.OutcomeUp
	fx.markets.markets[second] = secondInfo

	// The wall clock is already two windows past the first one, as after a
	// long pause. Rollover must still visit the immediate successor rather
	// than jumping to the wall-clock window.
	fx.clk.t = windowStart + 700
	require.NoError(t, fx.ctrl.Track(first))

	fx.run(t)
	waitFor(t, func() bool { return fx.sink.count() == 2 })

	fx.sink.mu.Lock()
	defer fx.sink.mu.Unlock()
	assert.Equal(t, first, fx.sink.recs[0].WindowID)
	assert.Equal(t, second, fx.sink.recs[1].WindowID)
}

func TestControllerManualSwitchAbandonsWindow(t *testing.T) {
	fx := newFixture(t)
	current := domain.WindowID(windowStart)
	other := domain.WindowID(windowStart - 600)
	fx.markets.markets[current] = openMarket(current, "btc-up-or-down-in-5-minutes-1700000100")
	otherInfo := openMarket(other, "btc-up-or-down-in-5-minutes-1699999500")
	otherInfo.Closed = true
	otherInfo.WinnerHint = domain.OutcomeDown
	fx.markets.markets[other] = otherInfo
	fx.resolver.outcome = domain.OutcomeDown
	// Freeze time so the current window never expires on its own.
	fx.sampler.step = 0

	fx.run(t)
	waitFor(t, func() bool { return fx.ctrl.Status().State == StateTracking })

	require.NoError(t, fx.ctrl.Track(other))
	waitFor(t, func() bool { return fx.sink.count() == 1 })

	rec := fx.sink.first()
	assert.Equal(t, other, rec.WindowID, "the abandoned window must not be saved")
	assert.Empty(t, rec.PriceHistory)
}

func TestControllerTrackRejectsSecondPendingSwitch(t *testing.T) {
	fx := newFixture(t)

	require.NoError(t, fx.ctrl.Track(domain.WindowID(windowStart)))
	assert.Error(t, fx.ctrl.Track(domain.WindowID(windowStart)))
}
