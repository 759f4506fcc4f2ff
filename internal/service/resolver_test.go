package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkarlsen/updown/internal/domain"
)

type scriptedPuller struct {
	pairs [][2]*float64
	calls int
}

func (s *scriptedPuller) SamplePair(ctx context.Context, pair domain.TokenPair) (*float64, *float64) {
	i := s.calls
	if i >= len(s.pairs) {
		i = len(s.pairs) - 1
	}
	s.calls++
	return s.pairs[i][0], s.pairs[i][1]
}

type scriptedLookup struct {
	infos []domain.MarketInfo
	err   error
	calls int
}

func (s *scriptedLookup) LookupSlug(ctx context.Context, slug string) (domain.MarketInfo, error) {
	i := s.calls
	s.calls++
	if s.err != nil {
		return domain.MarketInfo{}, s.err
	}
	if len(s.infos) == 0 {
		return domain.MarketInfo{Slug: slug}, nil
	}
	if i >= len(s.infos) {
		i = len(s.infos) - 1
	}
	return s.infos[i], nil
}

func f(v float64) *float64 { return &v }

func newTestResolver(lookup SettlementLookup, quotes QuotePuller, attempts int) *Resolver {
	return NewResolver(lookup, quotes, SettlementConfig{
		Threshold:   0.90,
		MaxAttempts: attempts,
		Interval:    time.Millisecond,
	}, discardLogger())
}

func TestClassify(t *testing.T) {
	r := newTestResolver(&scriptedLookup{}, &scriptedPuller{}, 1)

	tests := []struct {
		name      string
		up, down  *float64
		outcome   domain.Outcome
		confident bool
	}{
		{"up confident", f(0.97), f(0.03), domain.OutcomeUp, true},
		{"down confident", f(0.04), f(0.96), domain.OutcomeDown, true},
		{"at threshold", f(0.90), f(0.10), domain.OutcomeUp, true},
		{"up tentative", f(0.70), f(0.30), domain.OutcomeUp, false},
		{"down tentative", f(0.35), f(0.65), domain.OutcomeDown, false},
		{"both missing", nil, nil, domain.OutcomeUnknown, false},
		{"up only confident", f(0.97), nil, domain.OutcomeUp, true},
		{"down only confident", nil, f(0.02), domain.OutcomeUp, true},
		{"up only tentative", f(0.60), nil, domain.OutcomeUp, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, confident := r.Classify(tt.up, tt.down)
			assert.Equal(t, tt.outcome, outcome)
			assert.Equal(t, tt.confident, confident)
		})
	}
}

func TestClassifyComplementEquivalence(t *testing.T) {
	r := newTestResolver(&scriptedLookup{}, &scriptedPuller{}, 1)

	full, fullConf := r.Classify(f(0.97), f(0.03))
	partial, partialConf := r.Classify(f(0.97), nil)

	assert.Equal(t, full, partial)
	assert.Equal(t, fullConf, partialConf)
}

func TestPollStopsOnConfidentSample(t *testing.T) {
	puller := &scriptedPuller{pairs: [][2]*float64{
		{f(0.60), f(0.40)},
		{f(0.55), f(0.45)},
		{f(0.95), f(0.05)},
	}}
	r := newTestResolver(&scriptedLookup{}, puller, 6)

	outcome, confident := r.PollForSettlement(context.Background(), testPair, "slug-x")

	assert.Equal(t, domain.OutcomeUp, outcome)
	assert.True(t, confident)
	assert.Equal(t, 3, puller.calls, "polling must stop at the first confident read")
}

func TestPollExhaustionReturnsTentative(t *testing.T) {
	puller := &scriptedPuller{pairs: [][2]*float64{{f(0.60), f(0.40)}}}
	r := newTestResolver(&scriptedLookup{}, puller, 3)

	outcome, confident := r.PollForSettlement(context.Background(), testPair, "slug-x")

	assert.Equal(t, domain.OutcomeUp, outcome)
	assert.False(t, confident)
	assert.Equal(t, 3, puller.calls)
}

func TestPollAuthoritativeWinnerShortCircuits(t *testing.T) {
	puller := &scriptedPuller{pairs: [][2]*float64{{f(0.50), f(0.50)}}}
	lookup := &scriptedLookup{infos: []domain.MarketInfo{{
		Slug:       "slug-x",
		Closed:     true,
		WinnerHint: domain.OutcomeDown,
	}}}
	r := newTestResolver(lookup, puller, 6)

	outcome, confident := r.PollForSettlement(context.Background(), testPair, "slug-x")

	assert.Equal(t, domain.OutcomeDown, outcome)
	assert.True(t, confident)
	assert.Zero(t, puller.calls, "declared winner makes price sampling unnecessary")
}

func TestPollLookupErrorFallsBackToPrices(t *testing.T) {
	puller := &scriptedPuller{pairs: [][2]*float64{{f(0.93), f(0.07)}}}
	lookup := &scriptedLookup{err: domain.ErrNotFound}
	r := newTestResolver(lookup, puller, 2)

	outcome, confident := r.PollForSettlement(context.Background(), testPair, "slug-x")

	assert.Equal(t, domain.OutcomeUp, outcome)
	assert.True(t, confident)
}

func TestPollCancelledContext(t *testing.T) {
	puller := &scriptedPuller{pairs: [][2]*float64{{f(0.60), f(0.40)}}}
	r := newTestResolver(&scriptedLookup{}, puller, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcome, confident := r.PollForSettlement(ctx, testPair, "slug-x")

	require.False(t, confident)
	assert.Equal(t, domain.OutcomeUp, outcome, "first attempt runs before the cancel check")
	assert.Equal(t, 1, puller.calls)
}
