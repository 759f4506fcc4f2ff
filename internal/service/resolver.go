package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/mkarlsen/updown/internal/domain"
)

// SettlementConfig tunes outcome classification and settlement polling.
type SettlementConfig struct {
	// Threshold is the price a side must reach to be a confident winner.
	Threshold float64
	// MaxAttempts bounds settlement polling.
	MaxAttempts int
	// Interval is the wait between attempts. The first attempt fires
	// immediately.
	Interval time.Duration
}

// QuotePuller samples the current price pair for a market.
type QuotePuller interface {
	SamplePair(ctx context.Context, pair domain.TokenPair) (up, down *float64)
}

// SettlementLookup checks the authoritative market record during polling.
type SettlementLookup interface {
	LookupSlug(ctx context.Context, slug string) (domain.MarketInfo, error)
}

// Resolver classifies window outcomes from price pairs and polls markets
// until they settle.
type Resolver struct {
	directory SettlementLookup
	quotes    QuotePuller
	cfg       SettlementConfig
	logger    *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(directory SettlementLookup, quotes QuotePuller, cfg SettlementConfig, logger *slog.Logger) *Resolver {
	return &Resolver{
		directory: directory,
		quotes:    quotes,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "resolver")),
	}
}

// Classify maps a price pair to an outcome. A missing side is inferred as
// the complement of the other. A side at or above the threshold wins
// confidently; otherwise the larger side wins without confidence, and a
// fully absent pair is unknown.
func (r *Resolver) Classify(up, down *float64) (domain.Outcome, bool) {
	switch {
	case up == nil && down == nil:
		return domain.OutcomeUnknown, false
	case up == nil:
		up = complement(*down)
	case down == nil:
		down = complement(*up)
	}

	if *up >= r.cfg.Threshold {
		return domain.OutcomeUp, true
	}
	if *down >= r.cfg.Threshold {
		return domain.OutcomeDown, true
	}
	if *up >= *down {
		return domain.OutcomeUp, false
	}
	return domain.OutcomeDown, false
}

// PollForSettlement polls a market after its resolution time until a
// confident outcome emerges or the attempts are used up. Each attempt
// consults the authoritative market record first; a closed market with a
// declared winner ends polling immediately. Exhaustion returns the last
// tentative outcome with confident=false.
func (r *Resolver) PollForSettlement(ctx context.Context, pair domain.TokenPair, slug string) (domain.Outcome, bool) {
	last := domain.OutcomeUnknown

	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return last, false
			case <-time.After(r.cfg.Interval):
			}
		}

		if slug != "" {
			info, err := r.directory.LookupSlug(ctx, slug)
			if err == nil && info.Closed && info.WinnerHint != domain.OutcomeUnknown {
				r.logger.InfoContext(ctx, "market settled",
					slog.String("slug", slug),
					slog.String("winner", string(info.WinnerHint)),
					slog.Int("attempt", attempt+1),
				)
				return info.WinnerHint, true
			}
		}

		up, down := r.quotes.SamplePair(ctx, pair)
		outcome, confident := r.Classify(up, down)
		if confident {
			r.logger.InfoContext(ctx, "outcome resolved from prices",
				slog.String("slug", slug),
				slog.String("outcome", string(outcome)),
				slog.Int("attempt", attempt+1),
			)
			return outcome, true
		}
		if outcome != domain.OutcomeUnknown {
			last = outcome
		}
	}

	r.logger.WarnContext(ctx, "settlement polling exhausted",
		slog.String("slug", slug),
		slog.String("tentative", string(last)),
	)
	return last, false
}
