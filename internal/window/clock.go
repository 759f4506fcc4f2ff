// Package window computes market window boundaries from wall-clock time.
// All functions are pure; the Clock carries only the pinned period and slug
// prefix, which have changed between market generations and therefore live
// in configuration rather than as literals.
package window

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mkarlsen/updown/internal/domain"
)

// Clock derives window identifiers and elapsed/remaining time for a
// recurring fixed-period market.
type Clock struct {
	period int64
	prefix string
}

// New creates a Clock for the given period in seconds and slug prefix.
func New(periodSeconds int64, slugPrefix string) Clock {
	return Clock{period: periodSeconds, prefix: slugPrefix}
}

// Period returns the window length in seconds.
func (c Clock) Period() int64 { return c.period }

// CurrentWindowID returns the start boundary of the window active at now.
// A now exactly on a boundary belongs to the fresh window, which has the
// full period remaining, so the tracker never starts on a window that is
// about to expire.
func (c Clock) CurrentWindowID(now int64) (domain.WindowID, error) {
	if now < 0 {
		return 0, fmt.Errorf("window: negative timestamp %d", now)
	}
	return domain.WindowID((now / c.period) * c.period), nil
}

// RemainingSeconds returns how many seconds of the window are left at now,
// clamped at zero.
func (c Clock) RemainingSeconds(id domain.WindowID, now int64) int64 {
	rem := id.Unix() + c.period - now
	if rem < 0 {
		return 0
	}
	return rem
}

// ElapsedSeconds returns how many seconds of the window have passed at now,
// clamped to the period.
func (c Clock) ElapsedSeconds(id domain.WindowID, now int64) int64 {
	return c.period - c.RemainingSeconds(id, now)
}

// ResolutionTime returns the Unix timestamp at which the window settles.
func (c Clock) ResolutionTime(id domain.WindowID) int64 {
	return id.Unix() + c.period
}

// NextWindowID returns the deterministic successor window. Rollover uses
// this rather than recomputing from the wall clock, so a late countdown
// cannot skip a window.
func (c Clock) NextWindowID(id domain.WindowID) domain.WindowID {
	return id + domain.WindowID(c.period)
}

// Slug returns the conventional market slug for a window.
func (c Clock) Slug(id domain.WindowID) string {
	return fmt.Sprintf("%s-%d", c.prefix, id.Unix())
}

// ParseSlug recovers a window ID from an operator-supplied slug by parsing
// the trailing numeric suffix. The timestamp is floor-aligned to the period,
// so slugs written against either the window-start or the resolution-time
// convention resolve to a valid window.
func (c Clock) ParseSlug(slug string) (domain.WindowID, error) {
	idx := strings.LastIndex(slug, "-")
	if idx < 0 || idx == len(slug)-1 {
		return 0, fmt.Errorf("window: slug %q has no timestamp suffix", slug)
	}
	ts, err := strconv.ParseInt(slug[idx+1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("window: slug %q: parse timestamp: %w", slug, err)
	}
	if ts < 0 {
		return 0, fmt.Errorf("window: slug %q: negative timestamp", slug)
	}
	return domain.WindowID((ts / c.period) * c.period), nil
}
