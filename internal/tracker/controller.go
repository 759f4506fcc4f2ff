// Package tracker drives the recurring window lifecycle: load the market
// for the current window, stream and sample its prices, resolve the
// outcome after expiry, persist the observation, and roll to the next
// window.
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mkarlsen/updown/internal/domain"
	"github.com/mkarlsen/updown/internal/window"
)

// State is a lifecycle phase of the tracked window.
type State string

const (
	StateIdle      State = "idle"
	StateLoading   State = "loading"
	StateTracking  State = "tracking"
	StateResolving State = "resolving"
	StateResolved  State = "resolved"
	StateCountdown State = "countdown"
	StateError     State = "error"
)

// MarketLookup resolves a window to its market metadata.
type MarketLookup interface {
	Lookup(ctx context.Context, id domain.WindowID) (domain.MarketInfo, error)
}

// QuoteSampler produces the current price pair for a market.
type QuoteSampler interface {
	SamplePair(ctx context.Context, pair domain.TokenPair) (up, down *float64)
}

// SettlementPoller determines a window's outcome after expiry.
type SettlementPoller interface {
	PollForSettlement(ctx context.Context, pair domain.TokenPair, slug string) (domain.Outcome, bool)
}

// FeedRunner manages the streaming quote subscription for a window.
type FeedRunner interface {
	Start(ctx context.Context, pair domain.TokenPair) uint64
	Stop()
}

// ObservationSaver persists finished window records.
type ObservationSaver interface {
	Upsert(ctx context.Context, rec domain.ObservationRecord) error
}

// Notifier is told about each resolved window. Implementations must not
// block the lifecycle loop for long.
type Notifier interface {
	WindowResolved(ctx context.Context, rec domain.ObservationRecord)
}

// Config tunes the lifecycle loop.
type Config struct {
	// SampleInterval is the cadence of price points during tracking.
	SampleInterval time.Duration
	// CountdownInterval is the cadence of countdown status updates while
	// waiting for the next window.
	CountdownInterval time.Duration
}

// Status is a point-in-time snapshot of the controller, served by the
// status API.
type Status struct {
	State            State           `json:"state"`
	WindowID         domain.WindowID `json:"windowId,omitempty"`
	Slug             string          `json:"slug,omitempty"`
	Question         string          `json:"question,omitempty"`
	RemainingSeconds int64           `json:"remainingSeconds"`
	Samples          int             `json:"samples"`
	LastUp           *float64        `json:"lastUp,omitempty"`
	LastDown         *float64        `json:"lastDown,omitempty"`
	Outcome          domain.Outcome  `json:"outcome,omitempty"`
	Confident        bool            `json:"confident"`
	Error            string          `json:"error,omitempty"`
	UpdatedAt        int64           `json:"updatedAt"`
}

// Controller owns the window lifecycle. It runs a single goroutine; all
// external interaction goes through Status and Track.
type Controller struct {
	clock    window.Clock
	markets  MarketLookup
	quotes   QuoteSampler
	resolver SettlementPoller
	feed     FeedRunner
	sink     ObservationSaver
	notifier Notifier
	cfg      Config
	logger   *slog.Logger

	// now is split out for deterministic tests.
	now func() int64

	override chan domain.WindowID

	mu     sync.RWMutex
	status Status
	saved  map[domain.WindowID]bool
}

// New creates a Controller. notifier may be nil.
func New(clock window.Clock, markets MarketLookup, quotes QuoteSampler, resolver SettlementPoller, feed FeedRunner, sink ObservationSaver, notifier Notifier, cfg Config, logger *slog.Logger) *Controller {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = time.Second
	}
	if cfg.CountdownInterval <= 0 {
		cfg.CountdownInterval = time.Second
	}
	return &Controller{
		clock:    clock,
		markets:  markets,
		quotes:   quotes,
		resolver: resolver,
		feed:     feed,
		sink:     sink,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "tracker")),
		now:      func() int64 { return time.Now().Unix() },
		override: make(chan domain.WindowID, 1),
		status:   Status{State: StateIdle},
		saved:    make(map[domain.WindowID]bool),
	}
}

// Track requests a switch to an explicit window. The current window is
// torn down without saving a partial record. Returns an error when a
// switch is already pending.
func (c *Controller) Track(id domain.WindowID) error {
	select {
	case c.override <- id:
		return nil
	default:
		return errors.New("tracker: window switch already pending")
	}
}

// Status returns the current lifecycle snapshot.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Run drives the lifecycle until the context is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	defer c.feed.Stop()

	for {
		target, err := c.nextTarget(ctx)
		if err != nil {
			return err
		}
		next := &target
		for next != nil {
			next = c.trackWindow(ctx, *next)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

func (c *Controller) nextTarget(ctx context.Context) (domain.WindowID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	select {
	case id := <-c.override:
		return id, nil
	default:
	}
	return c.clock.CurrentWindowID(c.now())
}

// trackWindow runs one window end to end. A non-nil return is a manual
// switch target that interrupted the window.
func (c *Controller) trackWindow(ctx context.Context, id domain.WindowID) *domain.WindowID {
	defer c.feed.Stop()

	slug := c.clock.Slug(id)
	log := c.logger.With(slog.Int64("window", id.Unix()), slog.String("slug", slug))

	c.setStatus(Status{State: StateLoading, WindowID: id, Slug: slug})
	log.InfoContext(ctx, "loading window")

	info, err := c.markets.Lookup(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.WarnContext(ctx, "no market for window")
		} else {
			log.ErrorContext(ctx, "market lookup failed", slog.String("error", err.Error()))
		}
		c.setStatus(Status{State: StateError, WindowID: id, Slug: slug, Error: err.Error()})
		return c.awaitRollover(ctx, id)
	}
	if !info.Tokens.Complete() {
		log.ErrorContext(ctx, "market has incomplete token pair")
		c.setStatus(Status{State: StateError, WindowID: id, Slug: slug, Error: "incomplete token pair"})
		return c.awaitRollover(ctx, id)
	}

	rec := domain.ObservationRecord{
		WindowID:       id,
		Slug:           info.Slug,
		ResolutionTime: c.clock.ResolutionTime(id),
		Question:       info.Question,
		Outcome:        domain.OutcomeUnknown,
	}

	if !info.Closed {
		c.feed.Start(ctx, info.Tokens)
		if next := c.sampleLoop(ctx, id, &rec, info); next != nil || ctx.Err() != nil {
			return next
		}
		c.feed.Stop()
	} else {
		log.InfoContext(ctx, "window already closed, skipping tracking")
	}

	c.setStatus(Status{
		State:    StateResolving,
		WindowID: id,
		Slug:     slug,
		Question: info.Question,
		Samples:  len(rec.PriceHistory),
	})
	log.InfoContext(ctx, "resolving window")

	outcome, confident := c.resolver.PollForSettlement(ctx, info.Tokens, info.Slug)
	if ctx.Err() != nil {
		return nil
	}
	rec.Outcome = outcome
	rec.Confident = confident
	rec.SavedAt = c.now()

	c.saveOnce(ctx, rec, log)

	c.setStatus(Status{
		State:     StateResolved,
		WindowID:  id,
		Slug:      slug,
		Question:  info.Question,
		Samples:   len(rec.PriceHistory),
		Outcome:   outcome,
		Confident: confident,
	})
	log.InfoContext(ctx, "window resolved",
		slog.String("outcome", string(outcome)),
		slog.Bool("confident", confident),
		slog.Int("samples", len(rec.PriceHistory)),
	)

	return c.awaitRollover(ctx, id)
}

// sampleLoop records price points until the window expires. Samples are
// bound to the tick that produced them.
func (c *Controller) sampleLoop(ctx context.Context, id domain.WindowID, rec *domain.ObservationRecord, info domain.MarketInfo) *domain.WindowID {
	ticker := time.NewTicker(c.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case next := <-c.override:
			return &next
		case <-ticker.C:
		}

		ts := c.now()
		remaining := c.clock.RemainingSeconds(id, ts)

		// A failed sample still records a point with null prices, so the
		// series keeps one entry per tick and gaps stay visible.
		up, down := c.quotes.SamplePair(ctx, info.Tokens)
		rec.PriceHistory = append(rec.PriceHistory, domain.PricePoint{
			ObservedAt:     ts,
			ElapsedSeconds: c.clock.ElapsedSeconds(id, ts),
			Up:             up,
			Down:           down,
		})

		c.setStatus(Status{
			State:            StateTracking,
			WindowID:         id,
			Slug:             info.Slug,
			Question:         info.Question,
			RemainingSeconds: remaining,
			Samples:          len(rec.PriceHistory),
			LastUp:           up,
			LastDown:         down,
		})

		// The expiry tick still records its sample, so a run that lines
		// up with the boundary keeps its final price point.
		if remaining <= 0 {
			return nil
		}
	}
}

// saveOnce persists a record at most once per window per process. The
// store's upsert keeps delivery idempotent across restarts.
func (c *Controller) saveOnce(ctx context.Context, rec domain.ObservationRecord, log *slog.Logger) {
	c.mu.Lock()
	already := c.saved[rec.WindowID]
	c.mu.Unlock()
	if already {
		return
	}

	if err := c.sink.Upsert(ctx, rec); err != nil {
		log.ErrorContext(ctx, "observation save failed", slog.String("error", err.Error()))
		return
	}

	c.mu.Lock()
	c.saved[rec.WindowID] = true
	c.mu.Unlock()

	if c.notifier != nil {
		c.notifier.WindowResolved(ctx, rec)
	}
}

// awaitRollover idles until the wall clock reaches the deterministic
// successor window, then returns it as the next target. Deriving the
// successor from the window rather than the wall clock means a countdown
// that fires late cannot skip a window; an already-expired successor is
// handled by the closed-market fast path. A manual switch ends the wait
// early.
func (c *Controller) awaitRollover(ctx context.Context, id domain.WindowID) *domain.WindowID {
	next := c.clock.NextWindowID(id)
	ticker := time.NewTicker(c.cfg.CountdownInterval)
	defer ticker.Stop()

	for {
		ts := c.now()
		if ts >= next.Unix() {
			return &next
		}

		c.mu.Lock()
		if c.status.State == StateResolved || c.status.State == StateCountdown {
			c.status.State = StateCountdown
			c.status.RemainingSeconds = next.Unix() - ts
			c.status.UpdatedAt = ts
		}
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil
		case o := <-c.override:
			return &o
		case <-ticker.C:
		}
	}
}

func (c *Controller) setStatus(s Status) {
	s.UpdatedAt = c.now()
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}
