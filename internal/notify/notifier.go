// Package notify delivers window resolution alerts to operator channels
// (Telegram, Discord). A failure on one channel never blocks the others.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mkarlsen/updown/internal/domain"
)

// Sender is the interface each notification channel implements.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender.
	Name() string
}

// Notifier formats resolved windows and dispatches them to every configured
// sender.
type Notifier struct {
	senders       []Sender
	onlyConfident bool
	logger        *slog.Logger
}

// New creates a Notifier. When onlyConfident is set, windows resolved
// without confidence are not announced.
func New(senders []Sender, onlyConfident bool, logger *slog.Logger) *Notifier {
	return &Notifier{
		senders:       senders,
		onlyConfident: onlyConfident,
		logger:        logger.With(slog.String("component", "notifier")),
	}
}

// WindowResolved announces one resolved window. Sends run in the
// background; delivery failures are logged per sender.
func (n *Notifier) WindowResolved(ctx context.Context, rec domain.ObservationRecord) {
	if len(n.senders) == 0 {
		return
	}
	if n.onlyConfident && !rec.Confident {
		n.logger.Debug("skipping unconfident window", slog.String("slug", rec.Slug))
		return
	}

	title, message := format(rec)
	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		n.dispatch(sendCtx, title, message)
	}()
}

func (n *Notifier) dispatch(ctx context.Context, title, message string) {
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
		)
	}
}

func format(rec domain.ObservationRecord) (title, message string) {
	verdict := string(rec.Outcome)
	if !rec.Confident {
		verdict += " (unconfirmed)"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Window %s resolved %s\n", rec.Slug, verdict)
	fmt.Fprintf(&b, "Resolved at %s\n", time.Unix(rec.ResolutionTime, 0).UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Price points: %d", len(rec.PriceHistory))
	if last := lastPoint(rec); last != nil {
		if last.Up != nil {
			fmt.Fprintf(&b, "\nFinal UP price: %.4f", *last.Up)
		}
		if last.Down != nil {
			fmt.Fprintf(&b, "\nFinal DOWN price: %.4f", *last.Down)
		}
	}

	return "Market resolved: " + verdict, b.String()
}

func lastPoint(rec domain.ObservationRecord) *domain.PricePoint {
	if len(rec.PriceHistory) == 0 {
		return nil
	}
	return &rec.PriceHistory[len(rec.PriceHistory)-1]
}
