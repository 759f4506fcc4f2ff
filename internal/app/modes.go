package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mkarlsen/updown/internal/domain"
	"github.com/mkarlsen/updown/internal/server"
	"github.com/mkarlsen/updown/internal/server/handler"
)

// lockTTL bounds how long a crashed tracker can block its successor.
const lockTTL = 15 * time.Minute

// TrackMode runs the window lifecycle: controller, quote feed, HTTP status
// API, and the daily archive loop.
func (a *App) TrackMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting track mode",
		slog.String("slug_prefix", a.cfg.Tracker.SlugPrefix),
	)

	// With redis enabled, only one tracker instance per slug prefix may
	// run; duplicates would double-deliver notifications and uploads.
	if deps.LockManager != nil {
		unlock, err := a.holdLock(ctx, deps.LockManager, lockTTL/3)
		if err != nil {
			return err
		}
		defer unlock()
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := deps.Controller.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	a.startHTTPServer(ctx, g, deps)

	if deps.Archiver != nil {
		g.Go(func() error {
			a.archiveLoop(ctx, deps)
			return nil
		})
	}

	return g.Wait()
}

// ServeMode runs the HTTP API alone, serving stored observations without
// tracking.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	if !a.cfg.Server.Enabled {
		return fmt.Errorf("app: serve mode requires server.enabled")
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// RestoreMode backfills the database from archived observations, then exits.
func (a *App) RestoreMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting restore mode")

	if deps.Archiver == nil {
		return fmt.Errorf("app: restore mode requires s3.enabled")
	}

	restored, err := deps.Archiver.Restore(ctx)
	if err != nil {
		return fmt.Errorf("app: restore: %w", err)
	}
	a.logger.InfoContext(ctx, "restore complete", slog.Int("restored", restored))
	return nil
}

// holdLock acquires the per-prefix instance lock and renews it on a cadence
// well inside the TTL, so a long-running tracker never lets the lock lapse
// to a second instance. The renewal loop stops when ctx is cancelled.
func (a *App) holdLock(ctx context.Context, lm domain.LockManager, refreshEvery time.Duration) (func(), error) {
	key := a.cfg.Tracker.SlugPrefix
	unlock, err := lm.Acquire(ctx, key, lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("app: another tracker instance holds the lock for %q", key)
		}
		return nil, fmt.Errorf("app: acquire instance lock: %w", err)
	}

	go func() {
		ticker := time.NewTicker(refreshEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := lm.Refresh(ctx, key, lockTTL); err != nil {
					a.logger.ErrorContext(ctx, "instance lock refresh failed",
						slog.String("error", err.Error()))
				}
			}
		}
	}()

	return unlock, nil
}

// startHTTPServer adds the HTTP server and its shutdown watcher to the
// errgroup when the server is enabled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Server.Enabled {
		return
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
	}, server.Handlers{
		Health:       handler.NewHealthHandler(a.logger),
		Status:       handler.NewStatusHandler(deps.Controller, deps.Clock, a.logger),
		Observations: handler.NewObservationsHandler(deps.Observations, a.logger),
	}, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// archiveLoop uploads a JSONL bundle for each completed UTC day. It checks
// hourly so a restart never misses the rollover.
func (a *App) archiveLoop(ctx context.Context, deps *Dependencies) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	lastArchived := ""
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		yesterday := time.Now().UTC().AddDate(0, 0, -1)
		day := yesterday.Format("2006-01-02")
		if day == lastArchived {
			continue
		}

		if err := deps.Archiver.ArchiveDay(ctx, yesterday); err != nil {
			a.logger.ErrorContext(ctx, "day archive failed",
				slog.String("day", day),
				slog.String("error", err.Error()),
			)
			continue
		}
		lastArchived = day
	}
}
