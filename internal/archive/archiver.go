// Package archive mirrors resolved window observations into object storage
// and restores them back into the database.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mkarlsen/updown/internal/domain"
)

const (
	observationPrefix = "observations/"
	dayBundlePrefix   = "archives/"
)

// Archiver writes per-window observation files and day bundles to blob
// storage.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	store  domain.ObservationStore
	logger *slog.Logger
}

// New creates an Archiver.
func New(writer domain.BlobWriter, reader domain.BlobReader, store domain.ObservationStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		reader: reader,
		store:  store,
		logger: logger.With(slog.String("component", "archive")),
	}
}

func observationPath(slug string) string {
	return observationPrefix + slug + ".json"
}

// ArchiveRecord uploads one observation as a standalone JSON object keyed by
// slug. Uploads are idempotent: re-archiving a window overwrites the same
// key.
func (a *Archiver) ArchiveRecord(ctx context.Context, rec domain.ObservationRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("archive: marshal %s: %w", rec.Slug, err)
	}
	if err := a.writer.Put(ctx, observationPath(rec.Slug), bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("archive: upload %s: %w", rec.Slug, err)
	}
	return nil
}

// WindowResolved archives the record in the background so a slow upload
// never stalls the window lifecycle. Implements the tracker notifier hook.
func (a *Archiver) WindowResolved(ctx context.Context, rec domain.ObservationRecord) {
	go func() {
		uploadCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.ArchiveRecord(uploadCtx, rec); err != nil {
			a.logger.Error("archive upload failed",
				slog.String("slug", rec.Slug),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// ArchiveDay bundles every observation resolved on the given UTC day into a
// single JSONL object and uploads it via multipart. The bundle is rebuilt
// from the database, so it survives gaps in the per-window uploads.
func (a *Archiver) ArchiveDay(ctx context.Context, day time.Time) error {
	since := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	until := since.Add(24 * time.Hour)

	recs, err := a.store.List(ctx, domain.ListOpts{Since: &since, Until: &until})
	if err != nil {
		return fmt.Errorf("archive: list day %s: %w", since.Format("2006-01-02"), err)
	}
	if len(recs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	// List returns newest-first; bundles read chronologically.
	for i := len(recs) - 1; i >= 0; i-- {
		if err := enc.Encode(recs[i]); err != nil {
			return fmt.Errorf("archive: encode %s: %w", recs[i].Slug, err)
		}
	}

	path := dayBundlePrefix + since.Format("2006-01-02") + ".jsonl"
	if err := a.writer.PutMultipart(ctx, path, &buf, 0); err != nil {
		return fmt.Errorf("archive: upload bundle %s: %w", path, err)
	}

	a.logger.InfoContext(ctx, "day bundle uploaded",
		slog.String("path", path),
		slog.Int("records", len(recs)),
	)
	return nil
}

// Restore reads every per-window object back from blob storage and upserts
// it into the database. Existing rows are merged by the store, so a restore
// never loses a longer locally-held price history.
func (a *Archiver) Restore(ctx context.Context) (int, error) {
	infos, err := a.reader.List(ctx, observationPrefix)
	if err != nil {
		return 0, fmt.Errorf("archive: list observations: %w", err)
	}

	restored := 0
	for _, info := range infos {
		if !strings.HasSuffix(info.Path, ".json") {
			continue
		}
		rec, err := a.fetchRecord(ctx, info.Path)
		if err != nil {
			a.logger.Warn("skipping unreadable object",
				slog.String("path", info.Path),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := a.store.Upsert(ctx, rec); err != nil {
			return restored, fmt.Errorf("archive: restore %s: %w", info.Path, err)
		}
		restored++
	}

	a.logger.InfoContext(ctx, "restore finished",
		slog.Int("objects", len(infos)),
		slog.Int("restored", restored),
	)
	return restored, nil
}

func (a *Archiver) fetchRecord(ctx context.Context, path string) (domain.ObservationRecord, error) {
	body, err := a.reader.Get(ctx, path)
	if err != nil {
		return domain.ObservationRecord{}, err
	}
	defer body.Close()

	var rec domain.ObservationRecord
	if err := json.NewDecoder(body).Decode(&rec); err != nil {
		return domain.ObservationRecord{}, err
	}
	return rec, nil
}
