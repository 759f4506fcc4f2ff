package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/mkarlsen/updown/internal/domain"
	"github.com/mkarlsen/updown/internal/tracker"
	"github.com/mkarlsen/updown/internal/window"
)

// StatusSource exposes the tracker's live state to the API.
type StatusSource interface {
	Status() tracker.Status
	Track(id domain.WindowID) error
}

// StatusHandler serves the tracker lifecycle endpoints.
type StatusHandler struct {
	source StatusSource
	clock  window.Clock
	logger *slog.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(source StatusSource, clock window.Clock, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{source: source, clock: clock, logger: logger}
}

// GetStatus returns the current lifecycle snapshot.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.source.Status())
}

type trackRequest struct {
	Slug     string `json:"slug"`
	WindowID int64  `json:"windowId"`
}

// TrackWindow switches the tracker to an explicit window, given either a
// market slug or a window ID. The current window is abandoned.
// POST /api/track
func (h *StatusHandler) TrackWindow(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var id domain.WindowID
	switch {
	case req.Slug != "":
		parsed, err := h.clock.ParseSlug(req.Slug)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		id = parsed
	case req.WindowID > 0:
		id = domain.WindowID((req.WindowID / h.clock.Period()) * h.clock.Period())
	default:
		writeError(w, http.StatusBadRequest, "slug or windowId is required")
		return
	}

	if err := h.source.Track(id); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	h.logger.InfoContext(r.Context(), "manual window switch requested",
		slog.Int64("window", id.Unix()),
	)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"windowId": id.Unix(),
		"slug":     h.clock.Slug(id),
	})
}

// ObservationsHandler serves stored window observations.
type ObservationsHandler struct {
	store  domain.ObservationStore
	logger *slog.Logger
}

// NewObservationsHandler creates an ObservationsHandler.
func NewObservationsHandler(store domain.ObservationStore, logger *slog.Logger) *ObservationsHandler {
	return &ObservationsHandler{store: store, logger: logger}
}

// ListObservations returns stored observations newest-first.
// GET /api/observations
func (h *ObservationsHandler) ListObservations(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list observations failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list observations")
		return
	}

	count, err := h.store.Count(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "count observations failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to count observations")
		return
	}

	if recs == nil {
		recs = []domain.ObservationRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"observations": recs,
		"total":        count,
	})
}

// GetObservation returns a single observation by slug.
// GET /api/observations/{slug}
func (h *ObservationsHandler) GetObservation(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	rec, err := h.store.GetBySlug(r.Context(), slug)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "observation not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get observation failed",
			slog.String("slug", slug),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load observation")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
