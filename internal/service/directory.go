// Package service holds the tracker's domain services: market metadata
// lookup, quote acquisition, and settlement resolution.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mkarlsen/updown/internal/domain"
	"github.com/mkarlsen/updown/internal/window"
)

// MetadataClient is the external market metadata lookup the directory
// depends on.
type MetadataClient interface {
	GetMarketBySlug(ctx context.Context, slug string) (domain.MarketInfo, error)
}

// Directory resolves window identifiers to market metadata.
type Directory struct {
	gamma  MetadataClient
	clock  window.Clock
	logger *slog.Logger
}

// NewDirectory creates a Directory backed by the given metadata client.
func NewDirectory(gamma MetadataClient, clock window.Clock, logger *slog.Logger) *Directory {
	return &Directory{
		gamma:  gamma,
		clock:  clock,
		logger: logger.With(slog.String("component", "directory")),
	}
}

// Lookup resolves the market for a window via its conventional slug.
func (d *Directory) Lookup(ctx context.Context, id domain.WindowID) (domain.MarketInfo, error) {
	return d.LookupSlug(ctx, d.clock.Slug(id))
}

// LookupSlug resolves the market for an explicit slug. A market whose token
// assignment had to be inferred positionally is logged, since that fallback
// can misclassify the pair.
func (d *Directory) LookupSlug(ctx context.Context, slug string) (domain.MarketInfo, error) {
	info, err := d.gamma.GetMarketBySlug(ctx, slug)
	if err != nil {
		return domain.MarketInfo{}, fmt.Errorf("directory: lookup %s: %w", slug, err)
	}

	if info.Tokens.LabelsInferred {
		d.logger.WarnContext(ctx, "token labels inferred positionally",
			slog.String("slug", slug),
		)
	}

	return info, nil
}
