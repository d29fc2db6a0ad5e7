// Package reconciler resolves the per-window price-to-beat through a tiered
// source chain: per-window cache, page-state extraction, then the spot oracle.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"quarterwatch/internal/config"
	"quarterwatch/internal/oracle"
	"quarterwatch/internal/window"
)

// ErrNotFound means every tier failed for this window.
var ErrNotFound = errors.New("price to beat not found")

// Source records which tier produced a price.
type Source string

const (
	SourceCache          Source = "cache"
	SourcePageStructured Source = "page_structured"
	SourcePageLabel      Source = "page_label"
	SourcePagePlausible  Source = "page_plausible"
	SourceOracle         Source = "oracle"
)

// Degraded reports whether the source is only accurate near the true
// window start. The oracle tier reads the current spot price, so a late
// resolution through it is an approximation that is never corrected.
func (s Source) Degraded() bool {
	return s == SourceOracle
}

// Resolution is one resolved price-to-beat with its provenance.
type Resolution struct {
	Price  float64
	Source Source
}

// PageFetcher supplies the rendered page/state bundle for a window.
type PageFetcher interface {
	FetchPageState(ctx context.Context, id window.ID) (string, error)
}

// OracleSource supplies the spot price with its own fallback discipline.
type OracleSource interface {
	Resolve(ctx context.Context) (oracle.Quote, error)
}

// Reconciler owns the per-window price cache. Single-owner state: only the
// tracker's control loop calls ResolvePriceToBeat.
type Reconciler struct {
	cfg    config.ReconcilerConfig
	pages  PageFetcher
	oracle OracleSource
	cache  *PriceCache
	page   *pageCache
}

func New(cfg config.ReconcilerConfig, pages PageFetcher, oracleSrc OracleSource) *Reconciler {
	return &Reconciler{
		cfg:    cfg,
		pages:  pages,
		oracle: oracleSrc,
		cache:  NewPriceCache(cfg.PriceCacheSize),
		page:   newPageCache(cfg.PageCacheTTL.Duration),
	}
}

// ResolvePriceToBeat resolves and caches the reference price for a window.
// Whichever tier succeeds first wins and is written once: a later call for
// the same window returns the first resolution regardless of what the
// sources would report now.
func (r *Reconciler) ResolvePriceToBeat(ctx context.Context, id window.ID) (Resolution, error) {
	if e, ok := r.cache.Get(id); ok {
		return Resolution{Price: e.Price, Source: SourceCache}, nil
	}

	if price, source, ok := r.fromPage(ctx, id); ok {
		e := r.cache.Put(id, price, source)
		return Resolution{Price: e.Price, Source: e.Source}, nil
	}

	q, err := r.oracle.Resolve(ctx)
	if err != nil {
		return Resolution{}, fmt.Errorf("window %s: %w", id, ErrNotFound)
	}
	slog.Warn("price to beat from oracle spot, accuracy degraded",
		"window", id, "price", q.Price, "quote_age", q.Age())
	e := r.cache.Put(id, q.Price, SourceOracle)
	return Resolution{Price: e.Price, Source: e.Source}, nil
}

// Cached returns the already-resolved price for a window without touching
// any source.
func (r *Reconciler) Cached(id window.ID) (Resolution, bool) {
	e, ok := r.cache.Get(id)
	if !ok {
		return Resolution{}, false
	}
	return Resolution{Price: e.Price, Source: e.Source}, true
}

// fromPage runs the three extraction passes over the page state:
// structured field scoped to the slug, labeled text in the same scope,
// then the unscoped most-recent value inside the sanity band.
func (r *Reconciler) fromPage(ctx context.Context, id window.ID) (float64, Source, bool) {
	blob, ok := r.page.get(id)
	if !ok {
		fetched, err := r.pages.FetchPageState(ctx, id)
		if err != nil {
			slog.Debug("page state fetch failed", "window", id, "error", err)
			return 0, "", false
		}
		r.page.set(id, fetched)
		blob = fetched
	}

	scope := scopeAround(blob, string(id))
	if scope != "" {
		if price, ok := extractStructured(scope); ok {
			return price, SourcePageStructured, true
		}
		if price, ok := extractLabeled(scope); ok {
			return price, SourcePageLabel, true
		}
	}

	if price, ok := extractPlausible(blob, r.cfg.MinPlausiblePrice, r.cfg.MaxPlausiblePrice); ok {
		return price, SourcePagePlausible, true
	}
	return 0, "", false
}
