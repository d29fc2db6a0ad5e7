package reconciler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"quarterwatch/internal/config"
	"quarterwatch/internal/oracle"
	"quarterwatch/internal/window"
)

type fakePages struct {
	blob    string
	err     error
	fetches int
}

func (f *fakePages) FetchPageState(_ context.Context, _ window.ID) (string, error) {
	f.fetches++
	if f.err != nil {
		return "", f.err
	}
	return f.blob, nil
}

type fakeOracle struct {
	price float64
	err   error
	calls int
}

func (f *fakeOracle) Resolve(_ context.Context) (oracle.Quote, error) {
	f.calls++
	if f.err != nil {
		return oracle.Quote{}, f.err
	}
	return oracle.Quote{Price: f.price, ObservedAt: time.Now()}, nil
}

func testCfg() config.ReconcilerConfig {
	return config.ReconcilerConfig{
		PageCacheTTL:      config.Duration{Duration: 2 * time.Second},
		PriceCacheSize:    5,
		MinPlausiblePrice: 10_000,
		MaxPlausiblePrice: 500_000,
	}
}

const slug = "btc-updown-1737417600"

func TestResolve_StructuredExtraction(t *testing.T) {
	pages := &fakePages{blob: fmt.Sprintf(`{"slug":"%s","openPrice":"104250.5"}`, slug)}
	r := New(testCfg(), pages, &fakeOracle{})

	res, err := r.ResolvePriceToBeat(context.Background(), slug)
	if err != nil {
		t.Fatal(err)
	}
	if res.Price != 104250.5 {
		t.Errorf("expected 104250.5, got %v", res.Price)
	}
	if res.Source != SourcePageStructured {
		t.Errorf("expected page_structured source, got %s", res.Source)
	}
}

func TestResolve_LabelFallback(t *testing.T) {
	pages := &fakePages{blob: fmt.Sprintf(`<div data-slug="%s">Price to beat $104,250.00</div>`, slug)}
	r := New(testCfg(), pages, &fakeOracle{})

	res, err := r.ResolvePriceToBeat(context.Background(), slug)
	if err != nil {
		t.Fatal(err)
	}
	if res.Price != 104250 {
		t.Errorf("expected 104250, got %v", res.Price)
	}
	if res.Source != SourcePageLabel {
		t.Errorf("expected page_label source, got %s", res.Source)
	}
}

func TestResolve_PlausibleValueFallback(t *testing.T) {
	// Slug absent from the page, so scoped passes cannot run. The $25 fee
	// and $1,000,000 jackpot fall outside the sanity band; the last
	// in-band value wins.
	pages := &fakePages{blob: `Fee $25. Jackpot $1,000,000. Earlier $98,000 then later $104,250.`}
	r := New(testCfg(), pages, &fakeOracle{})

	res, err := r.ResolvePriceToBeat(context.Background(), slug)
	if err != nil {
		t.Fatal(err)
	}
	if res.Price != 104250 {
		t.Errorf("expected last in-band value 104250, got %v", res.Price)
	}
	if res.Source != SourcePagePlausible {
		t.Errorf("expected page_plausible source, got %s", res.Source)
	}
}

func TestResolve_OracleTier(t *testing.T) {
	pages := &fakePages{err: errors.New("timeout")}
	orc := &fakeOracle{price: 103000}
	r := New(testCfg(), pages, orc)

	res, err := r.ResolvePriceToBeat(context.Background(), slug)
	if err != nil {
		t.Fatal(err)
	}
	if res.Price != 103000 {
		t.Errorf("expected oracle price 103000, got %v", res.Price)
	}
	if res.Source != SourceOracle {
		t.Errorf("expected oracle source, got %s", res.Source)
	}
	if !res.Source.Degraded() {
		t.Error("oracle tier should be flagged degraded")
	}
}

func TestResolve_AllTiersFail(t *testing.T) {
	pages := &fakePages{err: errors.New("timeout")}
	orc := &fakeOracle{err: oracle.ErrUnavailable}
	r := New(testCfg(), pages, orc)

	_, err := r.ResolvePriceToBeat(context.Background(), slug)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestResolve_FirstResolutionWins(t *testing.T) {
	pages := &fakePages{blob: fmt.Sprintf(`{"slug":"%s","openPrice":"104250"}`, slug)}
	cfg := testCfg()
	cfg.PageCacheTTL = config.Duration{} // defeat the page cache, not the price cache
	r := New(cfg, pages, &fakeOracle{})

	first, err := r.ResolvePriceToBeat(context.Background(), slug)
	if err != nil {
		t.Fatal(err)
	}

	// The underlying source now reports a different value.
	pages.blob = fmt.Sprintf(`{"slug":"%s","openPrice":"999999"}`, slug)

	second, err := r.ResolvePriceToBeat(context.Background(), slug)
	if err != nil {
		t.Fatal(err)
	}
	if second.Price != first.Price {
		t.Errorf("cache must be write-once: first %v, second %v", first.Price, second.Price)
	}
	if second.Source != SourceCache {
		t.Errorf("expected cache source on second call, got %s", second.Source)
	}
}

func TestResolve_PageCacheAvoidsRedundantFetches(t *testing.T) {
	// No extractable price, so every resolution attempt reaches the page
	// tier; the TTL cache must still collapse fetches within the window.
	pages := &fakePages{blob: "nothing useful here"}
	orc := &fakeOracle{err: oracle.ErrUnavailable}
	r := New(testCfg(), pages, orc)

	for i := 0; i < 3; i++ {
		r.ResolvePriceToBeat(context.Background(), slug)
	}
	if pages.fetches != 1 {
		t.Errorf("expected 1 page fetch within TTL, got %d", pages.fetches)
	}
}

func TestPriceCache_EvictsOldestAtCapacity(t *testing.T) {
	c := NewPriceCache(5)

	for i := 0; i < 5; i++ {
		id := window.ID(fmt.Sprintf("btc-updown-%d", 1737417600+i*900))
		c.Put(id, 100000+float64(i), SourcePageStructured)
	}
	if c.Len() != 5 {
		t.Fatalf("expected 5 entries, got %d", c.Len())
	}

	c.Put("btc-updown-1737422100", 100005, SourcePageStructured)

	if c.Len() != 5 {
		t.Errorf("expected capacity held at 5, got %d", c.Len())
	}
	if _, ok := c.Get("btc-updown-1737417600"); ok {
		t.Error("oldest window should have been evicted")
	}
	if _, ok := c.Get("btc-updown-1737418500"); !ok {
		t.Error("second-oldest window should survive eviction")
	}
	if _, ok := c.Get("btc-updown-1737422100"); !ok {
		t.Error("newest window should be cached")
	}
}

func TestPriceCache_PutIsWriteOnce(t *testing.T) {
	c := NewPriceCache(5)

	c.Put(slug, 104250, SourcePageStructured)
	e := c.Put(slug, 999999, SourceOracle)

	if e.Price != 104250 {
		t.Errorf("expected first value 104250, got %v", e.Price)
	}
	if e.Source != SourcePageStructured {
		t.Errorf("expected original source, got %s", e.Source)
	}
}
