// Package tracker drives the polling loop: it follows the window clock,
// feeds order book snapshots through the analyzer, resolves outcomes at
// rollover, and hands completed windows to the correlation reporter.
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"quarterwatch/internal/analyzer"
	"quarterwatch/internal/config"
	"quarterwatch/internal/feed"
	"quarterwatch/internal/metrics"
	"quarterwatch/internal/polymarket"
	"quarterwatch/internal/reconciler"
	"quarterwatch/internal/report"
	"quarterwatch/internal/window"
)

// The best-ask level treated as "market has settled" at rollover. A window
// that never reaches it on either side stays permanently unresolved; that
// is a known limitation of the heuristic, not a bug.
const settledAsk = 0.95

// How many later ticks may retry outcome resolution for the previous window.
const maxResolveRetries = 3

// Guard on a whole paired book fetch, on top of the client's own timeout.
const bookFetchTimeout = 10 * time.Second

// MarketFetcher supplies market metadata and order books.
type MarketFetcher interface {
	FetchMarket(ctx context.Context, id window.ID) (*polymarket.Market, error)
	FetchOrderBook(ctx context.Context, tokenID string) (analyzer.Book, error)
}

// PriceResolver supplies the per-window price-to-beat.
type PriceResolver interface {
	ResolvePriceToBeat(ctx context.Context, id window.ID) (reconciler.Resolution, error)
}

// Persister stores window snapshots and report rows.
type Persister interface {
	SnapshotWindow(w *window.Window, price *reconciler.Resolution, persisted int) (int, error)
	SaveReport(rep *report.Report) error
}

// pending is a superseded window whose outcome is still unknown.
type pending struct {
	win      *window.Window
	market   *polymarket.Market
	price    *reconciler.Resolution
	attempts int
}

// Tracker owns the single active window and all analyzer state. Everything
// here runs on the Run goroutine; persistence is dispatched asynchronously
// over immutable snapshots.
type Tracker struct {
	cfg       config.ScheduleConfig
	markets   MarketFetcher
	resolver  PriceResolver
	analyzer  *analyzer.Analyzer
	reporter  *report.Reporter
	persister Persister
	hub       *feed.Hub         // optional
	metrics   *metrics.Recorder // optional
	now       func() time.Time

	active       *window.Window
	activeMarket *polymarket.Market
	activePrice  *reconciler.Resolution
	persisted    int

	unresolved   *pending
	completed    []*window.Window
	maxCompleted int

	persistWG sync.WaitGroup
}

func New(
	cfg config.ScheduleConfig,
	reportCfg config.ReportConfig,
	markets MarketFetcher,
	resolver PriceResolver,
	an *analyzer.Analyzer,
	reporter *report.Reporter,
	persister Persister,
	hub *feed.Hub,
	rec *metrics.Recorder,
) *Tracker {
	return &Tracker{
		cfg:          cfg,
		markets:      markets,
		resolver:     resolver,
		analyzer:     an,
		reporter:     reporter,
		persister:    persister,
		hub:          hub,
		metrics:      rec,
		now:          time.Now,
		maxCompleted: reportCfg.MaxCompletedWindows,
	}
}

// Run polls until the context is cancelled, then finishes the current tick,
// waits for in-flight persistence, emits a final report, and returns.
func (t *Tracker) Run(ctx context.Context) error {
	slog.Info("tracker starting",
		"tick_interval", t.cfg.TickInterval.Duration,
		"report_interval", t.cfg.ReportInterval.Duration,
		"persist_every", t.cfg.PersistEvery,
	)

	t.Tick(ctx)

	ticker := time.NewTicker(t.cfg.TickInterval.Duration)
	reportTicker := time.NewTicker(t.cfg.ReportInterval.Duration)
	defer ticker.Stop()
	defer reportTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("tracker shutting down")
			t.persistWG.Wait()
			t.finalReport()
			return ctx.Err()
		case <-ticker.C:
			t.Tick(ctx)
		case <-reportTicker.C:
			t.runReport()
		}
	}
}

// Tick runs one polling cycle. Fetch failures skip the cycle; they are
// never terminal.
func (t *Tracker) Tick(ctx context.Context) {
	if t.metrics != nil {
		t.metrics.Tick()
	}

	now := t.now()
	id, start := window.CurrentWindow(now)

	// Retry before any rollover so a window superseded this tick gets its
	// first retry on the next tick, not immediately.
	t.retryUnresolved(ctx)

	if t.active == nil {
		t.begin(id, start)
	} else if id != t.active.ID {
		t.rollover(ctx, id, start)
	}

	if t.activeMarket == nil {
		m, err := t.markets.FetchMarket(ctx, t.active.ID)
		if err != nil {
			if errors.Is(err, polymarket.ErrNotFound) {
				slog.Debug("market not listed yet", "window", t.active.ID)
			} else {
				slog.Warn("market metadata fetch failed", "window", t.active.ID, "error", err)
				if t.metrics != nil {
					t.metrics.FetchError("market")
				}
			}
			return
		}
		t.activeMarket = m
		slog.Info("tracking window", "window", t.active.ID, "question", m.Question)
	}

	if t.activePrice == nil {
		res, err := t.resolver.ResolvePriceToBeat(ctx, t.active.ID)
		if err != nil {
			// Keep analyzing; the price may become resolvable on a later tick.
			slog.Warn("price to beat unresolved", "window", t.active.ID, "error", err)
			if t.metrics != nil {
				t.metrics.FetchError("price")
			}
		} else {
			t.activePrice = &res
			slog.Info("price to beat resolved",
				"window", t.active.ID, "price", res.Price, "source", res.Source,
				"degraded", res.Source.Degraded())
			if t.metrics != nil {
				t.metrics.PriceToBeat(res.Price)
				t.metrics.PriceResolved(string(res.Source))
			}
		}
	}

	upBook, downBook, err := t.fetchBooks(ctx, t.activeMarket)
	if err != nil {
		slog.Warn("order book fetch failed, skipping tick", "window", t.active.ID, "error", err)
		if t.metrics != nil {
			t.metrics.FetchError("book")
		}
		return
	}

	t.appendReading(now, upBook, downBook)

	if len(t.active.Readings)%t.cfg.PersistEvery == 0 {
		t.persistAsync(t.active, t.activePrice)
		t.runReport()
	}
}

func (t *Tracker) begin(id window.ID, start time.Time) {
	t.active = window.New(id, start)
	t.activeMarket = nil
	t.activePrice = nil
	t.persisted = 0
	t.analyzer.Reset()
	slog.Info("window opened", "window", id, "start", start)
}

// rollover closes the superseded window, attempts outcome resolution, and
// opens the next one. The closed window joins the completed set either way.
func (t *Tracker) rollover(ctx context.Context, id window.ID, start time.Time) {
	prev := t.active
	prevMarket := t.activeMarket
	prevPrice := t.activePrice
	prev.Close()

	if t.metrics != nil {
		t.metrics.Rollover()
	}

	if prevMarket != nil {
		t.resolveOutcome(ctx, prev, prevMarket)
	}

	if prev.Resolved() {
		if t.metrics != nil {
			t.metrics.Outcome(string(prev.Outcome))
		}
		t.unresolved = nil
	} else if prevMarket != nil {
		t.unresolved = &pending{win: prev, market: prevMarket, price: prevPrice}
	}

	slog.Info("window rolled over",
		"window", prev.ID, "readings", len(prev.Readings), "outcome", string(prev.Outcome))

	t.complete(prev)
	t.persistFinal(prev, prevPrice, t.persisted)
	t.begin(id, start)
}

// retryUnresolved gives the previous window a few more chances to resolve
// before it is left permanently unknown.
func (t *Tracker) retryUnresolved(ctx context.Context) {
	p := t.unresolved
	if p == nil {
		return
	}
	p.attempts++
	if p.attempts > maxResolveRetries {
		slog.Info("outcome left unresolved", "window", p.win.ID)
		t.unresolved = nil
		return
	}

	t.resolveOutcome(ctx, p.win, p.market)
	if p.win.Resolved() {
		if t.metrics != nil {
			t.metrics.Outcome(string(p.win.Outcome))
		}
		t.persistFinal(p.win, p.price, len(p.win.Readings))
		t.unresolved = nil
	}
}

// resolveOutcome re-fetches the window's books and applies the settled-ask
// heuristic. A failed fetch leaves the outcome untouched.
func (t *Tracker) resolveOutcome(ctx context.Context, w *window.Window, m *polymarket.Market) {
	upBook, downBook, err := t.fetchBooks(ctx, m)
	if err != nil {
		slog.Warn("outcome resolution fetch failed", "window", w.ID, "error", err)
		return
	}

	if ask, ok := upBook.BestAsk(); ok && ask >= settledAsk {
		w.Resolve(window.OutcomeUp)
	} else if ask, ok := downBook.BestAsk(); ok && ask >= settledAsk {
		w.Resolve(window.OutcomeDown)
	}

	if w.Resolved() {
		slog.Info("window resolved", "window", w.ID, "outcome", string(w.Outcome))
	}
}

// fetchBooks fetches both sides concurrently; each fetch carries its own
// deadline and a failure on either side fails the pair.
func (t *Tracker) fetchBooks(ctx context.Context, m *polymarket.Market) (analyzer.Book, analyzer.Book, error) {
	if m == nil {
		return analyzer.Book{}, analyzer.Book{}, errors.New("no market metadata")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, bookFetchTimeout)
	defer cancel()

	var (
		wg               sync.WaitGroup
		upBook, downBook analyzer.Book
		upErr, downErr   error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		upBook, upErr = t.markets.FetchOrderBook(fetchCtx, m.UpTokenID)
	}()
	go func() {
		defer wg.Done()
		downBook, downErr = t.markets.FetchOrderBook(fetchCtx, m.DownTokenID)
	}()
	wg.Wait()

	if upErr != nil {
		return analyzer.Book{}, analyzer.Book{}, upErr
	}
	if downErr != nil {
		return analyzer.Book{}, analyzer.Book{}, downErr
	}
	return upBook, downBook, nil
}

func (t *Tracker) appendReading(now time.Time, upBook, downBook analyzer.Book) {
	res := t.analyzer.Analyze(upBook, downBook)

	askUp, _ := upBook.BestAsk()
	askDown, _ := downBook.BestAsk()

	ttc := t.activeMarket.EndTime.Sub(now)
	if ttc < 0 {
		ttc = 0
	}

	rd := window.Reading{
		Timestamp:     now,
		TimeToClose:   ttc,
		AskUp:         askUp,
		AskDown:       askDown,
		UpImbalance:   res.UpImbalance,
		DownImbalance: res.DownImbalance,
		Signal:        res.Signal,
		Strength:      res.Strength,
		Trend:         res.Trend,
	}
	t.active.Append(rd)

	if t.metrics != nil {
		t.metrics.Reading(string(res.Signal), res.UpImbalance, res.DownImbalance)
	}
	if t.hub != nil {
		u := feed.Update{
			WindowID:      string(t.active.ID),
			TimeToCloseMs: ttc.Milliseconds(),
			AskUp:         askUp,
			AskDown:       askDown,
			UpImbalance:   res.UpImbalance,
			DownImbalance: res.DownImbalance,
			Signal:        string(res.Signal),
			Strength:      string(res.Strength),
			Trend:         string(res.Trend),
			Timestamp:     now.UnixMilli(),
		}
		if t.activePrice != nil {
			u.PriceToBeat = t.activePrice.Price
		}
		t.hub.Broadcast(u)
	}

	if res.Signal != window.SignalNone {
		slog.Info("signal",
			"window", t.active.ID,
			"signal", string(res.Signal),
			"strength", string(res.Strength),
			"trend", string(res.Trend),
			"up_imbalance", res.UpImbalance,
			"down_imbalance", res.DownImbalance,
		)
	}
}

func (t *Tracker) complete(w *window.Window) {
	t.completed = append(t.completed, w)
	if t.maxCompleted > 0 && len(t.completed) > t.maxCompleted {
		t.completed = t.completed[len(t.completed)-t.maxCompleted:]
	}
}

// CompletedWindows returns the retained completed windows, oldest first.
func (t *Tracker) CompletedWindows() []*window.Window {
	return t.completed
}

// Active returns the currently tracked window.
func (t *Tracker) Active() *window.Window {
	return t.active
}

// persistAsync snapshots the active window without blocking the tick.
// The snapshot copies the window value and caps the readings slice, so
// later appends on the control thread cannot race the write.
func (t *Tracker) persistAsync(w *window.Window, price *reconciler.Resolution) {
	if t.persister == nil {
		return
	}

	snap := *w
	snap.Readings = w.Readings[:len(w.Readings):len(w.Readings)]
	from := t.persisted
	t.persisted = len(snap.Readings)

	t.persistWG.Add(1)
	go func() {
		defer t.persistWG.Done()
		if _, err := t.persister.SnapshotWindow(&snap, price, from); err != nil {
			slog.Error("window persistence failed", "window", snap.ID, "error", err)
		}
	}()
}

// persistFinal writes a closed window synchronously with its outcome.
func (t *Tracker) persistFinal(w *window.Window, price *reconciler.Resolution, from int) {
	if t.persister == nil {
		return
	}
	if _, err := t.persister.SnapshotWindow(w, price, from); err != nil {
		slog.Error("final window persistence failed", "window", w.ID, "error", err)
	}
}

func (t *Tracker) runReport() {
	rep := t.reporter.Generate(t.completed)
	report.LogReport(rep)

	if t.persister == nil {
		return
	}
	t.persistWG.Add(1)
	go func() {
		defer t.persistWG.Done()
		if err := t.persister.SaveReport(rep); err != nil {
			slog.Error("report persistence failed", "error", err)
		}
	}()
}

func (t *Tracker) finalReport() {
	if t.active != nil && len(t.active.Readings) > 0 {
		t.persistFinal(t.active, t.activePrice, t.persisted)
	}
	rep := t.reporter.Generate(t.completed)
	report.LogReport(rep)
	if t.persister != nil {
		if err := t.persister.SaveReport(rep); err != nil {
			slog.Error("final report persistence failed", "error", err)
		}
	}
}
