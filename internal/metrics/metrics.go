// Package metrics exposes Prometheus counters and gauges for the polling loop.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder wraps the Prometheus instruments the tracker reports into.
type Recorder struct {
	ticks         prometheus.Counter
	fetchErrors   *prometheus.CounterVec
	signals       *prometheus.CounterVec
	rollovers     prometheus.Counter
	outcomes      *prometheus.CounterVec
	priceToBeat   prometheus.Gauge
	imbalance     *prometheus.GaugeVec
	priceSource   *prometheus.CounterVec
}

func New() *Recorder {
	return &Recorder{
		ticks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "quarterwatch_ticks_total",
			Help: "Polling ticks completed, including skipped ones",
		}),
		fetchErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "quarterwatch_fetch_errors_total",
			Help: "Fetch failures by source",
		}, []string{"source"}),
		signals: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "quarterwatch_signals_total",
			Help: "Readings by emitted signal",
		}, []string{"signal"}),
		rollovers: promauto.NewCounter(prometheus.CounterOpts{
			Name: "quarterwatch_window_rollovers_total",
			Help: "Window rollovers observed",
		}),
		outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "quarterwatch_window_outcomes_total",
			Help: "Resolved window outcomes",
		}, []string{"outcome"}),
		priceToBeat: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "quarterwatch_price_to_beat",
			Help: "Reconciled price-to-beat for the active window",
		}),
		imbalance: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "quarterwatch_imbalance",
			Help: "Latest order book imbalance per side",
		}, []string{"side"}),
		priceSource: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "quarterwatch_price_resolutions_total",
			Help: "Price-to-beat resolutions by source tier",
		}, []string{"source"}),
	}
}

func (r *Recorder) Tick()                         { r.ticks.Inc() }
func (r *Recorder) FetchError(source string)      { r.fetchErrors.WithLabelValues(source).Inc() }
func (r *Recorder) Rollover()                     { r.rollovers.Inc() }
func (r *Recorder) Outcome(outcome string)        { r.outcomes.WithLabelValues(outcome).Inc() }
func (r *Recorder) PriceToBeat(price float64)     { r.priceToBeat.Set(price) }
func (r *Recorder) PriceResolved(source string)   { r.priceSource.WithLabelValues(source).Inc() }

func (r *Recorder) Reading(signal string, upImb, downImb float64) {
	if signal == "" {
		signal = "none"
	}
	r.signals.WithLabelValues(signal).Inc()
	r.imbalance.WithLabelValues("up").Set(upImb)
	r.imbalance.WithLabelValues("down").Set(downImb)
}

// Serve runs the /metrics listener until the context is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
