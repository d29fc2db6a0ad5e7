// Package report grades the order-book signal against realized window
// outcomes after the fact.
package report

import (
	"time"

	"quarterwatch/internal/config"
	"quarterwatch/internal/window"
)

// Recommendation texts for the aggregate signal grade.
const (
	RecommendPrimary      = "positive correlation, usable as primary signal"
	RecommendSecondary    = "weak correlation, secondary confirmation only"
	RecommendInvert       = "negative correlation; consider inverting (fade) the signal"
	RecommendInsufficient = "insufficient resolved windows for a recommendation"

	StrongReliable = "STRONG signals reliable"
	StrongTraps    = "STRONG signals may be traps"
)

// Tally is a correct/wrong pair.
type Tally struct {
	Correct int
	Wrong   int
}

// Accuracy returns the correct fraction, or 0 with ok=false for an empty sample.
func (t Tally) Accuracy() (float64, bool) {
	n := t.Correct + t.Wrong
	if n == 0 {
		return 0, false
	}
	return float64(t.Correct) / float64(n), true
}

func (t *Tally) add(correct bool) {
	if correct {
		t.Correct++
	} else {
		t.Wrong++
	}
}

// Report summarizes how the signal correlated with realized outcomes.
type Report struct {
	GeneratedAt time.Time

	ResolvedWindows int // resolved windows examined
	SkippedWindows  int // resolved but no tradeable-range readings
	GradedWindows   int // windows with a determinable dominant signal

	Signal     Tally
	ByStrength map[window.Strength]Tally
	Strong     Tally
	Trend      Tally
	NoTrend    int // graded windows without a determinable trend

	Recommendation string
	StrongNote     string
}

// Reporter generates correlation reports over completed windows.
type Reporter struct {
	cfg config.ReportConfig
}

func New(cfg config.ReportConfig) *Reporter {
	return &Reporter{cfg: cfg}
}

// Generate grades every resolved window and aggregates the result. Windows
// without an outcome are ignored entirely.
func (r *Reporter) Generate(windows []*window.Window) *Report {
	rep := &Report{
		GeneratedAt: time.Now(),
		ByStrength:  make(map[window.Strength]Tally),
	}

	for _, w := range windows {
		if !w.Resolved() {
			continue
		}
		rep.ResolvedWindows++
		r.grade(rep, w)
	}

	rep.Recommendation = r.recommend(rep)
	rep.StrongNote = r.strongNote(rep)
	return rep
}

// grade applies the per-window steps: tradeable-range filter, dominant
// signal vs outcome, strength bucketing, and the independent trend check.
func (r *Reporter) grade(rep *Report, w *window.Window) {
	var tradeable []window.Reading
	for _, rd := range w.Readings {
		if r.inBand(rd.AskUp) || r.inBand(rd.AskDown) {
			tradeable = append(tradeable, rd)
		}
	}
	if len(tradeable) == 0 {
		rep.SkippedWindows++
		return
	}

	// Dominant signal vs the realized outcome.
	if sig, ok := modeSignal(tradeable); ok {
		rep.GradedWindows++
		correct := signalOutcome(sig) == w.Outcome
		rep.Signal.add(correct)

		if strength, ok := modeStrength(tradeable); ok {
			t := rep.ByStrength[strength]
			t.add(correct)
			rep.ByStrength[strength] = t
			if strength == window.StrengthStrong {
				rep.Strong.add(correct)
			}
		}
	}

	// Trend is graded independently of the signal.
	if tr, ok := modeTrend(tradeable); ok {
		rep.Trend.add(trendOutcome(tr) == w.Outcome)
	} else {
		rep.NoTrend++
	}
}

func (r *Reporter) inBand(ask float64) bool {
	return ask >= r.cfg.TradeableLow && ask <= r.cfg.TradeableHigh
}

func (r *Reporter) recommend(rep *Report) string {
	if rep.GradedWindows < r.cfg.MinWindows {
		return RecommendInsufficient
	}
	acc, ok := rep.Signal.Accuracy()
	if !ok {
		return RecommendInsufficient
	}
	switch {
	case acc >= 0.60:
		return RecommendPrimary
	case acc >= 0.50:
		return RecommendSecondary
	default:
		return RecommendInvert
	}
}

func (r *Reporter) strongNote(rep *Report) string {
	if rep.Strong.Correct+rep.Strong.Wrong < r.cfg.StrongMinSample {
		return ""
	}
	acc, _ := rep.Strong.Accuracy()
	switch {
	case acc >= 0.65:
		return StrongReliable
	case acc < 0.50:
		return StrongTraps
	default:
		return ""
	}
}

func signalOutcome(s window.Signal) window.Outcome {
	switch s {
	case window.SignalBuyUp:
		return window.OutcomeUp
	case window.SignalBuyDown:
		return window.OutcomeDown
	default:
		return window.OutcomeNone
	}
}

func trendOutcome(t window.Trend) window.Outcome {
	switch t {
	case window.TrendUp:
		return window.OutcomeUp
	case window.TrendDown:
		return window.OutcomeDown
	default:
		return window.OutcomeNone
	}
}

// modeSignal returns the most frequent non-empty signal. Ties resolve to
// the value seen first, which keeps the result deterministic.
func modeSignal(readings []window.Reading) (window.Signal, bool) {
	counts := make(map[window.Signal]int)
	var order []window.Signal
	for _, rd := range readings {
		if rd.Signal == window.SignalNone {
			continue
		}
		if counts[rd.Signal] == 0 {
			order = append(order, rd.Signal)
		}
		counts[rd.Signal]++
	}
	return pickMode(counts, order)
}

func modeStrength(readings []window.Reading) (window.Strength, bool) {
	counts := make(map[window.Strength]int)
	var order []window.Strength
	for _, rd := range readings {
		if rd.Strength == window.StrengthNone {
			continue
		}
		if counts[rd.Strength] == 0 {
			order = append(order, rd.Strength)
		}
		counts[rd.Strength]++
	}
	return pickMode(counts, order)
}

func modeTrend(readings []window.Reading) (window.Trend, bool) {
	counts := make(map[window.Trend]int)
	var order []window.Trend
	for _, rd := range readings {
		if rd.Trend == window.TrendNone {
			continue
		}
		if counts[rd.Trend] == 0 {
			order = append(order, rd.Trend)
		}
		counts[rd.Trend]++
	}
	return pickMode(counts, order)
}

func pickMode[T comparable](counts map[T]int, order []T) (T, bool) {
	var best T
	bestCount := 0
	for _, v := range order {
		if counts[v] > bestCount {
			best = v
			bestCount = counts[v]
		}
	}
	return best, bestCount > 0
}
