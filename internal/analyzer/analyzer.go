// Package analyzer scores paired UP/DOWN order books into a directional
// signal with strength and trend grading.
package analyzer

import (
	"math"

	"quarterwatch/internal/config"
	"quarterwatch/internal/window"
)

// Level is one resting order in a book.
type Level struct {
	Price float64
	Size  float64
}

// Book is a snapshot of one token's order book.
type Book struct {
	Bids []Level
	Asks []Level
}

// BestAsk returns the lowest ask price, or false for an empty ask side.
func (b Book) BestAsk() (float64, bool) {
	if len(b.Asks) == 0 {
		return 0, false
	}
	best := b.Asks[0].Price
	for _, l := range b.Asks[1:] {
		if l.Price < best {
			best = l.Price
		}
	}
	return best, true
}

func depth(levels []Level) float64 {
	var total float64
	for _, l := range levels {
		total += l.Price * l.Size
	}
	return total
}

// Imbalance scores one book: (bid depth − ask depth) / (bid depth + ask depth),
// value-weighted, rounded to 3 decimals. Zero when both sides are empty.
func Imbalance(b Book) float64 {
	bid, ask := depth(b.Bids), depth(b.Asks)
	if bid+ask == 0 {
		return 0.0
	}
	return math.Round((bid-ask)/(bid+ask)*1000) / 1000
}

// Readings below this magnitude do not count toward a trend.
const trendImbalance = 0.15

// Result carries the scored metrics for one tick.
type Result struct {
	UpImbalance   float64
	DownImbalance float64
	Signal        window.Signal
	Strength      window.Strength
	Trend         window.Trend
}

type imbPair struct {
	up, down float64
}

// Analyzer is single-owner state: the tracker calls Analyze once per tick
// and Reset at every window rollover.
type Analyzer struct {
	cfg     config.AnalyzerConfig
	history []imbPair
}

func New(cfg config.AnalyzerConfig) *Analyzer {
	return &Analyzer{cfg: cfg}
}

// Analyze scores both books, buffers the pair for trend detection, and
// returns the combined result.
func (a *Analyzer) Analyze(up, down Book) Result {
	upImb := Imbalance(up)
	downImb := Imbalance(down)

	a.history = append(a.history, imbPair{up: upImb, down: downImb})
	if len(a.history) > a.cfg.HistorySize {
		a.history = a.history[len(a.history)-a.cfg.HistorySize:]
	}

	return Result{
		UpImbalance:   upImb,
		DownImbalance: downImb,
		Signal:        a.signal(upImb, downImb),
		Strength:      strength(upImb, downImb),
		Trend:         a.trend(),
	}
}

// Reset clears the trend buffer. Imbalance scoring carries no cross-window state.
func (a *Analyzer) Reset() {
	a.history = a.history[:0]
}

// HistoryLen reports how many readings are buffered for trend detection.
func (a *Analyzer) HistoryLen() int {
	return len(a.history)
}

func (a *Analyzer) signal(upImb, downImb float64) window.Signal {
	switch {
	case upImb > a.cfg.Threshold && upImb > downImb:
		return window.SignalBuyUp
	case downImb > a.cfg.Threshold && downImb > upImb:
		return window.SignalBuyDown
	default:
		return window.SignalNone
	}
}

func strength(upImb, downImb float64) window.Strength {
	m := math.Max(math.Abs(upImb), math.Abs(downImb))
	switch {
	case m > 0.5:
		return window.StrengthStrong
	case m > 0.3:
		return window.StrengthModerate
	case m > 0.15:
		return window.StrengthWeak
	default:
		return window.StrengthNone
	}
}

// trend counts how many of the last trend_min_readings buffered pairs lean
// each way. UP is checked before DOWN, so UP wins when both qualify.
func (a *Analyzer) trend() window.Trend {
	n := a.cfg.TrendMinReadings
	if len(a.history) < n {
		return window.TrendNone
	}

	recent := a.history[len(a.history)-n:]
	var up, down int
	for _, p := range recent {
		if p.up > trendImbalance {
			up++
		}
		if p.down > trendImbalance {
			down++
		}
	}

	if float64(up)/float64(n) >= a.cfg.TrendConsistency {
		return window.TrendUp
	}
	if float64(down)/float64(n) >= a.cfg.TrendConsistency {
		return window.TrendDown
	}
	return window.TrendNone
}
