// Package window defines the 15-minute market cycle entities: the window
// clock, the Window lifecycle record, and per-tick Readings.
package window

import (
	"fmt"
	"time"
)

// Signal is the directional recommendation derived from order book imbalance.
type Signal string

const (
	SignalNone    Signal = ""
	SignalBuyUp   Signal = "BUY_UP"
	SignalBuyDown Signal = "BUY_DOWN"
)

// Strength grades how pronounced the dominant imbalance is.
type Strength string

const (
	StrengthNone     Strength = ""
	StrengthWeak     Strength = "WEAK"
	StrengthModerate Strength = "MODERATE"
	StrengthStrong   Strength = "STRONG"
)

// Trend reports sustained directional pressure over recent readings.
type Trend string

const (
	TrendNone Trend = ""
	TrendUp   Trend = "TREND_UP"
	TrendDown Trend = "TREND_DOWN"
)

// Outcome is the realized winning side of a resolved window.
type Outcome string

const (
	OutcomeNone Outcome = ""
	OutcomeUp   Outcome = "UP"
	OutcomeDown Outcome = "DOWN"
)

// Reading is one timestamped sample of order-book-derived metrics.
// Immutable once appended to a Window.
type Reading struct {
	Timestamp     time.Time
	TimeToClose   time.Duration
	AskUp         float64 // best ask on the UP token, 0 when the book was empty
	AskDown       float64 // best ask on the DOWN token, 0 when the book was empty
	UpImbalance   float64
	DownImbalance float64
	Signal        Signal
	Strength      Strength
	Trend         Trend
}

// Window is one instance of the 15-minute market cycle.
// Readings are append-only and the outcome is write-once; violations panic
// because they indicate a tracker bug, not bad market data.
type Window struct {
	ID        ID
	StartTime time.Time
	Readings  []Reading
	Outcome   Outcome

	closed bool
}

// New creates an open Window for the given id and start time.
func New(id ID, start time.Time) *Window {
	return &Window{ID: id, StartTime: start}
}

// Append adds a reading to an open window.
func (w *Window) Append(r Reading) {
	if w.closed {
		panic(fmt.Sprintf("window %s: append after close", w.ID))
	}
	if n := len(w.Readings); n > 0 && !r.Timestamp.After(w.Readings[n-1].Timestamp) {
		panic(fmt.Sprintf("window %s: readings must be strictly time-ordered", w.ID))
	}
	w.Readings = append(w.Readings, r)
}

// Close marks the window as superseded. Further appends panic.
func (w *Window) Close() {
	w.closed = true
}

// Closed reports whether the window has been superseded by a newer one.
func (w *Window) Closed() bool { return w.closed }

// Resolve sets the outcome exactly once. Resolving with OutcomeNone is a no-op
// so a failed resolution attempt can be retried on a later tick.
func (w *Window) Resolve(o Outcome) {
	if o == OutcomeNone {
		return
	}
	if w.Outcome != OutcomeNone && w.Outcome != o {
		panic(fmt.Sprintf("window %s: outcome already resolved to %s", w.ID, w.Outcome))
	}
	w.Outcome = o
}

// Resolved reports whether the outcome has been determined.
func (w *Window) Resolved() bool { return w.Outcome != OutcomeNone }
