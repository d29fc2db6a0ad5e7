// Package recorder persists window snapshots, readings, and correlation
// reports into the SQLite store.
package recorder

import (
	"database/sql"
	"fmt"
	"log/slog"

	"quarterwatch/internal/reconciler"
	"quarterwatch/internal/report"
	"quarterwatch/internal/window"
)

// Recorder writes tracker state to the store. Calls are dispatched off the
// polling loop; failures are logged, never escalated.
type Recorder struct {
	db *sql.DB
}

func New(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// SnapshotWindow upserts the window row and appends any readings not yet
// persisted. `persisted` is the count of readings already stored; the
// returned count reflects the rows stored after this call.
func (r *Recorder) SnapshotWindow(w *window.Window, price *reconciler.Resolution, persisted int) (int, error) {
	if err := r.upsertWindow(w, price); err != nil {
		return persisted, fmt.Errorf("upserting window %s: %w", w.ID, err)
	}

	for _, rd := range w.Readings[persisted:] {
		if err := r.insertReading(w.ID, rd); err != nil {
			slog.Warn("failed to persist reading", "window", w.ID, "ts", rd.Timestamp, "error", err)
			continue
		}
		persisted++
	}
	return persisted, nil
}

func (r *Recorder) upsertWindow(w *window.Window, price *reconciler.Resolution) error {
	var priceToBeat sql.NullFloat64
	var priceSource sql.NullString
	if price != nil {
		priceToBeat = sql.NullFloat64{Float64: price.Price, Valid: true}
		priceSource = sql.NullString{String: string(price.Source), Valid: true}
	}

	_, err := r.db.Exec(`
		INSERT INTO windows (id, start_time, price_to_beat, price_source, outcome)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			price_to_beat = COALESCE(windows.price_to_beat, excluded.price_to_beat),
			price_source = COALESCE(windows.price_source, excluded.price_source),
			outcome = CASE WHEN windows.outcome = '' THEN excluded.outcome ELSE windows.outcome END,
			resolved_at = CASE
				WHEN windows.outcome = '' AND excluded.outcome != '' THEN datetime('now')
				ELSE windows.resolved_at
			END`,
		string(w.ID), w.StartTime.Unix(), priceToBeat, priceSource, string(w.Outcome),
	)
	return err
}

func (r *Recorder) insertReading(id window.ID, rd window.Reading) error {
	_, err := r.db.Exec(`
		INSERT OR IGNORE INTO readings
			(window_id, ts, time_to_close_ms, ask_up, ask_down, up_imbalance, down_imbalance, signal, strength, trend)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(id), rd.Timestamp.UnixMilli(), rd.TimeToClose.Milliseconds(),
		rd.AskUp, rd.AskDown, rd.UpImbalance, rd.DownImbalance,
		string(rd.Signal), string(rd.Strength), string(rd.Trend),
	)
	return err
}

// SaveReport appends a correlation report snapshot.
func (r *Recorder) SaveReport(rep *report.Report) error {
	_, err := r.db.Exec(`
		INSERT INTO correlation_reports
			(resolved_windows, graded_windows, skipped_windows,
			 signal_correct, signal_wrong, strong_correct, strong_wrong,
			 trend_correct, trend_wrong, no_trend_windows,
			 recommendation, strong_note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rep.ResolvedWindows, rep.GradedWindows, rep.SkippedWindows,
		rep.Signal.Correct, rep.Signal.Wrong, rep.Strong.Correct, rep.Strong.Wrong,
		rep.Trend.Correct, rep.Trend.Wrong, rep.NoTrend,
		rep.Recommendation, rep.StrongNote,
	)
	if err != nil {
		return fmt.Errorf("saving correlation report: %w", err)
	}
	return nil
}
