package replay

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"quarterwatch/internal/config"
	"quarterwatch/internal/db"
	"quarterwatch/internal/recorder"
	"quarterwatch/internal/report"
	"quarterwatch/internal/window"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	// loadWindows issues a readings query while the windows rows iterator is
	// still open, which needs a second pooled connection; with ":memory:"
	// each connection is a separate empty database, so use a temp file.
	d, err := db.Open(filepath.Join(t.TempDir(), "replay_test.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := db.Migrate(d); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return d
}

func storeWindow(t *testing.T, rec *recorder.Recorder, start time.Time, outcome window.Outcome, signals []window.Signal) {
	t.Helper()
	id, _ := window.CurrentWindow(start)
	w := window.New(id, start)
	for i, sig := range signals {
		w.Append(window.Reading{
			Timestamp:   start.Add(time.Duration(i+1) * time.Minute),
			TimeToClose: window.Duration - time.Duration(i+1)*time.Minute,
			AskUp:       0.52,
			AskDown:     0.49,
			Signal:      sig,
			Strength:    window.StrengthModerate,
		})
	}
	w.Close()
	w.Resolve(outcome)
	if _, err := rec.SnapshotWindow(w, nil, 0); err != nil {
		t.Fatalf("persisting window: %v", err)
	}
}

func TestRun_RebuildsStoredWindows(t *testing.T) {
	d := openTestDB(t)
	rec := recorder.New(d)

	base := time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC)
	storeWindow(t, rec, base, window.OutcomeUp,
		[]window.Signal{window.SignalBuyUp, window.SignalBuyUp})
	storeWindow(t, rec, base.Add(window.Duration), window.OutcomeDown,
		[]window.Signal{window.SignalBuyUp})

	r := NewRunner(d, report.New(config.DefaultConfig().Report))
	if err := r.Run("2026-01-20", "2026-01-20"); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRun_LoadedWindowsMatchStore(t *testing.T) {
	d := openTestDB(t)
	rec := recorder.New(d)

	base := time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC)
	storeWindow(t, rec, base, window.OutcomeUp,
		[]window.Signal{window.SignalBuyUp, window.SignalBuyDown, window.SignalNone})

	r := NewRunner(d, report.New(config.DefaultConfig().Report))
	from := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	windows, err := r.loadWindows(from, to)
	if err != nil {
		t.Fatalf("loadWindows: %v", err)
	}
	if len(windows) != 1 {
		t.Fatalf("got %d windows, want 1", len(windows))
	}

	w := windows[0]
	if w.Outcome != window.OutcomeUp {
		t.Errorf("outcome = %q, want UP", w.Outcome)
	}
	if len(w.Readings) != 3 {
		t.Fatalf("got %d readings, want 3", len(w.Readings))
	}
	if w.Readings[0].Signal != window.SignalBuyUp {
		t.Errorf("first reading signal = %q, want BUY_UP", w.Readings[0].Signal)
	}
	if w.Readings[1].Signal != window.SignalBuyDown {
		t.Errorf("second reading signal = %q, want BUY_DOWN", w.Readings[1].Signal)
	}
	if !w.Readings[1].Timestamp.After(w.Readings[0].Timestamp) {
		t.Error("readings not loaded in ascending timestamp order")
	}
}

func TestRun_EmptyRange(t *testing.T) {
	d := openTestDB(t)
	r := NewRunner(d, report.New(config.DefaultConfig().Report))
	if err := r.Run("2025-01-01", "2025-01-02"); err == nil {
		t.Fatal("expected error for range with no stored windows")
	}
}

func TestParseDateRange(t *testing.T) {
	from, to, err := parseDateRange("2026-01-20", "2026-01-21")
	if err != nil {
		t.Fatalf("parseDateRange: %v", err)
	}
	if from.Day() != 20 {
		t.Errorf("from day = %d, want 20", from.Day())
	}
	// -to is inclusive: the range must extend past the end of the 21st.
	if !to.After(time.Date(2026, 1, 21, 23, 59, 0, 0, time.UTC)) {
		t.Errorf("to = %v, expected end of Jan 21 to be included", to)
	}

	if _, _, err := parseDateRange("not-a-date", ""); err == nil {
		t.Error("expected error for malformed -from")
	}
	if _, _, err := parseDateRange("2026-02-01", "2026-01-01"); err == nil {
		t.Error("expected error for inverted range")
	}
}
