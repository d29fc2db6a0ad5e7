package window

import (
	"testing"
	"time"
)

func TestCurrentWindow_AlignedEpoch(t *testing.T) {
	id, start := CurrentWindow(time.Unix(1737417600, 0))

	if id != "btc-updown-1737417600" {
		t.Errorf("expected btc-updown-1737417600, got %s", id)
	}
	if start.Unix() != 1737417600 {
		t.Errorf("expected start 1737417600, got %d", start.Unix())
	}
}

func TestCurrentWindow_FloorsToBucket(t *testing.T) {
	aligned, _ := CurrentWindow(time.Unix(1737417600, 0))
	mid, start := CurrentWindow(time.Unix(1737417650, 0))

	if mid != aligned {
		t.Errorf("epoch 1737417650 should map to the same window as 1737417600, got %s", mid)
	}
	if start.Unix() != 1737417600 {
		t.Errorf("expected floored start 1737417600, got %d", start.Unix())
	}
}

func TestCurrentWindow_NextBucket(t *testing.T) {
	prev, _ := CurrentWindow(time.Unix(1737417600, 0))
	next, _ := CurrentWindow(time.Unix(1737418500, 0))

	if next == prev {
		t.Error("epoch 900s later should map to a new window")
	}
	if next != "btc-updown-1737418500" {
		t.Errorf("expected btc-updown-1737418500, got %s", next)
	}
}

func TestID_StartEpochAndEndTime(t *testing.T) {
	id := ID("btc-updown-1737417600")

	epoch, err := id.StartEpoch()
	if err != nil {
		t.Fatal(err)
	}
	if epoch != 1737417600 {
		t.Errorf("expected 1737417600, got %d", epoch)
	}

	end, err := id.EndTime()
	if err != nil {
		t.Fatal(err)
	}
	if end.Unix() != 1737417600+900 {
		t.Errorf("expected end at start+900s, got %d", end.Unix())
	}
}

func TestID_StartEpochRejectsForeignSlug(t *testing.T) {
	if _, err := ID("eth-updown-1737417600").StartEpoch(); err == nil {
		t.Error("expected error for foreign slug prefix")
	}
	if _, err := ID("btc-updown-notanumber").StartEpoch(); err == nil {
		t.Error("expected error for non-numeric epoch")
	}
}

func TestWindow_AppendKeepsTimeOrder(t *testing.T) {
	w := New("btc-updown-1737417600", time.Unix(1737417600, 0))

	base := time.Unix(1737417610, 0)
	w.Append(Reading{Timestamp: base})
	w.Append(Reading{Timestamp: base.Add(2 * time.Second)})

	defer func() {
		if recover() == nil {
			t.Error("expected panic on out-of-order append")
		}
	}()
	w.Append(Reading{Timestamp: base.Add(time.Second)})
}

func TestWindow_AppendAfterClosePanics(t *testing.T) {
	w := New("btc-updown-1737417600", time.Unix(1737417600, 0))
	w.Close()

	defer func() {
		if recover() == nil {
			t.Error("expected panic on append after close")
		}
	}()
	w.Append(Reading{Timestamp: time.Now()})
}

func TestWindow_ResolveIsWriteOnce(t *testing.T) {
	w := New("btc-updown-1737417600", time.Unix(1737417600, 0))

	// A failed attempt may be retried.
	w.Resolve(OutcomeNone)
	if w.Resolved() {
		t.Error("OutcomeNone should not mark the window resolved")
	}

	w.Resolve(OutcomeUp)
	if w.Outcome != OutcomeUp {
		t.Errorf("expected UP, got %s", w.Outcome)
	}

	// Re-resolving to the same value is tolerated.
	w.Resolve(OutcomeUp)

	defer func() {
		if recover() == nil {
			t.Error("expected panic when overwriting a resolved outcome")
		}
	}()
	w.Resolve(OutcomeDown)
}
