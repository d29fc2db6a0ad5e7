package window

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration of one market cycle.
const Duration = 15 * time.Minute

const slugPrefix = "btc-updown-"

// ID identifies one 900-second market window. Two IDs are equal iff their
// underlying bucket is equal.
type ID string

// CurrentWindow maps wall-clock time to the active window id and its start.
// Pure and deterministic; callers detect rollover by comparing ids.
func CurrentWindow(now time.Time) (ID, time.Time) {
	bucket := now.Unix() / 900 * 900
	return ID(slugPrefix + strconv.FormatInt(bucket, 10)), time.Unix(bucket, 0).UTC()
}

// StartEpoch extracts the window's start epoch from its id.
func (id ID) StartEpoch() (int64, error) {
	raw, ok := strings.CutPrefix(string(id), slugPrefix)
	if !ok {
		return 0, fmt.Errorf("window id %q: missing %q prefix", id, slugPrefix)
	}
	epoch, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("window id %q: %w", id, err)
	}
	return epoch, nil
}

// EndTime returns the moment the window's market closes.
func (id ID) EndTime() (time.Time, error) {
	epoch, err := id.StartEpoch()
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(epoch, 0).UTC().Add(Duration), nil
}
