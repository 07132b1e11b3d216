package ingest

import (
	"errors"
	"testing"
	"time"

	"github.com/lox/stationclimate/internal/interval"
)

type fakePeriodStore struct {
	periods    map[string]interval.Set
	getErr     error
	replaceErr error
	replaced   int
}

func newFakePeriodStore() *fakePeriodStore {
	return &fakePeriodStore{periods: make(map[string]interval.Set)}
}

func (f *fakePeriodStore) GetActivePeriods(stationID string) (interval.Set, bool, error) {
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	set, ok := f.periods[stationID]
	return set, ok, nil
}

func (f *fakePeriodStore) ReplaceActivePeriods(stationID string, set interval.Set) error {
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.replaced++
	f.periods[stationID] = set
	return nil
}

func TestTrackerUpdate_MergesWithExisting(t *testing.T) {
	fs := newFakePeriodStore()
	fs.periods["GHCND:TEST0001"] = interval.Set{{Start: d("2024-01-01"), End: d("2024-01-10"), Days: 10}}

	tr := NewTracker(fs)
	// Touches the existing period (01-11) and adds a disjoint one.
	dates := []time.Time{d("2024-01-11"), d("2024-01-12"), d("2024-02-01")}
	if err := tr.Update("GHCND:TEST0001", dates); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got := fs.periods["GHCND:TEST0001"]
	if len(got) != 2 {
		t.Fatalf("periods = %+v, want 2", got)
	}
	if !got[0].Start.Equal(d("2024-01-01")) || !got[0].End.Equal(d("2024-01-12")) || got[0].Days != 12 {
		t.Errorf("periods[0] = %+v, want 2024-01-01..2024-01-12 (12 days)", got[0])
	}
	if !got[1].Start.Equal(d("2024-02-01")) || got[1].Days != 1 {
		t.Errorf("periods[1] = %+v, want 2024-02-01 (1 day)", got[1])
	}
}

func TestTrackerUpdate_EmptyDatesIsNoOp(t *testing.T) {
	fs := newFakePeriodStore()
	fs.periods["GHCND:TEST0001"] = interval.Set{{Start: d("2024-01-01"), End: d("2024-01-10"), Days: 10}}

	tr := NewTracker(fs)
	if err := tr.Update("GHCND:TEST0001", nil); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if fs.replaced != 0 {
		t.Errorf("replaced = %d, want 0", fs.replaced)
	}
}

func TestTrackerUpdate_UnknownStationSkipped(t *testing.T) {
	fs := newFakePeriodStore()
	tr := NewTracker(fs)

	if err := tr.Update("GHCND:NOPE", []time.Time{d("2024-01-01")}); err != nil {
		t.Fatalf("Update returned %v, want nil for unknown station", err)
	}
	if fs.replaced != 0 {
		t.Errorf("replaced = %d, want 0 (state must not change)", fs.replaced)
	}
}

func TestTrackerUpdate_PropagatesStoreErrors(t *testing.T) {
	fs := newFakePeriodStore()
	fs.getErr = errors.New("db locked")
	tr := NewTracker(fs)
	if err := tr.Update("GHCND:TEST0001", []time.Time{d("2024-01-01")}); err == nil {
		t.Fatal("Update returned nil, want load error")
	}

	fs = newFakePeriodStore()
	fs.periods["GHCND:TEST0001"] = nil
	fs.replaceErr = errors.New("db locked")
	tr = NewTracker(fs)
	if err := tr.Update("GHCND:TEST0001", []time.Time{d("2024-01-01")}); err == nil {
		t.Fatal("Update returned nil, want replace error")
	}
}
