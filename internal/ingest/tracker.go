package ingest

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lox/stationclimate/internal/interval"
)

// PeriodStore is the slice of the store the tracker needs.
type PeriodStore interface {
	GetActivePeriods(stationID string) (interval.Set, bool, error)
	ReplaceActivePeriods(stationID string, set interval.Set) error
}

// Tracker maintains each station's active periods: the contiguous date
// ranges for which at least one observation is stored. Updates are
// serialized so concurrent jobs for the same station cannot lose the
// read-merge-replace of another.
type Tracker struct {
	mu    sync.Mutex
	store PeriodStore
}

func NewTracker(store PeriodStore) *Tracker {
	return &Tracker{store: store}
}

// Update merges the dates covered by one collection run into the
// station's stored periods and replaces the stored list whole. An empty
// date set is a no-op; an unregistered station is logged and skipped.
func (t *Tracker) Update(stationID string, dates []time.Time) error {
	if len(dates) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	existing, found, err := t.store.GetActivePeriods(stationID)
	if err != nil {
		return fmt.Errorf("load active periods for %s: %w", stationID, err)
	}
	if !found {
		log.Printf("tracker: station %s not registered, skipping period update", stationID)
		return nil
	}

	merged := interval.Merge(existing, interval.FindContinuous(dates))
	if err := t.store.ReplaceActivePeriods(stationID, merged); err != nil {
		return fmt.Errorf("replace active periods for %s: %w", stationID, err)
	}
	return nil
}
