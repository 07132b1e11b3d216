package ingest

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lox/stationclimate/internal/store"
)

// Scheduler re-collects the current year for every active station on a
// cron schedule, keeping coverage current while the server runs.
type Scheduler struct {
	store     *store.Store
	collector *Collector
	spec      string
	cron      *cron.Cron
}

func NewScheduler(st *store.Store, collector *Collector, spec string) *Scheduler {
	return &Scheduler{
		store:     st,
		collector: collector,
		spec:      spec,
		cron:      cron.New(),
	}
}

// Run installs the cron entry and blocks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() { s.collectCurrentYear(ctx) })
	if err != nil {
		return err
	}
	s.cron.Start()
	log.Printf("scheduler: collection scheduled (%s)", s.spec)

	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	log.Println("scheduler: stopped")
	return nil
}

func (s *Scheduler) collectCurrentYear(ctx context.Context) {
	stations, err := s.store.GetActiveStations()
	if err != nil {
		log.Printf("scheduler: list stations: %v", err)
		return
	}
	if len(stations) == 0 {
		log.Println("scheduler: no active stations registered")
		return
	}

	ids := make([]string, len(stations))
	for i, st := range stations {
		ids[i] = st.StationID
	}

	year := time.Now().UTC().Year()
	log.Printf("scheduler: collecting year %d for %d stations", year, len(ids))
	summary := s.collector.Collect(ctx, ids, []int{year})
	log.Printf("scheduler: %s", summary)
}
