package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lox/stationclimate/internal/cdo"
	"github.com/lox/stationclimate/internal/metrics"
	"github.com/lox/stationclimate/internal/models"
	"github.com/lox/stationclimate/internal/store"
)

// datasetKinds in processing order. Later kinds overwrite earlier ones
// field-by-field during normalization, so GHCND daily summaries come
// last and always win over hourly totals and climatological normals.
var datasetKinds = []string{"NORMAL_DLY", "PRECIP_HLY", "GHCND"}

const (
	defaultWorkers            = 3
	defaultDatasetSwitchDelay = time.Second
)

// RangeFetcher retrieves every record for one station/dataset/range.
// *cdo.Paginator implements it.
type RangeFetcher interface {
	FetchAll(ctx context.Context, datasetID, stationID string, start, end time.Time) ([]cdo.Record, error)
}

type Job struct {
	StationID string
	Year      int
}

type JobResult struct {
	Job
	RecordsCollected int
	RecordsStored    int
	ZeroData         bool
	FailedDatasets   []string
	Err              error
}

// Summary is what one collection pass reports back to the caller.
type Summary struct {
	Attempted     int
	Succeeded     int
	ZeroData      int
	Failed        int
	RecordsStored int
	Duration      time.Duration
}

func (s Summary) String() string {
	return fmt.Sprintf("attempted=%d succeeded=%d zero-data=%d failed=%d records=%d duration=%s",
		s.Attempted, s.Succeeded, s.ZeroData, s.Failed, s.RecordsStored, s.Duration.Round(time.Millisecond))
}

// Collector runs station/year jobs: fetch every dataset kind, normalize,
// persist, and update the station's active periods. Jobs are independent
// and idempotent; re-running one reproduces the same stored state.
type Collector struct {
	store   *store.Store
	fetcher RangeFetcher
	tracker *Tracker
	clock   clockwork.Clock

	workers            int
	datasetSwitchDelay time.Duration
}

type CollectorConfig struct {
	Workers            int
	DatasetSwitchDelay time.Duration
	Clock              clockwork.Clock
}

func NewCollector(st *store.Store, fetcher RangeFetcher, cfg CollectorConfig) *Collector {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.DatasetSwitchDelay <= 0 {
		cfg.DatasetSwitchDelay = defaultDatasetSwitchDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Collector{
		store:              st,
		fetcher:            fetcher,
		tracker:            NewTracker(st),
		clock:              cfg.Clock,
		workers:            cfg.Workers,
		datasetSwitchDelay: cfg.DatasetSwitchDelay,
	}
}

// Collect runs one job per (station, year) pair across a bounded worker
// pool and aggregates the outcomes. A failing job never aborts the rest.
func (c *Collector) Collect(ctx context.Context, stationIDs []string, years []int) Summary {
	started := c.clock.Now()

	jobs := make(chan Job)
	results := make(chan JobResult)

	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				results <- c.runJob(ctx, job)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, stationID := range stationIDs {
			for _, year := range years {
				select {
				case jobs <- Job{StationID: stationID, Year: year}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var summary Summary
	for res := range results {
		summary.Attempted++
		switch {
		case res.Err != nil:
			summary.Failed++
			metrics.CollectionJobs.WithLabelValues("failed").Inc()
			log.Printf("collector: %s/%d failed: %v", res.StationID, res.Year, res.Err)
		case res.ZeroData:
			summary.ZeroData++
			metrics.CollectionJobs.WithLabelValues("zero_data").Inc()
			log.Printf("collector: %s/%d: no data", res.StationID, res.Year)
		default:
			summary.Succeeded++
			metrics.CollectionJobs.WithLabelValues("succeeded").Inc()
			log.Printf("collector: %s/%d: %d records, %d days stored", res.StationID, res.Year, res.RecordsCollected, res.RecordsStored)
		}
		summary.RecordsStored += res.RecordsStored
	}
	summary.Duration = c.clock.Since(started)
	return summary
}

// runJob executes the sequential stages for one station/year: fetch each
// dataset kind, normalize the combined batch, upsert, update periods.
// A dataset-kind failure is recorded and the remaining kinds proceed.
func (c *Collector) runJob(ctx context.Context, job Job) JobResult {
	res := JobResult{Job: job}

	run, err := c.store.StartCollectionRun(job.StationID, job.Year)
	if err != nil {
		log.Printf("collector: start run %s/%d: %v", job.StationID, job.Year, err)
	}

	start := time.Date(job.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(job.Year, time.December, 31, 0, 0, 0, 0, time.UTC)

	var raw []cdo.Record
	for i, dataset := range datasetKinds {
		if i > 0 {
			// Longer pause when switching dataset kind for the same
			// station, on top of the client's per-call pacing.
			if !sleepWithContext(ctx, c.clock, c.datasetSwitchDelay) {
				res.Err = ctx.Err()
				c.completeRun(run, res)
				return res
			}
		}
		records, err := c.fetcher.FetchAll(ctx, dataset, job.StationID, start, end)
		if err != nil {
			log.Printf("collector: %s/%d: dataset %s unavailable: %v", job.StationID, job.Year, dataset, err)
			res.FailedDatasets = append(res.FailedDatasets, dataset)
			continue
		}
		raw = append(raw, records...)
	}

	res.RecordsCollected = len(raw)

	if len(res.FailedDatasets) == len(datasetKinds) {
		res.Err = fmt.Errorf("all dataset kinds unavailable: %s", strings.Join(res.FailedDatasets, ", "))
		c.completeRun(run, res)
		return res
	}

	if len(raw) == 0 {
		// Many remote or inactive stations report nothing; that is a
		// normal terminal outcome, not an error.
		res.ZeroData = true
		c.completeRun(run, res)
		return res
	}

	batch := Normalize(raw)
	stored, err := c.store.UpsertDailyObservations(batch)
	if err != nil {
		res.Err = fmt.Errorf("upsert observations: %w", err)
		c.completeRun(run, res)
		return res
	}
	res.RecordsStored = stored
	metrics.ObservationsStored.Add(float64(stored))

	if err := c.tracker.Update(job.StationID, ObservationDates(batch)); err != nil {
		res.Err = fmt.Errorf("update active periods: %w", err)
		c.completeRun(run, res)
		return res
	}

	c.completeRun(run, res)
	return res
}

func (c *Collector) completeRun(run *models.CollectionRun, res JobResult) {
	if run == nil {
		return
	}
	run.RecordsCollected = res.RecordsCollected
	run.RecordsStored = res.RecordsStored
	run.Success = res.Err == nil
	run.ZeroData = res.ZeroData
	if res.Err != nil {
		run.ErrorMessage = sql.NullString{String: res.Err.Error(), Valid: true}
	} else if len(res.FailedDatasets) > 0 {
		run.ErrorMessage = sql.NullString{String: "partial: " + strings.Join(res.FailedDatasets, ", ") + " unavailable", Valid: true}
	}
	if err := c.store.CompleteCollectionRun(run); err != nil {
		log.Printf("collector: complete run %s/%d: %v", res.StationID, res.Year, err)
	}
}

func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-clock.After(d):
		return true
	}
}
