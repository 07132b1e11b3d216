package cdo

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// Paginator retrieves every record in a date range despite the per-call
// cap by walking the window end backward: each time a response comes
// back capped, the next call ends the day before the oldest record seen.
type Paginator struct {
	fetcher PageFetcher
	limit   int
	clock   clockwork.Clock
}

func NewPaginator(fetcher PageFetcher, limit int, clock clockwork.Clock) *Paginator {
	if limit <= 0 {
		limit = PageLimit
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Paginator{fetcher: fetcher, limit: limit, clock: clock}
}

// FetchAll returns every record for the station/dataset in [start, end].
// The windows never overlap, so the result is duplicate-free by
// construction. Order is whatever the API returned per page.
func (p *Paginator) FetchAll(ctx context.Context, datasetID, stationID string, start, end time.Time) ([]Record, error) {
	start = truncateDay(start)
	windowEnd := truncateDay(end)

	// Requesting a year still in progress must not ask for the future.
	if today := truncateDay(p.clock.Now()); windowEnd.After(today) {
		windowEnd = today
	}
	if windowEnd.Before(start) {
		return nil, nil
	}

	var all []Record
	for {
		page, err := p.fetcher.FetchPage(ctx, Query{
			DatasetID: datasetID,
			StationID: stationID,
			Start:     start,
			End:       windowEnd,
			Limit:     p.limit,
		})
		if err != nil {
			return nil, fmt.Errorf("fetch %s %s %s..%s: %w",
				datasetID, stationID, start.Format("2006-01-02"), windowEnd.Format("2006-01-02"), err)
		}

		if page.RawCount == 0 {
			break
		}
		all = append(all, page.Records...)

		// An uncapped response, or one that covered the whole remaining
		// resultset, exhausts the window. The >= Total check matters when
		// the resultset is exactly one page: RawCount == limit alone
		// would loop forever.
		if page.RawCount < p.limit || page.RawCount >= page.Total {
			break
		}

		oldest, ok := oldestDate(page.Records)
		if !ok {
			// Every record in a capped page was malformed; there is no
			// cursor to continue from.
			break
		}
		windowEnd = oldest.AddDate(0, 0, -1)
		if windowEnd.Before(start) {
			break
		}
	}
	return all, nil
}

func oldestDate(records []Record) (time.Time, bool) {
	if len(records) == 0 {
		return time.Time{}, false
	}
	oldest := records[0].Date
	for _, r := range records[1:] {
		if r.Date.Before(oldest) {
			oldest = r.Date
		}
	}
	return oldest, true
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
