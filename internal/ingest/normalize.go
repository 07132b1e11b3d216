package ingest

import (
	"database/sql"
	"sort"
	"time"

	"github.com/lox/stationclimate/internal/cdo"
	"github.com/lox/stationclimate/internal/models"
)

// paramSpec maps one API datatype code onto an observation field,
// applying the declared scale factor (GHCND encodes temperatures and
// precipitation in tenths).
type paramSpec struct {
	scale float64
	set   func(obs *models.DailyObservation, v float64)
}

func nullFloat(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}

var paramSpecs = map[string]paramSpec{
	// GHCND daily summaries
	"TMAX": {0.1, func(o *models.DailyObservation, v float64) { o.TempMax = nullFloat(v) }},
	"TMIN": {0.1, func(o *models.DailyObservation, v float64) { o.TempMin = nullFloat(v) }},
	"TAVG": {0.1, func(o *models.DailyObservation, v float64) { o.TempAvg = nullFloat(v) }},
	"PRCP": {0.1, func(o *models.DailyObservation, v float64) { o.Precip = nullFloat(v) }},
	"SNOW": {1, func(o *models.DailyObservation, v float64) { o.Snowfall = nullFloat(v) }},
	"SNWD": {1, func(o *models.DailyObservation, v float64) { o.SnowDepth = nullFloat(v) }},
	"AWND": {0.1, func(o *models.DailyObservation, v float64) { o.WindSpeed = nullFloat(v) }},
	"WSF2": {0.1, func(o *models.DailyObservation, v float64) { o.WindGust = nullFloat(v) }},
	"WDF2": {1, func(o *models.DailyObservation, v float64) { o.WindDir = sql.NullInt64{Int64: int64(v), Valid: true} }},
	"ASLP": {0.1, func(o *models.DailyObservation, v float64) { o.Pressure = nullFloat(v) }},
	"RHAV": {1, func(o *models.DailyObservation, v float64) { o.Humidity = sql.NullInt64{Int64: int64(v), Valid: true} }},

	// PRECIP_HLY hourly precipitation totals
	"HPCP": {0.1, func(o *models.DailyObservation, v float64) { o.Precip = nullFloat(v) }},

	// NORMAL_DLY climatological normals
	"DLY-TMAX-NORMAL": {0.1, func(o *models.DailyObservation, v float64) { o.TempMax = nullFloat(v) }},
	"DLY-TMIN-NORMAL": {0.1, func(o *models.DailyObservation, v float64) { o.TempMin = nullFloat(v) }},
	"DLY-TAVG-NORMAL": {0.1, func(o *models.DailyObservation, v float64) { o.TempAvg = nullFloat(v) }},
	"DLY-PRCP-NORMAL": {0.1, func(o *models.DailyObservation, v float64) { o.Precip = nullFloat(v) }},
}

type obsKey struct {
	stationID string
	date      time.Time
}

// Normalize groups raw per-parameter records into one DailyObservation
// per (station, date). Unknown datatype codes are ignored. When two
// records set the same field for the same key, the later record in the
// input wins, so callers control authority by ordering their input.
func Normalize(records []cdo.Record) []models.DailyObservation {
	byKey := make(map[obsKey]*models.DailyObservation)
	order := make([]obsKey, 0)

	for _, r := range records {
		spec, ok := paramSpecs[r.Datatype]
		if !ok {
			continue
		}
		key := obsKey{stationID: r.StationID, date: r.Date}
		obs, ok := byKey[key]
		if !ok {
			obs = &models.DailyObservation{StationID: r.StationID, Date: r.Date}
			byKey[key] = obs
			order = append(order, key)
		}
		spec.set(obs, r.Value*spec.scale)
	}

	out := make([]models.DailyObservation, 0, len(order))
	for _, key := range order {
		out = append(out, *byKey[key])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StationID != out[j].StationID {
			return out[i].StationID < out[j].StationID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

// ObservationDates extracts the distinct dates present in a normalized batch.
func ObservationDates(batch []models.DailyObservation) []time.Time {
	seen := make(map[time.Time]bool, len(batch))
	dates := make([]time.Time, 0, len(batch))
	for _, obs := range batch {
		if !seen[obs.Date] {
			seen[obs.Date] = true
			dates = append(dates, obs.Date)
		}
	}
	return dates
}
