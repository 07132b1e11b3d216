package models

import (
	"database/sql"
	"time"
)

type Station struct {
	StationID string
	Name      string
	Latitude  float64
	Longitude float64
	Elevation float64
	Region    sql.NullString
	Active    bool
}

// DailyObservation is one station-day of normalized weather data. Every
// field except the key is optional; a dataset kind contributes only the
// fields it knows about.
type DailyObservation struct {
	StationID string
	Date      time.Time // UTC midnight, station-local calendar date
	TempMax   sql.NullFloat64
	TempMin   sql.NullFloat64
	TempAvg   sql.NullFloat64
	Precip    sql.NullFloat64
	Snowfall  sql.NullFloat64
	SnowDepth sql.NullFloat64
	WindSpeed sql.NullFloat64
	WindGust  sql.NullFloat64
	WindDir   sql.NullInt64
	Pressure  sql.NullFloat64
	Humidity  sql.NullInt64
	CreatedAt time.Time
}

// CollectionRun is an append-only audit row for one (station, year) job.
type CollectionRun struct {
	ID               int64
	StationID        string
	Year             int
	RecordsCollected int
	RecordsStored    int
	Success          bool
	ZeroData         bool
	ErrorMessage     sql.NullString
	StartedAt        time.Time
	CompletedAt      sql.NullTime
}
