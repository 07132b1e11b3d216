package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lox/stationclimate/internal/interval"
	"github.com/lox/stationclimate/internal/models"
)

const dateFormat = "2006-01-02"

// ErrUnknownStation is returned by writes keyed on a station id that is
// not in the registry.
var ErrUnknownStation = errors.New("station not registered")

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Ping() error {
	return s.db.Ping()
}

func (s *Store) UpsertStation(st models.Station) error {
	_, err := s.db.Exec(`
		INSERT INTO stations (station_id, name, latitude, longitude, elevation, region, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(station_id) DO UPDATE SET
			name = excluded.name,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			elevation = excluded.elevation,
			region = excluded.region,
			active = excluded.active
	`, st.StationID, st.Name, st.Latitude, st.Longitude, st.Elevation, st.Region, st.Active)
	return err
}

func (s *Store) GetStation(stationID string) (*models.Station, error) {
	row := s.db.QueryRow(`
		SELECT station_id, name, latitude, longitude, elevation, region, active
		FROM stations WHERE station_id = ?
	`, stationID)

	var st models.Station
	err := row.Scan(&st.StationID, &st.Name, &st.Latitude, &st.Longitude, &st.Elevation, &st.Region, &st.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) GetActiveStations() ([]models.Station, error) {
	rows, err := s.db.Query(`
		SELECT station_id, name, latitude, longitude, elevation, region, active
		FROM stations WHERE active = TRUE ORDER BY station_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stations []models.Station
	for rows.Next() {
		var st models.Station
		if err := rows.Scan(&st.StationID, &st.Name, &st.Latitude, &st.Longitude, &st.Elevation, &st.Region, &st.Active); err != nil {
			return nil, err
		}
		stations = append(stations, st)
	}
	return stations, rows.Err()
}

// UpsertDailyObservations writes a normalized batch in one transaction.
// A row for (station_id, date) is replaced whole, every field, so
// re-running a batch cannot accumulate partial state. Returns the number
// of rows written.
func (s *Store) UpsertDailyObservations(batch []models.DailyObservation) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO daily_observations (station_id, date, temp_max, temp_min, temp_avg, precip, snowfall, snow_depth, wind_speed, wind_gust, wind_dir, pressure, humidity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(station_id, date) DO UPDATE SET
			temp_max = excluded.temp_max,
			temp_min = excluded.temp_min,
			temp_avg = excluded.temp_avg,
			precip = excluded.precip,
			snowfall = excluded.snowfall,
			snow_depth = excluded.snow_depth,
			wind_speed = excluded.wind_speed,
			wind_gust = excluded.wind_gust,
			wind_dir = excluded.wind_dir,
			pressure = excluded.pressure,
			humidity = excluded.humidity
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	written := 0
	for _, obs := range batch {
		if _, err := stmt.Exec(
			obs.StationID, obs.Date.Format(dateFormat),
			obs.TempMax, obs.TempMin, obs.TempAvg,
			obs.Precip, obs.Snowfall, obs.SnowDepth,
			obs.WindSpeed, obs.WindGust, obs.WindDir,
			obs.Pressure, obs.Humidity,
		); err != nil {
			return 0, fmt.Errorf("upsert %s %s: %w", obs.StationID, obs.Date.Format(dateFormat), err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return written, nil
}

func (s *Store) GetDailyObservations(stationID string, start, end time.Time) ([]models.DailyObservation, error) {
	rows, err := s.db.Query(`
		SELECT station_id, date, temp_max, temp_min, temp_avg, precip, snowfall, snow_depth, wind_speed, wind_gust, wind_dir, pressure, humidity, created_at
		FROM daily_observations
		WHERE station_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, stationID, start.Format(dateFormat), end.Format(dateFormat))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var observations []models.DailyObservation
	for rows.Next() {
		var obs models.DailyObservation
		var dateStr string
		if err := rows.Scan(&obs.StationID, &dateStr, &obs.TempMax, &obs.TempMin, &obs.TempAvg,
			&obs.Precip, &obs.Snowfall, &obs.SnowDepth, &obs.WindSpeed, &obs.WindGust, &obs.WindDir,
			&obs.Pressure, &obs.Humidity, &obs.CreatedAt); err != nil {
			return nil, err
		}
		date, err := time.Parse(dateFormat, dateStr)
		if err != nil {
			return nil, fmt.Errorf("parse observation date %q: %w", dateStr, err)
		}
		obs.Date = date
		observations = append(observations, obs)
	}
	return observations, rows.Err()
}

// GetObservationDates returns the distinct dates a station has any
// observation for, ascending. Used to rebuild active periods from scratch.
func (s *Store) GetObservationDates(stationID string) ([]time.Time, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT date FROM daily_observations WHERE station_id = ? ORDER BY date ASC
	`, stationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var dateStr string
		if err := rows.Scan(&dateStr); err != nil {
			return nil, err
		}
		date, err := time.Parse(dateFormat, dateStr)
		if err != nil {
			return nil, fmt.Errorf("parse observation date %q: %w", dateStr, err)
		}
		dates = append(dates, date)
	}
	return dates, rows.Err()
}

// GetActivePeriods loads a station's stored coverage intervals. The
// second return is false when the station is not registered.
func (s *Store) GetActivePeriods(stationID string) (interval.Set, bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT active_periods FROM stations WHERE station_id = ?`, stationID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	set, err := interval.ParseSet([]byte(raw))
	if err != nil {
		return nil, true, fmt.Errorf("station %s: %w", stationID, err)
	}
	return set, true, nil
}

// ReplaceActivePeriods overwrites the station's whole stored period list
// in a single UPDATE.
func (s *Store) ReplaceActivePeriods(stationID string, set interval.Set) error {
	encoded, err := set.Encode()
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`UPDATE stations SET active_periods = ? WHERE station_id = ?`, string(encoded), stationID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownStation, stationID)
	}
	return nil
}

func (s *Store) StartCollectionRun(stationID string, year int) (*models.CollectionRun, error) {
	run := &models.CollectionRun{
		StationID: stationID,
		Year:      year,
		StartedAt: time.Now().UTC(),
	}
	res, err := s.db.Exec(`
		INSERT INTO collection_runs (station_id, year, started_at) VALUES (?, ?, ?)
	`, run.StationID, run.Year, run.StartedAt)
	if err != nil {
		return nil, err
	}
	run.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Store) CompleteCollectionRun(run *models.CollectionRun) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		UPDATE collection_runs
		SET records_collected = ?, records_stored = ?, success = ?, zero_data = ?, error_message = ?, completed_at = ?
		WHERE id = ?
	`, run.RecordsCollected, run.RecordsStored, run.Success, run.ZeroData, run.ErrorMessage, now, run.ID)
	if err == nil {
		run.CompletedAt = sql.NullTime{Time: now, Valid: true}
	}
	return err
}

func (s *Store) GetRecentCollectionRuns(limit int) ([]models.CollectionRun, error) {
	rows, err := s.db.Query(`
		SELECT id, station_id, year, records_collected, records_stored, success, zero_data, error_message, started_at, completed_at
		FROM collection_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.CollectionRun
	for rows.Next() {
		var run models.CollectionRun
		var collected, stored sql.NullInt64
		var success, zeroData sql.NullBool
		if err := rows.Scan(&run.ID, &run.StationID, &run.Year, &collected, &stored, &success, &zeroData, &run.ErrorMessage, &run.StartedAt, &run.CompletedAt); err != nil {
			return nil, err
		}
		run.RecordsCollected = int(collected.Int64)
		run.RecordsStored = int(stored.Int64)
		run.Success = success.Bool
		run.ZeroData = zeroData.Bool
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
