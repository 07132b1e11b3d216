package store

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lox/stationclimate/internal/interval"
	"github.com/lox/stationclimate/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := New(db)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func d(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func testStation(id string) models.Station {
	return models.Station{
		StationID: id,
		Name:      "Test Station",
		Latitude:  39.08,
		Longitude: -77.02,
		Elevation: 112.8,
		Active:    true,
	}
}

func obs(stationID, date string, tmax float64) models.DailyObservation {
	return models.DailyObservation{
		StationID: stationID,
		Date:      d(date),
		TempMax:   sql.NullFloat64{Float64: tmax, Valid: true},
	}
}

func TestUpsertStation_InsertAndUpdate(t *testing.T) {
	store := setupTestStore(t)

	st := testStation("GHCND:USW00013743")
	if err := store.UpsertStation(st); err != nil {
		t.Fatalf("UpsertStation: %v", err)
	}

	st.Name = "Renamed"
	if err := store.UpsertStation(st); err != nil {
		t.Fatalf("UpsertStation update: %v", err)
	}

	got, err := store.GetStation("GHCND:USW00013743")
	if err != nil {
		t.Fatalf("GetStation: %v", err)
	}
	if got == nil {
		t.Fatal("GetStation returned nil")
	}
	if got.Name != "Renamed" {
		t.Errorf("Name = %q, want Renamed", got.Name)
	}
}

func TestGetStation_Missing(t *testing.T) {
	store := setupTestStore(t)
	got, err := store.GetStation("GHCND:NOPE")
	if err != nil {
		t.Fatalf("GetStation: %v", err)
	}
	if got != nil {
		t.Errorf("GetStation = %+v, want nil", got)
	}
}

func TestGetActiveStations_FiltersInactive(t *testing.T) {
	store := setupTestStore(t)

	active := testStation("GHCND:ACTIVE1")
	inactive := testStation("GHCND:INACTIVE1")
	inactive.Active = false
	if err := store.UpsertStation(active); err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertStation(inactive); err != nil {
		t.Fatal(err)
	}

	stations, err := store.GetActiveStations()
	if err != nil {
		t.Fatalf("GetActiveStations: %v", err)
	}
	if len(stations) != 1 || stations[0].StationID != "GHCND:ACTIVE1" {
		t.Fatalf("stations = %+v, want only GHCND:ACTIVE1", stations)
	}
}

func TestUpsertDailyObservations_FullReplace(t *testing.T) {
	store := setupTestStore(t)

	first := obs("GHCND:TEST0001", "2024-03-01", 21.7)
	first.Precip = sql.NullFloat64{Float64: 4.5, Valid: true}
	if n, err := store.UpsertDailyObservations([]models.DailyObservation{first}); err != nil || n != 1 {
		t.Fatalf("first upsert: n=%d err=%v", n, err)
	}

	// Second write for the same key has no precip; the row must be
	// replaced whole, not merged field-by-field.
	second := obs("GHCND:TEST0001", "2024-03-01", 19.8)
	if n, err := store.UpsertDailyObservations([]models.DailyObservation{second}); err != nil || n != 1 {
		t.Fatalf("second upsert: n=%d err=%v", n, err)
	}

	got, err := store.GetDailyObservations("GHCND:TEST0001", d("2024-03-01"), d("2024-03-01"))
	if err != nil {
		t.Fatalf("GetDailyObservations: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(observations) = %d, want 1 (no duplicate rows)", len(got))
	}
	if got[0].TempMax.Float64 != 19.8 {
		t.Errorf("TempMax = %v, want 19.8", got[0].TempMax.Float64)
	}
	if got[0].Precip.Valid {
		t.Errorf("Precip = %+v, want invalid after full replace", got[0].Precip)
	}
}

func TestUpsertDailyObservations_Idempotent(t *testing.T) {
	store := setupTestStore(t)

	batch := []models.DailyObservation{
		obs("GHCND:TEST0001", "2024-03-01", 21.7),
		obs("GHCND:TEST0001", "2024-03-02", 22.1),
		obs("GHCND:TEST0001", "2024-03-03", 18.4),
	}
	for i := 0; i < 2; i++ {
		if n, err := store.UpsertDailyObservations(batch); err != nil || n != 3 {
			t.Fatalf("run %d: n=%d err=%v", i, n, err)
		}
	}

	got, err := store.GetDailyObservations("GHCND:TEST0001", d("2024-03-01"), d("2024-03-03"))
	if err != nil {
		t.Fatalf("GetDailyObservations: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(observations) = %d, want 3", len(got))
	}
}

func TestUpsertDailyObservations_EmptyBatch(t *testing.T) {
	store := setupTestStore(t)
	n, err := store.UpsertDailyObservations(nil)
	if err != nil {
		t.Fatalf("UpsertDailyObservations(nil): %v", err)
	}
	if n != 0 {
		t.Errorf("n = %d, want 0", n)
	}
}

func TestGetObservationDates(t *testing.T) {
	store := setupTestStore(t)

	batch := []models.DailyObservation{
		obs("GHCND:TEST0001", "2024-03-03", 1),
		obs("GHCND:TEST0001", "2024-03-01", 2),
		obs("GHCND:TEST0002", "2024-03-02", 3),
	}
	if _, err := store.UpsertDailyObservations(batch); err != nil {
		t.Fatal(err)
	}

	dates, err := store.GetObservationDates("GHCND:TEST0001")
	if err != nil {
		t.Fatalf("GetObservationDates: %v", err)
	}
	if len(dates) != 2 || !dates[0].Equal(d("2024-03-01")) || !dates[1].Equal(d("2024-03-03")) {
		t.Fatalf("dates = %v, want [2024-03-01 2024-03-03]", dates)
	}
}

func TestActivePeriods_RoundTrip(t *testing.T) {
	store := setupTestStore(t)
	if err := store.UpsertStation(testStation("GHCND:TEST0001")); err != nil {
		t.Fatal(err)
	}

	set, _, err := store.GetActivePeriods("GHCND:TEST0001")
	if err != nil {
		t.Fatalf("GetActivePeriods: %v", err)
	}
	if len(set) != 0 {
		t.Fatalf("initial periods = %v, want empty", set)
	}

	want := interval.Set{
		{Start: d("2024-01-01"), End: d("2024-04-29"), Days: 120},
		{Start: d("2024-05-10"), End: d("2024-05-12"), Days: 3},
	}
	if err := store.ReplaceActivePeriods("GHCND:TEST0001", want); err != nil {
		t.Fatalf("ReplaceActivePeriods: %v", err)
	}

	got, found, err := store.GetActivePeriods("GHCND:TEST0001")
	if err != nil {
		t.Fatalf("GetActivePeriods: %v", err)
	}
	if !found {
		t.Fatal("found = false, want true")
	}
	if len(got) != 2 || !got[0].Start.Equal(want[0].Start) || !got[1].End.Equal(want[1].End) {
		t.Fatalf("periods = %+v, want %+v", got, want)
	}
}

func TestActivePeriods_ReplaceIsWhole(t *testing.T) {
	store := setupTestStore(t)
	if err := store.UpsertStation(testStation("GHCND:TEST0001")); err != nil {
		t.Fatal(err)
	}

	first := interval.Set{{Start: d("2024-01-01"), End: d("2024-01-10"), Days: 10}}
	if err := store.ReplaceActivePeriods("GHCND:TEST0001", first); err != nil {
		t.Fatal(err)
	}
	second := interval.Set{{Start: d("2024-06-01"), End: d("2024-06-05"), Days: 5}}
	if err := store.ReplaceActivePeriods("GHCND:TEST0001", second); err != nil {
		t.Fatal(err)
	}

	got, _, err := store.GetActivePeriods("GHCND:TEST0001")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !got[0].Start.Equal(d("2024-06-01")) {
		t.Fatalf("periods = %+v, want only the second list", got)
	}
}

func TestReplaceActivePeriods_UnknownStation(t *testing.T) {
	store := setupTestStore(t)
	err := store.ReplaceActivePeriods("GHCND:NOPE", interval.Set{{Start: d("2024-01-01"), End: d("2024-01-02"), Days: 2}})
	if !errors.Is(err, ErrUnknownStation) {
		t.Fatalf("err = %v, want ErrUnknownStation", err)
	}
}

func TestGetActivePeriods_UnknownStation(t *testing.T) {
	store := setupTestStore(t)
	_, found, err := store.GetActivePeriods("GHCND:NOPE")
	if err != nil {
		t.Fatalf("GetActivePeriods: %v", err)
	}
	if found {
		t.Error("found = true, want false")
	}
}

func TestCollectionRunLifecycle(t *testing.T) {
	store := setupTestStore(t)

	run, err := store.StartCollectionRun("GHCND:TEST0001", 2024)
	if err != nil {
		t.Fatalf("StartCollectionRun: %v", err)
	}
	if run.ID == 0 {
		t.Fatal("run.ID = 0, want assigned id")
	}

	run.RecordsCollected = 812
	run.RecordsStored = 365
	run.Success = true
	if err := store.CompleteCollectionRun(run); err != nil {
		t.Fatalf("CompleteCollectionRun: %v", err)
	}

	runs, err := store.GetRecentCollectionRuns(10)
	if err != nil {
		t.Fatalf("GetRecentCollectionRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("len(runs) = %d, want 1", len(runs))
	}
	got := runs[0]
	if got.RecordsCollected != 812 || got.RecordsStored != 365 || !got.Success {
		t.Errorf("run = %+v, want collected=812 stored=365 success", got)
	}
	if !got.CompletedAt.Valid {
		t.Error("CompletedAt not set")
	}
}
