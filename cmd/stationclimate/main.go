package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/lox/stationclimate/internal/api"
	"github.com/lox/stationclimate/internal/cdo"
	"github.com/lox/stationclimate/internal/ingest"
	"github.com/lox/stationclimate/internal/models"
	"github.com/lox/stationclimate/internal/store"
)

type cli struct {
	DB       string `help:"Path to the SQLite database." default:"data/stationclimate.db"`
	Token    string `help:"NOAA CDO API token." env:"CDO_TOKEN" required:""`
	Stations string `help:"JSON file of stations to register at startup." type:"existingfile" optional:""`
	Workers  int    `help:"Concurrent collection jobs." default:"3"`

	Serve    serveCmd    `cmd:"" help:"Run the HTTP server with scheduled collection."`
	Collect  collectCmd  `cmd:"" help:"Collect the given years for the given stations and exit."`
	Backfill backfillCmd `cmd:"" help:"Collect every year from --from through the current year."`
}

// app carries the wired dependencies into the command Run methods.
type app struct {
	store     *store.Store
	collector *ingest.Collector
}

type serveCmd struct {
	Port     string `help:"HTTP server port." default:"8080"`
	Schedule string `help:"Cron schedule for re-collecting the current year." default:"0 3 * * *"`
}

func (c *serveCmd) Run(a *app) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	scheduler := ingest.NewScheduler(a.store, a.collector, c.Schedule)
	go func() {
		if err := scheduler.Run(ctx); err != nil {
			log.Printf("scheduler: %v", err)
		}
	}()

	server := api.NewServer(a.store, a.collector, c.Port)
	return server.Run(ctx)
}

type collectCmd struct {
	StationIDs []string `arg:"" optional:"" name:"station" help:"Station ids to collect. Defaults to every active station."`
	Years      []int    `help:"Years to collect." default:"${current_year}"`
}

func (c *collectCmd) Run(a *app) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stations, err := resolveStations(a.store, c.StationIDs)
	if err != nil {
		return err
	}
	summary := a.collector.Collect(ctx, stations, c.Years)
	fmt.Println(summary)
	return nil
}

type backfillCmd struct {
	StationIDs []string `arg:"" optional:"" name:"station" help:"Station ids to backfill. Defaults to every active station."`
	From       int      `help:"First year to collect." default:"2000"`
}

func (c *backfillCmd) Run(a *app) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	current := time.Now().UTC().Year()
	if c.From > current {
		return fmt.Errorf("--from %d is in the future", c.From)
	}

	stations, err := resolveStations(a.store, c.StationIDs)
	if err != nil {
		return err
	}
	var years []int
	for year := c.From; year <= current; year++ {
		years = append(years, year)
	}

	log.Printf("backfilling %d stations over %d-%d", len(stations), c.From, current)
	summary := a.collector.Collect(ctx, stations, years)
	fmt.Println(summary)
	return nil
}

func resolveStations(st *store.Store, ids []string) ([]string, error) {
	if len(ids) > 0 {
		return ids, nil
	}
	stations, err := st.GetActiveStations()
	if err != nil {
		return nil, fmt.Errorf("list stations: %w", err)
	}
	if len(stations) == 0 {
		return nil, fmt.Errorf("no active stations registered (use --stations to seed)")
	}
	out := make([]string, len(stations))
	for i, s := range stations {
		out[i] = s.StationID
	}
	return out, nil
}

func seedStations(st *store.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var stations []models.Station
	if err := json.Unmarshal(data, &stations); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	for _, station := range stations {
		if err := st.UpsertStation(station); err != nil {
			return fmt.Errorf("upsert station %s: %w", station.StationID, err)
		}
	}
	log.Printf("seeded %d stations from %s", len(stations), path)
	return nil
}

func main() {
	var flags cli
	ktx := kong.Parse(&flags,
		kong.Name("stationclimate"),
		kong.Description("Acquires daily weather observations from NOAA CDO and tracks per-station coverage."),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
		kong.UsageOnError(),
		kong.Vars{"current_year": fmt.Sprint(time.Now().UTC().Year())},
	)

	db, err := sql.Open("sqlite", flags.DB)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	if flags.Stations != "" {
		if err := seedStations(st, flags.Stations); err != nil {
			log.Fatalf("seed stations: %v", err)
		}
	}

	client := cdo.NewClient(cdo.ClientConfig{
		Token:       flags.Token,
		Concurrency: flags.Workers,
	})
	paginator := cdo.NewPaginator(client, 0, nil)
	collector := ingest.NewCollector(st, paginator, ingest.CollectorConfig{
		Workers: flags.Workers,
	})

	ktx.FatalIfErrorf(ktx.Run(&app{store: st, collector: collector}))
}
