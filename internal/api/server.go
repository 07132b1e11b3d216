package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/stationclimate/internal/ingest"
	"github.com/lox/stationclimate/internal/store"
)

const dateFormat = "2006-01-02"

// Server exposes the stored data and a collection trigger over JSON.
type Server struct {
	store     *store.Store
	collector *ingest.Collector
	port      string
}

func NewServer(store *store.Store, collector *ingest.Collector, port string) *Server {
	return &Server{
		store:     store,
		collector: collector,
		port:      port,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/stations", s.handleStations)
	mux.HandleFunc("GET /api/stations/{id}/periods", s.handlePeriods)
	mux.HandleFunc("GET /api/stations/{id}/observations", s.handleObservations)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("POST /api/collect", s.handleCollect)
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    ":" + s.port,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("api: listening on :%s", s.port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStations(w http.ResponseWriter, r *http.Request) {
	stations, err := s.store.GetActiveStations()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stations)
}

type periodResponse struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Days  int    `json:"days"`
}

func (s *Server) handlePeriods(w http.ResponseWriter, r *http.Request) {
	stationID := r.PathValue("id")

	set, found, err := s.store.GetActivePeriods(stationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "unknown station "+stationID)
		return
	}

	periods := make([]periodResponse, 0, len(set))
	for _, p := range set {
		periods = append(periods, periodResponse{
			Start: p.Start.Format(dateFormat),
			End:   p.End.Format(dateFormat),
			Days:  p.Days,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"station_id": stationID,
		"periods":    periods,
		"total_days": set.TotalDays(),
	})
}

func (s *Server) handleObservations(w http.ResponseWriter, r *http.Request) {
	stationID := r.PathValue("id")

	start, err := time.Parse(dateFormat, r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "start must be YYYY-MM-DD")
		return
	}
	end, err := time.Parse(dateFormat, r.URL.Query().Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "end must be YYYY-MM-DD")
		return
	}
	if end.Before(start) {
		writeError(w, http.StatusBadRequest, "end before start")
		return
	}

	observations, err := s.store.GetDailyObservations(stationID, start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, observations)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.GetRecentCollectionRuns(50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

type collectRequest struct {
	Stations []string `json:"stations"` // empty means all active stations
	Years    []int    `json:"years"`    // empty means the current year
}

// handleCollect runs a collection pass synchronously and returns its
// summary. Callers wanting progress should watch /api/runs.
func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	var req collectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if len(req.Stations) == 0 {
		stations, err := s.store.GetActiveStations()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		for _, st := range stations {
			req.Stations = append(req.Stations, st.StationID)
		}
	}
	if len(req.Stations) == 0 {
		writeError(w, http.StatusBadRequest, "no stations registered")
		return
	}
	if len(req.Years) == 0 {
		req.Years = []int{time.Now().UTC().Year()}
	}
	for _, year := range req.Years {
		if year < 1763 || year > time.Now().UTC().Year() {
			writeError(w, http.StatusBadRequest, "year out of range")
			return
		}
	}

	log.Printf("api: collect requested: %d stations, years %v", len(req.Stations), req.Years)
	summary := s.collector.Collect(r.Context(), req.Stations, req.Years)
	writeJSON(w, http.StatusOK, summary)
}
