package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	APICalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stationclimate_cdo_api_calls_total",
			Help: "Total CDO API calls by dataset and HTTP status",
		},
		[]string{"dataset", "status"},
	)

	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stationclimate_cdo_api_latency_seconds",
			Help:    "CDO API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"dataset"},
	)

	APIRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stationclimate_cdo_api_retries_total",
			Help: "Total retried CDO API calls",
		},
		[]string{"dataset"},
	)

	RecordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stationclimate_records_skipped_total",
			Help: "Raw records dropped as malformed",
		},
		[]string{"dataset"},
	)

	ObservationsStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stationclimate_observations_stored_total",
			Help: "Daily observations written to the store",
		},
	)

	CollectionJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stationclimate_collection_jobs_total",
			Help: "Station/year collection jobs by outcome",
		},
		[]string{"outcome"},
	)
)
