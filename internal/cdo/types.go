// Package cdo fetches historical observation records from the NOAA
// Climate Data Online v2 API. The API serves one station per call, caps
// responses at a fixed record count, limits each query to a one-year
// span, and enforces a request-rate ceiling; Client and Paginator exist
// to work inside those constraints.
package cdo

import (
	"context"
	"time"
)

// Record is one raw per-parameter datum as returned by the API.
type Record struct {
	StationID string
	Date      time.Time
	Datatype  string
	Value     float64
}

// Page is one API response worth of records.
type Page struct {
	Records []Record
	// RawCount is the number of results in the response before malformed
	// records were dropped. Pagination decisions use RawCount so a bad
	// record cannot mask a capped response.
	RawCount int
	// Total is the resultset count the API reports for the whole
	// remaining window, which may exceed len(Records).
	Total   int
	Skipped int
}

// Query identifies one API call.
type Query struct {
	DatasetID string
	StationID string
	Start     time.Time
	End       time.Time
	Limit     int
}

// PageFetcher is the single-call contract Paginator drives. Client
// implements it; tests feed canned pages through it.
type PageFetcher interface {
	FetchPage(ctx context.Context, q Query) (Page, error)
}
