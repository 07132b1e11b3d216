package cdo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"

	"github.com/lox/stationclimate/internal/httputil"
	"github.com/lox/stationclimate/internal/metrics"
)

const (
	DefaultBaseURL = "https://www.ncei.noaa.gov/cdo-web/api/v2"

	// PageLimit is the API's per-call record cap.
	PageLimit = 1000

	defaultConcurrency = 3
	defaultPace        = 500 * time.Millisecond
	defaultMaxElapsed  = 2 * time.Minute
)

// APIError is a non-retryable HTTP failure (4xx other than 429).
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cdo: status %d: %s", e.StatusCode, e.Body)
}

type ClientConfig struct {
	Token       string
	BaseURL     string
	Concurrency int           // max in-flight calls
	Pace        time.Duration // minimum spacing between calls
	MaxElapsed  time.Duration // retry budget per call
	RetryBase   time.Duration // first backoff interval
	HTTPClient  *http.Client
	Clock       clockwork.Clock
}

// Client issues bounded, paced, retried calls against the CDO API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	clock      clockwork.Clock
	breaker    *gobreaker.CircuitBreaker
	sem        chan struct{}
	pace       time.Duration
	maxElapsed time.Duration
	retryBase  time.Duration

	mu       sync.Mutex
	nextCall time.Time
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Pace <= 0 {
		cfg.Pace = defaultPace
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = defaultMaxElapsed
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 2 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = httputil.NewClient()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "cdo-api",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 8
		},
		Timeout: 30 * time.Second,
	})

	return &Client{
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		httpClient: cfg.HTTPClient,
		clock:      cfg.Clock,
		breaker:    breaker,
		sem:        make(chan struct{}, cfg.Concurrency),
		pace:       cfg.Pace,
		maxElapsed: cfg.MaxElapsed,
		retryBase:  cfg.RetryBase,
	}
}

// FetchPage performs one data call, retrying transient failures. Rate
// limiting (429), server errors, and timeouts retry with exponential
// backoff; any other 4xx fails immediately for this call only.
func (c *Client) FetchPage(ctx context.Context, q Query) (Page, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return Page{}, ctx.Err()
	}
	defer func() { <-c.sem }()

	c.waitForSlot()

	reqURL := c.buildURL(q)

	var body []byte
	operation := func() error {
		result, err := c.breaker.Execute(func() (interface{}, error) {
			return c.do(ctx, reqURL, q)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				// Breaker is shedding load; keep backing off until it
				// half-opens.
				return fmt.Errorf("cdo: circuit open: %w", err)
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return backoff.Permanent(apiErr)
			}
			metrics.APIRetries.WithLabelValues(q.DatasetID).Inc()
			return err
		}
		body = result.([]byte)
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryBase
	bo.MaxElapsedTime = c.maxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return Page{}, err
	}

	return c.decode(q, body)
}

// waitForSlot enforces the minimum inter-call spacing across all workers.
func (c *Client) waitForSlot() {
	c.mu.Lock()
	now := c.clock.Now()
	wait := c.nextCall.Sub(now)
	if wait < 0 {
		wait = 0
	}
	c.nextCall = now.Add(wait + c.pace)
	c.mu.Unlock()

	if wait > 0 {
		c.clock.Sleep(wait)
	}
}

func (c *Client) buildURL(q Query) string {
	v := url.Values{}
	v.Set("datasetid", q.DatasetID)
	v.Set("stationid", q.StationID)
	v.Set("startdate", q.Start.Format("2006-01-02"))
	v.Set("enddate", q.End.Format("2006-01-02"))
	v.Set("limit", fmt.Sprintf("%d", q.Limit))
	v.Set("sortfield", "date")
	v.Set("sortorder", "desc")
	return c.baseURL + "/data?" + v.Encode()
}

func (c *Client) do(ctx context.Context, reqURL string, q Query) ([]byte, error) {
	start := c.clock.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("token", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Covers timeouts and connection failures; both retry.
		metrics.APICalls.WithLabelValues(q.DatasetID, "error").Inc()
		return nil, fmt.Errorf("cdo: request failed: %w", err)
	}
	defer resp.Body.Close()

	metrics.APICalls.WithLabelValues(q.DatasetID, fmt.Sprintf("%d", resp.StatusCode)).Inc()
	metrics.APILatency.WithLabelValues(q.DatasetID).Observe(c.clock.Since(start).Seconds())

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("cdo: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cdo: read body: %w", err)
	}
	return body, nil
}

type apiResponse struct {
	Metadata struct {
		Resultset struct {
			Count  int `json:"count"`
			Limit  int `json:"limit"`
			Offset int `json:"offset"`
		} `json:"resultset"`
	} `json:"metadata"`
	Results []apiRecord `json:"results"`
}

type apiRecord struct {
	Date     string  `json:"date"`
	Datatype string  `json:"datatype"`
	Station  string  `json:"station"`
	Value    float64 `json:"value"`
}

// decode parses a response body. Malformed records are dropped
// individually; an empty body (the API's "no results" shape) decodes to
// an empty page.
func (c *Client) decode(q Query, body []byte) (Page, error) {
	var data apiResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return Page{}, fmt.Errorf("cdo: unmarshal: %w", err)
	}

	page := Page{
		RawCount: len(data.Results),
		Total:    data.Metadata.Resultset.Count,
	}
	for _, r := range data.Results {
		date, err := parseRecordDate(r.Date)
		if err != nil || r.Datatype == "" {
			page.Skipped++
			metrics.RecordsSkipped.WithLabelValues(q.DatasetID).Inc()
			continue
		}
		station := r.Station
		if station == "" {
			station = q.StationID
		}
		page.Records = append(page.Records, Record{
			StationID: station,
			Date:      date,
			Datatype:  r.Datatype,
			Value:     r.Value,
		})
	}
	return page, nil
}

// parseRecordDate handles the API's local-time stamp, with and without
// the time portion.
func parseRecordDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}
