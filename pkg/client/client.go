// Package client provides the pricing API HTTP client: request construction,
// a single batch fetch and failure classification. Retry scheduling is left to
// the caller (see pkg/fetch).
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/market-price-cache/pkg/quote"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for pricing API requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "universalis_requests_total",
		Help: "Total pricing API requests by status",
	}, []string{"status"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "universalis_request_duration_seconds",
		Help:    "Pricing API request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "universalis_errors_total",
		Help: "Total pricing API errors by class",
	}, []string{"class"})

	batchItems = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "universalis_batch_items",
		Help:    "Number of item ids per pricing API request",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 40, 50},
	})
)

// GatewayTimeoutBody is the plain-text body the API's edge returns on gateway timeouts.
const GatewayTimeoutBody = "error code: 504"

// DefaultUserAgent is sent when no User-Agent is configured.
const DefaultUserAgent = "market-price-cache/0.1.0"

// Config holds the client configuration.
type Config struct {
	// BaseURL of the pricing API, without version.
	BaseURL string

	// APIVersion path segment, e.g. "v2".
	APIVersion string

	// UserAgent header.
	UserAgent string

	// Listings is the number of listings to request (0 = API default).
	Listings int

	// Entries is the number of recent history entries to request (0 = API default).
	Entries int

	// HQ filters by quality when set.
	HQ *bool

	// StatsWithin is the window for aggregate statistics (0 = API default).
	StatsWithin time.Duration

	// EntriesWithin is the window for history entries (0 = API default).
	EntriesWithin time.Duration

	// Fields restricts the returned fields.
	Fields []string

	// Timeout per HTTP request.
	Timeout time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig(userAgent string) Config {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return Config{
		BaseURL:       "https://universalis.app/api",
		APIVersion:    "v2",
		UserAgent:     userAgent,
		Listings:      30,
		Entries:       30,
		StatsWithin:   4 * 7 * 24 * time.Hour,
		EntriesWithin: 4 * 7 * 24 * time.Hour,
		Timeout:       30 * time.Second,
	}
}

// Limits returns the list bounds applied to normalized quotes.
func (c Config) Limits() quote.Limits {
	return quote.Limits{MaxListings: c.Listings, MaxHistory: c.Entries}
}

// Client is the pricing API client.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
	now        func() time.Time
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Listings < 0 || cfg.Entries < 0 {
		return nil, fmt.Errorf("listings and entries must be >= 0")
	}
	if cfg.StatsWithin < 0 || cfg.EntriesWithin < 0 {
		return nil, fmt.Errorf("stats and entries windows must be >= 0")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
		logger: log.With().Str("component", "universalis-client").Logger(),
		now:    time.Now,
	}, nil
}

// Config returns the client configuration.
func (c *Client) Config() Config {
	return c.config
}

// FetchBatch performs one GET for itemIDs on the named world and returns one
// quote per item present in the response. It never retries; failures are
// returned as errors classifiable with Classify.
func (c *Client) FetchBatch(ctx context.Context, worldName string, worldID uint32, itemIDs []uint32) (map[uint32]*quote.Quote, error) {
	itemIDs = dedupe(itemIDs)
	requestURL, err := c.config.BuildURL(worldName, itemIDs)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassClient)).Inc()
		return nil, &APIError{ErrorClass: ErrorClassClient, Message: "build request url", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("world", worldName).
		Int("batch_size", len(itemIDs)).
		Str("url", requestURL).
		Msg("Sending pricing request")

	batchItems.Observe(float64(len(itemIDs)))
	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	requestDuration.Observe(time.Since(startTime).Seconds())
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			requestsTotal.WithLabelValues("cancelled").Inc()
			return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues("network_error").Inc()
		return nil, &APIError{ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	status := strconv.Itoa(resp.StatusCode)
	requestsTotal.WithLabelValues(status).Inc()

	if resp.StatusCode == http.StatusTooManyRequests {
		errorsTotal.WithLabelValues(string(ErrorClassRateLimit)).Inc()
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassRateLimit,
			Message:    resp.Status,
			Err:        ErrRateLimited,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &APIError{StatusCode: resp.StatusCode, ErrorClass: ErrorClassNetwork, Message: "read body", Err: err}
	}

	if string(bytes.TrimSpace(body)) == GatewayTimeoutBody {
		errorsTotal.WithLabelValues(string(ErrorClassGatewayTimeout)).Inc()
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassGatewayTimeout,
			Message:    GatewayTimeoutBody,
			Err:        ErrGatewayTimeout,
		}
	}

	if resp.StatusCode >= 500 {
		errorsTotal.WithLabelValues(string(ErrorClassServer)).Inc()
		return nil, &APIError{StatusCode: resp.StatusCode, ErrorClass: ErrorClassServer, Message: resp.Status}
	}
	if resp.StatusCode >= 400 {
		errorsTotal.WithLabelValues(string(ErrorClassClient)).Inc()
		return nil, &APIError{StatusCode: resp.StatusCode, ErrorClass: ErrorClassClient, Message: resp.Status}
	}

	decoded, err := quote.DecodeResponse(body, len(itemIDs))
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassParse)).Inc()
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassParse,
			Message:    "decode response",
			Err:        fmt.Errorf("%w: %v", ErrParse, err),
		}
	}

	return decoded.Quotes(worldID, c.now(), c.config.Limits()), nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
