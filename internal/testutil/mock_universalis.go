// Package testutil provides testing utilities for the price cache.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockResponse defines a scripted response of the mock pricing API.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockUniversalis is a configurable mock pricing API server for testing.
// Requests without a scripted response get a generated body for the
// requested item ids: a bare object for one id, an id-keyed dictionary otherwise.
type MockUniversalis struct {
	server *httptest.Server

	mu        sync.Mutex
	scripted  []MockResponse
	prices    map[uint32]float64
	requests  []string
	userAgent string
}

// NewMockUniversalis creates a new mock server.
func NewMockUniversalis() *MockUniversalis {
	mock := &MockUniversalis{
		prices: make(map[uint32]float64),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server URL.
func (m *MockUniversalis) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockUniversalis) Close() {
	m.server.Close()
}

// Reset clears scripted responses and request tracking.
func (m *MockUniversalis) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripted = nil
	m.requests = nil
	m.userAgent = ""
}

// Enqueue scripts the next responses, served in order before falling back to
// generated bodies.
func (m *MockUniversalis) Enqueue(responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripted = append(m.scripted, responses...)
}

// SetPrice sets the average price returned for an item in generated bodies.
func (m *MockUniversalis) SetPrice(itemID uint32, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[itemID] = price
}

// RequestCount returns the number of requests received.
func (m *MockUniversalis) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// RequestPaths returns the paths of all received requests, in order.
func (m *MockUniversalis) RequestPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.requests...)
}

// LastUserAgent returns the User-Agent of the most recent request.
func (m *MockUniversalis) LastUserAgent() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userAgent
}

func (m *MockUniversalis) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requests = append(m.requests, r.URL.Path)
	m.userAgent = r.Header.Get("User-Agent")
	var next *MockResponse
	if len(m.scripted) > 0 {
		next = &m.scripted[0]
		m.scripted = m.scripted[1:]
	}
	m.mu.Unlock()

	if next != nil {
		if next.Delay > 0 {
			select {
			case <-time.After(next.Delay):
			case <-r.Context().Done():
				return
			}
		}
		for key, value := range next.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(next.StatusCode)
		if next.Body != "" {
			w.Write([]byte(next.Body))
		}
		return
	}

	ids, err := ItemIDsFromPath(r.URL.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(m.body(ids)))
}

func (m *MockUniversalis) body(ids []uint32) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(ids) == 1 {
		return ItemJSON(ids[0], m.prices[ids[0]])
	}

	items := make([]string, 0, len(ids))
	idList := make([]string, 0, len(ids))
	for _, id := range ids {
		idList = append(idList, strconv.FormatUint(uint64(id), 10))
		items = append(items, fmt.Sprintf("%q: %s", strconv.FormatUint(uint64(id), 10), ItemJSON(id, m.prices[id])))
	}
	return fmt.Sprintf(`{"itemIDs": [%s], "items": {%s}}`, strings.Join(idList, ","), strings.Join(items, ","))
}

// ItemIDsFromPath extracts the comma-joined item ids from the last path segment.
func ItemIDsFromPath(path string) ([]uint32, error) {
	segment := path[strings.LastIndex(path, "/")+1:]
	if segment == "" {
		return nil, fmt.Errorf("no item ids in path %q", path)
	}

	parts := strings.Split(segment, ",")
	ids := make([]uint32, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid item id %q: %w", p, err)
		}
		ids = append(ids, uint32(id))
	}
	return ids, nil
}

// ItemJSON renders a single-item API object with one NQ listing at price.
func ItemJSON(itemID uint32, price float64) string {
	item := map[string]any{
		"itemID":              itemID,
		"worldID":             21,
		"lastUploadTime":      time.Now().UnixMilli(),
		"currentAveragePrice": price,
		"averagePrice":        price,
		"averagePriceNQ":      price,
		"minPrice":            price,
		"maxPrice":            price,
		"regularSaleVelocity": 1.0,
		"listings": []map[string]any{
			{"pricePerUnit": uint32(price), "quantity": 1, "total": uint32(price), "hq": false, "lastReviewTime": time.Now().Unix()},
		},
		"recentHistory": []map[string]any{},
		"hasData":       true,
	}
	data, _ := json.Marshal(item)
	return string(data)
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
	}
}

// NewGatewayTimeoutResponse creates the plain-text gateway timeout response.
func NewGatewayTimeoutResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusGatewayTimeout,
		Body:       "error code: 504",
		Headers:    map[string]string{"Content-Type": "text/plain"},
	}
}

// NewMalformedResponse creates a 200 response with a body that is not JSON.
func NewMalformedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `<html>maintenance</html>`,
		Headers:    map[string]string{"Content-Type": "text/html"},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
	}
}

// NewNotFoundResponse creates a 404 response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"error": "Not found"}`,
	}
}
