package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/color-tally/backend/internal/counter"
	"github.com/color-tally/backend/internal/health"
	"github.com/color-tally/backend/internal/ws"
)

// HTTPClient makes REST calls to the tally server.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client targeting the given base URL (e.g. "http://127.0.0.1:8080").
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Increment sends POST /api/increment/{color}.
func (c *HTTPClient) Increment(color counter.Color) error {
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/increment/"+url.PathEscape(string(color)), nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("increment %s failed (%d): %s", color, resp.StatusCode, string(body))
	}
	return nil
}

// Counters fetches /api/counters.
func (c *HTTPClient) Counters() (*ws.CountersResponse, error) {
	var out ws.CountersResponse
	if err := c.get("/api/counters", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health fetches /api/health.
func (c *HTTPClient) Health() (*health.Report, error) {
	var out health.Report
	if err := c.get("/api/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) get(path string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s: %d %s", path, resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
