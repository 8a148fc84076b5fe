package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"motionboard/pkg/middleware"
)

// UpstreamError is a non-2xx answer from the gateway.
type UpstreamError struct {
	Endpoint   string
	Status     int
	StatusText string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: HTTP error! status: %d %s", e.Endpoint, e.Status, e.StatusText)
}

// Client talks to the ingest gateway.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient targets the gateway at baseURL. A nil hc gets a traced client
// with a 15s timeout.
func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = middleware.TracedClient(15 * time.Second)
	}
	return &Client{base: strings.TrimRight(baseURL, "/") + "/", http: hc}
}

// WithToken makes every request carry "Authorization: Bearer token". An empty
// token sends no header.
func (c *Client) WithToken(token string) *Client {
	c.token = token
	return c
}

// Ingest posts one batch to /api/v1/ingest/.
func (c *Client) Ingest(ctx context.Context, records []Record) (IngestResponse, error) {
	var out IngestResponse
	err := c.do(ctx, http.MethodPost, "api/v1/ingest/", IngestRequest{Records: records}, &out)
	return out, err
}

// RegisterDevice asks the gateway for a new device id.
func (c *Client) RegisterDevice(ctx context.Context) (Registration, error) {
	var out Registration
	err := c.do(ctx, http.MethodPost, "api/v1/devices/register", nil, &out)
	return out, err
}

// Health returns the ingest readiness document.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	err := c.do(ctx, http.MethodGet, "api/v1/ingest/health", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &UpstreamError{Endpoint: path, Status: resp.StatusCode, StatusText: http.StatusText(resp.StatusCode)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
