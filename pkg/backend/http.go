package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/giesencoffeeroasters/btanalyzer/pkg/analyzer"
)

const defaultTimeout = 15 * time.Second

// HTTPClient implements Client against the cloud REST API
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPClient instantiates a new HTTP backend client. A zero timeout falls
// back to a sensible default.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

// StoreMeasurement persists a single finished measurement
func (c *HTTPClient) StoreMeasurement(ctx context.Context, m analyzer.Measurement) error {
	return c.post(ctx, "/api/v1/measurements", m)
}

// StoreMeasurementBatch persists a set of measurements in one request
func (c *HTTPClient) StoreMeasurementBatch(ctx context.Context, ms []analyzer.Measurement) error {
	return c.post(ctx, "/api/v1/measurements/batch", struct {
		Measurements []analyzer.Measurement `json:"measurements"`
	}{Measurements: ms})
}

// LinkMeasurement attaches an already-stored measurement to an external
// entity
func (c *HTTPClient) LinkMeasurement(ctx context.Context, measurementID string, link analyzer.Link) error {
	endpoint := fmt.Sprintf("/api/v1/measurements/%s/link", url.PathEscape(measurementID))
	return c.post(ctx, endpoint, link)
}

func (c *HTTPClient) post(ctx context.Context, endpoint string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("backend encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("backend %s HTTP %d: %s", endpoint, resp.StatusCode, compactBody(respBody))
	}

	return nil
}

func compactBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 320 {
		return s[:320] + "..."
	}
	return s
}
