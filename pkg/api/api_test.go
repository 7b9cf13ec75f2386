package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/giesencoffeeroasters/btanalyzer/pkg/analyzer"
	"github.com/giesencoffeeroasters/btanalyzer/pkg/mock"
	"github.com/giesencoffeeroasters/btanalyzer/pkg/session"
	"github.com/giesencoffeeroasters/btanalyzer/pkg/syncqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	storeErr error
	batchErr error
	linkErr  error
}

func (f *fakeBackend) StoreMeasurement(_ context.Context, _ analyzer.Measurement) error {
	return f.storeErr
}

func (f *fakeBackend) StoreMeasurementBatch(_ context.Context, _ []analyzer.Measurement) error {
	return f.batchErr
}

func (f *fakeBackend) LinkMeasurement(_ context.Context, _ string, _ analyzer.Link) error {
	return f.linkErr
}

func newTestAPI(t *testing.T, client *fakeBackend) (*API, *syncqueue.Queue) {
	return newTestAPIWith(t, client, time.Millisecond)
}

func newTestAPIWith(t *testing.T, client *fakeBackend, stepDelay time.Duration) (*API, *syncqueue.Queue) {
	t.Helper()

	device, err := mock.New(mock.WithStepDelay(stepDelay))
	require.NoError(t, err)
	t.Cleanup(func() { _ = device.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var deviceID string
	require.NoError(t, device.Scan(ctx, func(d analyzer.ScannedDevice) {
		deviceID = d.ID
	}))
	require.NoError(t, device.Connect(context.Background(), deviceID))

	store, err := syncqueue.OpenStore(filepath.Join(t.TempDir(), "measurements.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	queue := syncqueue.New(store, client)
	sess := session.New(device, session.WithDeviceID(deviceID))

	return New(device, sess, queue), queue
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func TestStatus(t *testing.T) {
	api, _ := newTestAPI(t, &fakeBackend{})

	resp, err := api.router.Test(jsonRequest(http.MethodGet, "/status", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status struct {
		State     string `json:"state"`
		Measuring bool   `json:"measuring"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "connected", status.State)
	assert.False(t, status.Measuring)
}

func TestMeasure(t *testing.T) {
	api, _ := newTestAPI(t, &fakeBackend{})

	resp, err := api.router.Test(jsonRequest(http.MethodPost, "/measure", `{"coffee_type":"green"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	// A second trigger while the first is still running is rejected
	resp, err = api.router.Test(jsonRequest(http.MethodPost, "/measure", `{"coffee_type":"green"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestMeasureDeviceBusy(t *testing.T) {
	api, _ := newTestAPIWith(t, &fakeBackend{}, 250*time.Millisecond)

	// Occupy the device outside the session so the busy error surfaces
	// wrapped from the start-measurement command, not from the session's
	// own in-flight guard
	require.NoError(t, api.device.StartMeasurement(analyzer.CoffeeTypeGreen))

	resp, err := api.router.Test(jsonRequest(http.MethodPost, "/measure", `{"coffee_type":"green"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestMeasureUnknownType(t *testing.T) {
	api, _ := newTestAPI(t, &fakeBackend{})

	resp, err := api.router.Test(jsonRequest(http.MethodPost, "/measure", `{"coffee_type":"decaf"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSync(t *testing.T) {
	client := &fakeBackend{storeErr: assert.AnError}
	api, queue := newTestAPI(t, client)

	// Queue up a measurement that failed its immediate upload
	require.NoError(t, queue.Complete(context.Background(), analyzer.Measurement{
		ID:       "m-1",
		DeviceID: "00:11:22:33:44:55",
		TakenAt:  time.Now().UTC(),
	}, nil))

	client.storeErr, client.batchErr = nil, nil

	resp, err := api.router.Test(jsonRequest(http.MethodPost, "/sync", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Synced int `json:"synced"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, 1, result.Synced)
}

func TestPendingAndHistory(t *testing.T) {
	api, queue := newTestAPI(t, &fakeBackend{storeErr: assert.AnError})

	require.NoError(t, queue.Complete(context.Background(), analyzer.Measurement{
		ID:       "m-1",
		DeviceID: "00:11:22:33:44:55",
		TakenAt:  time.Now().UTC(),
	}, nil))

	resp, err := api.router.Test(jsonRequest(http.MethodGet, "/measurements/pending", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var pending []analyzer.Measurement
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pending))
	assert.Len(t, pending, 1)

	resp, err = api.router.Test(jsonRequest(http.MethodGet, "/measurements?limit=bogus", ""))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLinkValidation(t *testing.T) {
	api, _ := newTestAPI(t, &fakeBackend{})

	resp, err := api.router.Test(jsonRequest(http.MethodPost, "/measurements/m-1/link", `{"measurable_type":"customer","measurable_id":"42"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = api.router.Test(jsonRequest(http.MethodPost, "/measurements/m-1/link", `{"measurable_type":"roast"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
