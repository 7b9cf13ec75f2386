package mock

import (
	"context"
	"testing"
	"time"

	"github.com/giesencoffeeroasters/btanalyzer/pkg/analyzer"
	"github.com/giesencoffeeroasters/btanalyzer/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ analyzer.Analyzer = (*Mock)(nil)

func newConnected(t *testing.T, options ...func(*Mock)) *Mock {
	t.Helper()

	m, err := New(append(options, WithStepDelay(time.Millisecond))...)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, m.Close())
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var found []analyzer.ScannedDevice
	require.NoError(t, m.Scan(ctx, func(d analyzer.ScannedDevice) {
		found = append(found, d)
	}))
	require.Len(t, found, 1)

	require.NoError(t, m.Connect(context.Background(), found[0].ID))
	return m
}

func TestConnectUnknownDevice(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	assert.ErrorIs(t, m.Connect(context.Background(), "de:ad:be:ef:00:00"), analyzer.ErrNoDevice)
}

func TestMeasurementSequence(t *testing.T) {
	m := newConnected(t, WithWaterActivity())

	events := make(chan protocol.Event, 16)
	m.SetEventChannel(events)

	require.NoError(t, m.StartMeasurement(analyzer.CoffeeTypeGreen))

	var got []protocol.Event
	deadline := time.After(time.Second)
	for len(got) < 7 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("timed out after %d events", len(got))
		}
	}

	assert.IsType(t, protocol.MeasurementStarted{}, got[0])
	bean, ok := got[1].(protocol.BeanType)
	require.True(t, ok, "expected BeanType, got %T", got[1])
	assert.Equal(t, byte(analyzer.CoffeeTypeGreen), bean.BeanType)
	assert.True(t, bean.DetectWaterActivity)

	// Water activity arrives after the roast analysis, mirroring the
	// device's ordering
	assert.IsType(t, protocol.Agtron{}, got[5])
	assert.IsType(t, protocol.WaterActivity{}, got[6])

	require.Eventually(t, func() bool {
		return m.ConnectionStatus().State == analyzer.StateConnected
	}, time.Second, time.Millisecond)
}

func TestMeasurementBusy(t *testing.T) {
	m := newConnected(t)

	events := make(chan protocol.Event, 16)
	m.SetEventChannel(events)

	require.NoError(t, m.StartMeasurement(analyzer.CoffeeTypeRoasted))
	assert.ErrorIs(t, m.StartMeasurement(analyzer.CoffeeTypeRoasted), analyzer.ErrBusy)

	for range make([]struct{}, 5) {
		<-events
	}
}

func TestStartMeasurementNotConnected(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	assert.ErrorIs(t, m.StartMeasurement(analyzer.CoffeeTypeGreen), analyzer.ErrNotConnected)
}

func TestDeviceInfo(t *testing.T) {
	m := newConnected(t)

	var events []protocol.Event
	m.SetEventHandler(func(ev protocol.Event) {
		events = append(events, ev)
	})

	require.NoError(t, m.RequestDeviceInfo())
	require.Len(t, events, 4)

	info := m.DeviceInfo()
	assert.Equal(t, "MOCK-0001", info.SerialNumber)
	assert.Equal(t, "1.2.3", info.FirmwareVersion)
	assert.Equal(t, byte(80), info.BatteryLevel)
}
