package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giesencoffeeroasters/btanalyzer/pkg/analyzer"
	"github.com/giesencoffeeroasters/btanalyzer/pkg/protocol"
)

func beanTypeEvent(bean byte, detectWaterActivity bool) protocol.Event {
	return protocol.BeanType{BeanTypeResult: protocol.BeanTypeResult{
		BeanType:            bean,
		DetectWaterActivity: detectWaterActivity,
	}}
}

func moistureEvent() protocol.Event {
	return protocol.MoistureDensity{MoistureDensityResult: protocol.MoistureDensityResult{
		Moisture: 11.2,
		Density:  680.5,
		Weight:   102.3,
	}}
}

func agtronEvent() protocol.Event {
	res := protocol.AgtronResult{Agtron: 63.7, Variance: 2.4}
	for i := range res.BarHistogram {
		res.BarHistogram[i] = uint16(i)
	}
	for i := range res.PieHistogram {
		res.PieHistogram[i] = uint16(i * 10)
	}
	return protocol.Agtron{AgtronResult: res}
}

func waterActivityEvent() protocol.Event {
	return protocol.WaterActivity{WaterActivityResult: protocol.WaterActivityResult{
		WaterActivity: 0.55,
		SampleTemp:    22.8,
	}}
}

func run(t *testing.T, events []protocol.Event) (State, []Outcome) {
	t.Helper()

	s := Begin(analyzer.CoffeeTypeGreen)
	outcomes := make([]Outcome, 0, len(events))
	for _, ev := range events {
		var outcome Outcome
		s, outcome = Step(s, ev)
		outcomes = append(outcomes, outcome)
	}

	return s, outcomes
}

func TestSequenceWithoutWaterActivity(t *testing.T) {
	s, outcomes := run(t, []protocol.Event{
		protocol.MeasurementStarted{},
		beanTypeEvent(0x04, false),
		moistureEvent(),
		agtronEvent(),
	})

	assert.Equal(t, []Outcome{OutcomeNone, OutcomeNone, OutcomeNone, OutcomeCompleted}, outcomes)

	require.NotNil(t, s.Partial.BeanType)
	assert.Equal(t, byte(0x04), *s.Partial.BeanType)
	require.NotNil(t, s.Partial.Moisture)
	assert.InDelta(t, 11.2, *s.Partial.Moisture, 1e-5)
	require.NotNil(t, s.Partial.Agtron)
	assert.InDelta(t, 63.7, *s.Partial.Agtron, 1e-5)
	assert.Len(t, s.Partial.BarHistogram, protocol.BarHistogramSize)
	assert.Len(t, s.Partial.PieHistogram, protocol.PieHistogramSize)

	assert.Nil(t, s.Partial.WaterActivity, "no water activity field expected")
}

func TestSequenceWithWaterActivityLast(t *testing.T) {
	s, outcomes := run(t, []protocol.Event{
		protocol.MeasurementStarted{},
		beanTypeEvent(0x03, true),
		moistureEvent(),
		protocol.WaterActivityStart{Mode: 0x01},
		agtronEvent(),
		waterActivityEvent(),
	})

	// Agtron must not complete while the water activity sub-step is still
	// outstanding; the water activity result finalizes.
	assert.Equal(t, []Outcome{
		OutcomeNone, OutcomeNone, OutcomeNone, OutcomeNone, OutcomeNone, OutcomeCompleted,
	}, outcomes)

	require.NotNil(t, s.Partial.WaterActivity)
	assert.InDelta(t, 0.55, *s.Partial.WaterActivity, 1e-6)
	require.NotNil(t, s.Partial.Agtron)
}

func TestSequenceWithWaterActivityBeforeAgtron(t *testing.T) {
	_, outcomes := run(t, []protocol.Event{
		protocol.MeasurementStarted{},
		beanTypeEvent(0x03, true),
		waterActivityEvent(),
	})

	// The device only guarantees "whichever applies completes last"; a water
	// activity result arriving before Agtron also completes.
	assert.Equal(t, OutcomeCompleted, outcomes[2])
}

func TestBusyNeverCompletes(t *testing.T) {
	s, outcomes := run(t, []protocol.Event{
		protocol.MeasurementStarted{},
		protocol.MeasurementBusy{},
	})

	assert.Equal(t, []Outcome{OutcomeNone, OutcomeBusy}, outcomes)
	assert.Equal(t, PhaseIdle, s.Phase)
	assert.Nil(t, s.Partial.BeanType)
}

func TestFailedDiscardsAccumulator(t *testing.T) {
	s, outcomes := run(t, []protocol.Event{
		protocol.MeasurementStarted{},
		beanTypeEvent(0x04, false),
		protocol.MeasurementFailed{Status: 0x05},
	})

	assert.Equal(t, OutcomeFailed, outcomes[2])
	assert.Equal(t, PhaseIdle, s.Phase)
	assert.Nil(t, s.Partial.BeanType)
}

func TestEventsIgnoredWhileIdle(t *testing.T) {
	s := State{}
	for _, ev := range []protocol.Event{
		agtronEvent(), waterActivityEvent(), moistureEvent(), protocol.MeasurementStarted{},
	} {
		var outcome Outcome
		s, outcome = Step(s, ev)
		assert.Equal(t, OutcomeNone, outcome)
	}
	assert.Equal(t, PhaseIdle, s.Phase)
}

func TestEnvironmentMerge(t *testing.T) {
	s, outcomes := run(t, []protocol.Event{
		protocol.Environment{EnvironmentResult: protocol.EnvironmentResult{
			Temperature: 21.4,
			Humidity:    48.0,
		}},
	})

	assert.Equal(t, OutcomeNone, outcomes[0])
	require.NotNil(t, s.Partial.EnvTemperature)
	assert.InDelta(t, 21.4, *s.Partial.EnvTemperature, 1e-5)
}

// fakeDevice implements analyzer.Analyzer for controller tests
type fakeDevice struct {
	startErr error
	started  []analyzer.CoffeeType
}

func (d *fakeDevice) ConnectionStatus() analyzer.ConnectionStatus {
	return analyzer.ConnectionStatus{State: analyzer.StateConnected}
}

func (d *fakeDevice) Scan(_ context.Context, _ func(analyzer.ScannedDevice)) error { return nil }
func (d *fakeDevice) Connect(_ context.Context, _ string) error                    { return nil }
func (d *fakeDevice) Disconnect() error                                            { return nil }

func (d *fakeDevice) StartMeasurement(coffeeType analyzer.CoffeeType) error {
	if d.startErr != nil {
		return d.startErr
	}
	d.started = append(d.started, coffeeType)
	return nil
}

func (d *fakeDevice) RequestDeviceInfo() error                                  { return nil }
func (d *fakeDevice) DeviceInfo() analyzer.DeviceInfo                           { return analyzer.DeviceInfo{} }
func (d *fakeDevice) SetEventHandler(func(protocol.Event))                      {}
func (d *fakeDevice) SetEventChannel(chan protocol.Event)                       {}
func (d *fakeDevice) SetStateChangeHandler(func(analyzer.ConnectionStatus))     {}
func (d *fakeDevice) SetStateChangeChannel(chan analyzer.ConnectionStatus)      {}
func (d *fakeDevice) Close() error                                              { return nil }

func TestControllerCompletion(t *testing.T) {
	device := &fakeDevice{}
	c := New(device, WithDeviceID("aa:bb:cc:dd:ee:ff"))

	var completed []analyzer.Measurement
	c.SetCompletionHandler(func(m analyzer.Measurement) {
		completed = append(completed, m)
	})

	require.NoError(t, c.Start(analyzer.CoffeeTypeRoasted))
	assert.Equal(t, []analyzer.CoffeeType{analyzer.CoffeeTypeRoasted}, device.started)
	assert.True(t, c.Measuring())

	for _, ev := range []protocol.Event{
		protocol.MeasurementStarted{},
		beanTypeEvent(0x04, false),
		moistureEvent(),
		agtronEvent(),
	} {
		c.HandleEvent(ev)
	}

	require.Len(t, completed, 1)
	record := completed[0]
	assert.NotEmpty(t, record.ID)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", record.DeviceID)
	assert.False(t, record.TakenAt.IsZero())
	assert.Equal(t, analyzer.CoffeeTypeRoasted, record.CoffeeType)
	assert.False(t, c.Measuring())
}

func TestControllerBusyRejectsSecondStart(t *testing.T) {
	c := New(&fakeDevice{})

	require.NoError(t, c.Start(analyzer.CoffeeTypeAuto))
	assert.ErrorIs(t, c.Start(analyzer.CoffeeTypeAuto), analyzer.ErrBusy)
}

func TestControllerDeviceBusy(t *testing.T) {
	c := New(&fakeDevice{})

	var failures []error
	c.SetFailureHandler(func(err error) { failures = append(failures, err) })

	var completed int
	c.SetCompletionHandler(func(analyzer.Measurement) { completed++ })

	require.NoError(t, c.Start(analyzer.CoffeeTypeGround))
	c.HandleEvent(protocol.MeasurementStarted{})
	c.HandleEvent(protocol.MeasurementBusy{})

	assert.Zero(t, completed)
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], analyzer.ErrBusy)
	assert.False(t, c.Measuring())
}

func TestControllerStartWriteFailure(t *testing.T) {
	c := New(&fakeDevice{startErr: errors.New("write failed")})

	err := c.Start(analyzer.CoffeeTypeGreen)
	require.Error(t, err)
	assert.False(t, c.Measuring())
}

func TestControllerAbortOnDisconnect(t *testing.T) {
	c := New(&fakeDevice{})

	var failures []error
	c.SetFailureHandler(func(err error) { failures = append(failures, err) })

	var completed int
	c.SetCompletionHandler(func(analyzer.Measurement) { completed++ })

	require.NoError(t, c.Start(analyzer.CoffeeTypeGreen))
	c.HandleEvent(protocol.MeasurementStarted{})
	c.HandleEvent(beanTypeEvent(0x03, false))

	c.Abort(errors.New("device disconnected"))

	assert.Zero(t, completed, "no record may be synthesized from a partial accumulator")
	require.Len(t, failures, 1)
	assert.False(t, c.Measuring())

	// Abort when idle is a no-op
	c.Abort(errors.New("again"))
	assert.Len(t, failures, 1)
}
