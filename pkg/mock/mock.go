package mock

import (
	"context"
	"sync"
	"time"

	"github.com/giesencoffeeroasters/btanalyzer/pkg/analyzer"
	"github.com/giesencoffeeroasters/btanalyzer/pkg/protocol"
)

const (
	defaultDeviceID   = "00:11:22:33:44:55"
	defaultDeviceName = "Mock Omix"
	defaultStepDelay  = 25 * time.Millisecond
)

// Mock denotes a mock coffee analyzer, emitting synthetic measurement events
// without any bluetooth hardware
type Mock struct {
	mu sync.Mutex

	connectionStatus analyzer.ConnectionStatus
	deviceInfo       analyzer.DeviceInfo

	deviceID   string
	deviceName string
	stepDelay  time.Duration

	// DetectWaterActivity controls whether synthetic measurements include
	// the water activity sub-sequence
	DetectWaterActivity bool

	eventHandler func(event protocol.Event)
	eventChan    chan protocol.Event

	stateChangeHandler func(status analyzer.ConnectionStatus)
	stateChangeChan    chan analyzer.ConnectionStatus

	doneChan chan struct{}
}

// New instantiates a new Mock struct, executing functional options, if any
func New(options ...func(*Mock)) (*Mock, error) {

	// Initialize a new instance of a Mock analyzer
	m := &Mock{
		deviceID:   defaultDeviceID,
		deviceName: defaultDeviceName,
		stepDelay:  defaultStepDelay,
		doneChan:   make(chan struct{}),
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(m)
	}

	return m, nil
}

// ConnectionStatus returns the current status of the mock device
func (m *Mock) ConnectionStatus() analyzer.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.connectionStatus
}

// DeviceInfo returns the device information received so far
func (m *Mock) DeviceInfo() analyzer.DeviceInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.deviceInfo
}

// SetStateChangeHandler defines a handler function that is called upon state change
func (m *Mock) SetStateChangeHandler(fn func(status analyzer.ConnectionStatus)) {
	m.stateChangeHandler = fn
}

// SetStateChangeChannel defines a channel that state changes are put on
func (m *Mock) SetStateChangeChannel(ch chan analyzer.ConnectionStatus) {
	m.stateChangeChan = ch
}

// SetEventHandler defines a handler function that is called upon retrieval of
// a device event
func (m *Mock) SetEventHandler(fn func(event protocol.Event)) {
	m.eventHandler = fn
}

// SetEventChannel defines a channel that device events are put on
func (m *Mock) SetEventChannel(ch chan protocol.Event) {
	m.eventChan = ch
}

// Scan reports the single mock device and waits out the scan window
func (m *Mock) Scan(ctx context.Context, onFound func(device analyzer.ScannedDevice)) error {
	m.setStatus(analyzer.StateScanning, nil)

	if onFound != nil {
		onFound(analyzer.ScannedDevice{
			ID:   m.deviceID,
			Name: m.deviceName,
			RSSI: -42,
		})
	}

	<-ctx.Done()
	m.setStatus(analyzer.StateDisconnected, nil)
	return nil
}

// Connect establishes a connection to the mock device
func (m *Mock) Connect(_ context.Context, deviceID string) error {
	if deviceID != m.deviceID {
		return analyzer.ErrNoDevice
	}

	m.setStatus(analyzer.StateConnected, nil)
	return nil
}

// Disconnect terminates the mock connection
func (m *Mock) Disconnect() error {
	m.setStatus(analyzer.StateDisconnected, nil)
	return nil
}

// StartMeasurement emits a full synthetic measurement sequence for the given
// coffee type, asynchronously like the real device
func (m *Mock) StartMeasurement(coffeeType analyzer.CoffeeType) error {
	m.mu.Lock()
	state := m.connectionStatus.State
	m.mu.Unlock()

	switch state {
	case analyzer.StateMeasuring:
		return analyzer.ErrBusy
	case analyzer.StateConnected:
	default:
		return analyzer.ErrNotConnected
	}

	m.setStatus(analyzer.StateMeasuring, nil)
	go m.runMeasurement(coffeeType)

	return nil
}

// RequestDeviceInfo emits the synthetic device identity and battery events
func (m *Mock) RequestDeviceInfo() error {
	m.mu.Lock()
	if m.connectionStatus.State != analyzer.StateConnected &&
		m.connectionStatus.State != analyzer.StateMeasuring {
		m.mu.Unlock()
		return analyzer.ErrNotConnected
	}
	m.deviceInfo = analyzer.DeviceInfo{
		SerialNumber:     "MOCK-0001",
		FirmwareVersion:  "1.2.3",
		Model:            m.deviceName,
		BatteryLevel:     80,
		BaseBatteryLevel: 100,
	}
	m.mu.Unlock()

	m.emit(protocol.SerialNumber{Serial: "MOCK-0001"})
	m.emit(protocol.FirmwareVersion{Version: "1.2.3"})
	m.emit(protocol.Model{Model: m.deviceName})
	m.emit(protocol.Battery{
		Device: protocol.BatteryStatus{Status: 0x00, Level: 80},
		Base:   protocol.BatteryStatus{Status: 0x01, Level: 100},
	})

	return nil
}

// Close terminates the connection to the device
func (m *Mock) Close() error {
	close(m.doneChan)

	return nil
}

////////////////////////////////////////////////////////////////////////////////

func (m *Mock) runMeasurement(coffeeType analyzer.CoffeeType) {
	now := uint64(time.Now().UnixMilli())

	m.emit(protocol.MeasurementStarted{})
	m.sleep()

	m.emit(protocol.BeanType{BeanTypeResult: protocol.BeanTypeResult{
		BeanType:            byte(coffeeType),
		DetectWaterActivity: m.DetectWaterActivity,
		DetectEnvironment:   true,
		Timestamp:           now,
	}})
	m.sleep()

	m.emit(protocol.Environment{EnvironmentResult: protocol.EnvironmentResult{
		Temperature: 22.5,
		Humidity:    48.0,
		Pressure:    1013.2,
		Altitude:    12.0,
		Timestamp:   now,
	}})
	m.sleep()

	m.emit(protocol.MoistureDensity{MoistureDensityResult: protocol.MoistureDensityResult{
		Moisture:    10.8,
		Density:     712.4,
		BulkDensity: 680.1,
		Weight:      102.3,
		ScreenSize:  16.5,
		MirrorTemp:  24.1,
		BeanTemp:    23.2,
		Timestamp:   now,
	}})
	m.sleep()

	if m.DetectWaterActivity {
		m.emit(protocol.WaterActivityStart{Mode: 0x01})
		m.sleep()
	}

	m.emit(protocol.Agtron{AgtronResult: protocol.AgtronResult{
		Agtron:        65.2,
		Variance:      1.4,
		RoastStandard: 1,
		Timestamp:     now,
	}})

	if m.DetectWaterActivity {
		m.sleep()
		m.emit(protocol.WaterActivity{WaterActivityResult: protocol.WaterActivityResult{
			WaterActivity: 0.54,
			SampleTemp:    23.0,
			Timestamp:     now,
		}})
	}

	m.setStatus(analyzer.StateConnected, nil)
}

func (m *Mock) setStatus(state analyzer.State, err error) {
	m.mu.Lock()
	m.connectionStatus = analyzer.ConnectionStatus{
		State: state,
		Error: err,
	}
	status := m.connectionStatus
	m.mu.Unlock()

	// Call handler function, if any
	if m.stateChangeHandler != nil {
		m.stateChangeHandler(status)
	}

	// Put state change on channel, if any
	if m.stateChangeChan != nil {
		select {
		case m.stateChangeChan <- status:
		default:
		}
	}
}

func (m *Mock) emit(event protocol.Event) {

	// Call handler function, if any
	if m.eventHandler != nil {
		m.eventHandler(event)
	}

	// Put event on channel, if any
	if m.eventChan != nil {
		m.eventChan <- event
	}
}

func (m *Mock) sleep() {
	select {
	case <-m.doneChan:
	case <-time.After(m.stepDelay):
	}
}
