package analyzer

import (
	"context"
	"errors"

	"github.com/giesencoffeeroasters/btanalyzer/pkg/protocol"
)

// Sentinel errors shared between implementations
var (

	// ErrNotConnected is returned for operations that require an active
	// device connection
	ErrNotConnected = errors.New("no analyzer connected")

	// ErrNoDevice is returned when a scan window elapses without a
	// protocol-matching device
	ErrNoDevice = errors.New("no analyzer device found")

	// ErrBusy is returned when a measurement is requested while another one
	// is already in flight
	ErrBusy = errors.New("measurement already in flight")
)

// Analyzer denotes a coffee analysis instrument
type Analyzer interface {

	// ConnectionStatus returns the current connection status of the device
	ConnectionStatus() ConnectionStatus

	// Scan searches for analyzer devices until the context is cancelled or
	// its deadline expires, reporting each unique candidate at most once via
	// the callback
	Scan(ctx context.Context, onFound func(ScannedDevice)) error

	// Connect establishes a connection to the device with the given ID,
	// tearing down any prior connection first
	Connect(ctx context.Context, deviceID string) error

	// Disconnect terminates the active connection. It is safe to call when
	// already disconnected.
	Disconnect() error

	// StartMeasurement triggers a measurement sequence for the given coffee
	// type; results arrive as events
	StartMeasurement(coffeeType CoffeeType) error

	// RequestDeviceInfo queries serial number, firmware version, model and
	// battery status; results arrive as events and are cached
	RequestDeviceInfo() error

	// DeviceInfo returns the most recently cached device identity and
	// battery readings
	DeviceInfo() DeviceInfo

	// SetEventHandler defines a handler function that is called for every
	// parsed device event
	SetEventHandler(fn func(ev protocol.Event))

	// SetEventChannel defines a channel device events are published to
	SetEventChannel(ch chan protocol.Event)

	// SetStateChangeHandler defines a handler function that is called upon
	// connection state change
	SetStateChangeHandler(fn func(status ConnectionStatus))

	// SetStateChangeChannel defines a channel state changes are published to
	SetStateChangeChannel(ch chan ConnectionStatus)

	// Close releases the device and all platform resources
	Close() error
}
