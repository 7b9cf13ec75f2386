package omix

import (
	"github.com/fako1024/gatt"
	"github.com/giesencoffeeroasters/btanalyzer/pkg/analyzer"
)

// WithDeviceID pins scanning / connection to a fixed Bluetooth device ID,
// bypassing the advertisement heuristic for that device
func WithDeviceID(deviceID string) func(*Omix) {
	return func(o *Omix) {
		o.deviceID = deviceID
	}
}

// WithDeviceName sets an explicit Bluetooth device name to accept
func WithDeviceName(deviceName string) func(*Omix) {
	return func(o *Omix) {
		o.deviceName = deviceName
	}
}

// WithDevice sets the Bluetooth device
func WithDevice(btDevice gatt.Device) func(*Omix) {
	return func(o *Omix) {
		o.btDevice = btDevice
	}
}

// WithLogger sets a logger
func WithLogger(logger analyzer.Logger) func(*Omix) {
	return func(o *Omix) {
		o.logger = logger
	}
}
