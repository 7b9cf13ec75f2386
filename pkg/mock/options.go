package mock

import "time"

// WithDeviceID sets the mock Bluetooth device ID
func WithDeviceID(deviceID string) func(*Mock) {
	return func(m *Mock) {
		m.deviceID = deviceID
	}
}

// WithStepDelay sets the delay between synthetic measurement events
func WithStepDelay(delay time.Duration) func(*Mock) {
	return func(m *Mock) {
		m.stepDelay = delay
	}
}

// WithWaterActivity makes synthetic measurements include the water activity
// sub-sequence
func WithWaterActivity() func(*Mock) {
	return func(m *Mock) {
		m.DetectWaterActivity = true
	}
}
