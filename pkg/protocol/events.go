package protocol

// Event is a decoded analyzer notification. The concrete types below form a
// closed set; consumers switch on the event type and can treat the Unknown
// variant as the catch-all for valid but unrecognized frames.
type Event interface {
	event()
}

// MeasurementStarted acknowledges a start-measurement command.
type MeasurementStarted struct{}

// MeasurementBusy signals that the device rejected the start-measurement
// command because another measurement is in flight.
type MeasurementBusy struct{}

// MeasurementFailed signals that the device could not start the measurement.
type MeasurementFailed struct {
	Status byte
}

// BeanType carries the first detection step result.
type BeanType struct {
	BeanTypeResult
}

// MoistureDensity carries the moisture / density step result.
type MoistureDensity struct {
	MoistureDensityResult
}

// WaterActivityStart marks the beginning of the water activity sub-step.
// Some firmware sequences emit it ahead of the actual result.
type WaterActivityStart struct {
	Mode byte
}

// WaterActivity carries the water activity sub-step result.
type WaterActivity struct {
	WaterActivityResult
}

// Agtron carries the roast color step result.
type Agtron struct {
	AgtronResult
}

// Environment carries the ambient readings.
type Environment struct {
	EnvironmentResult
}

// SerialNumber carries the device serial number string.
type SerialNumber struct {
	Serial string
}

// FirmwareVersion carries the firmware version string.
type FirmwareVersion struct {
	Version string
}

// Model carries the device model string.
type Model struct {
	Model string
}

// Battery carries the device / charging base battery readings.
type Battery struct {
	Device BatteryStatus
	Base   BatteryStatus
}

// Unknown is emitted for any well-formed frame whose function / command
// combination is not recognized (or whose payload is shorter than the fixed
// layout requires). It preserves the raw codes for diagnostics instead of
// silently dropping the frame.
type Unknown struct {
	Function byte
	Command  byte
	Payload  []byte
}

func (MeasurementStarted) event() {}
func (MeasurementBusy) event()    {}
func (MeasurementFailed) event()  {}
func (BeanType) event()           {}
func (MoistureDensity) event()    {}
func (WaterActivityStart) event() {}
func (WaterActivity) event()      {}
func (Agtron) event()             {}
func (Environment) event()        {}
func (SerialNumber) event()       {}
func (FirmwareVersion) event()    {}
func (Model) event()              {}
func (Battery) event()            {}
func (Unknown) event()            {}
