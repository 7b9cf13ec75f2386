package analyzer

import "time"

// CoffeeType denotes the sample category requested for a measurement. The
// wire codes are fixed by the device firmware; the application surfaces only
// green, roasted, ground and auto.
type CoffeeType byte

const (
	CoffeeTypeGeneral   CoffeeType = 0
	CoffeeTypeCherry    CoffeeType = 1
	CoffeeTypeParchment CoffeeType = 2
	CoffeeTypeGreen     CoffeeType = 3
	CoffeeTypeRoasted   CoffeeType = 4
	CoffeeTypeGround    CoffeeType = 5
	CoffeeTypeAuto      CoffeeType = 6
)

// String returns the human-readable name of the coffee type
func (c CoffeeType) String() string {
	switch c {
	case CoffeeTypeGeneral:
		return "general"
	case CoffeeTypeCherry:
		return "cherry"
	case CoffeeTypeParchment:
		return "parchment"
	case CoffeeTypeGreen:
		return "green"
	case CoffeeTypeRoasted:
		return "roasted"
	case CoffeeTypeGround:
		return "ground"
	case CoffeeTypeAuto:
		return "auto"
	}

	return "unknown"
}

// ParseCoffeeType maps a name to its coffee type code
func ParseCoffeeType(name string) (CoffeeType, bool) {
	for _, c := range []CoffeeType{
		CoffeeTypeGeneral, CoffeeTypeCherry, CoffeeTypeParchment,
		CoffeeTypeGreen, CoffeeTypeRoasted, CoffeeTypeGround, CoffeeTypeAuto,
	} {
		if c.String() == name {
			return c, true
		}
	}

	return 0, false
}

// State denotes a connection state
type State int

const (

	// StateDisconnected is active while no device connection exists
	StateDisconnected State = iota

	// StateScanning is active while scanning for an analyzer device
	StateScanning

	// StateConnecting is active while a connection attempt is in flight
	StateConnecting

	// StateConnected is active while being connected to the analyzer
	StateConnected

	// StateMeasuring is active while a measurement sequence is in flight
	StateMeasuring
)

// String returns the human-readable name of the state
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateMeasuring:
		return "measuring"
	}

	return "unknown"
}

// ConnectionStatus denotes the current status of the bluetooth device
type ConnectionStatus struct {
	Error error
	State
}

// ScannedDevice denotes an analyzer candidate surfaced during a scan
type ScannedDevice struct {
	ID   string // platform connection handle
	Name string // advertised name
	RSSI int    // signal strength
}

// DeviceInfo aggregates the static device identity strings plus the latest
// battery readings for the two-tier device / charging base arrangement
type DeviceInfo struct {
	SerialNumber    string
	FirmwareVersion string
	Model           string

	BatteryStatus     byte
	BatteryLevel      byte
	BaseBatteryStatus byte
	BaseBatteryLevel  byte
}

// LinkType denotes the kind of external entity a measurement is attached to
type LinkType string

const (
	LinkTypeInventory LinkType = "inventory"
	LinkTypeRoast     LinkType = "roast"
)

// Link attaches a measurement to an external entity (an inventory lot or a
// roast)
type Link struct {
	Type LinkType `json:"measurable_type"`
	ID   string   `json:"measurable_id"`
}

// Measurement is a finished analyzer measurement. Optional fields are
// pointers (or nil slices); a nil field means the corresponding detection
// step did not run for this sample.
type Measurement struct {
	ID       string    `json:"id"`
	DeviceID string    `json:"device_id"`
	TakenAt  time.Time `json:"taken_at"`

	CoffeeType CoffeeType `json:"coffee_type"`
	BeanType   *byte      `json:"bean_type,omitempty"`

	Moisture    *float32 `json:"moisture,omitempty"`
	Density     *float32 `json:"density,omitempty"`
	BulkDensity *float32 `json:"bulk_density,omitempty"`
	Weight      *float32 `json:"weight,omitempty"`
	ScreenSize  *float32 `json:"screen_size,omitempty"`
	MirrorTemp  *float32 `json:"mirror_temp,omitempty"`
	BeanTemp    *float32 `json:"bean_temp,omitempty"`

	WaterActivity *float32 `json:"water_activity,omitempty"`
	SampleTemp    *float32 `json:"sample_temp,omitempty"`

	Agtron        *float32 `json:"agtron,omitempty"`
	Variance      *float32 `json:"agtron_variance,omitempty"`
	RoastStandard *int32   `json:"roast_standard,omitempty"`
	BarHistogram  []uint16 `json:"bar_histogram,omitempty"`
	PieHistogram  []uint16 `json:"pie_histogram,omitempty"`

	EnvTemperature *float32 `json:"env_temperature,omitempty"`
	EnvHumidity    *float32 `json:"env_humidity,omitempty"`
	EnvPressure    *float32 `json:"env_pressure,omitempty"`
	EnvAltitude    *float32 `json:"env_altitude,omitempty"`

	Duration time.Duration `json:"duration_ns,omitempty"`

	Link     *Link      `json:"link,omitempty"`
	SyncedAt *time.Time `json:"synced_at,omitempty"`
}

// Synced reports whether the measurement has been confirmed persisted by the
// backend
func (m *Measurement) Synced() bool {
	return m.SyncedAt != nil
}
