package protocol

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Fixed payload sizes per response type. The router rejects shorter payloads
// before the parsers run, so the parsers themselves decode by offset without
// further checks.
const (
	lenStartAck           = 1
	lenBeanType           = 15
	lenMoistureDensity    = 44
	lenWaterActivity      = 32
	lenAgtron             = 120
	lenEnvironment        = 28
	lenWaterActivityStart = 1
	lenBattery            = 4

	// BarHistogramSize is the number of buckets in the Agtron bar histogram.
	BarHistogramSize = 31

	// PieHistogramSize is the number of buckets in the Agtron pie histogram.
	PieHistogramSize = 8
)

// BeanTypeResult is the first detection step: the recognized bean category
// plus flags announcing which optional sub-steps the device will run.
type BeanTypeResult struct {
	BeanType            byte
	DetectWaterActivity bool
	DetectEnvironment   bool
	Timestamp           uint64
}

// ParseBeanType decodes the 15-byte bean type payload.
func ParseBeanType(payload []byte) BeanTypeResult {
	return BeanTypeResult{
		BeanType:            payload[0],
		DetectWaterActivity: payload[1] != 0,
		DetectEnvironment:   payload[2] != 0,
		Timestamp:           binary.LittleEndian.Uint64(payload[3:11]),
	}
}

// MoistureDensityResult carries the moisture / density step readings.
type MoistureDensityResult struct {
	Moisture    float32 // percent
	Density     float32 // g/l
	BulkDensity float32 // g/l
	Weight      float32 // g
	ScreenSize  float32
	MirrorTemp  float32 // degC
	BeanTemp    float32 // degC
	Timestamp   uint64
	Flags       uint32
}

// ParseMoistureDensity decodes the 44-byte moisture / density payload.
func ParseMoistureDensity(payload []byte) MoistureDensityResult {
	return MoistureDensityResult{
		Moisture:    float32At(payload, 0),
		Density:     float32At(payload, 4),
		BulkDensity: float32At(payload, 8),
		Weight:      float32At(payload, 12),
		ScreenSize:  float32At(payload, 16),
		MirrorTemp:  float32At(payload, 20),
		BeanTemp:    float32At(payload, 24),
		Timestamp:   binary.LittleEndian.Uint64(payload[28:36]),
		Flags:       binary.LittleEndian.Uint32(payload[36:40]),
	}
}

// WaterActivityResult carries the optional water activity sub-step readings.
type WaterActivityResult struct {
	WaterActivity float32 // aw
	SampleTemp    float32 // degC
	Timestamp     uint64
}

// ParseWaterActivity decodes the 32-byte water activity payload.
func ParseWaterActivity(payload []byte) WaterActivityResult {
	return WaterActivityResult{
		WaterActivity: float32At(payload, 0),
		SampleTemp:    float32At(payload, 4),
		Timestamp:     binary.LittleEndian.Uint64(payload[8:16]),
	}
}

// AgtronResult carries the roast color step: Agtron number, spread and the
// two fixed-size color distribution histograms.
type AgtronResult struct {
	Agtron        float32
	Variance      float32
	RoastStandard int32
	BarHistogram  [BarHistogramSize]uint16
	PieHistogram  [PieHistogramSize]uint16
	Timestamp     uint64
}

// ParseAgtron decodes the 120-byte Agtron / color payload.
func ParseAgtron(payload []byte) AgtronResult {
	res := AgtronResult{
		Agtron:        float32At(payload, 0),
		Variance:      float32At(payload, 4),
		RoastStandard: int32(binary.LittleEndian.Uint32(payload[8:12])),
		Timestamp:     binary.LittleEndian.Uint64(payload[90:98]),
	}
	for i := 0; i < BarHistogramSize; i++ {
		res.BarHistogram[i] = binary.LittleEndian.Uint16(payload[12+2*i : 14+2*i])
	}
	for i := 0; i < PieHistogramSize; i++ {
		res.PieHistogram[i] = binary.LittleEndian.Uint16(payload[74+2*i : 76+2*i])
	}

	return res
}

// EnvironmentResult carries the ambient readings taken alongside a
// measurement.
type EnvironmentResult struct {
	Temperature float32 // degC
	Humidity    float32 // percent rH
	Pressure    float32 // hPa
	Altitude    float32 // m
	Timestamp   uint64
}

// ParseEnvironment decodes the 28-byte environment payload.
func ParseEnvironment(payload []byte) EnvironmentResult {
	return EnvironmentResult{
		Temperature: float32At(payload, 0),
		Humidity:    float32At(payload, 4),
		Pressure:    float32At(payload, 8),
		Altitude:    float32At(payload, 12),
		Timestamp:   binary.LittleEndian.Uint64(payload[16:24]),
	}
}

// BatteryStatus describes one battery of the two-tier device / charging base
// arrangement.
type BatteryStatus struct {
	Status byte
	Level  byte // percent
}

// ParseBattery decodes the 4-byte battery payload into device and base
// status / level pairs.
func ParseBattery(payload []byte) (device, base BatteryStatus) {
	device = BatteryStatus{Status: payload[0], Level: payload[1]}
	base = BatteryStatus{Status: payload[2], Level: payload[3]}
	return
}

// ParseString trims a NUL-padded ASCII payload (serial number, firmware
// version, model).
func ParseString(payload []byte) string {
	if idx := bytes.IndexByte(payload, 0x00); idx >= 0 {
		payload = payload[:idx]
	}

	return string(payload)
}

func float32At(payload []byte, offset int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(payload[offset : offset+4]))
}
