// Package protocol implements the binary wire protocol spoken by the Omix
// coffee analyzer: packet framing / checksums, decoding of the individual
// response payloads and dispatch of raw notifications into typed events.
//
// Wire format (all multi-byte fields little-endian):
//
//	[0xDF, 0xDF, func, cmd, len, payload[len], checksum]
//
// where checksum is the sum of all preceding bytes modulo 256.
package protocol

const (
	headerByte = 0xDF

	// Minimum frame: header(2) + func(1) + cmd(1) + len(1) + checksum(1)
	minPacketLen = 6

	payloadOffset = 5
)

// Function codes
const (
	FuncDetection  byte = 0x03
	FuncDeviceInfo byte = 0x05
)

// Detection commands
const (
	CmdStartMeasurement   byte = 0x01
	CmdBeanType           byte = 0x02
	CmdMoistureDensity    byte = 0x03
	CmdWaterActivity      byte = 0x04
	CmdAgtron             byte = 0x05
	CmdEnvironment        byte = 0x06
	CmdWaterActivityStart byte = 0x07
)

// Device info commands
const (
	CmdSerialNumber    byte = 0x09
	CmdFirmwareVersion byte = 0x0B
	CmdModel           byte = 0x0C
	CmdBattery         byte = 0x1D
)

// Start-measurement acknowledgement statuses
const (
	StatusStarted byte = 0x01
	StatusBusy    byte = 0x02
)

// BuildPacket assembles a command packet for the given function / command
// and payload. The payload must not exceed 255 bytes (the declared length
// is a single byte).
func BuildPacket(function, command byte, data []byte) []byte {
	packet := make([]byte, 0, minPacketLen+len(data))
	packet = append(packet, headerByte, headerByte, function, command, byte(len(data)))
	packet = append(packet, data...)
	packet = append(packet, Checksum(packet))

	return packet
}

// Checksum returns the sum of all bytes modulo 256. It is shared between the
// build and validate paths (wire compatibility contract with the firmware).
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}

	return sum
}

// ValidatePacket reports whether the buffer holds a well-formed frame: both
// header bytes present, declared payload length within bounds and trailing
// checksum matching. It never panics on arbitrary input and is the sole gate
// before any payload is trusted.
func ValidatePacket(packet []byte) bool {
	if len(packet) < minPacketLen {
		return false
	}
	if packet[0] != headerByte || packet[1] != headerByte {
		return false
	}

	payloadLen := int(packet[4])
	if minPacketLen+payloadLen > len(packet) {
		return false
	}

	checksumPos := payloadOffset + payloadLen
	return Checksum(packet[:checksumPos]) == packet[checksumPos]
}

// ExtractPayload slices function code, command code and payload out of a
// frame. It must only be called after ValidatePacket has succeeded.
func ExtractPayload(packet []byte) (function, command byte, payload []byte) {
	payloadLen := int(packet[4])
	return packet[2], packet[3], packet[payloadOffset : payloadOffset+payloadLen]
}
