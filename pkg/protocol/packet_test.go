package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPacketRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		function byte
		command  byte
		data     []byte
	}{
		{"empty payload", FuncDetection, CmdStartMeasurement, nil},
		{"single byte", FuncDetection, CmdStartMeasurement, []byte{0x04}},
		{"device info query", FuncDeviceInfo, CmdSerialNumber, nil},
		{"multi byte", FuncDetection, CmdBeanType, []byte{0x01, 0x02, 0x03, 0x04, 0x05}},
		{"max length", FuncDetection, CmdAgtron, make([]byte, 255)},
		{"checksum wraps", FuncDetection, 0x7F, []byte{0xFF, 0xFF, 0xFF}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packet := BuildPacket(tt.function, tt.command, tt.data)
			require.True(t, ValidatePacket(packet))

			function, command, payload := ExtractPayload(packet)
			assert.Equal(t, tt.function, function)
			assert.Equal(t, tt.command, command)
			assert.Equal(t, len(tt.data), len(payload))
			if len(tt.data) > 0 {
				assert.Equal(t, tt.data, payload)
			}
		})
	}
}

func TestChecksumSensitivity(t *testing.T) {
	packet := BuildPacket(FuncDetection, CmdBeanType, []byte{0x11, 0x22, 0x33, 0x44})

	// Flipping any single bit of any byte before the checksum must
	// invalidate the frame.
	for i := 0; i < len(packet)-1; i++ {
		for bit := 0; bit < 8; bit++ {
			mutated := make([]byte, len(packet))
			copy(mutated, packet)
			mutated[i] ^= 1 << bit

			assert.False(t, ValidatePacket(mutated), "flip of byte %d bit %d went undetected", i, bit)
		}
	}
}

func TestValidatePacketMalformed(t *testing.T) {
	tests := []struct {
		name   string
		packet []byte
	}{
		{"nil", nil},
		{"empty", []byte{}},
		{"too short", []byte{0xDF, 0xDF, 0x03}},
		{"five bytes", []byte{0xDF, 0xDF, 0x03, 0x01, 0x00}},
		{"first header wrong", []byte{0xDE, 0xDF, 0x03, 0x01, 0x00, 0xC1}},
		{"second header wrong", []byte{0xDF, 0xDE, 0x03, 0x01, 0x00, 0xC1}},
		{"declared length overruns buffer", []byte{0xDF, 0xDF, 0x03, 0x01, 0x10, 0x00}},
		{"checksum mismatch", []byte{0xDF, 0xDF, 0x03, 0x01, 0x00, 0x00}},
		{"length byte 255 short buffer", []byte{0xDF, 0xDF, 0x03, 0x01, 0xFF, 0x00, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.False(t, ValidatePacket(tt.packet))
			})
		})
	}
}

func TestValidatePacketToleratesTrailingBytes(t *testing.T) {
	// Some stacks deliver notifications padded to the MTU; trailing bytes
	// after the checksum must not invalidate the frame.
	packet := BuildPacket(FuncDetection, CmdStartMeasurement, []byte{StatusStarted})
	padded := append(packet, 0x00, 0x00, 0x00)

	assert.True(t, ValidatePacket(padded))
}

func TestChecksum(t *testing.T) {
	assert.Equal(t, byte(0x00), Checksum(nil))
	assert.Equal(t, byte(0x06), Checksum([]byte{0x01, 0x02, 0x03}))
	assert.Equal(t, byte(0xFF), Checksum([]byte{0xFF}))
	assert.Equal(t, byte(0x01), Checksum([]byte{0xFF, 0x02}))
}
