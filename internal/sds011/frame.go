package sds011

import "codeberg.org/mutker/particlectl/internal/errors"

// SDS011 wire protocol constants. Commands are 19-byte frames addressed
// to the broadcast device ID (0xFFFF); responses are 10-byte frames.
const (
	frameHead     = 0xAA
	frameTail     = 0xAB
	commandMarker = 0xB4
	measurementID = 0xC0
	ackID         = 0xC5

	cmdReportMode = 2
	cmdQuery      = 4
	cmdWorkMode   = 6

	commandLen     = 19
	responseLen    = 10
	commandDataLen = 12

	registerScale = 10 // registers carry µg/m³ * 10
)

// Sample is one decoded measurement frame.
type Sample struct {
	PM25  float64
	PM100 float64
}

// buildCommand frames a command: head, command marker, command byte,
// 12 data bytes (zero padded), broadcast device ID, checksum, tail.
func buildCommand(cmd byte, data ...byte) []byte {
	frame := make([]byte, 0, commandLen)
	frame = append(frame, frameHead, commandMarker, cmd)

	payload := make([]byte, commandDataLen)
	copy(payload, data)
	frame = append(frame, payload...)
	frame = append(frame, 0xFF, 0xFF)

	return append(frame, checksum(frame[2:]), frameTail)
}

// checksum is the low byte of the sum of the covered bytes. Responses
// cover the six data bytes; commands cover everything between the
// marker and the checksum itself.
func checksum(data []byte) byte {
	sum := 0
	for _, b := range data {
		sum += int(b)
	}

	return byte(sum)
}

// validateResponse checks the structure and checksum of a 10-byte
// response frame.
func validateResponse(frame []byte) error {
	errFactory := errors.New()

	if len(frame) != responseLen {
		return errFactory.WithData(ErrBadFrame, len(frame))
	}
	if frame[0] != frameHead || frame[9] != frameTail {
		return errFactory.WithMessage(ErrBadFrame, "bad frame delimiters")
	}
	if checksum(frame[2:8]) != frame[8] {
		return errFactory.WithMessage(ErrBadFrame, "checksum mismatch")
	}

	return nil
}

// parseMeasurement decodes PM registers from a validated measurement
// frame. Registers are little-endian µg/m³ * 10.
func parseMeasurement(frame []byte) Sample {
	pm25 := uint16(frame[2]) | uint16(frame[3])<<8
	pm100 := uint16(frame[4]) | uint16(frame[5])<<8

	return Sample{
		PM25:  float64(pm25) / registerScale,
		PM100: float64(pm100) / registerScale,
	}
}
