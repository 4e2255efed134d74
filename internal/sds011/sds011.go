// Package sds011 drives a Nova SDS011 particulate sensor over its
// serial interface. The sensor is operated in query mode: the caller
// wakes it, polls for samples and puts it back to sleep to spare the
// fan. Retry policy belongs to the caller; every operation here fails
// fast.
package sds011

import (
	"fmt"
	"io"
	"time"

	"codeberg.org/mutker/particlectl/internal/errors"
	"go.bug.st/serial"
)

const baudRate = 9600

// serialPort is the slice of go.bug.st/serial.Port the device needs.
type serialPort interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
}

// openPort opens the sensor port at 9600 8N1 with a bounded read
// timeout. It's a variable so tests can substitute a fake.
var openPort = func(path string, timeout time.Duration) (serialPort, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}

	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, err
	}

	return port, nil
}

// Device is an exclusive handle on one SDS011 sensor. It is not safe
// for concurrent use; a single owner drives the whole duty cycle.
type Device struct {
	path    string
	timeout time.Duration
	port    serialPort
}

func New(path string, timeout time.Duration) *Device {
	return &Device{
		path:    path,
		timeout: timeout,
	}
}

// Open claims the serial port. Opening an already open device is a
// no-op.
func (d *Device) Open() error {
	errFactory := errors.New()

	if d.port != nil {
		return nil
	}

	port, err := openPort(d.path, d.timeout)
	if err != nil {
		return errFactory.Wrap(ErrDeviceUnavailable, err)
	}

	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return errFactory.Wrap(ErrDeviceUnavailable, err)
	}

	d.port = port

	return nil
}

// Wake turns the fan on and arms query reporting mode. Both commands
// must be acknowledged.
func (d *Device) Wake() error {
	if err := d.command(cmdWorkMode, 0x1, 0x1); err != nil {
		return err
	}

	return d.command(cmdReportMode, 0x1, 0x1)
}

// Sleep turns the fan off.
func (d *Device) Sleep() error {
	return d.command(cmdWorkMode, 0x1, 0x0)
}

// ReadSample queries the sensor for one measurement and blocks up to
// the configured timeout for the response frame.
func (d *Device) ReadSample() (Sample, error) {
	errFactory := errors.New()

	if d.port == nil {
		return Sample{}, errFactory.New(ErrNotOpen)
	}

	if _, err := d.port.Write(buildCommand(cmdQuery)); err != nil {
		return Sample{}, errFactory.Wrap(ErrCommandFailed, err)
	}

	frame, err := d.readFrame()
	if err != nil {
		return Sample{}, err
	}

	if frame[1] != measurementID {
		return Sample{}, errFactory.WithData(ErrBadFrame, fmt.Sprintf("unexpected response ID 0x%02X", frame[1]))
	}

	return parseMeasurement(frame), nil
}

// Close releases the serial port. Idempotent.
func (d *Device) Close() error {
	errFactory := errors.New()

	if d.port == nil {
		return nil
	}

	err := d.port.Close()
	d.port = nil
	if err != nil {
		return errFactory.Wrap(ErrCloseFailed, err)
	}

	return nil
}

// command writes one command frame and waits for its acknowledgment.
func (d *Device) command(cmd byte, data ...byte) error {
	errFactory := errors.New()

	if d.port == nil {
		return errFactory.New(ErrNotOpen)
	}

	if _, err := d.port.Write(buildCommand(cmd, data...)); err != nil {
		return errFactory.Wrap(ErrCommandFailed, err)
	}

	frame, err := d.readFrame()
	if err != nil {
		return errFactory.Wrap(ErrCommandFailed, err)
	}

	if frame[1] != ackID {
		return errFactory.WithData(ErrCommandFailed, fmt.Sprintf("unexpected response ID 0x%02X", frame[1]))
	}

	return nil
}

// readFrame scans for the next response frame. The serial port returns
// short reads on its own timeout, so the scan is additionally bounded
// by a wall-clock deadline to never block past the device timeout.
func (d *Device) readFrame() ([]byte, error) {
	errFactory := errors.New()
	deadline := time.Now().Add(d.timeout)

	head := make([]byte, 1)
	for {
		n, err := d.port.Read(head)
		if err != nil {
			return nil, errFactory.Wrap(ErrReadFailed, err)
		}
		if n > 0 && head[0] == frameHead {
			break
		}
		if !time.Now().Before(deadline) {
			return nil, errFactory.New(ErrReadTimeout)
		}
	}

	frame := make([]byte, responseLen)
	frame[0] = frameHead
	filled := 1
	for filled < responseLen {
		n, err := d.port.Read(frame[filled:])
		if err != nil {
			return nil, errFactory.Wrap(ErrReadFailed, err)
		}
		if n == 0 {
			if !time.Now().Before(deadline) {
				return nil, errFactory.New(ErrReadTimeout)
			}
			continue
		}
		filled += n
	}

	if err := validateResponse(frame); err != nil {
		return nil, err
	}

	return frame, nil
}
