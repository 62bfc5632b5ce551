// Package serial adapts go.bug.st/serial to the byte-stream interface
// the loader consumes.
package serial

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// readInterval bounds a single blocking Read so the loader can poll
// its own deadlines.
const readInterval = 100 * time.Millisecond

// Port wraps a serial port configured for the ESP bootloader link.
type Port struct {
	port     serial.Port
	portName string
	baudRate int
}

// Open opens a serial port with 8-N-1 framing at the given baud rate.
func Open(portName string, baudRate int) (*Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(readInterval); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return &Port{
		port:     port,
		portName: portName,
		baudRate: baudRate,
	}, nil
}

// Close closes the serial port.
func (p *Port) Close() error {
	return p.port.Close()
}

// Write writes data to the serial port.
func (p *Port) Write(data []byte) (int, error) {
	return p.port.Write(data)
}

// Read reads available data, returning 0, nil when the read interval
// elapses with nothing received.
func (p *Port) Read(buf []byte) (int, error) {
	return p.port.Read(buf)
}

// ResetInputBuffer discards any received but unread data.
func (p *Port) ResetInputBuffer() error {
	return p.port.ResetInputBuffer()
}

// SetBaudRate reconfigures the port speed in place.
func (p *Port) SetBaudRate(baud int) error {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if err := p.port.SetMode(mode); err != nil {
		return fmt.Errorf("failed to set baud rate %d: %w", baud, err)
	}
	p.baudRate = baud
	return nil
}

// SetDTR sets the DTR signal.
func (p *Port) SetDTR(value bool) error {
	return p.port.SetDTR(value)
}

// SetRTS sets the RTS signal.
func (p *Port) SetRTS(value bool) error {
	return p.port.SetRTS(value)
}

// PortName returns the port name.
func (p *Port) PortName() string {
	return p.portName
}

// BaudRate returns the current baud rate.
func (p *Port) BaudRate() int {
	return p.baudRate
}

// ListPorts returns a list of available serial ports.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	return ports, nil
}
