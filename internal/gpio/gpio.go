// Package gpio provides the output lines the loader toggles to reset
// an ESP chip into its bootloader: real GPIO pins through periph.io,
// or the DTR/RTS modem signals of the serial adapter itself.
package gpio

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

var hostInit sync.Once

// Pin drives a periph.io GPIO output.
type Pin struct {
	pin gpio.PinOut
}

// OpenPin resolves a pin by its periph name (e.g. "GPIO17"). The pin
// is not driven until the first Set, which configures it as an output.
func OpenPin(name string) (*Pin, error) {
	var initErr error
	hostInit.Do(func() {
		_, initErr = host.Init()
	})
	if initErr != nil {
		return nil, fmt.Errorf("init GPIO host: %w", initErr)
	}

	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("no GPIO pin named %q", name)
	}
	return &Pin{pin: pin}, nil
}

// Set drives the pin high or low.
func (p *Pin) Set(value bool) error {
	return p.pin.Out(gpio.Level(value))
}

// ModemLines is the control-signal surface of a serial port.
type ModemLines interface {
	SetDTR(value bool) error
	SetRTS(value bool) error
}

// DTRLine exposes the DTR signal as an output line. On the usual
// auto-reset circuit DTR drives GPIO0 through an inverting transistor,
// so Set inverts.
type DTRLine struct {
	Port ModemLines
}

func (l *DTRLine) Set(value bool) error {
	return l.Port.SetDTR(!value)
}

// RTSLine exposes the RTS signal as an output line, inverted like DTR.
// RTS drives the chip's EN/RESET input.
type RTSLine struct {
	Port ModemLines
}

func (l *RTSLine) Set(value bool) error {
	return l.Port.SetRTS(!value)
}
