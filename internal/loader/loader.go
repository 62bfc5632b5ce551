// Package loader drives the serial bootloader burned into the mask ROM
// of ESP8266 and ESP32 chips: reset sequencing, sync, chip identity and
// SPI flash programming. It speaks only the ROM protocol; no second
// stage is uploaded.
package loader

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/bigbag/esploader/internal/chip"
	"github.com/bigbag/esploader/internal/protocol"
)

// Per-command reply deadlines fixed by the ROM.
const (
	defaultTimeout    = 100 * time.Millisecond
	flashDataTimeout  = 2 * time.Second
	flashBeginTimeout = 5 * time.Second
	md5Timeout        = 2 * time.Second
)

// Config carries the collaborators and settings of a Session.
// Port, GPIO0 and Reset are required. FlashSize is the total capacity
// of the target's SPI flash and is required before flashing an ESP32.
type Config struct {
	Port      Port
	GPIO0     Line
	Reset     Line
	FlashSize uint32
	Baud      int // initial baud rate, default 115200
	Logger    *log.Logger
}

// Session owns one serial link to one chip. Methods are synchronous
// and must not be called concurrently.
type Session struct {
	port   Port
	gpio0  Line
	rst    Line
	logger *log.Logger

	flashSize uint32
	baud      int
	debug     bool

	family    chip.Family
	efuses    chip.Efuses
	hasEfuses bool

	progress func(written, total int)
}

// New creates a Session from cfg.
func New(cfg Config) (*Session, error) {
	if cfg.Port == nil {
		return nil, fmt.Errorf("loader: serial port is required")
	}
	if cfg.GPIO0 == nil || cfg.Reset == nil {
		return nil, fmt.Errorf("loader: GPIO0 and reset lines are required")
	}

	baud := cfg.Baud
	if baud == 0 {
		baud = 115200
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	return &Session{
		port:      cfg.Port,
		gpio0:     cfg.GPIO0,
		rst:       cfg.Reset,
		logger:    logger,
		flashSize: cfg.FlashSize,
		baud:      baud,
	}, nil
}

// SetDebug toggles verbose frame dumps on the session logger.
func (s *Session) SetDebug(on bool) {
	s.debug = on
	if on {
		s.logger.SetLevel(log.DebugLevel)
	}
}

// Debug reports whether frame dumps are enabled.
func (s *Session) Debug() bool {
	return s.debug
}

// SetProgressCallback installs an advisory per-block progress callback
// for flash operations.
func (s *Session) SetProgressCallback(fn func(written, total int)) {
	s.progress = fn
}

// Baud returns the session's current baud rate.
func (s *Session) Baud() int {
	return s.baud
}

// sendCommand drains stale input and writes one request frame.
// FLASH_DATA frames carry the XOR checksum of the block bytes; for all
// other commands the checksum word is zero.
func (s *Session) sendCommand(cmd byte, data []byte) error {
	if err := s.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("reset input buffer: %w", err)
	}

	var checksum uint32
	if cmd == protocol.CmdFlashData {
		checksum = uint32(protocol.Checksum(data[protocol.FlashDataHeaderSize:]))
	}

	frame := protocol.EncodeCommand(cmd, data, checksum)
	if s.debug {
		s.logger.Debug("write frame", "cmd", fmt.Sprintf("0x%02X", cmd), "bytes", fmt.Sprintf("% X", frame))
	}

	if _, err := s.port.Write(frame); err != nil {
		return fmt.Errorf("write command 0x%02X: %w", cmd, err)
	}
	return nil
}

// getResponse reads until a reply frame matching cmd is complete or the
// deadline elapses. Bytes failing the reply prefix checks are silently
// discarded, so garbage on the line degrades to ErrTimeout.
func (s *Session) getResponse(cmd byte, timeout time.Duration) (uint32, []byte, error) {
	deframer := protocol.NewDeframer(cmd)
	buf := make([]byte, 64)

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		n, err := s.port.Read(buf)
		if err != nil {
			return 0, nil, fmt.Errorf("read response: %w", err)
		}
		for i := 0; i < n; i++ {
			if !deframer.Feed(buf[i]) {
				continue
			}
			if s.debug {
				s.logger.Debug("read frame", "cmd", fmt.Sprintf("0x%02X", cmd), "bytes", fmt.Sprintf("% X", deframer.Bytes()))
			}
			value, data := deframer.Frame()
			return value, data, nil
		}
	}

	return 0, nil, ErrTimeout
}

// statusLength is the size of the status block trailing each reply:
// two bytes on ESP8266, four on ESP32. Before the family is known the
// reply length decides, which holds for the probe READ_REG.
func (s *Session) statusLength(replyLen int) int {
	switch s.family {
	case chip.ESP32:
		return 4
	case chip.ESP8266:
		return 2
	default:
		if replyLen >= 4 {
			return 4
		}
		return 2
	}
}

// checkCommand performs one request/reply transaction and validates the
// reply status, returning the value word and the payload body before
// the status block.
func (s *Session) checkCommand(cmd byte, data []byte, timeout time.Duration) (uint32, []byte, error) {
	if err := s.sendCommand(cmd, data); err != nil {
		return 0, nil, err
	}

	value, reply, err := s.getResponse(cmd, timeout)
	if err != nil {
		return 0, nil, err
	}

	statusLen := s.statusLength(len(reply))
	if len(reply) < statusLen {
		return 0, nil, fmt.Errorf("command 0x%02X: %w: %d bytes", cmd, ErrInsufficientStatus, len(reply))
	}

	body, status := reply[:len(reply)-statusLen], reply[len(reply)-statusLen:]
	if status[0] != 0 {
		return 0, nil, fmt.Errorf("command 0x%02X: %w", cmd, &BootloaderError{Code: status[1]})
	}

	return value, body, nil
}

// Reset drives the chip through a hardware reset. With programMode the
// chip comes up in its serial bootloader, otherwise it runs the
// application in flash.
func (s *Session) Reset(programMode bool) error {
	if err := s.gpio0.Set(!programMode); err != nil {
		return fmt.Errorf("set GPIO0: %w", err)
	}
	if err := s.rst.Set(false); err != nil {
		return fmt.Errorf("assert reset: %w", err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := s.rst.Set(true); err != nil {
		return fmt.Errorf("release reset: %w", err)
	}
	time.Sleep(200 * time.Millisecond)
	return nil
}

// Sync performs the bootloader handshake. The chip must already be in
// bootloader mode (see Reset). The SYNC command doubles as the ROM's
// auto-baud training, so a few attempts are expected to go unanswered.
func (s *Session) Sync() error {
	for attempt := 0; attempt < 3; attempt++ {
		if s.trySync() {
			time.Sleep(100 * time.Millisecond)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return ErrSyncFailed
}

// Connect resets the chip into its bootloader and syncs.
func (s *Session) Connect() error {
	if err := s.Reset(true); err != nil {
		return err
	}
	return s.Sync()
}

func (s *Session) trySync() bool {
	if err := s.sendCommand(protocol.CmdSync, protocol.SyncData()); err != nil {
		return false
	}
	// The ROM answers one SYNC with a burst of replies; any with a
	// clean status means it is listening.
	for i := 0; i < 8; i++ {
		_, reply, err := s.getResponse(protocol.CmdSync, defaultTimeout)
		if err != nil {
			continue
		}
		if len(reply) >= 2 && reply[0] == 0 && reply[1] == 0 {
			return true
		}
	}
	return false
}

// ReadRegister reads one 32-bit peripheral or efuse register.
func (s *Session) ReadRegister(addr uint32) (uint32, error) {
	value, _, err := s.checkCommand(protocol.CmdReadReg, protocol.ReadRegData(addr), defaultTimeout)
	if err != nil {
		return 0, fmt.Errorf("read register 0x%08X: %w", addr, err)
	}
	return value, nil
}

// WriteRegister writes one 32-bit register with a mask and delay.
func (s *Session) WriteRegister(addr, value, mask, delay uint32) error {
	_, _, err := s.checkCommand(protocol.CmdWriteReg, protocol.WriteRegData(addr, value, mask, delay), defaultTimeout)
	if err != nil {
		return fmt.Errorf("write register 0x%08X: %w", addr, err)
	}
	return nil
}

// ChipType identifies the chip family, probing it on first use.
func (s *Session) ChipType() (chip.Family, error) {
	if s.family != chip.Unknown {
		return s.family, nil
	}

	value, err := s.ReadRegister(chip.ProbeRegister)
	if err != nil {
		return chip.Unknown, err
	}

	family, ok := chip.FromProbe(value)
	if !ok {
		return chip.Unknown, fmt.Errorf("%w: probe register 0x%08X", ErrUnknownChip, value)
	}

	s.family = family
	s.logger.Debug("chip probe", "family", family)
	return family, nil
}

// Efuses returns the chip's four identity efuse words, reading them on
// first use.
func (s *Session) Efuses() (chip.Efuses, error) {
	if s.hasEfuses {
		return s.efuses, nil
	}

	family, err := s.ChipType()
	if err != nil {
		return chip.Efuses{}, err
	}

	base := family.EfuseBase()
	var efuses chip.Efuses
	for i := range efuses {
		word, err := s.ReadRegister(base + uint32(4*i))
		if err != nil {
			return chip.Efuses{}, fmt.Errorf("read efuse %d: %w", i, err)
		}
		efuses[i] = word
	}

	s.efuses = efuses
	s.hasEfuses = true
	return efuses, nil
}

// MACAddr derives the factory MAC address from the efuses.
func (s *Session) MACAddr() ([6]byte, error) {
	efuses, err := s.Efuses()
	if err != nil {
		return [6]byte{}, err
	}
	return s.family.MAC(efuses), nil
}

// ChipName returns the marketing name of the chip, distinguishing the
// ESP8285 from the ESP8266EX by its efuse flags.
func (s *Session) ChipName() (string, error) {
	efuses, err := s.Efuses()
	if err != nil {
		return "", err
	}
	return s.family.Name(efuses), nil
}

// SetBaudrate switches the link to a higher rate. Only the ESP32 ROM
// implements CHANGE_BAUDRATE; the command is confirmed once more at the
// new rate after the local port is reconfigured.
func (s *Session) SetBaudrate(baud int) error {
	family, err := s.ChipType()
	if err != nil {
		return err
	}
	if family != chip.ESP32 {
		return fmt.Errorf("change baudrate: %w", ErrNotSupported)
	}

	payload := protocol.ChangeBaudData(uint32(baud))
	if _, _, err := s.checkCommand(protocol.CmdChangeBaud, payload, defaultTimeout); err != nil {
		return fmt.Errorf("change baudrate: %w", err)
	}

	if err := s.port.SetBaudRate(baud); err != nil {
		return fmt.Errorf("reconfigure port: %w", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := s.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("reset input buffer: %w", err)
	}

	if _, _, err := s.checkCommand(protocol.CmdChangeBaud, payload, defaultTimeout); err != nil {
		return fmt.Errorf("confirm baudrate: %w", err)
	}

	s.baud = baud
	s.logger.Debug("baudrate changed", "baud", baud)
	return nil
}
