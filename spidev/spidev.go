// Package spidev exposes an interrupt-driven core.SPIMaster through the
// blocking SPI interfaces of periph.io and TinyGo drivers.
//
// A transfer is started on the engine and the caller's pump function is
// invoked until the completion event has run. On hardware the pump runs the
// event dispatcher while interrupts move the bytes; in simulation it also
// steps the peripheral.
package spidev

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"tinygo.org/x/drivers"

	"spimaster/core"
)

var (
	ErrBusy           = errors.New("spidev: transfer in progress")
	ErrStalled        = errors.New("spidev: transfer did not complete")
	ErrLengthMismatch = errors.New("spidev: read and write buffers differ in length")
	ErrBitsPerWord    = errors.New("spidev: only 8 bits per word are supported")
	ErrHalfDuplex     = errors.New("spidev: half duplex is not supported")
	ErrClosed         = errors.New("spidev: connection closed")
)

// Pump advances pending work and reports whether anything happened
type Pump func() bool

// PortConfig binds a port to an engine
type PortConfig struct {
	Name     string
	Master   *core.SPIMaster
	Regs     core.SPIRegisters
	ClockHz  uint32
	Defaults core.SPIBusSettings
	Pump     Pump
	// ChipSelect is asserted around each Tx and packet chain; nil when the
	// slave select is handled elsewhere or NoCS is requested
	ChipSelect core.ChipSelectConfigurator
}

// Port implements spi.Port over an SPIMaster
type Port struct {
	cfg   PortConfig
	limit physic.Frequency
}

// NewPort creates a port
func NewPort(cfg PortConfig) *Port {
	return &Port{cfg: cfg}
}

func (p *Port) String() string {
	return p.cfg.Name
}

// LimitSpeed caps the clock of connections made afterwards
func (p *Port) LimitSpeed(f physic.Frequency) error {
	if f <= 0 {
		return fmt.Errorf("spidev: invalid speed %s", f)
	}
	p.limit = f
	return nil
}

// Connect returns a connection using mode and a clock at or below f
func (p *Port) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	return p.Open(f, mode, bits)
}

// Open is Connect returning the concrete type
func (p *Port) Open(f physic.Frequency, mode spi.Mode, bits int) (*Conn, error) {
	if bits != 8 {
		return nil, ErrBitsPerWord
	}
	if p.limit != 0 && (f == 0 || f > p.limit) {
		f = p.limit
	}
	settings, err := SettingsFromMode(p.cfg.Defaults, p.cfg.ClockHz, f, mode)
	if err != nil {
		return nil, err
	}
	comm, err := core.NewBusSettingsConfigurator(p.cfg.Regs, settings, p.cfg.Defaults)
	if err != nil {
		return nil, err
	}
	c := &Conn{
		name:          fmt.Sprintf("%s(%v, %v)", p.cfg.Name, mode, f),
		master:        p.cfg.Master,
		pump:          p.cfg.Pump,
		communication: comm,
	}
	if mode&spi.NoCS == 0 {
		c.chipSelect = p.cfg.ChipSelect
	}
	return c, nil
}

// SettingsFromMode derives bus settings from a periph mode and frequency.
// A zero frequency selects the slowest clock.
func SettingsFromMode(base core.SPIBusSettings, clockHz uint32, f physic.Frequency, mode spi.Mode) (core.SPIBusSettings, error) {
	if mode&spi.HalfDuplex != 0 {
		return base, ErrHalfDuplex
	}
	s := base.WithMode(core.SPIMode(mode & spi.Mode3))
	s.MSBFirst = mode&spi.LSBFirst == 0
	s.BaudRatePrescaler = core.PrescalerForRate(clockHz, uint32(f/physic.Hertz))
	return s, nil
}

// Conn is a blocking connection to one device
type Conn struct {
	name          string
	master        *core.SPIMaster
	pump          Pump
	chipSelect    core.ChipSelectConfigurator
	communication core.CommunicationConfigurator
	closed        bool
}

var (
	_ spi.Port    = (*Port)(nil)
	_ spi.Conn    = (*Conn)(nil)
	_ drivers.SPI = (*Conn)(nil)
)

func (c *Conn) String() string {
	return c.name
}

// Duplex implements conn.Conn
func (c *Conn) Duplex() conn.Duplex {
	return conn.Full
}

// Tx exchanges w and r in one chip-select session. Either may be empty;
// otherwise both must have the same length.
func (c *Conn) Tx(w, r []byte) error {
	return c.TxPackets([]spi.Packet{{W: w, R: r}})
}

// Transfer exchanges a single byte
func (c *Conn) Transfer(b byte) (byte, error) {
	var r [1]byte
	err := c.Tx([]byte{b}, r[:])
	return r[0], err
}

// TxPackets runs the packets back to back. KeepCS holds chip select
// asserted into the next packet; the last packet always releases it.
func (c *Conn) TxPackets(packets []spi.Packet) error {
	if c.closed {
		return ErrClosed
	}
	for _, p := range packets {
		if p.BitsPerWord != 0 && p.BitsPerWord != 8 {
			return ErrBitsPerWord
		}
		if len(p.W) != 0 && len(p.R) != 0 && len(p.W) != len(p.R) {
			return ErrLengthMismatch
		}
	}
	if len(packets) == 0 {
		return nil
	}
	if c.master.Busy() {
		return ErrBusy
	}

	c.master.SetChipSelectConfigurator(c.chipSelect)
	c.master.SetCommunicationConfigurator(c.communication)
	defer c.master.ResetCommunicationConfigurator()

	for i, p := range packets {
		action := core.EndSession
		if p.KeepCS && i < len(packets)-1 {
			action = core.ContinueSession
		}
		if err := c.run(p.W, p.R, action); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) run(w, r []byte, action core.SPIAction) error {
	done := false
	c.master.BeginTransfer(w, r, action, func() { done = true })
	for !done {
		if !c.pump() {
			return ErrStalled
		}
	}
	return nil
}

// Close releases the connection. The engine stays configured.
func (c *Conn) Close() error {
	c.closed = true
	return nil
}
