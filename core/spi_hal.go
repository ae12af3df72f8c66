package core

import "errors"

// ErrInvalidPrescaler is returned for a divider that is not a power of two in 2-256
var ErrInvalidPrescaler = errors.New("invalid SPI baud rate prescaler")

// SPIStatus is a snapshot of the peripheral status register
type SPIStatus uint8

const (
	StatusRxReady SPIStatus = 1 << iota // A received byte is waiting in the data register
	StatusTxReady                       // The data register can accept the next byte
	StatusOverrun                       // A received byte was lost
)

// SPIInterrupts selects interrupt sources on the peripheral
type SPIInterrupts uint8

const (
	IrqRxReady SPIInterrupts = 1 << iota
	IrqTxReady
)

// SPIBusSettings holds the clock and framing options of an SPI bus.
// Frames are always 8 bits wide.
type SPIBusSettings struct {
	ClockPolarityLow  bool   // Clock idles low (CPOL=0)
	ClockPhase1st     bool   // Data sampled on the first clock edge (CPHA=0)
	BaudRatePrescaler uint16 // Peripheral clock divider (power of two, 2-256)
	MSBFirst          bool   // Most significant bit shifted out first
}

// DefaultSPIBusSettings returns SPI mode 0, MSB first, clock divided by 16
func DefaultSPIBusSettings() SPIBusSettings {
	return SPIBusSettings{
		ClockPolarityLow:  true,
		ClockPhase1st:     true,
		BaudRatePrescaler: 16,
		MSBFirst:          true,
	}
}

// Validate checks that the settings can be programmed into a peripheral
func (s SPIBusSettings) Validate() error {
	p := s.BaudRatePrescaler
	if p < 2 || p > 256 || p&(p-1) != 0 {
		return ErrInvalidPrescaler
	}
	return nil
}

// SPIMode represents SPI clock polarity and phase (0-3)
// Mode 0: CPOL=0, CPHA=0 (clock idle low, sample on rising edge)
// Mode 1: CPOL=0, CPHA=1 (clock idle low, sample on falling edge)
// Mode 2: CPOL=1, CPHA=0 (clock idle high, sample on falling edge)
// Mode 3: CPOL=1, CPHA=1 (clock idle high, sample on rising edge)
type SPIMode uint8

// WithMode returns a copy of s with polarity and phase taken from mode
func (s SPIBusSettings) WithMode(mode SPIMode) SPIBusSettings {
	s.ClockPolarityLow = mode&0b10 == 0
	s.ClockPhase1st = mode&0b01 == 0
	return s
}

// Mode returns the SPI mode number of the settings
func (s SPIBusSettings) Mode() SPIMode {
	var m SPIMode
	if !s.ClockPolarityLow {
		m |= 0b10
	}
	if !s.ClockPhase1st {
		m |= 0b01
	}
	return m
}

// PrescalerForRate returns the smallest power-of-two divider (2-256) that
// keeps the bus clock at or below rateHz. A zero rate selects the slowest clock.
func PrescalerForRate(clockHz, rateHz uint32) uint16 {
	div := uint32(2)
	for div < 256 && (rateHz == 0 || clockHz/div > rateHz) {
		div <<= 1
	}
	return uint16(div)
}

// SPIRegisters is the register interface of one SPI peripheral instance.
// Implementations live in the hal packages and in sim.
type SPIRegisters interface {
	// Init programs master mode, two-line full duplex, 8-bit frames and
	// software slave-select management, applies settings and enables the
	// peripheral.
	Init(settings SPIBusSettings) error

	// SetBusSettings reprograms clock polarity, phase, prescaler and bit order
	// between transfers.
	SetBusSettings(settings SPIBusSettings) error

	// Status reads the status flags
	Status() SPIStatus

	// ReadData reads the data register, clearing receive-ready
	ReadData() byte

	// WriteData writes one byte to the data register for transmission
	WriteData(b byte)

	// EnableInterrupts unmasks the given interrupt sources
	EnableInterrupts(irq SPIInterrupts)

	// DisableInterrupts masks the given interrupt sources
	DisableInterrupts(irq SPIInterrupts)
}
