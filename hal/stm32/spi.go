// Package stm32 drives the SPI peripheral of STM32 microcontrollers at the
// register level and adapts it to core.SPIRegisters.
package stm32

import (
	"spimaster/core"
	"spimaster/hal/mmio"
)

// Registers is the SPI register block (RM0090 section 28.5)
type Registers struct {
	CR1     mmio.Register32
	CR2     mmio.Register32
	SR      mmio.Register32
	DR      mmio.Register32
	CRCPR   mmio.Register32
	RXCRCR  mmio.Register32
	TXCRCR  mmio.Register32
	I2SCFGR mmio.Register32
	I2SPR   mmio.Register32
}

// CR1 bits
const (
	CR1_CPHA     = 1 << 0
	CR1_CPOL     = 1 << 1
	CR1_MSTR     = 1 << 2
	CR1_SPE      = 1 << 6
	CR1_LSBFIRST = 1 << 7
	CR1_SSI      = 1 << 8
	CR1_SSM      = 1 << 9
	CR1_RXONLY   = 1 << 10
	CR1_DFF      = 1 << 11 // 16-bit frames, families without FIFO
	CR1_CRCEN    = 1 << 13
	CR1_BIDIMODE = 1 << 15
)

// CR1_BR is the baud rate divider field: fPCLK / 2^(BR+1)
var CR1_BR = mmio.Field[uint32]{Pos: 3, Width: 3}

// CR2 bits
const (
	CR2_SSOE   = 1 << 2
	CR2_ERRIE  = 1 << 5
	CR2_RXNEIE = 1 << 6
	CR2_TXEIE  = 1 << 7
	CR2_FRXTH  = 1 << 12 // RXNE on a quarter-full FIFO (8-bit frames)
)

// CR2_DS is the data size field of FIFO-equipped families, frame bits - 1
var CR2_DS = mmio.Field[uint32]{Pos: 8, Width: 4}

// SR bits
const (
	SR_RXNE = 1 << 0
	SR_TXE  = 1 << 1
	SR_OVR  = 1 << 6
	SR_BSY  = 1 << 7
)

// busSettingsMask covers the CR1 bits rewritten by SetBusSettings
var busSettingsMask = uint32(CR1_CPHA|CR1_CPOL|CR1_LSBFIRST) | CR1_BR.Mask()

// SPI adapts one register block to core.SPIRegisters
type SPI struct {
	regs *Registers
	fifo bool
}

// New wraps regs. fifo selects the register layout of families with a
// receive FIFO and a data size field (F0, F3, F7, G0, G4, L4).
func New(regs *Registers, fifo bool) *SPI {
	return &SPI{regs: regs, fifo: fifo}
}

// Registers returns the underlying register block
func (s *SPI) Registers() *Registers {
	return s.regs
}

// settingsBits encodes polarity, phase, divider and bit order for CR1
func settingsBits(settings core.SPIBusSettings) (uint32, error) {
	br, ok := mmio.Log2(settings.BaudRatePrescaler)
	if !ok || br < 1 || br > 8 {
		return 0, core.ErrInvalidPrescaler
	}
	cr1 := CR1_BR.Put(0, uint32(br-1))
	cr1 |= mmio.If[uint32](!settings.ClockPolarityLow, CR1_CPOL)
	cr1 |= mmio.If[uint32](!settings.ClockPhase1st, CR1_CPHA)
	cr1 |= mmio.If[uint32](!settings.MSBFirst, CR1_LSBFIRST)
	return cr1, nil
}

// Init programs master mode, full duplex, 8-bit frames, software slave
// select with CRC off, then enables the peripheral
func (s *SPI) Init(settings core.SPIBusSettings) error {
	bits, err := settingsBits(settings)
	if err != nil {
		return err
	}
	s.regs.CR1.Set(0)

	var cr2 uint32
	if s.fifo {
		cr2 = CR2_DS.Put(0, 8-1) | CR2_FRXTH
	}
	s.regs.CR2.Set(cr2)

	s.regs.CR1.Set(CR1_MSTR | CR1_SSM | CR1_SSI | bits)
	s.regs.CR1.SetBits(CR1_SPE)
	return nil
}

// SetBusSettings reprograms clock and bit order. CR1 may only change while
// the peripheral is disabled.
func (s *SPI) SetBusSettings(settings core.SPIBusSettings) error {
	bits, err := settingsBits(settings)
	if err != nil {
		return err
	}
	s.regs.CR1.ClearBits(CR1_SPE)
	s.regs.CR1.Set(s.regs.CR1.Get()&^busSettingsMask | bits)
	s.regs.CR1.SetBits(CR1_SPE)
	return nil
}

// Status maps SR to the engine's status flags
func (s *SPI) Status() core.SPIStatus {
	sr := s.regs.SR.Get()
	var st core.SPIStatus
	if sr&SR_RXNE != 0 {
		st |= core.StatusRxReady
	}
	if sr&SR_TXE != 0 {
		st |= core.StatusTxReady
	}
	if sr&SR_OVR != 0 {
		st |= core.StatusOverrun
	}
	return st
}

// ReadData reads one frame from DR
func (s *SPI) ReadData() byte {
	return mmio.Load8(&s.regs.DR)
}

// WriteData writes one frame to DR. The access is byte wide so that FIFO
// families do not pack two frames into one write.
func (s *SPI) WriteData(b byte) {
	mmio.Store8(&s.regs.DR, b)
}

// EnableInterrupts sets RXNEIE and TXEIE as requested
func (s *SPI) EnableInterrupts(irq core.SPIInterrupts) {
	s.regs.CR2.SetBits(interruptBits(irq))
}

// DisableInterrupts clears RXNEIE and TXEIE as requested
func (s *SPI) DisableInterrupts(irq core.SPIInterrupts) {
	s.regs.CR2.ClearBits(interruptBits(irq))
}

func interruptBits(irq core.SPIInterrupts) uint32 {
	return mmio.If[uint32](irq&core.IrqRxReady != 0, CR2_RXNEIE) |
		mmio.If[uint32](irq&core.IrqTxReady != 0, CR2_TXEIE)
}
