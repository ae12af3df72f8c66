package sim

import (
	"errors"

	"spimaster/core"
)

// ErrNotInitialized is returned when bus settings are changed before Init
var ErrNotInitialized = errors.New("sim: peripheral not initialized")

// Slave is a device on the simulated bus. Exchange is called once per byte
// with the byte driven by the master and returns the byte the device drives
// back. Unselected devices return 0xFF.
type Slave interface {
	Exchange(mosi byte) (miso byte)
}

// Peripheral is a simulated SPI master peripheral. It implements both
// core.SPIRegisters and core.InterruptLine.
type Peripheral struct {
	slaves []Slave

	enabled  bool
	settings core.SPIBusSettings

	txFull    bool
	txByte    byte
	shifting  bool
	shiftByte byte
	rxFull    bool
	rxByte    byte
	overrun   bool

	irqEnabled core.SPIInterrupts
	handler    func()

	// Writes records every byte written to the data register
	Writes []byte
	// Reads counts data register reads
	Reads int
	// Interrupts counts handler invocations
	Interrupts int
	// ClearPendingCalls counts ClearPending calls
	ClearPendingCalls int
	// LostWrites counts writes that overwrote an unsent byte
	LostWrites int
	// SettingsLog records every settings change, Init included
	SettingsLog []core.SPIBusSettings
}

// NewPeripheral creates a peripheral with the given slaves on its bus
func NewPeripheral(slaves ...Slave) *Peripheral {
	return &Peripheral{slaves: slaves}
}

// Connect adds a slave to the bus
func (p *Peripheral) Connect(s Slave) {
	p.slaves = append(p.slaves, s)
}

// Init enables the peripheral with the given settings
func (p *Peripheral) Init(settings core.SPIBusSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	p.settings = settings
	p.enabled = true
	p.SettingsLog = append(p.SettingsLog, settings)
	return nil
}

// SetBusSettings changes clock settings of an initialized peripheral
func (p *Peripheral) SetBusSettings(settings core.SPIBusSettings) error {
	if !p.enabled {
		return ErrNotInitialized
	}
	if err := settings.Validate(); err != nil {
		return err
	}
	p.settings = settings
	p.SettingsLog = append(p.SettingsLog, settings)
	return nil
}

// Settings returns the active bus settings
func (p *Peripheral) Settings() core.SPIBusSettings {
	return p.settings
}

// Status returns the status flags
func (p *Peripheral) Status() core.SPIStatus {
	var s core.SPIStatus
	if p.rxFull {
		s |= core.StatusRxReady
	}
	if !p.txFull {
		s |= core.StatusTxReady
	}
	if p.overrun {
		s |= core.StatusOverrun
	}
	return s
}

// ReadData returns the last received byte and clears receive-ready
func (p *Peripheral) ReadData() byte {
	p.Reads++
	p.rxFull = false
	return p.rxByte
}

// WriteData queues b for transmission
func (p *Peripheral) WriteData(b byte) {
	p.Writes = append(p.Writes, b)
	if p.txFull {
		p.LostWrites++
	}
	p.txFull = true
	p.txByte = b
	p.load()
}

// EnableInterrupts unmasks interrupt sources
func (p *Peripheral) EnableInterrupts(irq core.SPIInterrupts) {
	p.irqEnabled |= irq
}

// DisableInterrupts masks interrupt sources
func (p *Peripheral) DisableInterrupts(irq core.SPIInterrupts) {
	p.irqEnabled &^= irq
}

// InterruptsEnabled returns the unmasked interrupt sources
func (p *Peripheral) InterruptsEnabled() core.SPIInterrupts {
	return p.irqEnabled
}

// Attach binds the interrupt handler
func (p *Peripheral) Attach(handler func()) {
	p.handler = handler
}

// Detach unbinds the interrupt handler
func (p *Peripheral) Detach() {
	p.handler = nil
}

// ClearPending acknowledges the interrupt. The simulated line is level
// triggered, so the request is raised again while its condition holds.
func (p *Peripheral) ClearPending() {
	p.ClearPendingCalls++
}

// Attached reports whether a handler is bound to the line
func (p *Peripheral) Attached() bool {
	return p.handler != nil
}

// InjectOverrun raises the overrun flag as if a received byte was lost
func (p *Peripheral) InjectOverrun() {
	p.overrun = true
}

// Pending reports whether the interrupt line is asserted
func (p *Peripheral) Pending() bool {
	if p.handler == nil || !p.enabled {
		return false
	}
	rx := p.rxFull && p.irqEnabled&core.IrqRxReady != 0
	tx := !p.txFull && p.irqEnabled&core.IrqTxReady != 0
	return rx || tx
}

// Step services a pending interrupt or, if none is pending, shifts one byte.
// It returns false when there is nothing left to do.
func (p *Peripheral) Step() bool {
	if p.Pending() {
		p.Interrupts++
		p.handler()
		return true
	}
	if p.shifting {
		p.shift()
		return true
	}
	return false
}

// RunUntilIdle steps until nothing is pending or limit steps were taken.
// It returns the number of steps.
func (p *Peripheral) RunUntilIdle(limit int) int {
	steps := 0
	for steps < limit && p.Step() {
		steps++
	}
	return steps
}

// load moves the transmit buffer into an idle shift register
func (p *Peripheral) load() {
	if p.txFull && !p.shifting && p.enabled {
		p.shifting = true
		p.shiftByte = p.txByte
		p.txFull = false
	}
}

// shift exchanges the byte in the shift register with the slaves
func (p *Peripheral) shift() {
	miso := byte(0xFF)
	for _, s := range p.slaves {
		miso &= s.Exchange(p.shiftByte)
	}
	if p.rxFull {
		p.overrun = true
	} else {
		p.rxFull = true
		p.rxByte = miso
	}
	p.shifting = false
	p.load()
}
