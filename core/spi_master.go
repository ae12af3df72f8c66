package core

// SPIAction tells BeginTransfer what to do with the chip-select session
// once the transfer completes
type SPIAction uint8

const (
	EndSession      SPIAction = iota // Release chip select after this transfer
	ContinueSession                  // Keep chip select asserted for the next transfer
)

// ChipSelectConfigurator asserts and releases the slave-select signal
// around one or more chained transfers
type ChipSelectConfigurator interface {
	StartSession()
	EndSession()
}

// CommunicationConfigurator applies device-specific bus parameters
type CommunicationConfigurator interface {
	ActivateConfiguration()
	DeactivateConfiguration()
}

// SPIMaster is an interrupt-driven, full-duplex SPI master.
//
// BeginTransfer arms the interrupt line and returns immediately; bytes are
// moved one at a time by the interrupt handler and the completion callback is
// handed to the EventScheduler. Transfer state is written by the caller only
// while no registration is armed, and by the handler only while one is.
type SPIMaster struct {
	regs      SPIRegisters
	line      InterruptLine
	scheduler EventScheduler

	chipSelect    ChipSelectConfigurator
	communication CommunicationConfigurator

	sendData       []byte
	receiveData    []byte
	sending        bool
	receiving      bool
	dummyToSend    int
	dummyToReceive int

	continuedSession bool
	onDone           func()
	registration     *InterruptRegistration
}

// NewSPIMaster creates an SPI master bound to a peripheral, its interrupt
// line and the scheduler that runs completion callbacks
func NewSPIMaster(regs SPIRegisters, line InterruptLine, scheduler EventScheduler) *SPIMaster {
	return &SPIMaster{
		regs:      regs,
		line:      line,
		scheduler: scheduler,
	}
}

// Configure sets up the peripheral as an 8-bit full-duplex master with
// software slave-select and enables it. Call once before the first transfer.
func (m *SPIMaster) Configure(settings SPIBusSettings) error {
	return m.regs.Init(settings)
}

// BeginTransfer starts sending sendData while receiving into receiveData.
//
// Both regions must have the same length unless one of them is empty, in
// which case zeros are sent or received bytes are discarded to clock the
// other direction. onDone is scheduled once every byte has been exchanged;
// it is never called from within BeginTransfer.
func (m *SPIMaster) BeginTransfer(sendData, receiveData []byte, action SPIAction, onDone func()) {
	if m.registration != nil {
		Fatal(ReasonTransferInFlight)
	}
	if len(sendData) != len(receiveData) && len(sendData) != 0 && len(receiveData) != 0 {
		Fatal(ReasonLengthMismatch)
	}

	m.onDone = onDone
	if m.chipSelect != nil && !m.continuedSession {
		m.chipSelect.StartSession()
		RecordTrace(TraceSessionStart, 0, 0)
	}
	m.continuedSession = action == ContinueSession

	m.sendData = sendData
	m.receiveData = receiveData
	m.sending = len(sendData) != 0
	m.receiving = len(receiveData) != 0

	m.dummyToSend = 0
	m.dummyToReceive = 0
	if !m.sending {
		m.dummyToSend = len(receiveData)
	}
	if !m.receiving {
		m.dummyToReceive = len(sendData)
	}

	RecordTrace(TraceBegin, uint32(len(sendData)), uint32(len(receiveData)))

	m.registration = NewInterruptRegistration(m.line, m.handleInterrupt)
	m.regs.EnableInterrupts(IrqTxReady | IrqRxReady)
}

// Busy reports whether a transfer is in flight
func (m *SPIMaster) Busy() bool {
	return m.registration != nil
}

// SetChipSelectConfigurator attaches the chip-select session used by
// subsequent transfers. A nil configurator detaches it.
func (m *SPIMaster) SetChipSelectConfigurator(configurator ChipSelectConfigurator) {
	m.chipSelect = configurator
}

// SetCommunicationConfigurator attaches and activates device-specific bus
// parameters
func (m *SPIMaster) SetCommunicationConfigurator(configurator CommunicationConfigurator) {
	m.communication = configurator
	if m.communication != nil {
		m.communication.ActivateConfiguration()
	}
}

// ResetCommunicationConfigurator deactivates and detaches the current
// communication configurator, if any
func (m *SPIMaster) ResetCommunicationConfigurator() {
	if m.communication != nil {
		m.communication.DeactivateConfiguration()
	}
	m.communication = nil
}

// Close verifies that no transfer still holds the interrupt line.
// The master must not be discarded while a registration is armed.
func (m *SPIMaster) Close() {
	if m.registration != nil {
		Fatal(ReasonClosedWhileArmed)
	}
}

// handleInterrupt advances the transfer by at most one byte in each
// direction. Reception is serviced first: transmit is paced behind receive so
// that at most one byte is ever in flight and the receiver cannot overrun.
func (m *SPIMaster) handleInterrupt() {
	status := m.regs.Status()
	RecordTrace(TraceInterrupt, uint32(status), 0)

	if status&StatusRxReady != 0 {
		if m.dummyToReceive != 0 {
			m.regs.ReadData()
			m.dummyToReceive--
		} else if m.receiving {
			m.receiveData[0] = m.regs.ReadData()
			m.receiveData = m.receiveData[1:]
		}

		m.receiving = m.receiving && len(m.receiveData) != 0

		if m.dummyToReceive == 0 && !m.receiving {
			m.regs.DisableInterrupts(IrqRxReady)
		}
	}

	if status&StatusTxReady != 0 {
		if m.dummyToSend != 0 {
			m.regs.WriteData(0)
			m.dummyToSend--
		} else if m.sending {
			m.regs.WriteData(m.sendData[0])
			m.sendData = m.sendData[1:]
		}

		m.sending = m.sending && len(m.sendData) != 0

		// Only the first byte is kicked off by transmit-ready; later bytes
		// are written when the receive of the previous one is serviced.
		m.regs.DisableInterrupts(IrqTxReady)
	}

	if m.regs.Status()&StatusOverrun != 0 {
		Fatal(ReasonOverrun)
	}

	m.registration.ClearPending()

	if !m.sending && !m.receiving && m.dummyToSend == 0 && m.dummyToReceive == 0 {
		m.registration.Release()
		m.registration = nil
		if m.chipSelect != nil && !m.continuedSession {
			m.chipSelect.EndSession()
			RecordTrace(TraceSessionEnd, 0, 0)
		}
		RecordTrace(TraceComplete, 0, 0)
		m.scheduler.Schedule(m.onDone)
	}
}
