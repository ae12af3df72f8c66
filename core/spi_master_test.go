package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spimaster/core"
	"spimaster/sim"
)

const stepLimit = 10000

type rig struct {
	periph *sim.Peripheral
	events *core.EventDispatcher
	master *core.SPIMaster
}

func newRig(t *testing.T, slaves ...sim.Slave) *rig {
	t.Helper()
	p := sim.NewPeripheral(slaves...)
	d := core.NewEventDispatcher()
	m := core.NewSPIMaster(p, p, d)
	require.NoError(t, m.Configure(core.DefaultSPIBusSettings()))
	t.Cleanup(core.ResetFirmwareState)
	return &rig{periph: p, events: d, master: m}
}

// run drives the bus until it is idle, then runs the scheduled completions
func (r *rig) run(t *testing.T) {
	t.Helper()
	steps := r.periph.RunUntilIdle(stepLimit)
	require.Less(t, steps, stepLimit, "bus never went idle")
	r.events.RunPending()
}

// sessionCounter counts chip-select session edges
type sessionCounter struct {
	starts, ends int
}

func (s *sessionCounter) StartSession() { s.starts++ }
func (s *sessionCounter) EndSession()   { s.ends++ }

func TestEchoExample(t *testing.T) {
	r := newRig(t, sim.Echo{})
	cs := &sessionCounter{}
	r.master.SetChipSelectConfigurator(cs)

	buffer := make([]byte, 2)
	calls := 0
	r.master.BeginTransfer([]byte{0xA5, 0x3C}, buffer, core.EndSession, func() { calls++ })

	assert.Equal(t, 0, calls, "completion must not run inside BeginTransfer")
	assert.Equal(t, 0, r.events.Pending())
	assert.True(t, r.master.Busy())
	assert.Equal(t, 1, cs.starts)

	steps := r.periph.RunUntilIdle(stepLimit)
	require.Less(t, steps, stepLimit)
	assert.Equal(t, 1, r.events.Pending(), "completion scheduled once")
	assert.Equal(t, 0, calls)

	r.events.RunPending()
	assert.Equal(t, 1, calls)
	assert.Equal(t, []byte{0xA5, 0x3C}, buffer)
	assert.Equal(t, 1, cs.ends)
	assert.False(t, r.master.Busy())
	assert.False(t, r.periph.Attached(), "registration released")

	r.events.RunPending()
	assert.Equal(t, 1, calls)
}

func TestFullDuplexCorrectness(t *testing.T) {
	for _, n := range []int{1, 2, 7, 64, 255} {
		response := make([]byte, n)
		send := make([]byte, n)
		for i := range response {
			response[i] = byte(0xFF - i)
			send[i] = byte(i * 3)
		}
		slave := sim.NewScript(response...)
		r := newRig(t, slave)

		receive := make([]byte, n)
		done := 0
		r.master.BeginTransfer(send, receive, core.EndSession, func() { done++ })
		r.run(t)

		assert.Equal(t, 1, done, "n=%d", n)
		assert.Equal(t, response, receive, "n=%d", n)
		assert.Equal(t, send, r.periph.Writes, "each byte written once, in order")
		assert.Equal(t, send, slave.Received)
		assert.Equal(t, n, r.periph.Reads)
		assert.Zero(t, r.periph.LostWrites, "at most one byte in flight")
	}
}

func TestSendOnlyPadding(t *testing.T) {
	slave := sim.NewScript(9, 9, 9)
	r := newRig(t, slave)

	send := []byte{0x01, 0x02, 0x03}
	done := 0
	r.master.BeginTransfer(send, nil, core.EndSession, func() { done++ })
	r.run(t)

	assert.Equal(t, 1, done)
	assert.Equal(t, send, r.periph.Writes)
	assert.Equal(t, 3, r.periph.Reads, "every received byte is drained")
	assert.Equal(t, send, slave.Received)
}

func TestReceiveOnlyPadding(t *testing.T) {
	slave := sim.NewScript(0x10, 0x20, 0x30, 0x40)
	r := newRig(t, slave)

	receive := make([]byte, 4)
	done := 0
	r.master.BeginTransfer(nil, receive, core.EndSession, func() { done++ })
	r.run(t)

	assert.Equal(t, 1, done)
	assert.Equal(t, []byte{0, 0, 0, 0}, r.periph.Writes, "dummy bytes are zero")
	assert.Equal(t, []byte{0x10, 0x20, 0x30, 0x40}, receive)
	assert.Equal(t, 4, r.periph.Reads)
}

func TestZeroLengthTransfer(t *testing.T) {
	cs := &sessionCounter{}
	r := newRig(t, sim.Echo{})
	r.master.SetChipSelectConfigurator(cs)

	done := 0
	r.master.BeginTransfer(nil, nil, core.EndSession, func() { done++ })
	r.run(t)

	assert.Equal(t, 1, done)
	assert.Empty(t, r.periph.Writes)
	assert.Equal(t, 1, cs.starts)
	assert.Equal(t, 1, cs.ends)
}

func TestLengthMismatchIsFatal(t *testing.T) {
	r := newRig(t, sim.Echo{})
	cs := &sessionCounter{}
	r.master.SetChipSelectConfigurator(cs)

	require.PanicsWithError(t, "shutdown: "+core.ReasonLengthMismatch, func() {
		r.master.BeginTransfer([]byte{1, 2, 3}, make([]byte, 2), core.EndSession, func() {})
	})
	assert.True(t, core.IsShutdown())
	assert.Equal(t, core.ReasonLengthMismatch, core.ShutdownReason())
	assert.False(t, r.master.Busy())
	assert.False(t, r.periph.Attached())
	assert.Zero(t, cs.starts, "no session opened for a rejected transfer")
}

func TestBeginWhileInFlightIsFatal(t *testing.T) {
	r := newRig(t, sim.Echo{})

	first := make([]byte, 3)
	done := 0
	r.master.BeginTransfer([]byte{7, 8, 9}, first, core.EndSession, func() { done++ })
	r.periph.Step()

	require.PanicsWithError(t, "shutdown: "+core.ReasonTransferInFlight, func() {
		r.master.BeginTransfer([]byte{1}, make([]byte, 1), core.EndSession, func() {})
	})

	// The armed transfer is untouched by the rejected call
	r.run(t)
	assert.Equal(t, 1, done)
	assert.Equal(t, []byte{7, 8, 9}, first)
}

func TestBeginAfterReleaseBeforeCompletionRuns(t *testing.T) {
	r := newRig(t, sim.Echo{})
	r.master.BeginTransfer([]byte{1}, nil, core.EndSession, func() {})
	r.periph.RunUntilIdle(stepLimit)

	// The engine is idle once the completion is scheduled; a new transfer
	// may start even before the event runs
	assert.False(t, r.master.Busy())
	assert.NotPanics(t, func() {
		r.master.BeginTransfer([]byte{2}, nil, core.EndSession, func() {})
	})
	r.run(t)
}

func TestOverrunIsFatal(t *testing.T) {
	r := newRig(t, sim.Echo{})
	done := 0
	r.master.BeginTransfer([]byte{1, 2, 3, 4}, make([]byte, 4), core.EndSession, func() { done++ })
	require.True(t, r.periph.Step())

	r.periph.InjectOverrun()
	require.PanicsWithError(t, "shutdown: "+core.ReasonOverrun, func() {
		r.periph.RunUntilIdle(stepLimit)
	})
	assert.True(t, core.IsShutdown())
	assert.Zero(t, r.events.Pending(), "no completion after an overrun")
	assert.Zero(t, done)
}

func TestSessionBracketing(t *testing.T) {
	r := newRig(t, sim.Echo{})
	cs := &sessionCounter{}
	r.master.SetChipSelectConfigurator(cs)

	for i := 0; i < 5; i++ {
		r.master.BeginTransfer([]byte{byte(i)}, make([]byte, 1), core.ContinueSession, nil)
		r.run(t)
	}
	assert.Equal(t, 1, cs.starts)
	assert.Zero(t, cs.ends)

	endsAtCompletion := -1
	r.master.BeginTransfer([]byte{0xFF}, nil, core.EndSession, func() { endsAtCompletion = cs.ends })
	r.run(t)
	assert.Equal(t, 1, cs.starts)
	assert.Equal(t, 1, cs.ends)
	assert.Equal(t, 1, endsAtCompletion, "session ends before completion runs")

	r.master.BeginTransfer([]byte{0x01}, nil, core.EndSession, nil)
	r.run(t)
	assert.Equal(t, 2, cs.starts)
	assert.Equal(t, 2, cs.ends)
}

func TestDetachedChipSelect(t *testing.T) {
	r := newRig(t, sim.Echo{})
	cs := &sessionCounter{}
	r.master.SetChipSelectConfigurator(cs)
	r.master.SetChipSelectConfigurator(nil)

	r.master.BeginTransfer([]byte{1}, nil, core.EndSession, nil)
	r.run(t)
	assert.Zero(t, cs.starts)
	assert.Zero(t, cs.ends)
}

func TestClearPendingOnEveryInterrupt(t *testing.T) {
	r := newRig(t, sim.Echo{})
	r.master.BeginTransfer([]byte{1, 2, 3}, make([]byte, 3), core.EndSession, nil)
	r.run(t)
	assert.Positive(t, r.periph.Interrupts)
	assert.Equal(t, r.periph.Interrupts, r.periph.ClearPendingCalls)
}

func TestCommunicationConfigurator(t *testing.T) {
	r := newRig(t, sim.Echo{})
	defaults := core.DefaultSPIBusSettings()
	device := defaults.WithMode(3)
	device.BaudRatePrescaler = 4
	device.MSBFirst = false

	comm, err := core.NewBusSettingsConfigurator(r.periph, device, defaults)
	require.NoError(t, err)

	r.master.SetCommunicationConfigurator(comm)
	assert.Equal(t, device, r.periph.Settings())

	r.master.BeginTransfer([]byte{1}, nil, core.EndSession, nil)
	r.run(t)
	assert.Equal(t, device, r.periph.Settings(), "settings stay for the device's transfers")

	r.master.ResetCommunicationConfigurator()
	assert.Equal(t, defaults, r.periph.Settings())
	assert.Equal(t, []core.SPIBusSettings{defaults, device, defaults}, r.periph.SettingsLog)

	// Resetting again is a no-op
	r.master.ResetCommunicationConfigurator()
	assert.Len(t, r.periph.SettingsLog, 3)
}

func TestInvalidBusSettings(t *testing.T) {
	p := sim.NewPeripheral()
	m := core.NewSPIMaster(p, p, core.NewEventDispatcher())
	bad := core.DefaultSPIBusSettings()
	bad.BaudRatePrescaler = 3
	assert.ErrorIs(t, m.Configure(bad), core.ErrInvalidPrescaler)

	_, err := core.NewBusSettingsConfigurator(p, bad, core.DefaultSPIBusSettings())
	assert.ErrorIs(t, err, core.ErrInvalidPrescaler)
}

func TestCloseWhileArmedIsFatal(t *testing.T) {
	r := newRig(t, sim.Echo{})
	r.master.BeginTransfer([]byte{1}, nil, core.EndSession, nil)
	require.PanicsWithError(t, "shutdown: "+core.ReasonClosedWhileArmed, r.master.Close)

	core.ResetFirmwareState()
	r.run(t)
	assert.NotPanics(t, r.master.Close)
}

func TestEEPROMChainedTransfers(t *testing.T) {
	gpio := sim.NewGPIO()
	eeprom := sim.NewEEPROM(1024)
	const csPin = core.GPIOPin(4)
	sim.WireChipSelect(gpio, csPin, false, eeprom)

	r := newRig(t, eeprom)
	cs, err := core.NewGPIOChipSelect(gpio, csPin, false)
	require.NoError(t, err)
	r.master.SetChipSelectConfigurator(cs)

	r.master.BeginTransfer([]byte{sim.EEPROMWriteEnable}, nil, core.EndSession, nil)
	r.run(t)
	assert.True(t, eeprom.WriteEnabled())

	r.master.BeginTransfer([]byte{sim.EEPROMWrite, 0x00, 0x01, 0x10}, nil, core.ContinueSession, nil)
	r.run(t)
	assert.False(t, gpio.Level(csPin), "chip select held between chained transfers")
	r.master.BeginTransfer([]byte{0xDE, 0xAD, 0xBE, 0xEF}, nil, core.EndSession, nil)
	r.run(t)
	assert.True(t, gpio.Level(csPin))
	assert.False(t, eeprom.WriteEnabled(), "write latch cleared by the write")
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, eeprom.Memory[0x110:0x114])

	r.master.BeginTransfer([]byte{sim.EEPROMRead, 0x00, 0x01, 0x11}, nil, core.ContinueSession, nil)
	r.run(t)
	readBack := make([]byte, 3)
	r.master.BeginTransfer(nil, readBack, core.EndSession, nil)
	r.run(t)
	assert.Equal(t, []byte{0xAD, 0xBE, 0xEF}, readBack)
}
