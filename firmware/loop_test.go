package firmware_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spimaster/core"
	"spimaster/firmware"
	"spimaster/protocol"
	"spimaster/sim"
)

const stepLimit = 10000

type board struct {
	t      *testing.T
	periph *sim.Peripheral
	gpio   *sim.GPIO
	loop   *firmware.Loop
	wire   *bytes.Buffer
	seq    uint8
}

func newBoard(t *testing.T, slaves ...sim.Slave) *board {
	t.Helper()
	core.InitCoreCommands()
	core.InitSPICommands()

	b := &board{
		t:      t,
		periph: sim.NewPeripheral(slaves...),
		gpio:   sim.NewGPIO(),
		wire:   &bytes.Buffer{},
		seq:    protocol.MessageDest,
	}
	events := core.NewEventDispatcher()
	b.loop = firmware.New(firmware.Config{Output: b.wire, Events: events})
	core.SetGPIODriver(b.gpio)

	master := core.NewSPIMaster(b.periph, b.periph, events)
	_, err := core.RegisterSPIBus(core.SPIBusConfig{
		ID:       0,
		Name:     "spi1",
		Master:   master,
		Regs:     b.periph,
		ClockHz:  84_000_000,
		Defaults: core.DefaultSPIBusSettings(),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		core.SetGlobalTransport(nil)
		core.SetGPIODriver(nil)
		core.ResetSPIDevices()
		core.ResetFirmwareState()
	})
	return b
}

// send frames one command with VLQ arguments; []byte arguments are
// length-prefixed
func (b *board) send(name string, args ...interface{}) {
	b.t.Helper()
	cmd, ok := core.GetGlobalRegistry().GetCommandByName(name)
	require.True(b.t, ok, name)

	payload := protocol.NewFifoBuffer(protocol.MessagePayloadMax)
	protocol.EncodeVLQUint(payload, uint32(cmd.ID))
	for _, a := range args {
		switch v := a.(type) {
		case int:
			protocol.EncodeVLQUint(payload, uint32(v))
		case []byte:
			protocol.EncodeVLQBytes(payload, v)
		default:
			b.t.Fatalf("unsupported argument %T", a)
		}
	}
	frame, err := protocol.AppendFrame(nil, b.seq, payload.Data())
	require.NoError(b.t, err)
	b.seq = protocol.NextSequence(b.seq)
	require.Equal(b.t, len(frame), b.loop.Feed(frame))
}

// settle alternates interrupts and main loop iterations until quiet
func (b *board) settle() {
	for i := 0; i < 100; i++ {
		b.loop.Poll()
		busy := false
		b.loop.Interrupt(func() { busy = b.periph.RunUntilIdle(stepLimit) > 0 })
		if !busy && b.loop.Events().Pending() == 0 {
			b.loop.Poll()
			return
		}
	}
	b.t.Fatal("firmware never settled")
}

// frames decodes everything written to the wire so far
func (b *board) frames() []protocol.Frame {
	var out []protocol.Frame
	scanner := protocol.NewScanner()
	data := b.wire.Bytes()
	for {
		f, n, ok, _ := scanner.Next(data)
		data = data[n:]
		if !ok {
			return out
		}
		out = append(out, protocol.Frame{Sequence: f.Sequence, Payload: append([]byte(nil), f.Payload...)})
	}
}

// responses returns the name and arguments of every non-ack frame
func (b *board) responses() map[string][][]byte {
	out := make(map[string][][]byte)
	for _, f := range b.frames() {
		payload := f.Payload
		for len(payload) > 0 {
			id, err := protocol.DecodeVLQUint(&payload)
			require.NoError(b.t, err)
			cmd, ok := core.GetGlobalRegistry().GetCommand(uint16(id))
			require.True(b.t, ok)
			out[cmd.Name] = append(out[cmd.Name], payload)
			payload = nil
		}
	}
	return out
}

func TestLoopAcknowledgesFrames(t *testing.T) {
	b := newBoard(t)
	b.send("get_config")
	b.settle()

	frames := b.frames()
	require.Len(t, frames, 2)
	assert.False(t, frames[0].IsAck(), "response written while dispatching")
	ack := frames[1]
	assert.True(t, ack.IsAck())
	assert.Equal(t, protocol.NextSequence(protocol.MessageDest), ack.Sequence)

	config := b.responses()["config"]
	require.Len(t, config, 1)
	assert.Equal(t, []byte{0, 0, 0}, config[0])
}

func TestLoopSPITransfer(t *testing.T) {
	b := newBoard(t, sim.Echo{})
	b.send("config_spi", 1, 7, 0)
	b.send("spi_set_bus", 1, 0, 3, 1_000_000)
	b.send("spi_transfer", 1, []byte{0xCA, 0xFE})
	b.settle()

	got := b.responses()["spi_transfer_response"]
	require.Len(t, got, 1)
	payload := got[0]
	oid, err := protocol.DecodeVLQUint(&payload)
	require.NoError(t, err)
	data, err := protocol.DecodeVLQBytes(&payload)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), oid)
	assert.Equal(t, []byte{0xCA, 0xFE}, data)
	assert.True(t, b.gpio.Level(7), "chip select released")
	assert.Equal(t, core.DefaultSPIBusSettings(), b.periph.Settings())
}

func TestLoopCountsCommandErrors(t *testing.T) {
	b := newBoard(t)
	b.send("spi_transfer", 9, []byte{1})
	b.settle()
	assert.Equal(t, uint32(1), b.loop.Stats().CommandErrors)
	assert.False(t, core.IsShutdown())
}

func TestLoopRecoversFatalInInterrupt(t *testing.T) {
	b := newBoard(t, sim.Echo{})
	b.send("config_spi_without_cs", 2)
	b.send("spi_set_bus", 2, 0, 0, 0)
	b.send("config_spi_shutdown", 3, 2, []byte{0x00, 0x00})
	b.send("spi_transfer", 2, []byte{1, 2, 3})
	b.loop.Poll()

	b.periph.InjectOverrun()
	b.loop.Interrupt(func() { b.periph.RunUntilIdle(stepLimit) })

	assert.True(t, core.IsShutdown())
	assert.Equal(t, core.ReasonOverrun, core.ShutdownReason())
	assert.Equal(t, uint32(1), b.loop.Stats().Shutdowns)

	shutdown := b.responses()["shutdown"]
	require.Len(t, shutdown, 1)
	payload := shutdown[0]
	reason, err := protocol.DecodeVLQString(&payload)
	require.NoError(t, err)
	assert.Equal(t, core.ReasonOverrun, reason)

	b.send("spi_transfer", 2, []byte{1})
	b.loop.Poll()
	assert.Equal(t, uint32(1), b.loop.Stats().CommandErrors, "refused while shut down")
}

func TestLoopEmergencyStop(t *testing.T) {
	b := newBoard(t)
	b.send("emergency_stop")
	b.settle()
	assert.True(t, core.IsShutdown())
	require.Len(t, b.responses()["shutdown"], 1)

	b.send("config_reset")
	b.settle()
	assert.False(t, core.IsShutdown())
}

type shortWriter struct {
	buf bytes.Buffer
}

func (w *shortWriter) Write(p []byte) (int, error) {
	if len(p) > 3 {
		p = p[:3]
	}
	return w.buf.Write(p)
}

func TestLoopKeepsUnwrittenOutput(t *testing.T) {
	w := &shortWriter{}
	core.InitCoreCommands()
	loop := firmware.New(firmware.Config{Output: w})
	t.Cleanup(func() { core.SetGlobalTransport(nil) })

	frame, err := protocol.AppendFrame(nil, protocol.MessageDest, nil)
	require.NoError(t, err)
	loop.Feed(frame)
	for i := 0; i < 5; i++ {
		loop.Poll()
	}
	ack, err := protocol.AppendFrame(nil, protocol.NextSequence(protocol.MessageDest), nil)
	require.NoError(t, err)
	assert.Equal(t, ack, w.buf.Bytes())
}

func TestLoopConfigResetAfterOverrunIsRefused(t *testing.T) {
	b := newBoard(t, sim.Echo{})
	b.send("config_spi_without_cs", 2)
	b.send("spi_set_bus", 2, 0, 0, 0)
	b.send("spi_transfer", 2, []byte{1, 2, 3})
	b.loop.Poll()

	b.periph.InjectOverrun()
	b.loop.Interrupt(func() { b.periph.RunUntilIdle(stepLimit) })
	require.True(t, core.IsShutdown())

	// The handler died holding the interrupt line, so the bus stays wedged
	b.send("config_reset")
	b.loop.Poll()
	assert.Equal(t, uint32(1), b.loop.Stats().CommandErrors)
	assert.True(t, core.IsShutdown(), "still shut down")
	assert.True(t, core.SPIEnginesArmed())

	b.send("spi_transfer", 2, []byte{4})
	b.loop.Poll()
	assert.Equal(t, uint32(2), b.loop.Stats().CommandErrors)
	assert.Empty(t, b.responses()["spi_transfer_response"])
	assert.Len(t, b.responses()["shutdown"], 1)
}
