package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spimaster/core"
	"spimaster/protocol"
	"spimaster/sim"
)

type response struct {
	name    string
	payload []byte
}

type responseRecorder struct {
	responses []response
}

func (r *responseRecorder) SendCommand(id uint16, args func(protocol.OutputBuffer)) error {
	out := protocol.NewScratchOutput()
	if args != nil {
		args(out)
	}
	cmd, _ := core.GetGlobalRegistry().GetCommand(id)
	r.responses = append(r.responses, response{name: cmd.Name, payload: append([]byte(nil), out.Result()...)})
	return nil
}

type spiFixture struct {
	periph *sim.Peripheral
	events *core.EventDispatcher
	gpio   *sim.GPIO
	bus    *core.SPIBus
	sent   *responseRecorder
}

func newSPIFixture(t *testing.T) *spiFixture {
	t.Helper()
	core.InitCoreCommands()
	core.InitSPICommands()
	core.ResetSPIState()

	f := &spiFixture{
		periph: sim.NewPeripheral(),
		events: core.NewEventDispatcher(),
		gpio:   sim.NewGPIO(),
		sent:   &responseRecorder{},
	}
	core.SetGPIODriver(f.gpio)
	core.SetGlobalTransport(f.sent)

	master := core.NewSPIMaster(f.periph, f.periph, f.events)
	var err error
	f.bus, err = core.RegisterSPIBus(core.SPIBusConfig{
		ID:       0,
		Name:     "spi1",
		Master:   master,
		Regs:     f.periph,
		ClockHz:  84_000_000,
		Defaults: core.DefaultSPIBusSettings(),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		core.SetGlobalTransport(nil)
		core.SetGPIODriver(nil)
		core.ResetSPIState()
		core.ResetFirmwareState()
	})
	return f
}

// command dispatches a registered command with VLQ-encoded arguments.
// []byte arguments are length-prefixed.
func command(name string, args ...interface{}) error {
	cmd, ok := core.GetGlobalRegistry().GetCommandByName(name)
	if !ok {
		panic("unregistered command " + name)
	}
	out := protocol.NewScratchOutput()
	for _, arg := range args {
		switch v := arg.(type) {
		case int:
			protocol.EncodeVLQUint(out, uint32(v))
		case []byte:
			protocol.EncodeVLQBytes(out, v)
		}
	}
	data := out.Result()
	return core.DispatchCommand(cmd.ID, &data)
}

// settle runs bus and events until every queued request is done
func (f *spiFixture) settle(t *testing.T) {
	t.Helper()
	for i := 0; !f.bus.Idle() || f.events.Pending() > 0; i++ {
		require.Less(t, i, 100, "bus never settled")
		f.periph.RunUntilIdle(stepLimit)
		f.events.RunPending()
	}
}

func decodeTransferResponse(t *testing.T, r response) (uint32, []byte) {
	t.Helper()
	require.Equal(t, "spi_transfer_response", r.name)
	data := r.payload
	oid, err := protocol.DecodeVLQUint(&data)
	require.NoError(t, err)
	payload, err := protocol.DecodeVLQBytes(&data)
	require.NoError(t, err)
	return oid, payload
}

func TestSPITransferCommand(t *testing.T) {
	f := newSPIFixture(t)
	slave := &sim.Script{Response: []byte{0x11, 0x22, 0x33}}
	f.periph.Connect(slave)
	sim.WireChipSelect(f.gpio, 5, false, slave)

	require.NoError(t, command("config_spi", 1, 5, 0))
	assert.True(t, f.gpio.Level(5), "chip select starts inactive")
	require.NoError(t, command("spi_set_bus", 1, 0, 3, 4_000_000))
	require.NoError(t, command("spi_transfer", 1, []byte{0xA1, 0xA2, 0xA3}))
	assert.Empty(t, f.sent.responses, "response waits for completion")

	f.settle(t)
	require.Len(t, f.sent.responses, 1)
	oid, got := decodeTransferResponse(t, f.sent.responses[0])
	assert.Equal(t, uint32(1), oid)
	assert.Equal(t, []byte{0x11, 0x22, 0x33}, got)
	assert.Equal(t, []byte{0xA1, 0xA2, 0xA3}, slave.Received)
	assert.Equal(t, 1, slave.Sessions)
	assert.True(t, f.gpio.Level(5))

	device := core.DefaultSPIBusSettings().WithMode(3)
	device.BaudRatePrescaler = 32
	assert.Equal(t, []core.SPIBusSettings{
		core.DefaultSPIBusSettings(), device, core.DefaultSPIBusSettings(),
	}, f.periph.SettingsLog)
}

func TestSPIRequestsAreQueued(t *testing.T) {
	f := newSPIFixture(t)
	f.periph.Connect(sim.Echo{})
	require.NoError(t, command("config_spi_without_cs", 2))
	require.NoError(t, command("spi_set_bus", 2, 0, 0, 1_000_000))

	require.NoError(t, command("spi_transfer", 2, []byte{1, 2}))
	require.NoError(t, command("spi_transfer", 2, []byte{3}))
	require.NoError(t, command("spi_send", 2, []byte{4, 5, 6}))
	assert.Equal(t, 2, f.bus.Pending())

	f.settle(t)
	require.Len(t, f.sent.responses, 2)
	_, first := decodeTransferResponse(t, f.sent.responses[0])
	_, second := decodeTransferResponse(t, f.sent.responses[1])
	assert.Equal(t, []byte{1, 2}, first)
	assert.Equal(t, []byte{3}, second)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, f.periph.Writes)
}

func TestSPICommandErrors(t *testing.T) {
	f := newSPIFixture(t)
	_ = f

	assert.ErrorIs(t, command("spi_transfer", 9, []byte{1}), core.ErrUnknownSPIDevice)
	require.NoError(t, command("config_spi_without_cs", 3))
	assert.ErrorIs(t, command("spi_transfer", 3, []byte{1}), core.ErrSPIBusNotSet)
	assert.ErrorIs(t, command("spi_set_bus", 3, 0x80, 0, 1000), core.ErrSoftwareSPI)
	assert.ErrorIs(t, command("spi_set_bus", 3, 0, 4, 1000), core.ErrInvalidSPIMode)
	assert.ErrorIs(t, command("spi_set_bus", 3, 7, 0, 1000), core.ErrUnknownSPIBus)
	assert.ErrorIs(t, command("spi_set_bus", 9, 0, 0, 1000), core.ErrUnknownSPIDevice)
	assert.ErrorIs(t, command("spi_transfer", 3), protocol.ErrBufferTooSmall)
}

func TestSPIShutdownMessages(t *testing.T) {
	f := newSPIFixture(t)
	f.periph.Connect(sim.Echo{})
	require.NoError(t, command("config_spi_without_cs", 4))
	require.NoError(t, command("spi_set_bus", 4, 0, 0, 1_000_000))
	require.NoError(t, command("config_spi_shutdown", 0, 4, []byte{0xDE, 0xAD}))

	require.NoError(t, command("spi_transfer", 4, []byte{1}))
	require.NoError(t, command("spi_transfer", 4, []byte{2}))

	require.NoError(t, command("emergency_stop"))
	assert.True(t, core.IsShutdown())
	f.settle(t)

	// The active request finishes, the queued one is dropped and the
	// shutdown message follows
	assert.Equal(t, []byte{1, 0xDE, 0xAD}, f.periph.Writes)
	names := make([]string, 0, len(f.sent.responses))
	for _, r := range f.sent.responses {
		names = append(names, r.name)
	}
	assert.Equal(t, []string{"shutdown", "spi_transfer_response"}, names)

	assert.ErrorIs(t, command("spi_transfer", 4, []byte{1}), core.ErrShutdown)
	assert.ErrorIs(t, command("config_spi_without_cs", 5), core.ErrShutdown)

	require.NoError(t, command("config_reset"))
	assert.False(t, core.IsShutdown())
	_, ok := core.GetSPIDevice(4)
	assert.False(t, ok)
}

func TestRegisterSoftwareBusRejected(t *testing.T) {
	p := sim.NewPeripheral()
	m := core.NewSPIMaster(p, p, core.NewEventDispatcher())
	_, err := core.RegisterSPIBus(core.SPIBusConfig{ID: 0x80, Master: m, Regs: p, Defaults: core.DefaultSPIBusSettings()})
	assert.ErrorIs(t, err, core.ErrSoftwareSPI)
}

func TestConfigResetRefusedWhileEngineArmed(t *testing.T) {
	f := newSPIFixture(t)
	f.periph.Connect(sim.Echo{})
	require.NoError(t, command("config_spi_without_cs", 6))
	require.NoError(t, command("spi_set_bus", 6, 0, 0, 1_000_000))
	require.NoError(t, command("spi_transfer", 6, []byte{1, 2}))
	require.NoError(t, command("emergency_stop"))
	require.True(t, f.bus.Master().Busy())

	assert.ErrorIs(t, command("config_reset"), core.ErrResetRequired)
	assert.True(t, core.IsShutdown())

	f.settle(t)
	assert.False(t, core.SPIEnginesArmed())
	require.NoError(t, command("config_reset"))
	assert.False(t, core.IsShutdown())
}
