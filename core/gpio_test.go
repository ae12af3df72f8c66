package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spimaster/core"
	"spimaster/sim"
)

func TestDigitalOut(t *testing.T) {
	core.InitCoreCommands()
	core.InitGPIOCommands()
	g := sim.NewGPIO()
	core.SetGPIODriver(g)
	t.Cleanup(func() {
		core.SetGPIODriver(nil)
		core.ResetDigitalOuts()
		core.ResetFirmwareState()
	})

	require.NoError(t, command("config_digital_out", 1, 12, 1, 0))
	assert.True(t, g.Level(12))
	dout, ok := core.GetDigitalOut(1)
	require.True(t, ok)
	assert.True(t, dout.IsOn())

	require.NoError(t, command("update_digital_out", 1, 0))
	assert.False(t, g.Level(12))
	require.NoError(t, command("update_digital_out", 1, 1))
	assert.True(t, g.Level(12))

	assert.ErrorIs(t, command("update_digital_out", 7, 1), core.ErrUnknownDigitalOut)

	core.TryShutdown("test")
	assert.False(t, g.Level(12), "default level restored")
	assert.ErrorIs(t, command("update_digital_out", 1, 1), core.ErrShutdown)
}
