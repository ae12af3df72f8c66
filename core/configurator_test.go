package core_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spimaster/core"
	"spimaster/sim"
)

func TestGPIOChipSelectPolarity(t *testing.T) {
	gpio := sim.NewGPIO()

	low, err := core.NewGPIOChipSelect(gpio, 1, false)
	require.NoError(t, err)
	high, err := core.NewGPIOChipSelect(gpio, 2, true)
	require.NoError(t, err)
	assert.Equal(t, core.GPIOPin(2), high.Pin())

	assert.True(t, gpio.Level(1))
	assert.False(t, gpio.Level(2))

	low.StartSession()
	high.StartSession()
	assert.False(t, gpio.Level(1))
	assert.True(t, gpio.Level(2))

	low.EndSession()
	high.EndSession()
	assert.True(t, gpio.Level(1))
	assert.False(t, gpio.Level(2))
}

func TestBusSettingsRejectedAtActivationIsFatal(t *testing.T) {
	t.Cleanup(core.ResetFirmwareState)
	p := sim.NewPeripheral()
	comm, err := core.NewBusSettingsConfigurator(p, core.DefaultSPIBusSettings(), core.DefaultSPIBusSettings())
	require.NoError(t, err)

	// The peripheral was never initialized, so it refuses new settings
	require.PanicsWithError(t, "shutdown: "+core.ReasonBusSettings, comm.ActivateConfiguration)
}

// stuckGPIO accepts configuration but refuses to drive a pin once stuck
type stuckGPIO struct {
	*sim.GPIO
	stuck bool
}

func (g *stuckGPIO) SetPin(pin core.GPIOPin, level bool) error {
	if g.stuck {
		return errors.New("pin stuck")
	}
	return g.GPIO.SetPin(pin, level)
}

func TestGPIOChipSelectFaultIsTraced(t *testing.T) {
	core.ClearTrace()
	t.Cleanup(core.ClearTrace)

	gpio := &stuckGPIO{GPIO: sim.NewGPIO()}
	cs, err := core.NewGPIOChipSelect(gpio, 6, false)
	require.NoError(t, err)

	gpio.stuck = true
	cs.StartSession()
	cs.EndSession()

	var faults []core.TraceEvent
	for _, evt := range core.TraceSnapshot() {
		if evt.EventType == core.TraceCSFault {
			faults = append(faults, evt)
		}
	}
	require.Len(t, faults, 2)
	assert.Equal(t, uint32(6), faults[0].Value1)
	assert.Equal(t, uint32(0), faults[0].Value2, "asserting an active-low select")
	assert.Equal(t, uint32(1), faults[1].Value2)
	assert.True(t, gpio.Level(6), "level unchanged")
}
