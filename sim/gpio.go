package sim

import (
	"fmt"

	"spimaster/core"
)

// GPIO is a simulated GPIO port implementing core.GPIODriver.
// Watchers are notified on every level change of an output pin.
type GPIO struct {
	levels   map[core.GPIOPin]bool
	outputs  map[core.GPIOPin]bool
	watchers map[core.GPIOPin][]func(level bool)

	// Toggles counts level changes per pin
	Toggles map[core.GPIOPin]int
}

// NewGPIO creates a port with every pin an input at low level
func NewGPIO() *GPIO {
	return &GPIO{
		levels:   make(map[core.GPIOPin]bool),
		outputs:  make(map[core.GPIOPin]bool),
		watchers: make(map[core.GPIOPin][]func(bool)),
		Toggles:  make(map[core.GPIOPin]int),
	}
}

// ConfigureOutput makes pin an output. Its level is undefined until the
// first SetPin.
func (g *GPIO) ConfigureOutput(pin core.GPIOPin) error {
	g.outputs[pin] = true
	return nil
}

// SetPin drives an output pin
func (g *GPIO) SetPin(pin core.GPIOPin, level bool) error {
	if !g.outputs[pin] {
		return fmt.Errorf("sim: pin %d is not an output", pin)
	}
	g.set(pin, level)
	return nil
}

// GetPin reads the pin level
func (g *GPIO) GetPin(pin core.GPIOPin) (bool, error) {
	return g.levels[pin], nil
}

// Level returns the pin level without error handling
func (g *GPIO) Level(pin core.GPIOPin) bool {
	return g.levels[pin]
}

// Watch calls fn whenever the pin changes level
func (g *GPIO) Watch(pin core.GPIOPin, fn func(level bool)) {
	g.watchers[pin] = append(g.watchers[pin], fn)
}

func (g *GPIO) set(pin core.GPIOPin, level bool) {
	old, known := g.levels[pin]
	g.levels[pin] = level
	if known && old == level {
		return
	}
	g.Toggles[pin]++
	for _, fn := range g.watchers[pin] {
		fn(level)
	}
}

// Selectable is a slave that tracks its chip-select line
type Selectable interface {
	Select()
	Deselect()
}

// WireChipSelect connects a GPIO pin to the select input of dev
func WireChipSelect(g *GPIO, pin core.GPIOPin, activeHigh bool, dev Selectable) {
	g.Watch(pin, func(level bool) {
		if level == activeHigh {
			dev.Select()
		} else {
			dev.Deselect()
		}
	})
}
