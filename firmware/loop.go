// Package firmware runs the target-independent main loop: serial input is
// parsed into frames, commands are dispatched, scheduled events run and
// responses are flushed to the port.
package firmware

import (
	"io"

	"spimaster/core"
	"spimaster/protocol"
)

const (
	DefaultInputSize  = 256
	DefaultOutputSize = 1024
)

// Config binds a loop to its port and dispatcher
type Config struct {
	Output     io.Writer
	Events     *core.EventDispatcher
	InputSize  int
	OutputSize int
}

// Stats counts loop activity for debugging
type Stats struct {
	Polls         uint32
	BytesReceived uint32
	BytesSent     uint32
	CommandErrors uint32
	WriteErrors   uint32
	Shutdowns     uint32
}

// Loop owns the transport and buffers of one serial link
type Loop struct {
	out       io.Writer
	events    *core.EventDispatcher
	input     *protocol.FifoBuffer
	output    *protocol.FifoBuffer
	transport *protocol.Transport
	stats     Stats
}

// New creates a loop and installs its transport as the response sender
func New(cfg Config) *Loop {
	if cfg.InputSize == 0 {
		cfg.InputSize = DefaultInputSize
	}
	if cfg.OutputSize == 0 {
		cfg.OutputSize = DefaultOutputSize
	}
	if cfg.Events == nil {
		cfg.Events = core.NewEventDispatcher()
	}
	l := &Loop{
		out:    cfg.Output,
		events: cfg.Events,
		input:  protocol.NewFifoBuffer(cfg.InputSize),
		output: protocol.NewFifoBuffer(cfg.OutputSize),
	}
	l.transport = protocol.NewTransport(l.output, core.DispatchCommand)
	l.transport.SetFlushCallback(l.flush)
	l.transport.SetErrorCallback(l.commandError)
	l.transport.SetResetCallback(func() {
		core.DebugPrintln("[FW] host restarted sequence")
	})
	core.SetGlobalTransport(l.transport)
	return l
}

// Events returns the dispatcher run by Poll
func (l *Loop) Events() *core.EventDispatcher {
	return l.events
}

// Transport returns the MCU transport
func (l *Loop) Transport() *protocol.Transport {
	return l.transport
}

// Stats returns a copy of the counters
func (l *Loop) Stats() Stats {
	return l.stats
}

// Feed queues received bytes and returns how many fit
func (l *Loop) Feed(data []byte) int {
	n := l.input.Write(data)
	l.stats.BytesReceived += uint32(n)
	return n
}

// Poll runs one iteration of the main loop
func (l *Loop) Poll() {
	l.stats.Polls++
	if !l.input.IsEmpty() {
		l.guard(func() { l.transport.Receive(l.input) })
	}
	l.guard(func() { l.events.RunPending() })
	l.flush()
	core.CheckPendingReset()
}

// Interrupt runs fn as interrupt-context work. A fatal condition raised
// inside it shuts the firmware down like one raised by a command.
func (l *Loop) Interrupt(fn func()) {
	l.guard(fn)
}

// guard turns a fatal panic into an orderly shutdown. Any other panic is
// not ours to handle.
func (l *Loop) guard(fn func()) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		se, ok := r.(*core.ShutdownError)
		if !ok {
			panic(r)
		}
		l.stats.Shutdowns++
		core.TryShutdown(se.Reason)
		l.flush()
	}()
	fn()
}

func (l *Loop) commandError(err error) {
	l.stats.CommandErrors++
	core.DebugPrintln("[FW] command error: " + err.Error())
}

// flush writes queued frames to the port. Unwritten bytes stay queued.
func (l *Loop) flush() {
	if l.out == nil || l.output.IsEmpty() {
		return
	}
	n, err := l.out.Write(l.output.Data())
	l.output.Pop(n)
	l.stats.BytesSent += uint32(n)
	if err != nil {
		l.stats.WriteErrors++
		core.DebugPrintln("[FW] write failed: " + err.Error())
	}
}
