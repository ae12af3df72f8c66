package core

// InterruptLine is a hardware interrupt request line of a peripheral
type InterruptLine interface {
	// Attach binds handler to the line and enables it in the interrupt controller
	Attach(handler func())

	// Detach disables the line and unbinds the handler
	Detach()

	// ClearPending clears the pending state of the line
	ClearPending()
}

// InterruptRegistration is a scoped binding of a handler to an InterruptLine.
// The line stays attached until Release is called.
type InterruptRegistration struct {
	line InterruptLine
}

// NewInterruptRegistration attaches handler to line
func NewInterruptRegistration(line InterruptLine, handler func()) *InterruptRegistration {
	line.Attach(handler)
	return &InterruptRegistration{line: line}
}

// ClearPending clears the pending state of the registered line
func (r *InterruptRegistration) ClearPending() {
	r.line.ClearPending()
}

// Release detaches the handler from the line
func (r *InterruptRegistration) Release() {
	if r.line != nil {
		r.line.Detach()
		r.line = nil
	}
}
