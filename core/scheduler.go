package core

// EventQueueSize is the number of events that can wait for the main loop
const EventQueueSize = 16

// EventScheduler defers work out of interrupt context
type EventScheduler interface {
	Schedule(fn func())
}

// EventDispatcher is a cooperative FIFO of deferred events.
// Schedule may be called from interrupt handlers; RunPending runs on the
// main loop. The queue is a fixed ring so that scheduling never allocates.
type EventDispatcher struct {
	events [EventQueueSize]func()
	head   uint8 // Next event to run
	count  uint8
}

// NewEventDispatcher creates an empty dispatcher
func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{}
}

// Schedule queues fn to run on the next RunPending call.
// A full queue is unrecoverable: the event would be lost.
func (d *EventDispatcher) Schedule(fn func()) {
	if fn == nil {
		return
	}
	state := disableInterrupts()
	if int(d.count) == EventQueueSize {
		restoreInterrupts(state)
		Fatal(ReasonEventOverflow)
		return
	}
	d.events[(int(d.head)+int(d.count))%EventQueueSize] = fn
	d.count++
	restoreInterrupts(state)
}

// Pending returns the number of queued events
func (d *EventDispatcher) Pending() int {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	return int(d.count)
}

// RunPending runs queued events in order until the queue is empty,
// including events scheduled by the events themselves.
// Returns the number of events executed.
func (d *EventDispatcher) RunPending() int {
	executed := 0
	for {
		fn := d.pop()
		if fn == nil {
			return executed
		}
		fn()
		executed++
	}
}

// pop removes the oldest event, or returns nil if the queue is empty
func (d *EventDispatcher) pop() func() {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	if d.count == 0 {
		return nil
	}
	fn := d.events[d.head]
	d.events[d.head] = nil
	d.head = uint8((int(d.head) + 1) % EventQueueSize)
	d.count--
	return fn
}
