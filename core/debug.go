package core

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// TraceEvent captures an engine event for post-mortem analysis
type TraceEvent struct {
	EventType uint8  // Event type code
	Seq       uint32 // Monotonic event number
	Value1    uint32 // Context-dependent value
	Value2    uint32 // Context-dependent value
}

// Event type codes
const (
	TraceBegin        = 1 // BeginTransfer: v1=send len, v2=receive len
	TraceInterrupt    = 2 // Handler entry: v1=status snapshot
	TraceSessionStart = 3 // Chip select asserted
	TraceSessionEnd   = 4 // Chip select released
	TraceComplete     = 5 // Completion scheduled
	TraceFatal        = 6 // Fatal condition
	TraceCSFault      = 7 // Chip select failed to toggle: v1=pin, v2=wanted level
)

const (
	TraceRingSize = 32 // Keep last 32 events for post-mortem
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {}

	// debugEnabled controls whether debug output is active
	debugEnabled bool

	traceRing    [TraceRingSize]TraceEvent
	traceHead    uint8 // Next write position
	traceSeq     uint32
	traceEnabled = true
)

// SetDebugWriter sets the platform-specific debug output function
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// DebugPrintln writes a debug message using the platform-specific writer
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// RecordTrace stores an event in the trace ring.
// Safe to call from interrupt handlers: it never allocates or blocks.
func RecordTrace(eventType uint8, value1, value2 uint32) {
	if !traceEnabled {
		return
	}
	state := disableInterrupts()
	traceSeq++
	traceRing[traceHead] = TraceEvent{
		EventType: eventType,
		Seq:       traceSeq,
		Value1:    value1,
		Value2:    value2,
	}
	traceHead = (traceHead + 1) % TraceRingSize
	restoreInterrupts(state)
}

// TraceSnapshot returns the recorded events, oldest first
func TraceSnapshot() []TraceEvent {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	events := make([]TraceEvent, 0, TraceRingSize)
	for i := uint8(0); i < TraceRingSize; i++ {
		evt := traceRing[(traceHead+i)%TraceRingSize]
		if evt.EventType != 0 {
			events = append(events, evt)
		}
	}
	return events
}

// DumpTrace writes the trace ring through the debug writer
func DumpTrace() {
	if debugPrintln == nil {
		return
	}

	debugPrintln("[TRACE] === Trace Ring Dump ===")
	for _, evt := range TraceSnapshot() {
		debugPrintln("[TRACE] " + traceName(evt.EventType) +
			" seq=" + itoa(int(evt.Seq)) +
			" v1=" + itoa(int(evt.Value1)) +
			" v2=" + itoa(int(evt.Value2)))
	}
	debugPrintln("[TRACE] === End Dump ===")
}

// ClearTrace clears the trace ring
func ClearTrace() {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	for i := range traceRing {
		traceRing[i] = TraceEvent{}
	}
	traceHead = 0
	traceSeq = 0
}

func traceName(eventType uint8) string {
	switch eventType {
	case TraceBegin:
		return "BEGIN"
	case TraceInterrupt:
		return "IRQ"
	case TraceSessionStart:
		return "CS_START"
	case TraceSessionEnd:
		return "CS_END"
	case TraceComplete:
		return "COMPLETE"
	case TraceFatal:
		return "FATAL!"
	case TraceCSFault:
		return "CS_FAULT"
	default:
		return "UNKNOWN"
	}
}
