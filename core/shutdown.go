package core

import "sync/atomic"

// Fatal reasons
const (
	ReasonOverrun          = "spi overrun"
	ReasonTransferInFlight = "spi transfer already in flight"
	ReasonLengthMismatch   = "spi send/receive length mismatch"
	ReasonBusSettings      = "spi bus settings rejected"
	ReasonClosedWhileArmed = "spi master closed while armed"
	ReasonEventOverflow    = "event queue overflow"
)

// ShutdownError is the panic value raised by Fatal
type ShutdownError struct {
	Reason string
}

func (e *ShutdownError) Error() string {
	return "shutdown: " + e.Reason
}

// FirmwareState holds the global firmware state
type FirmwareState struct {
	configCRC  uint32 // atomic
	isShutdown uint32 // atomic bool
	handled    uint32 // atomic bool, hooks have run
	reason     atomic.Value
}

var globalState = &FirmwareState{}

// shutdownHooks run when the firmware enters shutdown from the main loop
var shutdownHooks []func()

// RegisterShutdownHook adds fn to the functions run by TryShutdown
func RegisterShutdownHook(fn func()) {
	shutdownHooks = append(shutdownHooks, fn)
}

// Fatal aborts on a condition the caller cannot recover from.
// It marks the firmware shut down and panics with a *ShutdownError.
// Fatal may be called from interrupt context; it does not run shutdown hooks.
func Fatal(reason string) {
	atomic.StoreUint32(&globalState.isShutdown, 1)
	globalState.reason.Store(reason)
	RecordTrace(TraceFatal, 0, 0)
	DebugPrintln("[FATAL] " + reason)
	panic(&ShutdownError{Reason: reason})
}

// TryShutdown puts the firmware into shutdown, runs the shutdown hooks and
// reports the reason to the host. Only the first call has an effect until
// the state is reset. A reason recorded earlier by Fatal takes precedence.
// It must be called from the main loop, never from an interrupt handler.
func TryShutdown(reason string) {
	if !atomic.CompareAndSwapUint32(&globalState.handled, 0, 1) {
		return
	}
	if atomic.SwapUint32(&globalState.isShutdown, 1) == 0 || ShutdownReason() == "" {
		globalState.reason.Store(reason)
	}
	for _, hook := range shutdownHooks {
		hook()
	}
	reportShutdown(ShutdownReason())
}

// IsShutdown returns true if the firmware is in shutdown state
func IsShutdown() bool {
	return atomic.LoadUint32(&globalState.isShutdown) != 0
}

// ShutdownReason returns the reason of the last shutdown, if any
func ShutdownReason() string {
	reason, _ := globalState.reason.Load().(string)
	return reason
}

// ResetFirmwareState resets the firmware state for reconnection
func ResetFirmwareState() {
	atomic.StoreUint32(&globalState.configCRC, 0)
	atomic.StoreUint32(&globalState.isShutdown, 0)
	atomic.StoreUint32(&globalState.handled, 0)
	globalState.reason.Store("")
}
