package core

import (
	"errors"
	"sync/atomic"

	"spimaster/protocol"
)

// ErrNotShutdown is returned by config_reset outside of shutdown
var ErrNotShutdown = errors.New("config_reset requires shutdown")

// ErrUnknownResponse is returned when sending an unregistered response
var ErrUnknownResponse = errors.New("response not registered")

// ResponseSender frames and queues one message for the host
type ResponseSender interface {
	SendCommand(cmdID uint16, args func(output protocol.OutputBuffer)) error
}

var globalTransport ResponseSender

// SetGlobalTransport sets the transport used by SendResponse
func SetGlobalTransport(transport ResponseSender) {
	globalTransport = transport
}

// SendResponse sends a registered response through the global transport.
// Without a transport the response is dropped.
func SendResponse(name string, args func(output protocol.OutputBuffer)) error {
	if globalTransport == nil {
		return nil
	}
	cmd, ok := globalRegistry.GetCommandByName(name)
	if !ok || cmd.Handler != nil {
		return ErrUnknownResponse
	}
	return globalTransport.SendCommand(cmd.ID, args)
}

// InitCoreCommands registers the protocol commands.
// identify_response and identify must keep IDs 0 and 1: the host decodes
// them before it has the dictionary.
func InitCoreCommands() {
	RegisterResponse("identify_response", "offset=%u data=%.*s")
	RegisterCommand("identify", "offset=%u count=%c", handleIdentify)

	RegisterCommand("get_config", "", handleGetConfig)
	RegisterCommand("finalize_config", "crc=%u", handleFinalizeConfig)
	RegisterCommand("config_reset", "", handleConfigReset)
	RegisterCommand("emergency_stop", "", handleEmergencyStop)
	RegisterCommand("reset", "", handleReset)
	RegisterCommand("get_trace", "", handleGetTrace)

	RegisterResponse("config", "is_config=%c crc=%u is_shutdown=%c")
	RegisterResponse("shutdown", "reason=%*s")
	RegisterResponse("trace_event", "type=%c seq=%u v1=%u v2=%u")

	RegisterConstant("PROTOCOL_VERSION", protocol.Version)
}

func handleIdentify(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	chunk := GetGlobalDictionary().GetChunk(offset, uint8(count))
	return SendResponse("identify_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQBytes(output, chunk)
	})
}

func handleGetConfig(data *[]byte) error {
	crc := atomic.LoadUint32(&globalState.configCRC)
	return SendResponse("config", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, boolToUint(crc != 0))
		protocol.EncodeVLQUint(output, crc)
		protocol.EncodeVLQUint(output, boolToUint(IsShutdown()))
	})
}

func handleFinalizeConfig(data *[]byte) error {
	crc, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	atomic.StoreUint32(&globalState.configCRC, crc)
	return nil
}

// handleConfigReset drops every configured object and leaves shutdown.
// It is refused while an engine is armed; the firmware stays shut down.
func handleConfigReset(data *[]byte) error {
	if !IsShutdown() {
		return ErrNotShutdown
	}
	if SPIEnginesArmed() {
		return ErrResetRequired
	}
	ResetSPIDevices()
	ResetDigitalOuts()
	ResetFirmwareState()
	return nil
}

func handleEmergencyStop(data *[]byte) error {
	TryShutdown("emergency stop")
	return nil
}

// handleGetTrace reports the trace ring, oldest event first
func handleGetTrace(data *[]byte) error {
	for _, evt := range TraceSnapshot() {
		evt := evt
		err := SendResponse("trace_event", func(output protocol.OutputBuffer) {
			protocol.EncodeVLQUint(output, uint32(evt.EventType))
			protocol.EncodeVLQUint(output, evt.Seq)
			protocol.EncodeVLQUint(output, evt.Value1)
			protocol.EncodeVLQUint(output, evt.Value2)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// reportShutdown tells the host why the firmware stopped
func reportShutdown(reason string) {
	err := SendResponse("shutdown", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQString(output, reason)
	})
	if err != nil {
		DebugPrintln("[SHUTDOWN] report failed: " + err.Error())
	}
}

func boolToUint(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

var (
	globalResetHandler func()
	// resetPending defers the reset until the acknowledgement is flushed
	resetPending uint32
)

// SetResetHandler sets the platform reset function
func SetResetHandler(handler func()) {
	globalResetHandler = handler
}

func handleReset(_ *[]byte) error {
	atomic.StoreUint32(&resetPending, 1)
	return nil
}

// CheckPendingReset performs a requested reset. Call from the main loop
// after output has been flushed.
func CheckPendingReset() {
	if atomic.CompareAndSwapUint32(&resetPending, 1, 0) && globalResetHandler != nil {
		globalResetHandler()
	}
}
