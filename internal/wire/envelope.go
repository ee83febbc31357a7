// Package wire implements the framed MessagePack envelope codec used on
// both IPC channels. Only the protocol subset is accepted: nil, bool,
// unsigned integers, UTF-8 strings, arrays, and string-keyed maps. Floats,
// signed negatives, bin, and ext are rejected so the protocol stays
// auditable; future extensions add tags only.
package wire

import (
	"time"

	"github.com/google/uuid"
)

// Protocol constants shared by both sides of the shim.
const (
	ProtocolVersion = 1

	// MaxFrameSize bounds the MessagePack body of one frame. The 4-byte
	// length prefix is not counted.
	MaxFrameSize = 64 * 1024

	PluginVersion = "0.0.3-cpp-shim"
)

// Envelope priorities.
const (
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

// Envelope types, outbound then inbound.
const (
	TypeHello             = "hello"
	TypeRequestStatus     = "request_status"
	TypePing              = "ping"
	TypeSetModeRequest    = "set_mode_request"
	TypeSetSettingRequest = "set_setting_request"
	TypeSceneSwitchResult = "scene_switch_result"
	TypeShutdownNotice    = "obs_shutdown_notice"

	TypeHelloAck       = "hello_ack"
	TypePong           = "pong"
	TypeStatusSnapshot = "status_snapshot"
	TypeSwitchScene    = "switch_scene"
	TypeUserNotice     = "user_notice"
	TypeProtocolError  = "protocol_error"
)

// HelloCapabilities advertises what this shim supports.
var HelloCapabilities = []string{"scene_switch", "dock", "restart_hint"}

// Envelope is the wire unit: a top-level MessagePack map.
type Envelope struct {
	V        uint64
	ID       string
	TsUnixMs uint64
	Type     string
	Priority string
	Payload  map[string]any
}

func newEnvelope(typ, priority string, payload map[string]any) Envelope {
	return Envelope{
		V:        ProtocolVersion,
		ID:       uuid.NewString(),
		TsUnixMs: uint64(time.Now().UnixMilli()),
		Type:     typ,
		Priority: priority,
		Payload:  payload,
	}
}

// NewHello builds the handshake envelope. pid is the host process ID, or
// zero when the shim runs without a host.
func NewHello(pid uint64) Envelope {
	return newEnvelope(TypeHello, PriorityHigh, map[string]any{
		"plugin_version":   PluginVersion,
		"protocol_version": uint64(ProtocolVersion),
		"obs_pid":          pid,
		"capabilities":     capabilityList(),
	})
}

func capabilityList() []any {
	out := make([]any, len(HelloCapabilities))
	for i, c := range HelloCapabilities {
		out[i] = c
	}
	return out
}

// NewRequestStatus builds a status refresh request.
func NewRequestStatus() Envelope {
	return newEnvelope(TypeRequestStatus, PriorityHigh, map[string]any{})
}

// NewPing builds a heartbeat envelope with a fresh nonce.
func NewPing() Envelope {
	return newEnvelope(TypePing, PriorityNormal, map[string]any{
		"nonce": uuid.NewString(),
	})
}

// NewSetModeRequest builds a mode change request.
func NewSetModeRequest(mode string) Envelope {
	return newEnvelope(TypeSetModeRequest, PriorityHigh, map[string]any{
		"mode": mode,
	})
}

// NewSetSettingRequest builds a boolean setting change request.
func NewSetSettingRequest(key string, value bool) Envelope {
	return newEnvelope(TypeSetSettingRequest, PriorityHigh, map[string]any{
		"key":   key,
		"value": value,
	})
}

// NewSceneSwitchResult builds the acknowledgement for an inbound
// switch_scene request. The error field is nil on success.
func NewSceneSwitchResult(requestID string, ok bool, errText string) Envelope {
	var errVal any
	if !ok && errText != "" {
		errVal = errText
	}
	return newEnvelope(TypeSceneSwitchResult, PriorityHigh, map[string]any{
		"request_id": requestID,
		"ok":         ok,
		"error":      errVal,
	})
}

// NewShutdownNotice announces that the host is going away.
func NewShutdownNotice(reason string) Envelope {
	if reason == "" {
		reason = "obs_module_unload"
	}
	return newEnvelope(TypeShutdownNotice, PriorityHigh, map[string]any{
		"reason": reason,
	})
}
