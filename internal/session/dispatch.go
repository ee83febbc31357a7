package session

import (
	"time"

	"github.com/telemy/aegis-shim/internal/channel"
	"github.com/telemy/aegis-shim/internal/log"
	"github.com/telemy/aegis-shim/internal/wire"
)

// dispatch routes one decoded frame. A body whose length was valid but
// that fails to decode is logged and skipped; the session survives. The
// return value is false only when a reply write fails, which is
// transport-fatal.
func (c *Client) dispatch(body []byte, cmd *channel.Conn, acked map[string]bool) bool {
	meta, err := wire.ExtractMeta(body)
	if err != nil {
		log.Info(log.CatIPC, "received frame (decode failed)", "error", err)
		return true
	}

	log.Frame(meta.Type)
	if c.cfg.Callbacks.OnMessageType != nil {
		c.cfg.Callbacks.OnMessageType(meta.Type)
	}

	if c.cfg.Callbacks.OnEnvelopeJSON != nil {
		envelopeJSON, err := wire.DecodeToJSON(body)
		if err != nil {
			// The peer may use newer payload fields the subset decoder
			// rejects; fall back to the meta projection so the UI still
			// sees the frame.
			envelopeJSON = metaFallbackJSON(meta)
		}
		c.cfg.Callbacks.OnEnvelopeJSON(envelopeJSON)
	}

	if meta.Type == wire.TypeSwitchScene {
		return c.dispatchSwitchScene(meta, cmd, acked)
	}
	return true
}

func (c *Client) dispatchSwitchScene(meta wire.Meta, cmd *channel.Conn, acked map[string]bool) bool {
	if c.cfg.Callbacks.OnSwitchSceneRequest != nil {
		c.cfg.Callbacks.OnSwitchSceneRequest(meta.RequestID, meta.SceneName, meta.Reason)
	}
	if meta.RequestID == "" {
		log.Warn(log.CatIPC, "switch_scene received but request_id missing")
		return true
	}
	if !c.autoAck.Load() {
		log.Debug(log.CatIPC, "switch_scene callback-mode (auto-ack disabled)", "request_id", meta.RequestID)
		return true
	}
	if acked[meta.RequestID] {
		log.Debug(log.CatIPC, "switch_scene already acknowledged this session", "request_id", meta.RequestID)
		return true
	}

	var env wire.Envelope
	if meta.SceneName == "" {
		log.Warn(log.CatIPC, "switch_scene auto-ack error", "request_id", meta.RequestID, "error", "missing_scene_name")
		env = wire.NewSceneSwitchResult(meta.RequestID, false, "missing_scene_name")
	} else {
		log.Debug(log.CatIPC, "switch_scene auto-ack ok", "request_id", meta.RequestID)
		env = wire.NewSceneSwitchResult(meta.RequestID, true, "")
	}
	if err := c.send(cmd, env); err != nil {
		log.Warn(log.CatIPC, "failed to send scene_switch_result", "error", err)
		return false
	}
	acked[meta.RequestID] = true
	return true
}

// metaFallbackJSON builds the minimal envelope JSON view from the meta
// projection when the full body cannot be re-encoded.
func metaFallbackJSON(meta wire.Meta) string {
	payload := map[string]any{}
	if meta.Type == wire.TypeSwitchScene {
		payload["request_id"] = nullableString(meta.RequestID)
		payload["scene_name"] = nullableString(meta.SceneName)
		payload["reason"] = nullableString(meta.Reason)
	}
	return wire.EnvelopeToJSON(wire.Envelope{
		V:        wire.ProtocolVersion,
		ID:       "shim-incoming-meta",
		TsUnixMs: uint64(time.Now().UnixMilli()),
		Type:     meta.Type,
		Priority: wire.PriorityNormal,
		Payload:  payload,
	})
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
