package dock

import (
	"encoding/json"

	"github.com/telemy/aegis-shim/internal/wire"
)

// StatusSnapshot is the projection of an inbound status_snapshot envelope
// that completion resolution needs: the mode, if present, and whichever
// boolean settings the peer included.
type StatusSnapshot struct {
	HasMode  bool
	Mode     string
	Settings map[string]bool
}

// Setting returns the snapshot's value for a key, if present.
func (s StatusSnapshot) Setting(key string) (bool, bool) {
	v, ok := s.Settings[key]
	return v, ok
}

type statusSnapshotEnvelope struct {
	Type    string `json:"type"`
	Payload struct {
		Mode     *string        `json:"mode"`
		Settings map[string]any `json:"settings"`
	} `json:"payload"`
}

// ProjectStatusSnapshot parses the JSON view of an envelope and extracts
// the status_snapshot projection. Returns false for any other envelope
// type or an empty payload.
func ProjectStatusSnapshot(envelopeJSON string) (StatusSnapshot, bool) {
	var env statusSnapshotEnvelope
	if err := json.Unmarshal([]byte(envelopeJSON), &env); err != nil {
		return StatusSnapshot{}, false
	}
	if env.Type != wire.TypeStatusSnapshot {
		return StatusSnapshot{}, false
	}
	if env.Payload.Mode == nil && len(env.Payload.Settings) == 0 {
		return StatusSnapshot{}, false
	}

	snap := StatusSnapshot{Settings: make(map[string]bool)}
	if env.Payload.Mode != nil {
		snap.HasMode = true
		snap.Mode = *env.Payload.Mode
	}
	for key, raw := range env.Payload.Settings {
		if b, ok := raw.(bool); ok {
			snap.Settings[key] = b
		}
	}
	return snap, true
}
