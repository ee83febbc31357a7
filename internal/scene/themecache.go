package scene

import (
	"encoding/json"
	"sync"

	"github.com/telemy/aegis-shim/internal/log"
	"github.com/telemy/aegis-shim/internal/theme"
	"github.com/telemy/aegis-shim/internal/wire"
)

// ThemeCache holds the last derived theme and its change-detection
// signature. Refresh runs on the host UI thread; reads happen from the
// IPC worker when envelopes are augmented.
type ThemeCache struct {
	mu        sync.Mutex
	current   theme.Theme
	signature string
	valid     bool
}

// NewThemeCache returns an empty cache.
func NewThemeCache() *ThemeCache {
	return &ThemeCache{}
}

// Refresh re-derives the theme from the host palette and reports whether
// any slot changed.
func (tc *ThemeCache) Refresh(host Host, reason string) bool {
	if host == nil {
		return false
	}
	derived, valid := theme.Derive(host.Palette())

	tc.mu.Lock()
	nextSig := ""
	if valid {
		nextSig = derived.Signature()
	}
	changed := nextSig != tc.signature
	tc.current = derived
	tc.signature = nextSig
	tc.valid = valid
	tc.mu.Unlock()

	if valid && changed {
		log.Info(log.CatTheme, "theme cache refreshed", "reason", reason)
	} else {
		log.Debug(log.CatTheme, "theme cache refresh", "valid", valid, "changed", changed, "reason", reason)
	}
	return changed
}

// Current returns the cached theme, if valid.
func (tc *ThemeCache) Current() (theme.Theme, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.current, tc.valid
}

// Clear invalidates the cache.
func (tc *ThemeCache) Clear() {
	tc.mu.Lock()
	tc.current = theme.Theme{}
	tc.signature = ""
	tc.valid = false
	tc.mu.Unlock()
}

// AugmentStatusSnapshotJSON merges the cached theme under payload.theme
// of a status_snapshot envelope. Any other envelope, an invalid cache, or
// unparsable JSON passes through untouched.
func (tc *ThemeCache) AugmentStatusSnapshotJSON(envelopeJSON string) string {
	current, valid := tc.Current()
	if !valid {
		return envelopeJSON
	}

	var envelope map[string]any
	if err := json.Unmarshal([]byte(envelopeJSON), &envelope); err != nil {
		return envelopeJSON
	}
	if t, _ := envelope["type"].(string); t != wire.TypeStatusSnapshot {
		return envelopeJSON
	}
	payload, _ := envelope["payload"].(map[string]any)
	if payload == nil {
		payload = map[string]any{}
	}
	payload["theme"] = current.Payload()
	envelope["payload"] = payload

	out, err := json.Marshal(envelope)
	if err != nil {
		return envelopeJSON
	}
	return string(out)
}
