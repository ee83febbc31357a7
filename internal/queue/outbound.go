// Package queue holds the outbound request queues drained by the session
// supervisor. Enqueue is safe from any goroutine; draining happens only on
// the supervisor goroutine and only after the handshake. Each queue has
// its own mutex: entries are swapped out under lock, sent outside it, and
// the unsent tail is re-prepended under lock when a send fails.
package queue

import (
	"sync"
	"sync/atomic"

	"github.com/telemy/aegis-shim/internal/log"
)

// SetSettingEntry is one pending set_setting_request.
type SetSettingEntry struct {
	Key   string
	Value bool
}

// SceneResultEntry is one pending scene_switch_result.
type SceneResultEntry struct {
	RequestID string
	OK        bool
	Error     string
}

// Outbound owns the four typed queues plus the idempotent pending-refresh
// flag for request_status.
type Outbound struct {
	pendingRequestStatus atomic.Bool

	setModeMu sync.Mutex
	setModes  []string

	setSettingMu sync.Mutex
	setSettings  []SetSettingEntry

	sceneResultMu sync.Mutex
	sceneResults  []SceneResultEntry

	shutdownMu sync.Mutex
	shutdowns  []string
}

// NewOutbound returns an empty queue set.
func NewOutbound() *Outbound {
	return &Outbound{}
}

// QueueRequestStatus sets the pending-refresh flag. Repeated calls before
// the next drain are idempotent.
func (o *Outbound) QueueRequestStatus() {
	if !o.pendingRequestStatus.Swap(true) {
		log.Debug(log.CatQueue, "queued request_status")
	}
}

// TakeRequestStatus consumes the pending-refresh flag.
func (o *Outbound) TakeRequestStatus() bool {
	return o.pendingRequestStatus.Swap(false)
}

// ClearRequestStatus drops the pending-refresh flag without sending. Used
// when the initial prime of a session satisfies a refresh that was queued
// during the handshake.
func (o *Outbound) ClearRequestStatus() {
	o.pendingRequestStatus.Store(false)
}

// QueueSetMode enqueues a mode change. Latest wins: the queue is replaced
// by a singleton of the new mode.
func (o *Outbound) QueueSetMode(mode string) {
	if mode == "" {
		log.Warn(log.CatQueue, "set_mode_request ignored empty mode")
		return
	}
	o.setModeMu.Lock()
	replaced := len(o.setModes) > 0
	o.setModes = []string{mode}
	o.setModeMu.Unlock()
	if replaced {
		log.Debug(log.CatQueue, "queued set_mode_request", "mode", mode, "detail", "coalesced_latest")
	} else {
		log.Debug(log.CatQueue, "queued set_mode_request", "mode", mode)
	}
}

// QueueSetSetting enqueues a setting change. Per-key latest wins: an
// existing entry with the same key has its value replaced in place.
func (o *Outbound) QueueSetSetting(key string, value bool) {
	if key == "" {
		log.Warn(log.CatQueue, "set_setting_request ignored empty key")
		return
	}
	o.setSettingMu.Lock()
	replaced := false
	for i := range o.setSettings {
		if o.setSettings[i].Key == key {
			o.setSettings[i].Value = value
			replaced = true
			break
		}
	}
	if !replaced {
		o.setSettings = append(o.setSettings, SetSettingEntry{Key: key, Value: value})
	}
	o.setSettingMu.Unlock()
	if replaced {
		log.Debug(log.CatQueue, "queued set_setting_request", "key", key, "value", value, "detail", "coalesced_by_key")
	} else {
		log.Debug(log.CatQueue, "queued set_setting_request", "key", key, "value", value)
	}
}

// QueueSceneResult enqueues a scene_switch_result. No coalescing; order is
// preserved across send failures and reconnects.
func (o *Outbound) QueueSceneResult(requestID string, ok bool, errText string) {
	if requestID == "" {
		log.Warn(log.CatQueue, "scene_switch_result ignored empty request_id")
		return
	}
	o.sceneResultMu.Lock()
	o.sceneResults = append(o.sceneResults, SceneResultEntry{RequestID: requestID, OK: ok, Error: errText})
	o.sceneResultMu.Unlock()
	log.Debug(log.CatQueue, "queued scene_switch_result", "request_id", requestID, "ok", ok)
}

// QueueShutdownNotice enqueues an obs_shutdown_notice.
func (o *Outbound) QueueShutdownNotice(reason string) {
	if reason == "" {
		reason = "obs_module_unload"
	}
	o.shutdownMu.Lock()
	o.shutdowns = append(o.shutdowns, reason)
	o.shutdownMu.Unlock()
	log.Debug(log.CatQueue, "queued obs_shutdown_notice", "reason", reason)
}

// DrainSetModes sends every queued mode in order. On failure the unsent
// tail (current entry through end) goes back to the head of the queue.
func (o *Outbound) DrainSetModes(send func(mode string) error) error {
	o.setModeMu.Lock()
	pending := o.setModes
	o.setModes = nil
	o.setModeMu.Unlock()

	for i, mode := range pending {
		if err := send(mode); err != nil {
			o.setModeMu.Lock()
			o.setModes = append(append([]string{}, pending[i:]...), o.setModes...)
			o.setModeMu.Unlock()
			return err
		}
		log.Debug(log.CatQueue, "sent set_mode_request", "mode", mode)
	}
	return nil
}

// DrainSetSettings sends every queued setting in order, re-prepending the
// unsent tail on failure.
func (o *Outbound) DrainSetSettings(send func(key string, value bool) error) error {
	o.setSettingMu.Lock()
	pending := o.setSettings
	o.setSettings = nil
	o.setSettingMu.Unlock()

	for i, entry := range pending {
		if err := send(entry.Key, entry.Value); err != nil {
			o.setSettingMu.Lock()
			o.setSettings = append(append([]SetSettingEntry{}, pending[i:]...), o.setSettings...)
			o.setSettingMu.Unlock()
			return err
		}
		log.Debug(log.CatQueue, "sent set_setting_request", "key", entry.Key, "value", entry.Value)
	}
	return nil
}

// DrainSceneResults sends every queued result in order, re-prepending the
// unsent tail on failure so the next session transmits them first.
func (o *Outbound) DrainSceneResults(send func(entry SceneResultEntry) error) error {
	o.sceneResultMu.Lock()
	pending := o.sceneResults
	o.sceneResults = nil
	o.sceneResultMu.Unlock()

	for i, entry := range pending {
		if err := send(entry); err != nil {
			o.sceneResultMu.Lock()
			o.sceneResults = append(append([]SceneResultEntry{}, pending[i:]...), o.sceneResults...)
			o.sceneResultMu.Unlock()
			return err
		}
		log.Debug(log.CatQueue, "sent scene_switch_result", "request_id", entry.RequestID, "ok", entry.OK)
	}
	return nil
}

// DrainShutdownNotices sends every queued notice in order, re-prepending
// the unsent tail on failure.
func (o *Outbound) DrainShutdownNotices(send func(reason string) error) error {
	o.shutdownMu.Lock()
	pending := o.shutdowns
	o.shutdowns = nil
	o.shutdownMu.Unlock()

	for i, reason := range pending {
		if err := send(reason); err != nil {
			o.shutdownMu.Lock()
			o.shutdowns = append(append([]string{}, pending[i:]...), o.shutdowns...)
			o.shutdownMu.Unlock()
			return err
		}
		log.Debug(log.CatQueue, "sent obs_shutdown_notice", "reason", reason)
	}
	return nil
}

// Reset drops every queued entry and the pending-refresh flag. Called on
// Stop; reconnects do not reset.
func (o *Outbound) Reset() {
	o.pendingRequestStatus.Store(false)
	o.setModeMu.Lock()
	o.setModes = nil
	o.setModeMu.Unlock()
	o.setSettingMu.Lock()
	o.setSettings = nil
	o.setSettingMu.Unlock()
	o.sceneResultMu.Lock()
	o.sceneResults = nil
	o.sceneResultMu.Unlock()
	o.shutdownMu.Lock()
	o.shutdowns = nil
	o.shutdownMu.Unlock()
}
