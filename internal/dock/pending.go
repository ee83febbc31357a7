package dock

import (
	"sync"
	"time"
)

// CompletionTimeout bounds how long a set_mode/set_setting action waits
// for a corroborating status_snapshot.
const CompletionTimeout = 3000 * time.Millisecond

type pendingSetMode struct {
	requestID string
	mode      string
	queuedAt  time.Time
}

type pendingSetSetting struct {
	requestID string
	key       string
	value     bool
	queuedAt  time.Time
}

// PendingActions tracks dock actions awaiting completion: a FIFO of
// request_status IDs resolved by the next snapshot, and mode/setting
// entries resolved by observing the requested value.
type PendingActions struct {
	requestStatusMu  sync.Mutex
	requestStatusIDs []string

	setModeMu sync.Mutex
	setModes  []pendingSetMode

	setSettingMu sync.Mutex
	setSettings  []pendingSetSetting

	now func() time.Time
}

// NewPendingActions returns empty tables. now may be nil (wall clock).
func NewPendingActions(now func() time.Time) *PendingActions {
	if now == nil {
		now = time.Now
	}
	return &PendingActions{now: now}
}

// TrackRequestStatus appends a request_status action ID to the FIFO.
func (p *PendingActions) TrackRequestStatus(requestID string) {
	if requestID == "" {
		return
	}
	p.requestStatusMu.Lock()
	p.requestStatusIDs = append(p.requestStatusIDs, requestID)
	p.requestStatusMu.Unlock()
}

// ConsumeRequestStatusID pops the oldest pending request_status ID, or ""
// when none is pending.
func (p *PendingActions) ConsumeRequestStatusID() string {
	p.requestStatusMu.Lock()
	defer p.requestStatusMu.Unlock()
	if len(p.requestStatusIDs) == 0 {
		return ""
	}
	id := p.requestStatusIDs[0]
	p.requestStatusIDs = p.requestStatusIDs[1:]
	return id
}

// TrackSetMode records a pending set_mode action.
func (p *PendingActions) TrackSetMode(requestID, mode string) {
	if requestID == "" || mode == "" {
		return
	}
	p.setModeMu.Lock()
	p.setModes = append(p.setModes, pendingSetMode{requestID: requestID, mode: mode, queuedAt: p.now()})
	p.setModeMu.Unlock()
}

// TrackSetSetting records a pending set_setting action.
func (p *PendingActions) TrackSetSetting(requestID, key string, value bool) {
	if requestID == "" || key == "" {
		return
	}
	p.setSettingMu.Lock()
	p.setSettings = append(p.setSettings, pendingSetSetting{requestID: requestID, key: key, value: value, queuedAt: p.now()})
	p.setSettingMu.Unlock()
}

// Resolve removes every entry the snapshot corroborates and returns the
// completed request IDs, modes first.
func (p *PendingActions) Resolve(snap StatusSnapshot) (modeIDs, settingIDs []string) {
	p.setModeMu.Lock()
	kept := p.setModes[:0]
	for _, entry := range p.setModes {
		if snap.HasMode && entry.mode == snap.Mode {
			modeIDs = append(modeIDs, entry.requestID)
			continue
		}
		kept = append(kept, entry)
	}
	p.setModes = kept
	p.setModeMu.Unlock()

	p.setSettingMu.Lock()
	keptSettings := p.setSettings[:0]
	for _, entry := range p.setSettings {
		if current, ok := snap.Setting(entry.key); ok && current == entry.value {
			settingIDs = append(settingIDs, entry.requestID)
			continue
		}
		keptSettings = append(keptSettings, entry)
	}
	p.setSettings = keptSettings
	p.setSettingMu.Unlock()

	return modeIDs, settingIDs
}

// DrainExpired removes entries older than CompletionTimeout and returns
// their request IDs.
func (p *PendingActions) DrainExpired() (modeIDs, settingIDs []string) {
	now := p.now()

	p.setModeMu.Lock()
	kept := p.setModes[:0]
	for _, entry := range p.setModes {
		if now.Sub(entry.queuedAt) >= CompletionTimeout {
			modeIDs = append(modeIDs, entry.requestID)
			continue
		}
		kept = append(kept, entry)
	}
	p.setModes = kept
	p.setModeMu.Unlock()

	p.setSettingMu.Lock()
	keptSettings := p.setSettings[:0]
	for _, entry := range p.setSettings {
		if now.Sub(entry.queuedAt) >= CompletionTimeout {
			settingIDs = append(settingIDs, entry.requestID)
			continue
		}
		keptSettings = append(keptSettings, entry)
	}
	p.setSettings = keptSettings
	p.setSettingMu.Unlock()

	return modeIDs, settingIDs
}

// Clear drops every pending entry.
func (p *PendingActions) Clear() {
	p.requestStatusMu.Lock()
	p.requestStatusIDs = nil
	p.requestStatusMu.Unlock()
	p.setModeMu.Lock()
	p.setModes = nil
	p.setModeMu.Unlock()
	p.setSettingMu.Lock()
	p.setSettings = nil
	p.setSettingMu.Unlock()
}
