package dock

import (
	"encoding/json"
	"sync"

	"github.com/telemy/aegis-shim/internal/log"
	"github.com/telemy/aegis-shim/internal/wire"
)

// RecentEventLimit bounds the ring of recent inbound event envelopes kept
// for replay.
const RecentEventLimit = 8

// ReplayCache keeps the last-known value of each UI-visible signal so a
// freshly-ready dock page can be brought up to date.
type ReplayCache struct {
	mu sync.Mutex

	helloAckJSON       string
	pongJSON           string
	statusSnapshotJSON string
	recentEvents       []string

	hasPipeStatus bool
	pipeStatus    string
	pipeReason    string

	sceneSnapshotJSON string

	hasCurrentScene  bool
	currentSceneName string

	sceneSwitchCompletedJSON string
	actionResultJSON         string
}

// NewReplayCache returns an empty cache.
func NewReplayCache() *ReplayCache {
	return &ReplayCache{}
}

// CacheEnvelopeJSON stores an inbound envelope by type: hello_ack, pong,
// and status_snapshot keep the latest only; user_notice, protocol_error,
// and switch_scene enter the bounded recent-event ring.
func (r *ReplayCache) CacheEnvelopeJSON(envelopeJSON string) {
	if envelopeJSON == "" {
		return
	}
	envType := EnvelopeTypeFromJSON(envelopeJSON)
	if envType == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	switch envType {
	case wire.TypeHelloAck:
		r.helloAckJSON = envelopeJSON
	case wire.TypePong:
		r.pongJSON = envelopeJSON
	case wire.TypeStatusSnapshot:
		r.statusSnapshotJSON = envelopeJSON
	case wire.TypeUserNotice, wire.TypeProtocolError, wire.TypeSwitchScene:
		r.recentEvents = append(r.recentEvents, envelopeJSON)
		if len(r.recentEvents) > RecentEventLimit {
			r.recentEvents = r.recentEvents[len(r.recentEvents)-RecentEventLimit:]
		}
	}
}

// StatusSnapshotJSON returns the cached status_snapshot envelope, if any.
func (r *ReplayCache) StatusSnapshotJSON() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusSnapshotJSON
}

// CachePipeStatus stores the latest pipe status.
func (r *ReplayCache) CachePipeStatus(status, reason string) {
	r.mu.Lock()
	r.hasPipeStatus = status != ""
	r.pipeStatus = status
	r.pipeReason = reason
	r.mu.Unlock()
}

// CacheSceneSnapshot stores the latest scene snapshot payload.
func (r *ReplayCache) CacheSceneSnapshot(payloadJSON string) {
	r.mu.Lock()
	r.sceneSnapshotJSON = payloadJSON
	r.mu.Unlock()
}

// CacheCurrentScene stores the latest current-scene name.
func (r *ReplayCache) CacheCurrentScene(sceneName string) {
	r.mu.Lock()
	r.hasCurrentScene = true
	r.currentSceneName = sceneName
	r.mu.Unlock()
}

// CacheSceneSwitchCompleted stores the latest switch completion payload.
func (r *ReplayCache) CacheSceneSwitchCompleted(payloadJSON string) {
	r.mu.Lock()
	r.sceneSwitchCompletedJSON = payloadJSON
	r.mu.Unlock()
}

// CacheActionResult stores the latest dock-action result payload.
func (r *ReplayCache) CacheActionResult(payloadJSON string) {
	r.mu.Lock()
	r.actionResultJSON = payloadJSON
	r.mu.Unlock()
}

// Clear drops everything.
func (r *ReplayCache) Clear() {
	r.mu.Lock()
	r.helloAckJSON = ""
	r.pongJSON = ""
	r.statusSnapshotJSON = ""
	r.recentEvents = nil
	r.hasPipeStatus = false
	r.pipeStatus = ""
	r.pipeReason = ""
	r.sceneSnapshotJSON = ""
	r.hasCurrentScene = false
	r.currentSceneName = ""
	r.sceneSwitchCompletedJSON = ""
	r.actionResultJSON = ""
	r.mu.Unlock()
}

// ReplayTo pushes the cached state through the executor in the fixed
// order: pipe status, hello_ack, pong, status_snapshot, the recent-event
// ring, scene snapshot, current scene, switch completion, action result.
func (r *ReplayCache) ReplayTo(exec *Executor) {
	r.mu.Lock()
	snapshot := replaySnapshot{
		helloAckJSON:             r.helloAckJSON,
		pongJSON:                 r.pongJSON,
		statusSnapshotJSON:       r.statusSnapshotJSON,
		recentEvents:             append([]string{}, r.recentEvents...),
		hasPipeStatus:            r.hasPipeStatus,
		pipeStatus:               r.pipeStatus,
		pipeReason:               r.pipeReason,
		sceneSnapshotJSON:        r.sceneSnapshotJSON,
		hasCurrentScene:          r.hasCurrentScene,
		currentSceneName:         r.currentSceneName,
		sceneSwitchCompletedJSON: r.sceneSwitchCompletedJSON,
		actionResultJSON:         r.actionResultJSON,
	}
	r.mu.Unlock()

	if snapshot.hasPipeStatus {
		exec.EmitPipeStatus(snapshot.pipeStatus, snapshot.pipeReason)
	}
	if snapshot.helloAckJSON != "" {
		exec.EmitJSONCall("receiveIpcEnvelopeJson", snapshot.helloAckJSON)
	}
	if snapshot.pongJSON != "" {
		exec.EmitJSONCall("receiveIpcEnvelopeJson", snapshot.pongJSON)
	}
	if snapshot.statusSnapshotJSON != "" {
		exec.EmitJSONCall("receiveIpcEnvelopeJson", snapshot.statusSnapshotJSON)
	}
	for _, eventJSON := range snapshot.recentEvents {
		if eventJSON != "" {
			exec.EmitJSONCall("receiveIpcEnvelopeJson", eventJSON)
		}
	}
	if snapshot.sceneSnapshotJSON != "" {
		delivered := exec.EmitJSONCall("receiveSceneSnapshotJson", snapshot.sceneSnapshotJSON)
		log.Debug(log.CatReplay, "scene snapshot replayed", "delivered", delivered, "bytes", len(snapshot.sceneSnapshotJSON))
	}
	if snapshot.hasCurrentScene {
		exec.EmitCurrentScene(snapshot.currentSceneName)
	}
	if snapshot.sceneSwitchCompletedJSON != "" {
		exec.EmitJSONCall("receiveSceneSwitchCompletedJson", snapshot.sceneSwitchCompletedJSON)
	}
	if snapshot.actionResultJSON != "" {
		exec.EmitJSONCall("receiveDockActionResultJson", snapshot.actionResultJSON)
	}
}

// replaySnapshot is the lock-free copy replayed outside the cache mutex.
type replaySnapshot struct {
	helloAckJSON             string
	pongJSON                 string
	statusSnapshotJSON       string
	recentEvents             []string
	hasPipeStatus            bool
	pipeStatus               string
	pipeReason               string
	sceneSnapshotJSON        string
	hasCurrentScene          bool
	currentSceneName         string
	sceneSwitchCompletedJSON string
	actionResultJSON         string
}

// EnvelopeTypeFromJSON returns the type field of an envelope JSON view,
// or "" when it cannot be parsed.
func EnvelopeTypeFromJSON(envelopeJSON string) string {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(envelopeJSON), &env); err != nil {
		return ""
	}
	return env.Type
}
