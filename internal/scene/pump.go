package scene

import (
	"sync"

	"github.com/telemy/aegis-shim/internal/dock"
	"github.com/telemy/aegis-shim/internal/log"
)

// Pump cadence: deferred switches drain every 50 ms, the theme poll runs
// every 500 ms. Expired dock actions are swept every tick.
const (
	switchDrainInterval = 0.05
	themePollInterval   = 0.5
)

// SceneResultQueuer queues outbound scene_switch_result acknowledgements.
type SceneResultQueuer interface {
	QueueSceneResult(requestID string, ok bool, errText string)
}

type pendingSwitch struct {
	requestID string
	sceneName string
	reason    string
}

// PumpConfig wires a Pump.
type PumpConfig struct {
	Host       Host
	Results    SceneResultQueuer
	Intake     *dock.Intake
	Executor   *dock.Executor
	Replay     *dock.ReplayCache
	ThemeCache *ThemeCache
}

// Pump is the per-UI-frame callback: it drains deferred scene switches,
// verifies their effect, polls the host theme, and times out pending dock
// actions. Tick runs only on the host UI thread; Enqueue is safe from any
// goroutine.
type Pump struct {
	host       Host
	results    SceneResultQueuer
	intake     *dock.Intake
	executor   *dock.Executor
	replay     *dock.ReplayCache
	themeCache *ThemeCache

	mu      sync.Mutex
	pending []pendingSwitch

	switchAccum float64
	themeAccum  float64
}

// NewPump returns a pump ready to register with the host tick.
func NewPump(cfg PumpConfig) *Pump {
	return &Pump{
		host:       cfg.Host,
		results:    cfg.Results,
		intake:     cfg.Intake,
		executor:   cfg.Executor,
		replay:     cfg.Replay,
		themeCache: cfg.ThemeCache,
	}
}

// Enqueue defers one scene switch onto the next pump drain.
func (p *Pump) Enqueue(requestID, sceneName, reason string) {
	p.mu.Lock()
	p.pending = append(p.pending, pendingSwitch{requestID: requestID, sceneName: sceneName, reason: reason})
	p.mu.Unlock()
}

// Tick advances the accumulators and runs whatever is due. elapsedSeconds
// is the host frame time; non-positive values still sweep timeouts.
func (p *Pump) Tick(elapsedSeconds float64) {
	if elapsedSeconds > 0 {
		p.switchAccum += elapsedSeconds
		p.themeAccum += elapsedSeconds
	}

	p.intake.DrainExpired()

	if p.themeAccum >= themePollInterval {
		p.themeAccum = 0
		if p.themeCache.Refresh(p.host, "tick_poll") {
			p.ReemitStatusSnapshot("tick_poll")
		}
	}

	if p.switchAccum < switchDrainInterval {
		return
	}
	p.switchAccum = 0
	p.drainSwitches()
}

// ReemitStatusSnapshot re-delivers the most recent cached status_snapshot
// envelope augmented with the current theme. Used after theme changes so
// the dock page restyles without waiting for the peer.
func (p *Pump) ReemitStatusSnapshot(reason string) {
	snapshotJSON := p.replay.StatusSnapshotJSON()
	if snapshotJSON == "" {
		log.Debug(log.CatTheme, "theme refresh skipped: no cached status_snapshot", "reason", reason)
		return
	}
	themed := p.themeCache.AugmentStatusSnapshotJSON(snapshotJSON)
	p.replay.CacheEnvelopeJSON(themed)
	delivered := p.executor.EmitJSONCall("receiveIpcEnvelopeJson", themed)
	log.Debug(log.CatTheme, "status_snapshot re-emitted with theme", "delivered", delivered, "reason", reason, "bytes", len(themed))
}

// EmitSceneSnapshot reads the host scene list and pushes a snapshot to
// the dock page, caching it for replay.
func (p *Pump) EmitSceneSnapshot(reason string) {
	if p.host == nil {
		return
	}
	names := p.host.SceneNames()
	current := p.host.CurrentSceneName()
	payloadJSON := BuildSceneSnapshotJSON(reason, names, current)
	p.replay.CacheSceneSnapshot(payloadJSON)
	delivered := p.executor.EmitJSONCall("receiveSceneSnapshotJson", payloadJSON)
	log.Info(log.CatScene, "scene snapshot", "reason", reason, "current", current, "count", len(names), "delivered", delivered)
}

func (p *Pump) drainSwitches() {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, req := range pending {
		p.applySwitch(req)
	}
}

// applySwitch performs one deferred switch on the UI thread and fans the
// outcome out to the peer (scene_switch_result), the dock page
// (scene_switch_completed, action result for dock_ui requests), and the
// replay cache.
func (p *Pump) applySwitch(req pendingSwitch) {
	fromDock := req.reason == "dock_ui"

	if req.sceneName == "" {
		log.Warn(log.CatScene, "switch_scene request missing scene_name", "request_id", req.requestID, "reason", req.reason)
		p.finishSwitch(req, false, "missing_scene_name", fromDock, "scene_name missing")
		return
	}

	if p.host == nil || !containsScene(p.host.SceneNames(), req.sceneName) {
		log.Warn(log.CatScene, "switch_scene target not found", "request_id", req.requestID, "scene", req.sceneName, "reason", req.reason)
		p.finishSwitch(req, false, "scene_not_found", fromDock, "")
		return
	}

	log.Info(log.CatScene, "switch_scene applying", "request_id", req.requestID, "scene", req.sceneName, "reason", req.reason)
	p.host.SetCurrentScene(req.sceneName)

	if req.requestID == "" {
		return
	}

	if p.host.CurrentSceneName() == req.sceneName {
		log.Info(log.CatScene, "switch_scene verified", "request_id", req.requestID, "scene", req.sceneName, "reason", req.reason)
		p.results.QueueSceneResult(req.requestID, true, "")
		p.replay.CacheCurrentScene(req.sceneName)
		p.executor.EmitCurrentScene(req.sceneName)
		if fromDock {
			p.intake.EmitActionResult(dock.ActionResult{
				ActionType: "switch_scene", RequestID: req.requestID,
				Status: dock.StatusCompleted, OK: true, Detail: "scene_switch_applied",
			})
		}
		p.emitCompleted(req, true, "")
		return
	}

	log.Warn(log.CatScene, "switch_scene verify failed", "request_id", req.requestID, "scene", req.sceneName, "reason", req.reason)
	p.finishSwitch(req, false, "switch_verify_failed", fromDock, "")
}

func (p *Pump) finishSwitch(req pendingSwitch, ok bool, errText string, fromDock bool, detail string) {
	if req.requestID != "" {
		p.results.QueueSceneResult(req.requestID, ok, errText)
		if fromDock {
			p.intake.EmitActionResult(dock.ActionResult{
				ActionType: "switch_scene", RequestID: req.requestID,
				Status: dock.StatusFailed, Error: errText, Detail: detail,
			})
		}
	}
	p.emitCompleted(req, ok, errText)
}

func (p *Pump) emitCompleted(req pendingSwitch, ok bool, errText string) {
	completed := dock.SceneSwitchCompleted{
		RequestID: req.requestID,
		SceneName: req.sceneName,
		OK:        ok,
		Error:     errText,
		Reason:    req.reason,
	}
	payloadJSON := completed.JSON()
	p.replay.CacheSceneSwitchCompleted(payloadJSON)
	if !p.executor.EmitJSONCall("receiveSceneSwitchCompletedJson", payloadJSON) {
		log.Debug(log.CatScene, "scene switch completion not delivered", "request_id", req.requestID)
	}
}

func containsScene(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
