package dock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/telemy/aegis-shim/internal/log"
	"github.com/telemy/aegis-shim/internal/tracing"
)

// DedupeWindow is how long a (type, requestId) pair suppresses a repeat
// submission.
const DedupeWindow = 1500 * time.Millisecond

// Recognized set_mode values.
func isRecognizedMode(mode string) bool {
	return mode == "studio" || mode == "irl"
}

// Recognized set_setting keys.
func isRecognizedSettingKey(key string) bool {
	switch key {
	case "auto_scene_switch", "low_quality_fallback", "manual_override", "chat_bot", "alerts":
		return true
	}
	return false
}

// Requester is the slice of the session client the intake needs.
type Requester interface {
	QueueRequestStatus()
	QueueSetMode(mode string)
	QueueSetSetting(key string, value bool)
}

// SwitchEnqueuer defers a scene switch onto the host UI thread.
type SwitchEnqueuer func(requestID, sceneName, reason string)

// IntakeConfig configures an Intake.
type IntakeConfig struct {
	Requester     Requester
	EnqueueSwitch SwitchEnqueuer
	Executor      *Executor
	Replay        *ReplayCache

	// Tracer records one span per accepted action. Nil disables tracing.
	Tracer trace.Tracer

	// Now overrides the clock for tests.
	Now func() time.Time
}

// Intake accepts dock-action JSON from the UI bridge, validates it,
// deduplicates, dispatches the typed effect, and emits action results.
type Intake struct {
	requester     Requester
	enqueueSwitch SwitchEnqueuer
	executor      *Executor
	replay        *ReplayCache
	pending       *PendingActions
	recent        *gocache.Cache
	tracer        trace.Tracer
	now           func() time.Time
	seq           atomic.Uint64
}

// NewIntake validates the configuration and returns an intake.
func NewIntake(cfg IntakeConfig) (*Intake, error) {
	if cfg.Requester == nil {
		return nil, fmt.Errorf("dock: Requester is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("dock: Executor is required")
	}
	if cfg.Replay == nil {
		return nil, fmt.Errorf("dock: Replay is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Intake{
		requester:     cfg.Requester,
		enqueueSwitch: cfg.EnqueueSwitch,
		executor:      cfg.Executor,
		replay:        cfg.Replay,
		pending:       NewPendingActions(now),
		recent:        gocache.New(DedupeWindow, DedupeWindow),
		tracer:        cfg.Tracer,
		now:           now,
	}, nil
}

// Pending exposes the completion tables. The timeout sweep itself goes
// through DrainExpired.
func (in *Intake) Pending() *PendingActions {
	return in.pending
}

type dockAction struct {
	Type           string `json:"type"`
	RequestID      string `json:"requestId"`
	RequestIDSnake string `json:"request_id"`
	SceneName      string `json:"sceneName"`
	SceneNameSnake string `json:"scene_name"`
	Mode           string `json:"mode"`
	Key            string `json:"key"`
	Value          *bool  `json:"value"`
}

func (a dockAction) requestID() string {
	if a.RequestID != "" {
		return a.RequestID
	}
	return a.RequestIDSnake
}

func (a dockAction) sceneName() string {
	if a.SceneName != "" {
		return a.SceneName
	}
	return a.SceneNameSnake
}

// SubmitActionJSON is the single UI entry point. It returns whether the
// action was accepted; every path also emits an action-result, except a
// duplicate inside the dedupe window, which is silently accepted.
func (in *Intake) SubmitActionJSON(actionJSON string) bool {
	if actionJSON == "" {
		in.EmitActionResult(ActionResult{Status: StatusRejected, Error: "empty_action_json"})
		return false
	}

	var action dockAction
	if err := json.Unmarshal([]byte(actionJSON), &action); err != nil {
		log.Warn(log.CatDock, "dock action parse rejected: invalid json", "error", err)
		in.EmitActionResult(ActionResult{Status: StatusRejected, Error: "invalid_action_json"})
		return false
	}
	if action.Type == "" {
		log.Warn(log.CatDock, "dock action parse rejected: missing type")
		in.EmitActionResult(ActionResult{Status: StatusRejected, Error: "missing_action_type"})
		return false
	}

	requestID := action.requestID()
	if requestID == "" {
		requestID = in.nextRequestID()
	}
	log.Info(log.CatDock, "dock action parse", "type", action.Type, "request_id", requestID, "bytes", len(actionJSON))

	if in.isDuplicate(action.Type, requestID) {
		log.Debug(log.CatDock, "dock action deduplicated", "type", action.Type, "request_id", requestID)
		return true
	}

	in.traceAction(action.Type, requestID)

	switch action.Type {
	case "switch_scene":
		return in.submitSwitchScene(action, requestID)
	case "request_status":
		in.pending.TrackRequestStatus(requestID)
		in.requester.QueueRequestStatus()
		in.EmitActionResult(ActionResult{
			ActionType: action.Type, RequestID: requestID,
			Status: StatusQueued, OK: true, Detail: "queued_request_status",
		})
		return true
	case "set_mode":
		return in.submitSetMode(action, requestID)
	case "set_setting":
		return in.submitSetSetting(action, requestID)
	default:
		log.Info(log.CatDock, "dock action rejected", "type", action.Type, "request_id", requestID, "error", "unsupported_action_type")
		in.EmitActionResult(ActionResult{
			ActionType: action.Type, RequestID: requestID,
			Status: StatusRejected, Error: "unsupported_action_type",
		})
		return false
	}
}

func (in *Intake) submitSwitchScene(action dockAction, requestID string) bool {
	sceneName := action.sceneName()
	if sceneName == "" {
		log.Warn(log.CatDock, "dock action rejected", "type", "switch_scene", "request_id", requestID, "error", "missing_scene_name")
		in.EmitActionResult(ActionResult{
			ActionType: action.Type, RequestID: requestID,
			Status: StatusRejected, Error: "missing_scene_name",
		})
		return false
	}
	if in.enqueueSwitch == nil {
		in.EmitActionResult(ActionResult{
			ActionType: action.Type, RequestID: requestID,
			Status: StatusRejected, Error: "no_scene_host",
		})
		return false
	}
	log.Info(log.CatDock, "dock action queued", "type", "switch_scene", "request_id", requestID, "scene", sceneName)
	in.enqueueSwitch(requestID, sceneName, "dock_ui")
	in.EmitActionResult(ActionResult{
		ActionType: action.Type, RequestID: requestID,
		Status: StatusQueued, OK: true, Detail: "queued_for_obs_thread",
	})
	return true
}

func (in *Intake) submitSetMode(action dockAction, requestID string) bool {
	if !isRecognizedMode(action.Mode) {
		log.Warn(log.CatDock, "dock action rejected", "type", "set_mode", "request_id", requestID, "mode", action.Mode, "error", "invalid_mode")
		in.EmitActionResult(ActionResult{
			ActionType: action.Type, RequestID: requestID,
			Status: StatusRejected, Error: "invalid_mode",
		})
		return false
	}
	log.Info(log.CatDock, "dock action queued", "type", "set_mode", "request_id", requestID, "mode", action.Mode)
	in.pending.TrackSetMode(requestID, action.Mode)
	in.requester.QueueSetMode(action.Mode)
	in.EmitActionResult(ActionResult{
		ActionType: action.Type, RequestID: requestID,
		Status: StatusQueued, OK: true, Detail: "queued_core_ipc",
	})
	return true
}

func (in *Intake) submitSetSetting(action dockAction, requestID string) bool {
	if action.Key == "" {
		log.Warn(log.CatDock, "dock action rejected", "type", "set_setting", "request_id", requestID, "error", "missing_setting_key")
		in.EmitActionResult(ActionResult{
			ActionType: action.Type, RequestID: requestID,
			Status: StatusRejected, Error: "missing_setting_key",
		})
		return false
	}
	if action.Value == nil {
		log.Warn(log.CatDock, "dock action rejected", "type", "set_setting", "request_id", requestID, "key", action.Key, "error", "missing_setting_value")
		in.EmitActionResult(ActionResult{
			ActionType: action.Type, RequestID: requestID,
			Status: StatusRejected, Error: "missing_setting_value",
		})
		return false
	}
	if !isRecognizedSettingKey(action.Key) {
		log.Warn(log.CatDock, "dock action rejected", "type", "set_setting", "request_id", requestID, "key", action.Key, "error", "unsupported_setting_key")
		in.EmitActionResult(ActionResult{
			ActionType: action.Type, RequestID: requestID,
			Status: StatusRejected, Error: "unsupported_setting_key", Detail: action.Key,
		})
		return false
	}
	log.Info(log.CatDock, "dock action queued", "type", "set_setting", "request_id", requestID, "key", action.Key, "value", *action.Value)
	in.pending.TrackSetSetting(requestID, action.Key, *action.Value)
	in.requester.QueueSetSetting(action.Key, *action.Value)
	in.EmitActionResult(ActionResult{
		ActionType: action.Type, RequestID: requestID,
		Status: StatusQueued, OK: true, Detail: "queued_core_ipc",
	})
	return true
}

// OnStatusSnapshot resolves pending completions against an inbound
// status_snapshot envelope (JSON view). Called by the core for every
// inbound status_snapshot envelope.
func (in *Intake) OnStatusSnapshot(envelopeJSON string) {
	snap, ok := ProjectStatusSnapshot(envelopeJSON)
	if ok {
		modeIDs, settingIDs := in.pending.Resolve(snap)
		for _, requestID := range modeIDs {
			in.EmitActionResult(ActionResult{
				ActionType: "set_mode", RequestID: requestID,
				Status: StatusCompleted, OK: true, Detail: "status_snapshot_applied",
			})
		}
		for _, requestID := range settingIDs {
			in.EmitActionResult(ActionResult{
				ActionType: "set_setting", RequestID: requestID,
				Status: StatusCompleted, OK: true, Detail: "status_snapshot_applied",
			})
		}
	}

	if requestID := in.pending.ConsumeRequestStatusID(); requestID != "" {
		in.EmitActionResult(ActionResult{
			ActionType: "request_status", RequestID: requestID,
			Status: StatusCompleted, OK: true, Detail: "status_snapshot_received",
		})
	}
}

// DrainExpired times out pending mode/setting actions. Called once per UI
// tick.
func (in *Intake) DrainExpired() {
	modeIDs, settingIDs := in.pending.DrainExpired()
	for _, requestID := range modeIDs {
		in.EmitActionResult(ActionResult{
			ActionType: "set_mode", RequestID: requestID,
			Status: StatusFailed, Error: "completion_timeout", Detail: "status_snapshot_not_observed",
		})
	}
	for _, requestID := range settingIDs {
		in.EmitActionResult(ActionResult{
			ActionType: "set_setting", RequestID: requestID,
			Status: StatusFailed, Error: "completion_timeout", Detail: "status_snapshot_not_observed",
		})
	}
}

// EmitActionResult logs, caches, and delivers one action result.
func (in *Intake) EmitActionResult(result ActionResult) {
	payloadJSON := result.JSON()
	log.Info(log.CatDock, "dock action result",
		"action_type", result.ActionType, "request_id", result.RequestID,
		"status", result.Status, "ok", result.OK, "error", result.Error, "detail", result.Detail)
	in.replay.CacheActionResult(payloadJSON)
	if !in.executor.EmitJSONCall("receiveDockActionResultJson", payloadJSON) {
		log.Debug(log.CatDock, "action result not delivered",
			"page_ready", in.executor.PageReady(), "sink", in.executor.Registered())
	}
}

// Clear drops pending tables and the dedupe window.
func (in *Intake) Clear() {
	in.pending.Clear()
	in.recent.Flush()
}

func (in *Intake) isDuplicate(actionType, requestID string) bool {
	if actionType == "" || requestID == "" {
		return false
	}
	key := actionType + "|" + requestID
	if _, found := in.recent.Get(key); found {
		return true
	}
	in.recent.Set(key, struct{}{}, DedupeWindow)
	return false
}

func (in *Intake) nextRequestID() string {
	return fmt.Sprintf("dock_%d_%d", in.now().UnixMilli(), in.seq.Add(1))
}

func (in *Intake) traceAction(actionType, requestID string) {
	if in.tracer == nil {
		return
	}
	_, span := in.tracer.Start(context.Background(), "dock.action",
		trace.WithAttributes(
			attribute.String(tracing.AttrActionType, actionType),
			attribute.String(tracing.AttrRequestID, requestID),
		))
	span.End()
}
