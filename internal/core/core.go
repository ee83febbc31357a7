// Package core assembles the shim subsystems into one shared-ownership
// context: the session client, the dock intake and replay cache, the
// scene pump, and the theme cache. The host plugin wrapper and the
// harness both own exactly one Core for their lifetime; every callback
// consults the stopped flag so late host events after Stop become no-ops.
package core

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/telemy/aegis-shim/internal/channel"
	"github.com/telemy/aegis-shim/internal/dock"
	"github.com/telemy/aegis-shim/internal/log"
	"github.com/telemy/aegis-shim/internal/scene"
	"github.com/telemy/aegis-shim/internal/session"
	"github.com/telemy/aegis-shim/internal/wire"
)

// Self-test environment hooks, honored once after the first page-ready.
const (
	EnvSelfTestEnable       = "AEGIS_DOCK_ENABLE_SELFTEST"
	EnvSelfTestActionJSON   = "AEGIS_DOCK_SELFTEST_ACTION_JSON"
	EnvSelfTestDirectIntake = "AEGIS_DOCK_SELFTEST_DIRECT_PLUGIN_INTAKE"
)

// Config configures a Core.
type Config struct {
	CmdEndpoint channel.Endpoint
	EvtEndpoint channel.Endpoint

	// Host is the scene/palette bridge. Nil runs the core headless: the
	// dispatcher auto-acks switch_scene and no pump is registered.
	Host scene.Host

	// AutoAckSwitchScene overrides the default policy (on when Host is
	// nil, off otherwise). Leave nil for the default.
	AutoAckSwitchScene *bool

	// Tracer is propagated to the session client and the dock intake.
	Tracer trace.Tracer

	// Timings for tests; zero values use the protocol defaults.
	ReadPoll         time.Duration
	Heartbeat        time.Duration
	ReconnectBackoff time.Duration
}

// Core owns the subsystem graph and its lifecycle.
type Core struct {
	stopped atomic.Bool

	client     *session.Client
	executor   *dock.Executor
	replay     *dock.ReplayCache
	intake     *dock.Intake
	themeCache *scene.ThemeCache
	pump       *scene.Pump
	host       scene.Host

	removeTick   func()
	selftestOnce sync.Once
}

// New wires the subsystem graph. The core starts stopped; call Start.
func New(cfg Config) (*Core, error) {
	c := &Core{
		executor:   dock.NewExecutor(),
		replay:     dock.NewReplayCache(),
		themeCache: scene.NewThemeCache(),
		host:       cfg.Host,
	}

	autoAck := cfg.Host == nil
	if cfg.AutoAckSwitchScene != nil {
		autoAck = *cfg.AutoAckSwitchScene
	}

	var hostPID uint64
	if cfg.Host != nil {
		hostPID = uint64(os.Getpid())
	}

	client, err := session.NewClient(session.Config{
		CmdEndpoint:        cfg.CmdEndpoint,
		EvtEndpoint:        cfg.EvtEndpoint,
		AutoAckSwitchScene: autoAck,
		HostPID:            hostPID,
		Tracer:             cfg.Tracer,
		ReadPoll:           cfg.ReadPoll,
		Heartbeat:          cfg.Heartbeat,
		ReconnectBackoff:   cfg.ReconnectBackoff,
		Callbacks: session.Callbacks{
			OnPipeState:          c.onPipeState,
			OnMessageType:        c.onMessageType,
			OnEnvelopeJSON:       c.onEnvelopeJSON,
			OnSwitchSceneRequest: c.onSwitchSceneRequest,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}
	c.client = client

	intakeCfg := dock.IntakeConfig{
		Requester: client,
		Executor:  c.executor,
		Replay:    c.replay,
		Tracer:    cfg.Tracer,
	}
	if cfg.Host != nil {
		// Headless runs leave this nil so switch_scene dock actions are
		// rejected instead of queueing toward a pump that never ticks.
		intakeCfg.EnqueueSwitch = func(requestID, sceneName, reason string) {
			if c.stopped.Load() || c.pump == nil {
				return
			}
			c.pump.Enqueue(requestID, sceneName, reason)
		}
	}
	intake, err := dock.NewIntake(intakeCfg)
	if err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}
	c.intake = intake

	if cfg.Host != nil {
		c.pump = scene.NewPump(scene.PumpConfig{
			Host:       cfg.Host,
			Results:    client,
			Intake:     intake,
			Executor:   c.executor,
			Replay:     c.replay,
			ThemeCache: c.themeCache,
		})
	}

	return c, nil
}

// Client exposes the session client for queueing and policy toggles.
func (c *Core) Client() *session.Client {
	return c.client
}

// Executor exposes the JS executor bridge.
func (c *Core) Executor() *dock.Executor {
	return c.executor
}

// Start registers host callbacks and launches the IPC worker.
func (c *Core) Start() {
	c.stopped.Store(false)
	if c.host != nil {
		c.removeTick = c.host.AddTickCallback(func(elapsed float64) {
			if c.stopped.Load() {
				return
			}
			c.pump.Tick(elapsed)
		})
		c.host.OnLifecycleEvent(c.onLifecycleEvent)
		c.themeCache.Refresh(c.host, "start")
		c.pump.EmitSceneSnapshot("module_load")
	}
	c.client.Start()
}

// Stop announces shutdown to the peer, then tears everything down. It is
// idempotent and safe from any goroutine.
func (c *Core) Stop(reason string) {
	if !c.stopped.CompareAndSwap(false, true) {
		return
	}
	c.client.QueueShutdownNotice(reason)
	// Give the worker one drain pass to flush the notice if connected.
	time.Sleep(50 * time.Millisecond)
	if c.removeTick != nil {
		c.removeTick()
		c.removeTick = nil
	}
	c.client.Stop()
	c.intake.Clear()
	c.replay.Clear()
	c.themeCache.Clear()
	c.executor.Clear()
	log.Info(log.CatIPC, "core stopped", "reason", reason)
}

// RegisterJSExecutor installs the dock page's JS execute sink and
// immediately replays the cached state to it.
func (c *Core) RegisterJSExecutor(fn dock.ExecuteFn, userData any) {
	c.executor.Set(fn, userData)
	if fn != nil {
		c.replay.ReplayTo(c.executor)
	}
}

// ClearJSExecutor removes the JS execute sink.
func (c *Core) ClearJSExecutor() {
	c.executor.Clear()
}

// PageReady marks the dock page ready, replays the cached state, queues a
// status refresh, and runs the one-shot self-test if configured.
func (c *Core) PageReady() {
	if c.stopped.Load() {
		return
	}
	c.executor.SetPageReady(true)
	c.replay.ReplayTo(c.executor)
	c.client.QueueRequestStatus()
	c.maybeRunSelfTest()
}

// PageUnloaded clears the page-ready flag and the JS executor sink.
func (c *Core) PageUnloaded() {
	c.executor.SetPageReady(false)
	c.executor.Clear()
}

// SubmitActionJSON is the UI intake entry point.
func (c *Core) SubmitActionJSON(actionJSON string) bool {
	if c.stopped.Load() {
		return false
	}
	return c.intake.SubmitActionJSON(actionJSON)
}

// ReplayDockState re-delivers the cached state to the current sink.
func (c *Core) ReplayDockState() {
	if c.stopped.Load() {
		return
	}
	c.replay.ReplayTo(c.executor)
}

func (c *Core) onPipeState(connected bool) {
	if c.stopped.Load() {
		return
	}
	status, reason := "down", "IPC disconnected"
	if connected {
		status, reason = "ok", "IPC connected"
	}
	log.Info(log.CatIPC, "ipc pipe state", "connected", connected)
	c.replay.CachePipeStatus(status, reason)
	if !c.executor.EmitPipeStatus(status, reason) {
		log.Debug(log.CatIPC, "pipe status not delivered", "status", status)
	}
}

func (c *Core) onMessageType(messageType string) {
	if c.stopped.Load() {
		return
	}
	log.Debug(log.CatIPC, "ipc message", "type", messageType)
}

func (c *Core) onEnvelopeJSON(envelopeJSON string) {
	if c.stopped.Load() {
		return
	}
	themed := c.themeCache.AugmentStatusSnapshotJSON(envelopeJSON)
	c.replay.CacheEnvelopeJSON(themed)
	if !c.executor.EmitJSONCall("receiveIpcEnvelopeJson", themed) {
		log.Debug(log.CatReplay, "envelope not delivered", "bytes", len(themed))
	}
	if dock.EnvelopeTypeFromJSON(themed) == wire.TypeStatusSnapshot {
		c.intake.OnStatusSnapshot(themed)
	}
	// Headless runs have no pump tick; sweep action timeouts here so
	// completion_timeout still fires.
	if c.host == nil {
		c.intake.DrainExpired()
	}
}

func (c *Core) onSwitchSceneRequest(requestID, sceneName, reason string) {
	if c.stopped.Load() || c.pump == nil {
		return
	}
	c.pump.Enqueue(requestID, sceneName, reason)
}

func (c *Core) onLifecycleEvent(event scene.LifecycleEvent) {
	if c.stopped.Load() {
		return
	}
	log.Info(log.CatScene, "frontend event", "event", string(event))
	switch event {
	case scene.EventSceneChanged, scene.EventSceneListChanged,
		scene.EventCollectionChanged, scene.EventFinishedLoading:
		c.pump.EmitSceneSnapshot(string(event))
		c.themeCache.Refresh(c.host, string(event))
	case scene.EventThemeChanged:
		c.themeCache.Refresh(c.host, string(event))
		c.pump.ReemitStatusSnapshot(string(event))
	case scene.EventExit:
		// Host shutdown in progress: drop the page bridge early while the
		// frontend is still healthy.
		c.executor.Clear()
	}
}

func (c *Core) maybeRunSelfTest() {
	c.selftestOnce.Do(func() {
		if !envEnabled(EnvSelfTestEnable) {
			return
		}
		actionJSON := os.Getenv(EnvSelfTestActionJSON)
		if actionJSON == "" {
			log.Info(log.CatDock, "selftest enabled but no action json provided")
			return
		}
		if envEnabled(EnvSelfTestDirectIntake) {
			accepted := c.SubmitActionJSON(actionJSON)
			log.Info(log.CatDock, "selftest direct plugin intake", "ok", accepted, "json", actionJSON)
			return
		}
		js := fmt.Sprintf(
			"if (%s && typeof %s.sendDockActionJson === 'function') { %s.sendDockActionJson(%s); }",
			dock.Namespace, dock.Namespace, dock.Namespace,
			wire.ValueToJSON(actionJSON),
		)
		dispatched := c.executor.Execute(js)
		log.Info(log.CatDock, "selftest action dispatched via page", "ok", dispatched, "json", actionJSON)
	})
}

func envEnabled(name string) bool {
	value := strings.ToLower(os.Getenv(name))
	switch value {
	case "", "0", "false", "no", "off":
		return false
	}
	return true
}
