// Package session runs the IPC session supervisor: a single worker that
// opens the channel pair, performs the handshake, drains outbound queues,
// heartbeats, dispatches inbound envelopes, and reconnects on any
// transport-fatal failure.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/telemy/aegis-shim/internal/channel"
	"github.com/telemy/aegis-shim/internal/log"
	"github.com/telemy/aegis-shim/internal/queue"
	"github.com/telemy/aegis-shim/internal/tracing"
	"github.com/telemy/aegis-shim/internal/wire"
)

// Default loop timings, fixed by the wire contract; Config overrides exist so
// tests can tighten them.
const (
	DefaultReadPoll         = 250 * time.Millisecond
	DefaultHeartbeat        = 1000 * time.Millisecond
	DefaultReconnectBackoff = 250 * time.Millisecond

	sleepSlice = 50 * time.Millisecond
)

// Callbacks are the dispatcher's synchronous observers. Callbacks for one
// frame complete before the next frame is read; implementations must not
// block on I/O.
type Callbacks struct {
	OnPipeState          func(connected bool)
	OnMessageType        func(messageType string)
	OnEnvelopeJSON       func(envelopeJSON string)
	OnSwitchSceneRequest func(requestID, sceneName, reason string)
}

// Config configures a Client.
type Config struct {
	// CmdEndpoint and EvtEndpoint address the two channels. Both are
	// required.
	CmdEndpoint channel.Endpoint
	EvtEndpoint channel.Endpoint

	// AutoAckSwitchScene makes the dispatcher synthesize
	// scene_switch_result directly instead of waiting for host
	// verification. On for the bare harness, off when a host is present.
	AutoAckSwitchScene bool

	// HostPID is advertised in the hello payload; zero without a host.
	HostPID uint64

	Callbacks Callbacks

	// Tracer records one span per session. Nil disables tracing.
	Tracer trace.Tracer

	ReadPoll         time.Duration
	Heartbeat        time.Duration
	ReconnectBackoff time.Duration
}

// Client supervises the IPC connection. One worker goroutine owns the
// channel handles; enqueue operations are safe from any goroutine.
type Client struct {
	cfg Config
	out *queue.Outbound

	running  atomic.Bool
	stopping atomic.Bool
	autoAck  atomic.Bool
	wg       sync.WaitGroup

	connMu sync.Mutex
	cmd    *channel.Conn
	evt    *channel.Conn
}

// NewClient validates the configuration and returns a stopped client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.CmdEndpoint.Address == "" || cfg.EvtEndpoint.Address == "" {
		return nil, fmt.Errorf("session: both channel endpoints are required")
	}
	if cfg.ReadPoll <= 0 {
		cfg.ReadPoll = DefaultReadPoll
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = DefaultReconnectBackoff
	}
	c := &Client{
		cfg: cfg,
		out: queue.NewOutbound(),
	}
	c.autoAck.Store(cfg.AutoAckSwitchScene)
	return c, nil
}

// Outbound exposes the queue set for enqueue operations.
func (c *Client) Outbound() *queue.Outbound {
	return c.out
}

// QueueRequestStatus sets the pending status-refresh flag.
func (c *Client) QueueRequestStatus() { c.out.QueueRequestStatus() }

// QueueSetMode enqueues a mode change (latest wins).
func (c *Client) QueueSetMode(mode string) { c.out.QueueSetMode(mode) }

// QueueSetSetting enqueues a setting change (per-key latest wins).
func (c *Client) QueueSetSetting(key string, value bool) { c.out.QueueSetSetting(key, value) }

// QueueSceneResult enqueues a scene_switch_result acknowledgement.
func (c *Client) QueueSceneResult(requestID string, ok bool, errText string) {
	c.out.QueueSceneResult(requestID, ok, errText)
}

// QueueShutdownNotice enqueues a shutdown notice.
func (c *Client) QueueShutdownNotice(reason string) { c.out.QueueShutdownNotice(reason) }

// SetAutoAckSwitchScene toggles the auto-ack policy for the sessions that
// follow.
func (c *Client) SetAutoAckSwitchScene(enabled bool) {
	c.autoAck.Store(enabled)
}

// IsRunning reports whether the worker is active.
func (c *Client) IsRunning() bool {
	return c.running.Load()
}

// Start launches the worker. Starting a running client is a no-op.
func (c *Client) Start() {
	if !c.running.CompareAndSwap(false, true) {
		return
	}
	c.stopping.Store(false)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.workerLoop()
	}()
}

// Stop is idempotent and safe from any goroutine: it flips the stop flag,
// closes the channels to unblock in-flight I/O, and joins the worker.
func (c *Client) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	c.stopping.Store(true)
	c.closeConns()
	c.wg.Wait()
	c.out.Reset()
}

func (c *Client) closeConns() {
	c.connMu.Lock()
	cmd, evt := c.cmd, c.evt
	c.connMu.Unlock()
	if cmd != nil {
		cmd.Close()
	}
	if evt != nil {
		evt.Close()
	}
}

func (c *Client) setConns(cmd, evt *channel.Conn) {
	c.connMu.Lock()
	c.cmd, c.evt = cmd, evt
	c.connMu.Unlock()
}

func (c *Client) interrupted() bool {
	return c.stopping.Load()
}

func (c *Client) workerLoop() {
	log.Info(log.CatIPC, "ipc worker started")
	for !c.interrupted() {
		cmd, evt, err := channel.OpenPair(c.cfg.CmdEndpoint, c.cfg.EvtEndpoint, c.interrupted)
		if err != nil {
			log.Debug(log.CatIPC, "channel connect retry", "error", err)
			c.sleepInterruptible(c.cfg.ReconnectBackoff)
			continue
		}
		c.setConns(cmd, evt)
		log.Info(log.CatIPC, "channels opened", "cmd", c.cfg.CmdEndpoint.String(), "evt", c.cfg.EvtEndpoint.String())
		c.notifyPipeState(true)

		c.runSession(cmd, evt)

		c.setConns(nil, nil)
		cmd.Close()
		evt.Close()
		c.notifyPipeState(false)
	}
	log.Info(log.CatIPC, "ipc worker stopped")
}

// runSession drives one connected session until a transport-fatal error or
// Stop(). Within the session: hello precedes everything, then each
// iteration drains queues in the fixed order, honors the pending status
// refresh, heartbeats, and polls the event channel.
func (c *Client) runSession(cmd, evt *channel.Conn) {
	var span trace.Span
	if c.cfg.Tracer != nil {
		_, span = c.cfg.Tracer.Start(context.Background(), "ipc.session",
			trace.WithAttributes(
				attribute.String(tracing.AttrCmdEndpoint, c.cfg.CmdEndpoint.String()),
				attribute.String(tracing.AttrEvtEndpoint, c.cfg.EvtEndpoint.String()),
			))
		defer span.End()
	}

	handshakeDone := false
	primed := false
	ackedSceneResults := make(map[string]bool)
	lastPing := time.Now()

	log.Info(log.CatIPC, "session loop entered")

	for !c.interrupted() {
		if !handshakeDone {
			if err := c.send(cmd, wire.NewHello(c.cfg.HostPID)); err != nil {
				log.Warn(log.CatIPC, "hello send failed; ending session for reconnect", "error", err)
				return
			}
			handshakeDone = true
			if span != nil {
				span.AddEvent("handshake")
			}
			continue
		}
		if !primed {
			if err := c.send(cmd, wire.NewRequestStatus()); err != nil {
				log.Warn(log.CatIPC, "request_status send failed; ending session for reconnect", "error", err)
				return
			}
			primed = true
			if span != nil {
				span.AddEvent("primed")
			}
			// The initial session snapshot satisfies any refresh queued
			// before the first request_status went out (e.g. dock page
			// ready during the handshake).
			c.out.ClearRequestStatus()
		}

		if err := c.drainQueues(cmd, ackedSceneResults); err != nil {
			log.Warn(log.CatIPC, "queue drain failed; ending session for reconnect", "error", err)
			return
		}

		if c.out.TakeRequestStatus() {
			if err := c.send(cmd, wire.NewRequestStatus()); err != nil {
				c.out.QueueRequestStatus()
				log.Warn(log.CatIPC, "queued request_status send failed; ending session for reconnect", "error", err)
				return
			}
			log.Debug(log.CatIPC, "sent queued request_status")
		}

		if time.Since(lastPing) >= c.cfg.Heartbeat {
			if err := c.send(cmd, wire.NewPing()); err != nil {
				log.Warn(log.CatIPC, "ping send failed; ending session for reconnect", "error", err)
				return
			}
			lastPing = time.Now()
		}

		switch evt.WaitReadable(c.cfg.ReadPoll) {
		case channel.ReadinessReady:
			body, err := evt.ReadFrame()
			if err != nil {
				log.Warn(log.CatIPC, "event read failed; ending session for reconnect", "error", err)
				return
			}
			if !c.dispatch(body, cmd, ackedSceneResults) {
				log.Warn(log.CatIPC, "session ending after frame handling failure")
				return
			}
		case channel.ReadinessDisconnected:
			log.Warn(log.CatIPC, "event channel disconnected; ending session for reconnect")
			return
		case channel.ReadinessTimeout:
			// no data; keep polling
		}
	}
}

func (c *Client) drainQueues(cmd *channel.Conn, acked map[string]bool) error {
	if err := c.out.DrainSetModes(func(mode string) error {
		return c.send(cmd, wire.NewSetModeRequest(mode))
	}); err != nil {
		return err
	}
	if err := c.out.DrainSetSettings(func(key string, value bool) error {
		return c.send(cmd, wire.NewSetSettingRequest(key, value))
	}); err != nil {
		return err
	}
	if err := c.out.DrainSceneResults(func(entry queue.SceneResultEntry) error {
		if acked[entry.RequestID] {
			log.Debug(log.CatIPC, "scene_switch_result already sent this session", "request_id", entry.RequestID)
			return nil
		}
		if err := c.send(cmd, wire.NewSceneSwitchResult(entry.RequestID, entry.OK, entry.Error)); err != nil {
			return err
		}
		acked[entry.RequestID] = true
		return nil
	}); err != nil {
		return err
	}
	return c.out.DrainShutdownNotices(func(reason string) error {
		return c.send(cmd, wire.NewShutdownNotice(reason))
	})
}

func (c *Client) send(cmd *channel.Conn, env wire.Envelope) error {
	body, err := wire.Encode(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Type, err)
	}
	if err := cmd.WriteFrame(body); err != nil {
		return fmt.Errorf("write %s: %w", env.Type, err)
	}
	return nil
}

func (c *Client) sleepInterruptible(d time.Duration) {
	remaining := d
	for !c.interrupted() && remaining > 0 {
		step := remaining
		if step > sleepSlice {
			step = sleepSlice
		}
		time.Sleep(step)
		remaining -= step
	}
}

func (c *Client) notifyPipeState(connected bool) {
	if c.cfg.Callbacks.OnPipeState != nil {
		c.cfg.Callbacks.OnPipeState(connected)
	}
}
