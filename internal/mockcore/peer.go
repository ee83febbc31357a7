// Package mockcore implements the mock counterpart of the external core
// service. It serves both channels, acknowledges the handshake, answers
// heartbeats and status requests, and can inject scripted switch_scene
// requests. The harness and the session tests run against it.
package mockcore

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/telemy/aegis-shim/internal/channel"
	"github.com/telemy/aegis-shim/internal/log"
	"github.com/telemy/aegis-shim/internal/wire"
)

// Config configures a Peer.
type Config struct {
	CmdEndpoint channel.Endpoint
	EvtEndpoint channel.Endpoint

	// PushStatusOnChange emits a fresh status_snapshot whenever a
	// set_mode_request or set_setting_request lands, which is what the
	// real core does and what dock-action completion relies on.
	PushStatusOnChange bool
}

// Peer is the mock core service.
type Peer struct {
	cfg Config

	cmdListener net.Listener
	evtListener net.Listener

	stopping atomic.Bool
	wg       sync.WaitGroup

	stateMu  sync.Mutex
	mode     string
	settings map[string]bool

	evtMu   sync.Mutex
	evtConn *channel.Conn

	resultsMu sync.Mutex
	results   []wire.Envelope
}

// New returns a stopped peer with the default state (studio mode, all
// settings off except alerts).
func New(cfg Config) *Peer {
	return &Peer{
		cfg:  cfg,
		mode: "studio",
		settings: map[string]bool{
			"auto_scene_switch":    false,
			"low_quality_fallback": false,
			"manual_override":      false,
			"chat_bot":             false,
			"alerts":               true,
		},
	}
}

// Start binds both channel endpoints and begins accepting the shim.
func (p *Peer) Start() error {
	cmdListener, err := channel.Listen(p.cfg.CmdEndpoint)
	if err != nil {
		return fmt.Errorf("mockcore: %w", err)
	}
	evtListener, err := channel.Listen(p.cfg.EvtEndpoint)
	if err != nil {
		cmdListener.Close()
		return fmt.Errorf("mockcore: %w", err)
	}
	p.cmdListener = cmdListener
	p.evtListener = evtListener

	p.wg.Add(2)
	go p.acceptCmd()
	go p.acceptEvt()
	log.Info(log.CatMock, "mock core listening",
		"cmd", p.cfg.CmdEndpoint.String(), "evt", p.cfg.EvtEndpoint.String())
	return nil
}

// Stop closes the listeners and joins the accept loops. Idempotent.
func (p *Peer) Stop() {
	if !p.stopping.CompareAndSwap(false, true) {
		return
	}
	if p.cmdListener != nil {
		p.cmdListener.Close()
	}
	if p.evtListener != nil {
		p.evtListener.Close()
	}
	p.evtMu.Lock()
	if p.evtConn != nil {
		p.evtConn.Close()
		p.evtConn = nil
	}
	p.evtMu.Unlock()
	p.wg.Wait()
}

// SendSwitchScene injects a switch_scene request toward the shim.
func (p *Peer) SendSwitchScene(requestID, sceneName, reason string) error {
	env := wire.Envelope{
		V:        wire.ProtocolVersion,
		ID:       newPeerID(),
		TsUnixMs: uint64(time.Now().UnixMilli()),
		Type:     wire.TypeSwitchScene,
		Priority: wire.PriorityHigh,
		Payload: map[string]any{
			"request_id": requestID,
			"scene_name": sceneName,
			"reason":     reason,
		},
	}
	return p.sendEvent(env)
}

// SendUserNotice injects a user_notice event toward the shim.
func (p *Peer) SendUserNotice(text string) error {
	env := wire.Envelope{
		V:        wire.ProtocolVersion,
		ID:       newPeerID(),
		TsUnixMs: uint64(time.Now().UnixMilli()),
		Type:     wire.TypeUserNotice,
		Priority: wire.PriorityNormal,
		Payload:  map[string]any{"text": text},
	}
	return p.sendEvent(env)
}

// SendStatusSnapshot pushes the current mock state toward the shim.
func (p *Peer) SendStatusSnapshot() error {
	return p.sendEvent(p.statusSnapshot())
}

// SendRaw writes an arbitrary pre-encoded frame body on the event
// channel. Tests use it to exercise decode-soft and boundary behavior.
func (p *Peer) SendRaw(body []byte) error {
	p.evtMu.Lock()
	conn := p.evtConn
	p.evtMu.Unlock()
	if conn == nil {
		return fmt.Errorf("mockcore: no event connection")
	}
	return conn.WriteFrame(body)
}

// SceneSwitchResults returns the scene_switch_result envelopes received
// so far, in arrival order.
func (p *Peer) SceneSwitchResults() []wire.Envelope {
	p.resultsMu.Lock()
	defer p.resultsMu.Unlock()
	return append([]wire.Envelope{}, p.results...)
}

// Mode returns the mock's current mode.
func (p *Peer) Mode() string {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.mode
}

func (p *Peer) acceptCmd() {
	defer p.wg.Done()
	for !p.stopping.Load() {
		raw, err := p.cmdListener.Accept()
		if err != nil {
			return
		}
		conn := channel.Wrap(raw, p.stopping.Load)
		// Not tracked by the WaitGroup: the stop flag bounds the loop on
		// its next poll slice.
		go func() {
			defer conn.Close()
			p.readCommands(conn)
		}()
	}
}

func (p *Peer) acceptEvt() {
	defer p.wg.Done()
	for !p.stopping.Load() {
		raw, err := p.evtListener.Accept()
		if err != nil {
			return
		}
		conn := channel.Wrap(raw, p.stopping.Load)
		p.evtMu.Lock()
		if p.evtConn != nil {
			p.evtConn.Close()
		}
		p.evtConn = conn
		p.evtMu.Unlock()
		log.Debug(log.CatMock, "event channel accepted")
	}
}

func (p *Peer) readCommands(conn *channel.Conn) {
	for !p.stopping.Load() {
		switch conn.WaitReadable(250 * time.Millisecond) {
		case channel.ReadinessTimeout:
			continue
		case channel.ReadinessDisconnected:
			return
		case channel.ReadinessReady:
		}
		body, err := conn.ReadFrame()
		if err != nil {
			return
		}
		env, err := wire.Decode(body)
		if err != nil {
			log.Warn(log.CatMock, "undecodable command frame", "error", err)
			continue
		}
		p.handleCommand(env)
	}
}

func (p *Peer) handleCommand(env wire.Envelope) {
	log.Debug(log.CatMock, "command received", "type", env.Type)
	switch env.Type {
	case wire.TypeHello:
		_ = p.sendEvent(p.reply(wire.TypeHelloAck, map[string]any{}))
	case wire.TypePing:
		nonce, _ := env.Payload["nonce"].(string)
		_ = p.sendEvent(p.reply(wire.TypePong, map[string]any{"nonce": nonce}))
	case wire.TypeRequestStatus:
		_ = p.sendEvent(p.statusSnapshot())
	case wire.TypeSetModeRequest:
		if mode, ok := env.Payload["mode"].(string); ok && mode != "" {
			p.stateMu.Lock()
			p.mode = mode
			p.stateMu.Unlock()
			if p.cfg.PushStatusOnChange {
				_ = p.sendEvent(p.statusSnapshot())
			}
		}
	case wire.TypeSetSettingRequest:
		key, _ := env.Payload["key"].(string)
		value, okValue := env.Payload["value"].(bool)
		if key != "" && okValue {
			p.stateMu.Lock()
			p.settings[key] = value
			p.stateMu.Unlock()
			if p.cfg.PushStatusOnChange {
				_ = p.sendEvent(p.statusSnapshot())
			}
		}
	case wire.TypeSceneSwitchResult:
		p.resultsMu.Lock()
		p.results = append(p.results, env)
		p.resultsMu.Unlock()
	case wire.TypeShutdownNotice:
		reason, _ := env.Payload["reason"].(string)
		log.Info(log.CatMock, "shim announced shutdown", "reason", reason)
	}
}

func (p *Peer) statusSnapshot() wire.Envelope {
	p.stateMu.Lock()
	settings := make(map[string]any, len(p.settings))
	for k, v := range p.settings {
		settings[k] = v
	}
	mode := p.mode
	p.stateMu.Unlock()

	return p.reply(wire.TypeStatusSnapshot, map[string]any{
		"mode":     mode,
		"settings": settings,
	})
}

func (p *Peer) reply(typ string, payload map[string]any) wire.Envelope {
	return wire.Envelope{
		V:        wire.ProtocolVersion,
		ID:       newPeerID(),
		TsUnixMs: uint64(time.Now().UnixMilli()),
		Type:     typ,
		Priority: wire.PriorityNormal,
		Payload:  payload,
	}
}

func (p *Peer) sendEvent(env wire.Envelope) error {
	body, err := wire.Encode(env)
	if err != nil {
		return err
	}
	p.evtMu.Lock()
	conn := p.evtConn
	p.evtMu.Unlock()
	if conn == nil {
		return fmt.Errorf("mockcore: no event connection")
	}
	if err := conn.WriteFrame(body); err != nil {
		return err
	}
	log.Debug(log.CatMock, "event sent", "type", env.Type)
	return nil
}

var peerSeq atomic.Uint64

func newPeerID() string {
	return fmt.Sprintf("mock-%d-%d", time.Now().UnixMilli(), peerSeq.Add(1))
}
