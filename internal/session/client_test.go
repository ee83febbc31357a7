package session

import (
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telemy/aegis-shim/internal/channel"
	"github.com/telemy/aegis-shim/internal/mockcore"
	"github.com/telemy/aegis-shim/internal/wire"
)

// testEndpoints returns unix endpoints under a short-lived directory.
// t.TempDir can exceed the unix socket path limit, so keep it shallow.
func testEndpoints(t *testing.T) (cmd, evt channel.Endpoint) {
	t.Helper()
	dir, err := os.MkdirTemp("", "aegis")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return channel.Endpoint{Network: "unix", Address: filepath.Join(dir, "cmd.sock")},
		channel.Endpoint{Network: "unix", Address: filepath.Join(dir, "evt.sock")}
}

func fastConfig(cmd, evt channel.Endpoint) Config {
	return Config{
		CmdEndpoint:        cmd,
		EvtEndpoint:        evt,
		AutoAckSwitchScene: true,
		ReadPoll:           50 * time.Millisecond,
		Heartbeat:          200 * time.Millisecond,
		ReconnectBackoff:   50 * time.Millisecond,
	}
}

// capturePeer records the types of every frame the shim writes, in order.
type capturePeer struct {
	cmdListener net.Listener
	evtListener net.Listener

	mu    sync.Mutex
	types []string

	done chan struct{}
}

func startCapturePeer(t *testing.T, cmdEp, evtEp channel.Endpoint) *capturePeer {
	t.Helper()
	cmdListener, err := channel.Listen(cmdEp)
	require.NoError(t, err)
	evtListener, err := channel.Listen(evtEp)
	require.NoError(t, err)

	p := &capturePeer{cmdListener: cmdListener, evtListener: evtListener, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		raw, err := cmdListener.Accept()
		if err != nil {
			return
		}
		conn := channel.Wrap(raw, nil)
		defer conn.Close()
		for {
			if conn.WaitReadable(time.Second) != channel.ReadinessReady {
				return
			}
			body, err := conn.ReadFrame()
			if err != nil {
				return
			}
			meta, err := wire.ExtractMeta(body)
			if err != nil {
				continue
			}
			p.mu.Lock()
			p.types = append(p.types, meta.Type)
			p.mu.Unlock()
		}
	}()
	go func() {
		// The event side just has to exist for OpenPair to succeed.
		if raw, err := evtListener.Accept(); err == nil {
			<-p.done
			raw.Close()
		}
	}()
	t.Cleanup(func() {
		cmdListener.Close()
		evtListener.Close()
	})
	return p
}

func (p *capturePeer) frameTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.types...)
}

func TestHelloPrecedesEverything(t *testing.T) {
	cmdEp, evtEp := testEndpoints(t)
	peer := startCapturePeer(t, cmdEp, evtEp)

	client, err := NewClient(fastConfig(cmdEp, evtEp))
	require.NoError(t, err)
	// Enqueue before the session exists: nothing may precede the hello.
	client.QueueSetMode("irl")
	client.QueueRequestStatus()

	client.Start()
	defer client.Stop()

	require.Eventually(t, func() bool {
		return len(peer.frameTypes()) >= 3
	}, 5*time.Second, 20*time.Millisecond)

	types := peer.frameTypes()
	assert.Equal(t, wire.TypeHello, types[0])
	assert.Equal(t, wire.TypeRequestStatus, types[1])
	assert.Contains(t, types, wire.TypeSetModeRequest)
}

func TestHeartbeatPing(t *testing.T) {
	cmdEp, evtEp := testEndpoints(t)
	peer := startCapturePeer(t, cmdEp, evtEp)

	client, err := NewClient(fastConfig(cmdEp, evtEp))
	require.NoError(t, err)
	client.Start()
	defer client.Stop()

	require.Eventually(t, func() bool {
		for _, typ := range peer.frameTypes() {
			if typ == wire.TypePing {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
}

func TestAutoAckMissingSceneName(t *testing.T) {
	cmdEp, evtEp := testEndpoints(t)
	peer := mockcore.New(mockcore.Config{CmdEndpoint: cmdEp, EvtEndpoint: evtEp})
	require.NoError(t, peer.Start())
	defer peer.Stop()

	var pipeUp sync.WaitGroup
	pipeUp.Add(1)
	once := sync.Once{}
	cfg := fastConfig(cmdEp, evtEp)
	cfg.Callbacks.OnPipeState = func(connected bool) {
		if connected {
			once.Do(pipeUp.Done)
		}
	}
	client, err := NewClient(cfg)
	require.NoError(t, err)
	client.Start()
	defer client.Stop()

	pipeUp.Wait()
	// Give the mock a beat to register the event connection.
	require.Eventually(t, func() bool {
		return peer.SendSwitchScene("r1", "", "peer") == nil
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(peer.SceneSwitchResults()) >= 1
	}, 5*time.Second, 20*time.Millisecond)

	result := peer.SceneSwitchResults()[0]
	assert.Equal(t, "r1", result.Payload["request_id"])
	assert.Equal(t, false, result.Payload["ok"])
	assert.Equal(t, "missing_scene_name", result.Payload["error"])
}

func TestAutoAckAtMostOncePerSession(t *testing.T) {
	cmdEp, evtEp := testEndpoints(t)
	peer := mockcore.New(mockcore.Config{CmdEndpoint: cmdEp, EvtEndpoint: evtEp})
	require.NoError(t, peer.Start())
	defer peer.Stop()

	client, err := NewClient(fastConfig(cmdEp, evtEp))
	require.NoError(t, err)
	client.Start()
	defer client.Stop()

	require.Eventually(t, func() bool {
		return peer.SendSwitchScene("r1", "Main", "peer") == nil
	}, 5*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(peer.SceneSwitchResults()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	// The peer retrying the same request_id within one session must not
	// produce a second acknowledgement.
	require.NoError(t, peer.SendSwitchScene("r1", "Main", "peer"))
	time.Sleep(300 * time.Millisecond)
	assert.Len(t, peer.SceneSwitchResults(), 1)
}

func TestQueuedResultsSurviveDisconnect(t *testing.T) {
	cmdEp, evtEp := testEndpoints(t)

	client, err := NewClient(fastConfig(cmdEp, evtEp))
	require.NoError(t, err)
	client.Start()
	defer client.Stop()

	// Nothing is listening yet: the client cycles through backoff while
	// these accumulate.
	client.QueueSceneResult("r1", true, "")
	client.QueueSceneResult("r2", false, "scene_not_found")
	client.QueueSceneResult("r3", true, "")

	peer := mockcore.New(mockcore.Config{CmdEndpoint: cmdEp, EvtEndpoint: evtEp})
	require.NoError(t, peer.Start())
	defer peer.Stop()

	require.Eventually(t, func() bool {
		return len(peer.SceneSwitchResults()) == 3
	}, 5*time.Second, 20*time.Millisecond)

	results := peer.SceneSwitchResults()
	assert.Equal(t, "r1", results[0].Payload["request_id"])
	assert.Equal(t, "r2", results[1].Payload["request_id"])
	assert.Equal(t, "r3", results[2].Payload["request_id"])
	assert.Equal(t, "scene_not_found", results[1].Payload["error"])
}

func TestDecodeSoftFrameDoesNotTearDownSession(t *testing.T) {
	cmdEp, evtEp := testEndpoints(t)
	peer := mockcore.New(mockcore.Config{CmdEndpoint: cmdEp, EvtEndpoint: evtEp})
	require.NoError(t, peer.Start())
	defer peer.Stop()

	var mu sync.Mutex
	var seenTypes []string
	cfg := fastConfig(cmdEp, evtEp)
	cfg.Callbacks.OnMessageType = func(messageType string) {
		mu.Lock()
		seenTypes = append(seenTypes, messageType)
		mu.Unlock()
	}
	client, err := NewClient(cfg)
	require.NoError(t, err)
	client.Start()
	defer client.Stop()

	// A frame whose length is valid but whose body the subset decoder
	// rejects (float payload) must be logged and skipped.
	badBody := []byte{0x81, 0xa1, 'v', 0xcb, 0x3f, 0xf0, 0, 0, 0, 0, 0, 0}
	require.Eventually(t, func() bool {
		return peer.SendRaw(badBody) == nil
	}, 5*time.Second, 20*time.Millisecond)
	require.NoError(t, peer.SendUserNotice("still alive"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, typ := range seenTypes {
			if typ == wire.TypeUserNotice {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
}

func TestStopIsIdempotentAndBounded(t *testing.T) {
	cmdEp, evtEp := testEndpoints(t)
	client, err := NewClient(fastConfig(cmdEp, evtEp))
	require.NoError(t, err)

	client.Start()
	require.True(t, client.IsRunning())

	done := make(chan struct{})
	go func() {
		client.Stop()
		client.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return promptly")
	}
	assert.False(t, client.IsRunning())
}

func TestNewClientRequiresEndpoints(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}
