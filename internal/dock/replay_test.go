package dock

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// callRecorder captures every namespace method invocation in order.
type callRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (c *callRecorder) install(exec *Executor) {
	exec.Set(func(js string, _ any) bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		for _, method := range []string{
			"receivePipeStatus", "receiveIpcEnvelopeJson", "receiveSceneSnapshotJson",
			"receiveCurrentScene", "receiveSceneSwitchCompletedJson", "receiveDockActionResultJson",
		} {
			if strings.Contains(js, method+"(") {
				c.calls = append(c.calls, method)
				return true
			}
		}
		return true
	}, nil)
}

func (c *callRecorder) recorded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.calls...)
}

func envJSON(envType string) string {
	return fmt.Sprintf(`{"v":1,"id":"x","ts_unix_ms":1,"type":%q,"priority":"normal","payload":{}}`, envType)
}

func TestReplayOrder(t *testing.T) {
	cache := NewReplayCache()
	cache.CachePipeStatus("ok", "IPC connected")
	cache.CacheEnvelopeJSON(envJSON("hello_ack"))
	cache.CacheEnvelopeJSON(envJSON("pong"))
	cache.CacheEnvelopeJSON(envJSON("status_snapshot"))
	cache.CacheEnvelopeJSON(envJSON("user_notice"))
	cache.CacheEnvelopeJSON(envJSON("switch_scene"))
	cache.CacheSceneSnapshot(`{"reason":"test","sceneNames":["Main"],"currentSceneName":"Main"}`)
	cache.CacheCurrentScene("Main")
	cache.CacheSceneSwitchCompleted(`{"requestId":"r1","ok":true}`)
	cache.CacheActionResult(`{"requestId":"a1","status":"queued"}`)

	exec := NewExecutor()
	recorder := &callRecorder{}
	recorder.install(exec)

	cache.ReplayTo(exec)

	assert.Equal(t, []string{
		"receivePipeStatus",
		"receiveIpcEnvelopeJson", // hello_ack
		"receiveIpcEnvelopeJson", // pong
		"receiveIpcEnvelopeJson", // status_snapshot
		"receiveIpcEnvelopeJson", // user_notice (ring)
		"receiveIpcEnvelopeJson", // switch_scene (ring)
		"receiveSceneSnapshotJson",
		"receiveCurrentScene",
		"receiveSceneSwitchCompletedJson",
		"receiveDockActionResultJson",
	}, recorder.recorded())
}

func TestReplayLatestOnlyPerKind(t *testing.T) {
	cache := NewReplayCache()
	cache.CacheEnvelopeJSON(`{"type":"pong","payload":{"nonce":"first"}}`)
	cache.CacheEnvelopeJSON(`{"type":"pong","payload":{"nonce":"second"}}`)

	exec := NewExecutor()
	var delivered []string
	exec.Set(func(js string, _ any) bool {
		delivered = append(delivered, js)
		return true
	}, nil)

	cache.ReplayTo(exec)
	require.Len(t, delivered, 1)
	assert.Contains(t, delivered[0], "second")
}

func TestRecentEventRingIsBounded(t *testing.T) {
	cache := NewReplayCache()
	for i := 0; i < RecentEventLimit+4; i++ {
		cache.CacheEnvelopeJSON(fmt.Sprintf(`{"type":"user_notice","payload":{"n":%d}}`, i))
	}

	exec := NewExecutor()
	var count int
	var payloads []string
	exec.Set(func(js string, _ any) bool {
		count++
		payloads = append(payloads, js)
		return true
	}, nil)

	cache.ReplayTo(exec)
	assert.Equal(t, RecentEventLimit, count)
	// The oldest entries were evicted: the first survivor carries n=4.
	assert.Contains(t, payloads[0], `\"n\":4`)
}

func TestClearEmptiesEverything(t *testing.T) {
	cache := NewReplayCache()
	cache.CachePipeStatus("ok", "")
	cache.CacheEnvelopeJSON(envJSON("pong"))
	cache.Clear()

	exec := NewExecutor()
	var count int
	exec.Set(func(js string, _ any) bool {
		count++
		return true
	}, nil)
	cache.ReplayTo(exec)
	assert.Zero(t, count)
}

func TestEnvelopeTypeFromJSON(t *testing.T) {
	assert.Equal(t, "pong", EnvelopeTypeFromJSON(`{"type":"pong"}`))
	assert.Empty(t, EnvelopeTypeFromJSON("not json"))
}
