// Package dock implements the dock-action intake, pending-completion
// bookkeeping, the UI replay cache, and the JS executor bridge to the
// embedded page.
package dock

import (
	"fmt"
	"sync"

	"github.com/telemy/aegis-shim/internal/log"
	"github.com/telemy/aegis-shim/internal/wire"
)

// Namespace is the JS object the dock page exposes for native calls.
const Namespace = "window.aegisDockNative"

// ExecuteFn runs a UTF-8 JS string in the dock page. userData is the
// opaque host pointer registered alongside the function; neither is
// inspected by the core.
type ExecuteFn func(js string, userData any) bool

// Executor holds the (fn, userData) pair under a mutex. Callers snapshot
// the pair and invoke outside the lock so the host widget type never
// crosses goroutines.
type Executor struct {
	mu        sync.Mutex
	fn        ExecuteFn
	userData  any
	pageReady bool
}

// NewExecutor returns an executor with no sink registered.
func NewExecutor() *Executor {
	return &Executor{}
}

// Set registers the JS execute sink. A nil fn clears it.
func (e *Executor) Set(fn ExecuteFn, userData any) {
	e.mu.Lock()
	e.fn = fn
	e.userData = userData
	if fn == nil {
		e.pageReady = false
	}
	e.mu.Unlock()
	log.Debug(log.CatDock, "js execute sink updated", "registered", fn != nil)
}

// Clear removes the JS execute sink.
func (e *Executor) Clear() {
	e.Set(nil, nil)
}

// SetPageReady flips the page-ready flag the delivery logs key off.
func (e *Executor) SetPageReady(ready bool) {
	e.mu.Lock()
	e.pageReady = ready
	e.mu.Unlock()
}

// PageReady reports whether the dock page has signalled ready.
func (e *Executor) PageReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pageReady
}

// Registered reports whether an execute sink is present.
func (e *Executor) Registered() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fn != nil
}

// Execute runs a JS string through the registered sink.
func (e *Executor) Execute(js string) bool {
	e.mu.Lock()
	fn, userData := e.fn, e.userData
	e.mu.Unlock()
	if fn == nil {
		return false
	}
	return fn(js, userData)
}

// EmitJSONCall invokes one namespace method with a single JSON string
// argument, guarded so a page without the bridge stays quiet.
func (e *Executor) EmitJSONCall(method, payloadJSON string) bool {
	if method == "" || payloadJSON == "" {
		return false
	}
	js := fmt.Sprintf(
		"if (%s && typeof %s.%s === 'function') { %s.%s(%s); }",
		Namespace, Namespace, method, Namespace, method,
		wire.ValueToJSON(payloadJSON),
	)
	return e.Execute(js)
}

// EmitPipeStatus delivers receivePipeStatus(status, reason|null).
func (e *Executor) EmitPipeStatus(status, reason string) bool {
	if status == "" {
		return false
	}
	reasonArg := "null"
	if reason != "" {
		reasonArg = wire.ValueToJSON(reason)
	}
	js := fmt.Sprintf(
		"if (%s && typeof %s.receivePipeStatus === 'function') { %s.receivePipeStatus(%s,%s); }",
		Namespace, Namespace, Namespace,
		wire.ValueToJSON(status), reasonArg,
	)
	return e.Execute(js)
}

// EmitCurrentScene delivers receiveCurrentScene(name|null).
func (e *Executor) EmitCurrentScene(sceneName string) bool {
	arg := "null"
	if sceneName != "" {
		arg = wire.ValueToJSON(sceneName)
	}
	js := fmt.Sprintf(
		"if (%s && typeof %s.receiveCurrentScene === 'function') { %s.receiveCurrentScene(%s); }",
		Namespace, Namespace, Namespace, arg,
	)
	return e.Execute(js)
}
