// Package scene bridges the shim core to the host application's scene
// model. All mutations run on the host UI thread via the pump tick; the
// core never touches scenes from the IPC worker.
package scene

import (
	"github.com/telemy/aegis-shim/internal/theme"
	"github.com/telemy/aegis-shim/internal/wire"
)

// LifecycleEvent identifies a host frontend event the core subscribes to.
type LifecycleEvent string

const (
	EventSceneChanged      LifecycleEvent = "SCENE_CHANGED"
	EventSceneListChanged  LifecycleEvent = "SCENE_LIST_CHANGED"
	EventCollectionChanged LifecycleEvent = "SCENE_COLLECTION_CHANGED"
	EventFinishedLoading   LifecycleEvent = "FINISHED_LOADING"
	EventThemeChanged      LifecycleEvent = "THEME_CHANGED"
	EventExit              LifecycleEvent = "EXIT"
)

// TickFunc is a per-UI-frame callback receiving the elapsed seconds since
// the previous frame.
type TickFunc func(elapsedSeconds float64)

// Host is the surface the core consumes from the host application. A nil
// Host means the core runs headless (harness) and auto-acks scene
// switches instead.
type Host interface {
	// SceneNames enumerates the scene list in display order.
	SceneNames() []string

	// CurrentSceneName returns the active scene, or "" when none.
	CurrentSceneName() string

	// SetCurrentScene switches to the named scene. Returns false when no
	// scene with that name exists. The caller verifies the effect by
	// re-reading CurrentSceneName.
	SetCurrentScene(name string) bool

	// Palette reads the colors used for theme derivation.
	Palette() theme.Palette

	// OnLifecycleEvent subscribes to frontend events. Remove by letting
	// the host drop the subscription at unload.
	OnLifecycleEvent(fn func(event LifecycleEvent))

	// AddTickCallback registers a per-frame callback and returns a
	// removal function.
	AddTickCallback(fn TickFunc) (remove func())
}

// BuildSceneSnapshotJSON renders the payload delivered to
// receiveSceneSnapshotJson on host lifecycle events.
func BuildSceneSnapshotJSON(reason string, sceneNames []string, currentSceneName string) string {
	if reason == "" {
		reason = "unknown"
	}
	names := make([]any, len(sceneNames))
	for i, n := range sceneNames {
		names[i] = n
	}
	var current any
	if currentSceneName != "" {
		current = currentSceneName
	}
	return wire.ValueToJSON(map[string]any{
		"reason":           reason,
		"sceneNames":       names,
		"currentSceneName": current,
	})
}
