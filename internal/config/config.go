// Package config provides configuration types and defaults for the shim.
// Protocol constants (frame cap, drain order, timings) are fixed by the
// wire contract and are not configurable; what lives here is the channel
// location, the auto-ack policy, and tool niceties.
package config

import (
	"os"

	"github.com/telemy/aegis-shim/internal/tracing"
)

// Config holds all configuration options for the shim tools.
type Config struct {
	// RuntimeDir is where the channel sockets live. Empty uses the OS
	// temp directory.
	RuntimeDir string `mapstructure:"runtime_dir"`

	// AutoAckSwitchScene controls the dispatcher's auto-ack policy when
	// no host is attached. Defaults to true for the harness.
	AutoAckSwitchScene bool `mapstructure:"auto_ack_switch_scene"`

	Harness HarnessConfig  `mapstructure:"harness"`
	Mock    MockConfig     `mapstructure:"mock"`
	Tracing tracing.Config `mapstructure:"tracing"`
}

// HarnessConfig holds interactive harness options.
type HarnessConfig struct {
	// LogPath is the debug log file. Empty derives a temp file path.
	LogPath string `mapstructure:"log_path"`

	// MaxLogLines bounds the in-memory log tail shown by the TUI.
	MaxLogLines int `mapstructure:"max_log_lines"`
}

// MockConfig holds mock core options.
type MockConfig struct {
	// PushStatusOnChange mirrors the real core: every accepted
	// set_mode/set_setting is followed by a status_snapshot.
	PushStatusOnChange bool `mapstructure:"push_status_on_change"`

	// SceneNames is kept in the config file only; the mock peer does not
	// read it and advertises no scene list.
	SceneNames []string `mapstructure:"scene_names"`
}

// Defaults returns the default configuration.
func Defaults() Config {
	return Config{
		RuntimeDir:         os.TempDir(),
		AutoAckSwitchScene: true,
		Harness: HarnessConfig{
			MaxLogLines: 500,
		},
		Mock: MockConfig{
			PushStatusOnChange: true,
			SceneNames:         []string{"Main", "BRB", "Ending"},
		},
		Tracing: tracing.DefaultConfig(),
	}
}
