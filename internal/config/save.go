package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML shape written for a fresh default config file.
type fileConfig struct {
	RuntimeDir         string `yaml:"runtime_dir"`
	AutoAckSwitchScene bool   `yaml:"auto_ack_switch_scene"`
	Harness            struct {
		LogPath     string `yaml:"log_path"`
		MaxLogLines int    `yaml:"max_log_lines"`
	} `yaml:"harness"`
	Mock struct {
		PushStatusOnChange bool     `yaml:"push_status_on_change"`
		SceneNames         []string `yaml:"scene_names"`
	} `yaml:"mock"`
	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		Exporter    string  `yaml:"exporter"`
		FilePath    string  `yaml:"file_path"`
		SampleRate  float64 `yaml:"sample_rate"`
		ServiceName string  `yaml:"service_name"`
	} `yaml:"tracing"`
}

// WriteDefaultConfig writes the default configuration as YAML at path,
// creating parent directories as needed. Existing files are left alone.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	defaults := Defaults()
	var out fileConfig
	out.RuntimeDir = defaults.RuntimeDir
	out.AutoAckSwitchScene = defaults.AutoAckSwitchScene
	out.Harness.LogPath = defaults.Harness.LogPath
	out.Harness.MaxLogLines = defaults.Harness.MaxLogLines
	out.Mock.PushStatusOnChange = defaults.Mock.PushStatusOnChange
	out.Mock.SceneNames = defaults.Mock.SceneNames
	out.Tracing.Enabled = defaults.Tracing.Enabled
	out.Tracing.Exporter = defaults.Tracing.Exporter
	out.Tracing.FilePath = defaults.Tracing.FilePath
	out.Tracing.SampleRate = defaults.Tracing.SampleRate
	out.Tracing.ServiceName = defaults.Tracing.ServiceName

	data, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil { //nolint:gosec // config file is not sensitive
		return fmt.Errorf("writing default config: %w", err)
	}
	return nil
}
