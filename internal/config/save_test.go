package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, WriteDefaultConfig(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var parsed fileConfig
	require.NoError(t, yaml.Unmarshal(data, &parsed))
	assert.True(t, parsed.AutoAckSwitchScene)
	assert.Equal(t, 500, parsed.Harness.MaxLogLines)
	assert.True(t, parsed.Mock.PushStatusOnChange)
	assert.NotEmpty(t, parsed.Mock.SceneNames)
}

func TestWriteDefaultConfigRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("runtime_dir: /x\n"), 0644))
	require.Error(t, WriteDefaultConfig(path))
}

func TestDefaults(t *testing.T) {
	defaults := Defaults()
	assert.True(t, defaults.AutoAckSwitchScene)
	assert.NotEmpty(t, defaults.RuntimeDir)
	assert.False(t, defaults.Tracing.Enabled)
}
