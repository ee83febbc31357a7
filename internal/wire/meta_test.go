package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractMetaSwitchScene(t *testing.T) {
	env := Envelope{
		V: 1, ID: "x", TsUnixMs: 1, Type: TypeSwitchScene, Priority: PriorityHigh,
		Payload: map[string]any{
			"request_id": "r1",
			"scene_name": "Main",
			"reason":     "peer",
			"extra":      []any{uint64(1), uint64(2)},
		},
	}
	body, err := Encode(env)
	require.NoError(t, err)

	meta, err := ExtractMeta(body)
	require.NoError(t, err)
	assert.Equal(t, TypeSwitchScene, meta.Type)
	assert.Equal(t, "r1", meta.RequestID)
	assert.Equal(t, "Main", meta.SceneName)
	assert.Equal(t, "peer", meta.Reason)
}

func TestExtractMetaIgnoresPayloadOfOtherTypes(t *testing.T) {
	env := Envelope{
		V: 1, ID: "x", TsUnixMs: 1, Type: TypeStatusSnapshot, Priority: PriorityNormal,
		Payload: map[string]any{"request_id": "not-a-switch"},
	}
	body, err := Encode(env)
	require.NoError(t, err)

	meta, err := ExtractMeta(body)
	require.NoError(t, err)
	assert.Equal(t, TypeStatusSnapshot, meta.Type)
	assert.Empty(t, meta.RequestID)
}

func TestExtractMetaSkipsUnknownValues(t *testing.T) {
	// The payload walker must step over non-string values for the keys of
	// interest instead of failing.
	env := Envelope{
		V: 1, ID: "x", TsUnixMs: 1, Type: TypeSwitchScene, Priority: PriorityHigh,
		Payload: map[string]any{
			"request_id": uint64(7), // wrong type: skipped
			"scene_name": "Main",
		},
	}
	body, err := Encode(env)
	require.NoError(t, err)

	meta, err := ExtractMeta(body)
	require.NoError(t, err)
	assert.Empty(t, meta.RequestID)
	assert.Equal(t, "Main", meta.SceneName)
}

func TestExtractMetaErrors(t *testing.T) {
	_, err := ExtractMeta(nil)
	assert.ErrorIs(t, err, ErrEmptyFrame)

	_, err = ExtractMeta([]byte{0xa1, 'x'}) // fixstr, not a map
	assert.ErrorIs(t, err, ErrNotMap)

	_, err = ExtractMeta([]byte{0x81, 0xa1, 'v', 0x01}) // no type key
	assert.ErrorIs(t, err, ErrMissingType)
}
