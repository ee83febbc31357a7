package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueToJSONEscaping(t *testing.T) {
	assert.Equal(t, `"a\\b\"c\nd\re\tf"`, ValueToJSON("a\\b\"c\nd\re\tf"))
	assert.Equal(t, "\"\\u0001\"", ValueToJSON("\x01"))
}

func TestValueToJSONShapes(t *testing.T) {
	assert.Equal(t, "null", ValueToJSON(nil))
	assert.Equal(t, "true", ValueToJSON(true))
	assert.Equal(t, "18446744073709551615", ValueToJSON(uint64(1<<64-1)))
	assert.Equal(t, `["a",1,null]`, ValueToJSON([]any{"a", uint64(1), nil}))
	assert.Equal(t, `{"a":1,"b":false}`, ValueToJSON(map[string]any{"b": false, "a": uint64(1)}))
}

func TestEnvelopeToJSONFieldOrder(t *testing.T) {
	env := Envelope{
		V:        1,
		ID:       "id-1",
		TsUnixMs: 42,
		Type:     "pong",
		Priority: "normal",
		Payload:  map[string]any{"nonce": "n1"},
	}
	assert.Equal(t,
		`{"v":1,"id":"id-1","ts_unix_ms":42,"type":"pong","priority":"normal","payload":{"nonce":"n1"}}`,
		EnvelopeToJSON(env))
}

func TestDecodeToJSONRejectsBadBody(t *testing.T) {
	_, err := DecodeToJSON([]byte{0xc1}) // never-used code
	require.Error(t, err)

	_, err = DecodeToJSON(nil)
	require.ErrorIs(t, err, ErrEmptyFrame)
}
