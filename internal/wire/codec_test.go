package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestEncodeHelloShape(t *testing.T) {
	env := NewHello(0)
	body, err := Encode(env)
	require.NoError(t, err)
	require.NotEmpty(t, body)
	assert.LessOrEqual(t, len(body), MaxFrameSize)

	decoded, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, TypeHello, decoded.Type)
	assert.Equal(t, uint64(ProtocolVersion), decoded.V)
	assert.Equal(t, PriorityHigh, decoded.Priority)
	assert.Equal(t, PluginVersion, decoded.Payload["plugin_version"])
	assert.Equal(t, uint64(1), decoded.Payload["protocol_version"])
	assert.Equal(t, uint64(0), decoded.Payload["obs_pid"])
	assert.Equal(t, []any{"scene_switch", "dock", "restart_hint"}, decoded.Payload["capabilities"])
}

func TestEncodeShortestForm(t *testing.T) {
	body, err := Encode(Envelope{
		V: 1, ID: "x", TsUnixMs: 5, Type: "ping", Priority: "normal",
		Payload: map[string]any{"n": uint64(7)},
	})
	require.NoError(t, err)

	// Top level is a 6-entry fixmap and small uints are positive fixints.
	assert.Equal(t, byte(0x86), body[0])
	assert.NotContains(t, body, byte(0xcf), "uint64 wide form should not appear for small values")
}

func TestEncodeRejectsOversizedEnvelope(t *testing.T) {
	big := make([]byte, MaxFrameSize)
	for i := range big {
		big[i] = 'a'
	}
	_, err := Encode(Envelope{
		V: 1, ID: "x", TsUnixMs: 1, Type: "user_notice", Priority: "low",
		Payload: map[string]any{"text": string(big)},
	})
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestEncodeRejectsUnsupportedValues(t *testing.T) {
	_, err := Encode(Envelope{
		V: 1, ID: "x", TsUnixMs: 1, Type: "t", Priority: "low",
		Payload: map[string]any{"f": 1.5},
	})
	require.ErrorIs(t, err, ErrUnsupportedValue)

	_, err = Encode(Envelope{
		V: 1, ID: "x", TsUnixMs: 1, Type: "t", Priority: "low",
		Payload: map[string]any{"n": -1},
	})
	require.ErrorIs(t, err, ErrUnsupportedValue)
}

func TestDecodeRejectsFloatCode(t *testing.T) {
	// fixmap{ "v": float64(1.0) } — 0xcb is outside the subset.
	body := []byte{0x81, 0xa1, 'v', 0xcb, 0x3f, 0xf0, 0, 0, 0, 0, 0, 0}
	_, err := Decode(body)
	require.ErrorIs(t, err, ErrUnsupportedType)
}

func TestDecodeRejectsNonMapTopLevel(t *testing.T) {
	_, err := Decode([]byte{0xa3, 'a', 'b', 'c'}) // fixstr "abc"
	require.ErrorIs(t, err, ErrNotMap)
}

func TestDecodeRejectsEmptyFrame(t *testing.T) {
	_, err := Decode(nil)
	require.ErrorIs(t, err, ErrEmptyFrame)
}

func TestDecodeRequiresType(t *testing.T) {
	raw := []byte{0x81, 0xa1, 'v', 0x01} // fixmap{"v":1}
	_, err := Decode(raw)
	require.ErrorIs(t, err, ErrMissingType)
}

func TestRoundTripAllVariants(t *testing.T) {
	envelopes := []Envelope{
		NewHello(1234),
		NewRequestStatus(),
		NewPing(),
		NewSetModeRequest("irl"),
		NewSetSettingRequest("alerts", true),
		NewSceneSwitchResult("r1", false, "missing_scene_name"),
		NewSceneSwitchResult("r2", true, ""),
		NewShutdownNotice(""),
	}
	for _, env := range envelopes {
		body, err := Encode(env)
		require.NoError(t, err, env.Type)
		decoded, err := Decode(body)
		require.NoError(t, err, env.Type)
		assert.Equal(t, env, decoded, env.Type)
	}
}

func TestSceneSwitchResultErrorNilOnSuccess(t *testing.T) {
	body, err := Encode(NewSceneSwitchResult("r1", true, "ignored"))
	require.NoError(t, err)
	decoded, err := Decode(body)
	require.NoError(t, err)
	assert.Nil(t, decoded.Payload["error"])
	assert.Equal(t, true, decoded.Payload["ok"])
}

// payloadValue generates values of the protocol subset with bounded depth.
func payloadValue(depth int) *rapid.Generator[any] {
	return rapid.Custom(func(t *rapid.T) any {
		max := 5
		if depth <= 0 {
			max = 3
		}
		switch rapid.IntRange(0, max).Draw(t, "kind") {
		case 0:
			return nil
		case 1:
			return rapid.Bool().Draw(t, "bool")
		case 2:
			return rapid.Uint64().Draw(t, "uint")
		case 3:
			return rapid.String().Draw(t, "string")
		case 4:
			n := rapid.IntRange(0, 4).Draw(t, "arraylen")
			items := make([]any, n)
			for i := range items {
				items[i] = payloadValue(depth - 1).Draw(t, "item")
			}
			return items
		default:
			n := rapid.IntRange(0, 4).Draw(t, "maplen")
			m := make(map[string]any, n)
			for i := 0; i < n; i++ {
				key := rapid.StringMatching(`[a-z_]{1,12}`).Draw(t, "key")
				m[key] = payloadValue(depth - 1).Draw(t, "value")
			}
			return m
		}
	})
}

func TestRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		env := Envelope{
			V:        uint64(rapid.Uint32().Draw(rt, "v")),
			ID:       rapid.StringMatching(`[a-z0-9-]{1,24}`).Draw(rt, "id"),
			TsUnixMs: rapid.Uint64().Draw(rt, "ts"),
			Type:     rapid.StringMatching(`[a-z_]{1,20}`).Draw(rt, "type"),
			Priority: rapid.SampledFrom([]string{PriorityHigh, PriorityNormal, PriorityLow}).Draw(rt, "priority"),
		}
		payload := make(map[string]any)
		n := rapid.IntRange(0, 4).Draw(rt, "payloadlen")
		for i := 0; i < n; i++ {
			key := rapid.StringMatching(`[a-z_]{1,10}`).Draw(rt, "pkey")
			payload[key] = payloadValue(2).Draw(rt, "pvalue")
		}
		env.Payload = payload

		body, err := Encode(env)
		if err != nil {
			// Only the size cap may reject a subset-valid envelope.
			require.ErrorIs(rt, err, ErrFrameTooLarge)
			return
		}
		require.LessOrEqual(rt, len(body), MaxFrameSize)

		decoded, err := Decode(body)
		require.NoError(rt, err)
		require.Equal(rt, env, decoded)
	})
}

func TestDecodeToJSONStructuralEquivalence(t *testing.T) {
	env := NewSetSettingRequest("alerts", true)
	body, err := Encode(env)
	require.NoError(t, err)

	jsonText, err := DecodeToJSON(body)
	require.NoError(t, err)

	var fromWire map[string]any
	require.NoError(t, json.Unmarshal([]byte(jsonText), &fromWire))
	var fromView map[string]any
	require.NoError(t, json.Unmarshal([]byte(EnvelopeToJSON(env)), &fromView))
	assert.Equal(t, fromView, fromWire)
}
