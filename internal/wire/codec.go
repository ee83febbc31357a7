package wire

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// Codec errors. ErrFrameTooLarge and ErrEmptyFrame are transport-fatal;
// ErrUnsupportedType and ErrMalformed are decode-soft (the session logs
// and continues, since the peer may be newer).
var (
	ErrFrameTooLarge    = errors.New("wire: frame exceeds 64 KiB")
	ErrEmptyFrame       = errors.New("wire: empty frame")
	ErrUnsupportedType  = errors.New("wire: unsupported msgpack type in protocol subset")
	ErrMalformed        = errors.New("wire: malformed envelope")
	ErrNotMap           = errors.New("wire: envelope is not a map")
	ErrMissingType      = errors.New("wire: envelope has no type")
	ErrNonStringMapKey  = errors.New("wire: non-string map key")
	ErrUnsupportedValue = errors.New("wire: unsupported value in payload")
)

// Encode serializes an envelope to its MessagePack body. The result never
// exceeds MaxFrameSize; larger envelopes fail instead of producing a frame
// the peer would reject.
func Encode(env Envelope) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	if err := enc.EncodeMapLen(6); err != nil {
		return nil, err
	}
	if err := encodePair(enc, "v", env.V); err != nil {
		return nil, err
	}
	if err := encodePair(enc, "id", env.ID); err != nil {
		return nil, err
	}
	if err := encodePair(enc, "ts_unix_ms", env.TsUnixMs); err != nil {
		return nil, err
	}
	if err := encodePair(enc, "type", env.Type); err != nil {
		return nil, err
	}
	if err := encodePair(enc, "priority", env.Priority); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("payload"); err != nil {
		return nil, err
	}
	payload := env.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	if err := encodeValue(enc, payload); err != nil {
		return nil, err
	}

	if buf.Len() > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, buf.Len())
	}
	return buf.Bytes(), nil
}

func encodePair(enc *msgpack.Encoder, key string, value any) error {
	if err := enc.EncodeString(key); err != nil {
		return err
	}
	return encodeValue(enc, value)
}

// encodeValue writes one value of the protocol subset, shortest-form.
func encodeValue(enc *msgpack.Encoder, value any) error {
	switch v := value.(type) {
	case nil:
		return enc.EncodeNil()
	case bool:
		return enc.EncodeBool(v)
	case uint64:
		return enc.EncodeUint(v)
	case uint:
		return enc.EncodeUint(uint64(v))
	case uint32:
		return enc.EncodeUint(uint64(v))
	case int:
		if v < 0 {
			return fmt.Errorf("%w: negative integer %d", ErrUnsupportedValue, v)
		}
		return enc.EncodeUint(uint64(v))
	case string:
		return enc.EncodeString(v)
	case []any:
		if err := enc.EncodeArrayLen(len(v)); err != nil {
			return err
		}
		for _, item := range v {
			if err := encodeValue(enc, item); err != nil {
				return err
			}
		}
		return nil
	case []string:
		if err := enc.EncodeArrayLen(len(v)); err != nil {
			return err
		}
		for _, item := range v {
			if err := enc.EncodeString(item); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		if err := enc.EncodeMapLen(len(v)); err != nil {
			return err
		}
		for _, key := range sortedKeys(v) {
			if err := enc.EncodeString(key); err != nil {
				return err
			}
			if err := encodeValue(enc, v[key]); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedValue, value)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Decode parses a MessagePack body into an Envelope. The top level must be
// a string-keyed map; values outside the subset fail the whole frame.
func Decode(body []byte) (Envelope, error) {
	if len(body) == 0 {
		return Envelope{}, ErrEmptyFrame
	}
	dec := msgpack.NewDecoder(bytes.NewReader(body))

	value, err := decodeValue(dec)
	if err != nil {
		return Envelope{}, err
	}
	top, ok := value.(map[string]any)
	if !ok {
		return Envelope{}, ErrNotMap
	}
	return envelopeFromMap(top)
}

func envelopeFromMap(top map[string]any) (Envelope, error) {
	var env Envelope
	if v, ok := top["v"].(uint64); ok {
		env.V = v
	}
	if id, ok := top["id"].(string); ok {
		env.ID = id
	}
	if ts, ok := top["ts_unix_ms"].(uint64); ok {
		env.TsUnixMs = ts
	}
	if typ, ok := top["type"].(string); ok {
		env.Type = typ
	}
	if pri, ok := top["priority"].(string); ok {
		env.Priority = pri
	}
	if payload, ok := top["payload"].(map[string]any); ok {
		env.Payload = payload
	}
	if env.Type == "" {
		return Envelope{}, ErrMissingType
	}
	return env, nil
}

// decodeValue reads one value of the protocol subset. Codes outside the
// subset (floats, negative fixints, signed ints, bin, ext) fail decoding.
func decodeValue(dec *msgpack.Decoder) (any, error) {
	code, err := dec.PeekCode()
	if err != nil {
		return nil, err
	}

	switch {
	case code == msgpcode.Nil:
		return nil, dec.DecodeNil()
	case code == msgpcode.False, code == msgpcode.True:
		return dec.DecodeBool()
	case code <= msgpcode.PosFixedNumHigh,
		code == msgpcode.Uint8, code == msgpcode.Uint16,
		code == msgpcode.Uint32, code == msgpcode.Uint64:
		return dec.DecodeUint64()
	case msgpcode.IsFixedString(code),
		code == msgpcode.Str8, code == msgpcode.Str16, code == msgpcode.Str32:
		return dec.DecodeString()
	case msgpcode.IsFixedArray(code),
		code == msgpcode.Array16, code == msgpcode.Array32:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return nil, err
		}
		items := make([]any, 0, n)
		for i := 0; i < n; i++ {
			item, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return items, nil
	case msgpcode.IsFixedMap(code),
		code == msgpcode.Map16, code == msgpcode.Map32:
		n, err := dec.DecodeMapLen()
		if err != nil {
			return nil, err
		}
		m := make(map[string]any, n)
		for i := 0; i < n; i++ {
			keyCode, err := dec.PeekCode()
			if err != nil {
				return nil, err
			}
			if !isStringCode(keyCode) {
				return nil, ErrNonStringMapKey
			}
			key, err := dec.DecodeString()
			if err != nil {
				return nil, err
			}
			val, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			m[key] = val
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: code 0x%02x", ErrUnsupportedType, code)
	}
}

func isStringCode(code byte) bool {
	return msgpcode.IsFixedString(code) ||
		code == msgpcode.Str8 || code == msgpcode.Str16 || code == msgpcode.Str32
}
