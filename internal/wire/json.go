package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// DecodeToJSON decodes a frame body and re-emits it as a minimized JSON
// document for UI delivery: nil→null, bool→bool, uint→decimal number,
// string→JSON string, array→array, map→object with string keys.
func DecodeToJSON(body []byte) (string, error) {
	if len(body) == 0 {
		return "", ErrEmptyFrame
	}
	env, err := Decode(body)
	if err != nil {
		return "", err
	}
	return EnvelopeToJSON(env), nil
}

// EnvelopeToJSON renders the JSON view of an envelope with the canonical
// top-level field order.
func EnvelopeToJSON(env Envelope) string {
	var sb strings.Builder
	sb.WriteByte('{')
	sb.WriteString(`"v":`)
	sb.WriteString(strconv.FormatUint(env.V, 10))
	sb.WriteString(`,"id":`)
	writeJSONString(&sb, env.ID)
	sb.WriteString(`,"ts_unix_ms":`)
	sb.WriteString(strconv.FormatUint(env.TsUnixMs, 10))
	sb.WriteString(`,"type":`)
	writeJSONString(&sb, env.Type)
	sb.WriteString(`,"priority":`)
	writeJSONString(&sb, env.Priority)
	sb.WriteString(`,"payload":`)
	payload := env.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	writeJSONValue(&sb, payload)
	sb.WriteByte('}')
	return sb.String()
}

// ValueToJSON renders one subset value as minimized JSON. Map keys are
// emitted in sorted order so the output is deterministic.
func ValueToJSON(value any) string {
	var sb strings.Builder
	writeJSONValue(&sb, value)
	return sb.String()
}

func writeJSONValue(sb *strings.Builder, value any) {
	switch v := value.(type) {
	case nil:
		sb.WriteString("null")
	case bool:
		if v {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case uint64:
		sb.WriteString(strconv.FormatUint(v, 10))
	case string:
		writeJSONString(sb, v)
	case []any:
		sb.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeJSONValue(sb, item)
		}
		sb.WriteByte(']')
	case map[string]any:
		sb.WriteByte('{')
		for i, key := range sortedKeys(v) {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeJSONString(sb, key)
			sb.WriteByte(':')
			writeJSONValue(sb, v[key])
		}
		sb.WriteByte('}')
	default:
		// Values outside the subset cannot appear in a decoded envelope.
		sb.WriteString("null")
	}
}

func writeJSONString(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\':
			sb.WriteString(`\\`)
		case '"':
			sb.WriteString(`\"`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			if r < 0x20 {
				sb.WriteString(fmt.Sprintf(`\u%04x`, r))
			} else {
				sb.WriteRune(r)
			}
		}
	}
	sb.WriteByte('"')
}
