package wire

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// Meta is the fast-path projection of an inbound frame: the envelope type
// plus the switch_scene payload fields the dispatcher needs. Everything
// else in the frame is skipped without being materialized.
type Meta struct {
	Type      string
	RequestID string
	SceneName string
	Reason    string
}

// ExtractMeta walks only the top-level keys of interest and, when the
// payload is present, the three switch_scene fields. Unknown values are
// stepped over best-effort so newer peers do not break dispatch.
func ExtractMeta(body []byte) (Meta, error) {
	var meta Meta
	if len(body) == 0 {
		return meta, ErrEmptyFrame
	}
	dec := msgpack.NewDecoder(bytes.NewReader(body))

	n, err := dec.DecodeMapLen()
	if err != nil {
		return meta, ErrNotMap
	}
	for i := 0; i < n; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return meta, ErrMalformed
		}
		switch key {
		case "type":
			if meta.Type, err = dec.DecodeString(); err != nil {
				return meta, ErrMalformed
			}
		case "payload":
			if err := extractPayloadMeta(dec, &meta); err != nil {
				return meta, err
			}
		default:
			if err := dec.Skip(); err != nil {
				return meta, ErrMalformed
			}
		}
	}
	if meta.Type == "" {
		return meta, ErrMissingType
	}
	if meta.Type != TypeSwitchScene {
		// Payload fields only matter for switch_scene dispatch.
		meta.RequestID, meta.SceneName, meta.Reason = "", "", ""
	}
	return meta, nil
}

func extractPayloadMeta(dec *msgpack.Decoder, meta *Meta) error {
	code, err := dec.PeekCode()
	if err != nil {
		return ErrMalformed
	}
	if !isMapCode(code) {
		return dec.Skip()
	}
	n, err := dec.DecodeMapLen()
	if err != nil {
		return ErrMalformed
	}
	for i := 0; i < n; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return ErrMalformed
		}
		switch key {
		case "request_id", "scene_name", "reason":
			valCode, err := dec.PeekCode()
			if err != nil {
				return ErrMalformed
			}
			if !isStringCode(valCode) {
				if err := dec.Skip(); err != nil {
					return ErrMalformed
				}
				continue
			}
			s, err := dec.DecodeString()
			if err != nil {
				return ErrMalformed
			}
			switch key {
			case "request_id":
				meta.RequestID = s
			case "scene_name":
				meta.SceneName = s
			case "reason":
				meta.Reason = s
			}
		default:
			if err := dec.Skip(); err != nil {
				return ErrMalformed
			}
		}
	}
	return nil
}

func isMapCode(code byte) bool {
	return code&0xf0 == 0x80 || code == 0xde || code == 0xdf
}
