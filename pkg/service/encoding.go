package service

import (
	"encoding/base64"
	"encoding/json"

	"github.com/dandytbermillo/annotation/pkg/types"
)

// DecodeBinary accepts the two wire encodings of a binary payload: a
// standard padded base64 string (normative) or a JSON array of byte values
// (legacy ingest). Outputs are always base64; see EncodeBinary.
func DecodeBinary(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, types.ValidationError("invalid base64 payload: %v", err)
		}
		return decoded, nil
	}

	var ints []int
	if err := json.Unmarshal(raw, &ints); err == nil {
		out := make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, types.ValidationError("byte value %d out of range at index %d", v, i)
			}
			out[i] = byte(v)
		}
		return out, nil
	}

	return nil, types.ValidationError("payload must be a base64 string or an array of bytes")
}

// EncodeBinary renders a payload in the normative wire encoding.
func EncodeBinary(payload []byte) string {
	return base64.StdEncoding.EncodeToString(payload)
}
