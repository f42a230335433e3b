package chain

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// BodyCodec turns a structured payload into a storage-safe block body and
// back. Decode must fail on malformed input rather than return partial data.
type BodyCodec interface {
	Encode(v any) (string, error)
	Decode(body string, v any) error
}

// HexJSONCodec stores payloads as hex-encoded JSON.
type HexJSONCodec struct{}

// Encode implements BodyCodec.
func (HexJSONCodec) Encode(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal body: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// Decode implements BodyCodec.
func (HexJSONCodec) Decode(body string, v any) error {
	raw, err := hex.DecodeString(body)
	if err != nil {
		return fmt.Errorf("hex decode body: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("unmarshal body: %w", err)
	}
	return nil
}
