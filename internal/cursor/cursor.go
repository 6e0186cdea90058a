// Package cursor encodes and decodes the opaque cursors used for seek
// pagination. A cursor is the base64 encoding of the raw cursor-field value;
// clients must treat it as opaque.
package cursor

import (
	"encoding/base64"
	"fmt"
	"time"
)

// DateTimeLayout is the layout used when a cursor value is a time.
const DateTimeLayout = "2006-01-02 15:04:05"

// Encode builds an opaque cursor from a cursor-field value.
// Values are string-coerced so numeric precision survives the round trip.
func Encode(value interface{}) string {
	return base64.StdEncoding.EncodeToString([]byte(coerceToString(value)))
}

// EncodeOrNil returns nil for a nil value, otherwise the encoded cursor.
func EncodeOrNil(value interface{}) *string {
	if value == nil {
		return nil
	}
	s := Encode(value)
	return &s
}

// Decode parses an opaque cursor back into the raw cursor-field value.
func Decode(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("invalid cursor: empty value")
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("invalid cursor: %w", err)
	}
	return string(data), nil
}

func coerceToString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case time.Time:
		return val.UTC().Format(DateTimeLayout)
	case int:
		return fmt.Sprintf("%d", val)
	case int32:
		return fmt.Sprintf("%d", val)
	case int64:
		return fmt.Sprintf("%d", val)
	case uint:
		return fmt.Sprintf("%d", val)
	case uint32:
		return fmt.Sprintf("%d", val)
	case uint64:
		return fmt.Sprintf("%d", val)
	case float32:
		return fmt.Sprintf("%g", val)
	case float64:
		return fmt.Sprintf("%g", val)
	case bool:
		return fmt.Sprintf("%t", val)
	case []byte:
		return string(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
