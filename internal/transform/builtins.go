package transform

import (
	"encoding/json"
	"html"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"resource-orm/internal/ormerr"
	"resource-orm/internal/queryparse"
)

// Built-in transform names.
const (
	JSONEncode   = "json_encode"
	JSONDecode   = "json_decode"
	Escape       = "escape"
	Boolean      = "boolean"
	Integer      = "integer"
	Float        = "float"
	String       = "string"
	Trim         = "trim"
	Lower        = "lower"
	Upper        = "upper"
	Nullify      = "nullify"
	Slug         = "slug"
	UUID         = "uuid"
	UUIDToBin    = "uuid_to_bin"
	BinToUUID    = "bin_to_uuid"
	Censor       = "censor"
	Date         = "date"
	DateTime     = "datetime"
	Timestamp    = "timestamp"
	Encrypt      = "encrypt"
	Decrypt      = "decrypt"
	PasswordHash = "password_hash"
)

const censored = "********"

// Option configures the built-in registry.
type Option func(*builtinOptions)

type builtinOptions struct {
	cipher *Cipher
	now    func() time.Time
}

// WithCipher enables the encrypt and decrypt transforms.
func WithCipher(c *Cipher) Option {
	return func(o *builtinOptions) {
		o.cipher = c
	}
}

// WithClock overrides the clock used by the timestamp transform.
func WithClock(now func() time.Time) Option {
	return func(o *builtinOptions) {
		o.now = now
	}
}

// Builtins returns a registry preloaded with the standard transforms.
// encrypt and decrypt are only registered when a cipher is configured.
func Builtins(opts ...Option) *Registry {
	o := builtinOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	r := NewRegistry()
	r.Register(JSONEncode, jsonEncode)
	r.Register(JSONDecode, jsonDecode)
	r.Register(Escape, stringOp(html.EscapeString))
	r.Register(Boolean, func(v interface{}) (interface{}, error) { return cast.ToBool(v), nil })
	r.Register(Integer, func(v interface{}) (interface{}, error) { return cast.ToInt64(v), nil })
	r.Register(Float, func(v interface{}) (interface{}, error) { return cast.ToFloat64(v), nil })
	r.Register(String, func(v interface{}) (interface{}, error) { return cast.ToString(v), nil })
	r.Register(Trim, stringOp(strings.TrimSpace))
	r.Register(Lower, stringOp(strings.ToLower))
	r.Register(Upper, stringOp(strings.ToUpper))
	r.Register(Nullify, nullify)
	r.Register(Slug, stringOp(slugify))
	r.Register(UUID, generateUUID)
	r.Register(UUIDToBin, uuidToBin)
	r.Register(BinToUUID, binToUUID)
	r.Register(Censor, censor)
	r.Register(Date, formatTime(queryparse.DateLayout))
	r.Register(DateTime, formatTime(queryparse.DateTimeLayout))
	r.Register(Timestamp, timestamp(o.now))
	r.Register(PasswordHash, passwordHash)
	if o.cipher != nil {
		r.Register(Encrypt, o.cipher.Encrypt)
		r.Register(Decrypt, o.cipher.Decrypt)
	}
	return r
}

func stringOp(fn func(string) string) Func {
	return func(v interface{}) (interface{}, error) {
		s, ok := v.(string)
		if !ok {
			return v, nil
		}
		return fn(s), nil
	}
}

func jsonEncode(v interface{}) (interface{}, error) {
	switch v.(type) {
	case map[string]interface{}, []interface{}, []string:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, ormerr.InvalidField("", "unable to encode json value")
		}
		return string(data), nil
	default:
		return cast.ToString(v), nil
	}
}

// jsonDecode decodes JSON text. Values that are not JSON text are wrapped in a
// single-element list.
func jsonDecode(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case map[string]interface{}, []interface{}:
		return val, nil
	case string, []byte:
		var decoded interface{}
		if err := json.Unmarshal([]byte(cast.ToString(val)), &decoded); err == nil {
			switch decoded.(type) {
			case map[string]interface{}, []interface{}:
				return decoded, nil
			}
		}
	}
	return []interface{}{v}, nil
}

func nullify(v interface{}) (interface{}, error) {
	if s, ok := v.(string); ok && s == "" {
		return nil, nil
	}
	return v, nil
}

// slugify lowercases s and joins its alphanumeric runs with dashes.
func slugify(s string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	return b.String()
}

func generateUUID(v interface{}) (interface{}, error) {
	if s, ok := v.(string); ok && s == "" {
		return uuid.NewString(), nil
	}
	if _, err := uuid.Parse(cast.ToString(v)); err != nil {
		return nil, ormerr.InvalidField("", "invalid uuid")
	}
	return v, nil
}

func uuidToBin(v interface{}) (interface{}, error) {
	if b, ok := v.([]byte); ok && len(b) == 16 {
		return b, nil
	}
	id, err := uuid.Parse(cast.ToString(v))
	if err != nil {
		return nil, ormerr.InvalidField("", "invalid uuid")
	}
	return id[:], nil
}

func binToUUID(v interface{}) (interface{}, error) {
	var raw []byte
	switch val := v.(type) {
	case []byte:
		raw = val
	case string:
		if _, err := uuid.Parse(val); err == nil {
			return val, nil
		}
		raw = []byte(val)
	default:
		return v, nil
	}
	id, err := uuid.FromBytes(raw)
	if err != nil {
		return nil, ormerr.Unexpected("unable to convert binary value to uuid")
	}
	return id.String(), nil
}

func censor(v interface{}) (interface{}, error) {
	if s, ok := v.(string); ok && s == "" {
		return v, nil
	}
	return censored, nil
}

// formatTime renders Unix timestamps and times with layout; other values are
// string-coerced.
func formatTime(layout string) Func {
	return func(v interface{}) (interface{}, error) {
		switch val := v.(type) {
		case time.Time:
			return val.UTC().Format(layout), nil
		case int, int32, int64, uint, uint32, uint64:
			return time.Unix(cast.ToInt64(val), 0).UTC().Format(layout), nil
		default:
			return cast.ToString(v), nil
		}
	}
}

func timestamp(now func() time.Time) Func {
	return func(v interface{}) (interface{}, error) {
		switch val := v.(type) {
		case time.Time:
			return val.Unix(), nil
		case string:
			if t, err := queryparse.RelativeTime(val, now()); err == nil {
				return t.Unix(), nil
			}
		}
		return cast.ToInt64(v), nil
	}
}
