// Package validation checks write values against pipe-separated rule strings
// such as "required|string|max:255".
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/spf13/cast"
)

// ErrUnknownRule is returned for rule names the validator does not implement.
var ErrUnknownRule = errors.New("unknown validation rule")

// Rule is one parsed segment of a rule string.
type Rule struct {
	Name string
	Args []string
}

var known = map[string]int{
	"required": 0,
	"nullable": 0,
	"string":   0,
	"integer":  0,
	"numeric":  0,
	"boolean":  0,
	"email":    0,
	"uuid":     0,
	"date":     0,
	"datetime": 0,
	"json":     0,
	"array":    0,
	"min":      1,
	"max":      1,
	"between":  2,
	"in":       -1,
	"regex":    1,
}

// Parse splits a rule string. "regex:" consumes the rest of the string so the
// pattern may contain '|'.
func Parse(rule string) ([]Rule, error) {
	var rules []Rule
	rest := strings.TrimSpace(rule)
	for rest != "" {
		var segment string
		if strings.HasPrefix(rest, "regex:") {
			segment, rest = rest, ""
		} else if idx := strings.Index(rest, "|"); idx >= 0 {
			segment, rest = rest[:idx], rest[idx+1:]
		} else {
			segment, rest = rest, ""
		}
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}

		name, argText, hasArgs := strings.Cut(segment, ":")
		arity, ok := known[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRule, name)
		}
		var args []string
		if hasArgs {
			if name == "regex" {
				args = []string{argText}
			} else {
				args = strings.Split(argText, ",")
			}
		}
		if arity >= 0 && len(args) != arity {
			return nil, fmt.Errorf("rule %s expects %d argument(s)", name, arity)
		}
		if arity < 0 && len(args) == 0 {
			return nil, fmt.Errorf("rule %s expects at least one argument", name)
		}
		if name == "regex" {
			if _, err := regexp.Compile(args[0]); err != nil {
				return nil, fmt.Errorf("rule regex: %w", err)
			}
		}
		rules = append(rules, Rule{Name: name, Args: args})
	}
	return rules, nil
}

// Check reports whether rule parses.
func Check(rule string) error {
	_, err := Parse(rule)
	return err
}

// Validate checks value against rule and returns a message describing the
// first failure. Nil values pass unless "required" is present; without
// "nullable" a nil value fails any type rule.
func Validate(rule string, value interface{}) error {
	rules, err := Parse(rule)
	if err != nil {
		return err
	}

	nullable := false
	for _, r := range rules {
		if r.Name == "nullable" {
			nullable = true
		}
	}
	if value == nil {
		for _, r := range rules {
			if r.Name == "required" {
				return errors.New("is required")
			}
		}
		if nullable || !hasTypeRule(rules) {
			return nil
		}
		return errors.New("cannot be null")
	}

	for _, r := range rules {
		if err := apply(r, value); err != nil {
			return err
		}
	}
	return nil
}

func hasTypeRule(rules []Rule) bool {
	for _, r := range rules {
		switch r.Name {
		case "required", "nullable":
		default:
			return true
		}
	}
	return false
}

func apply(r Rule, value interface{}) error {
	switch r.Name {
	case "required":
		if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
			return errors.New("is required")
		}
	case "nullable":
	case "string":
		if _, ok := value.(string); !ok {
			return errors.New("must be a string")
		}
	case "integer":
		if !isInteger(value) {
			return errors.New("must be an integer")
		}
	case "numeric":
		if _, ok := number(value); !ok {
			return errors.New("must be numeric")
		}
	case "boolean":
		if !isBoolean(value) {
			return errors.New("must be a boolean")
		}
	case "email":
		s, ok := value.(string)
		if !ok {
			return errors.New("must be a valid email address")
		}
		addr, err := mail.ParseAddress(s)
		if err != nil || addr.Address != s {
			return errors.New("must be a valid email address")
		}
	case "uuid":
		if _, err := uuid.Parse(cast.ToString(value)); err != nil {
			return errors.New("must be a valid uuid")
		}
	case "date":
		if !parses(value, "2006-01-02") {
			return errors.New("must be a date (YYYY-MM-DD)")
		}
	case "datetime":
		if !parses(value, "2006-01-02 15:04:05", time.RFC3339) {
			return errors.New("must be a datetime (YYYY-MM-DD HH:MM:SS)")
		}
	case "json":
		switch v := value.(type) {
		case map[string]interface{}, []interface{}:
		case string:
			if !json.Valid([]byte(v)) {
				return errors.New("must be valid json")
			}
		default:
			return errors.New("must be valid json")
		}
	case "array":
		switch value.(type) {
		case map[string]interface{}, []interface{}, []string:
		default:
			return errors.New("must be an array")
		}
	case "min", "max":
		bound, err := strconv.ParseFloat(r.Args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid %s bound", r.Name)
		}
		size, ok := size(value)
		if !ok {
			return fmt.Errorf("cannot be measured for %s", r.Name)
		}
		if r.Name == "min" && size < bound {
			return fmt.Errorf("must be at least %s", r.Args[0])
		}
		if r.Name == "max" && size > bound {
			return fmt.Errorf("must be at most %s", r.Args[0])
		}
	case "between":
		lo, errLo := strconv.ParseFloat(r.Args[0], 64)
		hi, errHi := strconv.ParseFloat(r.Args[1], 64)
		if errLo != nil || errHi != nil {
			return errors.New("invalid between bounds")
		}
		size, ok := size(value)
		if !ok || size < lo || size > hi {
			return fmt.Errorf("must be between %s and %s", r.Args[0], r.Args[1])
		}
	case "in":
		s := cast.ToString(value)
		for _, allowed := range r.Args {
			if s == strings.TrimSpace(allowed) {
				return nil
			}
		}
		return fmt.Errorf("must be one of: %s", strings.Join(r.Args, ", "))
	case "regex":
		s, ok := value.(string)
		if !ok || !regexp.MustCompile(r.Args[0]).MatchString(s) {
			return errors.New("has an invalid format")
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownRule, r.Name)
	}
	return nil
}

func isInteger(value interface{}) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		return v == float64(int64(v))
	case float32:
		return v == float32(int64(v))
	case json.Number:
		_, err := v.Int64()
		return err == nil
	case string:
		_, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return err == nil
	}
	return false
}

func number(value interface{}) (float64, bool) {
	switch value.(type) {
	case bool:
		return 0, false
	}
	f, err := cast.ToFloat64E(value)
	return f, err == nil
}

func isBoolean(value interface{}) bool {
	switch v := value.(type) {
	case bool:
		return true
	case int, int64, float64:
		n := cast.ToInt64(v)
		return n == 0 || n == 1
	case string:
		switch strings.ToLower(v) {
		case "true", "false", "1", "0":
			return true
		}
	}
	return false
}

func parses(value interface{}, layouts ...string) bool {
	if _, ok := value.(time.Time); ok {
		return true
	}
	s, ok := value.(string)
	if !ok {
		return false
	}
	for _, layout := range layouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// size measures strings by rune count, collections by length, and numbers by value.
func size(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case string:
		return float64(utf8.RuneCountInString(v)), true
	case []interface{}:
		return float64(len(v)), true
	case []string:
		return float64(len(v)), true
	case map[string]interface{}:
		return float64(len(v)), true
	}
	return number(value)
}
