package queryparse

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"resource-orm/internal/ormerr"
)

// member is one key/value pair of a JSON object, kept in document order.
type member struct {
	key   string
	value interface{}
}

type object []member

// decodeOrdered decodes a JSON document keeping object keys in the order they
// appear. Numbers are returned as int64 when integral, float64 otherwise.
func decodeOrdered(data string) (interface{}, error) {
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after top-level value")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := object{}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, errors.New("object key must be a string")
				}
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				obj = append(obj, member{key: key, value: val})
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return obj, nil
		case '[':
			arr := []interface{}{}
			for dec.More() {
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		default:
			return nil, errors.New("unexpected delimiter")
		}
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		return t.Float64()
	default:
		return t, nil
	}
}

// toOrdered converts already-decoded Go values. Map keys have no inherent
// order, so they are sorted to keep compiled SQL deterministic.
func toOrdered(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		obj := make(object, 0, len(val))
		for _, key := range sortedKeys(val) {
			obj = append(obj, member{key: key, value: toOrdered(val[key])})
		}
		return obj
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = toOrdered(item)
		}
		return out
	case []map[string]interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = toOrdered(item)
		}
		return out
	default:
		return v
	}
}

// plain converts ordered values back to ordinary maps for use as predicate values.
func plain(v interface{}) interface{} {
	switch val := v.(type) {
	case object:
		out := make(map[string]interface{}, len(val))
		for _, m := range val {
			out[m.key] = plain(m.value)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = plain(item)
		}
		return out
	default:
		return v
	}
}

// decodeDocument accepts a JSON string or decoded Go values. Undecodable input
// yields nil rather than an error.
func decodeDocument(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		if strings.TrimSpace(val) == "" {
			return nil
		}
		doc, err := decodeOrdered(val)
		if err != nil {
			return nil
		}
		return doc
	case []string:
		if len(val) == 0 {
			return nil
		}
		return decodeDocument(val[0])
	default:
		return toOrdered(v)
	}
}

func conjunctionKey(key string) (Conjunction, bool) {
	switch strings.ToUpper(strings.TrimLeft(key, "_")) {
	case string(And):
		return And, true
	case string(Or):
		return Or, true
	}
	return "", false
}

func parseFilter(v interface{}, now time.Time) (*FilterNode, error) {
	doc := decodeDocument(v)
	root := &FilterNode{Conjunction: And}
	switch d := doc.(type) {
	case object:
		if err := addEntries(root, d, now); err != nil {
			return nil, err
		}
	case []interface{}:
		for _, item := range d {
			obj, ok := item.(object)
			if !ok {
				return nil, ormerr.InvalidRequest("unable to list resource: invalid filter format")
			}
			if err := addEntries(root, obj, now); err != nil {
				return nil, err
			}
		}
	default:
		return nil, nil
	}
	if root.Empty() {
		return nil, nil
	}
	return root, nil
}

func addEntries(group *FilterNode, obj object, now time.Time) error {
	for _, m := range obj {
		if conj, ok := conjunctionKey(m.key); ok {
			items, ok := m.value.([]interface{})
			if !ok {
				return ormerr.InvalidRequest("unable to list resource: invalid filter condition definition for %s", m.key)
			}
			child := &FilterNode{Conjunction: conj}
			for _, item := range items {
				itemObj, ok := item.(object)
				if !ok {
					return ormerr.InvalidRequest("unable to list resource: invalid filter condition value for %s", m.key)
				}
				if err := addEntries(child, itemObj, now); err != nil {
					return err
				}
			}
			group.Children = append(group.Children, child)
			continue
		}

		ops, ok := m.value.(object)
		if !ok {
			return ormerr.InvalidRequest("unable to list resource: invalid filter value for field %s", m.key)
		}
		leaf := &FilterNode{Field: m.key}
		for _, op := range ops {
			value, err := expandValue(plain(op.value), now)
			if err != nil {
				return err
			}
			leaf.Predicates = append(leaf.Predicates, Predicate{Operator: op.key, Value: value})
		}
		group.Children = append(group.Children, leaf)
	}
	return nil
}

func expandValue(v interface{}, now time.Time) (interface{}, error) {
	switch val := v.(type) {
	case string:
		return ExpandDynamic(val, now)
	case []interface{}:
		for i, item := range val {
			expanded, err := expandValue(item, now)
			if err != nil {
				return nil, err
			}
			val[i] = expanded
		}
		return val, nil
	default:
		return v, nil
	}
}

func parseAggregate(v interface{}) ([]AggregateClause, error) {
	doc := decodeDocument(v)
	var items []interface{}
	switch d := doc.(type) {
	case object:
		items = []interface{}{d}
	case []interface{}:
		items = d
	default:
		return nil, nil
	}

	clauses := make([]AggregateClause, 0, len(items))
	for _, item := range items {
		obj, ok := item.(object)
		if !ok {
			return nil, ormerr.InvalidRequest("unable to get aggregate: invalid aggregate clause")
		}
		for _, m := range obj {
			col, ok := m.value.(string)
			if !ok {
				return nil, ormerr.InvalidRequest("unable to get aggregate: invalid aggregate column for %s", m.key)
			}
			clauses = append(clauses, AggregateClause{Function: strings.ToUpper(m.key), Column: col})
		}
	}
	return clauses, nil
}
