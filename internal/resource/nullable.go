package resource

import (
	"encoding/json"
	"regexp"
	"sort"

	"resource-orm/internal/ormerr"
)

var nullableJSONKey = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// normalizeNullableJSON prepares the nullable JSON field, when fields carries
// it. The value must be a flat object; null values drop keys. On update the
// written object is merged over the stored one.
func (s *Service) normalizeNullableJSON(fields, stored map[string]interface{}) (map[string]interface{}, error) {
	field := s.def.NullableJSONField
	value, ok := fields[field]
	if field == "" || !ok || value == nil {
		return copyFields(fields), nil
	}

	written, err := jsonObject(field, value)
	if err != nil {
		return nil, err
	}
	merged := map[string]interface{}{}
	if stored != nil && stored[field] != nil {
		current, err := jsonObject(field, stored[field])
		if err != nil {
			return nil, ormerr.Wrap(ormerr.KindUnexpected, err, "resource %s: stored %s is not a json object", s.def.Name, field)
		}
		merged = current
	}

	keys := make([]string, 0, len(written))
	for key := range written {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if !nullableJSONKey.MatchString(key) {
			return nil, ormerr.InvalidField(field, "unable to write resource: invalid key %q in %s", key, field)
		}
		switch v := written[key].(type) {
		case nil:
			delete(merged, key)
		case map[string]interface{}, []interface{}:
			return nil, ormerr.InvalidField(field, "unable to write resource: %s.%s must be a scalar", field, key)
		default:
			merged[key] = v
		}
	}

	out := copyFields(fields)
	out[field] = merged
	return out, nil
}

// jsonObject accepts a decoded object or its JSON text.
func jsonObject(field string, value interface{}) (map[string]interface{}, error) {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = item
		}
		return out, nil
	case string:
		if v == "" {
			return map[string]interface{}{}, nil
		}
		var out map[string]interface{}
		if err := json.Unmarshal([]byte(v), &out); err != nil || out == nil {
			return nil, ormerr.InvalidField(field, "unable to write resource: %s must be a json object", field)
		}
		return out, nil
	default:
		return nil, ormerr.InvalidField(field, "unable to write resource: %s must be a json object", field)
	}
}

func copyFields(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
