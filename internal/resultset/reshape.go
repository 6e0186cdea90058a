package resultset

import (
	"context"
	"strings"

	"resource-orm/internal/planner"
	"resource-orm/internal/schema"
)

// ReadFunc transforms a row belonging to def.
type ReadFunc func(ctx context.Context, def *schema.Definition, row map[string]interface{}) (map[string]interface{}, error)

// Reader holds the read-side transforms applied while reshaping.
// Access runs for the root and for every related resource; AfterRead runs for
// the root row only. Either may be nil.
type Reader struct {
	Access    ReadFunc
	AfterRead ReadFunc
}

// Reshape turns one flat list row into its nested form:
//
//   - the cursor field is dropped unless it was requested or a wildcard was used
//   - "owner.name" keys nest under "owner", "meta->a->b" keys nest under meta.a.b
//   - related resources get their accessors applied depth-first and lose their
//     omitted fields, then the root does the same and AfterRead runs
func Reshape(ctx context.Context, plan *planner.ListPlan, row map[string]interface{}, reader Reader) (map[string]interface{}, error) {
	def := plan.Definition
	nested := make(map[string]interface{}, len(row))

	keepCursor := plan.Spec == nil || len(plan.Spec.Fields) == 0 ||
		plan.Spec.HasWildcard() || plan.Spec.Requests(def.CursorField)

	for _, key := range orderedKeys(plan.Columns, row) {
		if key == def.CursorField && !keepCursor {
			continue
		}
		setPath(nested, splitKey(key), row[key])
	}

	if err := reshapeRelated(ctx, plan.Related, "", nested, reader); err != nil {
		return nil, err
	}
	return Finish(ctx, def, nested, reader)
}

// Unflatten nests the "->" and dotted keys of a single-resource row.
func Unflatten(row map[string]interface{}) map[string]interface{} {
	nested := make(map[string]interface{}, len(row))
	for _, key := range orderedKeys(nil, row) {
		setPath(nested, splitKey(key), row[key])
	}
	return nested
}

// Finish applies the root read pipeline to a single row: accessors, omitted
// field removal, then AfterRead.
func Finish(ctx context.Context, def *schema.Definition, row map[string]interface{}, reader Reader) (map[string]interface{}, error) {
	row, err := access(ctx, def, row, reader)
	if err != nil {
		return nil, err
	}
	if reader.AfterRead != nil {
		return reader.AfterRead(ctx, def, row)
	}
	return row, nil
}

func access(ctx context.Context, def *schema.Definition, row map[string]interface{}, reader Reader) (map[string]interface{}, error) {
	if reader.Access != nil {
		var err error
		row, err = reader.Access(ctx, def, row)
		if err != nil {
			return nil, err
		}
	}
	for _, field := range def.OmittedFields {
		delete(row, field)
	}
	return row, nil
}

func reshapeRelated(ctx context.Context, related map[string]*schema.Definition, parent string, node map[string]interface{}, reader Reader) error {
	for key, value := range node {
		child, ok := value.(map[string]interface{})
		if !ok {
			continue
		}
		path := key
		if parent != "" {
			path = parent + "." + key
		}
		def, ok := related[path]
		if !ok {
			continue
		}
		if err := reshapeRelated(ctx, related, path, child, reader); err != nil {
			return err
		}
		out, err := access(ctx, def, child, reader)
		if err != nil {
			return err
		}
		node[key] = out
	}
	return nil
}

// splitKey splits "owner.company.meta->a->b" into [owner company meta a b].
func splitKey(key string) []string {
	head, jsonPath := key, ""
	if idx := strings.Index(key, schema.JSONPathSeparator); idx >= 0 {
		head, jsonPath = key[:idx], key[idx+len(schema.JSONPathSeparator):]
	}
	parts := strings.Split(head, ".")
	if jsonPath != "" {
		parts = append(parts, strings.Split(jsonPath, schema.JSONPathSeparator)...)
	}
	return parts
}

// setPath stores value at path, creating intermediate maps. Nested maps win
// over scalars already stored at the same key.
func setPath(dst map[string]interface{}, path []string, value interface{}) {
	node := dst
	for _, part := range path[:len(path)-1] {
		next, ok := node[part].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			node[part] = next
		}
		node = next
	}
	last := path[len(path)-1]
	if _, isMap := node[last].(map[string]interface{}); isMap {
		return
	}
	node[last] = value
}

// orderedKeys returns the row keys in select order, followed by any keys the
// plan did not list.
func orderedKeys(columns []string, row map[string]interface{}) []string {
	keys := make([]string, 0, len(row))
	seen := make(map[string]struct{}, len(row))
	for _, col := range columns {
		if _, ok := row[col]; ok {
			keys = append(keys, col)
			seen[col] = struct{}{}
		}
	}
	for key := range row {
		if _, ok := seen[key]; !ok {
			keys = append(keys, key)
		}
	}
	return keys
}
