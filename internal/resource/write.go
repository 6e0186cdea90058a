package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"resource-orm/internal/dbexec"
	"resource-orm/internal/events"
	"resource-orm/internal/hooks"
	"resource-orm/internal/ormerr"
	"resource-orm/internal/planner"
	"resource-orm/internal/resultset"
	"resource-orm/internal/validation"
)

// Create validates fields, inserts a row and returns it as read back.
func (s *Service) Create(ctx context.Context, fields map[string]interface{}) (map[string]interface{}, error) {
	var row map[string]interface{}
	err := s.track(ctx, "create", func(ctx context.Context) error {
		var err error
		row, err = s.create(ctx, fields)
		return err
	})
	return row, err
}

// Upsert inserts fields or overwrites the row they conflict with. Uniqueness
// checks are skipped; the database resolves the conflict.
func (s *Service) Upsert(ctx context.Context, fields map[string]interface{}) (map[string]interface{}, error) {
	var row map[string]interface{}
	err := s.track(ctx, "upsert", func(ctx context.Context) error {
		s.upsert = true
		defer func() { s.upsert = false }()
		var err error
		row, err = s.create(ctx, fields)
		if ormerr.Is(err, ormerr.KindAlreadyExists) {
			return ormerr.Wrap(ormerr.KindUnexpected, err, "unable to upsert resource: unexpected conflict")
		}
		return err
	})
	return row, err
}

// Replicate copies the writable fields of an existing row, applies overrides
// and creates a new row. Single-field unique values and the primary key are
// not copied.
func (s *Service) Replicate(ctx context.Context, id interface{}, overrides map[string]interface{}) (map[string]interface{}, error) {
	var row map[string]interface{}
	err := s.track(ctx, "replicate", func(ctx context.Context) error {
		raw, err := s.fetch(ctx, id, nil, s.trashed)
		if err != nil {
			return err
		}
		existing, err := s.m.transforms.ApplyFields(s.def.Accessors, raw)
		if err != nil {
			return err
		}

		skip := map[string]struct{}{s.def.PrimaryKey: {}}
		for _, u := range s.def.UniqueConstraints {
			if !u.Composite() {
				skip[u[0]] = struct{}{}
			}
		}
		fields := make(map[string]interface{}, len(existing)+len(overrides))
		for field, value := range existing {
			if _, omit := skip[field]; omit || !s.def.IsWritable(field) || s.def.IsOmitted(field) {
				continue
			}
			fields[field] = value
		}
		for field, value := range overrides {
			fields[field] = value
		}
		row, err = s.create(ctx, fields)
		return err
	})
	return row, err
}

// Update validates fields, writes them and returns the row as read back.
// Empty fields returns the current row without writing.
func (s *Service) Update(ctx context.Context, id interface{}, fields map[string]interface{}) (map[string]interface{}, error) {
	var row map[string]interface{}
	err := s.track(ctx, "update", func(ctx context.Context) error {
		var err error
		row, err = s.update(ctx, id, fields)
		return err
	})
	return row, err
}

func (s *Service) create(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	def := s.def
	for _, field := range def.RequiredFields {
		if value, ok := input[field]; !ok || value == nil {
			return nil, ormerr.MissingField(field, "unable to create resource: missing required field (%s)", field)
		}
	}
	if err := s.validate(input, "create"); err != nil {
		return nil, err
	}

	fields, err := s.normalizeNullableJSON(input, nil)
	if err != nil {
		return nil, err
	}
	fields, err = s.m.transforms.ApplyFields(def.Mutators, fields)
	if err != nil {
		return nil, err
	}
	for field, value := range def.DefaultValues {
		if _, ok := fields[field]; !ok {
			fields[field] = value
		}
	}
	if err := s.checkRelated(ctx, fields, "create"); err != nil {
		return nil, err
	}
	if !s.upsert {
		if err := s.checkUnique(ctx, fields, nil, nil); err != nil {
			return nil, err
		}
	}

	payload := &hooks.Payload{Resource: def.Name, Operation: "create", Fields: fields}
	if fields, err = s.m.hooks.RunFilter(ctx, hooks.BeforeCreate, payload); err != nil {
		return nil, err
	}
	if fields, err = s.m.hooks.RunFilter(ctx, hooks.BeforeWrite, payload); err != nil {
		return nil, err
	}

	id, err := s.insert(ctx, fields)
	if err != nil {
		return nil, err
	}
	raw, err := s.fetch(ctx, id, nil, planner.TrashedInclude)
	if err != nil {
		return nil, err
	}
	row, err := s.present(ctx, raw)
	if err != nil {
		return nil, err
	}

	after := &hooks.Payload{Resource: def.Name, Operation: "create", ID: id, Fields: row}
	if err := s.m.hooks.Run(ctx, hooks.AfterCreate, after); err != nil {
		return nil, err
	}
	if err := s.m.hooks.Run(ctx, hooks.AfterWrite, after); err != nil {
		return nil, err
	}
	s.publish(ctx, events.ResourceCreate, id, row, nil, nil)
	return row, nil
}

func (s *Service) update(ctx context.Context, id interface{}, input map[string]interface{}) (map[string]interface{}, error) {
	def := s.def
	raw, err := s.fetch(ctx, id, nil, s.trashed)
	if err != nil {
		return nil, err
	}
	previous, err := s.present(ctx, raw)
	if err != nil {
		return nil, err
	}
	if len(input) == 0 {
		return previous, nil
	}

	if err := s.validate(input, "update"); err != nil {
		return nil, err
	}
	fields, err := s.normalizeNullableJSON(input, raw)
	if err != nil {
		return nil, err
	}
	fields, err = s.m.transforms.ApplyFields(def.Mutators, fields)
	if err != nil {
		return nil, err
	}
	if err := s.checkRelated(ctx, fields, "update"); err != nil {
		return nil, err
	}
	if err := s.checkUnique(ctx, fields, raw, raw[def.PrimaryKey]); err != nil {
		return nil, err
	}

	payload := &hooks.Payload{Resource: def.Name, Operation: "update", ID: id, Fields: fields, Previous: previous}
	if fields, err = s.m.hooks.RunFilter(ctx, hooks.BeforeUpdate, payload); err != nil {
		return nil, err
	}
	if fields, err = s.m.hooks.RunFilter(ctx, hooks.BeforeWrite, payload); err != nil {
		return nil, err
	}
	changed := changedFields(raw, fields)

	if len(fields) > 0 {
		query, err := planner.PlanUpdate(s.m.dialect, def, id, bindable(fields))
		if err != nil {
			return nil, err
		}
		if _, err := s.m.Executor(ctx).ExecContext(ctx, query.SQL, query.Args...); err != nil {
			return nil, normalize(err, "unable to update resource")
		}
	}

	reread, err := s.fetch(ctx, id, nil, planner.TrashedInclude)
	if err != nil {
		return nil, err
	}
	row, err := s.present(ctx, reread)
	if err != nil {
		return nil, err
	}

	after := &hooks.Payload{Resource: def.Name, Operation: "update", ID: id, Fields: row, Previous: previous, Changed: changed}
	if err := s.m.hooks.Run(ctx, hooks.AfterUpdate, after); err != nil {
		return nil, err
	}
	if err := s.m.hooks.Run(ctx, hooks.AfterWrite, after); err != nil {
		return nil, err
	}
	s.publish(ctx, events.ResourceUpdate, id, row, previous, changed)
	return row, nil
}

// validate rejects fields that are not writable or fail their rule.
func (s *Service) validate(fields map[string]interface{}, operation string) error {
	names := make([]string, 0, len(fields))
	for field := range fields {
		names = append(names, field)
	}
	sort.Strings(names)

	for _, field := range names {
		if !s.def.IsWritable(field) {
			return ormerr.InvalidField(field, "unable to %s resource: invalid field (%s)", operation, field)
		}
		err := validation.Validate(s.def.Rule(field), fields[field])
		if errors.Is(err, validation.ErrUnknownRule) {
			return ormerr.InvalidConfiguration("resource %s: field %s: %s", s.def.Name, field, err.Error())
		}
		if err != nil {
			return ormerr.InvalidField(field, "unable to %s resource: %s %s", operation, field, err.Error())
		}
	}
	return nil
}

// checkRelated verifies every related value points at a live row.
func (s *Service) checkRelated(ctx context.Context, fields map[string]interface{}, operation string) error {
	for _, col := range s.def.RelatedColumns() {
		value, ok := fields[col]
		if !ok || value == nil {
			continue
		}
		name, _ := s.def.Related(col)
		target, err := s.registry.Resolve(name)
		if err != nil {
			return err
		}
		found, err := s.exists(ctx, target, value, planner.TrashedExclude)
		if err != nil {
			return err
		}
		if !found {
			e := ormerr.DoesNotExist("unable to %s resource: related %s %v does not exist", operation, name, value)
			e.Field = col
			return e
		}
	}
	return nil
}

// checkUnique looks for rows that would collide with fields. On create
// (existing nil) a composite constraint is checked only when all of its
// fields are present. On update it is checked when any of them is written,
// filling the rest from the existing row, and the row itself is excluded.
// NULL never collides, so a constraint with any nil value is skipped.
func (s *Service) checkUnique(ctx context.Context, fields, existing map[string]interface{}, excludeID interface{}) error {
	for _, constraint := range s.def.UniqueConstraints {
		values := make(map[string]interface{}, len(constraint))
		written, null := 0, false
		for _, field := range constraint {
			value, ok := fields[field]
			if ok {
				written++
			} else if existing != nil {
				value, ok = existing[field]
			}
			if !ok {
				continue
			}
			if value == nil {
				null = true
				break
			}
			values[field] = value
		}
		if null || written == 0 || len(values) < len(constraint) {
			continue
		}

		query, err := planner.PlanUniqueCheck(s.m.dialect, s.def, bindable(values), excludeID)
		if err != nil {
			return err
		}
		rows, err := s.m.Executor(ctx).QueryContext(ctx, query.SQL, query.Args...)
		if err != nil {
			return normalize(err, "unable to check uniqueness")
		}
		_, found, err := resultset.ScanScalar(rows)
		if err != nil {
			return normalize(err, "unable to check uniqueness")
		}
		if found {
			e := ormerr.AlreadyExists("unable to write resource: %s already exists with the same %s", s.def.Name, strings.Join(constraint, ", "))
			e.Field = constraint[0]
			return e
		}
	}
	return nil
}

// insert writes fields and returns the primary key of the stored row.
func (s *Service) insert(ctx context.Context, fields map[string]interface{}) (interface{}, error) {
	def := s.def
	values := bindable(fields)
	var (
		query planner.SQLQuery
		err   error
	)
	if s.upsert {
		query, err = planner.PlanUpsert(s.m.dialect, def, values)
	} else {
		query, err = planner.PlanInsert(s.m.dialect, def, values)
	}
	if err != nil {
		return nil, err
	}

	exec := s.m.Executor(ctx)
	explicit, hasExplicit := fields[def.PrimaryKey]
	hasExplicit = hasExplicit && explicit != nil

	if !s.m.dialect.SupportsLastInsertID() {
		rows, err := exec.QueryContext(ctx, query.SQL, query.Args...)
		if err != nil {
			return nil, normalize(err, "unable to create resource")
		}
		id, found, err := resultset.ScanScalar(rows)
		if err != nil {
			return nil, normalize(err, "unable to create resource")
		}
		switch {
		case hasExplicit:
			return explicit, nil
		case found:
			return id, nil
		}
		return s.lookup(ctx, values)
	}

	result, err := exec.ExecContext(ctx, query.SQL, query.Args...)
	if err != nil {
		return nil, normalize(err, "unable to create resource")
	}
	if hasExplicit {
		return explicit, nil
	}
	if s.upsert {
		return s.lookup(ctx, values)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, ormerr.Wrap(ormerr.KindUnexpected, err, "unable to create resource: cannot resolve primary key")
	}
	return id, nil
}

// lookup finds the row an upsert wrote by its conflict columns.
func (s *Service) lookup(ctx context.Context, values map[string]interface{}) (interface{}, error) {
	keys := make(map[string]interface{})
	for _, key := range s.def.EffectiveConflictKeys() {
		if value, ok := values[key]; ok {
			keys[key] = value
		}
	}
	if len(keys) == 0 {
		return nil, ormerr.Unexpected("unable to create resource: cannot resolve primary key")
	}
	query, err := planner.PlanLookup(s.m.dialect, s.def, keys)
	if err != nil {
		return nil, err
	}
	rows, err := s.m.Executor(ctx).QueryContext(ctx, query.SQL, query.Args...)
	if err != nil {
		return nil, normalize(err, "unable to create resource")
	}
	id, found, err := resultset.ScanScalar(rows)
	if err != nil {
		return nil, normalize(err, "unable to create resource")
	}
	if !found {
		return nil, ormerr.Unexpected("unable to create resource: written row not found")
	}
	return id, nil
}

// bindable JSON-encodes structured values so every value can be bound as a
// statement argument.
func bindable(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		switch v.(type) {
		case map[string]interface{}, []interface{}, []string:
			encoded, err := json.Marshal(v)
			if err == nil {
				v = string(encoded)
			}
		}
		out[k] = v
	}
	return out
}

// changedFields lists the written fields whose value differs from the stored row.
func changedFields(stored, written map[string]interface{}) []string {
	changed := make([]string, 0, len(written))
	for field, value := range bindable(written) {
		old, ok := stored[field]
		if !ok || !sameValue(old, value) {
			changed = append(changed, field)
		}
	}
	sort.Strings(changed)
	return changed
}

func sameValue(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if reflect.DeepEqual(a, b) {
		return true
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func normalize(err error, action string) error {
	return dbexec.NormalizeError(err, action)
}
