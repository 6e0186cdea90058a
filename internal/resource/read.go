package resource

import (
	"context"

	"github.com/spf13/cast"

	"resource-orm/internal/hooks"
	"resource-orm/internal/ormerr"
	"resource-orm/internal/planner"
	"resource-orm/internal/queryparse"
	"resource-orm/internal/resultset"
	"resource-orm/internal/schema"
)

// Read returns one row by primary key. Empty fields selects every readable field.
func (s *Service) Read(ctx context.Context, id interface{}, fields ...string) (map[string]interface{}, error) {
	var row map[string]interface{}
	err := s.track(ctx, "read", func(ctx context.Context) error {
		raw, err := s.fetch(ctx, id, fields, s.trashed)
		if err != nil {
			return err
		}
		row, err = s.present(ctx, raw)
		return err
	})
	return row, err
}

// List compiles spec, runs it and returns the reshaped rows.
func (s *Service) List(ctx context.Context, spec *queryparse.Spec) (*resultset.Collection, error) {
	var collection *resultset.Collection
	err := s.track(ctx, "list", func(ctx context.Context) error {
		plan, err := planner.Compile(s.def, spec, s.registry,
			planner.WithDialect(s.m.dialect),
			planner.WithTrashedMode(s.trashed),
			planner.WithMaxFilterDepth(s.m.maxFilterDepth),
		)
		if err != nil {
			return err
		}
		query, err := plan.SQL()
		if err != nil {
			return ormerr.Wrap(ormerr.KindUnexpected, err, "unable to list resources: invalid query")
		}

		exec := s.m.Executor(ctx)
		rows, err := exec.QueryContext(ctx, query.SQL, query.Args...)
		if err != nil {
			return normalize(err, "unable to list resources")
		}
		raws, err := resultset.ScanRows(rows)
		if err != nil {
			return normalize(err, "unable to list resources")
		}

		reader := s.reader("list")
		out := make([]map[string]interface{}, 0, len(raws))
		cursors := make([]interface{}, 0, len(raws))
		for _, raw := range raws {
			cursors = append(cursors, raw[s.def.CursorField])
			row, err := resultset.Reshape(ctx, plan, raw, reader)
			if err != nil {
				return err
			}
			out = append(out, row)
		}
		s.m.metrics.RecordRowsReturned(ctx, s.def.Name, int64(len(out)))
		collection = resultset.NewCollection(plan, exec, out, cursors)
		return nil
	})
	return collection, err
}

// Exists reports whether a row with id is visible under the current trashed mode.
func (s *Service) Exists(ctx context.Context, id interface{}) (bool, error) {
	var found bool
	err := s.track(ctx, "exists", func(ctx context.Context) error {
		var err error
		found, err = s.exists(ctx, s.def, id, s.trashed)
		return err
	})
	return found, err
}

// Count returns the number of rows visible under the current trashed mode.
func (s *Service) Count(ctx context.Context) (int64, error) {
	var total int64
	err := s.track(ctx, "count", func(ctx context.Context) error {
		query, err := planner.PlanCount(s.m.dialect, s.def, s.trashed)
		if err != nil {
			return err
		}
		rows, err := s.m.Executor(ctx).QueryContext(ctx, query.SQL, query.Args...)
		if err != nil {
			return normalize(err, "unable to count resources")
		}
		value, _, err := resultset.ScanScalar(rows)
		if err != nil {
			return normalize(err, "unable to count resources")
		}
		total, err = cast.ToInt64E(value)
		if err != nil {
			return ormerr.Wrap(ormerr.KindUnexpected, err, "unable to count resources: invalid count value")
		}
		return nil
	})
	return total, err
}

// fetch loads one stored row without read transforms.
func (s *Service) fetch(ctx context.Context, id interface{}, fields []string, mode planner.TrashedMode) (map[string]interface{}, error) {
	query, err := planner.PlanFind(s.m.dialect, s.def, id, fields, mode)
	if err != nil {
		return nil, err
	}
	rows, err := s.m.Executor(ctx).QueryContext(ctx, query.SQL, query.Args...)
	if err != nil {
		return nil, normalize(err, "unable to read resource")
	}
	row, ok, err := resultset.ScanRow(rows)
	if err != nil {
		return nil, normalize(err, "unable to read resource")
	}
	if !ok {
		return nil, ormerr.DoesNotExist("unable to read resource: %s %v does not exist", s.def.Name, id)
	}
	return resultset.Unflatten(row), nil
}

// present applies accessors, strips omitted fields and runs AfterRead hooks.
func (s *Service) present(ctx context.Context, raw map[string]interface{}) (map[string]interface{}, error) {
	copied := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		copied[k] = v
	}
	return resultset.Finish(ctx, s.def, copied, s.reader("read"))
}

func (s *Service) reader(operation string) resultset.Reader {
	return resultset.Reader{
		Access: func(_ context.Context, def *schema.Definition, row map[string]interface{}) (map[string]interface{}, error) {
			return s.m.transforms.ApplyFields(def.Accessors, row)
		},
		AfterRead: func(ctx context.Context, def *schema.Definition, row map[string]interface{}) (map[string]interface{}, error) {
			return s.m.hooks.RunFilter(ctx, hooks.AfterRead, &hooks.Payload{
				Resource:  def.Name,
				Operation: operation,
				ID:        row[def.PrimaryKey],
				Fields:    row,
			})
		},
	}
}

func (s *Service) exists(ctx context.Context, def *schema.Definition, id interface{}, mode planner.TrashedMode) (bool, error) {
	query, err := planner.PlanExists(s.m.dialect, def, id, mode)
	if err != nil {
		return false, err
	}
	rows, err := s.m.Executor(ctx).QueryContext(ctx, query.SQL, query.Args...)
	if err != nil {
		return false, normalize(err, "unable to check resource existence")
	}
	_, found, err := resultset.ScanScalar(rows)
	if err != nil {
		return false, normalize(err, "unable to check resource existence")
	}
	return found, nil
}
