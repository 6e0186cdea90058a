package resource

import (
	"context"

	"resource-orm/internal/events"
	"resource-orm/internal/hooks"
	"resource-orm/internal/ormerr"
	"resource-orm/internal/planner"
	"resource-orm/internal/queryparse"
)

// Delete removes the row with id. Soft-deletable resources are trashed
// instead. It returns false when no visible row matched.
func (s *Service) Delete(ctx context.Context, id interface{}) (bool, error) {
	var deleted bool
	err := s.track(ctx, "delete", func(ctx context.Context) error {
		var err error
		deleted, err = s.delete(ctx, id, s.trashed, false)
		return err
	})
	return deleted, err
}

func (s *Service) delete(ctx context.Context, id interface{}, mode planner.TrashedMode, hard bool) (bool, error) {
	raw, err := s.fetch(ctx, id, nil, mode)
	if ormerr.Is(err, ormerr.KindDoesNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	row, err := s.present(ctx, raw)
	if err != nil {
		return false, err
	}

	var query planner.SQLQuery
	sd, soft := s.def.SoftDelete()
	soft = soft && !hard
	if soft {
		query, err = planner.PlanTrash(s.m.dialect, s.def, id, s.timestamp())
	} else {
		query, err = planner.PlanDelete(s.m.dialect, s.def, id)
	}
	if err != nil {
		return false, err
	}
	result, err := s.m.Executor(ctx).ExecContext(ctx, query.SQL, query.Args...)
	if err != nil {
		return false, normalize(err, "unable to delete resource")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, normalize(err, "unable to delete resource")
	}
	if affected == 0 {
		return false, nil
	}

	payload := &hooks.Payload{Resource: s.def.Name, Operation: "delete", ID: id, Fields: row}
	if soft {
		row[sd.Field] = s.timestamp()
		if err := s.m.hooks.Run(ctx, hooks.AfterTrash, payload); err != nil {
			return false, err
		}
		s.publish(ctx, events.ResourceTrash, id, row, nil, []string{sd.Field})
		return true, nil
	}
	if err := s.m.hooks.Run(ctx, hooks.AfterDelete, payload); err != nil {
		return false, err
	}
	s.publish(ctx, events.ResourceDelete, id, nil, row, nil)
	return true, nil
}

// HardDelete physically removes the row with id whether or not it is trashed.
func (s *Service) HardDelete(ctx context.Context, id interface{}) (bool, error) {
	if _, ok := s.def.SoftDelete(); !ok {
		return false, ormerr.Unexpected("resource %s does not support soft deletes", s.def.Name)
	}
	var deleted bool
	err := s.track(ctx, "hard_delete", func(ctx context.Context) error {
		var err error
		deleted, err = s.delete(ctx, id, planner.TrashedInclude, true)
		return err
	})
	return deleted, err
}

// Restore clears the soft-delete marker of the row with id and returns it.
// Restoring a live row returns it unchanged.
func (s *Service) Restore(ctx context.Context, id interface{}) (map[string]interface{}, error) {
	if _, ok := s.def.SoftDelete(); !ok {
		return nil, ormerr.Unexpected("resource %s does not support soft deletes", s.def.Name)
	}
	var row map[string]interface{}
	err := s.track(ctx, "restore", func(ctx context.Context) error {
		query, err := planner.PlanRestore(s.m.dialect, s.def, id)
		if err != nil {
			return err
		}
		result, err := s.m.Executor(ctx).ExecContext(ctx, query.SQL, query.Args...)
		if err != nil {
			return normalize(err, "unable to restore resource")
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return normalize(err, "unable to restore resource")
		}

		raw, err := s.fetch(ctx, id, nil, planner.TrashedInclude)
		if err != nil {
			return err
		}
		if row, err = s.present(ctx, raw); err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}

		payload := &hooks.Payload{Resource: s.def.Name, Operation: "restore", ID: id, Fields: row}
		if err := s.m.hooks.Run(ctx, hooks.AfterRestore, payload); err != nil {
			return err
		}
		sd, _ := s.def.SoftDelete()
		s.publish(ctx, events.ResourceRestore, id, row, nil, []string{sd.Field})
		return nil
	})
	return row, err
}

// timestamp formats the current time for marker columns.
func (s *Service) timestamp() string {
	return s.m.now().UTC().Format(queryparse.DateTimeLayout)
}
