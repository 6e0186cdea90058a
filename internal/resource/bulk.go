package resource

import (
	"context"
	"time"

	"github.com/spf13/cast"

	"resource-orm/internal/ormerr"
	"resource-orm/internal/planner"
	"resource-orm/internal/queryparse"
	"resource-orm/internal/resultset"
)

// PurgeTrashed hard-deletes, one row at a time with hooks and events, every
// row trashed before the cutoff. It returns the number of rows removed.
func (s *Service) PurgeTrashed(ctx context.Context, before time.Time) (int, error) {
	sd, ok := s.def.SoftDelete()
	if !ok {
		return 0, ormerr.Unexpected("resource %s does not support soft deletes", s.def.Name)
	}
	var removed int
	err := s.track(ctx, "purge_trashed", func(ctx context.Context) error {
		var err error
		removed, err = s.deleteEach(ctx, sd.Field, before, planner.TrashedInclude, true)
		return err
	})
	return removed, err
}

// PurgeTrashedQuietly removes every row trashed before the cutoff in one
// statement. No hooks run and no events are published.
func (s *Service) PurgeTrashedQuietly(ctx context.Context, before time.Time) (int64, error) {
	sd, ok := s.def.SoftDelete()
	if !ok {
		return 0, ormerr.Unexpected("resource %s does not support soft deletes", s.def.Name)
	}
	return s.deleteBefore(ctx, "purge_trashed", sd.Field, before)
}

// Prune deletes, one row at a time, every row whose prune field is older than
// the cutoff. Soft-deletable resources trash the rows; rows already trashed
// are skipped.
func (s *Service) Prune(ctx context.Context, before time.Time) (int, error) {
	p, ok := s.def.Prune()
	if !ok {
		return 0, ormerr.Unexpected("resource %s does not support pruning", s.def.Name)
	}
	var removed int
	err := s.track(ctx, "prune", func(ctx context.Context) error {
		var err error
		removed, err = s.deleteEach(ctx, p.Field, before, planner.TrashedExclude, false)
		return err
	})
	return removed, err
}

// PruneQuietly removes every row older than the cutoff in one statement.
// No hooks run and no events are published.
func (s *Service) PruneQuietly(ctx context.Context, before time.Time) (int64, error) {
	p, ok := s.def.Prune()
	if !ok {
		return 0, ormerr.Unexpected("resource %s does not support pruning", s.def.Name)
	}
	return s.deleteBefore(ctx, "prune", p.Field, before)
}

func (s *Service) deleteEach(ctx context.Context, field string, before time.Time, mode planner.TrashedMode, hard bool) (int, error) {
	query, err := planner.PlanSelectBefore(s.m.dialect, s.def, field, formatCutoff(before))
	if err != nil {
		return 0, err
	}
	rows, err := s.m.Executor(ctx).QueryContext(ctx, query.SQL, query.Args...)
	if err != nil {
		return 0, normalize(err, "unable to select resources")
	}
	candidates, err := resultset.ScanRows(rows)
	if err != nil {
		return 0, normalize(err, "unable to select resources")
	}

	removed := 0
	for _, candidate := range candidates {
		deleted, err := s.delete(ctx, candidate[s.def.PrimaryKey], mode, hard)
		if err != nil {
			return removed, err
		}
		if deleted {
			removed++
		}
	}
	return removed, nil
}

func (s *Service) deleteBefore(ctx context.Context, operation, field string, before time.Time) (int64, error) {
	var removed int64
	err := s.track(ctx, operation+"_quietly", func(ctx context.Context) error {
		query, err := planner.PlanDeleteBefore(s.m.dialect, s.def, field, formatCutoff(before))
		if err != nil {
			return err
		}
		result, err := s.m.Executor(ctx).ExecContext(ctx, query.SQL, query.Args...)
		if err != nil {
			return normalize(err, "unable to delete resources")
		}
		removed, err = result.RowsAffected()
		if err != nil {
			return normalize(err, "unable to delete resources")
		}
		return nil
	})
	return removed, err
}

func formatCutoff(before time.Time) string {
	return before.UTC().Format(queryparse.DateTimeLayout)
}

// ParseCutoff accepts a Unix timestamp, a date, a datetime or a relative
// expression such as "-30 days" and resolves it against now.
func ParseCutoff(value string, now time.Time) (time.Time, error) {
	if secs, err := cast.ToInt64E(value); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := queryparse.RelativeTime(value, now)
	if err != nil {
		return time.Time{}, ormerr.InvalidRequest("invalid cutoff %q", value)
	}
	return t, nil
}
