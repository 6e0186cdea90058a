package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"resource-orm/internal/resource"
)

// bulkOp removes rows older than a cutoff. quiet selects the single-statement
// variant that skips hooks and events.
type bulkOp func(ctx context.Context, svc *resource.Service, before time.Time, quiet bool) (int64, error)

func newPurgeTrashedCmd() *cobra.Command {
	return newBulkCmd(
		"purge-trashed <resource>",
		"Permanently delete rows trashed before a cutoff",
		"purged %d trashed %s row(s) deleted before %s\n",
		func(ctx context.Context, svc *resource.Service, before time.Time, quiet bool) (int64, error) {
			if quiet {
				return svc.PurgeTrashedQuietly(ctx, before)
			}
			n, err := svc.PurgeTrashed(ctx, before)
			return int64(n), err
		},
	)
}

func newPruneCmd() *cobra.Command {
	return newBulkCmd(
		"prune <resource>",
		"Delete rows whose prune field is older than a cutoff",
		"pruned %d %s row(s) older than %s\n",
		func(ctx context.Context, svc *resource.Service, before time.Time, quiet bool) (int64, error) {
			if quiet {
				return svc.PruneQuietly(ctx, before)
			}
			n, err := svc.Prune(ctx, before)
			return int64(n), err
		},
	)
}

func newBulkCmd(use, short, report string, op bulkOp) *cobra.Command {
	var (
		before string
		quiet  bool
	)

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long: short + `.

The cutoff accepts a Unix timestamp, a date ("2024-01-31"), a datetime
("2024-01-31 12:00:00") or a relative expression ("-30 days").
With --quiet the rows are removed in one statement: no hooks run and no
lifecycle events are published.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			manager, err := s.resources(cmd)
			if err != nil {
				return err
			}
			cutoff, err := resource.ParseCutoff(before, manager.Now().UTC())
			if err != nil {
				return err
			}
			svc, err := manager.Resource(args[0])
			if err != nil {
				return err
			}

			removed, err := op(cmd.Context(), svc, cutoff, quiet)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), report, removed, args[0], cutoff.UTC().Format(time.DateTime))
			return nil
		},
	}
	cmd.Flags().StringVar(&before, "before", "", "Cutoff time (required)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Delete in one statement without hooks or events")
	_ = cmd.MarkFlagRequired("before")
	return cmd
}
