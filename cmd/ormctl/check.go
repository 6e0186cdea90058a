package main

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"resource-orm/internal/introspection"
)

var errCheckFailed = errors.New("manifest does not match the database")

func newCheckCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the manifest against the database",
		Long: `Parse the resource manifest and confirm that every table and column it
references exists in the database. Exits non-zero when anything is missing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if offline {
				s, err := loadManifest(cmd)
				if err != nil {
					return err
				}
				printManifest(cmd, s)
				return nil
			}

			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			printManifest(cmd, s)

			problems, err := introspection.VerifyResources(cmd.Context(), s.conn.Executor(), s.conn.Dialect, s.manifest.Registry)
			if err != nil {
				return err
			}
			return printProblems(cmd, s, problems)
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "Only parse the manifest; do not connect to the database")
	return cmd
}

func printManifest(cmd *cobra.Command, s *session) {
	out := cmd.OutOrStdout()
	fingerprint := s.manifest.Fingerprint
	if len(fingerprint) > 12 {
		fingerprint = fingerprint[:12]
	}
	fmt.Fprintf(out, "manifest %s: %d resources (%s)\n",
		s.cfg.ORM.ManifestFile, len(s.manifest.Registry.Names()), fingerprint)
}

func printProblems(cmd *cobra.Command, s *session, problems []introspection.Problem) error {
	out := cmd.OutOrStdout()
	ok := color.New(color.FgGreen)
	bad := color.New(color.FgRed, color.Bold)

	byResource := make(map[string][]introspection.Problem)
	for _, p := range problems {
		byResource[p.Resource] = append(byResource[p.Resource], p)
	}
	for _, def := range s.manifest.Registry.Definitions() {
		found := byResource[def.Name]
		if len(found) == 0 {
			ok.Fprint(out, "  ok   ")
			fmt.Fprintf(out, "%s (%s)\n", def.Name, def.Table)
			continue
		}
		for _, p := range found {
			bad.Fprint(out, "  FAIL ")
			fmt.Fprintln(out, p.String())
		}
	}

	if len(problems) > 0 {
		fmt.Fprintf(out, "%d problem(s) found\n", len(problems))
		return errCheckFailed
	}
	ok.Fprintln(out, "all resources match the database")
	return nil
}
