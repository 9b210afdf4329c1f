package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zahash/mona/internal/migrate"
)

func newMigrateCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				db, dialect, err := e.open(cmd.Context())
				if err != nil {
					return err
				}
				applied, err := migrate.NewManager(db, dialect).Up(cmd.Context())
				if err != nil {
					return err
				}
				for _, v := range applied {
					fmt.Fprintf(cmd.OutOrStdout(), "applied %d\n", v)
				}
				if len(applied) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "up to date")
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				db, dialect, err := e.open(cmd.Context())
				if err != nil {
					return err
				}
				v, err := migrate.NewManager(db, dialect).Down(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d\n", v)
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether they are applied",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				db, dialect, err := e.open(cmd.Context())
				if err != nil {
					return err
				}
				statuses, err := migrate.NewManager(db, dialect).Status(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "VERSION\tSTATE\tAPPLIED AT\tSOURCE")
				for _, s := range statuses {
					state, at := "pending", "-"
					if s.Applied {
						state, at = "applied", s.AppliedAt.UTC().Format("2006-01-02 15:04:05")
					}
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", s.Version, state, at, s.Path)
				}
				return tw.Flush()
			},
		},
	)
	return cmd
}

func newSeedCmd(e *env) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed the permission catalog and apply pending seed files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, dialect, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			if dir == "" {
				dir = e.cfg.SeedsDir
			}
			mgr := migrate.NewManager(db, dialect, migrate.WithSeedsDir(dir))
			if err := mgr.SeedCatalog(cmd.Context()); err != nil {
				return fmt.Errorf("seed catalog: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "catalog seeded")
			if dir == "" {
				return nil
			}
			applied, err := mgr.Seed(cmd.Context())
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "seeded %s\n", name)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "directory of *.sql seed files (defaults to seeds_dir)")
	return cmd
}
