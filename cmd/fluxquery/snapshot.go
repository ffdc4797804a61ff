package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/nerrad567/fluxquery/internal/snapshot"
)

func newSnapshotCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage stored query results",
		Long: `Manage query results stored with "fluxquery query --save" or the HTTP API.

Snapshots live in the SQLite database at database.path.`,
	}
	cmd.AddCommand(
		newSnapshotListCmd(g),
		newSnapshotShowCmd(g),
		newSnapshotDeleteCmd(g),
		newSnapshotPruneCmd(g),
	)
	return cmd
}

// withRepository opens the snapshot store for the duration of fn.
func withRepository(cmd *cobra.Command, g *globalOptions, fn func(repo snapshot.Repository) error) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	db, err := openSnapshotDB(cmd, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(snapshot.NewSQLiteRepository(db.DB))
}

func newSnapshotListCmd(g *globalOptions) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRepository(cmd, g, func(repo snapshot.Repository) error {
				snaps, err := repo.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if asJSON {
					if snaps == nil {
						snaps = []snapshot.Snapshot{}
					}
					return json.NewEncoder(cmd.OutOrStdout()).Encode(snaps)
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tTABLES\tRECORDS\tCREATED")
				for _, s := range snaps {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", s.ID, s.Name, s.TableCount, s.RecordCount, s.CreatedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 50, "Maximum number of snapshots")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")
	return cmd
}

func newSnapshotShowCmd(g *globalOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print the tables of a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepository(cmd, g, func(repo snapshot.Repository) error {
				snap, err := repo.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				tables, err := repo.Tables(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if asJSON {
					return json.NewEncoder(out).Encode(map[string]any{
						"snapshot": snap,
						"tables":   tables,
					})
				}
				fmt.Fprintf(out, "Snapshot %s %q (%s)\nQuery: %s\n\n", snap.ID, snap.Name, snap.CreatedAt.Format(time.RFC3339), snap.Query)
				return printTables(out, tables)
			})
		},
	}
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")
	return cmd
}

func newSnapshotDeleteCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete snapshots",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepository(cmd, g, func(repo snapshot.Repository) error {
				for _, id := range args {
					if err := repo.Delete(cmd.Context(), id); err != nil {
						return fmt.Errorf("deleting %s: %w", id, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
				}
				return nil
			})
		},
	}
}

func newSnapshotPruneCmd(g *globalOptions) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete snapshots older than --older-than",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			return withRepository(cmd, g, func(repo snapshot.Repository) error {
				n, err := repo.Prune(cmd.Context(), olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pruned %d snapshots\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Age threshold, e.g. 72h")
	return cmd
}
