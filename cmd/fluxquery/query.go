package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/nerrad567/fluxquery/internal/flux"
	"github.com/nerrad567/fluxquery/internal/infrastructure/config"
	"github.com/nerrad567/fluxquery/internal/infrastructure/database"
	"github.com/nerrad567/fluxquery/internal/query"
	"github.com/nerrad567/fluxquery/internal/snapshot"
	"github.com/nerrad567/fluxquery/migrations"
)

// Output formats of the query command.
const (
	outputText   = "text"
	outputJSON   = "json"
	outputNDJSON = "ndjson"
)

type queryOptions struct {
	file   string
	output string
	stream bool
	save   string
}

func newQueryCmd(g *globalOptions) *cobra.Command {
	opts := &queryOptions{}

	cmd := &cobra.Command{
		Use:   "query [flux | -]",
		Short: "Run a Flux query and print the decoded tables",
		Long: `Run a Flux query and print the decoded tables.

Output formats:
  text    one aligned block per table (default)
  json    {"tables": [...]} with every record
  ndjson  one JSON object per record, printed while the response is parsed

--stream implies ndjson and never holds the whole response in memory.
--save stores the result as a snapshot in the SQLite database.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, g, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "Read the Flux query from a file")
	cmd.Flags().StringVarP(&opts.output, "output", "o", outputText, "Output format: text, json, ndjson")
	cmd.Flags().BoolVar(&opts.stream, "stream", false, "Print records as they are decoded (ndjson)")
	cmd.Flags().StringVar(&opts.save, "save", "", "Store the result as a snapshot with this name")
	return cmd
}

func runQuery(cmd *cobra.Command, g *globalOptions, opts *queryOptions, args []string) error {
	q, err := readFlux(args, opts.file, cmd.InOrStdin())
	if err != nil {
		return err
	}

	switch opts.output {
	case outputText, outputJSON, outputNDJSON:
	default:
		return fmt.Errorf("unknown output format %q", opts.output)
	}
	if opts.stream && opts.save != "" {
		return fmt.Errorf("--stream and --save cannot be combined")
	}

	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	log := newCLILogger(cfg, cmd.ErrOrStderr())

	client, err := newQueryClient(cfg, log)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := cmd.Context()
	out := bufio.NewWriter(cmd.OutOrStdout())
	defer out.Flush()

	if opts.stream || (opts.output == outputNDJSON && opts.save == "") {
		enc := json.NewEncoder(out)
		return client.QueryStream(ctx, q, flux.ConsumerFuncs{
			Record: func(_ int, _ *flux.Canceller, rec *flux.Record) error {
				return enc.Encode(rec)
			},
		})
	}

	tables, err := client.Query(ctx, q)
	if err != nil {
		return err
	}

	if opts.save != "" {
		snap, err := saveSnapshot(cmd, cfg, opts.save, q, client.Parser().Mode(), tables)
		if err != nil {
			return err
		}
		log.Info("snapshot saved", "id", snap.ID, "tables", snap.TableCount, "records", snap.RecordCount)
	}

	switch opts.output {
	case outputJSON:
		return json.NewEncoder(out).Encode(map[string]any{"tables": tables})
	case outputNDJSON:
		enc := json.NewEncoder(out)
		for _, t := range tables {
			for _, rec := range t.Records {
				if err := enc.Encode(rec); err != nil {
					return err
				}
			}
		}
		return nil
	default:
		return printTables(out, tables)
	}
}

// saveSnapshot opens the snapshot database, migrates it and stores tables.
func saveSnapshot(cmd *cobra.Command, cfg *config.Config, name, q string, mode flux.ResponseMode, tables []*flux.Table) (*snapshot.Snapshot, error) {
	db, err := openSnapshotDB(cmd, cfg)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	return snapshot.NewSQLiteRepository(db.DB).Save(cmd.Context(), name, q, mode, tables)
}

// openSnapshotDB opens and migrates the snapshot database. CLI commands
// that name snapshots use it regardless of database.enabled.
func openSnapshotDB(cmd *cobra.Command, cfg *config.Config) (*database.DB, error) {
	return openSnapshotDBContext(cmd.Context(), cfg)
}

func openSnapshotDBContext(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	dbCfg := cfg.Database
	dbCfg.Enabled = true

	db, err := database.Open(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot database: %w", err)
	}
	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// printTables writes each table as an aligned block.
func printTables(w io.Writer, tables []*flux.Table) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	for i, t := range tables {
		if i > 0 {
			fmt.Fprintln(tw)
		}
		fmt.Fprintf(tw, "Table %d (id %d, block %d)", t.Index, t.ID, t.Block)
		if key := t.GroupKey(); len(key) > 0 && len(t.Records) > 0 {
			parts := make([]string, 0, len(key))
			for _, col := range key {
				parts = append(parts, fmt.Sprintf("%s=%s", col.Name, formatCell(t.Records[0].ValueByIndex(col.Index))))
			}
			fmt.Fprintf(tw, ": %s", strings.Join(parts, " "))
		}
		fmt.Fprintln(tw)

		fmt.Fprintln(tw, strings.Join(t.ColumnNames(), "\t"))
		for _, rec := range t.Records {
			cells := make([]string, rec.Len())
			for j := range cells {
				cells[j] = formatCell(rec.ValueByIndex(j))
			}
			fmt.Fprintln(tw, strings.Join(cells, "\t"))
		}
	}
	return tw.Flush()
}

func formatCell(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

type rawOptions struct {
	file          string
	lines         bool
	noAnnotations bool
	noHeader      bool
}

func newRawCmd(g *globalOptions) *cobra.Command {
	opts := &rawOptions{}

	cmd := &cobra.Command{
		Use:   "raw [flux | -]",
		Short: "Run a Flux query and print the CSV response unparsed",
		Long: `Run a Flux query and print the CSV response unparsed.

The default dialect requests the datatype, group and default annotations.
--lines streams the response line by line instead of buffering it, which
avoids the query.max_raw_size cap.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRaw(cmd, g, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "Read the Flux query from a file")
	cmd.Flags().BoolVar(&opts.lines, "lines", false, "Stream the response line by line")
	cmd.Flags().BoolVar(&opts.noAnnotations, "no-annotations", false, "Request a response without annotation rows")
	cmd.Flags().BoolVar(&opts.noHeader, "no-header", false, "Request a response without the header row")
	return cmd
}

func runRaw(cmd *cobra.Command, g *globalOptions, opts *rawOptions, args []string) error {
	q, err := readFlux(args, opts.file, cmd.InOrStdin())
	if err != nil {
		return err
	}

	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	client, err := newQueryClient(cfg, newCLILogger(cfg, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer client.Close()

	dialect := query.DefaultDialect()
	if opts.noAnnotations {
		dialect.Annotations = []string{}
	}
	if opts.noHeader {
		dialect.Header = false
	}

	out := cmd.OutOrStdout()
	if opts.lines {
		return client.QueryLines(cmd.Context(), q, dialect, func(line string) error {
			_, err := fmt.Fprintln(out, line)
			return err
		})
	}

	raw, err := client.QueryRaw(cmd.Context(), q, dialect)
	if err != nil {
		return err
	}
	_, err = io.WriteString(out, raw)
	return err
}
