package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/nerrad567/fluxquery/internal/infrastructure/influxdb"
	"github.com/nerrad567/fluxquery/internal/snapshot"
)

// maxLineSize bounds a single line protocol record.
const maxLineSize = 1 << 20

type writeOptions struct {
	file         string
	bucket       string
	fromSnapshot string
	batch        int
}

func newWriteCmd(g *globalOptions) *cobra.Command {
	opts := &writeOptions{}

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write line protocol or a stored snapshot to InfluxDB",
		Long: `Write points to the configured bucket.

Line protocol is read from --file or stdin; blank lines and lines starting
with # are skipped. --from-snapshot writes the records of a stored snapshot
back, rebuilding each point from _measurement, _field, _value and the group
key columns.

Examples:
  fluxquery write --bucket telemetry < points.lp
  fluxquery write --from-snapshot 3f2c... --bucket restore`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWrite(cmd, g, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "Read line protocol from a file instead of stdin")
	cmd.Flags().StringVarP(&opts.bucket, "bucket", "b", "", "Target bucket (overrides config)")
	cmd.Flags().StringVar(&opts.fromSnapshot, "from-snapshot", "", "Write the records of a stored snapshot")
	cmd.Flags().IntVar(&opts.batch, "batch", 0, "Lines per write request (default influxdb.batch_size)")
	return cmd
}

func runWrite(cmd *cobra.Command, g *globalOptions, opts *writeOptions) error {
	if opts.file != "" && opts.fromSnapshot != "" {
		return fmt.Errorf("--file and --from-snapshot cannot be combined")
	}

	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	if opts.bucket != "" {
		cfg.InfluxDB.Bucket = opts.bucket
	}
	batch := opts.batch
	if batch <= 0 {
		batch = cfg.InfluxDB.BatchSize
	}
	if batch <= 0 {
		batch = 100
	}
	log := newCLILogger(cfg, cmd.ErrOrStderr())

	client, err := influxdb.Connect(cmd.Context(), cfg.InfluxDB)
	if err != nil {
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	defer client.Close()

	// Points from snapshots go through the batching API, which reports
	// rejected batches asynchronously.
	var (
		errMu    sync.Mutex
		writeErr error
	)
	client.SetOnError(func(err error) {
		log.Error("write failed", "error", err)
		errMu.Lock()
		defer errMu.Unlock()
		if writeErr == nil {
			writeErr = err
		}
	})

	if opts.fromSnapshot != "" {
		db, err := openSnapshotDB(cmd, cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		tables, err := snapshot.NewSQLiteRepository(db.DB).Tables(cmd.Context(), opts.fromSnapshot)
		if err != nil {
			return err
		}
		n, err := client.WriteTables(tables)
		if err != nil {
			return fmt.Errorf("after %d points: %w", n, err)
		}
		client.Flush()
		errMu.Lock()
		err = writeErr
		errMu.Unlock()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d points from snapshot %s\n", n, opts.fromSnapshot)
		return nil
	}

	var in io.Reader = cmd.InOrStdin()
	if opts.file != "" {
		f, err := os.Open(opts.file)
		if err != nil {
			return fmt.Errorf("opening line protocol file: %w", err)
		}
		defer f.Close()
		in = f
	}

	n, err := writeLines(cmd, client, in, batch)
	if err != nil {
		return fmt.Errorf("after %d lines: %w", n, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d lines\n", n)
	return nil
}

// writeLines sends line protocol from r in batches and returns how many
// lines were accepted.
func writeLines(cmd *cobra.Command, client *influxdb.Client, r io.Reader, batch int) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	written := 0
	pending := make([]string, 0, batch)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := client.WriteLines(cmd.Context(), pending...); err != nil {
			return err
		}
		written += len(pending)
		pending = pending[:0]
		return nil
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		pending = append(pending, line)
		if len(pending) == batch {
			if err := flush(); err != nil {
				return written, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return written, fmt.Errorf("reading line protocol: %w", err)
	}
	return written, flush()
}
