package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/fluxquery/internal/infrastructure/influxdb"
	"github.com/nerrad567/fluxquery/internal/query"
)

// pingTimeout bounds each health check of the ping command.
const pingTimeout = 10 * time.Second

func newPingCmd(g *globalOptions) *cobra.Command {
	var checkWrite bool

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check that InfluxDB answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), pingTimeout)
			defer cancel()

			start := time.Now()
			client, err := query.Connect(ctx, cfg.InfluxDB, cfg.Query)
			if err != nil {
				return err
			}
			client.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "query API at %s: ok (%s)\n", cfg.InfluxDB.URL, time.Since(start).Round(time.Millisecond))

			if !checkWrite {
				return nil
			}
			writer, err := influxdb.Connect(ctx, cfg.InfluxDB)
			if err != nil {
				return fmt.Errorf("write API: %w", err)
			}
			defer writer.Close()
			if err := writer.HealthCheck(ctx); err != nil {
				return fmt.Errorf("write API: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "write API for bucket %q: ok\n", cfg.InfluxDB.Bucket)
			return nil
		},
	}

	cmd.Flags().BoolVar(&checkWrite, "write", false, "Also check the write client (requires influxdb.bucket)")
	return cmd
}
