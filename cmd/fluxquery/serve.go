package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/fluxquery/internal/api"
	"github.com/nerrad567/fluxquery/internal/infrastructure/config"
	"github.com/nerrad567/fluxquery/internal/infrastructure/logging"
	"github.com/nerrad567/fluxquery/internal/infrastructure/mqtt"
	"github.com/nerrad567/fluxquery/internal/query"
	"github.com/nerrad567/fluxquery/internal/relay"
	"github.com/nerrad567/fluxquery/internal/snapshot"
)

type relayOptions struct {
	file     string
	interval int
	listen   bool
}

func newRelayCmd(g *globalOptions) *cobra.Command {
	opts := &relayOptions{interval: -1}

	cmd := &cobra.Command{
		Use:   "relay [flux | -]",
		Short: "Publish query records to MQTT",
		Long: `Run a Flux query and publish every record as JSON to MQTT.

Records go to {relay.topic_prefix}/records/{table} and a run summary to
{relay.topic_prefix}/run/status. The query defaults to relay.query.
With --interval the query repeats until interrupted. With --listen the
relay also answers on-demand requests sent to {relay.topic_prefix}/request.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if len(args) > 0 || opts.file != "" {
				q, err := readFlux(args, opts.file, cmd.InOrStdin())
				if err != nil {
					return err
				}
				cfg.Relay.Query = q
			}
			if opts.interval >= 0 {
				cfg.Relay.Interval = opts.interval
			}
			cfg.MQTT.Enabled = true
			cfg.Relay.Enabled = true
			if err := cfg.Validate(); err != nil {
				return err
			}

			log := logging.New(cfg.Logging, version)
			return runRelay(cmd.Context(), cfg, log, opts.listen)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "Read the Flux query from a file")
	cmd.Flags().IntVar(&opts.interval, "interval", -1, "Seconds between runs, 0 runs once (default relay.interval)")
	cmd.Flags().BoolVar(&opts.listen, "listen", false, "Answer on-demand query requests until interrupted")
	return cmd
}

// runRelay connects the query and MQTT clients and runs the relay until ctx
// is done, or once when the interval is zero and listen is off.
func runRelay(ctx context.Context, cfg *config.Config, log *logging.Logger, listen bool) error {
	client, err := query.Connect(ctx, cfg.InfluxDB, cfg.Query)
	if err != nil {
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	defer client.Close()
	client.SetLogger(log)

	mqttClient, svc, err := startRelay(ctx, cfg, client, log)
	if err != nil {
		return err
	}
	defer closeMQTT(mqttClient, log)

	if err := svc.Run(ctx); err != nil {
		return err
	}
	if listen {
		<-ctx.Done()
	}
	return nil
}

// startRelay connects MQTT and builds the relay service. When listening is
// possible the service is subscribed to its request topic.
func startRelay(ctx context.Context, cfg *config.Config, q relay.Querier, log *logging.Logger) (*mqtt.Client, *relay.Service, error) {
	topics := mqtt.NewTopics(cfg.Relay.TopicPrefix)
	mqttClient, err := mqtt.Connect(ctx, cfg.MQTT, topics)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	mqttClient.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	svc := relay.New(q, mqttClient, cfg.Relay, mqttClient.QoS())
	svc.SetLogger(log)
	if err := svc.Listen(mqttClient); err != nil {
		closeMQTT(mqttClient, log)
		return nil, nil, fmt.Errorf("subscribing to relay requests: %w", err)
	}
	return mqttClient, svc, nil
}

func closeMQTT(c *mqtt.Client, log *logging.Logger) {
	log.Info("disconnecting from MQTT")
	if err := c.Close(); err != nil {
		log.Error("error closing MQTT", "error", err)
	}
}

func newServeCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway and, when enabled, the MQTT relay",
		Long: `Run the HTTP gateway until interrupted.

The gateway exposes /api/v1/query, /api/v1/query/raw, /api/v1/snapshots
(when database.enabled), the WebSocket record stream at websocket.path,
/api/v1/health and Prometheus metrics on /metrics. With relay.enabled the
MQTT relay runs alongside it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, logging.New(cfg.Logging, version))
		},
	}
}

// runServe is the long-running service. It returns nil on clean shutdown.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - cfg: Loaded configuration
//   - log: Service logger
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func runServe(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	log.Info("starting fluxquery",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Query client. The gateway starts even when InfluxDB is down so
	// /health can report it.
	client, err := newQueryClient(cfg, log)
	if err != nil {
		return err
	}
	defer client.Close()
	client.SetMetrics(query.NewMetrics(reg))
	if pingErr := client.Ping(ctx); pingErr != nil {
		log.Warn("InfluxDB not reachable at startup", "url", cfg.InfluxDB.URL, "error", pingErr)
	} else {
		log.Info("InfluxDB reachable", "url", cfg.InfluxDB.URL)
	}

	deps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   log,
		Query:    client,
		Registry: reg,
		Version:  version,
	}

	// Snapshot store (optional)
	if cfg.Database.Enabled {
		db, err := openSnapshotDBContext(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		deps.Snapshots = snapshot.NewSQLiteRepository(db.DB)
		deps.DB = db.DB
		log.Info("snapshot store ready", "path", db.Path())
	}

	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	group, gctx := errgroup.WithContext(ctx)

	if cfg.Relay.Enabled {
		mqttClient, svc, err := startRelay(gctx, cfg, client, log)
		if err != nil {
			return err
		}
		defer closeMQTT(mqttClient, log)

		group.Go(func() error {
			if err := svc.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				// A single-run relay failing is logged; the gateway keeps serving.
				log.Warn("relay run failed", "error", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		<-gctx.Done()
		return nil
	})

	log.Info("fluxquery running", "address", server.Addr().String())
	err = group.Wait()
	log.Info("shutdown signal received, stopping")
	return err
}
