// fluxquery runs Flux queries against InfluxDB v2 and decodes the annotated
// CSV responses.
//
// Besides one-shot queries it can store results as snapshots in SQLite,
// write points back to InfluxDB, relay records to MQTT and serve an HTTP
// gateway with a WebSocket record stream.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nerrad567/fluxquery/internal/infrastructure/config"
	"github.com/nerrad567/fluxquery/internal/infrastructure/logging"
	"github.com/nerrad567/fluxquery/internal/query"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path, used when it exists.
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on Ctrl+C and SIGTERM so long-running commands shut down cleanly
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	url        string
	token      string
	org        string
	logLevel   string
}

// newRootCmd builds the command tree. Commands are created per call so tests
// can execute them independently.
func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "fluxquery",
		Short: "Query InfluxDB with Flux and decode annotated CSV",
		Long: `fluxquery runs Flux queries against the InfluxDB v2 query API and decodes
the annotated CSV responses into tables and records.

Configuration is read from --config, $FLUXQUERY_CONFIG or configs/config.yaml
and can be overridden by FLUXQUERY_* environment variables and flags.

Examples:
  fluxquery query 'from(bucket:"telemetry") |> range(start: -5m)'
  fluxquery query --stream --file cpu.flux
  fluxquery raw --lines 'buckets()'
  fluxquery write --file points.lp
  fluxquery serve`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to config.yaml")
	flags.StringVar(&opts.url, "url", "", "InfluxDB URL (overrides config)")
	flags.StringVar(&opts.token, "token", "", "InfluxDB API token (overrides config)")
	flags.StringVar(&opts.org, "org", "", "InfluxDB organisation (overrides config)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(
		newQueryCmd(opts),
		newRawCmd(opts),
		newWriteCmd(opts),
		newPingCmd(opts),
		newSnapshotCmd(opts),
		newRelayCmd(opts),
		newServeCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "fluxquery %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
		},
	}
}

// getConfigPath returns the configuration file path.
// The flag wins, then FLUXQUERY_CONFIG, then the default path if it exists.
// An empty result means built-in defaults only.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("FLUXQUERY_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

// loadConfig loads the configuration and applies flag overrides.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(getConfigPath(o.configPath))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if o.url != "" {
		cfg.InfluxDB.URL = o.url
	}
	if o.token != "" {
		cfg.InfluxDB.Token = o.token
	}
	if o.org != "" {
		cfg.InfluxDB.Org = o.org
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating flags: %w", err)
	}
	return cfg, nil
}

// newCLILogger builds the logger for one-shot commands. Logs go to stderr so
// results on stdout stay machine-readable.
func newCLILogger(cfg *config.Config, w io.Writer) *logging.Logger {
	return logging.NewWithWriter(cfg.Logging, version, w)
}

// newQueryClient creates the query client without contacting the server.
func newQueryClient(cfg *config.Config, log *logging.Logger) (*query.Client, error) {
	client, err := query.New(cfg.InfluxDB, cfg.Query)
	if err != nil {
		if errors.Is(err, query.ErrDisabled) {
			return nil, fmt.Errorf("influxdb is disabled in configuration")
		}
		return nil, err
	}
	client.SetLogger(log)
	return client, nil
}

// readFlux returns the query from args, --file, or stdin when the argument
// is "-".
func readFlux(args []string, file string, stdin io.Reader) (string, error) {
	var src string
	switch {
	case file != "" && len(args) > 0:
		return "", fmt.Errorf("pass the query as an argument or --file, not both")
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading query file: %w", err)
		}
		src = string(data)
	case len(args) == 1 && args[0] == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading query from stdin: %w", err)
		}
		src = string(data)
	case len(args) > 0:
		src = strings.Join(args, " ")
	}

	if strings.TrimSpace(src) == "" {
		return "", fmt.Errorf("a Flux query is required")
	}
	return src, nil
}
