package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/nexusmutual/forkmigrate/artifacts"
	"github.com/nexusmutual/forkmigrate/chain"
	"github.com/nexusmutual/forkmigrate/config"
	"github.com/nexusmutual/forkmigrate/log"
	"github.com/nexusmutual/forkmigrate/metrics"
	"github.com/nexusmutual/forkmigrate/registry"
	"github.com/nexusmutual/forkmigrate/telemetry"
)

// options are the persistent flags shared by every subcommand.
type options struct {
	configPath   string
	rpcURL       string
	dialect      string
	artifactsDir string
	registryURL  string
	logLevel     string
	metricsAddr  string
	otlpEndpoint string
}

func (o *options) register(root *cobra.Command) {
	f := root.PersistentFlags()
	f.StringVarP(&o.configPath, "config", "c", "", "Path to configuration file (YAML)")
	f.StringVar(&o.rpcURL, "rpc", "", "Forked node JSON-RPC URL")
	f.StringVar(&o.dialect, "dialect", "", "Node dialect (hardhat, anvil)")
	f.StringVar(&o.artifactsDir, "artifacts", "", "Compiled contract artifacts directory")
	f.StringVar(&o.registryURL, "registry", "", "Version-data registry URL")
	f.StringVarP(&o.logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")
	f.StringVar(&o.metricsAddr, "metrics.addr", "", "Serve Prometheus metrics on this address")
	f.StringVar(&o.otlpEndpoint, "otlp.endpoint", "", "OTLP gRPC endpoint for traces")
}

// config resolves the run configuration: defaults, then the config file,
// then .env and the environment, then flags.
func (o *options) config(cmd *cobra.Command) (config.Config, error) {
	cfg := config.DefaultConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	for name, apply := range map[string]func(){
		"rpc":           func() { cfg.RPCURL = o.rpcURL },
		"dialect":       func() { cfg.Dialect = o.dialect },
		"artifacts":     func() { cfg.ArtifactsDir = o.artifactsDir },
		"registry":      func() { cfg.Registry.URL = o.registryURL },
		"log-level":     func() { cfg.LogLevel = o.logLevel },
		"metrics.addr":  func() { cfg.MetricsAddr = o.metricsAddr },
		"otlp.endpoint": func() { cfg.Telemetry.Endpoint = o.otlpEndpoint },
	} {
		if flags.Changed(name) {
			apply()
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	log.SetDefault(log.NewText(cmd.ErrOrStderr(), log.ParseLevel(cfg.LogLevel)))
	return cfg, nil
}

// telemetryConfig tags spans with the name of the chain the node reports.
// Runs that never dial a node pass an empty network.
func telemetryConfig(cfg config.Config, network string) telemetry.Config {
	tc := cfg.Telemetry
	tc.Network = network
	return tc
}

// observe starts the metrics endpoint and the trace exporter when they are
// configured. The returned func stops both.
func observe(ctx context.Context, cfg config.Config, network string) (func(), error) {
	l := log.Default()
	shutdownTraces, err := telemetry.SetupProvider(ctx, telemetryConfig(cfg, network))
	if err != nil {
		return nil, err
	}

	var exporter *metrics.Exporter
	if cfg.MetricsAddr != "" {
		if exporter, err = metrics.Serve(cfg.MetricsAddr); err != nil {
			_ = shutdownTraces(ctx)
			return nil, err
		}
		l.Info("serving metrics", "addr", exporter.Addr())
	}

	return func() {
		// The run context may already be cancelled.
		ctx := context.WithoutCancel(ctx)
		if exporter != nil {
			if err := exporter.Close(ctx); err != nil {
				l.Warn("metrics shutdown", "err", err)
			}
		}
		if err := shutdownTraces(ctx); err != nil {
			l.Warn("trace shutdown", "err", err)
		}
	}, nil
}

// dial connects to the forked node and returns the chain name it reports.
func dial(ctx context.Context, cfg config.Config) (*chain.Client, string, error) {
	dialect, err := chain.ParseDialect(cfg.Dialect)
	if err != nil {
		return nil, "", err
	}
	client, err := chain.Dial(ctx, cfg.RPCURL, dialect,
		chain.WithPollInterval(cfg.PollInterval),
		chain.WithLogger(log.Default().Module("chain")),
	)
	if err != nil {
		return nil, "", errors.Wrapf(err, "dial %s", cfg.RPCURL)
	}
	network, err := client.NetworkName(ctx)
	if err != nil {
		client.Close()
		return nil, "", err
	}
	log.Default().Info("connected", "rpc", cfg.RPCURL, "dialect", dialect, "network", network)
	return client, network, nil
}

func fetchRegistry(ctx context.Context, cfg config.Config) (*registry.Registry, error) {
	return registry.Fetch(ctx, telemetry.HTTPClient(cfg.Registry.Timeout), cfg.Registry.URL, cfg.Registry.Network, registry.NewBackOff())
}

func openArtifacts(cfg config.Config) (*artifacts.Store, error) {
	store, err := artifacts.Open(cfg.ArtifactsDir)
	if err != nil {
		return nil, errors.Wrap(err, "artifacts")
	}
	return store, nil
}
