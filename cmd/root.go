package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/parthshah1/flow-harness/client"
	"github.com/parthshah1/flow-harness/config"
	"github.com/parthshah1/flow-harness/deploy"
	"github.com/parthshah1/flow-harness/deploycache"
	"github.com/parthshah1/flow-harness/metrics"
	"github.com/parthshah1/flow-harness/records"
)

var (
	cfg           *config.Config
	registry      *prometheus.Registry
	metricsServer *http.Server
)

// NewApp creates a new CLI app
func NewApp() *cli.App {
	app := &cli.App{
		Name:  "flow-harness",
		Usage: "Deploy the flow contract suite once per process and check the subgraph indexing it",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "rpc",
				Usage:   "JSON-RPC URL of the chain (env: FLOW_RPC)",
				EnvVars: []string{"FLOW_RPC"},
			},
			&cli.StringFlag{
				Name:    "private-key",
				Usage:   "Hex private key of the deployer (env: FLOW_PRIVATE_KEY)",
				EnvVars: []string{"FLOW_PRIVATE_KEY"},
			},
			&cli.Int64Flag{
				Name:    "wallet-index",
				Usage:   "Index of the local dev account to deploy from (env: FLOW_WALLET_INDEX)",
				EnvVars: []string{"FLOW_WALLET_INDEX"},
			},
			&cli.StringFlag{
				Name:    "artifacts",
				Usage:   "Directory holding compiled artifacts and meta documents (env: FLOW_ARTIFACTS_DIR)",
				EnvVars: []string{"FLOW_ARTIFACTS_DIR"},
			},
			&cli.StringFlag{
				Name:    "workspace",
				Usage:   "Workspace directory for deployment records (env: FLOW_WORKSPACE)",
				EnvVars: []string{"FLOW_WORKSPACE"},
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Postgres URL for deployment records (env: FLOW_DATABASE_URL)",
				EnvVars: []string{"FLOW_DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "Serve Prometheus metrics on this address, e.g. :9102 (env: FLOW_METRICS_ADDR)",
				EnvVars: []string{"FLOW_METRICS_ADDR"},
			},
			&cli.BoolFlag{
				Name:    "antithesis",
				Usage:   "Emit Antithesis assertions (env: ANTITHESIS)",
				EnvVars: []string{"ANTITHESIS"},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Verbose output (env: VERBOSE)",
				EnvVars: []string{"VERBOSE"},
			},
		},
		Before: func(c *cli.Context) error {
			cfg = config.Load()

			if c.IsSet("rpc") {
				cfg.RPC = c.String("rpc")
			}
			if c.IsSet("private-key") {
				cfg.PrivateKey = c.String("private-key")
			}
			if c.IsSet("wallet-index") {
				cfg.WalletIndex = c.Int64("wallet-index")
			}
			if c.IsSet("artifacts") {
				cfg.ArtifactsDir = c.String("artifacts")
			}
			if c.IsSet("workspace") {
				cfg.Workspace = c.String("workspace")
			}
			if c.IsSet("database-url") {
				cfg.DatabaseURL = c.String("database-url")
			}
			if c.IsSet("metrics-addr") {
				cfg.MetricsAddr = c.String("metrics-addr")
			}
			if c.IsSet("antithesis") {
				cfg.Antithesis = c.Bool("antithesis")
			}
			if c.IsSet("verbose") {
				cfg.Verbose = c.Bool("verbose")
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			setupLogging(cfg.Verbose)
			config.SetAntithesisMode(cfg.Antithesis)
			if config.IsAntithesisEnabled() {
				log.Info("Antithesis assertions enabled")
			}

			registry = prometheus.NewRegistry()
			registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			if cfg.MetricsAddr != "" {
				startMetricsServer(cfg.MetricsAddr)
			}
			return nil
		},
		After: func(c *cli.Context) error {
			if metricsServer != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return metricsServer.Shutdown(ctx)
			}
			return nil
		},
		Commands: []*cli.Command{
			DeployCmd,
			ScenarioCmd,
			SubgraphCmd,
			RecordsCmd,
		},
	}
	return app
}

func Execute() {
	if err := NewApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging(verbose bool) {
	lvl := log.LevelInfo
	if verbose {
		lvl = log.LevelDebug
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, lvl, true)))
}

func startMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	metricsServer = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("Serving metrics", "addr", addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server stopped", "err", err)
		}
	}()
}

// session bundles the connections a deploying command needs. One session
// owns one cache, so every singleton is deployed at most once per process.
type session struct {
	client   *client.Client
	records  records.Store
	deployer *deploy.Deployer
}

func openSession(ctx context.Context) (*session, error) {
	cl, err := client.Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := records.Open(ctx, cfg)
	if err != nil {
		cl.Close()
		return nil, fmt.Errorf("failed to open deployment records: %w", err)
	}

	cache := deploycache.New(deploycache.WithMetrics(metrics.NewCacheMetrics(registry)))
	d := deploy.New(cl, cfg, deploy.WithCache(cache), deploy.WithRecords(store))

	log.Debug("Session opened", "rpc", cfg.RPC, "deployer", cl.Address(), "chain", cl.ChainID())
	return &session{client: cl, records: store, deployer: d}, nil
}

func (s *session) Close() {
	if err := s.records.Close(); err != nil {
		log.Warn("Failed to close deployment records", "err", err)
	}
	s.client.Close()
}
