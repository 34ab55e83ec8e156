// Command netcored runs the netcore daemon: an Event Manager, a
// Concurrent Trie Store, and an Asynchronous Traceroute Engine, wired
// together with a Prometheus metrics endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/netcore/internal/config"
	"github.com/dantte-lp/netcore/internal/evm"
	"github.com/dantte-lp/netcore/internal/metrics"
	"github.com/dantte-lp/netcore/internal/store"
	"github.com/dantte-lp/netcore/internal/trace"
	appversion "github.com/dantte-lp/netcore/internal/version"
)

// shutdownTimeout bounds how long the metrics server is given to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// storeKeySize, storeBitsPerLevel, and storeLifespan are the defaults for
// the trie store underlying the daemon. Unlike trace, evm and store have
// no dedicated config file section, so these mirror the original C
// implementation's example configuration.
const (
	storeKeySize      = 4
	storeBitsPerLevel = 4
	storeLifespan     = 5 * time.Minute
	evmWorkerCount    = 4
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := rootCmd()
	root.SetArgs(args)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "netcored",
		Short:         "netcore daemon: event manager, trie store, traceroute engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file (INI)")

	cmd.AddCommand(serveCmd(&configPath))
	cmd.AddCommand(versionCmd())

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print netcored build information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(appversion.Full("netcored"))
		},
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the netcored daemon",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return serve(*configPath)
		},
	}
}

func serve(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return err
	}

	if err := config.Validate(cfg); err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("invalid configuration",
			slog.String("error", err.Error()),
		)
		return err
	}

	logger := newLogger(cfg.Log)

	logger.Info("netcored starting",
		slog.String("version", appversion.Version),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	evmCtx := evm.New(ctx, evmWorkerCount, evm.WithLogger(logger))
	defer evmCtx.Close()

	st := store.New(ctx, storeKeySize, storeBitsPerLevel, storeLifespan, store.WithLogger(logger))
	defer st.Terminate()

	tr, err := trace.New(ctx, cfg.Trace, trace.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("start trace engine: %w", err)
	}
	defer tr.Close()

	metricsSrv := newMetricsServer(cfg.Metrics, reg)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(gCtx, metricsSrv, cfg.Metrics.Addr)
	})

	g.Go(func() error {
		return pollCollector(gCtx, evmCtx, st, tr, collector)
	})

	g.Go(func() error {
		<-gCtx.Done()
		return shutdown(metricsSrv)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("netcored exited with error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("netcored stopped")
	return nil
}

// pollCollector periodically copies point-in-time snapshots from evm,
// store, and trace into the metrics collector's gauges.
func pollCollector(ctx context.Context, evmCtx *evm.Context, st *store.Store, tr *trace.Context, collector *metrics.Collector) error {
	const interval = 5 * time.Second

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			evmStats := evmCtx.Snapshot()
			inFlight := evmStats.SessionsStarted - evmStats.SessionsCancelled - evmStats.SessionsDispatched
			collector.SessionsActive.Set(float64(inFlight))

			storeStats := st.Snapshot()
			live := storeStats.Inserted - storeStats.Deleted
			collector.NodesActive.WithLabelValues("default").Set(float64(live))

			collector.TracesActive.Set(float64(tr.ActiveCount()))
		}
	}
}

// listenAndServe listens on addr and serves until ctx is cancelled or the
// server is shut down.
func listenAndServe(ctx context.Context, srv *http.Server, addr string) error {
	lc := net.ListenConfig{}

	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

func shutdown(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}

// newMetricsServer creates an HTTP server for the Prometheus metrics endpoint.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// loadConfig loads configuration from a file path or returns defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.Default(), nil
}

// newLogger creates a structured logger in the configured format.
func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.Level)}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
