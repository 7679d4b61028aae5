// Command sqlengine starts the query-processing layer described in
// spec.md: the core-pinned scheduler, the transactional KV store, the
// request orchestrator, and the ambient health/metrics surface a caller
// (or an operator's readiness probe) polls while requests are served.
//
// The SQL compiler that turns statement text into the engine.Plan this
// binary submits is an external collaborator (spec §1 "Explicitly out
// of scope") - this command boots the runtime and exposes it through
// pkg/transport's health surface; wiring an actual transport service on
// top is left to whatever carries the compiled-plan RPC contract.
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/project-tsurugi/sqlengine/pkg/config"
	"github.com/project-tsurugi/sqlengine/pkg/engine"
	"github.com/project-tsurugi/sqlengine/pkg/kv/bbolt"
	"github.com/project-tsurugi/sqlengine/pkg/log"
	"github.com/project-tsurugi/sqlengine/pkg/metrics"
	"github.com/project-tsurugi/sqlengine/pkg/scheduler"
	"github.com/project-tsurugi/sqlengine/pkg/trace"
	"github.com/project-tsurugi/sqlengine/pkg/transport"
)

var (
	// Version information (set via ldflags during build).
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sqlengine",
	Short: "sqlengine - the query-processing layer of a distributed transactional database",
	Long: `sqlengine compiles a relational plan into a graph of operators, schedules
their execution across a pool of core-pinned worker threads, commits or
aborts through a pluggable key-value store, and streams results back
through a channel abstraction.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"sqlengine version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML configuration file (spec §6)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configValidateCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect sqlengine configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file against the §6 configuration surface",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		cfg := config.Default()
		if cfgPath != "" {
			loaded, err := config.LoadFile(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg = loaded
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		fmt.Printf("config ok: %d worker(s), %d partitions/exchange, core_affinity=%v\n",
			cfg.ThreadCount, cfg.DefaultPartitions, cfg.CoreAffinity)
		return nil
	},
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func init() {
	serveCmd.Flags().String("data-dir", "./sqlengine-data", "Directory the embedded bbolt store keeps its file in")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address the /metrics, /health, /ready and /live endpoints listen on")
	serveCmd.Flags().String("health-addr", "127.0.0.1:26439", "Address the gRPC health-check server listens on")
	serveCmd.Flags().Bool("enable-pprof", false, "Expose net/http/pprof profiling endpoints on metrics-addr")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the engine's scheduler, storage and health surface",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		healthAddr, _ := cmd.Flags().GetString("health-addr")
		pprofEnabled, _ := cmd.Flags().GetBool("enable-pprof")

		cfg := config.Default()
		if cfgPath != "" {
			loaded, err := config.LoadFile(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg = loaded
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		log.Logger.Info().
			Int("thread_count", cfg.ThreadCount).
			Int("default_partitions", cfg.DefaultPartitions).
			Str("data_dir", dataDir).
			Msg("starting sqlengine")

		store, err := bbolt.Open(dataDir)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()
		metrics.RegisterComponent("kv_store", true, "opened")

		pin := true
		sched := scheduler.New(scheduler.Config{
			Workers:      cfg.ThreadCount,
			PinOSThread:  &pin,
			CoreAffinity: cfg.CoreAffinity,
			InitialCore:  cfg.InitialCore,
		})
		sched.Start()
		defer sched.Stop()
		metrics.RegisterComponent("scheduler", true, fmt.Sprintf("%d workers", sched.NumWorkers()))

		broker := trace.NewBroker(cfg.TraceExternalLog)
		broker.Start()
		defer broker.Stop()

		eng := engine.New(engine.Config{
			Store:     store,
			Scheduler: sched,
			Trace:     broker,
		})

		collector := metrics.NewCollector(eng, 15*time.Second)
		collector.Start()
		defer collector.Stop()

		healthSrv := transport.NewHealthServer()
		go func() {
			if err := healthSrv.Serve(healthAddr); err != nil {
				log.Logger.Error().Err(err).Msg("health server stopped")
			}
		}()
		defer healthSrv.Stop()
		healthSrv.SetServingStatus("", true)
		metrics.RegisterComponent("transport", true, "ready")

		metrics.SetVersion(Version)
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())
		if pprofEnabled {
			mux.Handle("/debug/pprof/", http.DefaultServeMux)
		}
		httpSrv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()

		fmt.Printf("sqlengine serving\n")
		fmt.Printf("  metrics: http://%s/metrics\n", metricsAddr)
		fmt.Printf("  health:  http://%s/health\n", metricsAddr)
		fmt.Printf("  grpc health-check: %s\n", healthAddr)
		_ = eng // the orchestrator is live; requests arrive through a transport this binary does not itself define (spec §1)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		log.Logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		return nil
	},
}
