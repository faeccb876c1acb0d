package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	tbhttp "github.com/tribunal-dev/tribunal/internal/adapter/http"
	tbnats "github.com/tribunal-dev/tribunal/internal/adapter/nats"
	"github.com/tribunal-dev/tribunal/internal/adapter/natskv"
	tbotel "github.com/tribunal-dev/tribunal/internal/adapter/otel"
	"github.com/tribunal-dev/tribunal/internal/adapter/postgres"
	"github.com/tribunal-dev/tribunal/internal/adapter/ristretto"
	_ "github.com/tribunal-dev/tribunal/internal/adapter/script" // register the script backend
	"github.com/tribunal-dev/tribunal/internal/adapter/tiered"
	"github.com/tribunal-dev/tribunal/internal/config"
	"github.com/tribunal-dev/tribunal/internal/logger"
	"github.com/tribunal-dev/tribunal/internal/port/cache"
	"github.com/tribunal-dev/tribunal/internal/port/messagequeue"
	"github.com/tribunal-dev/tribunal/internal/port/resultstore"
	"github.com/tribunal-dev/tribunal/internal/service"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", config.DefaultConfigFile, "path to YAML configuration")
		inputsPath = flag.String("inputs", "", "path to YAML file with run inputs")
		mode       = flag.String("mode", "", "scheduling mode: sequential or staged (default from config)")
		serve      = flag.Bool("serve", false, "run as an HTTP service instead of one-shot")
	)
	flag.Parse()

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	slog.SetDefault(logger.New(cfg.Logging))

	ctx := context.Background()

	shutdownTelemetry, err := tbotel.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	// --- Optional collaborators: connection failures degrade to disabled ---

	var queue *tbnats.Queue
	if cfg.NATS.URL != "" {
		queue, err = tbnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			slog.Warn("event bus unavailable, notifications disabled", "url", cfg.NATS.URL, "error", err)
			queue = nil
		} else {
			defer func() { _ = queue.Drain() }()
		}
	}

	var store resultstore.Store
	if cfg.Postgres.DSN != "" {
		pool, perr := postgres.NewPool(ctx, cfg.Postgres)
		if perr != nil {
			slog.Warn("durable store unavailable, persistence disabled", "error", perr)
		} else if merr := postgres.RunMigrations(ctx, cfg.Postgres.DSN); merr != nil {
			slog.Warn("durable store migrations failed, persistence disabled", "error", merr)
			pool.Close()
		} else {
			defer pool.Close()
			store = postgres.NewStore(pool)
			slog.Info("durable store connected")
		}
	}

	memo := buildMemoizer(ctx, cfg.Cache, queue)

	// --- Roster and runner ---

	roster, err := service.LoadRoster(cfg.Agents)
	if err != nil {
		return fmt.Errorf("roster: %w", err)
	}
	for _, le := range roster.Errors {
		slog.Warn("roster entry unavailable", "agent", le.Name, "backend", le.Backend, "error", le.Err)
	}

	metrics, err := tbotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	var q messagequeue.Queue
	if queue != nil {
		q = queue
	}
	runner := service.NewRunner(roster, memo, q, store, metrics, cfg.Orchestrator)

	if *serve {
		return serveHTTP(cfg, runner, queue, store != nil)
	}
	return runOnce(ctx, cfg, runner, *inputsPath, *mode)
}

// buildMemoizer assembles the memoization cache: ristretto L1, with a NATS KV
// L2 tier when both the bus and a bucket are configured. Any setup failure
// degrades to a smaller cache or none at all.
func buildMemoizer(ctx context.Context, cfg config.Cache, queue *tbnats.Queue) *service.Memoizer {
	if !cfg.Enabled {
		return nil
	}

	l1, err := ristretto.New(cfg.L1MaxSizeMB << 20)
	if err != nil {
		slog.Warn("cache unavailable, memoization disabled", "error", err)
		return nil
	}

	var c cache.Cache = l1
	if queue != nil && cfg.L2Bucket != "" {
		kv, err := queue.KeyValue(ctx, cfg.L2Bucket, cfg.TTL)
		if err != nil {
			slog.Warn("L2 cache unavailable, using L1 only", "bucket", cfg.L2Bucket, "error", err)
		} else {
			c = tiered.New(l1, natskv.New(kv), cfg.L1Expire)
		}
	}

	return service.NewMemoizer(c, cfg.TTL)
}

// runOnce executes a single orchestration run and writes the summary artifact.
func runOnce(ctx context.Context, cfg *config.Config, runner *service.Runner, inputsPath, modeFlag string) error {
	inputs := map[string]any{}
	if inputsPath != "" {
		data, err := os.ReadFile(inputsPath) //nolint:gosec // G304: operator-supplied path
		if err != nil {
			return fmt.Errorf("read inputs: %w", err)
		}
		if err := yaml.Unmarshal(data, &inputs); err != nil {
			return fmt.Errorf("parse inputs: %w", err)
		}
	}

	modeStr := modeFlag
	if modeStr == "" {
		modeStr = cfg.Orchestrator.Mode
	}
	mode, err := service.ParseMode(modeStr)
	if err != nil {
		return err
	}

	report, err := runner.Run(ctx, inputs, mode)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	summaryPath, err := report.WriteArtifacts(cfg.Orchestrator.RunsDir)
	if err != nil {
		slog.Warn("write run artifacts failed", "session_id", report.SessionID, "error", err)
	} else {
		slog.Info("summary written", "path", summaryPath)
	}

	fmt.Println(report.Render())
	return nil
}

// serveHTTP runs the long-lived HTTP trigger surface with graceful shutdown.
func serveHTTP(cfg *config.Config, runner *service.Runner, queue *tbnats.Queue, storeEnabled bool) error {
	h := &tbhttp.Handlers{
		Runner:       runner,
		RunsDir:      cfg.Orchestrator.RunsDir,
		StoreEnabled: storeEnabled,
	}
	if queue != nil {
		h.QueueConnected = queue.IsConnected
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           tbhttp.NewRouter(h, cfg.Server.CORSOrigin, cfg.Telemetry.Service),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-stop:
		slog.Info("shutting down", "signal", sig.String())
	}

	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}
