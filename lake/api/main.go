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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/malbeclabs/askql/lake/agent/pkg/chart"
	"github.com/malbeclabs/askql/lake/agent/pkg/history"
	"github.com/malbeclabs/askql/lake/agent/pkg/llm"
	"github.com/malbeclabs/askql/lake/agent/pkg/prompts"
	"github.com/malbeclabs/askql/lake/agent/pkg/runner"
	"github.com/malbeclabs/askql/lake/agent/pkg/sqlextract"
	"github.com/malbeclabs/askql/lake/agent/pkg/workflow"
	"github.com/malbeclabs/askql/lake/api/config"
	"github.com/malbeclabs/askql/lake/api/handlers"
	"github.com/malbeclabs/askql/lake/api/metrics"
	"github.com/malbeclabs/askql/lake/pkg/dataset"
	"github.com/malbeclabs/askql/lake/pkg/sessions"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}
	if cfg.ShowVersion {
		fmt.Printf("version: %s, commit: %s, date: %s\n", version, commit, date)
		return nil
	}

	log := newLogger(cfg.Verbose)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	data, err := dataset.Open(ctx, dataset.Config{
		Logger:  log,
		Driver:  cfg.DatasetDriver,
		DSN:     cfg.DatasetDSN,
		MaxRows: cfg.DatasetMaxRows,
	})
	if err != nil {
		return fmt.Errorf("failed to open dataset store: %w", err)
	}
	defer data.Close()

	store, closeStore, err := newSessionStore(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	providers, err := llm.NewRegistry(llm.RegistryConfig{
		Logger:  log,
		APIKeys: cfg.APIKeys,
		Retries: cfg.ProviderRetries,
		Observer: func(kind llm.Kind, model, method string, duration time.Duration, err error) {
			metrics.ObserveLLMCall(string(kind), method, duration, err)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create provider registry: %w", err)
	}
	defer providers.Close()

	p, err := prompts.LoadPrompts()
	if err != nil {
		return fmt.Errorf("failed to load prompts: %w", err)
	}
	charts, err := chart.NewBridge(chart.Config{Logger: log, Prompts: p})
	if err != nil {
		return fmt.Errorf("failed to create chart bridge: %w", err)
	}
	queries, err := runner.New(runner.Config{
		Logger: log,
		Store:  data,
		Log:    store,
		Charts: charts,
		Observer: func(kind sqlextract.Kind, success bool, elapsed time.Duration) {
			metrics.ObserveStatement(string(kind), success, elapsed)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create query runner: %w", err)
	}
	hist, err := history.NewBuilder(history.Config{Store: store})
	if err != nil {
		return fmt.Errorf("failed to create history builder: %w", err)
	}

	wfCfg := workflow.Config{
		Logger:        log,
		Prompts:       p,
		Datasets:      data,
		Sessions:      store,
		Runner:        queries,
		History:       hist,
		MaxIterations: cfg.MaxIterations,
		UploadDir:     cfg.UploadDir,
		Observer: func(mode sessions.Mode, outcome string) {
			metrics.ObserveTurn(string(mode), outcome)
		},
	}
	ask, err := workflow.NewAsk(wfCfg)
	if err != nil {
		return fmt.Errorf("failed to create ask workflow: %w", err)
	}
	defer ask.Close()
	agent, err := workflow.NewAgent(wfCfg)
	if err != nil {
		return fmt.Errorf("failed to create agent workflow: %w", err)
	}
	defer agent.Close()

	h, err := handlers.New(handlers.Config{
		Logger:    log,
		Sessions:  store,
		Datasets:  data,
		Ask:       ask,
		Agent:     agent,
		Providers: providers,
		LockTTL:   cfg.LockTTL,
		Heartbeat: cfg.Heartbeat,
	})
	if err != nil {
		return fmt.Errorf("failed to create handlers: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", handlers.UserIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	h.Routes(r)

	g, ctx := errgroup.WithContext(ctx)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		log.Info("api server listening", "address", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		listener, err := net.Listen("tcp", cfg.MetricsAddr)
		if err != nil {
			return fmt.Errorf("failed to start prometheus metrics server listener: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			if err := metricsServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down gracefully", "timeout", cfg.ShutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if metricsServer != nil {
			_ = metricsServer.Shutdown(shutdownCtx)
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		log.Info("server stopped gracefully")
		return nil
	})

	return g.Wait()
}

// newSessionStore opens the configured conversation store. The returned
// close function releases its resources.
func newSessionStore(ctx context.Context, log *slog.Logger, cfg *config.Config) (sessions.Store, func(), error) {
	switch cfg.Store {
	case config.StoreMemory:
		log.Warn("using in-memory conversation store; history is lost on restart")
		return sessions.NewMemoryStore(nil), func() {}, nil
	default:
		pool, err := config.NewPostgresPool(ctx, log, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		return sessions.NewPostgresStore(log, pool), pool.Close, nil
	}
}

func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(formatRFC3339Millis(a.Value.Time()))
			}
			if s, ok := a.Value.Any().(string); ok && s == "" {
				return slog.Attr{}
			}
			return a
		},
	}))
}

func formatRFC3339Millis(t time.Time) string {
	t = t.UTC()
	base := t.Format("2006-01-02T15:04:05")
	ms := t.Nanosecond() / 1_000_000
	return fmt.Sprintf("%s.%03dZ", base, ms)
}
