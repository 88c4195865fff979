package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/corpustools/concord/internal/align"
	"github.com/corpustools/concord/internal/api"
	"github.com/corpustools/concord/internal/archive"
	"github.com/corpustools/concord/internal/calc"
	"github.com/corpustools/concord/internal/conccache"
	"github.com/corpustools/concord/internal/session"
	"github.com/corpustools/concord/internal/stats"
	"github.com/corpustools/concord/pkg/config"
	"github.com/corpustools/concord/pkg/health"
	"github.com/corpustools/concord/pkg/kafka"
	"github.com/corpustools/concord/pkg/logger"
	"github.com/corpustools/concord/pkg/metrics"
	"github.com/corpustools/concord/pkg/middleware"
	"github.com/corpustools/concord/pkg/postgres"
	pkgredis "github.com/corpustools/concord/pkg/redis"
	"github.com/corpustools/concord/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting concordance service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("redis unavailable", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	concCache := conccache.New(redisClient, cfg.Redis)
	slog.Info("concordance cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)

	var archiveStore *archive.Store
	pgClient, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, query archive disabled", "error", err)
	} else {
		defer pgClient.Close()
		archiveStore = archive.NewStore(pgClient)
		slog.Info("query archive enabled", "host", cfg.Postgres.Host)
	}

	alignClient := align.NewClient(cfg.Align)
	provider := calc.NewHTTPProvider(cfg.Provider)
	inlineWorker := calc.NewWorker(concCache, provider, alignClient, cfg.Conc)
	calcProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.ConcCalc)
	defer calcProducer.Close()
	dispatcher := calc.NewDispatcher(concCache, calcProducer, inlineWorker, cfg.Conc)

	statsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.OpStats)
	defer statsProducer.Close()
	collector := stats.NewCollector(statsProducer, 100, 0)
	collector.Start(ctx)
	defer collector.Close()
	slog.Info("stats collector started", "topic", cfg.Kafka.Topics.OpStats)

	var aggregator *stats.Aggregator
	statsConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.OpStats,
		func(ctx context.Context, key, value []byte) error {
			return stats.HandleEvent(aggregator)(ctx, key, value)
		})
	aggregator = stats.NewAggregator(statsConsumer)
	statsH := stats.NewHandler(aggregator)
	go func() {
		if err := aggregator.Start(ctx); err != nil {
			slog.Error("stats aggregator error", "error", err)
		}
	}()
	if pgClient != nil {
		statsStore := stats.NewStore(pgClient)
		statsStore.StartPeriodicSave(ctx, aggregator, 5*time.Minute)
	}

	registry := session.NewRegistry(cfg.Conc.SessionTTL, cfg.Conc.ShuffleSeed)
	go registry.StartJanitor(ctx)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			_ = shutdownMetrics(shutdownCtx)
		}()
		alignClient.Breaker().NotifyStateChange(func(name string, s resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(s))
		})
		inlineWorker.SetMetrics(m)
	}

	checker := health.NewChecker()
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		if pgClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := pgClient.DB.PingContext(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	h := api.New(registry, dispatcher, concCache, alignClient, archiveStore, collector, m, cfg.Conc)

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /api/v1/stats", statsH.Stats)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	if m != nil {
		chain = middleware.Metrics(m)(chain)
	}
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	if cfg.Server.RateLimitPerMin > 0 {
		limiter := middleware.NewLimiter(cfg.Server.RateLimitPerMin, time.Minute)
		chain = middleware.RateLimit(limiter)(chain)
	}
	chain = middleware.CORS(middleware.DefaultCORSConfig())(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("concordance service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("concordance service stopped")
}
