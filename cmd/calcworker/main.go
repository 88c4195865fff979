package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/corpustools/concord/internal/align"
	"github.com/corpustools/concord/internal/calc"
	"github.com/corpustools/concord/internal/conccache"
	"github.com/corpustools/concord/pkg/config"
	"github.com/corpustools/concord/pkg/kafka"
	"github.com/corpustools/concord/pkg/logger"
	"github.com/corpustools/concord/pkg/metrics"
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
	slog.Info("starting calc worker")

	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("redis unavailable", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	concCache := conccache.New(redisClient, cfg.Redis)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider := calc.NewHTTPProvider(cfg.Provider)
	alignClient := align.NewClient(cfg.Align)
	worker := calc.NewWorker(concCache, provider, alignClient, cfg.Conc)

	if cfg.Metrics.Enabled {
		m := metrics.New()
		worker.SetMetrics(m)
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			_ = shutdownMetrics(shutdownCtx)
		}()
		alignClient.Breaker().NotifyStateChange(func(name string, s resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(s))
		})
	}

	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.ConcCalc, worker.Handler())

	slog.Info("calc worker ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.ConcCalc,
		"group", cfg.Kafka.ConsumerGroup,
	)

	if err := consumer.Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
	}

	slog.Info("calc worker stopped")
}
