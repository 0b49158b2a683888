package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/bdpgmbv/rtve/internal/coldstore"
	"github.com/bdpgmbv/rtve/internal/conflate"
	"github.com/bdpgmbv/rtve/internal/config"
	"github.com/bdpgmbv/rtve/internal/fx"
	"github.com/bdpgmbv/rtve/internal/intake"
	"github.com/bdpgmbv/rtve/internal/monitor"
	"github.com/bdpgmbv/rtve/internal/positions"
	"github.com/bdpgmbv/rtve/internal/prices"
	"github.com/bdpgmbv/rtve/internal/pricing"
	"github.com/bdpgmbv/rtve/internal/shard"
	"github.com/bdpgmbv/rtve/internal/snapshot"
	"github.com/bdpgmbv/rtve/internal/valuation"
	"github.com/bdpgmbv/rtve/pkg/bus"
	"github.com/bdpgmbv/rtve/pkg/types"
)

const version = "1.0.0"

func main() {
	os.Exit(run())
}

// Exit codes: 0 clean, 1 configuration or wiring failure, 2 drain
// exceeded the grace period, 3 broker unreachable at startup.
func run() int {
	configPath := flag.String("config", "", "path to config file (default: config.yaml in cwd)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Errorf("Failed to load config: %v", err)
		return 1
	}
	setupLogging(cfg)

	logger := logrus.WithField("component", "server")
	logger.Infof("Starting valuation engine v%s (shard %d of %d, base currency %s)",
		version, cfg.ShardIndex, cfg.ShardTotal, cfg.BaseCurrency)

	router, err := shard.NewRouter(cfg.ShardIndex, cfg.ShardTotal)
	if err != nil {
		logger.Errorf("Invalid shard topology: %v", err)
		return 1
	}

	client, err := bus.NewClient(bus.DefaultConfig(cfg.NatsURL, fmt.Sprintf("rtve-server-%d", cfg.ShardIndex)))
	if err != nil {
		if errors.Is(err, bus.ErrBrokerUnavailable) {
			logger.Errorf("Broker unreachable at %s: %v", cfg.NatsURL, err)
			return 3
		}
		logger.Errorf("Failed to set up broker client: %v", err)
		return 1
	}
	defer client.Close()

	metrics := monitor.NewMetrics()

	// The admission queue and the dirty set have no dependencies of
	// their own. Both caches notify the queue on accepted updates and
	// the price cache marks the dirty set for cold-store persistence.
	queue := valuation.NewQueue(int64(cfg.QueueHighWater), metrics)
	dirty := coldstore.NewDirtySet(metrics)
	priceCache := prices.NewCache(cfg.StalenessThreshold, queue, dirty, metrics)
	fxCache := fx.NewCache(cfg.BaseCurrency, queue, metrics)
	positionCache := positions.NewCache(metrics)
	registry := pricing.NewRegistry()

	dlq := bus.NewDeadLetterPublisher(client, func(kind types.ErrorKind) {
		metrics.DLQOffers.WithLabelValues(string(kind)).Inc()
	})
	sink := bus.NewValuationPublisher(client)
	broadcaster := conflate.NewBroadcaster(cfg.ConflationPeriod, sink, dlq, cfg.DLQMaxRetries, metrics)

	engine := valuation.NewEngine(valuation.Config{
		PoolSize:     cfg.WorkerPoolSize,
		BaseCurrency: cfg.BaseCurrency,
	}, queue, priceCache, fxCache, positionCache, registry, router, broadcaster, metrics)

	var store coldstore.ColdStore
	if cfg.ColdStoreDSN != "" {
		pg, err := coldstore.NewPostgresStore(cfg.ColdStoreDSN)
		if err != nil {
			logger.Errorf("Failed to open cold store: %v", err)
			return 1
		}
		defer pg.Close()
		store = pg
	} else {
		logger.Warn("No cold store DSN configured, price history stays in memory")
		store = coldstore.NewMemoryStore()
	}
	flusher := coldstore.NewFlusher(dirty, priceCache, store,
		cfg.PersistencePeriod, cfg.ColdStoreAlertThreshold, cfg.ColdStoreAlertWindow, metrics)

	var snapshotter *snapshot.Store
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer rdb.Close()

		snapshotter = snapshot.NewStore(rdb, priceCache, fxCache, positionCache, cfg.SnapshotPeriod)
		warmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		snapshotter.Warm(warmCtx)
		cancel()
	} else {
		logger.Info("No Redis address configured, starting cold")
	}

	// Durables carry the shard index so every shard keeps its own
	// cursor on the shared streams
	consumer := intake.NewConsumer(client, dlq, queue, intake.Config{
		ClientID:  fmt.Sprintf("rtve-%d", cfg.ShardIndex),
		HighWater: int64(cfg.QueueHighWater),
	}, priceCache, fxCache, positionCache, metrics)

	health := monitor.NewHealthChecker(version)
	health.RegisterCheck("broker", monitor.BrokerCheck(client.Connected))
	health.RegisterCheck("mailbox_depth", monitor.MailboxDepthCheck(broadcaster.Depth, int64(cfg.MailboxHighWater), 30*time.Second))
	health.RegisterCheck("consumer_lag", monitor.ConsumerLagCheck(consumer.Lags, cfg.ConsumerLagAlert))
	health.RegisterCheck("dirty_backlog", monitor.DirtyBacklogCheck(dirty.Size, cfg.ColdStoreAlertThreshold))

	server := monitor.NewServer(cfg.MonitorAddr, health, prometheus.DefaultGatherer)
	server.RegisterStatus(monitor.StatusDeps{
		Version:      version,
		ShardIndex:   cfg.ShardIndex,
		ShardTotal:   cfg.ShardTotal,
		BaseCurrency: cfg.BaseCurrency,

		PriceCount:    priceCache.Len,
		FxCount:       fxCache.Len,
		PositionCount: positionCache.Len,
		Outstanding:   queue.Outstanding,
		MailboxDepth:  broadcaster.Depth,
		DirtyBacklog:  dirty.Size,
	})

	engine.Start()
	broadcaster.Start()
	flusher.Start()
	priceCache.StartScanner(time.Minute)
	if snapshotter != nil {
		snapshotter.Start()
	}
	consumer.Start()
	server.Start()

	logger.Info("Valuation engine running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Infof("Received %s, shutting down", sig)

	// Stop intake first so no new work is admitted, then drain what is
	// already in flight before tearing the pipeline down back to front.
	code := 0
	consumer.Stop()

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.GraceShutdown)
	if err := engine.Drain(drainCtx); err != nil {
		metrics.ForcedShutdown.Inc()
		logger.Warnf("Drain incomplete after %s: %v", cfg.GraceShutdown, err)
		code = 2
	}
	cancelDrain()

	engine.Stop()
	broadcaster.Stop()
	flusher.Stop()
	priceCache.Stop()
	if snapshotter != nil {
		snapshotter.Stop()
	}

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 5*time.Second)
	if err := server.Stop(stopCtx); err != nil {
		logger.Errorf("Monitor shutdown: %v", err)
	}
	cancelStop()

	logger.Info("Shutdown complete")
	return code
}

func setupLogging(cfg *config.Config) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
