package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"salepoint/terminal/internal/cache"
	"salepoint/terminal/internal/config"
	"salepoint/terminal/internal/engine"
	"salepoint/terminal/internal/events"
	"salepoint/terminal/internal/localstore"
	"salepoint/terminal/internal/localstore/memory"
	"salepoint/terminal/internal/localstore/sqlite"
	"salepoint/terminal/internal/shift"
	"salepoint/terminal/internal/syncqueue"
)

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	log := logrus.WithField("component", "terminal")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	schema := localstore.DefaultSchema()
	var store localstore.Store
	closers := make([]func() error, 0, 2)

	if cfg.DatabasePath != "" {
		store = sqlite.New(cfg.DatabasePath, schema)
		log.WithField("path", cfg.DatabasePath).Info("store: sqlite")
	} else {
		store = memory.New(schema)
		log.Info("store: in-memory")
	}
	if err := store.Initialize(ctx); err != nil {
		log.WithError(err).Fatal("store initialization failed")
	}
	closers = append(closers, store.Close)

	products := cache.ProductCache(cache.NoopProductCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisProductCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.WithError(err).Warn("redis unavailable, using noop product cache")
		} else {
			products = redisCache
			closers = append(closers, redisCache.Close)
			log.Info("product cache: redis")
		}
	} else {
		log.Info("product cache: noop")
	}

	bus := events.NewBus()
	unsubscribe := bus.Subscribe(func(ev events.Event) {
		log.WithFields(logrus.Fields{
			"event":     string(ev.Type),
			"entity_id": ev.EntityID,
		}).Info("lifecycle event")
	})
	defer unsubscribe()

	queue := syncqueue.New(store, bus, cfg.SyncMaxRetries)
	shifts := shift.NewManager(store, queue, bus)
	eng := engine.New(
		store, queue, shifts, bus, products,
		time.Duration(cfg.ProductCacheTTLSeconds)*time.Second,
		cfg.OperatorID, cfg.TerminalID,
	)

	pending, err := queue.ListPending(ctx)
	if err != nil {
		log.WithError(err).Warn("could not inspect sync queue")
	} else {
		log.WithField("pending", len(pending)).Info("sync queue loaded")
	}
	if suspended, err := eng.ListSuspendedTransactions(ctx); err != nil {
		log.WithError(err).Warn("could not list suspended transactions")
	} else if len(suspended) > 0 {
		log.WithField("suspended", len(suspended)).Info("suspended transactions awaiting resume")
	}
	if stats, err := eng.GetTransactionStats(ctx); err != nil {
		log.WithError(err).Warn("could not compute transaction stats")
	} else {
		log.WithFields(logrus.Fields{
			"count":       stats.Count,
			"gross_cents": stats.GrossCents,
		}).Info("today's completed transactions")
	}

	log.WithFields(logrus.Fields{
		"store_name":  cfg.StoreName,
		"terminal_id": cfg.TerminalID,
		"operator_id": cfg.OperatorID,
	}).Info("terminal core ready")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.WithError(err).Warn("close error")
		}
	}
	log.Info("terminal stopped")
}
