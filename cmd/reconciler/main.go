package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/xCapxCode/kirilmazlar-sub001/internal/bus"
	"github.com/xCapxCode/kirilmazlar-sub001/internal/config"
	"github.com/xCapxCode/kirilmazlar-sub001/internal/logging"
	"github.com/xCapxCode/kirilmazlar-sub001/internal/orders"
	"github.com/xCapxCode/kirilmazlar-sub001/internal/reconcile"
	"github.com/xCapxCode/kirilmazlar-sub001/internal/storage"
)

// The reconciler is a standalone instance whose only job is converging the
// two order ledgers: cron-driven sweeps plus a sweep for every
// orders-updated broadcast from the other instances.

const dedupTTL = 48 * time.Hour

func dedupKey(eventID string) string { return "dedup:reconciler:" + eventID }

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.Must(logging.New())
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := storage.NewRedisClient(cfg.RedisAddr)
	defer rdb.Close()

	var store storage.Store
	switch cfg.StoreDriver {
	case "postgres":
		pool, err := storage.ConnectPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal("postgres connect failed", zap.Error(err))
		}
		defer pool.Close()
		st, err := storage.NewPGStore(ctx, pool, logging.Named(log, "postgres"))
		if err != nil {
			log.Fatal("store init failed", zap.Error(err))
		}
		defer st.Close()
		store = st
	default:
		store = storage.NewRedisStore(rdb, logging.Named(log, "redis"))
	}

	producer := fmt.Sprintf("%s-reconciler-%s", cfg.ServiceName, uuid.NewString()[:8])
	var transport bus.Transport
	if len(cfg.KafkaBrokers) > 0 {
		transport = bus.NewKafkaTransport(cfg.KafkaBrokers, cfg.KafkaTopic, producer, 1024, logging.Named(log, "kafka"))
	}
	b := bus.New(store, transport, producer, logging.Named(log, "bus"))
	b.Start(ctx)

	repo := orders.NewRepository(store, b, logging.Named(log, "orders"), cfg.OrderPrefix, cfg.OrderSeqStart)
	sweeper := reconcile.NewSweeper(repo, b, logging.Named(log, "reconcile"), cfg.SweepSpec)
	if err := sweeper.Start(); err != nil {
		log.Fatal("sweeper start failed", zap.Error(err))
	}
	defer sweeper.Stop()

	// sweep on every orders-updated from another instance; redis guards
	// against the same envelope arriving twice across channels
	unsub := b.Subscribe(bus.TopicOrdersUpdated, func(env bus.Envelope) {
		set, err := rdb.SetNX(ctx, dedupKey(env.EventID), "1", dedupTTL).Result()
		if err != nil {
			log.Warn("dedup check failed", zap.Error(err))
		} else if !set {
			return
		}
		sweeper.RunOnce(ctx)
	})
	defer unsub()

	log.Info("reconciler running", zap.String("sweep", cfg.SweepSpec))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	cancel()
	if transport != nil {
		transport.Close()
	}
}
