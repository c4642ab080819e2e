package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/xCapxCode/kirilmazlar-sub001/internal/bus"
	"github.com/xCapxCode/kirilmazlar-sub001/internal/cart"
	"github.com/xCapxCode/kirilmazlar-sub001/internal/config"
	"github.com/xCapxCode/kirilmazlar-sub001/internal/httpx"
	"github.com/xCapxCode/kirilmazlar-sub001/internal/logging"
	"github.com/xCapxCode/kirilmazlar-sub001/internal/orders"
	"github.com/xCapxCode/kirilmazlar-sub001/internal/reconcile"
	"github.com/xCapxCode/kirilmazlar-sub001/internal/stock"
	"github.com/xCapxCode/kirilmazlar-sub001/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.Must(logging.New())
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("store init failed", zap.Error(err))
	}
	defer closeStore()

	// producer name is unique per instance so the cross-instance echo of
	// our own envelopes can be dropped
	producer := fmt.Sprintf("%s-%s", cfg.ServiceName, uuid.NewString()[:8])

	var transport bus.Transport
	if len(cfg.KafkaBrokers) > 0 {
		transport = bus.NewKafkaTransport(cfg.KafkaBrokers, cfg.KafkaTopic, producer, 1024, logging.Named(log, "kafka"))
	}
	b := bus.New(store, transport, producer, logging.Named(log, "bus"))
	b.Start(ctx)

	ledger := stock.NewLedger(store, b, logging.Named(log, "stock"))
	repo := orders.NewRepository(store, b, logging.Named(log, "orders"), cfg.OrderPrefix, cfg.OrderSeqStart)
	ct := cart.New(ledger, logging.Named(log, "cart"))

	sweeper := reconcile.NewSweeper(repo, b, logging.Named(log, "reconcile"), cfg.SweepSpec)
	if err := sweeper.Start(); err != nil {
		log.Fatal("sweeper start failed", zap.Error(err))
	}
	defer sweeper.Stop()

	router := httpx.NewRouter()
	h := &httpx.Handler{Cart: ct, Ledger: ledger, Repo: repo, Log: logging.Named(log, "http")}
	h.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	go func() {
		log.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen failed", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	cancel()
	if transport != nil {
		transport.Close() // flush pending broadcasts
	}
}

func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (storage.Store, func(), error) {
	switch cfg.StoreDriver {
	case "redis":
		rdb := storage.NewRedisClient(cfg.RedisAddr)
		return storage.NewRedisStore(rdb, logging.Named(log, "redis")), func() { _ = rdb.Close() }, nil
	case "postgres":
		pool, err := storage.ConnectPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		st, err := storage.NewPGStore(ctx, pool, logging.Named(log, "postgres"))
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return st, func() { st.Close(); pool.Close() }, nil
	default:
		return storage.NewMemStore(), func() {}, nil
	}
}
