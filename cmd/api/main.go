package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/damilare/storelink/internal/checkout"
	"github.com/damilare/storelink/internal/config"
	"github.com/damilare/storelink/internal/httpx"
	kafkax "github.com/damilare/storelink/internal/kafka"
	"github.com/damilare/storelink/internal/metrics"
	"github.com/damilare/storelink/internal/orders"
	"github.com/damilare/storelink/internal/paystack"
	"github.com/damilare/storelink/internal/postgres"
	"github.com/damilare/storelink/internal/reaper"
	"github.com/damilare/storelink/internal/redisx"
	"github.com/damilare/storelink/internal/stores"
)

func main() {
	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		slog.Error("db connect", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := postgres.Migrate(ctx, db); err != nil {
		slog.Error("migrate", "err", err)
		os.Exit(1)
	}

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	created := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCreated, 1024)
	created.Start(ctx)
	changed := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicStatusChanged, 1024)
	changed.Start(ctx)

	orderRepo := &orders.Repo{DB: db}
	stockRepo := &orders.StockRepo{DB: db}
	storeRepo := &stores.Repo{DB: db}
	gateway := paystack.New(cfg.PaystackBaseURL, cfg.PaystackSecretKey, cfg.GatewayTimeout, cfg.GatewayRetries)

	svc := &checkout.Service{
		Orders:            orderRepo,
		Stock:             stockRepo,
		Stores:            storeRepo,
		Gateway:           gateway,
		Redis:             rdb,
		Created:           created,
		Changed:           changed,
		ServiceName:       cfg.ServiceName,
		CallbackURL:       cfg.CallbackURL,
		ReservationWindow: cfg.ReservationWindow,
	}
	sweep := &reaper.Service{
		Orders:      orderRepo,
		Stock:       stockRepo,
		Redis:       rdb,
		Changed:     changed,
		ServiceName: cfg.ServiceName,
	}
	payout := &stores.PayoutService{Stores: storeRepo, Gateway: gateway}

	router := httpx.NewRouter()
	h := &httpx.Handler{
		Checkout: svc,
		Reaper:   sweep,
		Payout:   payout,
		Stores:   storeRepo,
		Orders:   orderRepo,
		Stock:    stockRepo,
		Gateway:  gateway,
		Redis:    rdb,
		Metrics:  metrics.New("api"),
	}
	h.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		slog.Info("HTTP listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("listen", "err", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	slog.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)

	created.Close()
	changed.Close()
	cancel()
	created.WaitClosed()
	changed.WaitClosed()
}
