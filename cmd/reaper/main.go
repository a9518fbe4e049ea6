package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/damilare/storelink/internal/config"
	kafkax "github.com/damilare/storelink/internal/kafka"
	"github.com/damilare/storelink/internal/orders"
	"github.com/damilare/storelink/internal/postgres"
	"github.com/damilare/storelink/internal/reaper"
	"github.com/damilare/storelink/internal/redisx"
	"github.com/damilare/storelink/internal/stores"
)

// Sweeps every store on an interval so abandoned checkouts give their stock
// back even when no owner ever hits the manual sweep endpoint.
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

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	changed := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicStatusChanged, 1024)
	changed.Start(ctx)

	storeRepo := &stores.Repo{DB: db}
	svc := &reaper.Service{
		Orders:      &orders.Repo{DB: db},
		Stock:       &orders.StockRepo{DB: db},
		Redis:       rdb,
		Changed:     changed,
		ServiceName: cfg.ServiceName + "-reaper",
	}

	ticker := time.NewTicker(cfg.ReaperInterval)
	defer ticker.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	slog.Info("reaper started", "interval", cfg.ReaperInterval.String())
	sweepAll(ctx, storeRepo, svc)

	for {
		select {
		case <-ticker.C:
			sweepAll(ctx, storeRepo, svc)
		case <-sig:
			slog.Info("shutting down")
			changed.Close()
			cancel()
			changed.WaitClosed()
			return
		}
	}
}

func sweepAll(ctx context.Context, storeRepo *stores.Repo, svc *reaper.Service) {
	ids, err := storeRepo.ListIDs(ctx)
	if err != nil {
		slog.Error("list stores", "err", err)
		return
	}
	total := 0
	for _, id := range ids {
		n, err := svc.Sweep(ctx, id)
		if err != nil {
			slog.Error("sweep", "store_id", id, "err", err)
			continue
		}
		total += n
	}
	if total > 0 {
		slog.Info("sweep done", "released", total)
	}
}
