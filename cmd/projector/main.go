package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/damilare/storelink/internal/config"
	kafkax "github.com/damilare/storelink/internal/kafka"
	"github.com/damilare/storelink/internal/orders"
	"github.com/damilare/storelink/internal/redisx"
)

// Keeps the redis order-status cache warm off the lifecycle event stream so
// GET /orders/{id} rarely touches the database.
func main() {
	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	group := getenv("PROJECTOR_GROUP", "status-projector")
	workers := mustAtoi(os.Getenv("PROJECTOR_WORKERS"), "4")

	p := &projector{rdb: rdb}
	for _, topic := range []string{orders.TopicOrderCreated, orders.TopicStatusChanged} {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, topic, workers)
		go func(topic string) {
			slog.Info("projector consumer started", "group", group, "topic", topic, "workers", workers)
			if err := cons.Start(ctx, p.handle); err != nil {
				slog.Error("consumer exit", "topic", topic, "err", err)
				cancel()
			}
		}(topic)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	cancel()
}

type projector struct {
	rdb *redis.Client
}

func (p *projector) handle(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}

	// at-least-once delivery; skip events we already projected
	dkey := fmt.Sprintf(redisx.KeyDedup, "projector", env.EventID)
	if seen, _ := redisx.Exists(ctx, p.rdb, dkey); seen {
		return nil
	}

	var orderID string
	var status orders.Status
	switch env.EventType {
	case orders.EventOrderCreated:
		payload, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
		if err != nil {
			return err
		}
		orderID, status = payload.OrderID, orders.StatusPending
	default:
		payload, err := kafkax.UnwrapPayload[orders.StatusChangedPayload](env.Payload)
		if err != nil {
			return err
		}
		orderID, status = payload.OrderID, payload.To
	}
	if orderID == "" {
		return nil
	}

	body, _ := json.Marshal(map[string]any{"status": status})
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if err := p.rdb.Set(ctx, key, body, redisx.TTLStatusCache).Err(); err != nil {
		return err
	}
	return p.rdb.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustAtoi(s, def string) int {
	if s == "" {
		s = def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 1
	}
	return i
}
