package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/damilare/storelink/internal/kafka"
	"github.com/damilare/storelink/internal/orders"
	"github.com/damilare/storelink/internal/redisx"
)

type OrderStore interface {
	ListExpiredPending(ctx context.Context, storeID string, now time.Time) ([]string, error)
	Items(ctx context.Context, orderID string) ([]orders.OrderItem, error)
	TransitionIf(ctx context.Context, orderID string, from, to orders.Status) (bool, orders.Status, error)
}

type StockLedger interface {
	Release(ctx context.Context, productID string, qty int) error
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Service expires pending orders whose reservation window elapsed and puts
// their stock back on sale. Safe to run concurrently with payment
// confirmation: the pending→expired compare-and-set decides who owns the
// order, and stock moves only for the winner.
type Service struct {
	Orders  OrderStore
	Stock   StockLedger
	Redis   *redis.Client
	Changed Publisher

	ServiceName string
	Now         func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Sweep expires one store's overdue pending orders and reports how many it
// released.
func (s *Service) Sweep(ctx context.Context, storeID string) (int, error) {
	if s.Redis != nil {
		key := fmt.Sprintf(redisx.KeySweepLock, storeID)
		ok, err := redisx.AcquireLock(ctx, s.Redis, key, redisx.TTLSweepLock)
		if err == nil && !ok {
			return 0, nil // another sweep owns this store right now
		}
		if err == nil {
			defer redisx.ReleaseLock(ctx, s.Redis, key)
		}
	}

	ids, err := s.Orders.ListExpiredPending(ctx, storeID, s.now())
	if err != nil {
		return 0, err
	}

	released := 0
	for _, id := range ids {
		applied, _, err := s.Orders.TransitionIf(ctx, id, orders.StatusPending, orders.StatusExpired)
		if err != nil {
			slog.Error("expire order", "order_id", id, "err", err)
			continue
		}
		if !applied {
			// Paid or cancelled since we listed it; its stock is not ours.
			continue
		}

		items, err := s.Orders.Items(ctx, id)
		if err != nil {
			slog.Error("load items for expired order", "order_id", id, "err", err)
			continue
		}
		for _, it := range items {
			if err := s.Stock.Release(ctx, it.ProductID, it.Qty); err != nil {
				slog.Error("release expired stock", "order_id", id, "product_id", it.ProductID, "err", err)
			}
		}
		s.publishExpired(id)
		released++
	}
	return released, nil
}

func (s *Service) publishExpired(orderID string) {
	if s.Changed == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderExpired,
		EventVersion:  1,
		OccurredAt:    s.now(),
		Producer:      s.ServiceName,
		CorrelationID: orderID,
		Payload: kafkax.MustMarshal(orders.StatusChangedPayload{
			OrderID: orderID,
			From:    orders.StatusPending,
			To:      orders.StatusExpired,
			Reason:  "RESERVATION_EXPIRED",
		}),
	}
	s.Changed.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderExpired)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
