package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/damilare/storelink/internal/kafka"
	"github.com/damilare/storelink/internal/orders"
	"github.com/damilare/storelink/internal/paystack"
	"github.com/damilare/storelink/internal/stores"
)

// ErrPaymentFailed is a definitive payment decline: the order moved to
// failed and its stock went back to the pool.
var ErrPaymentFailed = errors.New("payment failed")

type OrderStore interface {
	CreateWithItems(ctx context.Context, o *orders.Order, items []orders.OrderItem) error
	Get(ctx context.Context, orderID string) (orders.Order, error)
	Items(ctx context.Context, orderID string) ([]orders.OrderItem, error)
	TransitionIf(ctx context.Context, orderID string, from, to orders.Status) (bool, orders.Status, error)
	SetPaymentRef(ctx context.Context, orderID, ref string) error
}

type StockLedger interface {
	Reserve(ctx context.Context, productID string, qty int) error
	Release(ctx context.Context, productID string, qty int) error
	Finalize(ctx context.Context, productID string, qty int) error
	ProductsForStore(ctx context.Context, storeID string, ids []string) ([]orders.Product, error)
}

type Gateway interface {
	Initialize(ctx context.Context, req paystack.InitializeRequest) (paystack.Session, error)
	Verify(ctx context.Context, reference string) (paystack.Verification, error)
}

type StoreDirectory interface {
	GetBySlug(ctx context.Context, slug string) (stores.Store, error)
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Service drives the order lifecycle: checkout, payment confirmation and the
// store owner's manual transitions. All stock movement goes through Stock,
// all status movement through Orders.TransitionIf.
type Service struct {
	Orders  OrderStore
	Stock   StockLedger
	Stores  StoreDirectory
	Gateway Gateway
	Redis   *redis.Client
	Created Publisher // order.created
	Changed Publisher // order.status.changed

	ServiceName       string
	CallbackURL       string
	ReservationWindow time.Duration

	// Now is swappable in tests.
	Now func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

type CheckoutInput struct {
	StoreSlug string
	Items     []orders.ItemInput
	Customer  orders.CustomerInfo
}

type CheckoutResult struct {
	OrderID          string
	Reference        string
	AuthorizationURL string
	TotalKobo        int
}

// StartCheckout validates the requested items, creates a pending order with
// line-item snapshots, reserves stock item by item and opens a gateway
// session. There is no wrapping transaction: each reservation is atomic on
// its own and any later failure compensates by releasing everything reserved
// so far, then parking the order in failed.
func (s *Service) StartCheckout(ctx context.Context, in CheckoutInput) (CheckoutResult, error) {
	if in.StoreSlug == "" || len(in.Items) == 0 {
		return CheckoutResult{}, fmt.Errorf("%w: store and items are required", orders.ErrValidation)
	}
	if in.Customer.Email == "" {
		return CheckoutResult{}, fmt.Errorf("%w: customer email is required", orders.ErrValidation)
	}
	for _, it := range in.Items {
		if it.ProductID == "" || it.Qty < 1 {
			return CheckoutResult{}, fmt.Errorf("%w: invalid quantity", orders.ErrValidation)
		}
	}

	store, err := s.Stores.GetBySlug(ctx, in.StoreSlug)
	if err != nil {
		return CheckoutResult{}, err
	}
	if store.SubaccountCode == "" {
		return CheckoutResult{}, fmt.Errorf("%w: store not ready for payments", orders.ErrValidation)
	}

	ids := make([]string, 0, len(in.Items))
	for _, it := range in.Items {
		ids = append(ids, it.ProductID)
	}
	products, err := s.Stock.ProductsForStore(ctx, store.ID, ids)
	if err != nil {
		return CheckoutResult{}, err
	}
	byID := make(map[string]orders.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	total := 0
	items := make([]orders.OrderItem, 0, len(in.Items))
	for _, it := range in.Items {
		p, ok := byID[it.ProductID]
		if !ok {
			return CheckoutResult{}, fmt.Errorf("%w: %s", orders.ErrProductNotFound, it.ProductID)
		}
		if !p.IsActive {
			return CheckoutResult{}, fmt.Errorf("%w: %q is not available", orders.ErrValidation, p.Name)
		}
		if it.Qty > p.StockQty {
			return CheckoutResult{}, fmt.Errorf("%w: %q has %d left", orders.ErrInsufficientStock, p.Name, p.StockQty)
		}
		total += p.PriceKobo * it.Qty
		items = append(items, orders.OrderItem{
			ProductID:     p.ID,
			ProductName:   p.Name,
			Qty:           it.Qty,
			PriceEachKobo: p.PriceKobo,
		})
	}

	o := &orders.Order{
		StoreID:         store.ID,
		CustomerName:    in.Customer.Name,
		CustomerPhone:   in.Customer.Phone,
		CustomerEmail:   in.Customer.Email,
		CustomerAddress: in.Customer.Address,
		TotalKobo:       total,
		ReservedUntil:   s.now().Add(s.ReservationWindow),
	}
	if err := s.Orders.CreateWithItems(ctx, o, items); err != nil {
		return CheckoutResult{}, err
	}

	// Reservation saga: remember every reservation taken, compensate all of
	// them if a later item (or the gateway) fails.
	reserved := make([]orders.OrderItem, 0, len(items))
	for _, it := range items {
		if err := s.Stock.Reserve(ctx, it.ProductID, it.Qty); err != nil {
			s.releaseAll(ctx, reserved)
			s.failOrder(ctx, o.ID, "OUT_OF_STOCK")
			if errors.Is(err, orders.ErrInsufficientStock) {
				return CheckoutResult{}, fmt.Errorf("%w: %q", orders.ErrInsufficientStock, it.ProductName)
			}
			return CheckoutResult{}, err
		}
		reserved = append(reserved, it)
	}

	ref := "order_" + o.ID
	sess, err := s.Gateway.Initialize(ctx, paystack.InitializeRequest{
		Email:       in.Customer.Email,
		AmountKobo:  total,
		Reference:   ref,
		Subaccount:  store.SubaccountCode,
		CallbackURL: s.CallbackURL,
		Metadata:    paystack.Metadata{OrderID: o.ID},
	})
	if err != nil {
		s.releaseAll(ctx, reserved)
		s.failOrder(ctx, o.ID, "GATEWAY_INIT_FAILED")
		return CheckoutResult{}, fmt.Errorf("payment init: %w", err)
	}

	if err := s.Orders.SetPaymentRef(ctx, o.ID, sess.Reference); err != nil {
		slog.Error("save payment ref", "order_id", o.ID, "err", err)
	}

	s.publishCreated(ctx, o, items)
	return CheckoutResult{
		OrderID:          o.ID,
		Reference:        sess.Reference,
		AuthorizationURL: sess.AuthorizationURL,
		TotalKobo:        total,
	}, nil
}

func (s *Service) releaseAll(ctx context.Context, items []orders.OrderItem) {
	for _, it := range items {
		if err := s.Stock.Release(ctx, it.ProductID, it.Qty); err != nil {
			slog.Error("release stock", "product_id", it.ProductID, "qty", it.Qty, "err", err)
		}
	}
}

func (s *Service) failOrder(ctx context.Context, orderID, reason string) {
	applied, _, err := s.Orders.TransitionIf(ctx, orderID, orders.StatusPending, orders.StatusFailed)
	if err != nil {
		slog.Error("fail order", "order_id", orderID, "err", err)
		return
	}
	if applied {
		s.publishStatus(ctx, orderID, orders.StatusPending, orders.StatusFailed, reason)
	}
}

// CancelOrder is the store owner backing out of a pending order; the
// reservation goes back to the pool.
func (s *Service) CancelOrder(ctx context.Context, orderID, actingStoreID string) error {
	o, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o.StoreID != actingStoreID {
		return orders.ErrNotFound
	}

	applied, current, err := s.Orders.TransitionIf(ctx, orderID, orders.StatusPending, orders.StatusCancelled)
	if err != nil && !errors.Is(err, orders.ErrInvalidState) {
		return err
	}
	if !applied {
		return fmt.Errorf("%w: only pending orders can be cancelled (order is %s)", orders.ErrInvalidState, current)
	}

	items, err := s.Orders.Items(ctx, orderID)
	if err != nil {
		return err
	}
	s.releaseAll(ctx, items)
	s.publishStatus(ctx, orderID, orders.StatusPending, orders.StatusCancelled, "")
	return nil
}

// UpdateStatus handles the owner's fulfilled/refunded transitions. Marking an
// already-completed order completed is a no-op that reports success; the
// reservation was consummated at payment time so neither target moves stock.
func (s *Service) UpdateStatus(ctx context.Context, orderID, actingStoreID string, target orders.Status) error {
	if target != orders.StatusCompleted && target != orders.StatusRefunded {
		return fmt.Errorf("%w: status must be completed or refunded", orders.ErrValidation)
	}

	o, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o.StoreID != actingStoreID {
		return orders.ErrNotFound
	}

	switch target {
	case orders.StatusCompleted:
		if o.Status == orders.StatusCompleted {
			return nil // idempotent
		}
		applied, current, err := s.Orders.TransitionIf(ctx, orderID, orders.StatusPaid, orders.StatusCompleted)
		if err != nil && !errors.Is(err, orders.ErrInvalidState) {
			return err
		}
		if !applied {
			if current == orders.StatusCompleted {
				return nil
			}
			return fmt.Errorf("%w: only paid orders can be completed (order is %s)", orders.ErrInvalidState, current)
		}
		s.publishStatus(ctx, orderID, orders.StatusPaid, orders.StatusCompleted, "")
		return nil

	case orders.StatusRefunded:
		from := o.Status
		if from != orders.StatusPaid && from != orders.StatusCompleted {
			return fmt.Errorf("%w: only paid or completed orders can be refunded (order is %s)", orders.ErrInvalidState, from)
		}
		applied, current, err := s.Orders.TransitionIf(ctx, orderID, from, orders.StatusRefunded)
		if err != nil && !errors.Is(err, orders.ErrInvalidState) {
			return err
		}
		if !applied {
			return fmt.Errorf("%w: order is %s", orders.ErrInvalidState, current)
		}
		// No stock return on refund; restocking is the owner's call.
		s.publishStatus(ctx, orderID, from, orders.StatusRefunded, "")
		return nil
	}
	return nil
}

func (s *Service) publishCreated(ctx context.Context, o *orders.Order, items []orders.OrderItem) {
	if s.Created == nil {
		return
	}
	qtys := make([]orders.ItemQty, 0, len(items))
	for _, it := range items {
		qtys = append(qtys, orders.ItemQty{ProductID: it.ProductID, Qty: it.Qty})
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderCreated,
		EventVersion:  1,
		OccurredAt:    s.now(),
		Producer:      s.ServiceName,
		TraceID:       middleware.GetReqID(ctx),
		CorrelationID: o.ID,
		Payload: kafkax.MustMarshal(orders.OrderCreatedPayload{
			OrderID:   o.ID,
			StoreID:   o.StoreID,
			Items:     qtys,
			TotalKobo: o.TotalKobo,
		}),
	}
	s.Created.Publish(orders.PartitionKey(o.ID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderCreated)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (s *Service) publishStatus(ctx context.Context, orderID string, from, to orders.Status, reason string) {
	if s.Changed == nil {
		return
	}
	eventType := orders.StatusEvent(to)
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    s.now(),
		Producer:      s.ServiceName,
		TraceID:       middleware.GetReqID(ctx),
		CorrelationID: orderID,
		Payload: kafkax.MustMarshal(orders.StatusChangedPayload{
			OrderID: orderID,
			From:    from,
			To:      to,
			Reason:  reason,
		}),
	}
	s.Changed.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
