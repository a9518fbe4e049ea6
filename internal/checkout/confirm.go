package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/damilare/storelink/internal/orders"
	"github.com/damilare/storelink/internal/paystack"
	"github.com/damilare/storelink/internal/redisx"
)

type ConfirmResult struct {
	OrderID          string
	AlreadyConfirmed bool
}

// ConfirmPayment settles an order from an untrusted, possibly replayed
// payment reference. A gateway timeout mutates nothing and is retryable with
// the same reference; a decline fails the order and frees its stock; success
// wins the pending→paid compare-and-set exactly once and finalizes the
// reservation. Duplicate callbacks land on the already-paid guard and return
// success without touching stock again.
func (s *Service) ConfirmPayment(ctx context.Context, reference string) (ConfirmResult, error) {
	if reference == "" {
		return ConfirmResult{}, fmt.Errorf("%w: missing reference", orders.ErrValidation)
	}

	// Fast-path: a reference we already settled. Redis only short-circuits
	// the gateway round trip; the DB status check below remains the guard
	// of record.
	if s.Redis != nil {
		if seen, _ := redisx.Exists(ctx, s.Redis, fmt.Sprintf(redisx.KeyConfirmSeen, reference)); seen {
			if o, err := s.Orders.Get(ctx, strings.TrimPrefix(reference, "order_")); err == nil &&
				(o.Status == orders.StatusPaid || o.Status == orders.StatusCompleted) {
				return ConfirmResult{OrderID: o.ID, AlreadyConfirmed: true}, nil
			}
		}
	}

	v, err := s.Gateway.Verify(ctx, reference)
	if errors.Is(err, paystack.ErrGatewayTimeout) {
		// Nothing happened yet; the caller retries the same reference.
		return ConfirmResult{}, err
	}

	orderID := v.OrderID
	if orderID == "" {
		orderID = strings.TrimPrefix(reference, "order_")
	}

	var ge *paystack.GatewayError
	if errors.As(err, &ge) || (err == nil && !v.Succeeded) {
		return s.failPayment(ctx, orderID, v, ge)
	}
	if err != nil {
		return ConfirmResult{}, err
	}

	o, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		return ConfirmResult{}, err
	}

	// Idempotence guard against duplicate callbacks.
	if o.Status == orders.StatusPaid || o.Status == orders.StatusCompleted {
		s.markConfirmed(ctx, reference)
		return ConfirmResult{OrderID: o.ID, AlreadyConfirmed: true}, nil
	}

	applied, current, err := s.Orders.TransitionIf(ctx, o.ID, orders.StatusPending, orders.StatusPaid)
	if err != nil && !errors.Is(err, orders.ErrInvalidState) {
		return ConfirmResult{}, err
	}
	if !applied {
		if current == orders.StatusPaid || current == orders.StatusCompleted {
			// A concurrent callback won the CAS and finalized already.
			s.markConfirmed(ctx, reference)
			return ConfirmResult{OrderID: o.ID, AlreadyConfirmed: true}, nil
		}
		// Expired, cancelled or failed underneath us: the money needs manual
		// attention, the stock must not move again.
		return ConfirmResult{}, fmt.Errorf("%w: order is %s", orders.ErrInvalidState, current)
	}

	// This caller won the CAS; it alone consummates the reservation.
	items, err := s.Orders.Items(ctx, o.ID)
	if err != nil {
		return ConfirmResult{}, err
	}
	for _, it := range items {
		if err := s.Stock.Finalize(ctx, it.ProductID, it.Qty); err != nil {
			slog.Error("finalize stock", "order_id", o.ID, "product_id", it.ProductID, "err", err)
		}
	}

	s.markConfirmed(ctx, reference)
	s.publishStatus(ctx, o.ID, orders.StatusPending, orders.StatusPaid, "")
	return ConfirmResult{OrderID: o.ID}, nil
}

// failPayment handles a definitive decline: fail the order while it is still
// pending and return its reservation to the pool. If the order already left
// pending (reaper, cancel, concurrent confirm) nothing moves.
func (s *Service) failPayment(ctx context.Context, orderID string, v paystack.Verification, ge *paystack.GatewayError) (ConfirmResult, error) {
	reason := "PAYMENT_DECLINED"
	if ge != nil {
		reason = "GATEWAY_ERROR"
	}

	applied, _, err := s.Orders.TransitionIf(ctx, orderID, orders.StatusPending, orders.StatusFailed)
	if err != nil && !errors.Is(err, orders.ErrInvalidState) && !errors.Is(err, orders.ErrNotFound) {
		return ConfirmResult{}, err
	}
	if applied {
		items, err := s.Orders.Items(ctx, orderID)
		if err != nil {
			return ConfirmResult{}, err
		}
		s.releaseAll(ctx, items)
		s.publishStatus(ctx, orderID, orders.StatusPending, orders.StatusFailed, reason)
	}

	if ge != nil {
		return ConfirmResult{}, fmt.Errorf("%w: %s", ErrPaymentFailed, ge.Message)
	}
	return ConfirmResult{}, fmt.Errorf("%w: gateway status %q", ErrPaymentFailed, v.GatewayStatus)
}

func (s *Service) markConfirmed(ctx context.Context, reference string) {
	if s.Redis == nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyConfirmSeen, reference)
	if err := s.Redis.Set(ctx, key, "1", redisx.TTLConfirmSeen).Err(); err != nil {
		slog.Warn("confirm dedup key", "reference", reference, "err", err)
	}
}
