package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/damilare/storelink/internal/orders"
	"github.com/damilare/storelink/internal/stores"
)

func TestStartCheckout_Success(t *testing.T) {
	stock := newMemStock(testProduct("p1", 5000, 5), testProduct("p2", 1200, 10))
	repo := newMemOrders()
	gw := &fakeGateway{}
	svc := newTestService(stock, repo, gw)

	res, err := svc.StartCheckout(context.Background(), CheckoutInput{
		StoreSlug: "ada-stores",
		Items: []orders.ItemInput{
			{ProductID: "p1", Qty: 3},
			{ProductID: "p2", Qty: 2},
		},
		Customer: orders.CustomerInfo{Email: "buyer@example.com"},
	})
	require.NoError(t, err)

	assert.Equal(t, 3*5000+2*1200, res.TotalKobo)
	assert.NotEmpty(t, res.AuthorizationURL)
	assert.Equal(t, "order_"+res.OrderID, res.Reference)

	assert.Equal(t, 2, stock.available("p1"))
	assert.Equal(t, 8, stock.available("p2"))

	o, err := repo.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Equal(t, res.Reference, o.PaymentRef)
	assert.False(t, o.ReservedUntil.IsZero())

	// snapshot prices, not live ones
	items, _ := repo.Items(context.Background(), res.OrderID)
	require.Len(t, items, 2)
	total := 0
	for _, it := range items {
		total += it.PriceEachKobo * it.Qty
	}
	assert.Equal(t, o.TotalKobo, total)
}

func TestStartCheckout_ValidationErrors(t *testing.T) {
	stock := newMemStock(testProduct("p1", 5000, 5))
	svc := newTestService(stock, newMemOrders(), &fakeGateway{})
	ctx := context.Background()

	_, err := svc.StartCheckout(ctx, CheckoutInput{StoreSlug: "ada-stores", Items: []orders.ItemInput{{ProductID: "p1", Qty: 1}}})
	assert.ErrorIs(t, err, orders.ErrValidation, "missing email")

	_, err = svc.StartCheckout(ctx, CheckoutInput{StoreSlug: "ada-stores", Customer: orders.CustomerInfo{Email: "a@b.c"}})
	assert.ErrorIs(t, err, orders.ErrValidation, "no items")

	_, err = svc.StartCheckout(ctx, CheckoutInput{
		StoreSlug: "ada-stores",
		Items:     []orders.ItemInput{{ProductID: "p1", Qty: 0}},
		Customer:  orders.CustomerInfo{Email: "a@b.c"},
	})
	assert.ErrorIs(t, err, orders.ErrValidation, "zero qty")

	_, err = svc.StartCheckout(ctx, CheckoutInput{
		StoreSlug: "ada-stores",
		Items:     []orders.ItemInput{{ProductID: "missing", Qty: 1}},
		Customer:  orders.CustomerInfo{Email: "a@b.c"},
	})
	assert.ErrorIs(t, err, orders.ErrProductNotFound)

	// nothing was reserved by any of the failed attempts
	assert.Equal(t, 5, stock.available("p1"))
}

func TestStartCheckout_StoreNotReadyForPayments(t *testing.T) {
	stock := newMemStock(testProduct("p1", 5000, 5))
	svc := newTestService(stock, newMemOrders(), &fakeGateway{})
	noSub := testStore()
	noSub.SubaccountCode = ""
	svc.Stores = &fakeDirectory{bySlug: map[string]stores.Store{"ada-stores": noSub}}

	_, err := svc.StartCheckout(context.Background(), CheckoutInput{
		StoreSlug: "ada-stores",
		Items:     []orders.ItemInput{{ProductID: "p1", Qty: 1}},
		Customer:  orders.CustomerInfo{Email: "a@b.c"},
	})
	assert.ErrorIs(t, err, orders.ErrValidation)
	assert.Equal(t, 5, stock.available("p1"))
}

func TestStartCheckout_InactiveProduct(t *testing.T) {
	p := testProduct("p1", 5000, 5)
	p.IsActive = false
	svc := newTestService(newMemStock(p), newMemOrders(), &fakeGateway{})

	_, err := svc.StartCheckout(context.Background(), CheckoutInput{
		StoreSlug: "ada-stores",
		Items:     []orders.ItemInput{{ProductID: "p1", Qty: 1}},
		Customer:  orders.CustomerInfo{Email: "a@b.c"},
	})
	assert.ErrorIs(t, err, orders.ErrValidation)
}

// racingLedger simulates a competitor snatching p2 between the catalog
// pre-check and our reservation.
type racingLedger struct {
	*memStock
	victim string
}

func (r *racingLedger) Reserve(ctx context.Context, productID string, qty int) error {
	if productID == r.victim {
		_ = r.memStock.Reserve(ctx, productID, r.memStock.available(productID)) // competitor drains it
	}
	return r.memStock.Reserve(ctx, productID, qty)
}

func TestStartCheckout_PartialReservationCompensates(t *testing.T) {
	// p2 passes the catalog pre-check but a competing reservation drains it
	// before our reserve lands, so the saga must release p1 again.
	stock := newMemStock(testProduct("p1", 5000, 5), testProduct("p2", 1200, 2))
	repo := newMemOrders()
	svc := newTestService(stock, repo, &fakeGateway{})
	svc.Stock = &racingLedger{memStock: stock, victim: "p2"}

	_, err := svc.StartCheckout(context.Background(), CheckoutInput{
		StoreSlug: "ada-stores",
		Items: []orders.ItemInput{
			{ProductID: "p1", Qty: 2},
			{ProductID: "p2", Qty: 2},
		},
		Customer: orders.CustomerInfo{Email: "a@b.c"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, orders.ErrInsufficientStock)

	// p1's reservation was compensated in full
	assert.Equal(t, 5, stock.available("p1"))

	// and the order parked in failed
	for id := range repo.byID {
		o, _ := repo.Get(context.Background(), id)
		assert.Equal(t, orders.StatusFailed, o.Status)
	}
}

func TestStartCheckout_GatewayInitFailureReleasesStock(t *testing.T) {
	stock := newMemStock(testProduct("p1", 5000, 5))
	repo := newMemOrders()
	gw := &fakeGateway{initErr: errors.New("provider down")}
	svc := newTestService(stock, repo, gw)

	res, err := svc.StartCheckout(context.Background(), CheckoutInput{
		StoreSlug: "ada-stores",
		Items:     []orders.ItemInput{{ProductID: "p1", Qty: 3}},
		Customer:  orders.CustomerInfo{Email: "a@b.c"},
	})
	require.Error(t, err)
	assert.Empty(t, res.AuthorizationURL)

	assert.Equal(t, 5, stock.available("p1"))

	// the one order that exists moved to failed
	for id := range repo.byID {
		st, _ := repo.Get(context.Background(), id)
		assert.Equal(t, orders.StatusFailed, st.Status)
	}
}

// Two concurrent checkouts race for the last unit; exactly one wins.
func TestStartCheckout_ConcurrentLastUnit(t *testing.T) {
	stock := newMemStock(testProduct("p1", 5000, 1))
	repo := newMemOrders()
	svc := newTestService(stock, repo, &fakeGateway{})

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.StartCheckout(context.Background(), CheckoutInput{
				StoreSlug: "ada-stores",
				Items:     []orders.ItemInput{{ProductID: "p1", Qty: 1}},
				Customer:  orders.CustomerInfo{Email: "a@b.c"},
			})
		}(i)
	}
	wg.Wait()

	var okCount, stockErrCount int
	for _, err := range results {
		switch {
		case err == nil:
			okCount++
		case errors.Is(err, orders.ErrInsufficientStock):
			stockErrCount++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, okCount)
	assert.Equal(t, 1, stockErrCount)
	assert.Equal(t, 0, stock.available("p1"))
}

func TestCancelOrder_RestoresStock(t *testing.T) {
	stock := newMemStock(testProduct("p1", 5000, 5))
	repo := newMemOrders()
	svc := newTestService(stock, repo, &fakeGateway{})
	ctx := context.Background()

	res, err := svc.StartCheckout(ctx, CheckoutInput{
		StoreSlug: "ada-stores",
		Items:     []orders.ItemInput{{ProductID: "p1", Qty: 3}},
		Customer:  orders.CustomerInfo{Email: "a@b.c"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stock.available("p1"))

	require.NoError(t, svc.CancelOrder(ctx, res.OrderID, "store-1"))
	assert.Equal(t, 5, stock.available("p1"))

	o, _ := repo.Get(ctx, res.OrderID)
	assert.Equal(t, orders.StatusCancelled, o.Status)

	// cancelling again is an invalid-state error, not a second release
	err = svc.CancelOrder(ctx, res.OrderID, "store-1")
	assert.ErrorIs(t, err, orders.ErrInvalidState)
	assert.Equal(t, 5, stock.available("p1"))
}

func TestCancelOrder_WrongStore(t *testing.T) {
	stock := newMemStock(testProduct("p1", 5000, 5))
	repo := newMemOrders()
	svc := newTestService(stock, repo, &fakeGateway{})
	ctx := context.Background()

	res, err := svc.StartCheckout(ctx, CheckoutInput{
		StoreSlug: "ada-stores",
		Items:     []orders.ItemInput{{ProductID: "p1", Qty: 1}},
		Customer:  orders.CustomerInfo{Email: "a@b.c"},
	})
	require.NoError(t, err)

	err = svc.CancelOrder(ctx, res.OrderID, "someone-else")
	assert.ErrorIs(t, err, orders.ErrNotFound)
	assert.Equal(t, 4, stock.available("p1"))
}

func TestUpdateStatus_CompleteAndRefund(t *testing.T) {
	stock := newMemStock(testProduct("p1", 5000, 5))
	repo := newMemOrders()
	gw := &fakeGateway{}
	svc := newTestService(stock, repo, gw)
	ctx := context.Background()

	res, err := svc.StartCheckout(ctx, CheckoutInput{
		StoreSlug: "ada-stores",
		Items:     []orders.ItemInput{{ProductID: "p1", Qty: 1}},
		Customer:  orders.CustomerInfo{Email: "a@b.c"},
	})
	require.NoError(t, err)

	// completing a pending order is refused
	err = svc.UpdateStatus(ctx, res.OrderID, "store-1", orders.StatusCompleted)
	assert.ErrorIs(t, err, orders.ErrInvalidState)

	gw.verify = verification(res.OrderID, true)
	_, err = svc.ConfirmPayment(ctx, res.Reference)
	require.NoError(t, err)

	require.NoError(t, svc.UpdateStatus(ctx, res.OrderID, "store-1", orders.StatusCompleted))
	o, _ := repo.Get(ctx, res.OrderID)
	assert.Equal(t, orders.StatusCompleted, o.Status)
	require.NotNil(t, o.CompletedAt)

	// marking completed twice is a quiet no-op
	require.NoError(t, svc.UpdateStatus(ctx, res.OrderID, "store-1", orders.StatusCompleted))

	require.NoError(t, svc.UpdateStatus(ctx, res.OrderID, "store-1", orders.StatusRefunded))
	o, _ = repo.Get(ctx, res.OrderID)
	assert.Equal(t, orders.StatusRefunded, o.Status)
	require.NotNil(t, o.RefundedAt)

	// refunds do not restock
	assert.Equal(t, 4, stock.available("p1"))

	err = svc.UpdateStatus(ctx, res.OrderID, "store-1", orders.StatusPaid)
	assert.ErrorIs(t, err, orders.ErrValidation)
}
