package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/damilare/storelink/internal/orders"
	"github.com/damilare/storelink/internal/paystack"
	"github.com/damilare/storelink/internal/stores"
)

type memOrders struct {
	mu    sync.Mutex
	byID  map[string]*orders.Order
	items map[string][]orders.OrderItem
}

func newMemOrders() *memOrders {
	return &memOrders{byID: map[string]*orders.Order{}, items: map[string][]orders.OrderItem{}}
}

func (m *memOrders) CreateWithItems(_ context.Context, o *orders.Order, items []orders.OrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.ID = uuid.NewString()
	o.Status = orders.StatusPending
	o.CreatedAt = time.Now()
	cp := *o
	m.byID[o.ID] = &cp
	for i := range items {
		items[i].ID = uuid.NewString()
		items[i].OrderID = o.ID
	}
	m.items[o.ID] = append([]orders.OrderItem(nil), items...)
	return nil
}

func (m *memOrders) Get(_ context.Context, orderID string) (orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[orderID]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return *o, nil
}

func (m *memOrders) Items(_ context.Context, orderID string) ([]orders.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]orders.OrderItem(nil), m.items[orderID]...), nil
}

func (m *memOrders) TransitionIf(_ context.Context, orderID string, from, to orders.Status) (bool, orders.Status, error) {
	if !orders.CanTransition(from, to) {
		return false, from, orders.ErrInvalidState
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[orderID]
	if !ok {
		return false, "", orders.ErrNotFound
	}
	if o.Status != from {
		return false, o.Status, nil
	}
	o.Status = to
	now := time.Now()
	switch to {
	case orders.StatusPaid:
		o.PaidAt = &now
	case orders.StatusCompleted:
		o.CompletedAt = &now
	case orders.StatusRefunded:
		o.RefundedAt = &now
	}
	return true, to, nil
}

func (m *memOrders) SetPaymentRef(_ context.Context, orderID, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[orderID]
	if !ok {
		return orders.ErrNotFound
	}
	if o.PaymentRef != "" {
		return orders.ErrInvalidState
	}
	o.PaymentRef = ref
	return nil
}

// memStock mirrors the SQL ledger's semantics: the reserve is a conditional
// compare-and-decrement under one lock, so concurrent tests exercise the
// same no-oversell guarantee.
type memStock struct {
	mu       sync.Mutex
	products map[string]*orders.Product
	sold     map[string]int
}

func newMemStock(products ...orders.Product) *memStock {
	m := &memStock{products: map[string]*orders.Product{}, sold: map[string]int{}}
	for _, p := range products {
		cp := p
		m.products[p.ID] = &cp
	}
	return m
}

func (m *memStock) Reserve(_ context.Context, productID string, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok || p.StockQty < qty {
		return orders.ErrInsufficientStock
	}
	p.StockQty -= qty
	if p.StockQty == 0 && p.AutoDisableOnOOS {
		p.IsActive = false
	}
	return nil
}

func (m *memStock) Release(_ context.Context, productID string, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.products[productID]; ok {
		p.StockQty += qty
	}
	return nil
}

func (m *memStock) Finalize(_ context.Context, productID string, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sold[productID] += qty
	return nil
}

func (m *memStock) ProductsForStore(_ context.Context, storeID string, ids []string) ([]orders.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []orders.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok && p.StoreID == storeID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memStock) available(productID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[productID].StockQty
}

func (m *memStock) soldQty(productID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sold[productID]
}

type fakeDirectory struct{ bySlug map[string]stores.Store }

func (f *fakeDirectory) GetBySlug(_ context.Context, slug string) (stores.Store, error) {
	s, ok := f.bySlug[slug]
	if !ok {
		return stores.Store{}, stores.ErrNotFound
	}
	return s, nil
}

type fakeGateway struct {
	mu         sync.Mutex
	initErr    error
	verify     paystack.Verification
	verifyErr  error
	initCalls  int
	verifyCall int
}

func (f *fakeGateway) Initialize(_ context.Context, req paystack.InitializeRequest) (paystack.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	if f.initErr != nil {
		return paystack.Session{}, f.initErr
	}
	return paystack.Session{
		AuthorizationURL: "https://checkout.paystack.test/" + req.Reference,
		Reference:        req.Reference,
	}, nil
}

func (f *fakeGateway) Verify(_ context.Context, _ string) (paystack.Verification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCall++
	if f.verifyErr != nil {
		return paystack.Verification{}, f.verifyErr
	}
	return f.verify, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events [][]byte
}

func (f *fakePublisher) Publish(_, value []byte, _ ...kafkago.Header) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, value)
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func testStore() stores.Store {
	return stores.Store{ID: "store-1", Slug: "ada-stores", SubaccountCode: "ACCT_x1"}
}

func testProduct(id string, price, stock int) orders.Product {
	return orders.Product{
		ID:        id,
		StoreID:   "store-1",
		Name:      "Product " + id,
		PriceKobo: price,
		StockQty:  stock,
		IsActive:  true,
	}
}

func newTestService(stock *memStock, repo *memOrders, gw *fakeGateway) *Service {
	return &Service{
		Orders:            repo,
		Stock:             stock,
		Stores:            &fakeDirectory{bySlug: map[string]stores.Store{"ada-stores": testStore()}},
		Gateway:           gw,
		Created:           &fakePublisher{},
		Changed:           &fakePublisher{},
		ServiceName:       "test",
		CallbackURL:       "http://localhost/payment/callback",
		ReservationWindow: 15 * time.Minute,
	}
}
