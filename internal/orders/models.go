package orders

import "time"

type Product struct {
	ID               string
	StoreID          string
	Name             string
	Slug             string
	PriceKobo        int
	StockQty         int
	SoldQty          int
	IsActive         bool
	AutoDisableOnOOS bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Order struct {
	ID              string
	StoreID         string
	CustomerName    string
	CustomerPhone   string
	CustomerEmail   string
	CustomerAddress string
	TotalKobo       int
	Status          Status // see status.go
	ReservedUntil   time.Time
	PaymentRef      string
	PaidAt          *time.Time
	CompletedAt     *time.Time
	RefundedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderItem snapshots the product at order-creation time so later catalog
// edits never change historical orders.
type OrderItem struct {
	ID            string
	OrderID       string
	ProductID     string
	ProductName   string
	Qty           int
	PriceEachKobo int
}

type ItemInput struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type CustomerInfo struct {
	Name    string `json:"customer_name"`
	Phone   string `json:"customer_phone"`
	Email   string `json:"customer_email"`
	Address string `json:"customer_address"`
}
