package orders

import "errors"

var (
	ErrNotFound          = errors.New("order not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidState      = errors.New("invalid order state")
	ErrValidation        = errors.New("invalid input")
	ErrUnauthorized      = errors.New("order does not belong to store")
)
