package stores

import (
	"context"
	"errors"
	"fmt"

	"github.com/damilare/storelink/internal/paystack"
)

var ErrMissingFields = errors.New("business name, bank code and account number are required")

// Directory is the slice of Repo the payout service needs.
type Directory interface {
	GetByID(ctx context.Context, id string) (Store, error)
	SetSubaccountCode(ctx context.Context, storeID, code string) error
}

type SubaccountCreator interface {
	CreateSubaccount(ctx context.Context, req paystack.SubaccountRequest) (string, error)
}

// PayoutService onboards a store for split settlement: it registers a
// subaccount at the gateway and records the code. A store cannot take
// checkouts until this ran.
type PayoutService struct {
	Stores  Directory
	Gateway SubaccountCreator
}

type PayoutInput struct {
	BusinessName     string  `json:"business_name"`
	BankCode         string  `json:"bank_code"`
	AccountNumber    string  `json:"account_number"`
	PercentageCharge float64 `json:"percentage_charge"`
}

func (s *PayoutService) Connect(ctx context.Context, storeID string, in PayoutInput) (string, error) {
	if in.BusinessName == "" || in.BankCode == "" || in.AccountNumber == "" {
		return "", ErrMissingFields
	}
	if _, err := s.Stores.GetByID(ctx, storeID); err != nil {
		return "", err
	}

	code, err := s.Gateway.CreateSubaccount(ctx, paystack.SubaccountRequest{
		BusinessName:     in.BusinessName,
		BankCode:         in.BankCode,
		AccountNumber:    in.AccountNumber,
		PercentageCharge: in.PercentageCharge,
	})
	if err != nil {
		return "", fmt.Errorf("create subaccount: %w", err)
	}

	if err := s.Stores.SetSubaccountCode(ctx, storeID, code); err != nil {
		return "", err
	}
	return code, nil
}
