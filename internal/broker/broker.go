// Package broker is the order-placement boundary: a paper broker for
// simulation and an HTTP broker for an Alpaca-style trading API.
package broker

import (
	"context"
	"errors"
	"time"
)

var (
	ErrRejected  = errors.New("order rejected")
	ErrNotFound  = errors.New("order not found")
	ErrDuplicate = errors.New("duplicate order")
)

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

type Asset string

const (
	Equity Asset = "us_equity"
	Option Asset = "us_option"
)

type Status string

const (
	StatusNew             Status = "new"
	StatusPartiallyFilled Status = "partially_filled"
	StatusFilled          Status = "filled"
	StatusRejected        Status = "rejected"
	StatusCanceled        Status = "canceled"
)

// OrderRequest is a market order unless LimitPrice is set.
type OrderRequest struct {
	ClientOrderID  string
	PositionID     string
	Symbol         string // ticker, or OCC symbol for options
	Asset          Asset
	Side           Side
	Quantity       int
	LimitPrice     float64
	Intent         string // OPEN | CLOSE
	IdempotencyKey string
}

type Order struct {
	ID             string    `json:"id"`
	ClientOrderID  string    `json:"client_order_id"`
	Symbol         string    `json:"symbol"`
	Asset          Asset     `json:"asset"`
	Side           Side      `json:"side"`
	Quantity       int       `json:"quantity"`
	Status         Status    `json:"status"`
	FilledQuantity int       `json:"filled_quantity"`
	FilledAvgPrice float64   `json:"filled_avg_price"`
	SubmittedAt    time.Time `json:"submitted_at"`
	FilledAt       time.Time `json:"filled_at,omitempty"`
	RejectReason   string    `json:"reject_reason,omitempty"`
}

// Terminal reports whether the order can no longer change.
func (o Order) Terminal() bool {
	return o.Status == StatusFilled || o.Status == StatusRejected || o.Status == StatusCanceled
}

// Position is the broker's view of a holding. Quantity is negative when short.
type Position struct {
	Symbol   string  `json:"symbol"`
	Asset    Asset   `json:"asset"`
	Quantity int     `json:"quantity"`
	AvgPrice float64 `json:"avg_price"`
}

type Account struct {
	Cash        float64 `json:"cash"`
	BuyingPower float64 `json:"buying_power"`
	Equity      float64 `json:"equity"`
}

type Broker interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (Order, error)
	GetOrderStatus(ctx context.Context, id string) (Order, error)
	GetPositions(ctx context.Context) ([]Position, error)
	GetAccount(ctx context.Context) (Account, error)
	CancelOrder(ctx context.Context, id string) error
}

func multiplier(a Asset) int {
	if a == Option {
		return 100
	}
	return 1
}
