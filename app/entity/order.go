package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderStatusPending    = "pending"
	OrderStatusConfirming = "confirming"
	OrderStatusPaid       = "paid"
	OrderStatusFailed     = "failed"
	OrderStatusRefunded   = "refunded"
	OrderStatusExpired    = "expired"
)

// Order is one purchased catalog item. All orders created by a single checkout
// share PaymentID and move through payment states together.
type Order struct {
	ID        string
	UserID    string
	ServiceID string

	BTCAddress *string
	BTCAmount  *decimal.Decimal

	Status        string
	PaymentStatus string
	PaymentID     string

	CustomerEmail string
	Instructions  *string

	CreatedAt          time.Time
	UpdatedAt          time.Time
	PaymentConfirmedAt *time.Time
}

func (o *Order) IsPaid() bool {
	return o != nil && o.PaymentStatus == OrderStatusPaid
}
