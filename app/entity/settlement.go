package entity

import "time"

const (
	DeliveryNone    int32 = 0
	DeliveryPending int32 = 1
	DeliverySuccess int32 = 10
	DeliveryFailed  int32 = 20
)

// Settlement is written once per payment_id when its orders first become paid
// and is handed to the downstream activation service by the dispatch job.
type Settlement struct {
	ID         uint64
	PaymentID  string
	UserID     string
	OrderCount int32

	DeliveryStatus   int32
	DeliveryAttempts int32
	DeliveryNextAt   *time.Time
	DeliveryLastErr  *string

	CreatedAt time.Time
	UpdatedAt time.Time
}
