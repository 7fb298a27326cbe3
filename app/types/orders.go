package types

import (
	"errors"
	"strings"

	"github.com/labstack/echo/v4"
)

type ListOrdersRequest struct {
	PaymentID string
}

func NewListOrdersRequestFromContext(ctx echo.Context) (*ListOrdersRequest, error) {
	return &ListOrdersRequest{PaymentID: strings.TrimSpace(ctx.QueryParam("payment_id"))}, nil
}

func (r *ListOrdersRequest) Validate() error {
	if r.PaymentID == "" {
		return errors.New("payment_id is required")
	}
	return nil
}

func (r *ListOrdersRequest) GetPaymentID() string { return r.PaymentID }

type OrderResponse struct {
	ID                 string  `json:"id"`
	UserID             string  `json:"user_id"`
	ServiceID          string  `json:"service_id"`
	BTCAddress         *string `json:"btc_address"`
	BTCAmount          *string `json:"btc_amount"`
	Status             string  `json:"status"`
	PaymentStatus      string  `json:"payment_status"`
	PaymentID          string  `json:"payment_id"`
	CustomerEmail      string  `json:"customer_email"`
	Instructions       *string `json:"instructions"`
	CreatedAt          string  `json:"created_at"`
	UpdatedAt          string  `json:"updated_at"`
	PaymentConfirmedAt *string `json:"payment_confirmed_at"`
}

type SettlementResponse struct {
	DeliveryStatus    string  `json:"delivery_status"`
	DeliveryAttempts  int32   `json:"delivery_attempts"`
	DeliveryNextAt    *string `json:"delivery_next_at"`
	DeliveryLastError *string `json:"delivery_last_error"`
	CreatedAt         string  `json:"created_at"`
}

type ListOrdersResponse struct {
	Orders     []*OrderResponse    `json:"orders"`
	Settlement *SettlementResponse `json:"settlement"`
}

// ActivationRequest is posted to the activation service once a payment settles.
type ActivationRequest struct {
	PaymentID  string           `json:"payment_id"`
	UserID     string           `json:"user_id"`
	OrderCount int32            `json:"order_count"`
	Orders     []*OrderResponse `json:"orders"`
}
