package service

import (
	"context"
	"strings"

	"github.com/vibast-solutions/ms-go-checkout/app/entity"
)

type listOrdersRequest interface {
	GetPaymentID() string
}

type orderLister interface {
	ListByPaymentID(ctx context.Context, paymentID string) ([]*entity.Order, error)
}

type settlementFinder interface {
	FindByPaymentID(ctx context.Context, paymentID string) (*entity.Settlement, error)
}

// OrderLookup is every order sharing one payment_id plus its settlement, which
// stays nil until the payment is paid.
type OrderLookup struct {
	Orders     []*entity.Order
	Settlement *entity.Settlement
}

type OrderService struct {
	orders      orderLister
	settlements settlementFinder
}

func NewOrderService(orders orderLister, settlements settlementFinder) *OrderService {
	return &OrderService{orders: orders, settlements: settlements}
}

func (s *OrderService) ListOrders(ctx context.Context, req listOrdersRequest) (*OrderLookup, error) {
	paymentID := strings.TrimSpace(req.GetPaymentID())
	if paymentID == "" {
		return nil, ErrMissingPaymentID
	}

	orders, err := s.orders.ListByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	lookup := &OrderLookup{Orders: orders}
	if len(orders) == 0 {
		return lookup, nil
	}

	settlement, err := s.settlements.FindByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	lookup.Settlement = settlement

	return lookup, nil
}
