package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vibast-solutions/ms-go-checkout/app/entity"
	"github.com/vibast-solutions/ms-go-checkout/app/provider"
	"github.com/vibast-solutions/ms-go-checkout/app/repository"
)

// memoryOrderRepo mirrors the conditional update semantics of the SQL
// repositories.
type memoryOrderRepo struct {
	mu          sync.Mutex
	orders      []*entity.Order
	settlements []*entity.Settlement
	nextID      uint64

	createErr error
	findErr   error
	applyErr  error
	expireErr error
}

func (r *memoryOrderRepo) CreateBatch(_ context.Context, orders []*entity.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	for _, order := range orders {
		copyItem := *order
		r.orders = append(r.orders, &copyItem)
	}
	return nil
}

func (r *memoryOrderRepo) FindFirstByPaymentID(_ context.Context, paymentID string) (*entity.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	for _, order := range r.orders {
		if order.PaymentID == paymentID {
			copyItem := *order
			return &copyItem, nil
		}
	}
	return nil, nil
}

func (r *memoryOrderRepo) ListByPaymentID(_ context.Context, paymentID string) ([]*entity.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]*entity.Order, 0)
	for _, order := range r.orders {
		if order.PaymentID == paymentID {
			copyItem := *order
			items = append(items, &copyItem)
		}
	}
	return items, nil
}

func (r *memoryOrderRepo) ApplyPaymentStatus(_ context.Context, update *repository.PaymentStatusUpdate) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applyErr != nil {
		return 0, r.applyErr
	}

	var affected int64
	for _, order := range r.orders {
		if order.PaymentID != update.PaymentID || order.PaymentStatus == entity.OrderStatusPaid {
			continue
		}
		order.PaymentStatus = update.PaymentStatus
		order.Status = update.Status
		order.UpdatedAt = update.UpdatedAt
		if update.ConfirmedAt != nil {
			confirmedAt := *update.ConfirmedAt
			order.PaymentConfirmedAt = &confirmedAt
		}
		affected++
	}

	if affected > 0 && update.Settlement != nil {
		update.Settlement.OrderCount = int32(affected)
		for _, existing := range r.settlements {
			if existing.PaymentID == update.Settlement.PaymentID {
				return affected, nil
			}
		}
		r.nextID++
		update.Settlement.ID = r.nextID
		copyItem := *update.Settlement
		r.settlements = append(r.settlements, &copyItem)
	}
	return affected, nil
}

func (r *memoryOrderRepo) ListStalePendingPaymentIDs(_ context.Context, cutoff time.Time, limit int32) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]bool{}
	ids := make([]string, 0)
	for _, order := range r.orders {
		if order.PaymentStatus != entity.OrderStatusPending || order.CreatedAt.After(cutoff) || seen[order.PaymentID] {
			continue
		}
		seen[order.PaymentID] = true
		ids = append(ids, order.PaymentID)
	}
	sort.Strings(ids)
	if limit > 0 && int(limit) < len(ids) {
		ids = ids[:limit]
	}
	return ids, nil
}

func (r *memoryOrderRepo) ExpirePending(_ context.Context, paymentID string, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.expireErr != nil {
		return 0, r.expireErr
	}
	var affected int64
	for _, order := range r.orders {
		if order.PaymentID == paymentID && order.PaymentStatus == entity.OrderStatusPending {
			order.PaymentStatus = entity.OrderStatusExpired
			order.Status = entity.OrderStatusExpired
			order.UpdatedAt = now
			affected++
		}
	}
	return affected, nil
}

func (r *memoryOrderRepo) ListDueDispatch(_ context.Context, now time.Time, limit int32) ([]*entity.Settlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]*entity.Settlement, 0)
	for _, item := range r.settlements {
		if item.DeliveryStatus == entity.DeliveryPending && item.DeliveryNextAt != nil && !item.DeliveryNextAt.After(now) {
			copyItem := *item
			items = append(items, &copyItem)
		}
	}
	if limit > 0 && int(limit) < len(items) {
		items = items[:limit]
	}
	return items, nil
}

func (r *memoryOrderRepo) Update(_ context.Context, settlement *entity.Settlement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, item := range r.settlements {
		if item.ID == settlement.ID {
			copyItem := *settlement
			r.settlements[i] = &copyItem
			return nil
		}
	}
	return repository.ErrSettlementNotFound
}

func (r *memoryOrderRepo) FindByPaymentID(_ context.Context, paymentID string) (*entity.Settlement, error) {
	return r.settlement(paymentID), nil
}

func (r *memoryOrderRepo) settlement(paymentID string) *entity.Settlement {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.settlements {
		if item.PaymentID == paymentID {
			copyItem := *item
			return &copyItem
		}
	}
	return nil
}

type fakeGateway struct {
	createInvoiceFn func(ctx context.Context, input *provider.InvoiceInput) (*provider.Invoice, error)
	calls           []*provider.InvoiceInput
}

func (g *fakeGateway) CreateInvoice(ctx context.Context, input *provider.InvoiceInput) (*provider.Invoice, error) {
	copyInput := *input
	g.calls = append(g.calls, &copyInput)
	if g.createInvoiceFn != nil {
		return g.createInvoiceFn(ctx, input)
	}
	return &provider.Invoice{ID: "4522625843", InvoiceURL: "https://nowpayments.io/payment/?iid=4522625843"}, nil
}

type notificationRequest struct {
	signature string
	payload   []byte
}

func (r *notificationRequest) GetSignature() string { return r.signature }
func (r *notificationRequest) GetPayload() []byte { return r.payload }
