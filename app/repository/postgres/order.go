package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vibast-solutions/ms-go-checkout/app/entity"
	"github.com/vibast-solutions/ms-go-checkout/app/repository"
)

const orderColumns = `
	id, user_id, service_id, btc_address, btc_amount::text,
	status, payment_status, payment_id, customer_email, instructions,
	created_at, updated_at, payment_confirmed_at`

// OrderRepository is the pgx-backed twin of repository.OrderRepository.
type OrderRepository struct {
	pool *pgxpool.Pool
	q    querier
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool, q: querier{pool: pool}}
}

func (r *OrderRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

func (r *OrderRepository) CreateBatch(ctx context.Context, orders []*entity.Order) error {
	const stmt = `
INSERT INTO orders (
	id, user_id, service_id, btc_address, btc_amount,
	status, payment_status, payment_id, customer_email, instructions,
	created_at, updated_at, payment_confirmed_at
)
VALUES ($1, $2, $3, $4, $5::text::numeric, $6, $7, $8, $9, $10, $11, $12, $13)`

	return r.WithTx(ctx, func(txCtx context.Context) error {
		for _, order := range orders {
			_, err := r.q.exec(txCtx, stmt,
				order.ID,
				order.UserID,
				order.ServiceID,
				order.BTCAddress,
				decimalText(order.BTCAmount),
				order.Status,
				order.PaymentStatus,
				order.PaymentID,
				order.CustomerEmail,
				order.Instructions,
				order.CreatedAt.UTC(),
				order.UpdatedAt.UTC(),
				utcPtr(order.PaymentConfirmedAt),
			)
			if err != nil {
				if isUniqueViolation(err) {
					return repository.ErrOrderAlreadyExists
				}
				return fmt.Errorf("create order: %w", err)
			}
		}
		return nil
	})
}

func (r *OrderRepository) FindFirstByPaymentID(ctx context.Context, paymentID string) (*entity.Order, error) {
	query := `SELECT ` + orderColumns + `
FROM orders
WHERE payment_id = $1
ORDER BY created_at ASC, id ASC
LIMIT 1`

	order, err := scanOrder(r.q.queryRow(ctx, query, paymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find order: %w", err)
	}
	return order, nil
}

func (r *OrderRepository) ListByPaymentID(ctx context.Context, paymentID string) ([]*entity.Order, error) {
	query := `SELECT ` + orderColumns + `
FROM orders
WHERE payment_id = $1
ORDER BY created_at ASC, id ASC`

	rows, err := r.q.query(ctx, query, paymentID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]*entity.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

func (r *OrderRepository) ApplyPaymentStatus(ctx context.Context, update *repository.PaymentStatusUpdate) (int64, error) {
	const stmt = `
UPDATE orders SET
	payment_status = $1,
	status = $2,
	updated_at = $3,
	payment_confirmed_at = COALESCE($4, payment_confirmed_at)
WHERE payment_id = $5 AND payment_status <> $6`

	var affected int64
	err := r.WithTx(ctx, func(txCtx context.Context) error {
		tag, err := r.q.exec(txCtx, stmt,
			update.PaymentStatus,
			update.Status,
			update.UpdatedAt.UTC(),
			utcPtr(update.ConfirmedAt),
			update.PaymentID,
			entity.OrderStatusPaid,
		)
		if err != nil {
			return fmt.Errorf("apply payment status: %w", err)
		}
		affected = tag.RowsAffected()

		if affected == 0 || update.Settlement == nil {
			return nil
		}
		update.Settlement.OrderCount = int32(affected)
		return insertSettlement(txCtx, r.q, update.Settlement)
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

func (r *OrderRepository) ListStalePendingPaymentIDs(ctx context.Context, cutoff time.Time, limit int32) ([]string, error) {
	const query = `
SELECT payment_id
FROM orders
WHERE payment_status = $1
  AND created_at <= $2
GROUP BY payment_id
ORDER BY MIN(created_at) ASC
LIMIT $3`

	rows, err := r.q.query(ctx, query, entity.OrderStatusPending, cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale payments: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *OrderRepository) ExpirePending(ctx context.Context, paymentID string, now time.Time) (int64, error) {
	const stmt = `
UPDATE orders SET payment_status = $1, status = $1, updated_at = $2
WHERE payment_id = $3 AND payment_status = $4`

	tag, err := r.q.exec(ctx, stmt, entity.OrderStatusExpired, now.UTC(), paymentID, entity.OrderStatusPending)
	if err != nil {
		return 0, fmt.Errorf("expire pending: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanOrder(row pgx.Row) (*entity.Order, error) {
	var order entity.Order
	var btcAmount *string

	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.ServiceID,
		&order.BTCAddress,
		&btcAmount,
		&order.Status,
		&order.PaymentStatus,
		&order.PaymentID,
		&order.CustomerEmail,
		&order.Instructions,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.PaymentConfirmedAt,
	)
	if err != nil {
		return nil, err
	}

	order.BTCAmount, err = decimalFromText(btcAmount)
	if err != nil {
		return nil, err
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	order.PaymentConfirmedAt = utcPtr(order.PaymentConfirmedAt)
	return &order, nil
}
