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

const settlementColumns = `
	id, payment_id, user_id, order_count,
	delivery_status, delivery_attempts, delivery_next_at, delivery_last_error,
	created_at, updated_at`

type SettlementRepository struct {
	q querier
}

func NewSettlementRepository(pool *pgxpool.Pool) *SettlementRepository {
	return &SettlementRepository{q: querier{pool: pool}}
}

func insertSettlement(ctx context.Context, q querier, settlement *entity.Settlement) error {
	const stmt = `
INSERT INTO payment_settlements (
	payment_id, user_id, order_count,
	delivery_status, delivery_attempts, delivery_next_at, delivery_last_error,
	created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (payment_id) DO NOTHING
RETURNING id`

	var id int64
	err := q.queryRow(ctx, stmt,
		settlement.PaymentID,
		settlement.UserID,
		settlement.OrderCount,
		settlement.DeliveryStatus,
		settlement.DeliveryAttempts,
		utcPtr(settlement.DeliveryNextAt),
		settlement.DeliveryLastErr,
		settlement.CreatedAt.UTC(),
		settlement.UpdatedAt.UTC(),
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("insert settlement: %w", err)
	}
	settlement.ID = uint64(id)
	return nil
}

func (r *SettlementRepository) FindByPaymentID(ctx context.Context, paymentID string) (*entity.Settlement, error) {
	query := `SELECT ` + settlementColumns + `
FROM payment_settlements
WHERE payment_id = $1`

	settlement, err := scanSettlement(r.q.queryRow(ctx, query, paymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find settlement: %w", err)
	}
	return settlement, nil
}

func (r *SettlementRepository) ListDueDispatch(ctx context.Context, now time.Time, limit int32) ([]*entity.Settlement, error) {
	query := `SELECT ` + settlementColumns + `
FROM payment_settlements
WHERE delivery_status = $1
  AND delivery_next_at IS NOT NULL
  AND delivery_next_at <= $2
ORDER BY delivery_next_at ASC
LIMIT $3`

	rows, err := r.q.query(ctx, query, entity.DeliveryPending, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list due settlements: %w", err)
	}
	defer rows.Close()

	items := make([]*entity.Settlement, 0)
	for rows.Next() {
		item, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan settlement: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *SettlementRepository) Update(ctx context.Context, settlement *entity.Settlement) error {
	const stmt = `
UPDATE payment_settlements SET
	delivery_status = $1,
	delivery_attempts = $2,
	delivery_next_at = $3,
	delivery_last_error = $4,
	updated_at = $5
WHERE id = $6`

	tag, err := r.q.exec(ctx, stmt,
		settlement.DeliveryStatus,
		settlement.DeliveryAttempts,
		utcPtr(settlement.DeliveryNextAt),
		settlement.DeliveryLastErr,
		settlement.UpdatedAt.UTC(),
		int64(settlement.ID),
	)
	if err != nil {
		return fmt.Errorf("update settlement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrSettlementNotFound
	}
	return nil
}

func scanSettlement(row pgx.Row) (*entity.Settlement, error) {
	var settlement entity.Settlement
	var id int64

	err := row.Scan(
		&id,
		&settlement.PaymentID,
		&settlement.UserID,
		&settlement.OrderCount,
		&settlement.DeliveryStatus,
		&settlement.DeliveryAttempts,
		&settlement.DeliveryNextAt,
		&settlement.DeliveryLastErr,
		&settlement.CreatedAt,
		&settlement.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	settlement.ID = uint64(id)
	settlement.DeliveryNextAt = utcPtr(settlement.DeliveryNextAt)
	settlement.CreatedAt = settlement.CreatedAt.UTC()
	settlement.UpdatedAt = settlement.UpdatedAt.UTC()
	return &settlement, nil
}
