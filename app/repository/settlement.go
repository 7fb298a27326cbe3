package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/vibast-solutions/ms-go-checkout/app/entity"
)

const settlementColumns = `
	id, payment_id, user_id, order_count,
	delivery_status, delivery_attempts, delivery_next_at, delivery_last_error,
	created_at, updated_at
`

type SettlementRepository struct {
	db DBTX
}

func NewSettlementRepository(db DBTX) *SettlementRepository {
	return &SettlementRepository{db: db}
}

// insertSettlement keeps the first settlement of a payment; a repeated insert
// for the same payment_id is a no-op.
func insertSettlement(ctx context.Context, db DBTX, settlement *entity.Settlement) error {
	query := `
		INSERT INTO payment_settlements (
			payment_id, user_id, order_count,
			delivery_status, delivery_attempts, delivery_next_at, delivery_last_error,
			created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := db.ExecContext(ctx, query,
		settlement.PaymentID,
		settlement.UserID,
		settlement.OrderCount,
		settlement.DeliveryStatus,
		settlement.DeliveryAttempts,
		nullableTimeValue(settlement.DeliveryNextAt),
		nullableStringValue(settlement.DeliveryLastErr),
		settlement.CreatedAt.UTC(),
		settlement.UpdatedAt.UTC(),
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return nil
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	settlement.ID = uint64(id)

	return nil
}

func (r *SettlementRepository) FindByPaymentID(ctx context.Context, paymentID string) (*entity.Settlement, error) {
	query := `SELECT ` + settlementColumns + `
		FROM payment_settlements
		WHERE payment_id = ?
	`

	settlement := &entity.Settlement{}
	if err := scanSettlement(r.db.QueryRowContext(ctx, query, paymentID), settlement); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return settlement, nil
}

func (r *SettlementRepository) ListDueDispatch(ctx context.Context, now time.Time, limit int32) ([]*entity.Settlement, error) {
	query := `SELECT ` + settlementColumns + `
		FROM payment_settlements
		WHERE delivery_status = ?
		  AND delivery_next_at IS NOT NULL
		  AND delivery_next_at <= ?
		ORDER BY delivery_next_at ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, entity.DeliveryPending, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*entity.Settlement, 0)
	for rows.Next() {
		item := &entity.Settlement{}
		if err := scanSettlement(rows, item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

func (r *SettlementRepository) Update(ctx context.Context, settlement *entity.Settlement) error {
	query := `
		UPDATE payment_settlements SET
			delivery_status = ?,
			delivery_attempts = ?,
			delivery_next_at = ?,
			delivery_last_error = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		settlement.DeliveryStatus,
		settlement.DeliveryAttempts,
		nullableTimeValue(settlement.DeliveryNextAt),
		nullableStringValue(settlement.DeliveryLastErr),
		settlement.UpdatedAt.UTC(),
		settlement.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSettlementNotFound
	}

	return nil
}

func scanSettlement(scan rowScanner, settlement *entity.Settlement) error {
	var nextAt sql.NullTime
	var lastErr sql.NullString

	err := scan.Scan(
		&settlement.ID,
		&settlement.PaymentID,
		&settlement.UserID,
		&settlement.OrderCount,
		&settlement.DeliveryStatus,
		&settlement.DeliveryAttempts,
		&nextAt,
		&lastErr,
		&settlement.CreatedAt,
		&settlement.UpdatedAt,
	)
	if err != nil {
		return err
	}

	settlement.DeliveryNextAt = timePtrFromNull(nextAt)
	settlement.DeliveryLastErr = stringPtrFromNull(lastErr)
	settlement.CreatedAt = settlement.CreatedAt.UTC()
	settlement.UpdatedAt = settlement.UpdatedAt.UTC()

	return nil
}
