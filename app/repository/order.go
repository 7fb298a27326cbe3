package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-checkout/app/entity"
)

var (
	ErrOrderAlreadyExists = errors.New("order already exists")
	ErrSettlementNotFound = errors.New("settlement not found")
)

// PaymentStatusUpdate moves every not-yet-paid order of a payment to a new
// state. Settlement, when set, is recorded in the same transaction if any
// order changed.
type PaymentStatusUpdate struct {
	PaymentID     string
	PaymentStatus string
	Status        string
	UpdatedAt     time.Time
	ConfirmedAt   *time.Time
	Settlement    *entity.Settlement
}

const orderColumns = `
	id, user_id, service_id, btc_address, btc_amount,
	status, payment_status, payment_id, customer_email, instructions,
	created_at, updated_at, payment_confirmed_at
`

type OrderRepository struct {
	db DB
}

func NewOrderRepository(db DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) CreateBatch(ctx context.Context, orders []*entity.Order) error {
	query := `
		INSERT INTO orders (
			id, user_id, service_id, btc_address, btc_amount,
			status, payment_status, payment_id, customer_email, instructions,
			created_at, updated_at, payment_confirmed_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	return withTx(ctx, r.db, func(tx DBTX) error {
		for _, order := range orders {
			_, err := tx.ExecContext(ctx, query,
				order.ID,
				order.UserID,
				order.ServiceID,
				nullableStringValue(order.BTCAddress),
				nullableDecimalValue(order.BTCAmount),
				order.Status,
				order.PaymentStatus,
				order.PaymentID,
				order.CustomerEmail,
				nullableStringValue(order.Instructions),
				order.CreatedAt.UTC(),
				order.UpdatedAt.UTC(),
				nullableTimeValue(order.PaymentConfirmedAt),
			)
			if err != nil {
				if isDuplicateEntryError(err) {
					return ErrOrderAlreadyExists
				}
				return err
			}
		}
		return nil
	})
}

func (r *OrderRepository) FindFirstByPaymentID(ctx context.Context, paymentID string) (*entity.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE payment_id = ?
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`

	order := &entity.Order{}
	if err := scanOrder(r.db.QueryRowContext(ctx, query, paymentID), order); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return order, nil
}

func (r *OrderRepository) ListByPaymentID(ctx context.Context, paymentID string) ([]*entity.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE payment_id = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]*entity.Order, 0)
	for rows.Next() {
		item, err := scanOrderFromRows(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

// ApplyPaymentStatus returns the number of orders that changed. Orders that
// are already paid are never touched.
func (r *OrderRepository) ApplyPaymentStatus(ctx context.Context, update *PaymentStatusUpdate) (int64, error) {
	query := `
		UPDATE orders SET
			payment_status = ?,
			status = ?,
			updated_at = ?,
			payment_confirmed_at = COALESCE(?, payment_confirmed_at)
		WHERE payment_id = ? AND payment_status <> ?
	`

	var affected int64
	err := withTx(ctx, r.db, func(tx DBTX) error {
		result, err := tx.ExecContext(ctx, query,
			update.PaymentStatus,
			update.Status,
			update.UpdatedAt.UTC(),
			nullableTimeValue(update.ConfirmedAt),
			update.PaymentID,
			entity.OrderStatusPaid,
		)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		if err != nil {
			return err
		}

		if affected == 0 || update.Settlement == nil {
			return nil
		}
		update.Settlement.OrderCount = int32(affected)
		return insertSettlement(ctx, tx, update.Settlement)
	})
	if err != nil {
		return 0, err
	}

	return affected, nil
}

func (r *OrderRepository) ListStalePendingPaymentIDs(ctx context.Context, cutoff time.Time, limit int32) ([]string, error) {
	query := `
		SELECT payment_id
		FROM orders
		WHERE payment_status = ?
		  AND created_at <= ?
		GROUP BY payment_id
		ORDER BY MIN(created_at) ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, entity.OrderStatusPending, cutoff.UTC(), limit)
	if err != nil {
		return nil, err
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

// ExpirePending marks the still-pending orders of a payment as expired.
func (r *OrderRepository) ExpirePending(ctx context.Context, paymentID string, now time.Time) (int64, error) {
	query := `
		UPDATE orders SET
			payment_status = ?,
			status = ?,
			updated_at = ?
		WHERE payment_id = ? AND payment_status = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		entity.OrderStatusExpired,
		entity.OrderStatusExpired,
		now.UTC(),
		paymentID,
		entity.OrderStatusPending,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanOrder(scan rowScanner, order *entity.Order) error {
	var btcAddress sql.NullString
	var btcAmount decimal.NullDecimal
	var instructions sql.NullString
	var confirmedAt sql.NullTime

	err := scan.Scan(
		&order.ID,
		&order.UserID,
		&order.ServiceID,
		&btcAddress,
		&btcAmount,
		&order.Status,
		&order.PaymentStatus,
		&order.PaymentID,
		&order.CustomerEmail,
		&instructions,
		&order.CreatedAt,
		&order.UpdatedAt,
		&confirmedAt,
	)
	if err != nil {
		return err
	}

	order.BTCAddress = stringPtrFromNull(btcAddress)
	order.BTCAmount = decimalPtrFromNull(btcAmount)
	order.Instructions = stringPtrFromNull(instructions)
	order.PaymentConfirmedAt = timePtrFromNull(confirmedAt)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()

	return nil
}

func scanOrderFromRows(rows *sql.Rows) (*entity.Order, error) {
	item := &entity.Order{}
	if err := scanOrder(rows, item); err != nil {
		return nil, err
	}
	return item, nil
}
