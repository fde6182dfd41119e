package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-checkout-saga/internal/apperr"
	"github.com/ariefcatur/go-checkout-saga/internal/postgres"
)

const paymentColumns = `id, transaction_id, order_id, user_id, amount, currency, status, card_last_four,
	error_code, error_message, items, inventory_callback_sent, order_callback_sent, created_at, updated_at`

type PostgresStore struct{ DB *pgxpool.Pool }

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore { return &PostgresStore{DB: db} }

func (s *PostgresStore) Create(ctx context.Context, p Payment) error {
	items, err := json.Marshal(p.Items)
	if err != nil {
		return apperr.Internal("encode items", err)
	}
	_, err = postgres.WithTx(ctx, s.DB, func(ctx context.Context, tx pgx.Tx) (struct{}, error) {
		_, err := tx.Exec(ctx, `
			INSERT INTO payments(id, transaction_id, order_id, user_id, amount, currency, status, card_last_four,
			                     error_code, error_message, items, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`,
			p.ID, p.TransactionID, p.OrderID, p.UserID, p.Amount, p.Currency, p.Status, p.CardLastFour,
			p.ErrorCode, p.ErrorMessage, items, p.CreatedAt)
		return struct{}{}, err
	})
	if err != nil {
		return apperr.Internal("insert payment", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, idOrTxn string) (Payment, error) {
	p, err := scanPayment(s.DB.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1 OR transaction_id = $1 LIMIT 1`, idOrTxn))
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, apperr.NotFound("payment not found")
	}
	if err != nil {
		return Payment{}, apperr.Internal("get payment", err)
	}
	return p, nil
}

func (s *PostgresStore) ListByOrder(ctx context.Context, orderID string) ([]Payment, error) {
	return s.query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = $1 ORDER BY created_at DESC`, orderID)
}

func (s *PostgresStore) MarkCallbackSent(ctx context.Context, paymentID string, target CallbackTarget) error {
	var column string
	switch target {
	case TargetInventory:
		column = "inventory_callback_sent"
	case TargetOrder:
		column = "order_callback_sent"
	default:
		return fmt.Errorf("unknown callback target %q", target)
	}
	ct, err := s.DB.Exec(ctx, `UPDATE payments SET `+column+` = TRUE, updated_at = now() WHERE id = $1`, paymentID)
	if err != nil {
		return apperr.Internal("mark callback", err)
	}
	if ct.RowsAffected() != 1 {
		return apperr.NotFound("payment not found")
	}
	return nil
}

func (s *PostgresStore) Refund(ctx context.Context, paymentID string, decide func(Payment) (Refund, error)) (Payment, Refund, error) {
	type refunded struct {
		p Payment
		r Refund
	}
	out, err := postgres.WithTx(ctx, s.DB, func(ctx context.Context, tx pgx.Tx) (refunded, error) {
		p, err := scanPayment(tx.QueryRow(ctx,
			`SELECT `+paymentColumns+` FROM payments WHERE id = $1 OR transaction_id = $1 LIMIT 1 FOR UPDATE`, paymentID))
		if errors.Is(err, pgx.ErrNoRows) {
			return refunded{}, apperr.NotFound("payment not found")
		}
		if err != nil {
			return refunded{}, err
		}
		r, err := decide(p)
		if err != nil {
			return refunded{}, err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO refunds(id, payment_id, refund_transaction_id, amount, status, reason, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			r.ID, p.ID, r.RefundTransactionID, r.Amount, r.Status, r.Reason, r.CreatedAt); err != nil {
			return refunded{}, err
		}
		ct, err := tx.Exec(ctx, `
			UPDATE payments SET status = $2, updated_at = now() WHERE id = $1 AND status = $3`,
			p.ID, StatusRefunded, StatusSuccess)
		if err != nil {
			return refunded{}, err
		}
		if ct.RowsAffected() != 1 {
			return refunded{}, apperr.ErrNotRefundable
		}
		p.Status = StatusRefunded
		return refunded{p: p, r: r}, nil
	})
	if err != nil {
		if _, ok := apperr.As(err); ok {
			return Payment{}, Refund{}, err
		}
		return Payment{}, Refund{}, apperr.Internal("refund payment", err)
	}
	return out.p, out.r, nil
}

func (s *PostgresStore) PendingCallbacks(ctx context.Context, olderThan time.Time, limit int) ([]Payment, error) {
	return s.query(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE (NOT inventory_callback_sent OR NOT order_callback_sent) AND created_at < $1
		ORDER BY created_at LIMIT $2`, olderThan, limit)
}

func (s *PostgresStore) query(ctx context.Context, sql string, args ...any) ([]Payment, error) {
	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, apperr.Internal("query payments", err)
	}
	defer rows.Close()
	out := []Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, apperr.Internal("scan payment", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("query payments", err)
	}
	return out, nil
}

func scanPayment(row pgx.Row) (Payment, error) {
	var (
		p     Payment
		items []byte
	)
	err := row.Scan(&p.ID, &p.TransactionID, &p.OrderID, &p.UserID, &p.Amount, &p.Currency, &p.Status,
		&p.CardLastFour, &p.ErrorCode, &p.ErrorMessage, &items, &p.InventoryCallbackSent, &p.OrderCallbackSent,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Payment{}, err
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &p.Items); err != nil {
			return Payment{}, fmt.Errorf("decode items: %w", err)
		}
	}
	if p.Items == nil {
		p.Items = []Item{}
	}
	return p, nil
}
