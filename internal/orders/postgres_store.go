package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-checkout-saga/internal/apperr"
	"github.com/ariefcatur/go-checkout-saga/internal/postgres"
)

type PostgresStore struct{ DB *pgxpool.Pool }

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore { return &PostgresStore{DB: db} }

const orderColumns = `id, user_id, total_price, status, shipping_address, billing_address, notes,
	COALESCE(payment_transaction_id, ''), version, created_at, updated_at`

// Create writes the order, its items and the first history row in one transaction.
func (s *PostgresStore) Create(ctx context.Context, o Order) (Order, error) {
	out, err := postgres.WithTx(ctx, s.DB, func(ctx context.Context, tx pgx.Tx) (Order, error) {
		created, err := scanOrder(tx.QueryRow(ctx, `
			INSERT INTO orders(id, user_id, total_price, status, shipping_address, billing_address, notes, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
			RETURNING `+orderColumns,
			o.ID, o.UserID, o.TotalPrice, o.Status, o.ShippingAddress, o.BillingAddress, o.Notes))
		if err != nil {
			return Order{}, err
		}

		batch := &pgx.Batch{}
		for _, it := range o.Items {
			batch.Queue(`
				INSERT INTO order_items(order_id, product_id, product_name, product_image, price, quantity, subtotal)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				o.ID, it.ProductID, it.ProductName, it.ProductImage, it.Price, it.Quantity, it.Subtotal)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return Order{}, fmt.Errorf("insert items: %w", err)
		}

		h := HistoryEntry{NewStatus: o.Status, ChangedBy: o.UserID, Notes: "order created"}
		if err := insertHistory(ctx, tx, o.ID, &h); err != nil {
			return Order{}, err
		}
		created.Items = o.Items
		created.History = []HistoryEntry{h}
		return created, nil
	})
	if err != nil {
		return Order{}, storeErr("create order", err)
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Order, error) {
	o, err := scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, orderNotFound(id)
	}
	if err != nil {
		return Order{}, storeErr("get order", err)
	}
	if o.Items, err = s.items(ctx, id); err != nil {
		return Order{}, storeErr("get order items", err)
	}
	if o.History, err = s.history(ctx, id); err != nil {
		return Order{}, storeErr("get order history", err)
	}
	return o, nil
}

func (s *PostgresStore) List(ctx context.Context, f ListFilter) ([]Order, int, error) {
	where := `WHERE ($1 = '' OR user_id = $1) AND ($2 = '' OR status = $2)`
	var total int
	if err := s.DB.QueryRow(ctx, `SELECT COUNT(*) FROM orders `+where, f.UserID, string(f.Status)).Scan(&total); err != nil {
		return nil, 0, storeErr("count orders", err)
	}

	rows, err := s.DB.Query(ctx, `
		SELECT `+orderColumns+` FROM orders `+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`,
		f.UserID, string(f.Status), f.Limit, (f.Page-1)*f.Limit)
	if err != nil {
		return nil, 0, storeErr("list orders", err)
	}
	defer rows.Close()

	out := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, storeErr("scan order", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storeErr("list orders", err)
	}
	for i := range out {
		if out[i].Items, err = s.items(ctx, out[i].ID); err != nil {
			return nil, 0, storeErr("list order items", err)
		}
	}
	return out, total, nil
}

// UpdateStatus is fenced on version and the expected current status.
func (s *PostgresStore) UpdateStatus(ctx context.Context, c StatusChange) (Order, error) {
	out, err := postgres.WithTx(ctx, s.DB, func(ctx context.Context, tx pgx.Tx) (Order, error) {
		o, err := scanOrder(tx.QueryRow(ctx, `
			UPDATE orders
			SET status = $3,
			    version = version + 1,
			    payment_transaction_id = COALESCE(NULLIF($5, ''), payment_transaction_id),
			    updated_at = now()
			WHERE id = $1 AND version = $2 AND status = $4
			RETURNING `+orderColumns,
			c.OrderID, c.ExpectedVersion, c.To, c.From, c.PaymentTransactionID))
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, c.OrderID).Scan(&exists); err != nil {
				return Order{}, err
			}
			if !exists {
				return Order{}, orderNotFound(c.OrderID)
			}
			return Order{}, apperr.ErrVersionConflict
		}
		if err != nil {
			return Order{}, err
		}
		h := HistoryEntry{OldStatus: c.From, NewStatus: c.To, ChangedBy: c.ChangedBy, Notes: c.Notes}
		if err := insertHistory(ctx, tx, c.OrderID, &h); err != nil {
			return Order{}, err
		}
		return o, nil
	})
	if err != nil {
		return Order{}, storeErr("update order status", err)
	}
	return out, nil
}

func (s *PostgresStore) AppendHistory(ctx context.Context, orderID string, h HistoryEntry) error {
	_, err := postgres.WithTx(ctx, s.DB, func(ctx context.Context, tx pgx.Tx) (struct{}, error) {
		return struct{}{}, insertHistory(ctx, tx, orderID, &h)
	})
	if err != nil {
		return storeErr("append order history", err)
	}
	return nil
}

func (s *PostgresStore) items(ctx context.Context, orderID string) ([]Item, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT product_id, product_name, product_image, price, quantity, subtotal
		FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.ProductName, &it.ProductImage, &it.Price, &it.Quantity, &it.Subtotal); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *PostgresStore) history(ctx context.Context, orderID string) ([]HistoryEntry, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT COALESCE(old_status, ''), new_status, changed_by, notes, created_at
		FROM order_status_history WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.OldStatus, &h.NewStatus, &h.ChangedBy, &h.Notes, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func insertHistory(ctx context.Context, tx pgx.Tx, orderID string, h *HistoryEntry) error {
	return tx.QueryRow(ctx, `
		INSERT INTO order_status_history(order_id, old_status, new_status, changed_by, notes)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5)
		RETURNING created_at`,
		orderID, string(h.OldStatus), string(h.NewStatus), h.ChangedBy, h.Notes,
	).Scan(&h.CreatedAt)
}

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.UserID, &o.TotalPrice, &o.Status, &o.ShippingAddress, &o.BillingAddress,
		&o.Notes, &o.PaymentTransactionID, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func storeErr(op string, err error) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	return apperr.Internal(op, err)
}
