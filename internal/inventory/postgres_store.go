package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-checkout-saga/internal/apperr"
	"github.com/ariefcatur/go-checkout-saga/internal/postgres"
)

const pgUniqueViolation = "23505"

type PostgresStore struct{ DB *pgxpool.Pool }

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore { return &PostgresStore{DB: db} }

func (s *PostgresStore) Create(ctx context.Context, productID string, quantity int, userID string) (Stock, *Transaction, error) {
	type created struct {
		st Stock
		tx *Transaction
	}
	out, err := postgres.WithTx(ctx, s.DB, func(ctx context.Context, tx pgx.Tx) (created, error) {
		var st Stock
		err := tx.QueryRow(ctx, `
			INSERT INTO stocks(product_id, quantity, reserved_quantity)
			VALUES ($1, $2, 0)
			RETURNING product_id, quantity, reserved_quantity, created_at, updated_at`,
			productID, quantity,
		).Scan(&st.ProductID, &st.Quantity, &st.Reserved, &st.CreatedAt, &st.UpdatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
				return created{}, apperr.WithMessage(apperr.ErrAlreadyExists, "stock record already exists for "+productID)
			}
			return created{}, err
		}
		t := initTransaction(productID, quantity, userID, st)
		if err := insertTransaction(ctx, tx, t); err != nil {
			return created{}, err
		}
		return created{st: st, tx: t}, nil
	})
	if err != nil {
		return Stock{}, nil, storeErr("create stock", err)
	}
	return out.st, out.tx, nil
}

func (s *PostgresStore) Get(ctx context.Context, productID string) (Stock, error) {
	st, err := scanStock(s.DB.QueryRow(ctx, `
		SELECT product_id, quantity, reserved_quantity, created_at, updated_at
		FROM stocks WHERE product_id = $1`, productID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Stock{}, apperr.NotFound("stock record not found for " + productID)
	}
	if err != nil {
		return Stock{}, storeErr("get stock", err)
	}
	return st, nil
}

// Apply locks the row, decides, then writes with a predicate that re-validates the invariant.
// Zero affected rows means another writer got there first.
func (s *PostgresStore) Apply(ctx context.Context, m Mutation) (Change, error) {
	ch, err := postgres.WithTx(ctx, s.DB, func(ctx context.Context, tx pgx.Tx) (Change, error) {
		before, err := scanStock(tx.QueryRow(ctx, `
			SELECT product_id, quantity, reserved_quantity, created_at, updated_at
			FROM stocks WHERE product_id = $1 FOR UPDATE`, m.ProductID))
		if errors.Is(err, pgx.ErrNoRows) {
			return Change{}, apperr.NotFound("stock record not found for " + m.ProductID)
		}
		if err != nil {
			return Change{}, err
		}

		var res *Reservation
		if m.OrderID != "" {
			var r Reservation
			err := tx.QueryRow(ctx, `
				SELECT order_id, product_id, quantity, status, created_at, updated_at
				FROM stock_reservations WHERE order_id = $1 AND product_id = $2 FOR UPDATE`,
				m.OrderID, m.ProductID,
			).Scan(&r.OrderID, &r.ProductID, &r.Quantity, &r.Status, &r.CreatedAt, &r.UpdatedAt)
			switch {
			case err == nil:
				res = &r
			case !errors.Is(err, pgx.ErrNoRows):
				return Change{}, err
			}
		}

		p, err := decide(m, before, res)
		if err != nil {
			return Change{}, err
		}
		if p.noop {
			return Change{Before: before, After: before, Duplicate: true}, nil
		}

		after := before
		err = tx.QueryRow(ctx, `
			UPDATE stocks
			SET quantity = quantity + $2, reserved_quantity = reserved_quantity + $3, updated_at = now()
			WHERE product_id = $1
			  AND reserved_quantity + $3 >= 0
			  AND quantity + $2 >= reserved_quantity + $3
			RETURNING quantity, reserved_quantity, updated_at`,
			m.ProductID, p.deltaQuantity, p.deltaReserved,
		).Scan(&after.Quantity, &after.Reserved, &after.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return Change{}, apperr.ErrReservationRaceLost
		}
		if err != nil {
			return Change{}, err
		}

		t := newTransaction(m, p, before, after)
		if err := insertTransaction(ctx, tx, t); err != nil {
			return Change{}, err
		}

		if p.reservation != nil {
			if _, err := tx.Exec(ctx, `
				INSERT INTO stock_reservations(order_id, product_id, quantity, status)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (order_id, product_id) DO UPDATE SET status = EXCLUDED.status, updated_at = now()`,
				p.reservation.OrderID, p.reservation.ProductID, p.reservation.Quantity, p.reservation.Status,
			); err != nil {
				return Change{}, err
			}
		}
		return Change{Before: before, After: after, Transaction: t}, nil
	})
	if err != nil {
		return Change{}, storeErr("apply "+string(m.Type), err)
	}
	return ch, nil
}

func (s *PostgresStore) List(ctx context.Context, f ListFilter) ([]Stock, int, error) {
	where, args := "", []any{}
	if f.LowStock != nil {
		where = "WHERE quantity - reserved_quantity <= $1"
		args = append(args, *f.LowStock)
	}

	var total int
	if err := s.DB.QueryRow(ctx, `SELECT COUNT(*) FROM stocks `+where, args...).Scan(&total); err != nil {
		return nil, 0, storeErr("count stocks", err)
	}

	n := len(args)
	q := fmt.Sprintf(`
		SELECT product_id, quantity, reserved_quantity, created_at, updated_at
		FROM stocks %s ORDER BY updated_at DESC, product_id LIMIT $%d OFFSET $%d`, where, n+1, n+2)
	rows, err := s.DB.Query(ctx, q, append(args, f.Limit, (f.Page-1)*f.Limit)...)
	if err != nil {
		return nil, 0, storeErr("list stocks", err)
	}
	defer rows.Close()

	out := []Stock{}
	for rows.Next() {
		st, err := scanStock(rows)
		if err != nil {
			return nil, 0, storeErr("scan stock", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storeErr("list stocks", err)
	}
	return out, total, nil
}

func (s *PostgresStore) Transactions(ctx context.Context, productID string, limit int) ([]Transaction, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, product_id, type, quantity_change, previous_quantity, previous_reserved,
		       new_quantity, new_reserved, COALESCE(order_id, ''), COALESCE(user_id, ''), notes, created_at
		FROM stock_transactions WHERE product_id = $1
		ORDER BY created_at DESC LIMIT $2`, productID, limit)
	if err != nil {
		return nil, storeErr("list transactions", err)
	}
	defer rows.Close()

	out := []Transaction{}
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.ProductID, &t.Type, &t.QuantityChange, &t.PreviousQuantity, &t.PreviousReserved,
			&t.NewQuantity, &t.NewReserved, &t.OrderID, &t.UserID, &t.Notes, &t.CreatedAt); err != nil {
			return nil, storeErr("scan transaction", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list transactions", err)
	}
	return out, nil
}

func insertTransaction(ctx context.Context, tx pgx.Tx, t *Transaction) error {
	return tx.QueryRow(ctx, `
		INSERT INTO stock_transactions(id, product_id, type, quantity_change, previous_quantity, previous_reserved,
		                               new_quantity, new_reserved, order_id, user_id, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), $11)
		RETURNING created_at`,
		t.ID, t.ProductID, t.Type, t.QuantityChange, t.PreviousQuantity, t.PreviousReserved,
		t.NewQuantity, t.NewReserved, t.OrderID, t.UserID, t.Notes,
	).Scan(&t.CreatedAt)
}

func scanStock(row pgx.Row) (Stock, error) {
	var st Stock
	err := row.Scan(&st.ProductID, &st.Quantity, &st.Reserved, &st.CreatedAt, &st.UpdatedAt)
	return st, err
}

// storeErr passes typed errors through and turns everything else into Internal.
func storeErr(op string, err error) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	return apperr.Internal(op, err)
}
