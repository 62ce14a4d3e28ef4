package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBPool matches the methods from *pgxpool.Pool that PostgresLedger uses.
type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresLedger keeps stock in the stock_levels table. Every mutation is a
// single conditional statement, so the row lock taken by UPDATE serializes
// concurrent decrements of the same product.
type PostgresLedger struct {
	pool DBPool
}

func NewPostgresLedger(pool DBPool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

const (
	selectAvailableSQL = `SELECT COALESCE(available, 0), available IS NOT NULL
		FROM stock_levels WHERE product_id = $1`

	tryDecrementSQL = `UPDATE stock_levels
		SET available = available - $2, updated_at = now()
		WHERE product_id = $1 AND available IS NOT NULL AND available >= $2`

	releaseSQL = `UPDATE stock_levels
		SET available = available + $2, updated_at = now()
		WHERE product_id = $1 AND available IS NOT NULL`

	restockSQL = `INSERT INTO stock_levels (product_id, available)
		VALUES ($1, $2)
		ON CONFLICT (product_id) DO UPDATE
		SET available = stock_levels.available + EXCLUDED.available, updated_at = now()
		WHERE stock_levels.available IS NOT NULL`

	setStockSQL = `INSERT INTO stock_levels (product_id, available)
		VALUES ($1, $2)
		ON CONFLICT (product_id) DO UPDATE
		SET available = EXCLUDED.available, updated_at = now()`
)

func (l *PostgresLedger) AvailableQuantity(ctx context.Context, productID int64) (*int, error) {
	var available int
	var tracked bool
	err := l.pool.QueryRow(ctx, selectAvailableSQL, productID).Scan(&available, &tracked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select stock for product %d: %w", productID, err)
	}
	if !tracked {
		return nil, nil
	}
	return &available, nil
}

func (l *PostgresLedger) TryDecrement(ctx context.Context, productID int64, quantity int) (bool, error) {
	if err := checkArgs(productID, quantity); err != nil {
		return false, err
	}
	tag, err := l.pool.Exec(ctx, tryDecrementSQL, productID, quantity)
	if err != nil {
		return false, fmt.Errorf("decrement stock for product %d: %w", productID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (l *PostgresLedger) Release(ctx context.Context, productID int64, quantity int) error {
	if err := checkArgs(productID, quantity); err != nil {
		return err
	}
	tag, err := l.pool.Exec(ctx, releaseSQL, productID, quantity)
	if err != nil {
		return fmt.Errorf("release stock for product %d: %w", productID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotTracked
	}
	return nil
}

func (l *PostgresLedger) Restock(ctx context.Context, productID int64, quantity int) error {
	if err := checkArgs(productID, quantity); err != nil {
		return err
	}
	tag, err := l.pool.Exec(ctx, restockSQL, productID, quantity)
	if err != nil {
		return fmt.Errorf("restock product %d: %w", productID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotTracked
	}
	return nil
}

func (l *PostgresLedger) SetStock(ctx context.Context, productID int64, available *int) error {
	if productID <= 0 {
		return ErrInvalidProduct
	}
	var value any
	if available != nil {
		if *available < 0 {
			return ErrInvalidQuantity
		}
		value = *available
	}
	if _, err := l.pool.Exec(ctx, setStockSQL, productID, value); err != nil {
		return fmt.Errorf("set stock for product %d: %w", productID, err)
	}
	return nil
}
