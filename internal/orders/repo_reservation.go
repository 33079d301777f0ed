package orders

import (
	"context"
	"errors"
	"github.com/jackc/pgx/v5"
)

// DecrementStock is a single compare-and-subtract against the live row. There is no
// read before the write, so two buyers can never both pass the check on the same
// stock value.
func (t *pgTx) DecrementStock(ctx context.Context, itemID int64, qty int) (int, bool, error) {
	var remaining int
	err := t.tx.QueryRow(ctx, `
		UPDATE items
		SET stock_quantity = stock_quantity - $2, updated_at = NOW()
		WHERE id = $1 AND stock_quantity >= $2
		RETURNING stock_quantity`, itemID, qty).Scan(&remaining)
	if err == nil {
		return remaining, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, err
	}

	// Zero rows: read what is left, for the error detail only.
	var current int
	err = t.tx.QueryRow(ctx, `SELECT stock_quantity FROM items WHERE id = $1`, itemID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return current, false, nil
}
