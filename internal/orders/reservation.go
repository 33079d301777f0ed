package orders

import (
	"context"
	"fmt"
)

// Precheck compares the demand with the stock observed by the catalog lookup. It is
// an early exit only; Reserve is what keeps stock from going negative.
func Precheck(items map[int64]Item, demand DemandMap) error {
	for _, id := range demand.IDs() {
		it, ok := items[id]
		if !ok {
			return &NotFoundError{Missing: []int64{id}}
		}
		if want := demand[id]; want > it.StockQuantity {
			return &OutOfStockError{ItemID: id, Requested: want, Available: max(it.StockQuantity, 0)}
		}
	}
	return nil
}

// Reserve applies a conditional decrement for each demanded item in ascending id
// order and stops at the first item that cannot be covered. The caller's transaction
// must roll back on any error so that no earlier decrement persists.
func Reserve(ctx context.Context, tx Tx, demand DemandMap) error {
	for _, id := range demand.IDs() {
		want := demand[id]
		available, ok, err := tx.DecrementStock(ctx, id, want)
		if err != nil {
			return fmt.Errorf("decrement item %d: %w", id, err)
		}
		if !ok {
			return &OutOfStockError{ItemID: id, Requested: want, Available: available}
		}
	}
	return nil
}
