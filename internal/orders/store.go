package orders

import "context"

// Store is the storage the checkout needs. LookupItems is the catalog lookup and runs
// outside any transaction; everything that mutates goes through InTx.
type Store interface {
	LookupItems(ctx context.Context, ids []int64) ([]Item, error)
	// InTx runs fn in one transaction. It commits when fn returns nil and rolls
	// back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// GetOrder returns a committed order with its lines, or ErrOrderNotFound.
	GetOrder(ctx context.Context, id int64) (Order, error)
}

// Tx is the per-request transaction handle passed to the reservation engine and the
// order writer.
type Tx interface {
	// DecrementStock subtracts qty from the item's stock only if at least qty is
	// left, in one statement. ok reports whether the row was updated; available is
	// the stock after the update, or the current stock when ok is false.
	DecrementStock(ctx context.Context, itemID int64, qty int) (available int, ok bool, err error)
	// InsertOrder writes the header and sets o.ID and o.CreatedAt.
	InsertOrder(ctx context.Context, o *Order) error
	// InsertLines writes all lines of an order in one statement.
	InsertLines(ctx context.Context, orderID int64, lines []OrderLine) error
}
