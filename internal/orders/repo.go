package orders

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the PostgreSQL Store.
type Repo struct{ DB *pgxpool.Pool }

var _ Store = (*Repo)(nil)

func (r *Repo) LookupItems(ctx context.Context, ids []int64) ([]Item, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, name, price, stock_quantity FROM items WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Item, 0, len(ids))
	for rows.Next() {
		var (
			it    Item
			price pgtype.Numeric
		)
		if err := rows.Scan(&it.ID, &it.Name, &price, &it.StockQuantity); err != nil {
			return nil, err
		}
		if it.Price, err = postgres.Decimal(price); err != nil {
			return nil, fmt.Errorf("item %d price: %w", it.ID, err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// InTx runs fn in a READ COMMITTED transaction. The conditional decrement locks
// each item row it touches, and a concurrent decrement on the same row blocks and then
// re-checks the stock predicate against the committed value.
func (r *Repo) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *Repo) GetOrder(ctx context.Context, id int64) (Order, error) {
	var (
		o                         Order
		status                    string
		subtotal, shipping, total pgtype.Numeric
	)
	err := r.DB.QueryRow(ctx, `
		SELECT id, full_name, phone, address, city, notes, payment_method, status,
		       subtotal, shipping, total, created_at
		FROM orders WHERE id = $1`, id).Scan(
		&o.ID, &o.Customer.FullName, &o.Customer.Phone, &o.Customer.Address, &o.Customer.City,
		&o.Notes, &o.PaymentMethod, &status, &subtotal, &shipping, &total, &o.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	if o.Subtotal, err = postgres.Decimal(subtotal); err != nil {
		return Order{}, fmt.Errorf("order %d subtotal: %w", id, err)
	}
	if o.Shipping, err = postgres.Decimal(shipping); err != nil {
		return Order{}, fmt.Errorf("order %d shipping: %w", id, err)
	}
	if o.Total, err = postgres.Decimal(total); err != nil {
		return Order{}, fmt.Errorf("order %d total: %w", id, err)
	}

	rows, err := r.DB.Query(ctx, `
		SELECT item_id, name, unit_price, quantity, line_total
		FROM order_lines WHERE order_id = $1 ORDER BY item_id`, id)
	if err != nil {
		return Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			l           OrderLine
			unit, lineT pgtype.Numeric
		)
		if err := rows.Scan(&l.ItemID, &l.Name, &unit, &l.Quantity, &lineT); err != nil {
			return Order{}, err
		}
		if l.UnitPrice, err = postgres.Decimal(unit); err != nil {
			return Order{}, err
		}
		if l.LineTotal, err = postgres.Decimal(lineT); err != nil {
			return Order{}, err
		}
		o.Lines = append(o.Lines, l)
	}
	return o, rows.Err()
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) InsertOrder(ctx context.Context, o *Order) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO orders (full_name, phone, address, city, notes, payment_method, status, subtotal, shipping, total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`,
		o.Customer.FullName, o.Customer.Phone, o.Customer.Address, o.Customer.City, o.Notes,
		o.PaymentMethod, string(o.Status),
		postgres.Numeric(o.Subtotal), postgres.Numeric(o.Shipping), postgres.Numeric(o.Total),
	).Scan(&o.ID, &o.CreatedAt)
}

func (t *pgTx) InsertLines(ctx context.Context, orderID int64, lines []OrderLine) error {
	var (
		ids    = make([]int64, len(lines))
		names  = make([]string, len(lines))
		prices = make([]pgtype.Numeric, len(lines))
		qtys   = make([]int32, len(lines))
		totals = make([]pgtype.Numeric, len(lines))
	)
	for i, l := range lines {
		ids[i] = l.ItemID
		names[i] = l.Name
		prices[i] = postgres.Numeric(l.UnitPrice)
		qtys[i] = int32(l.Quantity)
		totals[i] = postgres.Numeric(l.LineTotal)
	}

	ct, err := t.tx.Exec(ctx, `
		INSERT INTO order_lines (order_id, item_id, name, unit_price, quantity, line_total)
		SELECT $1, l.item_id, l.name, l.unit_price, l.quantity, l.line_total
		FROM unnest($2::bigint[], $3::text[], $4::numeric[], $5::int[], $6::numeric[])
		     AS l(item_id, name, unit_price, quantity, line_total)`,
		orderID, ids, names, prices, qtys, totals,
	)
	if err != nil {
		return err
	}
	if n := ct.RowsAffected(); n != int64(len(lines)) {
		return fmt.Errorf("inserted %d of %d order lines", n, len(lines))
	}
	return nil
}
