package orders

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// memStore serializes transactions behind one mutex, which is enough to model row
// locks for the checkout paths under test.
type memStore struct {
	mu     sync.Mutex
	items  map[int64]Item
	orders map[int64]Order
	nextID int64

	lookups int
	txs     int

	lookupErr error
	orderErr  error
	linesErr  error
	onTx      func(ctx context.Context)
}

func newMemStore(items ...Item) *memStore {
	m := &memStore{items: map[int64]Item{}, orders: map[int64]Order{}}
	for _, it := range items {
		m.items[it.ID] = it
	}
	return m
}

func item(id int64, name, price string, stock int) Item {
	return Item{ID: id, Name: name, Price: decimal.RequireFromString(price), StockQuantity: stock}
}

func (m *memStore) stock(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id].StockQuantity
}

func (m *memStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *memStore) LookupItems(_ context.Context, ids []int64) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	var out []Item
	for _, id := range ids {
		if it, ok := m.items[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs++
	if m.onTx != nil {
		m.onTx(ctx)
	}

	tx := &memTx{m: m, stock: make(map[int64]int, len(m.items))}
	for id, it := range m.items {
		tx.stock[id] = it.StockQuantity
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for id, q := range tx.stock {
		it := m.items[id]
		it.StockQuantity = q
		m.items[id] = it
	}
	for _, o := range tx.orders {
		m.orders[o.ID] = *o
	}
	return nil
}

func (m *memStore) GetOrder(_ context.Context, id int64) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return o, nil
}

type memTx struct {
	m      *memStore
	stock  map[int64]int
	orders []*Order
}

func (t *memTx) DecrementStock(_ context.Context, id int64, qty int) (int, bool, error) {
	cur, ok := t.stock[id]
	if !ok {
		return 0, false, nil
	}
	if cur < qty {
		return cur, false, nil
	}
	t.stock[id] = cur - qty
	return cur - qty, true, nil
}

func (t *memTx) InsertOrder(_ context.Context, o *Order) error {
	if t.m.orderErr != nil {
		return t.m.orderErr
	}
	t.m.nextID++
	o.ID = t.m.nextID
	o.CreatedAt = time.Now().UTC()
	cp := *o
	t.orders = append(t.orders, &cp)
	return nil
}

func (t *memTx) InsertLines(_ context.Context, orderID int64, lines []OrderLine) error {
	if t.m.linesErr != nil {
		return t.m.linesErr
	}
	for _, o := range t.orders {
		if o.ID == orderID {
			o.Lines = append([]OrderLine(nil), lines...)
		}
	}
	return nil
}
