package orders

import (
	"github.com/shopspring/decimal"
	"sort"
	"time"
)

// Item is the catalog row the checkout reads and decrements.
type Item struct {
	ID            int64
	Name          string
	Price         decimal.Decimal
	StockQuantity int
}

// DemandMap maps item id to the total quantity requested in one checkout.
type DemandMap map[int64]int

// IDs returns the item ids in ascending order. Every pass over the demand uses this
// order so lock acquisition is the same for all checkouts.
func (d DemandMap) IDs() []int64 {
	ids := make([]int64, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

type Customer struct {
	FullName string
	Phone    string
	Address  string
	City     string
}

type Order struct {
	ID            int64
	Customer      Customer
	Notes         *string
	PaymentMethod string
	Status        Status
	Subtotal      decimal.Decimal
	Shipping      decimal.Decimal
	Total         decimal.Decimal
	CreatedAt     time.Time
	Lines         []OrderLine
}

// OrderLine is a snapshot of the item at order time.
type OrderLine struct {
	ItemID    int64
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
	LineTotal decimal.Decimal
}
