package orders

import (
	"fmt"
	"github.com/shopspring/decimal"
	"strings"
	"time"
)

// Money is rendered as a JSON number with exactly two decimals, e.g. 17.00.
type Money struct{ decimal.Decimal }

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.StringFixed(currencyPlaces)), nil
}

func (m *Money) UnmarshalJSON(b []byte) error {
	d, err := decimal.NewFromString(strings.Trim(string(b), `"`))
	if err != nil {
		return fmt.Errorf("money: %w", err)
	}
	m.Decimal = d
	return nil
}

// Receipt is the public view of a placed order. Customer contact fields are left out.
type Receipt struct {
	ID            int64         `json:"id"`
	Status        Status        `json:"status"`
	PaymentMethod string        `json:"payment_method"`
	Subtotal      Money         `json:"subtotal"`
	Shipping      Money         `json:"shipping"`
	Total         Money         `json:"total"`
	CreatedAt     time.Time     `json:"created_at"`
	Items         []ReceiptLine `json:"items"`
}

type ReceiptLine struct {
	ItemID    int64  `json:"item_id"`
	Name      string `json:"name"`
	UnitPrice Money  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	LineTotal Money  `json:"line_total"`
}

func NewReceipt(o Order) Receipt {
	r := Receipt{
		ID:            o.ID,
		Status:        o.Status,
		PaymentMethod: o.PaymentMethod,
		Subtotal:      Money{o.Subtotal},
		Shipping:      Money{o.Shipping},
		Total:         Money{o.Total},
		CreatedAt:     o.CreatedAt,
		Items:         make([]ReceiptLine, 0, len(o.Lines)),
	}
	for _, l := range o.Lines {
		r.Items = append(r.Items, ReceiptLine{
			ItemID:    l.ItemID,
			Name:      l.Name,
			UnitPrice: Money{l.UnitPrice},
			Quantity:  l.Quantity,
			LineTotal: Money{l.LineTotal},
		})
	}
	return r
}

// ReceiptFromPayload rebuilds the receipt carried by an OrderPlaced event.
func ReceiptFromPayload(p OrderPlacedPayload) (Receipt, error) {
	parse := func(field, s string) (Money, error) {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return Money{}, fmt.Errorf("%s: %w", field, err)
		}
		return Money{d}, nil
	}
	r := Receipt{
		ID:            p.OrderID,
		Status:        p.Status,
		PaymentMethod: p.PaymentMethod,
		CreatedAt:     p.CreatedAt,
		Items:         make([]ReceiptLine, 0, len(p.Items)),
	}
	var err error
	if r.Subtotal, err = parse("subtotal", p.Subtotal); err != nil {
		return Receipt{}, err
	}
	if r.Shipping, err = parse("shipping", p.Shipping); err != nil {
		return Receipt{}, err
	}
	if r.Total, err = parse("total", p.Total); err != nil {
		return Receipt{}, err
	}
	for _, l := range p.Items {
		line := ReceiptLine{ItemID: l.ItemID, Name: l.Name, Quantity: l.Quantity}
		if line.UnitPrice, err = parse("unit_price", l.UnitPrice); err != nil {
			return Receipt{}, err
		}
		if line.LineTotal, err = parse("line_total", l.LineTotal); err != nil {
			return Receipt{}, err
		}
		r.Items = append(r.Items, line)
	}
	return r, nil
}
