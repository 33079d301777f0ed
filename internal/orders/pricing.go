package orders

import (
	"fmt"
	"github.com/shopspring/decimal"
)

type RoundingMode int

const (
	// RoundHalfUp rounds half away from zero: 0.125 -> 0.13, -0.125 -> -0.13.
	RoundHalfUp RoundingMode = iota
	RoundHalfEven
)

func ParseRoundingMode(s string) (RoundingMode, error) {
	switch s {
	case "", "half_up":
		return RoundHalfUp, nil
	case "half_even":
		return RoundHalfEven, nil
	}
	return 0, fmt.Errorf("unknown rounding mode %q", s)
}

const currencyPlaces = 2

// MaxAmount is the largest value a NUMERIC(10,2) money column holds.
var MaxAmount = decimal.New(9999999999, -currencyPlaces)

// Pricing computes order lines and totals. The zero value charges no shipping and
// rounds half away from zero.
type Pricing struct {
	Shipping decimal.Decimal
	Rounding RoundingMode
}

func (p Pricing) round(d decimal.Decimal) decimal.Decimal {
	if p.Rounding == RoundHalfEven {
		return d.RoundBank(currencyPlaces)
	}
	return d.Round(currencyPlaces)
}

// Assemble builds the order lines and totals for demand. Unit prices come from the
// catalog snapshot in items only. Every id in demand must be present in items.
func (p Pricing) Assemble(items map[int64]Item, demand DemandMap) (lines []OrderLine, subtotal, shipping, total decimal.Decimal) {
	lines = make([]OrderLine, 0, len(demand))
	sum := decimal.Zero
	for _, id := range demand.IDs() {
		it := items[id]
		qty := demand[id]
		unit := p.round(it.Price)
		line := OrderLine{
			ItemID:    id,
			Name:      clip(it.Name, maxItemName),
			UnitPrice: unit,
			Quantity:  qty,
			LineTotal: p.round(unit.Mul(decimal.NewFromInt(int64(qty)))),
		}
		sum = sum.Add(line.LineTotal)
		lines = append(lines, line)
	}
	subtotal = p.round(sum)
	shipping = p.round(p.Shipping)
	total = p.round(subtotal.Add(shipping))
	return lines, subtotal, shipping, total
}
