package orders

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

const MaxCartEntries = 200

// Column bounds, in characters.
const (
	maxFullName      = 255
	maxPhone         = 50
	maxAddress       = 500
	maxCity          = 255
	maxNotes         = 2000
	maxPaymentMethod = 50
	maxItemName      = 255
)

// CheckoutRequest is the untrusted body of POST /orders.
type CheckoutRequest struct {
	FullName      string      `json:"full_name"`
	Phone         string      `json:"phone"`
	Address       string      `json:"address"`
	City          string      `json:"city"`
	Notes         string      `json:"notes"`
	PaymentMethod string      `json:"payment_method"`
	Items         []CartEntry `json:"items"`
}

// CartEntry keeps the raw JSON so that "3" and 3 are both accepted.
// Client-supplied prices are not part of the entry and are ignored if sent.
type CartEntry struct {
	ItemID   json.RawMessage `json:"item_id"`
	Quantity json.RawMessage `json:"quantity"`
}

// Cart is a validated checkout request.
type Cart struct {
	Customer      Customer
	Notes         *string
	PaymentMethod string
	Demand        DemandMap
}

// NormalizeCart validates the request and collapses duplicate entries into a demand
// map. It has no side effects and rejects the whole request on the first bad entry.
func NormalizeCart(req CheckoutRequest) (Cart, error) {
	c := Cart{
		Customer: Customer{
			FullName: clip(req.FullName, maxFullName),
			Phone:    clip(req.Phone, maxPhone),
			Address:  clip(req.Address, maxAddress),
			City:     clip(req.City, maxCity),
		},
		PaymentMethod: clip(req.PaymentMethod, maxPaymentMethod),
	}
	if c.Customer.FullName == "" || c.Customer.Phone == "" || c.Customer.Address == "" || c.Customer.City == "" {
		return Cart{}, &ValidationError{Msg: "full_name, phone, address, city are required"}
	}
	if n := clip(req.Notes, maxNotes); n != "" {
		c.Notes = &n
	}
	if c.PaymentMethod == "" {
		c.PaymentMethod = DefaultPaymentMethod
	}

	if len(req.Items) == 0 {
		return Cart{}, &ValidationError{Field: "items", Msg: "items is required"}
	}
	if len(req.Items) > MaxCartEntries {
		return Cart{}, &ValidationError{Field: "items", Msg: "too many items"}
	}

	c.Demand = make(DemandMap, len(req.Items))
	for _, it := range req.Items {
		id, okID := positiveInt(it.ItemID, math.MaxInt64)
		qty, okQty := positiveInt(it.Quantity, math.MaxInt32)
		if !okID || !okQty {
			return Cart{}, &ValidationError{Field: "items", Msg: "each item must have item_id and quantity (positive integers)"}
		}
		sum := int64(c.Demand[id]) + qty
		if sum > math.MaxInt32 {
			return Cart{}, &ValidationError{Field: "items", Msg: "quantity too large"}
		}
		c.Demand[id] = int(sum)
	}
	return c, nil
}

// positiveInt accepts a JSON integer, an integral JSON number such as 2.0, or a
// string holding a base-10 integer.
func positiveInt(raw json.RawMessage, max int64) (int64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, false
	}
	var text string
	switch raw[0] {
	case '"':
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, false
		}
		text = strings.TrimSpace(text)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		text = string(raw)
	default:
		return 0, false
	}

	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(text, 64)
		if ferr != nil || f != math.Trunc(f) || f >= float64(max) {
			return 0, false
		}
		n = int64(f)
	}
	if n <= 0 || n > max {
		return 0, false
	}
	return n, true
}

func clip(s string, max int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:max]))
}
