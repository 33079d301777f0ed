package orders

import (
	"encoding/json"
	"fmt"
	"github.com/google/uuid"
	"time"
)

const EventOrderPlaced = "OrderPlaced"

const eventVersion = 1

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // checkout id
	Payload       json.RawMessage `json:"payload"`
}

// Money fields are fixed two-decimal strings so consumers never see float rounding.
type LinePayload struct {
	ItemID    int64  `json:"item_id"`
	Name      string `json:"name"`
	UnitPrice string `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	LineTotal string `json:"line_total"`
}

type OrderPlacedPayload struct {
	OrderID       int64         `json:"order_id"`
	Status        Status        `json:"status"`
	PaymentMethod string        `json:"payment_method"`
	City          string        `json:"city"`
	Subtotal      string        `json:"subtotal"`
	Shipping      string        `json:"shipping"`
	Total         string        `json:"total"`
	CreatedAt     time.Time     `json:"created_at"`
	Items         []LinePayload `json:"items"`
}

func PlacedPayload(o Order) OrderPlacedPayload {
	p := OrderPlacedPayload{
		OrderID:       o.ID,
		Status:        o.Status,
		PaymentMethod: o.PaymentMethod,
		City:          o.Customer.City,
		Subtotal:      o.Subtotal.StringFixed(currencyPlaces),
		Shipping:      o.Shipping.StringFixed(currencyPlaces),
		Total:         o.Total.StringFixed(currencyPlaces),
		CreatedAt:     o.CreatedAt,
		Items:         make([]LinePayload, 0, len(o.Lines)),
	}
	for _, l := range o.Lines {
		p.Items = append(p.Items, LinePayload{
			ItemID:    l.ItemID,
			Name:      l.Name,
			UnitPrice: l.UnitPrice.StringFixed(currencyPlaces),
			Quantity:  l.Quantity,
			LineTotal: l.LineTotal.StringFixed(currencyPlaces),
		})
	}
	return p
}

// NewOrderPlaced wraps a committed order in a v1 envelope.
func NewOrderPlaced(o Order, producer, correlationID, traceID string) (Envelope, error) {
	payload, err := json.Marshal(PlacedPayload(o))
	if err != nil {
		return Envelope{}, fmt.Errorf("encode payload: %w", err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     EventOrderPlaced,
		EventVersion:  eventVersion,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: correlationID,
		Payload:       payload,
	}, nil
}
