package httpx

import (
	"encoding/json"
	"errors"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"net/http"
)

const (
	codeInvalidJSON      = "invalid_json"
	codeValidation       = "validation_error"
	codeItemsNotFound    = "items_not_found"
	codeOutOfStock       = "out_of_stock"
	codeInFlight         = "idempotency_in_flight"
	codeInvalidID        = "invalid_id"
	codeOrderNotFound    = "order_not_found"
	codeTransient        = "transient_error"
	codeInternal         = "internal_error"
	msgInternal          = "internal error"
	maxIdempotencyKeyLen = 255
)

type errorResponse struct {
	Error          string  `json:"error"`
	Code           string  `json:"code"`
	ItemID         int64   `json:"item_id,omitempty"`
	Requested      int     `json:"requested,omitempty"`
	Available      *int    `json:"available,omitempty"`
	MissingItemIDs []int64 `json:"missing_item_ids,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, code int, b []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(b)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// writeCheckoutError maps the orders error taxonomy onto responses. Storage causes
// never reach the client.
func writeCheckoutError(w http.ResponseWriter, err error) {
	var (
		ve  *orders.ValidationError
		nf  *orders.NotFoundError
		oos *orders.OutOfStockError
		te  *orders.TransientError
	)
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, codeValidation, ve.Msg)
	case errors.As(err, &nf):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:          "some items not found",
			Code:           codeItemsNotFound,
			MissingItemIDs: nf.Missing,
		})
	case errors.As(err, &oos):
		available := oos.Available
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:     "out of stock",
			Code:      codeOutOfStock,
			ItemID:    oos.ItemID,
			Requested: oos.Requested,
			Available: &available,
		})
	case errors.As(err, &te):
		writeError(w, http.StatusInternalServerError, codeTransient, msgInternal)
	default:
		writeError(w, http.StatusInternalServerError, codeInternal, msgInternal)
	}
}
