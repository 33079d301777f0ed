package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const maxBodyBytes = 1 << 20

type Checkouter interface {
	Checkout(ctx context.Context, req orders.CheckoutRequest) (orders.Order, error)
	Order(ctx context.Context, id int64) (orders.Order, error)
}

// Idempotency is satisfied by *redisx.IdempotencyStore.
type Idempotency interface {
	Begin(ctx context.Context, key string) (redisx.Lease, error)
	Complete(ctx context.Context, key string, orderID int64) error
	Abort(ctx context.Context, key string, l redisx.Lease) error
}

// ReceiptCache is satisfied by *redisx.OrderCache.
type ReceiptCache interface {
	Get(ctx context.Context, orderID int64) ([]byte, bool, error)
	Set(ctx context.Context, orderID int64, b []byte) error
}

// OrdersHandler serves checkout and order reads. Idem and Cache are optional; when
// Redis misbehaves both degrade to going straight to the service.
type OrdersHandler struct {
	Service Checkouter
	Idem    Idempotency
	Cache   ReceiptCache
	Log     *zap.Logger
}

func (h *OrdersHandler) Register(r chi.Router) {
	if h.Log == nil {
		h.Log = zap.NewNop()
	}
	r.Post("/orders", h.createOrder)
	r.Post("/api/orders/guest", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.CheckoutRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidJSON, "invalid json")
		return
	}

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if len(key) > maxIdempotencyKeyLen {
		writeError(w, http.StatusBadRequest, codeValidation, "Idempotency-Key too long")
		return
	}
	if h.Idem == nil {
		key = ""
	}
	var lease redisx.Lease
	if key != "" {
		var err error
		lease, err = h.Idem.Begin(r.Context(), key)
		switch {
		case err != nil:
			h.Log.Warn("idempotency unavailable", zap.Error(err))
			key = ""
		case lease.Claim == redisx.ClaimInFlight:
			writeError(w, http.StatusConflict, codeInFlight, "a request with this Idempotency-Key is in progress")
			return
		case lease.Claim == redisx.ClaimReplay:
			h.writeReceipt(w, r, lease.OrderID)
			return
		}
	}

	o, err := h.Service.Checkout(r.Context(), req)
	// The checkout outcome is final; bookkeeping must not be cut short by the client.
	bg := context.WithoutCancel(r.Context())
	if err != nil {
		if key != "" {
			if aerr := h.Idem.Abort(bg, key, lease); aerr != nil {
				h.Log.Warn("idempotency abort", zap.Error(aerr))
			}
		}
		writeCheckoutError(w, err)
		return
	}
	if key != "" {
		if cerr := h.Idem.Complete(bg, key, o.ID); cerr != nil {
			h.Log.Warn("idempotency complete", zap.Int64("order_id", o.ID), zap.Error(cerr))
		}
	}

	b, err := json.Marshal(orders.NewReceipt(o))
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, msgInternal)
		return
	}
	h.cacheReceipt(bg, o.ID, b)
	writeRaw(w, http.StatusCreated, b)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, codeInvalidID, "invalid order id")
		return
	}
	h.writeReceipt(w, r, id)
}

// writeReceipt answers 200 with the receipt, from the cache when possible.
func (h *OrdersHandler) writeReceipt(w http.ResponseWriter, r *http.Request, id int64) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.Cache != nil {
		b, ok, err := h.Cache.Get(ctx, id)
		if err != nil {
			h.Log.Warn("order cache get", zap.Int64("order_id", id), zap.Error(err))
		} else if ok {
			writeRaw(w, http.StatusOK, b)
			return
		}
	}

	o, err := h.Service.Order(ctx, id)
	if errors.Is(err, orders.ErrOrderNotFound) {
		writeError(w, http.StatusNotFound, codeOrderNotFound, "order not found")
		return
	}
	if err != nil {
		writeCheckoutError(w, err)
		return
	}
	b, err := json.Marshal(orders.NewReceipt(o))
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, msgInternal)
		return
	}
	h.cacheReceipt(ctx, id, b)
	writeRaw(w, http.StatusOK, b)
}

func (h *OrdersHandler) cacheReceipt(ctx context.Context, id int64, b []byte) {
	if h.Cache == nil {
		return
	}
	if err := h.Cache.Set(ctx, id, b); err != nil {
		h.Log.Warn("order cache set", zap.Int64("order_id", id), zap.Error(err))
	}
}
