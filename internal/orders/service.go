package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"time"
)

const defaultTxTimeout = 5 * time.Second

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header) error
}

type Option func(*Service)

func WithPricing(p Pricing) Option { return func(s *Service) { s.pricing = p } }

func WithPublisher(p Publisher) Option { return func(s *Service) { s.pub = p } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

func WithTracer(t trace.Tracer) Option { return func(s *Service) { s.tracer = t } }

// WithTxTimeout bounds the reservation transaction. It does not bound the catalog lookup.
func WithTxTimeout(d time.Duration) Option { return func(s *Service) { s.txTimeout = d } }

// WithProducerName sets the producer field of published envelopes.
func WithProducerName(n string) Option { return func(s *Service) { s.producer = n } }

type Service struct {
	store     Store
	pricing   Pricing
	pub       Publisher
	log       *zap.Logger
	tracer    trace.Tracer
	txTimeout time.Duration
	producer  string
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		log:       zap.NewNop(),
		tracer:    noop.NewTracerProvider().Tracer(""),
		txTimeout: defaultTxTimeout,
		producer:  "order-api",
	}
	for _, o := range opts {
		o(s)
	}
	if s.txTimeout <= 0 {
		s.txTimeout = defaultTxTimeout
	}
	return s
}

type state string

const (
	stateValidating    state = "validating"
	stateCheckingStock state = "checking_stock"
	stateReserving     state = "reserving"
	stateWritingOrder  state = "writing_order"
	stateCommitted     state = "committed"
	stateAborted       state = "aborted"
)

// Checkout places one order. On success the order has been committed together with
// its stock decrements. On error nothing was written.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (Order, error) {
	checkoutID := uuid.NewString()
	log := s.log.With(zap.String("checkout_id", checkoutID))

	ctx, span := s.tracer.Start(ctx, "checkout")
	defer span.End()

	o, err := s.checkout(ctx, log, req)
	if err != nil {
		log.Debug("checkout state", zap.String("state", string(stateAborted)), zap.Error(err))
		span.SetAttributes(attribute.String("checkout.outcome", Outcome(err)))
		span.RecordError(err)
		span.SetStatus(codes.Error, Outcome(err))
		return Order{}, err
	}
	span.SetAttributes(
		attribute.String("checkout.outcome", "committed"),
		attribute.Int64("order.id", o.ID),
	)

	s.publish(ctx, log, checkoutID, o)
	return o, nil
}

func (s *Service) checkout(ctx context.Context, log *zap.Logger, req CheckoutRequest) (Order, error) {
	step := func(st state) { log.Debug("checkout state", zap.String("state", string(st))) }

	step(stateValidating)
	cart, err := NormalizeCart(req)
	if err != nil {
		return Order{}, err
	}
	ids := cart.Demand.IDs()
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("checkout.items", len(ids)))

	step(stateCheckingStock)
	found, err := s.store.LookupItems(ctx, ids)
	if err != nil {
		return Order{}, s.storageError(log, "lookup items", err)
	}
	items := make(map[int64]Item, len(found))
	for _, it := range found {
		items[it.ID] = it
	}
	var missing []int64
	for _, id := range ids {
		if _, ok := items[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return Order{}, &NotFoundError{Missing: missing}
	}
	if err := Precheck(items, cart.Demand); err != nil {
		return Order{}, err
	}

	lines, subtotal, shipping, total := s.pricing.Assemble(items, cart.Demand)
	if total.GreaterThan(MaxAmount) {
		return Order{}, &ValidationError{Field: "items", Msg: "order total exceeds " + MaxAmount.StringFixed(currencyPlaces)}
	}
	o := Order{
		Customer:      cart.Customer,
		Notes:         cart.Notes,
		PaymentMethod: cart.PaymentMethod,
		Status:        StatusPending,
		Subtotal:      subtotal,
		Shipping:      shipping,
		Total:         total,
		Lines:         lines,
	}

	// Once the transaction starts it runs to commit or rollback even if the client
	// goes away.
	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.txTimeout)
	defer cancel()

	err = s.store.InTx(txCtx, func(ctx context.Context, tx Tx) error {
		step(stateReserving)
		if err := Reserve(ctx, tx, cart.Demand); err != nil {
			return err
		}
		step(stateWritingOrder)
		if err := tx.InsertOrder(ctx, &o); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		if err := tx.InsertLines(ctx, o.ID, o.Lines); err != nil {
			return fmt.Errorf("insert lines: %w", err)
		}
		return nil
	})
	if err != nil {
		var oos *OutOfStockError
		if errors.As(err, &oos) {
			return Order{}, oos
		}
		return Order{}, s.storageError(log, "place order", err)
	}
	step(stateCommitted)
	log.Info("order placed",
		zap.Int64("order_id", o.ID),
		zap.Int("lines", len(o.Lines)),
		zap.String("total", o.Total.StringFixed(currencyPlaces)),
	)
	return o, nil
}

// Order returns a committed order by id.
func (s *Service) Order(ctx context.Context, id int64) (Order, error) {
	o, err := s.store.GetOrder(ctx, id)
	if errors.Is(err, ErrOrderNotFound) {
		return Order{}, err
	}
	if err != nil {
		return Order{}, s.storageError(s.log, "get order", err)
	}
	return o, nil
}

func (s *Service) storageError(log *zap.Logger, op string, err error) error {
	if postgres.IsTransient(err) {
		log.Warn("storage unavailable", zap.String("op", op), zap.Error(err))
		return &TransientError{Op: op, Err: err}
	}
	log.Error("storage failure", zap.String("op", op), zap.Error(err))
	return &FatalError{Op: op, Err: err}
}

// publish is best effort: the order is already committed.
func (s *Service) publish(ctx context.Context, log *zap.Logger, checkoutID string, o Order) {
	if s.pub == nil {
		return
	}
	var traceID string
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	ev, err := NewOrderPlaced(o, s.producer, checkoutID, traceID)
	if err != nil {
		log.Warn("build order event", zap.Int64("order_id", o.ID), zap.Error(err))
		return
	}
	value, err := json.Marshal(ev)
	if err != nil {
		log.Warn("encode order event", zap.Int64("order_id", o.ID), zap.Error(err))
		return
	}
	headers := kafkax.EventHeaders(EventOrderPlaced, eventVersion)
	otel.GetTextMapPropagator().Inject(ctx, kafkax.HeaderCarrier{Headers: &headers})
	if err := s.pub.Publish(PartitionKey(o.ID), value, headers...); err != nil {
		log.Warn("publish order event", zap.Int64("order_id", o.ID), zap.Error(err))
	}
}

// Outcome names the error class for logs and span attributes.
func Outcome(err error) string {
	var (
		ve  *ValidationError
		nf  *NotFoundError
		oos *OutOfStockError
		te  *TransientError
		fe  *FatalError
	)
	switch {
	case err == nil:
		return "committed"
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &nf):
		return "not_found"
	case errors.As(err, &oos):
		return "out_of_stock"
	case errors.As(err, &te):
		return "transient"
	case errors.As(err, &fe):
		return "fatal"
	case errors.Is(err, ErrOrderNotFound):
		return "order_not_found"
	}
	return "error"
}
