package projector

import (
	"context"
	"encoding/json"
	"fmt"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// Dedup remembers processed event ids.
type Dedup interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkSeen(ctx context.Context, eventID string) error
}

type ReceiptCache interface {
	Set(ctx context.Context, orderID int64, b []byte) error
}

// Service projects OrderPlaced events into the receipt cache read by GET /orders/{id}.
type Service struct {
	Dedup  Dedup
	Cache  ReceiptCache
	Log    *zap.Logger
	Tracer trace.Tracer
}

// HandleOrderPlaced is the consumer handler. A returned error makes the consumer
// retry the same message; its offset stays uncommitted until a retry succeeds.
func (s *Service) HandleOrderPlaced(ctx context.Context, m kafkago.Message) error {
	log, tracer := s.Log, s.Tracer
	if log == nil {
		log = zap.NewNop()
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}

	// 1) filter on header before decoding
	if t := kafkax.HeaderValue(m, kafkax.HeaderEventType); t != "" && t != orders.EventOrderPlaced {
		return nil
	}
	ctx = otel.GetTextMapPropagator().Extract(ctx, kafkax.HeaderCarrier{Headers: &m.Headers})
	ctx, span := tracer.Start(ctx, "project order placed", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	// 2) envelope
	env, err := kafkax.Decode[orders.Envelope](m.Value)
	if err != nil {
		// Poison message: redelivery cannot fix it.
		log.Error("drop undecodable event", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != orders.EventOrderPlaced {
		return nil
	}
	log = log.With(zap.String("event_id", env.EventID), zap.String("correlation_id", env.CorrelationID))

	// 3) dedup
	seen, err := s.Dedup.Seen(ctx, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup lookup: %w", err)
	}
	if seen {
		log.Debug("duplicate event")
		return nil
	}

	// 4) payload -> receipt
	p, err := kafkax.Decode[orders.OrderPlacedPayload](env.Payload)
	if err != nil {
		log.Error("drop undecodable payload", zap.Error(err))
		return nil
	}
	receipt, err := orders.ReceiptFromPayload(p)
	if err != nil {
		log.Error("drop invalid payload", zap.Int64("order_id", p.OrderID), zap.Error(err))
		return nil
	}
	span.SetAttributes(attribute.Int64("order.id", receipt.ID))

	b, err := json.Marshal(receipt)
	if err != nil {
		return err
	}
	if err := s.Cache.Set(ctx, receipt.ID, b); err != nil {
		return fmt.Errorf("cache order %d: %w", receipt.ID, err)
	}

	// 5) mark last, so a failed write above is retried
	if err := s.Dedup.MarkSeen(ctx, env.EventID); err != nil {
		log.Warn("dedup mark", zap.Error(err))
	}
	log.Info("order projected", zap.Int64("order_id", receipt.ID))
	return nil
}
