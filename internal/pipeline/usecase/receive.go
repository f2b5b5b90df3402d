package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/shandysiswandi/schemabus/internal/pipeline/entity"
	"github.com/shandysiswandi/schemabus/internal/pkg/goerror"
	"github.com/shandysiswandi/schemabus/internal/pkg/instrument"
	"github.com/shandysiswandi/schemabus/internal/pkg/messaging"
	"go.opentelemetry.io/otel/trace"
)

// MessageHandler handles a decoded delivery. Returning nil acknowledges it;
// an error or a panic leaves it for redelivery.
type MessageHandler func(ctx context.Context, msg entity.PulledMessage) error

type ReceiveInput struct {
	SubscriptionID string `validate:"required"`
	Concurrency    int    `validate:"gte=0,lte=1000"`
	MaxMessages    int    `validate:"gte=0,lte=1000"`
	// Stats, when set, collects the loop counters.
	Stats *messaging.ConsumeStats
}

// Receive runs a consumer loop on the subscription until ctx is done.
func (s *Usecase) Receive(ctx context.Context, in ReceiveInput, handler MessageHandler) error {
	in.SubscriptionID = strings.TrimSpace(in.SubscriptionID)

	if err := s.validator.Validate(in); err != nil {
		return goerror.NewInvalidInput(err)
	}
	if handler == nil {
		return goerror.NewInvalidInput(nil, "handler", "is required")
	}

	spanCtx, span := s.startSpan(ctx, "Receive")
	binding, err := s.subscriptionTopic(spanCtx, in.SubscriptionID)
	if err != nil {
		err = s.brokerError(spanCtx, span, "broker get subscription", err)
		span.End()
		return err
	}
	span.End()

	opts := []messaging.ConsumeOption{messaging.WithAutoAck(true)}
	if in.Concurrency > 0 {
		opts = append(opts, messaging.WithConcurrency(in.Concurrency))
	}
	if in.MaxMessages > 0 {
		opts = append(opts, messaging.WithMaxInFlight(in.MaxMessages))
	}
	if in.Stats != nil {
		opts = append(opts, messaging.WithStats(in.Stats))
	}

	tracer := s.ins.Tracer("pipeline.usecase")
	err = messaging.Consume(ctx, s.broker, in.SubscriptionID, func(ctx context.Context, m messaging.ReceivedMessage) error {
		ctx = instrument.SetCorrelationID(ctx, m.MessageID)
		ctx, span := tracer.Start(ctx, "ReceiveMessage")
		defer span.End()

		return handler(ctx, s.decode(ctx, binding, m))
	}, opts...)
	if err != nil && !errors.Is(err, context.Canceled) {
		return s.brokerError(ctx, trace.SpanFromContext(ctx), "consume subscription", err)
	}

	return nil
}
