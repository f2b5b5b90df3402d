package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/shandysiswandi/schemabus/internal/pkg/goerror"
	"github.com/shandysiswandi/schemabus/internal/pkg/instrument"
	"github.com/shandysiswandi/schemabus/internal/pkg/messaging"
	"github.com/shandysiswandi/schemabus/internal/pkg/schema"
	"github.com/shandysiswandi/schemabus/internal/pkg/validator"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type broker interface {
	CreateSchema(ctx context.Context, s schema.Schema) error
	GetSchema(ctx context.Context, id string) (schema.Schema, error)
	CreateTopic(ctx context.Context, cfg messaging.TopicConfig) error
	GetTopic(ctx context.Context, id string) (messaging.TopicConfig, error)
	DeleteTopic(ctx context.Context, id string) error
	CreateSubscription(ctx context.Context, cfg messaging.SubscriptionConfig) error
	GetSubscription(ctx context.Context, id string) (messaging.SubscriptionConfig, error)
	DeleteSubscription(ctx context.Context, id string) error
	Publish(ctx context.Context, topicID string, msgs []messaging.OutgoingMessage) ([]messaging.PublishResult, error)
	Pull(ctx context.Context, subscriptionID string, maxMessages int, returnImmediately bool) ([]messaging.ReceivedMessage, error)
	Acknowledge(ctx context.Context, subscriptionID string, ackIDs []string) error
}

type Usecase struct {
	broker    broker
	codec     *schema.Codec
	validator validator.Validator
	ins       instrument.Instrumentation

	// registered schemas never change, so a hit is always current
	schemaMu sync.RWMutex
	schemas  map[string]schema.Schema
}

type Dependency struct {
	Broker     broker
	Codec      *schema.Codec
	Validator  validator.Validator
	Instrument instrument.Instrumentation
}

func New(dep Dependency) *Usecase {
	codec := dep.Codec
	if codec == nil {
		codec = schema.NewCodec()
	}

	return &Usecase{
		broker:    dep.Broker,
		codec:     codec,
		validator: dep.Validator,
		ins:       dep.Instrument,
		schemas:   make(map[string]schema.Schema),
	}
}

func (s *Usecase) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.ins.Tracer("pipeline.usecase").Start(ctx, name)
}

func (s *Usecase) lookupSchema(ctx context.Context, id string) (schema.Schema, error) {
	s.schemaMu.RLock()
	sc, ok := s.schemas[id]
	s.schemaMu.RUnlock()
	if ok {
		return sc, nil
	}

	sc, err := s.broker.GetSchema(ctx, id)
	if err != nil {
		return schema.Schema{}, err
	}
	s.rememberSchema(sc)
	return sc, nil
}

func (s *Usecase) rememberSchema(sc schema.Schema) {
	s.schemaMu.Lock()
	s.schemas[sc.ID] = sc
	s.schemaMu.Unlock()
}

// brokerError classifies a broker failure for the transport layer while
// keeping the original error in the chain.
func (s *Usecase) brokerError(ctx context.Context, span trace.Span, op string, err error) error {
	switch {
	case errors.Is(err, messaging.ErrTopicNotFound):
		return goerror.NewNotFound(err, "Topic not found")
	case errors.Is(err, messaging.ErrSubscriptionNotFound):
		return goerror.NewNotFound(err, "Subscription not found")
	case errors.Is(err, messaging.ErrSchemaNotFound):
		return goerror.NewNotFound(err, "Schema not found")
	case errors.Is(err, messaging.ErrAlreadyExists):
		return goerror.NewConflict(err, "Resource already exists")
	case errors.Is(err, schema.ErrUnsupportedEncoding):
		return goerror.NewInvalidInput(err, "encoding", err.Error())
	case errors.Is(err, schema.ErrInvalidSchema):
		return goerror.NewInvalidInput(err, "definition", err.Error())
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, op)
	slog.ErrorContext(ctx, "failed to "+op, "error", err)

	if errors.Is(err, messaging.ErrClosed) {
		return goerror.NewUnavailable(err)
	}
	return goerror.NewServer(err)
}
