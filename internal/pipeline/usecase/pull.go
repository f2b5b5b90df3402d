package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/shandysiswandi/schemabus/internal/pipeline/entity"
	"github.com/shandysiswandi/schemabus/internal/pkg/goerror"
	"github.com/shandysiswandi/schemabus/internal/pkg/messaging"
	"github.com/shandysiswandi/schemabus/internal/pkg/schema"
)

var errMarkerMismatch = errors.New("pipeline: encoding marker does not match the topic binding")

type PullInput struct {
	SubscriptionID    string `validate:"required"`
	MaxMessages       int    `validate:"gte=1,lte=1000"`
	ReturnImmediately bool
}

type AcknowledgeInput struct {
	SubscriptionID string   `validate:"required"`
	AckIDs         []string `validate:"dive,required"`
}

// Pull fetches up to MaxMessages deliveries and decodes them. A decode
// failure is attached to its message and does not fail the call. A done
// ctx yields no messages and no error.
func (s *Usecase) Pull(ctx context.Context, in PullInput) ([]entity.PulledMessage, error) {
	ctx, span := s.startSpan(ctx, "Pull")
	defer span.End()

	in.SubscriptionID = strings.TrimSpace(in.SubscriptionID)
	if in.MaxMessages == 0 {
		in.MaxMessages = 10
	}

	if err := s.validator.Validate(in); err != nil {
		return nil, goerror.NewInvalidInput(err)
	}

	binding, err := s.subscriptionTopic(ctx, in.SubscriptionID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, s.brokerError(ctx, span, "broker get subscription", err)
	}

	msgs, err := s.broker.Pull(ctx, in.SubscriptionID, in.MaxMessages, in.ReturnImmediately)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, s.brokerError(ctx, span, "broker pull", err)
	}

	return lo.Map(msgs, func(m messaging.ReceivedMessage, _ int) entity.PulledMessage {
		return s.decode(ctx, binding, m)
	}), nil
}

// Acknowledge settles deliveries. Unknown, superseded or expired ack ids
// are ignored.
func (s *Usecase) Acknowledge(ctx context.Context, in AcknowledgeInput) error {
	ctx, span := s.startSpan(ctx, "Acknowledge")
	defer span.End()

	in.SubscriptionID = strings.TrimSpace(in.SubscriptionID)

	if err := s.validator.Validate(in); err != nil {
		return goerror.NewInvalidInput(err)
	}

	if err := s.broker.Acknowledge(ctx, in.SubscriptionID, lo.Uniq(in.AckIDs)); err != nil {
		return s.brokerError(ctx, span, "broker acknowledge", err)
	}

	return nil
}

// subscriptionTopic returns the binding of the subscription's topic. A
// detached subscription or a vanished topic yields an empty binding.
func (s *Usecase) subscriptionTopic(ctx context.Context, subscriptionID string) (entity.TopicBinding, error) {
	sub, err := s.broker.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return entity.TopicBinding{}, err
	}
	if toSubscriptionBinding(sub).Detached() {
		return entity.TopicBinding{}, nil
	}

	topic, err := s.broker.GetTopic(ctx, sub.TopicID)
	if errors.Is(err, messaging.ErrTopicNotFound) {
		return entity.TopicBinding{}, nil
	}
	if err != nil {
		return entity.TopicBinding{}, err
	}
	return toTopicBinding(topic), nil
}

// decode resolves the schema and encoding of a delivery from its marker
// attributes, falling back to the topic binding.
func (s *Usecase) decode(ctx context.Context, binding entity.TopicBinding, m messaging.ReceivedMessage) entity.PulledMessage {
	pm := entity.PulledMessage{
		Message: entity.Message{
			ID:          m.MessageID,
			Data:        m.Data,
			Attributes:  m.Attributes,
			OrderingKey: m.OrderingKey,
			PublishTime: m.PublishTime,
		},
		AckID:           m.AckID,
		DeliveryAttempt: m.DeliveryAttempt,
	}

	schemaID, encoding := binding.SchemaID, binding.Encoding.String()
	if markedID, markedEnc, ok := messaging.SchemaMarker(m.Attributes); ok {
		if binding.HasSchema() && (markedID != binding.SchemaID || !strings.EqualFold(markedEnc, encoding)) {
			pm.DecodeErr = &schema.DecodeError{
				SchemaID: markedID,
				Encoding: schema.Encoding(markedEnc),
				Err:      fmt.Errorf("%w: marked %s/%s, bound %s/%s", errMarkerMismatch, markedID, markedEnc, binding.SchemaID, encoding),
			}
			return pm
		}
		schemaID, encoding = markedID, markedEnc
	}
	if schemaID == "" {
		return pm
	}

	enc, err := schema.ParseEncoding(encoding)
	if err != nil {
		pm.DecodeErr = &schema.DecodeError{SchemaID: schemaID, Encoding: schema.Encoding(encoding), Err: err}
		return pm
	}

	sc, err := s.lookupSchema(ctx, schemaID)
	if err != nil {
		pm.DecodeErr = &schema.DecodeError{SchemaID: schemaID, Encoding: enc, Err: err}
		return pm
	}

	pm.Fields, pm.DecodeErr = s.codec.Decode(sc, enc, m.Data)
	return pm
}
