package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/shandysiswandi/schemabus/internal/pipeline/entity"
	"github.com/shandysiswandi/schemabus/internal/pkg/goerror"
	"github.com/shandysiswandi/schemabus/internal/pkg/messaging"
)

type BindSubscriptionInput struct {
	SubscriptionID string        `validate:"required,resource_id"`
	TopicID        string        `validate:"required,resource_id"`
	AckDeadline    time.Duration `validate:"omitempty,min=10s,max=600s"`
}

// BindSubscription creates a pull subscription. It receives messages
// published from now on.
func (s *Usecase) BindSubscription(ctx context.Context, in BindSubscriptionInput) (entity.SubscriptionBinding, error) {
	ctx, span := s.startSpan(ctx, "BindSubscription")
	defer span.End()

	in.SubscriptionID = strings.TrimSpace(in.SubscriptionID)
	in.TopicID = strings.TrimSpace(in.TopicID)

	if err := s.validator.Validate(in); err != nil {
		return entity.SubscriptionBinding{}, goerror.NewInvalidInput(err)
	}

	cfg := messaging.SubscriptionConfig{ID: in.SubscriptionID, TopicID: in.TopicID, AckDeadline: in.AckDeadline}
	if err := s.broker.CreateSubscription(ctx, cfg); err != nil {
		return entity.SubscriptionBinding{}, s.brokerError(ctx, span, "broker create subscription", err)
	}

	created, err := s.broker.GetSubscription(ctx, cfg.ID)
	if err != nil {
		return entity.SubscriptionBinding{}, s.brokerError(ctx, span, "broker get subscription", err)
	}

	return toSubscriptionBinding(created), nil
}

func (s *Usecase) GetSubscription(ctx context.Context, id string) (entity.SubscriptionBinding, error) {
	ctx, span := s.startSpan(ctx, "GetSubscription")
	defer span.End()

	sub, err := s.broker.GetSubscription(ctx, strings.TrimSpace(id))
	if err != nil {
		return entity.SubscriptionBinding{}, s.brokerError(ctx, span, "broker get subscription", err)
	}

	return toSubscriptionBinding(sub), nil
}

func (s *Usecase) DeleteSubscription(ctx context.Context, id string) error {
	ctx, span := s.startSpan(ctx, "DeleteSubscription")
	defer span.End()

	if err := s.broker.DeleteSubscription(ctx, strings.TrimSpace(id)); err != nil {
		return s.brokerError(ctx, span, "broker delete subscription", err)
	}

	return nil
}

func toSubscriptionBinding(sub messaging.SubscriptionConfig) entity.SubscriptionBinding {
	return entity.SubscriptionBinding{
		SubscriptionID: sub.ID,
		TopicID:        sub.TopicID,
		AckDeadline:    sub.AckDeadline,
	}
}
