package usecase

import (
	"context"
	"strings"

	"github.com/shandysiswandi/schemabus/internal/pipeline/entity"
	"github.com/shandysiswandi/schemabus/internal/pkg/goerror"
	"github.com/shandysiswandi/schemabus/internal/pkg/messaging"
	"github.com/shandysiswandi/schemabus/internal/pkg/schema"
)

type BindTopicInput struct {
	TopicID  string `validate:"required,resource_id"`
	SchemaID string `validate:"omitempty,resource_id"`
	Encoding string `validate:"required_with=SchemaID,omitempty,encoding"`
}

// BindTopic creates a topic, optionally bound to a registered schema whose
// capability set must include the encoding.
func (s *Usecase) BindTopic(ctx context.Context, in BindTopicInput) (entity.TopicBinding, error) {
	ctx, span := s.startSpan(ctx, "BindTopic")
	defer span.End()

	in.TopicID = strings.TrimSpace(in.TopicID)
	in.SchemaID = strings.TrimSpace(in.SchemaID)
	in.Encoding = strings.TrimSpace(in.Encoding)

	if err := s.validator.Validate(in); err != nil {
		return entity.TopicBinding{}, goerror.NewInvalidInput(err)
	}

	binding := entity.TopicBinding{TopicID: in.TopicID}
	if in.SchemaID != "" {
		enc, err := schema.ParseEncoding(in.Encoding)
		if err != nil {
			return entity.TopicBinding{}, goerror.NewInvalidInput(err, "encoding", err.Error())
		}

		sc, err := s.lookupSchema(ctx, in.SchemaID)
		if err != nil {
			return entity.TopicBinding{}, s.brokerError(ctx, span, "broker get schema", err)
		}
		if !sc.Supports(enc) {
			return entity.TopicBinding{}, goerror.NewInvalidInput(schema.ErrUnsupportedEncoding,
				"encoding", "schema "+sc.ID+" does not support "+enc.String())
		}

		binding.SchemaID = sc.ID
		binding.Encoding = enc
	}

	err := s.broker.CreateTopic(ctx, messaging.TopicConfig{
		ID:       binding.TopicID,
		SchemaID: binding.SchemaID,
		Encoding: binding.Encoding,
	})
	if err != nil {
		return entity.TopicBinding{}, s.brokerError(ctx, span, "broker create topic", err)
	}

	return binding, nil
}

func (s *Usecase) GetTopic(ctx context.Context, id string) (entity.TopicBinding, error) {
	ctx, span := s.startSpan(ctx, "GetTopic")
	defer span.End()

	t, err := s.broker.GetTopic(ctx, strings.TrimSpace(id))
	if err != nil {
		return entity.TopicBinding{}, s.brokerError(ctx, span, "broker get topic", err)
	}

	return toTopicBinding(t), nil
}

// DeleteTopic removes a topic. Its subscriptions stay and are detached.
func (s *Usecase) DeleteTopic(ctx context.Context, id string) error {
	ctx, span := s.startSpan(ctx, "DeleteTopic")
	defer span.End()

	if err := s.broker.DeleteTopic(ctx, strings.TrimSpace(id)); err != nil {
		return s.brokerError(ctx, span, "broker delete topic", err)
	}

	return nil
}

func toTopicBinding(t messaging.TopicConfig) entity.TopicBinding {
	b := entity.TopicBinding{TopicID: t.ID, SchemaID: t.SchemaID}
	if t.HasSchema() {
		b.Encoding = t.Encoding
	}
	return b
}
