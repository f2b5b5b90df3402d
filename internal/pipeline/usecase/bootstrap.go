package usecase

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shandysiswandi/schemabus/internal/pkg/messaging"
)

type BootstrapInput struct {
	Schemas       []CreateSchemaInput
	Topics        []BindTopicInput
	Subscriptions []BindSubscriptionInput
}

// Bootstrap declares schemas, then topics, then subscriptions. Entities
// that already exist are kept as they are.
func (s *Usecase) Bootstrap(ctx context.Context, in BootstrapInput) error {
	ctx, span := s.startSpan(ctx, "Bootstrap")
	defer span.End()

	for _, sc := range in.Schemas {
		_, err := s.CreateSchema(ctx, sc)
		if err = ignoreExisting(err); err != nil {
			return err
		}
		slog.InfoContext(ctx, "schema declared", "schema_id", sc.ID)
	}

	for _, t := range in.Topics {
		_, err := s.BindTopic(ctx, t)
		if err = ignoreExisting(err); err != nil {
			return err
		}
		slog.InfoContext(ctx, "topic declared", "topic_id", t.TopicID, "schema_id", t.SchemaID, "encoding", t.Encoding)
	}

	for _, sub := range in.Subscriptions {
		_, err := s.BindSubscription(ctx, sub)
		if err = ignoreExisting(err); err != nil {
			return err
		}
		slog.InfoContext(ctx, "subscription declared", "subscription_id", sub.SubscriptionID, "topic_id", sub.TopicID)
	}

	return nil
}

func ignoreExisting(err error) error {
	if errors.Is(err, messaging.ErrAlreadyExists) {
		return nil
	}
	return err
}
