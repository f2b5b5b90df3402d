package inbound

import (
	"context"

	"github.com/shandysiswandi/schemabus/internal/pipeline/entity"
	"github.com/shandysiswandi/schemabus/internal/pipeline/usecase"
	"github.com/shandysiswandi/schemabus/internal/pkg/schema"
)

type ucConsumer interface {
	Receive(ctx context.Context, in usecase.ReceiveInput, handler usecase.MessageHandler) error
}

type uc interface {
	ucConsumer

	CreateSchema(ctx context.Context, in usecase.CreateSchemaInput) (schema.Schema, error)
	GetSchema(ctx context.Context, id string) (schema.Schema, error)

	BindTopic(ctx context.Context, in usecase.BindTopicInput) (entity.TopicBinding, error)
	GetTopic(ctx context.Context, id string) (entity.TopicBinding, error)
	DeleteTopic(ctx context.Context, id string) error

	BindSubscription(ctx context.Context, in usecase.BindSubscriptionInput) (entity.SubscriptionBinding, error)
	GetSubscription(ctx context.Context, id string) (entity.SubscriptionBinding, error)
	DeleteSubscription(ctx context.Context, id string) error

	Publish(ctx context.Context, in usecase.PublishInput) ([]entity.PublishResult, error)
	Pull(ctx context.Context, in usecase.PullInput) ([]entity.PulledMessage, error)
	Acknowledge(ctx context.Context, in usecase.AcknowledgeInput) error
}
