package pipeline

import (
	"context"
	"time"

	"github.com/samber/lo"
	"github.com/shandysiswandi/schemabus/internal/pipeline/inbound"
	"github.com/shandysiswandi/schemabus/internal/pipeline/usecase"
	"github.com/shandysiswandi/schemabus/internal/pkg/config"
	"github.com/shandysiswandi/schemabus/internal/pkg/goroutine"
	"github.com/shandysiswandi/schemabus/internal/pkg/instrument"
	"github.com/shandysiswandi/schemabus/internal/pkg/messaging"
	"github.com/shandysiswandi/schemabus/internal/pkg/router"
	"github.com/shandysiswandi/schemabus/internal/pkg/schema"
	"github.com/shandysiswandi/schemabus/internal/pkg/validator"
)

type Dependency struct {
	// Ctx scopes the background consumers; without it none are started.
	Ctx        context.Context
	Broker     messaging.Broker           `validate:"required"`
	Codec      *schema.Codec              `validate:"required"`
	Router     *router.Router             `validate:"required"`
	Goroutine  *goroutine.Manager         `validate:"required"`
	Config     config.Config              `validate:"required"`
	Instrument instrument.Instrumentation `validate:"required"`
	Validator  validator.Validator        `validate:"required"`
}

type schemaDecl struct {
	ID         string   `mapstructure:"id"`
	Definition string   `mapstructure:"definition"`
	Encodings  []string `mapstructure:"encodings"`
}

type topicDecl struct {
	ID       string `mapstructure:"id"`
	Schema   string `mapstructure:"schema"`
	Encoding string `mapstructure:"encoding"`
}

type subscriptionDecl struct {
	ID                 string `mapstructure:"id"`
	Topic              string `mapstructure:"topic"`
	AckDeadlineSeconds int    `mapstructure:"ack_deadline_seconds"`
}

// declarations lists the entities created at start-up under
// modules.pipeline.
type declarations struct {
	Schemas       []schemaDecl       `mapstructure:"schemas"`
	Topics        []topicDecl        `mapstructure:"topics"`
	Subscriptions []subscriptionDecl `mapstructure:"subscriptions"`
}

func New(dep Dependency) error {
	if err := dep.Validator.Validate(dep); err != nil {
		return err
	}

	uc := usecase.New(usecase.Dependency{
		Broker:     dep.Broker,
		Codec:      dep.Codec,
		Validator:  dep.Validator,
		Instrument: dep.Instrument,
	})

	ctx := dep.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := bootstrap(ctx, dep.Config, uc); err != nil {
		return err
	}

	inbound.RegisterHTTPEndpoint(dep.Router, uc)
	if dep.Ctx == nil {
		return nil
	}

	_, err := inbound.RegisterConsumers(dep.Ctx, dep.Config, dep.Goroutine, uc, dep.Instrument)
	return err
}

func bootstrap(ctx context.Context, cfg config.Config, uc *usecase.Usecase) error {
	var decl declarations
	if err := cfg.Unmarshal("modules.pipeline", &decl); err != nil {
		return err
	}

	return uc.Bootstrap(ctx, usecase.BootstrapInput{
		Schemas: lo.Map(decl.Schemas, func(d schemaDecl, _ int) usecase.CreateSchemaInput {
			return usecase.CreateSchemaInput{ID: d.ID, Definition: d.Definition, Encodings: d.Encodings}
		}),
		Topics: lo.Map(decl.Topics, func(d topicDecl, _ int) usecase.BindTopicInput {
			return usecase.BindTopicInput{TopicID: d.ID, SchemaID: d.Schema, Encoding: d.Encoding}
		}),
		Subscriptions: lo.Map(decl.Subscriptions, func(d subscriptionDecl, _ int) usecase.BindSubscriptionInput {
			return usecase.BindSubscriptionInput{
				SubscriptionID: d.ID,
				TopicID:        d.Topic,
				AckDeadline:    time.Duration(d.AckDeadlineSeconds) * time.Second,
			}
		}),
	})
}
