package inbound

import (
	"context"
	"log/slog"

	"github.com/shandysiswandi/schemabus/internal/pipeline/usecase"
	"github.com/shandysiswandi/schemabus/internal/pkg/config"
	"github.com/shandysiswandi/schemabus/internal/pkg/goroutine"
	"github.com/shandysiswandi/schemabus/internal/pkg/instrument"
	"github.com/shandysiswandi/schemabus/internal/pkg/messaging"
)

// ConsumerConfig is one entry of modules.pipeline.consumers.
type ConsumerConfig struct {
	Name           string `mapstructure:"name"`
	SubscriptionID string `mapstructure:"subscription"`
	Concurrency    int    `mapstructure:"concurrency"`
	MaxMessages    int    `mapstructure:"max_messages"`
}

// RegisterConsumers starts a background Receive loop for every configured
// consumer and returns the handler they share. The loops stop when ctx is
// cancelled.
func RegisterConsumers(
	ctx context.Context,
	cfg config.Config,
	routine *goroutine.Manager,
	uc ucConsumer,
	ins instrument.Instrumentation,
) (*ConsumerHandler, error) {
	var consumers []ConsumerConfig
	if err := cfg.Unmarshal("modules.pipeline.consumers", &consumers); err != nil {
		return nil, err
	}

	handler := &ConsumerHandler{ins: ins}
	for _, c := range consumers {
		if c.Name == "" {
			c.Name = c.SubscriptionID
		}

		err := routine.Go(ctx, "consumer "+c.Name, func(pCtx context.Context) error {
			slog.InfoContext(pCtx, "running consumer", "consumer", c.Name, "subscription", c.SubscriptionID)
			return uc.Receive(pCtx, usecase.ReceiveInput{
				SubscriptionID: c.SubscriptionID,
				Concurrency:    c.Concurrency,
				MaxMessages:    c.MaxMessages,
				Stats:          &handler.stats,
			}, handler.LogMessage)
		})
		if err != nil {
			return nil, err
		}
	}

	return handler, nil
}

// ConsumerHandler logs every delivery and acknowledges it.
type ConsumerHandler struct {
	ins   instrument.Instrumentation
	stats messaging.ConsumeStats
}

// Stats exposes the counters shared by all consumer loops.
func (h *ConsumerHandler) Stats() *messaging.ConsumeStats {
	return &h.stats
}
