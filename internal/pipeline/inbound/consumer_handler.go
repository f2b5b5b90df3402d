package inbound

import (
	"context"
	"log/slog"

	"github.com/shandysiswandi/schemabus/internal/pipeline/entity"
)

// LogMessage records a received message. A payload that cannot be decoded
// is logged and acknowledged; redelivering it would fail the same way.
func (h *ConsumerHandler) LogMessage(ctx context.Context, msg entity.PulledMessage) error {
	ctx, span := h.ins.Tracer("pipeline.inbound.consumer").Start(ctx, "LogMessage")
	defer span.End()

	if msg.DecodeErr != nil {
		slog.ErrorContext(ctx, "failed to decode received message",
			"message_id", msg.ID, "attempt", msg.DeliveryAttempt, "data", string(msg.Data), "error", msg.DecodeErr)
		return nil
	}

	slog.InfoContext(ctx, "received message",
		"message_id", msg.ID,
		"attempt", msg.DeliveryAttempt,
		"publish_time", msg.PublishTime,
		"fields", msg.Fields,
		"attributes", map[string]string(msg.Attributes),
	)
	return nil
}
