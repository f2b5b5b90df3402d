package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/samber/lo"
	"github.com/shandysiswandi/schemabus/internal/pipeline/entity"
	"github.com/shandysiswandi/schemabus/internal/pkg/goerror"
	"github.com/shandysiswandi/schemabus/internal/pkg/messaging"
	"github.com/shandysiswandi/schemabus/internal/pkg/schema"
)

var errFieldsWithoutSchema = errors.New("pipeline: topic has no schema, send data instead of fields")

type PublishMessage struct {
	// Fields is the record for a schema-bound topic.
	Fields map[string]any
	// Data is sent as is on a topic without schema.
	Data        []byte
	Attributes  map[string]string
	OrderingKey string
}

type PublishInput struct {
	TopicID  string           `validate:"required"`
	Messages []PublishMessage `validate:"required,min=1,max=1000"`
}

// Publish encodes each message with the topic's schema and encoding and
// hands the batch to the broker. A message that fails encoding only fails
// its own result; the call fails as a whole only when the topic is missing
// or the broker rejects the batch.
func (s *Usecase) Publish(ctx context.Context, in PublishInput) ([]entity.PublishResult, error) {
	ctx, span := s.startSpan(ctx, "Publish")
	defer span.End()

	in.TopicID = strings.TrimSpace(in.TopicID)

	if err := s.validator.Validate(in); err != nil {
		return nil, goerror.NewInvalidInput(err)
	}

	topic, err := s.broker.GetTopic(ctx, in.TopicID)
	if err != nil {
		return nil, s.brokerError(ctx, span, "broker get topic", err)
	}

	var sc schema.Schema
	if topic.HasSchema() {
		if sc, err = s.lookupSchema(ctx, topic.SchemaID); err != nil {
			return nil, s.brokerError(ctx, span, "broker get schema", err)
		}
	}

	results := make([]entity.PublishResult, len(in.Messages))
	outgoing := make([]messaging.OutgoingMessage, 0, len(in.Messages))
	index := make([]int, 0, len(in.Messages))

	for i, m := range in.Messages {
		data, err := s.encode(topic, sc, m)
		if err != nil {
			results[i].Err = err
			continue
		}
		outgoing = append(outgoing, messaging.OutgoingMessage{
			Data:        data,
			Attributes:  m.Attributes,
			OrderingKey: m.OrderingKey,
		})
		index = append(index, i)
	}

	if len(outgoing) > 0 {
		published, err := s.broker.Publish(ctx, in.TopicID, outgoing)
		if err != nil {
			return nil, s.brokerError(ctx, span, "broker publish", err)
		}
		for j, res := range published {
			results[index[j]] = entity.PublishResult{MessageID: res.MessageID, PublishTime: res.PublishTime, Err: res.Err}
		}
	}

	if failed := lo.CountBy(results, func(r entity.PublishResult) bool { return r.Err != nil }); failed > 0 {
		slog.WarnContext(ctx, "publish finished with failed messages", "topic_id", in.TopicID, "total", len(results), "failed", failed)
	}

	return results, nil
}

func (s *Usecase) encode(topic messaging.TopicConfig, sc schema.Schema, m PublishMessage) ([]byte, error) {
	if !topic.HasSchema() {
		if len(m.Fields) > 0 {
			return nil, errFieldsWithoutSchema
		}
		return m.Data, nil
	}

	fields, err := sc.Coerce(m.Fields)
	if err != nil {
		return nil, err
	}
	return s.codec.Encode(sc, topic.Encoding, fields)
}
