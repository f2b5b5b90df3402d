package inbound

import (
	"net/http"
	"time"

	"github.com/samber/lo"
	"github.com/shandysiswandi/schemabus/internal/pipeline/entity"
	"github.com/shandysiswandi/schemabus/internal/pkg/schema"
	"github.com/shandysiswandi/schemabus/internal/pkg/valueobject"
)

type CreateSchemaRequest struct {
	ID         string   `json:"id"`
	Definition string   `json:"definition"`
	Encodings  []string `json:"encodings"`
}

type SchemaFieldResponse struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Number   int    `json:"number"`
}

type SchemaResponse struct {
	ID              string                `json:"id"`
	Definition      string                `json:"definition"`
	ProtoDefinition string                `json:"proto_definition"`
	Fields          []SchemaFieldResponse `json:"fields"`
	Encodings       []string              `json:"encodings"`

	created bool
}

func (r SchemaResponse) StatusCode() int {
	if r.created {
		return http.StatusCreated
	}
	return http.StatusOK
}

func newSchemaResponse(sc schema.Schema, created bool) SchemaResponse {
	return SchemaResponse{
		ID:              sc.ID,
		Definition:      sc.Definition(),
		ProtoDefinition: sc.ProtoDefinition(),
		Fields: lo.Map(sc.Fields, func(f schema.Field, _ int) SchemaFieldResponse {
			return SchemaFieldResponse{Name: f.Name, Type: string(f.Type), Required: f.Required, Number: f.Number}
		}),
		Encodings: lo.Map(sc.Encodings, func(e schema.Encoding, _ int) string { return e.String() }),
		created:   created,
	}
}

type BindTopicRequest struct {
	TopicID  string `json:"topic_id"`
	SchemaID string `json:"schema_id"`
	Encoding string `json:"encoding"`
}

type TopicResponse struct {
	TopicID  string `json:"topic_id"`
	SchemaID string `json:"schema_id,omitempty"`
	Encoding string `json:"encoding,omitempty"`

	created bool
}

func (r TopicResponse) StatusCode() int {
	if r.created {
		return http.StatusCreated
	}
	return http.StatusOK
}

func newTopicResponse(t entity.TopicBinding, created bool) TopicResponse {
	return TopicResponse{TopicID: t.TopicID, SchemaID: t.SchemaID, Encoding: t.Encoding.String(), created: created}
}

type BindSubscriptionRequest struct {
	SubscriptionID     string `json:"subscription_id"`
	TopicID            string `json:"topic_id"`
	AckDeadlineSeconds int    `json:"ack_deadline_seconds"`
}

type SubscriptionResponse struct {
	SubscriptionID     string `json:"subscription_id"`
	TopicID            string `json:"topic_id"`
	AckDeadlineSeconds int    `json:"ack_deadline_seconds"`
	Detached           bool   `json:"detached"`

	created bool
}

func (r SubscriptionResponse) StatusCode() int {
	if r.created {
		return http.StatusCreated
	}
	return http.StatusOK
}

func newSubscriptionResponse(s entity.SubscriptionBinding, created bool) SubscriptionResponse {
	return SubscriptionResponse{
		SubscriptionID:     s.SubscriptionID,
		TopicID:            s.TopicID,
		AckDeadlineSeconds: int(s.AckDeadline / time.Second),
		Detached:           s.Detached(),
		created:            created,
	}
}

type PublishMessageRequest struct {
	Fields      map[string]any    `json:"fields"`
	Data        []byte            `json:"data"`
	Attributes  map[string]string `json:"attributes"`
	OrderingKey string            `json:"ordering_key"`
}

type PublishRequest struct {
	Messages []PublishMessageRequest `json:"messages"`
}

type PublishResultResponse struct {
	MessageID   string     `json:"message_id,omitempty"`
	PublishTime *time.Time `json:"publish_time,omitempty"`
	Error       string     `json:"error,omitempty"`
}

type PublishResponse struct {
	Results []PublishResultResponse `json:"results"`
	failed  int
}

func (r PublishResponse) Meta() map[string]any {
	return map[string]any{"total": len(r.Results), "failed": r.failed}
}

func newPublishResponse(results []entity.PublishResult) PublishResponse {
	resp := PublishResponse{Results: make([]PublishResultResponse, len(results))}
	for i, res := range results {
		if res.Err != nil {
			resp.Results[i] = PublishResultResponse{Error: res.Err.Error()}
			resp.failed++
			continue
		}
		resp.Results[i] = PublishResultResponse{MessageID: res.MessageID, PublishTime: lo.ToPtr(res.PublishTime)}
	}
	return resp
}

type PullRequest struct {
	MaxMessages       int  `json:"max_messages"`
	ReturnImmediately bool `json:"return_immediately"`
}

type PulledMessageResponse struct {
	AckID           string                 `json:"ack_id"`
	MessageID       string                 `json:"message_id"`
	Data            []byte                 `json:"data"`
	Fields          map[string]any         `json:"fields,omitempty"`
	Attributes      valueobject.Attributes `json:"attributes,omitempty"`
	OrderingKey     string                 `json:"ordering_key,omitempty"`
	PublishTime     time.Time              `json:"publish_time"`
	DeliveryAttempt int                    `json:"delivery_attempt"`
	DecodeError     string                 `json:"decode_error,omitempty"`
}

type PullResponse struct {
	Messages []PulledMessageResponse `json:"messages"`
}

func newPullResponse(msgs []entity.PulledMessage) PullResponse {
	return PullResponse{Messages: lo.Map(msgs, func(m entity.PulledMessage, _ int) PulledMessageResponse {
		resp := PulledMessageResponse{
			AckID:           m.AckID,
			MessageID:       m.ID,
			Data:            m.Data,
			Fields:          m.Fields,
			Attributes:      m.Attributes,
			OrderingKey:     m.OrderingKey,
			PublishTime:     m.PublishTime,
			DeliveryAttempt: m.DeliveryAttempt,
		}
		if m.DecodeErr != nil {
			resp.DecodeError = m.DecodeErr.Error()
		}
		return resp
	})}
}

type AcknowledgeRequest struct {
	AckIDs []string `json:"ack_ids"`
}
