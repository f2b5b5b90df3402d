package inbound

import (
	"time"

	"github.com/samber/lo"
	"github.com/shandysiswandi/schemabus/internal/pipeline/usecase"
	"github.com/shandysiswandi/schemabus/internal/pkg/router"
)

type HTTPEndpoint struct {
	uc uc
}

// CreateSchema registers a schema.
// @Summary Create schema
// @Description Registers a schema from its compact or protobuf definition.
// @Tags Schema
// @Accept json
// @Produce json
// @Param request body CreateSchemaRequest true "Schema payload"
// @Success 201 {object} router.successResponse{data=SchemaResponse} "Created schema"
// @Failure 409 {object} router.errorResponse "Schema already exists"
// @Failure 422 {object} router.errorResponse "Validation error"
// @Router /api/v1/schemas [post]
func (h *HTTPEndpoint) CreateSchema(r *router.Request) (any, error) {
	var req CreateSchemaRequest
	if err := r.DecodeBody(&req); err != nil {
		return nil, err
	}

	sc, err := h.uc.CreateSchema(r.Context(), usecase.CreateSchemaInput{
		ID:         req.ID,
		Definition: req.Definition,
		Encodings:  req.Encodings,
	})
	if err != nil {
		return nil, err
	}

	return newSchemaResponse(sc, true), nil
}

// GetSchema returns a schema.
// @Summary Get schema
// @Tags Schema
// @Produce json
// @Param id path string true "Schema ID"
// @Success 200 {object} router.successResponse{data=SchemaResponse} "Schema"
// @Failure 404 {object} router.errorResponse "Schema not found"
// @Router /api/v1/schemas/{id} [get]
func (h *HTTPEndpoint) GetSchema(r *router.Request) (any, error) {
	sc, err := h.uc.GetSchema(r.Context(), r.GetParam("id"))
	if err != nil {
		return nil, err
	}

	return newSchemaResponse(sc, false), nil
}

// BindTopic creates a topic with an optional schema binding.
// @Summary Create topic
// @Tags Topic
// @Accept json
// @Produce json
// @Param request body BindTopicRequest true "Topic payload"
// @Success 201 {object} router.successResponse{data=TopicResponse} "Created topic"
// @Failure 404 {object} router.errorResponse "Schema not found"
// @Failure 409 {object} router.errorResponse "Topic already exists"
// @Failure 422 {object} router.errorResponse "Validation error or unsupported encoding"
// @Router /api/v1/topics [post]
func (h *HTTPEndpoint) BindTopic(r *router.Request) (any, error) {
	var req BindTopicRequest
	if err := r.DecodeBody(&req); err != nil {
		return nil, err
	}

	t, err := h.uc.BindTopic(r.Context(), usecase.BindTopicInput{
		TopicID:  req.TopicID,
		SchemaID: req.SchemaID,
		Encoding: req.Encoding,
	})
	if err != nil {
		return nil, err
	}

	return newTopicResponse(t, true), nil
}

// GetTopic returns a topic binding.
// @Summary Get topic
// @Tags Topic
// @Produce json
// @Param id path string true "Topic ID"
// @Success 200 {object} router.successResponse{data=TopicResponse} "Topic"
// @Failure 404 {object} router.errorResponse "Topic not found"
// @Router /api/v1/topics/{id} [get]
func (h *HTTPEndpoint) GetTopic(r *router.Request) (any, error) {
	t, err := h.uc.GetTopic(r.Context(), r.GetParam("id"))
	if err != nil {
		return nil, err
	}

	return newTopicResponse(t, false), nil
}

// DeleteTopic deletes a topic; its subscriptions are detached.
// @Summary Delete topic
// @Tags Topic
// @Param id path string true "Topic ID"
// @Success 204 "No Content"
// @Failure 404 {object} router.errorResponse "Topic not found"
// @Router /api/v1/topics/{id} [delete]
func (h *HTTPEndpoint) DeleteTopic(r *router.Request) (any, error) {
	return nil, h.uc.DeleteTopic(r.Context(), r.GetParam("id"))
}

// Publish publishes a batch of messages.
// @Summary Publish messages
// @Description Each message is encoded with the topic's schema. Failed messages are reported per result.
// @Tags Topic
// @Accept json
// @Produce json
// @Param id path string true "Topic ID"
// @Param request body PublishRequest true "Messages"
// @Success 200 {object} router.successResponse{data=PublishResponse} "Per-message results"
// @Failure 404 {object} router.errorResponse "Topic not found"
// @Failure 422 {object} router.errorResponse "Validation error"
// @Router /api/v1/topics/{id}/publish [post]
func (h *HTTPEndpoint) Publish(r *router.Request) (any, error) {
	var req PublishRequest
	if err := r.DecodeBody(&req); err != nil {
		return nil, err
	}

	results, err := h.uc.Publish(r.Context(), usecase.PublishInput{
		TopicID: r.GetParam("id"),
		Messages: lo.Map(req.Messages, func(m PublishMessageRequest, _ int) usecase.PublishMessage {
			return usecase.PublishMessage{
				Fields:      m.Fields,
				Data:        m.Data,
				Attributes:  m.Attributes,
				OrderingKey: m.OrderingKey,
			}
		}),
	})
	if err != nil {
		return nil, err
	}

	return newPublishResponse(results), nil
}

// BindSubscription creates a pull subscription.
// @Summary Create subscription
// @Tags Subscription
// @Accept json
// @Produce json
// @Param request body BindSubscriptionRequest true "Subscription payload"
// @Success 201 {object} router.successResponse{data=SubscriptionResponse} "Created subscription"
// @Failure 404 {object} router.errorResponse "Topic not found"
// @Failure 409 {object} router.errorResponse "Subscription already exists"
// @Failure 422 {object} router.errorResponse "Validation error"
// @Router /api/v1/subscriptions [post]
func (h *HTTPEndpoint) BindSubscription(r *router.Request) (any, error) {
	var req BindSubscriptionRequest
	if err := r.DecodeBody(&req); err != nil {
		return nil, err
	}

	s, err := h.uc.BindSubscription(r.Context(), usecase.BindSubscriptionInput{
		SubscriptionID: req.SubscriptionID,
		TopicID:        req.TopicID,
		AckDeadline:    time.Duration(req.AckDeadlineSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}

	return newSubscriptionResponse(s, true), nil
}

// GetSubscription returns a subscription.
// @Summary Get subscription
// @Tags Subscription
// @Produce json
// @Param id path string true "Subscription ID"
// @Success 200 {object} router.successResponse{data=SubscriptionResponse} "Subscription"
// @Failure 404 {object} router.errorResponse "Subscription not found"
// @Router /api/v1/subscriptions/{id} [get]
func (h *HTTPEndpoint) GetSubscription(r *router.Request) (any, error) {
	s, err := h.uc.GetSubscription(r.Context(), r.GetParam("id"))
	if err != nil {
		return nil, err
	}

	return newSubscriptionResponse(s, false), nil
}

// DeleteSubscription deletes a subscription.
// @Summary Delete subscription
// @Tags Subscription
// @Param id path string true "Subscription ID"
// @Success 204 "No Content"
// @Failure 404 {object} router.errorResponse "Subscription not found"
// @Router /api/v1/subscriptions/{id} [delete]
func (h *HTTPEndpoint) DeleteSubscription(r *router.Request) (any, error) {
	return nil, h.uc.DeleteSubscription(r.Context(), r.GetParam("id"))
}

// Pull leases messages of a subscription.
// @Summary Pull messages
// @Description Waits for messages unless return_immediately is set. Decode failures are reported per message.
// @Tags Subscription
// @Accept json
// @Produce json
// @Param id path string true "Subscription ID"
// @Param request body PullRequest false "Pull options"
// @Success 200 {object} router.successResponse{data=PullResponse} "Leased messages"
// @Failure 404 {object} router.errorResponse "Subscription not found"
// @Router /api/v1/subscriptions/{id}/pull [post]
func (h *HTTPEndpoint) Pull(r *router.Request) (any, error) {
	var req PullRequest
	if r.ContentLength != 0 {
		if err := r.DecodeBody(&req); err != nil {
			return nil, err
		}
	}

	msgs, err := h.uc.Pull(r.Context(), usecase.PullInput{
		SubscriptionID:    r.GetParam("id"),
		MaxMessages:       req.MaxMessages,
		ReturnImmediately: req.ReturnImmediately,
	})
	if err != nil {
		return nil, err
	}

	return newPullResponse(msgs), nil
}

// Acknowledge settles leased messages.
// @Summary Acknowledge messages
// @Description Unknown, superseded and expired ack ids are ignored.
// @Tags Subscription
// @Accept json
// @Param id path string true "Subscription ID"
// @Param request body AcknowledgeRequest true "Ack ids"
// @Success 204 "No Content"
// @Failure 404 {object} router.errorResponse "Subscription not found"
// @Router /api/v1/subscriptions/{id}/acknowledge [post]
func (h *HTTPEndpoint) Acknowledge(r *router.Request) (any, error) {
	var req AcknowledgeRequest
	if err := r.DecodeBody(&req); err != nil {
		return nil, err
	}

	return nil, h.uc.Acknowledge(r.Context(), usecase.AcknowledgeInput{
		SubscriptionID: r.GetParam("id"),
		AckIDs:         req.AckIDs,
	})
}
