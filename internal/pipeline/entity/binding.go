package entity

import (
	"time"

	"github.com/shandysiswandi/schemabus/internal/pkg/messaging"
	"github.com/shandysiswandi/schemabus/internal/pkg/schema"
)

// TopicBinding ties a topic to an optional schema. Encoding is ignored when
// SchemaID is empty.
type TopicBinding struct {
	TopicID  string
	SchemaID string
	Encoding schema.Encoding
}

func (t TopicBinding) HasSchema() bool {
	return t.SchemaID != ""
}

// SubscriptionBinding is a pull subscription on a topic.
type SubscriptionBinding struct {
	SubscriptionID string
	TopicID        string
	AckDeadline    time.Duration
}

// Detached reports whether the subscription's topic was deleted.
func (s SubscriptionBinding) Detached() bool {
	return s.TopicID == DeletedTopic
}

// DeletedTopic is the topic of a subscription whose topic no longer exists.
const DeletedTopic = messaging.DeletedTopic
