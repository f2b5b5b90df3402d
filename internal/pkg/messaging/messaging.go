package messaging

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/shandysiswandi/schemabus/internal/pkg/schema"
)

var (
	ErrUnsupported          = errors.New("messaging: unsupported operation")
	ErrClosed               = errors.New("messaging: broker is closed")
	ErrTopicNotFound        = errors.New("messaging: topic not found")
	ErrSubscriptionNotFound = errors.New("messaging: subscription not found")
	ErrSchemaNotFound       = errors.New("messaging: schema not found")
	ErrAlreadyExists        = errors.New("messaging: resource already exists")
)

const (
	// AttrSchemaName and AttrSchemaEncoding mark a payload published on a
	// schema-bound topic with the schema and encoding it was written in.
	AttrSchemaName     = "googclient_schemaname"
	AttrSchemaEncoding = "googclient_schemaencoding"

	// DeletedTopic replaces the topic of a subscription whose topic was deleted.
	DeletedTopic = "_deleted-topic_"

	DefaultAckDeadline = 10 * time.Second
	MaxAckDeadline     = 600 * time.Second
	DefaultPullWait    = 5 * time.Second
)

// Broker is the full driver surface.
type Broker interface {
	io.Closer
	Admin
	Publisher
	Puller
}

// Admin manages schemas, topics and subscriptions.
type Admin interface {
	CreateSchema(ctx context.Context, s schema.Schema) error
	GetSchema(ctx context.Context, id string) (schema.Schema, error)

	CreateTopic(ctx context.Context, cfg TopicConfig) error
	GetTopic(ctx context.Context, id string) (TopicConfig, error)
	DeleteTopic(ctx context.Context, id string) error

	CreateSubscription(ctx context.Context, cfg SubscriptionConfig) error
	GetSubscription(ctx context.Context, id string) (SubscriptionConfig, error)
	DeleteSubscription(ctx context.Context, id string) error
}

// Publisher sends payloads to a topic.
type Publisher interface {
	// Publish returns one result per message in input order. The returned
	// error is reserved for failures of the whole call such as
	// ErrTopicNotFound; a failed message only sets its result's Err.
	Publish(ctx context.Context, topicID string, msgs []OutgoingMessage) ([]PublishResult, error)
}

// Puller receives and acknowledges messages of a subscription.
type Puller interface {
	// Pull returns at most maxMessages deliverable messages. With
	// returnImmediately false it waits until one is available, the driver's
	// pull wait elapses or ctx is done; cancellation is not an error.
	Pull(ctx context.Context, subscriptionID string, maxMessages int, returnImmediately bool) ([]ReceivedMessage, error)

	// Acknowledge settles deliveries. Unknown, superseded and expired ack
	// ids are ignored.
	Acknowledge(ctx context.Context, subscriptionID string, ackIDs []string) error
}

// TopicConfig binds a topic to an optional schema. Encoding is meaningful
// only when SchemaID is set.
type TopicConfig struct {
	ID       string
	SchemaID string
	Encoding schema.Encoding
}

// HasSchema reports whether the topic is schema bound.
func (t TopicConfig) HasSchema() bool {
	return t.SchemaID != ""
}

// SubscriptionConfig is a pull subscription attached to a topic.
type SubscriptionConfig struct {
	ID          string
	TopicID     string
	AckDeadline time.Duration
}

// OutgoingMessage is an encoded payload ready to publish.
type OutgoingMessage struct {
	Data        []byte
	Attributes  map[string]string
	OrderingKey string
}

// PublishResult is the outcome of publishing one message.
type PublishResult struct {
	MessageID   string
	PublishTime time.Time
	Err         error
}

// ReceivedMessage is one delivery of a message to a subscription.
type ReceivedMessage struct {
	AckID           string
	MessageID       string
	Data            []byte
	Attributes      map[string]string
	OrderingKey     string
	PublishTime     time.Time
	DeliveryAttempt int
}

// SchemaMarker returns the schema id and encoding a payload was stamped
// with. Fully qualified names ("projects/p/schemas/state") are reduced to
// the schema id.
func SchemaMarker(attrs map[string]string) (schemaID, encoding string, ok bool) {
	name, ok := attrs[AttrSchemaName]
	if !ok {
		return "", "", false
	}
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name, attrs[AttrSchemaEncoding], true
}

// stampSchema copies attrs and adds the schema marker of t.
func stampSchema(attrs map[string]string, t TopicConfig) map[string]string {
	out := make(map[string]string, len(attrs)+2)
	for k, v := range attrs {
		out[k] = v
	}
	if t.HasSchema() {
		out[AttrSchemaName] = t.SchemaID
		out[AttrSchemaEncoding] = string(t.Encoding)
	}
	return out
}

func normalizeAckDeadline(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultAckDeadline
	}
	return min(d, MaxAckDeadline)
}
