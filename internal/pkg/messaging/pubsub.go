package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub/v2"
	vkit "cloud.google.com/go/pubsub/v2/apiv1"
	pb "cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/samber/lo"
	"github.com/shandysiswandi/schemabus/internal/pkg/clock"
	"github.com/shandysiswandi/schemabus/internal/pkg/schema"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrPubSubProjectIDRequired is returned when a ProjectID is required but missing.
	ErrPubSubProjectIDRequired = errors.New("messaging: pubsub project id is required")
)

// PubSubConfig configures the Google Pub/Sub implementation.
type PubSubConfig struct {
	// ProjectID is the Google Cloud project ID.
	ProjectID string

	// Client provides an existing Pub/Sub client. The broker does not
	// close a client it did not create.
	Client *pubsub.Client
	// ClientOptions are used when creating the Pub/Sub and schema clients.
	ClientOptions []option.ClientOption
	// PullWait bounds a blocking Pull.
	PullWait time.Duration
	Clock    clock.Clocker
}

// PubSub is a Broker backed by Google Pub/Sub. The service stamps the
// schema marker attributes itself.
type PubSub struct {
	project  string
	client   *pubsub.Client
	schemas  *vkit.SchemaClient
	ownsConn bool
	pullWait time.Duration
	clock    clock.Clocker

	mu         sync.Mutex
	closed     bool
	publishers map[string]*pubsub.Publisher
}

// NewPubSub constructs a PubSub broker.
func NewPubSub(ctx context.Context, cfg PubSubConfig) (*PubSub, error) {
	if cfg.ProjectID == "" {
		if cfg.Client == nil {
			return nil, ErrPubSubProjectIDRequired
		}
		cfg.ProjectID = cfg.Client.Project()
	}

	p := &PubSub{
		project:    cfg.ProjectID,
		client:     cfg.Client,
		pullWait:   cfg.PullWait,
		clock:      cfg.Clock,
		publishers: map[string]*pubsub.Publisher{},
	}
	if p.pullWait <= 0 {
		p.pullWait = DefaultPullWait
	}
	if p.clock == nil {
		p.clock = clock.New()
	}

	if p.client == nil {
		c, err := pubsub.NewClient(ctx, cfg.ProjectID, cfg.ClientOptions...)
		if err != nil {
			return nil, fmt.Errorf("messaging: pubsub new client: %w", err)
		}
		p.client = c
		p.ownsConn = true
	}

	sc, err := vkit.NewSchemaClient(ctx, cfg.ClientOptions...)
	if err != nil {
		if p.ownsConn {
			_ = p.client.Close()
		}
		return nil, fmt.Errorf("messaging: pubsub new schema client: %w", err)
	}
	p.schemas = sc

	return p, nil
}

// Close stops publishers and closes the clients the broker created.
func (p *PubSub) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	pubs := lo.Values(p.publishers)
	p.publishers = nil
	p.mu.Unlock()

	for _, pub := range pubs {
		pub.Stop()
	}

	errs := []error{p.schemas.Close()}
	if p.ownsConn {
		errs = append(errs, p.client.Close())
	}
	return errors.Join(errs...)
}

func (p *PubSub) CreateSchema(ctx context.Context, s schema.Schema) error {
	if err := p.ensureOpen(); err != nil {
		return err
	}
	_, err := p.schemas.CreateSchema(ctx, &pb.CreateSchemaRequest{
		Parent:   "projects/" + p.project,
		SchemaId: s.ID,
		Schema: &pb.Schema{
			Type:       pb.Schema_PROTOCOL_BUFFER,
			Definition: s.ProtoDefinition(),
		},
	})
	return wrapPubSub(err, ErrSchemaNotFound, s.ID)
}

func (p *PubSub) GetSchema(ctx context.Context, id string) (schema.Schema, error) {
	if err := p.ensureOpen(); err != nil {
		return schema.Schema{}, err
	}
	res, err := p.schemas.GetSchema(ctx, &pb.GetSchemaRequest{Name: p.schemaName(id), View: pb.SchemaView_FULL})
	if err != nil {
		return schema.Schema{}, wrapPubSub(err, ErrSchemaNotFound, id)
	}
	if res.GetType() != pb.Schema_PROTOCOL_BUFFER {
		return schema.Schema{}, fmt.Errorf("%w: schema %q has type %s", schema.ErrInvalidSchema, id, res.GetType())
	}
	return schema.ParseProtoDefinition(id, res.GetDefinition())
}

func (p *PubSub) CreateTopic(ctx context.Context, cfg TopicConfig) error {
	if err := p.ensureOpen(); err != nil {
		return err
	}

	req := &pb.Topic{Name: p.topicName(cfg.ID)}
	if cfg.HasSchema() {
		req.SchemaSettings = &pb.SchemaSettings{
			Schema:   p.schemaName(cfg.SchemaID),
			Encoding: toPubSubEncoding(cfg.Encoding),
		}
	}
	_, err := p.client.TopicAdminClient.CreateTopic(ctx, req)
	return wrapPubSub(err, ErrSchemaNotFound, cfg.ID)
}

func (p *PubSub) GetTopic(ctx context.Context, id string) (TopicConfig, error) {
	if err := p.ensureOpen(); err != nil {
		return TopicConfig{}, err
	}
	res, err := p.client.TopicAdminClient.GetTopic(ctx, &pb.GetTopicRequest{Topic: p.topicName(id)})
	if err != nil {
		return TopicConfig{}, wrapPubSub(err, ErrTopicNotFound, id)
	}

	cfg := TopicConfig{ID: id}
	if ss := res.GetSchemaSettings(); ss != nil && ss.GetSchema() != "" {
		cfg.SchemaID = lastSegment(ss.GetSchema())
		cfg.Encoding = fromPubSubEncoding(ss.GetEncoding())
	}
	return cfg, nil
}

func (p *PubSub) DeleteTopic(ctx context.Context, id string) error {
	if err := p.ensureOpen(); err != nil {
		return err
	}
	err := p.client.TopicAdminClient.DeleteTopic(ctx, &pb.DeleteTopicRequest{Topic: p.topicName(id)})
	if err != nil {
		return wrapPubSub(err, ErrTopicNotFound, id)
	}

	p.mu.Lock()
	if pub, ok := p.publishers[id]; ok {
		delete(p.publishers, id)
		defer pub.Stop()
	}
	p.mu.Unlock()
	return nil
}

func (p *PubSub) CreateSubscription(ctx context.Context, cfg SubscriptionConfig) error {
	if err := p.ensureOpen(); err != nil {
		return err
	}
	_, err := p.client.SubscriptionAdminClient.CreateSubscription(ctx, &pb.Subscription{
		Name:               p.subscriptionName(cfg.ID),
		Topic:              p.topicName(cfg.TopicID),
		AckDeadlineSeconds: int32(normalizeAckDeadline(cfg.AckDeadline) / time.Second),
	})
	return wrapPubSub(err, ErrTopicNotFound, cfg.TopicID)
}

func (p *PubSub) GetSubscription(ctx context.Context, id string) (SubscriptionConfig, error) {
	if err := p.ensureOpen(); err != nil {
		return SubscriptionConfig{}, err
	}
	res, err := p.client.SubscriptionAdminClient.GetSubscription(ctx, &pb.GetSubscriptionRequest{Subscription: p.subscriptionName(id)})
	if err != nil {
		return SubscriptionConfig{}, wrapPubSub(err, ErrSubscriptionNotFound, id)
	}
	return SubscriptionConfig{
		ID:          id,
		TopicID:     lastSegment(res.GetTopic()),
		AckDeadline: time.Duration(res.GetAckDeadlineSeconds()) * time.Second,
	}, nil
}

func (p *PubSub) DeleteSubscription(ctx context.Context, id string) error {
	if err := p.ensureOpen(); err != nil {
		return err
	}
	err := p.client.SubscriptionAdminClient.DeleteSubscription(ctx, &pb.DeleteSubscriptionRequest{Subscription: p.subscriptionName(id)})
	return wrapPubSub(err, ErrSubscriptionNotFound, id)
}

// Publish hands every message to the batching publisher and then waits
// for each result, so per-message errors stay independent.
func (p *PubSub) Publish(ctx context.Context, topicID string, msgs []OutgoingMessage) ([]PublishResult, error) {
	if _, err := p.GetTopic(ctx, topicID); err != nil {
		return nil, err
	}
	pub, err := p.getPublisher(topicID)
	if err != nil {
		return nil, err
	}

	pending := lo.Map(msgs, func(m OutgoingMessage, _ int) *pubsub.PublishResult {
		return pub.Publish(ctx, &pubsub.Message{
			Data:        m.Data,
			Attributes:  m.Attributes,
			OrderingKey: m.OrderingKey,
		})
	})

	now := p.clock.Now()
	results := make([]PublishResult, len(msgs))
	for i, res := range pending {
		id, err := res.Get(ctx)
		if err != nil {
			results[i].Err = fmt.Errorf("messaging: pubsub publish: %w", err)
			continue
		}
		results[i] = PublishResult{MessageID: id, PublishTime: now}
	}
	return results, nil
}

func (p *PubSub) Pull(ctx context.Context, subscriptionID string, maxMessages int, returnImmediately bool) ([]ReceivedMessage, error) {
	if err := p.ensureOpen(); err != nil {
		return nil, err
	}
	if !returnImmediately {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.pullWait)
		defer cancel()
	}

	res, err := p.client.SubscriptionAdminClient.Pull(ctx, &pb.PullRequest{
		Subscription:      p.subscriptionName(subscriptionID),
		MaxMessages:       int32(max(maxMessages, 1)),
		ReturnImmediately: returnImmediately, //nolint:staticcheck // the fake server and the service still honor it
	})
	if err != nil {
		if c := status.Code(err); c == codes.DeadlineExceeded || c == codes.Canceled || ctx.Err() != nil {
			return nil, nil
		}
		return nil, wrapPubSub(err, ErrSubscriptionNotFound, subscriptionID)
	}

	return lo.Map(res.GetReceivedMessages(), func(rm *pb.ReceivedMessage, _ int) ReceivedMessage {
		m := rm.GetMessage()
		return ReceivedMessage{
			AckID:           rm.GetAckId(),
			MessageID:       m.GetMessageId(),
			Data:            m.GetData(),
			Attributes:      m.GetAttributes(),
			OrderingKey:     m.GetOrderingKey(),
			PublishTime:     m.GetPublishTime().AsTime(),
			DeliveryAttempt: int(rm.GetDeliveryAttempt()),
		}
	}), nil
}

func (p *PubSub) Acknowledge(ctx context.Context, subscriptionID string, ackIDs []string) error {
	if err := p.ensureOpen(); err != nil {
		return err
	}
	if len(ackIDs) == 0 {
		return nil
	}
	err := p.client.SubscriptionAdminClient.Acknowledge(ctx, &pb.AcknowledgeRequest{
		Subscription: p.subscriptionName(subscriptionID),
		AckIds:       ackIDs,
	})
	return wrapPubSub(err, ErrSubscriptionNotFound, subscriptionID)
}

func (p *PubSub) getPublisher(topicID string) (*pubsub.Publisher, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}
	if pub, ok := p.publishers[topicID]; ok {
		return pub, nil
	}
	pub := p.client.Publisher(p.topicName(topicID))
	p.publishers[topicID] = pub
	return pub, nil
}

func (p *PubSub) ensureOpen() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	return nil
}

func (p *PubSub) topicName(id string) string {
	return "projects/" + p.project + "/topics/" + id
}

func (p *PubSub) subscriptionName(id string) string {
	return "projects/" + p.project + "/subscriptions/" + id
}

func (p *PubSub) schemaName(id string) string {
	return "projects/" + p.project + "/schemas/" + id
}

func lastSegment(name string) string {
	return name[strings.LastIndex(name, "/")+1:]
}

func toPubSubEncoding(e schema.Encoding) pb.Encoding {
	switch e {
	case schema.EncodingJSON:
		return pb.Encoding_JSON
	case schema.EncodingBinary:
		return pb.Encoding_BINARY
	default:
		return pb.Encoding_ENCODING_UNSPECIFIED
	}
}

func fromPubSubEncoding(e pb.Encoding) schema.Encoding {
	switch e {
	case pb.Encoding_JSON:
		return schema.EncodingJSON
	case pb.Encoding_BINARY:
		return schema.EncodingBinary
	default:
		return ""
	}
}

// wrapPubSub maps gRPC status codes onto the package sentinels. notFound
// is the sentinel a NotFound status means for the call.
func wrapPubSub(err, notFound error, name string) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%w: %q: %w", notFound, name, err)
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %q", ErrAlreadyExists, name)
	case codes.InvalidArgument:
		if strings.Contains(strings.ToLower(status.Convert(err).Message()), "encoding") {
			return fmt.Errorf("%w: %q: %w", schema.ErrUnsupportedEncoding, name, err)
		}
	}
	return fmt.Errorf("messaging: pubsub %q: %w", name, err)
}
