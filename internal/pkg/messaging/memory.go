package messaging

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/shandysiswandi/schemabus/internal/pkg/clock"
	"github.com/shandysiswandi/schemabus/internal/pkg/schema"
	"github.com/shandysiswandi/schemabus/internal/pkg/uid"
)

// deliveryState is the lifecycle of a message relative to one subscription.
type deliveryState int

const (
	statePending deliveryState = iota
	stateDelivered
	stateAcknowledged
)

func (s deliveryState) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateDelivered:
		return "delivered"
	case stateAcknowledged:
		return "acknowledged"
	default:
		return "unknown"
	}
}

type delivery struct {
	msg      ReceivedMessage
	state    deliveryState
	attempts int
	ackID    string
	deadline time.Time
}

// expire moves a delivered message past its deadline back to pending.
func (d *delivery) expire(now time.Time) bool {
	if d.state == stateDelivered && !now.Before(d.deadline) {
		d.state = statePending
		d.ackID = ""
		return true
	}
	return false
}

type memorySubscription struct {
	cfg     SubscriptionConfig
	backlog map[string]*delivery
	order   []string
	acks    map[string]string // ack id -> message id
}

type memoryTopic struct {
	cfg  TopicConfig
	subs map[string]struct{}
}

// MemoryConfig configures the in-memory broker.
type MemoryConfig struct {
	Clock    clock.Clocker
	IDs      uid.NumberID
	AckIDs   uid.StringID
	PullWait time.Duration
}

// Memory is an in-process Broker.
type Memory struct {
	clock    clock.Clocker
	ids      uid.NumberID
	ackIDs   uid.StringID
	pullWait time.Duration

	mu      sync.Mutex
	closed  bool
	schemas map[string]schema.Schema
	topics  map[string]*memoryTopic
	subs    map[string]*memorySubscription
}

// NewMemory creates an empty in-memory broker.
func NewMemory(cfg MemoryConfig) *Memory {
	m := &Memory{
		clock:    cfg.Clock,
		ids:      cfg.IDs,
		ackIDs:   cfg.AckIDs,
		pullWait: cfg.PullWait,
		schemas:  make(map[string]schema.Schema),
		topics:   make(map[string]*memoryTopic),
		subs:     make(map[string]*memorySubscription),
	}
	if m.clock == nil {
		m.clock = clock.New()
	}
	if m.ids == nil {
		m.ids = &sequence{}
	}
	if m.ackIDs == nil {
		m.ackIDs = uid.NewUUID()
	}
	if m.pullWait <= 0 {
		m.pullWait = DefaultPullWait
	}
	return m
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *Memory) lock() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	return nil
}

func (m *Memory) CreateSchema(_ context.Context, s schema.Schema) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()

	if _, ok := m.schemas[s.ID]; ok {
		return fmt.Errorf("%w: schema %q", ErrAlreadyExists, s.ID)
	}
	m.schemas[s.ID] = s
	return nil
}

func (m *Memory) GetSchema(_ context.Context, id string) (schema.Schema, error) {
	if err := m.lock(); err != nil {
		return schema.Schema{}, err
	}
	defer m.mu.Unlock()

	s, ok := m.schemas[id]
	if !ok {
		return schema.Schema{}, fmt.Errorf("%w: %q", ErrSchemaNotFound, id)
	}
	return s, nil
}

func (m *Memory) CreateTopic(_ context.Context, cfg TopicConfig) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()

	if _, ok := m.topics[cfg.ID]; ok {
		return fmt.Errorf("%w: topic %q", ErrAlreadyExists, cfg.ID)
	}
	if cfg.HasSchema() {
		s, ok := m.schemas[cfg.SchemaID]
		if !ok {
			return fmt.Errorf("%w: %q", ErrSchemaNotFound, cfg.SchemaID)
		}
		if !s.Supports(cfg.Encoding) {
			return fmt.Errorf("%w: schema %q does not support %s", schema.ErrUnsupportedEncoding, s.ID, cfg.Encoding)
		}
	} else {
		cfg.Encoding = ""
	}

	m.topics[cfg.ID] = &memoryTopic{cfg: cfg, subs: make(map[string]struct{})}
	return nil
}

func (m *Memory) GetTopic(_ context.Context, id string) (TopicConfig, error) {
	if err := m.lock(); err != nil {
		return TopicConfig{}, err
	}
	defer m.mu.Unlock()

	t, ok := m.topics[id]
	if !ok {
		return TopicConfig{}, fmt.Errorf("%w: %q", ErrTopicNotFound, id)
	}
	return t.cfg, nil
}

// DeleteTopic detaches the topic's subscriptions; their backlog stays pullable.
func (m *Memory) DeleteTopic(_ context.Context, id string) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()

	t, ok := m.topics[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrTopicNotFound, id)
	}
	for subID := range t.subs {
		if s, ok := m.subs[subID]; ok {
			s.cfg.TopicID = DeletedTopic
		}
	}
	delete(m.topics, id)
	return nil
}

func (m *Memory) CreateSubscription(_ context.Context, cfg SubscriptionConfig) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()

	if _, ok := m.subs[cfg.ID]; ok {
		return fmt.Errorf("%w: subscription %q", ErrAlreadyExists, cfg.ID)
	}
	t, ok := m.topics[cfg.TopicID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrTopicNotFound, cfg.TopicID)
	}

	cfg.AckDeadline = normalizeAckDeadline(cfg.AckDeadline)
	m.subs[cfg.ID] = &memorySubscription{
		cfg:     cfg,
		backlog: make(map[string]*delivery),
		acks:    make(map[string]string),
	}
	t.subs[cfg.ID] = struct{}{}
	return nil
}

func (m *Memory) GetSubscription(_ context.Context, id string) (SubscriptionConfig, error) {
	if err := m.lock(); err != nil {
		return SubscriptionConfig{}, err
	}
	defer m.mu.Unlock()

	s, ok := m.subs[id]
	if !ok {
		return SubscriptionConfig{}, fmt.Errorf("%w: %q", ErrSubscriptionNotFound, id)
	}
	return s.cfg, nil
}

func (m *Memory) DeleteSubscription(_ context.Context, id string) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()

	s, ok := m.subs[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrSubscriptionNotFound, id)
	}
	if t, ok := m.topics[s.cfg.TopicID]; ok {
		delete(t.subs, id)
	}
	delete(m.subs, id)
	return nil
}

// Publish fans each message out to every subscription attached at publish time.
func (m *Memory) Publish(_ context.Context, topicID string, msgs []OutgoingMessage) ([]PublishResult, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	t, ok := m.topics[topicID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTopicNotFound, topicID)
	}

	now := m.clock.Now()
	results := make([]PublishResult, len(msgs))
	for i, out := range msgs {
		id := strconv.FormatInt(m.ids.Generate(), 10)
		results[i] = PublishResult{MessageID: id, PublishTime: now}

		for subID := range t.subs {
			s := m.subs[subID]
			s.backlog[id] = &delivery{msg: ReceivedMessage{
				MessageID:   id,
				Data:        slices.Clone(out.Data),
				Attributes:  stampSchema(out.Attributes, t.cfg),
				OrderingKey: out.OrderingKey,
				PublishTime: now,
			}}
			s.order = append(s.order, id)
		}
	}
	return results, nil
}

func (m *Memory) Pull(ctx context.Context, subscriptionID string, maxMessages int, returnImmediately bool) ([]ReceivedMessage, error) {
	if returnImmediately {
		return m.pullOnce(subscriptionID, maxMessages)
	}
	return pollPull(ctx, m.pullWait, func(context.Context) ([]ReceivedMessage, error) {
		return m.pullOnce(subscriptionID, maxMessages)
	})
}

func (m *Memory) pullOnce(subscriptionID string, maxMessages int) ([]ReceivedMessage, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	s, ok := m.subs[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSubscriptionNotFound, subscriptionID)
	}

	now := m.clock.Now()
	maxMessages = max(maxMessages, 1)
	var out []ReceivedMessage
	for _, id := range s.order {
		if len(out) == maxMessages {
			break
		}

		d := s.backlog[id]
		if stale := d.ackID; d.expire(now) {
			delete(s.acks, stale)
		}
		if d.state != statePending {
			continue
		}

		d.state = stateDelivered
		d.attempts++
		d.ackID = m.ackIDs.Generate()
		d.deadline = now.Add(s.cfg.AckDeadline)
		s.acks[d.ackID] = id

		msg := d.msg
		msg.AckID = d.ackID
		msg.DeliveryAttempt = d.attempts
		msg.Data = slices.Clone(d.msg.Data)
		msg.Attributes = maps.Clone(d.msg.Attributes)
		out = append(out, msg)
	}
	return out, nil
}

// Acknowledge settles deliveries whose ack id is current and unexpired.
func (m *Memory) Acknowledge(_ context.Context, subscriptionID string, ackIDs []string) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()

	s, ok := m.subs[subscriptionID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrSubscriptionNotFound, subscriptionID)
	}

	now := m.clock.Now()
	acked := 0
	for _, ackID := range lo.Uniq(ackIDs) {
		id, ok := s.acks[ackID]
		if !ok {
			continue
		}
		delete(s.acks, ackID)

		d, ok := s.backlog[id]
		if !ok || d.ackID != ackID || d.expire(now) {
			continue
		}
		d.state = stateAcknowledged
		delete(s.backlog, id)
		acked++
	}

	if acked > 0 {
		s.order = lo.Filter(s.order, func(id string, _ int) bool {
			_, ok := s.backlog[id]
			return ok
		})
	}
	return nil
}

// sequence is the default message id source of the memory broker.
type sequence struct {
	mu sync.Mutex
	n  int64
}

func (s *sequence) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return s.n
}
