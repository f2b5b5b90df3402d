package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"github.com/shandysiswandi/schemabus/internal/pkg/clock"
	"github.com/shandysiswandi/schemabus/internal/pkg/schema"
	"github.com/shandysiswandi/schemabus/internal/pkg/uid"
)

// Redis key layout, all under the configured prefix:
//
//	schema:{id}            JSON schemaRecord
//	topic:{id}             JSON topicRecord
//	topic:{id}:subs        SET of subscription ids
//	sub:{id}               JSON subscriptionRecord
//	sub:{id}:backlog       ZSET message id -> visible-at (unix ms)
//	sub:{id}:attempts      HASH message id -> delivery count
//	sub:{id}:leases        HASH message id -> current ack id
//	sub:{id}:acks          HASH ack id -> message id
//	msg:{id}               HASH data, attrs, ordering_key, publish_time
//
// A message is deliverable when its visible-at score is not after now.
// Leasing moves the score to now+ack deadline.

// leaseScript leases up to ARGV[3] visible messages.
// KEYS: backlog, attempts, leases, acks. ARGV: now, deadline, max, ack ids...
var leaseScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[3]))
local out = {}
for i, id in ipairs(ids) do
  local stale = redis.call('HGET', KEYS[3], id)
  if stale then
    redis.call('HDEL', KEYS[4], stale)
  end
  local ack = ARGV[3 + i]
  redis.call('ZADD', KEYS[1], tonumber(ARGV[1]) + tonumber(ARGV[2]), id)
  local n = redis.call('HINCRBY', KEYS[2], id, 1)
  redis.call('HSET', KEYS[3], id, ack)
  redis.call('HSET', KEYS[4], ack, id)
  table.insert(out, id)
  table.insert(out, ack)
  table.insert(out, n)
end
return out
`)

// ackScript settles ack ids that hold the current, unexpired lease.
// KEYS: backlog, attempts, leases, acks. ARGV: now, ack ids...
var ackScript = redis.NewScript(`
local n = 0
for i = 2, #ARGV do
  local ack = ARGV[i]
  local id = redis.call('HGET', KEYS[4], ack)
  if id then
    redis.call('HDEL', KEYS[4], ack)
    local lease = redis.call('HGET', KEYS[3], id)
    local deadline = redis.call('ZSCORE', KEYS[1], id)
    if lease == ack and deadline and tonumber(deadline) > tonumber(ARGV[1]) then
      redis.call('ZREM', KEYS[1], id)
      redis.call('HDEL', KEYS[2], id)
      redis.call('HDEL', KEYS[3], id)
      n = n + 1
    end
  end
end
return n
`)

type schemaRecord struct {
	ID         string   `json:"id"`
	Definition string   `json:"definition"`
	Encodings  []string `json:"encodings"`
}

type topicRecord struct {
	ID       string `json:"id"`
	SchemaID string `json:"schema_id,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

type subscriptionRecord struct {
	ID            string `json:"id"`
	TopicID       string `json:"topic_id"`
	AckDeadlineMS int64  `json:"ack_deadline_ms"`
}

// RedisConfig configures the Redis broker.
type RedisConfig struct {
	Client redis.UniversalClient
	// Prefix namespaces every key. Defaults to "schemabus".
	Prefix string
	// Retention is how long a message body is kept. Defaults to 7 days.
	Retention time.Duration
	PullWait  time.Duration
	Clock     clock.Clocker
	IDs       uid.NumberID
	AckIDs    uid.StringID
}

// Redis is a Broker persisted in Redis.
type Redis struct {
	rdb       redis.UniversalClient
	prefix    string
	retention time.Duration
	pullWait  time.Duration
	clock     clock.Clocker
	ids       uid.NumberID
	ackIDs    uid.StringID
}

// NewRedis creates a Redis broker on an existing client. The client is
// closed by Close.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Client == nil {
		return nil, errors.New("messaging: redis client is required")
	}
	if cfg.IDs == nil {
		return nil, errors.New("messaging: redis message id generator is required")
	}

	r := &Redis{
		rdb:       cfg.Client,
		prefix:    lo.CoalesceOrEmpty(cfg.Prefix, "schemabus"),
		retention: cfg.Retention,
		pullWait:  cfg.PullWait,
		clock:     cfg.Clock,
		ids:       cfg.IDs,
		ackIDs:    cfg.AckIDs,
	}
	if r.retention <= 0 {
		r.retention = 7 * 24 * time.Hour
	}
	if r.pullWait <= 0 {
		r.pullWait = DefaultPullWait
	}
	if r.clock == nil {
		r.clock = clock.New()
	}
	if r.ackIDs == nil {
		r.ackIDs = uid.NewUUID()
	}
	return r, nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

func (r *Redis) key(parts ...string) string {
	k := r.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (r *Redis) subKeys(id string) []string {
	return []string{
		r.key("sub", id, "backlog"),
		r.key("sub", id, "attempts"),
		r.key("sub", id, "leases"),
		r.key("sub", id, "acks"),
	}
}

func (r *Redis) setRecord(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ok, err := r.rdb.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return wrapRedis(err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, key)
	}
	return nil
}

func (r *Redis) getRecord(ctx context.Context, key string, v any, notFound error) error {
	data, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return notFound
	}
	if err != nil {
		return wrapRedis(err)
	}
	return json.Unmarshal(data, v)
}

func (r *Redis) CreateSchema(ctx context.Context, s schema.Schema) error {
	return r.setRecord(ctx, r.key("schema", s.ID), schemaRecord{
		ID:         s.ID,
		Definition: s.Definition(),
		Encodings:  lo.Map(s.Encodings, func(e schema.Encoding, _ int) string { return string(e) }),
	})
}

func (r *Redis) GetSchema(ctx context.Context, id string) (schema.Schema, error) {
	var rec schemaRecord
	if err := r.getRecord(ctx, r.key("schema", id), &rec, fmt.Errorf("%w: %q", ErrSchemaNotFound, id)); err != nil {
		return schema.Schema{}, err
	}
	encs := lo.Map(rec.Encodings, func(e string, _ int) schema.Encoding { return schema.Encoding(e) })
	return schema.ParseDefinition(rec.ID, rec.Definition, encs...)
}

func (r *Redis) CreateTopic(ctx context.Context, cfg TopicConfig) error {
	rec := topicRecord{ID: cfg.ID}
	if cfg.HasSchema() {
		s, err := r.GetSchema(ctx, cfg.SchemaID)
		if err != nil {
			return err
		}
		if !s.Supports(cfg.Encoding) {
			return fmt.Errorf("%w: schema %q does not support %s", schema.ErrUnsupportedEncoding, s.ID, cfg.Encoding)
		}
		rec.SchemaID, rec.Encoding = cfg.SchemaID, string(cfg.Encoding)
	}
	return r.setRecord(ctx, r.key("topic", cfg.ID), rec)
}

func (r *Redis) GetTopic(ctx context.Context, id string) (TopicConfig, error) {
	var rec topicRecord
	if err := r.getRecord(ctx, r.key("topic", id), &rec, fmt.Errorf("%w: %q", ErrTopicNotFound, id)); err != nil {
		return TopicConfig{}, err
	}
	return TopicConfig{ID: rec.ID, SchemaID: rec.SchemaID, Encoding: schema.Encoding(rec.Encoding)}, nil
}

func (r *Redis) DeleteTopic(ctx context.Context, id string) error {
	if _, err := r.GetTopic(ctx, id); err != nil {
		return err
	}

	subs, err := r.rdb.SMembers(ctx, r.key("topic", id, "subs")).Result()
	if err != nil {
		return wrapRedis(err)
	}
	for _, subID := range subs {
		sub, err := r.GetSubscription(ctx, subID)
		if errors.Is(err, ErrSubscriptionNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		data, err := json.Marshal(subscriptionRecord{ID: sub.ID, TopicID: DeletedTopic, AckDeadlineMS: sub.AckDeadline.Milliseconds()})
		if err != nil {
			return err
		}
		if err := r.rdb.Set(ctx, r.key("sub", subID), data, 0).Err(); err != nil {
			return wrapRedis(err)
		}
	}

	return wrapRedis(r.rdb.Del(ctx, r.key("topic", id), r.key("topic", id, "subs")).Err())
}

func (r *Redis) CreateSubscription(ctx context.Context, cfg SubscriptionConfig) error {
	if _, err := r.GetTopic(ctx, cfg.TopicID); err != nil {
		return err
	}

	rec := subscriptionRecord{
		ID:            cfg.ID,
		TopicID:       cfg.TopicID,
		AckDeadlineMS: normalizeAckDeadline(cfg.AckDeadline).Milliseconds(),
	}
	if err := r.setRecord(ctx, r.key("sub", cfg.ID), rec); err != nil {
		return err
	}
	return wrapRedis(r.rdb.SAdd(ctx, r.key("topic", cfg.TopicID, "subs"), cfg.ID).Err())
}

func (r *Redis) GetSubscription(ctx context.Context, id string) (SubscriptionConfig, error) {
	var rec subscriptionRecord
	if err := r.getRecord(ctx, r.key("sub", id), &rec, fmt.Errorf("%w: %q", ErrSubscriptionNotFound, id)); err != nil {
		return SubscriptionConfig{}, err
	}
	return SubscriptionConfig{
		ID:          rec.ID,
		TopicID:     rec.TopicID,
		AckDeadline: time.Duration(rec.AckDeadlineMS) * time.Millisecond,
	}, nil
}

func (r *Redis) DeleteSubscription(ctx context.Context, id string) error {
	sub, err := r.GetSubscription(ctx, id)
	if err != nil {
		return err
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, r.key("topic", sub.TopicID, "subs"), id)
		pipe.Del(ctx, append(r.subKeys(id), r.key("sub", id))...)
		return nil
	})
	return wrapRedis(err)
}

func (r *Redis) Publish(ctx context.Context, topicID string, msgs []OutgoingMessage) ([]PublishResult, error) {
	topic, err := r.GetTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	subs, err := r.rdb.SMembers(ctx, r.key("topic", topicID, "subs")).Result()
	if err != nil {
		return nil, wrapRedis(err)
	}

	now := r.clock.Now()
	results := make([]PublishResult, len(msgs))
	cmds := make([][]redis.Cmder, len(msgs))

	_, err = r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, m := range msgs {
			id := strconv.FormatInt(r.ids.Generate(), 10)
			results[i] = PublishResult{MessageID: id, PublishTime: now}

			attrs, err := json.Marshal(stampSchema(m.Attributes, topic))
			if err != nil {
				results[i].Err = err
				continue
			}

			key := r.key("msg", id)
			cmds[i] = append(cmds[i],
				pipe.HSet(ctx, key,
					"data", m.Data,
					"attrs", attrs,
					"ordering_key", m.OrderingKey,
					"publish_time", now.UnixMilli(),
				),
				pipe.Expire(ctx, key, r.retention),
			)
			for _, sub := range subs {
				cmds[i] = append(cmds[i], pipe.ZAdd(ctx, r.key("sub", sub, "backlog"), redis.Z{
					Score:  float64(now.UnixMilli()),
					Member: id,
				}))
			}
		}
		return nil
	})
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	for i, cs := range cmds {
		for _, c := range cs {
			if c.Err() != nil && results[i].Err == nil {
				results[i].Err = wrapRedis(c.Err())
			}
		}
	}
	return results, nil
}

func (r *Redis) Pull(ctx context.Context, subscriptionID string, maxMessages int, returnImmediately bool) ([]ReceivedMessage, error) {
	sub, err := r.GetSubscription(ctx, subscriptionID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, err
	}

	if returnImmediately {
		return r.lease(ctx, sub, maxMessages)
	}
	return pollPull(ctx, r.pullWait, func(ctx context.Context) ([]ReceivedMessage, error) {
		return r.lease(ctx, sub, maxMessages)
	})
}

func (r *Redis) lease(ctx context.Context, sub SubscriptionConfig, maxMessages int) ([]ReceivedMessage, error) {
	maxMessages = max(maxMessages, 1)
	args := make([]any, 0, 3+maxMessages)
	args = append(args, r.clock.Now().UnixMilli(), sub.AckDeadline.Milliseconds(), maxMessages)
	for range maxMessages {
		args = append(args, r.ackIDs.Generate())
	}

	raw, err := leaseScript.Run(ctx, r.rdb, r.subKeys(sub.ID), args...).Slice()
	if err != nil {
		return nil, wrapRedis(err)
	}

	type leased struct {
		id, ack string
		attempt int
	}
	var ls []leased
	for i := 0; i+2 < len(raw); i += 3 {
		id, _ := raw[i].(string)
		ack, _ := raw[i+1].(string)
		n, _ := raw[i+2].(int64)
		ls = append(ls, leased{id: id, ack: ack, attempt: int(n)})
	}
	if len(ls) == 0 {
		return nil, nil
	}

	bodies := make([]*redis.MapStringStringCmd, len(ls))
	if _, err := r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, l := range ls {
			bodies[i] = pipe.HGetAll(ctx, r.key("msg", l.id))
		}
		return nil
	}); err != nil {
		return nil, wrapRedis(err)
	}

	out := make([]ReceivedMessage, 0, len(ls))
	for i, l := range ls {
		h := bodies[i].Val()
		if len(h) == 0 {
			// body expired past retention
			r.rdb.ZRem(ctx, r.key("sub", sub.ID, "backlog"), l.id)
			continue
		}

		var attrs map[string]string
		if err := json.Unmarshal([]byte(h["attrs"]), &attrs); err != nil {
			return nil, fmt.Errorf("messaging: redis message %s attributes: %w", l.id, err)
		}
		ms, _ := strconv.ParseInt(h["publish_time"], 10, 64)

		out = append(out, ReceivedMessage{
			AckID:           l.ack,
			MessageID:       l.id,
			Data:            []byte(h["data"]),
			Attributes:      attrs,
			OrderingKey:     h["ordering_key"],
			PublishTime:     time.UnixMilli(ms).UTC(),
			DeliveryAttempt: l.attempt,
		})
	}
	return out, nil
}

func (r *Redis) Acknowledge(ctx context.Context, subscriptionID string, ackIDs []string) error {
	if _, err := r.GetSubscription(ctx, subscriptionID); err != nil {
		return err
	}
	if len(ackIDs) == 0 {
		return nil
	}

	args := make([]any, 0, len(ackIDs)+1)
	args = append(args, r.clock.Now().UnixMilli())
	args = append(args, lo.ToAnySlice(lo.Uniq(ackIDs))...)
	return wrapRedis(ackScript.Run(ctx, r.rdb, r.subKeys(subscriptionID), args...).Err())
}

func wrapRedis(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("messaging: redis: %w", err)
}
