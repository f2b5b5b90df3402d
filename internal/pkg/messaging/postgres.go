package messaging

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shandysiswandi/schemabus/internal/pkg/clock"
	"github.com/shandysiswandi/schemabus/internal/pkg/schema"
	"github.com/shandysiswandi/schemabus/internal/pkg/uid"
	"github.com/shandysiswandi/schemabus/internal/pkg/valueobject"
)

//go:embed postgres_schema.sql
var postgresSchema string

const (
	sqlInsertSchema = `insert into schemabus_schemas (id, definition, encodings) values ($1, $2, $3)`
	sqlSelectSchema = `select definition, encodings from schemabus_schemas where id = $1`

	sqlInsertTopic = `insert into schemabus_topics (id, schema_id, encoding) values ($1, $2, $3)`
	sqlSelectTopic = `select schema_id, encoding from schemabus_topics where id = $1`
	sqlDetachSubs  = `update schemabus_subscriptions set topic_id = $2 where topic_id = $1`
	sqlDeleteTopic = `delete from schemabus_topics where id = $1`

	sqlInsertSub = `insert into schemabus_subscriptions (id, topic_id, ack_deadline_ms) values ($1, $2, $3)`
	sqlSelectSub = `select topic_id, ack_deadline_ms from schemabus_subscriptions where id = $1`
	sqlDeleteSub = `delete from schemabus_subscriptions where id = $1`

	sqlPublish = `
with m as (
    insert into schemabus_messages (id, topic_id, data, attributes, ordering_key, publish_time)
    values ($1, $2, $3, $4, $5, $6)
    returning id, publish_time
)
insert into schemabus_deliveries (subscription_id, message_id, visible_at)
select s.id, m.id, m.publish_time from schemabus_subscriptions s, m where s.topic_id = $2`

	// visible_at holds the publish time while pending and the ack
	// deadline while delivered, so "visible_at <= now" selects both new
	// and expired deliveries.
	sqlLease = `
with leased as (
    select subscription_id, message_id from schemabus_deliveries
    where subscription_id = $1 and visible_at <= $2
    order by visible_at, message_id
    limit $4
    for update skip locked
)
update schemabus_deliveries d
set visible_at = $3, attempts = d.attempts + 1, ack_id = gen_random_uuid()::text
from leased l, schemabus_messages m
where d.subscription_id = l.subscription_id and d.message_id = l.message_id and m.id = d.message_id
returning d.message_id, d.ack_id, d.attempts, m.data, m.attributes, m.ordering_key, m.publish_time`

	sqlAck = `delete from schemabus_deliveries where subscription_id = $1 and ack_id = any($2) and visible_at > $3`
)

// Commander is the subset of pgxpool.Pool the Postgres broker uses.
type Commander interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresConfig configures the Postgres broker.
type PostgresConfig struct {
	DB Commander
	// Closer releases DB on Close, typically pool.Close.
	Closer      func()
	AutoMigrate bool
	PullWait    time.Duration
	Clock       clock.Clocker
	IDs         uid.NumberID
}

// Postgres is a Broker persisted in PostgreSQL.
type Postgres struct {
	db       Commander
	closer   func()
	pullWait time.Duration
	clock    clock.Clocker
	ids      uid.NumberID
}

// NewPostgres creates the broker and optionally applies its schema.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.DB == nil {
		return nil, errors.New("messaging: postgres connection is required")
	}
	if cfg.IDs == nil {
		return nil, errors.New("messaging: postgres message id generator is required")
	}

	p := &Postgres{db: cfg.DB, closer: cfg.Closer, pullWait: cfg.PullWait, clock: cfg.Clock, ids: cfg.IDs}
	if p.pullWait <= 0 {
		p.pullWait = DefaultPullWait
	}
	if p.clock == nil {
		p.clock = clock.New()
	}

	if cfg.AutoMigrate {
		if err := p.Migrate(ctx); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Migrate creates the broker tables when missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("messaging: postgres migrate: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	if p.closer != nil {
		p.closer()
	}
	return nil
}

func (p *Postgres) CreateSchema(ctx context.Context, s schema.Schema) error {
	encs := make([]string, len(s.Encodings))
	for i, e := range s.Encodings {
		encs[i] = string(e)
	}
	_, err := p.db.Exec(ctx, sqlInsertSchema, s.ID, s.Definition(), encs)
	return wrapPostgres(err, "schema "+s.ID)
}

func (p *Postgres) GetSchema(ctx context.Context, id string) (schema.Schema, error) {
	var (
		def  string
		encs []string
	)
	err := p.db.QueryRow(ctx, sqlSelectSchema, id).Scan(&def, &encs)
	if errors.Is(err, pgx.ErrNoRows) {
		return schema.Schema{}, fmt.Errorf("%w: %q", ErrSchemaNotFound, id)
	}
	if err != nil {
		return schema.Schema{}, wrapPostgres(err, "schema "+id)
	}

	out := make([]schema.Encoding, len(encs))
	for i, e := range encs {
		out[i] = schema.Encoding(e)
	}
	return schema.ParseDefinition(id, def, out...)
}

func (p *Postgres) CreateTopic(ctx context.Context, cfg TopicConfig) error {
	if cfg.HasSchema() {
		s, err := p.GetSchema(ctx, cfg.SchemaID)
		if err != nil {
			return err
		}
		if !s.Supports(cfg.Encoding) {
			return fmt.Errorf("%w: schema %q does not support %s", schema.ErrUnsupportedEncoding, s.ID, cfg.Encoding)
		}
	} else {
		cfg.Encoding = ""
	}

	_, err := p.db.Exec(ctx, sqlInsertTopic, cfg.ID, cfg.SchemaID, string(cfg.Encoding))
	return wrapPostgres(err, "topic "+cfg.ID)
}

func (p *Postgres) GetTopic(ctx context.Context, id string) (TopicConfig, error) {
	cfg := TopicConfig{ID: id}
	var enc string
	err := p.db.QueryRow(ctx, sqlSelectTopic, id).Scan(&cfg.SchemaID, &enc)
	if errors.Is(err, pgx.ErrNoRows) {
		return TopicConfig{}, fmt.Errorf("%w: %q", ErrTopicNotFound, id)
	}
	if err != nil {
		return TopicConfig{}, wrapPostgres(err, "topic "+id)
	}
	cfg.Encoding = schema.Encoding(enc)
	return cfg, nil
}

func (p *Postgres) DeleteTopic(ctx context.Context, id string) error {
	return pgx.BeginFunc(ctx, p.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, sqlDeleteTopic, id)
		if err != nil {
			return wrapPostgres(err, "topic "+id)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %q", ErrTopicNotFound, id)
		}
		_, err = tx.Exec(ctx, sqlDetachSubs, id, DeletedTopic)
		return wrapPostgres(err, "topic "+id)
	})
}

func (p *Postgres) CreateSubscription(ctx context.Context, cfg SubscriptionConfig) error {
	if _, err := p.GetTopic(ctx, cfg.TopicID); err != nil {
		return err
	}
	_, err := p.db.Exec(ctx, sqlInsertSub, cfg.ID, cfg.TopicID, normalizeAckDeadline(cfg.AckDeadline).Milliseconds())
	return wrapPostgres(err, "subscription "+cfg.ID)
}

func (p *Postgres) GetSubscription(ctx context.Context, id string) (SubscriptionConfig, error) {
	cfg := SubscriptionConfig{ID: id}
	var ms int64
	err := p.db.QueryRow(ctx, sqlSelectSub, id).Scan(&cfg.TopicID, &ms)
	if errors.Is(err, pgx.ErrNoRows) {
		return SubscriptionConfig{}, fmt.Errorf("%w: %q", ErrSubscriptionNotFound, id)
	}
	if err != nil {
		return SubscriptionConfig{}, wrapPostgres(err, "subscription "+id)
	}
	cfg.AckDeadline = time.Duration(ms) * time.Millisecond
	return cfg, nil
}

func (p *Postgres) DeleteSubscription(ctx context.Context, id string) error {
	tag, err := p.db.Exec(ctx, sqlDeleteSub, id)
	if err != nil {
		return wrapPostgres(err, "subscription "+id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", ErrSubscriptionNotFound, id)
	}
	return nil
}

// Publish inserts each message in its own statement so one failure does
// not roll back the others.
func (p *Postgres) Publish(ctx context.Context, topicID string, msgs []OutgoingMessage) ([]PublishResult, error) {
	topic, err := p.GetTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}

	now := p.clock.Now().UTC().Truncate(time.Microsecond)
	results := make([]PublishResult, len(msgs))
	for i, m := range msgs {
		id := p.ids.Generate()
		results[i] = PublishResult{MessageID: fmt.Sprint(id), PublishTime: now}

		data := m.Data
		if data == nil {
			data = []byte{}
		}
		attrs := valueobject.Attributes(stampSchema(m.Attributes, topic))
		if _, err := p.db.Exec(ctx, sqlPublish, id, topicID, data, attrs, m.OrderingKey, now); err != nil {
			results[i].Err = wrapPostgres(err, "message")
		}
	}
	return results, nil
}

func (p *Postgres) Pull(ctx context.Context, subscriptionID string, maxMessages int, returnImmediately bool) ([]ReceivedMessage, error) {
	sub, err := p.GetSubscription(ctx, subscriptionID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, err
	}

	if returnImmediately {
		return p.lease(ctx, sub, maxMessages)
	}
	return pollPull(ctx, p.pullWait, func(ctx context.Context) ([]ReceivedMessage, error) {
		return p.lease(ctx, sub, maxMessages)
	})
}

func (p *Postgres) lease(ctx context.Context, sub SubscriptionConfig, maxMessages int) ([]ReceivedMessage, error) {
	now := p.clock.Now().UTC().Truncate(time.Microsecond)
	rows, err := p.db.Query(ctx, sqlLease, sub.ID, now, now.Add(sub.AckDeadline), max(maxMessages, 1))
	if err != nil {
		return nil, wrapPostgres(err, "lease")
	}
	defer rows.Close()

	var out []ReceivedMessage
	for rows.Next() {
		var (
			m     ReceivedMessage
			id    int64
			attrs valueobject.Attributes
		)
		if err := rows.Scan(&id, &m.AckID, &m.DeliveryAttempt, &m.Data, &attrs, &m.OrderingKey, &m.PublishTime); err != nil {
			return nil, wrapPostgres(err, "lease")
		}
		m.MessageID = fmt.Sprint(id)
		m.Attributes = attrs
		out = append(out, m)
	}
	return out, wrapPostgres(rows.Err(), "lease")
}

func (p *Postgres) Acknowledge(ctx context.Context, subscriptionID string, ackIDs []string) error {
	if _, err := p.GetSubscription(ctx, subscriptionID); err != nil {
		return err
	}
	if len(ackIDs) == 0 {
		return nil
	}
	_, err := p.db.Exec(ctx, sqlAck, subscriptionID, ackIDs, p.clock.Now().UTC().Truncate(time.Microsecond))
	return wrapPostgres(err, "acknowledge")
}

func wrapPostgres(err error, what string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, what)
	}
	return fmt.Errorf("messaging: postgres %s: %w", what, err)
}
