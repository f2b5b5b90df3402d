package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/shandysiswandi/schemabus/internal/pipeline/entity"
	"github.com/shandysiswandi/schemabus/internal/pkg/clock"
	"github.com/shandysiswandi/schemabus/internal/pkg/goerror"
	"github.com/shandysiswandi/schemabus/internal/pkg/instrument"
	"github.com/shandysiswandi/schemabus/internal/pkg/messaging"
	"github.com/shandysiswandi/schemabus/internal/pkg/schema"
	"github.com/shandysiswandi/schemabus/internal/pkg/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	uc     *Usecase
	broker *messaging.Memory
	clock  *clock.Manual
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	v, err := validator.NewV10Validator()
	require.NoError(t, err)

	clk := clock.NewManual(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	broker := messaging.NewMemory(messaging.MemoryConfig{Clock: clk, PullWait: 50 * time.Millisecond})
	t.Cleanup(func() { _ = broker.Close() })

	uc := New(Dependency{
		Broker:     broker,
		Validator:  v,
		Instrument: instrument.NewNoop(),
	})
	return fixture{uc: uc, broker: broker, clock: clk}
}

// states declares the State schema, a topic bound with enc and one
// subscription per name.
func (f fixture) states(t *testing.T, enc string, subs ...string) {
	t.Helper()
	ctx := context.Background()

	_, err := f.uc.CreateSchema(ctx, CreateSchemaInput{ID: "state", Definition: "Name:string,PostAbbr:string"})
	require.NoError(t, err)
	_, err = f.uc.BindTopic(ctx, BindTopicInput{TopicID: "states", SchemaID: "state", Encoding: enc})
	require.NoError(t, err)
	for _, sub := range subs {
		_, err = f.uc.BindSubscription(ctx, BindSubscriptionInput{SubscriptionID: sub, TopicID: "states", AckDeadline: 10 * time.Second})
		require.NoError(t, err)
	}
}

func alaska() map[string]any {
	return map[string]any{"Name": "Alaska", "PostAbbr": "AK"}
}

func TestCreateSchema(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sc, err := f.uc.CreateSchema(ctx, CreateSchemaInput{
		ID:         "state",
		Definition: "Name:string,PostAbbr:string,Population:int64?",
		Encodings:  []string{"json", "JSON"},
	})
	require.NoError(t, err)
	assert.Equal(t, []schema.Encoding{schema.EncodingJSON}, sc.Encodings)

	got, err := f.uc.GetSchema(ctx, "state")
	require.NoError(t, err)
	assert.Equal(t, sc, got)

	_, err = f.uc.CreateSchema(ctx, CreateSchemaInput{ID: "state", Definition: "Name:string"})
	require.ErrorIs(t, err, messaging.ErrAlreadyExists)
	ge, ok := goerror.As(err)
	require.True(t, ok)
	assert.Equal(t, goerror.CodeConflict, ge.Code())

	_, err = f.uc.CreateSchema(ctx, CreateSchemaInput{ID: "broken", Definition: "Name:uuid"})
	require.ErrorIs(t, err, schema.ErrInvalidSchema)

	_, err = f.uc.CreateSchema(ctx, CreateSchemaInput{ID: "x", Definition: "Name:string"})
	ge, ok = goerror.As(err)
	require.True(t, ok)
	assert.Equal(t, goerror.CodeInvalidInput, ge.Code())

	_, err = f.uc.GetSchema(ctx, "missing")
	require.ErrorIs(t, err, messaging.ErrSchemaNotFound)
}

func TestCreateSchema_ProtoDefinition(t *testing.T) {
	f := newFixture(t)

	sc, err := f.uc.CreateSchema(context.Background(), CreateSchemaInput{
		ID: "state",
		Definition: `syntax = "proto2";
message State {
  required string Name = 1;
  optional string PostAbbr = 2;
}`,
	})
	require.NoError(t, err)
	assert.Equal(t, "Name:string,PostAbbr:string?", sc.Definition())
}

func TestBindTopic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.uc.CreateSchema(ctx, CreateSchemaInput{ID: "state", Definition: "Name:string", Encodings: []string{"JSON"}})
	require.NoError(t, err)

	_, err = f.uc.BindTopic(ctx, BindTopicInput{TopicID: "states", SchemaID: "state", Encoding: "BINARY"})
	require.ErrorIs(t, err, schema.ErrUnsupportedEncoding)

	_, err = f.uc.BindTopic(ctx, BindTopicInput{TopicID: "states", SchemaID: "missing", Encoding: "JSON"})
	require.ErrorIs(t, err, messaging.ErrSchemaNotFound)

	_, err = f.uc.BindTopic(ctx, BindTopicInput{TopicID: "states", SchemaID: "state"})
	ge, ok := goerror.As(err)
	require.True(t, ok)
	assert.Equal(t, goerror.CodeInvalidInput, ge.Code())

	b, err := f.uc.BindTopic(ctx, BindTopicInput{TopicID: "states", SchemaID: "state", Encoding: "json"})
	require.NoError(t, err)
	assert.Equal(t, entity.TopicBinding{TopicID: "states", SchemaID: "state", Encoding: schema.EncodingJSON}, b)

	raw, err := f.uc.BindTopic(ctx, BindTopicInput{TopicID: "raw-topic", Encoding: "JSON"})
	require.NoError(t, err)
	assert.False(t, raw.HasSchema())
	assert.Empty(t, raw.Encoding)

	got, err := f.uc.GetTopic(ctx, "states")
	require.NoError(t, err)
	assert.Equal(t, b, got)

	_, err = f.uc.BindSubscription(ctx, BindSubscriptionInput{SubscriptionID: "orphan", TopicID: "missing"})
	require.ErrorIs(t, err, messaging.ErrTopicNotFound)

	sub, err := f.uc.BindSubscription(ctx, BindSubscriptionInput{SubscriptionID: "sub", TopicID: "states"})
	require.NoError(t, err)
	assert.Equal(t, messaging.DefaultAckDeadline, sub.AckDeadline)

	require.NoError(t, f.uc.DeleteTopic(ctx, "states"))
	sub, err = f.uc.GetSubscription(ctx, "sub")
	require.NoError(t, err)
	assert.True(t, sub.Detached())

	require.NoError(t, f.uc.DeleteSubscription(ctx, "sub"))
	require.ErrorIs(t, f.uc.DeleteSubscription(ctx, "sub"), messaging.ErrSubscriptionNotFound)
	require.ErrorIs(t, f.uc.DeleteTopic(ctx, "states"), messaging.ErrTopicNotFound)
}

func TestPublishPull_Binary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.states(t, "BINARY", "sub")

	res, err := f.uc.Publish(ctx, PublishInput{TopicID: "states", Messages: []PublishMessage{{Fields: alaska()}}})
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.NoError(t, res[0].Err)
	assert.NotEmpty(t, res[0].MessageID)
	assert.Equal(t, f.clock.Now(), res[0].PublishTime)

	got, err := f.uc.Pull(ctx, PullInput{SubscriptionID: "sub", ReturnImmediately: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NoError(t, got[0].DecodeErr)
	assert.Equal(t, alaska(), got[0].Fields)
	assert.Equal(t, res[0].MessageID, got[0].ID)
	assert.Equal(t, "BINARY", got[0].Attributes.Get(messaging.AttrSchemaEncoding))
	assert.Equal(t, 1, got[0].DeliveryAttempt)

	expected, err := schema.NewCodec().Encode(mustSchema(t, f, "state"), schema.EncodingBinary, alaska())
	require.NoError(t, err)
	assert.Equal(t, expected, got[0].Data)

	require.NoError(t, f.uc.Acknowledge(ctx, AcknowledgeInput{SubscriptionID: "sub", AckIDs: []string{got[0].AckID}}))
	none, err := f.uc.Pull(ctx, PullInput{SubscriptionID: "sub", ReturnImmediately: true})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPublishPull_JSON(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.states(t, "JSON", "sub")

	res, err := f.uc.Publish(ctx, PublishInput{TopicID: "states", Messages: []PublishMessage{{Fields: alaska()}}})
	require.NoError(t, err)
	require.NoError(t, res[0].Err)

	got, err := f.uc.Pull(ctx, PullInput{SubscriptionID: "sub", ReturnImmediately: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, alaska(), got[0].Fields)
	assert.Equal(t, "JSON", got[0].Attributes.Get(messaging.AttrSchemaEncoding))

	var body map[string]string
	require.NoError(t, json.Unmarshal(got[0].Data, &body))
	assert.Equal(t, map[string]string{"Name": "Alaska", "PostAbbr": "AK"}, body)
}

func TestPublish_BatchIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.states(t, "BINARY", "sub")

	res, err := f.uc.Publish(ctx, PublishInput{TopicID: "states", Messages: []PublishMessage{
		{Fields: alaska()},
		{Fields: map[string]any{"Name": "Nowhere"}},
		{Fields: map[string]any{"Name": "Texas", "PostAbbr": "TX", "Capital": "Austin"}},
		{Fields: map[string]any{"Name": "Ohio", "PostAbbr": 42}},
		{Fields: map[string]any{"Name": "Utah", "PostAbbr": "UT"}},
	}})
	require.NoError(t, err)
	require.Len(t, res, 5)

	require.NoError(t, res[0].Err)
	require.NoError(t, res[4].Err)
	for _, i := range []int{1, 2, 3} {
		require.ErrorIs(t, res[i].Err, schema.ErrSchemaMismatch, i)
		var me *schema.MismatchError
		require.ErrorAs(t, res[i].Err, &me)
		assert.Equal(t, "state", me.SchemaID)
		assert.Empty(t, res[i].MessageID)
	}

	got, err := f.uc.Pull(ctx, PullInput{SubscriptionID: "sub", MaxMessages: 10, ReturnImmediately: true})
	require.NoError(t, err)
	require.Len(t, got, 2)
	names := []any{got[0].Fields["Name"], got[1].Fields["Name"]}
	assert.ElementsMatch(t, []any{"Alaska", "Utah"}, names)
}

func TestPublish_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.uc.Publish(ctx, PublishInput{TopicID: "missing", Messages: []PublishMessage{{Data: []byte("x")}}})
	require.ErrorIs(t, err, messaging.ErrTopicNotFound)
	ge, ok := goerror.As(err)
	require.True(t, ok)
	assert.Equal(t, goerror.CodeNotFound, ge.Code())

	_, err = f.uc.Publish(ctx, PublishInput{TopicID: "missing"})
	ge, ok = goerror.As(err)
	require.True(t, ok)
	assert.Equal(t, goerror.CodeInvalidInput, ge.Code())

	_, err = f.uc.BindTopic(ctx, BindTopicInput{TopicID: "raw-topic"})
	require.NoError(t, err)
	_, err = f.uc.BindSubscription(ctx, BindSubscriptionInput{SubscriptionID: "raw-sub", TopicID: "raw-topic"})
	require.NoError(t, err)

	res, err := f.uc.Publish(ctx, PublishInput{TopicID: "raw-topic", Messages: []PublishMessage{
		{Data: []byte("opaque")},
		{Fields: alaska()},
	}})
	require.NoError(t, err)
	require.NoError(t, res[0].Err)
	require.ErrorIs(t, res[1].Err, errFieldsWithoutSchema)

	got, err := f.uc.Pull(ctx, PullInput{SubscriptionID: "raw-sub", ReturnImmediately: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []byte("opaque"), got[0].Data)
	assert.Nil(t, got[0].Fields)
	assert.NoError(t, got[0].DecodeErr)
}

func TestPull_AtLeastOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.states(t, "BINARY", "sub")

	_, err := f.uc.Publish(ctx, PublishInput{TopicID: "states", Messages: []PublishMessage{{Fields: alaska()}}})
	require.NoError(t, err)

	first, err := f.uc.Pull(ctx, PullInput{SubscriptionID: "sub", ReturnImmediately: true})
	require.NoError(t, err)
	require.Len(t, first, 1)

	f.clock.Advance(10 * time.Second)
	second, err := f.uc.Pull(ctx, PullInput{SubscriptionID: "sub", ReturnImmediately: true})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, first[0].DeliveryAttempt+1, second[0].DeliveryAttempt)
	assert.NotEqual(t, first[0].AckID, second[0].AckID)

	// the superseded id is ignored, the current one settles the message
	require.NoError(t, f.uc.Acknowledge(ctx, AcknowledgeInput{SubscriptionID: "sub", AckIDs: []string{first[0].AckID}}))
	require.NoError(t, f.uc.Acknowledge(ctx, AcknowledgeInput{SubscriptionID: "sub", AckIDs: []string{second[0].AckID, second[0].AckID}}))
	require.NoError(t, f.uc.Acknowledge(ctx, AcknowledgeInput{SubscriptionID: "sub", AckIDs: []string{second[0].AckID}}))

	f.clock.Advance(time.Minute)
	none, err := f.uc.Pull(ctx, PullInput{SubscriptionID: "sub", ReturnImmediately: true})
	require.NoError(t, err)
	assert.Empty(t, none)

	require.ErrorIs(t, f.uc.Acknowledge(ctx, AcknowledgeInput{SubscriptionID: "missing", AckIDs: []string{"x"}}), messaging.ErrSubscriptionNotFound)
}

func TestPull_WaitsAndCancels(t *testing.T) {
	f := newFixture(t)
	f.states(t, "BINARY", "sub")

	got, err := f.uc.Pull(context.Background(), PullInput{SubscriptionID: "sub"})
	require.NoError(t, err)
	assert.Empty(t, got)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err = f.uc.Pull(ctx, PullInput{SubscriptionID: "sub"})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = f.uc.Pull(context.Background(), PullInput{SubscriptionID: "missing", ReturnImmediately: true})
	require.ErrorIs(t, err, messaging.ErrSubscriptionNotFound)
}

// slowLookupBroker blocks subscription and topic lookups until ctx is done.
type slowLookupBroker struct {
	*messaging.Memory
	cancel context.CancelFunc
}

func (b slowLookupBroker) GetSubscription(ctx context.Context, _ string) (messaging.SubscriptionConfig, error) {
	b.cancel()
	<-ctx.Done()
	return messaging.SubscriptionConfig{}, fmt.Errorf("get subscription: %w", ctx.Err())
}

func (b slowLookupBroker) GetTopic(ctx context.Context, _ string) (messaging.TopicConfig, error) {
	<-ctx.Done()
	return messaging.TopicConfig{}, fmt.Errorf("get topic: %w", ctx.Err())
}

func TestPull_CancelledDuringLookup(t *testing.T) {
	f := newFixture(t)
	f.states(t, "BINARY", "sub")

	v, err := validator.NewV10Validator()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	uc := New(Dependency{
		Broker:     slowLookupBroker{Memory: f.broker, cancel: cancel},
		Validator:  v,
		Instrument: instrument.NewNoop(),
	})

	got, err := uc.Pull(ctx, PullInput{SubscriptionID: "sub"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPull_DecodeError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.states(t, "BINARY", "sub")

	// bypass the codec so the payload is not a valid State
	_, err := f.broker.Publish(ctx, "states", []messaging.OutgoingMessage{{Data: []byte{0xff, 0xff, 0xff}}})
	require.NoError(t, err)

	got, err := f.uc.Pull(ctx, PullInput{SubscriptionID: "sub", ReturnImmediately: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.ErrorIs(t, got[0].DecodeErr, schema.ErrDecode)
	var de *schema.DecodeError
	require.ErrorAs(t, got[0].DecodeErr, &de)
	assert.Equal(t, "state", de.SchemaID)
	assert.Equal(t, []byte{0xff, 0xff, 0xff}, got[0].Data)
	assert.NotEmpty(t, got[0].AckID)
}

func TestPull_DetachedSubscriptionUsesMarker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.states(t, "JSON", "sub")

	_, err := f.uc.Publish(ctx, PublishInput{TopicID: "states", Messages: []PublishMessage{{Fields: alaska()}}})
	require.NoError(t, err)
	require.NoError(t, f.uc.DeleteTopic(ctx, "states"))

	got, err := f.uc.Pull(ctx, PullInput{SubscriptionID: "sub", ReturnImmediately: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NoError(t, got[0].DecodeErr)
	assert.Equal(t, alaska(), got[0].Fields)
}

func TestDecode_MarkerMismatch(t *testing.T) {
	f := newFixture(t)
	f.states(t, "BINARY")

	pm := f.uc.decode(context.Background(),
		entity.TopicBinding{TopicID: "states", SchemaID: "state", Encoding: schema.EncodingBinary},
		messaging.ReceivedMessage{
			AckID:      "ack",
			Data:       []byte(`{"Name":"Alaska","PostAbbr":"AK"}`),
			Attributes: map[string]string{messaging.AttrSchemaName: "state", messaging.AttrSchemaEncoding: "JSON"},
		})
	require.ErrorIs(t, pm.DecodeErr, schema.ErrDecode)
	require.ErrorIs(t, pm.DecodeErr, errMarkerMismatch)
	assert.Nil(t, pm.Fields)
}

func TestBootstrap_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := BootstrapInput{
		Schemas:       []CreateSchemaInput{{ID: "state", Definition: "Name:string,PostAbbr:string"}},
		Topics:        []BindTopicInput{{TopicID: "states", SchemaID: "state", Encoding: "JSON"}},
		Subscriptions: []BindSubscriptionInput{{SubscriptionID: "sub", TopicID: "states"}},
	}
	require.NoError(t, f.uc.Bootstrap(ctx, in))
	require.NoError(t, f.uc.Bootstrap(ctx, in))

	sub, err := f.uc.GetSubscription(ctx, "sub")
	require.NoError(t, err)
	assert.Equal(t, "states", sub.TopicID)

	in.Topics = []BindTopicInput{{TopicID: "other", SchemaID: "missing", Encoding: "JSON"}}
	require.ErrorIs(t, f.uc.Bootstrap(ctx, in), messaging.ErrSchemaNotFound)
}

func mustSchema(t *testing.T, f fixture, id string) schema.Schema {
	t.Helper()
	sc, err := f.uc.GetSchema(context.Background(), id)
	require.NoError(t, err)
	return sc
}
