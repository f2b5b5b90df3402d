package pipeline

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shandysiswandi/schemabus/internal/pkg/config"
	"github.com/shandysiswandi/schemabus/internal/pkg/goroutine"
	"github.com/shandysiswandi/schemabus/internal/pkg/instrument"
	"github.com/shandysiswandi/schemabus/internal/pkg/messaging"
	"github.com/shandysiswandi/schemabus/internal/pkg/router"
	"github.com/shandysiswandi/schemabus/internal/pkg/schema"
	"github.com/shandysiswandi/schemabus/internal/pkg/uid"
	"github.com/shandysiswandi/schemabus/internal/pkg/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const declared = `
modules:
  pipeline:
    enabled: true
    schemas:
      - id: state
        definition: "Name:string,PostAbbr:string,Population:int64?"
        encodings: [JSON]
    topics:
      - id: states
        schema: state
        encoding: JSON
      - id: raw-events
    subscriptions:
      - id: states-log
        topic: states
        ack_deadline_seconds: 30
`

func newDependency(t *testing.T, yaml string) (Dependency, messaging.Broker) {
	t.Helper()

	cfg, err := config.NewViperFromBytes("yaml", []byte(yaml))
	require.NoError(t, err)
	v, err := validator.NewV10Validator()
	require.NoError(t, err)

	broker := messaging.NewMemory(messaging.MemoryConfig{})
	t.Cleanup(func() { _ = broker.Close() })

	ins := instrument.NewNoop()
	return Dependency{
		Broker:     broker,
		Codec:      schema.NewCodec(),
		Router:     router.NewRouter(router.Config{Config: cfg, UUID: uid.NewUUID(), Instrument: ins}),
		Goroutine:  goroutine.NewManager(1),
		Config:     cfg,
		Instrument: ins,
		Validator:  v,
	}, broker
}

func TestNew_BootstrapsDeclaredEntities(t *testing.T) {
	dep, broker := newDependency(t, declared)
	require.NoError(t, New(dep))

	sub, err := broker.GetSubscription(t.Context(), "states-log")
	require.NoError(t, err)
	assert.Equal(t, "states", sub.TopicID)
	assert.Equal(t, 30, int(sub.AckDeadline.Seconds()))

	topic, err := broker.GetTopic(t.Context(), "raw-events")
	require.NoError(t, err)
	assert.Empty(t, topic.SchemaID)

	rec := httptest.NewRecorder()
	dep.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/topics/states", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// a second start against the same broker accepts what already exists
	dep.Router = router.NewRouter(router.Config{Config: dep.Config, UUID: uid.NewUUID(), Instrument: dep.Instrument})
	require.NoError(t, New(dep))
}

func TestNew_Errors(t *testing.T) {
	t.Run("missing dependency", func(t *testing.T) {
		dep, _ := newDependency(t, declared)
		dep.Broker = nil
		require.Error(t, New(dep))
	})

	t.Run("unsupported encoding", func(t *testing.T) {
		dep, _ := newDependency(t, `
modules:
  pipeline:
    schemas:
      - id: state
        definition: "Name:string"
        encodings: [JSON]
    topics:
      - id: states
        schema: state
        encoding: BINARY
`)
		require.ErrorIs(t, New(dep), schema.ErrUnsupportedEncoding)
	})
}
