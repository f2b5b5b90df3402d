package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shandysiswandi/schemabus/internal/pkg/clock"
	"github.com/shandysiswandi/schemabus/internal/pkg/uid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func TestPostgres_Suite(t *testing.T) {
	if testing.Short() {
		t.Skip("postgres container suite")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("schemabus"),
		tcpostgres.WithUsername("schemabus"),
		tcpostgres.WithPassword("schemabus"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	ids, err := uid.NewSnowflakeNode(2)
	require.NoError(t, err)

	runBrokerSuite(t, func(t *testing.T, clk clock.Clocker) Broker {
		b, err := NewPostgres(ctx, PostgresConfig{
			DB:          pool,
			AutoMigrate: true,
			PullWait:    time.Minute,
			Clock:       clk,
			IDs:         ids,
		})
		require.NoError(t, err)

		_, err = pool.Exec(ctx, `truncate schemabus_deliveries, schemabus_messages, schemabus_subscriptions, schemabus_topics, schemabus_schemas`)
		require.NoError(t, err)
		return b
	})
}

func TestNewPostgres_Validation(t *testing.T) {
	_, err := NewPostgres(context.Background(), PostgresConfig{})
	require.Error(t, err)
}
