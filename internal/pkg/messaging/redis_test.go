package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shandysiswandi/schemabus/internal/pkg/clock"
	"github.com/shandysiswandi/schemabus/internal/pkg/uid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestRedis_Suite(t *testing.T) {
	if testing.Short() {
		t.Skip("redis container suite")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	uri, err := ctr.ConnectionString(ctx)
	require.NoError(t, err)
	opt, err := redis.ParseURL(uri)
	require.NoError(t, err)

	ids, err := uid.NewSnowflakeNode(1)
	require.NoError(t, err)

	n := 0
	runBrokerSuite(t, func(t *testing.T, clk clock.Clocker) Broker {
		n++
		b, err := NewRedis(RedisConfig{
			Client:   redis.NewClient(opt),
			Prefix:   "suite" + string(rune('a'+n)),
			PullWait: time.Minute,
			Clock:    clk,
			IDs:      ids,
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = b.Close() })
		return b
	})
}
