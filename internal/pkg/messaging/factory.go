package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	// DriverMemory selects the in-process backend.
	DriverMemory = "memory"
	// DriverRedis selects the Redis backend.
	DriverRedis = "redis"
	// DriverPostgres selects the PostgreSQL backend.
	DriverPostgres = "postgres"
	// DriverGooglePubSub selects the Google Pub/Sub backend.
	DriverGooglePubSub = "google-pubsub"
)

// ErrUnknownDriver indicates an unsupported messaging driver.
var ErrUnknownDriver = errors.New("messaging: unknown driver")

// FactoryOptions groups config for supported messaging backends.
type FactoryOptions struct {
	Memory   MemoryConfig
	Redis    RedisConfig
	Postgres PostgresConfig
	PubSub   PubSubConfig
}

// NewFromDriver constructs a Broker by driver name.
func NewFromDriver(ctx context.Context, driver string, opts FactoryOptions) (Broker, error) {
	switch strings.TrimSpace(driver) {
	case DriverMemory, "":
		return NewMemory(opts.Memory), nil
	case DriverRedis:
		return asBroker(NewRedis(opts.Redis))
	case DriverPostgres:
		return asBroker(NewPostgres(ctx, opts.Postgres))
	case DriverGooglePubSub:
		return asBroker(NewPubSub(ctx, opts.PubSub))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}
}

// asBroker keeps a failed constructor from yielding a non-nil interface
// around a nil pointer.
func asBroker[B Broker](b B, err error) (Broker, error) {
	if err != nil {
		return nil, err
	}
	return b, nil
}
