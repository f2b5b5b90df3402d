// Package config reads service configuration from a file or memory and
// exposes typed accessors over dotted keys such as "messaging.driver".
package config

import (
	"io"
	"time"
)

// Durations reads integer values and scales them to a time unit.
type Durations interface {
	// GetSecond returns the value of key multiplied by time.Second.
	GetSecond(key string) time.Duration
	// GetMillisecond returns the value of key multiplied by time.Millisecond.
	GetMillisecond(key string) time.Duration
	// GetMinute returns the value of key multiplied by time.Minute.
	GetMinute(key string) time.Duration
}

// Config is the read side of the service configuration. Missing keys yield
// the zero value of the requested type.
type Config interface {
	io.Closer
	Durations

	// IsSet reports whether key has a value in any source.
	IsSet(key string) bool

	GetBool(key string) bool
	GetInt(key string) int
	GetInt64(key string) int64
	GetFloat64(key string) float64
	GetString(key string) string

	// GetBinary decodes a base64 value.
	GetBinary(key string) []byte

	// GetArray returns a list value. A scalar "a,b,c" is split by commas.
	GetArray(key string) []string

	// GetMap returns a map value. A scalar "k1:v1,k2:v2" is split into pairs.
	GetMap(key string) map[string]string

	// Unmarshal decodes the subtree under key into out using mapstructure
	// tags, e.g. the declared topics of a module.
	Unmarshal(key string, out any) error
}
