package uid

import (
	"hash/fnv"
	"os"

	"github.com/bwmarrin/snowflake"
)

// Snowflake generates 63-bit time-ordered ids.
type Snowflake struct {
	node *snowflake.Node
}

// NewSnowflake creates a generator whose node number is derived from the
// hostname, so replicas sharing a broker do not collide.
func NewSnowflake() (*Snowflake, error) {
	return NewSnowflakeNode(nodeFromHostname())
}

// NewSnowflakeNode creates a generator for an explicit node number (0-1023).
func NewSnowflakeNode(node int64) (*Snowflake, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, err
	}
	return &Snowflake{node: n}, nil
}

// Generate returns the next id.
func (s *Snowflake) Generate() int64 {
	return s.node.Generate().Int64()
}

func nodeFromHostname() int64 {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return 0
	}
	h := fnv.New32a()
	//nolint:errcheck // hash writes never fail
	h.Write([]byte(host))
	return int64(h.Sum32() % 1024)
}
