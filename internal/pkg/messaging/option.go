package messaging

import (
	"time"

	"go.uber.org/atomic"
)

type consumeOptions struct {
	// concurrency is the number of handlers running at once.
	concurrency int
	// maxInFlight is the batch size of each pull.
	maxInFlight int
	// autoAck acknowledges a message when its handler returns nil.
	autoAck bool
	// errorBackoff is the pause after a failed pull.
	errorBackoff time.Duration
	stats        *ConsumeStats
}

// ConsumeStats counts what a Consume loop did.
type ConsumeStats struct {
	Received atomic.Int64
	Acked    atomic.Int64
	Failed   atomic.Int64
}

// ConsumeOption configures Consume.
type ConsumeOption func(*consumeOptions)

func newConsumeOptions(opts ...ConsumeOption) consumeOptions {
	co := consumeOptions{
		concurrency:  1,
		maxInFlight:  10,
		autoAck:      true,
		errorBackoff: time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&co)
		}
	}
	co.concurrency = max(co.concurrency, 1)
	co.maxInFlight = max(co.maxInFlight, 1)
	if co.stats == nil {
		co.stats = &ConsumeStats{}
	}
	return co
}

// WithConcurrency sets how many handlers run in parallel.
func WithConcurrency(n int) ConsumeOption {
	return func(o *consumeOptions) { o.concurrency = n }
}

// WithMaxInFlight sets how many messages each pull asks for.
func WithMaxInFlight(n int) ConsumeOption {
	return func(o *consumeOptions) { o.maxInFlight = n }
}

// WithAutoAck controls acknowledging after a successful handler. With auto
// ack off the handler acknowledges itself through the ack id.
func WithAutoAck(autoAck bool) ConsumeOption {
	return func(o *consumeOptions) { o.autoAck = autoAck }
}

// WithErrorBackoff sets the pause after a failed pull.
func WithErrorBackoff(d time.Duration) ConsumeOption {
	return func(o *consumeOptions) { o.errorBackoff = d }
}

// WithStats records counters into s.
func WithStats(s *ConsumeStats) ConsumeOption {
	return func(o *consumeOptions) { o.stats = s }
}
