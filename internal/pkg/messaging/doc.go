// Package messaging is the broker boundary of schemabus.
//
// A Broker manages schemas, topics and pull subscriptions, publishes opaque
// payloads and hands out messages with ack ids under at-least-once delivery:
// a delivered message that is not acknowledged before its ack deadline is
// delivered again with DeliveryAttempt increased by one.
//
// Drivers:
//
//   - memory: in-process maps, for tests and single-node use.
//   - redis: sorted-set backlogs leased by Lua scripts.
//   - postgres: delivery rows claimed with FOR UPDATE SKIP LOCKED.
//   - google-pubsub: Google Cloud Pub/Sub admin and pull APIs.
//
// Consume runs a pull/handle/acknowledge loop on top of any Puller.
package messaging
