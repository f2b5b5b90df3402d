// Package uid generates identifiers used by the broker drivers and the
// transport layer.
//
// Message ids are numeric (snowflake) so they sort by publish time, like the
// ids assigned by Google Pub/Sub. Ack ids and correlation ids are opaque
// strings.
package uid

// StringID generates opaque string identifiers.
type StringID interface {
	Generate() string
}

// NumberID generates time-ordered numeric identifiers.
type NumberID interface {
	Generate() int64
}
