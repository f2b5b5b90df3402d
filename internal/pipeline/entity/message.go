package entity

import (
	"time"

	"github.com/shandysiswandi/schemabus/internal/pkg/valueobject"
)

// Message is a published payload. On a schema-bound topic Fields holds the
// decoded record and Data its encoded form.
type Message struct {
	ID          string
	Fields      map[string]any
	Data        []byte
	Attributes  valueobject.Attributes
	OrderingKey string
	PublishTime time.Time
}

// PulledMessage is one delivery of a Message. DecodeErr is set when the
// payload could not be decoded with its schema; Data is still available.
type PulledMessage struct {
	Message
	AckID           string
	DeliveryAttempt int
	DecodeErr       error
}

// PublishResult is the outcome of publishing one message.
type PublishResult struct {
	MessageID   string
	PublishTime time.Time
	Err         error
}
