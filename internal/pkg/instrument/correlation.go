package instrument

import (
	"context"

	"github.com/google/uuid"
)

type correlationKey struct{}

// HeaderCorrelationID carries the correlation id over HTTP.
const HeaderCorrelationID = "X-Correlation-ID"

// SetCorrelationID stores id in ctx, generating one when id is empty.
func SetCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// GetCorrelationID returns the id stored by SetCorrelationID or "".
func GetCorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
