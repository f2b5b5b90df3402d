package schema

import (
	"errors"
	"fmt"
)

var (
	// ErrSchemaMismatch is returned when a message does not satisfy the schema.
	ErrSchemaMismatch = errors.New("schema: message does not match schema")
	// ErrUnsupportedEncoding is returned when an encoding is outside the schema capability set.
	ErrUnsupportedEncoding = errors.New("schema: unsupported encoding")
	// ErrDecode is returned when bytes cannot be decoded into a valid message.
	ErrDecode = errors.New("schema: decode failed")
	// ErrInvalidSchema is returned when a schema or its definition is malformed.
	ErrInvalidSchema = errors.New("schema: invalid schema")
)

// MismatchError describes which field of a message violates the schema.
type MismatchError struct {
	SchemaID string
	Field    string
	Reason   string
}

// Error implements the error interface.
func (e *MismatchError) Error() string {
	return fmt.Sprintf("schema: message does not match schema %q: field %q %s", e.SchemaID, e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrSchemaMismatch.
func (e *MismatchError) Unwrap() error {
	return ErrSchemaMismatch
}

// DecodeError is attached to a pulled message whose payload could not be decoded.
type DecodeError struct {
	SchemaID string
	Encoding Encoding
	Err      error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("schema: decode %s payload with schema %q: %v", e.Encoding, e.SchemaID, e.Err)
}

// Unwrap exposes both ErrDecode and the underlying cause.
func (e *DecodeError) Unwrap() []error {
	return []error{ErrDecode, e.Err}
}
