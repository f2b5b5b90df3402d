// Package validator checks usecase inputs declared with `validate` struct
// tags. Failures come back as a field to message map keyed by snake_case
// field names.
package validator

// Validator validates a struct.
type Validator interface {
	Validate(data any) error
}
