package schema

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// Type is the primitive type of a schema field.
type Type string

const (
	// TypeString holds UTF-8 text (Go string).
	TypeString Type = "string"
	// TypeInt64 holds a signed 64-bit integer (Go int64).
	TypeInt64 Type = "int64"
	// TypeDouble holds a 64-bit float (Go float64).
	TypeDouble Type = "double"
	// TypeBool holds a boolean (Go bool).
	TypeBool Type = "bool"
	// TypeBytes holds raw bytes (Go []byte).
	TypeBytes Type = "bytes"
)

func (t Type) valid() bool {
	switch t {
	case TypeString, TypeInt64, TypeDouble, TypeBool, TypeBytes:
		return true
	default:
		return false
	}
}

// Encoding is the wire representation of a schema-bound message.
type Encoding string

const (
	// EncodingBinary is the protobuf binary wire format.
	EncodingBinary Encoding = "BINARY"
	// EncodingJSON is the protobuf JSON mapping.
	EncodingJSON Encoding = "JSON"
)

// ParseEncoding parses an encoding name case-insensitively.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(strings.ToUpper(strings.TrimSpace(s))) {
	case EncodingBinary:
		return EncodingBinary, nil
	case EncodingJSON:
		return EncodingJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedEncoding, s)
	}
}

func (e Encoding) String() string {
	return string(e)
}

// Field is a single named, typed slot of a schema. Number is the protobuf
// field number; zero means the next number after the previous field.
type Field struct {
	Name     string
	Type     Type
	Required bool
	Number   int
}

const (
	maxFieldNumber     = 1<<29 - 1
	reservedFieldNumLo = 19000
	reservedFieldNumHi = 19999
)

// Schema is an immutable structural contract. Build it with New.
type Schema struct {
	ID        string
	Fields    []Field
	Encodings []Encoding
}

var reIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// New validates and builds a Schema. When no encoding is given the schema
// supports both binary and JSON.
func New(id string, fields []Field, encodings ...Encoding) (Schema, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Schema{}, fmt.Errorf("%w: id is required", ErrInvalidSchema)
	}
	if len(fields) == 0 {
		return Schema{}, fmt.Errorf("%w: %q has no fields", ErrInvalidSchema, id)
	}

	fields = slices.Clone(fields)
	seen := make(map[string]struct{}, len(fields))
	numbers := make(map[int]string, len(fields))
	last := 0
	for i := range fields {
		f := &fields[i]
		if !reIdentifier.MatchString(f.Name) {
			return Schema{}, fmt.Errorf("%w: %q has invalid field name %q", ErrInvalidSchema, id, f.Name)
		}
		if !f.Type.valid() {
			return Schema{}, fmt.Errorf("%w: field %q has unknown type %q", ErrInvalidSchema, f.Name, f.Type)
		}
		if _, dup := seen[f.Name]; dup {
			return Schema{}, fmt.Errorf("%w: %q declares field %q twice", ErrInvalidSchema, id, f.Name)
		}
		seen[f.Name] = struct{}{}

		if f.Number == 0 {
			f.Number = last + 1
		}
		if f.Number < 1 || f.Number > maxFieldNumber || (f.Number >= reservedFieldNumLo && f.Number <= reservedFieldNumHi) {
			return Schema{}, fmt.Errorf("%w: field %q has invalid number %d", ErrInvalidSchema, f.Name, f.Number)
		}
		if other, dup := numbers[f.Number]; dup {
			return Schema{}, fmt.Errorf("%w: fields %q and %q share number %d", ErrInvalidSchema, other, f.Name, f.Number)
		}
		numbers[f.Number] = f.Name
		last = max(last, f.Number)
	}

	if len(encodings) == 0 {
		encodings = []Encoding{EncodingBinary, EncodingJSON}
	}
	for _, e := range encodings {
		if e != EncodingBinary && e != EncodingJSON {
			return Schema{}, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, e)
		}
	}

	return Schema{
		ID:        id,
		Fields:    fields,
		Encodings: lo.Uniq(encodings),
	}, nil
}

// Supports reports whether enc is in the schema capability set.
func (s Schema) Supports(enc Encoding) bool {
	return slices.Contains(s.Encodings, enc)
}

// Field looks a field up by name.
func (s Schema) Field(name string) (Field, bool) {
	return lo.Find(s.Fields, func(f Field) bool { return f.Name == name })
}

// Validate checks that fields satisfies the schema: every required field is
// present, no unknown field is set and every value has the field's Go type.
func (s Schema) Validate(fields map[string]any) error {
	for _, f := range s.Fields {
		v, ok := fields[f.Name]
		if !ok {
			if f.Required {
				return &MismatchError{SchemaID: s.ID, Field: f.Name, Reason: "is required"}
			}
			continue
		}
		if !f.Type.accepts(v) {
			return &MismatchError{SchemaID: s.ID, Field: f.Name, Reason: fmt.Sprintf("must be %s, got %T", f.Type, v)}
		}
	}

	keys := lo.Keys(fields)
	sort.Strings(keys)
	for _, k := range keys {
		if _, ok := s.Field(k); !ok {
			return &MismatchError{SchemaID: s.ID, Field: k, Reason: "is not declared"}
		}
	}

	return nil
}

func (t Type) accepts(v any) bool {
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeInt64:
		_, ok := v.(int64)
		return ok
	case TypeDouble:
		_, ok := v.(float64)
		return ok
	case TypeBool:
		_, ok := v.(bool)
		return ok
	case TypeBytes:
		_, ok := v.([]byte)
		return ok
	default:
		return false
	}
}

// MessageName is the protobuf message type name derived from the schema id.
func (s Schema) MessageName() string {
	var b strings.Builder
	upper := true
	for _, r := range s.ID {
		switch {
		case r >= 'a' && r <= 'z':
			if upper {
				r -= 'a' - 'A'
			}
			b.WriteRune(r)
			upper = false
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			upper = false
		default:
			upper = true
		}
	}

	name := b.String()
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		name = "M" + name
	}
	return name
}
