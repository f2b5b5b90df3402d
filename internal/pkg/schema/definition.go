package schema

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ParseDefinition parses the compact definition form
// "Name:string,PostAbbr:string,Population:int64?" where a trailing "?"
// marks an optional field. A field number other than the next in sequence
// is written after "=", as in "PostAbbr:string=3".
func ParseDefinition(id, definition string, encodings ...Encoding) (Schema, error) {
	var fields []Field
	for _, part := range strings.Split(definition, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		name, typ, ok := strings.Cut(part, ":")
		if !ok {
			return Schema{}, fmt.Errorf("%w: %q is not name:type", ErrInvalidSchema, part)
		}

		number := 0
		typ, num, hasNum := strings.Cut(typ, "=")
		if hasNum {
			n, err := strconv.Atoi(strings.TrimSpace(num))
			if err != nil {
				return Schema{}, fmt.Errorf("%w: %q has invalid field number", ErrInvalidSchema, part)
			}
			number = n
		}

		typ = strings.TrimSpace(typ)
		required := !strings.HasSuffix(typ, "?")
		typ = strings.TrimSuffix(typ, "?")

		fields = append(fields, Field{
			Name:     strings.TrimSpace(name),
			Type:     Type(strings.ToLower(strings.TrimSpace(typ))),
			Required: required,
			Number:   number,
		})
	}

	return New(id, fields, encodings...)
}

// Definition renders the schema back into the compact definition form.
func (s Schema) Definition() string {
	parts := make([]string, 0, len(s.Fields))
	last := 0
	for _, f := range s.Fields {
		p := f.Name + ":" + string(f.Type)
		if !f.Required {
			p += "?"
		}
		if f.Number != last+1 {
			p += "=" + strconv.Itoa(f.Number)
		}
		last = max(last, f.Number)
		parts = append(parts, p)
	}
	return strings.Join(parts, ",")
}

// ProtoDefinition renders the schema as a proto2 message definition.
func (s Schema) ProtoDefinition() string {
	var b strings.Builder
	b.WriteString("syntax = \"proto2\";\n\n")
	fmt.Fprintf(&b, "message %s {\n", s.MessageName())
	for _, f := range s.Fields {
		label := "optional"
		if f.Required {
			label = "required"
		}
		fmt.Fprintf(&b, "  %s %s %s = %d;\n", label, f.Type, f.Name, f.Number)
	}
	b.WriteString("}\n")
	return b.String()
}

var reProtoField = regexp.MustCompile(
	`^\s*(required|optional)?\s*(string|int64|double|bool|bytes)\s+([A-Za-z_][A-Za-z0-9_]*)\s*=\s*(\d+)\s*;`)

// ParseProtoDefinition reads back a flat message definition such as the one
// produced by ProtoDefinition. Fields without a label are optional. Only
// scalar types supported by Schema are accepted.
func ParseProtoDefinition(id, definition string, encodings ...Encoding) (Schema, error) {
	var found []Field
	inMessage := false
	for _, line := range strings.Split(definition, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "message "):
			if inMessage {
				return Schema{}, fmt.Errorf("%w: nested messages are not supported", ErrInvalidSchema)
			}
			inMessage = true
			continue
		case trimmed == "}":
			inMessage = false
			continue
		case !inMessage || trimmed == "" || strings.HasPrefix(trimmed, "//"):
			continue
		}

		m := reProtoField.FindStringSubmatch(trimmed)
		if m == nil {
			return Schema{}, fmt.Errorf("%w: unsupported field declaration %q", ErrInvalidSchema, trimmed)
		}

		number, err := strconv.Atoi(m[4])
		if err != nil {
			return Schema{}, fmt.Errorf("%w: field number %q: %v", ErrInvalidSchema, m[4], err)
		}

		if number == 0 {
			return Schema{}, fmt.Errorf("%w: field %q has number 0", ErrInvalidSchema, m[3])
		}

		found = append(found, Field{Name: m[3], Type: Type(m[2]), Required: m[1] == "required", Number: number})
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].Number < found[j].Number })

	return New(id, found, encodings...)
}
