package schema

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Codec encodes and decodes field maps against a Schema. Message descriptors
// are built once per schema definition and cached. Codec is safe for
// concurrent use.
type Codec struct {
	descriptors sync.Map // string -> protoreflect.MessageDescriptor
}

// NewCodec creates a Codec.
func NewCodec() *Codec {
	return &Codec{}
}

// Encode serializes fields with enc after validating them against s.
func (c *Codec) Encode(s Schema, enc Encoding, fields map[string]any) ([]byte, error) {
	if !s.Supports(enc) {
		return nil, fmt.Errorf("%w: schema %q does not support %s", ErrUnsupportedEncoding, s.ID, enc)
	}
	if err := s.Validate(fields); err != nil {
		return nil, err
	}

	md, err := c.descriptor(s)
	if err != nil {
		return nil, err
	}

	msg := dynamicpb.NewMessage(md)
	for _, f := range s.Fields {
		v, ok := fields[f.Name]
		if !ok {
			continue
		}
		msg.Set(md.Fields().ByName(protoreflect.Name(f.Name)), protoValue(f.Type, v))
	}

	switch enc {
	case EncodingBinary:
		return proto.MarshalOptions{Deterministic: true}.Marshal(msg)
	case EncodingJSON:
		return protojson.MarshalOptions{UseProtoNames: true}.Marshal(msg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, enc)
	}
}

// Decode parses data produced with enc into a field map. Every failure after
// the encoding check is reported as a *DecodeError.
func (c *Codec) Decode(s Schema, enc Encoding, data []byte) (map[string]any, error) {
	if !s.Supports(enc) {
		return nil, fmt.Errorf("%w: schema %q does not support %s", ErrUnsupportedEncoding, s.ID, enc)
	}

	md, err := c.descriptor(s)
	if err != nil {
		return nil, err
	}

	msg := dynamicpb.NewMessage(md)
	switch enc {
	case EncodingBinary:
		err = proto.Unmarshal(data, msg)
	case EncodingJSON:
		err = protojson.Unmarshal(data, msg)
	}
	if err != nil {
		return nil, &DecodeError{SchemaID: s.ID, Encoding: enc, Err: err}
	}

	out := make(map[string]any, len(s.Fields))
	msg.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		out[string(fd.Name())] = goValue(fd.Kind(), v)
		return true
	})

	if err := s.Validate(out); err != nil {
		return nil, &DecodeError{SchemaID: s.ID, Encoding: enc, Err: err}
	}

	return out, nil
}

func (c *Codec) descriptor(s Schema) (protoreflect.MessageDescriptor, error) {
	key := s.ID + "\x00" + s.Definition()
	if md, ok := c.descriptors.Load(key); ok {
		return md.(protoreflect.MessageDescriptor), nil
	}

	md, err := buildDescriptor(s)
	if err != nil {
		return nil, err
	}

	actual, _ := c.descriptors.LoadOrStore(key, md)
	return actual.(protoreflect.MessageDescriptor), nil
}

func buildDescriptor(s Schema) (protoreflect.MessageDescriptor, error) {
	fields := make([]*descriptorpb.FieldDescriptorProto, 0, len(s.Fields))
	for _, f := range s.Fields {
		label := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
		if f.Required {
			label = descriptorpb.FieldDescriptorProto_LABEL_REQUIRED
		}
		fields = append(fields, &descriptorpb.FieldDescriptorProto{
			Name:     proto.String(f.Name),
			JsonName: proto.String(f.Name),
			Number:   proto.Int32(int32(f.Number)), //nolint:gosec // bounded by New
			Label:    label.Enum(),
			Type:     protoType(f.Type).Enum(),
		})
	}

	name := s.MessageName()
	fd, err := protodesc.NewFile(&descriptorpb.FileDescriptorProto{
		Name:    proto.String("schemabus/" + name + ".proto"),
		Package: proto.String("schemabus.dynamic"),
		Syntax:  proto.String("proto2"),
		MessageType: []*descriptorpb.DescriptorProto{{
			Name:  proto.String(name),
			Field: fields,
		}},
	}, new(protoregistry.Files))
	if err != nil {
		return nil, fmt.Errorf("%w: build descriptor for %q: %v", ErrInvalidSchema, s.ID, err)
	}

	return fd.Messages().Get(0), nil
}

func protoType(t Type) descriptorpb.FieldDescriptorProto_Type {
	switch t {
	case TypeInt64:
		return descriptorpb.FieldDescriptorProto_TYPE_INT64
	case TypeDouble:
		return descriptorpb.FieldDescriptorProto_TYPE_DOUBLE
	case TypeBool:
		return descriptorpb.FieldDescriptorProto_TYPE_BOOL
	case TypeBytes:
		return descriptorpb.FieldDescriptorProto_TYPE_BYTES
	default:
		return descriptorpb.FieldDescriptorProto_TYPE_STRING
	}
}

func protoValue(t Type, v any) protoreflect.Value {
	switch t {
	case TypeInt64:
		return protoreflect.ValueOfInt64(v.(int64))
	case TypeDouble:
		return protoreflect.ValueOfFloat64(v.(float64))
	case TypeBool:
		return protoreflect.ValueOfBool(v.(bool))
	case TypeBytes:
		return protoreflect.ValueOfBytes(v.([]byte))
	default:
		return protoreflect.ValueOfString(v.(string))
	}
}

func goValue(k protoreflect.Kind, v protoreflect.Value) any {
	switch k {
	case protoreflect.Int64Kind:
		return v.Int()
	case protoreflect.DoubleKind:
		return v.Float()
	case protoreflect.BoolKind:
		return v.Bool()
	case protoreflect.BytesKind:
		return append([]byte{}, v.Bytes()...)
	default:
		return v.String()
	}
}

// Coerce converts values produced by a generic JSON decoder into the Go types
// the schema expects: integral numbers become int64, numbers become float64
// and base64 strings become []byte. Fields not declared by the schema are
// left untouched for Validate to reject.
func (s Schema) Coerce(fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		f, ok := s.Field(k)
		if !ok {
			out[k] = v
			continue
		}

		cv, err := coerce(f.Type, v)
		if err != nil {
			return nil, &MismatchError{SchemaID: s.ID, Field: k, Reason: err.Error()}
		}
		out[k] = cv
	}
	return out, nil
}

func coerce(t Type, v any) (any, error) {
	switch t {
	case TypeInt64:
		switch n := v.(type) {
		case float64:
			return integral(n)
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return i, nil
			}
			f, err := n.Float64()
			if err != nil {
				return nil, fmt.Errorf("must be an integer, got %s", n)
			}
			return integral(f)
		case int:
			return int64(n), nil
		}
	case TypeDouble:
		switch n := v.(type) {
		case json.Number:
			return n.Float64()
		case int64:
			return float64(n), nil
		case int:
			return float64(n), nil
		}
	case TypeBytes:
		if str, ok := v.(string); ok {
			b, err := base64.StdEncoding.DecodeString(str)
			if err != nil {
				return nil, fmt.Errorf("must be base64: %v", err)
			}
			return b, nil
		}
	}
	return v, nil
}

// integral converts n to int64 when it is a whole number in range. The upper
// bound is exclusive because float64(math.MaxInt64) rounds up to 2^63.
func integral(n float64) (int64, error) {
	if n != math.Trunc(n) || n >= math.MaxInt64 || n < math.MinInt64 {
		return 0, fmt.Errorf("must be an integer, got %v", n)
	}
	return int64(n), nil
}
