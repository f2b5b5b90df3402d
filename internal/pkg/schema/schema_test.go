package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		fields  []Field
		encs    []Encoding
		wantErr error
	}{
		{name: "ok", id: "state", fields: []Field{{Name: "Name", Type: TypeString, Required: true}}},
		{name: "empty id", id: " ", fields: []Field{{Name: "Name", Type: TypeString}}, wantErr: ErrInvalidSchema},
		{name: "no fields", id: "state", wantErr: ErrInvalidSchema},
		{name: "bad name", id: "state", fields: []Field{{Name: "1x", Type: TypeString}}, wantErr: ErrInvalidSchema},
		{name: "bad type", id: "state", fields: []Field{{Name: "x", Type: "uint8"}}, wantErr: ErrInvalidSchema},
		{
			name:    "duplicate",
			id:      "state",
			fields:  []Field{{Name: "x", Type: TypeString}, {Name: "x", Type: TypeBool}},
			wantErr: ErrInvalidSchema,
		},
		{
			name:    "duplicate number",
			id:      "state",
			fields:  []Field{{Name: "x", Type: TypeString, Number: 2}, {Name: "y", Type: TypeBool, Number: 2}},
			wantErr: ErrInvalidSchema,
		},
		{
			name:    "implicit number collides",
			id:      "state",
			fields:  []Field{{Name: "x", Type: TypeString, Number: 3}, {Name: "y", Type: TypeBool}, {Name: "z", Type: TypeBool, Number: 4}},
			wantErr: ErrInvalidSchema,
		},
		{
			name:    "reserved number",
			id:      "state",
			fields:  []Field{{Name: "x", Type: TypeString, Number: 19000}},
			wantErr: ErrInvalidSchema,
		},
		{
			name:    "negative number",
			id:      "state",
			fields:  []Field{{Name: "x", Type: TypeString, Number: -1}},
			wantErr: ErrInvalidSchema,
		},
		{
			name:    "bad encoding",
			id:      "state",
			fields:  []Field{{Name: "x", Type: TypeString}},
			encs:    []Encoding{"AVRO"},
			wantErr: ErrUnsupportedEncoding,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.id, tt.fields, tt.encs...)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, s.Supports(EncodingBinary))
			assert.True(t, s.Supports(EncodingJSON))
		})
	}
}

func TestSchema_Validate(t *testing.T) {
	s, err := ParseDefinition("state", "Name:string,PostAbbr:string,Population:int64?")
	require.NoError(t, err)

	require.NoError(t, s.Validate(map[string]any{"Name": "New York", "PostAbbr": "NY"}))
	require.NoError(t, s.Validate(map[string]any{"Name": "New York", "PostAbbr": "NY", "Population": int64(1)}))

	var mErr *MismatchError

	err = s.Validate(map[string]any{"Name": "New York"})
	require.ErrorIs(t, err, ErrSchemaMismatch)
	require.ErrorAs(t, err, &mErr)
	assert.Equal(t, "PostAbbr", mErr.Field)

	err = s.Validate(map[string]any{"Name": 42, "PostAbbr": "NY"})
	require.ErrorAs(t, err, &mErr)
	assert.Equal(t, "Name", mErr.Field)

	err = s.Validate(map[string]any{"Name": "x", "PostAbbr": "NY", "Capital": "Albany"})
	require.ErrorAs(t, err, &mErr)
	assert.Equal(t, "Capital", mErr.Field)

	err = s.Validate(map[string]any{"Name": "x", "PostAbbr": "NY", "Population": 1})
	require.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestParseEncoding(t *testing.T) {
	e, err := ParseEncoding("json")
	require.NoError(t, err)
	assert.Equal(t, EncodingJSON, e)

	e, err = ParseEncoding(" Binary ")
	require.NoError(t, err)
	assert.Equal(t, EncodingBinary, e)

	_, err = ParseEncoding("avro")
	require.ErrorIs(t, err, ErrUnsupportedEncoding)
}

func TestSchema_MessageName(t *testing.T) {
	assert.Equal(t, "UsStates", Schema{ID: "us-states"}.MessageName())
	assert.Equal(t, "State", Schema{ID: "state"}.MessageName())
	assert.Equal(t, "M1state", Schema{ID: "1state"}.MessageName())
}

func TestDefinitionRoundTrip(t *testing.T) {
	s, err := ParseDefinition("state", " Name : string , PostAbbr:string, Flag:BOOL? ")
	require.NoError(t, err)
	assert.Equal(t, "Name:string,PostAbbr:string,Flag:bool?", s.Definition())

	_, err = ParseDefinition("state", "Name")
	require.ErrorIs(t, err, ErrInvalidSchema)
}

func TestProtoDefinitionRoundTrip(t *testing.T) {
	s, err := ParseDefinition("state", "Name:string,PostAbbr:string,Population:int64?,Area:double?,Flag:bytes?")
	require.NoError(t, err)

	text := s.ProtoDefinition()
	assert.Contains(t, text, "message State {")
	assert.Contains(t, text, "required string Name = 1;")
	assert.Contains(t, text, "optional int64 Population = 3;")

	back, err := ParseProtoDefinition("state", text)
	require.NoError(t, err)
	assert.Equal(t, s.Fields, back.Fields)
}

func TestParseProtoDefinition_Proto3(t *testing.T) {
	def := `syntax = "proto3";

message State {
  string post_abbr = 2;
  // comment
  string name = 1;
}`

	s, err := ParseProtoDefinition("state", def)
	require.NoError(t, err)
	assert.Equal(t, []Field{
		{Name: "name", Type: TypeString, Number: 1},
		{Name: "post_abbr", Type: TypeString, Number: 2},
	}, s.Fields)

	_, err = ParseProtoDefinition("state", "message A {\n  repeated string x = 1;\n}")
	require.ErrorIs(t, err, ErrInvalidSchema)
}

func TestFieldNumbers(t *testing.T) {
	def := `syntax = "proto2";

message State {
  required string Name = 1;
  required string PostAbbr = 3;
  optional int64 Population = 7;
}`

	s, err := ParseProtoDefinition("state", def)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 7}, []int{s.Fields[0].Number, s.Fields[1].Number, s.Fields[2].Number})
	assert.Contains(t, s.ProtoDefinition(), "required string PostAbbr = 3;")
	assert.Contains(t, s.ProtoDefinition(), "optional int64 Population = 7;")

	compact := s.Definition()
	assert.Equal(t, "Name:string,PostAbbr:string=3,Population:int64?=7", compact)

	back, err := ParseDefinition("state", compact)
	require.NoError(t, err)
	assert.Equal(t, s.Fields, back.Fields)

	seq, err := ParseDefinition("state", "A:string,B:string=5,C:bool?")
	require.NoError(t, err)
	assert.Equal(t, 6, seq.Fields[2].Number)

	_, err = ParseDefinition("state", "A:string=x")
	require.ErrorIs(t, err, ErrInvalidSchema)

	_, err = ParseProtoDefinition("state", "message A {\n  string x = 0;\n}")
	require.ErrorIs(t, err, ErrInvalidSchema)
}
