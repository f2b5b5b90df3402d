package schema

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func stateSchema(t *testing.T, encs ...Encoding) Schema {
	t.Helper()
	s, err := ParseDefinition("state", "Name:string,PostAbbr:string", encs...)
	require.NoError(t, err)
	return s
}

func TestCodec_RoundTrip(t *testing.T) {
	s, err := ParseDefinition("all", "S:string,I:int64,D:double,B:bool,Raw:bytes,Opt:string?")
	require.NoError(t, err)

	messages := []map[string]any{
		{"S": "New York", "I": int64(-42), "D": 3.5, "B": true, "Raw": []byte{0, 1, 2}},
		{"S": "", "I": int64(0), "D": 0.0, "B": false, "Raw": []byte{}, "Opt": ""},
		{"S": "Pennsylvania", "I": int64(1) << 62, "D": -1e-9, "B": true, "Raw": []byte("PA"), "Opt": "x"},
	}

	c := NewCodec()
	for _, enc := range []Encoding{EncodingBinary, EncodingJSON} {
		for _, m := range messages {
			data, err := c.Encode(s, enc, m)
			require.NoError(t, err)

			got, err := c.Decode(s, enc, data)
			require.NoError(t, err)
			assert.Equal(t, m, got, "encoding %s", enc)
		}
	}
}

func TestCodec_BinaryIsDeterministic(t *testing.T) {
	s := stateSchema(t)
	c := NewCodec()
	m := map[string]any{"PostAbbr": "NY", "Name": "New York"}

	first, err := c.Encode(s, EncodingBinary, m)
	require.NoError(t, err)
	for range 10 {
		again, err := c.Encode(s, EncodingBinary, m)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	// field 1 "New York", field 2 "NY"
	want := append([]byte{0x0a, 8}, "New York"...)
	want = append(want, 0x12, 2, 'N', 'Y')
	assert.Equal(t, want, first)
}

func TestCodec_JSONUsesFieldNames(t *testing.T) {
	s := stateSchema(t)
	data, err := NewCodec().Encode(s, EncodingJSON, map[string]any{"Name": "New York", "PostAbbr": "NY"})
	require.NoError(t, err)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(data, &obj))
	assert.Equal(t, map[string]any{"Name": "New York", "PostAbbr": "NY"}, obj)
}

func TestCodec_Encode_Errors(t *testing.T) {
	c := NewCodec()

	_, err := c.Encode(stateSchema(t), EncodingBinary, map[string]any{"Name": 42, "PostAbbr": "NY"})
	require.ErrorIs(t, err, ErrSchemaMismatch)

	_, err = c.Encode(stateSchema(t, EncodingBinary), EncodingJSON, map[string]any{"Name": "x", "PostAbbr": "NY"})
	require.ErrorIs(t, err, ErrUnsupportedEncoding)
}

func TestCodec_Decode_Errors(t *testing.T) {
	s := stateSchema(t)
	c := NewCodec()

	valid, err := c.Encode(s, EncodingBinary, map[string]any{"Name": "New York", "PostAbbr": "NY"})
	require.NoError(t, err)

	tests := []struct {
		name string
		enc  Encoding
		data []byte
	}{
		{name: "truncated binary", enc: EncodingBinary, data: valid[:len(valid)-1]},
		{name: "missing required binary", enc: EncodingBinary, data: valid[:10]},
		{name: "json as binary", enc: EncodingBinary, data: []byte(`{"Name":"x","PostAbbr":"NY"}`)},
		{name: "binary as json", enc: EncodingJSON, data: valid},
		{name: "malformed json", enc: EncodingJSON, data: []byte(`{"Name":`)},
		{name: "unknown json key", enc: EncodingJSON, data: []byte(`{"Name":"x","PostAbbr":"NY","Capital":"y"}`)},
		{name: "wrong json type", enc: EncodingJSON, data: []byte(`{"Name":1,"PostAbbr":"NY"}`)},
		{name: "missing required json", enc: EncodingJSON, data: []byte(`{"Name":"x"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decode(s, tt.enc, tt.data)
			require.ErrorIs(t, err, ErrDecode)

			var dErr *DecodeError
			require.ErrorAs(t, err, &dErr)
			assert.Equal(t, "state", dErr.SchemaID)
			assert.Equal(t, tt.enc, dErr.Encoding)
		})
	}
}

func TestSchema_Coerce(t *testing.T) {
	s, err := ParseDefinition("all", "I:int64,D:double,Raw:bytes,S:string?")
	require.NoError(t, err)

	var in map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"I":7,"D":2,"Raw":"AAEC","Other":true}`), &in))

	out, err := s.Coerce(in)
	require.NoError(t, err)
	assert.Equal(t, int64(7), out["I"])
	assert.Equal(t, float64(2), out["D"])
	assert.Equal(t, []byte{0, 1, 2}, out["Raw"])
	assert.Equal(t, true, out["Other"])

	_, err = s.Coerce(map[string]any{"I": 1.5})
	require.ErrorIs(t, err, ErrSchemaMismatch)

	_, err = s.Coerce(map[string]any{"Raw": "%%%"})
	require.ErrorIs(t, err, ErrSchemaMismatch)

	_, err = s.Coerce(map[string]any{"I": float64(math.MaxInt64)})
	require.ErrorIs(t, err, ErrSchemaMismatch)

	out, err = s.Coerce(map[string]any{"I": float64(math.MinInt64)})
	require.NoError(t, err)
	assert.Equal(t, int64(math.MinInt64), out["I"])

	out, err = s.Coerce(map[string]any{"I": json.Number("42.0")})
	require.NoError(t, err)
	assert.Equal(t, int64(42), out["I"])

	out, err = s.Coerce(map[string]any{"I": json.Number("1e3")})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), out["I"])

	_, err = s.Coerce(map[string]any{"I": json.Number("42.5")})
	require.ErrorIs(t, err, ErrSchemaMismatch)

	_, err = s.Coerce(map[string]any{"I": json.Number("9223372036854775808")})
	require.ErrorIs(t, err, ErrSchemaMismatch)
}

// wireString appends a length-delimited string field to b.
func wireString(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func TestCodec_DeclaredFieldNumbers(t *testing.T) {
	s, err := ParseProtoDefinition("state", "message State {\n  required string Name = 1;\n  required string PostAbbr = 3;\n}")
	require.NoError(t, err)

	c := NewCodec()
	payload := wireString(wireString(nil, 1, "New York"), 3, "NY")

	got, err := c.Decode(s, EncodingBinary, payload)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"Name": "New York", "PostAbbr": "NY"}, got)

	data, err := c.Encode(s, EncodingBinary, got)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	// a payload written against sequential numbers lacks the required field 3
	_, err = c.Decode(s, EncodingBinary, wireString(wireString(nil, 1, "New York"), 2, "NY"))
	require.ErrorIs(t, err, ErrDecode)
}
