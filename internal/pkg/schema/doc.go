// Package schema models the structural contract a message must satisfy and
// encodes messages against it.
//
// A Schema is a flat list of typed fields plus the set of wire encodings it
// may be serialized in. Codec turns a field map into bytes and back:
//
//   - EncodingBinary is the canonical protobuf wire format of a message type
//     built at runtime from the schema (deterministic marshal, byte exact).
//   - EncodingJSON is the protobuf JSON mapping with the schema field names as
//     object keys.
//
// For every valid field map m, Decode(s, e, Encode(s, e, m)) equals m.
package schema
