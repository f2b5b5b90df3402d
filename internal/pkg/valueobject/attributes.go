// Package valueobject holds small value types shared by storage drivers.
package valueobject

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"maps"
)

// ErrScanValueNotBytes is returned when a database value is not JSON text.
var ErrScanValueNotBytes = errors.New("valueobject: attributes scan value is not []byte")

// Attributes are message key/value metadata stored as a JSON object.
type Attributes map[string]string

// Value implements driver.Valuer.
func (a Attributes) Value() (driver.Value, error) {
	if a == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]string(a))
}

// Scan implements sql.Scanner. NULL scans into an empty map.
func (a *Attributes) Scan(value any) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*a = Attributes{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	case map[string]any:
		out := make(Attributes, len(v))
		for k, val := range v {
			s, ok := val.(string)
			if !ok {
				return ErrScanValueNotBytes
			}
			out[k] = s
		}
		*a = out
		return nil
	default:
		return ErrScanValueNotBytes
	}

	out := Attributes{}
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*a = out
	return nil
}

// Clone returns an independent copy; nil stays nil.
func (a Attributes) Clone() Attributes {
	return maps.Clone(a)
}

// With returns a copy of a with key set to value.
func (a Attributes) With(key, value string) Attributes {
	out := make(Attributes, len(a)+1)
	maps.Copy(out, a)
	out[key] = value
	return out
}

// Get returns the value of key or "".
func (a Attributes) Get(key string) string {
	return a[key]
}
