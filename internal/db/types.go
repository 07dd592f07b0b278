package db

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONValue is a raw JSON document that implements sql.Scanner and
// driver.Valuer so it can be stored in jsonb columns. A nil value is NULL.
type JSONValue json.RawMessage

// NewJSONValue marshals v into a JSONValue. Nil input yields a NULL value.
func NewJSONValue(v any) (JSONValue, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("dbtypes: marshal json value: %w", err)
	}
	return JSONValue(b), nil
}

// Scan implements sql.Scanner
func (j *JSONValue) Scan(src interface{}) error {
	if j == nil {
		return fmt.Errorf("dbtypes: Scan on nil *JSONValue")
	}

	switch v := src.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		*j = append((*j)[:0], v...)
	case string:
		*j = JSONValue(v)
	default:
		return fmt.Errorf("dbtypes: cannot scan type %T into JSONValue", src)
	}
	if !json.Valid(*j) {
		return fmt.Errorf("dbtypes: invalid json in column")
	}
	return nil
}

// Value implements driver.Valuer
func (j JSONValue) Value() (driver.Value, error) {
	if len(j) == 0 || bytes.Equal(j, []byte("null")) {
		return nil, nil
	}
	if !json.Valid(j) {
		return nil, fmt.Errorf("dbtypes: invalid json value")
	}
	return string(j), nil
}

// MarshalJSON emits the raw document, or null when empty.
func (j JSONValue) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return []byte(j), nil
}

// UnmarshalJSON keeps a copy of the raw document.
func (j *JSONValue) UnmarshalJSON(b []byte) error {
	if j == nil {
		return fmt.Errorf("dbtypes: UnmarshalJSON on nil *JSONValue")
	}
	*j = append((*j)[:0], b...)
	return nil
}
