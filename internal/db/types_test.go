package db

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONValueRoundTripThroughDriver(t *testing.T) {
	v, err := NewJSONValue(map[string]any{"compound_score": 0.5})
	require.NoError(t, err)

	dv, err := v.Value()
	require.NoError(t, err)
	assert.JSONEq(t, `{"compound_score":0.5}`, dv.(string))

	var scanned JSONValue
	require.NoError(t, scanned.Scan([]byte(`{"a":1}`)))
	assert.JSONEq(t, `{"a":1}`, string(scanned))
}

func TestJSONValueNull(t *testing.T) {
	v, err := NewJSONValue(nil)
	require.NoError(t, err)

	dv, err := v.Value()
	require.NoError(t, err)
	assert.Nil(t, dv)

	var scanned JSONValue = JSONValue(`{"stale":true}`)
	require.NoError(t, scanned.Scan(nil))
	assert.Nil(t, scanned)

	out, err := json.Marshal(struct {
		R JSONValue `json:"r"`
	}{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"r":null}`, string(out))
}

func TestJSONValueRejectsGarbage(t *testing.T) {
	var v JSONValue
	assert.Error(t, v.Scan("not json"))
	assert.Error(t, v.Scan(42))
}
