package durable

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONSerializer(t *testing.T) {
	s := JSONSerializer{}

	data, err := s.Marshal(map[string]any{"a": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))

	data, err = s.Marshal([]byte("raw bytes"))
	require.NoError(t, err)
	assert.Equal(t, "raw bytes", string(data))

	v, err := s.Unmarshal([]byte(`{"a":1}`))
	require.NoError(t, err)
	assert.IsType(t, json.RawMessage{}, v)

	v, err = s.Unmarshal([]byte("raw bytes"))
	require.NoError(t, err)
	assert.Equal(t, []byte("raw bytes"), v)
}

func TestOptions_Normalize(t *testing.T) {
	o := Options{ReloadMinFreePercent: 150, MaxSize: -1, DbGracePeriod: -1}.normalize()

	assert.Equal(t, 100, o.ReloadMinFreePercent)
	assert.Equal(t, 0, o.MaxSize)
	assert.Equal(t, DefaultExpireTime, o.ExpireTime)
	assert.Equal(t, DefaultOptions().HeartBeatInterval, o.HeartBeatInterval)
	assert.Equal(t, DefaultOptions().FailOverTimeout, o.FailOverTimeout)

	o = Options{ReloadMinFreePercent: -3}.normalize()
	assert.Equal(t, 0, o.ReloadMinFreePercent)
}
