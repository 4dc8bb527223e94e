package jsoncodec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripFlatMap(t *testing.T) {
	in := map[string]string{"x-api-key": "k", "status": "SUCCESS"}
	raw, err := Marshal(in)
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, Unmarshal(raw, &out))
	assert.Equal(t, in, out)
}

func TestValid(t *testing.T) {
	assert.True(t, Valid([]byte(`{"a":1}`)))
	assert.False(t, Valid([]byte(`{"a":`)))
}

func TestEncodeWritesTrailingNewline(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, map[string]int{"status": 200}))
	assert.Equal(t, "{\"status\":200}\n", buf.String())
}
