package zkcoord

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeProperties(t *testing.T) {
	props, err := decodeProperties(nil)
	require.NoError(t, err)
	assert.Empty(t, props)

	props, err = decodeProperties([]byte(`{"name":"h1","version":"1.0.0"}`))
	require.NoError(t, err)
	assert.Equal(t, "h1", props["name"])
	assert.Equal(t, "1.0.0", props["version"])

	_, err = decodeProperties([]byte(`not json`))
	assert.Error(t, err)
}

func TestIsNoisyZKLog(t *testing.T) {
	assert.True(t, isNoisyZKLog("Sending request(xid=118082): ..."))
	assert.True(t, isNoisyZKLog("Received response(xid=118082): ..."))
	assert.False(t, isNoisyZKLog("session expired, reconnecting"))
}

func TestJoinPath(t *testing.T) {
	assert.Equal(t, "/hosts/h1", joinPath("/hosts", "h1"))
	assert.Equal(t, "/hosts/h1", joinPath("/hosts/", "h1"))
}
