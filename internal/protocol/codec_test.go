package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSingleRequest(t *testing.T) {
	msg, err := Parse([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.Nil(t, err)
	require.NotNil(t, msg.Single)
	assert.False(t, msg.Single.IsNotification())
	n, ok := msg.Single.ID.Int()
	assert.True(t, ok)
	assert.Equal(t, int64(1), n)
}

func TestParseNotification(t *testing.T) {
	msg, err := Parse([]byte(`{"jsonrpc":"2.0","method":"initialized"}`))
	require.Nil(t, err)
	require.NotNil(t, msg.Single)
	assert.True(t, msg.Single.IsNotification())
}

func TestParseEmptyBatchRejected(t *testing.T) {
	_, err := Parse([]byte(`[]`))
	require.NotNil(t, err)
	assert.Equal(t, CodeInvalidRequest, err.Code)
}

func TestParseFractionalIDRejected(t *testing.T) {
	_, err := Parse([]byte(`{"jsonrpc":"2.0","id":1.5,"method":"ping"}`))
	require.NotNil(t, err)
	assert.Equal(t, CodeInvalidRequest, err.Code)
}

func TestParseNullIDRejected(t *testing.T) {
	_, err := Parse([]byte(`{"jsonrpc":"2.0","id":null,"method":"ping"}`))
	require.NotNil(t, err)
	assert.Equal(t, CodeInvalidRequest, err.Code)
}

func TestParseWrongVersionRejected(t *testing.T) {
	_, err := Parse([]byte(`{"jsonrpc":"1.0","id":1,"method":"ping"}`))
	require.NotNil(t, err)
	assert.Equal(t, CodeInvalidRequest, err.Code)
}

func TestParseUnknownShapeRejected(t *testing.T) {
	_, err := Parse([]byte(`"just a string"`))
	require.NotNil(t, err)
	assert.Equal(t, CodeInvalidRequest, err.Code)
}

func TestParseBatchPreservesOrder(t *testing.T) {
	msg, err := Parse([]byte(`[{"jsonrpc":"2.0","id":1,"method":"ping"},{"jsonrpc":"2.0","method":"initialized"},{"jsonrpc":"2.0","id":"two","method":"ping"}]`))
	require.Nil(t, err)
	require.Len(t, msg.Batch, 3)
	assert.False(t, msg.Batch[0].IsNotification())
	assert.True(t, msg.Batch[1].IsNotification())
	s, ok := msg.Batch[2].ID.String()
	assert.True(t, ok)
	assert.Equal(t, "two", s)
}

func TestIDRoundTripPreservesType(t *testing.T) {
	strID := NewStringID("abc")
	data, err := strID.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"abc"`, string(data))

	intID := NewIntID(42)
	data, err = intID.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `42`, string(data))
}

func TestSerializeResponseEchoesID(t *testing.T) {
	resp := NewResultResponse(NewIntID(7), []byte(`{"ok":true}`))
	data, err := Serialize(resp)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"id":7`)
}
