package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReport_StampsCreatedAt(t *testing.T) {
	r := NewReport("chain-1", "node-1", 0, 2, "NODE_COMPLETED")

	assert.Equal(t, "chain-1", r.ChainID)
	assert.NotEmpty(t, r.CreatedAt)
}

func TestWithSignalAndWithPayload_AreFluent(t *testing.T) {
	r := NewReport("chain-1", "node-1", 0, 2, "NODE_SUSPENDED").
		WithSignal("NODE_SUSPEND").
		WithPayload([]byte(`{"cursor":3}`))

	assert.Equal(t, "NODE_SUSPEND", r.Signal)
	assert.JSONEq(t, `{"cursor":3}`, string(r.Payload))
}

func TestFromBytes_RoundTripsAllFields(t *testing.T) {
	original := NewReport("chain-1", "node-1", 1, 2, "NODE_FAILED").WithSignal("NODE_SUSPEND")
	raw, err := original.ToBytes()
	require.NoError(t, err)

	parsed, err := FromBytes(raw)
	require.NoError(t, err)
	assert.Equal(t, original.ChainID, parsed.ChainID)
	assert.Equal(t, original.Signal, parsed.Signal)
	assert.Equal(t, original.Status, parsed.Status)
}

func TestFromBytes_InvalidJSONErrors(t *testing.T) {
	_, err := FromBytes([]byte("not json"))

	assert.Error(t, err)
}

func TestAckNak_WithoutNATSMessageAreNoops(t *testing.T) {
	r := NewReport("chain-1", "node-1", 0, 1, "NODE_COMPLETED")

	assert.NoError(t, r.Ack())
	assert.NoError(t, r.Nak())
}
