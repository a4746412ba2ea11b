package client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/relay/pkg/message"
)

func TestIsConnected_FalseBeforeConnect(t *testing.T) {
	c := NewClient("nats://127.0.0.1:4222")

	assert.False(t, c.IsConnected())
}

func TestPublish_WithoutConnectionIsTransportError(t *testing.T) {
	c := NewClient("nats://127.0.0.1:4222")

	err := c.Publish(context.Background(), "result.report", message.NewReport("c1", "n1", 0, 1, "NODE_COMPLETED"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestPing_WithoutConnectionIsTransportError(t *testing.T) {
	c := NewClient("nats://127.0.0.1:4222")

	err := c.Ping(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestClose_WithoutConnectionIsNoop(t *testing.T) {
	c := NewClient("nats://127.0.0.1:4222")

	assert.NoError(t, c.Close())
}

func TestSetLogger_IgnoresNil(t *testing.T) {
	c := NewClient("nats://127.0.0.1:4222")

	assert.NotPanics(t, func() {
		c.SetLogger(nil)
	})
}
