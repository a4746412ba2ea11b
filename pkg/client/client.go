// Package client wraps a NATS JetStream connection used to fan status
// reports out to the reporting stream, additive to the HTTP global-signal
// path the external interfaces require.
package client

import (
	"context"
	"fmt"

	natsclient "github.com/nats-io/nats.go"
	"github.com/relaymesh/relay/internal/nats"
	sdkerrors "github.com/relaymesh/relay/pkg/errors"
	"github.com/relaymesh/relay/pkg/message"
	"go.uber.org/zap"
)

// Client manages a single JetStream connection and the stream used for
// reporting. It does not interpret reports; it only transports them.
type Client struct {
	conn   *natsclient.Conn
	js     natsclient.JetStreamContext
	config *nats.ConnectionConfig
	logger *zap.Logger
}

// NewClient creates a client with default connection settings.
func NewClient(url string) *Client {
	logger, _ := zap.NewProduction()
	return &Client{
		config: nats.DefaultConnectionConfig(url),
		logger: logger,
	}
}

// NewClientWithConfig creates a client with custom connection settings.
func NewClientWithConfig(config *nats.ConnectionConfig) *Client {
	logger, _ := zap.NewProduction()
	return &Client{
		config: config,
		logger: logger,
	}
}

// Connect establishes the NATS connection and JetStream context, and
// ensures the reporting stream exists.
func (c *Client) Connect(ctx context.Context) error {
	if c.conn != nil && c.conn.IsConnected() {
		return nil
	}

	conn, err := nats.Connect(ctx, c.config)
	if err != nil {
		return sdkerrors.New(sdkerrors.KindTransport, "", "", "failed to connect to NATS", err)
	}
	c.conn = conn

	js, err := conn.JetStream()
	if err != nil {
		_ = nats.Close(c.conn)
		c.conn = nil
		return sdkerrors.New(sdkerrors.KindTransport, "", "", "JetStream is not enabled on the NATS server", err)
	}
	c.js = js

	if _, err := js.StreamInfo(c.config.ResultStream); err != nil {
		_, addErr := js.AddStream(&natsclient.StreamConfig{
			Name:     c.config.ResultStream,
			Subjects: []string{c.config.ResultSubject + ".>"},
		})
		if addErr != nil {
			c.logger.Warn("failed to ensure reporting stream exists",
				zap.String("stream", c.config.ResultStream), zap.Error(addErr))
		}
	}

	return nil
}

// SetLogger sets a custom zap logger for the client.
func (c *Client) SetLogger(logger *zap.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Close gracefully drains and closes the connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	if err := nats.Close(c.conn); err != nil {
		return sdkerrors.New(sdkerrors.KindTransport, "", "", "failed to close connection", err)
	}
	c.conn = nil
	c.js = nil
	return nil
}

// IsConnected reports whether the client is currently connected.
func (c *Client) IsConnected() bool {
	return nats.IsConnected(c.conn)
}

// JetStream returns the underlying JetStream context for advanced use.
func (c *Client) JetStream() natsclient.JetStreamContext {
	return c.js
}

// Publish publishes a report to the configured reporting subject.
func (c *Client) Publish(ctx context.Context, subject string, r *message.Report) error {
	if c.js == nil {
		return sdkerrors.New(sdkerrors.KindTransport, r.ChainID, r.NodeID, "not connected to NATS", nil)
	}

	data, err := r.ToBytes()
	if err != nil {
		return sdkerrors.New(sdkerrors.KindTransport, r.ChainID, r.NodeID, "failed to marshal report", err)
	}

	_, err = c.js.Publish(subject, data, natsclient.Context(ctx))
	if err != nil {
		return sdkerrors.New(sdkerrors.KindTransport, r.ChainID, r.NodeID, "failed to publish report", err)
	}
	return nil
}

// Ping verifies connectivity to the NATS server.
func (c *Client) Ping(ctx context.Context) error {
	if c.conn == nil || !c.conn.IsConnected() {
		return sdkerrors.New(sdkerrors.KindTransport, "", "", "not connected to NATS", nil)
	}

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- c.conn.FlushTimeout(c.config.Timeout)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("ping cancelled: %w", ctx.Err())
	case err := <-resultCh:
		if err != nil {
			return sdkerrors.New(sdkerrors.KindTransport, "", "", "ping failed", err)
		}
		return nil
	}
}
