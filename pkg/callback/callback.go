// Package callback publishes status reports to the reporting stream with
// retry-with-backoff, used as the additive NATS sink on the global-signal
// bus alongside the HTTP remoteReport path.
package callback

import (
	"context"
	"fmt"
	"time"

	"github.com/relaymesh/relay/pkg/client"
	"github.com/relaymesh/relay/pkg/message"
	"go.uber.org/zap"
)

// Config holds configuration for the callback handler.
type Config struct {
	Subject       string
	MaxRetries    int
	RetryDelay    time.Duration
	EnableLogging bool
	Logger        *zap.Logger
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	logger, _ := zap.NewProduction()
	return &Config{
		Subject:       "result.report",
		MaxRetries:    3,
		RetryDelay:    time.Second,
		EnableLogging: true,
		Logger:        logger,
	}
}

// Handler publishes reports to the reporting stream via a Client.
type Handler struct {
	client *client.Client
	config *Config
	logger *zap.Logger
}

// NewHandler creates a callback handler with default configuration.
func NewHandler(c *client.Client) *Handler {
	return NewHandlerWithConfig(c, DefaultConfig())
}

// NewHandlerWithConfig creates a callback handler with custom configuration.
func NewHandlerWithConfig(c *client.Client, config *Config) *Handler {
	logger := config.Logger
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &Handler{client: c, config: config, logger: logger}
}

func (h *Handler) validate(r *message.Report) error {
	if r == nil {
		return fmt.Errorf("report cannot be nil")
	}
	if r.ChainID == "" {
		return fmt.Errorf("report chainId is required")
	}
	if r.NodeID == "" {
		return fmt.Errorf("report nodeId is required")
	}
	if r.Status == "" {
		return fmt.Errorf("report status is required")
	}
	return nil
}

func (h *Handler) logResult(r *message.Report, err error) {
	if !h.config.EnableLogging {
		return
	}
	fields := []zap.Field{
		zap.String("chain_id", r.ChainID),
		zap.String("node_id", r.NodeID),
		zap.String("status", r.Status),
		zap.String("subject", h.config.Subject),
	}
	if err != nil {
		h.logger.Error("failed to publish report", append(fields, zap.Error(err))...)
		return
	}
	h.logger.Info("published report", fields...)
}

func (h *Handler) publishWithRetry(ctx context.Context, r *message.Report) error {
	var lastErr error
	for attempt := 0; attempt <= h.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if h.config.EnableLogging {
				h.logger.Warn("retrying report publish",
					zap.Int("attempt", attempt),
					zap.Int("max_attempts", h.config.MaxRetries+1),
				)
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("publish cancelled during retry: %w", ctx.Err())
			case <-time.After(h.config.RetryDelay):
			}
		}

		err := h.client.Publish(ctx, h.config.Subject, r)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("publish failed after %d attempts: %w", h.config.MaxRetries+1, lastErr)
}

// Publish validates and publishes a report, retrying per configuration.
func (h *Handler) Publish(ctx context.Context, r *message.Report) error {
	if err := h.validate(r); err != nil {
		h.logResult(r, err)
		return fmt.Errorf("validation failed: %w", err)
	}

	err := h.publishWithRetry(ctx, r)
	h.logResult(r, err)
	return err
}

// Close flushes the logger.
func (h *Handler) Close() error {
	if h.logger != nil {
		return h.logger.Sync()
	}
	return nil
}
