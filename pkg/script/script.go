// Package script implements a scriptable chain.ProcessCallback: a
// service's PipelineMeta.Configuration holds a JavaScript program run
// against the node's current data, whose completion value becomes the
// output, with a timeout enforced by
// interrupting the VM rather than trusting the script to return.
package script

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/relaymesh/relay/pkg/chain"
	sdkerrors "github.com/relaymesh/relay/pkg/errors"
	"github.com/relaymesh/relay/pkg/model"
)

// Config is the per-service configuration carried in
// PipelineMeta.Configuration for a script-backed processor.
type Config struct {
	Script  string        `json:"script"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// DefaultTimeout bounds script execution when a service doesn't specify
// one.
const DefaultTimeout = 5 * time.Second

// Callback runs a service's configured script against its input data, a
// goja VM per call. It implements chain.ProcessCallback.
type Callback struct{}

// NewCallback creates a script-backed ProcessCallback.
func NewCallback() *Callback {
	return &Callback{}
}

// Digest parses payload.Meta.Configuration as Config, runs its script
// against payload.Data.Inline as the `input` global, and marshals the
// script's return value back into Data.Inline.
func (c *Callback) Digest(ctx context.Context, payload chain.Payload) (*model.Data, error) {
	cfg, err := parseConfig(payload.Meta)
	if err != nil {
		return nil, sdkerrors.New(sdkerrors.KindConfigInvalid, payload.ChainID, "", "invalid script configuration", err)
	}

	var input any
	if payload.Data != nil && len(payload.Data.Inline) > 0 {
		if err := json.Unmarshal(payload.Data.Inline, &input); err != nil {
			input = string(payload.Data.Inline)
		}
	}

	result, err := c.run(ctx, cfg, input, payload.TargetID)
	if err != nil {
		return nil, sdkerrors.New(sdkerrors.KindProcessorFailure, payload.ChainID, "", fmt.Sprintf("script %s failed", payload.TargetID), err)
	}

	out, err := json.Marshal(result)
	if err != nil {
		return nil, sdkerrors.New(sdkerrors.KindProcessorFailure, payload.ChainID, "", "marshaling script result", err)
	}

	return &model.Data{Inline: out}, nil
}

func parseConfig(meta *model.PipelineMeta) (Config, error) {
	var cfg Config
	if meta == nil || len(meta.Configuration) == 0 {
		return cfg, fmt.Errorf("service has no script configuration")
	}
	if err := json.Unmarshal(meta.Configuration, &cfg); err != nil {
		return cfg, err
	}
	if cfg.Script == "" {
		return cfg, fmt.Errorf("script is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return cfg, nil
}

func (c *Callback) run(ctx context.Context, cfg Config, input any, targetID string) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during script execution for %s: %v", targetID, r)
		}
	}()

	timeoutCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	vm := goja.New()
	if err := vm.Set("input", input); err != nil {
		return nil, fmt.Errorf("setting input global: %w", err)
	}

	done := make(chan struct{})
	interrupted := make(chan struct{}, 1)
	go func() {
		select {
		case <-timeoutCtx.Done():
			vm.Interrupt("execution timeout")
			close(interrupted)
		case <-done:
		}
	}()
	defer close(done)

	value, runErr := vm.RunString(cfg.Script)
	if runErr != nil {
		select {
		case <-interrupted:
			return nil, fmt.Errorf("script exceeded timeout of %s", cfg.Timeout)
		default:
		}
		if exc, ok := runErr.(*goja.Exception); ok {
			return nil, fmt.Errorf("script exception: %s", exc.String())
		}
		return nil, runErr
	}

	return value.Export(), nil
}
