package script

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/relay/pkg/chain"
	sdkerrors "github.com/relaymesh/relay/pkg/errors"
	"github.com/relaymesh/relay/pkg/model"
)

func configPayload(t *testing.T, cfg Config, inline []byte) chain.Payload {
	t.Helper()
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	return chain.Payload{
		ChainID:  "chain-1",
		TargetID: "script-target",
		Meta:     &model.PipelineMeta{Configuration: raw},
		Data:     &model.Data{Inline: inline},
	}
}

func TestDigest_ReturnsScriptResult(t *testing.T) {
	cb := NewCallback()
	payload := configPayload(t, Config{Script: "input.value + 1"}, []byte(`{"value": 41}`))

	out, err := cb.Digest(context.Background(), payload)

	require.NoError(t, err)
	assert.JSONEq(t, "42", string(out.Inline))
}

func TestDigest_FallsBackToRawStringWhenInputIsNotJSON(t *testing.T) {
	cb := NewCallback()
	payload := configPayload(t, Config{Script: "input.toUpperCase()"}, []byte("not json"))

	out, err := cb.Digest(context.Background(), payload)

	require.NoError(t, err)
	assert.JSONEq(t, `"NOT JSON"`, string(out.Inline))
}

func TestDigest_MissingScriptIsConfigInvalid(t *testing.T) {
	cb := NewCallback()
	payload := configPayload(t, Config{}, []byte(`{}`))

	_, err := cb.Digest(context.Background(), payload)

	require.Error(t, err)
	assert.True(t, sdkerrors.Is(err, sdkerrors.KindConfigInvalid))
}

func TestDigest_NoConfigurationIsConfigInvalid(t *testing.T) {
	cb := NewCallback()
	payload := chain.Payload{ChainID: "chain-1", TargetID: "script-target", Data: &model.Data{}}

	_, err := cb.Digest(context.Background(), payload)

	require.Error(t, err)
	assert.True(t, sdkerrors.Is(err, sdkerrors.KindConfigInvalid))
}

func TestDigest_ScriptThrowsIsProcessorFailure(t *testing.T) {
	cb := NewCallback()
	payload := configPayload(t, Config{Script: "throw new Error('bad input')"}, []byte(`{}`))

	_, err := cb.Digest(context.Background(), payload)

	require.Error(t, err)
	assert.True(t, sdkerrors.Is(err, sdkerrors.KindProcessorFailure))
	assert.Contains(t, err.Error(), "bad input")
}

func TestDigest_TimeoutInterruptsLongRunningScript(t *testing.T) {
	cb := NewCallback()
	payload := configPayload(t, Config{
		Script:  "while (true) {}",
		Timeout: 50 * time.Millisecond,
	}, []byte(`{}`))

	start := time.Now()
	_, err := cb.Digest(context.Background(), payload)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, sdkerrors.Is(err, sdkerrors.KindProcessorFailure))
	assert.Less(t, elapsed, 2*time.Second)
}

func TestDigest_DefaultTimeoutAppliedWhenUnset(t *testing.T) {
	cfg, err := parseConfig(&model.PipelineMeta{Configuration: json.RawMessage(`{"script":"1+1"}`)})

	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
}
