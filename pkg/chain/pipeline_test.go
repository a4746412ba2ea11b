package chain

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sdkerrors "github.com/relaymesh/relay/pkg/errors"
	"github.com/relaymesh/relay/pkg/model"
)

type recordingCallback struct {
	calls    []Payload
	failAt   string
	transform func(Payload) *model.Data
}

func (c *recordingCallback) Digest(ctx context.Context, payload Payload) (*model.Data, error) {
	c.calls = append(c.calls, payload)
	if c.failAt != "" && payload.TargetID == c.failAt {
		return nil, fmt.Errorf("boom at %s", c.failAt)
	}
	if c.transform != nil {
		return c.transform(payload), nil
	}
	return payload.Data, nil
}

func services(ids ...string) []model.ServiceConfig {
	out := make([]model.ServiceConfig, len(ids))
	for i, id := range ids {
		out[i] = model.ServiceConfig{TargetID: id}
	}
	return out
}

func TestPipelineRun_FoldsLeftToRight(t *testing.T) {
	cb := &recordingCallback{
		transform: func(p Payload) *model.Data {
			return &model.Data{Inline: append(p.Data.Inline, []byte(p.TargetID)...)}
		},
	}
	p := NewPipeline("chain-1", services("a", "b", "c"), cb)

	out, err := p.Run(context.Background(), &model.Data{Inline: []byte("x")}, Payload{})

	require.NoError(t, err)
	assert.Equal(t, "xabc", string(out.Inline))
	require.Len(t, cb.calls, 3)
	assert.Equal(t, "a", cb.calls[0].TargetID)
	assert.Nil(t, cb.calls[0].PreviousTargetID)
	assert.Equal(t, "b", cb.calls[1].TargetID)
	require.NotNil(t, cb.calls[1].PreviousTargetID)
	assert.Equal(t, "a", *cb.calls[1].PreviousTargetID)
	assert.Equal(t, "c", cb.calls[2].TargetID)
	require.NotNil(t, cb.calls[2].PreviousTargetID)
	assert.Equal(t, "b", *cb.calls[2].PreviousTargetID)
}

func TestPipelineRun_AbortsOnFirstFailure(t *testing.T) {
	cb := &recordingCallback{failAt: "b"}
	p := NewPipeline("chain-1", services("a", "b", "c"), cb)

	out, err := p.Run(context.Background(), &model.Data{Inline: []byte("x")}, Payload{})

	assert.Nil(t, out)
	require.Error(t, err)
	assert.True(t, sdkerrors.Is(err, sdkerrors.KindProcessorFailure))
	// c must never run once b fails.
	require.Len(t, cb.calls, 2)
	assert.Equal(t, "a", cb.calls[0].TargetID)
	assert.Equal(t, "b", cb.calls[1].TargetID)
}

func TestPipelineRun_EmptyPipelineReturnsInputUnchanged(t *testing.T) {
	cb := &recordingCallback{}
	p := NewPipeline("chain-1", nil, cb)

	in := &model.Data{Inline: []byte("unchanged")}
	out, err := p.Run(context.Background(), in, Payload{})

	require.NoError(t, err)
	assert.Same(t, in, out)
	assert.Empty(t, cb.calls)
}

func TestProcessorDigest_CarriesHintFields(t *testing.T) {
	cb := &recordingCallback{}
	next := "next-target"
	proc := NewProcessor(model.ServiceConfig{TargetID: "svc"}, cb)

	_, err := proc.Digest(context.Background(), "chain-1", &model.Data{Inline: []byte("v")}, Payload{
		NextTargetID: &next,
	})

	require.NoError(t, err)
	require.Len(t, cb.calls, 1)
	assert.Equal(t, "svc", cb.calls[0].TargetID)
	assert.Equal(t, "chain-1", cb.calls[0].ChainID)
	require.NotNil(t, cb.calls[0].NextTargetID)
	assert.Equal(t, "next-target", *cb.calls[0].NextTargetID)
}

func TestProcessorDigest_NilCallbackReturnsEmptyValue(t *testing.T) {
	proc := NewProcessor(model.ServiceConfig{TargetID: "svc"}, nil)

	out, err := proc.Digest(context.Background(), "chain-1", &model.Data{Inline: []byte("v")}, Payload{})

	require.NoError(t, err)
	assert.Equal(t, &model.Data{}, out)
}
