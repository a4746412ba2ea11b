package node

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relaymesh/relay/pkg/chain"
	"github.com/relaymesh/relay/pkg/model"
)

type echoCallback struct {
	mu      sync.Mutex
	calls   int
	failSet map[string]bool
}

func (c *echoCallback) Digest(ctx context.Context, payload chain.Payload) (*model.Data, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.failSet[payload.TargetID] {
		return nil, fmt.Errorf("configured failure for %s", payload.TargetID)
	}
	return payload.Data, nil
}

type report struct {
	status model.Status
	signal model.Signal
}

type recordingReporter struct {
	mu      sync.Mutex
	reports []report
}

func (r *recordingReporter) Report(ctx context.Context, chainID, nodeID string, index, count int, status model.Status, signal model.Signal, payload *model.Data) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report{status: status, signal: signal})
}

func (r *recordingReporter) statuses() []model.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Status, len(r.reports))
	for i, rep := range r.reports {
		out[i] = rep.status
	}
	return out
}

type recordingHooks struct {
	mu           sync.Mutex
	emitted      []model.Signal
	ranLocal     []string
	calledRemote bool

	childChainCalls []model.ChainConfig
	childChainErr   error
	childChainAsync bool
}

func (h *recordingHooks) hooks() Hooks {
	return Hooks{
		EmitGlobal: func(ctx context.Context, signal model.Signal, chainID, nodeID string, payload *model.Data) {
			h.mu.Lock()
			h.emitted = append(h.emitted, signal)
			h.mu.Unlock()
		},
		RunLocalNode: func(ctx context.Context, nodeID string, data *model.Data) error {
			h.mu.Lock()
			h.ranLocal = append(h.ranLocal, nodeID)
			h.mu.Unlock()
			return nil
		},
		RemoteService: func(ctx context.Context, chainID, targetID string, meta *model.PipelineMeta, data *model.Data) error {
			h.mu.Lock()
			h.calledRemote = true
			h.mu.Unlock()
			return nil
		},
		RunChildChain: func(ctx context.Context, parentChainID string, chainCfg model.ChainConfig, data *model.Data, onComplete func(error)) error {
			h.mu.Lock()
			h.childChainCalls = append(h.childChainCalls, chainCfg)
			err := h.childChainErr
			async := h.childChainAsync
			h.mu.Unlock()
			if async {
				go onComplete(err)
				return nil
			}
			onComplete(err)
			return err
		},
	}
}

func (h *recordingHooks) signals() []model.Signal {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]model.Signal, len(h.emitted))
	copy(out, h.emitted)
	return out
}

func baseConfig(services ...string) model.NodeConfig {
	svcs := make([]model.ServiceConfig, len(services))
	for i, s := range services {
		svcs[i] = model.ServiceConfig{TargetID: s}
	}
	return model.NodeConfig{
		ChainID:  "chain-1",
		Index:    0,
		Count:    1,
		Location: model.LocationLocal,
		Services: svcs,
	}
}

func newTestNode(cfg model.NodeConfig, cb chain.ProcessCallback, reporter Reporter, hooks Hooks) *Node {
	logger := zap.NewNop()
	return New(cfg, cb, reporter, hooks, logger)
}

func TestExecute_RunsToCompletionAndEmitsEndOfPipeline(t *testing.T) {
	cb := &echoCallback{}
	reporter := &recordingReporter{}
	rh := &recordingHooks{}
	n := newTestNode(baseConfig("a", "b"), cb, reporter, rh.hooks())

	err := n.Execute(context.Background(), &model.Data{Inline: []byte("payload")})

	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, n.Status)
	assert.Contains(t, reporter.statuses(), model.StatusInProgress)
	assert.Contains(t, reporter.statuses(), model.StatusCompleted)
	assert.Contains(t, rh.signals(), model.SignalEndOfPipeline)
}

func TestExecute_BatchesBoundedByBatchSize(t *testing.T) {
	cb := &echoCallback{}
	reporter := &recordingReporter{}
	rh := &recordingHooks{}
	cfg := baseConfig("a", "b", "c", "d", "e")
	n := newTestNode(cfg, cb, reporter, rh.hooks())

	err := n.Execute(context.Background(), &model.Data{Inline: []byte("x")})

	require.NoError(t, err)
	assert.Equal(t, 5, cb.calls)
	require.Len(t, n.Output, 5)
}

func TestExecute_FailureTripsNodeToFailed(t *testing.T) {
	cb := &echoCallback{failSet: map[string]bool{"b": true}}
	reporter := &recordingReporter{}
	rh := &recordingHooks{}
	n := newTestNode(baseConfig("a", "b"), cb, reporter, rh.hooks())

	err := n.Execute(context.Background(), &model.Data{Inline: []byte("x")})

	require.Error(t, err)
	assert.Equal(t, model.StatusFailed, n.Status)
	assert.Contains(t, reporter.statuses(), model.StatusFailed)
}

func TestExecute_LocalHandOff(t *testing.T) {
	cb := &echoCallback{}
	reporter := &recordingReporter{}
	rh := &recordingHooks{}
	cfg := baseConfig("a")
	next := "next-node-id"
	cfg.NextTargetID = &next
	cfg.NextLocation = model.LocationLocal
	n := newTestNode(cfg, cb, reporter, rh.hooks())

	err := n.Execute(context.Background(), &model.Data{Inline: []byte("x")})

	require.NoError(t, err)
	assert.Equal(t, []string{"next-node-id"}, rh.ranLocal)
	assert.False(t, rh.calledRemote)
}

func TestExecute_RemoteHandOff(t *testing.T) {
	cb := &echoCallback{}
	reporter := &recordingReporter{}
	rh := &recordingHooks{}
	cfg := baseConfig("a")
	next := "external-target"
	cfg.NextTargetID = &next
	cfg.NextLocation = model.LocationRemote
	n := newTestNode(cfg, cb, reporter, rh.hooks())

	err := n.Execute(context.Background(), &model.Data{Inline: []byte("x")})

	require.NoError(t, err)
	assert.True(t, rh.calledRemote)
	assert.Empty(t, rh.ranLocal)
}

func TestApplyDeletionPolicy_Persistant(t *testing.T) {
	cb := &echoCallback{}
	reporter := &recordingReporter{}
	rh := &recordingHooks{}
	cfg := baseConfig("a")
	cfg.ChainType = model.Persistant
	n := newTestNode(cfg, cb, reporter, rh.hooks())

	require.NoError(t, n.Execute(context.Background(), &model.Data{Inline: []byte("x")}))

	assert.NotEqual(t, model.StatusDeleted, n.Status)
	assert.NotContains(t, rh.signals(), model.SignalDelete)
}

func TestApplyDeletionPolicy_AutoDelete(t *testing.T) {
	cb := &echoCallback{}
	reporter := &recordingReporter{}
	rh := &recordingHooks{}
	cfg := baseConfig("a")
	cfg.ChainType = model.AutoDelete
	n := newTestNode(cfg, cb, reporter, rh.hooks())

	require.NoError(t, n.Execute(context.Background(), &model.Data{Inline: []byte("x")}))

	assert.Equal(t, model.StatusDeleted, n.Status)
	assert.Contains(t, rh.signals(), model.SignalDelete)
}

func TestApplyDeletionPolicy_DeferredPendingDeletion(t *testing.T) {
	cb := &echoCallback{}
	reporter := &recordingReporter{}
	rh := &recordingHooks{}
	n := newTestNode(baseConfig("a"), cb, reporter, rh.hooks())

	require.NoError(t, n.Execute(context.Background(), &model.Data{Inline: []byte("x")}))

	assert.Equal(t, model.StatusCompleted, n.Status)
	assert.Contains(t, rh.signals(), model.Signal(model.StatusPendingDelete))
}

func TestSuspendThenResume_ForwardsResumePayloadOnly(t *testing.T) {
	cb := &echoCallback{}
	reporter := &recordingReporter{}
	rh := &recordingHooks{}
	n := newTestNode(baseConfig("a", "b", "c", "d"), cb, reporter, rh.hooks())

	n.Enqueue(model.SignalSuspend, nil)
	err := n.Execute(context.Background(), &model.Data{Inline: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuspended, n.Status)
	require.NotNil(t, n.Suspended)

	resumePayload := &model.Data{Inline: []byte("resumed-value")}
	err = n.Resume(context.Background(), resumePayload)
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, n.Status)
	assert.Nil(t, n.Suspended)
	require.Len(t, n.Output, 1)
	assert.Equal(t, resumePayload, n.Output[0])
}

func TestResume_WithoutSuspensionReturnsStateViolation(t *testing.T) {
	cb := &echoCallback{}
	reporter := &recordingReporter{}
	rh := &recordingHooks{}
	n := newTestNode(baseConfig("a"), cb, reporter, rh.hooks())

	err := n.Resume(context.Background(), &model.Data{Inline: []byte("x")})

	require.Error(t, err)
}

func childChainConfig(services ...string) model.ChainConfig {
	cfg := baseConfig(services...)
	return model.ChainConfig{cfg}
}

func TestExecute_RunsChildChainSeriallyBeforeOwnPipeline(t *testing.T) {
	cb := &echoCallback{}
	reporter := &recordingReporter{}
	rh := &recordingHooks{}
	cfg := baseConfig("a")
	childCfg := childChainConfig("child-svc")
	cfg.ChainConfig = &childCfg
	n := newTestNode(cfg, cb, reporter, rh.hooks())

	err := n.Execute(context.Background(), &model.Data{Inline: []byte("x")})
	require.NoError(t, err)

	require.Len(t, rh.childChainCalls, 1)
	assert.Equal(t, childCfg, rh.childChainCalls[0])

	var signals []model.Signal
	for _, rep := range reporter.reports {
		signals = append(signals, rep.signal)
	}
	assert.Contains(t, signals, model.SignalChildChainStarted)
	assert.Contains(t, signals, model.SignalChildChainDone)
}

func TestExecute_ChildChainFailurePreventsOwnPipeline(t *testing.T) {
	cb := &echoCallback{}
	reporter := &recordingReporter{}
	rh := &recordingHooks{childChainErr: fmt.Errorf("child chain boom")}
	cfg := baseConfig("a")
	childCfg := childChainConfig("child-svc")
	cfg.ChainConfig = &childCfg
	n := newTestNode(cfg, cb, reporter, rh.hooks())

	err := n.Execute(context.Background(), &model.Data{Inline: []byte("x")})

	require.Error(t, err)
	assert.Equal(t, model.StatusFailed, n.Status)
	// the node's own pipeline never ran since the child chain aborted execution.
	assert.Equal(t, 0, cb.calls)
}

func TestExecute_ChildChainWithoutHookLogsAndContinues(t *testing.T) {
	cb := &echoCallback{}
	reporter := &recordingReporter{}
	cfg := baseConfig("a")
	childCfg := childChainConfig("child-svc")
	cfg.ChainConfig = &childCfg
	n := newTestNode(cfg, cb, reporter, Hooks{})

	err := n.Execute(context.Background(), &model.Data{Inline: []byte("x")})

	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, n.Status)
}
