// Package node implements the per-node state machine: pre-stage
// injection, batch-of-3 concurrent pipeline dispatch, suspend/resume,
// and hand-off to whatever comes next in the chain.
package node

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaymesh/relay/pkg/chain"
	"github.com/relaymesh/relay/pkg/concurrency"
	"github.com/relaymesh/relay/pkg/errors"
	"github.com/relaymesh/relay/pkg/model"
)

// batchSize bounds how many pipelines a node dispatches concurrently;
// this is the only place in the system where true parallelism occurs.
const batchSize = 3

// Reporter is notified of every status transition a node makes, on both
// the local-signal and global-signal buses. A supervisor wires this to a
// monitoring/reporting agent.
type Reporter interface {
	Report(ctx context.Context, chainID, nodeID string, index, count int, status model.Status, signal model.Signal, payload *model.Data)
}

// Hooks are the external operations a node needs but does not own:
// handing off to the next node, broadcasting pre-stage requests, and
// resolving/offloading blob-backed data.
type Hooks struct {
	RunLocalNode  func(ctx context.Context, nodeID string, data *model.Data) error
	RemoteService func(ctx context.Context, chainID, targetID string, meta *model.PipelineMeta, data *model.Data) error
	EmitGlobal    func(ctx context.Context, signal model.Signal, chainID, nodeID string, payload *model.Data)
	BroadcastPre  func(ctx context.Context, chainID string, services []model.ServiceConfig, data *model.Data) (*model.Data, error)
	ResolveBlob   func(ctx context.Context, data *model.Data) (*model.Data, error)
	OffloadBlob   func(ctx context.Context, data *model.Data) (*model.Data, error)

	// RunChildChain deploys and starts a node's nested child chain
	// (NodeConfig.ChainConfig). It reports completion through
	// onComplete: synchronously, before returning, for a serial child
	// (ChildMode other than "parallel" on the child chain's root node);
	// later, from a background goroutine, for a "parallel" one — so the
	// node can emit CHILD_CHAIN_COMPLETED without blocking its own
	// pipeline. The returned error reflects only what the caller should
	// wait for: a serial child's failure, or a synchronous deploy
	// failure for either mode.
	RunChildChain func(ctx context.Context, parentChainID string, chainCfg model.ChainConfig, data *model.Data, onComplete func(error)) error
}

// Node is one position in a chain: a set of pipelines run concurrently
// in batches of three against one data value, reporting status as it
// moves through its state machine.
type Node struct {
	ID        string
	Config    model.NodeConfig
	Pipelines []*chain.Pipeline

	mu        sync.Mutex
	execMu    sync.Mutex // serializes Execute calls, mirroring the per-node execution queue
	Status    model.Status
	Progress  float64
	Output    []*model.Data
	Dependencies []string // reserved; never read by the scheduler

	Suspended *model.SuspendedState

	statusMgr *StatusManager
	reporting Reporter
	hooks     Hooks
	limiter   *concurrency.Limiter
	breaker   *concurrency.CircuitBreaker
	logger    *zap.Logger
}

// New creates a node bound to a callback used to build its pipelines.
func New(cfg model.NodeConfig, cb chain.ProcessCallback, reporting Reporter, hooks Hooks, logger *zap.Logger) *Node {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	pipelines := make([]*chain.Pipeline, len(cfg.Services))
	for i, svc := range cfg.Services {
		pipelines[i] = chain.NewPipeline(cfg.ChainID, []model.ServiceConfig{svc}, cb)
	}

	n := &Node{
		ID:        uuid.NewString(),
		Config:    cfg,
		Pipelines: pipelines,
		Status:    model.StatusPending,
		statusMgr: NewStatusManager(),
		reporting: reporting,
		hooks:     hooks,
		limiter:   concurrency.NewLimiter(batchSize),
		breaker:   concurrency.NewCircuitBreaker(5, 0),
		logger:    logger,
	}

	if len(cfg.SignalQueue) > 0 {
		n.statusMgr.EnqueueSignals(cfg.SignalQueue, nil)
	}

	return n
}

func (n *Node) setStatus(ctx context.Context, status model.Status, signal model.Signal, payload *model.Data) {
	n.mu.Lock()
	n.Status = status
	n.mu.Unlock()
	if n.reporting != nil {
		n.reporting.Report(ctx, n.Config.ChainID, n.ID, n.Config.Index, n.Config.Count, status, signal, payload)
	}
}

// Execute runs the node to completion or suspension. Calls are
// serialized per node: a caller invoking Execute again before a prior
// call returns blocks until it is free, mirroring a per-node execution
// queue.
func (n *Node) Execute(ctx context.Context, data *model.Data) error {
	n.execMu.Lock()
	defer n.execMu.Unlock()

	if n.hooks.ResolveBlob != nil && data.IsBlobBacked() {
		resolved, err := n.hooks.ResolveBlob(ctx, data)
		if err != nil {
			return n.fail(ctx, fmt.Errorf("resolving blob-backed input: %w", err))
		}
		data = resolved
	}

	resuming := n.Suspended != nil

	if !resuming && len(n.Config.Pre) > 0 {
		merged, err := n.runPre(ctx, data)
		if err != nil {
			return n.fail(ctx, err)
		}
		data = merged
	}

	n.setStatus(ctx, model.StatusInProgress, "", nil)

	if resuming {
		return n.resumeAndTerminate(ctx)
	}

	if err := n.startChildChain(ctx, data); err != nil {
		return n.fail(ctx, err)
	}

	return n.runBatches(ctx, data)
}

// startChildChain deploys and starts this node's nested child chain, if
// NodeConfig.ChainConfig is present. A serial child blocks until it
// completes (or fails, aborting this node's own execution); a parallel
// child starts in the background and this node's pipeline proceeds
// without waiting. Either way CHILD_CHAIN_STARTED is reported before
// the child is started and CHILD_CHAIN_COMPLETED once it finishes.
func (n *Node) startChildChain(ctx context.Context, data *model.Data) error {
	if n.Config.ChainConfig == nil {
		return nil
	}
	if n.hooks.RunChildChain == nil {
		n.logger.Warn("child chain configured but no RunChildChain hook installed",
			zap.String("node_id", n.ID))
		return nil
	}

	n.applyExternalSignal(ctx, model.SignalChildChainStarted, nil)

	onComplete := func(err error) {
		if err != nil {
			n.logger.Warn("child chain failed", zap.String("node_id", n.ID), zap.Error(err))
		}
		n.applyExternalSignal(ctx, model.SignalChildChainDone, nil)
	}

	return n.hooks.RunChildChain(ctx, n.Config.ChainID, *n.Config.ChainConfig, data, onComplete)
}

// runPre executes the first non-empty inner list of Pre and merges its
// result into data per the normative pre-stage merge rule. Deeper
// entries in Pre are reserved and never consulted.
func (n *Node) runPre(ctx context.Context, data *model.Data) (*model.Data, error) {
	for _, services := range n.Config.Pre {
		if len(services) == 0 {
			continue
		}
		if n.hooks.BroadcastPre == nil {
			return nil, errors.New(errors.KindStateViolation, n.Config.ChainID, n.ID, "pre-stage configured but no BroadcastPre hook installed", nil)
		}
		preResult, err := n.hooks.BroadcastPre(ctx, n.Config.ChainID, services, data)
		if err != nil {
			return nil, errors.New(errors.KindTransport, n.Config.ChainID, n.ID, "pre-stage broadcast failed", err)
		}
		return data.MergePre(preResult), nil
	}
	return data, nil
}

// runBatches drives the generator-as-cursor: pipelines run in groups of
// batchSize, draining the signal queue after each group. A NODE_SUSPEND
// signal stashes the cursor and returns without error; otherwise the
// node runs to NODE_COMPLETED.
func (n *Node) runBatches(ctx context.Context, data *model.Data) error {
	total := len(n.Pipelines)
	for cursor := 0; cursor < total; cursor += batchSize {
		if n.breaker.IsOpen() {
			return n.fail(ctx, fmt.Errorf("circuit breaker open after repeated processor failures"))
		}
		end := cursor + batchSize
		if end > total {
			end = total
		}
		batchIdx := make([]int, 0, end-cursor)
		for i := cursor; i < end; i++ {
			batchIdx = append(batchIdx, i)
		}

		if err := n.runBatch(ctx, batchIdx, data); err != nil {
			return n.fail(ctx, err)
		}

		if suspended, err := n.processSignals(ctx, cursor+len(batchIdx), batchIdx, data); err != nil {
			return err
		} else if suspended {
			return nil
		}
	}

	return n.terminate(ctx, data)
}

// runBatch dispatches one group of pipelines concurrently, bounded by
// the node's limiter, and appends their outputs in index order.
func (n *Node) runBatch(ctx context.Context, indices []int, data *model.Data) error {
	type result struct {
		index int
		out   *model.Data
		err   error
	}
	results := make(chan result, len(indices))

	var wg sync.WaitGroup
	for _, idx := range indices {
		wg.Add(1)
		pipeline := n.Pipelines[idx]
		go func(idx int, p *chain.Pipeline) {
			defer wg.Done()
			if err := n.limiter.Acquire(ctx); err != nil {
				results <- result{index: idx, err: err}
				return
			}
			out, err := p.Run(ctx, data, chain.Payload{})
			if err != nil {
				n.breaker.RecordFailure()
				n.limiter.Release()
				results <- result{index: idx, err: err}
				return
			}
			n.breaker.RecordSuccess()
			n.limiter.Release()
			results <- result{index: idx, out: out}
		}(idx, pipeline)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	ordered := make([]*model.Data, len(indices))
	var firstErr error
	received := 0
	for r := range results {
		received++
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		pos := r.index - indices[0]
		if pos >= 0 && pos < len(ordered) {
			ordered[pos] = r.out
		}
	}

	if firstErr != nil {
		return firstErr
	}

	n.mu.Lock()
	n.Output = append(n.Output, ordered...)
	n.Progress += float64(received) / float64(len(n.Pipelines))
	if n.Progress > 1 {
		n.Progress = 1
	}
	n.mu.Unlock()

	return nil
}

// processSignals drains the status manager after a batch completes. It
// reports true if the node suspended and the caller should stop.
func (n *Node) processSignals(ctx context.Context, cursor int, lastBatch []int, data *model.Data) (bool, error) {
	for _, qs := range n.statusMgr.drain() {
		switch qs.signal {
		case model.SignalSuspend:
			n.mu.Lock()
			n.Suspended = &model.SuspendedState{
				Cursor:         cursor,
				BatchPipelines: lastBatch,
				Data:           data,
			}
			n.mu.Unlock()
			n.setStatus(ctx, model.StatusSuspended, model.SignalSuspend, nil)
			return true, nil
		case model.SignalResume:
			n.logger.Warn("NODE_RESUME received while node is running, ignoring",
				zap.String("node_id", n.ID))
		default:
			n.applyExternalSignal(ctx, qs.signal, qs.payload)
		}
	}
	return false, nil
}

// resumeAndTerminate implements the resume path: the generator is never
// re-entered. The stashed suspension state's resume payload (or, absent
// one, its last data) becomes the sole forwarded result.
func (n *Node) resumeAndTerminate(ctx context.Context) error {
	n.mu.Lock()
	suspended := n.Suspended
	n.mu.Unlock()
	if suspended == nil {
		return errors.New(errors.KindStateViolation, n.Config.ChainID, n.ID, "resume requested with no suspension state", nil)
	}

	resumeData := suspended.ResumePayload
	if resumeData == nil {
		resumeData = suspended.Data
	}

	n.mu.Lock()
	n.Output = []*model.Data{resumeData}
	n.Suspended = nil
	n.mu.Unlock()

	return n.terminate(ctx, resumeData)
}

// Resume consumes a NODE_RESUME signal's payload, clearing suspension
// and re-entering Execute with the new data as the sole forwarded
// result.
func (n *Node) Resume(ctx context.Context, payload *model.Data) error {
	n.mu.Lock()
	if n.Suspended == nil {
		n.mu.Unlock()
		n.logger.Warn("NODE_RESUME with no suspension state, ignoring", zap.String("node_id", n.ID))
		return errors.New(errors.KindStateViolation, n.Config.ChainID, n.ID, "not suspended", errors.ErrNotSuspended)
	}
	n.Suspended.ResumePayload = payload
	n.mu.Unlock()

	n.setStatus(ctx, model.StatusInProgress, model.SignalResume, payload)
	return n.Execute(ctx, nil)
}

// applyExternalSignal handles signals that pass straight through to the
// reporting bus without altering node control flow.
func (n *Node) applyExternalSignal(ctx context.Context, signal model.Signal, payload *model.Data) {
	n.mu.Lock()
	status := n.Status
	n.mu.Unlock()
	n.setStatus(ctx, status, signal, payload)
}

// terminate forwards the node's canonical result (its first pipeline's
// output) to whatever comes next, then applies the deletion policy.
func (n *Node) terminate(ctx context.Context, fallback *model.Data) error {
	n.mu.Lock()
	n.Progress = 1
	var canonical *model.Data
	if len(n.Output) > 0 && n.Output[0] != nil {
		canonical = n.Output[0]
	} else {
		canonical = fallback
	}
	n.mu.Unlock()

	n.setStatus(ctx, model.StatusCompleted, "", nil)

	if n.hooks.OffloadBlob != nil {
		offloaded, err := n.hooks.OffloadBlob(ctx, canonical)
		if err == nil {
			canonical = offloaded
		} else {
			n.logger.Warn("blob offload failed, forwarding inline", zap.Error(err))
		}
	}

	if err := n.moveToNextNode(ctx, canonical); err != nil {
		return err
	}

	n.applyDeletionPolicy(ctx)
	return nil
}

// moveToNextNode implements the three-way hand-off: a local next node is
// run directly, a remote one goes through remoteServiceCallback, and the
// absence of either reports NODE_END_OF_PIPELINE.
func (n *Node) moveToNextNode(ctx context.Context, data *model.Data) error {
	cfg := n.Config

	switch {
	case cfg.NextTargetID != nil && cfg.NextLocation == model.LocationLocal:
		if n.hooks.RunLocalNode == nil {
			return errors.New(errors.KindTransport, cfg.ChainID, n.ID, "no local dispatcher installed", nil)
		}
		if err := n.hooks.RunLocalNode(ctx, *cfg.NextTargetID, data); err != nil {
			n.logger.Error("local hand-off failed", zap.Error(err))
			return errors.New(errors.KindTransport, cfg.ChainID, n.ID, "local hand-off failed", err)
		}
		return nil

	case cfg.NextTargetID != nil:
		if n.hooks.RemoteService == nil {
			return errors.New(errors.KindTransport, cfg.ChainID, n.ID, "no remote service hook installed", nil)
		}
		if err := n.hooks.RemoteService(ctx, cfg.ChainID, *cfg.NextTargetID, cfg.NextMeta, data); err != nil {
			n.logger.Error("remote hand-off failed, proceeding best-effort", zap.Error(err))
			return errors.New(errors.KindTransport, cfg.ChainID, n.ID, "remote hand-off failed", err)
		}
		return nil

	default:
		if n.hooks.EmitGlobal != nil {
			n.hooks.EmitGlobal(ctx, model.SignalEndOfPipeline, cfg.ChainID, n.ID, data)
		}
		return nil
	}
}

// applyDeletionPolicy decides what happens to this node once its result
// has been handed off: Persistant nodes are kept, AutoDelete nodes are
// deleted immediately, and everything else is deferred via a
// NODE_PENDING_DELETION global signal.
func (n *Node) applyDeletionPolicy(ctx context.Context) {
	switch {
	case n.Config.ChainType.Has(model.Persistant):
		return
	case n.Config.ChainType.Has(model.AutoDelete):
		n.setStatus(ctx, model.StatusDeleted, model.SignalDelete, nil)
		if n.hooks.EmitGlobal != nil {
			n.hooks.EmitGlobal(ctx, model.SignalDelete, n.Config.ChainID, n.ID, nil)
		}
	default:
		if n.hooks.EmitGlobal != nil {
			n.hooks.EmitGlobal(ctx, model.Signal(model.StatusPendingDelete), n.Config.ChainID, n.ID, nil)
		}
	}
}

// fail transitions the node to NODE_FAILED, reporting that status on
// both signal buses; the cause is logged and returned wrapped.
func (n *Node) fail(ctx context.Context, cause error) error {
	n.breaker.RecordFailure()
	wrapped := errors.New(errors.KindProcessorFailure, n.Config.ChainID, n.ID, "node execution failed", cause)
	n.logger.Error("node failed", zap.Error(wrapped))
	n.setStatus(ctx, model.StatusFailed, "", nil)
	return wrapped
}

// Enqueue delivers a control signal to the node's FIFO queue. Signals
// are only observed between pipeline batches, never mid-batch.
func (n *Node) Enqueue(signal model.Signal, payload *model.Data) {
	n.statusMgr.Enqueue(signal, payload)
}
