package monitor

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/relaymesh/relay/pkg/model"
)

// workflowEntry is the last known status of one node within a chain.
type workflowEntry struct {
	Index      int
	Count      int
	LastStatus model.Status
}

// LocalNodeResolver resolves a (chainID, targetID) pair to a locally
// owned node and enqueues a signal on it. Implemented by a supervisor.
type LocalNodeResolver interface {
	EnqueueLocal(chainID, targetID string, signal model.Signal, payload *model.Data) bool
}

// Agent is the process-wide monitoring singleton: it keeps a per-chain
// map of every node's last known status, fed by subscribing to the
// local-signal bus, and routes inbound suspend/resume notifications to
// either a local node or a remote monitoring host.
type Agent struct {
	mu        sync.Mutex
	workflows map[string]map[string]*workflowEntry

	resolver LocalNodeResolver
	http     NodeStatusBroadcaster
	logger   *zap.Logger
}

// NewAgent creates a monitoring agent subscribed to bus.
func NewAgent(bus *Bus, resolver LocalNodeResolver, http NodeStatusBroadcaster, logger *zap.Logger) *Agent {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	a := &Agent{
		workflows: make(map[string]map[string]*workflowEntry),
		resolver:  resolver,
		http:      http,
		logger:    logger,
	}
	bus.Subscribe(a.handle)
	return a
}

func (a *Agent) handle(ctx context.Context, ev Event) error {
	// Chain-level events (no node id) and signal-only events (no status)
	// leave the last known statuses unchanged.
	if ev.NodeID == "" || ev.Status == "" {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	chainMap, ok := a.workflows[ev.ChainID]
	if !ok {
		chainMap = make(map[string]*workflowEntry)
		a.workflows[ev.ChainID] = chainMap
	}
	chainMap[ev.NodeID] = &workflowEntry{Index: ev.Index, Count: ev.Count, LastStatus: ev.Status}
	return nil
}

// Snapshot returns a copy of the last known status of every node in a
// chain, keyed by node id.
func (a *Agent) Snapshot(chainID string) map[string]model.Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]model.Status)
	for nodeID, entry := range a.workflows[chainID] {
		out[nodeID] = entry.LastStatus
	}
	return out
}

// Notify handles an inbound suspend/resume/notify request for
// (chainID, targetID). When hostURI is empty or "local" it resolves and
// enqueues on a locally owned node, logging a routing miss if none is
// found; otherwise it forwards the request to the remote host as
// CHAIN_NOTIFIED.
func (a *Agent) Notify(ctx context.Context, chainID, targetID, hostURI string, signal model.Signal, payload *model.Data) error {
	if hostURI == "" || hostURI == "local" {
		if a.resolver == nil || !a.resolver.EnqueueLocal(chainID, targetID, signal, payload) {
			a.logger.Warn("routing miss: no local node for inbound notify",
				zap.String("chain_id", chainID), zap.String("target_id", targetID))
		}
		return nil
	}

	if a.http == nil {
		a.logger.Warn("no HTTP broadcaster installed, dropping remote notify",
			zap.String("chain_id", chainID), zap.String("target_id", targetID), zap.String("host_uri", hostURI))
		return nil
	}
	return a.http.NodeStatusBroadcast(ctx, chainID, model.SignalChainNotified, targetID, hostURI)
}
