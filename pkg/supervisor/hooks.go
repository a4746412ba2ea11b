package supervisor

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaymesh/relay/pkg/model"
	"github.com/relaymesh/relay/pkg/monitor"
	"github.com/relaymesh/relay/pkg/node"
)

// newHooks wires a node's external operations back into this supervisor:
// local hand-off runs inline on this process's node map, remote hand-off
// and pre-stage broadcasting go through the configured Broadcaster, and
// blob resolve/offload go through the configured blob client.
func (s *Supervisor) newHooks() node.Hooks {
	return node.Hooks{
		RunLocalNode:  s.RunLocalNode,
		RemoteService: s.remoteService,
		EmitGlobal:    s.emitGlobal,
		BroadcastPre:  s.broadcastPre,
		ResolveBlob:   s.resolveBlob,
		OffloadBlob:   s.offloadBlob,
		RunChildChain: s.runChildChain,
	}
}

// RunLocalNode satisfies node.Hooks.RunLocalNode: it looks up a locally
// owned node by id and runs it asynchronously, mirroring the
// fire-and-forget local hand-off the node package expects.
func (s *Supervisor) RunLocalNode(ctx context.Context, nodeID string, data *model.Data) error {
	s.mu.Lock()
	n, ok := s.nodes[nodeID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("local node %s not found", nodeID)
	}

	go func() {
		bgCtx := context.Background()
		if err := n.Execute(bgCtx, data); err != nil {
			s.logger.Warn("local node execution failed", zap.String("node_id", nodeID), zap.Error(err))
		}
	}()
	return nil
}

func (s *Supervisor) remoteService(ctx context.Context, chainID, targetID string, meta *model.PipelineMeta, data *model.Data) error {
	if s.broadcaster == nil {
		return fmt.Errorf("no broadcaster installed for remote hand-off")
	}
	return s.broadcaster.RemoteService(ctx, chainID, targetID, meta, data)
}

func (s *Supervisor) broadcastPre(ctx context.Context, chainID string, services []model.ServiceConfig, data *model.Data) (*model.Data, error) {
	if s.broadcaster == nil {
		return nil, fmt.Errorf("no broadcaster installed for pre-stage broadcast")
	}
	return s.broadcaster.BroadcastPre(ctx, chainID, services, data)
}

// emitGlobal satisfies node.Hooks.EmitGlobal. It always publishes the
// signal onto the local bus (so the monitoring agent's per-chain status
// map observes it), and additionally removes the node from this
// supervisor's map on NODE_DELETE.
func (s *Supervisor) emitGlobal(ctx context.Context, signal model.Signal, chainID, nodeID string, payload *model.Data) {
	s.bus.Publish(ctx, monitor.Event{ChainID: chainID, NodeID: nodeID, Signal: signal, Payload: payload})

	if signal == model.SignalDelete {
		s.mu.Lock()
		delete(s.nodes, nodeID)
		for key, id := range s.targetIndex {
			if id == nodeID {
				delete(s.targetIndex, key)
			}
		}
		s.mu.Unlock()
	}
}

// EnqueueLocal satisfies monitor.LocalNodeResolver: it resolves targetID
// within chainID to a locally owned node, preferring the
// (chainID,targetID) service index and falling back to a direct node id
// match, then enqueues the signal on it.
func (s *Supervisor) EnqueueLocal(chainID, targetID string, signal model.Signal, payload *model.Data) bool {
	s.mu.Lock()
	nodeID, ok := s.targetIndex[chainID+"|"+targetID]
	if !ok {
		if _, direct := s.nodes[targetID]; direct {
			nodeID, ok = targetID, true
		}
	}
	n := s.nodes[nodeID]
	s.mu.Unlock()

	if !ok || n == nil {
		return false
	}

	if signal == model.SignalResume {
		_ = n.Resume(context.Background(), payload)
		return true
	}

	n.Enqueue(signal, payload)
	return true
}

func (s *Supervisor) offloadBlob(ctx context.Context, data *model.Data) (*model.Data, error) {
	if data == nil || s.blobClient == nil || data.IsBlobBacked() || len(data.Inline) <= s.blobThreshold {
		return data, nil
	}
	url, err := s.blobClient.UploadResult(ctx, uuid.NewString()+".bin", data.Inline, nil)
	if err != nil {
		return data, err
	}
	return &model.Data{BlobRef: &model.BlobReference{URL: url, SizeBytes: len(data.Inline)}}, nil
}

func (s *Supervisor) resolveBlob(ctx context.Context, data *model.Data) (*model.Data, error) {
	if !data.IsBlobBacked() || s.blobClient == nil {
		return data, nil
	}
	result, err := s.blobClient.DownloadResult(ctx, data.BlobRef.URL)
	if err != nil {
		return nil, err
	}
	return &model.Data{Inline: result}, nil
}
