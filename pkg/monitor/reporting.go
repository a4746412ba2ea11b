package monitor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/relaymesh/relay/pkg/message"
	"github.com/relaymesh/relay/pkg/model"
)

// NodeStatusBroadcaster is the HTTP global-signal sink: it posts the
// signal that accompanied a node's status change, with the node id as
// target, to a remote monitoring host. The status value, index and count
// are not part of that request.
type NodeStatusBroadcaster interface {
	NodeStatusBroadcast(ctx context.Context, chainID string, signal model.Signal, targetID, hostURI string) error
}

// GlobalSink is an additive global-signal sink, e.g. a NATS reporting
// stream. Disabling it changes no externally-specified behavior.
type GlobalSink interface {
	Publish(ctx context.Context, r *message.Report) error
}

// ReportingAgent is attached to a node and emits its status on the
// local-signal bus and, when configured, on one or more global-signal
// sinks.
type ReportingAgent struct {
	bus            *Bus
	http           NodeStatusBroadcaster
	nats           GlobalSink
	monitoringHost string
	logger         *zap.Logger
	onFailure      func(err error, tags map[string]string)
}

// NewReportingAgent creates a reporting agent for one node. http and nats
// may be nil to disable that sink; onFailure may be nil to skip
// additional failure capture (e.g. Sentry).
func NewReportingAgent(bus *Bus, http NodeStatusBroadcaster, nats GlobalSink, monitoringHost string, onFailure func(error, map[string]string), logger *zap.Logger) *ReportingAgent {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &ReportingAgent{
		bus:            bus,
		http:           http,
		nats:           nats,
		monitoringHost: monitoringHost,
		onFailure:      onFailure,
		logger:         logger,
	}
}

// Report satisfies node.Reporter: it is called on every status
// transition and fans the event out to the local bus and both global
// sinks.
func (r *ReportingAgent) Report(ctx context.Context, chainID, nodeID string, index, count int, status model.Status, signal model.Signal, payload *model.Data) {
	ev := Event{
		ChainID: chainID,
		NodeID:  nodeID,
		Index:   index,
		Count:   count,
		Status:  status,
		Signal:  signal,
		Payload: payload,
	}
	r.bus.Publish(ctx, ev)

	if r.http != nil && r.monitoringHost != "" && r.monitoringHost != "local" {
		if err := r.http.NodeStatusBroadcast(ctx, chainID, signal, nodeID, r.monitoringHost); err != nil {
			r.logger.Warn("global-signal HTTP broadcast failed",
				zap.String("chain_id", chainID), zap.String("node_id", nodeID), zap.Error(err))
		}
	}

	if r.nats != nil {
		rep := message.NewReport(chainID, nodeID, index, count, string(status)).WithSignal(string(signal))
		if err := r.nats.Publish(ctx, rep); err != nil {
			r.logger.Warn("global-signal NATS publish failed",
				zap.String("chain_id", chainID), zap.String("node_id", nodeID), zap.Error(err))
		}
	}

	if status == model.StatusFailed && r.onFailure != nil {
		r.onFailure(fmt.Errorf("node %s failed in chain %s", nodeID, chainID), map[string]string{
			"chain_id": chainID,
			"node_id":  nodeID,
		})
	}
}
