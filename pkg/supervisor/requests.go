package supervisor

import (
	"context"

	"github.com/relaymesh/relay/pkg/chain"
	sdkerrors "github.com/relaymesh/relay/pkg/errors"
	"github.com/relaymesh/relay/pkg/model"
	"github.com/relaymesh/relay/pkg/monitor"
)

// HandleRun implements the /node/communicate/run route: a remote
// supervisor handing its output directly to a node owned by this one.
// The target node runs synchronously with data as its input.
func (s *Supervisor) HandleRun(ctx context.Context, chainID, targetID string, data *model.Data) error {
	s.mu.Lock()
	nodeID, ok := s.targetIndex[chainID+"|"+targetID]
	n := s.nodes[nodeID]
	s.mu.Unlock()
	if !ok || n == nil {
		return sdkerrors.New(sdkerrors.KindRoutingMiss, chainID, "", "no local node for target "+targetID, sdkerrors.ErrNodeNotFound)
	}
	return n.Execute(ctx, data)
}

// HandleSetup implements the /node/communicate/setup route: it accepts a
// remote partition of a chain's configuration and instantiates the local
// nodes it describes without starting any of them.
func (s *Supervisor) HandleSetup(ctx context.Context, chainID string, configs model.ChainConfig) error {
	_, err := s.prepareChainDistribution(chainID, configs)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if _, exists := s.chains[chainID]; !exists {
		s.chains[chainID] = &model.ChainRelation{Config: configs}
	}
	s.mu.Unlock()
	return nil
}

// HandleNotify implements the /node/communicate/notify route: an inbound
// suspend/resume/notify request for a node this supervisor may or may
// not own.
func (s *Supervisor) HandleNotify(ctx context.Context, chainID, targetID, hostURI string, signal model.Signal, payload *model.Data) error {
	return s.monitorAgent.Notify(ctx, chainID, targetID, hostURI, signal, payload)
}

// HandleEnqueueStatus implements the /node/communicate/enqueue-status
// route: a remote monitoring host pushing a status/signal update onto
// this supervisor's local-signal bus, for observers subscribed here.
func (s *Supervisor) HandleEnqueueStatus(ctx context.Context, chainID, nodeID string, signal model.Signal) {
	s.bus.Publish(ctx, monitor.Event{ChainID: chainID, NodeID: nodeID, Signal: signal})
}

// Pre implements the /node/pre route for a pre-stage request targeting
// this host: it runs the requested services as a one-off pipeline and
// returns their result without touching the chain/node maps.
func (s *Supervisor) Pre(ctx context.Context, chainID string, services []model.ServiceConfig, data *model.Data) (*model.Data, error) {
	p := chain.NewPipeline(chainID, services, s.cb)
	return p.Run(ctx, data, chain.Payload{})
}
