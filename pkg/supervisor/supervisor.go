// Package supervisor implements the per-host orchestrator: it owns
// every node running on this host, deploys and starts chains, and is
// the sole mutator of its node/chain maps.
package supervisor

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relaymesh/relay/pkg/chain"
	sdkerrors "github.com/relaymesh/relay/pkg/errors"
	"github.com/relaymesh/relay/pkg/model"
	"github.com/relaymesh/relay/pkg/monitor"
	"github.com/relaymesh/relay/pkg/node"
	"github.com/relaymesh/relay/pkg/storage"
)

// Broadcaster is everything a supervisor needs from the transport layer.
type Broadcaster interface {
	BroadcastSetup(ctx context.Context, chainID string, configs model.ChainConfig) error
	BroadcastPre(ctx context.Context, chainID string, services []model.ServiceConfig, data *model.Data) (*model.Data, error)
	RemoteService(ctx context.Context, chainID, targetID string, meta *model.PipelineMeta, data *model.Data) error
	NodeStatusBroadcast(ctx context.Context, chainID string, signal model.Signal, targetID, hostURI string) error
}

// Supervisor is a process-wide singleton keyed by a string uid. It owns
// every node running on this host (nodes are never shared across
// supervisors) plus the chain/child-chain bookkeeping needed to deploy
// and propagate completion of chains rooted here.
type Supervisor struct {
	uid string

	mu          sync.Mutex
	nodes       map[string]*node.Node        // node.ID -> node
	targetIndex map[string]string            // chainID|targetID -> node.ID
	chains      map[string]*model.ChainRelation
	childChains map[string][]string // parent chainID -> child chainIDs
	parentOf    map[string]string   // child chainID -> parent chainID

	cb            chain.ProcessCallback
	broadcaster   Broadcaster
	bus           *monitor.Bus
	monitorAgent  *monitor.Agent
	natsSink      monitor.GlobalSink
	onFailure     func(err error, tags map[string]string)
	blobClient    storage.BlobStorageClient
	blobThreshold int

	logger *zap.Logger
}

// Config bundles everything a Supervisor needs from the outside world.
// NATSSink and OnFailure are both optional: nil disables the additive
// NATS global-signal sink and failure-capture callback respectively.
type Config struct {
	UID           string
	Callback      chain.ProcessCallback
	Broadcaster   Broadcaster
	NATSSink      monitor.GlobalSink
	OnFailure     func(err error, tags map[string]string)
	BlobClient    storage.BlobStorageClient
	BlobThreshold int
	Logger        *zap.Logger
}

// New creates a supervisor for the given uid. Each uid should map to
// exactly one Supervisor within a process (per-process registry keyed by
// uid, per the "@supervisor:<uid>" singleton model).
func New(cfg Config) *Supervisor {
	if cfg.Logger == nil {
		cfg.Logger, _ = zap.NewProduction()
	}
	if cfg.BlobThreshold <= 0 {
		cfg.BlobThreshold = 500 * 1024
	}

	s := &Supervisor{
		uid:           cfg.UID,
		nodes:         make(map[string]*node.Node),
		targetIndex:   make(map[string]string),
		chains:        make(map[string]*model.ChainRelation),
		childChains:   make(map[string][]string),
		parentOf:      make(map[string]string),
		cb:            cfg.Callback,
		broadcaster:   cfg.Broadcaster,
		bus:           monitor.NewBus(cfg.Logger),
		natsSink:      cfg.NATSSink,
		onFailure:     cfg.OnFailure,
		blobClient:    cfg.BlobClient,
		blobThreshold: cfg.BlobThreshold,
		logger:        cfg.Logger,
	}
	s.monitorAgent = monitor.NewAgent(s.bus, s, cfg.Broadcaster, cfg.Logger)
	return s
}

// UID returns the supervisor's registry key, "@supervisor:<uid>".
func (s *Supervisor) UID() string {
	return fmt.Sprintf("@supervisor:%s", s.uid)
}

// MonitorAgent exposes the monitoring singleton for inbound notify
// routing (suspend/resume/notify HTTP routes).
func (s *Supervisor) MonitorAgent() *monitor.Agent {
	return s.monitorAgent
}

func (s *Supervisor) newChainID() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%s-%d-%s", s.uid, time.Now().UnixMilli(), hex.EncodeToString(buf))
}

// CreateChain stamps every node config with a shared chain id, dense
// index/count, and a default monitoring host, then validates the whole
// chain before it can be distributed.
func (s *Supervisor) CreateChain(configs model.ChainConfig, monitoringHost string) (string, model.ChainConfig, error) {
	if len(configs) == 0 {
		return "", nil, sdkerrors.New(sdkerrors.KindConfigInvalid, "", "", "chain config is empty", nil)
	}

	chainID := s.newChainID()
	out := make(model.ChainConfig, len(configs))
	copy(out, configs)
	for i := range out {
		out[i].ChainID = chainID
		out[i].Index = i
		out[i].Count = len(out)
		if out[i].MonitoringHost == "" {
			out[i].MonitoringHost = monitoringHost
		}
	}

	if err := out.Validate(); err != nil {
		return "", nil, err
	}

	return chainID, out, nil
}

// prepareChainDistribution partitions a chain's nodes by location,
// creating and registering every locally hosted node and wiring each
// node's next-hop fields (local node id, or remote target/meta) based on
// the location of the node that follows it.
func (s *Supervisor) prepareChainDistribution(chainID string, configs model.ChainConfig) (model.ChainConfig, error) {
	localIDs := make([]string, len(configs))

	s.mu.Lock()
	for i := range configs {
		if configs[i].Location != model.LocationLocal {
			continue
		}
		n := node.New(configs[i], s.cb, s.newReportingAgent(configs[i].MonitoringHost), s.newHooks(), s.logger)
		s.nodes[n.ID] = n
		localIDs[i] = n.ID
		for _, svc := range configs[i].Services {
			s.targetIndex[chainID+"|"+svc.TargetID] = n.ID
		}
	}
	s.mu.Unlock()

	for i := range configs {
		if i == len(configs)-1 {
			continue
		}
		next := configs[i+1]
		if next.Location == model.LocationLocal {
			configs[i].NextLocation = model.LocationLocal
			id := localIDs[i+1]
			configs[i].NextTargetID = &id
		} else {
			if len(next.Services) == 0 {
				return nil, sdkerrors.New(sdkerrors.KindConfigInvalid, chainID, "", "remote node has no services to route to", nil)
			}
			configs[i].NextLocation = model.LocationRemote
			target := next.Services[0].TargetID
			configs[i].NextTargetID = &target
			configs[i].NextMeta = next.Services[0].Meta
		}
	}

	// re-apply updated configs onto the already-created local nodes so
	// their hand-off fields reflect the distribution decision above.
	s.mu.Lock()
	for i := range configs {
		if configs[i].Location != model.LocationLocal {
			continue
		}
		if n, ok := s.nodes[localIDs[i]]; ok {
			n.Config = configs[i]
		}
	}
	s.mu.Unlock()

	return configs, nil
}

// DeployChain creates, distributes, and registers a chain, broadcasting
// its remote partition (if any) and recording a parent/child link when
// deployed on behalf of another chain's node.
func (s *Supervisor) DeployChain(ctx context.Context, configs model.ChainConfig, monitoringHost string, parentChainID string, dataRef *model.Data) (string, error) {
	chainID, configs, err := s.CreateChain(configs, monitoringHost)
	if err != nil {
		return "", err
	}

	configs, err = s.prepareChainDistribution(chainID, configs)
	if err != nil {
		return "", err
	}

	remote := make(model.ChainConfig, 0)
	for _, c := range configs {
		if c.Location == model.LocationRemote {
			remote = append(remote, c)
		}
	}
	if len(remote) > 0 && s.broadcaster != nil {
		if err := s.broadcaster.BroadcastSetup(ctx, chainID, remote); err != nil {
			s.logger.Warn("broadcast setup failed, remote partition may not be ready", zap.String("chain_id", chainID), zap.Error(err))
		}
	}

	var rootNodeID *string
	if len(configs) > 0 && configs[0].Location == model.LocationLocal {
		s.mu.Lock()
		id := s.targetIndex[chainID+"|"+configs[0].Services[0].TargetID]
		s.mu.Unlock()
		if id != "" {
			rootNodeID = &id
		}
	}

	rel := &model.ChainRelation{Config: configs, RootNodeID: rootNodeID, DataRef: dataRef}

	s.mu.Lock()
	s.chains[chainID] = rel
	if parentChainID != "" {
		s.childChains[parentChainID] = append(s.childChains[parentChainID], chainID)
		s.parentOf[chainID] = parentChainID
	}
	s.mu.Unlock()

	s.bus.Publish(ctx, monitor.Event{ChainID: chainID, Status: "", Signal: model.SignalChainDeployed})

	return chainID, nil
}

// StartChain runs the local root node of an already deployed chain.
func (s *Supervisor) StartChain(ctx context.Context, chainID string, data *model.Data) error {
	s.mu.Lock()
	rel, ok := s.chains[chainID]
	s.mu.Unlock()
	if !ok {
		return sdkerrors.New(sdkerrors.KindRoutingMiss, chainID, "", "chain not found", sdkerrors.ErrChainNotFound)
	}
	if rel.RootNodeID == nil {
		return sdkerrors.New(sdkerrors.KindRoutingMiss, chainID, "", "chain has no local root node", nil)
	}

	s.mu.Lock()
	n, ok := s.nodes[*rel.RootNodeID]
	s.mu.Unlock()
	if !ok {
		return sdkerrors.New(sdkerrors.KindRoutingMiss, chainID, *rel.RootNodeID, "root node not found", sdkerrors.ErrNodeNotFound)
	}

	return n.Execute(ctx, data)
}

// StartPendingChain starts a chain previously deployed with a stashed
// data reference. A root node configured with ChildMode "parallel" is
// started without blocking the caller; any other mode runs to
// completion (or suspension) before returning. onComplete, if non-nil,
// is invoked with the chain's outcome: synchronously for a serial
// chain, or from the background goroutine for a parallel one.
func (s *Supervisor) StartPendingChain(ctx context.Context, chainID string, onComplete func(error)) error {
	s.mu.Lock()
	rel, ok := s.chains[chainID]
	s.mu.Unlock()
	if !ok {
		return sdkerrors.New(sdkerrors.KindRoutingMiss, chainID, "", "chain not found", sdkerrors.ErrChainNotFound)
	}

	childMode := model.ChildModeNormal
	if len(rel.Config) > 0 {
		childMode = rel.Config[0].ChildMode
	}

	if childMode == model.ChildModeParallel {
		s.bus.Publish(ctx, monitor.Event{ChainID: chainID, Signal: model.SignalChildChainStarted})
		go func() {
			bgCtx := context.Background()
			err := s.StartChain(bgCtx, chainID, rel.DataRef)
			if err != nil {
				s.logger.Warn("parallel child chain failed", zap.String("chain_id", chainID), zap.Error(err))
			}
			s.bus.Publish(bgCtx, monitor.Event{ChainID: chainID, Signal: model.SignalChildChainDone})
			s.propagateCompletion(chainID)
			if onComplete != nil {
				onComplete(err)
			}
		}()
		return nil
	}

	err := s.StartChain(ctx, chainID, rel.DataRef)
	s.propagateCompletion(chainID)
	if onComplete != nil {
		onComplete(err)
	}
	if err != nil {
		return sdkerrors.New(sdkerrors.KindProcessorFailure, chainID, "", "serial child chain failed", err)
	}
	return nil
}

// runChildChain implements node.Hooks.RunChildChain: it deploys a
// node's nested ChainConfig as a child of parentChainID, stashes data
// as the child's pending-run payload, and starts it via
// StartPendingChain so the serial/parallel branch above governs whether
// this call blocks.
func (s *Supervisor) runChildChain(ctx context.Context, parentChainID string, chainCfg model.ChainConfig, data *model.Data, onComplete func(error)) error {
	if len(chainCfg) == 0 {
		return sdkerrors.New(sdkerrors.KindConfigInvalid, parentChainID, "", "child chain config is empty", nil)
	}

	monitoringHost := chainCfg[0].MonitoringHost

	childChainID, err := s.DeployChain(ctx, chainCfg, monitoringHost, parentChainID, data)
	if err != nil {
		return err
	}

	return s.StartPendingChain(ctx, childChainID, onComplete)
}

// propagateCompletion records that a child chain finished; parent/child
// bookkeeping is observational only, there is no scheduler behavior
// beyond the serial/parallel branch already taken in StartPendingChain.
func (s *Supervisor) propagateCompletion(chainID string) {
	s.mu.Lock()
	parent, ok := s.parentOf[chainID]
	s.mu.Unlock()
	if ok {
		s.logger.Debug("child chain completed", zap.String("chain_id", chainID), zap.String("parent_chain_id", parent))
	}
}

func (s *Supervisor) newReportingAgent(monitoringHost string) *monitor.ReportingAgent {
	return monitor.NewReportingAgent(s.bus, s.broadcaster, s.natsSink, monitoringHost, s.onFailure, s.logger)
}
