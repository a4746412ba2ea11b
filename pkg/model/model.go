// Package model defines the data shapes shared by every orchestrator
// component: chain and node configuration, the opaque data value carried
// between nodes, and the control/status vocabulary nodes speak.
package model

import (
	"encoding/json"
	"fmt"

	"github.com/relaymesh/relay/pkg/errors"
)

// Location says whether a node runs on the local supervisor or must be
// handed off to a remote one.
type Location string

const (
	LocationLocal  Location = "local"
	LocationRemote Location = "remote"
)

// ChildMode describes how a node's derived chain relates to its parent.
type ChildMode string

const (
	// ChildModeNormal is the default: no derived chain.
	ChildModeNormal ChildMode = "normal"
	// ChildModeParallel starts a child chain without blocking the
	// parent's own pipeline execution.
	ChildModeParallel ChildMode = "parallel"
	// ChildModePre marks a node whose chain exists only to produce
	// pre-stage data for another node.
	ChildModePre ChildMode = "pre"
)

// ChainType is a bitmask of deletion-policy hints evaluated after a node
// hands its output to the next node.
type ChainType uint32

const (
	// Persistant nodes are kept after hand-off; never deleted.
	Persistant ChainType = 1 << 0
	// AutoDelete nodes are deleted immediately after hand-off when not
	// Persistant.
	AutoDelete ChainType = 1 << 1

	// bits above AutoDelete are reserved for future chain-type flags and
	// are never consulted by the scheduler.
)

// Has reports whether the given bit is set.
func (c ChainType) Has(bit ChainType) bool {
	return c&bit != 0
}

// Status is a node's position in its state machine.
type Status string

const (
	StatusPending     Status = "NODE_PENDING"
	StatusInProgress  Status = "NODE_IN_PROGRESS"
	StatusSuspended   Status = "NODE_SUSPENDED"
	StatusCompleted   Status = "NODE_COMPLETED"
	StatusFailed      Status = "NODE_FAILED"
	StatusDeleted     Status = "NODE_DELETED"
	StatusPendingDelete Status = "NODE_PENDING_DELETION"
)

// Signal is a control message delivered through a node's FIFO queue, or a
// chain/monitoring lifecycle event reported on the signal buses.
type Signal string

const (
	SignalSuspend           Signal = "NODE_SUSPEND"
	SignalResume            Signal = "NODE_RESUME"
	SignalRun               Signal = "NODE_RUN"
	SignalSetup             Signal = "NODE_SETUP"
	SignalDelete            Signal = "NODE_DELETE"
	SignalEndOfPipeline     Signal = "NODE_END_OF_PIPELINE"
	SignalChainDeployed     Signal = "CHAIN_DEPLOYED"
	SignalChainNotified     Signal = "CHAIN_NOTIFIED"
	SignalChildChainStarted Signal = "CHILD_CHAIN_STARTED"
	SignalChildChainDone    Signal = "CHILD_CHAIN_COMPLETED"
)

// BlobReference points at a payload uploaded to blob storage because it
// exceeded the inline threshold for one hop.
type BlobReference struct {
	URL       string `json:"url"`
	SizeBytes int    `json:"sizeBytes"`
}

// Data is the opaque value processors digest and nodes pass between
// themselves. At most one of Inline or BlobRef is populated; a value
// built by MergePre carries only Origin and AdditionalData. A node
// resolves BlobRef back to Inline before running its pipelines.
type Data struct {
	Inline         []byte         `json:"inline,omitempty"`
	BlobRef        *BlobReference `json:"blobRef,omitempty"`
	Origin         *Data          `json:"origin,omitempty"`
	AdditionalData []*Data        `json:"additionalData,omitempty"`
}

// IsBlobBacked reports whether the data must be resolved from blob
// storage before use.
func (d *Data) IsBlobBacked() bool {
	return d != nil && d.BlobRef != nil
}

// MergePre applies the normative pre-stage merge rule: if additional data
// already exists, the new pre-result is appended to it; otherwise the
// original data moves to Origin and a fresh AdditionalData slice is
// created holding only the new pre-result.
func (d *Data) MergePre(preResult *Data) *Data {
	if d != nil && len(d.AdditionalData) > 0 {
		d.AdditionalData = append(d.AdditionalData, preResult)
		return d
	}
	return &Data{
		Origin:         d,
		AdditionalData: []*Data{preResult},
	}
}

// PipelineMeta carries an optional resolver hint and opaque per-target
// configuration for a downstream service call.
type PipelineMeta struct {
	Resolver      string          `json:"resolver,omitempty"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
}

// ServiceConfig names one processor target and its optional metadata.
type ServiceConfig struct {
	TargetID string        `json:"targetId"`
	Meta     *PipelineMeta `json:"meta,omitempty"`
}

// NodeConfig describes one position within a chain.
type NodeConfig struct {
	ChainID        string          `json:"chainId"`
	Index          int             `json:"index"`
	Count          int             `json:"count"`
	Location       Location        `json:"location"`
	Services       []ServiceConfig `json:"services"`
	MonitoringHost string          `json:"monitoringHost"`
	ChainType      ChainType       `json:"chainType"`
	ChildMode      ChildMode       `json:"childMode,omitempty"`
	Pre            [][]ServiceConfig `json:"pre,omitempty"`
	ChainConfig    *ChainConfig    `json:"chainConfig,omitempty"`
	RootConfig     *NodeConfig     `json:"rootConfig,omitempty"`
	NextTargetID   *string         `json:"nextTargetId,omitempty"`
	NextMeta       *PipelineMeta   `json:"nextMeta,omitempty"`
	// NextLocation says whether NextTargetID names a locally owned
	// node's id (local) or an external service target to resolve and
	// call over HTTP (remote). Empty when there is no next node.
	NextLocation Location `json:"nextLocation,omitempty"`
	SignalQueue  []Signal `json:"signalQueue,omitempty"`
}

// Validate checks the structural invariants a NodeConfig must satisfy
// before a chain can be deployed.
func (c *NodeConfig) Validate() error {
	if c.ChainID == "" {
		return errors.New(errors.KindConfigInvalid, "", "", "node config missing chainId", nil)
	}
	if c.Index < 0 {
		return errors.New(errors.KindConfigInvalid, c.ChainID, "", fmt.Sprintf("node index %d is negative", c.Index), nil)
	}
	if c.Count <= 0 {
		return errors.New(errors.KindConfigInvalid, c.ChainID, "", "node count must be positive", nil)
	}
	if c.Index >= c.Count {
		return errors.New(errors.KindConfigInvalid, c.ChainID, "", fmt.Sprintf("node index %d out of range for count %d", c.Index, c.Count), nil)
	}
	if len(c.Services) == 0 {
		return errors.New(errors.KindConfigInvalid, c.ChainID, "", "node config has no services", nil)
	}
	if c.Location != LocationLocal && c.Location != LocationRemote {
		return errors.New(errors.KindConfigInvalid, c.ChainID, "", fmt.Sprintf("unknown location %q", c.Location), nil)
	}
	return nil
}

// ChainConfig is the ordered list of node configurations making up one
// chain. Index must be dense and unique; Count must equal its length.
type ChainConfig []NodeConfig

// Validate checks dense/unique indexing and consistent count across the
// whole chain.
func (c ChainConfig) Validate() error {
	if len(c) == 0 {
		return errors.New(errors.KindConfigInvalid, "", "", "chain config is empty", nil)
	}
	seen := make(map[int]bool, len(c))
	for i := range c {
		nc := &c[i]
		if err := nc.Validate(); err != nil {
			return err
		}
		if nc.Count != len(c) {
			return errors.New(errors.KindConfigInvalid, nc.ChainID, "", fmt.Sprintf("node count %d does not match chain length %d", nc.Count, len(c)), nil)
		}
		if seen[nc.Index] {
			return errors.New(errors.KindConfigInvalid, nc.ChainID, "", fmt.Sprintf("duplicate node index %d", nc.Index), nil)
		}
		seen[nc.Index] = true
	}
	for i := 0; i < len(c); i++ {
		if !seen[i] {
			return errors.New(errors.KindConfigInvalid, c[0].ChainID, "", fmt.Sprintf("missing node index %d, indices must be dense", i), nil)
		}
	}
	return nil
}

// ChainRelation is what a supervisor keeps per chain it has deployed:
// the original configuration, the id of its local root node (if any),
// and a stashed data reference used by startPendingChain.
type ChainRelation struct {
	Config     ChainConfig `json:"config"`
	RootNodeID *string     `json:"rootNodeId,omitempty"`
	DataRef    *Data       `json:"dataRef,omitempty"`
}

// SuspendedState is stashed on a node when it receives NODE_SUSPEND
// between pipeline batches, and consulted on NODE_RESUME.
type SuspendedState struct {
	Cursor         int    `json:"cursor"`
	BatchPipelines []int  `json:"batchPipelines"`
	Data           *Data  `json:"data"`
	ResumePayload  *Data  `json:"resumePayload,omitempty"`
}
