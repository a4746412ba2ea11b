// Package chain implements the Processor/Pipeline layer: processors
// delegate digestion of a data value to an injected callback, and a
// pipeline folds a sequence of processors left to right.
package chain

import (
	"context"

	"go.uber.org/zap"

	"github.com/relaymesh/relay/pkg/model"
)

// HostResolverFunc looks ahead to the host a target would be routed to,
// without actually dispatching anything. It travels to callbacks as
// Payload.NextNodeResolver; Processor.Digest passes it through unchanged.
type HostResolverFunc func(targetID string, meta *model.PipelineMeta) (string, error)

// Payload is handed to a ProcessCallback/PreProcessCallback for one
// digestion step.
type Payload struct {
	TargetID         string
	Meta             *model.PipelineMeta
	ChainID          string
	Data             *model.Data
	NextTargetID     *string
	NextNodeResolver HostResolverFunc
	PreviousTargetID *string
}

// ProcessCallback performs the actual transform for one service target.
// Implementations are injected by the supervisor; the default
// connector shim never implements one itself.
type ProcessCallback interface {
	Digest(ctx context.Context, payload Payload) (*model.Data, error)
}

// PreProcessCallback performs the pre-stage transform broadcast before a
// node's main pipeline runs.
type PreProcessCallback interface {
	Digest(ctx context.Context, payload Payload) (*model.Data, error)
}

// Processor wraps one ServiceConfig target and delegates digestion to an
// injected callback.
type Processor struct {
	Config   model.ServiceConfig
	Callback ProcessCallback
	logger   *zap.Logger
}

// NewProcessor creates a processor bound to a callback implementation.
func NewProcessor(cfg model.ServiceConfig, cb ProcessCallback) *Processor {
	logger, _ := zap.NewProduction()
	return &Processor{Config: cfg, Callback: cb, logger: logger}
}

// Digest runs the processor's callback against the given data, under the
// routing context described by the hint's remaining fields; TargetID,
// Meta, ChainID and Data are filled in here. A processor with no callback
// registered is tolerated: it logs and returns an empty value rather
// than digesting anything.
func (p *Processor) Digest(ctx context.Context, chainID string, data *model.Data, hint Payload) (*model.Data, error) {
	if p.Callback == nil {
		if p.logger != nil {
			p.logger.Warn("no callback registered for processor, returning empty value",
				zap.String("chain_id", chainID),
				zap.String("target_id", p.Config.TargetID))
		}
		return &model.Data{}, nil
	}

	payload := hint
	payload.TargetID = p.Config.TargetID
	payload.Meta = p.Config.Meta
	payload.ChainID = chainID
	payload.Data = data
	return p.Callback.Digest(ctx, payload)
}
