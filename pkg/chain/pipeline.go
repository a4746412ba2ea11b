package chain

import (
	"context"
	"fmt"

	"github.com/relaymesh/relay/pkg/errors"
	"github.com/relaymesh/relay/pkg/model"
)

// Pipeline is an ordered list of processors run left to right over one
// data value, aborting on the first failure.
type Pipeline struct {
	ChainID    string
	Processors []*Processor
}

// NewPipeline builds a pipeline from service configs sharing one callback.
func NewPipeline(chainID string, services []model.ServiceConfig, cb ProcessCallback) *Pipeline {
	procs := make([]*Processor, len(services))
	for i, svc := range services {
		procs[i] = NewProcessor(svc, cb)
	}
	return &Pipeline{ChainID: chainID, Processors: procs}
}

// Run folds digest over every processor in order, passing each
// processor's output as the next processor's input. hint carries the
// routing context (next target/resolver, previous target) shared by
// every step of this run.
func (p *Pipeline) Run(ctx context.Context, data *model.Data, hint Payload) (*model.Data, error) {
	current := data
	var previous string
	for i, proc := range p.Processors {
		stepHint := hint
		if previous != "" {
			prev := previous
			stepHint.PreviousTargetID = &prev
		}
		out, err := proc.Digest(ctx, p.ChainID, current, stepHint)
		if err != nil {
			return nil, errors.New(errors.KindProcessorFailure, p.ChainID, "", fmt.Sprintf("processor %d (%s) failed", i, proc.Config.TargetID), err)
		}
		current = out
		previous = proc.Config.TargetID
	}
	return current, nil
}
