package monitor

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relaymesh/relay/pkg/message"
	"github.com/relaymesh/relay/pkg/model"
)

type fakeSink struct {
	mu       sync.Mutex
	reports  []*message.Report
	err      error
}

func (f *fakeSink) Publish(ctx context.Context, r *message.Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.reports = append(f.reports, r)
	return nil
}

func TestReportingAgent_PublishesToLocalBus(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var received []Event
	bus.Subscribe(func(ctx context.Context, ev Event) error {
		received = append(received, ev)
		return nil
	})

	r := NewReportingAgent(bus, nil, nil, "", nil, zap.NewNop())
	r.Report(context.Background(), "c1", "n1", 0, 1, model.StatusCompleted, model.SignalEndOfPipeline, nil)

	require.Len(t, received, 1)
	assert.Equal(t, model.StatusCompleted, received[0].Status)
	assert.Equal(t, "n1", received[0].NodeID)
}

func TestReportingAgent_SkipsHTTPWhenMonitoringHostIsLocal(t *testing.T) {
	bus := NewBus(zap.NewNop())
	http := &fakeBroadcaster{}
	r := NewReportingAgent(bus, http, nil, "local", nil, zap.NewNop())

	r.Report(context.Background(), "c1", "n1", 0, 1, model.StatusCompleted, "", nil)

	assert.Zero(t, http.calls)
}

func TestReportingAgent_BroadcastsHTTPWhenMonitoringHostSet(t *testing.T) {
	bus := NewBus(zap.NewNop())
	http := &fakeBroadcaster{}
	r := NewReportingAgent(bus, http, nil, "https://monitor.example", nil, zap.NewNop())

	r.Report(context.Background(), "c1", "n1", 0, 1, model.StatusCompleted, "", nil)

	assert.Equal(t, 1, http.calls)
}

func TestReportingAgent_PublishesToNATSSink(t *testing.T) {
	bus := NewBus(zap.NewNop())
	sink := &fakeSink{}
	r := NewReportingAgent(bus, nil, sink, "", nil, zap.NewNop())

	r.Report(context.Background(), "c1", "n1", 0, 1, model.StatusInProgress, model.SignalRun, nil)

	require.Len(t, sink.reports, 1)
	assert.Equal(t, "c1", sink.reports[0].ChainID)
	assert.Equal(t, string(model.StatusInProgress), sink.reports[0].Status)
	assert.Equal(t, string(model.SignalRun), sink.reports[0].Signal)
}

func TestReportingAgent_OnFailureCalledOnlyForFailedStatus(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var captured []error
	onFailure := func(err error, tags map[string]string) {
		captured = append(captured, err)
	}
	r := NewReportingAgent(bus, nil, nil, "", onFailure, zap.NewNop())

	r.Report(context.Background(), "c1", "n1", 0, 1, model.StatusCompleted, "", nil)
	assert.Empty(t, captured)

	r.Report(context.Background(), "c1", "n1", 0, 1, model.StatusFailed, "", nil)
	require.Len(t, captured, 1)
	assert.Contains(t, captured[0].Error(), "n1")
}

func TestReportingAgent_NATSFailureIsLoggedNotPropagated(t *testing.T) {
	bus := NewBus(zap.NewNop())
	sink := &fakeSink{err: fmt.Errorf("broker unavailable")}
	r := NewReportingAgent(bus, nil, sink, "", nil, zap.NewNop())

	assert.NotPanics(t, func() {
		r.Report(context.Background(), "c1", "n1", 0, 1, model.StatusCompleted, "", nil)
	})
}
