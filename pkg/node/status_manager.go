package node

import (
	"sync"

	"github.com/relaymesh/relay/pkg/model"
)

// queuedSignal is one entry in a node's FIFO control queue.
type queuedSignal struct {
	signal  model.Signal
	payload *model.Data
}

// StatusManager is a node's FIFO signal queue. Signals enqueued while a
// node is mid-batch are drained between batches, never mid-pipeline.
type StatusManager struct {
	mu    sync.Mutex
	queue []queuedSignal
}

// NewStatusManager creates an empty queue.
func NewStatusManager() *StatusManager {
	return &StatusManager{}
}

// Enqueue appends one signal, with an optional payload (used by
// NODE_RESUME to carry the replacement data).
func (m *StatusManager) Enqueue(signal model.Signal, payload *model.Data) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, queuedSignal{signal: signal, payload: payload})
}

// EnqueueSignals appends several signals sharing one resume payload, the
// shape setConfig uses when a NodeConfig arrives with a pre-populated
// SignalQueue.
func (m *StatusManager) EnqueueSignals(signals []model.Signal, resumePayload *model.Data) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range signals {
		m.queue = append(m.queue, queuedSignal{signal: s, payload: resumePayload})
	}
}

// drain removes and returns every queued signal in FIFO order.
func (m *StatusManager) drain() []queuedSignal {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil
	}
	drained := m.queue
	m.queue = nil
	return drained
}
