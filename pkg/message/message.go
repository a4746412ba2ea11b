// Package message defines the wire shape published on the reporting
// stream: a compact status report mirroring what a ReportingAgent emits
// on the local/global signal buses.
package message

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
)

// Report is the JSON payload published to the reporting stream each time
// a node's status changes. It mirrors the {status,signal?,payload?} shape
// a ReportingAgent emits, tagged with enough routing information for a
// monitoring host to update its per-chain workflow map.
type Report struct {
	ChainID   string          `json:"chainId"`
	NodeID    string          `json:"nodeId"`
	Index     int             `json:"index"`
	Count     int             `json:"count"`
	Status    string          `json:"status"`
	Signal    string          `json:"signal,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt string          `json:"createdAt"`

	natsMsg *nats.Msg `json:"-"`
}

// NewReport creates a Report stamped with the current time.
func NewReport(chainID, nodeID string, index, count int, status string) *Report {
	return &Report{
		ChainID:   chainID,
		NodeID:    nodeID,
		Index:     index,
		Count:     count,
		Status:    status,
		CreatedAt: time.Now().Format(time.RFC3339),
	}
}

// WithSignal attaches the signal that triggered this report, if any.
func (r *Report) WithSignal(signal string) *Report {
	r.Signal = signal
	return r
}

// WithPayload attaches an arbitrary JSON payload to the report.
func (r *Report) WithPayload(payload json.RawMessage) *Report {
	r.Payload = payload
	return r
}

// ToBytes serializes the report to JSON.
func (r *Report) ToBytes() ([]byte, error) {
	return json.Marshal(r)
}

// FromBytes deserializes a report from JSON bytes.
func FromBytes(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// FromNATSMsg converts a NATS message into a Report, retaining the
// underlying message for acknowledgment.
func FromNATSMsg(natsMsg *nats.Msg) (*Report, error) {
	r, err := FromBytes(natsMsg.Data)
	if err != nil {
		return nil, err
	}
	r.natsMsg = natsMsg
	return r, nil
}

// Ack acknowledges the report to JetStream.
func (r *Report) Ack() error {
	if r.natsMsg == nil {
		return nil
	}
	return r.natsMsg.Ack()
}

// Nak negatively acknowledges the report, requesting redelivery.
func (r *Report) Nak() error {
	if r.natsMsg == nil {
		return nil
	}
	return r.natsMsg.Nak()
}
