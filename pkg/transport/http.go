package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	sdkerrors "github.com/relaymesh/relay/pkg/errors"
	"github.com/relaymesh/relay/pkg/model"
)

const (
	pathSetup         = "/node/communicate/setup"
	pathPre           = "/node/pre"
	pathRun           = "/node/communicate/run"
	pathEnqueueStatus = "/node/communicate/enqueue-status"
)

// HTTPBroadcaster is the default connector shim's implementation of the
// broadcast/resolver contract: every call is an HTTP POST to a host
// derived by HostResolver. Failures come back to the caller as typed
// errors (config-invalid, routing-miss or transport), some of them also
// logged here.
type HTTPBroadcaster struct {
	client   *http.Client
	resolver HostResolver
	tracer   trace.Tracer
	logger   *zap.Logger
}

// NewHTTPBroadcaster creates a broadcaster using a default HTTP client
// and the given resolver, or DefaultHostResolver when resolver is nil.
func NewHTTPBroadcaster(resolver HostResolver, logger *zap.Logger) *HTTPBroadcaster {
	if resolver == nil {
		resolver = DefaultHostResolver{}
	}
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &HTTPBroadcaster{
		client:   &http.Client{Timeout: 30 * time.Second},
		resolver: resolver,
		tracer:   otel.Tracer("github.com/relaymesh/relay/pkg/transport"),
		logger:   logger,
	}
}

func (b *HTTPBroadcaster) post(ctx context.Context, spanName, baseURL, path string, body any) ([]byte, error) {
	ctx, span := b.tracer.Start(ctx, spanName)
	defer span.End()

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s%s: %w", baseURL, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("POST %s%s: status %d: %s", baseURL, path, resp.StatusCode, string(data))
	}

	return data, nil
}

// setupRequest is the body posted to pathSetup.
type setupRequest struct {
	ChainID       string           `json:"chainId"`
	RemoteConfigs model.ChainConfig `json:"remoteConfigs"`
}

// BroadcastSetup posts the remote partition of a chain's configuration
// to the host resolved from its first service's target.
func (b *HTTPBroadcaster) BroadcastSetup(ctx context.Context, chainID string, configs model.ChainConfig) error {
	if len(configs) == 0 || len(configs[0].Services) == 0 {
		return sdkerrors.New(sdkerrors.KindConfigInvalid, chainID, "", "cannot broadcast setup for empty chain config", nil)
	}

	host, err := b.resolver.Resolve(configs[0].Services[0].TargetID, configs[0].Services[0].Meta)
	if err != nil {
		b.logger.Warn("dropping broadcast setup: unresolvable host", zap.String("chain_id", chainID), zap.Error(err))
		return sdkerrors.New(sdkerrors.KindRoutingMiss, chainID, "", "unresolvable host for setup broadcast", err)
	}

	_, err = b.post(ctx, "broadcast_setup", host, pathSetup, setupRequest{ChainID: chainID, RemoteConfigs: configs})
	if err != nil {
		return sdkerrors.New(sdkerrors.KindTransport, chainID, "", "broadcast setup failed", err)
	}
	return nil
}

// preRequest is the body posted to pathPre.
type preRequest struct {
	ChainID  string                 `json:"chainId"`
	Services []model.ServiceConfig  `json:"services"`
	Data     *model.Data            `json:"data"`
}

type preResponse struct {
	Data *model.Data `json:"data"`
}

// BroadcastPre posts a pre-stage request and returns the parsed
// response as the pre-stage result data.
func (b *HTTPBroadcaster) BroadcastPre(ctx context.Context, chainID string, services []model.ServiceConfig, data *model.Data) (*model.Data, error) {
	if len(services) == 0 {
		return nil, sdkerrors.New(sdkerrors.KindConfigInvalid, chainID, "", "cannot broadcast pre with no services", nil)
	}

	host, err := b.resolver.Resolve(services[0].TargetID, services[0].Meta)
	if err != nil {
		return nil, sdkerrors.New(sdkerrors.KindRoutingMiss, chainID, "", "unresolvable host for pre broadcast", err)
	}

	raw, err := b.post(ctx, "broadcast_pre", host, pathPre, preRequest{ChainID: chainID, Services: services, Data: data})
	if err != nil {
		return nil, sdkerrors.New(sdkerrors.KindTransport, chainID, "", "broadcast pre failed", err)
	}

	var resp preResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, sdkerrors.New(sdkerrors.KindTransport, chainID, "", "invalid pre response", err)
	}
	return resp.Data, nil
}

// runRequest is the body posted to pathRun.
type runRequest struct {
	ChainID  string              `json:"chainId"`
	TargetID string              `json:"targetId"`
	Meta     *model.PipelineMeta `json:"meta,omitempty"`
	Data     *model.Data         `json:"data"`
}

// RemoteService hands a node's output to a remote target over HTTP.
func (b *HTTPBroadcaster) RemoteService(ctx context.Context, chainID, targetID string, meta *model.PipelineMeta, data *model.Data) error {
	host, err := b.resolver.Resolve(targetID, meta)
	if err != nil {
		b.logger.Warn("dropping remote hand-off: unresolvable host",
			zap.String("chain_id", chainID), zap.String("target_id", targetID), zap.Error(err))
		return sdkerrors.New(sdkerrors.KindRoutingMiss, chainID, "", "unresolvable host for remote service", err)
	}

	_, err = b.post(ctx, "remote_service", host, pathRun, runRequest{ChainID: chainID, TargetID: targetID, Meta: meta, Data: data})
	if err != nil {
		b.logger.Warn("remote hand-off transport error, proceeding best-effort",
			zap.String("chain_id", chainID), zap.String("target_id", targetID), zap.Error(err))
		return sdkerrors.New(sdkerrors.KindTransport, chainID, "", "remote service call failed", err)
	}
	return nil
}

// statusRequest is the body posted to pathEnqueueStatus.
type statusRequest struct {
	ChainID string `json:"chainId"`
	Signal  string `json:"signal"`
	Payload struct {
		TargetID string `json:"targetId"`
		HostURI  string `json:"hostURI"`
	} `json:"payload"`
}

// NodeStatusBroadcast forwards a node's signal/status to a remote
// monitoring host.
func (b *HTTPBroadcaster) NodeStatusBroadcast(ctx context.Context, chainID string, signal model.Signal, targetID, hostURI string) error {
	req := statusRequest{ChainID: chainID, Signal: string(signal)}
	req.Payload.TargetID = targetID
	req.Payload.HostURI = hostURI

	_, err := b.post(ctx, "node_status_broadcast", hostURI, pathEnqueueStatus, req)
	if err != nil {
		b.logger.Warn("node status broadcast failed",
			zap.String("chain_id", chainID), zap.String("target_id", targetID), zap.Error(err))
		return sdkerrors.New(sdkerrors.KindTransport, chainID, "", "node status broadcast failed", err)
	}
	return nil
}
