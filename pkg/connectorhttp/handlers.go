// Package connectorhttp exposes a Supervisor's chain/node lifecycle over
// HTTP: the routes another connector's Broadcaster calls, plus the
// routes an external caller uses to create and drive a chain.
package connectorhttp

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/relaymesh/relay/pkg/model"
	"github.com/relaymesh/relay/pkg/supervisor"
)

// Server wires a Supervisor to an http.ServeMux.
type Server struct {
	sup    *supervisor.Supervisor
	logger *zap.Logger
}

// New creates a connector HTTP server for sup.
func New(sup *supervisor.Supervisor, logger *zap.Logger) *Server {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &Server{sup: sup, logger: logger}
}

// Routes registers every route this connector serves onto mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/chain/create-and-start", s.handleCreateAndStart)
	mux.HandleFunc("/node/pre", s.handlePre)
	mux.HandleFunc("/node/communicate/setup", s.handleSetup)
	mux.HandleFunc("/node/communicate/run", s.handleRun)
	mux.HandleFunc("/node/communicate/notify", s.handleNotify)
	mux.HandleFunc("/node/communicate/enqueue-status", s.handleEnqueueStatus)
	mux.HandleFunc("/node/resume", s.handleResume)
	mux.HandleFunc("/node/suspend", s.handleSuspend)
	mux.HandleFunc("/chain/status", s.handleStatus)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Warn("connector request failed", zap.Error(err))
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

type createAndStartRequest struct {
	Configs        model.ChainConfig `json:"configs"`
	MonitoringHost string            `json:"monitoringHost"`
	Data           *model.Data       `json:"data"`
}

type createAndStartResponse struct {
	ChainID string `json:"chainId"`
}

func (s *Server) handleCreateAndStart(w http.ResponseWriter, r *http.Request) {
	var req createAndStartRequest
	if !s.decode(w, r, &req) {
		return
	}

	chainID, err := s.sup.DeployChain(r.Context(), req.Configs, req.MonitoringHost, "", req.Data)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.sup.StartChain(r.Context(), chainID, req.Data); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, createAndStartResponse{ChainID: chainID})
}

type preRequest struct {
	ChainID  string                `json:"chainId"`
	Services []model.ServiceConfig `json:"services"`
	Data     *model.Data           `json:"data"`
}

type preResponse struct {
	Data *model.Data `json:"data"`
}

func (s *Server) handlePre(w http.ResponseWriter, r *http.Request) {
	var req preRequest
	if !s.decode(w, r, &req) {
		return
	}

	out, err := s.sup.Pre(r.Context(), req.ChainID, req.Services, req.Data)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, preResponse{Data: out})
}

type setupRequest struct {
	ChainID       string            `json:"chainId"`
	RemoteConfigs model.ChainConfig `json:"remoteConfigs"`
}

func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	var req setupRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.sup.HandleSetup(r.Context(), req.ChainID, req.RemoteConfigs); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, nil)
}

type runRequest struct {
	ChainID  string              `json:"chainId"`
	TargetID string              `json:"targetId"`
	Meta     *model.PipelineMeta `json:"meta,omitempty"`
	Data     *model.Data         `json:"data"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.sup.HandleRun(r.Context(), req.ChainID, req.TargetID, req.Data); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, nil)
}

type notifyRequest struct {
	ChainID string       `json:"chainId"`
	Signal  model.Signal `json:"signal"`
	Payload struct {
		TargetID string      `json:"targetId"`
		HostURI  string      `json:"hostURI"`
		Data     *model.Data `json:"data,omitempty"`
	} `json:"payload"`
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.sup.HandleNotify(r.Context(), req.ChainID, req.Payload.TargetID, req.Payload.HostURI, req.Signal, req.Payload.Data); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, nil)
}

type enqueueStatusRequest struct {
	ChainID string `json:"chainId"`
	Signal  string `json:"signal"`
	Payload struct {
		TargetID string `json:"targetId"`
		HostURI  string `json:"hostURI"`
	} `json:"payload"`
}

func (s *Server) handleEnqueueStatus(w http.ResponseWriter, r *http.Request) {
	var req enqueueStatusRequest
	if !s.decode(w, r, &req) {
		return
	}

	s.sup.HandleEnqueueStatus(r.Context(), req.ChainID, req.Payload.TargetID, model.Signal(req.Signal))
	s.writeJSON(w, http.StatusAccepted, nil)
}

type resumeRequest struct {
	ChainID  string      `json:"chainId"`
	TargetID string      `json:"targetId"`
	Payload  *model.Data `json:"payload"`
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if !s.decode(w, r, &req) {
		return
	}

	if !s.sup.EnqueueLocal(req.ChainID, req.TargetID, model.SignalResume, req.Payload) {
		s.writeError(w, http.StatusNotFound, errNodeNotOwned(req.ChainID, req.TargetID))
		return
	}
	s.writeJSON(w, http.StatusAccepted, nil)
}

func (s *Server) handleSuspend(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if !s.decode(w, r, &req) {
		return
	}

	if !s.sup.EnqueueLocal(req.ChainID, req.TargetID, model.SignalSuspend, nil) {
		s.writeError(w, http.StatusNotFound, errNodeNotOwned(req.ChainID, req.TargetID))
		return
	}
	s.writeJSON(w, http.StatusAccepted, nil)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	chainID := r.URL.Query().Get("chainId")
	if chainID == "" {
		s.writeError(w, http.StatusBadRequest, errMissingChainID)
		return
	}
	s.writeJSON(w, http.StatusOK, s.sup.MonitorAgent().Snapshot(chainID))
}
