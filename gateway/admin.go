package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/voxgate/voxgate/registry"
)

// registerRequest is the body of the agent registration HTTP call (spec
// §6: "Agent registration (agent -> gateway, HTTP). Register(agentId,
// endpoint, capabilities, workflowId)").
type registerRequest struct {
	AgentID      string   `json:"agentId"`
	Endpoint     string   `json:"endpoint"`
	WorkflowID   string   `json:"workflowId"`
	VoicePreset  string   `json:"voicePreset"`
	Routing      bool     `json:"routing"`
	Verification bool     `json:"verificationRequired"`
	ToolScopes   []string `json:"toolScopes"`
}

type heartbeatRequest struct {
	AgentID string `json:"agentId"`
}

type deregisterRequest struct {
	AgentID string `json:"agentId"`
}

// AdminHandler mounts the agent-facing registration HTTP surface on top of
// a Registry. cmd/gateway mounts it alongside the client-facing WebSocket
// upgrade handler on the same process, matching the teacher's
// single-process mux-of-handlers shape (example/cmd/assistant/http.go)
// without any DSL-generated transport glue, since this is a hand-written
// three-endpoint API rather than a goa service.
type AdminHandler struct {
	registry *registry.Registry
}

// NewAdminHandler builds an AdminHandler over reg.
func NewAdminHandler(reg *registry.Registry) *AdminHandler {
	return &AdminHandler{registry: reg}
}

// Mount registers the admin endpoints on mux under /agents.
func (h *AdminHandler) Mount(mux *http.ServeMux) {
	mux.HandleFunc("POST /agents/register", h.handleRegister)
	mux.HandleFunc("POST /agents/heartbeat", h.handleHeartbeat)
	mux.HandleFunc("POST /agents/deregister", h.handleDeregister)
}

func (h *AdminHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed register request", http.StatusBadRequest)
		return
	}
	if req.AgentID == "" || req.Endpoint == "" {
		http.Error(w, "agentId and endpoint are required", http.StatusBadRequest)
		return
	}
	card := registry.Card{
		AgentID:  req.AgentID,
		Endpoint: req.Endpoint,
		Capabilities: registry.Capabilities{
			Routing:              req.Routing,
			VerificationRequired: req.Verification,
			ToolScopes:           req.ToolScopes,
		},
		WorkflowID:  req.WorkflowID,
		VoicePreset: req.VoicePreset,
	}
	if err := h.registry.RegisterCard(card, time.Now()); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed heartbeat request", http.StatusBadRequest)
		return
	}
	if err := h.registry.Heartbeat(req.AgentID, time.Now()); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) handleDeregister(w http.ResponseWriter, r *http.Request) {
	var req deregisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed deregister request", http.StatusBadRequest)
		return
	}
	h.registry.Deregister(req.AgentID)
	w.WriteHeader(http.StatusNoContent)
}
