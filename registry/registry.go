// Package registry implements the Agent Registry (C2): a directory of live
// agent processes keyed by agent id, tracking reachable endpoint, declared
// capabilities, and heartbeat-based liveness.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Errors returned by Resolve and registration operations.
var (
	ErrNotFound           = errors.New("registry: agent not found")
	ErrUnhealthy          = errors.New("registry: agent unhealthy")
	ErrNoRoutingAgent     = errors.New("registry: no routing agent registered")
	ErrSecondRoutingAgent = errors.New("registry: a routing agent is already registered")
)

// Capabilities mirrors spec §3's Agent.capabilities record.
type Capabilities struct {
	Routing             bool
	VerificationRequired bool
	ToolScopes           []string
}

// Agent is the registry's record for one live agent process.
type Agent struct {
	ID               string
	Endpoint         string
	Capabilities     Capabilities
	WorkflowID       string
	VoicePreset      string
	LastHeartbeat    time.Time
	RegisteredAt     time.Time
}

func (a Agent) clone() Agent {
	out := a
	out.Capabilities.ToolScopes = append([]string(nil), a.Capabilities.ToolScopes...)
	return out
}

// Registry holds the set of currently registered agents. Reads are
// lock-free-ish via RWMutex (concurrent readers, serialized writers);
// readers observe a consistent snapshot of any single agent record (§5).
type Registry struct {
	mu               sync.RWMutex
	agents           map[string]*Agent
	heartbeatWindow  time.Duration
	routingAgentID   string
}

// New returns an empty Registry. heartbeatWindow is the liveness threshold
// of I-A2 (recommended 3x the expected heartbeat period, per spec §4.2).
func New(heartbeatWindow time.Duration) *Registry {
	if heartbeatWindow <= 0 {
		heartbeatWindow = 45 * time.Second
	}
	return &Registry{
		agents:          make(map[string]*Agent),
		heartbeatWindow: heartbeatWindow,
	}
}

// Register adds or replaces the agent record (idempotent by id, I-A1: at
// most one agent per id is live at a time — a second Register for the same
// id simply replaces the first). Registering a second routing-capable agent
// while a different one is already registered is rejected: spec §3 expects
// "exactly one" routing agent, and silently accepting a second would make
// Routing()'s result nondeterministic.
func (r *Registry) Register(agent Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if agent.Capabilities.Routing {
		if r.routingAgentID != "" && r.routingAgentID != agent.ID {
			return fmt.Errorf("%w: existing=%s new=%s", ErrSecondRoutingAgent, r.routingAgentID, agent.ID)
		}
		r.routingAgentID = agent.ID
	} else if r.routingAgentID == agent.ID {
		// A previously-routing agent re-registered without the capability;
		// it is no longer the routing agent.
		r.routingAgentID = ""
	}

	now := agent.RegisteredAt
	if now.IsZero() {
		now = time.Now()
	}
	a := agent.clone()
	a.RegisteredAt = now
	if a.LastHeartbeat.IsZero() {
		a.LastHeartbeat = now
	}
	r.agents[agent.ID] = &a
	return nil
}

// Deregister removes an agent's record.
func (r *Registry) Deregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, agentID)
	if r.routingAgentID == agentID {
		r.routingAgentID = ""
	}
}

// Heartbeat refreshes an agent's liveness timestamp. Returns ErrNotFound if
// the agent is not registered.
func (r *Registry) Heartbeat(agentID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentID]
	if !ok {
		return ErrNotFound
	}
	a.LastHeartbeat = at
	return nil
}

// resolveOptions configures Resolve's health-checking behavior.
type resolveOptions struct {
	includeUnhealthy bool
}

// ResolveOption configures a single Resolve call.
type ResolveOption func(*resolveOptions)

// IncludeUnhealthy allows Resolve to return an unhealthy agent's record
// instead of failing closed. Used during handoff to avoid falsely stalling
// a transition during a heartbeat jitter (spec §4.2).
func IncludeUnhealthy() ResolveOption {
	return func(o *resolveOptions) { o.includeUnhealthy = true }
}

// Resolve looks up agentID. Fails closed (ErrUnhealthy) for an agent whose
// last heartbeat predates now-heartbeatWindow, unless IncludeUnhealthy is
// passed (I-A2).
func (r *Registry) Resolve(agentID string, now time.Time, opts ...ResolveOption) (Agent, error) {
	var o resolveOptions
	for _, opt := range opts {
		opt(&o)
	}

	r.mu.RLock()
	a, ok := r.agents[agentID]
	r.mu.RUnlock()
	if !ok {
		return Agent{}, ErrNotFound
	}
	snap := a.clone()
	if !o.includeUnhealthy && r.isUnhealthy(snap, now) {
		return Agent{}, ErrUnhealthy
	}
	return snap, nil
}

// IsHealthy reports whether agentID's last heartbeat is within the
// heartbeat window as of now (P8).
func (r *Registry) IsHealthy(agentID string, now time.Time) (bool, error) {
	r.mu.RLock()
	a, ok := r.agents[agentID]
	r.mu.RUnlock()
	if !ok {
		return false, ErrNotFound
	}
	return !r.isUnhealthy(a.clone(), now), nil
}

func (r *Registry) isUnhealthy(a Agent, now time.Time) bool {
	return now.Sub(a.LastHeartbeat) > r.heartbeatWindow
}

// Routing returns the single agent carrying the routing capability.
func (r *Registry) Routing() (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.routingAgentID == "" {
		return Agent{}, ErrNoRoutingAgent
	}
	a, ok := r.agents[r.routingAgentID]
	if !ok {
		return Agent{}, ErrNoRoutingAgent
	}
	return a.clone(), nil
}
