package registry

import (
	"fmt"
	"time"
)

// Card is the self-description an agent process presents when it
// registers (spec §6 "Agent registration (agent -> gateway, HTTP)").
// Grounded on the teacher's a2a.ValidateAgentCardConsistency: a registering
// agent's declared metadata is checked for internal consistency before it
// is trusted, rather than accepted blindly.
type Card struct {
	AgentID      string
	Endpoint     string
	Capabilities Capabilities
	WorkflowID   string
	VoicePreset  string
}

// ValidateCard checks that a registering agent's card is internally
// consistent: it must carry an id, an endpoint and a workflow id, and,
// unless it is the routing agent, declare at least one tool scope (a
// non-routing agent with no tool scopes at all can never do useful work and
// is almost certainly a misconfiguration).
func ValidateCard(c Card) error {
	if c.AgentID == "" {
		return fmt.Errorf("registry: agent card missing id")
	}
	if c.Endpoint == "" {
		return fmt.Errorf("registry: agent card %s missing endpoint", c.AgentID)
	}
	if c.WorkflowID == "" {
		return fmt.Errorf("registry: agent card %s missing workflow id", c.AgentID)
	}
	if len(c.Capabilities.ToolScopes) == 0 && !c.Capabilities.Routing {
		return fmt.Errorf("registry: agent card %s declares no tool scopes", c.AgentID)
	}
	return nil
}

// RegisterCard validates c and, on success, registers the corresponding
// Agent with RegisteredAt/LastHeartbeat stamped at now.
func (r *Registry) RegisterCard(c Card, now time.Time) error {
	if err := ValidateCard(c); err != nil {
		return err
	}
	return r.Register(Agent{
		ID:            c.AgentID,
		Endpoint:      c.Endpoint,
		Capabilities:  c.Capabilities,
		WorkflowID:    c.WorkflowID,
		VoicePreset:   c.VoicePreset,
		RegisteredAt:  now,
		LastHeartbeat: now,
	})
}
