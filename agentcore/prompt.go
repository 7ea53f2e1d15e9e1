package agentcore

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/voxgate/voxgate/memory"
	"github.com/voxgate/voxgate/s2s"
	"github.com/voxgate/voxgate/workflow"
)

// transferSchema declares the optional free-text "reason" argument a
// transfer_to_<id> call may carry; the Gateway only promotes it to the new
// userIntent when the caller is the routing agent (spec §4.7), but any
// agent may supply it.
var transferSchema = json.RawMessage(`{"type":"object","properties":{"reason":{"type":"string","description":"why the conversation is being handed off"}}}`)

// returnSchema declares the required "taskCompleted" argument a
// return_to_<routingAgentId> call must carry (spec §4.7: "taskCompleted
// (required when isReturn)").
var returnSchema = json.RawMessage(`{"type":"object","properties":{"taskCompleted":{"type":"string","description":"summary of the task just completed"}},"required":["taskCompleted"]}`)

// buildSystemPrompt concatenates the four prompt sections in the fixed,
// load-bearing order spec §4.5/§9 requires: inherited-memory context, then
// persona, then handoff-tools instructions, then the workflow rendering.
// Reordering these causes the model to re-ask for already-known facts.
func buildSystemPrompt(inherited *memory.Session, persona string, handoffBlock string, workflowRendering string) string {
	var sections []string
	if ctx := renderInheritedMemory(inherited); ctx != "" {
		sections = append(sections, ctx)
	}
	sections = append(sections, strings.TrimSpace(persona))
	if handoffBlock != "" {
		sections = append(sections, handoffBlock)
	}
	if workflowRendering != "" {
		sections = append(sections, workflowRendering)
	}
	return strings.Join(sections, "\n\n")
}

// renderInheritedMemory renders the context-injection block: verified-user
// fields and the current userIntent, so the model starts anchored on facts
// already established rather than re-asking for them (spec §4.5 point a).
func renderInheritedMemory(s *memory.Session) string {
	if s == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("Known context from the prior conversation:\n")
	wrote := false
	if s.Verified && s.VerifiedUser != nil {
		fmt.Fprintf(&b, "- Verified customer: %s (account %s, sort code %s)\n",
			s.VerifiedUser.CustomerName, s.VerifiedUser.AccountID, s.VerifiedUser.SortCode)
		wrote = true
	}
	if s.UserIntent != "" {
		fmt.Fprintf(&b, "- Current user intent: %s. Proceed on this intent without re-asking for it.\n", s.UserIntent)
		wrote = true
	}
	if s.TaskSummary != "" {
		fmt.Fprintf(&b, "- Summary of the task just completed elsewhere: %s\n", s.TaskSummary)
		wrote = true
	}
	if !wrote {
		return ""
	}
	return b.String()
}

// renderHandoffTools renders the instruction block describing the
// handoff-capable tools available to this agent: transfer_to_<id> for each
// declared target, plus return_to_<routingAgentId> when this agent is not
// the routing agent itself (spec §4.4 naming convention).
func renderHandoffTools(cfg AgentConfig) string {
	if len(cfg.HandoffTargets) == 0 && cfg.IsRoutingAgent {
		return ""
	}
	var b strings.Builder
	b.WriteString("You may hand off the conversation using these tools:\n")
	for _, target := range cfg.HandoffTargets {
		fmt.Fprintf(&b, "- transfer_to_%s: transfer the conversation to %s\n", target, target)
	}
	if !cfg.IsRoutingAgent && cfg.RoutingAgentID != "" {
		fmt.Fprintf(&b, "- return_to_%s: return the conversation to the routing agent once your task is complete\n", cfg.RoutingAgentID)
	}
	return b.String()
}

// renderWorkflow renders the current workflow graph, or "" if the agent
// has no workflow configured (spec allows agents without a workflow).
func renderWorkflow(g *workflow.Graph, state workflow.State) string {
	if g == nil {
		return ""
	}
	return g.Render(state.CurrentNodeID)
}

// toolCatalog filters the full tool spec list down to this agent's declared
// scopes plus its handoff tools (spec §4.5: "tool catalog filtered by
// declared tool scopes plus handoff tools").
func toolCatalog(cfg AgentConfig, allTools map[string]s2s.ToolSpec) []s2s.ToolSpec {
	scopeSet := make(map[string]struct{}, len(cfg.ToolScopes))
	for _, s := range cfg.ToolScopes {
		scopeSet[s] = struct{}{}
	}

	var out []s2s.ToolSpec
	for name, spec := range allTools {
		if _, ok := scopeSet[name]; ok {
			out = append(out, spec)
		}
	}
	for _, target := range cfg.HandoffTargets {
		name := "transfer_to_" + target
		out = append(out, s2s.ToolSpec{Name: name, Description: "Transfer the conversation to " + target, Schema: transferSchema})
	}
	if !cfg.IsRoutingAgent && cfg.RoutingAgentID != "" {
		name := "return_to_" + cfg.RoutingAgentID
		out = append(out, s2s.ToolSpec{Name: name, Description: "Return the conversation to the routing agent", Schema: returnSchema})
	}
	return out
}
