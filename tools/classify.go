package tools

import "strings"

// Class identifies which of the three dispatch paths a tool call takes
// (spec §4.4, in priority order: handoff, then identity-verification, then
// data).
type Class string

const (
	ClassHandoff Class = "handoff"
	ClassIDV     Class = "identity-verification"
	ClassData    Class = "data"
)

// Classifier decides which Class a tool name belongs to. routingAgentID
// names the current routing agent so "return_to_<routingAgentId>" can be
// recognized; idvToolNames is the configured set of identity-verification
// tool names (spec §4.4: "a named set (e.g. perform_idv_check)").
type Classifier struct {
	routingAgentID string
	idvToolNames    map[string]struct{}
}

// NewClassifier builds a Classifier for the given routing agent id and IDV
// tool name set.
func NewClassifier(routingAgentID string, idvToolNames []string) *Classifier {
	set := make(map[string]struct{}, len(idvToolNames))
	for _, n := range idvToolNames {
		set[n] = struct{}{}
	}
	return &Classifier{routingAgentID: routingAgentID, idvToolNames: set}
}

const (
	transferPrefix = "transfer_to_"
	returnPrefix   = "return_to_"
)

// Classify returns the tool's Class and, for handoff tools, the target
// agent id encoded in the name.
func (c *Classifier) Classify(toolName string) (class Class, targetAgentID string, isReturn bool) {
	if strings.HasPrefix(toolName, transferPrefix) {
		return ClassHandoff, strings.TrimPrefix(toolName, transferPrefix), false
	}
	if strings.HasPrefix(toolName, returnPrefix) {
		target := strings.TrimPrefix(toolName, returnPrefix)
		if target == c.routingAgentID {
			return ClassHandoff, target, true
		}
	}
	if _, ok := c.idvToolNames[toolName]; ok {
		return ClassIDV, "", false
	}
	return ClassData, "", false
}
