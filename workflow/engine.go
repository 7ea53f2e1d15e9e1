package workflow

import "fmt"

// ErrInvalidTransition is returned by Advance and indicates a non-fatal
// dead end: the surrounding Agent Core surfaces an error event but keeps
// the session open (spec §4.3).
var ErrInvalidTransition = fmt.Errorf("workflow: invalid transition")

// State is the per-session, per-agent workflow position (spec §3
// WorkflowState).
type State struct {
	GraphID       string
	CurrentNodeID string
	History       []string
}

// Engine evaluates transitions against a fixed set of graphs, one per
// agent/workflow id.
type Engine struct {
	graphs map[string]*Graph
}

// NewEngine returns an Engine serving the given graphs, keyed by Graph.ID.
func NewEngine(graphs ...*Graph) *Engine {
	e := &Engine{graphs: make(map[string]*Graph, len(graphs))}
	for _, g := range graphs {
		e.graphs[g.ID] = g
	}
	return e
}

// Graph returns the graph registered under workflowID, if any.
func (e *Engine) Graph(workflowID string) (*Graph, bool) {
	g, ok := e.graphs[workflowID]
	return g, ok
}

// Init returns a fresh State positioned at workflowID's start node.
func (e *Engine) Init(workflowID string) (State, error) {
	g, ok := e.graphs[workflowID]
	if !ok {
		return State{}, fmt.Errorf("workflow: unknown workflow id %q", workflowID)
	}
	start := g.StartNode()
	return State{GraphID: workflowID, CurrentNodeID: start, History: []string{start}}, nil
}

// Reset is an alias for Init naming the handoff-discard use case explicitly
// (spec §4.3: "On handoff: current state is discarded...").
func (e *Engine) Reset(workflowID string) (State, error) {
	return e.Init(workflowID)
}

// Candidate pairs a node id with the edge that leads to it, for ValidNext.
type Candidate struct {
	NodeID string
	Edge   Edge
}

// ValidNext returns every outbound edge of state's current node whose guard
// currently evaluates true, in declaration order (spec §4.3 tie-break).
func (e *Engine) ValidNext(state State, ctx Context) ([]Candidate, error) {
	g, ok := e.graphs[state.GraphID]
	if !ok {
		return nil, fmt.Errorf("workflow: unknown workflow id %q", state.GraphID)
	}
	var out []Candidate
	for _, edge := range g.EdgesFrom(state.CurrentNodeID) {
		if EvalGuard(edge.Guard, ctx) {
			out = append(out, Candidate{NodeID: edge.To, Edge: edge})
		}
	}
	return out, nil
}

// Advance attempts to move state to targetNodeID. The transition is valid
// only if some outbound edge of the current node leads to targetNodeID and
// that edge's guard evaluates true against ctx (I-W1). Ties among multiple
// satisfied edges are broken by declaration order, but Advance requires the
// caller to name the target explicitly — ties matter for ValidNext-driven
// auto-advance of decision nodes, not for an explicit Advance call.
func (e *Engine) Advance(state State, targetNodeID string, ctx Context) (State, error) {
	g, ok := e.graphs[state.GraphID]
	if !ok {
		return state, fmt.Errorf("workflow: unknown workflow id %q", state.GraphID)
	}
	for _, edge := range g.EdgesFrom(state.CurrentNodeID) {
		if edge.To != targetNodeID {
			continue
		}
		if !EvalGuard(edge.Guard, ctx) {
			continue
		}
		next := state
		next.CurrentNodeID = targetNodeID
		next.History = append(append([]string(nil), state.History...), targetNodeID)
		return next, nil
	}
	return state, ErrInvalidTransition
}

// AdvanceDecision resolves a decision node (≥2 outbound edges) by
// evaluating ValidNext and taking the first satisfied edge in declaration
// order (spec §4.3: "the engine evaluates guards and returns the single
// satisfied edge"). Returns ErrInvalidTransition if none is satisfied.
func (e *Engine) AdvanceDecision(state State, ctx Context) (State, Edge, error) {
	candidates, err := e.ValidNext(state, ctx)
	if err != nil {
		return state, Edge{}, err
	}
	if len(candidates) == 0 {
		return state, Edge{}, ErrInvalidTransition
	}
	chosen := candidates[0]
	next, err := e.Advance(state, chosen.NodeID, ctx)
	if err != nil {
		return state, Edge{}, err
	}
	return next, chosen.Edge, nil
}
