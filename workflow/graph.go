// Package workflow implements the Workflow Engine (C3): per-session
// tracking of the current node in a directed workflow graph, with
// guard-validated transitions. It is explicitly a post-hoc tracker (spec
// §9 open question, resolved in SPEC_FULL.md §7), not a strict output gate:
// the surrounding Agent Core calls Advance after observing model behavior,
// and a rejected transition is a non-fatal dead end, not a fatal error.
package workflow

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// NodeType enumerates the kinds of nodes a workflow graph may contain.
type NodeType string

const (
	NodeStart    NodeType = "start"
	NodeAction   NodeType = "action"
	NodeDecision NodeType = "decision"
	NodeToolCall NodeType = "toolcall"
	NodeHandoff  NodeType = "handoff"
	NodeEnd      NodeType = "end"
)

// Node is one vertex of a workflow graph.
type Node struct {
	ID   string   `yaml:"id"`
	Type NodeType `yaml:"type"`
}

// Edge is a directed transition from one node to another, optionally
// guarded by a predicate expression evaluated against Context.
type Edge struct {
	From  string `yaml:"from"`
	To    string `yaml:"to"`
	Guard string `yaml:"guard,omitempty"`
}

// Graph is a directed workflow graph declared as static data per agent
// (spec §3). Exactly one node must have Type == NodeStart.
type Graph struct {
	ID    string `yaml:"id"`
	Nodes []Node `yaml:"nodes"`
	Edges []Edge `yaml:"edges"`

	nodesByID   map[string]Node
	edgesByFrom map[string][]Edge // preserves declaration order for tie-breaking
	startNode   string
}

// ParseGraph parses a YAML-encoded workflow graph (the format
// WORKFLOW_FILE names, spec §6) and validates its structural invariants.
func ParseGraph(data []byte) (*Graph, error) {
	var g Graph
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("workflow: parse graph: %w", err)
	}
	if err := g.index(); err != nil {
		return nil, err
	}
	return &g, nil
}

// NewGraph builds a Graph from in-memory nodes/edges (used by tests and
// programmatic construction) and validates it the same way ParseGraph does.
func NewGraph(id string, nodes []Node, edges []Edge) (*Graph, error) {
	g := &Graph{ID: id, Nodes: nodes, Edges: edges}
	if err := g.index(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Graph) index() error {
	g.nodesByID = make(map[string]Node, len(g.Nodes))
	g.edgesByFrom = make(map[string][]Edge, len(g.Nodes))
	g.startNode = ""

	for _, n := range g.Nodes {
		if _, dup := g.nodesByID[n.ID]; dup {
			return fmt.Errorf("workflow: graph %q: duplicate node id %q", g.ID, n.ID)
		}
		g.nodesByID[n.ID] = n
		if n.Type == NodeStart {
			if g.startNode != "" {
				return fmt.Errorf("workflow: graph %q: more than one start node (%q and %q)", g.ID, g.startNode, n.ID)
			}
			g.startNode = n.ID
		}
	}
	if g.startNode == "" {
		return fmt.Errorf("workflow: graph %q: no start node declared", g.ID)
	}

	for _, e := range g.Edges {
		if _, ok := g.nodesByID[e.From]; !ok {
			return fmt.Errorf("workflow: graph %q: edge references unknown from-node %q", g.ID, e.From)
		}
		if _, ok := g.nodesByID[e.To]; !ok {
			return fmt.Errorf("workflow: graph %q: edge references unknown to-node %q", g.ID, e.To)
		}
		// Appending in declaration order is load-bearing: ValidNext's
		// tie-break on multiple satisfied guards depends on it (spec §4.3).
		g.edgesByFrom[e.From] = append(g.edgesByFrom[e.From], e)
	}
	return nil
}

// StartNode returns the id of the graph's single start node.
func (g *Graph) StartNode() string {
	return g.startNode
}

// Node looks up a node by id.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodesByID[id]
	return n, ok
}

// EdgesFrom returns the outbound edges of nodeID in declaration order.
func (g *Graph) EdgesFrom(nodeID string) []Edge {
	return g.edgesByFrom[nodeID]
}

// Render produces the textual description of the graph that Agent Core
// concatenates into the system prompt (spec §4.5 point (d)). The format is
// deliberately plain: one line per node, one line per outbound edge, so the
// model can read its own state machine rather than infer it from behavior.
func (g *Graph) Render(currentNodeID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Workflow %q, current step: %s\n", g.ID, currentNodeID)
	for _, n := range g.Nodes {
		marker := " "
		if n.ID == currentNodeID {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %s (%s)\n", marker, n.ID, n.Type)
		for _, e := range g.EdgesFrom(n.ID) {
			if e.Guard == "" {
				fmt.Fprintf(&b, "    -> %s\n", e.To)
			} else {
				fmt.Fprintf(&b, "    -> %s [if %s]\n", e.To, e.Guard)
			}
		}
	}
	return b.String()
}
