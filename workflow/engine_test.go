package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bankingGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := NewGraph("banking", []Node{
		{ID: "start", Type: NodeStart},
		{ID: "check_balance", Type: NodeToolCall},
		{ID: "decide", Type: NodeDecision},
		{ID: "report_balance", Type: NodeAction},
		{ID: "ask_again", Type: NodeAction},
		{ID: "end", Type: NodeEnd},
	}, []Edge{
		{From: "start", To: "check_balance"},
		{From: "check_balance", To: "decide"},
		{From: "decide", To: "report_balance", Guard: `toolResult.auth_status == "VERIFIED"`},
		{From: "decide", To: "ask_again", Guard: `verified == false`},
		{From: "report_balance", To: "end"},
	})
	require.NoError(t, err)
	return g
}

func TestParseGraphRequiresStartNode(t *testing.T) {
	_, err := NewGraph("bad", []Node{{ID: "a", Type: NodeAction}}, nil)
	assert.Error(t, err)
}

func TestParseGraphRejectsMultipleStartNodes(t *testing.T) {
	_, err := NewGraph("bad", []Node{
		{ID: "a", Type: NodeStart},
		{ID: "b", Type: NodeStart},
	}, nil)
	assert.Error(t, err)
}

func TestParseGraphRejectsDanglingEdge(t *testing.T) {
	_, err := NewGraph("bad", []Node{{ID: "a", Type: NodeStart}}, []Edge{{From: "a", To: "ghost"}})
	assert.Error(t, err)
}

func TestInitStartsAtStartNode(t *testing.T) {
	g := bankingGraph(t)
	e := NewEngine(g)
	s, err := e.Init("banking")
	require.NoError(t, err)
	assert.Equal(t, "start", s.CurrentNodeID)
	assert.Equal(t, []string{"start"}, s.History)
}

func TestAdvanceFollowsValidEdge(t *testing.T) {
	g := bankingGraph(t)
	e := NewEngine(g)
	s, _ := e.Init("banking")
	s, err := e.Advance(s, "check_balance", Context{})
	require.NoError(t, err)
	assert.Equal(t, "check_balance", s.CurrentNodeID)
}

// S6 / P5: a guard mismatch is a non-fatal InvalidTransition.
func TestAdvanceRejectsUnsatisfiedGuard(t *testing.T) {
	g := bankingGraph(t)
	e := NewEngine(g)
	s, _ := e.Init("banking")
	s, _ = e.Advance(s, "check_balance", Context{})
	s, _ = e.Advance(s, "decide", Context{})

	_, err := e.Advance(s, "report_balance", Context{ToolResult: map[string]string{"auth_status": "PENDING"}})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestAdvanceDecisionTakesFirstSatisfiedInDeclarationOrder(t *testing.T) {
	g := bankingGraph(t)
	e := NewEngine(g)
	s, _ := e.Init("banking")
	s, _ = e.Advance(s, "check_balance", Context{})
	s, _ = e.Advance(s, "decide", Context{})

	next, edge, err := e.AdvanceDecision(s, Context{ToolResult: map[string]string{"auth_status": "VERIFIED"}})
	require.NoError(t, err)
	assert.Equal(t, "report_balance", next.CurrentNodeID)
	assert.Equal(t, "report_balance", edge.To)
}

func TestAdvanceDecisionNoSatisfiedEdge(t *testing.T) {
	g := bankingGraph(t)
	e := NewEngine(g)
	s, _ := e.Init("banking")
	s, _ = e.Advance(s, "check_balance", Context{})
	s, _ = e.Advance(s, "decide", Context{})

	_, _, err := e.AdvanceDecision(s, Context{Verified: true, ToolResult: map[string]string{"auth_status": "PENDING"}})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestResetDiscardsHistory(t *testing.T) {
	g := bankingGraph(t)
	e := NewEngine(g)
	s, _ := e.Init("banking")
	s, _ = e.Advance(s, "check_balance", Context{})
	assert.Len(t, s.History, 2)

	fresh, err := e.Reset("banking")
	require.NoError(t, err)
	assert.Equal(t, "start", fresh.CurrentNodeID)
	assert.Len(t, fresh.History, 1)
}

func TestGuardLanguage(t *testing.T) {
	assert.True(t, EvalGuard("", Context{}))
	assert.True(t, EvalGuard("verified == true", Context{Verified: true}))
	assert.False(t, EvalGuard("verified == true", Context{Verified: false}))
	assert.True(t, EvalGuard(`toolResult.auth_status == "VERIFIED"`, Context{ToolResult: map[string]string{"auth_status": "VERIFIED"}}))
	assert.True(t, EvalGuard(`userIntent contains "balance"`, Context{UserIntent: "what is my balance?"}))
	assert.False(t, EvalGuard("nonsense guard", Context{}))
}

func TestParseGraphYAML(t *testing.T) {
	data := []byte(`
id: routing
nodes:
  - id: start
    type: start
  - id: end
    type: end
edges:
  - from: start
    to: end
`)
	g, err := ParseGraph(data)
	require.NoError(t, err)
	assert.Equal(t, "routing", g.ID)
	assert.Equal(t, "start", g.StartNode())
}
