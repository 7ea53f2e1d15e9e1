package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndResolve(t *testing.T) {
	r := New(45 * time.Second)
	now := time.Now()
	require.NoError(t, r.Register(Agent{ID: "banking", Endpoint: "ws://banking", LastHeartbeat: now}))

	a, err := r.Resolve("banking", now)
	require.NoError(t, err)
	assert.Equal(t, "banking", a.ID)
}

func TestResolveNotFound(t *testing.T) {
	r := New(45 * time.Second)
	_, err := r.Resolve("missing", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

// I-A2 / P8: unhealthy agents fail closed unless IncludeUnhealthy is set.
func TestResolveUnhealthy(t *testing.T) {
	r := New(10 * time.Second)
	base := time.Now()
	require.NoError(t, r.Register(Agent{ID: "idv", Endpoint: "ws://idv", LastHeartbeat: base}))

	later := base.Add(20 * time.Second)
	_, err := r.Resolve("idv", later)
	assert.ErrorIs(t, err, ErrUnhealthy)

	a, err := r.Resolve("idv", later, IncludeUnhealthy())
	require.NoError(t, err)
	assert.Equal(t, "idv", a.ID)
}

func TestIsHealthyBoundary(t *testing.T) {
	r := New(10 * time.Second)
	base := time.Now()
	require.NoError(t, r.Register(Agent{ID: "idv", LastHeartbeat: base}))

	healthy, err := r.IsHealthy("idv", base.Add(9*time.Second))
	require.NoError(t, err)
	assert.True(t, healthy)

	healthy, err = r.IsHealthy("idv", base.Add(11*time.Second))
	require.NoError(t, err)
	assert.False(t, healthy)
}

func TestHeartbeatRefreshesLiveness(t *testing.T) {
	r := New(10 * time.Second)
	base := time.Now()
	require.NoError(t, r.Register(Agent{ID: "idv", LastHeartbeat: base}))

	require.NoError(t, r.Heartbeat("idv", base.Add(8*time.Second)))
	healthy, err := r.IsHealthy("idv", base.Add(15*time.Second))
	require.NoError(t, err)
	assert.True(t, healthy, "heartbeat at +8s should keep the agent healthy through +15s")
}

func TestHeartbeatUnknownAgent(t *testing.T) {
	r := New(10 * time.Second)
	err := r.Heartbeat("missing", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRoutingAgentLookup(t *testing.T) {
	r := New(45 * time.Second)
	require.NoError(t, r.Register(Agent{ID: "routing", Capabilities: Capabilities{Routing: true}}))
	require.NoError(t, r.Register(Agent{ID: "banking", Capabilities: Capabilities{ToolScopes: []string{"balance"}}}))

	a, err := r.Routing()
	require.NoError(t, err)
	assert.Equal(t, "routing", a.ID)
}

func TestRoutingAgentMissing(t *testing.T) {
	r := New(45 * time.Second)
	_, err := r.Routing()
	assert.ErrorIs(t, err, ErrNoRoutingAgent)
}

func TestSecondRoutingAgentRejected(t *testing.T) {
	r := New(45 * time.Second)
	require.NoError(t, r.Register(Agent{ID: "routing", Capabilities: Capabilities{Routing: true}}))

	err := r.Register(Agent{ID: "routing2", Capabilities: Capabilities{Routing: true}})
	assert.ErrorIs(t, err, ErrSecondRoutingAgent)
}

func TestReRegisterSameRoutingAgentAllowed(t *testing.T) {
	r := New(45 * time.Second)
	require.NoError(t, r.Register(Agent{ID: "routing", Capabilities: Capabilities{Routing: true}}))
	require.NoError(t, r.Register(Agent{ID: "routing", Capabilities: Capabilities{Routing: true}, Endpoint: "ws://new"}))

	a, err := r.Routing()
	require.NoError(t, err)
	assert.Equal(t, "ws://new", a.Endpoint)
}

func TestDeregisterClearsRoutingAgent(t *testing.T) {
	r := New(45 * time.Second)
	require.NoError(t, r.Register(Agent{ID: "routing", Capabilities: Capabilities{Routing: true}}))
	r.Deregister("routing")

	_, err := r.Routing()
	assert.ErrorIs(t, err, ErrNoRoutingAgent)
}

func TestValidateCard(t *testing.T) {
	assert.NoError(t, ValidateCard(Card{AgentID: "banking", Endpoint: "ws://banking", WorkflowID: "banking-wf", Capabilities: Capabilities{ToolScopes: []string{"balance"}}}))
	assert.Error(t, ValidateCard(Card{Endpoint: "ws://banking", WorkflowID: "wf"}))
	assert.Error(t, ValidateCard(Card{AgentID: "banking", WorkflowID: "wf"}))
	assert.Error(t, ValidateCard(Card{AgentID: "banking", Endpoint: "ws://banking"}))
	assert.Error(t, ValidateCard(Card{AgentID: "banking", Endpoint: "ws://banking", WorkflowID: "wf"}))
}

func TestRegisterCardRejectsInvalid(t *testing.T) {
	r := New(45 * time.Second)
	err := r.RegisterCard(Card{AgentID: "banking"}, time.Now())
	assert.Error(t, err)
	_, resolveErr := r.Resolve("banking", time.Now())
	assert.ErrorIs(t, resolveErr, ErrNotFound)
}
