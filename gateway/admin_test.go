package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxgate/voxgate/registry"
)

func newAdminServer(reg *registry.Registry) *httptest.Server {
	mux := http.NewServeMux()
	NewAdminHandler(reg).Mount(mux)
	return httptest.NewServer(mux)
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func TestAdminRegisterHeartbeatDeregister(t *testing.T) {
	reg := registry.New(time.Minute)
	srv := newAdminServer(reg)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/agents/register", registerRequest{
		AgentID: "banking", Endpoint: "ws://banking:9000", WorkflowID: "banking", ToolScopes: []string{"check_balance"},
	})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	a, err := reg.Resolve("banking", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "ws://banking:9000", a.Endpoint)

	resp = postJSON(t, srv.URL+"/agents/heartbeat", heartbeatRequest{AgentID: "banking"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/agents/heartbeat", heartbeatRequest{AgentID: "unknown"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/agents/deregister", deregisterRequest{AgentID: "banking"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, err = reg.Resolve("banking", time.Now())
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestAdminRegisterRejectsCardWithNoToolScopes(t *testing.T) {
	reg := registry.New(time.Minute)
	srv := newAdminServer(reg)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/agents/register", registerRequest{
		AgentID: "banking", Endpoint: "ws://banking:9000", WorkflowID: "banking",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	_, err := reg.Resolve("banking", time.Now())
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestAdminRegisterRejectsSecondRoutingAgent(t *testing.T) {
	reg := registry.New(time.Minute)
	srv := newAdminServer(reg)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/agents/register", registerRequest{AgentID: "routing-a", Endpoint: "ws://a:1", WorkflowID: "routing", Routing: true})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/agents/register", registerRequest{AgentID: "routing-b", Endpoint: "ws://b:1", WorkflowID: "routing", Routing: true})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
