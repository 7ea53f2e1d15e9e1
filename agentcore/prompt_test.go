package agentcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolCatalogDeclaresHandoffArgumentSchemas(t *testing.T) {
	cfg := AgentConfig{
		AgentID:        "banking",
		ToolScopes:     []string{"check_balance"},
		HandoffTargets: []string{"disputes"},
		RoutingAgentID: "routing",
	}
	catalog := toolCatalog(cfg, nil)

	var transfer, ret bool
	for _, spec := range catalog {
		switch spec.Name {
		case "transfer_to_disputes":
			transfer = true
			require.NotEmpty(t, spec.Schema)
			assert.Contains(t, string(spec.Schema), `"reason"`)
		case "return_to_routing":
			ret = true
			require.NotEmpty(t, spec.Schema)
			assert.Contains(t, string(spec.Schema), `"taskCompleted"`)
			assert.Contains(t, string(spec.Schema), `"required"`)
		}
	}
	assert.True(t, transfer, "expected a transfer_to_disputes tool")
	assert.True(t, ret, "expected a return_to_routing tool")
}
