package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxgate/voxgate/ioadapter"
)

func baseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AGENT_ID", "banking")
	t.Setenv("ENDPOINT", "ws://banking:9000/agent")
	t.Setenv("GATEWAY_ADMIN_URL", "http://gateway:8080")
	t.Setenv("TOOL_GATEWAY_URL", "http://tools:8090")
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
}

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	baseEnv(t)

	cfg, err := loadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "banking", cfg.AgentID)
	assert.Equal(t, ioadapter.Mode("text"), cfg.Mode)
	assert.Equal(t, "anthropic", cfg.S2SProvider)
	assert.Equal(t, "claude-sonnet-4-5", cfg.AnthropicModel)
	assert.False(t, cfg.AutoTriggerEnabled)
}

func TestLoadConfigFromEnvMissingRequiredField(t *testing.T) {
	baseEnv(t)
	t.Setenv("AGENT_ID", "")

	_, err := loadConfigFromEnv()
	assert.Error(t, err)
}

func TestLoadConfigFromEnvInvalidMode(t *testing.T) {
	baseEnv(t)
	t.Setenv("MODE", "telepathy")

	_, err := loadConfigFromEnv()
	assert.Error(t, err)
}

func TestLoadConfigFromEnvRequiresProviderCredential(t *testing.T) {
	baseEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "")

	_, err := loadConfigFromEnv()
	assert.Error(t, err)
}

func TestLoadConfigFromEnvOpenAIProvider(t *testing.T) {
	baseEnv(t)
	t.Setenv("S2S_PROVIDER", "openairealtime")
	t.Setenv("OPENAI_API_KEY", "test-key")

	cfg, err := loadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "openairealtime", cfg.S2SProvider)
}

func TestSplitCSV(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitCSV("a, b ,c"))
	assert.Nil(t, splitCSV(""))
}
