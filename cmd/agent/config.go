package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/voxgate/voxgate/ioadapter"
)

// config is the environment-driven configuration of one agent process
// (spec §6's configuration table, plus the deployment-specific extras the
// table is silent on — endpoint, gateway admin URL, and model credentials —
// since a fleet of agent processes cannot otherwise find each other or a
// model provider).
type config struct {
	Mode       ioadapter.Mode
	AgentID    string
	ListenAddr string
	Endpoint   string // this agent's own ws:// endpoint, as registered with the gateway

	WorkflowFile string
	PersonaFile  string
	ToolsFile    string

	ToolScopes           []string
	HandoffTargets       []string
	IDVToolNames         []string
	IsRoutingAgent       bool
	RoutingAgentID       string
	VoicePreset          string
	RequiresVerification bool

	AutoTriggerEnabled bool

	HeartbeatPeriod time.Duration
	GatewayAdminURL string
	ToolGatewayURL  string

	S2SProvider    string
	AnthropicKey   string
	AnthropicModel string
	OpenAIKey      string
	OpenAIModel    string
	OpenAIVoice    string
}

func loadConfigFromEnv() (config, error) {
	cfg := config{
		Mode:                 ioadapter.Mode(getenv("MODE", "text")),
		AgentID:              os.Getenv("AGENT_ID"),
		ListenAddr:           getenv("LISTEN_ADDR", ":9000"),
		Endpoint:             os.Getenv("ENDPOINT"),
		WorkflowFile:         os.Getenv("WORKFLOW_FILE"),
		PersonaFile:          os.Getenv("PERSONA_FILE"),
		ToolsFile:            os.Getenv("TOOLS_FILE"),
		ToolScopes:           splitCSV(os.Getenv("TOOL_SCOPES")),
		HandoffTargets:       splitCSV(os.Getenv("HANDOFF_TARGETS")),
		IDVToolNames:         splitCSV(os.Getenv("IDV_TOOL_NAMES")),
		IsRoutingAgent:       getenvBool("IS_ROUTING_AGENT", false),
		RoutingAgentID:       os.Getenv("ROUTING_AGENT_ID"),
		VoicePreset:          os.Getenv("VOICE_PRESET"),
		RequiresVerification: getenvBool("REQUIRES_VERIFICATION", false),
		AutoTriggerEnabled:   getenvBool("AUTO_TRIGGER_ENABLED", false),
		GatewayAdminURL:      os.Getenv("GATEWAY_ADMIN_URL"),
		ToolGatewayURL:       os.Getenv("TOOL_GATEWAY_URL"),
		S2SProvider:          getenv("S2S_PROVIDER", "anthropic"),
		AnthropicKey:         os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:       getenv("ANTHROPIC_MODEL", "claude-sonnet-4-5"),
		OpenAIKey:            os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:          os.Getenv("OPENAI_MODEL"),
		OpenAIVoice:          os.Getenv("OPENAI_VOICE"),
	}

	periodMS, err := strconv.Atoi(getenv("HEARTBEAT_PERIOD_MS", "15000"))
	if err != nil {
		return config{}, fmt.Errorf("agent: invalid HEARTBEAT_PERIOD_MS: %w", err)
	}
	cfg.HeartbeatPeriod = time.Duration(periodMS) * time.Millisecond

	if cfg.AgentID == "" {
		return config{}, fmt.Errorf("agent: AGENT_ID is required")
	}
	if cfg.Endpoint == "" {
		return config{}, fmt.Errorf("agent: ENDPOINT is required")
	}
	if cfg.GatewayAdminURL == "" {
		return config{}, fmt.Errorf("agent: GATEWAY_ADMIN_URL is required")
	}
	if cfg.ToolGatewayURL == "" {
		return config{}, fmt.Errorf("agent: TOOL_GATEWAY_URL is required")
	}
	switch cfg.Mode {
	case ioadapter.ModeVoice, ioadapter.ModeText, ioadapter.ModeHybrid:
	default:
		return config{}, fmt.Errorf("agent: invalid MODE %q", cfg.Mode)
	}
	switch cfg.S2SProvider {
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return config{}, fmt.Errorf("agent: ANTHROPIC_API_KEY is required for S2S_PROVIDER=anthropic")
		}
	case "openairealtime":
		if cfg.OpenAIKey == "" {
			return config{}, fmt.Errorf("agent: OPENAI_API_KEY is required for S2S_PROVIDER=openairealtime")
		}
	default:
		return config{}, fmt.Errorf("agent: invalid S2S_PROVIDER %q", cfg.S2SProvider)
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
