package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// registrantClient calls the gateway's agent registration HTTP API (spec
// §6). It also implements registry.HeartbeatSender so
// registry.RunHeartbeatLoop can drive it directly.
type registrantClient struct {
	adminURL string
	client   *http.Client
}

func newRegistrantClient(adminURL string) *registrantClient {
	return &registrantClient{adminURL: adminURL, client: &http.Client{Timeout: 5 * time.Second}}
}

type registerBody struct {
	AgentID      string   `json:"agentId"`
	Endpoint     string   `json:"endpoint"`
	WorkflowID   string   `json:"workflowId"`
	VoicePreset  string   `json:"voicePreset"`
	Routing      bool     `json:"routing"`
	Verification bool     `json:"verificationRequired"`
	ToolScopes   []string `json:"toolScopes"`
}

func (c *registrantClient) Register(ctx context.Context, cfg config, workflowID string, requiresVerification bool) error {
	body, err := json.Marshal(registerBody{
		AgentID:      cfg.AgentID,
		Endpoint:     cfg.Endpoint,
		WorkflowID:   workflowID,
		VoicePreset:  cfg.VoicePreset,
		Routing:      cfg.IsRoutingAgent,
		Verification: requiresVerification,
		ToolScopes:   cfg.ToolScopes,
	})
	if err != nil {
		return err
	}
	return c.post(ctx, "/agents/register", body)
}

// Heartbeat implements registry.HeartbeatSender.
func (c *registrantClient) Heartbeat(ctx context.Context, agentID string) error {
	body, err := json.Marshal(map[string]string{"agentId": agentID})
	if err != nil {
		return err
	}
	return c.post(ctx, "/agents/heartbeat", body)
}

func (c *registrantClient) Deregister(ctx context.Context, agentID string) error {
	body, err := json.Marshal(map[string]string{"agentId": agentID})
	if err != nil {
		return err
	}
	return c.post(ctx, "/agents/deregister", body)
}

func (c *registrantClient) post(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.adminURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("agent: %s returned %d", path, resp.StatusCode)
	}
	return nil
}
