package main

import (
	"fmt"
	"sync"

	"github.com/voxgate/voxgate/agentcore"
	"github.com/voxgate/voxgate/protocol"
	"github.com/voxgate/voxgate/tools"
	"github.com/voxgate/voxgate/workflow"
)

// fanoutOutbound is the single agentcore.Outbound the process-wide Core is
// built with; it multiplexes by session id onto whichever adapter
// (VoiceAdapter or TextAdapter, both of which satisfy agentcore.Outbound by
// embedding ioadapter's frameWriter) currently owns that session's
// connection to the gateway. One Core serves every concurrently connected
// session (spec §4.5: AgentConfig is declared once per agent process), so
// the Outbound it was built with must itself fan out rather than be bound
// to a single socket.
type fanoutOutbound struct {
	mu      sync.RWMutex
	targets map[string]agentcore.Outbound
}

func newFanoutOutbound() *fanoutOutbound {
	return &fanoutOutbound{targets: make(map[string]agentcore.Outbound)}
}

func (f *fanoutOutbound) register(sessionID string, target agentcore.Outbound) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets[sessionID] = target
}

func (f *fanoutOutbound) unregister(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.targets, sessionID)
}

func (f *fanoutOutbound) get(sessionID string) (agentcore.Outbound, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.targets[sessionID]
	if !ok {
		return nil, fmt.Errorf("agent: no connection registered for session %q", sessionID)
	}
	return t, nil
}

func (f *fanoutOutbound) SendTranscript(sessionID, role, text string, final bool) error {
	t, err := f.get(sessionID)
	if err != nil {
		return err
	}
	return t.SendTranscript(sessionID, role, text, final)
}

func (f *fanoutOutbound) SendAudio(sessionID string, frame []byte) error {
	t, err := f.get(sessionID)
	if err != nil {
		return err
	}
	return t.SendAudio(sessionID, frame)
}

func (f *fanoutOutbound) SendToolUse(sessionID string, call tools.Call) error {
	t, err := f.get(sessionID)
	if err != nil {
		return err
	}
	return t.SendToolUse(sessionID, call)
}

func (f *fanoutOutbound) SendWorkflowUpdate(sessionID string, nodeID string, nodeType workflow.NodeType, nextNodes []string, validTransition bool) error {
	t, err := f.get(sessionID)
	if err != nil {
		return err
	}
	return t.SendWorkflowUpdate(sessionID, nodeID, nodeType, nextNodes, validTransition)
}

func (f *fanoutOutbound) SendDecisionMade(sessionID string, nodeID string, chosenEdge string, reasoning string) error {
	t, err := f.get(sessionID)
	if err != nil {
		return err
	}
	return t.SendDecisionMade(sessionID, nodeID, chosenEdge, reasoning)
}

func (f *fanoutOutbound) SendHandoffRequest(sessionID string, req protocol.HandoffRequest) error {
	t, err := f.get(sessionID)
	if err != nil {
		return err
	}
	return t.SendHandoffRequest(sessionID, req)
}

func (f *fanoutOutbound) SendUpdateMemory(sessionID string, patch protocol.UpdateMemory) error {
	t, err := f.get(sessionID)
	if err != nil {
		return err
	}
	return t.SendUpdateMemory(sessionID, patch)
}

func (f *fanoutOutbound) SendUsage(sessionID string, inputTokens, outputTokens, audioMs int) error {
	t, err := f.get(sessionID)
	if err != nil {
		return err
	}
	return t.SendUsage(sessionID, inputTokens, outputTokens, audioMs)
}

func (f *fanoutOutbound) SendError(sessionID string, message string, fatal bool) error {
	t, err := f.get(sessionID)
	if err != nil {
		return err
	}
	return t.SendError(sessionID, message, fatal)
}
