package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxgate/voxgate/protocol"
	"github.com/voxgate/voxgate/tools"
	"github.com/voxgate/voxgate/workflow"
)

type recordingTarget struct {
	transcripts []string
}

func (r *recordingTarget) SendTranscript(sessionID, role, text string, final bool) error {
	r.transcripts = append(r.transcripts, text)
	return nil
}
func (r *recordingTarget) SendAudio(sessionID string, frame []byte) error { return nil }
func (r *recordingTarget) SendToolUse(sessionID string, call tools.Call) error { return nil }
func (r *recordingTarget) SendWorkflowUpdate(sessionID, nodeID string, nodeType workflow.NodeType, nextNodes []string, validTransition bool) error {
	return nil
}
func (r *recordingTarget) SendDecisionMade(sessionID string, nodeID string, chosenEdge string, reasoning string) error {
	return nil
}
func (r *recordingTarget) SendHandoffRequest(sessionID string, req protocol.HandoffRequest) error {
	return nil
}
func (r *recordingTarget) SendUpdateMemory(sessionID string, patch protocol.UpdateMemory) error {
	return nil
}
func (r *recordingTarget) SendUsage(sessionID string, inputTokens, outputTokens, audioMs int) error {
	return nil
}
func (r *recordingTarget) SendError(sessionID string, message string, fatal bool) error { return nil }

func TestFanoutOutboundUnknownSessionErrors(t *testing.T) {
	f := newFanoutOutbound()
	err := f.SendTranscript("missing", "user", "hi", true)
	assert.Error(t, err)
}

func TestFanoutOutboundRegisterUnregister(t *testing.T) {
	f := newFanoutOutbound()
	target := &recordingTarget{}
	f.register("s1", target)

	_, err := f.get("s1")
	require.NoError(t, err)

	f.unregister("s1")
	_, err = f.get("s1")
	assert.Error(t, err)
}
