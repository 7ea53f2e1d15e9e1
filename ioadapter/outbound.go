package ioadapter

import (
	"github.com/voxgate/voxgate/protocol"
	"github.com/voxgate/voxgate/tools"
	"github.com/voxgate/voxgate/workflow"
)

// frameWriter implements agentcore.Outbound over a WireConn. Both
// VoiceAdapter and TextAdapter embed it: the outbound direction is
// identical regardless of mode, only the inbound obligations differ (spec
// §4.6).
type frameWriter struct {
	conn WireConn
}

func (w frameWriter) SendTranscript(sessionID, role, text string, final bool) error {
	return w.conn.WriteJSON(protocol.Transcript{Type: protocol.TypeTranscript, Role: role, Text: text, Final: final})
}

func (w frameWriter) SendAudio(_ string, frame []byte) error {
	return w.conn.WriteBinary(protocol.PadPCM(frame))
}

func (w frameWriter) SendToolUse(_ string, call tools.Call) error {
	return w.conn.WriteJSON(protocol.ToolUse{
		Type:       protocol.TypeToolUse,
		ToolName:   call.ToolName,
		ToolCallID: call.CallID,
		Arguments:  call.Arguments,
	})
}

func (w frameWriter) SendWorkflowUpdate(_ string, nodeID string, nodeType workflow.NodeType, nextNodes []string, validTransition bool) error {
	return w.conn.WriteJSON(protocol.WorkflowUpdate{
		Type:            protocol.TypeWorkflowUpdate,
		CurrentNodeID:   nodeID,
		NodeType:        string(nodeType),
		NextNodes:       nextNodes,
		ValidTransition: validTransition,
	})
}

func (w frameWriter) SendDecisionMade(_ string, nodeID string, chosenEdge string, reasoning string) error {
	return w.conn.WriteJSON(protocol.DecisionMade{
		Type:       protocol.TypeDecisionMade,
		NodeID:     nodeID,
		ChosenEdge: chosenEdge,
		Reasoning:  reasoning,
	})
}

func (w frameWriter) SendHandoffRequest(_ string, req protocol.HandoffRequest) error {
	req.Type = protocol.TypeHandoffReq
	return w.conn.WriteJSON(req)
}

func (w frameWriter) SendUpdateMemory(_ string, patch protocol.UpdateMemory) error {
	patch.Type = protocol.TypeUpdateMemory
	return w.conn.WriteJSON(patch)
}

func (w frameWriter) SendUsage(_ string, inputTokens, outputTokens, audioMs int) error {
	return w.conn.WriteJSON(protocol.Usage{
		Type:         protocol.TypeUsage,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		AudioMs:      audioMs,
	})
}

func (w frameWriter) SendError(_ string, message string, fatal bool) error {
	return w.conn.WriteJSON(protocol.Error{Type: protocol.TypeError, Message: message, Fatal: fatal})
}
