package ioadapter

import (
	"time"

	"github.com/voxgate/voxgate/memory"
	"github.com/voxgate/voxgate/protocol"
)

// toSession converts a wire MemorySnapshot into the in-process Session
// shape agentcore.InitSession expects. Both sides of the gateway<->agent
// boundary carry the same fields; this is pure data-transfer translation,
// not business logic, which is why it lives in the framing package rather
// than memory or protocol.
func toSession(snap protocol.MemorySnapshot) *memory.Session {
	s := &memory.Session{
		Verified:        snap.Verified,
		UserIntent:      snap.UserIntent,
		CurrentAgentID:  snap.CurrentAgentID,
		TaskSummary:     snap.TaskSummary,
		HandoffInFlight: snap.HandoffInFlight,
	}
	if snap.VerifiedUser != nil {
		verifiedAt, _ := time.Parse(time.RFC3339, snap.VerifiedUser.VerifiedAt)
		s.VerifiedUser = &memory.VerifiedUser{
			CustomerName: snap.VerifiedUser.CustomerName,
			AccountID:    snap.VerifiedUser.AccountID,
			SortCode:     snap.VerifiedUser.SortCode,
			VerifiedAt:   verifiedAt,
		}
	}
	return s
}
