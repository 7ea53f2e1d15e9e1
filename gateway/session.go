package gateway

// sessionState is the Gateway's per-session bookkeeping, owned exclusively
// by the single goroutine running Gateway.Serve for that session — no
// mutex is needed because that goroutine is the only writer and reader
// (spec §5's "per-session coordinator" serialization falls out of this for
// free, rather than being layered on top with locks).
type sessionState struct {
	id             string
	clientConn     Conn
	upstreamConn   Conn
	currentAgentID string
	breaker        *Breaker

	// buffering and buffer implement the H0->H1 "begin buffering inbound
	// client frames" step; buffer is flushed at H5->H6 or drained back to
	// the prior upstream on rollback.
	buffering  bool
	buffer     []Frame
	bufferBytes int
}

func newSessionState(id string, client Conn, cfg Config) *sessionState {
	return &sessionState{
		id:         id,
		clientConn: client,
		breaker:    NewBreaker(cfg.MaxSessionErrors, cfg.ErrorWindow),
	}
}

// tryBuffer appends f to the handoff buffer, returning false if doing so
// would exceed the configured bound (spec §5: "overflow aborts handoff").
func (s *sessionState) tryBuffer(f Frame, cfg Config) bool {
	if len(s.buffer)+1 > cfg.HandoffBufferMaxFrames {
		return false
	}
	if s.bufferBytes+len(f.Data) > cfg.HandoffBufferMaxBytes {
		return false
	}
	s.buffer = append(s.buffer, f)
	s.bufferBytes += len(f.Data)
	return true
}

func (s *sessionState) resetBuffer() {
	s.buffer = nil
	s.bufferBytes = 0
}
