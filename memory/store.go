// Package memory implements the Session Memory Store (C1): a per-session
// key/value record surviving handoffs, with atomic read/update/delete and
// the intent-lifecycle policy of spec §4.1.
package memory

import (
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned by Get, Snapshot, Update, and SetHandoffInFlight
// when the session id is unknown.
var ErrNotFound = errors.New("memory: session not found")

// VerifiedUser records a customer identity established by a successful IDV
// tool call.
type VerifiedUser struct {
	CustomerName string
	AccountID    string
	SortCode     string
	VerifiedAt   time.Time
}

// Session is the per-session record described in spec §3. A zero value
// session carries no verified user and no intent.
type Session struct {
	Verified        bool
	VerifiedUser    *VerifiedUser
	UserIntent      string
	CurrentAgentID  string
	TaskSummary     string
	HandoffInFlight bool
}

// clone returns a deep-enough copy for safe external use (copy-on-read).
func (s Session) clone() Session {
	out := s
	if s.VerifiedUser != nil {
		vu := *s.VerifiedUser
		out.VerifiedUser = &vu
	}
	return out
}

// Update describes the mutation a caller wants to apply in one atomic step,
// plus the identity needed to enforce the intent-lifecycle policy.
type Update struct {
	// CallerIsRoutingAgent identifies whether the agent originating this
	// update carries the routing capability (only the routing agent may
	// set a new UserIntent per I-M2).
	CallerIsRoutingAgent bool

	// SetUserIntent, when non-nil, requests setting UserIntent to the
	// given value. Subject to the intent-lifecycle policy below.
	SetUserIntent *string

	// IsReturn, when true, clears UserIntent and records TaskSummary from
	// TaskCompleted atomically (spec §4.1 rule 2).
	IsReturn      bool
	TaskCompleted string

	// SetTaskSummary, when non-nil, sets TaskSummary directly without
	// touching UserIntent. Used for a plain update_memory patch (spec
	// §4.7 step 5), as opposed to the IsReturn combination a handoff
	// return applies.
	SetTaskSummary *string

	// SetVerifiedUser, when non-nil, sets VerifiedUser and Verified=true
	// together (I-M1). A non-nil pointer to a zero VerifiedUser is treated
	// the same as any other value — callers wanting to clear verification
	// use ClearVerifiedUser instead.
	SetVerifiedUser *VerifiedUser

	// ClearVerifiedUser, when true, clears both VerifiedUser and Verified
	// together (I-M1). No agent in this core emits this; it exists for
	// completeness and for tests exercising P3.
	ClearVerifiedUser bool

	// SetCurrentAgentID, when non-empty, updates CurrentAgentID.
	SetCurrentAgentID string
}

// Store holds one Session per session id with per-session exclusive
// mutation and cheap copy-on-read snapshots, mirroring the teacher's
// inmem.Store shape (two-level isolation traded here for one level since
// sessions, unlike agent runs, are not further partitioned).
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
}

type entry struct {
	mu      sync.Mutex
	session Session
}

// New returns an empty, ready-to-use Store.
func New() *Store {
	return &Store{sessions: make(map[string]*entry)}
}

// Create installs a new, empty Session for sessionID. Calling Create twice
// for the same id resets the record to zero value; callers normally call
// this exactly once, at session-accept time (spec §3 lifecycle).
func (s *Store) Create(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = &entry{}
}

// Get returns a copy-on-read snapshot of the session, or ErrNotFound.
func (s *Store) Get(sessionID string) (Session, error) {
	s.mu.RLock()
	e, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return Session{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.clone(), nil
}

// Snapshot is an alias for Get naming the handoff-payload use case
// explicitly (spec §4.1: "Snapshot(sessionId) -> SessionMemory").
func (s *Store) Snapshot(sessionID string) (Session, error) {
	return s.Get(sessionID)
}

// Delete removes the session's record entirely.
func (s *Store) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Update applies u to the session's record under the session's exclusive
// lock (P1: concurrent updates to one session are serialized; updates
// across sessions proceed in parallel) and returns the resulting snapshot.
//
// The intent-lifecycle policy (spec §4.1) is enforced here, not by callers:
//
//  1. A SetUserIntent from a non-routing agent is rejected (silently
//     preserving the existing value) when an intent is already present.
//     The routing agent may always set UserIntent, overwriting any prior
//     value (scenario S2).
//  2. IsReturn clears UserIntent and records TaskSummary, atomically with
//     any SetUserIntent in the same Update (IsReturn wins).
//  3. SetVerifiedUser/ClearVerifiedUser always touch Verified and
//     VerifiedUser together (I-M1); VerifiedUser is never downgraded by a
//     plain SetUserIntent-only update.
func (s *Store) Update(sessionID string, u Update) (Session, error) {
	s.mu.RLock()
	e, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return Session{}, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.session

	if u.SetCurrentAgentID != "" {
		cur.CurrentAgentID = u.SetCurrentAgentID
	}

	if u.SetVerifiedUser != nil {
		vu := *u.SetVerifiedUser
		cur.VerifiedUser = &vu
		cur.Verified = true
	}
	if u.ClearVerifiedUser {
		cur.VerifiedUser = nil
		cur.Verified = false
	}

	if u.SetTaskSummary != nil {
		cur.TaskSummary = *u.SetTaskSummary
	}

	switch {
	case u.IsReturn:
		cur.UserIntent = ""
		cur.TaskSummary = u.TaskCompleted
	case u.SetUserIntent != nil:
		if u.CallerIsRoutingAgent || cur.UserIntent == "" {
			cur.UserIntent = *u.SetUserIntent
		}
		// else: non-routing agent attempting to overwrite an existing
		// intent — reject the set, preserve the existing value (I-M2).
	}

	e.session = cur
	return cur.clone(), nil
}

// SetHandoffInFlight sets or clears the handoffInFlight flag (I-M3). It is
// split out from Update because the Handoff Coordinator flips this flag at
// state-machine boundaries that do not correspond to an agent-originated
// memory patch.
func (s *Store) SetHandoffInFlight(sessionID string, inFlight bool) error {
	s.mu.RLock()
	e, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.HandoffInFlight = inFlight
	return nil
}
