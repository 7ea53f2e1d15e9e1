// Package redisstore is an optional pluggable persistence backend for the
// Session Memory Store. It exists to demonstrate the "pluggable persistence
// outside the core" allowance of spec §6 — nothing in the core imports this
// package; operators wire it in at process start when session memory must
// survive a gateway restart.
//
// It persists exactly the fields memory.Session carries, with the same
// grace-period lifetime as the in-memory store; it is not a chat-history or
// audit store.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voxgate/voxgate/memory"
)

// Store persists memory.Session records in Redis, one key per session,
// expiring automatically after GraceTTL of inactivity so a crashed gateway
// does not leak state forever.
type Store struct {
	rdb      *redis.Client
	prefix   string
	graceTTL time.Duration
}

// New returns a Store backed by rdb. prefix namespaces keys (e.g.
// "voxgate:session:"); graceTTL should match the gateway's disconnect grace
// period (spec §4.7 recommends 30s, but a persistence backend typically
// wants a more generous window so a brief restart doesn't lose sessions).
func New(rdb *redis.Client, prefix string, graceTTL time.Duration) *Store {
	if prefix == "" {
		prefix = "voxgate:session:"
	}
	if graceTTL <= 0 {
		graceTTL = 5 * time.Minute
	}
	return &Store{rdb: rdb, prefix: prefix, graceTTL: graceTTL}
}

type wireSession struct {
	Verified        bool                `json:"verified"`
	VerifiedUser    *wireVerifiedUser   `json:"verifiedUser,omitempty"`
	UserIntent      string              `json:"userIntent,omitempty"`
	CurrentAgentID  string              `json:"currentAgentId,omitempty"`
	TaskSummary     string              `json:"taskSummary,omitempty"`
	HandoffInFlight bool                `json:"handoffInFlight"`
}

type wireVerifiedUser struct {
	CustomerName string    `json:"customerName"`
	AccountID    string    `json:"accountId"`
	SortCode     string    `json:"sortCode"`
	VerifiedAt   time.Time `json:"verifiedAt"`
}

func (s *Store) key(sessionID string) string {
	return s.prefix + sessionID
}

// Save writes sess under sessionID with the store's grace TTL.
func (s *Store) Save(ctx context.Context, sessionID string, sess memory.Session) error {
	w := wireSession{
		Verified:        sess.Verified,
		UserIntent:      sess.UserIntent,
		CurrentAgentID:  sess.CurrentAgentID,
		TaskSummary:     sess.TaskSummary,
		HandoffInFlight: sess.HandoffInFlight,
	}
	if sess.VerifiedUser != nil {
		w.VerifiedUser = &wireVerifiedUser{
			CustomerName: sess.VerifiedUser.CustomerName,
			AccountID:    sess.VerifiedUser.AccountID,
			SortCode:     sess.VerifiedUser.SortCode,
			VerifiedAt:   sess.VerifiedUser.VerifiedAt,
		}
	}
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("redisstore: marshal session %s: %w", sessionID, err)
	}
	if err := s.rdb.Set(ctx, s.key(sessionID), data, s.graceTTL).Err(); err != nil {
		return fmt.Errorf("redisstore: save session %s: %w", sessionID, err)
	}
	return nil
}

// Load reads the session persisted under sessionID. Returns
// memory.ErrNotFound when no record exists.
func (s *Store) Load(ctx context.Context, sessionID string) (memory.Session, error) {
	data, err := s.rdb.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return memory.Session{}, memory.ErrNotFound
		}
		return memory.Session{}, fmt.Errorf("redisstore: load session %s: %w", sessionID, err)
	}
	var w wireSession
	if err := json.Unmarshal(data, &w); err != nil {
		return memory.Session{}, fmt.Errorf("redisstore: unmarshal session %s: %w", sessionID, err)
	}
	out := memory.Session{
		Verified:        w.Verified,
		UserIntent:      w.UserIntent,
		CurrentAgentID:  w.CurrentAgentID,
		TaskSummary:     w.TaskSummary,
		HandoffInFlight: w.HandoffInFlight,
	}
	if w.VerifiedUser != nil {
		out.VerifiedUser = &memory.VerifiedUser{
			CustomerName: w.VerifiedUser.CustomerName,
			AccountID:    w.VerifiedUser.AccountID,
			SortCode:     w.VerifiedUser.SortCode,
			VerifiedAt:   w.VerifiedUser.VerifiedAt,
		}
	}
	return out, nil
}

// Delete removes the persisted record for sessionID, if any.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.rdb.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("redisstore: delete session %s: %w", sessionID, err)
	}
	return nil
}
