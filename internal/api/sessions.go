package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/grocer/internal/agent"
)

// Session pairs a conversation with a lock that serializes turns: state
// transitions within one session are never interleaved, even when a client
// sends overlapping requests.
type Session struct {
	mu       sync.Mutex
	Conv     *agent.Conversation
	lastSeen time.Time
}

// Do runs fn with exclusive access to the session's conversation.
func (s *Session) Do(fn func(*agent.Conversation) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.Conv)
}

// SessionStore owns the live sessions and evicts idle ones. Conversations
// themselves never expire their own state; expiry is this collaborator's
// responsibility.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	idleTTL  time.Duration
}

// NewSessionStore creates a store evicting sessions idle longer than
// idleTTL. Non-positive idleTTL defaults to 30 minutes.
func NewSessionStore(idleTTL time.Duration) *SessionStore {
	if idleTTL <= 0 {
		idleTTL = 30 * time.Minute
	}
	return &SessionStore{
		sessions: make(map[string]*Session),
		idleTTL:  idleTTL,
	}
}

// GetOrCreate returns the session for id, creating it (and a session id,
// when id is empty) as needed.
func (st *SessionStore) GetOrCreate(id string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	if id != "" {
		if s, ok := st.sessions[id]; ok {
			s.lastSeen = time.Now()
			return s
		}
	}

	conv := agent.NewConversation(id)
	s := &Session{Conv: conv, lastSeen: time.Now()}
	st.sessions[conv.SessionID] = s
	return s
}

// Delete ends a session explicitly.
func (st *SessionStore) Delete(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

// Len returns the number of live sessions.
func (st *SessionStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Prune evicts sessions idle past the TTL and returns how many were removed.
func (st *SessionStore) Prune() int {
	st.mu.Lock()
	defer st.mu.Unlock()

	cutoff := time.Now().Add(-st.idleTTL)
	removed := 0
	for id, s := range st.sessions {
		if s.lastSeen.Before(cutoff) {
			delete(st.sessions, id)
			removed++
		}
	}
	return removed
}

// Run prunes periodically until ctx is cancelled.
func (st *SessionStore) Run(ctx context.Context) {
	ticker := time.NewTicker(st.idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := st.Prune(); n > 0 {
				slog.Debug("pruned idle sessions", "count", n)
			}
		}
	}
}
