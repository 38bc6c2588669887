// Package session owns the reconciled sign-in state: the single session
// value, the status broadcast, the reconciler state machine that is its
// only writer, and the link-callback intake that feeds it.
package session

import (
	"sync"

	"github.com/dropDatabas3/authbridge/internal/identity"
)

// Store holds the one current Session value. The reconciler replaces it;
// everyone else reads snapshots. Nothing is persisted here: the provider
// session is the durable artifact, and Unknown -> CheckStatus rebuilds
// local state from it on every cold start.
type Store struct {
	mu sync.RWMutex
	s  identity.Session
}

// NewStore starts at StatusUnknown.
func NewStore() *Store {
	return &Store{s: identity.Session{Status: identity.StatusUnknown}}
}

// Snapshot returns the current session value.
func (st *Store) Snapshot() identity.Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s
}

// Replace atomically swaps in the new session value.
func (st *Store) Replace(s identity.Session) {
	st.mu.Lock()
	st.s = s
	st.mu.Unlock()
}
