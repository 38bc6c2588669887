package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/dropDatabas3/authbridge/internal/security/secretbox"
	"github.com/dropDatabas3/authbridge/internal/util/atomicwrite"
)

// TokenSet is the provider session material. This, not any local state, is
// what makes the session durable across restarts.
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	IDToken      string    `json:"id_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the access token is past its lifetime, with a
// small skew so a token about to expire is refreshed rather than used.
func (t TokenSet) Expired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return now.After(t.ExpiresAt.Add(-30 * time.Second))
}

// TokenVault persists the provider token set between process runs.
type TokenVault interface {
	// Save replaces the stored token set.
	Save(ts TokenSet) error
	// Load returns the stored token set, or (nil, nil) when none exists.
	Load() (*TokenSet, error)
	// Clear removes the stored token set. Idempotent.
	Clear() error
}

// FileVault stores the token set in one file, sealed with the secretbox.
// The on-device analog of a mobile keychain entry.
type FileVault struct {
	path string
	box  *secretbox.Box
	mu   sync.Mutex
}

// NewFileVault builds a vault at path using box for sealing.
func NewFileVault(path string, box *secretbox.Box) *FileVault {
	return &FileVault{path: path, box: box}
}

func (v *FileVault) Save(ts TokenSet) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	raw, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("marshal token set: %w", err)
	}
	sealed, err := v.box.Seal(raw)
	if err != nil {
		return fmt.Errorf("seal token set: %w", err)
	}
	return atomicwrite.WriteFile(v.path, []byte(sealed), 0o600)
}

func (v *FileVault) Load() (*TokenSet, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	sealed, err := os.ReadFile(v.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read vault: %w", err)
	}
	raw, err := v.box.Open(string(sealed))
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}
	var ts TokenSet
	if err := json.Unmarshal(raw, &ts); err != nil {
		return nil, fmt.Errorf("unmarshal token set: %w", err)
	}
	return &ts, nil
}

func (v *FileVault) Clear() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := os.Remove(v.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear vault: %w", err)
	}
	return nil
}

// MemoryVault keeps the token set in process memory. Used in tests and in
// deployments that accept re-authenticating on every start.
type MemoryVault struct {
	mu sync.Mutex
	ts *TokenSet
}

func NewMemoryVault() *MemoryVault { return &MemoryVault{} }

func (v *MemoryVault) Save(ts TokenSet) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	cp := ts
	v.ts = &cp
	return nil
}

func (v *MemoryVault) Load() (*TokenSet, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ts == nil {
		return nil, nil
	}
	cp := *v.ts
	return &cp, nil
}

func (v *MemoryVault) Clear() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ts = nil
	return nil
}
