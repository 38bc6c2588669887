package provider

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dropDatabas3/authbridge/internal/security/secretbox"
)

func newFileVault(t *testing.T, keyByte byte) (*FileVault, string) {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = keyByte
	}
	box, err := secretbox.New(key)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "tokens.sealed")
	return NewFileVault(path, box), path
}

func TestFileVaultRoundTrip(t *testing.T) {
	v, path := newFileVault(t, 1)

	if ts, err := v.Load(); err != nil || ts != nil {
		t.Fatalf("fresh vault must be empty, got %+v (%v)", ts, err)
	}

	want := TokenSet{
		AccessToken:  "acc",
		IDToken:      "id",
		RefreshToken: "ref",
		ExpiresAt:    time.Now().Add(time.Hour).Truncate(time.Second),
	}
	if err := v.Save(want); err != nil {
		t.Fatal(err)
	}

	got, err := v.Load()
	if err != nil {
		t.Fatal(err)
	}
	if got.AccessToken != want.AccessToken || got.RefreshToken != want.RefreshToken {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if !got.ExpiresAt.Equal(want.ExpiresAt) {
		t.Fatalf("expiry mismatch: %v != %v", got.ExpiresAt, want.ExpiresAt)
	}

	// The file never holds plaintext tokens.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) == 0 || strings.Contains(string(raw), `"access_token"`) {
		t.Fatal("vault file must be sealed")
	}
}

func TestFileVaultClearIdempotent(t *testing.T) {
	v, _ := newFileVault(t, 1)
	if err := v.Save(TokenSet{AccessToken: "acc"}); err != nil {
		t.Fatal(err)
	}
	if err := v.Clear(); err != nil {
		t.Fatal(err)
	}
	if err := v.Clear(); err != nil {
		t.Fatalf("clearing an empty vault must succeed, got %v", err)
	}
	if ts, err := v.Load(); err != nil || ts != nil {
		t.Fatalf("cleared vault must be empty, got %+v (%v)", ts, err)
	}
}

func TestFileVaultWrongKey(t *testing.T) {
	v1, path := newFileVault(t, 1)
	if err := v1.Save(TokenSet{AccessToken: "acc"}); err != nil {
		t.Fatal(err)
	}

	key2 := make([]byte, 32)
	for i := range key2 {
		key2[i] = 2
	}
	box2, _ := secretbox.New(key2)
	v2 := NewFileVault(path, box2)
	if _, err := v2.Load(); err == nil {
		t.Fatal("loading with the wrong key must fail")
	}
}

func TestTokenSetExpired(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name string
		ts   TokenSet
		want bool
	}{
		{"no expiry recorded", TokenSet{}, false},
		{"fresh", TokenSet{ExpiresAt: now.Add(time.Hour)}, false},
		{"inside skew window", TokenSet{ExpiresAt: now.Add(10 * time.Second)}, true},
		{"past", TokenSet{ExpiresAt: now.Add(-time.Minute)}, true},
	}
	for _, tc := range cases {
		if got := tc.ts.Expired(now); got != tc.want {
			t.Fatalf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}
