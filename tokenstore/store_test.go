package tokenstore

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/twitch-go/crypto"
)

func validToken() *Token {
	return &Token{
		AccessToken:  "access-123",
		RefreshToken: "refresh-456",
		ExpiresAt:    time.Now().Add(4 * time.Hour).UTC().Truncate(time.Second),
		Scopes:       []string{"channel:manage:broadcast"},
	}
}

func TestLoadNotFound(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "tokens.json"))
	_, err := s.Load()
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() error = %v, want ErrNotFound", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "tokens.json"))
	want := validToken()

	if err := s.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.AccessToken != want.AccessToken || got.RefreshToken != want.RefreshToken {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}
	if !got.ExpiresAt.Equal(want.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, want.ExpiresAt)
	}
	if len(got.Scopes) != 1 || got.Scopes[0] != "channel:manage:broadcast" {
		t.Errorf("Scopes = %v, want [channel:manage:broadcast]", got.Scopes)
	}
}

func TestSaveRejectsIncompleteToken(t *testing.T) {
	tests := []struct {
		name string
		tok  *Token
	}{
		{name: "nil token", tok: nil},
		{name: "missing access token", tok: &Token{RefreshToken: "r"}},
		{name: "missing refresh token", tok: &Token{AccessToken: "a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(filepath.Join(t.TempDir(), "tokens.json"))
			if err := s.Save(tt.tok); err == nil {
				t.Error("Save() expected error, got nil")
			}
			if _, err := os.Stat(s.Path()); !os.IsNotExist(err) {
				t.Error("Save() of incomplete token must not create a file")
			}
		})
	}
}

func TestSaveAtomicNoTempLeftover(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "tokens.json"))

	if err := s.Save(validToken()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tokens-") {
			t.Errorf("temp file %s left behind after successful save", e.Name())
		}
	}
	if len(entries) != 1 {
		t.Errorf("expected exactly 1 file in dir, got %d", len(entries))
	}
}

func TestSaveOverwritePreservesOldOnFailure(t *testing.T) {
	// A second Save that fails validation must leave the original file
	// byte-for-byte unchanged.
	dir := t.TempDir()
	s := New(filepath.Join(dir, "tokens.json"))

	if err := s.Save(validToken()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	before, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	if err := s.Save(&Token{AccessToken: "only-half"}); err == nil {
		t.Fatal("Save() of incomplete token expected error, got nil")
	}

	after, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(before) != string(after) {
		t.Error("failed save modified the existing token file")
	}
}

func TestSaveFilePermissions(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "tokens.json"))
	if err := s.Save(validToken()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(s.Path())
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("token file permissions = %o, want 600", perm)
	}
}

func TestLoadRejectsIncompleteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	if err := os.WriteFile(path, []byte(`{"access_token":"a"}`), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	_, err := New(path).Load()
	if err == nil {
		t.Error("Load() of incomplete file expected error, got nil")
	}
	if err != nil && !strings.Contains(err.Error(), "incomplete") {
		t.Errorf("Load() error = %v, want incomplete-token error", err)
	}
}

func TestEncryptedStoreRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	enc, err := crypto.NewAESEncryptor(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("NewAESEncryptor() error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "tokens.json")
	s := NewEncrypted(path, enc)

	want := validToken()
	if err := s.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// The raw file must not contain the plaintext tokens.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if strings.Contains(string(raw), "access-123") {
		t.Error("encrypted token file contains plaintext access token")
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.AccessToken != want.AccessToken {
		t.Errorf("AccessToken = %s, want %s", got.AccessToken, want.AccessToken)
	}

	// A plaintext store must fail to read the encrypted file.
	if _, err := New(path).Load(); err == nil {
		t.Error("plaintext Load() of encrypted file expected error, got nil")
	}
}
