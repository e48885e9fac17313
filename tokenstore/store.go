// Package tokenstore persists the Twitch OAuth token pair to a single file
// on disk. Writes are atomic (temp file + rename) so a crash mid-write never
// leaves a truncated or corrupt credential file. There is no locking: the
// tool assumes a single user and a single process per invocation.
package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/onnwee/twitch-go/crypto"
)

// ErrNotFound is returned by Load when no token file exists yet. The caller
// should run the interactive authorization flow.
var ErrNotFound = errors.New("token file not found")

// Token is the on-disk credential shape. ExpiresAt is absolute (server
// lifetime minus the safety margin is applied by the auth client, not here).
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scopes       []string  `json:"scopes,omitempty"`
}

// Store reads and writes the token file. When an Encryptor is set the JSON
// payload is sealed with AES-256-GCM before hitting disk.
type Store struct {
	path string
	enc  crypto.Encryptor
}

// New creates a plaintext store at path.
func New(path string) *Store {
	return &Store{path: path}
}

// NewEncrypted creates a store that encrypts the payload at rest.
func NewEncrypted(path string, enc crypto.Encryptor) *Store {
	return &Store{path: path, enc: enc}
}

// Path returns the token file location.
func (s *Store) Path() string { return s.path }

// Load reads and decodes the token file. Returns ErrNotFound when the file
// does not exist.
func (s *Store) Load() (*Token, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read token file: %w", err)
	}

	if s.enc != nil {
		data, err = s.enc.Decrypt(data)
		if err != nil {
			return nil, fmt.Errorf("decrypt token file: %w", err)
		}
	}

	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	if tok.AccessToken == "" || tok.RefreshToken == "" {
		return nil, fmt.Errorf("token file incomplete: missing access or refresh token")
	}
	return &tok, nil
}

// Save writes the token atomically: encode, write to a temp file in the same
// directory, fsync, then rename over the target. A token is never persisted
// without both halves of the pair.
func (s *Store) Save(tok *Token) error {
	if tok == nil || tok.AccessToken == "" || tok.RefreshToken == "" {
		return fmt.Errorf("refusing to save incomplete token: both access and refresh token required")
	}

	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if s.enc != nil {
		data, err = s.enc.Encrypt(data)
		if err != nil {
			return fmt.Errorf("encrypt token: %w", err)
		}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tokens-*")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op after a successful rename; cleans up on every error path.
		_ = os.Remove(tmpName)
	}()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp token file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp token file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp token file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}
