package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
)

func testKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestNewAESEncryptor(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		errorMsg  string
		wantError bool
	}{
		{
			name:      "empty key",
			key:       "",
			wantError: true,
			errorMsg:  "encryption key is empty",
		},
		{
			name:      "invalid base64",
			key:       "not-valid-base64!@#$",
			wantError: true,
			errorMsg:  "base64 decode failed",
		},
		{
			name:      "key too short",
			key:       base64.StdEncoding.EncodeToString(make([]byte, 16)),
			wantError: true,
			errorMsg:  "must be 32 bytes",
		},
		{
			name:      "key too long",
			key:       base64.StdEncoding.EncodeToString(make([]byte, 64)),
			wantError: true,
			errorMsg:  "must be 32 bytes",
		},
		{
			name:      "valid 32-byte key",
			key:       base64.StdEncoding.EncodeToString(make([]byte, 32)),
			wantError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewAESEncryptor(tt.key)

			if tt.wantError {
				if err == nil {
					t.Error("NewAESEncryptor() expected error, got nil")
					return
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("NewAESEncryptor() error = %v, want containing %q", err, tt.errorMsg)
				}
				return
			}

			if err != nil {
				t.Errorf("NewAESEncryptor() unexpected error = %v", err)
			}
			if enc == nil {
				t.Error("NewAESEncryptor() returned nil encryptor")
			}
		})
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	if err != nil {
		t.Fatalf("NewAESEncryptor() error = %v", err)
	}

	plaintext := []byte(`{"access_token":"abc","refresh_token":"def"}`)

	ciphertext, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if bytes.Contains(ciphertext, []byte("access_token")) {
		t.Error("ciphertext contains plaintext fragment")
	}

	got, err := enc.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Decrypt() = %q, want %q", got, plaintext)
	}
}

func TestEncryptEmptyPlaintext(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	if err != nil {
		t.Fatalf("NewAESEncryptor() error = %v", err)
	}

	if _, err := enc.Encrypt(nil); err == nil {
		t.Error("Encrypt(nil) expected error, got nil")
	}
}

func TestEncryptUniqueNonce(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	if err != nil {
		t.Fatalf("NewAESEncryptor() error = %v", err)
	}

	plaintext := []byte("same input")
	c1, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	c2, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if bytes.Equal(c1, c2) {
		t.Error("two encryptions of the same plaintext produced identical ciphertext (nonce reuse)")
	}
}

func TestDecryptTampered(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	if err != nil {
		t.Fatalf("NewAESEncryptor() error = %v", err)
	}

	ciphertext, err := enc.Encrypt([]byte("secret tokens"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	// Flip a byte past the nonce prefix.
	ciphertext[len(ciphertext)-1] ^= 0xFF

	if _, err := enc.Decrypt(ciphertext); err == nil {
		t.Error("Decrypt() of tampered ciphertext expected error, got nil")
	}
}

func TestDecryptTooShort(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	if err != nil {
		t.Fatalf("NewAESEncryptor() error = %v", err)
	}

	if _, err := enc.Decrypt([]byte{0x01, 0x02}); err == nil {
		t.Error("Decrypt() of truncated ciphertext expected error, got nil")
	}
	if _, err := enc.Decrypt(nil); err == nil {
		t.Error("Decrypt(nil) expected error, got nil")
	}
}

func TestDecryptWrongKey(t *testing.T) {
	enc1, err := NewAESEncryptor(testKey(t))
	if err != nil {
		t.Fatalf("NewAESEncryptor() error = %v", err)
	}
	enc2, err := NewAESEncryptor(testKey(t))
	if err != nil {
		t.Fatalf("NewAESEncryptor() error = %v", err)
	}

	ciphertext, err := enc1.Encrypt([]byte("cross-key"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if _, err := enc2.Decrypt(ciphertext); err == nil {
		t.Error("Decrypt() with a different key expected error, got nil")
	}
}
