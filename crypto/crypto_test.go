package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func randomKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate random key: %v", err)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestNewAESEncryptor(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		errorMsg string
	}{
		{name: "empty key", key: "", errorMsg: "encryption key is empty"},
		{name: "invalid base64", key: "not-valid-base64!@#$", errorMsg: "base64 decode failed"},
		{name: "key too short", key: base64.StdEncoding.EncodeToString(make([]byte, 16)), errorMsg: "must be 32 bytes"},
		{name: "key too long", key: base64.StdEncoding.EncodeToString(make([]byte, 64)), errorMsg: "must be 32 bytes"},
		{name: "valid 32-byte key", key: base64.StdEncoding.EncodeToString(make([]byte, 32))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewAESEncryptor(tt.key)
			if tt.errorMsg != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("NewAESEncryptor() error = %v, want error containing %q", err, tt.errorMsg)
				}
				return
			}
			if err != nil || enc == nil {
				t.Errorf("NewAESEncryptor() = %v, %v", enc, err)
			}
		})
	}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	enc, err := NewAESEncryptor(randomKey(t))
	if err != nil {
		t.Fatalf("NewAESEncryptor() error = %v", err)
	}
	for _, pt := range []string{"a", "ya29.a0AfH6SMB-refresh", strings.Repeat("x", 4096), "ünïcødé 🔑"} {
		ct, err := enc.Encrypt([]byte(pt))
		if err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		if bytes.Contains(ct, []byte(pt)) {
			t.Errorf("ciphertext contains plaintext %q", pt)
		}
		got, err := enc.Decrypt(ct)
		if err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if string(got) != pt {
			t.Errorf("Decrypt() = %q, want %q", got, pt)
		}
	}
}

func TestEncrypt_NonceIsRandom(t *testing.T) {
	enc, _ := NewAESEncryptor(randomKey(t))
	a, _ := enc.Encrypt([]byte("same"))
	b, _ := enc.Encrypt([]byte("same"))
	if bytes.Equal(a, b) {
		t.Error("two encryptions of the same plaintext produced identical ciphertext")
	}
}

func TestDecrypt_Failures(t *testing.T) {
	enc, _ := NewAESEncryptor(randomKey(t))
	other, _ := NewAESEncryptor(randomKey(t))
	ct, err := enc.Encrypt([]byte("sensitive data"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	tampered := bytes.Clone(ct)
	tampered[len(tampered)/2] ^= 0x01

	if _, err := enc.Decrypt(nil); err == nil {
		t.Error("Decrypt(nil) should fail")
	}
	if _, err := enc.Decrypt(ct[:8]); err == nil || !strings.Contains(err.Error(), "too short") {
		t.Errorf("Decrypt(short) error = %v", err)
	}
	if _, err := enc.Decrypt(tampered); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Decrypt(tampered) error = %v, want ErrDecrypt", err)
	}
	if _, err := other.Decrypt(ct); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Decrypt(wrong key) error = %v, want ErrDecrypt", err)
	}
	if _, err := enc.Encrypt(nil); err == nil {
		t.Error("Encrypt(empty) should fail")
	}
}

func TestEncryptDecryptString(t *testing.T) {
	enc, _ := NewAESEncryptor(randomKey(t))
	s, err := EncryptString(enc, "refresh-token")
	if err != nil {
		t.Fatalf("EncryptString() error = %v", err)
	}
	if _, err := base64.StdEncoding.DecodeString(s); err != nil {
		t.Errorf("EncryptString() output is not base64: %v", err)
	}
	got, err := DecryptString(enc, s)
	if err != nil || got != "refresh-token" {
		t.Errorf("DecryptString() = %q, %v", got, err)
	}

	if s, err := EncryptString(enc, ""); s != "" || err != nil {
		t.Errorf("EncryptString(\"\") = %q, %v; want empty", s, err)
	}
	if s, err := DecryptString(enc, ""); s != "" || err != nil {
		t.Errorf("DecryptString(\"\") = %q, %v; want empty", s, err)
	}
	if _, err := DecryptString(enc, "%%%"); err == nil || !strings.Contains(err.Error(), "base64") {
		t.Errorf("DecryptString(garbage) error = %v", err)
	}
}
