package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

var ErrCiphertext = errors.New("auth: malformed or tampered credential")

// TokenCipher seals stored mailbox credentials with NaCl secretbox.
type TokenCipher struct {
	key [32]byte
}

// NewTokenCipher derives the box key from an operator-supplied secret.
func NewTokenCipher(secret string) (*TokenCipher, error) {
	if secret == "" {
		return nil, errors.New("auth: empty token encryption key")
	}
	c := &TokenCipher{}
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte("jobsync mailbox credential v1"))
	if _, err := io.ReadFull(r, c.key[:]); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return c, nil
}

// Seal returns base64(nonce || box).
func (c *TokenCipher) Seal(plaintext []byte) (string, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	out := secretbox.Seal(nonce[:], plaintext, &nonce, &c.key)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

func (c *TokenCipher) Open(sealed string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil || len(raw) < 24+secretbox.Overhead {
		return nil, ErrCiphertext
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plain, ok := secretbox.Open(nil, raw[24:], &nonce, &c.key)
	if !ok {
		return nil, ErrCiphertext
	}
	return plain, nil
}
