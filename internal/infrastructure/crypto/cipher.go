// Package crypto implements the authenticated encryption codec for session
// blobs. Every session's MTProto state is stored as one ciphertext string of
// three colon-separated base64 fields: nonce, auth tag, payload.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	pkgerrors "github.com/Hwoarang91/afrodita-sub000/pkg/errors"
)

const (
	keySize   = 32
	nonceSize = 16
	tagSize   = 16

	// emptyObject is what Decrypt returns for absent data, so callers can
	// always json-parse the result.
	emptyObject = "{}"
)

// ParseKey turns the configured secret into raw AES-256 key bytes. A 64
// character hex string is used directly as key material; any other value of
// at least 32 characters is passed through SHA-256. Shorter values are
// rejected, which makes a missing key a startup error rather than a runtime
// one.
func ParseKey(secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if len(secret) == 2*keySize {
		if raw, err := hex.DecodeString(secret); err == nil {
			return raw, nil
		}
	}
	if len(secret) < keySize {
		return nil, fmt.Errorf("session encryption key must be at least %d characters", keySize)
	}
	derived := sha256.Sum256([]byte(secret))
	return derived[:], nil
}

// BlobCipher encrypts and decrypts session blobs with AES-256-GCM.
type BlobCipher struct {
	aead cipher.AEAD
}

// NewBlobCipher creates a cipher from raw 32-byte key material.
func NewBlobCipher(key []byte) (*BlobCipher, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("session encryption key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &BlobCipher{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (c *BlobCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	payload := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return strings.Join([]string{
		base64.StdEncoding.EncodeToString(nonce),
		base64.StdEncoding.EncodeToString(tag),
		base64.StdEncoding.EncodeToString(payload),
	}, ":"), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Null, empty and
// whitespace-only input decrypt to "{}" so absent session data never fails.
// Every structural problem (wrong field count, empty field, bad base64, tag
// verification failure) surfaces as a SessionInvalidError: this is the
// single choke point for "session data is corrupt", so callers treat it
// uniformly as "re-authorize required".
func (c *BlobCipher) Decrypt(ciphertext string) (string, error) {
	if strings.TrimSpace(ciphertext) == "" {
		return emptyObject, nil
	}

	parts := strings.Split(ciphertext, ":")
	if len(parts) != 3 {
		return "", pkgerrors.NewSessionInvalidErrorf("malformed session ciphertext: expected 3 fields, got %d", len(parts))
	}
	// The payload field may be empty: an empty plaintext seals to just the
	// auth tag. Only nonce and tag must be present.
	for i, part := range parts[:2] {
		if part == "" {
			return "", pkgerrors.NewSessionInvalidErrorf("malformed session ciphertext: field %d is empty", i)
		}
	}

	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSize {
		return "", pkgerrors.NewSessionInvalidError("malformed session ciphertext: bad nonce")
	}
	tag, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return "", pkgerrors.NewSessionInvalidError("malformed session ciphertext: bad auth tag")
	}
	payload, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", pkgerrors.NewSessionInvalidError("malformed session ciphertext: bad payload")
	}

	plaintext, err := c.aead.Open(nil, nonce, append(payload, tag...), nil)
	if err != nil {
		return "", pkgerrors.NewSessionInvalidError("session ciphertext failed authentication")
	}
	return string(plaintext), nil
}

// DecryptSafe returns nil instead of an error on malformed input. Used
// where corrupt stored state means "no data", not a failure.
func (c *BlobCipher) DecryptSafe(ciphertext string) *string {
	plaintext, err := c.Decrypt(ciphertext)
	if err != nil {
		return nil
	}
	return &plaintext
}
