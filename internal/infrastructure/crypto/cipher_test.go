package crypto

import (
	"errors"
	"strings"
	"testing"

	pkgerrors "github.com/Hwoarang91/afrodita-sub000/pkg/errors"
)

func newTestCipher(t *testing.T) *BlobCipher {
	t.Helper()
	key, err := ParseKey("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("ParseKey failed: %v", err)
	}
	c, err := NewBlobCipher(key)
	if err != nil {
		t.Fatalf("NewBlobCipher failed: %v", err)
	}
	return c
}

func TestRoundTrip(t *testing.T) {
	c := newTestCipher(t)

	plaintexts := []string{
		"",
		"{}",
		`{"authKey":"AQID","dc":2}`,
		strings.Repeat("x", 4096),
		"unicode: привет мир",
	}

	for _, plaintext := range plaintexts {
		ciphertext, err := c.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}
		decrypted, err := c.Decrypt(ciphertext)
		if err != nil {
			t.Fatalf("Decrypt failed: %v", err)
		}
		if decrypted != plaintext {
			t.Errorf("round trip mismatch: got %q, want %q", decrypted, plaintext)
		}
	}
}

func TestEncrypt_FreshNonce(t *testing.T) {
	c := newTestCipher(t)

	first, err := c.Encrypt("same input")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	second, err := c.Encrypt("same input")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if first == second {
		t.Error("two encryptions of the same input produced identical ciphertext")
	}
}

func TestDecrypt_AbsentData(t *testing.T) {
	c := newTestCipher(t)

	for _, input := range []string{"", "   ", "\t\n"} {
		got, err := c.Decrypt(input)
		if err != nil {
			t.Fatalf("Decrypt(%q) failed: %v", input, err)
		}
		if got != "{}" {
			t.Errorf("Decrypt(%q) = %q, want {}", input, got)
		}
	}
}

func TestDecrypt_MalformedIsSessionInvalid(t *testing.T) {
	c := newTestCipher(t)

	inputs := []string{
		"onlyonefield",
		"two:fields",
		"a:b:c:d",
		"::",
		":tag:payload",
		"bm9uY2U=:tag:payload",
	}

	for _, input := range inputs {
		_, err := c.Decrypt(input)
		if err == nil {
			t.Errorf("Decrypt(%q) succeeded, want SessionInvalidError", input)
			continue
		}
		var sessionInvalid *pkgerrors.SessionInvalidError
		if !errors.As(err, &sessionInvalid) {
			t.Errorf("Decrypt(%q) returned %T, want SessionInvalidError", input, err)
		}
	}
}

func TestDecrypt_TamperedTag(t *testing.T) {
	c := newTestCipher(t)

	ciphertext, err := c.Encrypt(`{"authKey":"secret"}`)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	parts := strings.Split(ciphertext, ":")
	// Flip the payload so tag verification fails.
	parts[2] = strings.Repeat("A", len(parts[2])/4*4)
	tampered := strings.Join(parts, ":")

	_, err = c.Decrypt(tampered)
	var sessionInvalid *pkgerrors.SessionInvalidError
	if !errors.As(err, &sessionInvalid) {
		t.Fatalf("tampered ciphertext returned %T, want SessionInvalidError", err)
	}
}

func TestDecryptSafe(t *testing.T) {
	c := newTestCipher(t)

	if got := c.DecryptSafe("garbage"); got != nil {
		t.Errorf("DecryptSafe(garbage) = %v, want nil", *got)
	}

	ciphertext, err := c.Encrypt("payload")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	got := c.DecryptSafe(ciphertext)
	if got == nil || *got != "payload" {
		t.Errorf("DecryptSafe round trip failed: %v", got)
	}
}

func TestParseKey(t *testing.T) {
	hexKey := strings.Repeat("ab", 32)
	raw, err := ParseKey(hexKey)
	if err != nil {
		t.Fatalf("ParseKey(hex) failed: %v", err)
	}
	if len(raw) != 32 || raw[0] != 0xab {
		t.Errorf("hex key not used as raw bytes: % x", raw[:4])
	}

	derived, err := ParseKey(strings.Repeat("p", 40))
	if err != nil {
		t.Fatalf("ParseKey(passphrase) failed: %v", err)
	}
	if len(derived) != 32 {
		t.Errorf("derived key length = %d, want 32", len(derived))
	}

	if _, err := ParseKey("too-short"); err == nil {
		t.Error("ParseKey accepted a key shorter than 32 characters")
	}
}
