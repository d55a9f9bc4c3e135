package vault

import (
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key := deriveKey("master-key")
	plaintext := []byte(`{"api_key":"sk_test","webhook_secret":"whsec"}`)

	sealed, err := seal(plaintext, key)
	if err != nil {
		t.Fatalf("seal returned error: %v", err)
	}
	if sealed == string(plaintext) {
		t.Fatalf("sealed blob equals plaintext")
	}

	opened, err := open(sealed, key)
	if err != nil {
		t.Fatalf("open returned error: %v", err)
	}
	if string(opened) != string(plaintext) {
		t.Fatalf("round trip mismatch: got %q", opened)
	}
}

func TestSealProducesDistinctBlobs(t *testing.T) {
	key := deriveKey("master-key")
	a, err := seal([]byte("secret"), key)
	if err != nil {
		t.Fatalf("seal returned error: %v", err)
	}
	b, err := seal([]byte("secret"), key)
	if err != nil {
		t.Fatalf("seal returned error: %v", err)
	}
	// Random nonces: identical plaintext must not leak identical ciphertext.
	if a == b {
		t.Fatalf("expected distinct sealed blobs for same plaintext")
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	sealed, err := seal([]byte("secret"), deriveKey("key-one"))
	if err != nil {
		t.Fatalf("seal returned error: %v", err)
	}
	if _, err := open(sealed, deriveKey("key-two")); err == nil {
		t.Fatalf("expected decryption with wrong key to fail")
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	key := deriveKey("master-key")
	if _, err := open("%%%not-base64%%%", key); err == nil {
		t.Fatalf("expected undecodable blob to fail")
	}
	if _, err := open("c2hvcnQ=", key); err == nil {
		t.Fatalf("expected too-short blob to fail")
	}
}
