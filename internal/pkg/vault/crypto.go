package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/nacl/secretbox"
)

var errSealedTooShort = errors.New("sealed credential blob too short")

// deriveKey stretches the configured master key into the fixed-size
// secretbox key.
func deriveKey(masterKey string) [32]byte {
	return sha256.Sum256([]byte(masterKey))
}

// seal encrypts plaintext with a random nonce and returns a base64 blob so
// the stored value is not plaintext-searchable.
func seal(plaintext []byte, key [32]byte) (string, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// open decrypts a blob produced by seal.
func open(encoded string, key [32]byte) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	if len(sealed) < 24 {
		return nil, errSealedTooShort
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plaintext, ok := secretbox.Open(nil, sealed[24:], &nonce, &key)
	if !ok {
		return nil, errors.New("credential blob failed to decrypt")
	}
	return plaintext, nil
}
