package message

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// sealForRecipient seals plaintext under a key derived from a raw X25519 (or
// PSK) shared secret via HKDF-SHA256, using the AEAD the teacher's Noise
// cipher suite selects (golang.org/x/crypto/chacha20poly1305, the same
// primitive noise.CipherChaChaPoly wraps). Returns nonce||ciphertext.
func sealForRecipient(sharedSecret, info, plaintext []byte) ([]byte, error) {
	key, err := deriveAEADKey(sharedSecret, info)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("message: new aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("message: generate nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	return append(nonce, sealed...), nil
}

// openForRecipient reverses sealForRecipient.
func openForRecipient(sharedSecret, info, sealed []byte) ([]byte, error) {
	key, err := deriveAEADKey(sharedSecret, info)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("message: new aead: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("message: sealed value too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("message: open sealed value: %w", err)
	}
	return plaintext, nil
}

// sealedSize returns the wire length of sealForRecipient's output for a
// plaintext of length n.
func sealedSize(n int) int {
	return chacha20poly1305.NonceSizeX + n + chacha20poly1305.Overhead
}

func deriveAEADKey(sharedSecret, info []byte) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, sharedSecret, nil, info)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("message: derive aead key: %w", err)
	}
	return key, nil
}
