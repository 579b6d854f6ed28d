// Package crypto encrypts message bodies for a recipient's RSA public key.
//
// Bodies are sealed with a hybrid scheme: a fresh 32-byte ChaCha20-Poly1305
// key per message, wrapped with RSA-OAEP (SHA-256) under the recipient key.
// Plaintext size is therefore bounded only by the transport frame limit, not
// by the RSA block size.
//
// Payload layout:
//
//	version(1) | wrappedKeyLen(2, big-endian) | wrappedKey | nonce(12) | sealed body
package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const payloadVersion byte = 1

var (
	// ErrUnreadable is returned when a payload cannot be decrypted with the
	// local private key (malformed, tampered, or meant for someone else).
	ErrUnreadable = errors.New("message unreadable")

	// oaepLabel binds wrapped keys to this use.
	oaepLabel = []byte("lanchat/v1")
)

// EncryptFor seals plaintext so that only the holder of the private key
// matching pub can read it.
func EncryptFor(plaintext []byte, pub *rsa.PublicKey) ([]byte, error) {
	if pub == nil {
		return nil, errors.New("encrypt: nil recipient key")
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	defer wipe(key)

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, oaepLabel)
	if err != nil {
		return nil, fmt.Errorf("wrap key: %w", err)
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	header := make([]byte, 3, 3+len(wrapped)+len(nonce))
	header[0] = payloadVersion
	binary.BigEndian.PutUint16(header[1:3], uint16(len(wrapped)))
	header = append(header, wrapped...)
	header = append(header, nonce...)

	// The header is authenticated as associated data so the wrapped key and
	// nonce cannot be swapped between payloads.
	return aead.Seal(header, nonce, plaintext, header), nil
}

// DecryptWith opens a payload produced by EncryptFor. Every failure wraps
// ErrUnreadable.
func DecryptWith(payload []byte, priv *rsa.PrivateKey) ([]byte, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: nil private key", ErrUnreadable)
	}
	if len(payload) < 3 {
		return nil, fmt.Errorf("%w: payload too short", ErrUnreadable)
	}
	if payload[0] != payloadVersion {
		return nil, fmt.Errorf("%w: unsupported payload version %d", ErrUnreadable, payload[0])
	}
	wrappedLen := int(binary.BigEndian.Uint16(payload[1:3]))
	headerLen := 3 + wrappedLen + chacha20poly1305.NonceSize
	if len(payload) < headerLen+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("%w: payload truncated", ErrUnreadable)
	}

	wrapped := payload[3 : 3+wrappedLen]
	nonce := payload[3+wrappedLen : headerLen]

	key, err := rsa.DecryptOAEP(sha256.New(), nil, priv, wrapped, oaepLabel)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap key: %v", ErrUnreadable, err)
	}
	defer wipe(key)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	pt, err := aead.Open(nil, nonce, payload[headerLen:], payload[:headerLen])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return pt, nil
}

// wipe zeroes sensitive key material. Best effort.
func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
