package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// KeyBits is the RSA modulus size used for new identities.
const KeyBits = 2048

var (
	// ErrInvalidPublicKey is returned when a key string cannot be decoded.
	ErrInvalidPublicKey = errors.New("invalid public key")
)

// Provider supplies the local key pair.
type Provider interface {
	PublicKey() *rsa.PublicKey
	PrivateKey() *rsa.PrivateKey
}

// Static is a Provider backed by an in-memory key pair.
type Static struct {
	priv *rsa.PrivateKey
}

// NewStatic wraps an existing private key.
func NewStatic(priv *rsa.PrivateKey) *Static {
	return &Static{priv: priv}
}

// Generate creates a fresh in-memory identity.
func Generate() (*Static, error) {
	priv, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return NewStatic(priv), nil
}

func (s *Static) PublicKey() *rsa.PublicKey   { return &s.priv.PublicKey }
func (s *Static) PrivateKey() *rsa.PrivateKey { return s.priv }

// PublicKeyToString encodes pub as base64 of its PKIX DER form.
func PublicKeyToString(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// StringToPublicKey reverses PublicKeyToString.
func StringToPublicKey(s string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", ErrInvalidPublicKey)
	}
	return pub, nil
}

// Fingerprint returns a short hex fingerprint of a public key.
//
// It hashes the PKIX DER with SHA-256 and truncates to 10 bytes (20 hex chars).
func Fingerprint(pub *rsa.PublicKey) string {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:10])
}

// Compile-time assertion that Static implements Provider.
var _ Provider = (*Static)(nil)
