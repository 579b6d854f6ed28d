package identity

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// sealedKeyType is the PEM block type of a passphrase-protected private key.
// Its headers carry everything needed to derive the sealing key again.
const sealedKeyType = "LANCHAT SEALED PRIVATE KEY"

var (
	ErrWrongPassphrase    = errors.New("wrong passphrase or corrupted private key")
	ErrPassphraseRequired = errors.New("private key is sealed, passphrase required")
)

// kdfParams are the scrypt cost parameters recorded with each sealed key.
type kdfParams struct {
	N, R, P int
}

var defaultKDF = kdfParams{N: 1 << 15, R: 8, P: 1}

// maxKDFCost bounds N read back from disk so a doctored file cannot make
// loading allocate gigabytes.
const maxKDFCost = 1 << 20

func (k kdfParams) String() string {
	return fmt.Sprintf("scrypt,N=%d,r=%d,p=%d", k.N, k.R, k.P)
}

func parseKDF(s string) (kdfParams, error) {
	var k kdfParams
	if _, err := fmt.Sscanf(s, "scrypt,N=%d,r=%d,p=%d", &k.N, &k.R, &k.P); err != nil {
		return k, fmt.Errorf("unsupported kdf %q", s)
	}
	if k.N <= 1 || k.N > maxKDFCost || k.R <= 0 || k.P <= 0 {
		return k, fmt.Errorf("unsupported kdf %q", s)
	}
	return k, nil
}

func (k kdfParams) derive(passphrase string, salt []byte) ([]byte, error) {
	return scrypt.Key([]byte(passphrase), salt, k.N, k.R, k.P, chacha20poly1305.KeySize)
}

// sealPrivateKey encrypts der under a key derived from passphrase. The block
// type is bound as associated data.
func sealPrivateKey(der []byte, passphrase string, kdf kdfParams) (*pem.Block, error) {
	salt := make([]byte, 16)
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	key, err := kdf.derive(passphrase, salt)
	if err != nil {
		return nil, err
	}
	defer clear(key)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}

	return &pem.Block{
		Type: sealedKeyType,
		Headers: map[string]string{
			"KDF":   kdf.String(),
			"Salt":  hex.EncodeToString(salt),
			"Nonce": hex.EncodeToString(nonce),
		},
		Bytes: aead.Seal(nil, nonce, der, []byte(sealedKeyType)),
	}, nil
}

// unsealPrivateKey reverses sealPrivateKey. A wrong passphrase and a modified
// block are indistinguishable and both yield ErrWrongPassphrase.
func unsealPrivateKey(block *pem.Block, passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, ErrPassphraseRequired
	}
	kdf, err := parseKDF(block.Headers["KDF"])
	if err != nil {
		return nil, err
	}
	salt, err := hex.DecodeString(block.Headers["Salt"])
	if err != nil || len(salt) == 0 {
		return nil, errors.New("sealed key: bad salt header")
	}
	nonce, err := hex.DecodeString(block.Headers["Nonce"])
	if err != nil || len(nonce) != chacha20poly1305.NonceSize {
		return nil, errors.New("sealed key: bad nonce header")
	}

	key, err := kdf.derive(passphrase, salt)
	if err != nil {
		return nil, err
	}
	defer clear(key)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	der, err := aead.Open(nil, nonce, block.Bytes, []byte(block.Type))
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return der, nil
}
