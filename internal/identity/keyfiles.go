package identity

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	privateFile = "private.pem"
	publicFile  = "public.pem"
)

// LoadOrCreate loads the key pair stored in dir, generating and saving a new
// one when no private key exists yet. A non-empty passphrase seals the private
// key on disk. The returned bool reports whether a new key was created.
func LoadOrCreate(dir, passphrase string) (*Static, bool, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, false, fmt.Errorf("failed to create keys directory: %w", err)
	}

	privatePath := filepath.Join(dir, privateFile)
	publicPath := filepath.Join(dir, publicFile)

	if _, err := os.Stat(privatePath); err == nil {
		priv, err := loadPrivateKey(privatePath, passphrase)
		if err != nil {
			return nil, false, fmt.Errorf("failed to load existing keys: %w", err)
		}
		return NewStatic(priv), false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}

	id, err := Generate()
	if err != nil {
		return nil, false, err
	}
	if err := saveKeys(id.priv, privatePath, publicPath, passphrase); err != nil {
		return nil, false, fmt.Errorf("failed to save keys: %w", err)
	}
	return id, true, nil
}

// saveKeys writes the key pair to files.
func saveKeys(priv *rsa.PrivateKey, privatePath, publicPath, passphrase string) error {
	privateBlock := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	}
	if passphrase != "" {
		sealed, err := sealPrivateKey(privateBlock.Bytes, passphrase, defaultKDF)
		if err != nil {
			return err
		}
		privateBlock = sealed
	}
	privateData := pem.EncodeToMemory(privateBlock)
	if err := os.WriteFile(privatePath, privateData, 0o600); err != nil {
		return err
	}

	publicDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return err
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: publicDER,
	})
	return os.WriteFile(publicPath, publicPEM, 0o644)
}

func loadPrivateKey(path, passphrase string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%s: no PEM data", path)
	}

	var der []byte
	switch block.Type {
	case "RSA PRIVATE KEY":
		der = block.Bytes
	case sealedKeyType:
		der, err = unsealPrivateKey(block, passphrase)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%s: unexpected PEM block %q", path, block.Type)
	}

	priv, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return priv, nil
}
