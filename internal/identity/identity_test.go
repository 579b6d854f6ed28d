package identity_test

import (
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lanchat/internal/identity"
)

func TestPublicKeyStringRoundTrip(t *testing.T) {
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	s, err := identity.PublicKeyToString(id.PublicKey())
	if err != nil {
		t.Fatalf("PublicKeyToString: %v", err)
	}
	pub, err := identity.StringToPublicKey(s)
	if err != nil {
		t.Fatalf("StringToPublicKey: %v", err)
	}
	if !pub.Equal(id.PublicKey()) {
		t.Fatal("decoded key differs from original")
	}
}

func TestStringToPublicKeyRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "not base64!!", "aGVsbG8="} {
		if _, err := identity.StringToPublicKey(in); !errors.Is(err, identity.ErrInvalidPublicKey) {
			t.Fatalf("StringToPublicKey(%q): want ErrInvalidPublicKey, got %v", in, err)
		}
	}
}

func TestFingerprintIsStable(t *testing.T) {
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	a := identity.Fingerprint(id.PublicKey())
	b := identity.Fingerprint(id.PublicKey())
	if a != b || len(a) != 20 {
		t.Fatalf("fingerprint unstable or wrong length: %q %q", a, b)
	}
}

func TestLoadOrCreatePersistsKeys(t *testing.T) {
	dir := t.TempDir()

	first, created, err := identity.LoadOrCreate(dir, "")
	if err != nil {
		t.Fatalf("LoadOrCreate (create): %v", err)
	}
	if !created {
		t.Fatal("expected a new key on first call")
	}
	if _, err := os.Stat(filepath.Join(dir, "public.pem")); err != nil {
		t.Fatalf("public.pem missing: %v", err)
	}

	second, created, err := identity.LoadOrCreate(dir, "")
	if err != nil {
		t.Fatalf("LoadOrCreate (load): %v", err)
	}
	if created {
		t.Fatal("expected existing key to be loaded")
	}
	if !second.PrivateKey().Equal(first.PrivateKey()) {
		t.Fatal("reloaded key differs")
	}
}

func TestLoadOrCreateSealedKey(t *testing.T) {
	dir := t.TempDir()

	first, _, err := identity.LoadOrCreate(dir, "correct horse")
	if err != nil {
		t.Fatalf("LoadOrCreate (create): %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "private.pem"))
	if err != nil {
		t.Fatalf("read private key: %v", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil || block.Type != "LANCHAT SEALED PRIVATE KEY" {
		t.Fatalf("expected a sealed PEM block, got %q", raw[:min(len(raw), 40)])
	}
	if !strings.HasPrefix(block.Headers["KDF"], "scrypt,") {
		t.Fatalf("KDF header = %q", block.Headers["KDF"])
	}

	if _, _, err := identity.LoadOrCreate(dir, "wrong"); !errors.Is(err, identity.ErrWrongPassphrase) {
		t.Fatalf("want ErrWrongPassphrase, got %v", err)
	}
	if _, _, err := identity.LoadOrCreate(dir, ""); !errors.Is(err, identity.ErrPassphraseRequired) {
		t.Fatalf("want ErrPassphraseRequired, got %v", err)
	}

	second, _, err := identity.LoadOrCreate(dir, "correct horse")
	if err != nil {
		t.Fatalf("LoadOrCreate (load): %v", err)
	}
	if !second.PrivateKey().Equal(first.PrivateKey()) {
		t.Fatal("unsealed key differs")
	}
}

func rewriteSealedKey(t *testing.T, dir string, edit func(*pem.Block)) {
	t.Helper()
	path := filepath.Join(dir, "private.pem")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read private key: %v", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		t.Fatal("private key is not PEM")
	}
	edit(block)
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("write private key: %v", err)
	}
}

func TestSealedKeyRejectsTampering(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := identity.LoadOrCreate(dir, "pw"); err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}

	rewriteSealedKey(t, dir, func(b *pem.Block) { b.Bytes[0] ^= 0xff })
	if _, _, err := identity.LoadOrCreate(dir, "pw"); !errors.Is(err, identity.ErrWrongPassphrase) {
		t.Fatalf("modified ciphertext: want ErrWrongPassphrase, got %v", err)
	}
}

func TestSealedKeyRejectsExcessiveKDFCost(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := identity.LoadOrCreate(dir, "pw"); err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}

	rewriteSealedKey(t, dir, func(b *pem.Block) { b.Headers["KDF"] = "scrypt,N=1073741824,r=8,p=1" })
	_, _, err := identity.LoadOrCreate(dir, "pw")
	if err == nil || errors.Is(err, identity.ErrWrongPassphrase) {
		t.Fatalf("want an unsupported kdf error, got %v", err)
	}
}
