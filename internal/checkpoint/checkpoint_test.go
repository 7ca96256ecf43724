package checkpoint_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"path/filepath"
	"strings"
	"testing"

	"github.com/snowsledge/Data-Timestamp/internal/checkpoint"
	"github.com/snowsledge/Data-Timestamp/pkg/proof"
)

func newSigner(t *testing.T) *checkpoint.Signer {
	t.Helper()
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return checkpoint.NewSigner(key, "https://stamp.test")
}

func TestSignVerify_roundTrip(t *testing.T) {
	s := newSigner(t)
	root := proof.Sum([]byte("root"))

	tok, err := s.Sign(42, root)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := s.Verify(tok)
	if err != nil {
		t.Fatal(err)
	}
	if claims.TreeSize != 42 || claims.RootHash != root.String() {
		t.Errorf("claims = %d/%s", claims.TreeSize, claims.RootHash)
	}
	if claims.ID == "" {
		t.Error("expected a jti")
	}
}

func TestVerify_wrongKeyOrIssuer(t *testing.T) {
	s := newSigner(t)
	other := newSigner(t)
	tok, err := s.Sign(1, proof.Sum(nil))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := other.Verify(tok); err == nil {
		t.Error("token verified under a different key")
	}
	info, err := s.PublicKeyInfo()
	if err != nil {
		t.Fatal(err)
	}
	pub, err := checkpoint.ParsePublicKeyPEM(info.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := checkpoint.Verify(tok, pub, "https://elsewhere.test"); err == nil {
		t.Error("token verified under a different issuer")
	}

	parts := strings.Split(tok, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]
	if _, err := s.Verify(tampered); err == nil {
		t.Error("tampered token verified")
	}
}

func TestPublicKeyInfo_verifiesWithoutSigner(t *testing.T) {
	s := newSigner(t)
	root := proof.Sum([]byte("published"))
	tok, err := s.Sign(7, root)
	if err != nil {
		t.Fatal(err)
	}

	info, err := s.PublicKeyInfo()
	if err != nil {
		t.Fatal(err)
	}
	if info.Algorithm != checkpoint.Algorithm || info.Issuer != "https://stamp.test" {
		t.Errorf("info = %+v", info)
	}
	pub, err := checkpoint.ParsePublicKeyPEM(info.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := checkpoint.Verify(tok, pub, info.Issuer)
	if err != nil {
		t.Fatal(err)
	}
	if claims.TreeSize != 7 || claims.RootHash != root.String() {
		t.Errorf("claims = %d/%s", claims.TreeSize, claims.RootHash)
	}

	for _, bad := range []string{"", "not pem", "-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----\n"} {
		if _, err := checkpoint.ParsePublicKeyPEM(bad); err == nil {
			t.Errorf("ParsePublicKeyPEM(%q): expected error", bad)
		}
	}
}

func TestLoadOrCreateKey_persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "checkpoint.pem")

	k1, err := checkpoint.LoadOrCreateKey(path)
	if err != nil {
		t.Fatal(err)
	}
	k2, err := checkpoint.LoadOrCreateKey(path)
	if err != nil {
		t.Fatal(err)
	}
	if !k1.Equal(k2) {
		t.Error("second load produced a different key")
	}

	pemStr, err := checkpoint.NewSigner(k1, "x").PublicKeyPEM()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(pemStr, "-----BEGIN PUBLIC KEY-----") {
		t.Errorf("unexpected PEM: %q", pemStr)
	}
}
