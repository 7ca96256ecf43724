// Package checkpoint issues signed tree heads: compact EdDSA JWTs binding a
// tree size to its root hash. A client holding a checkpoint can later demand
// a consistency proof from that exact state and prove the log never rewrote it.
package checkpoint

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/snowsledge/Data-Timestamp/pkg/proof"
)

// Algorithm is the JWT signing algorithm of every checkpoint.
const Algorithm = "EdDSA"

// Claims are the JWT claims of a signed tree head.
type Claims struct {
	jwt.RegisteredClaims
	TreeSize uint64 `json:"tree_size"`
	RootHash string `json:"root_hash"`
}

// Signer issues and verifies checkpoints with an Ed25519 key.
type Signer struct {
	key    ed25519.PrivateKey
	pub    ed25519.PublicKey
	issuer string
}

// NewSigner creates a Signer. issuer becomes the "iss" claim.
func NewSigner(key ed25519.PrivateKey, issuer string) *Signer {
	return &Signer{
		key:    key,
		pub:    key.Public().(ed25519.PublicKey),
		issuer: issuer,
	}
}

// Sign returns a checkpoint for the tree of size leaves with the given root.
func (s *Signer) Sign(size uint64, root proof.Hash) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   s.issuer,
			Subject:  root.String(),
			IssuedAt: jwt.NewNumericDate(time.Now().UTC()),
			ID:       uuid.New().String(),
		},
		TreeSize: size,
		RootHash: root.String(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign checkpoint: %w", err)
	}
	return signed, nil
}

// Verify parses a checkpoint issued by this signer and returns its claims.
func (s *Signer) Verify(token string) (*Claims, error) {
	return Verify(token, s.pub, s.issuer)
}

// Issuer returns the "iss" claim this signer puts on checkpoints.
func (s *Signer) Issuer() string { return s.issuer }

// PublicKeyInfo is everything a verifier needs besides the token itself.
type PublicKeyInfo struct {
	Algorithm string `json:"algorithm"`
	Issuer    string `json:"issuer"`
	PublicKey string `json:"public_key"`
}

// PublicKeyInfo returns the published form of the verification key.
func (s *Signer) PublicKeyInfo() (*PublicKeyInfo, error) {
	pemKey, err := s.PublicKeyPEM()
	if err != nil {
		return nil, err
	}
	return &PublicKeyInfo{Algorithm: Algorithm, Issuer: s.issuer, PublicKey: pemKey}, nil
}

// PublicKeyPEM returns the verification key in PKIX PEM format.
func (s *Signer) PublicKeyPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(s.pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// Verify checks token against pub and issuer without needing the private key.
func Verify(token string, pub ed25519.PublicKey, issuer string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(
		token,
		&Claims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodEd25519); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return pub, nil
		},
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("verify checkpoint: %w", err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("invalid checkpoint claims")
	}
	if _, err := proof.ParseHash(claims.RootHash); err != nil {
		return nil, fmt.Errorf("checkpoint root: %w", err)
	}
	return claims, nil
}

// ParsePublicKeyPEM decodes a PKIX PEM Ed25519 public key as produced by
// Signer.PublicKeyPEM.
func ParsePublicKeyPEM(pemKey string) (ed25519.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemKey))
	if block == nil {
		return nil, fmt.Errorf("public key: no PEM block")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want ed25519", parsed)
	}
	return pub, nil
}

// LoadOrCreateKey reads a PKCS#8 Ed25519 key from path, generating and
// saving a new one if the file does not exist.
func LoadOrCreateKey(path string) (ed25519.PrivateKey, error) {
	keyPEM, err := os.ReadFile(path)
	switch {
	case err == nil:
		return parseKey(keyPEM)
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read checkpoint key: %w", err)
	}

	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate checkpoint key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0o600); err != nil {
		return nil, fmt.Errorf("write checkpoint key: %w", err)
	}
	return key, nil
}

func parseKey(keyPEM []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("checkpoint key: no PEM block")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse checkpoint key: %w", err)
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("checkpoint key is %T, want ed25519", parsed)
	}
	return key, nil
}
