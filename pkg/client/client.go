package client

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/snowsledge/Data-Timestamp/internal/checkpoint"
	"github.com/snowsledge/Data-Timestamp/pkg/proof"
)

var (
	// ErrNotFound is returned when the server does not know a checksum or root.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned by Stamp when the checksum was stamped before.
	ErrDuplicate = errors.New("checksum already stamped")

	// ErrUnauthorized is returned when an admin secret is missing or wrong.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidRequest is returned when the server rejects the arguments:
	// a badly formatted checksum or root, or an impossible size range.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidCheckpoint is returned by VerifyCheckpoint.
	ErrInvalidCheckpoint = errors.New("invalid checkpoint")
)

// Receipt is the server's answer to a successful Stamp.
type Receipt struct {
	Committed  bool      `json:"committed"`
	Checksum   string    `json:"checksum"`
	Index      uint64    `json:"index"`
	TreeSize   uint64    `json:"tree_size"`
	Root       string    `json:"root"`
	StampedAt  time.Time `json:"stamped_at"`
	Checkpoint string    `json:"checkpoint,omitempty"`
}

// Head is a root and the tree size it commits to.
type Head struct {
	Root       string `json:"root"`
	Size       uint64 `json:"size"`
	Checkpoint string `json:"checkpoint,omitempty"`
}

// Validation is the server's verdict on a submitted proof.
type Validation struct {
	Valid    bool       `json:"valid"`
	Kind     proof.Kind `json:"kind"`
	TreeSize uint64     `json:"tree_size"`
}

// ExportResult describes a snapshot written by the server.
type ExportResult struct {
	Path       string `json:"path"`
	Root       string `json:"root"`
	Size       uint64 `json:"size"`
	Checkpoint string `json:"checkpoint,omitempty"`
}

// CheckpointKey is the server's published checkpoint verification key.
type CheckpointKey struct {
	Algorithm string `json:"algorithm"`
	Issuer    string `json:"issuer"`
	PublicKey string `json:"public_key"`
}

// SignedHead is the content of a verified checkpoint.
type SignedHead struct {
	Root     string
	Size     uint64
	Issuer   string
	IssuedAt time.Time
}

// Client talks to a stampd server.
type Client struct {
	base       string
	httpClient *http.Client
	timeout    time.Duration
	cache      *proofCache
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("nil http client")
		}
		c.httpClient = hc
		return nil
	}
}

// WithTimeout bounds every request made by the client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", d)
		}
		c.timeout = d
		return nil
	}
}

// WithCacheTTL caches inclusion proofs per checksum for ttl.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) error {
		c.cache = newProofCache(ttl)
		return nil
	}
}

// New creates a Client for the server at base, e.g. "http://localhost:8080".
func New(base string, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	if c.timeout > 0 {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Checksum returns the lowercase hex SHA-256 of everything read from r.
func Checksum(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash input: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Stamp records checksum on the server.
func (c *Client) Stamp(ctx context.Context, checksum string) (*Receipt, error) {
	body, err := json.Marshal(map[string]string{"checksum": checksum})
	if err != nil {
		return nil, fmt.Errorf("marshal stamp request: %w", err)
	}
	var r Receipt
	if err := c.call(ctx, http.MethodPost, "/api/v1/stamps", body, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Proof returns the inclusion proof for checksum.
func (c *Client) Proof(ctx context.Context, checksum string) (*proof.Inclusion, error) {
	key := strings.ToLower(strings.TrimSpace(checksum))
	if c.cache != nil {
		if p, ok := c.cache.get(key); ok {
			return p, nil
		}
	}

	var p proof.Inclusion
	if err := c.call(ctx, http.MethodGet, "/api/v1/stamps/"+url.PathEscape(key)+"/proof", nil, nil, &p); err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.set(key, &p)
	}
	return &p, nil
}

// Root returns the server's current head.
func (c *Client) Root(ctx context.Context) (*Head, error) {
	var h Head
	if err := c.call(ctx, http.MethodGet, "/api/v1/root", nil, nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// RootAt returns the root the log had at size.
func (c *Client) RootAt(ctx context.Context, size uint64) (*Head, error) {
	var h Head
	path := "/api/v1/roots/" + strconv.FormatUint(size, 10)
	if err := c.call(ctx, http.MethodGet, path, nil, nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Consistency returns a proof that the log at to extends the log at from.
// from is an earlier size or root; to 0 means the current size.
func (c *Client) Consistency(ctx context.Context, from string, to uint64) (*proof.Consistency, error) {
	q := url.Values{"from": {from}}
	if to > 0 {
		q.Set("to", strconv.FormatUint(to, 10))
	}
	var p proof.Consistency
	if err := c.call(ctx, http.MethodGet, "/api/v1/consistency?"+q.Encode(), nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate asks the server to check a serialized proof against its history.
func (c *Client) Validate(ctx context.Context, raw []byte) (*Validation, error) {
	var v Validation
	if err := c.call(ctx, http.MethodPost, "/api/v1/validate", raw, nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Export asks the server to write a snapshot. secret is the admin secret.
func (c *Client) Export(ctx context.Context, secret string) (*ExportResult, error) {
	var res ExportResult
	hdr := http.Header{"X-Admin-Secret": {secret}}
	if err := c.call(ctx, http.MethodPost, "/api/v1/admin/export", nil, hdr, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CheckpointKey fetches the key that verifies the server's checkpoints.
// It returns ErrNotFound when the server does not sign checkpoints.
func (c *Client) CheckpointKey(ctx context.Context) (*CheckpointKey, error) {
	var k CheckpointKey
	if err := c.call(ctx, http.MethodGet, "/api/v1/checkpoint/key", nil, nil, &k); err != nil {
		return nil, err
	}
	return &k, nil
}

// VerifyCheckpoint checks the signature and issuer of a checkpoint token
// against key and returns the tree head it signs.
func VerifyCheckpoint(token string, key *CheckpointKey) (*SignedHead, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: no key", ErrInvalidCheckpoint)
	}
	if key.Algorithm != checkpoint.Algorithm {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidCheckpoint, key.Algorithm)
	}
	pub, err := checkpoint.ParsePublicKeyPEM(key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCheckpoint, err)
	}
	claims, err := checkpoint.Verify(token, pub, key.Issuer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCheckpoint, err)
	}
	head := &SignedHead{Root: claims.RootHash, Size: claims.TreeSize, Issuer: claims.Issuer}
	if claims.IssuedAt != nil {
		head.IssuedAt = claims.IssuedAt.Time
	}
	return head, nil
}

// VerifyOffline checks a serialized proof without contacting any server.
//
// For an inclusion proof trustedRoot is the root at the proof's tree size.
// For a consistency proof trustedRoot is the old root; the proof must carry
// the new root it claims, and a true result means that new root extends
// the trusted one.
func VerifyOffline(raw []byte, trustedRoot string) (bool, error) {
	env, err := proof.Decode(raw)
	if err != nil {
		return false, err
	}
	if env.Kind() == proof.KindConsistency {
		p := env.Consistency
		if p.NewRoot == "" {
			return false, fmt.Errorf("%w: consistency proof carries no new_root", proof.ErrMalformedProof)
		}
		return proof.VerifyConsistency(p, trustedRoot, p.NewRoot)
	}
	return proof.VerifyInclusion(env.Inclusion, trustedRoot)
}

// call performs a JSON round trip against the server and maps error statuses.
func (c *Client) call(ctx context.Context, method, path string, body []byte, hdr http.Header, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		msg := errorMessage(respBody)
		switch resp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, msg)
		case http.StatusConflict:
			return fmt.Errorf("%w: %s", ErrDuplicate, msg)
		case http.StatusBadRequest:
			return fmt.Errorf("%w: %s", ErrInvalidRequest, msg)
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
		case http.StatusUnprocessableEntity:
			return fmt.Errorf("%w: %s", proof.ErrMalformedProof, msg)
		default:
			return fmt.Errorf("server error %d: %s", resp.StatusCode, msg)
		}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}
