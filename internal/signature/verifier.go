// Package signature authenticates inbound interaction requests.
//
// Discord signs every request with the application's Ed25519 key. The signed
// message is the X-Signature-Timestamp header value immediately followed by
// the raw request body bytes, and the signature arrives hex-encoded in
// X-Signature-Ed25519.
package signature

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderSignature = "X-Signature-Ed25519"
	HeaderTimestamp = "X-Signature-Timestamp"
)

var (
	ErrMissingSignature   = errors.New("missing signature header")
	ErrMissingTimestamp   = errors.New("missing timestamp header")
	ErrMalformedSignature = errors.New("malformed signature")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrTimestampSkew      = errors.New("timestamp outside allowed skew")
)

// ParsePublicKey decodes a hex-encoded Ed25519 public key as shown in the
// developer portal.
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithMaxSkew rejects requests whose timestamp is further than d from now.
// Zero disables the check.
func WithMaxSkew(d time.Duration) Option {
	return func(v *Verifier) {
		v.maxSkew = d
	}
}

// WithClock overrides the time source used for skew checks.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// Verifier checks request signatures against a single public key. It holds
// no mutable state and is safe for concurrent use.
type Verifier struct {
	key     ed25519.PublicKey
	maxSkew time.Duration
	now     func() time.Time
}

// NewVerifier creates a verifier for key.
func NewVerifier(key ed25519.PublicKey, opts ...Option) *Verifier {
	v := &Verifier{
		key: key,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify reports whether signature is a valid hex-encoded Ed25519 signature
// over timestamp||body. Every failure mode returns a non-nil error; callers
// must treat any error as "not authentic".
func (v *Verifier) Verify(body []byte, signature, timestamp string) error {
	if signature == "" {
		return ErrMissingSignature
	}
	if timestamp == "" {
		return ErrMissingTimestamp
	}

	sig, err := hex.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return ErrMalformedSignature
	}
	if len(v.key) != ed25519.PublicKeySize {
		return ErrInvalidSignature
	}

	msg := make([]byte, 0, len(timestamp)+len(body))
	msg = append(msg, timestamp...)
	msg = append(msg, body...)
	if !ed25519.Verify(v.key, msg, sig) {
		return ErrInvalidSignature
	}

	if v.maxSkew > 0 {
		if err := v.checkSkew(timestamp); err != nil {
			return err
		}
	}
	return nil
}

// VerifyHeaders reads the signature headers from h and verifies body.
func (v *Verifier) VerifyHeaders(h http.Header, body []byte) error {
	return v.Verify(body, h.Get(HeaderSignature), h.Get(HeaderTimestamp))
}

func (v *Verifier) checkSkew(timestamp string) error {
	secs, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrTimestampSkew
	}
	delta := v.now().Sub(time.Unix(secs, 0))
	if delta < 0 {
		delta = -delta
	}
	if delta > v.maxSkew {
		return ErrTimestampSkew
	}
	return nil
}

// Sign produces the hex signature Discord would send for body at timestamp.
// It exists for tooling and tests that need to fabricate signed requests.
func Sign(key ed25519.PrivateKey, body []byte, timestamp string) string {
	msg := make([]byte, 0, len(timestamp)+len(body))
	msg = append(msg, timestamp...)
	msg = append(msg, body...)
	return hex.EncodeToString(ed25519.Sign(key, msg))
}
