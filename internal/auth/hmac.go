package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const sigPrefix = "sha256="

var (
	ErrMissingCredentials   = errors.New("missing device credentials")
	ErrUnknownDevice        = errors.New("unknown device")
	ErrUnsupportedAlgorithm = errors.New("unsupported signature algorithm")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrStaleRequest         = errors.New("request timestamp outside replay window")
	ErrBadTimestamp         = errors.New("invalid timestamp format")
)

// Validator checks device request signatures and timestamp freshness.
// It is pure: credential lookup and last-seen bookkeeping belong to the caller.
type Validator struct {
	skew time.Duration
	now  func() time.Time
}

func NewValidator(skew time.Duration) *Validator {
	return &Validator{skew: skew, now: time.Now}
}

// CheckFreshness rejects timestamps that differ from server time by more than
// the configured skew, in either direction. A skew of exactly the window is
// still accepted.
func (v *Validator) CheckFreshness(timestamp string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, timestamp)
	}

	diff := v.now().Sub(ts)
	if diff < 0 {
		diff = -diff
	}
	if diff > v.skew {
		return time.Time{}, fmt.Errorf("%w: skew %s", ErrStaleRequest, diff)
	}
	return ts, nil
}

// Verify recomputes the HMAC over the canonical signing string and compares it
// in constant time against the provided "sha256=<hex>" signature.
func (v *Validator) Verify(secret, timestamp string, body []byte, signature string) error {
	if !strings.HasPrefix(signature, sigPrefix) {
		return ErrUnsupportedAlgorithm
	}
	provided := strings.TrimPrefix(signature, sigPrefix)

	expected, err := digest(secret, timestamp, body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if !hmac.Equal([]byte(provided), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign produces the signature a device sends with a request. Used by
// simulators and tests.
func Sign(secret, timestamp string, body []byte) (string, error) {
	d, err := digest(secret, timestamp, body)
	if err != nil {
		return "", err
	}
	return sigPrefix + d, nil
}

func digest(secret, timestamp string, body []byte) (string, error) {
	canonical, err := CanonicalBody(body)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// CanonicalBody normalizes a JSON body to its compact, key-sorted rendering so
// both sides sign the same bytes regardless of field order or whitespace.
func CanonicalBody(body []byte) ([]byte, error) {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("canonicalize body: %w", err)
	}
	return json.Marshal(decoded)
}
