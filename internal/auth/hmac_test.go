package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedValidator(skew time.Duration, now time.Time) *Validator {
	v := NewValidator(skew)
	v.now = func() time.Time { return now }
	return v
}

func TestSignVerifyRoundTrip(t *testing.T) {
	body := []byte(`{"id":"evt-1","type":"com.rfid.read","source":"reader-001","data":{"epc":"E2000012345678901234"}}`)
	ts := "2026-09-01T10:00:00Z"

	sig, err := Sign("secret-key", ts, body)
	require.NoError(t, err)
	assert.True(t, len(sig) > len("sha256="))

	v := NewValidator(5 * time.Minute)
	assert.NoError(t, v.Verify("secret-key", ts, body, sig))
}

func TestVerifyIgnoresFieldOrderAndWhitespace(t *testing.T) {
	ts := "2026-09-01T10:00:00Z"
	signed := []byte(`{"id":"evt-1","type":"com.rfid.read"}`)
	reordered := []byte(` { "type" : "com.rfid.read", "id" : "evt-1" } `)

	sig, err := Sign("secret-key", ts, signed)
	require.NoError(t, err)

	v := NewValidator(5 * time.Minute)
	assert.NoError(t, v.Verify("secret-key", ts, reordered, sig))
}

func TestVerifyRejections(t *testing.T) {
	body := []byte(`{"id":"evt-1"}`)
	ts := "2026-09-01T10:00:00Z"
	sig, err := Sign("secret-key", ts, body)
	require.NoError(t, err)

	v := NewValidator(5 * time.Minute)

	tests := []struct {
		name      string
		secret    string
		timestamp string
		body      []byte
		signature string
		want      error
	}{
		{"wrong secret", "other-key", ts, body, sig, ErrInvalidSignature},
		{"tampered body", "secret-key", ts, []byte(`{"id":"evt-2"}`), sig, ErrInvalidSignature},
		{"tampered timestamp", "secret-key", "2026-09-01T10:00:01Z", body, sig, ErrInvalidSignature},
		{"missing prefix", "secret-key", ts, body, "deadbeef", ErrUnsupportedAlgorithm},
		{"wrong algorithm tag", "secret-key", ts, body, "sha1=deadbeef", ErrUnsupportedAlgorithm},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(tt.secret, tt.timestamp, tt.body, tt.signature)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCheckFreshness(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	v := fixedValidator(300*time.Second, now)

	tests := []struct {
		name      string
		timestamp string
		want      error
	}{
		{"current time", now.Format(time.RFC3339), nil},
		{"within window past", now.Add(-299 * time.Second).Format(time.RFC3339), nil},
		{"within window future", now.Add(299 * time.Second).Format(time.RFC3339), nil},
		// The tolerance boundary is exclusive: exactly 300s is accepted.
		{"exactly at window past", now.Add(-300 * time.Second).Format(time.RFC3339), nil},
		{"exactly at window future", now.Add(300 * time.Second).Format(time.RFC3339), nil},
		{"beyond window past", now.Add(-301 * time.Second).Format(time.RFC3339), ErrStaleRequest},
		{"beyond window future", now.Add(301 * time.Second).Format(time.RFC3339), ErrStaleRequest},
		{"garbage timestamp", "yesterday around noon", ErrBadTimestamp},
		{"empty timestamp", "", ErrBadTimestamp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.CheckFreshness(tt.timestamp)
			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestCanonicalBodyRejectsInvalidJSON(t *testing.T) {
	_, err := CanonicalBody([]byte(`{"id":`))
	assert.Error(t, err)
}
