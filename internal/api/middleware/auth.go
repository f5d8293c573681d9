package middleware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ioriimasu34/weft/internal/auth"
	"github.com/ioriimasu34/weft/internal/domain/read"
)

const (
	HeaderDeviceID  = "X-Device-ID"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

type CredentialStore interface {
	GetByDeviceID(ctx context.Context, deviceID string) (*read.Reader, error)
}

type ctxKey struct{}

// ReaderFrom returns the authenticated reader placed in the context by
// DeviceAuth.
func ReaderFrom(ctx context.Context) *read.Reader {
	rd, _ := ctx.Value(ctxKey{}).(*read.Reader)
	return rd
}

// DeviceAuth gates device-facing endpoints: all three credential headers must
// be present, the timestamp must be fresh, the device known, and the HMAC
// valid over the raw request body. Any failure rejects the request before it
// can touch the log.
func DeviceAuth(store CredentialStore, validator *auth.Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			deviceID := r.Header.Get(HeaderDeviceID)
			timestamp := r.Header.Get(HeaderTimestamp)
			signature := r.Header.Get(HeaderSignature)

			if deviceID == "" || timestamp == "" || signature == "" {
				slog.Warn("missing credential headers", "device_id", deviceID)
				writeAuthError(w, "missing_credentials")
				return
			}

			if _, err := validator.CheckFreshness(timestamp); err != nil {
				slog.Warn("rejected request timestamp", "device_id", deviceID, "error", err)
				switch {
				case errors.Is(err, auth.ErrBadTimestamp):
					writeAuthError(w, "invalid_timestamp")
				default:
					writeAuthError(w, "stale_request")
				}
				return
			}

			ctx := r.Context()
			rd, err := store.GetByDeviceID(ctx, deviceID)
			if errors.Is(err, read.ErrNotFound) {
				slog.Warn("unknown device", "device_id", deviceID)
				writeAuthError(w, "unknown_device")
				return
			}
			if err != nil {
				slog.Error("credential lookup failed", "device_id", deviceID, "error", err)
				http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			if err := validator.Verify(rd.APIKeyHash, timestamp, body, signature); err != nil {
				slog.Warn("signature verification failed", "device_id", deviceID, "error", err)
				if errors.Is(err, auth.ErrUnsupportedAlgorithm) {
					writeAuthError(w, "unsupported_algorithm")
				} else {
					writeAuthError(w, "invalid_signature")
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, ctxKey{}, rd)))
		})
	}
}

func writeAuthError(w http.ResponseWriter, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"error":%q}`, code)
}
