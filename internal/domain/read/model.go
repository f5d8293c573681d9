package read

import (
	"errors"
	"time"
)

// ErrNotFound is returned by credential stores when no reader matches the
// presented device id.
var ErrNotFound = errors.New("reader not found")

// TagRead is a validated RFID read ready for the sink upsert.
type TagRead struct {
	TenantID string    `json:"org_id"`
	EPC      string    `json:"epc"`
	ReaderID string    `json:"reader_id"`
	Antenna  int       `json:"antenna"`
	RSSI     float64   `json:"rssi"`
	ReadAt   time.Time `json:"read_at"`
	IdemKey  string    `json:"idem_key"`
}

// Summary is the fan-out payload published after a read is applied.
type Summary struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	TenantID  string    `json:"org_id"`
	EPC       string    `json:"epc"`
	ReaderID  string    `json:"reader_id"`
	RSSI      float64   `json:"rssi"`
	ReadAt    time.Time `json:"read_at"`
	Timestamp time.Time `json:"timestamp"`
}

// Reader is a registered field device. APIKeyHash is the stored secret
// fingerprint used to key the request HMAC; the raw secret never leaves
// the device.
type Reader struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	TenantID   string    `json:"org_id"`
	APIKeyHash string    `json:"-"`
	Status     string    `json:"status"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

const (
	StatusOnline      = "online"
	StatusOffline     = "offline"
	StatusMaintenance = "maintenance"
	StatusError       = "error"
)

func ValidStatus(s string) bool {
	switch s {
	case StatusOnline, StatusOffline, StatusMaintenance, StatusError:
		return true
	}
	return false
}
