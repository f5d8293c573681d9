// Package dedupe derives the idempotency key that makes redelivered reads
// safe to reapply at the sink.
package dedupe

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"
)

// Key fingerprints a read as SHA-1 hex over tenant, EPC, reader, antenna and
// the read time truncated to whole seconds. Two reads of the same tag by the
// same reader and antenna within one wall-clock second collapse to one key;
// reads faster than that are treated as duplicates of a single tag presence.
func Key(tenantID, epc, readerID string, antenna int, readAt time.Time) string {
	input := fmt.Sprintf("%s%s%s%d%d", tenantID, epc, readerID, antenna, readAt.Unix())
	sum := sha1.Sum([]byte(input))
	return hex.EncodeToString(sum[:])
}
