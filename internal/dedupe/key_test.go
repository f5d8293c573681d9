package dedupe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyDeterminism(t *testing.T) {
	readAt := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	k1 := Key("org-1", "E2000012345678901234", "reader-001", 1, readAt)
	k2 := Key("org-1", "E2000012345678901234", "reader-001", 1, readAt)

	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 40)
}

func TestKeySameSecondCollapses(t *testing.T) {
	base := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	k1 := Key("org-1", "E2000012345678901234", "reader-001", 1, base.Add(100*time.Millisecond))
	k2 := Key("org-1", "E2000012345678901234", "reader-001", 1, base.Add(900*time.Millisecond))

	assert.Equal(t, k1, k2, "reads within the same wall-clock second share a key")
}

func TestKeyDifferentSecondDiffers(t *testing.T) {
	base := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	k1 := Key("org-1", "E2000012345678901234", "reader-001", 1, base)
	k2 := Key("org-1", "E2000012345678901234", "reader-001", 1, base.Add(time.Second))

	assert.NotEqual(t, k1, k2)
}

func TestKeySeparatesInputs(t *testing.T) {
	readAt := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	base := Key("org-1", "E2000012345678901234", "reader-001", 1, readAt)

	assert.NotEqual(t, base, Key("org-2", "E2000012345678901234", "reader-001", 1, readAt))
	assert.NotEqual(t, base, Key("org-1", "E2000012345678901235", "reader-001", 1, readAt))
	assert.NotEqual(t, base, Key("org-1", "E2000012345678901234", "reader-002", 1, readAt))
	assert.NotEqual(t, base, Key("org-1", "E2000012345678901234", "reader-001", 2, readAt))
}
