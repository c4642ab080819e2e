package orders

import (
	"fmt"
	"math/rand"
	"time"
)

// maxIDAttempts bounds the re-roll loop; with a millisecond timestamp plus a
// six digit random suffix the bound is never reached in practice.
const maxIDAttempts = 1000

// FormatOrderNumber renders the human-facing sequential order number.
func FormatOrderNumber(prefix string, sequence int) string {
	return fmt.Sprintf("%s-%06d", prefix, sequence)
}

// NextOrderNumber derives the display order number from the configured start
// and the current ledger size. Two instances creating orders concurrently
// can mint the same number; that collision window is a documented property
// of the display number, not corrected here. The internal id is the identity
// used for equality and merging.
func NextOrderNumber(prefix string, start, ledgerSize int) string {
	return FormatOrderNumber(prefix, start+ledgerSize)
}

// NewUniqueID mints the internal order id "{prefix}-{unixMillis}-{random}",
// re-rolling while the candidate is present in existing.
func NewUniqueID(prefix string, existing map[string]struct{}) (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id := fmt.Sprintf("%s-%d-%06d", prefix, time.Now().UnixMilli(), rand.Intn(1_000_000))
		if _, taken := existing[id]; !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("order id space exhausted after %d attempts", maxIDAttempts)
}
