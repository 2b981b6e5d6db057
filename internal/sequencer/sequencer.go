// Package sequencer allocates human-readable order numbers. Every
// implementation increments a per-prefix counter atomically, so two callers
// never receive the same number for the same prefix.
package sequencer

import (
	"context"
	"fmt"
	"time"
)

// Sequencer hands out the next order number for a prefix. It fails with
// domain.ErrSequencerUnavailable once the backing store gave up retrying.
type Sequencer interface {
	Next(ctx context.Context, prefix string) (string, error)
}

const countersCollection = "order_counters"

// Format renders prefix followed by seq padded to at least four digits.
// Values above 9999 widen instead of wrapping.
func Format(prefix string, seq int64) string {
	return prefix + fmt.Sprintf("%04d", seq)
}

// YearPrefix is the counter scope used for checkout: the calendar year
// followed by "00".
func YearPrefix(now time.Time) string {
	return fmt.Sprintf("%d00", now.Year())
}
