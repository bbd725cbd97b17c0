package dispatch

import (
	"context"
	"time"
)

// IdempotencyStore records which command ids have already executed.
// CheckAndRecord must be atomic: two concurrent calls for the same command
// id must not both observe first execution. Records older than the store's
// retention horizon read as absent, so at-most-once is only guaranteed
// within the horizon.
type IdempotencyStore interface {
	// CheckAndRecord returns true when commandID has not executed within
	// the retention horizon, durably recording it before returning.
	CheckAndRecord(ctx context.Context, commandID string, now time.Time) (bool, error)
}
