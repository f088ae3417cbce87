// Package idempotency provides atomic event admission over at-least-once
// webhook delivery. Admission is the sole mechanism preventing duplicate side
// effects: exactly one delivery of a given key is admitted for processing,
// every other delivery observes Duplicate or InProgress.
package idempotency

import (
	"context"
	"time"
)

// Status of an admitted record.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Outcome of an admission attempt.
type Outcome string

const (
	// Admitted: no live record existed; the caller now owns processing.
	Admitted Outcome = "admitted"
	// Duplicate: a completed or failed record exists; acknowledge and drop.
	Duplicate Outcome = "duplicate"
	// InProgress: another worker holds a live processing record; acknowledge
	// and drop, the platform will redeliver if that worker dies.
	InProgress Outcome = "in_progress"
)

// Record is the persisted admission state for one event key.
type Record struct {
	Key       string
	Status    Status
	FirstSeen time.Time
	StartedAt time.Time
}

// Store is the admission ledger. Admit is atomic per key: a processing record
// older than the liveness timeout is treated as abandoned and re-admitted, so
// a crashed worker never wedges its key. Failed marks stay visible as
// Duplicate until retention expires on the theory that platforms do not
// meaningfully redeliver after an acknowledged receipt.
type Store interface {
	Admit(ctx context.Context, key string) (Outcome, error)
	Mark(ctx context.Context, key string, status Status) error
	// Sweep drops records past retention. Returns the number removed.
	Sweep(ctx context.Context) (int, error)
}

// Policy carries the admission timing parameters.
type Policy struct {
	// Retention is how long records are kept; it must exceed the platform's
	// maximum redelivery window.
	Retention time.Duration
	// ProcessingTimeout is the liveness bound for a processing record.
	ProcessingTimeout time.Duration
}

// DefaultPolicy matches the longest redelivery window among the integrated
// platforms (Shopify retries for 48h).
func DefaultPolicy() Policy {
	return Policy{
		Retention:         72 * time.Hour,
		ProcessingTimeout: 2 * time.Minute,
	}
}
