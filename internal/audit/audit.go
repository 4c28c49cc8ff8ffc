// Package audit captures chain-of-custody events emitted by the sync engine.
// Events are transport-agnostic so publishers can fan out (Kafka, memory).
package audit

import (
	"context"
	"time"
)

// Event records one registry-facing action for the audit trail.
type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	Action     string    `json:"action"`
	EntityKind string    `json:"entity_kind"`
	EntityID   string    `json:"entity_id"`
	Registry   string    `json:"registry"`
	ExternalID string    `json:"external_id,omitempty"`
	Outcome    string    `json:"outcome"`
	Reason     string    `json:"reason,omitempty"`
}

// Actions emitted by the sync engine.
const (
	ActionSyncAttempted   = "sync_attempted"
	ActionSyncSucceeded   = "sync_succeeded"
	ActionSyncFailed      = "sync_failed"
	ActionStatusConfirmed = "status_confirmed"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// Publisher emits audit events. Implementations must be safe for concurrent
// use; a nil publisher is treated as a no-op by callers.
type Publisher interface {
	Emit(ctx context.Context, event Event) error
}
