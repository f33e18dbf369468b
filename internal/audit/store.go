package audit

import (
	"context"
	"time"
)

// Store is the interface for audit trail storage
type Store interface {
	// Insert inserts a single audit event
	Insert(ctx context.Context, ev *Event) error

	// InsertBatch inserts multiple audit events in a single transaction
	InsertBatch(ctx context.Context, events []*Event) error

	// Query retrieves audit events based on filter criteria, most recent
	// first
	Query(ctx context.Context, f *Filter) ([]*Event, error)

	// GetLastEvent retrieves the most recent audit event, or nil when the
	// trail is empty
	GetLastEvent(ctx context.Context) (*Event, error)

	// GetEventsByTimeRange retrieves events in chronological order for
	// chain verification
	GetEventsByTimeRange(ctx context.Context, from, to time.Time) ([]*Event, error)

	// VerifyIntegrity verifies the hash chain over a time range
	VerifyIntegrity(ctx context.Context, from, to time.Time) error
}
