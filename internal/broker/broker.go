// Package broker decouples "a Run is ready to execute" from "a worker
// picks it up" (§5, §6): Enqueue is fire-and-forget, Subscribe yields run
// IDs to whichever worker is listening. The Postgres implementation rides
// LISTEN/NOTIFY so no separate message broker is required to deploy this.
package broker

import (
	"context"

	"github.com/google/uuid"
)

// Broker is the minimal contract the orchestrator and cmd/worker need.
type Broker interface {
	// Enqueue signals that runID is ready to execute. Implementations may
	// coalesce duplicate signals for the same run.
	Enqueue(ctx context.Context, runID uuid.UUID) error

	// Subscribe returns a channel of run IDs ready to execute. The channel
	// is closed when ctx is cancelled.
	Subscribe(ctx context.Context) (<-chan uuid.UUID, error)

	Close() error
}
