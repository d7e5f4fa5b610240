package broker

import (
	"context"

	"github.com/google/uuid"
)

// MemoryBroker is an in-process channel broker, used by cmd/worker and
// cmd/submitjob when no database DSN is configured, where no Postgres
// LISTEN/NOTIFY is wired up.
type MemoryBroker struct {
	ch chan uuid.UUID
}

// NewMemoryBroker builds a broker with the given channel buffer size.
func NewMemoryBroker(buffer int) *MemoryBroker {
	return &MemoryBroker{ch: make(chan uuid.UUID, buffer)}
}

func (b *MemoryBroker) Enqueue(ctx context.Context, runID uuid.UUID) error {
	select {
	case b.ch <- runID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBroker) Subscribe(ctx context.Context) (<-chan uuid.UUID, error) {
	out := make(chan uuid.UUID, cap(b.ch))
	go func() {
		defer close(out)
		for {
			select {
			case runID, ok := <-b.ch:
				if !ok {
					return
				}
				select {
				case out <- runID:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *MemoryBroker) Close() error {
	close(b.ch)
	return nil
}
