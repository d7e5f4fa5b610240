package broker

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultChannel = "run_execute"

// PostgresBroker rides LISTEN/NOTIFY: Enqueue runs pg_notify over the
// shared pool, Subscribe holds a dedicated connection (LISTEN is
// connection-scoped, pooled connections cannot be used for it).
type PostgresBroker struct {
	pool    *pgxpool.Pool
	dsn     string
	channel string
}

// NewPostgresBroker wraps an already-open pool for Enqueue and keeps the
// raw dsn around to open the dedicated listening connection.
func NewPostgresBroker(pool *pgxpool.Pool, dsn string) *PostgresBroker {
	return &PostgresBroker{pool: pool, dsn: dsn, channel: defaultChannel}
}

func (b *PostgresBroker) Enqueue(ctx context.Context, runID uuid.UUID) error {
	_, err := b.pool.Exec(ctx, "SELECT pg_notify($1, $2)", b.channel, runID.String())
	if err != nil {
		return fmt.Errorf("broker(postgres): notify run %s: %w", runID, err)
	}
	return nil
}

func (b *PostgresBroker) Subscribe(ctx context.Context) (<-chan uuid.UUID, error) {
	conn, err := pgx.Connect(ctx, b.dsn)
	if err != nil {
		return nil, fmt.Errorf("broker(postgres): open listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+b.channel); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("broker(postgres): listen %s: %w", b.channel, err)
	}

	out := make(chan uuid.UUID, 16)
	go func() {
		defer close(out)
		defer conn.Close(context.Background())
		for {
			notification, err := conn.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("[WARN] broker(postgres): wait for notification: %v", err)
				return
			}
			runID, err := uuid.Parse(notification.Payload)
			if err != nil {
				log.Printf("[WARN] broker(postgres): malformed payload %q: %v", notification.Payload, err)
				continue
			}
			select {
			case out <- runID:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *PostgresBroker) Close() error {
	b.pool.Close()
	return nil
}
