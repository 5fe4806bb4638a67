// Package outbox relays committed audit events from the transactional outbox
// table to Kafka. Events are written to the outbox inside the same unit of
// work as the mutation they record; the relay publishes them after commit and
// deletes published rows, so the broker only ever sees committed events.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 100
)

// Producer is the slice of the kgo client the relay needs. *kgo.Client
// satisfies it; tests substitute a fake.
type Producer interface {
	ProduceSync(ctx context.Context, records ...*kgo.Record) kgo.ProduceResults
}

// Relay polls the outbox table and publishes entries to Kafka.
//
// The relay runs on its own pgx pool so its polling load stays off the
// request-path *sql.DB pool. Rows are claimed with FOR UPDATE SKIP LOCKED so
// multiple relay instances never double-publish within one claim window.
type Relay struct {
	pool     *pgxpool.Pool
	producer Producer
	topic    string
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

type Option func(*Relay)

func WithPollInterval(d time.Duration) Option {
	return func(r *Relay) {
		r.interval = d
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		r.batch = n
	}
}

func New(pool *pgxpool.Pool, producer Producer, topic string, logger *slog.Logger, opts ...Option) *Relay {
	r := &Relay{
		pool:     pool,
		producer: producer,
		topic:    topic,
		interval: defaultPollInterval,
		batch:    defaultBatchSize,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnsureTopic creates the audit topic if it does not exist yet.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string) error {
	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopic(ctx, 1, 1, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", topic, resp.Err)
	}
	return nil
}

// Run polls until ctx is cancelled. Publish errors are logged and retried on
// the next tick; rows stay in the outbox until a publish round succeeds.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.publishBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.ErrorContext(ctx, "outbox publish round failed", "error", err)
			}
		}
	}
}

func (r *Relay) publishBatch(ctx context.Context) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin outbox claim: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	rows, err := tx.Query(ctx, `
		SELECT id, event_type, payload
		FROM outbox
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, r.batch)
	if err != nil {
		return fmt.Errorf("claim outbox rows: %w", err)
	}

	var (
		ids     []uuid.UUID
		records []*kgo.Record
	)
	for rows.Next() {
		var (
			id        uuid.UUID
			eventType string
			payload   []byte
		)
		if err := rows.Scan(&id, &eventType, &payload); err != nil {
			rows.Close()
			return fmt.Errorf("scan outbox row: %w", err)
		}
		ids = append(ids, id)
		records = append(records, &kgo.Record{
			Topic: r.topic,
			Key:   []byte(eventType),
			Value: payload,
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate outbox rows: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	if err := r.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce audit events: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM outbox WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("delete published outbox rows: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit outbox claim: %w", err)
	}

	r.logger.DebugContext(ctx, "published audit events", "count", len(records))
	return nil
}
