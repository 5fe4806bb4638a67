package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	txcontext "fairfin/pkg/platform/tx"
)

// PostgresStore persists audit events. Each Append writes the audit_logs row
// and an outbox row in the same statement batch; the outbox relay publishes
// outbox entries to Kafka after commit, so downstream consumers only ever see
// events whose unit of work succeeded.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) execer(ctx context.Context) txcontext.Executor {
	return txcontext.Execer(ctx, s.db)
}

// outboxPayload is the JSON structure published to Kafka.
type outboxPayload struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	UserID    string `json:"user_id,omitempty"`
	Action    string `json:"action"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	var userID *uuid.UUID
	if !event.System() {
		uid := event.UserID
		userID = &uid
	}

	insertLog := `
		INSERT INTO audit_logs (id, user_id, action, detail, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := s.execer(ctx).ExecContext(ctx, insertLog,
		event.ID, userID, event.Action, event.Detail, event.Timestamp,
	); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}

	payload := outboxPayload{
		ID:        event.ID.String(),
		Timestamp: event.Timestamp.Format(time.RFC3339Nano),
		Action:    event.Action,
		Detail:    event.Detail,
		RequestID: event.RequestID,
	}
	if userID != nil {
		payload.UserID = userID.String()
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	insertOutbox := `
		INSERT INTO outbox (id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.execer(ctx).ExecContext(ctx, insertOutbox,
		uuid.New(), event.Action, payloadBytes, time.Now(),
	); err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, user_id, action, detail, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent audit logs: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]Event, error) {
	query := `
		SELECT id, user_id, action, detail, created_at
		FROM audit_logs
		WHERE user_id = $1
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list audit logs by user: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_logs`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count audit logs: %w", err)
	}
	return count, nil
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var event Event
		var userID *uuid.UUID
		if err := rows.Scan(&event.ID, &userID, &event.Action, &event.Detail, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		if userID != nil {
			event.UserID = *userID
		}
		out = append(out, event)
	}
	return out, rows.Err()
}
