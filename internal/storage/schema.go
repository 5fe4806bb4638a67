package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema is the relational schema for the portal. Referential integrity and
// cascade behavior are stated here explicitly rather than left to an ORM:
// deleting a user removes their loans, edit requests, and audit trail, and the
// partial unique index enforces the at-most-one-pending-edit-request rule at
// the storage layer.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id         UUID PRIMARY KEY,
	subject_id TEXT NOT NULL UNIQUE,
	email      TEXT NOT NULL UNIQUE,
	role       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS loan_applications (
	id          UUID PRIMARY KEY,
	user_id     UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	features    JSONB NOT NULL,
	status      TEXT NOT NULL,
	explanation JSONB,
	version     BIGINT NOT NULL DEFAULT 1,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS loan_applications_owner_idx
	ON loan_applications (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS loan_applications_status_idx
	ON loan_applications (status, created_at ASC);

CREATE TABLE IF NOT EXISTS edit_requests (
	id                     UUID PRIMARY KEY,
	user_id                UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	loan_application_id    UUID NOT NULL REFERENCES loan_applications(id) ON DELETE CASCADE,
	new_monthly_expenses   DOUBLE PRECISION,
	new_existing_loans     INTEGER,
	new_loan_tenure_months INTEGER,
	withdraw_requested     BOOLEAN NOT NULL DEFAULT FALSE,
	status                 TEXT NOT NULL,
	created_at             TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS edit_requests_one_pending_idx
	ON edit_requests (loan_application_id)
	WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS audit_logs (
	id         UUID PRIMARY KEY,
	user_id    UUID REFERENCES users(id) ON DELETE CASCADE,
	action     TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS outbox (
	id         UUID PRIMARY KEY,
	event_type TEXT NOT NULL,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

// ApplySchema creates all tables and indexes if they do not exist yet.
func ApplySchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
