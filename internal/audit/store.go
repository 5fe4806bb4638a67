package audit

import (
	"context"

	"github.com/google/uuid"
)

// Store is the append-only persistence boundary for audit events. Append must
// participate in any transaction carried by ctx so an event commits or rolls
// back together with the mutation it records.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListRecent(ctx context.Context, limit int) ([]Event, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Event, error)
	Count(ctx context.Context) (int, error)
}
