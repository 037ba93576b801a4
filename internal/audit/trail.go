// Package audit records every mutating action in an append-only trail.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/blockaid/internal/domain"
)

// DefaultPageSize is used when a listing does not ask for a size.
const DefaultPageSize = 20

// Entry is an audit record before storage assigns its identity.
type Entry struct {
	Action     string
	EntityType string
	EntityID   string
	Actor      string
	Details    map[string]any
}

// Trail appends to and reads from the audit log.
type Trail struct {
	repo domain.Repository
	now  func() time.Time
}

// NewTrail creates a trail over repo.
func NewTrail(repo domain.Repository) *Trail {
	return &Trail{repo: repo, now: time.Now}
}

// Append writes e in its own statement.
func (t *Trail) Append(ctx context.Context, e Entry) (*domain.AuditRecord, error) {
	return t.AppendIn(ctx, t.repo, e)
}

// AppendIn writes e through store, which is normally the transaction that
// also carries the audited change.
func (t *Trail) AppendIn(ctx context.Context, store domain.Store, e Entry) (*domain.AuditRecord, error) {
	const op = "audit.Append"

	if e.Action == "" {
		return nil, domain.Validationf(op, "action is required")
	}
	if e.EntityType == "" {
		return nil, domain.Validationf(op, "entity type is required")
	}

	rec := &domain.AuditRecord{
		ID:         uuid.New().String(),
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Actor:      e.Actor,
		Details:    e.Details,
		Timestamp:  t.now().UTC().Truncate(time.Microsecond),
	}
	if err := store.AppendAudit(ctx, rec); err != nil {
		return nil, domain.Internal(op, err)
	}
	return rec, nil
}

// List returns one page of the trail in chronological order.
func (t *Trail) List(ctx context.Context, page domain.Page) ([]*domain.AuditRecord, int, error) {
	records, total, err := t.repo.ListAudit(ctx, page)
	if err != nil {
		return nil, 0, domain.Internal("audit.List", err)
	}
	return records, total, nil
}
