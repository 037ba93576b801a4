package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opensource-finance/blockaid/internal/domain"
)

// AppendAudit inserts one audit record and fills in its storage sequence.
// There is no update or delete counterpart; the schema rejects both.
func (r *SQLRepository) AppendAudit(ctx context.Context, rec *domain.AuditRecord) error {
	details := rec.Details
	if details == nil {
		details = map[string]any{}
	}
	encoded, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}

	query := `
		INSERT INTO audit_logs (id, action, entity_type, entity_id, actor, details, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING seq
	`

	err = r.q.QueryRowContext(ctx, r.rebind(query),
		rec.ID, rec.Action, rec.EntityType, rec.EntityID, rec.Actor,
		string(encoded), rec.Timestamp.UTC(),
	).Scan(&rec.Sequence)
	return mapDriverError(err)
}

// ListAudit returns one page of the trail in chronological order and the
// total number of records.
func (r *SQLRepository) ListAudit(ctx context.Context, page domain.Page) ([]*domain.AuditRecord, int, error) {
	var total int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_logs`).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT seq, id, action, entity_type, entity_id, actor, details, occurred_at
		FROM audit_logs
		ORDER BY occurred_at, seq
		LIMIT ? OFFSET ?
	`

	rows, err := r.q.QueryContext(ctx, r.rebind(query), page.Size, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	records := make([]*domain.AuditRecord, 0, page.Size)
	for rows.Next() {
		var rec domain.AuditRecord
		var details string
		if err := rows.Scan(
			&rec.Sequence, &rec.ID, &rec.Action, &rec.EntityType,
			&rec.EntityID, &rec.Actor, &details, &rec.Timestamp,
		); err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal([]byte(details), &rec.Details); err != nil {
			return nil, 0, fmt.Errorf("decode audit details of %s: %w", rec.ID, err)
		}
		rec.Timestamp = rec.Timestamp.UTC()
		records = append(records, &rec)
	}
	return records, total, rows.Err()
}
