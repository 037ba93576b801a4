package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/blockaid/internal/domain"
)

const eventColumns = `
	id, disaster_type, location, image_hash,
	predictions, measurements, component_scores, weights,
	severity_score, severity_level, confidence,
	is_verified, reported_by, verified_by, verified_at,
	created_at, updated_at`

// InsertEvent stores a new event. A duplicate image hash fails with
// domain.ErrConflict.
func (r *SQLRepository) InsertEvent(ctx context.Context, ev *domain.DisasterEvent) error {
	predictions, err := json.Marshal(ev.Predictions)
	if err != nil {
		return fmt.Errorf("encode predictions: %w", err)
	}
	measurements, err := json.Marshal(ev.Measurements)
	if err != nil {
		return fmt.Errorf("encode measurements: %w", err)
	}
	components, err := json.Marshal(ev.Assessment.Components)
	if err != nil {
		return fmt.Errorf("encode component scores: %w", err)
	}
	weights, err := json.Marshal(ev.Assessment.Weights)
	if err != nil {
		return fmt.Errorf("encode weights: %w", err)
	}

	var verifiedBy sql.NullString
	var verifiedAt sql.NullTime
	if ev.IsVerified {
		verifiedBy = sql.NullString{String: ev.VerifiedBy, Valid: ev.VerifiedBy != ""}
		if ev.VerifiedAt != nil {
			verifiedAt = sql.NullTime{Time: ev.VerifiedAt.UTC(), Valid: true}
		}
	}

	query := `
		INSERT INTO events (
			id, disaster_type, location, location_key, image_hash,
			predictions, measurements, component_scores, weights,
			severity_score, severity_level, confidence,
			is_verified, reported_by, verified_by, verified_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.q.ExecContext(ctx, r.rebind(query),
		ev.ID, ev.DisasterType, ev.Location, domain.LocationKey(ev.Location), ev.ImageHash,
		string(predictions), string(measurements), string(components), string(weights),
		ev.Assessment.TotalScore, string(ev.Assessment.Level), ev.Assessment.Confidence,
		boolInt(ev.IsVerified), ev.ReportedBy, verifiedBy, verifiedAt,
		ev.CreatedAt.UTC(), ev.UpdatedAt.UTC(),
	)
	return mapDriverError(err)
}

// GetEvent retrieves an event by ID.
func (r *SQLRepository) GetEvent(ctx context.Context, id string) (*domain.DisasterEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = ?`

	ev, err := scanEvent(r.q.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: event %s", domain.ErrNotFound, id)
	}
	return ev, err
}

// GetEventByHash retrieves the event reported with the given image hash.
func (r *SQLRepository) GetEventByHash(ctx context.Context, imageHash string) (*domain.DisasterEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE image_hash = ?`

	ev, err := scanEvent(r.q.QueryRowContext(ctx, r.rebind(query), imageHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no event with image hash %s", domain.ErrNotFound, imageHash)
	}
	return ev, err
}

// ListEvents returns one page of events, oldest first, and the total count.
func (r *SQLRepository) ListEvents(ctx context.Context, page domain.Page) ([]*domain.DisasterEvent, int, error) {
	var total int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + eventColumns + ` FROM events ORDER BY created_at, id LIMIT ? OFFSET ?`

	rows, err := r.q.QueryContext(ctx, r.rebind(query), page.Size, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	events := make([]*domain.DisasterEvent, 0, page.Size)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, ev)
	}
	return events, total, rows.Err()
}

// MarkEventVerified flips an unverified event to verified. Verifying an
// already verified event fails with domain.ErrConflict.
func (r *SQLRepository) MarkEventVerified(ctx context.Context, id, actorID string, at time.Time) error {
	query := `
		UPDATE events
		SET is_verified = 1, verified_by = ?, verified_at = ?, updated_at = ?
		WHERE id = ? AND is_verified = 0
	`

	at = at.UTC()
	result, err := r.q.ExecContext(ctx, r.rebind(query), actorID, at, at, id)
	if err != nil {
		return mapDriverError(err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists int
	if err := r.q.QueryRowContext(ctx, r.rebind(`SELECT COUNT(*) FROM events WHERE id = ?`), id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("%w: event %s", domain.ErrNotFound, id)
	}
	return fmt.Errorf("%w: event %s is already verified", domain.ErrConflict, id)
}

// CountEventsAtLocation counts events reported at location since the given
// time. Locations compare case-insensitively.
func (r *SQLRepository) CountEventsAtLocation(ctx context.Context, location string, since time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM events WHERE location_key = ? AND created_at >= ?`

	var count int64
	err := r.q.QueryRowContext(ctx, r.rebind(query), domain.LocationKey(location), since.UTC()).Scan(&count)
	return count, err
}

func scanEvent(s rowScanner) (*domain.DisasterEvent, error) {
	var ev domain.DisasterEvent
	var predictions, measurements, components, weights string
	var level string
	var verified int
	var verifiedBy sql.NullString
	var verifiedAt sql.NullTime

	if err := s.Scan(
		&ev.ID, &ev.DisasterType, &ev.Location, &ev.ImageHash,
		&predictions, &measurements, &components, &weights,
		&ev.Assessment.TotalScore, &level, &ev.Assessment.Confidence,
		&verified, &ev.ReportedBy, &verifiedBy, &verifiedAt,
		&ev.CreatedAt, &ev.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(predictions), &ev.Predictions); err != nil {
		return nil, fmt.Errorf("decode predictions of %s: %w", ev.ID, err)
	}
	if err := json.Unmarshal([]byte(measurements), &ev.Measurements); err != nil {
		return nil, fmt.Errorf("decode measurements of %s: %w", ev.ID, err)
	}
	if err := json.Unmarshal([]byte(components), &ev.Assessment.Components); err != nil {
		return nil, fmt.Errorf("decode component scores of %s: %w", ev.ID, err)
	}
	if err := json.Unmarshal([]byte(weights), &ev.Assessment.Weights); err != nil {
		return nil, fmt.Errorf("decode weights of %s: %w", ev.ID, err)
	}

	ev.Assessment.Level = domain.SeverityLevel(level)
	ev.IsVerified = verified == 1
	ev.VerifiedBy = verifiedBy.String
	if verifiedAt.Valid {
		t := verifiedAt.Time.UTC()
		ev.VerifiedAt = &t
	}
	ev.CreatedAt = ev.CreatedAt.UTC()
	ev.UpdatedAt = ev.UpdatedAt.UTC()
	return &ev, nil
}
