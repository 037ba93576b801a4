package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/opensource-finance/blockaid/internal/domain"
)

const fundColumns = `id, event_id, total_amount, distributed_amount, status, approved_by, created_at, updated_at`

// InsertFund stores a fund. A missing parent event fails with
// domain.ErrNotFound.
func (r *SQLRepository) InsertFund(ctx context.Context, fund *domain.Fund) error {
	query := `INSERT INTO funds (` + fundColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.q.ExecContext(ctx, r.rebind(query),
		fund.ID, fund.EventID,
		fund.TotalAmount.String(), fund.DistributedAmount.String(),
		string(fund.Status), fund.ApprovedBy,
		fund.CreatedAt.UTC(), fund.UpdatedAt.UTC(),
	)
	return mapDriverError(err)
}

// GetFund retrieves a fund by ID.
func (r *SQLRepository) GetFund(ctx context.Context, id string) (*domain.Fund, error) {
	query := `SELECT ` + fundColumns + ` FROM funds WHERE id = ?`

	fund, err := scanFund(r.q.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: fund %s", domain.ErrNotFound, id)
	}
	return fund, err
}

// ListFundsByEvent returns every fund attached to an event, oldest first.
func (r *SQLRepository) ListFundsByEvent(ctx context.Context, eventID string) ([]*domain.Fund, error) {
	query := `SELECT ` + fundColumns + ` FROM funds WHERE event_id = ? ORDER BY created_at, id`

	rows, err := r.q.QueryContext(ctx, r.rebind(query), eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	funds := []*domain.Fund{}
	for rows.Next() {
		fund, err := scanFund(rows)
		if err != nil {
			return nil, err
		}
		funds = append(funds, fund)
	}
	return funds, rows.Err()
}

func scanFund(s rowScanner) (*domain.Fund, error) {
	var f domain.Fund
	var status string

	if err := s.Scan(
		&f.ID, &f.EventID, &f.TotalAmount, &f.DistributedAmount,
		&status, &f.ApprovedBy, &f.CreatedAt, &f.UpdatedAt,
	); err != nil {
		return nil, err
	}

	f.Status = domain.FundStatus(status)
	f.CreatedAt = f.CreatedAt.UTC()
	f.UpdatedAt = f.UpdatedAt.UTC()
	return &f, nil
}
