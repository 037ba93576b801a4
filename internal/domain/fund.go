package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// FundStatus is the approval state of a relief fund.
type FundStatus string

const (
	FundPending  FundStatus = "PENDING"
	FundApproved FundStatus = "APPROVED"

	// FundDistributed is reserved for a disbursement flow that does not exist
	// yet. Nothing in this module transitions a fund into it.
	FundDistributed FundStatus = "DISTRIBUTED"
)

// Valid reports whether s is a known status.
func (s FundStatus) Valid() bool {
	switch s {
	case FundPending, FundApproved, FundDistributed:
		return true
	}
	return false
}

// Fund is a relief fund attached to one verified disaster event.
type Fund struct {
	ID                string          `json:"id"`
	EventID           string          `json:"event_id"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	DistributedAmount decimal.Decimal `json:"distributed_amount"`
	Status            FundStatus      `json:"status"`
	ApprovedBy        string          `json:"approved_by"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Validate checks the amount and status invariants of a fund.
func (f *Fund) Validate() error {
	if f.EventID == "" {
		return fmt.Errorf("%w: fund event_id is required", ErrValidation)
	}
	if f.TotalAmount.IsNegative() {
		return fmt.Errorf("%w: total_amount must not be negative", ErrValidation)
	}
	if f.DistributedAmount.IsNegative() {
		return fmt.Errorf("%w: distributed_amount must not be negative", ErrValidation)
	}
	if f.DistributedAmount.GreaterThan(f.TotalAmount) {
		return fmt.Errorf("%w: distributed_amount exceeds total_amount", ErrValidation)
	}
	if !f.Status.Valid() {
		return fmt.Errorf("%w: unknown fund status %q", ErrValidation, f.Status)
	}
	return nil
}
