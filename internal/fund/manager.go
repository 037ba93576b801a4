// Package fund approves relief funds against verified disaster events.
package fund

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/blockaid/internal/audit"
	"github.com/opensource-finance/blockaid/internal/bus"
	"github.com/opensource-finance/blockaid/internal/domain"
	"github.com/opensource-finance/blockaid/internal/metrics"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("blockaid-fund")

// Manager creates and reads funds.
type Manager struct {
	repo  domain.Repository
	bus   domain.EventBus
	trail *audit.Trail
	now   func() time.Time
}

// NewManager creates a fund manager. eventBus may be nil.
func NewManager(repo domain.Repository, eventBus domain.EventBus, trail *audit.Trail) *Manager {
	if trail == nil {
		trail = audit.NewTrail(repo)
	}
	return &Manager{repo: repo, bus: eventBus, trail: trail, now: time.Now}
}

// Create approves a fund of amount for a verified event.
func (m *Manager) Create(ctx context.Context, eventID string, amount decimal.Decimal, actor domain.Actor) (*domain.Fund, error) {
	const op = "fund.Create"

	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("event.id", eventID),
		attribute.String("actor.id", actor.ID),
	))
	defer span.End()

	f, err := m.create(ctx, op, strings.TrimSpace(eventID), amount, actor)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("fund.id", f.ID))

	metrics.FundsCreated.Inc()
	n := domain.Notification{
		EntityID:   f.ID,
		Actor:      actor.ID,
		Fund:       f,
		TraceID:    domain.TraceIDFrom(ctx),
		OccurredAt: m.now().UTC(),
	}
	if err := bus.PublishJSON(ctx, m.bus, domain.TopicFundCreated, n); err != nil {
		slog.Warn("failed to publish notification", "topic", domain.TopicFundCreated, "fund_id", f.ID, "error", err)
	}

	slog.Info("relief fund approved",
		"fund_id", f.ID,
		"event_id", f.EventID,
		"amount", f.TotalAmount.String(),
		"approved_by", actor.ID,
	)
	return f, nil
}

func (m *Manager) create(ctx context.Context, op, eventID string, amount decimal.Decimal, actor domain.Actor) (*domain.Fund, error) {
	if err := actor.Require(op, domain.CapabilityApproveFunds); err != nil {
		return nil, err
	}
	if eventID == "" {
		return nil, domain.Validationf(op, "event_id is required")
	}
	if amount.IsNegative() {
		return nil, domain.Validationf(op, "amount must not be negative")
	}

	ev, err := m.repo.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NotFoundf(op, "event %s not found", eventID)
		}
		return nil, domain.Internal(op, err)
	}
	if !ev.IsVerified {
		return nil, domain.Validationf(op, "event %s must be verified before funds are approved", eventID)
	}

	now := m.now().UTC().Truncate(time.Microsecond)
	f := &domain.Fund{
		ID:                uuid.New().String(),
		EventID:           eventID,
		TotalAmount:       amount,
		DistributedAmount: decimal.Zero,
		Status:            domain.FundApproved,
		ApprovedBy:        actor.ID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := f.Validate(); err != nil {
		return nil, domain.Validationf(op, "%v", err)
	}

	err = m.repo.WithTx(ctx, func(s domain.Store) error {
		if err := s.InsertFund(ctx, f); err != nil {
			return err
		}
		_, err := m.trail.AppendIn(ctx, s, audit.Entry{
			Action:     domain.ActionCreateFund,
			EntityType: domain.EntityDisasterFund,
			EntityID:   f.ID,
			Actor:      actor.ID,
			Details: map[string]any{
				"amount":   amount.String(),
				"event_id": eventID,
			},
		})
		return err
	})
	if err != nil {
		if domain.KindOf(err) == domain.ErrNotFound {
			return nil, domain.NotFoundf(op, "event %s not found", eventID)
		}
		return nil, domain.Internal(op, err)
	}
	return f, nil
}

// Get returns a fund by ID.
func (m *Manager) Get(ctx context.Context, id string) (*domain.Fund, error) {
	const op = "fund.Get"

	f, err := m.repo.GetFund(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NotFoundf(op, "fund %s not found", id)
		}
		return nil, domain.Internal(op, err)
	}
	return f, nil
}

// ListByEvent returns the funds of one event, oldest first.
func (m *Manager) ListByEvent(ctx context.Context, eventID string) ([]*domain.Fund, error) {
	const op = "fund.ListByEvent"

	if _, err := m.repo.GetEvent(ctx, eventID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NotFoundf(op, "event %s not found", eventID)
		}
		return nil, domain.Internal(op, err)
	}

	funds, err := m.repo.ListFundsByEvent(ctx, eventID)
	if err != nil {
		return nil, domain.Internal(op, err)
	}
	return funds, nil
}
