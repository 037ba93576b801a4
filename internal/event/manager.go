// Package event owns the disaster event lifecycle: deduplicated creation,
// scoring, single verification and cached reads.
package event

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/blockaid/internal/audit"
	"github.com/opensource-finance/blockaid/internal/bus"
	"github.com/opensource-finance/blockaid/internal/domain"
	"github.com/opensource-finance/blockaid/internal/metrics"
	"github.com/opensource-finance/blockaid/internal/scoring"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultPageSize is used when a listing does not ask for a size.
const DefaultPageSize = 10

const defaultEventTTL = 10 * time.Minute

var tracer = otel.Tracer("blockaid-event")

// Deps are the collaborators of a Manager. Cache and Bus may be nil.
type Deps struct {
	Repo       domain.Repository
	Cache      domain.Cache
	Bus        domain.EventBus
	Classifier domain.Classifier
	Scorer     *scoring.Scorer
	Trail      *audit.Trail
	EventTTL   time.Duration
}

// Manager runs the event lifecycle. It is safe for concurrent use.
type Manager struct {
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	classifier domain.Classifier
	scorer     *scoring.Scorer
	trail      *audit.Trail
	eventTTL   time.Duration
	now        func() time.Time
}

// NewManager creates a manager. A nil Scorer uses the default weights and a
// nil Trail writes through Repo.
func NewManager(d Deps) *Manager {
	m := &Manager{
		repo:       d.Repo,
		cache:      d.Cache,
		bus:        d.Bus,
		classifier: d.Classifier,
		scorer:     d.Scorer,
		trail:      d.Trail,
		eventTTL:   d.EventTTL,
		now:        time.Now,
	}
	if m.scorer == nil {
		m.scorer = scoring.Default()
	}
	if m.trail == nil {
		m.trail = audit.NewTrail(d.Repo)
	}
	if m.eventTTL <= 0 {
		m.eventTTL = defaultEventTTL
	}
	return m
}

// ImageHash is the content address used for deduplication.
func ImageHash(image []byte) string {
	sum := sha256.Sum256(image)
	return hex.EncodeToString(sum[:])
}

// Create validates, classifies, scores and stores a new report together
// with its CREATE_EVENT audit record.
func (m *Manager) Create(ctx context.Context, draft domain.EventDraft, image []byte, actor domain.Actor) (*domain.DisasterEvent, domain.SeverityAssessment, error) {
	const op = "event.Create"

	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(attribute.String("actor.id", actor.ID)))
	defer span.End()

	ev, err := m.create(ctx, op, draft, image, actor)
	if err != nil {
		metrics.EventRejections.WithLabelValues(reason(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, domain.SeverityAssessment{}, err
	}

	span.SetAttributes(
		attribute.String("event.id", ev.ID),
		attribute.String("event.severity_level", string(ev.Assessment.Level)),
		attribute.Float64("event.severity_score", ev.Assessment.TotalScore),
	)
	metrics.EventsCreated.WithLabelValues(string(ev.Assessment.Level)).Inc()

	if m.cache != nil {
		if err := m.cache.SetEvent(ctx, ev, m.eventTTL); err != nil {
			slog.Warn("failed to cache event", "event_id", ev.ID, "error", err)
		}
	}
	m.notify(ctx, domain.TopicEventCreated, actor, ev)

	slog.Info("disaster event created",
		"event_id", ev.ID,
		"image_hash", ev.ImageHash,
		"severity_level", ev.Assessment.Level,
		"severity_score", ev.Assessment.TotalScore,
		"reported_by", actor.ID,
	)
	return ev, ev.Assessment, nil
}

func (m *Manager) create(ctx context.Context, op string, draft domain.EventDraft, image []byte, actor domain.Actor) (*domain.DisasterEvent, error) {
	if err := actor.Require(op, domain.CapabilityReport); err != nil {
		return nil, err
	}

	draft.DisasterType = strings.TrimSpace(draft.DisasterType)
	draft.Location = strings.TrimSpace(draft.Location)
	missing := draft.MissingFields()
	if len(image) == 0 {
		missing = append(missing, "image")
	}
	if len(missing) > 0 {
		return nil, domain.Validationf(op, "missing required fields: %s", strings.Join(missing, ", "))
	}
	if invalid := draft.InvalidFields(); len(invalid) > 0 {
		return nil, domain.Validationf(op, "measurements must be finite numbers: %s", strings.Join(invalid, ", "))
	}

	hash := ImageHash(image)
	switch existing, err := m.repo.GetEventByHash(ctx, hash); {
	case err == nil:
		return nil, domain.Conflictf(op, "image already reported as event %s", existing.ID)
	case !errors.Is(err, domain.ErrNotFound):
		return nil, domain.Internal(op, err)
	}

	start := time.Now()
	predictions, err := m.classifier.Classify(ctx, image)
	metrics.ObserveClassifier(start, err)
	if err != nil {
		if errors.Is(err, domain.ErrUnavailable) {
			return nil, domain.Unavailable(op, err)
		}
		return nil, domain.Internal(op, err)
	}

	measurements := draft.Measurements()
	assessment := m.scorer.Assess(predictions, measurements)

	now := m.now().UTC().Truncate(time.Microsecond)
	ev := &domain.DisasterEvent{
		ID:           uuid.New().String(),
		DisasterType: draft.DisasterType,
		Location:     draft.Location,
		ImageHash:    hash,
		Predictions:  predictions,
		Measurements: measurements,
		Assessment:   assessment,
		ReportedBy:   actor.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	details := assessment.Details()
	details["predictions"] = map[string]any{
		"low":    predictions.Low,
		"medium": predictions.Medium,
		"high":   predictions.High,
	}

	err = m.repo.WithTx(ctx, func(s domain.Store) error {
		if err := s.InsertEvent(ctx, ev); err != nil {
			return err
		}
		_, err := m.trail.AppendIn(ctx, s, audit.Entry{
			Action:     domain.ActionCreateEvent,
			EntityType: domain.EntityDisasterEvent,
			EntityID:   ev.ID,
			Actor:      actor.ID,
			Details:    details,
		})
		return err
	})
	if err != nil {
		if domain.KindOf(err) == domain.ErrConflict {
			return nil, domain.Conflictf(op, "image %s was already reported", hash)
		}
		return nil, domain.Internal(op, err)
	}
	return ev, nil
}

// Verify marks an event verified exactly once and audits it.
func (m *Manager) Verify(ctx context.Context, id string, actor domain.Actor) (*domain.DisasterEvent, error) {
	const op = "event.Verify"

	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("event.id", id),
		attribute.String("actor.id", actor.ID),
	))
	defer span.End()

	ev, err := m.verify(ctx, op, id, actor)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	metrics.EventsVerified.Inc()
	if m.cache != nil {
		if err := m.cache.Delete(ctx, domain.EventCacheKey(id)); err != nil {
			slog.Warn("failed to invalidate cached event", "event_id", id, "error", err)
		}
	}
	m.notify(ctx, domain.TopicEventVerified, actor, ev)

	slog.Info("disaster event verified", "event_id", id, "verified_by", actor.ID)
	return ev, nil
}

func (m *Manager) verify(ctx context.Context, op, id string, actor domain.Actor) (*domain.DisasterEvent, error) {
	if err := actor.Require(op, domain.CapabilityVerify); err != nil {
		return nil, err
	}

	ev, err := m.repo.GetEvent(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NotFoundf(op, "event %s not found", id)
		}
		return nil, domain.Internal(op, err)
	}
	if ev.IsVerified {
		return nil, domain.Conflictf(op, "event %s is already verified", id)
	}

	at := m.now().UTC().Truncate(time.Microsecond)
	err = m.repo.WithTx(ctx, func(s domain.Store) error {
		if err := s.MarkEventVerified(ctx, id, actor.ID, at); err != nil {
			return err
		}
		_, err := m.trail.AppendIn(ctx, s, audit.Entry{
			Action:     domain.ActionVerifyEvent,
			EntityType: domain.EntityDisasterEvent,
			EntityID:   id,
			Actor:      actor.ID,
			Details: map[string]any{
				"severity_level": string(ev.Assessment.Level),
				"severity_score": ev.Assessment.TotalScore,
			},
		})
		return err
	})
	if err != nil {
		switch domain.KindOf(err) {
		case domain.ErrConflict:
			return nil, domain.Conflictf(op, "event %s is already verified", id)
		case domain.ErrNotFound:
			return nil, domain.NotFoundf(op, "event %s not found", id)
		}
		return nil, domain.Internal(op, err)
	}

	ev.IsVerified = true
	ev.VerifiedBy = actor.ID
	ev.VerifiedAt = &at
	ev.UpdatedAt = at
	return ev, nil
}

// Get returns an event, reading through the cache.
func (m *Manager) Get(ctx context.Context, id string) (*domain.DisasterEvent, error) {
	const op = "event.Get"

	if m.cache != nil {
		ev, err := m.cache.GetEvent(ctx, id)
		if err != nil {
			slog.Warn("event cache read failed", "event_id", id, "error", err)
		} else if ev != nil {
			return ev, nil
		}
	}

	ev, err := m.repo.GetEvent(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NotFoundf(op, "event %s not found", id)
		}
		return nil, domain.Internal(op, err)
	}

	if m.cache != nil {
		if err := m.cache.SetEvent(ctx, ev, m.eventTTL); err != nil {
			slog.Warn("failed to cache event", "event_id", id, "error", err)
		}
	}
	return ev, nil
}

// List returns one page of events, oldest first, and the total count.
func (m *Manager) List(ctx context.Context, page domain.Page) ([]*domain.DisasterEvent, int, error) {
	events, total, err := m.repo.ListEvents(ctx, page)
	if err != nil {
		return nil, 0, domain.Internal("event.List", err)
	}
	return events, total, nil
}

// notify publishes a lifecycle notification. Failures are logged only.
func (m *Manager) notify(ctx context.Context, topic string, actor domain.Actor, ev *domain.DisasterEvent) {
	n := domain.Notification{
		EntityID:   ev.ID,
		Actor:      actor.ID,
		Event:      ev,
		TraceID:    domain.TraceIDFrom(ctx),
		OccurredAt: m.now().UTC(),
	}
	if err := bus.PublishJSON(ctx, m.bus, topic, n); err != nil {
		slog.Warn("failed to publish notification", "topic", topic, "event_id", ev.ID, "error", err)
	}
}

func reason(err error) string {
	switch domain.KindOf(err) {
	case domain.ErrValidation:
		return "validation"
	case domain.ErrConflict:
		return "duplicate"
	case domain.ErrForbidden:
		return "forbidden"
	case domain.ErrUnavailable:
		return "unavailable"
	case domain.ErrNotFound:
		return "not_found"
	default:
		return "internal"
	}
}
