// Package worker runs the escalation pipeline for newly created events.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/blockaid/internal/bus"
	"github.com/opensource-finance/blockaid/internal/domain"
	"github.com/opensource-finance/blockaid/internal/escalation"
	"github.com/opensource-finance/blockaid/internal/metrics"
	"github.com/opensource-finance/blockaid/internal/rules"
	"github.com/opensource-finance/blockaid/internal/velocity"
)

// Worker consumes event.created notifications and publishes escalation
// decisions.
type Worker struct {
	bus       domain.EventBus
	engine    *rules.Engine
	velocity  *velocity.Service
	processor *escalation.Processor

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates an escalation worker. velocitySvc may be nil, in which
// case every event is evaluated with a velocity of zero.
func NewWorker(eventBus domain.EventBus, engine *rules.Engine, velocitySvc *velocity.Service, processor *escalation.Processor) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	if processor == nil {
		processor = escalation.NewProcessor(0)
	}
	return &Worker{
		bus:       eventBus,
		engine:    engine,
		velocity:  velocitySvc,
		processor: processor,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to new events.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ctx.Err() != nil {
		return fmt.Errorf("worker is stopped")
	}

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicEventCreated, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("escalation worker started", "topic", domain.TopicEventCreated)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var n domain.Notification
	if err := json.Unmarshal(msg.Payload, &n); err != nil {
		slog.Error("failed to parse event notification",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if n.Event == nil {
		return fmt.Errorf("notification %s carries no event", msg.ID)
	}

	traceID := n.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	_, err := w.Process(ctx, n.Event, traceID)
	return err
}

// Process runs velocity, rules and the decision processor for one event and
// publishes the outcome.
func (w *Worker) Process(ctx context.Context, ev *domain.DisasterEvent, traceID string) (*domain.Escalation, error) {
	start := time.Now()

	slog.Debug("evaluating event for escalation",
		"event_id", ev.ID,
		"trace_id", traceID,
	)

	// 1. Location velocity
	var locationVelocity int64
	if w.velocity != nil {
		n, err := w.velocity.Observe(ctx, ev.Location)
		if err != nil {
			slog.Warn("velocity lookup failed",
				"event_id", ev.ID,
				"error", err,
			)
		} else {
			locationVelocity = n
		}
	}

	// 2. Rules
	rulesStart := time.Now()
	ruleResults, err := w.engine.EvaluateAll(ctx, &rules.EvaluateInput{
		Event:            ev,
		LocationVelocity: locationVelocity,
	})
	if err != nil {
		slog.Error("rule evaluation failed",
			"event_id", ev.ID,
			"error", err,
		)
		return nil, err
	}
	rulesMs := time.Since(rulesStart).Milliseconds()

	// 3. Decision
	decision := w.processor.Process(ctx, &escalation.DecisionInput{
		EventID:          ev.ID,
		TraceID:          traceID,
		LocationVelocity: locationVelocity,
		RuleResults:      ruleResults,
		RulesMs:          rulesMs,
		StartTime:        start,
	})

	// 4. Publish
	if err := bus.PublishJSON(ctx, w.bus, domain.TopicEscalationDecision, decision); err != nil {
		slog.Error("failed to publish escalation decision",
			"event_id", ev.ID,
			"error", err,
		)
	}
	if decision.Escalated() {
		metrics.EscalationsRaised.Inc()
		if err := bus.PublishJSON(ctx, w.bus, domain.TopicEscalationAlert, decision); err != nil {
			slog.Error("failed to publish escalation alert",
				"event_id", ev.ID,
				"error", err,
			)
		}
	}

	slog.Info("event evaluated for escalation",
		"event_id", ev.ID,
		"status", decision.Status,
		"score", decision.Score,
		"location_velocity", locationVelocity,
		"reasons", decision.Reasons,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return decision, nil
}

// Stop unsubscribes and cancels in-flight handlers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("escalation worker stopped")
	return nil
}

// Stats describes the worker's subscriptions.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	RulesLoaded       int      `json:"rulesLoaded"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		RulesLoaded:       w.engine.RulesCount(),
	}
}
