// Package escalation aggregates escalation rule results into a decision.
package escalation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/blockaid/internal/domain"
)

// EngineVersion is stamped on every decision.
const EngineVersion = "blockaid-1.0"

// DefaultAlertThreshold is the aggregate score at which an event escalates.
const DefaultAlertThreshold = 0.7

// Processor turns rule results into an escalation decision.
type Processor struct {
	// AlertThreshold is the aggregate score at or above which an event
	// escalates.
	AlertThreshold float64

	// UseWeightedScoring applies rule weights in the aggregate.
	UseWeightedScoring bool
}

// NewProcessor creates a processor. A non-positive threshold uses
// DefaultAlertThreshold.
func NewProcessor(threshold float64) *Processor {
	if threshold <= 0 {
		threshold = DefaultAlertThreshold
	}
	return &Processor{
		AlertThreshold:     threshold,
		UseWeightedScoring: true,
	}
}

// DecisionInput contains everything needed for one decision.
type DecisionInput struct {
	EventID          string
	TraceID          string
	LocationVelocity int64
	RuleResults      []domain.RuleResult
	RulesMs          int64
	StartTime        time.Time
}

// Process evaluates rule results and produces a decision.
func (p *Processor) Process(_ context.Context, input *DecisionInput) *domain.Escalation {
	start := time.Now()

	agg := p.aggregate(input.RuleResults)

	esc := &domain.Escalation{
		ID:          uuid.New().String(),
		EventID:     input.EventID,
		Status:      domain.EscalationNone,
		Score:       agg.AggregateScore,
		RuleResults: input.RuleResults,
		Timestamp:   time.Now().UTC(),
	}
	if agg.HasCriticalFailure || (len(input.RuleResults) > 0 && agg.AggregateScore >= p.AlertThreshold) {
		esc.Status = domain.EscalationRaised
	}
	esc.Reasons = Reasons(input.RuleResults)

	startTime := input.StartTime
	if startTime.IsZero() {
		startTime = start
	}
	esc.Metadata = domain.EscalationMetadata{
		TraceID:          input.TraceID,
		LocationVelocity: input.LocationVelocity,
		RulesEvaluated:   len(input.RuleResults),
		RulesMs:          input.RulesMs,
		DecisionMs:       time.Since(start).Milliseconds(),
		TotalMs:          time.Since(startTime).Milliseconds(),
		EngineVersion:    EngineVersion,
	}
	return esc
}

// AggregateResult holds the aggregated scoring results.
type AggregateResult struct {
	AggregateScore     float64
	TotalWeight        float64
	RulesTriggered     int
	HasCriticalFailure bool
}

func (p *Processor) aggregate(results []domain.RuleResult) *AggregateResult {
	agg := &AggregateResult{}

	for _, r := range results {
		weight := r.Weight
		if weight <= 0 {
			weight = 1.0
		}

		switch r.Outcome {
		case domain.RuleOutcomeFail:
			agg.HasCriticalFailure = true
			agg.RulesTriggered++
		case domain.RuleOutcomeReview:
			agg.RulesTriggered++
		}

		if p.UseWeightedScoring {
			agg.AggregateScore += r.Score * weight
			agg.TotalWeight += weight
		} else {
			agg.AggregateScore += r.Score
			agg.TotalWeight++
		}
	}

	if agg.TotalWeight > 0 {
		agg.AggregateScore /= agg.TotalWeight
	}
	return agg
}

// Reasons collects the reasons of failing and review outcomes.
func Reasons(results []domain.RuleResult) []string {
	var reasons []string
	for _, r := range results {
		if r.Outcome != domain.RuleOutcomeFail && r.Outcome != domain.RuleOutcomeReview {
			continue
		}
		if r.Reason != "" {
			reasons = append(reasons, r.Reason)
		}
	}
	return reasons
}
