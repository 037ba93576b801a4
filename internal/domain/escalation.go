package domain

import "time"

// EscalationStatus is the verdict of the escalation pipeline.
type EscalationStatus string

const (
	EscalationRaised EscalationStatus = "ESCALATE"
	EscalationNone   EscalationStatus = "NONE"
)

// Escalation is the decision produced for one newly created event.
type Escalation struct {
	ID          string             `json:"id"`
	EventID     string             `json:"eventId"`
	Status      EscalationStatus   `json:"status"`
	Score       float64            `json:"score"`
	Reasons     []string           `json:"reasons,omitempty"`
	RuleResults []RuleResult       `json:"ruleResults"`
	Timestamp   time.Time          `json:"timestamp"`
	Metadata    EscalationMetadata `json:"metadata"`
}

// EscalationMetadata contains processing information.
type EscalationMetadata struct {
	TraceID          string `json:"traceId,omitempty"`
	LocationVelocity int64  `json:"locationVelocity"`
	RulesEvaluated   int    `json:"rulesEvaluated"`
	RulesMs          int64  `json:"rulesMs"`
	DecisionMs       int64  `json:"decisionMs"`
	TotalMs          int64  `json:"totalMs"`
	EngineVersion    string `json:"engineVersion"`
}

// Escalated reports whether the decision raises an alert.
func (e *Escalation) Escalated() bool {
	return e.Status == EscalationRaised
}
