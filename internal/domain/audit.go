package domain

import "time"

// Audited actions.
const (
	ActionCreateEvent = "CREATE_EVENT"
	ActionVerifyEvent = "VERIFY_EVENT"
	ActionCreateFund  = "CREATE_FUND"
	ActionCreateRule  = "CREATE_RULE"
)

// Audited entity types.
const (
	EntityDisasterEvent  = "DisasterEvent"
	EntityDisasterFund   = "DisasterFund"
	EntityEscalationRule = "EscalationRule"
)

// AuditRecord is one immutable entry of the audit trail.
// Sequence is assigned by storage and breaks timestamp ties.
type AuditRecord struct {
	ID         string         `json:"id"`
	Sequence   int64          `json:"sequence"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Actor      string         `json:"user"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}
