package domain

import (
	"math"
	"strings"
	"time"
)

// DisasterEvent is a scored disaster report.
// An event starts unverified and may be verified exactly once.
type DisasterEvent struct {
	ID           string             `json:"id"`
	DisasterType string             `json:"disaster_type"`
	Location     string             `json:"location"`
	ImageHash    string             `json:"image_hash"`
	Predictions  Predictions        `json:"ai_predictions"`
	Measurements Measurements       `json:"measurements"`
	Assessment   SeverityAssessment `json:"assessment"`
	IsVerified   bool               `json:"is_verified"`
	ReportedBy   string             `json:"reported_by"`
	VerifiedBy   string             `json:"verified_by,omitempty"`
	VerifiedAt   *time.Time         `json:"verified_at,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// EventDraft is an unvalidated report as received from a caller.
// Nil measurement pointers mean the field was not supplied.
type EventDraft struct {
	DisasterType         string
	Location             string
	RainfallMM           *float64
	WaterLevelCM         *float64
	PopulationAffected   *int64
	InfrastructureDamage *float64
	ImpactArea           *float64
}

// MissingFields lists every required field absent from the draft.
func (d EventDraft) MissingFields() []string {
	var missing []string
	if d.DisasterType == "" {
		missing = append(missing, "disaster_type")
	}
	if d.Location == "" {
		missing = append(missing, "location")
	}
	if d.RainfallMM == nil {
		missing = append(missing, "rainfall_mm")
	}
	if d.WaterLevelCM == nil {
		missing = append(missing, "water_level_cm")
	}
	if d.PopulationAffected == nil {
		missing = append(missing, "population_affected")
	}
	if d.InfrastructureDamage == nil {
		missing = append(missing, "infrastructure_damage")
	}
	if d.ImpactArea == nil {
		missing = append(missing, "impact_area")
	}
	return missing
}

// InvalidFields lists every supplied measurement that is NaN or infinite.
func (d EventDraft) InvalidFields() []string {
	var invalid []string
	for _, f := range []struct {
		name string
		v    *float64
	}{
		{"rainfall_mm", d.RainfallMM},
		{"water_level_cm", d.WaterLevelCM},
		{"infrastructure_damage", d.InfrastructureDamage},
		{"impact_area", d.ImpactArea},
	} {
		if f.v != nil && (math.IsNaN(*f.v) || math.IsInf(*f.v, 0)) {
			invalid = append(invalid, f.name)
		}
	}
	return invalid
}

// Measurements returns the draft readings. Call only on a complete draft.
func (d EventDraft) Measurements() Measurements {
	var m Measurements
	if d.RainfallMM != nil {
		m.RainfallMM = *d.RainfallMM
	}
	if d.WaterLevelCM != nil {
		m.WaterLevelCM = *d.WaterLevelCM
	}
	if d.PopulationAffected != nil {
		m.PopulationAffected = *d.PopulationAffected
	}
	if d.InfrastructureDamage != nil {
		m.InfrastructureDamage = *d.InfrastructureDamage
	}
	if d.ImpactArea != nil {
		m.ImpactArea = *d.ImpactArea
	}
	return m
}

// Notification is the bus payload for lifecycle changes.
type Notification struct {
	EntityID   string         `json:"entity_id"`
	Actor      string         `json:"actor"`
	Event      *DisasterEvent `json:"event,omitempty"`
	Fund       *Fund          `json:"fund,omitempty"`
	TraceID    string         `json:"trace_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// LocationKey folds a free-text location into the key used to group
// reports from the same place.
func LocationKey(location string) string {
	return strings.ToLower(strings.Join(strings.Fields(location), " "))
}
