package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/blockaid/internal/audit"
	"github.com/opensource-finance/blockaid/internal/domain"
)

// ListRules returns the rules currently loaded in the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.engine.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]any{
		"rules":  loaded,
		"count":  len(loaded),
		"source": "database",
	})
}

// GetRule returns one loaded rule, falling back to the stored
// configuration for rules that are saved but not yet reloaded.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	for _, rule := range h.engine.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	rule, err := h.repo.GetRuleConfig(r.Context(), ruleID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, r, domain.NotFoundf("rules.Get", "rule %s not found", ruleID))
			return
		}
		writeError(w, r, domain.Internal("rules.Get", err))
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Version     string            `json:"version,omitempty"`
	Expression  string            `json:"expression"`
	Bands       []domain.RuleBand `json:"bands"`
	Weight      float64           `json:"weight"`
	Enabled     bool              `json:"enabled"`
}

// CreateRule validates and stores a rule together with its CREATE_RULE
// audit record. Call POST /rules/reload to apply it.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	const op = "rules.Create"
	ctx := r.Context()
	actor := GetActor(ctx)

	if err := actor.Require(op, domain.CapabilityManageRules); err != nil {
		writeError(w, r, err)
		return
	}

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}
	if req.Weight < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "weight must not be negative",
		})
		return
	}
	if req.Version == "" {
		req.Version = "1.0.0"
	}

	rule := &domain.RuleConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Version:     req.Version,
		Expression:  req.Expression,
		Bands:       req.Bands,
		Weight:      req.Weight,
		Enabled:     req.Enabled,
	}

	if err := h.engine.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	err := h.repo.WithTx(ctx, func(s domain.Store) error {
		if err := s.SaveRuleConfig(ctx, rule); err != nil {
			return err
		}
		_, err := h.trail.AppendIn(ctx, s, audit.Entry{
			Action:     domain.ActionCreateRule,
			EntityType: domain.EntityEscalationRule,
			EntityID:   rule.ID,
			Actor:      actor.ID,
			Details: map[string]any{
				"version":    rule.Version,
				"expression": rule.Expression,
				"weight":     rule.Weight,
				"enabled":    rule.Enabled,
			},
		})
		return err
	})
	if err != nil {
		writeError(w, r, domain.Internal(op, err))
		return
	}

	slog.Info("rule created", "id", rule.ID, "name", rule.Name, "created_by", actor.ID)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    rule,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules replaces the engine's rule set with the stored one.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	const op = "rules.Reload"
	ctx := r.Context()

	if err := GetActor(ctx).Require(op, domain.CapabilityManageRules); err != nil {
		writeError(w, r, err)
		return
	}

	stored, err := h.repo.ListRuleConfigs(ctx)
	if err != nil {
		writeError(w, r, domain.Internal(op, err))
		return
	}

	if err := h.engine.ReloadRules(stored); err != nil {
		writeError(w, r, domain.Validationf(op, "failed to reload rules: %v", err))
		return
	}

	slog.Info("rules reloaded from database", "count", len(stored))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   h.engine.RulesCount(),
	})
}
