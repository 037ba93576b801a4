// Package rules provides the CEL based escalation rule engine.
package rules

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/blockaid/internal/domain"
)

// Engine compiles escalation rules once and evaluates them against scored
// events.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// NewEngine creates a rule engine that evaluates at most maxWorkers rules
// at once.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		cel.Variable("severity_score", cel.DoubleType),
		cel.Variable("severity_level", cel.StringType),
		cel.Variable("confidence", cel.DoubleType),
		cel.Variable("disaster_type", cel.StringType),
		cel.Variable("location", cel.StringType),
		// Component scores, each in [0,100]
		cel.Variable("image_score", cel.DoubleType),
		cel.Variable("rainfall_score", cel.DoubleType),
		cel.Variable("water_level_score", cel.DoubleType),
		cel.Variable("population_score", cel.DoubleType),
		cel.Variable("infrastructure_score", cel.DoubleType),
		cel.Variable("impact_area_score", cel.DoubleType),
		// Raw measurements
		cel.Variable("rainfall_mm", cel.DoubleType),
		cel.Variable("water_level_cm", cel.DoubleType),
		cel.Variable("population_affected", cel.IntType),
		cel.Variable("infrastructure_damage", cel.DoubleType),
		cel.Variable("impact_area", cel.DoubleType),
		cel.Variable("prediction_high", cel.DoubleType),
		cel.Variable("location_velocity", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}
	if strings.TrimSpace(cfg.ID) == "" {
		return fmt.Errorf("rule id is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}
	e.compiledRules[cfg.ID] = compiled
	return nil
}

// LoadRules compiles and loads every enabled rule in configs.
func (e *Engine) LoadRules(configs []*domain.RuleConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// EvaluateInput is one scored event plus the context computed around it.
type EvaluateInput struct {
	Event            *domain.DisasterEvent
	LocationVelocity int64
}

func (in *EvaluateInput) activation() map[string]any {
	ev := in.Event
	c := ev.Assessment.Components
	m := ev.Measurements

	return map[string]any{
		"severity_score":        ev.Assessment.TotalScore,
		"severity_level":        string(ev.Assessment.Level),
		"confidence":            ev.Assessment.Confidence,
		"disaster_type":         strings.ToLower(ev.DisasterType),
		"location":              domain.LocationKey(ev.Location),
		"image_score":           c.ImageAnalysis,
		"rainfall_score":        c.RainfallIntensity,
		"water_level_score":     c.WaterLevel,
		"population_score":      c.PopulationAffected,
		"infrastructure_score":  c.InfrastructureDamage,
		"impact_area_score":     c.ImpactArea,
		"rainfall_mm":           m.RainfallMM,
		"water_level_cm":        m.WaterLevelCM,
		"population_affected":   m.PopulationAffected,
		"infrastructure_damage": m.InfrastructureDamage,
		"impact_area":           m.ImpactArea,
		"prediction_high":       ev.Predictions.High,
		"location_velocity":     in.LocationVelocity,
	}
}

// EvaluateAll evaluates all loaded rules in parallel. Results are ordered
// by rule ID.
func (e *Engine) EvaluateAll(ctx context.Context, input *EvaluateInput) ([]domain.RuleResult, error) {
	if input == nil || input.Event == nil {
		return nil, fmt.Errorf("evaluate: event is required")
	}

	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil, nil
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Config.ID < rules[j].Config.ID })

	activation := input.activation()

	results := make([]domain.RuleResult, len(rules))
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = e.evaluateRule(ctx, r, activation, input.Event.ID)
		}(i, rule)
	}
	wg.Wait()

	return results, ctx.Err()
}

func (e *Engine) evaluateRule(ctx context.Context, rule *CompiledRule, activation map[string]any, eventID string) domain.RuleResult {
	start := time.Now()

	result := domain.RuleResult{
		RuleID:  rule.Config.ID,
		EventID: eventID,
		Weight:  rule.Config.Weight,
	}

	out, _, err := rule.Program.ContextEval(ctx, activation)
	if err != nil {
		result.Outcome = domain.RuleOutcomeError
		result.Reason = fmt.Sprintf("evaluation error: %v", err)
		result.ProcessMs = time.Since(start).Milliseconds()
		return result
	}

	result.Score = toScore(out)
	result.Outcome, result.Reason = matchBand(result.Score, rule.Config.Bands)
	result.ProcessMs = time.Since(start).Milliseconds()
	return result
}

func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// matchBand returns the first band whose [lower, upper) range holds score.
// A nil lower bound is 0 and a nil upper bound is unbounded.
func matchBand(score float64, bands []domain.RuleBand) (string, string) {
	for _, band := range bands {
		lower := 0.0
		if band.LowerLimit != nil {
			lower = *band.LowerLimit
		}
		if score < lower {
			continue
		}
		if band.UpperLimit == nil || score < *band.UpperLimit {
			return band.Outcome, band.Reason
		}
	}
	return domain.RuleOutcomePass, "no matching band"
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// ReloadRules atomically replaces the loaded rule set. On a compile error
// the previous set stays active.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	newRules := make(map[string]*CompiledRule)

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules
	return nil
}

// GetLoadedRules returns the loaded rule configurations ordered by ID.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.RuleConfig, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Config)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

// Close unloads every rule.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{Config: cfg, Program: program}, nil
}
