// Package rules implements the deterministic, explainable matching engine
// that scores user-defined rules against document line items.
package rules

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/finflowhq/ledgerdocs/internal/core/domain"
	"github.com/finflowhq/ledgerdocs/internal/core/ports"
)

// Config carries the two engine thresholds. They are deliberately far apart:
// low-confidence hits still surface as review candidates long before they
// are allowed to auto-apply.
type Config struct {
	AutoApplyThreshold float64
	SuggestThreshold   float64
}

func DefaultConfig() Config {
	return Config{
		AutoApplyThreshold: 0.85,
		SuggestThreshold:   0.3,
	}
}

func (c Config) normalize() Config {
	out := c
	def := DefaultConfig()
	if out.AutoApplyThreshold <= 0 || out.AutoApplyThreshold > 1 {
		out.AutoApplyThreshold = def.AutoApplyThreshold
	}
	if out.SuggestThreshold <= 0 || out.SuggestThreshold > 1 {
		out.SuggestThreshold = def.SuggestThreshold
	}
	return out
}

// Engine evaluates a tenant's active rules against line items. Evaluation
// itself is stateless and side-effect free; only RecordApplication and
// MarkOverridden touch storage.
type Engine struct {
	store ports.RuleRepository
	cfg   Config
}

func NewEngine(store ports.RuleRepository, cfg Config) *Engine {
	return &Engine{
		store: store,
		cfg:   cfg.normalize(),
	}
}

// EvaluateRule scores one rule against one line item. It returns nil when
// the rule does not match, including when any exclusion keyword fires.
func (e *Engine) EvaluateRule(rule *domain.Rule, item domain.LineItemData) *domain.RuleMatch {
	return evaluate(rule, item, e.cfg)
}

// EvaluateLineItem loads the owner's active rules, evaluates each, ranks the
// surviving matches and derives the final suggestion. Priority dominates
// confidence in the ranking so administrators can pin authoritative rules
// above noisier ones.
func (e *Engine) EvaluateLineItem(
	ctx context.Context,
	ownerID string,
	item domain.LineItemData,
	aiSuggestion *domain.Suggestion,
) (*domain.EvaluationResult, error) {
	active, err := e.store.GetActiveRules(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load active rules: %w", err)
	}

	var matches []domain.RuleMatch
	for i := range active {
		m := evaluate(&active[i], item, e.cfg)
		if m == nil || m.Confidence < e.cfg.SuggestThreshold {
			continue
		}
		matches = append(matches, *m)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Rule.Priority != matches[j].Rule.Priority {
			return matches[i].Rule.Priority > matches[j].Rule.Priority
		}
		return matches[i].Confidence > matches[j].Confidence
	})

	result := &domain.EvaluationResult{Matches: matches}
	if len(matches) > 0 {
		result.BestMatch = &matches[0]
	}
	result.FinalSuggestion = finalSuggestion(result.BestMatch, aiSuggestion)
	return result, nil
}

// finalSuggestion: a winning rule beats the AI suggestion when it overrides
// AI or no AI suggestion exists; AI suggestions never auto-apply; with
// neither, the caller must route the item to a human.
func finalSuggestion(best *domain.RuleMatch, ai *domain.Suggestion) domain.Suggestion {
	if best != nil && (best.Rule.Actions.OverrideAI || ai == nil) {
		return domain.Suggestion{
			Code:        best.Rule.Actions.Code,
			Source:      domain.SourceRule,
			Confidence:  best.Confidence,
			AutoApplied: best.ShouldAutoApply,
			RuleID:      best.Rule.ID,
			Reasoning:   fmt.Sprintf("matched rule %q", best.Rule.Name),
		}
	}
	if ai != nil {
		s := *ai
		s.Source = domain.SourceAI
		s.AutoApplied = false
		return s
	}
	return domain.Suggestion{Source: domain.SourceManual}
}

// TestRule runs arbitrary conditions through the production scoring path for
// the rule-authoring preview. There is no separate preview scorer.
func (e *Engine) TestRule(conditions domain.RuleConditions, item domain.LineItemData) domain.RuleTestResult {
	probe := &domain.Rule{
		Name:       "preview",
		IsActive:   true,
		Conditions: conditions,
		Actions:    domain.RuleActions{Code: "0000"},
	}
	m := evaluate(probe, item, e.cfg)
	if m == nil {
		return domain.RuleTestResult{Explanation: "no conditions matched"}
	}
	return domain.RuleTestResult{
		Matched:           true,
		Score:             m.Score,
		Confidence:        m.Confidence,
		MatchedConditions: m.MatchedConditions,
		Explanation:       explain(m.MatchedConditions),
	}
}

func explain(kinds []domain.ConditionKind) string {
	clauses := make([]string, 0, len(kinds))
	for _, k := range kinds {
		switch k {
		case domain.CondVendorPattern:
			clauses = append(clauses, "vendor name matched a configured pattern")
		case domain.CondAmountRange:
			clauses = append(clauses, "amount is inside the configured range")
		case domain.CondExactDescription:
			clauses = append(clauses, "description matched an exact description")
		case domain.CondKeyword:
			clauses = append(clauses, "description contains configured keywords")
		case domain.CondDateRange:
			clauses = append(clauses, "date is inside the configured range")
		case domain.CondCategory:
			clauses = append(clauses, "line item category is in the allowed list")
		}
	}
	return strings.Join(clauses, "; ")
}

// RecordApplication persists one application record for an applied match.
// The rule itself is never mutated.
func (e *Engine) RecordApplication(
	ctx context.Context,
	documentID string,
	lineItemIndex int,
	match *domain.RuleMatch,
) (*domain.RuleApplication, error) {
	app := &domain.RuleApplication{
		ID:            uuid.NewString(),
		DocumentID:    documentID,
		RuleID:        match.Rule.ID,
		LineItemIndex: lineItemIndex,
		AppliedCode:   match.Rule.Actions.Code,
		Confidence:    match.Confidence,
		AppliedAt:     time.Now().UTC(),
	}
	if err := e.store.InsertApplication(ctx, app); err != nil {
		return nil, fmt.Errorf("insert rule application: %w", err)
	}
	return app, nil
}

// MarkOverridden flags an application after a human changed the suggested
// value. Write-only bookkeeping for later analytics.
func (e *Engine) MarkOverridden(ctx context.Context, applicationID string) error {
	if err := e.store.MarkOverridden(ctx, applicationID); err != nil {
		return fmt.Errorf("mark application overridden: %w", err)
	}
	return nil
}
