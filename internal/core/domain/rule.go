package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Rule is a user-authored conditional directive mapping line-item
// characteristics to a GL code or other accounting attribute. Rules are
// edited through the management API and consumed read-only by the engine.
type Rule struct {
	ID         string         `json:"id"`
	OwnerID    string         `json:"owner_id"`
	Name       string         `json:"name"`
	Priority   int            `json:"priority"`
	IsActive   bool           `json:"is_active"`
	Conditions RuleConditions `json:"conditions"`
	Actions    RuleActions    `json:"actions"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// AmountRange compares against the absolute line-item amount. A nil bound is
// unbounded on that side.
type AmountRange struct {
	Min *decimal.Decimal `json:"min,omitempty"`
	Max *decimal.Decimal `json:"max,omitempty"`
}

// DateRange bounds are inclusive.
type DateRange struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// RuleConditions is a conjunction of optional criteria. Every field is
// explicitly optional so the engine can tell which categories a rule
// actually configures.
type RuleConditions struct {
	VendorPatterns     []string     `json:"vendor_patterns,omitempty"`
	AmountRange        *AmountRange `json:"amount_range,omitempty"`
	ExactDescriptions  []string     `json:"exact_descriptions,omitempty"`
	Keywords           []string     `json:"keywords,omitempty"`
	ExcludeKeywords    []string     `json:"exclude_keywords,omitempty"`
	DateRange          *DateRange   `json:"date_range,omitempty"`
	LineItemCategories []string     `json:"line_item_categories,omitempty"`
}

// Empty reports whether no condition category is configured. An empty rule
// never matches anything.
func (c RuleConditions) Empty() bool {
	return len(c.VendorPatterns) == 0 &&
		c.AmountRange == nil &&
		len(c.ExactDescriptions) == 0 &&
		len(c.Keywords) == 0 &&
		len(c.ExcludeKeywords) == 0 &&
		c.DateRange == nil &&
		len(c.LineItemCategories) == 0
}

type RuleActions struct {
	Code             string `json:"code"`
	AutoAssign       bool   `json:"auto_assign"`
	RequiresApproval bool   `json:"requires_approval"`
	OverrideAI       bool   `json:"override_ai"`
}

// LineItemData is the subject being matched: one itemized entry of a
// document. Matching always uses the absolute amount.
type LineItemData struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	VendorName  string          `json:"vendor_name,omitempty"`
	Date        *time.Time      `json:"date,omitempty"`
	Category    string          `json:"category,omitempty"`
}

// ConditionKind identifies which condition category contributed to a match.
type ConditionKind string

const (
	CondVendorPattern    ConditionKind = "vendor_pattern"
	CondAmountRange      ConditionKind = "amount_range"
	CondExactDescription ConditionKind = "exact_description"
	CondKeyword          ConditionKind = "keyword"
	CondDateRange        ConditionKind = "date_range"
	CondCategory         ConditionKind = "category"
)

// RuleMatch is the ephemeral result of evaluating one rule against one line
// item. Only the chosen outcome is persisted, as a RuleApplication.
type RuleMatch struct {
	Rule              *Rule           `json:"rule"`
	Score             float64         `json:"score"`
	MatchedConditions []ConditionKind `json:"matched_conditions"`
	Confidence        float64         `json:"confidence"`
	ShouldAutoApply   bool            `json:"should_auto_apply"`
	RequiresApproval  bool            `json:"requires_approval"`
}

// RuleApplication records that a rule's code was applied to one line item of
// one document. One row per (document, rule, line item).
type RuleApplication struct {
	ID            string    `json:"id"`
	DocumentID    string    `json:"document_id"`
	RuleID        string    `json:"rule_id"`
	LineItemIndex int       `json:"line_item_index"`
	AppliedCode   string    `json:"applied_code"`
	Confidence    float64   `json:"confidence"`
	WasOverridden bool      `json:"was_overridden"`
	AppliedAt     time.Time `json:"applied_at"`
}

type SuggestionSource string

const (
	SourceRule   SuggestionSource = "rule"
	SourceAI     SuggestionSource = "ai"
	SourceManual SuggestionSource = "manual"
)

// Suggestion is a single candidate assignment for a line item.
type Suggestion struct {
	Code        string           `json:"code"`
	Source      SuggestionSource `json:"source"`
	Confidence  float64          `json:"confidence"`
	AutoApplied bool             `json:"auto_applied"`
	RuleID      string           `json:"rule_id,omitempty"`
	Reasoning   string           `json:"reasoning,omitempty"`
}

// EvaluationResult is the ranked outcome of evaluating all active rules for
// one line item, plus the derived final suggestion.
type EvaluationResult struct {
	Matches         []RuleMatch `json:"matches"`
	BestMatch       *RuleMatch  `json:"best_match,omitempty"`
	FinalSuggestion Suggestion  `json:"final_suggestion"`
}

// RuleTestResult is the preview output for rule authoring; it reuses the
// production scoring path.
type RuleTestResult struct {
	Matched           bool            `json:"matched"`
	Score             float64         `json:"score"`
	Confidence        float64         `json:"confidence"`
	MatchedConditions []ConditionKind `json:"matched_conditions"`
	Explanation       string          `json:"explanation"`
}
