package rules

import (
	"regexp"
	"strings"
	"time"

	"github.com/finflowhq/ledgerdocs/internal/core/domain"
)

// Condition category weights on the nominal 0-100 scoring scale.
const (
	weightVendorPattern    = 30.0
	weightAmountRange      = 20.0
	weightExactDescription = 35.0
	weightKeywords         = 25.0
	weightDateRange        = 10.0
	weightCategoryBonus    = 5.0

	// scoreScaleFloor keeps confidence comparable across rules with few
	// configured conditions: a sparse rule cannot reach 100% confidence
	// from a single weak match.
	scoreScaleFloor = 100.0
)

func evaluate(rule *domain.Rule, item domain.LineItemData, cfg Config) *domain.RuleMatch {
	cond := rule.Conditions
	description := strings.ToLower(item.Description)

	// Exclusions are absolute and checked before any scoring.
	for _, kw := range cond.ExcludeKeywords {
		if kw != "" && strings.Contains(description, strings.ToLower(kw)) {
			return nil
		}
	}

	var score float64
	var matched []domain.ConditionKind

	if len(cond.VendorPatterns) > 0 && item.VendorName != "" {
		for _, pattern := range cond.VendorPatterns {
			if matchVendorPattern(pattern, item.VendorName) {
				score += weightVendorPattern
				matched = append(matched, domain.CondVendorPattern)
				break
			}
		}
	}

	if cond.AmountRange != nil && amountInRange(item, cond.AmountRange) {
		score += weightAmountRange
		matched = append(matched, domain.CondAmountRange)
	}

	exactHit := false
	for _, exact := range cond.ExactDescriptions {
		if strings.EqualFold(strings.TrimSpace(exact), strings.TrimSpace(item.Description)) {
			exactHit = true
			score += weightExactDescription
			matched = append(matched, domain.CondExactDescription)
			break
		}
	}

	// Keyword credit never stacks on top of an exact description hit.
	if !exactHit && len(cond.Keywords) > 0 {
		found := 0
		for _, kw := range cond.Keywords {
			if kw != "" && strings.Contains(description, strings.ToLower(kw)) {
				found++
			}
		}
		if found > 0 {
			score += float64(found) / float64(len(cond.Keywords)) * weightKeywords
			matched = append(matched, domain.CondKeyword)
		}
	}

	if cond.DateRange != nil && item.Date != nil && dateInRange(*item.Date, cond.DateRange) {
		score += weightDateRange
		matched = append(matched, domain.CondDateRange)
	}

	if len(cond.LineItemCategories) > 0 && item.Category != "" {
		for _, cat := range cond.LineItemCategories {
			if strings.EqualFold(cat, item.Category) {
				score += weightCategoryBonus
				matched = append(matched, domain.CondCategory)
				break
			}
		}
	}

	// Zero matched conditions means no match, never a zero-score match.
	if len(matched) == 0 {
		return nil
	}

	confidence := score / maxPossibleScore(cond)
	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0 {
		confidence = 0
	}

	return &domain.RuleMatch{
		Rule:              rule,
		Score:             score,
		MatchedConditions: matched,
		Confidence:        confidence,
		ShouldAutoApply:   rule.Actions.AutoAssign && confidence >= cfg.AutoApplyThreshold,
		RequiresApproval:  rule.Actions.RequiresApproval,
	}
}

// maxPossibleScore sums the weights of the categories the rule actually
// configures, floored at the global scale. Exact-description and keyword
// weights are mutually exclusive; exact wins when both are configured.
func maxPossibleScore(cond domain.RuleConditions) float64 {
	var max float64
	if len(cond.VendorPatterns) > 0 {
		max += weightVendorPattern
	}
	if cond.AmountRange != nil {
		max += weightAmountRange
	}
	switch {
	case len(cond.ExactDescriptions) > 0:
		max += weightExactDescription
	case len(cond.Keywords) > 0:
		max += weightKeywords
	}
	if cond.DateRange != nil {
		max += weightDateRange
	}
	if len(cond.LineItemCategories) > 0 {
		max += weightCategoryBonus
	}
	if max < scoreScaleFloor {
		max = scoreScaleFloor
	}
	return max
}

// matchVendorPattern tries the pattern as a case-insensitive regular
// expression and falls back to a plain substring match when it does not
// compile. The fallback is an explicit branch; malformed patterns never
// surface as errors.
func matchVendorPattern(pattern, vendorName string) bool {
	if pattern == "" {
		return false
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err == nil {
		return re.MatchString(vendorName)
	}
	return strings.Contains(strings.ToLower(vendorName), strings.ToLower(pattern))
}

// amountInRange compares the absolute amount against inclusive bounds; a nil
// bound is unbounded on that side.
func amountInRange(item domain.LineItemData, r *domain.AmountRange) bool {
	abs := item.Amount.Abs()
	if r.Min != nil && abs.Cmp(*r.Min) < 0 {
		return false
	}
	if r.Max != nil && abs.Cmp(*r.Max) > 0 {
		return false
	}
	return true
}

// dateInRange bounds are inclusive.
func dateInRange(d time.Time, r *domain.DateRange) bool {
	if r.Start != nil && d.Before(*r.Start) {
		return false
	}
	if r.End != nil && d.After(*r.End) {
		return false
	}
	return true
}
