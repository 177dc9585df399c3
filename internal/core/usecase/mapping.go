package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finflowhq/ledgerdocs/internal/core/domain"
	"github.com/finflowhq/ledgerdocs/internal/core/ports"
)

// MapDocumentUseCase implements the mapping collaborator: it overlays the
// rule engine's per-line-item decisions on top of the external AI field
// suggestions. Rules win per the engine's selection semantics, and every
// applied rule match is recorded for the application history.
type MapDocumentUseCase struct {
	suggestions ports.SuggestionClient
	engine      ports.RuleEvaluator
}

func NewMapDocumentUseCase(suggestions ports.SuggestionClient, engine ports.RuleEvaluator) *MapDocumentUseCase {
	return &MapDocumentUseCase{
		suggestions: suggestions,
		engine:      engine,
	}
}

type extractedLineItem struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	VendorName  string          `json:"vendor_name,omitempty"`
	Date        *time.Time      `json:"date,omitempty"`
	Category    string          `json:"category,omitempty"`
}

type extractedPayload struct {
	VendorName string              `json:"vendor_name,omitempty"`
	LineItems  []extractedLineItem `json:"line_items,omitempty"`
}

// LineItemField names the mapped accounting attribute of one line item.
func LineItemField(index int) string {
	return fmt.Sprintf("line_item_%d_gl_account", index)
}

func (uc *MapDocumentUseCase) Map(
	ctx context.Context,
	extraction domain.ExtractionResult,
	ownerID, documentID string,
	source domain.MappingSource,
) (domain.MappingResult, error) {
	var payload extractedPayload
	if len(extraction.Data) > 0 {
		if err := json.Unmarshal(extraction.Data, &payload); err != nil {
			return domain.MappingResult{}, domain.WrapError(domain.ErrInvalidInput, "parse extracted data", err)
		}
	}

	result, lineSuggestions, err := uc.suggestions.Suggest(ctx, extraction.Data, ownerID)
	if err != nil {
		return domain.MappingResult{}, fmt.Errorf("ai field suggestions: %w", err)
	}
	if result.Fields == nil {
		result.Fields = make(map[string]domain.FieldMapping)
	}

	now := time.Now().UTC()
	requiresReview := result.RequiresReview

	for i, raw := range payload.LineItems {
		item := domain.LineItemData{
			Description: raw.Description,
			Amount:      raw.Amount,
			VendorName:  raw.VendorName,
			Date:        raw.Date,
			Category:    raw.Category,
		}
		if item.VendorName == "" {
			item.VendorName = payload.VendorName
		}

		var ai *domain.Suggestion
		if i < len(lineSuggestions) && lineSuggestions[i].Code != "" {
			s := lineSuggestions[i]
			ai = &s
		}

		evaluation, err := uc.engine.EvaluateLineItem(ctx, ownerID, item, ai)
		if err != nil {
			return domain.MappingResult{}, fmt.Errorf("evaluate line item %d: %w", i, err)
		}
		suggestion := evaluation.FinalSuggestion

		if suggestion.Source == domain.SourceRule && evaluation.BestMatch != nil {
			if _, err := uc.engine.RecordApplication(ctx, documentID, i, evaluation.BestMatch); err != nil {
				return domain.MappingResult{}, fmt.Errorf("record rule application for line item %d: %w", i, err)
			}
			if evaluation.BestMatch.RequiresApproval {
				requiresReview = true
			}
		}
		if suggestion.Source == domain.SourceManual {
			requiresReview = true
			result.ProcessingNotes = append(result.ProcessingNotes,
				fmt.Sprintf("line item %d needs a manual GL assignment", i))
		}

		field := LineItemField(i)
		previous := result.Fields[field].Value
		result.Fields[field] = domain.FieldMapping{
			Value:      suggestion.Code,
			Confidence: suggestion.Confidence,
			Source:     string(suggestion.Source),
			Reasoning:  suggestion.Reasoning,
		}
		result.AuditTrail = append(result.AuditTrail, domain.AuditEntry{
			ID:          uuid.NewString(),
			DocumentID:  documentID,
			FieldName:   field,
			InputValue:  previous,
			OutputValue: suggestion.Code,
			Confidence:  suggestion.Confidence,
			Reasoning:   suggestion.Reasoning,
			Source:      source,
			CreatedAt:   now,
		})
	}

	result.OverallConfidence = overallConfidence(result.Fields)
	result.RequiresReview = requiresReview
	return result, nil
}

// overallConfidence is the mean of all field confidences; a document with no
// mapped fields has zero confidence and will land in needs_mapping.
func overallConfidence(fields map[string]domain.FieldMapping) float64 {
	if len(fields) == 0 {
		return 0
	}
	var sum float64
	for _, f := range fields {
		sum += f.Confidence
	}
	return sum / float64(len(fields))
}
