package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/finflowhq/ledgerdocs/internal/core/domain"
)

type suggestFake struct {
	result      domain.MappingResult
	lineItems   []domain.Suggestion
	err         error
	lastPayload []byte
}

func (f *suggestFake) Suggest(_ context.Context, extracted []byte, _ string) (domain.MappingResult, []domain.Suggestion, error) {
	f.lastPayload = extracted
	if f.err != nil {
		return domain.MappingResult{}, nil, f.err
	}
	return f.result, f.lineItems, nil
}

type evaluatorFake struct {
	results  map[string]*domain.EvaluationResult
	defaultR *domain.EvaluationResult
	recorded []recordedApp
	marked   []string
	evalErr  error
}

type recordedApp struct {
	documentID string
	index      int
	ruleID     string
}

func (f *evaluatorFake) EvaluateLineItem(_ context.Context, _ string, item domain.LineItemData, ai *domain.Suggestion) (*domain.EvaluationResult, error) {
	if f.evalErr != nil {
		return nil, f.evalErr
	}
	if r, ok := f.results[item.Description]; ok {
		return r, nil
	}
	if f.defaultR != nil {
		return f.defaultR, nil
	}
	if ai != nil {
		s := *ai
		s.Source = domain.SourceAI
		s.AutoApplied = false
		return &domain.EvaluationResult{FinalSuggestion: s}, nil
	}
	return &domain.EvaluationResult{
		FinalSuggestion: domain.Suggestion{Source: domain.SourceManual},
	}, nil
}

func (f *evaluatorFake) TestRule(domain.RuleConditions, domain.LineItemData) domain.RuleTestResult {
	return domain.RuleTestResult{}
}

func (f *evaluatorFake) RecordApplication(_ context.Context, documentID string, index int, match *domain.RuleMatch) (*domain.RuleApplication, error) {
	f.recorded = append(f.recorded, recordedApp{documentID: documentID, index: index, ruleID: match.Rule.ID})
	return &domain.RuleApplication{ID: "app-1", DocumentID: documentID, RuleID: match.Rule.ID, LineItemIndex: index}, nil
}

func (f *evaluatorFake) MarkOverridden(_ context.Context, id string) error {
	f.marked = append(f.marked, id)
	return nil
}

func extractionWithItems(t *testing.T) domain.ExtractionResult {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"vendor_name": "Adobe",
		"line_items": []map[string]any{
			{"description": "Adobe Creative Cloud subscription", "amount": "299.88"},
			{"description": "Shipping and handling", "amount": "12.50"},
		},
	})
	if err != nil {
		t.Fatalf("marshal extraction: %v", err)
	}
	return domain.ExtractionResult{Data: data, Method: "ocr"}
}

func ruleEvaluation(ruleID, code string, confidence float64, approval bool) *domain.EvaluationResult {
	match := domain.RuleMatch{
		Rule: &domain.Rule{
			ID:      ruleID,
			Actions: domain.RuleActions{Code: code},
		},
		Confidence:       confidence,
		RequiresApproval: approval,
	}
	return &domain.EvaluationResult{
		Matches:   []domain.RuleMatch{match},
		BestMatch: &match,
		FinalSuggestion: domain.Suggestion{
			Code:       code,
			Source:     domain.SourceRule,
			Confidence: confidence,
			RuleID:     ruleID,
		},
	}
}

func TestMapOverlaysRuleDecisions(t *testing.T) {
	suggest := &suggestFake{
		result: domain.MappingResult{
			Fields: map[string]domain.FieldMapping{
				"invoice_number": {Value: "INV-17", Confidence: 0.92, Source: "ai"},
			},
			OverallConfidence: 0.92,
		},
		lineItems: []domain.Suggestion{
			{Code: "9999", Confidence: 0.6},
			{Code: "5400", Confidence: 0.8},
		},
	}
	evaluator := &evaluatorFake{
		results: map[string]*domain.EvaluationResult{
			"Adobe Creative Cloud subscription": ruleEvaluation("r-1", "6815", 0.9, false),
		},
	}
	uc := NewMapDocumentUseCase(suggest, evaluator)

	result, err := uc.Map(context.Background(), extractionWithItems(t), "owner-1", "doc-1", domain.SourceInitialMapping)
	if err != nil {
		t.Fatalf("Map() error = %v", err)
	}

	first := result.Fields["line_item_0_gl_account"]
	if first.Value != "6815" || first.Source != string(domain.SourceRule) {
		t.Fatalf("rule should win for line item 0, got %+v", first)
	}
	second := result.Fields["line_item_1_gl_account"]
	if second.Value != "5400" || second.Source != string(domain.SourceAI) {
		t.Fatalf("ai fallback expected for line item 1, got %+v", second)
	}
	if len(evaluator.recorded) != 1 || evaluator.recorded[0].ruleID != "r-1" || evaluator.recorded[0].index != 0 {
		t.Fatalf("expected one recorded application for r-1 at index 0, got %+v", evaluator.recorded)
	}
	if len(result.AuditTrail) != 2 {
		t.Fatalf("expected one audit entry per line item, got %d", len(result.AuditTrail))
	}
	if result.RequiresReview {
		t.Fatalf("nothing manual or approval-gated here, got requires_review=true")
	}
}

func TestMapManualLineItemForcesReview(t *testing.T) {
	suggest := &suggestFake{result: domain.MappingResult{}}
	evaluator := &evaluatorFake{} // no rules, no AI: everything manual
	uc := NewMapDocumentUseCase(suggest, evaluator)

	result, err := uc.Map(context.Background(), extractionWithItems(t), "owner-1", "doc-1", domain.SourceInitialMapping)
	if err != nil {
		t.Fatalf("Map() error = %v", err)
	}
	if !result.RequiresReview {
		t.Fatalf("manual suggestions must force review")
	}
	if len(result.ProcessingNotes) != 2 {
		t.Fatalf("expected a note per unassigned line item, got %v", result.ProcessingNotes)
	}
	if result.OverallConfidence != 0 {
		t.Fatalf("manual-only mapping should carry zero confidence, got %f", result.OverallConfidence)
	}
}

func TestMapApprovalGatedRuleForcesReview(t *testing.T) {
	suggest := &suggestFake{result: domain.MappingResult{}}
	evaluator := &evaluatorFake{
		defaultR: ruleEvaluation("r-2", "6200", 0.95, true),
	}
	uc := NewMapDocumentUseCase(suggest, evaluator)

	result, err := uc.Map(context.Background(), extractionWithItems(t), "owner-1", "doc-1", domain.SourceInitialMapping)
	if err != nil {
		t.Fatalf("Map() error = %v", err)
	}
	if !result.RequiresReview {
		t.Fatalf("approval-gated rule must force review")
	}
}

func TestMapPropagatesSuggestionClientError(t *testing.T) {
	suggest := &suggestFake{err: errors.New("suggestion service down")}
	uc := NewMapDocumentUseCase(suggest, &evaluatorFake{})

	_, err := uc.Map(context.Background(), extractionWithItems(t), "owner-1", "doc-1", domain.SourceInitialMapping)
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestMapRejectsMalformedExtraction(t *testing.T) {
	uc := NewMapDocumentUseCase(&suggestFake{}, &evaluatorFake{})

	_, err := uc.Map(context.Background(), domain.ExtractionResult{Data: json.RawMessage(`{not json`)}, "owner-1", "doc-1", domain.SourceInitialMapping)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestMapAuditTrailUsesJobSource(t *testing.T) {
	suggest := &suggestFake{result: domain.MappingResult{}}
	evaluator := &evaluatorFake{defaultR: ruleEvaluation("r-1", "6815", 0.9, false)}
	uc := NewMapDocumentUseCase(suggest, evaluator)

	result, err := uc.Map(context.Background(), extractionWithItems(t), "owner-1", "doc-1", domain.SourceFullReprocess)
	if err != nil {
		t.Fatalf("Map() error = %v", err)
	}
	for _, entry := range result.AuditTrail {
		if entry.Source != domain.SourceFullReprocess {
			t.Fatalf("expected full_reprocess source on audit entries, got %s", entry.Source)
		}
	}
}
