package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/finflowhq/ledgerdocs/internal/core/domain"
)

type ruleRepoFake struct {
	apps    []domain.RuleApplication
	listErr error
}

func (f *ruleRepoFake) Create(context.Context, *domain.Rule) error { return nil }
func (f *ruleRepoFake) ListByOwner(context.Context, string) ([]domain.Rule, error) {
	return nil, nil
}
func (f *ruleRepoFake) GetActiveRules(context.Context, string) ([]domain.Rule, error) {
	return nil, nil
}
func (f *ruleRepoFake) InsertApplication(context.Context, *domain.RuleApplication) error {
	return nil
}
func (f *ruleRepoFake) MarkOverridden(context.Context, string) error { return nil }
func (f *ruleRepoFake) ListApplications(context.Context, string) ([]domain.RuleApplication, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.apps, nil
}

func reviewDoc(t *testing.T) *domain.Document {
	t.Helper()
	mapping, err := json.Marshal(domain.MappingResult{
		Fields: map[string]domain.FieldMapping{
			"line_item_0_gl_account": {Value: "6815", Confidence: 0.9, Source: "rule"},
		},
	})
	if err != nil {
		t.Fatalf("marshal mapping: %v", err)
	}
	return &domain.Document{
		ID:            "doc-1",
		OwnerID:       "owner-1",
		Filename:      "invoice.pdf",
		StoragePath:   "doc-1_invoice.pdf",
		Status:        domain.StatusCompleted,
		ExtractedData: json.RawMessage(`{"line_items":[{"description":"x","amount":"10"}]}`),
		Mapping:       mapping,
	}
}

func newReview(repo *docRepoFake, rules *ruleRepoFake, engine *evaluatorFake, mapper *mapperFake, audit *auditFake, queue *queueFake) *ReviewUseCase {
	return NewReviewUseCase(repo, rules, engine, mapper, audit, queue, nil)
}

func TestEditFieldWritesAuditAndMarksOverridden(t *testing.T) {
	repo := &docRepoFake{doc: reviewDoc(t)}
	rules := &ruleRepoFake{apps: []domain.RuleApplication{
		{ID: "app-1", DocumentID: "doc-1", RuleID: "r-1", LineItemIndex: 0},
		{ID: "app-2", DocumentID: "doc-1", RuleID: "r-2", LineItemIndex: 1},
	}}
	engine := &evaluatorFake{}
	audit := &auditFake{}
	uc := newReview(repo, rules, engine, &mapperFake{}, audit, &queueFake{})

	err := uc.EditField(context.Background(), "doc-1", "line_item_0_gl_account", "7100", "misclassified software")
	if err != nil {
		t.Fatalf("EditField() error = %v", err)
	}

	field, ok := repo.updatedFields["line_item_0_gl_account"]
	if !ok || field.Value != "7100" || field.Source != string(domain.SourceManual) {
		t.Fatalf("unexpected field update: %+v", repo.updatedFields)
	}
	if len(audit.singles) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(audit.singles))
	}
	entry := audit.singles[0]
	if entry.Source != domain.SourceManualEdit {
		t.Fatalf("expected manual_edit source, got %s", entry.Source)
	}
	if entry.InputValue != "6815" || entry.OutputValue != "7100" {
		t.Fatalf("expected before/after values, got %+v", entry)
	}
	if len(engine.marked) != 1 || engine.marked[0] != "app-1" {
		t.Fatalf("expected app-1 marked overridden, got %v", engine.marked)
	}
}

func TestEditFieldAuditFailureIsSwallowed(t *testing.T) {
	repo := &docRepoFake{doc: reviewDoc(t)}
	uc := newReview(repo, &ruleRepoFake{}, &evaluatorFake{}, &mapperFake{},
		&auditFake{batchErr: errors.New("sink down")}, &queueFake{})

	if err := uc.EditField(context.Background(), "doc-1", "line_item_0_gl_account", "7100", ""); err != nil {
		t.Fatalf("audit failure must not fail the edit, got %v", err)
	}
}

func TestReprocessFieldRemapsSingleField(t *testing.T) {
	repo := &docRepoFake{doc: reviewDoc(t)}
	mapper := &mapperFake{result: domain.MappingResult{
		Fields: map[string]domain.FieldMapping{
			"line_item_0_gl_account": {Value: "6400", Confidence: 0.8, Source: "rule"},
		},
	}}
	audit := &auditFake{}
	uc := newReview(repo, &ruleRepoFake{}, &evaluatorFake{}, mapper, audit, &queueFake{})

	err := uc.ReprocessField(context.Background(), "doc-1", "line_item_0_gl_account")
	if err != nil {
		t.Fatalf("ReprocessField() error = %v", err)
	}
	if mapper.source != domain.SourceFieldReprocess {
		t.Fatalf("expected field_reprocess mapping source, got %s", mapper.source)
	}
	if repo.updatedFields["line_item_0_gl_account"].Value != "6400" {
		t.Fatalf("field not updated: %+v", repo.updatedFields)
	}
	if len(audit.singles) != 1 || audit.singles[0].Source != domain.SourceFieldReprocess {
		t.Fatalf("expected field_reprocess audit entry, got %+v", audit.singles)
	}
}

func TestReprocessFieldWithoutExtractionFails(t *testing.T) {
	doc := reviewDoc(t)
	doc.ExtractedData = nil
	uc := newReview(&docRepoFake{doc: doc}, &ruleRepoFake{}, &evaluatorFake{}, &mapperFake{}, &auditFake{}, &queueFake{})

	err := uc.ReprocessField(context.Background(), "doc-1", "line_item_0_gl_account")
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestReprocessPublishesFullReprocessJob(t *testing.T) {
	queue := &queueFake{}
	uc := newReview(&docRepoFake{doc: reviewDoc(t)}, &ruleRepoFake{}, &evaluatorFake{}, &mapperFake{}, &auditFake{}, queue)

	if err := uc.Reprocess(context.Background(), "doc-1"); err != nil {
		t.Fatalf("Reprocess() error = %v", err)
	}
	if len(queue.published) != 1 {
		t.Fatalf("expected one job, got %d", len(queue.published))
	}
	job := queue.published[0]
	if job.Source != domain.SourceFullReprocess {
		t.Fatalf("expected full_reprocess source, got %s", job.Source)
	}
	if job.DocumentID != "doc-1" || job.StoragePath != "doc-1_invoice.pdf" {
		t.Fatalf("job does not carry document coordinates: %+v", job)
	}
}
