package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/finflowhq/ledgerdocs/internal/core/domain"
	"github.com/finflowhq/ledgerdocs/internal/core/ports"
)

// ReviewUseCase covers the human-in-the-loop flows: manual field edits,
// single-field reprocessing and full reprocessing. Full reprocess re-enters
// the worker pipeline through a brand-new job.
type ReviewUseCase struct {
	docs   ports.DocumentRepository
	rules  ports.RuleRepository
	engine ports.RuleEvaluator
	mapper ports.FieldMapper
	audit  ports.AuditLog
	queue  ports.JobQueue
	logger *slog.Logger
}

func NewReviewUseCase(
	docs ports.DocumentRepository,
	rules ports.RuleRepository,
	engine ports.RuleEvaluator,
	mapper ports.FieldMapper,
	audit ports.AuditLog,
	queue ports.JobQueue,
	logger *slog.Logger,
) *ReviewUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReviewUseCase{
		docs:   docs,
		rules:  rules,
		engine: engine,
		mapper: mapper,
		audit:  audit,
		queue:  queue,
		logger: logger,
	}
}

// EditField overwrites one mapped field with a human-chosen value, records
// the change in the audit log and flags any rule application the edit
// overrides.
func (uc *ReviewUseCase) EditField(ctx context.Context, documentID, fieldName, value, reasoning string) error {
	doc, err := uc.docs.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	previous := mappedFieldValue(doc.Mapping, fieldName)
	field := domain.FieldMapping{
		Value:      value,
		Confidence: 1.0,
		Source:     string(domain.SourceManual),
		Reasoning:  reasoning,
	}
	if err := uc.docs.UpdateMappedField(ctx, documentID, fieldName, field); err != nil {
		return fmt.Errorf("update mapped field: %w", err)
	}

	uc.logFieldChange(ctx, domain.AuditEntry{
		ID:          uuid.NewString(),
		DocumentID:  documentID,
		FieldName:   fieldName,
		InputValue:  previous,
		OutputValue: value,
		Confidence:  1.0,
		Reasoning:   reasoning,
		Source:      domain.SourceManualEdit,
		CreatedAt:   time.Now().UTC(),
	})

	uc.markOverriddenApplications(ctx, documentID, fieldName)
	return nil
}

// ReprocessField re-derives a single field from the stored extraction
// without re-running extraction itself.
func (uc *ReviewUseCase) ReprocessField(ctx context.Context, documentID, fieldName string) error {
	doc, err := uc.docs.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if len(doc.ExtractedData) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "reprocess field",
			fmt.Errorf("document %s has no extracted data", documentID))
	}

	extraction := domain.ExtractionResult{
		Data:      doc.ExtractedData,
		Method:    doc.ExtractionMethod,
		TotalCost: doc.ExtractionCost,
	}
	mapping, err := uc.mapper.Map(ctx, extraction, doc.OwnerID, documentID, domain.SourceFieldReprocess)
	if err != nil {
		return fmt.Errorf("remap fields: %w", err)
	}
	field, ok := mapping.Fields[fieldName]
	if !ok {
		return domain.WrapError(domain.ErrInvalidInput, "reprocess field",
			fmt.Errorf("field %s not produced by mapping", fieldName))
	}

	previous := mappedFieldValue(doc.Mapping, fieldName)
	if err := uc.docs.UpdateMappedField(ctx, documentID, fieldName, field); err != nil {
		return fmt.Errorf("update mapped field: %w", err)
	}

	uc.logFieldChange(ctx, domain.AuditEntry{
		ID:          uuid.NewString(),
		DocumentID:  documentID,
		FieldName:   fieldName,
		InputValue:  previous,
		OutputValue: field.Value,
		Confidence:  field.Confidence,
		Reasoning:   field.Reasoning,
		Source:      domain.SourceFieldReprocess,
		CreatedAt:   time.Now().UTC(),
	})
	return nil
}

// Reprocess enqueues a brand-new job for the document; the worker re-runs
// extraction and mapping from scratch.
func (uc *ReviewUseCase) Reprocess(ctx context.Context, documentID string) error {
	doc, err := uc.docs.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	job := domain.Job{
		DocumentID:  doc.ID,
		OwnerID:     doc.OwnerID,
		StoragePath: doc.StoragePath,
		Filename:    doc.Filename,
		Source:      domain.SourceFullReprocess,
		EnqueuedAt:  time.Now().UTC(),
	}
	if err := uc.queue.PublishJob(ctx, job); err != nil {
		return fmt.Errorf("publish reprocess job: %w", err)
	}
	return nil
}

// logFieldChange is best-effort, like every audit write.
func (uc *ReviewUseCase) logFieldChange(ctx context.Context, entry domain.AuditEntry) {
	if err := uc.audit.LogFieldChange(ctx, &entry); err != nil {
		uc.logger.Warn("audit write failed",
			"document_id", entry.DocumentID,
			"field", entry.FieldName,
			"error", err,
		)
	}
}

// markOverriddenApplications flips was_overridden on the application backing
// the edited line-item field, if any. Bookkeeping only; failures are logged.
func (uc *ReviewUseCase) markOverriddenApplications(ctx context.Context, documentID, fieldName string) {
	index, ok := parseLineItemField(fieldName)
	if !ok {
		return
	}
	apps, err := uc.rules.ListApplications(ctx, documentID)
	if err != nil {
		uc.logger.Warn("list rule applications failed", "document_id", documentID, "error", err)
		return
	}
	for _, app := range apps {
		if app.LineItemIndex != index || app.WasOverridden {
			continue
		}
		if err := uc.engine.MarkOverridden(ctx, app.ID); err != nil {
			uc.logger.Warn("mark application overridden failed",
				"document_id", documentID,
				"application_id", app.ID,
				"error", err,
			)
		}
	}
}

func parseLineItemField(fieldName string) (int, bool) {
	var index int
	if _, err := fmt.Sscanf(fieldName, "line_item_%d_gl_account", &index); err != nil {
		return 0, false
	}
	return index, true
}

func mappedFieldValue(mapping json.RawMessage, fieldName string) string {
	if len(mapping) == 0 {
		return ""
	}
	var parsed domain.MappingResult
	if err := json.Unmarshal(mapping, &parsed); err != nil {
		return ""
	}
	return parsed.Fields[fieldName].Value
}
