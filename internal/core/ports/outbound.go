package ports

import (
	"context"
	"io"

	"github.com/finflowhq/ledgerdocs/internal/core/domain"
)

// DocumentRepository persists and reads document state. Status and field
// writes are idempotent overwrites keyed by document id.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
	UpdateProgress(ctx context.Context, id string, progress int) error
	SaveProcessingResult(ctx context.Context, id string, extraction domain.ExtractionResult, mapping domain.MappingResult, accounting domain.AccountingStatus) error
	UpdateMappedField(ctx context.Context, id, fieldName string, field domain.FieldMapping) error
	ListReadyForExport(ctx context.Context, ownerID string) ([]domain.Document, error)
	MarkExported(ctx context.Context, ids []string) error
}

// RuleRepository stores rules and their application history.
type RuleRepository interface {
	Create(ctx context.Context, rule *domain.Rule) error
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Rule, error)
	// GetActiveRules returns active rules sorted by priority descending,
	// then creation time ascending as a stable tie-break.
	GetActiveRules(ctx context.Context, ownerID string) ([]domain.Rule, error)
	InsertApplication(ctx context.Context, app *domain.RuleApplication) error
	MarkOverridden(ctx context.Context, applicationID string) error
	ListApplications(ctx context.Context, documentID string) ([]domain.RuleApplication, error)
}

// AuditLog is an append-only sink for field decisions. Writes are
// best-effort from the caller's point of view.
type AuditLog interface {
	LogFieldChange(ctx context.Context, entry *domain.AuditEntry) error
	LogBatch(ctx context.Context, documentID string, entries []domain.AuditEntry) error
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// JobQueue delivers processing jobs at-least-once.
type JobQueue interface {
	PublishJob(ctx context.Context, job domain.Job) error
	SubscribeJobs(ctx context.Context, handler func(context.Context, domain.Job) error) error
}

// Extractor is the external extraction collaborator.
type Extractor interface {
	Extract(ctx context.Context, storagePath string) (domain.ExtractionResult, error)
}

// FieldMapper maps extracted data onto the accounting field set.
type FieldMapper interface {
	Map(ctx context.Context, extraction domain.ExtractionResult, ownerID, documentID string, source domain.MappingSource) (domain.MappingResult, error)
}

// SuggestionClient asks the external AI service for field suggestions.
type SuggestionClient interface {
	Suggest(ctx context.Context, extracted []byte, ownerID string) (domain.MappingResult, []domain.Suggestion, error)
}

// LedgerExporter writes exportable documents to an external format.
type LedgerExporter interface {
	Write(ctx context.Context, w io.Writer, docs []domain.Document) error
}
