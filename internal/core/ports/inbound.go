package ports

import (
	"context"
	"io"

	"github.com/finflowhq/ledgerdocs/internal/core/domain"
)

// DocumentIngestor is the inbound contract for document upload orchestration.
type DocumentIngestor interface {
	Upload(ctx context.Context, ownerID, filename, mimeType string, body io.Reader) (*domain.Document, error)
}

// JobProcessor is the inbound contract for asynchronous document processing.
type JobProcessor interface {
	Process(ctx context.Context, job domain.Job) error
}

// RuleEvaluator is the inbound contract for rule matching, preview and
// application bookkeeping.
type RuleEvaluator interface {
	EvaluateLineItem(ctx context.Context, ownerID string, item domain.LineItemData, aiSuggestion *domain.Suggestion) (*domain.EvaluationResult, error)
	TestRule(conditions domain.RuleConditions, item domain.LineItemData) domain.RuleTestResult
	RecordApplication(ctx context.Context, documentID string, lineItemIndex int, match *domain.RuleMatch) (*domain.RuleApplication, error)
	MarkOverridden(ctx context.Context, applicationID string) error
}

// DocumentReviewer is the inbound contract for manual edits and reprocessing.
type DocumentReviewer interface {
	EditField(ctx context.Context, documentID, fieldName, value, reasoning string) error
	ReprocessField(ctx context.Context, documentID, fieldName string) error
	Reprocess(ctx context.Context, documentID string) error
}

// LedgerExportService collects exportable documents into a ledger file.
type LedgerExportService interface {
	Export(ctx context.Context, ownerID string, w io.Writer) (int, error)
}
