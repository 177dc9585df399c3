package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

type AccountingStatus string

const (
	AccountingNeedsMapping   AccountingStatus = "needs_mapping"
	AccountingReadyForExport AccountingStatus = "ready_for_export"
	AccountingExported       AccountingStatus = "exported"
)

// ExportConfidenceThreshold is the minimum overall mapping confidence for a
// document to become exportable without review.
const ExportConfidenceThreshold = 0.8

type Document struct {
	ID          string         `json:"id"`
	OwnerID     string         `json:"owner_id"`
	Filename    string         `json:"filename"`
	MimeType    string         `json:"mime_type"`
	StoragePath string         `json:"storage_path"`
	Status      DocumentStatus `json:"status"`
	Progress    int            `json:"progress"`

	ExtractedData    json.RawMessage `json:"extracted_data,omitempty"`
	ExtractionMethod string          `json:"extraction_method,omitempty"`
	ExtractionCost   decimal.Decimal `json:"extraction_cost"`

	Mapping           json.RawMessage  `json:"mapping,omitempty"`
	MappingConfidence float64          `json:"mapping_confidence"`
	RequiresReview    bool             `json:"requires_review"`
	AccountingStatus  AccountingStatus `json:"accounting_status"`

	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeriveAccountingStatus is the single place the export-readiness decision
// lives; a manual reprocess re-derives the same value from the same inputs.
func DeriveAccountingStatus(overallConfidence float64, requiresReview bool) AccountingStatus {
	if overallConfidence >= ExportConfidenceThreshold && !requiresReview {
		return AccountingReadyForExport
	}
	return AccountingNeedsMapping
}
