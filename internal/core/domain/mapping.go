package domain

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// ExtractionResult is the opaque output of the extraction collaborator. The
// pipeline never inspects Data; only the mapping step does.
type ExtractionResult struct {
	Data      json.RawMessage `json:"data"`
	Method    string          `json:"method"`
	TotalCost decimal.Decimal `json:"total_cost"`
}

// FieldMapping is the decided value for one named accounting field.
type FieldMapping struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// MappingResult is the aggregate output of the mapping step for a document.
type MappingResult struct {
	Fields            map[string]FieldMapping `json:"fields"`
	OverallConfidence float64                 `json:"overall_confidence"`
	RequiresReview    bool                    `json:"requires_review"`
	ProcessingNotes   []string                `json:"processing_notes,omitempty"`
	AuditTrail        []AuditEntry            `json:"audit_trail,omitempty"`
}
