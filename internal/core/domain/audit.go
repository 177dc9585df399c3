package domain

import "time"

// MappingSource tags which flow produced a field decision.
type MappingSource string

const (
	SourceInitialMapping MappingSource = "initial_mapping"
	SourceManualEdit     MappingSource = "manual_edit"
	SourceFieldReprocess MappingSource = "field_reprocess"
	SourceFullReprocess  MappingSource = "full_reprocess"
)

// AuditEntry is a write-once record of a single field decision. Entries are
// never updated or deleted.
type AuditEntry struct {
	ID          string        `json:"id"`
	DocumentID  string        `json:"document_id"`
	FieldName   string        `json:"field_name"`
	InputValue  string        `json:"input_value"`
	OutputValue string        `json:"output_value"`
	Confidence  float64       `json:"confidence"`
	Reasoning   string        `json:"reasoning,omitempty"`
	Source      MappingSource `json:"source"`
	CreatedAt   time.Time     `json:"created_at"`
}
