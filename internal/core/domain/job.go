package domain

import "time"

// Job is the queue envelope for one processing attempt of one document.
// Delivery is at-least-once; the pipeline is safe to re-run because every
// persistence step is a full overwrite.
type Job struct {
	DocumentID  string        `json:"document_id"`
	OwnerID     string        `json:"owner_id"`
	StoragePath string        `json:"storage_path"`
	Filename    string        `json:"filename"`
	Source      MappingSource `json:"source"`
	EnqueuedAt  time.Time     `json:"enqueued_at"`
}
