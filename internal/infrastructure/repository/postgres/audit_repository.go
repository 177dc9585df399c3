package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/finflowhq/ledgerdocs/internal/core/domain"
)

// AuditRepository is an append-only log of field decisions. Rows are never
// updated or deleted.
type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026090103)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	field_name TEXT NOT NULL,
	input_value TEXT NOT NULL DEFAULT '',
	output_value TEXT NOT NULL DEFAULT '',
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	reasoning TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_entries_document ON audit_entries(document_id, created_at);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *AuditRepository) LogFieldChange(ctx context.Context, entry *domain.AuditEntry) error {
	prepared := prepareEntry(*entry)
	_, err := r.db.ExecContext(ctx, `
INSERT INTO audit_entries (id, document_id, field_name, input_value, output_value, confidence, reasoning, source, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`,
		prepared.ID, prepared.DocumentID, prepared.FieldName, prepared.InputValue,
		prepared.OutputValue, prepared.Confidence, prepared.Reasoning,
		string(prepared.Source), prepared.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (r *AuditRepository) LogBatch(ctx context.Context, documentID string, entries []domain.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, entry := range entries {
		entry.DocumentID = documentID
		prepared := prepareEntry(entry)
		if _, err := tx.ExecContext(ctx, `
INSERT INTO audit_entries (id, document_id, field_name, input_value, output_value, confidence, reasoning, source, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`,
			prepared.ID, prepared.DocumentID, prepared.FieldName, prepared.InputValue,
			prepared.OutputValue, prepared.Confidence, prepared.Reasoning,
			string(prepared.Source), prepared.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert audit entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit tx: %w", err)
	}
	return nil
}

func prepareEntry(entry domain.AuditEntry) domain.AuditEntry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return entry
}
