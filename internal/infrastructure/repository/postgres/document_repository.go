package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/finflowhq/ledgerdocs/internal/core/domain"
)

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *DocumentRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026090101)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	status TEXT NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	extracted_data JSONB,
	extraction_method TEXT NOT NULL DEFAULT '',
	extraction_cost NUMERIC(12,6) NOT NULL DEFAULT 0,
	mapping JSONB,
	mapping_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	requires_review BOOLEAN NOT NULL DEFAULT FALSE,
	accounting_status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_owner_accounting ON documents(owner_id, accounting_status);
CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO documents (
	id, owner_id, filename, mime_type, storage_path, status, progress,
	extraction_method, extraction_cost, mapping_confidence, requires_review,
	accounting_status, error_message, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
`,
		doc.ID, doc.OwnerID, doc.Filename, doc.MimeType, doc.StoragePath,
		string(doc.Status), doc.Progress, doc.ExtractionMethod,
		doc.ExtractionCost.String(), doc.MappingConfidence, doc.RequiresReview,
		string(doc.AccountingStatus), doc.Error, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, owner_id, filename, mime_type, storage_path, status, progress,
	extracted_data, extraction_method, extraction_cost,
	mapping, mapping_confidence, requires_review, accounting_status,
	error_message, created_at, updated_at
FROM documents
WHERE id = $1
`, id)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", err)
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return doc, nil
}

func (r *DocumentRepository) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, error_message = $3, updated_at = $4
WHERE id = $1
`, id, string(status), errMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return requireRow(res, id)
}

func (r *DocumentRepository) UpdateProgress(ctx context.Context, id string, progress int) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET progress = $2, updated_at = $3
WHERE id = $1
`, id, progress, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update document progress: %w", err)
	}
	return requireRow(res, id)
}

func (r *DocumentRepository) SaveProcessingResult(
	ctx context.Context,
	id string,
	extraction domain.ExtractionResult,
	mapping domain.MappingResult,
	accounting domain.AccountingStatus,
) error {
	mappingJSON, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("marshal mapping: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET extracted_data = $2, extraction_method = $3, extraction_cost = $4,
	mapping = $5, mapping_confidence = $6, requires_review = $7,
	accounting_status = $8, updated_at = $9
WHERE id = $1
`,
		id, []byte(extraction.Data), extraction.Method, extraction.TotalCost.String(),
		mappingJSON, mapping.OverallConfidence, mapping.RequiresReview,
		string(accounting), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save processing result: %w", err)
	}
	return requireRow(res, id)
}

func (r *DocumentRepository) UpdateMappedField(ctx context.Context, id, fieldName string, field domain.FieldMapping) error {
	fieldJSON, err := json.Marshal(field)
	if err != nil {
		return fmt.Errorf("marshal field mapping: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET mapping = jsonb_set(COALESCE(mapping, '{"fields":{}}'::jsonb), ARRAY['fields', $2], $3::jsonb, true),
	updated_at = $4
WHERE id = $1
`, id, fieldName, fieldJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update mapped field: %w", err)
	}
	return requireRow(res, id)
}

func (r *DocumentRepository) ListReadyForExport(ctx context.Context, ownerID string) ([]domain.Document, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, owner_id, filename, mime_type, storage_path, status, progress,
	extracted_data, extraction_method, extraction_cost,
	mapping, mapping_confidence, requires_review, accounting_status,
	error_message, created_at, updated_at
FROM documents
WHERE owner_id = $1 AND accounting_status = $2
ORDER BY created_at ASC
`, ownerID, string(domain.AccountingReadyForExport))
	if err != nil {
		return nil, fmt.Errorf("query exportable documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

func (r *DocumentRepository) MarkExported(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin export tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `
UPDATE documents
SET accounting_status = $2, updated_at = $3
WHERE id = $1
`, id, string(domain.AccountingExported), now)
		if err != nil {
			return fmt.Errorf("mark document exported: %w", err)
		}
		if err := requireRow(res, id); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit export tx: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var status, accounting, cost string
	var extracted, mapping []byte

	err := row.Scan(
		&doc.ID, &doc.OwnerID, &doc.Filename, &doc.MimeType, &doc.StoragePath,
		&status, &doc.Progress, &extracted, &doc.ExtractionMethod, &cost,
		&mapping, &doc.MappingConfidence, &doc.RequiresReview, &accounting,
		&doc.Error, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	doc.Status = domain.DocumentStatus(status)
	doc.AccountingStatus = domain.AccountingStatus(accounting)
	doc.ExtractedData = extracted
	doc.Mapping = mapping
	doc.ExtractionCost, err = decimal.NewFromString(cost)
	if err != nil {
		return nil, fmt.Errorf("parse extraction cost %q: %w", cost, err)
	}
	return &doc, nil
}

func requireRow(res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, "update document", fmt.Errorf("id %s", id))
	}
	return nil
}
