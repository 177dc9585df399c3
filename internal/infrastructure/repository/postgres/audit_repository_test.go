package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/finflowhq/ledgerdocs/internal/core/domain"
)

func newAuditRepoWithMock(t *testing.T) (*AuditRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return &AuditRepository{db: db}, mock, func() { _ = db.Close() }
}

func TestLogFieldChangeGeneratesIDAndTimestamp(t *testing.T) {
	repo, mock, done := newAuditRepoWithMock(t)
	defer done()

	mock.ExpectExec("INSERT INTO audit_entries").
		WithArgs(sqlmock.AnyArg(), "doc-1", "line_item_0_gl_account", "6815", "7100",
			1.0, "misclassified", string(domain.SourceManualEdit), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.LogFieldChange(context.Background(), &domain.AuditEntry{
		DocumentID:  "doc-1",
		FieldName:   "line_item_0_gl_account",
		InputValue:  "6815",
		OutputValue: "7100",
		Confidence:  1.0,
		Reasoning:   "misclassified",
		Source:      domain.SourceManualEdit,
	})
	if err != nil {
		t.Fatalf("LogFieldChange() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLogBatchWritesAllEntriesInOneTx(t *testing.T) {
	repo, mock, done := newAuditRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO audit_entries").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO audit_entries").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	entries := []domain.AuditEntry{
		{FieldName: "line_item_0_gl_account", OutputValue: "6815", Source: domain.SourceInitialMapping},
		{FieldName: "line_item_1_gl_account", OutputValue: "5400", Source: domain.SourceInitialMapping},
	}
	if err := repo.LogBatch(context.Background(), "doc-1", entries); err != nil {
		t.Fatalf("LogBatch() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLogBatchRollsBackOnInsertFailure(t *testing.T) {
	repo, mock, done := newAuditRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO audit_entries").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.LogBatch(context.Background(), "doc-1", []domain.AuditEntry{
		{FieldName: "line_item_0_gl_account", Source: domain.SourceInitialMapping},
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLogBatchNoEntriesIsNoOp(t *testing.T) {
	repo, mock, done := newAuditRepoWithMock(t)
	defer done()

	if err := repo.LogBatch(context.Background(), "doc-1", nil); err != nil {
		t.Fatalf("LogBatch() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
