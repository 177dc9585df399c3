package usecase

import (
	"context"
	"fmt"
	"io"

	"github.com/finflowhq/ledgerdocs/internal/core/ports"
)

// ExportUseCase writes every ready_for_export document of an owner into a
// ledger file and marks them exported.
type ExportUseCase struct {
	docs   ports.DocumentRepository
	writer ports.LedgerExporter
}

func NewExportUseCase(docs ports.DocumentRepository, writer ports.LedgerExporter) *ExportUseCase {
	return &ExportUseCase{
		docs:   docs,
		writer: writer,
	}
}

func (uc *ExportUseCase) Export(ctx context.Context, ownerID string, w io.Writer) (int, error) {
	docs, err := uc.docs.ListReadyForExport(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("list exportable documents: %w", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	if err := uc.writer.Write(ctx, w, docs); err != nil {
		return 0, fmt.Errorf("write ledger export: %w", err)
	}

	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
	}
	if err := uc.docs.MarkExported(ctx, ids); err != nil {
		return 0, fmt.Errorf("mark documents exported: %w", err)
	}
	return len(docs), nil
}
