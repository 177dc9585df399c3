package usecase

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/finflowhq/ledgerdocs/internal/core/domain"
	"github.com/finflowhq/ledgerdocs/internal/core/ports"
)

type IngestDocumentUseCase struct {
	docs    ports.DocumentRepository
	storage ports.ObjectStorage
	queue   ports.JobQueue
}

func NewIngestDocumentUseCase(
	docs ports.DocumentRepository,
	storage ports.ObjectStorage,
	queue ports.JobQueue,
) *IngestDocumentUseCase {
	return &IngestDocumentUseCase{
		docs:    docs,
		storage: storage,
		queue:   queue,
	}
}

// Upload stores the file, creates the document in `pending` and enqueues the
// first processing job.
func (uc *IngestDocumentUseCase) Upload(
	ctx context.Context,
	ownerID, filename, mimeType string,
	body io.Reader,
) (*domain.Document, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload document", fmt.Errorf("owner id is required"))
	}

	id := uuid.NewString()
	storageKey := fmt.Sprintf("%s_%s", id, sanitizeFilename(filename))
	now := time.Now().UTC()

	if err := uc.storage.Save(ctx, storageKey, body); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	doc := &domain.Document{
		ID:               id,
		OwnerID:          ownerID,
		Filename:         filename,
		MimeType:         mimeType,
		StoragePath:      storageKey,
		Status:           domain.StatusPending,
		AccountingStatus: domain.AccountingNeedsMapping,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := uc.docs.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document metadata: %w", err)
	}

	job := domain.Job{
		DocumentID:  doc.ID,
		OwnerID:     ownerID,
		StoragePath: storageKey,
		Filename:    filename,
		Source:      domain.SourceInitialMapping,
		EnqueuedAt:  now,
	}
	if err := uc.queue.PublishJob(ctx, job); err != nil {
		return nil, fmt.Errorf("publish processing job: %w", err)
	}

	return doc, nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" {
		return "document.bin"
	}
	return base
}
