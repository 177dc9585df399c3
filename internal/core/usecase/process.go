package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/finflowhq/ledgerdocs/internal/core/domain"
	"github.com/finflowhq/ledgerdocs/internal/core/ports"
)

// Progress checkpoints reported per stage, for observability only; progress
// never drives control flow.
const (
	progressProcessing = 25
	progressExtracted  = 35
	progressMapped     = 60
	progressPersisted  = 80
	progressCompleted  = 90
	progressAudited    = 100
)

// ProcessJobUseCase drives one document through the fixed pipeline:
// extraction, field mapping, one idempotent persistence overwrite, terminal
// status. Retry is the queue's responsibility; this code never retries a
// stage and guarantees a terminal status on every path after the first
// status write.
type ProcessJobUseCase struct {
	docs      ports.DocumentRepository
	extractor ports.Extractor
	mapper    ports.FieldMapper
	audit     ports.AuditLog
	logger    *slog.Logger

	onStageFailure func(stage string)
}

func NewProcessJobUseCase(
	docs ports.DocumentRepository,
	extractor ports.Extractor,
	mapper ports.FieldMapper,
	audit ports.AuditLog,
	logger *slog.Logger,
) *ProcessJobUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessJobUseCase{
		docs:      docs,
		extractor: extractor,
		mapper:    mapper,
		audit:     audit,
		logger:    logger,
	}
}

// SetStageFailureHook registers a callback invoked with the name of a failing
// pipeline stage. Used by the worker binary to feed metrics.
func (uc *ProcessJobUseCase) SetStageFailureHook(hook func(stage string)) {
	uc.onStageFailure = hook
}

type pipelineStage struct {
	name     string
	progress int
	run      func(ctx context.Context) error
}

func (uc *ProcessJobUseCase) Process(ctx context.Context, job domain.Job) error {
	if err := uc.docs.UpdateStatus(ctx, job.DocumentID, domain.StatusProcessing, ""); err != nil {
		return fmt.Errorf("set status=processing: %w", err)
	}
	uc.reportProgress(ctx, job.DocumentID, progressProcessing)

	var (
		extraction domain.ExtractionResult
		mapping    domain.MappingResult
	)

	stages := []pipelineStage{
		{
			name:     "extract",
			progress: progressExtracted,
			run: func(ctx context.Context) error {
				var err error
				extraction, err = uc.extractor.Extract(ctx, job.StoragePath)
				if err != nil {
					return fmt.Errorf("extract document: %w", err)
				}
				return nil
			},
		},
		{
			name:     "map_fields",
			progress: progressMapped,
			run: func(ctx context.Context) error {
				var err error
				mapping, err = uc.mapper.Map(ctx, extraction, job.OwnerID, job.DocumentID, job.Source)
				if err != nil {
					return fmt.Errorf("map accounting fields: %w", err)
				}
				return nil
			},
		},
		{
			name:     "persist",
			progress: progressPersisted,
			run: func(ctx context.Context) error {
				accounting := domain.DeriveAccountingStatus(mapping.OverallConfidence, mapping.RequiresReview)
				if err := uc.docs.SaveProcessingResult(ctx, job.DocumentID, extraction, mapping, accounting); err != nil {
					return fmt.Errorf("save processing result: %w", err)
				}
				return nil
			},
		},
		{
			name:     "complete",
			progress: progressCompleted,
			run: func(ctx context.Context) error {
				if err := uc.docs.UpdateStatus(ctx, job.DocumentID, domain.StatusCompleted, ""); err != nil {
					return fmt.Errorf("set status=completed: %w", err)
				}
				return nil
			},
		},
	}

	for _, stage := range stages {
		if err := stage.run(ctx); err != nil {
			if uc.onStageFailure != nil {
				uc.onStageFailure(stage.name)
			}
			uc.markFailed(ctx, job.DocumentID, stage.name, err)
			return fmt.Errorf("stage %s: %w", stage.name, err)
		}
		uc.reportProgress(ctx, job.DocumentID, stage.progress)
	}

	uc.logAuditTrail(ctx, job, mapping.AuditTrail)
	uc.reportProgress(ctx, job.DocumentID, progressAudited)
	return nil
}

// markFailed is best-effort: if even the failed-status write fails it is
// logged as critical and the original error still propagates to the queue
// layer.
func (uc *ProcessJobUseCase) markFailed(ctx context.Context, documentID, stage string, cause error) {
	if err := uc.docs.UpdateStatus(ctx, documentID, domain.StatusFailed, cause.Error()); err != nil {
		uc.logger.Error("terminal status write failed",
			"document_id", documentID,
			"stage", stage,
			"status_error", err,
			"pipeline_error", cause,
		)
	}
}

func (uc *ProcessJobUseCase) reportProgress(ctx context.Context, documentID string, progress int) {
	if err := uc.docs.UpdateProgress(ctx, documentID, progress); err != nil {
		uc.logger.Warn("progress update failed",
			"document_id", documentID,
			"progress", progress,
			"error", err,
		)
	}
}

// logAuditTrail forwards the mapping audit trail as one batch under the
// job's source tag. Audit completeness is best-effort: failures are logged
// and swallowed, never propagated into the pipeline result.
func (uc *ProcessJobUseCase) logAuditTrail(ctx context.Context, job domain.Job, entries []domain.AuditEntry) {
	if len(entries) == 0 {
		return
	}
	tagged := make([]domain.AuditEntry, len(entries))
	for i, e := range entries {
		e.DocumentID = job.DocumentID
		if e.Source == "" {
			e.Source = job.Source
		}
		tagged[i] = e
	}
	if err := uc.audit.LogBatch(ctx, job.DocumentID, tagged); err != nil {
		uc.logger.Warn("audit batch write failed",
			"document_id", job.DocumentID,
			"entries", len(tagged),
			"error", err,
		)
	}
}
