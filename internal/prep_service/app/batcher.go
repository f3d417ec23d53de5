package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/commshub/communicator/internal/campaign_service/domain"
	"github.com/commshub/communicator/internal/campaign_service/repository"
)

// Batcher partitions a resolved recipient set into fixed-size chunks and
// persists one Pending progress row per recipient before any send attempt.
type Batcher struct {
	progressRepo repository.RecipientProgressRepository
	batchSize    int
	logger       *slog.Logger
}

// NewBatcher creates a Batcher. batchSize bounds the blast radius of a single
// storage write; values outside a sane range fall back to 200.
func NewBatcher(progressRepo repository.RecipientProgressRepository, batchSize int, logger *slog.Logger) *Batcher {
	if batchSize < 1 || batchSize > 1000 {
		batchSize = 200
	}
	return &Batcher{
		progressRepo: progressRepo,
		batchSize:    batchSize,
		logger:       logger.With("component", "batcher"),
	}
}

// CreateBatches writes a progress row for every identity and returns the
// total committed recipient count for the campaign. Idempotent per campaign:
// the underlying insert ignores rows that already exist, so rerunning after a
// partial failure commits exactly the missing rows. New-guest identities are
// written Skipped up front.
func (b *Batcher) CreateBatches(ctx context.Context, campaignID uuid.UUID, idents []domain.RecipientIdentity) (int, error) {
	for start := 0; start < len(idents); start += b.batchSize {
		end := start + b.batchSize
		if end > len(idents) {
			end = len(idents)
		}

		chunk := idents[start:end]
		rows := make([]*domain.RecipientProgress, 0, len(chunk))
		for _, ident := range chunk {
			rows = append(rows, domain.NewPendingProgress(campaignID, ident))
		}

		if err := b.progressRepo.BulkInsert(ctx, rows); err != nil {
			return 0, fmt.Errorf("insert progress batch [%d:%d]: %w", start, end, err)
		}
		b.logger.DebugContext(ctx, "Committed progress batch", "campaign_id", campaignID, "batch_start", start, "batch_len", len(chunk))
	}

	committed, err := b.progressRepo.CountByCampaign(ctx, campaignID)
	if err != nil {
		return 0, fmt.Errorf("count committed recipients: %w", err)
	}
	return committed, nil
}
