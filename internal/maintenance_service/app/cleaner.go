package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/commshub/communicator/internal/campaign_service/repository"
)

// Cleaner removes delivered campaign history past the retention window.
// Per-recipient progress rows are removed by the campaign delete cascade.
type Cleaner struct {
	campaignRepo  repository.CampaignRepository
	retentionDays int
	logger        *slog.Logger
}

func NewCleaner(campaignRepo repository.CampaignRepository, retentionDays int, logger *slog.Logger) *Cleaner {
	if retentionDays < 1 {
		retentionDays = 90
	}
	return &Cleaner{
		campaignRepo:  campaignRepo,
		retentionDays: retentionDays,
		logger:        logger.With("component", "cleaner"),
	}
}

// RunRetention deletes terminal campaigns older than the retention window.
func (c *Cleaner) RunRetention(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.AddDate(0, 0, -c.retentionDays)
	deleted, err := c.campaignRepo.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("retention delete: %w", err)
	}
	campaignsCleanedCounter.Add(float64(deleted))
	c.logger.InfoContext(ctx, "Retention cleanup completed", "cutoff", cutoff, "campaigns_deleted", deleted)
	return deleted, nil
}

// CleanRange deletes terminal campaigns that completed inside [from, to).
// Used for operator-driven purges outside the regular retention schedule.
func (c *Cleaner) CleanRange(ctx context.Context, from, to time.Time) (int64, error) {
	if !to.After(from) {
		return 0, fmt.Errorf("invalid range: %s is not before %s", from, to)
	}
	deleted, err := c.campaignRepo.DeleteTerminalInRange(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("range delete: %w", err)
	}
	campaignsCleanedCounter.Add(float64(deleted))
	c.logger.InfoContext(ctx, "Range cleanup completed", "from", from, "to", to, "campaigns_deleted", deleted)
	return deleted, nil
}
