package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/commshub/communicator/internal/campaign_service/domain"
	"github.com/commshub/communicator/internal/campaign_service/repository"
)

// Aggregator rolls per-recipient terminal states up into the campaign's
// counters and closes out the campaign state machine. Counters always come
// from a full status scan, so they exactly equal what a fresh scan would
// report.
type Aggregator struct {
	campaignRepo repository.CampaignRepository
	progressRepo repository.RecipientProgressRepository
	logger       *slog.Logger
}

// NewAggregator creates an Aggregator.
func NewAggregator(campaignRepo repository.CampaignRepository, progressRepo repository.RecipientProgressRepository, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		campaignRepo: campaignRepo,
		progressRepo: progressRepo,
		logger:       logger.With("component", "aggregator"),
	}
}

// Reconcile recomputes the campaign counters from the progress table and, if
// every row is terminal and the campaign is still Sending, transitions it to
// Sent (or Canceled when cancellation was requested). "Sent" describes
// completion of the send process, not universal success: a campaign with
// failed recipients still ends Sent.
func (a *Aggregator) Reconcile(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignSummary, error) {
	campaign, err := a.campaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("load campaign: %w", err)
	}

	counts, err := a.progressRepo.CountByStatus(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("count progress rows: %w", err)
	}

	counters := countersFromScan(counts)
	if err := a.campaignRepo.UpdateCounters(ctx, campaignID, counters); err != nil {
		return nil, fmt.Errorf("update counters: %w", err)
	}

	status := campaign.Status
	inFlight := counts[domain.DeliveryStatusSending]
	nonTerminal := counts[domain.DeliveryStatusPending] + inFlight + counts[domain.DeliveryStatusThrottled]

	if campaign.Status == domain.CampaignStatusSending {
		switch {
		case campaign.CancelRequested && inFlight == 0:
			if err := a.campaignRepo.UpdateStatus(ctx, campaignID, domain.CampaignStatusSending, domain.CampaignStatusCanceled, nil); err != nil {
				return nil, fmt.Errorf("transition to canceled: %w", err)
			}
			status = domain.CampaignStatusCanceled
			campaignsCompletedCounter.WithLabelValues("canceled").Inc()
			a.logger.InfoContext(ctx, "Campaign canceled", "campaign_id", campaignID, "counters", counters)

		case nonTerminal == 0:
			now := time.Now().UTC()
			if err := a.campaignRepo.UpdateStatus(ctx, campaignID, domain.CampaignStatusSending, domain.CampaignStatusSent, &now); err != nil {
				return nil, fmt.Errorf("transition to sent: %w", err)
			}
			status = domain.CampaignStatusSent
			campaignsCompletedCounter.WithLabelValues("sent").Inc()
			a.logger.InfoContext(ctx, "Campaign send process complete", "campaign_id", campaignID, "counters", counters)
		}
	}

	return &domain.CampaignSummary{
		CampaignID:    campaignID,
		Status:        status,
		Counters:      counters,
		FailureReason: campaign.FailureReason,
		SentAt:        campaign.SentAt,
	}, nil
}

func countersFromScan(counts map[domain.DeliveryStatus]int) domain.CampaignCounters {
	total := 0
	for _, n := range counts {
		total += n
	}
	return domain.CampaignCounters{
		Total:     total,
		Succeeded: counts[domain.DeliveryStatusSent],
		Failed:    counts[domain.DeliveryStatusFailed],
		Throttled: counts[domain.DeliveryStatusThrottled],
		Unknown:   counts[domain.DeliveryStatusUnknown],
		Skipped:   counts[domain.DeliveryStatusSkipped],
	}
}
