package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/commshub/communicator/internal/campaign_service/repository"
	"github.com/commshub/communicator/internal/platform/messagebroker"
)

// PrepareJobPayload mirrors the payload the prep service consumes.
type PrepareJobPayload struct {
	CampaignID string `json:"campaign_id"`
}

// SchedulePoller fires scheduled campaigns whose send time has passed. The
// claim happens in the repository, so any number of maintenance instances
// can run the poll concurrently.
type SchedulePoller struct {
	campaignRepo repository.CampaignRepository
	publisher    messagebroker.Publisher
	batchSize    int
	logger       *slog.Logger
}

func NewSchedulePoller(campaignRepo repository.CampaignRepository, publisher messagebroker.Publisher, batchSize int, logger *slog.Logger) *SchedulePoller {
	if batchSize < 1 {
		batchSize = 50
	}
	return &SchedulePoller{
		campaignRepo: campaignRepo,
		publisher:    publisher,
		batchSize:    batchSize,
		logger:       logger.With("component", "schedule_poller"),
	}
}

// FireDue claims every campaign due at or before now and publishes a prepare
// job for each. A campaign claimed here but whose publish fails stays Queued;
// it surfaces in monitoring as a queued campaign without prep activity.
func (p *SchedulePoller) FireDue(ctx context.Context, now time.Time) (int, error) {
	fired := 0
	for {
		due, err := p.campaignRepo.AcquireDueScheduled(ctx, now, p.batchSize)
		if err != nil {
			return fired, fmt.Errorf("acquire due campaigns: %w", err)
		}
		if len(due) == 0 {
			return fired, nil
		}

		for _, campaign := range due {
			payload, err := json.Marshal(PrepareJobPayload{CampaignID: campaign.ID.String()})
			if err != nil {
				p.logger.ErrorContext(ctx, "Failed to marshal prepare job for scheduled campaign", "campaign_id", campaign.ID, "error", err)
				continue
			}
			if err := p.publisher.Publish(ctx, messagebroker.SubjectCampaignPrepare, payload); err != nil {
				p.logger.ErrorContext(ctx, "Failed to publish prepare job for scheduled campaign", "campaign_id", campaign.ID, "error", err)
				continue
			}
			scheduledFiredCounter.Inc()
			fired++
			p.logger.InfoContext(ctx, "Scheduled campaign fired", "campaign_id", campaign.ID, "scheduled_at", campaign.ScheduledAt)
		}

		if len(due) < p.batchSize {
			return fired, nil
		}
	}
}
