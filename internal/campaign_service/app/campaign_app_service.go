package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/commshub/communicator/internal/campaign_service/domain"
	"github.com/commshub/communicator/internal/campaign_service/repository"
	"github.com/commshub/communicator/internal/platform/messagebroker"
)

// PrepareJobPayload mirrors the payload the prep service consumes.
type PrepareJobPayload struct {
	CampaignID string `json:"campaign_id"`
}

// CampaignAppService owns the campaign lifecycle operations exposed to the
// API: draft management, queueing for send, cancellation, and summaries.
type CampaignAppService struct {
	campaignRepo repository.CampaignRepository
	progressRepo repository.RecipientProgressRepository
	publisher    messagebroker.Publisher
	logger       *slog.Logger
}

// NewCampaignAppService creates a CampaignAppService.
func NewCampaignAppService(
	campaignRepo repository.CampaignRepository,
	progressRepo repository.RecipientProgressRepository,
	publisher messagebroker.Publisher,
	logger *slog.Logger,
) *CampaignAppService {
	return &CampaignAppService{
		campaignRepo: campaignRepo,
		progressRepo: progressRepo,
		publisher:    publisher,
		logger:       logger.With("component", "campaign_app"),
	}
}

// CreateDraft persists a new draft campaign.
func (s *CampaignAppService) CreateDraft(ctx context.Context, campaign *domain.NotificationCampaign) error {
	if err := validateAudience(campaign.Audience); err != nil {
		return err
	}
	campaign.Status = domain.CampaignStatusDraft
	if err := s.campaignRepo.Create(ctx, campaign); err != nil {
		return fmt.Errorf("create draft: %w", err)
	}
	s.logger.InfoContext(ctx, "Draft campaign created", "campaign_id", campaign.ID, "audience_kind", campaign.Audience.Kind, "created_by", campaign.CreatedBy)
	return nil
}

// UpdateDraft replaces the editable fields of a draft. Fails with
// ErrInvalidTransition once the campaign left Draft.
func (s *CampaignAppService) UpdateDraft(ctx context.Context, campaign *domain.NotificationCampaign) error {
	if err := validateAudience(campaign.Audience); err != nil {
		return err
	}
	return s.campaignRepo.UpdateDraft(ctx, campaign)
}

// Get returns the full campaign record.
func (s *CampaignAppService) Get(ctx context.Context, id uuid.UUID) (*domain.NotificationCampaign, error) {
	return s.campaignRepo.GetByID(ctx, id)
}

// List returns campaigns, optionally filtered by status.
func (s *CampaignAppService) List(ctx context.Context, statuses []domain.CampaignStatus, limit, offset int) ([]*domain.NotificationCampaign, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.campaignRepo.List(ctx, statuses, limit, offset)
}

// QueueSend moves a draft to Queued and hands it to the prep pipeline. The
// Draft→Queued transition is the claim: a double submit finds the campaign
// already Queued and fails with ErrInvalidTransition.
func (s *CampaignAppService) QueueSend(ctx context.Context, id uuid.UUID) error {
	if err := s.campaignRepo.UpdateStatus(ctx, id, domain.CampaignStatusDraft, domain.CampaignStatusQueued, nil); err != nil {
		return err
	}

	payload, err := json.Marshal(PrepareJobPayload{CampaignID: id.String()})
	if err != nil {
		return fmt.Errorf("marshal prepare job: %w", err)
	}
	if err := s.publisher.Publish(ctx, messagebroker.SubjectCampaignPrepare, payload); err != nil {
		return fmt.Errorf("publish prepare job: %w", err)
	}

	s.logger.InfoContext(ctx, "Campaign queued for send", "campaign_id", id)
	return nil
}

// Cancel sets the campaign's cancellation flag. Idempotent: repeated cancels
// are no-ops. Workers observe the flag at batch and retry checkpoints.
func (s *CampaignAppService) Cancel(ctx context.Context, id uuid.UUID) error {
	if err := s.campaignRepo.RequestCancel(ctx, id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "Campaign cancellation requested", "campaign_id", id)
	return nil
}

// Summary returns the aggregated status and counters. While the campaign is
// mid-pipeline the counters come from a live progress scan; terminal and
// draft campaigns serve the stored counters.
func (s *CampaignAppService) Summary(ctx context.Context, id uuid.UUID) (*domain.CampaignSummary, error) {
	campaign, err := s.campaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	counters := campaign.Counters
	switch campaign.Status {
	case domain.CampaignStatusSyncingRecipients, domain.CampaignStatusInstallingApp, domain.CampaignStatusSending:
		counts, err := s.progressRepo.CountByStatus(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("scan progress counts: %w", err)
		}
		counters = liveCounters(campaign.Counters.Total, counts)
	}

	return &domain.CampaignSummary{
		CampaignID:    id,
		Status:        campaign.Status,
		Counters:      counters,
		FailureReason: campaign.FailureReason,
		SentAt:        campaign.SentAt,
	}, nil
}

// DeleteDraft removes a draft campaign. Sent history is removed by the
// maintenance service, not here.
func (s *CampaignAppService) DeleteDraft(ctx context.Context, id uuid.UUID) error {
	campaign, err := s.campaignRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if campaign.Status != domain.CampaignStatusDraft {
		return domain.ErrInvalidTransition
	}
	if err := s.campaignRepo.Delete(ctx, id); err != nil {
		return err
	}
	if _, err := s.progressRepo.DeleteByCampaign(ctx, id); err != nil {
		return fmt.Errorf("purge progress rows: %w", err)
	}
	s.logger.InfoContext(ctx, "Draft campaign deleted", "campaign_id", id)
	return nil
}

func liveCounters(total int, counts map[domain.DeliveryStatus]int) domain.CampaignCounters {
	scanned := 0
	for _, n := range counts {
		scanned += n
	}
	if scanned > total {
		total = scanned
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

func validateAudience(audience domain.AudienceSpec) error {
	switch audience.Kind {
	case domain.AudienceTeams, domain.AudienceRosters:
		if len(audience.TeamIDs) == 0 {
			return fmt.Errorf("audience kind %q requires team ids", audience.Kind)
		}
	case domain.AudienceGroups:
		if len(audience.GroupIDs) == 0 {
			return fmt.Errorf("audience kind %q requires group ids", audience.Kind)
		}
	case domain.AudienceCustomUserList:
		if audience.UserList == "" {
			return fmt.Errorf("audience kind %q requires a user list", audience.Kind)
		}
	case domain.AudienceAllUsers:
		// No parameters.
	default:
		return fmt.Errorf("unsupported audience kind: %q", audience.Kind)
	}
	return nil
}
