package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/commshub/communicator/internal/campaign_service/domain"
	"github.com/commshub/communicator/internal/campaign_service/repository"
	"github.com/commshub/communicator/internal/platform/messagebroker"
	"github.com/commshub/communicator/internal/prep_service/directory"
)

// PrepareJobPayload is the NATS message that triggers recipient preparation
// for one campaign.
type PrepareJobPayload struct {
	CampaignID string `json:"campaign_id"`
}

// SendJobPayload is published once preparation completes and the campaign is
// ready for fan-out.
type SendJobPayload struct {
	CampaignID string `json:"campaign_id"`
}

// AppInstaller installs the bot app for a user who has never seen it,
// returning the personal conversation id the installation created. Provided
// by the Transport collaborator.
type AppInstaller interface {
	InstallAppForUser(ctx context.Context, aadID string) (conversationID string, err error)
}

// PrepAppService consumes prepare jobs and drives a campaign from Queued
// through SyncingRecipients and InstallingApp into Sending.
type PrepAppService struct {
	campaignRepo repository.CampaignRepository
	progressRepo repository.RecipientProgressRepository
	resolver     *Resolver
	batcher      *Batcher
	installer    AppInstaller
	cache        directory.IdentityCache
	publisher    messagebroker.Publisher
	logger       *slog.Logger

	installConcurrency int
	jobTimeout         time.Duration
}

// NewPrepAppService creates a PrepAppService.
func NewPrepAppService(
	campaignRepo repository.CampaignRepository,
	progressRepo repository.RecipientProgressRepository,
	resolver *Resolver,
	batcher *Batcher,
	installer AppInstaller,
	cache directory.IdentityCache,
	publisher messagebroker.Publisher,
	logger *slog.Logger,
	installConcurrency int,
) *PrepAppService {
	if installConcurrency < 1 {
		installConcurrency = 10
	}
	return &PrepAppService{
		campaignRepo:       campaignRepo,
		progressRepo:       progressRepo,
		resolver:           resolver,
		batcher:            batcher,
		installer:          installer,
		cache:              cache,
		publisher:          publisher,
		logger:             logger.With("component", "prep"),
		installConcurrency: installConcurrency,
		jobTimeout:         10 * time.Minute,
	}
}

// HandleMessage is the NATS handler for SubjectCampaignPrepare.
func (s *PrepAppService) HandleMessage(subject string, data []byte) {
	var job PrepareJobPayload
	if err := json.Unmarshal(data, &job); err != nil {
		s.logger.Error("Failed to unmarshal prepare job payload", "error", err, "data", string(data))
		return
	}
	campaignID, err := uuid.Parse(job.CampaignID)
	if err != nil {
		s.logger.Error("Prepare job carries invalid campaign id", "campaign_id", job.CampaignID, "error", err)
		return
	}

	jobCtx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	if err := s.ProcessPrepareJob(jobCtx, campaignID); err != nil {
		s.logger.Error("Failed to process prepare job", "error", err, "campaign_id", campaignID)
	}
}

// ProcessPrepareJob runs the Resolver and Batcher for one campaign and hands
// it off to delivery.
func (s *PrepAppService) ProcessPrepareJob(ctx context.Context, campaignID uuid.UUID) error {
	timer := prometheus.NewTimer(preparationDurationHist)
	defer timer.ObserveDuration()

	campaign, err := s.campaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("load campaign: %w", err)
	}

	if campaign.Status != domain.CampaignStatusQueued {
		// Redelivered or duplicate job; preparation already ran.
		s.logger.WarnContext(ctx, "Prepare job for campaign not in queued state", "campaign_id", campaignID, "status", campaign.Status)
		return nil
	}

	if err := s.campaignRepo.UpdateStatus(ctx, campaignID, domain.CampaignStatusQueued, domain.CampaignStatusSyncingRecipients, nil); err != nil {
		return fmt.Errorf("transition to syncing_recipients: %w", err)
	}

	idents, err := s.resolver.Resolve(ctx, campaign)
	if err != nil {
		reason := domain.FailureResolution
		outcome := "failed"
		if errors.Is(err, directory.ErrAccessDenied) {
			reason = domain.FailureAccessDenied
			outcome = "access_denied"
		}
		s.logger.ErrorContext(ctx, "Recipient resolution failed", "campaign_id", campaignID, "reason", reason, "error", err)
		if markErr := s.campaignRepo.MarkFailed(ctx, campaignID, reason); markErr != nil {
			s.logger.ErrorContext(ctx, "Failed to mark campaign failed", "campaign_id", campaignID, "error", markErr)
		}
		campaignsPreparedCounter.WithLabelValues(outcome).Inc()
		return fmt.Errorf("resolve recipients: %w", err)
	}
	recipientsResolvedCounter.Add(float64(len(idents)))

	if len(idents) == 0 {
		// Nothing to deliver: short-circuit to Sent with zero counters.
		now := time.Now().UTC()
		if err := s.campaignRepo.UpdateStatus(ctx, campaignID, domain.CampaignStatusSyncingRecipients, domain.CampaignStatusSent, &now); err != nil {
			return s.failCampaign(ctx, campaignID, fmt.Errorf("short-circuit empty campaign: %w", err))
		}
		campaignsPreparedCounter.WithLabelValues("empty").Inc()
		s.logger.InfoContext(ctx, "Campaign resolved to empty audience", "campaign_id", campaignID)
		return nil
	}

	total, err := s.batcher.CreateBatches(ctx, campaignID, idents)
	if err != nil {
		return s.failCampaign(ctx, campaignID, fmt.Errorf("create batches: %w", err))
	}

	counters := campaign.Counters
	counters.Total = total
	if err := s.campaignRepo.UpdateCounters(ctx, campaignID, counters); err != nil {
		return s.failCampaign(ctx, campaignID, fmt.Errorf("record total: %w", err))
	}

	if canceled, err := s.campaignRepo.IsCancelRequested(ctx, campaignID); err != nil {
		return s.failCampaign(ctx, campaignID, fmt.Errorf("check cancellation: %w", err))
	} else if canceled {
		return s.cancelDuringPrep(ctx, campaignID, domain.CampaignStatusSyncingRecipients)
	}

	newMembers := filterNewMembers(idents)
	from := domain.CampaignStatusSyncingRecipients
	if len(newMembers) > 0 {
		if err := s.campaignRepo.UpdateStatus(ctx, campaignID, from, domain.CampaignStatusInstallingApp, nil); err != nil {
			return s.failCampaign(ctx, campaignID, fmt.Errorf("transition to installing_app: %w", err))
		}
		s.installApps(ctx, campaignID, newMembers)
		from = domain.CampaignStatusInstallingApp
	}

	if err := s.campaignRepo.UpdateStatus(ctx, campaignID, from, domain.CampaignStatusSending, nil); err != nil {
		return s.failCampaign(ctx, campaignID, fmt.Errorf("transition to sending: %w", err))
	}

	payload, err := json.Marshal(SendJobPayload{CampaignID: campaignID.String()})
	if err != nil {
		return s.failCampaign(ctx, campaignID, fmt.Errorf("marshal send job: %w", err))
	}
	if err := s.publisher.Publish(ctx, messagebroker.SubjectCampaignSend, payload); err != nil {
		return s.failCampaign(ctx, campaignID, fmt.Errorf("publish send job: %w", err))
	}

	campaignsPreparedCounter.WithLabelValues("prepared").Inc()
	s.logger.InfoContext(ctx, "Campaign prepared", "campaign_id", campaignID, "total_recipients", total, "new_members", len(newMembers))
	return nil
}

// failCampaign marks the campaign Failed before surfacing cause. Once the
// campaign left Queued a bare error would strand it mid-preparation: the
// redelivered job sees a non-queued status and no-ops.
func (s *PrepAppService) failCampaign(ctx context.Context, campaignID uuid.UUID, cause error) error {
	s.logger.ErrorContext(ctx, "Preparation failed mid-flight", "campaign_id", campaignID, "error", cause)
	if markErr := s.campaignRepo.MarkFailed(ctx, campaignID, domain.FailureInternal); markErr != nil {
		s.logger.ErrorContext(ctx, "Failed to mark campaign failed", "campaign_id", campaignID, "error", markErr)
	}
	campaignsPreparedCounter.WithLabelValues("failed").Inc()
	return cause
}

func (s *PrepAppService) cancelDuringPrep(ctx context.Context, campaignID uuid.UUID, from domain.CampaignStatus) error {
	skipped, err := s.progressRepo.SkipPending(ctx, campaignID)
	if err != nil {
		return s.failCampaign(ctx, campaignID, fmt.Errorf("skip pending on cancel: %w", err))
	}
	if err := s.campaignRepo.UpdateStatus(ctx, campaignID, from, domain.CampaignStatusCanceled, nil); err != nil {
		return s.failCampaign(ctx, campaignID, fmt.Errorf("transition to canceled: %w", err))
	}
	campaignsPreparedCounter.WithLabelValues("canceled").Inc()
	s.logger.InfoContext(ctx, "Campaign canceled during preparation", "campaign_id", campaignID, "skipped_rows", skipped)
	return nil
}

// installApps installs the bot for users never seen before, with bounded
// concurrency. An install failure marks only that recipient Failed; the rest
// of the campaign proceeds.
func (s *PrepAppService) installApps(ctx context.Context, campaignID uuid.UUID, newMembers []domain.RecipientIdentity) {
	sem := make(chan struct{}, s.installConcurrency)
	var wg sync.WaitGroup

	for _, ident := range newMembers {
		wg.Add(1)
		sem <- struct{}{}
		go func(ident domain.RecipientIdentity) {
			defer wg.Done()
			defer func() { <-sem }()

			conversationID, err := s.installer.InstallAppForUser(ctx, ident.AadID)
			if err != nil {
				appInstallsCounter.WithLabelValues("failed").Inc()
				s.logger.WarnContext(ctx, "App install failed for recipient", "campaign_id", campaignID, "recipient_id", ident.AadID, "error", err)
				if setErr := s.progressRepo.SetStatus(ctx, campaignID, ident.AadID, domain.DeliveryStatusFailed, "app installation failed: "+err.Error()); setErr != nil {
					s.logger.ErrorContext(ctx, "Failed to mark recipient failed after install error", "campaign_id", campaignID, "recipient_id", ident.AadID, "error", setErr)
				}
				return
			}

			appInstallsCounter.WithLabelValues("installed").Inc()
			if err := s.progressRepo.SetConversationID(ctx, campaignID, ident.AadID, conversationID); err != nil {
				s.logger.ErrorContext(ctx, "Failed to persist conversation id after install", "campaign_id", campaignID, "recipient_id", ident.AadID, "error", err)
			}
			ident.ConversationID = conversationID
			if err := s.cache.Remember(ctx, ident); err != nil {
				s.logger.WarnContext(ctx, "Failed to cache installed identity", "recipient_id", ident.AadID, "error", err)
			}
		}(ident)
	}
	wg.Wait()
}

// filterNewMembers returns personal recipients that need an app install:
// never-seen members. Never-seen guests were already written Skipped by the
// batcher.
func filterNewMembers(idents []domain.RecipientIdentity) []domain.RecipientIdentity {
	var out []domain.RecipientIdentity
	for _, ident := range idents {
		if ident.Kind == domain.RecipientKindUserPersonal && ident.IsNew && ident.UserType == domain.UserTypeMember {
			out = append(out, ident)
		}
	}
	return out
}
