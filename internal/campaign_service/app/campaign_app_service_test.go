package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/commshub/communicator/internal/campaign_service/domain"
	"github.com/commshub/communicator/internal/platform/messagebroker"
)

type campaignServiceTestComponents struct {
	service      *CampaignAppService
	campaignRepo *MockCampaignRepository
	progressRepo *MockProgressRepository
	publisher    *MockPublisher
}

func setupCampaignServiceTest(t *testing.T) campaignServiceTestComponents {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	campaignRepo := new(MockCampaignRepository)
	progressRepo := new(MockProgressRepository)
	publisher := new(MockPublisher)

	return campaignServiceTestComponents{
		service:      NewCampaignAppService(campaignRepo, progressRepo, publisher, logger),
		campaignRepo: campaignRepo,
		progressRepo: progressRepo,
		publisher:    publisher,
	}
}

func draftCampaign() *domain.NotificationCampaign {
	return domain.NewDraftCampaign("Benefits enrollment", domain.AudienceSpec{
		Kind:    domain.AudienceTeams,
		TeamIDs: []string{"team-1"},
	}, "admin@contoso.com")
}

func TestCampaignAppService_CreateDraft(t *testing.T) {
	ctx := context.Background()

	t.Run("PersistsDraft", func(t *testing.T) {
		comps := setupCampaignServiceTest(t)
		campaign := draftCampaign()
		comps.campaignRepo.On("Create", ctx, campaign).Return(nil).Once()

		require.NoError(t, comps.service.CreateDraft(ctx, campaign))
		assert.Equal(t, domain.CampaignStatusDraft, campaign.Status)
		comps.campaignRepo.AssertExpectations(t)
	})

	t.Run("RejectsAudienceMissingParameters", func(t *testing.T) {
		comps := setupCampaignServiceTest(t)
		campaign := draftCampaign()
		campaign.Audience = domain.AudienceSpec{Kind: domain.AudienceGroups}

		err := comps.service.CreateDraft(ctx, campaign)
		require.Error(t, err)
		comps.campaignRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("RejectsUnknownAudienceKind", func(t *testing.T) {
		comps := setupCampaignServiceTest(t)
		campaign := draftCampaign()
		campaign.Audience = domain.AudienceSpec{Kind: "everyone"}

		assert.Error(t, comps.service.CreateDraft(ctx, campaign))
	})
}

func TestCampaignAppService_QueueSend(t *testing.T) {
	ctx := context.Background()

	t.Run("TransitionsAndPublishesPrepareJob", func(t *testing.T) {
		comps := setupCampaignServiceTest(t)
		id := uuid.New()
		comps.campaignRepo.On("UpdateStatus", ctx, id, domain.CampaignStatusDraft, domain.CampaignStatusQueued, (*time.Time)(nil)).Return(nil).Once()
		comps.publisher.On("Publish", ctx, messagebroker.SubjectCampaignPrepare, mock.AnythingOfType("[]uint8")).Return(nil).Once()

		require.NoError(t, comps.service.QueueSend(ctx, id))
		comps.campaignRepo.AssertExpectations(t)
		comps.publisher.AssertExpectations(t)
	})

	t.Run("DoubleSubmitFailsWithInvalidTransition", func(t *testing.T) {
		comps := setupCampaignServiceTest(t)
		id := uuid.New()
		comps.campaignRepo.On("UpdateStatus", ctx, id, domain.CampaignStatusDraft, domain.CampaignStatusQueued, (*time.Time)(nil)).Return(domain.ErrInvalidTransition).Once()

		err := comps.service.QueueSend(ctx, id)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
		comps.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestCampaignAppService_Cancel(t *testing.T) {
	ctx := context.Background()
	comps := setupCampaignServiceTest(t)
	id := uuid.New()
	comps.campaignRepo.On("RequestCancel", ctx, id).Return(nil).Once()

	require.NoError(t, comps.service.Cancel(ctx, id))
	comps.campaignRepo.AssertExpectations(t)
}

func TestCampaignAppService_Summary(t *testing.T) {
	ctx := context.Background()

	t.Run("MidFlightSummaryUsesLiveScan", func(t *testing.T) {
		comps := setupCampaignServiceTest(t)
		campaign := draftCampaign()
		campaign.Status = domain.CampaignStatusSending
		campaign.Counters = domain.CampaignCounters{Total: 5}
		comps.campaignRepo.On("GetByID", ctx, campaign.ID).Return(campaign, nil).Once()
		comps.progressRepo.On("CountByStatus", ctx, campaign.ID).Return(map[domain.DeliveryStatus]int{
			domain.DeliveryStatusSent:    3,
			domain.DeliveryStatusPending: 2,
		}, nil).Once()

		summary, err := comps.service.Summary(ctx, campaign.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, summary.Counters.Total)
		assert.Equal(t, 3, summary.Counters.Succeeded)
	})

	t.Run("TerminalSummaryUsesStoredCounters", func(t *testing.T) {
		comps := setupCampaignServiceTest(t)
		campaign := draftCampaign()
		campaign.Status = domain.CampaignStatusSent
		campaign.Counters = domain.CampaignCounters{Total: 10, Succeeded: 9, Failed: 1}
		comps.campaignRepo.On("GetByID", ctx, campaign.ID).Return(campaign, nil).Once()

		summary, err := comps.service.Summary(ctx, campaign.ID)
		require.NoError(t, err)
		assert.Equal(t, 9, summary.Counters.Succeeded)
		comps.progressRepo.AssertNotCalled(t, "CountByStatus", mock.Anything, mock.Anything)
	})

	t.Run("NotFoundPropagates", func(t *testing.T) {
		comps := setupCampaignServiceTest(t)
		id := uuid.New()
		comps.campaignRepo.On("GetByID", ctx, id).Return(nil, domain.ErrCampaignNotFound).Once()

		_, err := comps.service.Summary(ctx, id)
		assert.ErrorIs(t, err, domain.ErrCampaignNotFound)
	})
}

func TestCampaignAppService_DeleteDraft(t *testing.T) {
	ctx := context.Background()

	t.Run("DeletesDraftAndProgressRows", func(t *testing.T) {
		comps := setupCampaignServiceTest(t)
		campaign := draftCampaign()
		comps.campaignRepo.On("GetByID", ctx, campaign.ID).Return(campaign, nil).Once()
		comps.campaignRepo.On("Delete", ctx, campaign.ID).Return(nil).Once()
		comps.progressRepo.On("DeleteByCampaign", ctx, campaign.ID).Return(int64(0), nil).Once()

		require.NoError(t, comps.service.DeleteDraft(ctx, campaign.ID))
		comps.campaignRepo.AssertExpectations(t)
	})

	t.Run("RefusesNonDraft", func(t *testing.T) {
		comps := setupCampaignServiceTest(t)
		campaign := draftCampaign()
		campaign.Status = domain.CampaignStatusSending
		comps.campaignRepo.On("GetByID", ctx, campaign.ID).Return(campaign, nil).Once()

		err := comps.service.DeleteDraft(ctx, campaign.ID)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
		comps.campaignRepo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	})
}
