package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/commshub/communicator/internal/campaign_service/domain"
)

// --- Mocks ---

type MockCampaignRepository struct {
	mock.Mock
}

func (m *MockCampaignRepository) Create(ctx context.Context, c *domain.NotificationCampaign) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockCampaignRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.NotificationCampaign, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.NotificationCampaign), args.Error(1)
}

func (m *MockCampaignRepository) List(ctx context.Context, statuses []domain.CampaignStatus, limit, offset int) ([]*domain.NotificationCampaign, error) {
	args := m.Called(ctx, statuses, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.NotificationCampaign), args.Error(1)
}

func (m *MockCampaignRepository) UpdateDraft(ctx context.Context, c *domain.NotificationCampaign) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockCampaignRepository) UpdateStatus(ctx context.Context, id uuid.UUID, expectedFrom, to domain.CampaignStatus, sentAt *time.Time) error {
	args := m.Called(ctx, id, expectedFrom, to, sentAt)
	return args.Error(0)
}

func (m *MockCampaignRepository) UpdateCounters(ctx context.Context, id uuid.UUID, counters domain.CampaignCounters) error {
	args := m.Called(ctx, id, counters)
	return args.Error(0)
}

func (m *MockCampaignRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	args := m.Called(ctx, id, reason)
	return args.Error(0)
}

func (m *MockCampaignRepository) RequestCancel(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockCampaignRepository) IsCancelRequested(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockCampaignRepository) AcquireDueScheduled(ctx context.Context, dueTime time.Time, limit int) ([]*domain.NotificationCampaign, error) {
	args := m.Called(ctx, dueTime, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.NotificationCampaign), args.Error(1)
}

func (m *MockCampaignRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockCampaignRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockCampaignRepository) DeleteTerminalInRange(ctx context.Context, from, to time.Time) (int64, error) {
	args := m.Called(ctx, from, to)
	return args.Get(0).(int64), args.Error(1)
}

type MockProgressRepository struct {
	mock.Mock
}

func (m *MockProgressRepository) BulkInsert(ctx context.Context, rows []*domain.RecipientProgress) error {
	args := m.Called(ctx, rows)
	return args.Error(0)
}

func (m *MockProgressRepository) CountByCampaign(ctx context.Context, campaignID uuid.UUID) (int, error) {
	args := m.Called(ctx, campaignID)
	return args.Int(0), args.Error(1)
}

func (m *MockProgressRepository) CountByStatus(ctx context.Context, campaignID uuid.UUID) (map[domain.DeliveryStatus]int, error) {
	args := m.Called(ctx, campaignID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[domain.DeliveryStatus]int), args.Error(1)
}

func (m *MockProgressRepository) ListByStatus(ctx context.Context, campaignID uuid.UUID, statuses []domain.DeliveryStatus, afterRecipientID string, limit int) ([]*domain.RecipientProgress, error) {
	args := m.Called(ctx, campaignID, statuses, afterRecipientID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.RecipientProgress), args.Error(1)
}

func (m *MockProgressRepository) Claim(ctx context.Context, campaignID uuid.UUID, recipientID string, expected []domain.DeliveryStatus) (bool, error) {
	args := m.Called(ctx, campaignID, recipientID, expected)
	return args.Bool(0), args.Error(1)
}

func (m *MockProgressRepository) SetStatus(ctx context.Context, campaignID uuid.UUID, recipientID string, status domain.DeliveryStatus, lastError string) error {
	args := m.Called(ctx, campaignID, recipientID, status, lastError)
	return args.Error(0)
}

func (m *MockProgressRepository) SetConversationID(ctx context.Context, campaignID uuid.UUID, recipientID, conversationID string) error {
	args := m.Called(ctx, campaignID, recipientID, conversationID)
	return args.Error(0)
}

func (m *MockProgressRepository) SkipPending(ctx context.Context, campaignID uuid.UUID) (int64, error) {
	args := m.Called(ctx, campaignID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockProgressRepository) DeleteByCampaign(ctx context.Context, campaignID uuid.UUID) (int64, error) {
	args := m.Called(ctx, campaignID)
	return args.Get(0).(int64), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	args := m.Called(ctx, subject, data)
	return args.Error(0)
}
