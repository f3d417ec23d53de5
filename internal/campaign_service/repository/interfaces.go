package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/commshub/communicator/internal/campaign_service/domain"
)

// CampaignRepository persists NotificationCampaign records.
type CampaignRepository interface {
	Create(ctx context.Context, c *domain.NotificationCampaign) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.NotificationCampaign, error)
	List(ctx context.Context, statuses []domain.CampaignStatus, limit, offset int) ([]*domain.NotificationCampaign, error)
	UpdateDraft(ctx context.Context, c *domain.NotificationCampaign) error

	// UpdateStatus transitions the campaign status. expectedFrom guards the
	// transition: zero rows affected means the campaign was not in that state
	// and ErrInvalidTransition is returned. sentAt is set when non-nil.
	UpdateStatus(ctx context.Context, id uuid.UUID, expectedFrom, to domain.CampaignStatus, sentAt *time.Time) error

	UpdateCounters(ctx context.Context, id uuid.UUID, counters domain.CampaignCounters) error

	// MarkFailed moves the campaign to Failed with an operator-visible
	// reason code (domain.FailureAccessDenied, domain.FailureResolution).
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error

	// RequestCancel flips the cancellation flag. Idempotent.
	RequestCancel(ctx context.Context, id uuid.UUID) error
	IsCancelRequested(ctx context.Context, id uuid.UUID) (bool, error)

	// AcquireDueScheduled claims drafts whose schedule time has passed,
	// moving them to Queued so concurrent pollers never fire one twice.
	AcquireDueScheduled(ctx context.Context, dueTime time.Time, limit int) ([]*domain.NotificationCampaign, error)

	Delete(ctx context.Context, id uuid.UUID) error
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteTerminalInRange(ctx context.Context, from, to time.Time) (int64, error)
}

// RecipientProgressRepository persists per-recipient delivery rows, sharded
// by campaign id.
type RecipientProgressRepository interface {
	// BulkInsert writes progress rows with insert-or-ignore semantics keyed
	// by (campaign_id, recipient_id), so re-running batch creation after a
	// partial failure never duplicates rows.
	BulkInsert(ctx context.Context, rows []*domain.RecipientProgress) error

	CountByCampaign(ctx context.Context, campaignID uuid.UUID) (int, error)
	CountByStatus(ctx context.Context, campaignID uuid.UUID) (map[domain.DeliveryStatus]int, error)

	// ListByStatus returns up to limit rows in any of the given statuses,
	// ordered by recipient id, starting strictly after afterRecipientID
	// (empty string starts from the beginning). Keyset pagination keeps the
	// orchestrator's memory bounded on huge campaigns.
	ListByStatus(ctx context.Context, campaignID uuid.UUID, statuses []domain.DeliveryStatus, afterRecipientID string, limit int) ([]*domain.RecipientProgress, error)

	// Claim atomically moves a row from one of the expected statuses to
	// Sending and bumps attempt_count. Returns false when another worker got
	// there first; the loser simply skips the row.
	Claim(ctx context.Context, campaignID uuid.UUID, recipientID string, expected []domain.DeliveryStatus) (bool, error)

	// SetStatus writes a status plus optional error text. Used by the owning
	// worker only.
	SetStatus(ctx context.Context, campaignID uuid.UUID, recipientID string, status domain.DeliveryStatus, lastError string) error

	// SetConversationID persists a lazily resolved conversation reference so
	// later retries skip re-resolution.
	SetConversationID(ctx context.Context, campaignID uuid.UUID, recipientID, conversationID string) error

	// SkipPending marks all remaining Pending rows Skipped (cancellation
	// path) and returns how many were flipped.
	SkipPending(ctx context.Context, campaignID uuid.UUID) (int64, error)

	DeleteByCampaign(ctx context.Context, campaignID uuid.UUID) (int64, error)
}
