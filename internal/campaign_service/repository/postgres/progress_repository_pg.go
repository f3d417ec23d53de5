package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/commshub/communicator/internal/campaign_service/domain"
	"github.com/commshub/communicator/internal/campaign_service/repository"
)

type pgRecipientProgressRepository struct {
	db *pgxpool.Pool
}

// NewPgRecipientProgressRepository creates a RecipientProgressRepository
// backed by PostgreSQL. The table is keyed (campaign_id, recipient_id) so all
// writes for a campaign land in its own key range.
func NewPgRecipientProgressRepository(db *pgxpool.Pool) repository.RecipientProgressRepository {
	return &pgRecipientProgressRepository{db: db}
}

// BulkInsert writes rows with ON CONFLICT DO NOTHING so batch creation is
// idempotent per campaign: rerunning after a partial failure never duplicates
// a row and never resets one that a worker already progressed.
func (r *pgRecipientProgressRepository) BulkInsert(ctx context.Context, rows []*domain.RecipientProgress) error {
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO recipient_progress (
			campaign_id, recipient_id, kind, display_name, conversation_id,
			status, attempt_count, last_error, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (campaign_id, recipient_id) DO NOTHING
	`
	now := time.Now().UTC()
	for _, row := range rows {
		batch.Queue(query,
			row.CampaignID, row.RecipientID, row.Kind, row.DisplayName, row.ConversationID,
			row.Status, row.AttemptCount, row.LastError, now,
		)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()
	for range rows {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("bulk insert progress rows: %w", err)
		}
	}
	return nil
}

func (r *pgRecipientProgressRepository) CountByCampaign(ctx context.Context, campaignID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM recipient_progress WHERE campaign_id = $1`, campaignID,
	).Scan(&count)
	return count, err
}

func (r *pgRecipientProgressRepository) CountByStatus(ctx context.Context, campaignID uuid.UUID) (map[domain.DeliveryStatus]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT status, COUNT(*) FROM recipient_progress WHERE campaign_id = $1 GROUP BY status`,
		campaignID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.DeliveryStatus]int)
	for rows.Next() {
		var status domain.DeliveryStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func (r *pgRecipientProgressRepository) ListByStatus(ctx context.Context, campaignID uuid.UUID, statuses []domain.DeliveryStatus, afterRecipientID string, limit int) ([]*domain.RecipientProgress, error) {
	statusStrs := make([]string, len(statuses))
	for i, s := range statuses {
		statusStrs[i] = string(s)
	}

	query := `
		SELECT campaign_id, recipient_id, kind, display_name, conversation_id,
		       status, attempt_count, last_error, updated_at
		FROM recipient_progress
		WHERE campaign_id = $1 AND status = ANY($2) AND recipient_id > $3
		ORDER BY recipient_id
		LIMIT $4
	`
	rows, err := r.db.Query(ctx, query, campaignID, statusStrs, afterRecipientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.RecipientProgress
	for rows.Next() {
		row := &domain.RecipientProgress{}
		if err := rows.Scan(
			&row.CampaignID, &row.RecipientID, &row.Kind, &row.DisplayName, &row.ConversationID,
			&row.Status, &row.AttemptCount, &row.LastError, &row.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Claim is the atomic Pending→Sending (or Throttled→Sending) transition. A
// conditional UPDATE that matches zero rows means another worker owns the
// row; the caller treats that as "skip", never as an error.
func (r *pgRecipientProgressRepository) Claim(ctx context.Context, campaignID uuid.UUID, recipientID string, expected []domain.DeliveryStatus) (bool, error) {
	expectedStrs := make([]string, len(expected))
	for i, s := range expected {
		expectedStrs[i] = string(s)
	}

	query := `
		UPDATE recipient_progress
		SET status = $4, attempt_count = attempt_count + 1, updated_at = $5
		WHERE campaign_id = $1 AND recipient_id = $2 AND status = ANY($3)
	`
	tag, err := r.db.Exec(ctx, query,
		campaignID, recipientID, expectedStrs,
		domain.DeliveryStatusSending, time.Now().UTC(),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *pgRecipientProgressRepository) SetStatus(ctx context.Context, campaignID uuid.UUID, recipientID string, status domain.DeliveryStatus, lastError string) error {
	query := `
		UPDATE recipient_progress
		SET status = $3, last_error = $4, updated_at = $5
		WHERE campaign_id = $1 AND recipient_id = $2
	`
	tag, err := r.db.Exec(ctx, query, campaignID, recipientID, status, lastError, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrProgressRowNotFound
	}
	return nil
}

func (r *pgRecipientProgressRepository) SetConversationID(ctx context.Context, campaignID uuid.UUID, recipientID, conversationID string) error {
	query := `
		UPDATE recipient_progress
		SET conversation_id = $3, updated_at = $4
		WHERE campaign_id = $1 AND recipient_id = $2
	`
	tag, err := r.db.Exec(ctx, query, campaignID, recipientID, conversationID, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrProgressRowNotFound
	}
	return nil
}

func (r *pgRecipientProgressRepository) SkipPending(ctx context.Context, campaignID uuid.UUID) (int64, error) {
	query := `
		UPDATE recipient_progress
		SET status = $3, updated_at = $4
		WHERE campaign_id = $1 AND status = $2
	`
	tag, err := r.db.Exec(ctx, query,
		campaignID, domain.DeliveryStatusPending,
		domain.DeliveryStatusSkipped, time.Now().UTC(),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *pgRecipientProgressRepository) DeleteByCampaign(ctx context.Context, campaignID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM recipient_progress WHERE campaign_id = $1`, campaignID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
