package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/commshub/communicator/internal/campaign_service/domain"
	"github.com/commshub/communicator/internal/campaign_service/repository"
)

const campaignColumns = `
	id, title, summary, author, card_ref, button_title, button_link, image_link,
	audience, scheduled_at, ack_required, poll, inline_translation, notify_user, on_behalf_of,
	status, total, succeeded, failed, throttled, unknown, skipped,
	cancel_requested, failure_reason, created_by, created_at, updated_at, sent_at`

type pgCampaignRepository struct {
	db *pgxpool.Pool
}

// NewPgCampaignRepository creates a CampaignRepository backed by PostgreSQL.
func NewPgCampaignRepository(db *pgxpool.Pool) repository.CampaignRepository {
	return &pgCampaignRepository{db: db}
}

func (r *pgCampaignRepository) Create(ctx context.Context, c *domain.NotificationCampaign) error {
	audienceJSON, err := json.Marshal(c.Audience)
	if err != nil {
		return fmt.Errorf("marshal audience: %w", err)
	}
	var pollJSON []byte
	if c.Poll != nil {
		if pollJSON, err = json.Marshal(c.Poll); err != nil {
			return fmt.Errorf("marshal poll: %w", err)
		}
	}

	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = domain.CampaignStatusDraft
	}

	query := `
		INSERT INTO campaigns (
			id, title, summary, author, card_ref, button_title, button_link, image_link,
			audience, scheduled_at, ack_required, poll, inline_translation, notify_user, on_behalf_of,
			status, total, succeeded, failed, throttled, unknown, skipped,
			cancel_requested, failure_reason, created_by, created_at, updated_at, sent_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22,
			$23, $24, $25, $26, $27, $28
		)
	`
	_, err = r.db.Exec(ctx, query,
		c.ID, c.Title, c.Summary, c.Author, c.CardRef, c.ButtonTitle, c.ButtonLink, c.ImageLink,
		audienceJSON, c.ScheduledAt, c.AckRequired, pollJSON, c.InlineTranslation, c.NotifyUser, c.OnBehalfOf,
		c.Status, c.Counters.Total, c.Counters.Succeeded, c.Counters.Failed, c.Counters.Throttled, c.Counters.Unknown, c.Counters.Skipped,
		c.CancelRequested, c.FailureReason, c.CreatedBy, c.CreatedAt, c.UpdatedAt, c.SentAt,
	)
	return err
}

func scanCampaign(row pgx.Row) (*domain.NotificationCampaign, error) {
	c := &domain.NotificationCampaign{}
	var audienceJSON []byte
	var pollJSON []byte

	err := row.Scan(
		&c.ID, &c.Title, &c.Summary, &c.Author, &c.CardRef, &c.ButtonTitle, &c.ButtonLink, &c.ImageLink,
		&audienceJSON, &c.ScheduledAt, &c.AckRequired, &pollJSON, &c.InlineTranslation, &c.NotifyUser, &c.OnBehalfOf,
		&c.Status, &c.Counters.Total, &c.Counters.Succeeded, &c.Counters.Failed, &c.Counters.Throttled, &c.Counters.Unknown, &c.Counters.Skipped,
		&c.CancelRequested, &c.FailureReason, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt, &c.SentAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(audienceJSON, &c.Audience); err != nil {
		return nil, fmt.Errorf("unmarshal audience: %w", err)
	}
	if len(pollJSON) > 0 {
		c.Poll = &domain.PollSpec{}
		if err := json.Unmarshal(pollJSON, c.Poll); err != nil {
			return nil, fmt.Errorf("unmarshal poll: %w", err)
		}
	}
	return c, nil
}

func (r *pgCampaignRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.NotificationCampaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`
	c, err := scanCampaign(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCampaignNotFound
		}
		return nil, err
	}
	return c, nil
}

func (r *pgCampaignRepository) List(ctx context.Context, statuses []domain.CampaignStatus, limit, offset int) ([]*domain.NotificationCampaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns`
	args := []any{}
	if len(statuses) > 0 {
		statusStrs := make([]string, len(statuses))
		for i, s := range statuses {
			statusStrs[i] = string(s)
		}
		query += ` WHERE status = ANY($1)`
		args = append(args, statusStrs)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.NotificationCampaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *pgCampaignRepository) UpdateDraft(ctx context.Context, c *domain.NotificationCampaign) error {
	audienceJSON, err := json.Marshal(c.Audience)
	if err != nil {
		return fmt.Errorf("marshal audience: %w", err)
	}
	var pollJSON []byte
	if c.Poll != nil {
		if pollJSON, err = json.Marshal(c.Poll); err != nil {
			return fmt.Errorf("marshal poll: %w", err)
		}
	}

	query := `
		UPDATE campaigns
		SET title = $2, summary = $3, author = $4, card_ref = $5, button_title = $6,
		    button_link = $7, image_link = $8, audience = $9, scheduled_at = $10,
		    ack_required = $11, poll = $12, inline_translation = $13, notify_user = $14,
		    on_behalf_of = $15, updated_at = $16
		WHERE id = $1 AND status = $17
	`
	tag, err := r.db.Exec(ctx, query,
		c.ID, c.Title, c.Summary, c.Author, c.CardRef, c.ButtonTitle,
		c.ButtonLink, c.ImageLink, audienceJSON, c.ScheduledAt,
		c.AckRequired, pollJSON, c.InlineTranslation, c.NotifyUser,
		c.OnBehalfOf, time.Now().UTC(), domain.CampaignStatusDraft,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

func (r *pgCampaignRepository) UpdateStatus(ctx context.Context, id uuid.UUID, expectedFrom, to domain.CampaignStatus, sentAt *time.Time) error {
	query := `
		UPDATE campaigns
		SET status = $3, sent_at = COALESCE($4, sent_at), updated_at = $5
		WHERE id = $1 AND status = $2
	`
	tag, err := r.db.Exec(ctx, query, id, expectedFrom, to, sentAt, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either the campaign is gone or it was not in the expected state.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return domain.ErrInvalidTransition
	}
	return nil
}

func (r *pgCampaignRepository) UpdateCounters(ctx context.Context, id uuid.UUID, counters domain.CampaignCounters) error {
	query := `
		UPDATE campaigns
		SET total = $2, succeeded = $3, failed = $4, throttled = $5, unknown = $6, skipped = $7, updated_at = $8
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id,
		counters.Total, counters.Succeeded, counters.Failed, counters.Throttled, counters.Unknown, counters.Skipped,
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCampaignNotFound
	}
	return nil
}

func (r *pgCampaignRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	query := `UPDATE campaigns SET status = $2, failure_reason = $3, updated_at = $4 WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, domain.CampaignStatusFailed, reason, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCampaignNotFound
	}
	return nil
}

func (r *pgCampaignRepository) RequestCancel(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE campaigns SET cancel_requested = TRUE, updated_at = $2 WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCampaignNotFound
	}
	return nil
}

func (r *pgCampaignRepository) IsCancelRequested(ctx context.Context, id uuid.UUID) (bool, error) {
	var flag bool
	err := r.db.QueryRow(ctx, `SELECT cancel_requested FROM campaigns WHERE id = $1`, id).Scan(&flag)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, domain.ErrCampaignNotFound
		}
		return false, err
	}
	return flag, nil
}

// AcquireDueScheduled flips due drafts to Queued and returns them. The UPDATE
// itself is the claim, so two pollers never fire the same campaign.
func (r *pgCampaignRepository) AcquireDueScheduled(ctx context.Context, dueTime time.Time, limit int) ([]*domain.NotificationCampaign, error) {
	query := `
		UPDATE campaigns
		SET status = $1, updated_at = $2
		WHERE id IN (
			SELECT id FROM campaigns
			WHERE status = $3 AND scheduled_at IS NOT NULL AND scheduled_at <= $4
			ORDER BY scheduled_at
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + campaignColumns

	rows, err := r.db.Query(ctx, query,
		domain.CampaignStatusQueued, time.Now().UTC(),
		domain.CampaignStatusDraft, dueTime, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.NotificationCampaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *pgCampaignRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM campaigns WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCampaignNotFound
	}
	return nil
}

func (r *pgCampaignRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM campaigns
		WHERE status = ANY($1) AND COALESCE(sent_at, updated_at) < $2
	`
	tag, err := r.db.Exec(ctx, query, terminalStatusStrings(), cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *pgCampaignRepository) DeleteTerminalInRange(ctx context.Context, from, to time.Time) (int64, error) {
	query := `
		DELETE FROM campaigns
		WHERE status = ANY($1) AND COALESCE(sent_at, updated_at) >= $2 AND COALESCE(sent_at, updated_at) < $3
	`
	tag, err := r.db.Exec(ctx, query, terminalStatusStrings(), from, to)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func terminalStatusStrings() []string {
	return []string{
		string(domain.CampaignStatusSent),
		string(domain.CampaignStatusFailed),
		string(domain.CampaignStatusCanceled),
	}
}
