package app

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/commshub/communicator/internal/campaign_service/domain"
	"github.com/commshub/communicator/internal/delivery_service/transport"
)

// memCampaignRepo is an in-memory CampaignRepository for driving the
// orchestrator and aggregator without a database.
type memCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[uuid.UUID]*domain.NotificationCampaign

	// cancelAfterChecks flips cancel_requested once IsCancelRequested has
	// been polled this many times (0 = never).
	cancelAfterChecks int
	cancelChecks      int
}

func newMemCampaignRepo(campaigns ...*domain.NotificationCampaign) *memCampaignRepo {
	r := &memCampaignRepo{campaigns: make(map[uuid.UUID]*domain.NotificationCampaign)}
	for _, c := range campaigns {
		r.campaigns[c.ID] = c
	}
	return r
}

func (r *memCampaignRepo) Create(ctx context.Context, c *domain.NotificationCampaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.campaigns[c.ID] = c
	return nil
}

func (r *memCampaignRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.NotificationCampaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, domain.ErrCampaignNotFound
	}
	copied := *c
	return &copied, nil
}

func (r *memCampaignRepo) List(ctx context.Context, statuses []domain.CampaignStatus, limit, offset int) ([]*domain.NotificationCampaign, error) {
	return nil, nil
}

func (r *memCampaignRepo) UpdateDraft(ctx context.Context, c *domain.NotificationCampaign) error {
	return nil
}

func (r *memCampaignRepo) UpdateStatus(ctx context.Context, id uuid.UUID, expectedFrom, to domain.CampaignStatus, sentAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return domain.ErrCampaignNotFound
	}
	if c.Status != expectedFrom {
		return domain.ErrInvalidTransition
	}
	c.Status = to
	if sentAt != nil {
		c.SentAt = sentAt
	}
	return nil
}

func (r *memCampaignRepo) UpdateCounters(ctx context.Context, id uuid.UUID, counters domain.CampaignCounters) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return domain.ErrCampaignNotFound
	}
	c.Counters = counters
	return nil
}

func (r *memCampaignRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return domain.ErrCampaignNotFound
	}
	c.Status = domain.CampaignStatusFailed
	c.FailureReason = reason
	return nil
}

func (r *memCampaignRepo) RequestCancel(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return domain.ErrCampaignNotFound
	}
	c.CancelRequested = true
	return nil
}

func (r *memCampaignRepo) IsCancelRequested(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return false, domain.ErrCampaignNotFound
	}
	r.cancelChecks++
	if r.cancelAfterChecks > 0 && r.cancelChecks >= r.cancelAfterChecks {
		c.CancelRequested = true
	}
	return c.CancelRequested, nil
}

func (r *memCampaignRepo) AcquireDueScheduled(ctx context.Context, dueTime time.Time, limit int) ([]*domain.NotificationCampaign, error) {
	return nil, nil
}

func (r *memCampaignRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.campaigns, id)
	return nil
}

func (r *memCampaignRepo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (r *memCampaignRepo) DeleteTerminalInRange(ctx context.Context, from, to time.Time) (int64, error) {
	return 0, nil
}

// memProgressRepo is an in-memory RecipientProgressRepository with the same
// claim semantics as the PostgreSQL implementation: a conditional move to
// Sending that bumps the attempt count.
type memProgressRepo struct {
	mu   sync.Mutex
	rows map[string]*domain.RecipientProgress // keyed by recipient id, single campaign

	claimErr   error           // returned by every Claim when set
	claimDeny  map[string]bool // recipients whose claims always lose
	listCalls  int
	claimCalls int
}

func newMemProgressRepo(rows ...*domain.RecipientProgress) *memProgressRepo {
	r := &memProgressRepo{rows: make(map[string]*domain.RecipientProgress)}
	for _, row := range rows {
		copied := *row
		r.rows[row.RecipientID] = &copied
	}
	return r
}

func (r *memProgressRepo) BulkInsert(ctx context.Context, rows []*domain.RecipientProgress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range rows {
		if _, exists := r.rows[row.RecipientID]; !exists {
			copied := *row
			r.rows[row.RecipientID] = &copied
		}
	}
	return nil
}

func (r *memProgressRepo) CountByCampaign(ctx context.Context, campaignID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows), nil
}

func (r *memProgressRepo) CountByStatus(ctx context.Context, campaignID uuid.UUID) (map[domain.DeliveryStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[domain.DeliveryStatus]int)
	for _, row := range r.rows {
		counts[row.Status]++
	}
	return counts, nil
}

func (r *memProgressRepo) ListByStatus(ctx context.Context, campaignID uuid.UUID, statuses []domain.DeliveryStatus, afterRecipientID string, limit int) ([]*domain.RecipientProgress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++

	wanted := make(map[domain.DeliveryStatus]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}

	ids := make([]string, 0, len(r.rows))
	for id := range r.rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []*domain.RecipientProgress
	for _, id := range ids {
		if id <= afterRecipientID {
			continue
		}
		row := r.rows[id]
		if !wanted[row.Status] {
			continue
		}
		copied := *row
		out = append(out, &copied)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *memProgressRepo) Claim(ctx context.Context, campaignID uuid.UUID, recipientID string, expected []domain.DeliveryStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claimCalls++
	if r.claimErr != nil {
		return false, r.claimErr
	}
	if r.claimDeny[recipientID] {
		return false, nil
	}
	row, ok := r.rows[recipientID]
	if !ok {
		return false, nil
	}
	for _, s := range expected {
		if row.Status == s {
			row.Status = domain.DeliveryStatusSending
			row.AttemptCount++
			row.UpdatedAt = time.Now().UTC()
			return true, nil
		}
	}
	return false, nil
}

func (r *memProgressRepo) SetStatus(ctx context.Context, campaignID uuid.UUID, recipientID string, status domain.DeliveryStatus, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[recipientID]
	if !ok {
		return domain.ErrProgressRowNotFound
	}
	row.Status = status
	row.LastError = lastError
	row.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memProgressRepo) SetConversationID(ctx context.Context, campaignID uuid.UUID, recipientID, conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[recipientID]
	if !ok {
		return domain.ErrProgressRowNotFound
	}
	row.ConversationID = conversationID
	return nil
}

func (r *memProgressRepo) SkipPending(ctx context.Context, campaignID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var flipped int64
	for _, row := range r.rows {
		if row.Status == domain.DeliveryStatusPending {
			row.Status = domain.DeliveryStatusSkipped
			flipped++
		}
	}
	return flipped, nil
}

func (r *memProgressRepo) DeleteByCampaign(ctx context.Context, campaignID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := int64(len(r.rows))
	r.rows = make(map[string]*domain.RecipientProgress)
	return n, nil
}

func (r *memProgressRepo) statusOf(recipientID string) domain.DeliveryStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[recipientID].Status
}

func (r *memProgressRepo) attemptsOf(recipientID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[recipientID].AttemptCount
}

func (r *memProgressRepo) listCallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listCalls
}

// scriptedTransport returns a fixed error sequence per recipient; after the
// script is exhausted, sends succeed. Conversation ids encode the recipient
// so Send can find its script.
type scriptedTransport struct {
	mu      sync.Mutex
	scripts map[string][]error
	sends   map[string]int
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{
		scripts: make(map[string][]error),
		sends:   make(map[string]int),
	}
}

func (t *scriptedTransport) script(recipientID string, errs ...error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scripts[recipientID] = errs
}

func (t *scriptedTransport) Send(ctx context.Context, ref transport.ConversationRef, card json.RawMessage) error {
	recipientID := ref.ConversationID[len("conv-"):]
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.sends[recipientID]
	t.sends[recipientID] = n + 1
	script := t.scripts[recipientID]
	if n < len(script) {
		return script[n]
	}
	return nil
}

func (t *scriptedTransport) CreateConversation(ctx context.Context, kind domain.RecipientKind, recipientID string) (string, error) {
	return "conv-" + recipientID, nil
}

func (t *scriptedTransport) InstallAppForUser(ctx context.Context, aadID string) (string, error) {
	return "conv-" + aadID, nil
}

func (t *scriptedTransport) sendCount(recipientID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sends[recipientID]
}
