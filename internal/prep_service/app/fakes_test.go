package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/commshub/communicator/internal/campaign_service/domain"
)

// memCampaignRepo is an in-memory CampaignRepository for prep flow tests.
type memCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[uuid.UUID]*domain.NotificationCampaign
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

func (r *memCampaignRepo) statusOf(id uuid.UUID) domain.CampaignStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.campaigns[id].Status
}

// memProgressRepo is an in-memory RecipientProgressRepository that records
// the number of BulkInsert calls for batching assertions.
type memProgressRepo struct {
	mu          sync.Mutex
	rows        map[string]*domain.RecipientProgress
	insertCalls int
	insertErr   error // returned by every BulkInsert when set
}

func newMemProgressRepo() *memProgressRepo {
	return &memProgressRepo{rows: make(map[string]*domain.RecipientProgress)}
}

func (r *memProgressRepo) BulkInsert(ctx context.Context, rows []*domain.RecipientProgress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertCalls++
	if r.insertErr != nil {
		return r.insertErr
	}
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
	return nil, nil
}

func (r *memProgressRepo) Claim(ctx context.Context, campaignID uuid.UUID, recipientID string, expected []domain.DeliveryStatus) (bool, error) {
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

func (r *memProgressRepo) rowOf(recipientID string) *domain.RecipientProgress {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := r.rows[recipientID]
	if row == nil {
		return nil
	}
	copied := *row
	return &copied
}

// memIdentityCache is an in-memory IdentityCache.
type memIdentityCache struct {
	mu     sync.Mutex
	idents map[string]domain.RecipientIdentity
}

func newMemIdentityCache(seed ...domain.RecipientIdentity) *memIdentityCache {
	c := &memIdentityCache{idents: make(map[string]domain.RecipientIdentity)}
	for _, ident := range seed {
		c.idents[ident.AadID] = ident
	}
	return c
}

func (c *memIdentityCache) Get(ctx context.Context, aadID string) (*domain.RecipientIdentity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ident, ok := c.idents[aadID]
	if !ok {
		return nil, nil
	}
	copied := ident
	return &copied, nil
}

func (c *memIdentityCache) Remember(ctx context.Context, ident domain.RecipientIdentity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ident.IsNew = false
	c.idents[ident.AadID] = ident
	return nil
}

func (c *memIdentityCache) has(aadID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.idents[aadID]
	return ok
}

// memPublisher records published messages.
type memPublisher struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func newMemPublisher() *memPublisher {
	return &memPublisher{messages: make(map[string][][]byte)}
}

func (p *memPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages[subject] = append(p.messages[subject], data)
	return nil
}

func (p *memPublisher) count(subject string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages[subject])
}

// fakeInstaller installs successfully unless the id is in failFor.
type fakeInstaller struct {
	mu       sync.Mutex
	failFor  map[string]bool
	installs []string
}

func newFakeInstaller() *fakeInstaller {
	return &fakeInstaller{failFor: make(map[string]bool)}
}

func (i *fakeInstaller) InstallAppForUser(ctx context.Context, aadID string) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.failFor[aadID] {
		return "", context.DeadlineExceeded
	}
	i.installs = append(i.installs, aadID)
	return "installed-conv-" + aadID, nil
}

func (i *fakeInstaller) installCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.installs)
}
