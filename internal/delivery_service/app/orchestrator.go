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
	"golang.org/x/time/rate"

	"github.com/commshub/communicator/internal/campaign_service/domain"
	"github.com/commshub/communicator/internal/campaign_service/repository"
	"github.com/commshub/communicator/internal/delivery_service/transport"
)

// OrchestratorConfig holds the fan-out tunables. The retry/backoff constants
// are deliberately configuration, not code.
type OrchestratorConfig struct {
	MaxConcurrency int           // in-flight send ceiling
	BatchSize      int           // progress rows loaded per wave
	RetryBudget    int           // retries per recipient after the first attempt
	BackoffBase    time.Duration // backoff = base * attemptCount, capped
	BackoffCap     time.Duration
	SendTimeout    time.Duration // per transport call
	PollInterval   time.Duration // pause before re-scanning when a pass made no progress
}

func (c *OrchestratorConfig) applyDefaults() {
	if c.MaxConcurrency < 1 {
		c.MaxConcurrency = 100
	}
	if c.BatchSize < 1 {
		c.BatchSize = 200
	}
	if c.RetryBudget < 0 {
		c.RetryBudget = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 60 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
}

// nonTerminalStatuses are the row states the orchestrator consumes: fresh
// rows, rows orphaned mid-send by a crash, and rows awaiting a throttle
// retry.
var nonTerminalStatuses = []domain.DeliveryStatus{
	domain.DeliveryStatusPending,
	domain.DeliveryStatusSending,
	domain.DeliveryStatusThrottled,
}

// Orchestrator is the fan-out engine: it drives every non-terminal progress
// row of a campaign to a terminal state with bounded concurrency, a global
// send-rate ceiling, per-recipient retry/backoff, and cooperative
// cancellation.
type Orchestrator struct {
	campaignRepo repository.CampaignRepository
	progressRepo repository.RecipientProgressRepository
	transport    transport.MessageTransport
	limiter      *rate.Limiter // shared across campaigns, protects the transport
	logger       *slog.Logger
	cfg          OrchestratorConfig
}

// NewOrchestrator creates an Orchestrator. The limiter is shared process-wide
// so concurrent campaigns cannot jointly exceed the transport's rate limit.
func NewOrchestrator(
	campaignRepo repository.CampaignRepository,
	progressRepo repository.RecipientProgressRepository,
	msgTransport transport.MessageTransport,
	limiter *rate.Limiter,
	logger *slog.Logger,
	cfg OrchestratorConfig,
) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		campaignRepo: campaignRepo,
		progressRepo: progressRepo,
		transport:    msgTransport,
		limiter:      limiter,
		logger:       logger.With("component", "orchestrator"),
		cfg:          cfg,
	}
}

// Drive consumes all non-terminal progress rows for the campaign. Safe to
// re-run after a crash: rows are durable and claims are atomic conditional
// updates, so recovery is simply running Drive again.
func (o *Orchestrator) Drive(ctx context.Context, campaignID uuid.UUID) error {
	campaign, err := o.campaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("load campaign: %w", err)
	}
	if campaign.Status != domain.CampaignStatusSending {
		o.logger.WarnContext(ctx, "Drive called for campaign not in sending state", "campaign_id", campaignID, "status", campaign.Status)
		return nil
	}

	card, err := buildCardPayload(campaign)
	if err != nil {
		return fmt.Errorf("build card payload: %w", err)
	}

	sem := make(chan struct{}, o.cfg.MaxConcurrency)
	var wg sync.WaitGroup

	// Storage failures inside workers (claim, status writes) fail the drive
	// once the wave drains: swallowing them would leave rows non-terminal
	// with nothing left to retry them.
	var errMu sync.Mutex
	var lastRowErr error
	rowErrs := 0
	reportRowErr := func(err error) {
		errMu.Lock()
		rowErrs++
		lastRowErr = err
		errMu.Unlock()
	}
	flushRowErrs := func() error {
		errMu.Lock()
		defer errMu.Unlock()
		if rowErrs == 0 {
			return nil
		}
		return fmt.Errorf("%d recipient rows hit storage errors, last: %w", rowErrs, lastRowErr)
	}

	// Recipients dispatched in this drive. A dispatched worker owns its row
	// until it is terminal, so a recipient is never handed out twice.
	dispatched := make(map[string]bool)
	cursor := ""

	for {
		if ctx.Err() != nil {
			wg.Wait()
			return ctx.Err()
		}

		// Cancellation checkpoint between batches: in-flight sends drain,
		// never aborted mid-call.
		canceled, err := o.campaignRepo.IsCancelRequested(ctx, campaignID)
		if err != nil {
			wg.Wait()
			return fmt.Errorf("check cancellation: %w", err)
		}
		if canceled {
			wg.Wait()
			skipped, err := o.progressRepo.SkipPending(ctx, campaignID)
			if err != nil {
				return fmt.Errorf("skip pending on cancel: %w", err)
			}
			o.logger.InfoContext(ctx, "Campaign cancellation observed, fan-out stopped", "campaign_id", campaignID, "skipped_rows", skipped)
			return nil
		}

		rows, err := o.progressRepo.ListByStatus(ctx, campaignID, nonTerminalStatuses, cursor, o.cfg.BatchSize)
		if err != nil {
			wg.Wait()
			return fmt.Errorf("list progress rows: %w", err)
		}

		if len(rows) == 0 {
			if cursor == "" {
				// Full scan found nothing claimable beyond what is already
				// dispatched; drain and confirm.
				wg.Wait()
				remaining, err := o.progressRepo.ListByStatus(ctx, campaignID, nonTerminalStatuses, "", 1)
				if err != nil {
					return fmt.Errorf("confirm completion: %w", err)
				}
				if len(remaining) == 0 {
					o.logger.InfoContext(ctx, "Fan-out complete, all rows terminal", "campaign_id", campaignID)
					return nil
				}
				if err := flushRowErrs(); err != nil {
					return err
				}
				// Leftovers from a lost claim race; workers have drained, so
				// redistributing them is safe after a pause.
				dispatched = make(map[string]bool)
				if err := o.pollPause(ctx); err != nil {
					return err
				}
				continue
			}
			// Wrap around for the next wave once in-flight work drains.
			cursor = ""
			wg.Wait()
			continue
		}

		fresh := 0
		for _, row := range rows {
			cursor = row.RecipientID
			if dispatched[row.RecipientID] {
				continue
			}
			dispatched[row.RecipientID] = true
			fresh++

			wg.Add(1)
			sem <- struct{}{}
			go func(row *domain.RecipientProgress) {
				defer wg.Done()
				defer func() { <-sem }()
				if err := o.deliverToRecipient(ctx, campaignID, row, card); err != nil {
					reportRowErr(err)
				}
			}(row)
		}
		if fresh == 0 && len(rows) < o.cfg.BatchSize {
			// Everything visible is already owned, here or by a concurrent
			// drive. Drain, then wait a poll interval instead of hammering
			// the store.
			cursor = ""
			wg.Wait()
			if err := flushRowErrs(); err != nil {
				return err
			}
			if err := o.pollPause(ctx); err != nil {
				return err
			}
		}
	}
}

// pollPause sleeps the configured poll interval between no-progress scans.
func (o *Orchestrator) pollPause(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(o.cfg.PollInterval):
		return nil
	}
}

// deliverToRecipient drives a single progress row to a terminal state. Only
// this worker writes the row once the claim succeeds (single writer per row).
// A non-nil return means a storage failure left the row non-terminal.
func (o *Orchestrator) deliverToRecipient(ctx context.Context, campaignID uuid.UUID, row *domain.RecipientProgress, card json.RawMessage) error {
	attempt := row.AttemptCount
	claimFrom := row.Status

	for {
		claimed, err := o.progressRepo.Claim(ctx, campaignID, row.RecipientID, []domain.DeliveryStatus{claimFrom})
		if err != nil {
			o.logger.ErrorContext(ctx, "Claim failed", "campaign_id", campaignID, "recipient_id", row.RecipientID, "error", err)
			return fmt.Errorf("claim recipient %s: %w", row.RecipientID, err)
		}
		if !claimed {
			// Another worker owns this row. Not an error.
			claimConflictsCounter.Inc()
			return nil
		}
		attempt++

		err = o.sendOnce(ctx, campaignID, row, card)

		switch outcome := classifyOutcome(err); outcome {
		case outcomeSent:
			return o.terminal(ctx, campaignID, row.RecipientID, domain.DeliveryStatusSent, "")

		case outcomePermanent:
			return o.terminal(ctx, campaignID, row.RecipientID, domain.DeliveryStatusFailed, err.Error())

		case outcomeThrottled:
			throttleEventsCounter.Inc()
			if attempt-1 >= o.cfg.RetryBudget {
				return o.terminal(ctx, campaignID, row.RecipientID, domain.DeliveryStatusFailed, "throttle retry budget exhausted: "+err.Error())
			}
			if setErr := o.progressRepo.SetStatus(ctx, campaignID, row.RecipientID, domain.DeliveryStatusThrottled, err.Error()); setErr != nil {
				o.logger.ErrorContext(ctx, "Failed to record throttled state", "campaign_id", campaignID, "recipient_id", row.RecipientID, "error", setErr)
				return fmt.Errorf("record throttled state for %s: %w", row.RecipientID, setErr)
			}
			var throttled *transport.ThrottledError
			wait := o.backoff(attempt)
			if errors.As(err, &throttled) && throttled.RetryAfter > wait {
				wait = throttled.RetryAfter
			}
			ok, waitErr := o.waitForRetry(ctx, campaignID, row.RecipientID, wait)
			if !ok {
				return waitErr
			}
			claimFrom = domain.DeliveryStatusThrottled

		case outcomeTransient:
			if attempt-1 >= o.cfg.RetryBudget {
				// Outcome indeterminate: the call may or may not have landed.
				return o.terminal(ctx, campaignID, row.RecipientID, domain.DeliveryStatusUnknown, "transient retry budget exhausted: "+err.Error())
			}
			o.logger.WarnContext(ctx, "Transient send failure, will retry", "campaign_id", campaignID, "recipient_id", row.RecipientID, "attempt", attempt, "error", err)
			ok, waitErr := o.waitForRetry(ctx, campaignID, row.RecipientID, o.backoff(attempt))
			if !ok {
				return waitErr
			}
			claimFrom = domain.DeliveryStatusSending
		}
	}
}

// sendOnce performs one transport attempt: lazy conversation resolution, the
// global rate-limit wait, then the send itself under its timeout.
func (o *Orchestrator) sendOnce(ctx context.Context, campaignID uuid.UUID, row *domain.RecipientProgress, card json.RawMessage) error {
	if row.ConversationID == "" {
		convCtx, cancel := context.WithTimeout(ctx, o.cfg.SendTimeout)
		conversationID, err := o.transport.CreateConversation(convCtx, row.Kind, row.RecipientID)
		cancel()
		if err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
		if err := o.progressRepo.SetConversationID(ctx, campaignID, row.RecipientID, conversationID); err != nil {
			o.logger.ErrorContext(ctx, "Failed to persist conversation id", "campaign_id", campaignID, "recipient_id", row.RecipientID, "error", err)
		}
		row.ConversationID = conversationID
	}

	if err := o.limiter.Wait(ctx); err != nil {
		return err
	}

	timer := prometheus.NewTimer(sendDurationHist)
	defer timer.ObserveDuration()

	sendCtx, cancel := context.WithTimeout(ctx, o.cfg.SendTimeout)
	defer cancel()
	return o.transport.Send(sendCtx, transport.ConversationRef{
		Kind:           row.Kind,
		ConversationID: row.ConversationID,
	}, card)
}

// waitForRetry sleeps the backoff and re-checks cancellation. Returns false
// when the worker should stop; the row is marked Skipped when cancellation was
// observed, since it never reached a delivery outcome.
func (o *Orchestrator) waitForRetry(ctx context.Context, campaignID uuid.UUID, recipientID string, wait time.Duration) (bool, error) {
	select {
	case <-ctx.Done():
		return false, nil
	case <-time.After(wait):
	}

	canceled, err := o.campaignRepo.IsCancelRequested(ctx, campaignID)
	if err != nil {
		o.logger.ErrorContext(ctx, "Cancellation check failed during retry wait", "campaign_id", campaignID, "error", err)
		return false, fmt.Errorf("check cancellation for %s: %w", recipientID, err)
	}
	if canceled {
		return false, o.terminal(ctx, campaignID, recipientID, domain.DeliveryStatusSkipped, "campaign canceled before retry")
	}
	return true, nil
}

func (o *Orchestrator) terminal(ctx context.Context, campaignID uuid.UUID, recipientID string, status domain.DeliveryStatus, lastError string) error {
	if err := o.progressRepo.SetStatus(ctx, campaignID, recipientID, status, lastError); err != nil {
		o.logger.ErrorContext(ctx, "Failed to write terminal status", "campaign_id", campaignID, "recipient_id", recipientID, "status", status, "error", err)
		return fmt.Errorf("write terminal status for %s: %w", recipientID, err)
	}
	messagesDeliveredCounter.WithLabelValues(string(status)).Inc()
	return nil
}

// backoff is base × attemptCount, capped.
func (o *Orchestrator) backoff(attempt int) time.Duration {
	wait := o.cfg.BackoffBase * time.Duration(attempt)
	if wait > o.cfg.BackoffCap {
		wait = o.cfg.BackoffCap
	}
	return wait
}

type sendOutcome int

const (
	outcomeSent sendOutcome = iota
	outcomeThrottled
	outcomePermanent
	outcomeTransient
)

func classifyOutcome(err error) sendOutcome {
	if err == nil {
		return outcomeSent
	}
	var throttled *transport.ThrottledError
	if errors.As(err, &throttled) {
		return outcomeThrottled
	}
	var permanent *transport.PermanentError
	if errors.As(err, &permanent) {
		return outcomePermanent
	}
	return outcomeTransient
}

// buildCardPayload assembles the send payload handed to the transport. Card
// rendering belongs to the transport collaborator; this is the reference plus
// the fields it needs to render.
func buildCardPayload(campaign *domain.NotificationCampaign) (json.RawMessage, error) {
	payload := map[string]any{
		"card_ref":     campaign.CardRef,
		"title":        campaign.Title,
		"summary":      campaign.Summary,
		"author":       campaign.Author,
		"button_title": campaign.ButtonTitle,
		"button_link":  campaign.ButtonLink,
		"image_link":   campaign.ImageLink,
		"ack_required": campaign.AckRequired,
		"on_behalf_of": campaign.OnBehalfOf,
	}
	if campaign.Poll != nil {
		payload["poll"] = campaign.Poll
	}
	if campaign.InlineTranslation {
		payload["inline_translation"] = true
	}
	return json.Marshal(payload)
}
