package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// SendJobPayload is the NATS message that triggers fan-out for one prepared
// campaign. Mirrors the payload published by the prep service.
type SendJobPayload struct {
	CampaignID string `json:"campaign_id"`
}

// DeliveryAppService consumes send jobs: it runs the orchestrator over the
// campaign's progress rows and reconciles the campaign when the fan-out
// drains.
type DeliveryAppService struct {
	orchestrator *Orchestrator
	aggregator   *Aggregator
	logger       *slog.Logger
	jobTimeout   time.Duration
}

// NewDeliveryAppService creates a DeliveryAppService.
func NewDeliveryAppService(orchestrator *Orchestrator, aggregator *Aggregator, logger *slog.Logger) *DeliveryAppService {
	return &DeliveryAppService{
		orchestrator: orchestrator,
		aggregator:   aggregator,
		logger:       logger.With("component", "delivery"),
		// Large fan-outs take a while; the overall job bound exists so a hung
		// transport cannot pin a consumer forever.
		jobTimeout: 4 * time.Hour,
	}
}

// HandleMessage is the NATS handler for SubjectCampaignSend.
func (s *DeliveryAppService) HandleMessage(subject string, data []byte) {
	var job SendJobPayload
	if err := json.Unmarshal(data, &job); err != nil {
		s.logger.Error("Failed to unmarshal send job payload", "error", err, "data", string(data))
		return
	}
	campaignID, err := uuid.Parse(job.CampaignID)
	if err != nil {
		s.logger.Error("Send job carries invalid campaign id", "campaign_id", job.CampaignID, "error", err)
		return
	}

	jobCtx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	if err := s.ProcessSendJob(jobCtx, campaignID); err != nil {
		s.logger.Error("Failed to process send job", "error", err, "campaign_id", campaignID)
	}
}

// ProcessSendJob drives the fan-out and finalizes the campaign.
func (s *DeliveryAppService) ProcessSendJob(ctx context.Context, campaignID uuid.UUID) error {
	s.logger.InfoContext(ctx, "Starting campaign fan-out", "campaign_id", campaignID)

	if err := s.orchestrator.Drive(ctx, campaignID); err != nil {
		// Counters stay truthful even on a failed drive; reconcile before
		// surfacing the error.
		if _, recErr := s.aggregator.Reconcile(ctx, campaignID); recErr != nil {
			s.logger.ErrorContext(ctx, "Reconcile after failed drive also failed", "campaign_id", campaignID, "error", recErr)
		}
		return fmt.Errorf("drive campaign %s: %w", campaignID, err)
	}

	summary, err := s.aggregator.Reconcile(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("reconcile campaign %s: %w", campaignID, err)
	}

	s.logger.InfoContext(ctx, "Campaign fan-out finished",
		"campaign_id", campaignID,
		"status", summary.Status,
		"total", summary.Counters.Total,
		"succeeded", summary.Counters.Succeeded,
		"failed", summary.Counters.Failed,
		"unknown", summary.Counters.Unknown,
		"skipped", summary.Counters.Skipped,
	)
	return nil
}
