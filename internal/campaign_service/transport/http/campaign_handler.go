package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/commshub/communicator/internal/campaign_service/app"
	"github.com/commshub/communicator/internal/campaign_service/domain"
)

// CampaignHandler exposes the campaign lifecycle over HTTP.
type CampaignHandler struct {
	service  *app.CampaignAppService
	logger   *slog.Logger
	validate *validator.Validate
}

func NewCampaignHandler(service *app.CampaignAppService, logger *slog.Logger, validate *validator.Validate) *CampaignHandler {
	return &CampaignHandler{
		service:  service,
		logger:   logger,
		validate: validate,
	}
}

// RegisterRoutes registers campaign routes to a Chi router.
func (h *CampaignHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.CreateCampaign)
	r.Get("/", h.ListCampaigns)
	r.Get("/{campaignID}", h.GetCampaign)
	r.Put("/{campaignID}", h.UpdateCampaign)
	r.Delete("/{campaignID}", h.DeleteCampaign)
	r.Get("/{campaignID}/summary", h.GetCampaignSummary)
	r.Post("/{campaignID}/send", h.SendCampaign)
	r.Post("/{campaignID}/cancel", h.CancelCampaign)
}

func (h *CampaignHandler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var reqDTO CreateCampaignRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		h.logger.WarnContext(ctx, "Failed to decode request body for CreateCampaign", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.validate.StructCtx(ctx, reqDTO); err != nil {
		h.logger.WarnContext(ctx, "Validation failed for CreateCampaign", "error", err)
		http.Error(w, fmt.Sprintf("Validation error: %s", err.Error()), http.StatusBadRequest)
		return
	}

	if reqDTO.ScheduledAt != nil && reqDTO.ScheduledAt.Before(time.Now()) {
		h.logger.WarnContext(ctx, "Validation failed for CreateCampaign: ScheduledAt must be in the future", "scheduled_at", reqDTO.ScheduledAt)
		http.Error(w, "scheduled_at must be in the future", http.StatusBadRequest)
		return
	}

	campaign := domain.NewDraftCampaign(reqDTO.Title, audienceFromDTO(reqDTO.Audience), reqDTO.CreatedBy)
	applyDraftFields(campaign, reqDTO.Summary, reqDTO.Author, reqDTO.ButtonTitle, reqDTO.ButtonLink, reqDTO.ImageLink, reqDTO.OnBehalfOf, reqDTO.AckRequired, reqDTO.InlineTranslation, reqDTO.NotifyUser, reqDTO.ScheduledAt, reqDTO.Poll)

	if err := h.service.CreateDraft(ctx, campaign); err != nil {
		h.writeServiceError(w, r, err, "CreateCampaign", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(campaignToDTO(campaign)); err != nil {
		h.logger.ErrorContext(ctx, "Failed to encode response for CreateCampaign", "error", err)
	}
}

func (h *CampaignHandler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}

	campaign, err := h.service.Get(ctx, id)
	if err != nil {
		h.writeServiceError(w, r, err, "GetCampaign", id.String())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(campaignToDTO(campaign)); err != nil {
		h.logger.ErrorContext(ctx, "Failed to encode response for GetCampaign", "error", err)
	}
}

func (h *CampaignHandler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	queryParams := r.URL.Query()

	limit, _ := strconv.Atoi(queryParams.Get("limit"))
	offset, _ := strconv.Atoi(queryParams.Get("offset"))
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var statuses []domain.CampaignStatus
	if raw := queryParams.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			statuses = append(statuses, domain.CampaignStatus(strings.TrimSpace(s)))
		}
	}

	campaigns, err := h.service.List(ctx, statuses, limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err, "ListCampaigns", "")
		return
	}

	resDTOs := make([]CampaignResponseDTO, len(campaigns))
	for i, c := range campaigns {
		resDTOs[i] = campaignToDTO(c)
	}

	response := ListCampaignsResponseDTO{
		Campaigns: resDTOs,
		Offset:    offset,
		Limit:     limit,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.ErrorContext(ctx, "Failed to encode response for ListCampaigns", "error", err)
	}
}

func (h *CampaignHandler) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}

	var reqDTO UpdateCampaignRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		h.logger.WarnContext(ctx, "Failed to decode request body for UpdateCampaign", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.validate.StructCtx(ctx, reqDTO); err != nil {
		h.logger.WarnContext(ctx, "Validation failed for UpdateCampaign", "error", err)
		http.Error(w, fmt.Sprintf("Validation error: %s", err.Error()), http.StatusBadRequest)
		return
	}

	campaign, err := h.service.Get(ctx, id)
	if err != nil {
		h.writeServiceError(w, r, err, "UpdateCampaign", id.String())
		return
	}

	campaign.Title = reqDTO.Title
	applyDraftFields(campaign, reqDTO.Summary, reqDTO.Author, reqDTO.ButtonTitle, reqDTO.ButtonLink, reqDTO.ImageLink, reqDTO.OnBehalfOf, reqDTO.AckRequired, reqDTO.InlineTranslation, reqDTO.NotifyUser, reqDTO.ScheduledAt, reqDTO.Poll)
	campaign.Audience = audienceFromDTO(reqDTO.Audience)

	if err := h.service.UpdateDraft(ctx, campaign); err != nil {
		h.writeServiceError(w, r, err, "UpdateCampaign", id.String())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(campaignToDTO(campaign)); err != nil {
		h.logger.ErrorContext(ctx, "Failed to encode response for UpdateCampaign", "error", err)
	}
}

func (h *CampaignHandler) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteDraft(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err, "DeleteCampaign", id.String())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CampaignHandler) GetCampaignSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}

	summary, err := h.service.Summary(ctx, id)
	if err != nil {
		h.writeServiceError(w, r, err, "GetCampaignSummary", id.String())
		return
	}

	resDTO := CampaignSummaryResponseDTO{
		CampaignID:    summary.CampaignID.String(),
		Status:        string(summary.Status),
		Counters:      countersToDTO(summary.Counters),
		FailureReason: summary.FailureReason,
		SentAt:        summary.SentAt,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resDTO); err != nil {
		h.logger.ErrorContext(ctx, "Failed to encode response for GetCampaignSummary", "error", err)
	}
}

func (h *CampaignHandler) SendCampaign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}

	if err := h.service.QueueSend(ctx, id); err != nil {
		h.writeServiceError(w, r, err, "SendCampaign", id.String())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]string{"campaign_id": id.String(), "status": string(domain.CampaignStatusQueued)}); err != nil {
		h.logger.ErrorContext(ctx, "Failed to encode response for SendCampaign", "error", err)
	}
}

func (h *CampaignHandler) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}

	if err := h.service.Cancel(ctx, id); err != nil {
		h.writeServiceError(w, r, err, "CancelCampaign", id.String())
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (h *CampaignHandler) campaignID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "campaignID")
	id, err := uuid.Parse(raw)
	if err != nil {
		h.logger.WarnContext(r.Context(), "Invalid campaign ID in request path", "campaign_id", raw)
		http.Error(w, "Invalid campaign ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (h *CampaignHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, operation, resourceID string) {
	logEntry := h.logger.With("operation", operation, "resource_id", resourceID, "error", err)
	switch {
	case errors.Is(err, domain.ErrCampaignNotFound):
		logEntry.WarnContext(r.Context(), "Campaign not found")
		http.Error(w, "Campaign not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidTransition):
		logEntry.WarnContext(r.Context(), "Campaign is not in a state allowing this operation")
		http.Error(w, "Campaign state does not allow this operation", http.StatusConflict)
	default:
		logEntry.ErrorContext(r.Context(), "Unhandled service error")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func applyDraftFields(c *domain.NotificationCampaign, summary, author, buttonTitle, buttonLink, imageLink string, onBehalfOf, ack, inlineTranslation, notifyUser bool, scheduledAt *time.Time, poll *PollDTO) {
	c.Summary = summary
	c.Author = author
	c.ButtonTitle = buttonTitle
	c.ButtonLink = buttonLink
	c.ImageLink = imageLink
	c.OnBehalfOf = onBehalfOf
	c.AckRequired = ack
	c.InlineTranslation = inlineTranslation
	c.NotifyUser = notifyUser
	c.ScheduledAt = scheduledAt
	if poll != nil {
		c.Poll = &domain.PollSpec{
			Options:        poll.Options,
			QuizMode:       poll.QuizMode,
			QuizAnswers:    poll.QuizAnswers,
			MultipleChoice: poll.MultipleChoice,
		}
	} else {
		c.Poll = nil
	}
}

func audienceFromDTO(dto AudienceDTO) domain.AudienceSpec {
	return domain.AudienceSpec{
		Kind:     domain.AudienceKind(dto.Kind),
		TeamIDs:  dto.TeamIDs,
		GroupIDs: dto.GroupIDs,
		UserList: dto.UserList,
	}
}

func audienceToDTO(a domain.AudienceSpec) AudienceDTO {
	return AudienceDTO{
		Kind:     string(a.Kind),
		TeamIDs:  a.TeamIDs,
		GroupIDs: a.GroupIDs,
		UserList: a.UserList,
	}
}

func countersToDTO(c domain.CampaignCounters) CountersDTO {
	return CountersDTO{
		Total:     c.Total,
		Succeeded: c.Succeeded,
		Failed:    c.Failed,
		Throttled: c.Throttled,
		Unknown:   c.Unknown,
		Skipped:   c.Skipped,
	}
}

func campaignToDTO(c *domain.NotificationCampaign) CampaignResponseDTO {
	dto := CampaignResponseDTO{
		ID:                c.ID.String(),
		Title:             c.Title,
		Summary:           c.Summary,
		Author:            c.Author,
		ButtonTitle:       c.ButtonTitle,
		ButtonLink:        c.ButtonLink,
		ImageLink:         c.ImageLink,
		Audience:          audienceToDTO(c.Audience),
		ScheduledAt:       c.ScheduledAt,
		AckRequired:       c.AckRequired,
		InlineTranslation: c.InlineTranslation,
		NotifyUser:        c.NotifyUser,
		OnBehalfOf:        c.OnBehalfOf,
		Status:            string(c.Status),
		Counters:          countersToDTO(c.Counters),
		FailureReason:     c.FailureReason,
		CreatedBy:         c.CreatedBy,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
		SentAt:            c.SentAt,
	}
	if c.Poll != nil {
		dto.Poll = &PollDTO{
			Options:        c.Poll.Options,
			QuizMode:       c.Poll.QuizMode,
			QuizAnswers:    c.Poll.QuizAnswers,
			MultipleChoice: c.Poll.MultipleChoice,
		}
	}
	return dto
}
