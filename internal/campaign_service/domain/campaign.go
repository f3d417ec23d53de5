package domain

import (
	"time"

	"github.com/google/uuid"
)

// CampaignStatus represents the lifecycle state of a notification campaign.
type CampaignStatus string

const (
	CampaignStatusDraft             CampaignStatus = "draft"
	CampaignStatusQueued            CampaignStatus = "queued"
	CampaignStatusSyncingRecipients CampaignStatus = "syncing_recipients"
	CampaignStatusInstallingApp     CampaignStatus = "installing_app"
	CampaignStatusSending           CampaignStatus = "sending"
	CampaignStatusSent              CampaignStatus = "sent"
	CampaignStatusFailed            CampaignStatus = "failed"
	CampaignStatusCanceled          CampaignStatus = "canceled"
)

// IsTerminal reports whether no further status transition occurs.
func (s CampaignStatus) IsTerminal() bool {
	switch s {
	case CampaignStatusSent, CampaignStatusFailed, CampaignStatusCanceled:
		return true
	}
	return false
}

// AudienceKind discriminates how the recipient set is resolved.
type AudienceKind string

const (
	AudienceTeams          AudienceKind = "teams"            // post to each team's channel
	AudienceRosters        AudienceKind = "rosters"          // DM every member of each team
	AudienceGroups         AudienceKind = "groups"           // DM every member of each M365 group
	AudienceAllUsers       AudienceKind = "all_users"        // DM the full tenant roster
	AudienceCustomUserList AudienceKind = "custom_user_list" // DM an explicit UPN list
)

// AudienceSpec describes the target audience of a campaign.
type AudienceSpec struct {
	Kind     AudienceKind `json:"kind"`
	TeamIDs  []string     `json:"team_ids,omitempty"`
	GroupIDs []string     `json:"group_ids,omitempty"`
	// UserList is the raw admin-supplied list for custom_user_list audiences,
	// delimited by comma or semicolon.
	UserList string `json:"user_list,omitempty"`
}

// PollSpec describes an optional poll attached to the card.
type PollSpec struct {
	Options        []string `json:"options"`
	QuizMode       bool     `json:"quiz_mode,omitempty"`
	QuizAnswers    []string `json:"quiz_answers,omitempty"`
	MultipleChoice bool     `json:"multiple_choice,omitempty"`
}

// CampaignCounters are the per-campaign delivery tallies. They are derived
// from RecipientProgress rows and are monotonically non-decreasing until the
// campaign reaches a terminal status (except Throttled, which is a snapshot
// of rows currently awaiting retry).
type CampaignCounters struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Throttled int `json:"throttled"`
	Unknown   int `json:"unknown"`
	Skipped   int `json:"skipped"`
}

// NotificationCampaign is one authored message plus its audience spec and
// lifecycle state.
type NotificationCampaign struct {
	ID      uuid.UUID `json:"id"`
	Title   string    `json:"title"`
	Summary string    `json:"summary,omitempty"`
	Author  string    `json:"author,omitempty"`
	// CardRef points at the stored adaptive card payload; card construction
	// is outside this module.
	CardRef     string `json:"card_ref,omitempty"`
	ButtonTitle string `json:"button_title,omitempty"`
	ButtonLink  string `json:"button_link,omitempty"`
	ImageLink   string `json:"image_link,omitempty"`

	Audience AudienceSpec `json:"audience"`

	ScheduledAt       *time.Time `json:"scheduled_at,omitempty"`
	AckRequired       bool       `json:"ack_required,omitempty"`
	Poll              *PollSpec  `json:"poll,omitempty"`
	InlineTranslation bool       `json:"inline_translation,omitempty"`
	NotifyUser        bool       `json:"notify_user,omitempty"`
	OnBehalfOf        bool       `json:"on_behalf_of,omitempty"`

	Status          CampaignStatus   `json:"status"`
	Counters        CampaignCounters `json:"counters"`
	CancelRequested bool             `json:"cancel_requested"`
	// FailureReason distinguishes operator-visible failure causes when the
	// campaign ends Failed (e.g. FailureAccessDenied vs FailureResolution).
	FailureReason string `json:"failure_reason,omitempty"`

	CreatedBy string     `json:"created_by"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
}

// NewDraftCampaign creates a campaign in the Draft state.
func NewDraftCampaign(title string, audience AudienceSpec, createdBy string) *NotificationCampaign {
	now := time.Now().UTC()
	return &NotificationCampaign{
		ID:        uuid.New(),
		Title:     title,
		Audience:  audience,
		Status:    CampaignStatusDraft,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Operator-visible failure reason codes.
const (
	FailureAccessDenied = "access_denied"    // group read permission missing
	FailureResolution   = "resolution_error" // directory unreachable, no recipients determined
	FailureInternal     = "internal_error"   // storage or broker failure mid-preparation
)

// CampaignSummary is the aggregated view produced for the UI/cleanup
// collaborators.
type CampaignSummary struct {
	CampaignID    uuid.UUID        `json:"campaign_id"`
	Status        CampaignStatus   `json:"status"`
	Counters      CampaignCounters `json:"counters"`
	FailureReason string           `json:"failure_reason,omitempty"`
	SentAt        *time.Time       `json:"sent_at,omitempty"`
}
