package http

import "time"

// AudienceDTO selects who a campaign is delivered to. Exactly the fields
// matching the kind are required; the rest are ignored.
type AudienceDTO struct {
	Kind     string   `json:"kind" validate:"required,oneof=teams rosters groups all_users custom_user_list"`
	TeamIDs  []string `json:"team_ids,omitempty" validate:"omitempty,dive,min=1"`
	GroupIDs []string `json:"group_ids,omitempty" validate:"omitempty,dive,min=1"`
	UserList string   `json:"user_list,omitempty" validate:"max=100000"`
}

// PollDTO carries an optional inline poll attached to the card.
type PollDTO struct {
	Options        []string `json:"options" validate:"required,min=2,max=10,dive,min=1,max=200"`
	QuizMode       bool     `json:"quiz_mode,omitempty"`
	QuizAnswers    []string `json:"quiz_answers,omitempty" validate:"omitempty,dive,min=1,max=200"`
	MultipleChoice bool     `json:"multiple_choice,omitempty"`
}

// CreateCampaignRequestDTO is used for creating a new draft campaign.
type CreateCampaignRequestDTO struct {
	Title             string      `json:"title" validate:"required,min=1,max=400"`
	Summary           string      `json:"summary,omitempty" validate:"max=4000"`
	Author            string      `json:"author,omitempty" validate:"max=255"`
	ButtonTitle       string      `json:"button_title,omitempty" validate:"max=255,required_with=ButtonLink"`
	ButtonLink        string      `json:"button_link,omitempty" validate:"omitempty,url"`
	ImageLink         string      `json:"image_link,omitempty" validate:"omitempty,url"`
	Audience          AudienceDTO `json:"audience" validate:"required"`
	ScheduledAt       *time.Time  `json:"scheduled_at,omitempty"`
	AckRequired       bool        `json:"ack_required,omitempty"`
	Poll              *PollDTO    `json:"poll,omitempty" validate:"omitempty"`
	InlineTranslation bool        `json:"inline_translation,omitempty"`
	NotifyUser        bool        `json:"notify_user,omitempty"`
	OnBehalfOf        bool        `json:"on_behalf_of,omitempty"`
	CreatedBy         string      `json:"created_by" validate:"required,max=255"`
}

// UpdateCampaignRequestDTO replaces the editable fields of a draft.
type UpdateCampaignRequestDTO struct {
	Title             string      `json:"title" validate:"required,min=1,max=400"`
	Summary           string      `json:"summary,omitempty" validate:"max=4000"`
	Author            string      `json:"author,omitempty" validate:"max=255"`
	ButtonTitle       string      `json:"button_title,omitempty" validate:"max=255,required_with=ButtonLink"`
	ButtonLink        string      `json:"button_link,omitempty" validate:"omitempty,url"`
	ImageLink         string      `json:"image_link,omitempty" validate:"omitempty,url"`
	Audience          AudienceDTO `json:"audience" validate:"required"`
	ScheduledAt       *time.Time  `json:"scheduled_at,omitempty"`
	AckRequired       bool        `json:"ack_required,omitempty"`
	Poll              *PollDTO    `json:"poll,omitempty" validate:"omitempty"`
	InlineTranslation bool        `json:"inline_translation,omitempty"`
	NotifyUser        bool        `json:"notify_user,omitempty"`
	OnBehalfOf        bool        `json:"on_behalf_of,omitempty"`
}

// CountersDTO reports aggregated per-recipient delivery outcomes.
type CountersDTO struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Throttled int `json:"throttled"`
	Unknown   int `json:"unknown"`
	Skipped   int `json:"skipped"`
}

// CampaignResponseDTO represents a campaign in HTTP responses.
type CampaignResponseDTO struct {
	ID                string      `json:"id"`
	Title             string      `json:"title"`
	Summary           string      `json:"summary,omitempty"`
	Author            string      `json:"author,omitempty"`
	ButtonTitle       string      `json:"button_title,omitempty"`
	ButtonLink        string      `json:"button_link,omitempty"`
	ImageLink         string      `json:"image_link,omitempty"`
	Audience          AudienceDTO `json:"audience"`
	ScheduledAt       *time.Time  `json:"scheduled_at,omitempty"`
	AckRequired       bool        `json:"ack_required,omitempty"`
	Poll              *PollDTO    `json:"poll,omitempty"`
	InlineTranslation bool        `json:"inline_translation,omitempty"`
	NotifyUser        bool        `json:"notify_user,omitempty"`
	OnBehalfOf        bool        `json:"on_behalf_of,omitempty"`
	Status            string      `json:"status"`
	Counters          CountersDTO `json:"counters"`
	FailureReason     string      `json:"failure_reason,omitempty"`
	CreatedBy         string      `json:"created_by"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
	SentAt            *time.Time  `json:"sent_at,omitempty"`
}

// CampaignSummaryResponseDTO is the aggregated delivery report.
type CampaignSummaryResponseDTO struct {
	CampaignID    string      `json:"campaign_id"`
	Status        string      `json:"status"`
	Counters      CountersDTO `json:"counters"`
	FailureReason string      `json:"failure_reason,omitempty"`
	SentAt        *time.Time  `json:"sent_at,omitempty"`
}

// ListCampaignsResponseDTO is the response for listing campaigns.
type ListCampaignsResponseDTO struct {
	Campaigns []CampaignResponseDTO `json:"campaigns"`
	Offset    int                   `json:"offset"`
	Limit     int                   `json:"limit"`
}
