package domain

import (
	"time"

	"github.com/google/uuid"
)

// RecipientKind discriminates the conversation target type.
type RecipientKind string

const (
	RecipientKindTeamChannel  RecipientKind = "team_channel"
	RecipientKindUserPersonal RecipientKind = "user_personal"
)

// UserType distinguishes tenant members from guests.
type UserType string

const (
	UserTypeMember UserType = "member"
	UserTypeGuest  UserType = "guest"
)

// DeliveryStatus is the per-recipient send state.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusSending   DeliveryStatus = "sending"
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusThrottled DeliveryStatus = "throttled" // awaiting backoff retry
	DeliveryStatusUnknown   DeliveryStatus = "unknown"   // retry budget spent, outcome indeterminate
	DeliveryStatusSkipped   DeliveryStatus = "skipped"
)

// IsTerminal reports whether the status is final for the recipient.
func (s DeliveryStatus) IsTerminal() bool {
	switch s {
	case DeliveryStatusSent, DeliveryStatusFailed, DeliveryStatusUnknown, DeliveryStatusSkipped:
		return true
	}
	return false
}

// RecipientIdentity is the resolver's output: a durable directory identity
// for one conversation target.
type RecipientIdentity struct {
	AadID          string        `json:"aad_id"`
	DisplayName    string        `json:"display_name"`
	UPN            string        `json:"upn,omitempty"`
	Kind           RecipientKind `json:"kind"`
	UserType       UserType      `json:"user_type"`
	ConversationID string        `json:"conversation_id,omitempty"`
	// IsNew marks identities with no prior directory-cache record; new users
	// need the app installed before first send, and new guests are skipped.
	IsNew bool `json:"is_new"`
}

// RecipientProgress is one durable progress row per (campaign, recipient).
// Created Pending by the batcher before any send attempt; mutated only by the
// worker that holds the claim on it.
type RecipientProgress struct {
	CampaignID     uuid.UUID      `json:"campaign_id"`
	RecipientID    string         `json:"recipient_id"` // AAD id (or team id for channels)
	Kind           RecipientKind  `json:"kind"`
	DisplayName    string         `json:"display_name,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"` // resolved lazily on first send
	Status         DeliveryStatus `json:"status"`
	AttemptCount   int            `json:"attempt_count"`
	LastError      string         `json:"last_error,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// NewPendingProgress builds the initial progress row for an identity. New
// guests are written Skipped up front: they require an installation flow this
// system does not perform.
func NewPendingProgress(campaignID uuid.UUID, ident RecipientIdentity) *RecipientProgress {
	status := DeliveryStatusPending
	if ident.IsNew && ident.UserType == UserTypeGuest {
		status = DeliveryStatusSkipped
	}
	return &RecipientProgress{
		CampaignID:     campaignID,
		RecipientID:    ident.AadID,
		Kind:           ident.Kind,
		DisplayName:    ident.DisplayName,
		ConversationID: ident.ConversationID,
		Status:         status,
		UpdatedAt:      time.Now().UTC(),
	}
}
