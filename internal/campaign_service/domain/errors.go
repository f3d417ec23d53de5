package domain

import "errors"

var (
	// ErrCampaignNotFound is returned when a campaign id resolves to nothing.
	ErrCampaignNotFound = errors.New("campaign not found")

	// ErrInvalidTransition is returned when a lifecycle operation is applied
	// to a campaign in the wrong state (e.g. sending a non-draft).
	ErrInvalidTransition = errors.New("invalid campaign status transition")

	// ErrProgressRowNotFound is returned when a recipient progress row does
	// not exist for the given campaign/recipient pair.
	ErrProgressRowNotFound = errors.New("recipient progress row not found")
)
