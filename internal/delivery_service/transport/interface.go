package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/commshub/communicator/internal/campaign_service/domain"
)

// ThrottledError is a transport rate-limit response. Expected and
// recoverable: the orchestrator backs off and retries. RetryAfter may be zero
// when the transport gave no hint.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("transport throttled (retry after %s)", e.RetryAfter)
}

// PermanentError is a non-retryable send failure: the recipient blocked the
// bot, the conversation is gone, and so on. Terminal Failed for that
// recipient only.
type PermanentError struct {
	Reason string
}

func (e *PermanentError) Error() string {
	return "permanent transport failure: " + e.Reason
}

// Any other error from Send is treated as transient and retried up to the
// budget; an exhausted budget yields Unknown, since the true delivery outcome
// could not be determined.

// ConversationRef addresses one conversation target for a send.
type ConversationRef struct {
	Kind           domain.RecipientKind
	ConversationID string
}

// MessageTransport is the outbound channel collaborator (the bot platform's
// per-message send API). It can succeed, throttle, or fail.
type MessageTransport interface {
	// Send posts the card payload to the conversation.
	Send(ctx context.Context, ref ConversationRef, card json.RawMessage) error

	// CreateConversation resolves a conversation id for a recipient that has
	// none cached yet. Called lazily on first send.
	CreateConversation(ctx context.Context, kind domain.RecipientKind, recipientID string) (string, error)

	// InstallAppForUser installs the bot app for a never-seen user and
	// returns the personal conversation created by the install.
	InstallAppForUser(ctx context.Context, aadID string) (string, error)
}
