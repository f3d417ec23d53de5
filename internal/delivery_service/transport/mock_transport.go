package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/commshub/communicator/internal/campaign_service/domain"
)

// MockTransport is a simulated MessageTransport for local runs. Every Nth
// send can throttle or fail permanently, controlled by the knobs below.
type MockTransport struct {
	logger *slog.Logger

	SimulatedDelay time.Duration
	ThrottleEvery  int // every Nth send returns ThrottledError (0 = never)
	FailEvery      int // every Nth send returns PermanentError (0 = never)

	sends atomic.Int64
}

// NewMockTransport creates a MockTransport.
func NewMockTransport(logger *slog.Logger, throttleEvery, failEvery int, delay time.Duration) *MockTransport {
	return &MockTransport{
		logger:         logger.With("transport", "mock"),
		ThrottleEvery:  throttleEvery,
		FailEvery:      failEvery,
		SimulatedDelay: delay,
	}
}

func (t *MockTransport) Send(ctx context.Context, ref ConversationRef, card json.RawMessage) error {
	if t.SimulatedDelay > 0 {
		time.Sleep(t.SimulatedDelay)
	}

	n := t.sends.Add(1)
	if t.ThrottleEvery > 0 && n%int64(t.ThrottleEvery) == 0 {
		t.logger.DebugContext(ctx, "MockTransport: simulated throttle", "conversation_id", ref.ConversationID)
		return &ThrottledError{RetryAfter: 2 * time.Second}
	}
	if t.FailEvery > 0 && n%int64(t.FailEvery) == 0 {
		t.logger.DebugContext(ctx, "MockTransport: simulated permanent failure", "conversation_id", ref.ConversationID)
		return &PermanentError{Reason: "bot blocked by recipient (simulated)"}
	}

	t.logger.DebugContext(ctx, "MockTransport: message delivered (simulated)", "kind", ref.Kind, "conversation_id", ref.ConversationID, "card_bytes", len(card))
	return nil
}

func (t *MockTransport) CreateConversation(ctx context.Context, kind domain.RecipientKind, recipientID string) (string, error) {
	if t.SimulatedDelay > 0 {
		time.Sleep(t.SimulatedDelay)
	}
	return "mock-conv-" + uuid.NewString(), nil
}

func (t *MockTransport) InstallAppForUser(ctx context.Context, aadID string) (string, error) {
	if t.SimulatedDelay > 0 {
		time.Sleep(t.SimulatedDelay)
	}
	return "mock-conv-" + uuid.NewString(), nil
}
