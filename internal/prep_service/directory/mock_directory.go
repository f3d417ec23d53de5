package directory

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/commshub/communicator/internal/campaign_service/domain"
)

// MockDirectory is a canned-data Directory implementation for local runs and
// wiring tests. Populate the maps, then point the prep service at it.
type MockDirectory struct {
	logger *slog.Logger

	Teams          map[string]domain.RecipientIdentity   // teamID -> channel identity
	Rosters        map[string][]domain.RecipientIdentity // teamID -> members
	Groups         map[string][]domain.RecipientIdentity // groupID -> members
	TenantUsers    []domain.RecipientIdentity
	UsersByUPN     map[string]domain.RecipientIdentity
	DeniedGroups   map[string]bool // groups that return ErrAccessDenied
	SimulatedDelay time.Duration
	Unavailable    bool // all calls fail with ErrUnavailable
}

// NewMockDirectory creates an empty MockDirectory.
func NewMockDirectory(logger *slog.Logger) *MockDirectory {
	return &MockDirectory{
		logger:       logger.With("directory", "mock"),
		Teams:        make(map[string]domain.RecipientIdentity),
		Rosters:      make(map[string][]domain.RecipientIdentity),
		Groups:       make(map[string][]domain.RecipientIdentity),
		UsersByUPN:   make(map[string]domain.RecipientIdentity),
		DeniedGroups: make(map[string]bool),
	}
}

func (d *MockDirectory) delay() {
	if d.SimulatedDelay > 0 {
		time.Sleep(d.SimulatedDelay)
	}
}

func (d *MockDirectory) GetTeamInfo(ctx context.Context, teamID string) (*domain.RecipientIdentity, error) {
	d.delay()
	if d.Unavailable {
		return nil, ErrUnavailable
	}
	ident, ok := d.Teams[teamID]
	if !ok {
		return nil, ErrTeamNotFound
	}
	return &ident, nil
}

func (d *MockDirectory) GetTeamRoster(ctx context.Context, teamID string) ([]domain.RecipientIdentity, error) {
	d.delay()
	if d.Unavailable {
		return nil, ErrUnavailable
	}
	roster, ok := d.Rosters[teamID]
	if !ok {
		return nil, ErrTeamNotFound
	}
	return roster, nil
}

func (d *MockDirectory) GetGroupMembers(ctx context.Context, groupID string) ([]domain.RecipientIdentity, error) {
	d.delay()
	if d.Unavailable {
		return nil, ErrUnavailable
	}
	if d.DeniedGroups[groupID] {
		d.logger.WarnContext(ctx, "MockDirectory: simulated access denied", "group_id", groupID)
		return nil, ErrAccessDenied
	}
	return d.Groups[groupID], nil
}

func (d *MockDirectory) GetAllTenantUsers(ctx context.Context) ([]domain.RecipientIdentity, error) {
	d.delay()
	if d.Unavailable {
		return nil, ErrUnavailable
	}
	return d.TenantUsers, nil
}

func (d *MockDirectory) ResolveUserByPrincipalName(ctx context.Context, upn string) (*domain.RecipientIdentity, error) {
	d.delay()
	if d.Unavailable {
		return nil, ErrUnavailable
	}
	ident, ok := d.UsersByUPN[strings.ToLower(upn)]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &ident, nil
}
