package directory

import (
	"context"
	"errors"

	"github.com/commshub/communicator/internal/campaign_service/domain"
)

var (
	// ErrAccessDenied is returned when the tenant has not granted group-read
	// permission. Surfaced distinctly so the operator sees "insufficient
	// permission" rather than a generic failure.
	ErrAccessDenied = errors.New("directory access denied")

	// ErrUserNotFound is returned when a user principal name resolves to
	// nothing.
	ErrUserNotFound = errors.New("user not found in directory")

	// ErrTeamNotFound is returned when a team id resolves to nothing.
	ErrTeamNotFound = errors.New("team not found in directory")

	// ErrUnavailable is returned when the directory service cannot be
	// reached. Retryable at the resolver level.
	ErrUnavailable = errors.New("directory unavailable")
)

// Directory is the identity collaborator: it resolves teams, group
// membership, and user principal names to durable recipient identities. The
// production implementation talks to Microsoft Graph; this module only
// depends on the contract.
type Directory interface {
	// GetTeamInfo resolves a team id to its channel recipient identity.
	GetTeamInfo(ctx context.Context, teamID string) (*domain.RecipientIdentity, error)

	// GetTeamRoster lists the members of a team.
	GetTeamRoster(ctx context.Context, teamID string) ([]domain.RecipientIdentity, error)

	// GetGroupMembers lists direct members of an M365 group (one level, no
	// nested-group recursion). Fails with ErrAccessDenied when the tenant
	// has not consented to group reads.
	GetGroupMembers(ctx context.Context, groupID string) ([]domain.RecipientIdentity, error)

	// GetAllTenantUsers lists the full tenant roster.
	GetAllTenantUsers(ctx context.Context) ([]domain.RecipientIdentity, error)

	// ResolveUserByPrincipalName resolves a single UPN. Fails with
	// ErrUserNotFound for unknown users.
	ResolveUserByPrincipalName(ctx context.Context, upn string) (*domain.RecipientIdentity, error)
}
