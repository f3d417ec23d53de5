package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/commshub/communicator/internal/campaign_service/domain"
	"github.com/commshub/communicator/internal/prep_service/directory"
)

// ResolverConfig holds the resolver tunables.
type ResolverConfig struct {
	// RetryBudget bounds retries against a flapping directory before the
	// campaign fails fast.
	RetryBudget int
	// CallTimeout is applied to every directory call.
	CallTimeout time.Duration
}

// Resolver expands a campaign's audience spec into a deduplicated set of
// recipient identities.
type Resolver struct {
	dir    directory.Directory
	cache  directory.IdentityCache
	logger *slog.Logger
	cfg    ResolverConfig
}

// NewResolver creates a Resolver. The budget always admits at least one
// attempt so withRetry never exits without calling the directory.
func NewResolver(dir directory.Directory, cache directory.IdentityCache, logger *slog.Logger, cfg ResolverConfig) *Resolver {
	if cfg.RetryBudget < 1 {
		cfg.RetryBudget = 1
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	return &Resolver{
		dir:    dir,
		cache:  cache,
		logger: logger.With("component", "resolver"),
		cfg:    cfg,
	}
}

// Resolve returns the recipient set for the campaign's audience. Duplicate
// ids collapse to one entry; the last-seen display name wins. Identities are
// tagged against the directory cache so downstream stages know which users
// are new (new guests get skipped at batch time).
//
// directory.ErrAccessDenied is passed through unwrapped in meaning: callers
// must be able to distinguish it from a generic resolution failure.
func (r *Resolver) Resolve(ctx context.Context, campaign *domain.NotificationCampaign) ([]domain.RecipientIdentity, error) {
	var (
		idents []domain.RecipientIdentity
		err    error
	)

	switch campaign.Audience.Kind {
	case domain.AudienceTeams:
		idents, err = r.resolveTeams(ctx, campaign.Audience.TeamIDs)
	case domain.AudienceRosters:
		idents, err = r.resolveRosters(ctx, campaign.Audience.TeamIDs)
	case domain.AudienceGroups:
		idents, err = r.resolveGroups(ctx, campaign.Audience.GroupIDs)
	case domain.AudienceAllUsers:
		idents, err = r.resolveAllUsers(ctx)
	case domain.AudienceCustomUserList:
		idents, err = r.resolveCustomUserList(ctx, campaign.Audience.UserList)
	default:
		return nil, fmt.Errorf("unsupported audience kind: %q", campaign.Audience.Kind)
	}
	if err != nil {
		return nil, err
	}

	if err := r.tagAgainstCache(ctx, idents); err != nil {
		return nil, err
	}
	return idents, nil
}

func (r *Resolver) resolveTeams(ctx context.Context, teamIDs []string) ([]domain.RecipientIdentity, error) {
	set := newIdentitySet()
	for _, teamID := range teamIDs {
		var info *domain.RecipientIdentity
		err := r.withRetry(ctx, func(callCtx context.Context) error {
			var callErr error
			info, callErr = r.dir.GetTeamInfo(callCtx, teamID)
			return callErr
		})
		if err != nil {
			return nil, fmt.Errorf("resolve team %s: %w", teamID, err)
		}
		info.Kind = domain.RecipientKindTeamChannel
		set.add(*info)
	}
	return set.slice(), nil
}

func (r *Resolver) resolveRosters(ctx context.Context, teamIDs []string) ([]domain.RecipientIdentity, error) {
	set := newIdentitySet()
	for _, teamID := range teamIDs {
		var roster []domain.RecipientIdentity
		err := r.withRetry(ctx, func(callCtx context.Context) error {
			var callErr error
			roster, callErr = r.dir.GetTeamRoster(callCtx, teamID)
			return callErr
		})
		if err != nil {
			return nil, fmt.Errorf("resolve roster %s: %w", teamID, err)
		}
		for _, member := range roster {
			member.Kind = domain.RecipientKindUserPersonal
			set.add(member)
		}
	}
	return set.slice(), nil
}

func (r *Resolver) resolveGroups(ctx context.Context, groupIDs []string) ([]domain.RecipientIdentity, error) {
	set := newIdentitySet()
	for _, groupID := range groupIDs {
		var members []domain.RecipientIdentity
		err := r.withRetry(ctx, func(callCtx context.Context) error {
			var callErr error
			members, callErr = r.dir.GetGroupMembers(callCtx, groupID)
			return callErr
		})
		if err != nil {
			if errors.Is(err, directory.ErrAccessDenied) {
				// Distinct condition: the operator sees "insufficient
				// permission", not "system error".
				return nil, fmt.Errorf("group %s: %w", groupID, directory.ErrAccessDenied)
			}
			return nil, fmt.Errorf("resolve group %s: %w", groupID, err)
		}
		for _, member := range members {
			member.Kind = domain.RecipientKindUserPersonal
			set.add(member)
		}
	}
	return set.slice(), nil
}

func (r *Resolver) resolveAllUsers(ctx context.Context) ([]domain.RecipientIdentity, error) {
	var users []domain.RecipientIdentity
	err := r.withRetry(ctx, func(callCtx context.Context) error {
		var callErr error
		users, callErr = r.dir.GetAllTenantUsers(callCtx)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("resolve tenant roster: %w", err)
	}

	set := newIdentitySet()
	for _, user := range users {
		user.Kind = domain.RecipientKindUserPersonal
		set.add(user)
	}
	return set.slice(), nil
}

// resolveCustomUserList parses a comma/semicolon-delimited UPN list. Tokens
// are lowercased and deduplicated before lookup. A token that fails to
// resolve is logged and dropped; the resolution as a whole never fails solely
// because some users are unresolvable.
func (r *Resolver) resolveCustomUserList(ctx context.Context, userList string) ([]domain.RecipientIdentity, error) {
	tokens := splitUserList(userList)
	set := newIdentitySet()

	for _, token := range tokens {
		var ident *domain.RecipientIdentity
		err := r.withRetry(ctx, func(callCtx context.Context) error {
			var callErr error
			ident, callErr = r.dir.ResolveUserByPrincipalName(callCtx, token)
			return callErr
		})
		if err != nil {
			r.logger.WarnContext(ctx, "Dropping unresolvable user token", "upn", token, "error", err)
			continue
		}
		ident.Kind = domain.RecipientKindUserPersonal
		ident.UPN = token
		set.add(*ident)
	}
	return set.slice(), nil
}

// splitUserList splits on ',' and ';', trims whitespace, lowercases, and
// deduplicates while preserving first-seen order.
func splitUserList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';'
	})

	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		token := strings.ToLower(strings.TrimSpace(f))
		if token == "" || seen[token] {
			continue
		}
		seen[token] = true
		out = append(out, token)
	}
	return out
}

// tagAgainstCache marks identities unseen by the directory cache as new and
// carries forward any cached conversation id for known ones.
func (r *Resolver) tagAgainstCache(ctx context.Context, idents []domain.RecipientIdentity) error {
	for i := range idents {
		if idents[i].Kind != domain.RecipientKindUserPersonal {
			continue
		}
		cached, err := r.cache.Get(ctx, idents[i].AadID)
		if err != nil {
			return fmt.Errorf("identity cache lookup: %w", err)
		}
		if cached == nil {
			idents[i].IsNew = true
			continue
		}
		idents[i].IsNew = false
		if idents[i].ConversationID == "" {
			idents[i].ConversationID = cached.ConversationID
		}
	}
	return nil
}

// withRetry retries directory calls on ErrUnavailable up to the budget, with
// a linear delay between attempts. Other errors return immediately.
func (r *Resolver) withRetry(ctx context.Context, call func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.RetryBudget; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
		err := call(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if !errors.Is(err, directory.ErrUnavailable) && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		lastErr = err
		r.logger.WarnContext(ctx, "Directory call failed, retrying", "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
		}
	}
	return fmt.Errorf("directory retry budget exhausted: %w", lastErr)
}

// identitySet is an order-preserving set keyed by AAD id. Re-adding an id
// overwrites the entry, so the last-seen display name wins.
type identitySet struct {
	index map[string]int
	items []domain.RecipientIdentity
}

func newIdentitySet() *identitySet {
	return &identitySet{index: make(map[string]int)}
}

func (s *identitySet) add(ident domain.RecipientIdentity) {
	if pos, ok := s.index[ident.AadID]; ok {
		s.items[pos] = ident
		return
	}
	s.index[ident.AadID] = len(s.items)
	s.items = append(s.items, ident)
}

func (s *identitySet) slice() []domain.RecipientIdentity {
	return s.items
}
