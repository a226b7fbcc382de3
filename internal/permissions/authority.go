// Package permissions answers "can user X do Y in HOA Z" from a single
// membership lookup.
package permissions

import (
	"context"
	"fmt"

	"hoa-portal/internal/auth"
)

// MembershipStore returns nil, nil when the user has no membership in the HOA.
type MembershipStore interface {
	GetMembership(ctx context.Context, userID, hoaID string) (*Membership, error)
}

type Authority struct {
	store MembershipStore
}

func NewAuthority(store MembershipStore) *Authority {
	return &Authority{store: store}
}

func (a *Authority) GetMembership(ctx context.Context, userID, hoaID string) (*Membership, error) {
	if userID == "" || hoaID == "" {
		return nil, nil
	}
	membership, err := a.store.GetMembership(ctx, userID, hoaID)
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return membership, nil
}

func (a *Authority) IsMember(ctx context.Context, userID, hoaID string) (bool, error) {
	m, err := a.GetMembership(ctx, userID, hoaID)
	if err != nil {
		return false, err
	}
	return m.Approved(), nil
}

func (a *Authority) IsAdmin(ctx context.Context, userID, hoaID string) (bool, error) {
	m, err := a.GetMembership(ctx, userID, hoaID)
	if err != nil {
		return false, err
	}
	return m.Approved() && m.Role.Elevated(), nil
}

func (a *Authority) IsPresident(ctx context.Context, userID, hoaID string) (bool, error) {
	m, err := a.GetMembership(ctx, userID, hoaID)
	if err != nil {
		return false, err
	}
	return m.Approved() && m.Role == RolePresident, nil
}

// IsPlatformAdmin reads the caller's global roles, not the membership table.
func IsPlatformAdmin(user *auth.User) bool {
	return user != nil && user.HasRole(auth.RolePlatformAdmin)
}

func (a *Authority) CanViewPrivateContent(ctx context.Context, userID, hoaID string) (bool, error) {
	return a.IsMember(ctx, userID, hoaID)
}

func (a *Authority) CanCreateContent(ctx context.Context, userID, hoaID string) (bool, error) {
	return a.IsMember(ctx, userID, hoaID)
}

func (a *Authority) CanModerate(ctx context.Context, userID, hoaID string) (bool, error) {
	return a.IsAdmin(ctx, userID, hoaID)
}

func (a *Authority) CanManageMembers(ctx context.Context, userID, hoaID string) (bool, error) {
	return a.IsAdmin(ctx, userID, hoaID)
}

func (a *Authority) CanEditSettings(ctx context.Context, userID, hoaID string) (bool, error) {
	return a.IsAdmin(ctx, userID, hoaID)
}

func (a *Authority) CanReplyToReview(ctx context.Context, userID, hoaID string) (bool, error) {
	return a.IsAdmin(ctx, userID, hoaID)
}

func (a *Authority) CanViewAnalytics(ctx context.Context, userID, hoaID string) (bool, error) {
	return a.IsAdmin(ctx, userID, hoaID)
}

// CanDelete allows authors to remove their own content without any lookup.
func (a *Authority) CanDelete(ctx context.Context, userID, hoaID, authorID string) (bool, error) {
	if userID != "" && userID == authorID {
		return true, nil
	}
	return a.IsAdmin(ctx, userID, hoaID)
}

func RequireAuth(user *auth.User) (*auth.User, error) {
	if user == nil || user.ID == "" {
		return nil, ErrAuthenticationRequired
	}
	return user, nil
}

func (a *Authority) RequireMember(ctx context.Context, userID, hoaID string) error {
	ok, err := a.IsMember(ctx, userID, hoaID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrMembershipRequired
	}
	return nil
}

func (a *Authority) RequireAdmin(ctx context.Context, userID, hoaID string) error {
	ok, err := a.IsAdmin(ctx, userID, hoaID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAdminRequired
	}
	return nil
}

func (a *Authority) RequireCanDelete(ctx context.Context, userID, hoaID, authorID string) error {
	ok, err := a.CanDelete(ctx, userID, hoaID, authorID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrContentOwnershipRequired
	}
	return nil
}

func RequirePlatformAdmin(user *auth.User) error {
	if !IsPlatformAdmin(user) {
		return ErrPlatformAdminRequired
	}
	return nil
}
