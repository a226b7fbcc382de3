package permissions

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hoa-portal/internal/auth"
)

type memStore struct {
	rows  map[[2]string]*Membership
	err   error
	calls int
}

func (s *memStore) GetMembership(ctx context.Context, userID, hoaID string) (*Membership, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.rows[[2]string{userID, hoaID}], nil
}

func authorityWith(m *Membership) (*Authority, *memStore) {
	store := &memStore{rows: map[[2]string]*Membership{}}
	if m != nil {
		store.rows[[2]string{m.UserID, m.HOAID}] = m
	}
	return NewAuthority(store), store
}

var (
	allRoles    = []Role{RoleMember, RoleAdmin, RolePresident}
	allStatuses = []Status{StatusPending, StatusApproved, StatusRejected}
)

func TestPredicates_AllRoleStatusCombinations(t *testing.T) {
	ctx := context.Background()
	for _, role := range allRoles {
		for _, status := range allStatuses {
			t.Run(string(role)+"/"+string(status), func(t *testing.T) {
				a, _ := authorityWith(&Membership{UserID: "u", HOAID: "h", Role: role, Status: status})

				approved := status == StatusApproved
				wantAdmin := approved && (role == RoleAdmin || role == RolePresident)
				wantPresident := approved && role == RolePresident

				member, err := a.IsMember(ctx, "u", "h")
				require.NoError(t, err)
				assert.Equal(t, approved, member)

				admin, err := a.IsAdmin(ctx, "u", "h")
				require.NoError(t, err)
				assert.Equal(t, wantAdmin, admin)

				president, err := a.IsPresident(ctx, "u", "h")
				require.NoError(t, err)
				assert.Equal(t, wantPresident, president)

				for name, check := range map[string]func(context.Context, string, string) (bool, error){
					"view private": a.CanViewPrivateContent,
					"create":       a.CanCreateContent,
				} {
					got, err := check(ctx, "u", "h")
					require.NoError(t, err)
					assert.Equal(t, approved, got, name)
				}

				for name, check := range map[string]func(context.Context, string, string) (bool, error){
					"moderate":  a.CanModerate,
					"members":   a.CanManageMembers,
					"settings":  a.CanEditSettings,
					"reply":     a.CanReplyToReview,
					"analytics": a.CanViewAnalytics,
				} {
					got, err := check(ctx, "u", "h")
					require.NoError(t, err)
					assert.Equal(t, wantAdmin, got, name)
				}

				// Self-authorship always permits delete.
				canDelete, err := a.CanDelete(ctx, "u", "h", "u")
				require.NoError(t, err)
				assert.True(t, canDelete)

				canDeleteOthers, err := a.CanDelete(ctx, "u", "h", "someone-else")
				require.NoError(t, err)
				assert.Equal(t, wantAdmin, canDeleteOthers)
			})
		}
	}
}

func TestNoMembershipIsNotAnError(t *testing.T) {
	a, _ := authorityWith(nil)
	ctx := context.Background()

	m, err := a.GetMembership(ctx, "u", "h")
	require.NoError(t, err)
	assert.Nil(t, m)

	member, err := a.IsMember(ctx, "u", "h")
	require.NoError(t, err)
	assert.False(t, member)

	assert.ErrorIs(t, a.RequireMember(ctx, "u", "h"), ErrMembershipRequired)
	assert.ErrorIs(t, a.RequireAdmin(ctx, "u", "h"), ErrAdminRequired)
}

func TestCanDelete_SelfSkipsLookup(t *testing.T) {
	a, store := authorityWith(nil)
	ok, err := a.CanDelete(context.Background(), "u", "h", "u")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, store.calls)
}

func TestCanDelete_AnonymousIsNotAuthor(t *testing.T) {
	a, _ := authorityWith(nil)
	ok, err := a.CanDelete(context.Background(), "", "h", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRequireVariants(t *testing.T) {
	ctx := context.Background()
	a, _ := authorityWith(&Membership{UserID: "u", HOAID: "h", Role: RoleMember, Status: StatusApproved})

	assert.NoError(t, a.RequireMember(ctx, "u", "h"))
	err := a.RequireAdmin(ctx, "u", "h")
	var authzErr *AuthorizationError
	require.True(t, errors.As(err, &authzErr))
	assert.Equal(t, "HOA admin privileges required", authzErr.Message)

	assert.NoError(t, a.RequireCanDelete(ctx, "u", "h", "u"))
	assert.ErrorIs(t, a.RequireCanDelete(ctx, "u", "h", "x"), ErrContentOwnershipRequired)
}

func TestRequireAuth(t *testing.T) {
	_, err := RequireAuth(nil)
	assert.ErrorIs(t, err, ErrAuthenticationRequired)

	user := &auth.User{ID: "u"}
	got, err := RequireAuth(user)
	require.NoError(t, err)
	assert.Same(t, user, got)
}

func TestPlatformAdmin(t *testing.T) {
	admin := &auth.User{ID: "a", Roles: []string{auth.RolePlatformAdmin}}
	plain := &auth.User{ID: "b", Roles: []string{}}

	assert.True(t, IsPlatformAdmin(admin))
	assert.False(t, IsPlatformAdmin(plain))
	assert.False(t, IsPlatformAdmin(nil))
	assert.NoError(t, RequirePlatformAdmin(admin))
	assert.ErrorIs(t, RequirePlatformAdmin(plain), ErrPlatformAdminRequired)
}

func TestStoreErrorsPropagate(t *testing.T) {
	a := NewAuthority(&memStore{err: errors.New("db down")})
	_, err := a.IsAdmin(context.Background(), "u", "h")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")

	err = a.RequireMember(context.Background(), "u", "h")
	var authzErr *AuthorizationError
	assert.False(t, errors.As(err, &authzErr))
}

func TestWriteDenied(t *testing.T) {
	rec := httptest.NewRecorder()
	assert.True(t, WriteDenied(rec, ErrAuthenticationRequired))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	assert.True(t, WriteDenied(rec, ErrAdminRequired))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "admin privileges required")

	assert.False(t, WriteDenied(httptest.NewRecorder(), errors.New("other")))
}
