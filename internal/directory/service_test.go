package directory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/archon-hq/archon/internal/audit"
	"github.com/archon-hq/archon/internal/authz"
	"github.com/archon-hq/archon/internal/shared"
)

// memoryRepo mirrors the batch semantics of the real repository: a rule
// function stands in for the compiled predicate, and a batch applies
// either to every target or to none.
type memoryRepo struct {
	orgs  map[string]Organization
	users map[string]User
	allow func(subject authz.Subject, action authz.Action, resource authz.Resource) bool
}

func (r *memoryRepo) GetOrganization(ctx context.Context, subject authz.Subject, name string) (Organization, error) {
	if !r.allow(subject, ActionRead, authz.Organization(name)) {
		return Organization{}, &authz.AuthorizationError{Subject: subject, Action: ActionRead, ResourceType: authz.TypeOrganization}
	}
	org, ok := r.orgs[name]
	if !ok {
		return Organization{}, shared.ErrNotFound
	}
	return org, nil
}

func (r *memoryRepo) ListUsersForSubject(ctx context.Context, subject authz.Subject) ([]ManagedUser, error) {
	var out []ManagedUser
	for _, u := range r.users {
		if !r.allow(subject, ActionRead, authz.UserResource(u.Username)) {
			continue
		}
		out = append(out, ManagedUser{
			User: u,
			Permissions: authz.PermissionVector{
				ActionEditRole: r.allow(subject, ActionEditRole, authz.UserResource(u.Username)),
				ActionDelete:   r.allow(subject, ActionDelete, authz.UserResource(u.Username)),
			},
		})
	}
	return out, nil
}

func (r *memoryRepo) CreateUser(ctx context.Context, subject authz.Subject, org string, input NewUser, passwordHash string) (User, error) {
	if !r.allow(subject, ActionCreateUser, authz.Organization(org)) {
		return User{}, &authz.AuthorizationError{Subject: subject, Action: ActionCreateUser, ResourceType: authz.TypeOrganization}
	}
	user := User{Username: input.Username, Org: org, Role: OrgRole(input.Role), CreatedAt: time.Now(), UpdatedAt: time.Now()}
	r.users[user.Username] = user
	return user, nil
}

func (r *memoryRepo) UpdateRoles(ctx context.Context, subject authz.Subject, changes []RoleChange) error {
	if len(changes) == 0 {
		return authz.ErrEmptyBatch
	}
	authorized := 0
	for _, change := range changes {
		if r.allow(subject, ActionEditRole, authz.UserResource(change.Username)) {
			authorized++
		}
	}
	if authorized != len(changes) {
		return &authz.AuthorizationError{Subject: subject, Action: ActionEditRole, ResourceType: authz.TypeUser}
	}
	for _, change := range changes {
		u := r.users[change.Username]
		u.Role = OrgRole(change.Role)
		r.users[change.Username] = u
	}
	return nil
}

func (r *memoryRepo) DeleteUsers(ctx context.Context, subject authz.Subject, usernames []string) error {
	if len(usernames) == 0 {
		return authz.ErrEmptyBatch
	}
	authorized := 0
	for _, username := range usernames {
		if r.allow(subject, ActionDelete, authz.UserResource(username)) {
			authorized++
		}
	}
	if authorized != len(usernames) {
		return &authz.AuthorizationError{Subject: subject, Action: ActionDelete, ResourceType: authz.TypeUser}
	}
	for _, username := range usernames {
		delete(r.users, username)
	}
	return nil
}

var _ Repository = (*memoryRepo)(nil)

// orgPolicy approximates the deployed policy: org admins manage users of
// their own organization, admins of the sentinel organization manage
// everyone, and every user reads users of their own organization plus
// themselves.
func newMemoryRepo() *memoryRepo {
	r := &memoryRepo{
		orgs: map[string]Organization{
			GlobalOrganization: {Name: GlobalOrganization},
			"acme":             {Name: "acme"},
			"umbrella":         {Name: "umbrella"},
		},
		users: map[string]User{
			"root":  {Username: "root", Org: GlobalOrganization, Role: RoleAdmin},
			"bob":   {Username: "bob", Org: "acme", Role: RoleAdmin},
			"alice": {Username: "alice", Org: "acme", Role: RoleMember},
			"carol": {Username: "carol", Org: "acme", Role: RoleMember},
			"eve":   {Username: "eve", Org: "umbrella", Role: RoleMember},
		},
	}
	r.allow = func(subject authz.Subject, action authz.Action, resource authz.Resource) bool {
		actor, ok := r.users[subject.ID]
		if !ok {
			return false
		}
		isAdminOver := func(org string) bool {
			return actor.Role == RoleAdmin && (actor.Org == org || actor.Org == GlobalOrganization)
		}
		switch resource.Type {
		case authz.TypeOrganization:
			if action == ActionRead {
				return actor.Org == resource.ID || actor.Org == GlobalOrganization
			}
			return isAdminOver(resource.ID)
		case authz.TypeUser:
			target, ok := r.users[resource.ID]
			if !ok {
				return false
			}
			if action == ActionRead {
				return subject.ID == resource.ID || actor.Org == target.Org || actor.Org == GlobalOrganization
			}
			return isAdminOver(target.Org)
		}
		return false
	}
	return r
}

func newTestService(repo Repository) *Service {
	return &Service{repo: repo, audit: audit.NopRecorder{}}
}

func TestListManagedUsersExtractsSelf(t *testing.T) {
	svc := newTestService(newMemoryRepo())

	self, others, err := svc.ListManagedUsers(context.Background(), authz.User("bob"))
	require.NoError(t, err)
	require.Equal(t, "bob", self.Username)

	names := make(map[string]ManagedUser, len(others))
	for _, u := range others {
		require.NotEqual(t, "bob", u.Username, "self must not appear in the manageable set")
		names[u.Username] = u
	}
	require.Contains(t, names, "alice")
	require.Contains(t, names, "carol")
	require.NotContains(t, names, "eve", "users of other organizations are outside bob's read set")
	require.True(t, names["alice"].Permissions.Allowed(ActionEditRole))
	require.True(t, names["alice"].Permissions.Allowed(ActionDelete))
}

func TestListManagedUsersMemberSeesPeersWithoutManagePermissions(t *testing.T) {
	svc := newTestService(newMemoryRepo())

	self, others, err := svc.ListManagedUsers(context.Background(), authz.User("alice"))
	require.NoError(t, err)
	require.Equal(t, "alice", self.Username)
	for _, u := range others {
		require.False(t, u.Permissions.Allowed(ActionEditRole))
		require.False(t, u.Permissions.Allowed(ActionDelete))
	}
}

func TestListManagedUsersMissingSelfIsIntegrityError(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	// A subject authenticated against a row that has since vanished from
	// its own read set signals policy/schema drift.
	_, _, err := svc.ListManagedUsers(context.Background(), authz.User("ghost"))
	require.True(t, authz.IsIntegrityError(err))
}

func TestCreateUserScenario(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	created, err := svc.CreateUser(ctx, authz.User("root"), "acme", NewUser{Username: "dave", Password: "s3cret-pass", Role: "member"})
	require.NoError(t, err)
	require.Equal(t, "dave", created.Username)
	require.Equal(t, RoleMember, created.Role)
	require.Contains(t, repo.users, "dave")

	// dave holds member, not admin: the same operation must now fail.
	_, err = svc.CreateUser(ctx, authz.User("dave"), "acme", NewUser{Username: "mallory", Password: "s3cret-pass", Role: "member"})
	require.True(t, authz.IsAuthorizationError(err))
	require.NotContains(t, repo.users, "mallory")
}

func TestCreateUserRejectsUnknownRole(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	_, err := svc.CreateUser(context.Background(), authz.User("root"), "acme", NewUser{Username: "dave", Password: "s3cret-pass", Role: "owner"})
	require.ErrorIs(t, err, ErrUnknownRole)
}

func TestUpdateRolesScenario(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	// bob (acme admin) promotes alice.
	err := svc.UpdateRoles(ctx, authz.User("bob"), []RoleChange{{Username: "alice", Role: "admin"}})
	require.NoError(t, err)
	require.Equal(t, RoleAdmin, repo.users["alice"].Role)

	// carol (member) cannot edit bob; bob's role is untouched.
	err = svc.UpdateRoles(ctx, authz.User("carol"), []RoleChange{{Username: "bob", Role: "member"}})
	require.True(t, authz.IsAuthorizationError(err))
	require.Equal(t, RoleAdmin, repo.users["bob"].Role)
}

func TestUpdateRolesPartialAuthorizationAppliesNothing(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	// bob administers acme but not umbrella: eve makes the batch fail,
	// and carol's role must stay unchanged too.
	err := svc.UpdateRoles(context.Background(), authz.User("bob"), []RoleChange{
		{Username: "carol", Role: "admin"},
		{Username: "eve", Role: "admin"},
	})
	require.True(t, authz.IsAuthorizationError(err))
	require.Equal(t, RoleMember, repo.users["carol"].Role)
	require.Equal(t, RoleMember, repo.users["eve"].Role)
}

func TestUpdateRolesExcludesSelf(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	// A batch targeting only the subject is rejected outright.
	err := svc.UpdateRoles(ctx, authz.User("bob"), []RoleChange{{Username: "bob", Role: "member"}})
	require.ErrorIs(t, err, ErrSelfTarget)
	require.Equal(t, RoleAdmin, repo.users["bob"].Role)

	// Mixed batches silently drop the self entry and apply the rest.
	err = svc.UpdateRoles(ctx, authz.User("bob"), []RoleChange{
		{Username: "bob", Role: "member"},
		{Username: "alice", Role: "admin"},
	})
	require.NoError(t, err)
	require.Equal(t, RoleAdmin, repo.users["bob"].Role)
	require.Equal(t, RoleAdmin, repo.users["alice"].Role)
}

func TestGetOrganizationRequiresRead(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	// Members read their own organization.
	org, err := svc.GetOrganization(ctx, authz.User("alice"), "acme")
	require.NoError(t, err)
	require.Equal(t, "acme", org.Name)

	// eve belongs to umbrella; acme is outside her read set.
	_, err = svc.GetOrganization(ctx, authz.User("eve"), "acme")
	require.True(t, authz.IsAuthorizationError(err))

	// An organization that does not exist is reported the same way, so the
	// endpoint never confirms which names exist.
	_, err = svc.GetOrganization(ctx, authz.User("eve"), "initech")
	require.True(t, authz.IsAuthorizationError(err))

	// Admins of the sentinel organization read everything.
	org, err = svc.GetOrganization(ctx, authz.User("root"), "umbrella")
	require.NoError(t, err)
	require.Equal(t, "umbrella", org.Name)
}

func TestDeleteUsersExcludesSelfAndIsAllOrNothing(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	err := svc.DeleteUsers(ctx, authz.User("bob"), []string{"bob"})
	require.ErrorIs(t, err, ErrSelfTarget)
	require.Contains(t, repo.users, "bob")

	err = svc.DeleteUsers(ctx, authz.User("bob"), []string{"carol", "eve"})
	require.True(t, authz.IsAuthorizationError(err))
	require.Contains(t, repo.users, "carol")

	err = svc.DeleteUsers(ctx, authz.User("bob"), []string{"carol"})
	require.NoError(t, err)
	require.NotContains(t, repo.users, "carol")
}
