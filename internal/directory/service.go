package directory

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/archon-hq/archon/internal/audit"
	"github.com/archon-hq/archon/internal/authz"
)

// ErrSelfTarget is returned when a request targets only the requesting
// subject. Self-management through the batch path is forbidden regardless
// of what the policy would allow.
var ErrSelfTarget = errors.New("directory: cannot target your own account")

// ErrUnknownRole is returned when a payload names a role the organization
// type does not declare.
var ErrUnknownRole = errors.New("directory: unknown organization role")

// Service wraps directory business rules around the authorization-aware
// repository.
type Service struct {
	repo   Repository
	audit  audit.Recorder
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, recorder audit.Recorder, logger *slog.Logger) *Service {
	return &Service{repo: repo, audit: recorder, logger: logger}
}

// ListManagedUsers returns the subject's own record separately from the
// set of users the subject may manage. The subject's row must appear in
// its own read set exactly once; its absence means policy and schema have
// drifted apart and is reported as an integrity violation, not an empty
// result.
func (s *Service) ListManagedUsers(ctx context.Context, subject authz.Subject) (User, []ManagedUser, error) {
	rows, err := s.repo.ListUsersForSubject(ctx, subject)
	if err != nil {
		return User{}, nil, err
	}

	var self *User
	others := make([]ManagedUser, 0, len(rows))
	for _, row := range rows {
		if row.Username == subject.ID {
			if self != nil {
				return User{}, nil, &authz.IntegrityError{Invariant: "subject appears twice in its own read set"}
			}
			u := row.User
			self = &u
			continue
		}
		others = append(others, row)
	}
	if self == nil {
		return User{}, nil, &authz.IntegrityError{Invariant: "subject missing from its own read set"}
	}
	return *self, others, nil
}

// CreateUser creates a user in org after a create_user check on the
// organization.
func (s *Service) CreateUser(ctx context.Context, subject authz.Subject, org string, input NewUser) (User, error) {
	if !OrgRole(input.Role).Valid() {
		return User{}, ErrUnknownRole
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	user, err := s.repo.CreateUser(ctx, subject, org, input, string(hash))
	if err != nil {
		return User{}, err
	}
	s.record(ctx, subject, ActionCreateUser, authz.Organization(org))
	return user, nil
}

// UpdateRoles assigns new roles to the targets as one all-or-nothing
// batch. The requesting subject is silently dropped from the target set;
// a batch that only targeted the subject is rejected outright.
func (s *Service) UpdateRoles(ctx context.Context, subject authz.Subject, changes []RoleChange) error {
	filtered := make([]RoleChange, 0, len(changes))
	for _, change := range changes {
		if change.Username == subject.ID {
			continue
		}
		if !OrgRole(change.Role).Valid() {
			return ErrUnknownRole
		}
		filtered = append(filtered, change)
	}
	if len(filtered) == 0 && len(changes) > 0 {
		return ErrSelfTarget
	}

	if err := s.repo.UpdateRoles(ctx, subject, filtered); err != nil {
		return err
	}
	for _, change := range filtered {
		s.record(ctx, subject, ActionEditRole, authz.UserResource(change.Username))
	}
	return nil
}

// DeleteUsers removes the targets as one all-or-nothing batch, with the
// same self-exclusion rule as UpdateRoles.
func (s *Service) DeleteUsers(ctx context.Context, subject authz.Subject, usernames []string) error {
	filtered := make([]string, 0, len(usernames))
	for _, username := range usernames {
		if username == subject.ID {
			continue
		}
		filtered = append(filtered, username)
	}
	if len(filtered) == 0 && len(usernames) > 0 {
		return ErrSelfTarget
	}

	if err := s.repo.DeleteUsers(ctx, subject, filtered); err != nil {
		return err
	}
	for _, username := range filtered {
		s.record(ctx, subject, ActionDelete, authz.UserResource(username))
	}
	return nil
}

// GetOrganization fetches an organization the subject may read.
func (s *Service) GetOrganization(ctx context.Context, subject authz.Subject, name string) (Organization, error) {
	return s.repo.GetOrganization(ctx, subject, name)
}

func (s *Service) record(ctx context.Context, subject authz.Subject, action authz.Action, resource authz.Resource) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, audit.Event{
		Subject:  subject.String(),
		Action:   string(action),
		Resource: resource.String(),
	})
}
