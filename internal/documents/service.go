package documents

import (
	"context"
	"errors"
	"log/slog"

	"github.com/archon-hq/archon/internal/audit"
	"github.com/archon-hq/archon/internal/authz"
)

// ErrUnknownDocRole is returned when a share payload names a role the
// document type does not declare.
var ErrUnknownDocRole = errors.New("documents: unknown document role")

// Service wraps document business rules around the authorization-aware
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

// ListDocuments returns the documents in org the subject may read, each
// annotated with the subject's edit and delete permissions on it.
func (s *Service) ListDocuments(ctx context.Context, subject authz.Subject, org string) ([]ListedDocument, error) {
	return s.repo.ListForSubject(ctx, subject, org)
}

// Create creates a document in org after a create_document check on the
// organization. The creator receives the owner role on the new document.
func (s *Service) Create(ctx context.Context, subject authz.Subject, org string, input NewDocument) (Document, error) {
	doc, err := s.repo.Create(ctx, subject, org, input)
	if err != nil {
		return Document{}, err
	}
	s.record(ctx, subject, ActionCreateDocument, Resource(org, input.ID))
	return doc, nil
}

// Share grants username a role on one document after a share check on it.
func (s *Service) Share(ctx context.Context, subject authz.Subject, org, id string, grant ShareRequest) error {
	if !DocRole(grant.Role).Valid() {
		return ErrUnknownDocRole
	}
	if err := s.repo.Share(ctx, subject, org, id, grant); err != nil {
		return err
	}
	s.record(ctx, subject, ActionShare, Resource(org, id))
	return nil
}

// ArchiveBatch archives the targets as one all-or-nothing batch.
func (s *Service) ArchiveBatch(ctx context.Context, subject authz.Subject, org string, ids []string) error {
	if err := s.repo.ArchiveBatch(ctx, subject, org, ids); err != nil {
		return err
	}
	for _, id := range ids {
		s.record(ctx, subject, ActionDelete, Resource(org, id))
	}
	return nil
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
