package membership

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/softwareforge/forge/internal/events"
	"github.com/softwareforge/forge/internal/logging"
	"github.com/softwareforge/forge/internal/project"
	"github.com/softwareforge/forge/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ProjectLookup resolves project GUIDs. project.Manager satisfies it.
type ProjectLookup interface {
	Get(ctx context.Context, guid uuid.UUID) (*project.Project, error)
}

// Service manages invitation requests.
type Service struct {
	repo      *store.Repository[InvitationRequest]
	projects  ProjectLookup
	publisher events.Publisher
	validate  *validator.Validate
	logger    *zap.Logger
}

// NewService creates a Service over db. When projects is nil the project
// GUID of a new request is not checked against known projects.
func NewService(db *gorm.DB, projects ProjectLookup, publisher events.Publisher, logger *zap.Logger) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:      store.NewRepository[InvitationRequest](db),
		projects:  projects,
		publisher: publisher,
		validate:  NewValidator(),
		logger:    logger,
	}
}

// NewValidator returns a validator that reports fields by their JSON name.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Get returns the request with id.
func (s *Service) Get(ctx context.Context, id uint) (*InvitationRequest, error) {
	req, err := s.repo.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrInvitationNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation request: %w", err)
	}
	return req, nil
}

// ListByUser returns every request for username, oldest first.
func (s *Service) ListByUser(ctx context.Context, username string) ([]InvitationRequest, error) {
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInvitation)
	}
	reqs, err := s.repo.Find(ctx, "username = ?", username)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitation requests: %w", err)
	}
	if reqs == nil {
		reqs = []InvitationRequest{}
	}
	return reqs, nil
}

// Add validates and stores req, then announces it. The stored record,
// with its assigned ID, is written back into req.
func (s *Service) Add(ctx context.Context, req *InvitationRequest) error {
	req.ID = 0
	if err := s.check(req); err != nil {
		return err
	}

	if s.projects != nil {
		if _, err := s.projects.Get(ctx, req.ProjectGUID); err != nil {
			if errors.Is(err, project.ErrProjectNotFound) {
				return fmt.Errorf("%w: unknown project %s", ErrInvalidInvitation, req.ProjectGUID)
			}
			return err
		}
	}

	if err := s.repo.Create(ctx, req); err != nil {
		return fmt.Errorf("failed to add invitation request: %w", err)
	}

	s.logger.Info("invitation request added", append(logging.ContextFields(ctx),
		zap.Uint("invitation.id", req.ID),
		zap.String("user", req.Username),
		zap.String("project", req.ProjectGUID.String()),
		zap.String("role", string(req.UserRole)))...)
	s.publisher.Publish(ctx, events.InvitationCreated, req)
	return nil
}

func (s *Service) check(req *InvitationRequest) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidInvitation, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s is %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidInvitation, strings.Join(msgs, "; "))
}
