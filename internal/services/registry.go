package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/softwareforge/forge/internal/membership"
	"github.com/softwareforge/forge/internal/project"
)

// TFS is the collection and project surface of the server controller.
// *tfs.Controller satisfies it.
type TFS interface {
	HasAuthenticated() bool
	Templates(ctx context.Context, collectionGUID uuid.UUID) ([]string, error)
	TeamCollections(ctx context.Context) ([]project.TeamCollection, error)
	TeamCollection(ctx context.Context, guid uuid.UUID) (*project.TeamCollection, error)
	TeamProjects(ctx context.Context, collectionGUID uuid.UUID) ([]project.Project, error)
	CreateTeamCollection(ctx context.Context, name string) (*project.TeamCollection, error)
	RemoveTeamCollection(ctx context.Context, guid uuid.UUID) error
	CreateTeamProject(ctx context.Context, collectionGUID uuid.UUID, projectName, templateName string) (*project.Project, error)
}

// Invitations stores project invitation requests. *membership.Service
// satisfies it.
type Invitations interface {
	Get(ctx context.Context, id uint) (*membership.InvitationRequest, error)
	ListByUser(ctx context.Context, username string) ([]membership.InvitationRequest, error)
	Add(ctx context.Context, req *membership.InvitationRequest) error
}

// Registry provides access to all forge services.
type Registry interface {
	TFS() TFS
	Projects() project.Manager
	Invitations() Invitations
}

// Options configures the registry with service instances.
type Options struct {
	TFS         TFS
	Projects    project.Manager
	Invitations Invitations
}

type registry struct {
	tfs         TFS
	projects    project.Manager
	invitations Invitations
}

// NewRegistry creates a new service registry.
func NewRegistry(opts Options) Registry {
	return &registry{
		tfs:         opts.TFS,
		projects:    opts.Projects,
		invitations: opts.Invitations,
	}
}

func (r *registry) TFS() TFS                  { return r.tfs }
func (r *registry) Projects() project.Manager { return r.projects }
func (r *registry) Invitations() Invitations  { return r.invitations }
