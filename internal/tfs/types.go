// Package tfs drives a Team Foundation / Azure DevOps Server: it lists,
// creates and removes team project collections and creates projects in
// them. Collection servicing runs through the administration SOAP service;
// everything else goes through the REST client library.
package tfs

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/softwareforge/forge/internal/project"
)

var (
	ErrCollectionNotFound = errors.New("team collection not found")
	ErrCollectionExists   = errors.New("team collection already exists")
	ErrProjectExists      = errors.New("project already exists in team collection")
	ErrTemplateNotFound   = errors.New("process template not found in team collection")
	ErrInvalidArgument    = errors.New("invalid argument")

	// ErrServicingFailed is returned when a collection servicing job ends
	// in any result other than success.
	ErrServicingFailed = errors.New("collection servicing failed")

	// ErrOperationFailed is returned when a project creation operation
	// fails or is cancelled.
	ErrOperationFailed = errors.New("server operation failed")

	// ErrTimeout is returned when servicing or an operation does not
	// finish in the configured time.
	ErrTimeout = errors.New("timed out waiting for server")

	// ErrUnauthorized is returned when the server rejects the credentials.
	// The controller re-authenticates on its next call.
	ErrUnauthorized = errors.New("server rejected credentials")
)

// StateStarted is the host state of a collection that is online.
const StateStarted = "Started"

// RemoteCollection is a team project collection as the server reports it.
type RemoteCollection struct {
	ID    uuid.UUID
	Name  string
	State string
}

// RemoteProject is a project as the server reports it.
type RemoteProject struct {
	ID   uuid.UUID
	Name string
}

// ProcessTemplate is a process a project can be created from.
type ProcessTemplate struct {
	ID        uuid.UUID
	Name      string
	IsDefault bool
}

// OperationStatus is the state of an asynchronous REST operation.
type OperationStatus string

const (
	OperationNotSet     OperationStatus = "notSet"
	OperationQueued     OperationStatus = "queued"
	OperationInProgress OperationStatus = "inProgress"
	OperationSucceeded  OperationStatus = "succeeded"
	OperationFailed     OperationStatus = "failed"
	OperationCancelled  OperationStatus = "cancelled"
)

// Operation is the state of a queued project creation.
type Operation struct {
	ID      uuid.UUID
	Status  OperationStatus
	Message string
}

// Done reports whether the operation reached a final state.
func (o *Operation) Done() bool {
	switch o.Status {
	case OperationSucceeded, OperationFailed, OperationCancelled:
		return true
	}
	return false
}

// CreateProjectRequest describes a project to queue for creation.
type CreateProjectRequest struct {
	Name              string
	Description       string
	ProcessTemplateID uuid.UUID
	SourceControl     string
}

// Servicing job states and results, as named by the administration service.
const (
	JobQueued   = "Queued"
	JobRunning  = "Running"
	JobComplete = "Complete"

	ResultNone                  = "None"
	ResultSucceeded             = "Succeeded"
	ResultSucceededWithWarnings = "SucceededWithWarnings"
	ResultFailed                = "Failed"
	ResultBlocked               = "Blocked"
	ResultSkipped               = "Skipped"
)

// ServicingJob tracks a queued collection create or detach.
type ServicingJob struct {
	ID           uuid.UUID
	CollectionID uuid.UUID
	Status       string
	Result       string
	Message      string
}

// Done reports whether the job stopped running.
func (j *ServicingJob) Done() bool {
	if j.Status == JobComplete {
		return true
	}
	return j.Result == ResultFailed || j.Result == ResultBlocked
}

// Succeeded reports whether a finished job did its work.
func (j *ServicingJob) Succeeded() bool {
	return j.Result == ResultSucceeded || j.Result == ResultSucceededWithWarnings
}

// CreateCollectionRequest holds the QueueCreateCollection arguments.
type CreateCollectionRequest struct {
	Name             string
	Description      string
	IsDefault        bool
	VirtualDirectory string
	State            string
	ServicingTokens  map[string]string
}

// DetachCollectionRequest holds the QueueDetachCollection arguments.
type DetachCollectionRequest struct {
	CollectionID    uuid.UUID
	ServicingTokens map[string]string
	StoppedMessage  string
}

// defaultServicingTokens keeps SharePoint and Reporting out of servicing.
func defaultServicingTokens() map[string]string {
	return map[string]string{
		"SharePointAction": "None",
		"ReportingAction":  "None",
	}
}

// Server is the REST surface of the configuration server and its
// collections. Collection-scoped calls take the collection name, which
// is the last segment of the collection URL.
type Server interface {
	// Authenticate (re)establishes connections and returns the
	// authenticated identity.
	Authenticate(ctx context.Context) (string, error)
	ListCollections(ctx context.Context) ([]RemoteCollection, error)
	// GetCollection returns ErrCollectionNotFound for unknown ids.
	GetCollection(ctx context.Context, id uuid.UUID) (*RemoteCollection, error)
	ListProjects(ctx context.Context, collection string) ([]RemoteProject, error)
	ListProcessTemplates(ctx context.Context, collection string) ([]ProcessTemplate, error)
	QueueCreateProject(ctx context.Context, collection string, req CreateProjectRequest) (uuid.UUID, error)
	GetOperation(ctx context.Context, collection string, id uuid.UUID) (*Operation, error)
}

// Servicer queues collection servicing jobs.
type Servicer interface {
	QueueCreateCollection(ctx context.Context, req CreateCollectionRequest) (*ServicingJob, error)
	QueueDetachCollection(ctx context.Context, req DetachCollectionRequest) (*ServicingJob, error)
	GetServicingJob(ctx context.Context, collectionID, jobID uuid.UUID) (*ServicingJob, error)
}

// DatabaseRemover drops the database of a detached collection.
// DatabaseName fails for collection names whose database could not be
// dropped.
type DatabaseRemover interface {
	DatabaseName(collectionName string) (string, error)
	RemoveDatabase(ctx context.Context, collectionName string) error
}

// ProjectStore is the local project table. project.Manager satisfies it.
type ProjectStore interface {
	Get(ctx context.Context, guid uuid.UUID) (*project.Project, error)
	Add(ctx context.Context, p *project.Project) error
	DeleteByCollection(ctx context.Context, collection uuid.UUID) (int64, error)
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
