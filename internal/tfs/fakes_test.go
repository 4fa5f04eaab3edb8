package tfs

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type fakeServer struct {
	mu sync.Mutex

	authErr   error
	authCalls int

	collections []RemoteCollection
	projects    map[string][]RemoteProject
	templates   map[string][]ProcessTemplate

	// listErrs are returned, in order, by ListCollections before it succeeds.
	listErrs []error

	opStatus  OperationStatus
	opMessage string
	opErr     error
	opPolls   int
	queued    []CreateProjectRequest
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		projects:  map[string][]RemoteProject{},
		templates: map[string][]ProcessTemplate{},
		opStatus:  OperationSucceeded,
	}
}

func (f *fakeServer) addCollection(name, state string) RemoteCollection {
	return f.putCollection(RemoteCollection{ID: uuid.New(), Name: name, State: state})
}

func (f *fakeServer) putCollection(rc RemoteCollection) RemoteCollection {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections = append(f.collections, rc)
	return rc
}

func (f *fakeServer) addProject(collection, name string) RemoteProject {
	f.mu.Lock()
	defer f.mu.Unlock()
	rp := RemoteProject{ID: uuid.New(), Name: name}
	f.projects[collection] = append(f.projects[collection], rp)
	return rp
}

func (f *fakeServer) Authenticate(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authCalls++
	if f.authErr != nil {
		return "", f.authErr
	}
	return `CORP\svc-forge`, nil
}

func (f *fakeServer) ListCollections(context.Context) ([]RemoteCollection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.listErrs) > 0 {
		err := f.listErrs[0]
		f.listErrs = f.listErrs[1:]
		return nil, err
	}
	return append([]RemoteCollection(nil), f.collections...), nil
}

func (f *fakeServer) GetCollection(_ context.Context, id uuid.UUID) (*RemoteCollection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rc := range f.collections {
		if rc.ID == id {
			rc := rc
			return &rc, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, id)
}

func (f *fakeServer) ListProjects(_ context.Context, collection string) ([]RemoteProject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RemoteProject(nil), f.projects[collection]...), nil
}

func (f *fakeServer) ListProcessTemplates(_ context.Context, collection string) ([]ProcessTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ProcessTemplate(nil), f.templates[collection]...), nil
}

func (f *fakeServer) QueueCreateProject(_ context.Context, collection string, req CreateProjectRequest) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued = append(f.queued, req)
	if f.opStatus == OperationSucceeded {
		f.projects[collection] = append(f.projects[collection], RemoteProject{ID: uuid.New(), Name: req.Name})
	}
	return uuid.New(), nil
}

func (f *fakeServer) GetOperation(_ context.Context, _ string, id uuid.UUID) (*Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opPolls++
	if f.opErr != nil {
		return nil, f.opErr
	}
	// First poll reports progress, second the final state.
	if f.opPolls%2 == 1 {
		return &Operation{ID: id, Status: OperationInProgress}, nil
	}
	return &Operation{ID: id, Status: f.opStatus, Message: f.opMessage}, nil
}

type fakeServicer struct {
	mu sync.Mutex

	// server, when set, gets the collection a create request names.
	server     *fakeServer
	storedName string

	created  []CreateCollectionRequest
	detached []DetachCollectionRequest

	newCollectionID uuid.UUID

	// polls are returned by GetServicingJob in order; afterwards the job
	// reports final.
	polls []ServicingJob
	final ServicingJob

	// pollErrs are returned by GetServicingJob, in order, before polls.
	pollErrs  []error
	pollCalls int
	queueErr  error
}

func newFakeServicer() *fakeServicer {
	return &fakeServicer{
		newCollectionID: uuid.New(),
		final:           ServicingJob{Status: JobComplete, Result: ResultSucceeded},
	}
}

func (f *fakeServicer) QueueCreateCollection(_ context.Context, req CreateCollectionRequest) (*ServicingJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queueErr != nil {
		return nil, f.queueErr
	}
	f.created = append(f.created, req)
	if f.server != nil {
		name := req.Name
		if f.storedName != "" {
			name = f.storedName
		}
		f.server.putCollection(RemoteCollection{ID: f.newCollectionID, Name: name, State: StateStarted})
	}
	return &ServicingJob{ID: uuid.New(), CollectionID: f.newCollectionID, Status: JobQueued, Result: ResultNone}, nil
}

func (f *fakeServicer) QueueDetachCollection(_ context.Context, req DetachCollectionRequest) (*ServicingJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queueErr != nil {
		return nil, f.queueErr
	}
	f.detached = append(f.detached, req)
	return &ServicingJob{ID: uuid.New(), CollectionID: req.CollectionID, Status: JobQueued, Result: ResultNone}, nil
}

func (f *fakeServicer) GetServicingJob(_ context.Context, collectionID, jobID uuid.UUID) (*ServicingJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCalls++
	if len(f.pollErrs) > 0 {
		err := f.pollErrs[0]
		f.pollErrs = f.pollErrs[1:]
		return nil, err
	}
	var j ServicingJob
	if len(f.polls) > 0 {
		j, f.polls = f.polls[0], f.polls[1:]
	} else {
		j = f.final
	}
	j.ID, j.CollectionID = jobID, collectionID
	return &j, nil
}

type fakeRemover struct {
	mu      sync.Mutex
	removed []string
	err     error
	invalid string
}

func (f *fakeRemover) DatabaseName(name string) (string, error) {
	if f.invalid != "" && name == f.invalid {
		return "", fmt.Errorf("invalid collection database name: %q", name)
	}
	return "Tfs_" + name, nil
}

func (f *fakeRemover) RemoveDatabase(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.removed = append(f.removed, name)
	return nil
}
