package tfs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/microsoft/azure-devops-go-api/azuredevops/v7"
	"github.com/microsoft/azure-devops-go-api/azuredevops/v7/core"
	"github.com/microsoft/azure-devops-go-api/azuredevops/v7/location"
	"github.com/microsoft/azure-devops-go-api/azuredevops/v7/operations"
	"go.uber.org/zap"
)

const collectionPageSize = 100

// AzDoServer implements Server with the Azure DevOps REST client. It keeps
// one connection for the configuration server and one per collection,
// all built from the same credentials.
type AzDoServer struct {
	baseURL  string
	creds    Credentials
	timeout  time.Duration
	logger   *zap.Logger
	pageSize int

	mu          sync.Mutex
	root        *azuredevops.Connection
	collections map[string]*azuredevops.Connection
}

// NewAzDoServer creates a server client for serverURL, e.g.
// "https://tfs.example.com/tfs".
func NewAzDoServer(serverURL string, creds Credentials, timeout time.Duration, logger *zap.Logger) *AzDoServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AzDoServer{
		baseURL:     strings.TrimRight(serverURL, "/"),
		creds:       creds,
		timeout:     timeout,
		logger:      logger,
		pageSize:    collectionPageSize,
		collections: make(map[string]*azuredevops.Connection),
	}
}

// Authenticate drops cached tokens and connections, then asks the server
// who we are.
func (s *AzDoServer) Authenticate(ctx context.Context) (string, error) {
	s.creds.Reset()
	s.mu.Lock()
	s.root = nil
	s.collections = make(map[string]*azuredevops.Connection)
	s.mu.Unlock()

	conn, err := s.rootConnection(ctx)
	if err != nil {
		return "", err
	}
	data, err := location.NewClient(ctx, conn).GetConnectionData(ctx, location.GetConnectionDataArgs{})
	if err != nil {
		return "", mapError(err)
	}
	if data.AuthenticatedUser != nil && data.AuthenticatedUser.ProviderDisplayName != nil {
		return *data.AuthenticatedUser.ProviderDisplayName, nil
	}
	return "", nil
}

func (s *AzDoServer) ListCollections(ctx context.Context) ([]RemoteCollection, error) {
	client, err := s.coreClient(ctx, "")
	if err != nil {
		return nil, err
	}

	var refs []core.TeamProjectCollectionReference
	top, skip := s.pageSize, 0
	for {
		page, err := client.GetProjectCollections(ctx, core.GetProjectCollectionsArgs{Top: &top, Skip: &skip})
		if err != nil {
			return nil, mapError(err)
		}
		if page == nil {
			break
		}
		refs = append(refs, *page...)
		if len(*page) < top {
			break
		}
		skip += len(*page)
	}

	// The list carries no state, so each collection is fetched.
	out := make([]RemoteCollection, 0, len(refs))
	for _, ref := range refs {
		if ref.Id == nil {
			continue
		}
		rc, err := s.getCollection(ctx, client, *ref.Id)
		if err != nil {
			return nil, err
		}
		out = append(out, *rc)
	}
	return out, nil
}

func (s *AzDoServer) GetCollection(ctx context.Context, id uuid.UUID) (*RemoteCollection, error) {
	client, err := s.coreClient(ctx, "")
	if err != nil {
		return nil, err
	}
	return s.getCollection(ctx, client, id)
}

func (s *AzDoServer) getCollection(ctx context.Context, client core.Client, id uuid.UUID) (*RemoteCollection, error) {
	idStr := id.String()
	tpc, err := client.GetProjectCollection(ctx, core.GetProjectCollectionArgs{CollectionId: &idStr})
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, id)
		}
		return nil, mapError(err)
	}
	if tpc == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, id)
	}
	return toRemoteCollection(tpc), nil
}

func (s *AzDoServer) ListProjects(ctx context.Context, collection string) ([]RemoteProject, error) {
	client, err := s.coreClient(ctx, collection)
	if err != nil {
		return nil, err
	}

	var out []RemoteProject
	args := core.GetProjectsArgs{}
	for {
		resp, err := client.GetProjects(ctx, args)
		if err != nil {
			return nil, mapError(err)
		}
		if resp == nil {
			break
		}
		for _, ref := range resp.Value {
			if rp, ok := toRemoteProject(ref); ok {
				out = append(out, rp)
			}
		}
		if resp.ContinuationToken == "" {
			break
		}
		next, err := strconv.Atoi(resp.ContinuationToken)
		if err != nil {
			return nil, fmt.Errorf("bad continuation token %q: %w", resp.ContinuationToken, err)
		}
		args.ContinuationToken = &next
	}
	return out, nil
}

func (s *AzDoServer) ListProcessTemplates(ctx context.Context, collection string) ([]ProcessTemplate, error) {
	client, err := s.coreClient(ctx, collection)
	if err != nil {
		return nil, err
	}
	processes, err := client.GetProcesses(ctx, core.GetProcessesArgs{})
	if err != nil {
		return nil, mapError(err)
	}
	if processes == nil {
		return nil, nil
	}
	out := make([]ProcessTemplate, 0, len(*processes))
	for _, p := range *processes {
		if pt, ok := toProcessTemplate(p); ok {
			out = append(out, pt)
		}
	}
	return out, nil
}

func (s *AzDoServer) QueueCreateProject(ctx context.Context, collection string, req CreateProjectRequest) (uuid.UUID, error) {
	client, err := s.coreClient(ctx, collection)
	if err != nil {
		return uuid.Nil, err
	}

	capabilities := map[string]map[string]string{
		"versioncontrol": {
			"sourceControlType": req.SourceControl,
		},
		"processTemplate": {
			"templateTypeId": req.ProcessTemplateID.String(),
		},
	}
	name, description := req.Name, req.Description
	res, err := client.QueueCreateProject(ctx, core.QueueCreateProjectArgs{
		ProjectToCreate: &core.TeamProject{
			Name:         &name,
			Description:  &description,
			Visibility:   &core.ProjectVisibilityValues.Private,
			Capabilities: &capabilities,
		},
	})
	if err != nil {
		return uuid.Nil, mapError(err)
	}
	if res == nil || res.Id == nil {
		return uuid.Nil, fmt.Errorf("%w: no operation id returned", ErrOperationFailed)
	}
	return *res.Id, nil
}

func (s *AzDoServer) GetOperation(ctx context.Context, collection string, id uuid.UUID) (*Operation, error) {
	conn, err := s.connection(ctx, collection)
	if err != nil {
		return nil, err
	}
	op, err := operations.NewClient(ctx, conn).GetOperation(ctx, operations.GetOperationArgs{OperationId: &id})
	if err != nil {
		return nil, mapError(err)
	}
	return toOperation(id, op), nil
}

func (s *AzDoServer) coreClient(ctx context.Context, collection string) (core.Client, error) {
	conn, err := s.connection(ctx, collection)
	if err != nil {
		return nil, err
	}
	client, err := core.NewClient(ctx, conn)
	if err != nil {
		return nil, mapError(err)
	}
	return client, nil
}

func (s *AzDoServer) rootConnection(ctx context.Context) (*azuredevops.Connection, error) {
	return s.connection(ctx, "")
}

// connection returns the connection for collection, or the configuration
// server connection when collection is empty. The client library copies
// the Authorization header into each client it caches, so a connection is
// rebuilt whenever the credentials hand out a different header.
func (s *AzDoServer) connection(ctx context.Context, collection string) (*azuredevops.Connection, error) {
	header, err := s.creds.AuthorizationHeader(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cached := s.root
	if collection != "" {
		cached = s.collections[collection]
	}
	if cached != nil && cached.AuthorizationString == header {
		return cached, nil
	}

	target := s.baseURL
	if collection != "" {
		target += "/" + url.PathEscape(collection)
	}
	conn := azuredevops.NewAnonymousConnection(target)
	conn.AuthorizationString = header
	if s.timeout > 0 {
		timeout := s.timeout
		conn.Timeout = &timeout
	}

	if collection == "" {
		s.root = conn
	} else {
		s.collections[collection] = conn
	}
	s.logger.Debug("server connection created", zap.String("url", target), zap.Bool("refreshed", cached != nil))
	return conn, nil
}

func toRemoteCollection(tpc *core.TeamProjectCollection) *RemoteCollection {
	rc := &RemoteCollection{
		Name:  deref(tpc.Name),
		State: deref(tpc.State),
	}
	if tpc.Id != nil {
		rc.ID = *tpc.Id
	}
	return rc
}

func toRemoteProject(ref core.TeamProjectReference) (RemoteProject, bool) {
	if ref.Id == nil || ref.Name == nil {
		return RemoteProject{}, false
	}
	return RemoteProject{ID: *ref.Id, Name: *ref.Name}, true
}

func toProcessTemplate(p core.Process) (ProcessTemplate, bool) {
	if p.Id == nil || p.Name == nil {
		return ProcessTemplate{}, false
	}
	pt := ProcessTemplate{ID: *p.Id, Name: *p.Name}
	if p.IsDefault != nil {
		pt.IsDefault = *p.IsDefault
	}
	return pt, true
}

func toOperation(id uuid.UUID, op *operations.Operation) *Operation {
	out := &Operation{ID: id, Status: OperationNotSet}
	if op == nil {
		return out
	}
	if op.Status != nil {
		out.Status = OperationStatus(*op.Status)
	}
	switch {
	case op.ResultMessage != nil && *op.ResultMessage != "":
		out.Message = *op.ResultMessage
	case op.DetailedMessage != nil:
		out.Message = *op.DetailedMessage
	}
	return out
}

// mapError turns a 401 from the client library into ErrUnauthorized.
func mapError(err error) error {
	if isStatus(err, http.StatusUnauthorized) {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return err
}

func isStatus(err error, code int) bool {
	var wrapped azuredevops.WrappedError
	if errors.As(err, &wrapped) {
		return wrapped.StatusCode != nil && *wrapped.StatusCode == code
	}
	var wrappedPtr *azuredevops.WrappedError
	if errors.As(err, &wrappedPtr) && wrappedPtr != nil {
		return wrappedPtr.StatusCode != nil && *wrappedPtr.StatusCode == code
	}
	return false
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
