package tfs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/softwareforge/forge/internal/config"
	"github.com/softwareforge/forge/internal/events"
	"github.com/softwareforge/forge/internal/logging"
	"github.com/softwareforge/forge/internal/project"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const instrumentationName = "github.com/softwareforge/forge/internal/tfs"

// Options tune how the controller talks to the server.
type Options struct {
	SourceControl    string
	PollInterval     time.Duration
	ServicingTimeout time.Duration
	OperationTimeout time.Duration
}

// OptionsFromConfig maps the tfs config section.
func OptionsFromConfig(cfg config.TFSConfig) Options {
	return Options{
		SourceControl:    cfg.SourceControl,
		PollInterval:     cfg.PollInterval,
		ServicingTimeout: cfg.ServicingTimeout,
		OperationTimeout: cfg.OperationTimeout,
	}
}

func (o *Options) setDefaults() {
	if o.SourceControl == "" {
		o.SourceControl = "Git"
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.ServicingTimeout <= 0 {
		o.ServicingTimeout = 30 * time.Minute
	}
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = 10 * time.Minute
	}
}

// Deps are the collaborators of a Controller. Server, Servicer, Databases
// and Projects are required.
type Deps struct {
	Server    Server
	Servicer  Servicer
	Databases DatabaseRemover
	Projects  ProjectStore
	Publisher events.Publisher
	Limiter   *rate.Limiter
	Tracer    trace.Tracer
	Metrics   *Metrics
	Logger    *zap.Logger
}

// Controller holds the session with the configuration server.
type Controller struct {
	server    Server
	servicer  Servicer
	databases DatabaseRemover
	projects  ProjectStore
	publisher events.Publisher
	limiter   *rate.Limiter
	tracer    trace.Tracer
	metrics   *Metrics
	logger    *zap.Logger
	opts      Options

	authenticated atomic.Bool
	authMu        sync.Mutex
}

// NewController creates a Controller and authenticates once. A failed
// authentication is logged, not returned: every operation retries it
// while HasAuthenticated is false.
func NewController(ctx context.Context, deps Deps, opts Options) (*Controller, error) {
	if deps.Server == nil || deps.Servicer == nil || deps.Databases == nil || deps.Projects == nil {
		return nil, errors.New("tfs: server, servicer, databases and projects are required")
	}
	opts.setDefaults()

	c := &Controller{
		server:    deps.Server,
		servicer:  deps.Servicer,
		databases: deps.Databases,
		projects:  deps.Projects,
		publisher: deps.Publisher,
		limiter:   deps.Limiter,
		tracer:    deps.Tracer,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		opts:      opts,
	}
	if c.publisher == nil {
		c.publisher = events.NopPublisher{}
	}
	if c.limiter == nil {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(instrumentationName)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}

	if err := c.Authenticate(ctx); err != nil {
		c.logger.Warn("initial authentication failed, will retry on first use", zap.Error(err))
	}
	return c, nil
}

// HasAuthenticated reports whether the session is authenticated.
func (c *Controller) HasAuthenticated() bool {
	return c.authenticated.Load()
}

// Authenticate (re)establishes the session with the server.
func (c *Controller) Authenticate(ctx context.Context) error {
	c.authMu.Lock()
	defer c.authMu.Unlock()

	var identity string
	err := c.call(ctx, "Authenticate", func(ctx context.Context) error {
		var err error
		identity, err = c.server.Authenticate(ctx)
		return err
	})
	if err != nil {
		c.authenticated.Store(false)
		return fmt.Errorf("authenticate: %w", err)
	}
	c.authenticated.Store(true)
	c.logger.Info("authenticated with server", zap.String("identity", identity))
	return nil
}

func (c *Controller) ensureAuthenticated(ctx context.Context) error {
	if c.HasAuthenticated() {
		return nil
	}
	return c.Authenticate(ctx)
}

// Templates returns the names of the process templates of a started
// collection.
func (c *Controller) Templates(ctx context.Context, collectionGUID uuid.UUID) (names []string, err error) {
	ctx, end := c.startSpan(ctx, "Templates", attribute.String("tfs.collection.id", collectionGUID.String()))
	defer func() { end(err) }()

	if err := c.ensureAuthenticated(ctx); err != nil {
		return nil, err
	}
	rc, err := c.startedCollection(ctx, collectionGUID)
	if err != nil {
		return nil, err
	}
	templates, err := c.templates(ctx, rc.Name)
	if err != nil {
		return nil, err
	}
	names = make([]string, 0, len(templates))
	for _, t := range templates {
		names = append(names, t.Name)
	}
	return names, nil
}

// TeamCollections returns every started collection with its projects.
func (c *Controller) TeamCollections(ctx context.Context) (out []project.TeamCollection, err error) {
	ctx, end := c.startSpan(ctx, "TeamCollections")
	defer func() { end(err) }()

	if err := c.ensureAuthenticated(ctx); err != nil {
		return nil, err
	}
	remote, err := c.listCollections(ctx)
	if err != nil {
		return nil, err
	}

	out = make([]project.TeamCollection, 0, len(remote))
	for _, rc := range remote {
		if rc.State != StateStarted {
			continue
		}
		projects, err := c.teamProjects(ctx, rc)
		if err != nil {
			return nil, err
		}
		out = append(out, project.TeamCollection{GUID: rc.ID, Name: rc.Name, Projects: projects})
	}
	return out, nil
}

// TeamCollection returns one started collection with its projects.
func (c *Controller) TeamCollection(ctx context.Context, guid uuid.UUID) (tc *project.TeamCollection, err error) {
	ctx, end := c.startSpan(ctx, "TeamCollection", attribute.String("tfs.collection.id", guid.String()))
	defer func() { end(err) }()

	if err := c.ensureAuthenticated(ctx); err != nil {
		return nil, err
	}
	rc, err := c.startedCollection(ctx, guid)
	if err != nil {
		return nil, err
	}
	projects, err := c.teamProjects(ctx, *rc)
	if err != nil {
		return nil, err
	}
	return &project.TeamCollection{GUID: rc.ID, Name: rc.Name, Projects: projects}, nil
}

// TeamProjects returns the projects of a collection, recording any the
// local store has not seen yet.
func (c *Controller) TeamProjects(ctx context.Context, collectionGUID uuid.UUID) (projects []project.Project, err error) {
	ctx, end := c.startSpan(ctx, "TeamProjects", attribute.String("tfs.collection.id", collectionGUID.String()))
	defer func() { end(err) }()

	if err := c.ensureAuthenticated(ctx); err != nil {
		return nil, err
	}
	rc, err := c.collection(ctx, collectionGUID)
	if err != nil {
		return nil, err
	}
	return c.teamProjects(ctx, *rc)
}

// CreateTeamCollection queues a new collection, waits for servicing and
// returns it with no projects.
func (c *Controller) CreateTeamCollection(ctx context.Context, name string) (tc *project.TeamCollection, err error) {
	ctx = logging.WithCollection(ctx, name)
	ctx, end := c.startSpan(ctx, "CreateTeamCollection", attribute.String("tfs.collection.name", name))
	defer func() { end(err) }()

	if strings.TrimSpace(name) == "" {
		return nil, invalid("collection name is required")
	}
	if _, err := c.databases.DatabaseName(name); err != nil {
		return nil, invalid("collection %q could not be removed later: %v", name, err)
	}
	if err := c.ensureAuthenticated(ctx); err != nil {
		return nil, err
	}

	existing, err := c.startedCollections(ctx)
	if err != nil {
		return nil, err
	}
	for _, rc := range existing {
		if strings.EqualFold(rc.Name, name) {
			return nil, fmt.Errorf("%w: %s", ErrCollectionExists, name)
		}
	}

	req := CreateCollectionRequest{
		Name:             name,
		Description:      "",
		IsDefault:        false,
		VirtualDirectory: fmt.Sprintf("~/%s/", name),
		State:            StateStarted,
		ServicingTokens:  defaultServicingTokens(),
	}
	var job *ServicingJob
	if err := c.call(ctx, "QueueCreateCollection", func(ctx context.Context) error {
		var err error
		job, err = c.servicer.QueueCreateCollection(ctx, req)
		return err
	}); err != nil {
		return nil, err
	}
	c.info(ctx, "collection creation queued", zap.String("job", job.ID.String()))

	job, err = c.waitForServicing(ctx, job)
	if err != nil {
		return nil, err
	}

	created, err := c.collection(ctx, job.CollectionID)
	if err != nil {
		return nil, fmt.Errorf("reading back collection %s: %w", job.CollectionID, err)
	}
	tc = &project.TeamCollection{GUID: created.ID, Name: created.Name, Projects: []project.Project{}}
	c.info(ctx, "collection created", zap.String("collection.id", tc.GUID.String()))
	c.publisher.Publish(ctx, events.CollectionCreated, tc)
	return tc, nil
}

// RemoveTeamCollection detaches a collection, waits for servicing, drops
// its database and forgets its projects. Collections whose database name
// is unusable are refused before the detach, which cannot be undone.
func (c *Controller) RemoveTeamCollection(ctx context.Context, guid uuid.UUID) (err error) {
	ctx, end := c.startSpan(ctx, "RemoveTeamCollection", attribute.String("tfs.collection.id", guid.String()))
	defer func() { end(err) }()

	if err := c.ensureAuthenticated(ctx); err != nil {
		return err
	}
	rc, err := c.collection(ctx, guid)
	if err != nil {
		return err
	}
	ctx = logging.WithCollection(ctx, rc.Name)
	if _, err := c.databases.DatabaseName(rc.Name); err != nil {
		return invalid("collection %q cannot be removed: %v", rc.Name, err)
	}

	req := DetachCollectionRequest{
		CollectionID:    rc.ID,
		ServicingTokens: defaultServicingTokens(),
		StoppedMessage:  "stop",
	}
	var job *ServicingJob
	if err := c.call(ctx, "QueueDetachCollection", func(ctx context.Context) error {
		var err error
		job, err = c.servicer.QueueDetachCollection(ctx, req)
		return err
	}); err != nil {
		return err
	}
	c.info(ctx, "collection detach queued", zap.String("job", job.ID.String()))

	if _, err := c.waitForServicing(ctx, job); err != nil {
		return err
	}
	c.publisher.Publish(ctx, events.CollectionRemoved, project.TeamCollection{GUID: rc.ID, Name: rc.Name})

	// The collection is gone from the server now, so both cleanups run
	// whatever the other returns.
	var errs []error
	if err := c.databases.RemoveDatabase(ctx, rc.Name); err != nil {
		errs = append(errs, fmt.Errorf("collection detached but database removal failed: %w", err))
	}
	n, err := c.projects.DeleteByCollection(ctx, rc.ID)
	if err != nil {
		errs = append(errs, fmt.Errorf("collection detached but local projects remain: %w", err))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	c.info(ctx, "collection removed", zap.Int64("projects.forgotten", n))
	return nil
}

// CreateTeamProject creates a project from a process template and
// returns its local record.
func (c *Controller) CreateTeamProject(ctx context.Context, collectionGUID uuid.UUID, projectName, templateName string) (p *project.Project, err error) {
	ctx, end := c.startSpan(ctx, "CreateTeamProject",
		attribute.String("tfs.collection.id", collectionGUID.String()),
		attribute.String("tfs.project.name", projectName),
		attribute.String("tfs.template", templateName))
	defer func() { end(err) }()

	if strings.TrimSpace(projectName) == "" {
		return nil, invalid("project name is required")
	}
	if strings.TrimSpace(templateName) == "" {
		return nil, invalid("template name is required")
	}
	if err := c.ensureAuthenticated(ctx); err != nil {
		return nil, err
	}

	tc, err := c.TeamCollection(ctx, collectionGUID)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithCollection(ctx, tc.Name)
	if tc.HasProject(projectName) {
		return nil, fmt.Errorf("%w: %s in %s", ErrProjectExists, projectName, tc.Name)
	}

	templates, err := c.templates(ctx, tc.Name)
	if err != nil {
		return nil, err
	}
	var template *ProcessTemplate
	for i := range templates {
		if templates[i].Name == templateName {
			template = &templates[i]
			break
		}
	}
	if template == nil {
		return nil, fmt.Errorf("%w: %s in %s", ErrTemplateNotFound, templateName, tc.Name)
	}

	req := CreateProjectRequest{
		Name:              projectName,
		ProcessTemplateID: template.ID,
		SourceControl:     c.opts.SourceControl,
	}
	var opID uuid.UUID
	if err := c.call(ctx, "QueueCreateProject", func(ctx context.Context) error {
		var err error
		opID, err = c.server.QueueCreateProject(ctx, tc.Name, req)
		return err
	}); err != nil {
		return nil, err
	}
	if err := c.waitForOperation(ctx, tc.Name, opID); err != nil {
		return nil, err
	}

	projects, err := c.teamProjects(ctx, RemoteCollection{ID: tc.GUID, Name: tc.Name, State: StateStarted})
	if err != nil {
		return nil, err
	}
	for i := range projects {
		if strings.EqualFold(projects[i].Name, projectName) {
			p = &projects[i]
			break
		}
	}
	if p == nil {
		return nil, fmt.Errorf("%w: project %s not listed after creation", ErrOperationFailed, projectName)
	}

	c.info(ctx, "project created", zap.String("project", p.GUID.String()), zap.String("template", templateName))
	c.publisher.Publish(ctx, events.ProjectCreated, p)
	return p, nil
}

func (c *Controller) teamProjects(ctx context.Context, rc RemoteCollection) ([]project.Project, error) {
	var remote []RemoteProject
	if err := c.call(ctx, "ListProjects", func(ctx context.Context) error {
		var err error
		remote, err = c.server.ListProjects(ctx, rc.Name)
		return err
	}); err != nil {
		return nil, err
	}

	out := make([]project.Project, 0, len(remote))
	for _, rp := range remote {
		p, err := c.projects.Get(ctx, rp.ID)
		if errors.Is(err, project.ErrProjectNotFound) {
			p, err = project.NewProject(rp.Name, rp.ID, rc.ID)
			if err == nil {
				err = c.projects.Add(ctx, p)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("recording project %s: %w", rp.ID, err)
		}
		out = append(out, *p)
	}
	return out, nil
}

func (c *Controller) listCollections(ctx context.Context) ([]RemoteCollection, error) {
	var out []RemoteCollection
	err := c.call(ctx, "ListCollections", func(ctx context.Context) error {
		var err error
		out, err = c.server.ListCollections(ctx)
		return err
	})
	return out, err
}

func (c *Controller) startedCollections(ctx context.Context) ([]RemoteCollection, error) {
	all, err := c.listCollections(ctx)
	if err != nil {
		return nil, err
	}
	started := all[:0]
	for _, rc := range all {
		if rc.State == StateStarted {
			started = append(started, rc)
		}
	}
	return started, nil
}

func (c *Controller) startedCollection(ctx context.Context, guid uuid.UUID) (*RemoteCollection, error) {
	started, err := c.startedCollections(ctx)
	if err != nil {
		return nil, err
	}
	for i := range started {
		if started[i].ID == guid {
			return &started[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, guid)
}

// collection looks a collection up whatever its state.
func (c *Controller) collection(ctx context.Context, guid uuid.UUID) (*RemoteCollection, error) {
	var rc *RemoteCollection
	err := c.call(ctx, "GetCollection", func(ctx context.Context) error {
		var err error
		rc, err = c.server.GetCollection(ctx, guid)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rc, nil
}

func (c *Controller) templates(ctx context.Context, collection string) ([]ProcessTemplate, error) {
	var out []ProcessTemplate
	err := c.call(ctx, "ListProcessTemplates", func(ctx context.Context) error {
		var err error
		out, err = c.server.ListProcessTemplates(ctx, collection)
		return err
	})
	return out, err
}

// call runs one request to the server: rate limited, traced and counted.
// A rejected credential marks the session unauthenticated.
func (c *Controller) call(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := c.tracer.Start(ctx, "tfs.server."+name, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()
	err := fn(ctx)
	c.metrics.observe(name, err, time.Since(start))

	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			c.authenticated.Store(false)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Controller) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := c.tracer.Start(ctx, "tfs."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func (c *Controller) info(ctx context.Context, msg string, fields ...zap.Field) {
	c.logger.Info(msg, append(logging.ContextFields(ctx), fields...)...)
}
