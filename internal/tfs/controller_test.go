package tfs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/softwareforge/forge/internal/events"
	"github.com/softwareforge/forge/internal/project"
	"github.com/softwareforge/forge/internal/store"
	"github.com/softwareforge/forge/internal/telemetry"
	"github.com/softwareforge/forge/internal/tfsdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type harness struct {
	ctrl      *Controller
	server    *fakeServer
	servicer  *fakeServicer
	remover   *fakeRemover
	databases DatabaseRemover
	projects  project.Manager
	recorder  *events.Recorder
	metrics   *Metrics
	telemetry *telemetry.TestTelemetry
}

func newHarness(t *testing.T, configure ...func(*harness)) *harness {
	t.Helper()
	h := &harness{
		server:    newFakeServer(),
		servicer:  newFakeServicer(),
		remover:   &fakeRemover{},
		projects:  project.NewManager(store.NewTestDB(t, &project.Project{})),
		recorder:  &events.Recorder{},
		metrics:   NewMetrics(prometheus.NewRegistry()),
		telemetry: telemetry.NewTestTelemetry(),
	}
	h.servicer.server = h.server
	h.databases = h.remover
	for _, fn := range configure {
		fn(h)
	}

	ctrl, err := NewController(context.Background(), Deps{
		Server:    h.server,
		Servicer:  h.servicer,
		Databases: h.databases,
		Projects:  h.projects,
		Publisher: h.recorder,
		Limiter:   rate.NewLimiter(rate.Inf, 0),
		Tracer:    h.telemetry.Tracer("tfs-test"),
		Metrics:   h.metrics,
	}, Options{
		SourceControl:    "Git",
		PollInterval:     time.Millisecond,
		ServicingTimeout: time.Second,
		OperationTimeout: time.Second,
	})
	require.NoError(t, err)
	h.ctrl = ctrl
	return h
}

func TestNewController_RequiresCollaborators(t *testing.T) {
	_, err := NewController(context.Background(), Deps{}, Options{})
	assert.Error(t, err)
}

func TestController_Authentication(t *testing.T) {
	h := newHarness(t)
	assert.True(t, h.ctrl.HasAuthenticated())
	assert.Equal(t, 1, h.server.authCalls)

	h.server.authErr = ErrUnauthorized
	require.Error(t, h.ctrl.Authenticate(context.Background()))
	assert.False(t, h.ctrl.HasAuthenticated())

	h.server.authErr = nil
	_, err := h.ctrl.TeamCollections(context.Background())
	require.NoError(t, err)
	assert.True(t, h.ctrl.HasAuthenticated(), "operations re-authenticate first")
	assert.Equal(t, 3, h.server.authCalls)
}

func TestController_InitialAuthenticationFailureIsRetried(t *testing.T) {
	h := newHarness(t, func(h *harness) { h.server.authErr = errors.New("connection refused") })
	assert.False(t, h.ctrl.HasAuthenticated())

	_, err := h.ctrl.TeamCollections(context.Background())
	require.Error(t, err)

	h.server.authErr = nil
	_, err = h.ctrl.TeamCollections(context.Background())
	require.NoError(t, err)
	assert.True(t, h.ctrl.HasAuthenticated())
}

func TestController_UnauthorizedResetsSession(t *testing.T) {
	h := newHarness(t)
	h.server.listErrs = []error{ErrUnauthorized}

	_, err := h.ctrl.TeamCollections(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, h.ctrl.HasAuthenticated())

	_, err = h.ctrl.TeamCollections(context.Background())
	require.NoError(t, err)
	assert.True(t, h.ctrl.HasAuthenticated())
	assert.Equal(t, 2, h.server.authCalls)
}

func TestController_TeamCollections(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	alpha := h.server.addCollection("Alpha", StateStarted)
	h.server.addCollection("Stopped", "Stopped")
	beta := h.server.addCollection("Beta", StateStarted)
	contoso := h.server.addProject("Alpha", "Contoso")
	h.server.addProject("Alpha", "Fabrikam")

	collections, err := h.ctrl.TeamCollections(ctx)
	require.NoError(t, err)
	require.Len(t, collections, 2)
	assert.Equal(t, alpha.ID, collections[0].GUID)
	assert.Equal(t, beta.ID, collections[1].GUID)
	require.Len(t, collections[0].Projects, 2)
	assert.NotNil(t, collections[1].Projects)
	assert.Empty(t, collections[1].Projects)

	stored, err := h.projects.Get(ctx, contoso.ID)
	require.NoError(t, err)
	assert.Equal(t, "Contoso", stored.Name)
	assert.Equal(t, alpha.ID, stored.TeamCollectionGUID)

	again, err := h.ctrl.TeamCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, collections[0].Projects[0].ID, again[0].Projects[0].ID, "projects are recorded once")

	listed, err := h.projects.List(ctx, alpha.ID)
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	assert.Equal(t, float64(2), testutil.ToFloat64(h.metrics.calls.WithLabelValues("ListCollections", "success")))
	h.telemetry.AssertSpanExists(t, "tfs.TeamCollections")
	h.telemetry.AssertSpanExists(t, "tfs.server.ListProjects")
}

func TestController_TeamCollection(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	alpha := h.server.addCollection("Alpha", StateStarted)
	stopped := h.server.addCollection("Stopped", "Stopped")
	h.server.addProject("Alpha", "Contoso")

	tc, err := h.ctrl.TeamCollection(ctx, alpha.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alpha", tc.Name)
	assert.Len(t, tc.Projects, 1)

	_, err = h.ctrl.TeamCollection(ctx, stopped.ID)
	assert.ErrorIs(t, err, ErrCollectionNotFound)

	_, err = h.ctrl.TeamCollection(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestController_TeamProjects(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	alpha := h.server.addCollection("Alpha", StateStarted)
	h.server.addProject("Alpha", "Contoso")

	projects, err := h.ctrl.TeamProjects(ctx, alpha.ID)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.NotZero(t, projects[0].ID)

	_, err = h.ctrl.TeamProjects(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestController_Templates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	alpha := h.server.addCollection("Alpha", StateStarted)
	h.server.templates["Alpha"] = []ProcessTemplate{
		{ID: uuid.New(), Name: "Agile", IsDefault: true},
		{ID: uuid.New(), Name: "Scrum"},
	}

	names, err := h.ctrl.Templates(ctx, alpha.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Agile", "Scrum"}, names)

	_, err = h.ctrl.Templates(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestController_CreateTeamCollection(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.server.addCollection("Alpha", StateStarted)
	h.servicer.polls = []ServicingJob{{Status: JobRunning, Result: ResultNone}}

	_, err := h.ctrl.CreateTeamCollection(ctx, "alpha")
	assert.ErrorIs(t, err, ErrCollectionExists)
	assert.Empty(t, h.servicer.created)

	_, err = h.ctrl.CreateTeamCollection(ctx, "  ")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	tc, err := h.ctrl.CreateTeamCollection(ctx, "Beta")
	require.NoError(t, err)
	assert.Equal(t, h.servicer.newCollectionID, tc.GUID)
	assert.Equal(t, "Beta", tc.Name)
	assert.NotNil(t, tc.Projects)
	assert.Empty(t, tc.Projects)

	require.Len(t, h.servicer.created, 1)
	req := h.servicer.created[0]
	assert.Equal(t, "Beta", req.Name)
	assert.Equal(t, "", req.Description)
	assert.False(t, req.IsDefault)
	assert.Equal(t, "~/Beta/", req.VirtualDirectory)
	assert.Equal(t, StateStarted, req.State)
	assert.Equal(t, map[string]string{"SharePointAction": "None", "ReportingAction": "None"}, req.ServicingTokens)

	assert.Equal(t, []events.Type{events.CollectionCreated}, h.recorder.Types())
}

func TestController_CreateTeamCollectionReturnsServerName(t *testing.T) {
	h := newHarness(t)
	h.servicer.storedName = "Beta"

	tc, err := h.ctrl.CreateTeamCollection(context.Background(), "beta")
	require.NoError(t, err)
	assert.Equal(t, h.servicer.newCollectionID, tc.GUID)
	assert.Equal(t, "Beta", tc.Name)
}

func TestController_CreateTeamCollectionRejectsUnusableName(t *testing.T) {
	h := newHarness(t)
	h.remover.invalid = "Q1]Ops"

	_, err := h.ctrl.CreateTeamCollection(context.Background(), "Q1]Ops")
	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.Empty(t, h.servicer.created)
}

func TestController_CreateTeamCollectionServicingFailed(t *testing.T) {
	h := newHarness(t)
	h.servicer.final = ServicingJob{Status: JobComplete, Result: ResultFailed, Message: "TF400711"}

	_, err := h.ctrl.CreateTeamCollection(context.Background(), "Beta")
	require.ErrorIs(t, err, ErrServicingFailed)
	assert.Contains(t, err.Error(), "TF400711")
	assert.Empty(t, h.recorder.Events())
}

func TestController_CreateTeamCollectionTimeout(t *testing.T) {
	h := newHarness(t)
	h.ctrl.opts.ServicingTimeout = 20 * time.Millisecond
	h.servicer.final = ServicingJob{Status: JobRunning, Result: ResultNone}

	_, err := h.ctrl.CreateTeamCollection(context.Background(), "Beta")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestController_CreateTeamCollectionCancelled(t *testing.T) {
	h := newHarness(t)
	h.servicer.final = ServicingJob{Status: JobRunning, Result: ResultNone}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.ctrl.CreateTeamCollection(ctx, "Beta")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestController_RemoveTeamCollection(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	alpha := h.server.addCollection("Alpha", StateStarted)
	h.server.addProject("Alpha", "Contoso")
	_, err := h.ctrl.TeamProjects(ctx, alpha.ID)
	require.NoError(t, err)

	require.ErrorIs(t, h.ctrl.RemoveTeamCollection(ctx, uuid.New()), ErrCollectionNotFound)

	require.NoError(t, h.ctrl.RemoveTeamCollection(ctx, alpha.ID))

	require.Len(t, h.servicer.detached, 1)
	req := h.servicer.detached[0]
	assert.Equal(t, alpha.ID, req.CollectionID)
	assert.Equal(t, "stop", req.StoppedMessage)
	assert.Equal(t, "None", req.ServicingTokens["SharePointAction"])
	assert.Equal(t, "None", req.ServicingTokens["ReportingAction"])

	assert.Equal(t, []string{"Alpha"}, h.remover.removed)
	remaining, err := h.projects.List(ctx, alpha.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)
	assert.Equal(t, []events.Type{events.CollectionRemoved}, h.recorder.Types())
}

func TestController_RemoveTeamCollectionDatabaseFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	alpha := h.server.addCollection("Alpha", StateStarted)
	h.server.addProject("Alpha", "Contoso")
	_, err := h.ctrl.TeamProjects(ctx, alpha.ID)
	require.NoError(t, err)
	h.remover.err = errors.New("permission denied")

	err = h.ctrl.RemoveTeamCollection(ctx, alpha.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database removal failed")
	assert.Contains(t, err.Error(), "permission denied")

	remaining, err := h.projects.List(ctx, alpha.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining, "local projects are forgotten even when the drop fails")
	assert.Equal(t, []events.Type{events.CollectionRemoved}, h.recorder.Types())
}

func TestController_RemoveTeamCollectionRefusesUnusableName(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	odd := h.server.addCollection("Q1]Ops", StateStarted)
	h.server.addProject("Q1]Ops", "Contoso")
	_, err := h.ctrl.TeamProjects(ctx, odd.ID)
	require.NoError(t, err)
	h.remover.invalid = "Q1]Ops"

	err = h.ctrl.RemoveTeamCollection(ctx, odd.ID)
	require.ErrorIs(t, err, ErrInvalidArgument)

	assert.Empty(t, h.servicer.detached, "nothing is detached")
	remaining, err := h.projects.List(ctx, odd.ID)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
	assert.Empty(t, h.recorder.Events())
}

type recordingExec struct {
	statements []string
}

func (r *recordingExec) Exec(_ context.Context, statement string) error {
	r.statements = append(r.statements, statement)
	return nil
}

func TestController_RemoveTeamCollectionAccentedName(t *testing.T) {
	ctx := context.Background()
	exec := &recordingExec{}
	h := newHarness(t, func(h *harness) {
		h.databases = tfsdb.NewController(exec, "Tfs_", nil)
	})
	cafe := h.server.addCollection("Café", StateStarted)
	h.server.addProject("Café", "Menu")
	_, err := h.ctrl.TeamProjects(ctx, cafe.ID)
	require.NoError(t, err)

	require.NoError(t, h.ctrl.RemoveTeamCollection(ctx, cafe.ID))

	require.Len(t, h.servicer.detached, 1)
	require.Len(t, exec.statements, 1)
	assert.Contains(t, exec.statements[0], "DROP DATABASE [Tfs_Café];")
	remaining, err := h.projects.List(ctx, cafe.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestController_ServicingFaultIsNotRetried(t *testing.T) {
	h := newHarness(t)
	h.servicer.pollErrs = []error{&FaultError{
		Action: "GetServicingJob",
		Code:   "soap:Server",
		Reason: "TF246017: the collection database could not be reached",
	}}

	_, err := h.ctrl.CreateTeamCollection(context.Background(), "Beta")
	require.ErrorIs(t, err, ErrServicingFailed)
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.Contains(t, err.Error(), "TF246017")
	assert.Equal(t, 1, h.servicer.pollCalls)
}

func TestController_TransientPollErrorIsRetried(t *testing.T) {
	h := newHarness(t)
	h.servicer.pollErrs = []error{errors.New("connection reset by peer")}

	tc, err := h.ctrl.CreateTeamCollection(context.Background(), "Beta")
	require.NoError(t, err)
	assert.Equal(t, "Beta", tc.Name)
	assert.Equal(t, 2, h.servicer.pollCalls)
}

func TestController_CreateTeamProject(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	alpha := h.server.addCollection("Alpha", StateStarted)
	h.server.addProject("Alpha", "Contoso")
	agile := ProcessTemplate{ID: uuid.New(), Name: "Agile"}
	h.server.templates["Alpha"] = []ProcessTemplate{agile, {ID: uuid.New(), Name: "Scrum"}}

	_, err := h.ctrl.CreateTeamProject(ctx, uuid.New(), "Fabrikam", "Agile")
	assert.ErrorIs(t, err, ErrCollectionNotFound)

	_, err = h.ctrl.CreateTeamProject(ctx, alpha.ID, "contoso", "Agile")
	assert.ErrorIs(t, err, ErrProjectExists)

	_, err = h.ctrl.CreateTeamProject(ctx, alpha.ID, "Fabrikam", "CMMI")
	assert.ErrorIs(t, err, ErrTemplateNotFound)

	_, err = h.ctrl.CreateTeamProject(ctx, alpha.ID, "", "Agile")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	assert.Empty(t, h.server.queued)

	p, err := h.ctrl.CreateTeamProject(ctx, alpha.ID, "Fabrikam", "Agile")
	require.NoError(t, err)
	assert.Equal(t, "Fabrikam", p.Name)
	assert.Equal(t, alpha.ID, p.TeamCollectionGUID)
	assert.NotZero(t, p.ID)

	require.Len(t, h.server.queued, 1)
	assert.Equal(t, agile.ID, h.server.queued[0].ProcessTemplateID)
	assert.Equal(t, "Git", h.server.queued[0].SourceControl)

	stored, err := h.projects.Get(ctx, p.GUID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, stored.ID)
	assert.Equal(t, []events.Type{events.ProjectCreated}, h.recorder.Types())
}

func TestController_CreateTeamProjectOperationFailed(t *testing.T) {
	h := newHarness(t)
	alpha := h.server.addCollection("Alpha", StateStarted)
	h.server.templates["Alpha"] = []ProcessTemplate{{ID: uuid.New(), Name: "Agile"}}
	h.server.opStatus = OperationFailed
	h.server.opMessage = "TF30170: plugin failed"

	_, err := h.ctrl.CreateTeamProject(context.Background(), alpha.ID, "Fabrikam", "Agile")
	require.ErrorIs(t, err, ErrOperationFailed)
	assert.Contains(t, err.Error(), "TF30170")
}

func TestController_OperationFailureIsNotRetried(t *testing.T) {
	h := newHarness(t)
	alpha := h.server.addCollection("Alpha", StateStarted)
	h.server.templates["Alpha"] = []ProcessTemplate{{ID: uuid.New(), Name: "Agile"}}
	h.server.opErr = fmt.Errorf("%w: project plugin crashed", ErrOperationFailed)

	_, err := h.ctrl.CreateTeamProject(context.Background(), alpha.ID, "Fabrikam", "Agile")
	require.ErrorIs(t, err, ErrOperationFailed)
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, 1, h.server.opPolls)
}
