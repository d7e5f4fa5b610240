package orchestrator

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/linkpellow/scrapegoat/internal/engineadapter"
	"github.com/linkpellow/scrapegoat/internal/eventbus"
	"github.com/linkpellow/scrapegoat/internal/models"
	"github.com/linkpellow/scrapegoat/internal/sessionpool"
	"github.com/linkpellow/scrapegoat/internal/store"
	"github.com/linkpellow/scrapegoat/internal/store/memory"
)

// fakeAdapter returns a single canned Result/error for every Fetch call,
// which is all these scenarios need since a Run visits each engine tier
// at most once on its way up the ladder.
type fakeAdapter struct {
	engine models.Engine
	result engineadapter.Result
	err    error
	calls  int
}

func (f *fakeAdapter) Fetch(ctx context.Context, req engineadapter.Request) (engineadapter.Result, error) {
	f.calls++
	return f.result, f.err
}

func (f *fakeAdapter) Engine() models.Engine { return f.engine }

// fakeAuthProber returns a canned probe status for every call.
type fakeAuthProber struct {
	status int
	err    error
}

func (f *fakeAuthProber) Probe(ctx context.Context, rootURL string, session *models.SessionVault) (int, error) {
	return f.status, f.err
}

func newFixture(t *testing.T, engineMode models.EngineModeEnum, requiresAuth bool, required bool) (st *memory.Store, job *models.Job, run *models.Run) {
	t.Helper()
	ctx := context.Background()
	st = memory.New()

	job = &models.Job{
		ID:           uuid.New(),
		TargetURL:    "https://example.com/listing",
		Fields:       []string{"title", "price"},
		RequiresAuth: requiresAuth,
		CrawlMode:    models.CrawlModeSingle,
		EngineMode:   engineMode,
	}
	if err := st.CreateJob(ctx, st.DefaultExec(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	fm := &models.FieldMap{
		ID:              uuid.New(),
		JobID:           job.ID,
		FieldName:       "title",
		Selector:        "h1.title",
		FieldType:       "string",
		ValidationRules: models.ValidationRules{Required: required},
		SelectorVersion: 1,
	}
	if err := st.CreateFieldMapVersion(ctx, st.DefaultExec(), fm); err != nil {
		t.Fatalf("create field map: %v", err)
	}

	run = &models.Run{
		ID:          uuid.New(),
		JobID:       job.ID,
		Status:      models.RunStatusQueued,
		MaxAttempts: 3,
	}
	if err := st.CreateRun(ctx, st.DefaultExec(), run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	return st, job, run
}

func TestExecuteRunFreshPublicDomainSucceeds(t *testing.T) {
	ctx := context.Background()
	st, job, run := newFixture(t, models.EngineModeAuto, false, true)

	httpAdapter := &fakeAdapter{engine: models.EngineHTTP, result: engineadapter.Result{
		Items:      []engineadapter.Item{{"title": "Widget", "price": "9.99"}},
		HTTPStatus: 200,
		RawHTML:    "<html><h1>Widget</h1></html>",
	}}

	o := New(st, sessionpool.New(""), eventbus.New(), map[models.Engine]engineadapter.Adapter{
		models.EngineHTTP: httpAdapter,
	}, 0)

	if err := o.ExecuteRun(ctx, run.ID); err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}

	got, err := st.GetRun(ctx, st.DefaultExec(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != models.RunStatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if httpAdapter.calls != 1 {
		t.Fatalf("expected exactly one http fetch, got %d", httpAdapter.calls)
	}
	records, err := st.ListRecordsForRun(ctx, st.DefaultExec(), run.ID)
	if err != nil {
		t.Fatalf("ListRecordsForRun: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
}

func TestExecuteRunEscalatesFromHTTPToBrowserOnSPAMarker(t *testing.T) {
	ctx := context.Background()
	st, _, run := newFixture(t, models.EngineModeAuto, false, true)

	httpAdapter := &fakeAdapter{engine: models.EngineHTTP, result: engineadapter.Result{
		HTTPStatus: 200,
		RawHTML:    `<html><body><div id="root"></div></body></html>`,
	}}
	browserAdapter := &fakeAdapter{engine: models.EngineBrowser, result: engineadapter.Result{
		Items:      []engineadapter.Item{{"title": "Rendered Widget", "price": "12.00"}},
		HTTPStatus: 200,
		RawHTML:    "<html><h1>Rendered Widget</h1></html>",
	}}

	o := New(st, sessionpool.New(""), eventbus.New(), map[models.Engine]engineadapter.Adapter{
		models.EngineHTTP:    httpAdapter,
		models.EngineBrowser: browserAdapter,
	}, 0)

	if err := o.ExecuteRun(ctx, run.ID); err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}

	got, _ := st.GetRun(ctx, st.DefaultExec(), run.ID)
	if got.Status != models.RunStatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if httpAdapter.calls != 1 || browserAdapter.calls != 1 {
		t.Fatalf("expected one fetch per tier, got http=%d browser=%d", httpAdapter.calls, browserAdapter.calls)
	}
	foundEscalation := false
	for _, a := range got.EngineAttempts {
		if a.Engine == models.EngineHTTP && a.Decision == "escalate:js_app_detected" {
			foundEscalation = true
		}
	}
	if !foundEscalation {
		t.Fatalf("expected an http escalate:js_app_detected attempt, got %+v", got.EngineAttempts)
	}
}

func TestExecuteRunPausesOn403WithoutSession(t *testing.T) {
	ctx := context.Background()
	st, _, run := newFixture(t, models.EngineModeHTTP, false, true)

	httpAdapter := &fakeAdapter{engine: models.EngineHTTP, result: engineadapter.Result{HTTPStatus: 403}}

	o := New(st, sessionpool.New(""), eventbus.New(), map[models.Engine]engineadapter.Adapter{
		models.EngineHTTP: httpAdapter,
	}, 0)

	if err := o.ExecuteRun(ctx, run.ID); err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}

	got, _ := st.GetRun(ctx, st.DefaultExec(), run.ID)
	if got.Status != models.RunStatusWaitingForHuman {
		t.Fatalf("expected waiting_for_human, got %s", got.Status)
	}

	task, err := st.GetActiveInterventionForRun(ctx, st.DefaultExec(), run.ID)
	if err != nil {
		t.Fatalf("GetActiveInterventionForRun: %v", err)
	}
	if task == nil || task.Kind != models.InterventionManualAccess {
		t.Fatalf("expected a manual_access intervention, got %+v", task)
	}
}

func TestExecuteRunCreatesLowConfidenceInterventionButStillCompletes(t *testing.T) {
	ctx := context.Background()
	st, job, run := newFixture(t, models.EngineModeHTTP, false, true)

	// Force the required "title" field to parse as an invalid email so C2
	// scores it below the low-confidence floor without the Run failing.
	fms, err := st.GetFieldMapsForJob(ctx, st.DefaultExec(), job.ID)
	if err != nil {
		t.Fatalf("GetFieldMapsForJob: %v", err)
	}
	fms[0].FieldType = "email"

	httpAdapter := &fakeAdapter{engine: models.EngineHTTP, result: engineadapter.Result{
		Items:      []engineadapter.Item{{"title": "not-an-email", "price": "9.99"}},
		HTTPStatus: 200,
		RawHTML:    "<html></html>",
	}}

	o := New(st, sessionpool.New(""), eventbus.New(), map[models.Engine]engineadapter.Adapter{
		models.EngineHTTP: httpAdapter,
	}, 0)

	if err := o.ExecuteRun(ctx, run.ID); err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}

	got, _ := st.GetRun(ctx, st.DefaultExec(), run.ID)
	if got.Status != models.RunStatusCompleted {
		t.Fatalf("expected completed even with a low-confidence field, got %s", got.Status)
	}
	task, err := st.GetActiveInterventionForRun(ctx, st.DefaultExec(), run.ID)
	if err != nil {
		t.Fatalf("GetActiveInterventionForRun: %v", err)
	}
	if task == nil || task.Kind != models.InterventionFieldConfirm {
		t.Fatalf("expected a field_confirm intervention, got %+v", task)
	}
}

func TestExecuteRunReusesValidStoredSession(t *testing.T) {
	ctx := context.Background()
	st, _, run := newFixture(t, models.EngineModeHTTP, true, true)

	pool := sessionpool.New("")
	pool.Create("example.com", models.DefaultProxyIdentity, []byte("cookie=1"), nil, "agent/1", "1366x768")

	httpAdapter := &fakeAdapter{engine: models.EngineHTTP, result: engineadapter.Result{
		Items:      []engineadapter.Item{{"title": "Widget", "price": "9.99"}},
		HTTPStatus: 200,
		RawHTML:    "<html><h1>Widget</h1></html>",
	}}

	o := New(st, pool, eventbus.New(), map[models.Engine]engineadapter.Adapter{
		models.EngineHTTP: httpAdapter,
	}, 0)
	o.AuthProber = &fakeAuthProber{status: 200}

	if err := o.ExecuteRun(ctx, run.ID); err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}

	got, _ := st.GetRun(ctx, st.DefaultExec(), run.ID)
	if got.Status != models.RunStatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	stats := pool.Stats()
	if stats.Total != 1 {
		t.Fatalf("expected the existing session to be reused, not duplicated; got %d sessions", stats.Total)
	}
}

func TestExecuteRunFailsWhenEscalationBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	st, _, run := newFixture(t, models.EngineModeAuto, false, true)

	httpAdapter := &fakeAdapter{engine: models.EngineHTTP, result: engineadapter.Result{
		HTTPStatus: 200,
		RawHTML:    `<html><body><div id="root"></div></body></html>`,
	}}

	o := New(st, sessionpool.New(""), eventbus.New(), map[models.Engine]engineadapter.Adapter{
		models.EngineHTTP: httpAdapter,
	}, 1)

	if err := o.ExecuteRun(ctx, run.ID); err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}

	got, _ := st.GetRun(ctx, st.DefaultExec(), run.ID)
	if got.Status != models.RunStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.FailureKind == nil || *got.FailureKind != models.FailureMaxEscalations {
		t.Fatalf("expected max_escalations failure kind, got %+v", got.FailureKind)
	}
}

func TestResumeRequeuesRunAfterInterventionResolved(t *testing.T) {
	ctx := context.Background()
	st, _, run := newFixture(t, models.EngineModeHTTP, false, true)

	httpAdapter := &fakeAdapter{engine: models.EngineHTTP, result: engineadapter.Result{HTTPStatus: 403}}
	o := New(st, sessionpool.New(""), eventbus.New(), map[models.Engine]engineadapter.Adapter{
		models.EngineHTTP: httpAdapter,
	}, 0)

	if err := o.ExecuteRun(ctx, run.ID); err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}

	task, err := st.GetActiveInterventionForRun(ctx, st.DefaultExec(), run.ID)
	if err != nil || task == nil {
		t.Fatalf("expected an active intervention, err=%v task=%+v", err, task)
	}
	resolution := map[string]any{
		"domain":         "example.com",
		"proxy_identity": models.DefaultProxyIdentity,
		"cookies":        []byte("cookie=2"),
		"user_agent":     "agent/2",
	}

	if err := o.Resume(ctx, run.ID, resolution); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	got, _ := st.GetRun(ctx, st.DefaultExec(), run.ID)
	if got.Status != models.RunStatusQueued {
		t.Fatalf("expected run requeued to queued, got %s", got.Status)
	}
	resolvedTask, err := st.GetActiveInterventionForRun(ctx, st.DefaultExec(), run.ID)
	if err != nil {
		t.Fatalf("GetActiveInterventionForRun: %v", err)
	}
	if resolvedTask != nil {
		t.Fatalf("expected no more active intervention after resume, got %+v", resolvedTask)
	}
}

var _ store.Store = (*memory.Store)(nil)
