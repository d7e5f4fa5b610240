// Package orchestrator implements C7, the run state machine of §4.7: a
// single entry point, ExecuteRun, that loads a Job and Run, routes to an
// initial engine, drives the escalation loop across C1-C6, and persists
// the outcome. It is the thin glue layer the donor's
// CampaignStateMachine/TransitionManager plays for campaign lifecycle
// transitions, adapted to a single linear run instead of a multi-phase
// campaign.
package orchestrator

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linkpellow/scrapegoat/internal/adaptive"
	"github.com/linkpellow/scrapegoat/internal/classifier"
	"github.com/linkpellow/scrapegoat/internal/constants"
	"github.com/linkpellow/scrapegoat/internal/engineadapter"
	"github.com/linkpellow/scrapegoat/internal/escalation"
	"github.com/linkpellow/scrapegoat/internal/eventbus"
	"github.com/linkpellow/scrapegoat/internal/fieldpipeline"
	"github.com/linkpellow/scrapegoat/internal/intervention"
	"github.com/linkpellow/scrapegoat/internal/models"
	"github.com/linkpellow/scrapegoat/internal/observability"
	"github.com/linkpellow/scrapegoat/internal/runlog"
	"github.com/linkpellow/scrapegoat/internal/sessionpool"
	"github.com/linkpellow/scrapegoat/internal/store"
)

// Orchestrator is the process-wide C7 service; a single instance is
// shared by every worker goroutine pulling run IDs off the broker (§5:
// "one Run per worker", no further parallelism inside a Run).
type Orchestrator struct {
	Store          store.Store
	Sessions       *sessionpool.Pool
	Intel          *adaptive.Intelligence
	Bus            *eventbus.Bus
	Adapters       map[models.Engine]engineadapter.Adapter
	AuthProber     AuthProber
	MaxEscalations int
	Tracer         trace.Tracer
}

// New wires an Orchestrator from its collaborators. MaxEscalations falls
// back to the §4.3/§5 constant when zero.
func New(st store.Store, sessions *sessionpool.Pool, bus *eventbus.Bus, adapters map[models.Engine]engineadapter.Adapter, maxEscalations int) *Orchestrator {
	if maxEscalations <= 0 {
		maxEscalations = constants.MaxEscalations
	}
	return &Orchestrator{
		Store:          st,
		Sessions:       sessions,
		Intel:          adaptive.New(statsStoreAdapter{store: st}, 5*time.Minute),
		Bus:            bus,
		Adapters:       adapters,
		AuthProber:     NewHTTPAuthProber(),
		MaxEscalations: maxEscalations,
		Tracer:         otel.Tracer("scrapegoat-orchestrator"),
	}
}

// ExecuteRun is C7's single entry point (§4.7). It assumes the Run is in
// `queued` and drives it through `running` to a terminal or pausing state
// within this one invocation; `waiting_for_human` -> `queued` happens out
// of band, via Resume.
func (o *Orchestrator) ExecuteRun(ctx context.Context, runID uuid.UUID) (err error) {
	ctx, span := observability.StartSpan(ctx, o.Tracer, "execute_run")
	span.SetAttributes(attribute.String("run.id", runID.String()))
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	exec := o.Store.DefaultExec()

	run, err := o.Store.GetRun(ctx, exec, runID)
	if err != nil {
		return fmt.Errorf("orchestrator: load run %s: %w", runID, err)
	}
	job, err := o.Store.GetJob(ctx, exec, run.JobID)
	if err != nil {
		return fmt.Errorf("orchestrator: load job %s: %w", run.JobID, err)
	}
	fieldMaps, err := o.Store.GetFieldMapsForJob(ctx, exec, job.ID)
	if err != nil {
		return fmt.Errorf("orchestrator: load field maps for job %s: %w", job.ID, err)
	}

	if err := o.Store.UpdateRunStatus(ctx, exec, run.ID, models.RunStatusRunning, nil, ""); err != nil {
		return fmt.Errorf("orchestrator: transition run %s to running: %w", run.ID, err)
	}
	run.Status = models.RunStatusRunning
	o.Bus.Publish(eventbus.Event{Type: eventbus.TopicRunStarted, JobID: job.ID, RunID: run.ID})
	o.event(ctx, exec, job.ID, run.ID, "info", "run_started", map[string]any{"target_url": job.TargetURL})

	domain := domainOf(job.TargetURL)
	selectorMap := buildSelectorMap(*job, fieldMaps)
	requiredSelectors := countRequiredSelectors(selectorMap)

	// Step 2: auth probe.
	if job.RequiresAuth {
		session := o.Sessions.Get(domain, models.DefaultProxyIdentity)
		status, probeErr := o.AuthProber.Probe(ctx, rootOf(job.TargetURL), session)
		if probeErr != nil || probeInvalid(status) {
			kind := models.InterventionManualAccess
			reason := "missing_session_for_auth_required_job"
			if session != nil {
				kind = models.InterventionLoginRefresh
				reason = "stored_session_rejected"
			}
			return o.pause(ctx, exec, job, run, intervention.Spec{
				Kind:          kind,
				Priority:      models.PriorityCritical,
				TriggerReason: reason,
				Payload: map[string]any{
					"domain":      domain,
					"target_url":  job.TargetURL,
					"probe_status": status,
				},
			})
		}
	}

	// Step 3: routing.
	domainCfg, err := o.Store.GetDomainConfig(ctx, exec, domain)
	if err != nil {
		return fmt.Errorf("orchestrator: load domain config for %s: %w", domain, err)
	}
	hasSession := o.Sessions.Get(domain, models.DefaultProxyIdentity) != nil
	routeResult := route(domainCfg, hasSession)

	bias := adaptive.Bias{}
	if !routeResult.Forced {
		bias, err = o.Intel.BiasInitialEngine(ctx, domain, job.EngineMode)
		if err != nil {
			return fmt.Errorf("orchestrator: adaptive bias for %s: %w", domain, err)
		}
	}
	currentEngine, biasReason := resolveInitialEngine(routeResult, bias)
	if currentEngine == "" {
		currentEngine = models.EngineHTTP
	}
	run.ResolvedStrategy = currentEngine
	if biasReason != "" {
		o.event(ctx, exec, job.ID, run.ID, "info", "engine_biased", map[string]any{"engine": currentEngine, "reason": biasReason})
	}

	// Step 4: escalation loop.
	escalationCount := 0
	for attemptIdx := 0; attemptIdx < o.MaxEscalations; attemptIdx++ {
		adapter, ok := o.Adapters[currentEngine]
		if !ok {
			return fmt.Errorf("orchestrator: no adapter registered for engine %q", currentEngine)
		}

		session := o.Sessions.Get(domain, models.DefaultProxyIdentity)
		req := engineadapter.Request{
			URL:         job.TargetURL,
			SelectorMap: selectorMap,
			Session:     session,
			Profile:     job.Profile,
			CrawlMode:   job.CrawlMode,
			ListConfig:  job.ListConfig,
		}

		result, fetchErr := adapter.Fetch(ctx, req)
		if fetchErr != nil {
			class := classifier.FromError(fetchErr)
			run.AppendAttempt(models.EngineAttempt{
				Engine: currentEngine, Decision: "fail:" + string(class.Kind),
				Signals: []string{"exception"}, Success: false,
			})
			if job.EngineMode.Forced() {
				o.onFailureSession(domain, session)
				return o.fail(ctx, exec, job, run, class.Kind, class.Message)
			}
			next, ok := currentEngine.Next()
			if !ok {
				o.onFailureSession(domain, session)
				return o.fail(ctx, exec, job, run, class.Kind, class.Message)
			}
			o.onFailureSession(domain, session)
			currentEngine = next
			escalationCount++
			continue
		}

		if len(result.Items) > 0 {
			return o.succeed(ctx, exec, job, run, domain, currentEngine, session, result, fieldMaps, selectorMap, escalationCount)
		}

		// Empty items: ask the escalation policy.
		decision := escalation.Decide(escalation.Input{
			CurrentEngine:         currentEngine,
			EngineMode:            job.EngineMode,
			HTML:                  result.RawHTML,
			HTTPStatus:            result.HTTPStatus,
			ExtractedCount:        0,
			RequiredSelectorCount: requiredSelectors,
			NavigationFailed:      navigationFailed(result),
			CaptchaDetected:       detectCaptcha(result.RawHTML),
		})
		if decision != nil {
			run.AppendAttempt(models.EngineAttempt{
				Engine: currentEngine, Status: result.HTTPStatus, Signals: decision.Signals,
				Decision: "escalate:" + decision.Reason, Success: false,
			})
			o.event(ctx, exec, job.ID, run.ID, "info", "run_escalated", map[string]any{"from": decision.From, "to": decision.To, "reason": decision.Reason})
			o.Bus.Publish(eventbus.Event{Type: eventbus.TopicRunProgress, JobID: job.ID, RunID: run.ID, Data: map[string]any{"escalated_to": decision.To, "reason": decision.Reason}})
			currentEngine = decision.To
			escalationCount++
			continue
		}

		// No more escalation: consult the block classifier.
		blockDecision := intervention.ClassifyBlock(result.HTTPStatus, "", session != nil, isPublicDomain(domainCfg), true)
		run.AppendAttempt(models.EngineAttempt{
			Engine: currentEngine, Status: result.HTTPStatus,
			Decision: "fail:" + blockDecision.Reason, Success: false,
		})
		if blockDecision.ShouldPause {
			o.onFailureSession(domain, session)
			return o.pause(ctx, exec, job, run, intervention.Spec{
				Kind:          models.InterventionKindEnum(blockDecision.Kind),
				Priority:      priorityForBlockKind(blockDecision.Kind),
				TriggerReason: blockDecision.Reason,
				Payload: map[string]any{
					"domain":      domain,
					"status":      result.HTTPStatus,
					"target_url":  job.TargetURL,
				},
			})
		}
		o.onFailureSession(domain, session)
		class := classifier.FromStatus(result.HTTPStatus, "")
		return o.fail(ctx, exec, job, run, class.Kind, class.Message)
	}

	return o.fail(ctx, exec, job, run, models.FailureMaxEscalations, "escalation budget exhausted without a successful extraction")
}

func (o *Orchestrator) onFailureSession(domain string, session *models.SessionVault) {
	if session != nil {
		o.Sessions.MarkFailure(domain, models.DefaultProxyIdentity)
	}
}

// succeed implements §4.7 step 4.2: run extracted items through C2,
// scan for at most one low-confidence/selector-drift intervention,
// persist Records and transition to completed.
func (o *Orchestrator) succeed(ctx context.Context, exec store.Querier, job *models.Job, run *models.Run, domain string, engine models.Engine, session *models.SessionVault, result engineadapter.Result, fieldMaps []*models.FieldMap, selectorMap map[string]string, escalationCount int) error {
	fieldByName := make(map[string]*models.FieldMap, len(fieldMaps))
	for _, fm := range fieldMaps {
		fieldByName[fm.FieldName] = fm
	}

	records := make([]*models.Record, 0, len(result.Items))
	for _, item := range result.Items {
		rec := &models.Record{ID: uuid.New(), RunID: run.ID, Fields: make(map[string]models.FieldResult, len(selectorMap))}
		for fieldName := range selectorMap {
			fm := fieldByName[fieldName]
			fieldType := "string"
			var smartConfig models.SmartConfig
			var rules models.ValidationRules
			if fm != nil {
				fieldType = fm.FieldType
				smartConfig = fm.SmartConfig
				rules = fm.ValidationRules
			}
			fr := fieldpipeline.Process(fieldpipeline.Input{
				FieldName:       fieldName,
				Raw:             item[fieldName],
				FieldType:       fieldType,
				SmartConfig:     smartConfig,
				ValidationRules: rules,
				Context:         fieldpipeline.Context{PageHTML: result.RawHTML, Timezone: smartConfig.Timezone},
			})
			rec.Fields[fieldName] = fr
		}
		records = append(records, rec)
	}

	if spec, ok := scanForIntervention(records, fieldByName, result.Items, result.RawHTML); ok {
		if _, err := intervention.Create(ctx, interventionStoreAdapter{store: o.Store}, job.ID, run.ID, spec); err != nil {
			runlog.Printf(runlog.LevelWarn, "orchestrator: could not create intervention for run %s: %v", run.ID, err)
		} else {
			o.Bus.Publish(eventbus.Event{Type: eventbus.TopicInterventionCreated, JobID: job.ID, RunID: run.ID, Data: map[string]any{"kind": spec.Kind}})
		}
	}

	run.AppendAttempt(models.EngineAttempt{Engine: engine, Status: result.HTTPStatus, Decision: "success", Success: true})
	if err := o.Store.AppendEngineAttempts(ctx, exec, run.ID, run.EngineAttempts); err != nil {
		return fmt.Errorf("orchestrator: persist engine attempts for run %s: %w", run.ID, err)
	}

	if session != nil {
		o.Sessions.MarkSuccess(domain, models.DefaultProxyIdentity, detectCaptcha(result.RawHTML))
	} else if result.Session != nil {
		o.Sessions.Create(domain, models.DefaultProxyIdentity, result.Session.Cookies, result.Session.StorageState, result.Session.UserAgent, result.Session.Viewport)
	}

	if err := o.Store.PersistRecordsAndComplete(ctx, run.ID, records); err != nil {
		return fmt.Errorf("orchestrator: persist records for run %s: %w", run.ID, err)
	}

	if err := o.Intel.RecordOutcome(ctx, domain, engine, true, len(records), escalationCount, 1.0); err != nil {
		runlog.Printf(runlog.LevelWarn, "orchestrator: record adaptive outcome for run %s: %v", run.ID, err)
	}

	o.event(ctx, exec, job.ID, run.ID, "info", "run_completed", map[string]any{"records": len(records), "engine": engine})
	o.Bus.Publish(eventbus.Event{Type: eventbus.TopicRunCompleted, JobID: job.ID, RunID: run.ID, Data: map[string]any{"records": len(records)}})
	return nil
}

// fail transitions run to `failed`, honoring §4.7 step 5's rule that an
// auth-related terminal kind also gets a login_refresh intervention —
// and §4.6's HardBlock classifier: a run whose attempts log shows
// repeated blocking pauses for manual access instead of failing outright.
func (o *Orchestrator) fail(ctx context.Context, exec store.Querier, job *models.Job, run *models.Run, kind models.FailureKind, message string) error {
	if spec := intervention.HardBlock(run.EngineAttempts, *job, *run); spec != nil {
		return o.pause(ctx, exec, job, run, *spec)
	}

	if err := o.Store.AppendEngineAttempts(ctx, exec, run.ID, run.EngineAttempts); err != nil {
		runlog.Printf(runlog.LevelWarn, "orchestrator: persist engine attempts for failed run %s: %v", run.ID, err)
	}
	if err := o.Store.UpdateRunStatus(ctx, exec, run.ID, models.RunStatusFailed, &kind, message); err != nil {
		return fmt.Errorf("orchestrator: transition run %s to failed: %w", run.ID, err)
	}

	if spec := intervention.AuthExpired(kind, *job, *run); spec != nil {
		if _, err := intervention.Create(ctx, interventionStoreAdapter{store: o.Store}, job.ID, run.ID, *spec); err != nil {
			runlog.Printf(runlog.LevelWarn, "orchestrator: could not create auth-expired intervention for run %s: %v", run.ID, err)
		} else {
			o.Bus.Publish(eventbus.Event{Type: eventbus.TopicInterventionCreated, JobID: job.ID, RunID: run.ID, Data: map[string]any{"kind": spec.Kind}})
		}
	}

	domain := domainOf(job.TargetURL)
	if err := o.Intel.RecordOutcome(ctx, domain, run.ResolvedStrategy, false, 0, 0, 1.0); err != nil {
		runlog.Printf(runlog.LevelWarn, "orchestrator: record adaptive outcome for run %s: %v", run.ID, err)
	}

	o.event(ctx, exec, job.ID, run.ID, "error", "run_failed", map[string]any{"failure_kind": kind, "error_message": message})
	o.Bus.Publish(eventbus.Event{Type: eventbus.TopicRunFailed, JobID: job.ID, RunID: run.ID, Data: map[string]any{"failure_kind": kind}})
	return nil
}

// pause transitions run to `waiting_for_human` and creates the pausing
// InterventionTask (§4.7: a pausable block never fails the Run outright).
func (o *Orchestrator) pause(ctx context.Context, exec store.Querier, job *models.Job, run *models.Run, spec intervention.Spec) error {
	if err := o.Store.AppendEngineAttempts(ctx, exec, run.ID, run.EngineAttempts); err != nil {
		runlog.Printf(runlog.LevelWarn, "orchestrator: persist engine attempts before pause for run %s: %v", run.ID, err)
	}
	task, err := intervention.Create(ctx, interventionStoreAdapter{store: o.Store}, job.ID, run.ID, spec)
	if err != nil {
		return fmt.Errorf("orchestrator: create intervention for run %s: %w", run.ID, err)
	}
	if err := o.Store.UpdateRunStatus(ctx, exec, run.ID, models.RunStatusWaitingForHuman, nil, ""); err != nil {
		return fmt.Errorf("orchestrator: transition run %s to waiting_for_human: %w", run.ID, err)
	}
	o.event(ctx, exec, job.ID, run.ID, "warn", "run_paused", map[string]any{"intervention_kind": spec.Kind, "trigger_reason": spec.TriggerReason})
	o.Bus.Publish(eventbus.Event{Type: eventbus.TopicInterventionCreated, JobID: job.ID, RunID: run.ID, Data: map[string]any{"task_id": task.ID, "kind": spec.Kind}})
	return nil
}

// event records one RunEvent both to the durable append-only log (§3)
// and to the process-wide analytics stream, matching the donor's pattern
// of pairing a DB-backed audit row with an ExtractionLogger line.
func (o *Orchestrator) event(ctx context.Context, exec store.Querier, jobID, runID uuid.UUID, level, eventType string, data map[string]any) {
	runlog.Global.Log("orchestrator", eventType, mergeJobRun(jobID, runID, data))
	re := &models.RunEvent{
		ID:        uuid.New(),
		RunID:     runID,
		Level:     level,
		Message:   eventType,
		Meta:      data,
		Timestamp: time.Now().UTC(),
	}
	if err := o.Store.CreateRunEvent(ctx, exec, re); err != nil {
		runlog.Printf(runlog.LevelWarn, "orchestrator: persist run event %q for run %s: %v", eventType, runID, err)
	}
}

func mergeJobRun(jobID, runID uuid.UUID, data map[string]any) map[string]any {
	out := make(map[string]any, len(data)+2)
	for k, v := range data {
		out[k] = v
	}
	out["job_id"] = jobID
	out["run_id"] = runID
	return out
}

func priorityForBlockKind(kind string) models.PriorityEnum {
	switch kind {
	case string(models.InterventionManualAccess), string(models.InterventionCaptchaSolve):
		return models.PriorityHigh
	case string(models.InterventionLoginRefresh):
		return models.PriorityCritical
	default:
		return models.PriorityNormal
	}
}

func isPublicDomain(cfg *models.DomainConfig) bool {
	return cfg == nil || cfg.AccessClass == models.AccessClassPublic
}

// buildSelectorMap resolves one selector per field named in the Job,
// falling back to FieldMap.Selector when present and DefaultSelector
// otherwise (§4.7 step 1).
func buildSelectorMap(job models.Job, fieldMaps []*models.FieldMap) map[string]string {
	byName := make(map[string]*models.FieldMap, len(fieldMaps))
	for _, fm := range fieldMaps {
		byName[fm.FieldName] = fm
	}
	selectorMap := make(map[string]string, len(job.Fields))
	for _, field := range job.Fields {
		if fm, ok := byName[field]; ok && fm.Selector != "" {
			selectorMap[field] = fm.Selector
			continue
		}
		selectorMap[field] = models.DefaultSelector(field)
	}
	return selectorMap
}

func countRequiredSelectors(selectorMap map[string]string) int {
	count := 0
	for _, sel := range selectorMap {
		if sel != "" {
			count++
		}
	}
	return count
}

// scanForIntervention implements the "scan for low-confidence
// interventions (create at most one per run, then break)" rule of §4.7
// step 4.2, preferring a selector-drift signal (a required field that
// matched in zero items) over a per-record low-confidence one.
func scanForIntervention(records []*models.Record, fieldByName map[string]*models.FieldMap, items []engineadapter.Item, html string) (intervention.Spec, bool) {
	for fieldName, fm := range fieldByName {
		if fm == nil || !fm.ValidationRules.Required {
			continue
		}
		matched := 0
		for _, item := range items {
			if item[fieldName] != "" {
				matched++
			}
		}
		if matched == 0 {
			if spec := intervention.SelectorDrift(fieldName, fm.Selector, fm.SelectorVersion, nil, html, 0); spec != nil {
				return *spec, true
			}
		}
	}

	for _, rec := range records {
		for fieldName, fr := range rec.Fields {
			fm := fieldByName[fieldName]
			isRequired := fm != nil && fm.ValidationRules.Required
			if spec := intervention.LowConfidence(fieldName, fr, isRequired); spec != nil {
				return *spec, true
			}
		}
	}
	return intervention.Spec{}, false
}

var captchaWidgetMarkers = []string{"recaptcha", "g-recaptcha", "h-captcha", "hcaptcha"}

func detectCaptcha(html string) bool {
	lower := strings.ToLower(html)
	for _, m := range captchaWidgetMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// navigationFailed heuristically flags a successful adapter call (no Go
// error) that nonetheless produced nothing usable: no status and no body,
// as distinct from a real 4xx/5xx response.
func navigationFailed(result engineadapter.Result) bool {
	return result.HTTPStatus == 0 && strings.TrimSpace(result.RawHTML) == ""
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Hostname()
}

func rootOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Scheme + "://" + u.Host + "/"
}
