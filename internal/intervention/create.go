package intervention

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/linkpellow/scrapegoat/internal/hilr"
	"github.com/linkpellow/scrapegoat/internal/models"
)

// Store is the narrow slice of the repository contract (§6) this package
// needs: persisting a new InterventionTask and, on resolution, the new
// versions it produces. The full contract lives in internal/store.
type Store interface {
	CreateInterventionTask(ctx context.Context, task *models.InterventionTask) error
	CreateFieldMapVersion(ctx context.Context, fm *models.FieldMap) error
	CreateSessionVaultEntry(ctx context.Context, sv *models.SessionVault) error
	hilr.Store
}

// Create persists a new pending InterventionTask for runID from a
// classifier Spec (§4.6 constructor).
func Create(ctx context.Context, store Store, jobID, runID uuid.UUID, spec Spec) (*models.InterventionTask, error) {
	now := time.Now().UTC()
	task := &models.InterventionTask{
		ID:            uuid.New(),
		RunID:         runID,
		Kind:          spec.Kind,
		Status:        models.InterventionStatusPending,
		TriggerReason: spec.TriggerReason,
		Priority:      spec.Priority,
		Payload:       spec.Payload,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if task.Payload == nil {
		task.Payload = map[string]any{}
	}
	task.Payload["job_id"] = jobID
	if err := store.CreateInterventionTask(ctx, task); err != nil {
		return nil, fmt.Errorf("intervention: persist task for run %s: %w", runID, err)
	}
	return task, nil
}

// ApplyResolution mutates system state from a human's resolution of task,
// always by creating a new version rather than editing historical rows
// (§4.6: "new FieldMap selector version; new SessionVault entry; new rule
// candidate").
func ApplyResolution(ctx context.Context, store Store, task *models.InterventionTask, job models.Job) error {
	if task.Resolution == nil {
		return fmt.Errorf("intervention: cannot apply resolution for task %s: no resolution payload", task.ID)
	}

	switch task.Kind {
	case models.InterventionSelectorFix:
		return applySelectorFix(ctx, store, task, job)
	case models.InterventionLoginRefresh:
		return applyLoginRefresh(ctx, store, task)
	case models.InterventionManualAccess:
		return applyLoginRefresh(ctx, store, task)
	case models.InterventionFieldConfirm, models.InterventionCaptchaSolve:
		// These resolutions never mint a new FieldMap/SessionVault version
		// directly; instead they feed the HILR engine, which clusters
		// repeated resolutions into a rule candidate (§4.6's third outcome).
		domain, _ := task.Payload["domain"].(string)
		if domain == "" {
			domain = domainOf(job.TargetURL)
		}
		_, err := hilr.DetectAndRecord(ctx, store, task.Kind, task.Payload, task.Resolution, domain, task.ID, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("intervention: detect rule candidate for task %s: %w", task.ID, err)
		}
		return nil
	default:
		return fmt.Errorf("intervention: unrecognized task kind %q", task.Kind)
	}
}

func applySelectorFix(ctx context.Context, store Store, task *models.InterventionTask, job models.Job) error {
	fieldName, _ := task.Payload["field_name"].(string)
	newSelector, ok := task.Resolution["new_selector"].(string)
	if !ok || newSelector == "" {
		return fmt.Errorf("intervention: selector_fix resolution for task %s missing new_selector", task.ID)
	}
	oldSelector, _ := task.Payload["old_selector"].(string)
	oldVersion := payloadInt(task.Payload["old_selector_version"])
	newVersion := oldVersion + 1

	fm := &models.FieldMap{
		ID:              uuid.New(),
		JobID:           job.ID,
		FieldName:       fieldName,
		Selector:        newSelector,
		SelectorVersion: newVersion,
		SelectorHistory: []models.SelectorHistoryEntry{{
			Selector:  oldSelector,
			Version:   oldVersion,
			ChangedAt: time.Now().UTC(),
			ChangedBy: fmt.Sprintf("human:%s", task.ID),
			Diff:      diffSelectors(oldSelector, newSelector),
		}},
	}
	if err := store.CreateFieldMapVersion(ctx, fm); err != nil {
		return fmt.Errorf("intervention: create field map version for task %s: %w", task.ID, err)
	}
	return nil
}

func applyLoginRefresh(ctx context.Context, store Store, task *models.InterventionTask) error {
	domain, _ := task.Resolution["domain"].(string)
	proxyIdentity, _ := task.Resolution["proxy_identity"].(string)
	if proxyIdentity == "" {
		proxyIdentity = models.DefaultProxyIdentity
	}
	cookies, _ := task.Resolution["cookies"].([]byte)
	storageState, _ := task.Resolution["storage_state"].([]byte)
	userAgent, _ := task.Resolution["user_agent"].(string)

	sv := &models.SessionVault{
		Key:          models.SessionKey{Domain: domain, ProxyIdentity: proxyIdentity},
		Cookies:      cookies,
		StorageState: storageState,
		UserAgent:    userAgent,
		FirstSeen:    time.Now().UTC(),
	}
	if err := store.CreateSessionVaultEntry(ctx, sv); err != nil {
		return fmt.Errorf("intervention: create session vault entry for task %s: %w", task.ID, err)
	}
	return nil
}

// payloadInt recovers an integer stashed in a map[string]any payload
// regardless of whether it arrived as a Go int (freshly built in-process)
// or a float64 (round-tripped through encoding/json, which decodes all
// JSON numbers as float64 into an untyped map).
func payloadInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	default:
		return 0
	}
}

// domainOf mirrors orchestrator.domainOf for resolutions whose payload
// didn't already carry a domain key.
func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Hostname()
}

func diffSelectors(oldSelector, newSelector string) string {
	if oldSelector == "" {
		return fmt.Sprintf("(none) -> %s", newSelector)
	}
	return fmt.Sprintf("%s -> %s", oldSelector, newSelector)
}
