package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/linkpellow/scrapegoat/internal/eventbus"
	"github.com/linkpellow/scrapegoat/internal/intervention"
	"github.com/linkpellow/scrapegoat/internal/models"
)

// Resume implements the waiting_for_human -> queued half of §4.7: a human
// has resolved the active InterventionTask for runID through the
// out-of-scope HTTP API (§1), which hands the resolution payload to this
// method. Resume applies the resolution (a new FieldMap/SessionVault
// version, per §4.6) and requeues the Run for another ExecuteRun pass. It
// does not call ExecuteRun itself — re-enqueueing is the broker's job,
// matching the worker loop's "pull one run ID at a time" shape (§5).
func (o *Orchestrator) Resume(ctx context.Context, runID uuid.UUID, resolution map[string]any) error {
	exec := o.Store.DefaultExec()

	if resolution == nil {
		return fmt.Errorf("orchestrator: cannot resume run %s with no resolution payload", runID)
	}

	task, err := o.Store.GetActiveInterventionForRun(ctx, exec, runID)
	if err != nil {
		return fmt.Errorf("orchestrator: load active intervention for run %s: %w", runID, err)
	}
	if task == nil {
		return fmt.Errorf("orchestrator: run %s has no active intervention to resume from", runID)
	}
	task.Resolution = resolution

	run, err := o.Store.GetRun(ctx, exec, runID)
	if err != nil {
		return fmt.Errorf("orchestrator: load run %s: %w", runID, err)
	}
	job, err := o.Store.GetJob(ctx, exec, run.JobID)
	if err != nil {
		return fmt.Errorf("orchestrator: load job %s: %w", run.JobID, err)
	}

	if err := intervention.ApplyResolution(ctx, interventionStoreAdapter{store: o.Store}, task, *job); err != nil {
		return fmt.Errorf("orchestrator: apply resolution for intervention %s: %w", task.ID, err)
	}

	if err := o.Store.UpdateInterventionStatus(ctx, exec, task.ID, models.InterventionStatusCompleted, task.Resolution); err != nil {
		return fmt.Errorf("orchestrator: mark intervention %s completed: %w", task.ID, err)
	}

	if err := o.Store.UpdateRunStatus(ctx, exec, run.ID, models.RunStatusQueued, nil, ""); err != nil {
		return fmt.Errorf("orchestrator: requeue run %s: %w", run.ID, err)
	}

	o.event(ctx, exec, job.ID, run.ID, "info", "run_resumed", map[string]any{"intervention_id": task.ID, "intervention_kind": task.Kind})
	o.Bus.Publish(eventbus.Event{
		Type:  eventbus.TopicInterventionResolved,
		JobID: job.ID,
		RunID: run.ID,
		Data:  map[string]any{"intervention_id": task.ID, "kind": task.Kind},
	})
	return nil
}

// ExpireStaleInterventions wraps the repository's expiry sweep (§4.6: a
// pending InterventionTask past its ExpiresAt is moved to expired rather
// than left pending forever) so a worker can schedule it on a ticker
// without reaching into the store package directly.
func (o *Orchestrator) ExpireStaleInterventions(ctx context.Context) (int64, error) {
	n, err := o.Store.ExpirePendingInterventions(ctx, o.Store.DefaultExec())
	if err != nil {
		return 0, fmt.Errorf("orchestrator: expire pending interventions: %w", err)
	}
	return n, nil
}
