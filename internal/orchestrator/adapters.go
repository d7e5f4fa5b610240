package orchestrator

import (
	"context"

	"github.com/linkpellow/scrapegoat/internal/models"
	"github.com/linkpellow/scrapegoat/internal/store"
)

// statsStoreAdapter narrows store.Store to adaptive.StatsStore, supplying
// the repository's default (non-transactional) Querier so C4 doesn't need
// to know about the exec parameter §6's repository contract carries.
type statsStoreAdapter struct {
	store store.Store
}

func (a statsStoreAdapter) GetDomainStats(ctx context.Context, domain string, engine models.Engine) (*models.DomainStats, error) {
	return a.store.GetDomainStats(ctx, a.store.DefaultExec(), domain, engine)
}

func (a statsStoreAdapter) UpsertDomainStats(ctx context.Context, stats *models.DomainStats) error {
	return a.store.UpsertDomainStats(ctx, a.store.DefaultExec(), stats)
}

// interventionStoreAdapter narrows store.Store to intervention.Store for
// the same reason.
type interventionStoreAdapter struct {
	store store.Store
}

func (a interventionStoreAdapter) CreateInterventionTask(ctx context.Context, task *models.InterventionTask) error {
	return a.store.CreateInterventionTask(ctx, a.store.DefaultExec(), task)
}

func (a interventionStoreAdapter) CreateFieldMapVersion(ctx context.Context, fm *models.FieldMap) error {
	return a.store.CreateFieldMapVersion(ctx, a.store.DefaultExec(), fm)
}

func (a interventionStoreAdapter) CreateSessionVaultEntry(ctx context.Context, sv *models.SessionVault) error {
	return a.store.CreateSessionVaultEntry(ctx, a.store.DefaultExec(), sv)
}

func (a interventionStoreAdapter) ListRuleCandidates(ctx context.Context, ruleType models.RuleCandidateTypeEnum, statuses []models.RuleCandidateStatusEnum) ([]*models.RuleCandidate, error) {
	return a.store.ListRuleCandidates(ctx, a.store.DefaultExec(), ruleType, statuses)
}

func (a interventionStoreAdapter) CreateRuleCandidate(ctx context.Context, rc *models.RuleCandidate) error {
	return a.store.CreateRuleCandidate(ctx, a.store.DefaultExec(), rc)
}

func (a interventionStoreAdapter) UpdateRuleCandidate(ctx context.Context, rc *models.RuleCandidate) error {
	return a.store.UpdateRuleCandidate(ctx, a.store.DefaultExec(), rc)
}
