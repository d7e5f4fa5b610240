package orchestrator

import (
	"github.com/linkpellow/scrapegoat/internal/adaptive"
	"github.com/linkpellow/scrapegoat/internal/models"
)

// routeDecision is the outcome of §4.7 step 3: either a tier forced by
// domain policy, or a request to fall through to C4's adaptive bias.
type routeDecision struct {
	Engine models.Engine
	Forced bool
	Reason string
}

// route applies §4.7 step 3's DomainConfig table: public routes AUTO;
// infra forces provider; human domains route AUTO with a session, or
// provider without one once the rolling 403 rate crosses 0.8; anything
// else (including no cached DomainConfig at all, which defaults to
// public behavior) falls through to AUTO.
func route(cfg *models.DomainConfig, hasSession bool) routeDecision {
	if cfg == nil {
		return routeDecision{Forced: false}
	}
	switch cfg.AccessClass {
	case models.AccessClassInfra:
		return routeDecision{Engine: models.EngineProvider, Forced: true, Reason: "infra_domain_forces_provider"}
	case models.AccessClassHuman:
		if hasSession {
			return routeDecision{Forced: false}
		}
		if cfg.Rolling403Rate >= 0.8 {
			return routeDecision{Engine: models.EngineProvider, Forced: true, Reason: "human_domain_high_403_rate"}
		}
		return routeDecision{Forced: false}
	default: // public, or unrecognized
		return routeDecision{Forced: false}
	}
}

// resolveInitialEngine combines the domain-policy route of step 3 with
// C4's adaptive bias: a forced route wins outright; otherwise the Job's
// engine_mode (if it pins a tier) or the adaptive bias supplies the
// starting engine.
func resolveInitialEngine(routeResult routeDecision, bias adaptive.Bias) (models.Engine, string) {
	if routeResult.Forced {
		return routeResult.Engine, routeResult.Reason
	}
	return bias.Engine, bias.Reason
}
