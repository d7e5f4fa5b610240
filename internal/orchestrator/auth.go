package orchestrator

import (
	"context"
	"net/http"
	"time"

	"github.com/linkpellow/scrapegoat/internal/models"
)

// AuthProber probes whether a stored session is still valid against a
// domain's root, per §4.7 step 2 ("probe a stored session via a HEAD to
// the domain root"). Implementations never return a transport error for
// a normal blocked response; the status code alone conveys it, matching
// the engine adapter contract's conventions (§6).
type AuthProber interface {
	Probe(ctx context.Context, rootURL string, session *models.SessionVault) (status int, err error)
}

// HTTPAuthProber is the default AuthProber: a plain HEAD request.
type HTTPAuthProber struct {
	client *http.Client
}

// NewHTTPAuthProber builds an HTTPAuthProber with a short, fixed timeout —
// an auth probe should never be as expensive as a full fetch.
func NewHTTPAuthProber() *HTTPAuthProber {
	return &HTTPAuthProber{client: &http.Client{Timeout: 10 * time.Second}}
}

func (p *HTTPAuthProber) Probe(ctx context.Context, rootURL string, session *models.SessionVault) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rootURL, nil)
	if err != nil {
		return 0, err
	}
	if session != nil && len(session.Cookies) > 0 {
		req.Header.Set("Cookie", string(session.Cookies))
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// probeInvalid reports whether a probe status counts as "invalid" per
// §4.7 step 2 (401/403 means the stored session, if any, no longer
// authenticates).
func probeInvalid(status int) bool {
	return status == 401 || status == 403
}
