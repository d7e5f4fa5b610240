// Package engineadapter implements the three engine tiers behind a single
// contract (§6): http, browser, provider. Adapters never raise for a
// blocked status; 401/403/429 are conveyed through Result.HTTPStatus like
// any other response.
package engineadapter

import (
	"context"

	"github.com/linkpellow/scrapegoat/internal/models"
)

// Item is one raw extracted record: field name to raw string, before C2
// parsing runs over it.
type Item map[string]string

// Result is the uniform adapter return value of §6.
type Result struct {
	Items      []Item
	RawHTML    string
	HTTPStatus int
	Session    *models.SessionVault // non-nil only when the browser adapter captured a fresh one
}

// Request bundles everything an adapter needs for one attempt.
type Request struct {
	URL          string
	SelectorMap  map[string]string
	Session      *models.SessionVault
	Profile      *models.BrowserProfile
	CrawlMode    models.CrawlModeEnum
	ListConfig   *models.ListConfig
}

// Adapter is the uniform engine contract implemented by http, browser, and
// provider tiers.
type Adapter interface {
	Fetch(ctx context.Context, req Request) (Result, error)
	Engine() models.Engine
}
