package engineadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/playwright-community/playwright-go"

	"github.com/linkpellow/scrapegoat/internal/constants"
	"github.com/linkpellow/scrapegoat/internal/models"
)

// BrowserAdapter is the middle engine tier: a real browser navigation via
// playwright-go, with a JSON-LD entity extraction pass ahead of the
// selector-map fallback, and session capture when none was supplied (§6).
type BrowserAdapter struct {
	pw      *playwright.Playwright
	browser playwright.Browser
}

// NewBrowserAdapter launches a shared Chromium instance. Callers own the
// adapter's lifetime and should Close it on shutdown.
func NewBrowserAdapter() (*BrowserAdapter, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("engineadapter(browser): start playwright: %w", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("engineadapter(browser): launch chromium: %w", err)
	}
	return &BrowserAdapter{pw: pw, browser: browser}, nil
}

func (a *BrowserAdapter) Close() error {
	if err := a.browser.Close(); err != nil {
		return err
	}
	return a.pw.Stop()
}

func (a *BrowserAdapter) Engine() models.Engine { return models.EngineBrowser }

func (a *BrowserAdapter) Fetch(ctx context.Context, req Request) (Result, error) {
	contextOpts := playwright.BrowserNewContextOptions{}
	if req.Profile != nil {
		if req.Profile.UserAgent != "" {
			contextOpts.UserAgent = playwright.String(req.Profile.UserAgent)
		}
		if req.Profile.Locale != "" {
			contextOpts.Locale = playwright.String(req.Profile.Locale)
		}
	}

	bctx, err := a.browser.NewContext(contextOpts)
	if err != nil {
		return Result{}, fmt.Errorf("engineadapter(browser): new context: %w", err)
	}
	defer bctx.Close()

	if req.Session != nil && len(req.Session.StorageState) > 0 {
		// playwright-go accepts storage state as a JSON-serialized blob
		// at context-creation time in newer APIs; here we restore cookies
		// individually since that is the stable cross-version path.
		var cookies []playwright.OptionalCookie
		if err := json.Unmarshal(req.Session.StorageState, &cookies); err == nil {
			_ = bctx.AddCookies(cookies)
		}
	}

	page, err := bctx.NewPage()
	if err != nil {
		return Result{}, fmt.Errorf("engineadapter(browser): new page: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, constants.BrowserNavigationTimeout)
	defer cancel()
	_ = navCtx

	resp, err := page.Goto(req.URL, playwright.PageGotoOptions{
		Timeout: playwright.Float(float64(constants.BrowserNavigationTimeout.Milliseconds())),
	})
	if err != nil {
		return Result{}, fmt.Errorf("engineadapter(browser): navigation failed: %w", err)
	}

	status := 0
	if resp != nil {
		status = resp.Status()
	}

	html, err := page.Content()
	if err != nil {
		return Result{}, fmt.Errorf("engineadapter(browser): read content: %w", err)
	}

	result := Result{RawHTML: html, HTTPStatus: status}
	if status == 401 || status == 403 || status == 429 {
		return result, nil
	}

	if items := extractJSONLDEntity(html, req.SelectorMap); len(items) > 0 {
		result.Items = items
	} else {
		items, err := extractSelectorMap(html, req.SelectorMap, req.CrawlMode, req.ListConfig)
		if err != nil {
			return result, fmt.Errorf("engineadapter(browser): extract selectors: %w", err)
		}
		result.Items = items
	}

	if req.Session == nil {
		if captured := captureSession(bctx, req.URL); captured != nil {
			result.Session = captured
		}
	}

	return result, nil
}

// extractJSONLDEntity looks for a schema.org Person/Organization node and
// maps its well-known properties onto the field names the selector map
// already knows about, giving structured data priority over scraping
// (§6: "attempts a JSON-LD Person/entity extraction before falling back").
func extractJSONLDEntity(html string, selectorMap map[string]string) []Item {
	const marker = `application/ld+json`
	idx := strings.Index(html, marker)
	if idx == -1 {
		return nil
	}

	start := strings.Index(html[idx:], ">")
	if start == -1 {
		return nil
	}
	rest := html[idx+start+1:]
	end := strings.Index(rest, "</script>")
	if end == -1 {
		return nil
	}
	raw := rest[:end]

	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil
	}
	typeName, _ := payload["@type"].(string)
	if typeName != "Person" && typeName != "Organization" {
		return nil
	}

	item := Item{}
	for field := range selectorMap {
		if v, ok := payload[field]; ok {
			if s, ok := v.(string); ok && s != "" {
				item[field] = s
			}
		}
	}
	if v, ok := payload["name"].(string); ok {
		if _, hasName := selectorMap["person_name"]; hasName {
			item["person_name"] = v
		}
		if _, hasTitle := selectorMap["title"]; hasTitle {
			item["title"] = v
		}
	}
	if len(item) == 0 {
		return nil
	}
	return []Item{item}
}

func captureSession(bctx playwright.BrowserContext, targetURL string) *models.SessionVault {
	cookies, err := bctx.Cookies()
	if err != nil || len(cookies) == 0 {
		return nil
	}
	encoded, err := json.Marshal(cookies)
	if err != nil {
		return nil
	}
	return &models.SessionVault{
		StorageState: encoded,
	}
}
