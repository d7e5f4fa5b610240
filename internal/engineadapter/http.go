package engineadapter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/linkpellow/scrapegoat/internal/constants"
	"github.com/linkpellow/scrapegoat/internal/models"
)

const httpAdapterUserAgent = "scrapegoat-http/1.0"
const maxHTTPBodyBytes = 5 * 1024 * 1024

// HTTPAdapter is the cheapest engine tier: a plain GET plus goquery
// selector extraction, grounded on the donor's httpvalidator client setup
// (timeouts, user agent, body size cap).
type HTTPAdapter struct {
	client *http.Client
}

// NewHTTPAdapter builds an HTTPAdapter honoring the §5 per-engine timeout
// budget.
func NewHTTPAdapter() *HTTPAdapter {
	return &HTTPAdapter{client: &http.Client{Timeout: constants.HTTPEngineTimeout}}
}

func (a *HTTPAdapter) Engine() models.Engine { return models.EngineHTTP }

func (a *HTTPAdapter) Fetch(ctx context.Context, req Request) (Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("engineadapter(http): build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", httpAdapterUserAgent)
	if req.Session != nil {
		applyCookies(httpReq, req.Session)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("engineadapter(http): request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBodyBytes))
	if err != nil {
		return Result{}, fmt.Errorf("engineadapter(http): read body: %w", err)
	}
	html := string(body)

	result := Result{RawHTML: html, HTTPStatus: resp.StatusCode}
	if resp.StatusCode == 401 || resp.StatusCode == 403 || resp.StatusCode == 429 {
		return result, nil
	}

	items, err := extractSelectorMap(html, req.SelectorMap, req.CrawlMode, req.ListConfig)
	if err != nil {
		return result, fmt.Errorf("engineadapter(http): extract selectors: %w", err)
	}
	result.Items = items
	return result, nil
}

func applyCookies(req *http.Request, session *models.SessionVault) {
	if len(session.Cookies) == 0 {
		return
	}
	req.Header.Set("Cookie", string(session.Cookies))
}

// extractSelectorMap applies selector_map over the document once per item
// root (list mode) or once over the whole document (single mode).
func extractSelectorMap(html string, selectorMap map[string]string, crawlMode models.CrawlModeEnum, listConfig *models.ListConfig) ([]Item, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	if crawlMode == models.CrawlModeList && listConfig != nil && listConfig.ItemLinkSelector != "" {
		var items []Item
		doc.Find(listConfig.ItemLinkSelector).EachWithBreak(func(i int, s *goquery.Selection) bool {
			items = append(items, extractFromSelection(s, selectorMap))
			return listConfig.MaxItems <= 0 || i+1 < listConfig.MaxItems
		})
		return items, nil
	}

	return []Item{extractFromSelection(doc.Selection, selectorMap)}, nil
}

func extractFromSelection(root *goquery.Selection, selectorMap map[string]string) Item {
	item := make(Item, len(selectorMap))
	for field, selector := range selectorMap {
		if selector == "" {
			continue
		}
		sel := root.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		if text := strings.TrimSpace(sel.Text()); text != "" {
			item[field] = text
			continue
		}
		if href, ok := sel.Attr("href"); ok {
			item[field] = href
		} else if src, ok := sel.Attr("src"); ok {
			item[field] = src
		}
	}
	return item
}
