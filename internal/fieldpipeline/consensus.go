package fieldpipeline

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// fieldMetaKeys maps a field name to the OpenGraph/Twitter meta properties
// and JSON-LD keys that commonly carry the same fact, for cross-checking
// the primary selector's extraction (§4.2 stage 5).
var fieldMetaKeys = map[string][]string{
	"title":       {"og:title", "twitter:title"},
	"image_url":   {"og:image", "twitter:image"},
	"company":     {"og:site_name"},
	"url":         {"og:url"},
	"person_name": {"og:title"},
}

var jsonLDKeys = map[string][]string{
	"title":       {"name", "headline"},
	"person_name": {"name"},
	"company":     {"name"},
	"job_title":   {"jobTitle"},
	"image_url":   {"image"},
	"url":         {"url"},
}

var embeddedStateRe = regexp.MustCompile(`window\.__(?:NUXT|INITIAL_STATE|NEXT_DATA)__\s*=\s*(\{.*?\});?\s*</script>`)

// applyConsensus cross-checks the pipeline's primary value against
// independently sourced values on the same page (JSON-LD, OpenGraph,
// Twitter cards, embedded JS state). It returns a non-nil reasons slice
// only when consensus fired, signalling the caller to use the returned
// value and bonus instead of the plain score.
//
// Per the recommended resolution of the promotion question: a null
// primary value is promoted from consensus only when at least two
// independent sources agree, and the promotion is logged explicitly.
func applyConsensus(fieldName string, value any, cleaned string, pageHTML string) (any, []string, float64) {
	sources := collectSources(fieldName, pageHTML)
	if len(sources) == 0 {
		return value, nil, 0
	}

	primary, primaryIsString := value.(string)
	primaryNonEmpty := primaryIsString && strings.TrimSpace(primary) != ""

	groups := groupByNormalized(sources)
	best, bestCount := bestGroup(groups, primary)
	if bestCount < 2 {
		return value, nil, 0
	}

	bonus := 0.2
	if bestCount >= 3 {
		bonus = 0.3
	}

	if primaryNonEmpty && groupContains(best, primary) {
		return value, []string{"consensus_confirmed_primary"}, bonus
	}

	if !primaryNonEmpty {
		return best[0], []string{"promoted_from_consensus"}, bonus
	}

	// Primary disagrees with an agreeing majority: keep the primary
	// selector's value per §4.7 (selector-driven extraction is
	// authoritative), but still surface the disagreement.
	return value, []string{"consensus_disagreement"}, 0
}

func collectSources(fieldName string, pageHTML string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return nil
	}

	var sources []string

	for _, key := range fieldMetaKeys[fieldName] {
		doc.Find(`meta[property="` + key + `"], meta[name="` + key + `"]`).Each(func(_ int, s *goquery.Selection) {
			if content, ok := s.Attr("content"); ok && strings.TrimSpace(content) != "" {
				sources = append(sources, strings.TrimSpace(content))
			}
		})
	}

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var payload map[string]any
		if err := json.Unmarshal([]byte(s.Text()), &payload); err != nil {
			return
		}
		for _, key := range jsonLDKeys[fieldName] {
			if v, ok := payload[key]; ok {
				if str, ok := v.(string); ok && strings.TrimSpace(str) != "" {
					sources = append(sources, strings.TrimSpace(str))
				}
			}
		}
	})

	if match := embeddedStateRe.FindStringSubmatch(pageHTML); len(match) == 2 {
		var state map[string]any
		if err := json.Unmarshal([]byte(match[1]), &state); err == nil {
			if v, ok := state[fieldName]; ok {
				if str, ok := v.(string); ok && strings.TrimSpace(str) != "" {
					sources = append(sources, strings.TrimSpace(str))
				}
			}
		}
	}

	return sources
}

func normalizeForCompare(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func groupByNormalized(sources []string) map[string][]string {
	groups := make(map[string][]string)
	for _, s := range sources {
		key := normalizeForCompare(s)
		groups[key] = append(groups[key], s)
	}
	return groups
}

// bestGroup picks the largest agreeing group. On a count tie, it prefers
// the group containing the pipeline's own primary (selector) value, per
// §4.2's explicit tie-break rule; map iteration order is otherwise
// unspecified in Go, so without this the winner would vary run to run.
func bestGroup(groups map[string][]string, primary string) ([]string, int) {
	var best []string
	bestCount := 0
	bestHasPrimary := false
	for _, g := range groups {
		hasPrimary := primary != "" && groupContains(g, primary)
		switch {
		case len(g) > bestCount:
			best, bestCount, bestHasPrimary = g, len(g), hasPrimary
		case len(g) == bestCount && hasPrimary && !bestHasPrimary:
			best, bestHasPrimary = g, true
		}
	}
	return best, bestCount
}

func groupContains(group []string, value string) bool {
	target := normalizeForCompare(value)
	for _, g := range group {
		if normalizeForCompare(g) == target {
			return true
		}
	}
	return false
}
