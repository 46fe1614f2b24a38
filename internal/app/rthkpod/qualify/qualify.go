// Package qualify decides whether an episode's host lineup intersects the
// configured allow-list, based on text fields scraped from the episode
// detail page.
package qualify

import (
	"context"
	"strings"

	log "github.com/go-pkgz/lgr"

	"rthkpod/internal/app/rthkpod/podcast"
)

// PageFetcher returns the raw markup of an episode detail page.
type PageFetcher interface {
	EpisodePage(ctx context.Context, episodeID string) (string, error)
}

// Qualifier applies the host allow-list to scraped host fields.
type Qualifier struct {
	Pages     PageFetcher
	Extractor PageExtractor
	Allowed   []string
}

// NewQualifier with the default marker-based extractor.
func NewQualifier(pages PageFetcher, allowed []string) *Qualifier {
	return &Qualifier{Pages: pages, Extractor: NewPageExtractor(), Allowed: allowed}
}

// Qualify checks one episode. When the episode annotates its own hosts the
// check-set is those hosts plus guests; otherwise the programme's standing
// roster is used. Fetch or parse trouble is conservative non-qualification,
// never an error to the caller.
func (q *Qualifier) Qualify(ctx context.Context, episodeID string) podcast.Qualification {
	markup, err := q.Pages.EpisodePage(ctx, episodeID)
	if err != nil {
		log.Printf("[WARN] host check failed for %s, %v", episodeID, err)
		return podcast.Qualification{Rule: podcast.RuleError}
	}

	fields := q.Extractor.ExtractHostFields(markup)

	var people []string
	rule := podcast.RuleProgramme
	if len(fields.PerEpisode) > 0 {
		people = append(append(people, fields.PerEpisode...), fields.Guests...)
		rule = podcast.RulePerEpisode
	} else {
		people = fields.Programme
	}

	matched := match(q.Allowed, people)
	return podcast.Qualification{Qualifies: len(matched) > 0, Rule: rule, Matched: matched}
}

// match returns the allow-list names found as a substring of any check-set
// member. Substring, not equality: the page appends titles and honorifics to
// bare names.
func match(allowed, people []string) []string {
	var matched []string
	for _, name := range allowed {
		for _, p := range people {
			if strings.Contains(p, name) {
				matched = append(matched, name)
				break
			}
		}
	}
	return matched
}
