package qualify

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// HostFields are the raw host annotations scraped from an episode detail
// page.
type HostFields struct {
	PerEpisode []string // 主持： entries in the episode description block
	Guests     []string // 嘉賓： entries in the episode description block
	Programme  []string // 主持人： entries anywhere in the popup block
}

// PageExtractor pulls host fields out of raw page markup. The scraping is
// deliberately isolated behind this interface so the rule logic never sees
// the page structure.
type PageExtractor interface {
	ExtractHostFields(markup string) HostFields
}

// markupExtractor matches the page's literal structure: the popup title
// block bounds the target episode's data, the epidesc sub-block bounds its
// description. Any template change makes these return empty fields, which
// downstream reads as "no host info present".
type markupExtractor struct{}

// NewPageExtractor returns the marker-based extractor.
func NewPageExtractor() PageExtractor {
	return markupExtractor{}
}

var (
	popBlockRe = regexp.MustCompile(`(?s)popEpiTit.*?</div>\s*</div>\s*</div>`)
	epiDescRe  = regexp.MustCompile(`(?s)epidesc.*?</div>`)
	hostRe     = regexp.MustCompile(`主持[：:]([^\n<\r]+)`)
	guestRe    = regexp.MustCompile(`嘉賓[：:]([^\n<\r]+)`)
	hostListRe = regexp.MustCompile(`主持人[：:]([^\n<\r]+)`)
	htmlTagRe  = regexp.MustCompile(`<[^>]+>`)
)

func (markupExtractor) ExtractHostFields(markup string) HostFields {
	var f HostFields

	pop := popBlockRe.FindString(markup)
	if pop == "" {
		return f
	}

	if desc := epiDescRe.FindString(pop); desc != "" {
		f.PerEpisode = episodeHostValues(desc)
		f.Guests = fieldValues(desc, guestRe)
	}
	f.Programme = fieldValues(pop, hostListRe)
	return f
}

// episodeHostValues finds 主持： fields, dropping matches directly preceded
// by 人 so the programme-level 主持人： label never counts as a per-episode
// host. RE2 has no lookbehind, hence the manual prefix check.
func episodeHostValues(block string) []string {
	var vals []string
	seen := map[string]bool{}
	for _, idx := range hostRe.FindAllStringSubmatchIndex(block, -1) {
		if precededBy(block, idx[0], '人') {
			continue
		}
		v := cleanHTML(block[idx[2]:idx[3]])
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		vals = append(vals, v)
	}
	return vals
}

func precededBy(s string, pos int, r rune) bool {
	if pos == 0 {
		return false
	}
	prev, _ := utf8.DecodeLastRuneInString(s[:pos])
	return prev == r
}

func fieldValues(block string, re *regexp.Regexp) []string {
	var vals []string
	seen := map[string]bool{}
	for _, m := range re.FindAllStringSubmatch(block, -1) {
		v := cleanHTML(m[1])
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		vals = append(vals, v)
	}
	return vals
}

func cleanHTML(s string) string {
	return strings.TrimSpace(htmlTagRe.ReplaceAllString(s, ""))
}
