// Package podcast holds the domain entities shared by the scanner,
// qualifier and ledger.
package podcast

import (
	"time"
)

// DateLayout is the catalog's episode date format (day/month/year).
const DateLayout = "02/01/2006"

// Rule names which host field decided a qualification.
type Rule string

const (
	// RulePerEpisode means the episode's own host field (plus guests) decided.
	RulePerEpisode Rule = "per-episode"
	// RuleProgramme means the programme-level host roster decided.
	RuleProgramme Rule = "programme"
	// RuleError means the page could not be fetched or parsed.
	RuleError Rule = "error"
)

// Part is one segment of a split recording.
type Part struct {
	Label    string `json:"label"`
	AudioURL string `json:"audio_url"`
	Index    int    `json:"part_index"`
}

// Episode of the programme. ID is the catalog's opaque identifier and the
// ledger key. IDs are a facility-wide counter shared across unrelated
// programmes, so only Date is safe for time ordering.
type Episode struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Date        string   `json:"date"`
	Parts       []string `json:"part,omitempty"`
	AudioURLs   []string `json:"audio_urls,omitempty"`
	PartInfo    []Part   `json:"part_info,omitempty"`
	HostMatched []string `json:"host_matched,omitempty"`
	HostRule    Rule     `json:"host_rule,omitempty"`
}

// BroadcastDate parses the episode date, zero time if unparsable.
func (e Episode) BroadcastDate() time.Time {
	return ParseDate(e.Date)
}

// Qualification is the outcome of the host allow-list check.
// Matched is non-empty iff Qualifies is true.
type Qualification struct {
	Qualifies bool
	Rule      Rule
	Matched   []string
}

// ArchiveItem records one successful archive upload. Presence in the ledger
// is the authoritative "already archived" flag.
type ArchiveItem struct {
	ItemID   string `json:"item_id"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
	Duration int    `json:"duration,omitempty"`
	Title    string `json:"title"`
	Date     string `json:"date"`
}

// PlatformUpload records one successful publish to the podcast platform.
type PlatformUpload struct {
	Title      string `json:"title"`
	Date       string `json:"date"`
	UploadedAt string `json:"uploaded_at"`
}

// Watermark is the latest broadcast date known to have been fully considered
// by the reconciliation loop. It only ever moves forward.
type Watermark struct {
	LastChecked string `json:"last_checked_date"`
	UpdatedAt   string `json:"updated_at,omitempty"`
	Note        string `json:"note,omitempty"`
}

// Date parses the watermark date, zero time when unset or unparsable.
func (w Watermark) Date() time.Time {
	return ParseDate(w.LastChecked)
}

// Stats summarizes one sync run. Written to the stats file for the notifier.
type Stats struct {
	NewEpisodes    int      `json:"new_episodes"`
	Qualified      int      `json:"qualified"`
	Downloaded     int      `json:"downloaded"`
	Uploaded       int      `json:"uploaded"`
	Failed         int      `json:"failed"`
	UploadedTitles []string `json:"uploaded_titles"`
	Errors         []string `json:"errors,omitempty"`
}

// Fail counts one per-episode failure and keeps its description for the
// run report.
func (s *Stats) Fail(msg string) {
	s.Failed++
	s.Errors = append(s.Errors, msg)
}

// ParseDate parses a dd/mm/yyyy catalog date, zero time on failure.
func ParseDate(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ISODate converts dd/mm/yyyy to yyyy-mm-dd, returning the input unchanged
// when it does not parse.
func ISODate(s string) string {
	t := ParseDate(s)
	if t.IsZero() {
		return s
	}
	return t.Format("2006-01-02")
}
