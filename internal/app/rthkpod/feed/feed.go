// Package feed renders the podcast RSS from the ledger, pointing enclosures
// at the durable archive copies.
package feed

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"rthkpod/internal/app/rthkpod/podcast"
)

// Channel metadata for the generated feed.
type Channel struct {
	Title       string
	Description string
	Link        string
	Language    string
	Author      string
	Email       string
	Image       string
	Category    string
}

type rssImage struct {
	URL   string `xml:"url"`
	Title string `xml:"title"`
	Link  string `xml:"link"`
}

type itunesImage struct {
	Href string `xml:"href,attr"`
}

type itunesOwner struct {
	Name  string `xml:"itunes:name"`
	Email string `xml:"itunes:email"`
}

type itunesCategory struct {
	Text string `xml:"text,attr"`
}

type enclosure struct {
	URL    string `xml:"url,attr"`
	Type   string `xml:"type,attr"`
	Length int64  `xml:"length,attr"`
}

type item struct {
	Title          string    `xml:"title"`
	Description    string    `xml:"description"`
	PubDate        string    `xml:"pubDate"`
	GUID           string    `xml:"guid"`
	Link           string    `xml:"link"`
	Enclosure      enclosure `xml:"enclosure"`
	ItunesTitle    string    `xml:"itunes:title"`
	ItunesSummary  string    `xml:"itunes:summary"`
	ItunesExplicit string    `xml:"itunes:explicit"`
	ItunesAuthor   string    `xml:"itunes:author"`
	ItunesDuration string    `xml:"itunes:duration,omitempty"`
}

type channel struct {
	Title          string         `xml:"title"`
	Link           string         `xml:"link"`
	Description    string         `xml:"description"`
	Language       string         `xml:"language"`
	LastBuildDate  string         `xml:"lastBuildDate"`
	ItunesAuthor   string         `xml:"itunes:author"`
	ItunesSummary  string         `xml:"itunes:summary"`
	ItunesExplicit string         `xml:"itunes:explicit"`
	ItunesOwner    itunesOwner    `xml:"itunes:owner"`
	ItunesImage    itunesImage    `xml:"itunes:image"`
	Image          rssImage       `xml:"image"`
	ItunesCategory itunesCategory `xml:"itunes:category"`
	Items          []item         `xml:"item"`
}

type rss struct {
	XMLName     xml.Name `xml:"rss"`
	Version     string   `xml:"version,attr"`
	ItunesNS    string   `xml:"xmlns:itunes,attr"`
	ContentNS   string   `xml:"xmlns:content,attr"`
	FeedChannel channel  `xml:"channel"`
}

// Builder renders feeds for one channel.
type Builder struct {
	Channel Channel
	Now     func() time.Time
}

// NewBuilder for the given channel metadata.
func NewBuilder(ch Channel) *Builder {
	return &Builder{Channel: ch, Now: time.Now}
}

// Build renders the feed for every episode that has a durable archive copy,
// newest first.
func (b *Builder) Build(episodes []*podcast.Episode, archived map[string]podcast.ArchiveItem) ([]byte, error) {
	var published []*podcast.Episode
	for _, ep := range episodes {
		if _, ok := archived[ep.ID]; ok {
			published = append(published, ep)
		}
	}
	sort.SliceStable(published, func(i, j int) bool {
		return published[i].BroadcastDate().After(published[j].BroadcastDate())
	})

	ch := channel{
		Title:          b.Channel.Title,
		Link:           b.Channel.Link,
		Description:    b.Channel.Description,
		Language:       b.Channel.Language,
		LastBuildDate:  b.Now().UTC().Format(http1123),
		ItunesAuthor:   b.Channel.Author,
		ItunesSummary:  b.Channel.Description,
		ItunesExplicit: "no",
		ItunesOwner:    itunesOwner{Name: b.Channel.Author, Email: b.Channel.Email},
		ItunesImage:    itunesImage{Href: b.Channel.Image},
		Image:          rssImage{URL: b.Channel.Image, Title: b.Channel.Title, Link: b.Channel.Link},
		ItunesCategory: itunesCategory{Text: b.Channel.Category},
	}

	for _, ep := range published {
		rec := archived[ep.ID]
		title := fmt.Sprintf("%s - %s", ep.Title, ep.Date)
		desc := fmt.Sprintf("%s - %s (%s)", b.Channel.Title, ep.Title, ep.Date)
		it := item{
			Title:          title,
			Description:    desc,
			PubDate:        pubDate(ep.Date, b.Now),
			GUID:           rec.ItemID,
			Link:           rec.URL,
			Enclosure:      enclosure{URL: rec.URL, Type: "audio/mpeg", Length: rec.Size},
			ItunesTitle:    title,
			ItunesSummary:  desc,
			ItunesExplicit: "no",
			ItunesAuthor:   b.Channel.Author,
		}
		if rec.Duration > 0 {
			it.ItunesDuration = formatDuration(rec.Duration)
		}
		ch.Items = append(ch.Items, it)
	}

	doc := rss{
		Version:     "2.0",
		ItunesNS:    "http://www.itunes.com/dtds/podcast-1.0.dtd",
		ContentNS:   "http://purl.org/rss/1.0/modules/content/",
		FeedChannel: ch,
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal feed: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

// WriteFile renders the feed and writes it to path.
func (b *Builder) WriteFile(path string, episodes []*podcast.Episode, archived map[string]podcast.ArchiveItem) error {
	body, err := b.Build(episodes, archived)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create feed dir: %w", err)
	}
	return os.WriteFile(path, body, 0o644)
}

const http1123 = "Mon, 02 Jan 2006 15:04:05 GMT"

func pubDate(date string, now func() time.Time) string {
	t := podcast.ParseDate(date)
	if t.IsZero() {
		t = now().UTC()
	}
	return t.UTC().Format(http1123)
}

func formatDuration(seconds int) string {
	return fmt.Sprintf("%d:%02d:%02d", seconds/3600, seconds%3600/60, seconds%60)
}
