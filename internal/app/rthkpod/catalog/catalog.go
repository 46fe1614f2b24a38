// Package catalog talks to the remote programme catalog: month listing,
// per-month episode listing, episode detail pages and audio manifests.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	log "github.com/go-pkgz/lgr"
	"golang.org/x/time/rate"

	"rthkpod/internal/app/rthkpod/podcast"
)

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36"

// manifest URLs for the audio-on-demand CDN
var manifestRe = regexp.MustCompile(`https://rthkaod2022[^"']+master\.m3u8[^"']*`)

// Client fetches catalog resources for one channel/programme pair. All
// requests pass a shared limiter so successive calls keep a fixed courtesy
// interval between them.
type Client struct {
	BaseURL   string
	Channel   string
	Programme string

	HTTP    *http.Client
	Limiter *rate.Limiter
}

// NewClient with the given fixed delay between requests.
func NewClient(baseURL, channel, programme string, delay time.Duration) *Client {
	if delay <= 0 {
		delay = time.Second
	}
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Channel:   channel,
		Programme: programme,
		HTTP:      &http.Client{Timeout: 30 * time.Second},
		Limiter:   rate.NewLimiter(rate.Every(delay), 1),
	}
}

func (c *Client) referer() string {
	return fmt.Sprintf("%s/radio/%s/programme/%s", c.BaseURL, c.Channel, c.Programme)
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	if err := c.Limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", c.referer())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() // nolint
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %s: unexpected status %d", rawURL, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Months returns the available catalog months as six-character yyyymm
// tokens, newest first. Read from the month selector on the programme index
// page.
func (c *Client) Months(ctx context.Context) ([]string, error) {
	body, err := c.get(ctx, c.referer())
	if err != nil {
		return nil, fmt.Errorf("fetch programme page: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("parse programme page: %w", err)
	}

	var months []string
	doc.Find("select.selMonWrap option").Each(func(_ int, s *goquery.Selection) {
		val := strings.TrimSpace(s.AttrOr("value", ""))
		if len(val) == 6 {
			months = append(months, val)
		}
	})

	sort.Sort(sort.Reverse(sort.StringSlice(months)))
	return months, nil
}

type monthResponse struct {
	Status  string            `json:"status"`
	Content []podcast.Episode `json:"content"`
}

// EpisodesByMonth lists the episodes broadcast in the given yyyymm month.
// A non-"1" status from the endpoint means no episodes, not an error.
func (c *Client) EpisodesByMonth(ctx context.Context, ym string) ([]podcast.Episode, error) {
	q := url.Values{"c": {c.Channel}, "p": {c.Programme}, "m": {ym}}
	body, err := c.get(ctx, fmt.Sprintf("%s/radio/catchUpByMonth?%s", c.BaseURL, q.Encode()))
	if err != nil {
		return nil, fmt.Errorf("fetch month %s: %w", ym, err)
	}

	var res monthResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode month %s: %w", ym, err)
	}
	if res.Status != "1" {
		log.Printf("[WARN] month %s returned status %q", ym, res.Status)
		return nil, nil
	}
	return res.Content, nil
}

// EpisodePage returns the raw detail-page markup for an episode.
func (c *Client) EpisodePage(ctx context.Context, episodeID string) (string, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/episode/%s", c.referer(), episodeID))
	if err != nil {
		return "", fmt.Errorf("fetch episode page %s: %w", episodeID, err)
	}
	return string(body), nil
}

// AudioURLs returns the streaming manifest URLs for an episode, in page
// order, de-duplicated. One URL per recording part.
func (c *Client) AudioURLs(ctx context.Context, episodeID string) ([]string, error) {
	q := url.Values{"c": {c.Channel}, "p": {c.Programme}, "e": {episodeID}}
	body, err := c.get(ctx, fmt.Sprintf("%s/radio/getEpisode?%s", c.BaseURL, q.Encode()))
	if err != nil {
		return nil, fmt.Errorf("fetch manifests for %s: %w", episodeID, err)
	}

	seen := map[string]bool{}
	var urls []string
	for _, m := range manifestRe.FindAllString(string(body), -1) {
		if seen[m] {
			continue
		}
		seen[m] = true
		urls = append(urls, m)
	}
	return urls, nil
}
