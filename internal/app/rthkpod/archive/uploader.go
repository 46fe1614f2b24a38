// Package archive uploads episode audio to the Internet Archive via its
// S3-like PUT interface.
package archive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"rthkpod/internal/app/rthkpod/podcast"
)

// Uploader PUTs media files into deterministic archive containers. The
// container id is derived from the episode id, so re-uploading the same
// episode targets the same container and the upload is idempotent at the
// storage layer. No in-process retry: a failed upload is retried by the next
// sync run, which still sees the episode missing from the archive table.
type Uploader struct {
	Endpoint     string // e.g. https://s3.us.archive.org
	DownloadBase string // e.g. https://archive.org/download
	ItemPrefix   string
	AccessKey    string
	SecretKey    string

	Collection string
	Creator    string
	Subject    string
	Language   string
	TitleBrand string // programme name prefixed to item titles

	HTTP *http.Client
}

// NewUploader with a long timeout suited to whole-file PUTs.
func NewUploader(endpoint, downloadBase, itemPrefix, accessKey, secretKey string) *Uploader {
	return &Uploader{
		Endpoint:     strings.TrimRight(endpoint, "/"),
		DownloadBase: strings.TrimRight(downloadBase, "/"),
		ItemPrefix:   itemPrefix,
		AccessKey:    accessKey,
		SecretKey:    secretKey,
		HTTP:         &http.Client{Timeout: 10 * time.Minute},
	}
}

// ItemID is the deterministic container id for an episode.
func (u *Uploader) ItemID(episodeID string) string {
	return u.ItemPrefix + episodeID
}

// Upload sends one media file with its metadata. 200 or 201 is success;
// anything else is an error and nothing is recorded.
func (u *Uploader) Upload(ctx context.Context, episodeID, path, title, date string) (podcast.ArchiveItem, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return podcast.ArchiveItem{}, fmt.Errorf("stat %s: %w", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return podcast.ArchiveItem{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() // nolint

	itemID := u.ItemID(episodeID)
	filename := fmt.Sprintf("%s_0.mp3", episodeID)
	putURL := fmt.Sprintf("%s/%s/%s", u.Endpoint, itemID, filename)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, putURL, f)
	if err != nil {
		return podcast.ArchiveItem{}, err
	}
	req.ContentLength = fi.Size()

	req.Header.Set("Authorization", fmt.Sprintf("LOW %s:%s", u.AccessKey, u.SecretKey))
	req.Header.Set("Content-Type", "audio/mpeg")
	req.Header.Set("x-archive-auto-make-bucket", "1")
	req.Header.Set("x-archive-meta-mediatype", "audio")
	req.Header.Set("x-archive-meta-collection", u.Collection)
	req.Header.Set("x-archive-meta-language", u.Language)
	req.Header.Set("x-archive-meta-date", podcast.ISODate(date))
	req.Header.Set("x-archive-meta-title", encodeMeta(u.displayTitle(title, date)))
	req.Header.Set("x-archive-meta-creator", encodeMeta(u.Creator))
	req.Header.Set("x-archive-meta-subject", encodeMeta(u.Subject))
	req.Header.Set("x-archive-meta-description", encodeMeta(fmt.Sprintf("%s，播出日期：%s", u.displayTitle(title, ""), date)))

	resp, err := u.HTTP.Do(req)
	if err != nil {
		return podcast.ArchiveItem{}, fmt.Errorf("upload %s: %w", itemID, err)
	}
	defer resp.Body.Close() // nolint

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
		return podcast.ArchiveItem{}, fmt.Errorf("upload %s: status %d, %s", itemID, resp.StatusCode, string(body))
	}

	return podcast.ArchiveItem{
		ItemID: itemID,
		URL:    fmt.Sprintf("%s/%s/%s", u.DownloadBase, itemID, filename),
		Size:   fi.Size(),
		Title:  title,
		Date:   date,
	}, nil
}

func (u *Uploader) displayTitle(title, date string) string {
	s := title
	if u.TitleBrand != "" {
		s = fmt.Sprintf("%s - %s", u.TitleBrand, title)
	}
	if date != "" {
		s = fmt.Sprintf("%s (%s)", s, date)
	}
	return s
}

// encodeMeta wraps a header value in the archive's uri(...) form so
// non-ASCII metadata survives the HTTP header.
func encodeMeta(v string) string {
	return fmt.Sprintf("uri(%s)", strings.ReplaceAll(url.QueryEscape(v), "+", "%20"))
}
