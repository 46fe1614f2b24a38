// Package proc holds the ledger and the reconciliation loop that drives new
// catalog episodes through qualification, download and archival exactly
// once.
package proc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/go-pkgz/lgr"

	"rthkpod/internal/app/rthkpod/media"
	"rthkpod/internal/app/rthkpod/podcast"
)

// CatalogScanner enumerates the remote catalog.
type CatalogScanner interface {
	Months(ctx context.Context) ([]string, error)
	EpisodesByMonth(ctx context.Context, ym string) ([]podcast.Episode, error)
	AudioURLs(ctx context.Context, episodeID string) ([]string, error)
}

// HostQualifier decides the host allow-list check for one episode.
type HostQualifier interface {
	Qualify(ctx context.Context, episodeID string) podcast.Qualification
}

// MediaFetcher produces a local audio file for an episode.
type MediaFetcher interface {
	Fetch(ctx context.Context, episodeID, manifestURL string) (string, error)
	Finalize(path, title, date string) int
}

// ArchiveUploader sends a local file to durable storage.
type ArchiveUploader interface {
	Upload(ctx context.Context, episodeID, path, title, date string) (podcast.ArchiveItem, error)
}

// Processor walks the catalog newest-first, qualifies episodes past the
// watermark and drives qualifying ones through the download/archive
// pipeline, updating the ledger after each success.
type Processor struct {
	Storage   *BoltDB
	Catalog   CatalogScanner
	Qualifier HostQualifier
	Media     MediaFetcher
	Archive   ArchiveUploader

	StatsFile string
	Since     string // baseline watermark date when the ledger has none
	KeepMedia bool
	DryRun    bool
}

// Sync runs one full reconciliation pass. Per-episode trouble is counted
// and skipped; a failed month listing aborts the run before any watermark
// advance so the same months are retried next time. Ledger write failures
// are fatal.
func (p *Processor) Sync(ctx context.Context) (podcast.Stats, error) {
	stats := podcast.Stats{UploadedTitles: []string{}}

	stored, err := p.Storage.Watermark()
	if err != nil {
		return stats, fmt.Errorf("load watermark: %w", err)
	}
	watermark := stored.Date()
	if watermark.IsZero() && p.Since != "" {
		watermark = podcast.ParseDate(p.Since)
	}
	log.Printf("[INFO] last checked date: %s", formatDate(watermark))

	if !p.DryRun {
		if err := p.retryPending(ctx, &stats); err != nil {
			return stats, err
		}
	}

	months, err := p.Catalog.Months(ctx)
	if err != nil {
		return stats, fmt.Errorf("list catalog months: %w", err)
	}
	log.Printf("[INFO] available months: %v", months)

	maxSeen := watermark
	monthCutoff := time.Date(watermark.Year(), watermark.Month(), 1, 0, 0, 0, 0, time.UTC)

	for _, ym := range months {
		start, err := monthStart(ym)
		if err != nil {
			log.Printf("[WARN] skip malformed month token %q", ym)
			continue
		}
		// months come newest first; everything older than the watermark's
		// month has been considered already
		if start.Before(monthCutoff) {
			log.Printf("[INFO] month %s predates last check, stopping scan", ym)
			break
		}

		log.Printf("[INFO] checking month %s", ym)
		episodes, err := p.Catalog.EpisodesByMonth(ctx, ym)
		if err != nil {
			return stats, fmt.Errorf("list episodes for %s: %w", ym, err)
		}

		for i := range episodes {
			ep := episodes[i]
			epDate := ep.BroadcastDate()
			if ep.ID == "" || epDate.IsZero() {
				continue
			}
			if !epDate.After(watermark) {
				continue
			}
			if epDate.After(maxSeen) {
				maxSeen = epDate
			}

			log.Printf("[INFO] new episode %s - %s (ID %s)", ep.Date, ep.Title, ep.ID)
			stats.NewEpisodes++

			known, err := p.Storage.HasEpisode(ep.ID)
			if err != nil {
				return stats, fmt.Errorf("check episode %s: %w", ep.ID, err)
			}
			if known {
				log.Printf("[INFO]   already known, skipping")
				continue
			}

			q := p.Qualifier.Qualify(ctx, ep.ID)
			if !q.Qualifies {
				log.Printf("[INFO]   host check negative (rule %s), skipping", q.Rule)
				continue
			}
			log.Printf("[INFO]   host check positive (rule %s, matched %v)", q.Rule, q.Matched)

			urls, err := p.Catalog.AudioURLs(ctx, ep.ID)
			if err != nil {
				log.Printf("[WARN]   can't resolve audio urls for %s, %v", ep.ID, err)
				urls = nil
			}
			fillParts(&ep, urls)
			ep.HostMatched = q.Matched
			ep.HostRule = q.Rule

			if _, err := p.Storage.SaveEpisode(&ep); err != nil {
				return stats, fmt.Errorf("save episode %s: %w", ep.ID, err)
			}
			stats.Qualified++

			if p.DryRun {
				continue
			}
			if err := p.pipeline(ctx, &ep, &stats); err != nil {
				return stats, err
			}
		}
	}

	if maxSeen.After(watermark) {
		w := podcast.Watermark{
			LastChecked: formatDate(maxSeen),
			Note:        "date only; episode ids are a facility-wide counter and unsafe for ordering",
		}
		if err := p.Storage.SaveWatermark(w); err != nil {
			return stats, fmt.Errorf("save watermark: %w", err)
		}
		log.Printf("[INFO] advanced last checked date to %s", w.LastChecked)
	} else {
		log.Printf("[INFO] no newer episodes seen, last checked date unchanged")
	}

	p.writeStats(stats)
	return stats, nil
}

// retryPending sweeps known episodes that never reached the archive.
// Retrying is a property of re-running, not an in-process loop: the archive
// table decides what gets attempted again.
func (p *Processor) retryPending(ctx context.Context, stats *podcast.Stats) error {
	episodes, err := p.Storage.Episodes()
	if err != nil {
		return fmt.Errorf("load episodes: %w", err)
	}

	for _, ep := range episodes {
		archived, err := p.Storage.HasArchive(ep.ID)
		if err != nil {
			return fmt.Errorf("check archive %s: %w", ep.ID, err)
		}
		if archived {
			continue
		}

		log.Printf("[INFO] pending archive for %s - %s (ID %s)", ep.Date, ep.Title, ep.ID)
		if len(ep.AudioURLs) == 0 {
			urls, err := p.Catalog.AudioURLs(ctx, ep.ID)
			if err != nil {
				log.Printf("[WARN]   can't resolve audio urls for %s, %v", ep.ID, err)
			} else {
				fillParts(ep, urls)
			}
		}
		if err := p.pipeline(ctx, ep, stats); err != nil {
			return err
		}
	}
	return nil
}

// pipeline downloads, tags and archives one qualifying episode. The archive
// table is checked first so an episode re-offered by the catalog is never
// re-uploaded. Remote failures are counted, not fatal; a ledger write
// failure is.
func (p *Processor) pipeline(ctx context.Context, ep *podcast.Episode, stats *podcast.Stats) error {
	archived, err := p.Storage.HasArchive(ep.ID)
	if err != nil {
		return fmt.Errorf("check archive %s: %w", ep.ID, err)
	}
	if archived {
		log.Printf("[INFO]   already archived, skipping")
		return nil
	}

	manifest := media.PickManifest(ep.AudioURLs)
	if manifest == "" {
		log.Printf("[ERROR]   no audio manifest for %s", ep.ID)
		stats.Fail(fmt.Sprintf("%s (%s): no audio manifest", ep.Title, ep.Date))
		return nil
	}

	path, err := p.Media.Fetch(ctx, ep.ID, manifest)
	if err != nil {
		log.Printf("[ERROR]   download failed for %s, %v", ep.ID, err)
		stats.Fail(fmt.Sprintf("%s (%s): download failed", ep.Title, ep.Date))
		return nil
	}
	stats.Downloaded++
	duration := p.Media.Finalize(path, ep.Title, ep.Date)

	item, err := p.Archive.Upload(ctx, ep.ID, path, ep.Title, ep.Date)
	if err != nil {
		log.Printf("[ERROR]   archive upload failed for %s, %v", ep.ID, err)
		stats.Fail(fmt.Sprintf("%s (%s): archive upload failed", ep.Title, ep.Date))
		return nil
	}
	item.Duration = duration

	if err := p.Storage.SaveArchive(ep.ID, item); err != nil {
		return fmt.Errorf("save archive record %s: %w", ep.ID, err)
	}
	stats.Uploaded++
	stats.UploadedTitles = append(stats.UploadedTitles, fmt.Sprintf("%s (%s)", ep.Title, ep.Date))

	// local copy removal is gated on the durable record above, never on
	// download success alone
	if !p.KeepMedia {
		if err := os.Remove(path); err != nil {
			log.Printf("[WARN]   can't remove local media %s, %v", path, err)
		}
	}
	return nil
}

func fillParts(ep *podcast.Episode, urls []string) {
	ep.AudioURLs = urls
	ep.PartInfo = nil
	for i, label := range ep.Parts {
		part := podcast.Part{Label: label, Index: i}
		if i < len(urls) {
			part.AudioURL = urls[i]
		}
		ep.PartInfo = append(ep.PartInfo, part)
	}
}

func (p *Processor) writeStats(stats podcast.Stats) {
	if p.StatsFile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(p.StatsFile), 0o755); err != nil {
		log.Printf("[WARN] can't create stats dir, %v", err)
		return
	}
	jdata, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		log.Printf("[WARN] can't marshal stats, %v", err)
		return
	}
	if err := os.WriteFile(p.StatsFile, jdata, 0o644); err != nil {
		log.Printf("[WARN] can't write stats file, %v", err)
	}
}

func monthStart(ym string) (time.Time, error) {
	t, err := time.Parse("200601", ym)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(podcast.DateLayout)
}
