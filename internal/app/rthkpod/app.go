// Package rthkpod wires the catalog scanner, host qualifier, media
// pipeline, ledger, feed and notifier into one application.
package rthkpod

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/boltdb/bolt"
	log "github.com/go-pkgz/lgr"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"rthkpod/internal/app/rthkpod/feed"
	"rthkpod/internal/app/rthkpod/notify"
	"rthkpod/internal/app/rthkpod/podcast"
	"rthkpod/internal/app/rthkpod/proc"
	"rthkpod/internal/configs"
)

// App drives the pipeline operations selected on the command line.
type App struct {
	config    *configs.Conf
	processor *proc.Processor
	builder   *feed.Builder
	s3        *proc.S3Store
	notifier  notify.Service
}

// NewApplication assembles the app. s3 may be nil when no cloud storage is
// configured; the feed then stays local.
func NewApplication(conf *configs.Conf, p *proc.Processor, s3 *proc.S3Store) (*App, error) {
	builder := feed.NewBuilder(feed.Channel{
		Title:       conf.Feed.Title,
		Description: conf.Feed.Description,
		Link:        conf.Feed.Link,
		Language:    conf.Feed.Language,
		Author:      conf.Feed.Author,
		Email:       conf.Feed.Email,
		Image:       conf.Feed.Image,
		Category:    conf.Feed.Category,
	})
	return &App{
		config:    conf,
		processor: p,
		builder:   builder,
		s3:        s3,
		notifier:  notify.NewService(conf.Telegram.Token, conf.Telegram.ChatID),
	}, nil
}

// Sync runs one reconciliation pass and reports the stats. An aborted run
// also raises an error alert so a broken scheduler run does not go silent.
func (a *App) Sync(ctx context.Context) (podcast.Stats, error) {
	stats, err := a.processor.Sync(ctx)
	if err != nil {
		if alertErr := a.notifier.ErrorAlert(ctx, err.Error()); alertErr != nil {
			log.Printf("[WARN] can't send error alert, %v", alertErr)
		}
		return stats, err
	}
	log.Printf("[INFO] sync done: new=%d qualified=%d downloaded=%d uploaded=%d failed=%d",
		stats.NewEpisodes, stats.Qualified, stats.Downloaded, stats.Uploaded, stats.Failed)
	return stats, nil
}

// Feed regenerates the RSS file and publishes it to cloud storage when
// configured.
func (a *App) Feed(ctx context.Context) error {
	episodes, err := a.processor.Storage.Episodes()
	if err != nil {
		return fmt.Errorf("load episodes: %w", err)
	}
	archived, err := a.processor.Storage.ArchiveMap()
	if err != nil {
		return fmt.Errorf("load archive map: %w", err)
	}

	out := a.config.Feed.Output
	if err := a.builder.WriteFile(out, episodes, archived); err != nil {
		return fmt.Errorf("write feed: %w", err)
	}
	log.Printf("[INFO] feed written to %s (%d archived episodes)", out, len(archived))

	if a.s3 == nil {
		return nil
	}
	info, err := a.s3.UploadFeed(ctx, "feed.xml", out)
	if err != nil {
		return fmt.Errorf("publish feed: %w", err)
	}
	log.Printf("[INFO] feed published to %s", info.Location)
	return nil
}

// Notify sends the report for the most recent sync run, read back from the
// stats file.
func (a *App) Notify(ctx context.Context) error {
	data, err := os.ReadFile(a.processor.StatsFile)
	if err != nil {
		return fmt.Errorf("read stats file: %w", err)
	}
	var stats podcast.Stats
	if err := json.Unmarshal(data, &stats); err != nil {
		return fmt.Errorf("decode stats file: %w", err)
	}
	return a.notifier.DailyReport(ctx, stats)
}

// Pending lists archived episodes not yet published on the platform, oldest
// first — the work list for the external publish driver.
func (a *App) Pending() ([]*podcast.Episode, error) {
	return a.processor.Storage.PendingPublish()
}

// MarkPublished records a platform publish for an episode. The episode must
// be known and archived; marking an already-published episode is a no-op.
func (a *App) MarkPublished(episodeID string) error {
	known, err := a.processor.Storage.HasEpisode(episodeID)
	if err != nil {
		return err
	}
	if !known {
		return fmt.Errorf("unknown episode %s", episodeID)
	}
	rec, err := a.processor.Storage.Archive(episodeID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("episode %s not archived yet", episodeID)
	}

	return a.processor.Storage.SavePlatform(episodeID, podcast.PlatformUpload{
		Title:      rec.Title,
		Date:       rec.Date,
		UploadedAt: time.Now().Format("2006-01-02 15:04:05"),
	})
}

// NewBoltDB opens the ledger file.
func NewBoltDB(dbFile string) (*bolt.DB, error) {
	db, err := bolt.Open(dbFile, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db %s: %w", dbFile, err)
	}
	return db, nil
}

// NewS3Client for the feed publication target.
func NewS3Client(endpoint, key, secret string, secure bool) (*minio.Client, error) {
	return minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(key, secret, ""),
		Secure: secure,
	})
}
