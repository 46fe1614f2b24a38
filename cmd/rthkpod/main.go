package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gofrs/flock"
	"github.com/jessevdk/go-flags"

	"rthkpod/internal/app/rthkpod"
	"rthkpod/internal/app/rthkpod/archive"
	"rthkpod/internal/app/rthkpod/catalog"
	"rthkpod/internal/app/rthkpod/media"
	"rthkpod/internal/app/rthkpod/proc"
	"rthkpod/internal/app/rthkpod/qualify"
	"rthkpod/internal/configs"
)

var opts struct {
	Conf string `short:"c" long:"conf" env:"RTHKPOD_CONF" default:"rthkpod.yml" description:"config file (yml)"`
	DB   string `short:"d" long:"db" env:"RTHKPOD_DB" default:"var/rthkpod.bdb" description:"bolt db file"`

	Sync          bool   `short:"s" long:"sync" description:"Scan catalog, qualify and archive new episodes"`
	Feed          bool   `short:"f" long:"feed" description:"Generate and publish the RSS feed"`
	Notify        bool   `short:"n" long:"notify" description:"Send the report for the last sync run"`
	Pending       bool   `long:"pending" description:"List archived episodes awaiting platform publish"`
	MarkPublished string `long:"mark-published" value-name:"ID" description:"Record a platform publish for an episode"`
	DryRun        bool   `long:"dry-run" description:"Sync without downloading or uploading media"`
}

func checkFileExists(filepath string) bool {
	if _, err := os.Stat(filepath); errors.Is(err, os.ErrNotExist) {
		return false
	}

	return true
}

func main() {
	p := flags.NewParser(&opts, flags.PassDoubleDash|flags.HelpFlag)
	if _, err := p.Parse(); err != nil {
		if err.(*flags.Error).Type != flags.ErrHelp {
			fmt.Printf("%v\n", err)
			os.Exit(1)
		}
		p.WriteHelp(os.Stderr)
		os.Exit(2)
	}

	configFile := opts.Conf

	if !checkFileExists(configFile) {
		configFile = "configs/rthkpod.yaml"

		if !checkFileExists(configFile) {
			log.Fatal("[ERROR] config file not found")
		}
	}

	conf, err := configs.Load(configFile)
	if err != nil {
		log.Fatalf("[ERROR] can't load config %s, %v", opts.Conf, err)
	}

	db, err := rthkpod.NewBoltDB(opts.DB)
	if err != nil {
		log.Fatalf("[ERROR] can't open ledger, %v", err)
	}
	defer db.Close() // nolint

	scanner := catalog.NewClient(conf.Programme.BaseURL, conf.Programme.Channel, conf.Programme.Programme,
		time.Duration(conf.Limits.RequestDelaySec)*time.Second)

	fetcher := media.NewFetcher(conf.Storage.MediaDir, conf.Limits.MinAudioSize,
		time.Duration(conf.Limits.DownloadTimeoutSec)*time.Second)
	fetcher.Artist = conf.Archive.Creator

	uploader := archive.NewUploader(conf.Archive.Endpoint, conf.Archive.DownloadBase,
		conf.Archive.ItemPrefix, conf.Archive.Secrets.AccessKey, conf.Archive.Secrets.SecretKey)
	uploader.Collection = conf.Archive.Collection
	uploader.Creator = conf.Archive.Creator
	uploader.Subject = conf.Archive.Subject
	uploader.Language = conf.Archive.Language
	uploader.TitleBrand = conf.Feed.Title

	procEntity := &proc.Processor{
		Storage:   &proc.BoltDB{DB: db},
		Catalog:   scanner,
		Qualifier: qualify.NewQualifier(scanner, conf.Programme.AllowedHosts),
		Media:     fetcher,
		Archive:   uploader,
		StatsFile: conf.Storage.StatsFile,
		Since:     conf.Programme.Since,
		KeepMedia: conf.Storage.KeepMedia,
		DryRun:    opts.DryRun,
	}

	var s3store *proc.S3Store
	if conf.CloudStorage.EndPointURL != "" {
		s3client, err := rthkpod.NewS3Client(
			conf.CloudStorage.EndPointURL,
			conf.CloudStorage.Secrets.Key,
			conf.CloudStorage.Secrets.Secret,
			true)
		if err != nil {
			log.Fatalf("[ERROR] can't create s3client instance, %v", err)
		}
		s3store = &proc.S3Store{Client: s3client, Location: conf.CloudStorage.Region, Bucket: conf.CloudStorage.Bucket}
	}

	app, err := rthkpod.NewApplication(conf, procEntity, s3store)
	if err != nil {
		log.Fatalf("[ERROR] can't create app, %v", err)
	}

	ctx := context.Background()

	if opts.Sync {
		// the ledger assumes non-overlapping runs; a second instance bows out
		lock := flock.New(opts.DB + ".lock")
		locked, err := lock.TryLock()
		if err != nil {
			log.Fatalf("[ERROR] can't acquire run lock, %v", err)
		}
		if !locked {
			log.Fatalf("[ERROR] another sync is already running")
		}
		defer lock.Unlock() // nolint

		if _, err := app.Sync(ctx); err != nil {
			log.Fatalf("[ERROR] sync aborted, %v", err)
		}
	}

	if opts.Feed {
		if err := app.Feed(ctx); err != nil {
			log.Fatalf("[ERROR] feed failed, %v", err)
		}
	}

	if opts.Notify {
		if err := app.Notify(ctx); err != nil {
			log.Fatalf("[ERROR] notify failed, %v", err)
		}
	}

	if opts.Pending {
		pending, err := app.Pending()
		if err != nil {
			log.Fatalf("[ERROR] can't list pending episodes, %v", err)
		}
		for _, ep := range pending {
			fmt.Printf("%s\t%s\t%s\n", ep.ID, ep.Date, ep.Title)
		}
	}

	if opts.MarkPublished != "" {
		if err := app.MarkPublished(opts.MarkPublished); err != nil {
			log.Fatalf("[ERROR] can't mark %s published, %v", opts.MarkPublished, err)
		}
	}
}
