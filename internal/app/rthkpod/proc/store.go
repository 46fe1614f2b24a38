package proc

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/boltdb/bolt"
	log "github.com/go-pkgz/lgr"

	"rthkpod/internal/app/rthkpod/podcast"
)

// Ledger bucket names, one per logical table.
var (
	bucketEpisodes = []byte("episodes")
	bucketArchive  = []byte("archive")
	bucketPlatform = []byte("platform")
	bucketMeta     = []byte("meta")

	watermarkKey = []byte("last_checked")
)

// BoltDB is the ledger: known episodes, archive mapping, platform mapping
// and the watermark, each in its own bucket, each mutation one atomic
// update. Safe only under single-instance execution.
type BoltDB struct {
	DB *bolt.DB
}

// SaveEpisode records a qualifying episode. Episodes are immutable once
// written; saving an already-known id is a no-op and reports created=false.
func (b *BoltDB) SaveEpisode(episode *podcast.Episode) (bool, error) {
	if episode.ID == "" {
		return false, fmt.Errorf("episode without id")
	}

	created := false
	err := b.DB.Update(func(tx *bolt.Tx) error {
		bucket, e := tx.CreateBucketIfNotExists(bucketEpisodes)
		if e != nil {
			return e
		}
		if bucket.Get([]byte(episode.ID)) != nil {
			return nil
		}

		jdata, jerr := json.Marshal(episode)
		if jerr != nil {
			return jerr
		}

		log.Printf("[INFO] save episode %s - %s (%s)", episode.ID, episode.Title, episode.Date)
		if e := bucket.Put([]byte(episode.ID), jdata); e != nil {
			return e
		}
		created = true
		return nil
	})

	return created, err
}

// HasEpisode reports whether an id is already in the known-episode table.
func (b *BoltDB) HasEpisode(episodeID string) (bool, error) {
	var found bool
	err := b.DB.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketEpisodes)
		if bucket == nil {
			return nil
		}
		found = bucket.Get([]byte(episodeID)) != nil
		return nil
	})
	return found, err
}

// Episodes returns all known episodes, newest broadcast date first.
func (b *BoltDB) Episodes() ([]*podcast.Episode, error) {
	var result []*podcast.Episode
	err := b.DB.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketEpisodes)
		if bucket == nil {
			return nil
		}

		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			item := podcast.Episode{}
			if err := json.Unmarshal(v, &item); err != nil {
				log.Printf("[WARN] failed to unmarshal episode %s, %v", string(k), err)
				continue
			}
			result = append(result, &item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].BroadcastDate().After(result[j].BroadcastDate())
	})
	return result, nil
}

// Watermark returns the stored watermark, zero value when none was saved.
func (b *BoltDB) Watermark() (podcast.Watermark, error) {
	var w podcast.Watermark
	err := b.DB.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMeta)
		if bucket == nil {
			return nil
		}
		v := bucket.Get(watermarkKey)
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &w); err != nil {
			log.Printf("[WARN] failed to unmarshal watermark, %v", err)
			w = podcast.Watermark{}
		}
		return nil
	})
	return w, err
}

// SaveWatermark persists a new watermark. The watermark only ever moves
// forward; an older or equal date is rejected silently.
func (b *BoltDB) SaveWatermark(w podcast.Watermark) error {
	current, err := b.Watermark()
	if err != nil {
		return err
	}
	if !w.Date().After(current.Date()) {
		return nil
	}
	if w.UpdatedAt == "" {
		w.UpdatedAt = time.Now().Format("2006-01-02 15:04:05")
	}

	return b.DB.Update(func(tx *bolt.Tx) error {
		bucket, e := tx.CreateBucketIfNotExists(bucketMeta)
		if e != nil {
			return e
		}
		jdata, jerr := json.Marshal(w)
		if jerr != nil {
			return jerr
		}
		return bucket.Put(watermarkKey, jdata)
	})
}

// Archive returns the archive record for an episode, nil when not archived.
func (b *BoltDB) Archive(episodeID string) (*podcast.ArchiveItem, error) {
	var item *podcast.ArchiveItem
	err := b.DB.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketArchive)
		if bucket == nil {
			return nil
		}
		v := bucket.Get([]byte(episodeID))
		if v == nil {
			return nil
		}
		var rec podcast.ArchiveItem
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		item = &rec
		return nil
	})
	return item, err
}

// HasArchive reports whether an episode already has a durable archive copy.
func (b *BoltDB) HasArchive(episodeID string) (bool, error) {
	item, err := b.Archive(episodeID)
	return item != nil, err
}

// SaveArchive records a successful archive upload, first write wins.
func (b *BoltDB) SaveArchive(episodeID string, item podcast.ArchiveItem) error {
	return b.DB.Update(func(tx *bolt.Tx) error {
		bucket, e := tx.CreateBucketIfNotExists(bucketArchive)
		if e != nil {
			return e
		}
		if bucket.Get([]byte(episodeID)) != nil {
			return nil
		}
		jdata, jerr := json.Marshal(item)
		if jerr != nil {
			return jerr
		}
		log.Printf("[INFO] save archive record %s -> %s", episodeID, item.URL)
		return bucket.Put([]byte(episodeID), jdata)
	})
}

// ArchiveMap returns the full archive table keyed by episode id.
func (b *BoltDB) ArchiveMap() (map[string]podcast.ArchiveItem, error) {
	result := map[string]podcast.ArchiveItem{}
	err := b.DB.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketArchive)
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var item podcast.ArchiveItem
			if err := json.Unmarshal(v, &item); err != nil {
				log.Printf("[WARN] failed to unmarshal archive record %s, %v", string(k), err)
				continue
			}
			result[string(k)] = item
		}
		return nil
	})
	return result, err
}

// Platform returns the platform publish record, nil when not published.
func (b *BoltDB) Platform(episodeID string) (*podcast.PlatformUpload, error) {
	var rec *podcast.PlatformUpload
	err := b.DB.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketPlatform)
		if bucket == nil {
			return nil
		}
		v := bucket.Get([]byte(episodeID))
		if v == nil {
			return nil
		}
		var p podcast.PlatformUpload
		if err := json.Unmarshal(v, &p); err != nil {
			return err
		}
		rec = &p
		return nil
	})
	return rec, err
}

// SavePlatform records a platform publish, first write wins.
func (b *BoltDB) SavePlatform(episodeID string, rec podcast.PlatformUpload) error {
	return b.DB.Update(func(tx *bolt.Tx) error {
		bucket, e := tx.CreateBucketIfNotExists(bucketPlatform)
		if e != nil {
			return e
		}
		if bucket.Get([]byte(episodeID)) != nil {
			return nil
		}
		jdata, jerr := json.Marshal(rec)
		if jerr != nil {
			return jerr
		}
		return bucket.Put([]byte(episodeID), jdata)
	})
}

// PendingPublish lists episodes that are archived but not yet platform
// published, oldest broadcast date first.
func (b *BoltDB) PendingPublish() ([]*podcast.Episode, error) {
	episodes, err := b.Episodes()
	if err != nil {
		return nil, err
	}

	var pending []*podcast.Episode
	for _, ep := range episodes {
		archived, err := b.HasArchive(ep.ID)
		if err != nil {
			return nil, err
		}
		if !archived {
			continue
		}
		published, err := b.Platform(ep.ID)
		if err != nil {
			return nil, err
		}
		if published == nil {
			pending = append(pending, ep)
		}
	}

	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].BroadcastDate().Before(pending[j].BroadcastDate())
	})
	return pending, nil
}
