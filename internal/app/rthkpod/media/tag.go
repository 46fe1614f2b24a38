package media

import (
	"io"
	"os"

	"github.com/bogem/id3v2/v2"
	log "github.com/go-pkgz/lgr"
	"github.com/tcolgate/mp3"

	"rthkpod/internal/app/rthkpod/podcast"
)

// Finalize tags a downloaded file and probes its duration in seconds. Both
// are cosmetic relative to archival, so neither can fail the pipeline.
func (f *Fetcher) Finalize(path, title, date string) int {
	Tag(path, title, date, f.Artist)
	return Duration(path)
}

// Tag writes ID3 title/artist/year frames to a downloaded MP3. Tagging is
// cosmetic, so trouble is logged and swallowed.
func Tag(path, title, date, artist string) {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		log.Printf("[WARN] can't open %s for tagging, %v", path, err)
		return
	}
	defer tag.Close() // nolint

	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	tag.SetTitle(title)
	if artist != "" {
		tag.SetArtist(artist)
	}
	if d := podcast.ParseDate(date); !d.IsZero() {
		tag.SetYear(d.Format("2006"))
	}

	if err := tag.Save(); err != nil {
		log.Printf("[WARN] can't save tags for %s, %v", path, err)
	}
}

// Duration walks the MP3 frames and returns whole seconds, 0 when the file
// cannot be decoded.
func Duration(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close() // nolint

	dec := mp3.NewDecoder(f)
	var total float64
	var frame mp3.Frame
	var skipped int
	for {
		if err := dec.Decode(&frame, &skipped); err != nil {
			if err != io.EOF {
				log.Printf("[WARN] duration probe stopped for %s, %v", path, err)
			}
			break
		}
		total += frame.Duration().Seconds()
	}
	return int(total)
}
