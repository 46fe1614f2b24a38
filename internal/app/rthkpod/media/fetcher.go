// Package media turns a streaming manifest into a local MP3 via ffmpeg and
// prepares it for archival.
package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
)

// Fetcher downloads and transcodes episode audio. Output lands at
// <Dir>/<id>_0.mp3 only after the external tool succeeded and the result
// passes the size gate; anything else leaves no file at the final path.
type Fetcher struct {
	Dir     string
	Command string // transcoder binary, ffmpeg unless overridden
	Artist  string // ID3 artist frame for downloaded files
	MinSize int64  // below this the output counts as truncated
	Timeout time.Duration
}

// NewFetcher with the usual defaults.
func NewFetcher(dir string, minSize int64, timeout time.Duration) *Fetcher {
	if minSize <= 0 {
		minSize = 100000
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Fetcher{Dir: dir, Command: "ffmpeg", MinSize: minSize, Timeout: timeout}
}

// PickManifest prefers the whole-episode manifest over clipped variants. A
// clipped variant carries a start= time-range parameter.
func PickManifest(urls []string) string {
	for _, u := range urls {
		if !strings.Contains(u, "start=") {
			return u
		}
	}
	if len(urls) > 0 {
		return urls[0]
	}
	return ""
}

// Path of the final file for an episode id.
func (f *Fetcher) Path(episodeID string) string {
	return filepath.Join(f.Dir, fmt.Sprintf("%s_0.mp3", episodeID))
}

// Fetch downloads one episode. A valid-sized file already at the final path
// is returned as-is without re-fetching.
func (f *Fetcher) Fetch(ctx context.Context, episodeID, manifestURL string) (string, error) {
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}

	final := f.Path(episodeID)
	if fi, err := os.Stat(final); err == nil && fi.Size() >= f.MinSize {
		log.Printf("[INFO] media for %s already present (%d bytes)", episodeID, fi.Size())
		return final, nil
	}

	tmp := final + ".tmp"
	defer os.Remove(tmp) // nolint

	runCtx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, f.command(),
		"-loglevel", "error",
		"-i", manifestURL,
		"-vn",
		"-acodec", "libmp3lame",
		"-ab", "64k",
		"-ar", "44100",
		"-f", "mp3",
		"-y", tmp,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("transcode %s: %w, %s", episodeID, err, firstLine(out))
	}

	fi, err := os.Stat(tmp)
	if err != nil {
		return "", fmt.Errorf("transcode %s: no output produced", episodeID)
	}
	if fi.Size() < f.MinSize {
		return "", fmt.Errorf("transcode %s: output %d bytes, below %d minimum", episodeID, fi.Size(), f.MinSize)
	}

	if err := os.Rename(tmp, final); err != nil {
		return "", fmt.Errorf("finalize %s: %w", episodeID, err)
	}
	return final, nil
}

func (f *Fetcher) command() string {
	if f.Command == "" {
		return "ffmpeg"
	}
	return f.Command
}

func firstLine(out []byte) string {
	s := strings.TrimSpace(string(out))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
