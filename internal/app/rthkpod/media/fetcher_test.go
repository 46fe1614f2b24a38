package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickManifest(t *testing.T) {
	tbl := []struct {
		name string
		urls []string
		want string
	}{
		{
			name: "prefers whole-episode manifest",
			urls: []string{
				"https://aod.example/a/master.m3u8?start=0&end=1800",
				"https://aod.example/a/master.m3u8",
			},
			want: "https://aod.example/a/master.m3u8",
		},
		{
			name: "falls back to first clipped variant",
			urls: []string{
				"https://aod.example/a/master.m3u8?start=0&end=1800",
				"https://aod.example/a/master.m3u8?start=1800&end=3600",
			},
			want: "https://aod.example/a/master.m3u8?start=0&end=1800",
		},
		{name: "empty input", urls: nil, want: ""},
	}

	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PickManifest(tt.urls))
		})
	}
}

// stubTool writes a fake transcoder script whose output size and exit code
// the test controls. The output path arrives as the last argument, the way
// the fetcher invokes ffmpeg.
func stubTool(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	body := "#!/bin/sh\n" + script + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func outArg() string {
	// shell finds the output path as the final argument
	return `for a in "$@"; do out="$a"; done`
}

func TestFetchSuccess(t *testing.T) {
	f := NewFetcher(t.TempDir(), 10, time.Minute)
	f.Command = stubTool(t, outArg()+`
head -c 64 /dev/zero > "$out"`)

	path, err := f.Fetch(context.Background(), "1001", "https://aod.example/a/master.m3u8")
	require.NoError(t, err)
	assert.Equal(t, f.Path("1001"), path)

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, 64, fi.Size())
}

func TestFetchToolFailureLeavesNoFile(t *testing.T) {
	f := NewFetcher(t.TempDir(), 10, time.Minute)
	f.Command = stubTool(t, outArg()+`
head -c 64 /dev/zero > "$out"
exit 1`)

	_, err := f.Fetch(context.Background(), "1001", "https://aod.example/a/master.m3u8")
	require.Error(t, err)

	assertNoOutput(t, f, "1001")
}

func TestFetchUndersizedOutputLeavesNoFile(t *testing.T) {
	f := NewFetcher(t.TempDir(), 100, time.Minute)
	f.Command = stubTool(t, outArg()+`
head -c 10 /dev/zero > "$out"`)

	_, err := f.Fetch(context.Background(), "1001", "https://aod.example/a/master.m3u8")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "below 100 minimum")

	assertNoOutput(t, f, "1001")
}

func TestFetchNoOutputLeavesNoFile(t *testing.T) {
	f := NewFetcher(t.TempDir(), 10, time.Minute)
	f.Command = stubTool(t, "exit 0")

	_, err := f.Fetch(context.Background(), "1001", "https://aod.example/a/master.m3u8")
	require.Error(t, err)

	assertNoOutput(t, f, "1001")
}

func TestFetchExistingValidFileSkipsTool(t *testing.T) {
	dir := t.TempDir()
	f := NewFetcher(dir, 10, time.Minute)
	f.Command = stubTool(t, "exit 1") // would fail if invoked

	final := f.Path("1001")
	require.NoError(t, os.WriteFile(final, make([]byte, 64), 0o644))

	path, err := f.Fetch(context.Background(), "1001", "https://aod.example/a/master.m3u8")
	require.NoError(t, err)
	assert.Equal(t, final, path)
}

func TestFetchTimeout(t *testing.T) {
	f := NewFetcher(t.TempDir(), 10, 50*time.Millisecond)
	f.Command = stubTool(t, "sleep 5")

	_, err := f.Fetch(context.Background(), "1001", "https://aod.example/a/master.m3u8")
	require.Error(t, err)

	assertNoOutput(t, f, "1001")
}

func assertNoOutput(t *testing.T, f *Fetcher, id string) {
	t.Helper()
	_, err := os.Stat(f.Path(id))
	assert.True(t, os.IsNotExist(err), fmt.Sprintf("no file expected at %s", f.Path(id)))
	_, err = os.Stat(f.Path(id) + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should be cleaned up")
}

func TestDurationUnreadableFile(t *testing.T) {
	assert.Equal(t, 0, Duration(filepath.Join(t.TempDir(), "missing.mp3")))
}
