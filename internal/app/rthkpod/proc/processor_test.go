package proc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rthkpod/internal/app/rthkpod/podcast"
)

type fakeCatalog struct {
	months      []string
	monthsErr   error
	episodes    map[string][]podcast.Episode
	episodesErr map[string]error
	audio       map[string][]string

	monthCalls []string
}

func (f *fakeCatalog) Months(context.Context) ([]string, error) {
	return f.months, f.monthsErr
}

func (f *fakeCatalog) EpisodesByMonth(_ context.Context, ym string) ([]podcast.Episode, error) {
	f.monthCalls = append(f.monthCalls, ym)
	if err := f.episodesErr[ym]; err != nil {
		return nil, err
	}
	return f.episodes[ym], nil
}

func (f *fakeCatalog) AudioURLs(_ context.Context, id string) ([]string, error) {
	return f.audio[id], nil
}

type fakeQualifier struct {
	results map[string]podcast.Qualification
	calls   []string
}

func (f *fakeQualifier) Qualify(_ context.Context, id string) podcast.Qualification {
	f.calls = append(f.calls, id)
	if q, ok := f.results[id]; ok {
		return q
	}
	return podcast.Qualification{Rule: podcast.RuleProgramme}
}

type fakeMedia struct {
	dir     string
	fail    map[string]bool
	fetched []string
}

func (f *fakeMedia) Fetch(_ context.Context, id, _ string) (string, error) {
	f.fetched = append(f.fetched, id)
	if f.fail[id] {
		return "", errors.New("transcode failed")
	}
	path := filepath.Join(f.dir, id+"_0.mp3")
	if err := os.WriteFile(path, []byte("mp3-bytes"), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (f *fakeMedia) Finalize(string, string, string) int { return 1860 }

type fakeUploader struct {
	fail    map[string]bool
	uploads []string
}

func (f *fakeUploader) Upload(_ context.Context, id, _, title, date string) (podcast.ArchiveItem, error) {
	f.uploads = append(f.uploads, id)
	if f.fail[id] {
		return podcast.ArchiveItem{}, errors.New("status 503")
	}
	return podcast.ArchiveItem{
		ItemID: "item-" + id,
		URL:    fmt.Sprintf("https://archive.example/download/item-%s/%s_0.mp3", id, id),
		Size:   9, Title: title, Date: date,
	}, nil
}

func qualifies(hosts ...string) podcast.Qualification {
	return podcast.Qualification{Qualifies: true, Rule: podcast.RulePerEpisode, Matched: hosts}
}

func newTestProcessor(t *testing.T, cat *fakeCatalog, q *fakeQualifier, m *fakeMedia, u *fakeUploader) *Processor {
	t.Helper()
	if m.dir == "" {
		m.dir = t.TempDir()
	}
	return &Processor{
		Storage:   newTestStore(t),
		Catalog:   cat,
		Qualifier: q,
		Media:     m,
		Archive:   u,
		StatsFile: filepath.Join(t.TempDir(), "stats.json"),
		Since:     "01/10/2025",
	}
}

func TestSyncQualifiesAndArchives(t *testing.T) {
	cat := &fakeCatalog{
		months: []string{"202510"},
		episodes: map[string][]podcast.Episode{
			"202510": {
				{ID: "1001", Title: "合集", Date: "20/10/2025", Parts: parts("第一節", "第二節")},
				{ID: "1002", Title: "不合", Date: "21/10/2025"},
			},
		},
		audio: map[string][]string{
			"1001": {"https://aod.example/a/master.m3u8", "https://aod.example/b/master.m3u8"},
		},
	}
	q := &fakeQualifier{results: map[string]podcast.Qualification{"1001": qualifies("蘇奭")}}
	media := &fakeMedia{}
	up := &fakeUploader{}
	p := newTestProcessor(t, cat, q, media, up)

	stats, err := p.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.NewEpisodes)
	assert.Equal(t, 1, stats.Qualified)
	assert.Equal(t, 1, stats.Downloaded)
	assert.Equal(t, 1, stats.Uploaded)
	assert.Equal(t, 0, stats.Failed)

	ep, err := p.Storage.Episodes()
	require.NoError(t, err)
	require.Len(t, ep, 1)
	assert.Equal(t, "1001", ep[0].ID)
	assert.Equal(t, []string{"蘇奭"}, ep[0].HostMatched)
	assert.Equal(t, podcast.RulePerEpisode, ep[0].HostRule)
	require.Len(t, ep[0].PartInfo, 2)
	assert.Equal(t, "第一節", ep[0].PartInfo[0].Label)
	assert.Equal(t, "https://aod.example/a/master.m3u8", ep[0].PartInfo[0].AudioURL)

	rec, err := p.Storage.Archive("1001")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1860, rec.Duration)

	// the watermark covers the rejected episode too
	w, err := p.Storage.Watermark()
	require.NoError(t, err)
	assert.Equal(t, "21/10/2025", w.LastChecked)

	// local media removed once the archive record is durable
	_, statErr := os.Stat(filepath.Join(media.dir, "1001_0.mp3"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestSyncSecondRunIsNoop(t *testing.T) {
	cat := &fakeCatalog{
		months: []string{"202510"},
		episodes: map[string][]podcast.Episode{
			"202510": {{ID: "1001", Title: "合集", Date: "20/10/2025"}},
		},
		audio: map[string][]string{"1001": {"https://aod.example/a/master.m3u8"}},
	}
	q := &fakeQualifier{results: map[string]podcast.Qualification{"1001": qualifies("蘇奭")}}
	up := &fakeUploader{}
	p := newTestProcessor(t, cat, q, &fakeMedia{}, up)

	_, err := p.Sync(context.Background())
	require.NoError(t, err)
	first, err := p.Storage.Watermark()
	require.NoError(t, err)

	stats, err := p.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, stats.NewEpisodes)
	assert.Equal(t, 0, stats.Qualified)
	assert.Equal(t, 0, stats.Uploaded)
	assert.Len(t, up.uploads, 1, "no re-upload on the second run")

	second, err := p.Storage.Watermark()
	require.NoError(t, err)
	assert.Equal(t, first.LastChecked, second.LastChecked)
}

func TestSyncStoppingBoundary(t *testing.T) {
	cat := &fakeCatalog{
		months: []string{"202510"},
		episodes: map[string][]podcast.Episode{
			"202510": {
				{ID: "900", Title: "older", Date: "01/10/2025"},
				{ID: "901", Title: "newer", Date: "20/10/2025"},
			},
		},
	}
	q := &fakeQualifier{}
	p := newTestProcessor(t, cat, q, &fakeMedia{}, &fakeUploader{})
	require.NoError(t, p.Storage.SaveWatermark(podcast.Watermark{LastChecked: "15/10/2025"}))

	_, err := p.Sync(context.Background())
	require.NoError(t, err)

	// the pre-watermark episode never reaches the qualification fetch
	assert.Equal(t, []string{"901"}, q.calls)
}

func TestSyncStopsAtPreWatermarkMonth(t *testing.T) {
	cat := &fakeCatalog{
		months:   []string{"202511", "202509"},
		episodes: map[string][]podcast.Episode{},
	}
	p := newTestProcessor(t, cat, &fakeQualifier{}, &fakeMedia{}, &fakeUploader{})
	require.NoError(t, p.Storage.SaveWatermark(podcast.Watermark{LastChecked: "15/10/2025"}))

	_, err := p.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"202511"}, cat.monthCalls)
}

func TestSyncNoDuplicateArchive(t *testing.T) {
	cat := &fakeCatalog{
		months: []string{"202510"},
		episodes: map[string][]podcast.Episode{
			"202510": {{ID: "1001", Title: "合集", Date: "20/10/2025"}},
		},
		audio: map[string][]string{"1001": {"https://aod.example/a/master.m3u8"}},
	}
	q := &fakeQualifier{results: map[string]podcast.Qualification{"1001": qualifies("蘇奭")}}
	up := &fakeUploader{}
	p := newTestProcessor(t, cat, q, &fakeMedia{}, up)
	require.NoError(t, p.Storage.SaveArchive("1001", podcast.ArchiveItem{ItemID: "item-1001"}))

	stats, err := p.Sync(context.Background())
	require.NoError(t, err)

	assert.Empty(t, up.uploads, "archived episode must not be re-uploaded")
	assert.Equal(t, 1, stats.Qualified)
	assert.Equal(t, 0, stats.Uploaded)
}

func TestSyncMonthListingErrorAborts(t *testing.T) {
	cat := &fakeCatalog{monthsErr: errors.New("connection refused")}
	p := newTestProcessor(t, cat, &fakeQualifier{}, &fakeMedia{}, &fakeUploader{})

	_, err := p.Sync(context.Background())
	require.Error(t, err)
}

func TestSyncMonthFetchErrorAbortsWithoutWatermarkAdvance(t *testing.T) {
	cat := &fakeCatalog{
		months: []string{"202511", "202510"},
		episodes: map[string][]podcast.Episode{
			"202511": {{ID: "1100", Title: "新", Date: "05/11/2025"}},
		},
		episodesErr: map[string]error{"202510": errors.New("timeout")},
	}
	p := newTestProcessor(t, cat, &fakeQualifier{}, &fakeMedia{}, &fakeUploader{})

	_, err := p.Sync(context.Background())
	require.Error(t, err)

	// the aborted run leaves the watermark untouched so the same months are
	// retried next time
	w, werr := p.Storage.Watermark()
	require.NoError(t, werr)
	assert.True(t, w.Date().IsZero())
}

func TestSyncDownloadFailureIsIsolated(t *testing.T) {
	cat := &fakeCatalog{
		months: []string{"202510"},
		episodes: map[string][]podcast.Episode{
			"202510": {
				{ID: "1001", Title: "壞", Date: "20/10/2025"},
				{ID: "1002", Title: "好", Date: "21/10/2025"},
			},
		},
		audio: map[string][]string{
			"1001": {"https://aod.example/a/master.m3u8"},
			"1002": {"https://aod.example/b/master.m3u8"},
		},
	}
	q := &fakeQualifier{results: map[string]podcast.Qualification{
		"1001": qualifies("蘇奭"),
		"1002": qualifies("邱逸"),
	}}
	up := &fakeUploader{}
	p := newTestProcessor(t, cat, q, &fakeMedia{fail: map[string]bool{"1001": true}}, up)

	stats, err := p.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Qualified)
	assert.Equal(t, 1, stats.Uploaded)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, []string{"1002"}, up.uploads)

	// the failed episode stays recorded; the pending sweep of the next run
	// picks it up via the archive table, not via the watermark
	has, err := p.Storage.HasEpisode("1001")
	require.NoError(t, err)
	assert.True(t, has)
	w, err := p.Storage.Watermark()
	require.NoError(t, err)
	assert.Equal(t, "21/10/2025", w.LastChecked)
}

func TestSyncDryRunSkipsPipeline(t *testing.T) {
	cat := &fakeCatalog{
		months: []string{"202510"},
		episodes: map[string][]podcast.Episode{
			"202510": {{ID: "1001", Title: "合集", Date: "20/10/2025"}},
		},
		audio: map[string][]string{"1001": {"https://aod.example/a/master.m3u8"}},
	}
	q := &fakeQualifier{results: map[string]podcast.Qualification{"1001": qualifies("蘇奭")}}
	media := &fakeMedia{}
	up := &fakeUploader{}
	p := newTestProcessor(t, cat, q, media, up)
	p.DryRun = true

	stats, err := p.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Qualified)
	assert.Empty(t, media.fetched)
	assert.Empty(t, up.uploads)

	w, err := p.Storage.Watermark()
	require.NoError(t, err)
	assert.Equal(t, "20/10/2025", w.LastChecked)
}

func TestSyncRetriesPendingArchive(t *testing.T) {
	cat := &fakeCatalog{
		months: []string{"202511"},
		audio:  map[string][]string{"1001": {"https://aod.example/a/master.m3u8"}},
	}
	up := &fakeUploader{}
	p := newTestProcessor(t, cat, &fakeQualifier{}, &fakeMedia{}, up)

	// a previous run qualified this episode but its upload never landed
	_, err := p.Storage.SaveEpisode(&podcast.Episode{
		ID: "1001", Title: "漏網", Date: "20/10/2025",
		AudioURLs: []string{"https://aod.example/a/master.m3u8"},
	})
	require.NoError(t, err)

	stats, err := p.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"1001"}, up.uploads)
	assert.Equal(t, 1, stats.Uploaded)
	has, err := p.Storage.HasArchive("1001")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestSyncWritesStatsFile(t *testing.T) {
	cat := &fakeCatalog{months: []string{"202510"}}
	p := newTestProcessor(t, cat, &fakeQualifier{}, &fakeMedia{}, &fakeUploader{})

	_, err := p.Sync(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(p.StatsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"new_episodes": 0`)
}

func parts(labels ...string) []string { return labels }
