package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tubesearch/apps/backend/internal/adapter/memory"
	"tubesearch/apps/backend/internal/ingest"
	"tubesearch/apps/backend/internal/lock"
	"tubesearch/apps/backend/internal/transcript"
)

type fakeSource struct {
	pages       map[string]*transcript.VideoPage
	pageErrs    map[string]error
	transcripts map[string]string
	listed      []string
	fetched     []string
}

func (f *fakeSource) ListChannelVideos(ctx context.Context, channelID, pageToken string) (*transcript.VideoPage, error) {
	f.listed = append(f.listed, pageToken)
	if err := f.pageErrs[pageToken]; err != nil {
		return nil, err
	}
	return f.pages[pageToken], nil
}

func (f *fakeSource) FetchTranscript(ctx context.Context, videoRef string) (string, error) {
	f.fetched = append(f.fetched, videoRef)
	body, ok := f.transcripts[videoRef]
	if !ok {
		return "", transcript.ErrNotFound
	}
	return body, nil
}

type flakyIndex struct {
	*memory.Store
	errFor map[string]bool
}

func (f *flakyIndex) HasSource(ctx context.Context, sourceID string) (bool, error) {
	if f.errFor[sourceID] {
		return false, errors.New("index unavailable")
	}
	return f.Store.HasSource(ctx, sourceID)
}

func twoPageSource() *fakeSource {
	return &fakeSource{
		pages: map[string]*transcript.VideoPage{
			"":   {VideoIDs: []string{"v1", "v2", "v3"}, NextPageToken: "p2"},
			"p2": {VideoIDs: []string{"v3", "v4", "v5"}},
		},
		transcripts: map[string]string{
			"v1": "first transcript", "v2": "second transcript", "v3": "third transcript",
			"v4": "fourth transcript", "v5": "fifth transcript",
		},
	}
}

func fixedOpts(maxNew, maxPages int) ingest.ChannelOptions {
	return ingest.ChannelOptions{
		MaxNewVideos:   maxNew,
		MaxPagesToScan: maxPages,
		Segmentation:   ingest.Segmentation{Mode: ingest.ModeFixed, ChunkSize: 300},
	}
}

func TestChannel_StopsAtMaxNewVideos(t *testing.T) {
	store := memory.NewStore()
	src := twoPageSource()
	c := ingest.NewChannelIngester(ingest.NewPipeline(&fakeEmbedder{}, store), src, store)

	report, err := c.IngestChannel(context.Background(), "UC1", fixedOpts(2, 10))
	require.NoError(t, err)
	require.Len(t, report.Videos, 2)
	assert.Equal(t, "v1", report.Videos[0].SourceID)
	assert.Equal(t, "v2", report.Videos[1].SourceID)
	assert.Equal(t, 1, report.PagesScanned)
	assert.Equal(t, []string{""}, src.listed)
}

func TestChannel_SkipsStoredAndUnfetchableVideos(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.Insert(ctx, transcript.Record{SourceID: "v1", Index: 0, Text: "x", Vector: []float32{1, 1}}))

	src := twoPageSource()
	delete(src.transcripts, "v2")
	c := ingest.NewChannelIngester(ingest.NewPipeline(&fakeEmbedder{}, store), src, store)

	report, err := c.IngestChannel(ctx, "UC1", fixedOpts(3, 10))
	require.NoError(t, err)

	var ids []string
	for _, v := range report.Videos {
		ids = append(ids, v.SourceID)
	}
	assert.Equal(t, []string{"v3", "v4", "v5"}, ids)
	require.Len(t, report.SkippedVideos, 1)
	assert.Equal(t, "v2", report.SkippedVideos[0].VideoID)
	assert.Equal(t, 2, report.PagesScanned)
	assert.NotContains(t, src.fetched, "v1")
	assert.Equal(t, 1, countOf(src.fetched, "v3"), "ids repeated across pages are tried once")
}

func TestChannel_PaginationEnds(t *testing.T) {
	store := memory.NewStore()
	src := twoPageSource()
	c := ingest.NewChannelIngester(ingest.NewPipeline(&fakeEmbedder{}, store), src, store)

	report, err := c.IngestChannel(context.Background(), "UC1", fixedOpts(10, 10))
	require.NoError(t, err)
	assert.Len(t, report.Videos, 5)
	assert.Equal(t, 2, report.PagesScanned)
}

func TestChannel_MaxPagesToScan(t *testing.T) {
	store := memory.NewStore()
	src := twoPageSource()
	c := ingest.NewChannelIngester(ingest.NewPipeline(&fakeEmbedder{}, store), src, store)

	report, err := c.IngestChannel(context.Background(), "UC1", fixedOpts(10, 1))
	require.NoError(t, err)
	assert.Len(t, report.Videos, 3)
	assert.Equal(t, 1, report.PagesScanned)
}

func TestChannel_ListingErrors(t *testing.T) {
	t.Run("First Page Is Terminal", func(t *testing.T) {
		store := memory.NewStore()
		src := &fakeSource{pageErrs: map[string]error{"": transcript.ErrNotFound}}
		c := ingest.NewChannelIngester(ingest.NewPipeline(&fakeEmbedder{}, store), src, store)

		report, err := c.IngestChannel(context.Background(), "UCgone", fixedOpts(3, 10))
		assert.Nil(t, report)
		assert.ErrorIs(t, err, transcript.ErrNotFound)
	})

	t.Run("Later Page Ends Scan", func(t *testing.T) {
		src := twoPageSource()
		src.pageErrs = map[string]error{"p2": errors.New("quota exceeded")}
		store := memory.NewStore()
		c := ingest.NewChannelIngester(ingest.NewPipeline(&fakeEmbedder{}, store), src, store)

		report, err := c.IngestChannel(context.Background(), "UC1", fixedOpts(10, 10))
		require.NoError(t, err)
		assert.Len(t, report.Videos, 3)
		assert.Equal(t, 1, report.PagesScanned)
	})
}

func TestChannel_IndexErrorTreatsVideoAsNew(t *testing.T) {
	store := memory.NewStore()
	idx := &flakyIndex{Store: store, errFor: map[string]bool{"v1": true}}
	c := ingest.NewChannelIngester(ingest.NewPipeline(&fakeEmbedder{}, store), twoPageSource(), idx)

	report, err := c.IngestChannel(context.Background(), "UC1", fixedOpts(1, 10))
	require.NoError(t, err)
	require.Len(t, report.Videos, 1)
	assert.Equal(t, "v1", report.Videos[0].SourceID)
}

func TestChannel_Defaults(t *testing.T) {
	store := memory.NewStore()
	src := &fakeSource{pages: map[string]*transcript.VideoPage{}}
	for i := 0; i < 12; i++ {
		token := fmt.Sprintf("p%d", i)
		if i == 0 {
			token = ""
		}
		src.pages[token] = &transcript.VideoPage{
			VideoIDs:      []string{fmt.Sprintf("vid%d", i)},
			NextPageToken: fmt.Sprintf("p%d", i+1),
		}
	}
	c := ingest.NewChannelIngester(ingest.NewPipeline(&fakeEmbedder{}, store), src, store)

	report, err := c.IngestChannel(context.Background(), "UC1", ingest.ChannelOptions{})
	require.NoError(t, err)
	assert.Equal(t, ingest.DefaultMaxPagesToScan, report.PagesScanned)
	assert.Len(t, report.SkippedVideos, ingest.DefaultMaxPagesToScan)
	assert.Empty(t, report.Videos)
}

func TestChannel_PartialOptionsKeepSemanticDefaults(t *testing.T) {
	store := memory.NewStore()
	src := twoPageSource()
	src.transcripts["v1"] = "A cat sat on the mat. A cat slept all day."
	src.transcripts["v2"] = "A dog ran in the park. A dog barked at birds."
	c := ingest.NewChannelIngester(ingest.NewPipeline(&fakeEmbedder{}, store), src, store)

	report, err := c.IngestChannel(context.Background(), "UC1", ingest.ChannelOptions{MaxNewVideos: 2})
	require.NoError(t, err)
	require.Len(t, report.Videos, 2)
	assert.Empty(t, report.SkippedVideos)
	for _, v := range report.Videos {
		assert.Equal(t, 1, v.Stored, v.SourceID)
	}
}

type lockCheckingSource struct {
	*fakeSource
	locker lock.Locker
	held   map[string]bool
}

func (s *lockCheckingSource) FetchTranscript(ctx context.Context, videoRef string) (string, error) {
	_, ok, err := s.locker.TryLock(ctx, lock.VideoKey(videoRef), time.Minute)
	if err != nil {
		return "", err
	}
	s.held[videoRef] = !ok
	return s.fakeSource.FetchTranscript(ctx, videoRef)
}

func TestChannel_VideoLocks(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	locker := lock.NewLocalLocker()
	src := &lockCheckingSource{fakeSource: twoPageSource(), locker: locker, held: map[string]bool{}}

	busy, ok, err := locker.TryLock(ctx, lock.VideoKey("v1"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	c := ingest.NewChannelIngester(ingest.NewPipeline(&fakeEmbedder{}, store), src, store,
		ingest.WithVideoLocks(locker, time.Minute))

	report, err := c.IngestChannel(ctx, "UC1", fixedOpts(2, 10))
	require.NoError(t, err)

	require.Len(t, report.SkippedVideos, 1)
	assert.Equal(t, "v1", report.SkippedVideos[0].VideoID)
	assert.Equal(t, lock.ErrBusy.Error(), report.SkippedVideos[0].Reason)
	assert.NotContains(t, src.fetched, "v1")

	require.Len(t, report.Videos, 2)
	assert.Equal(t, "v2", report.Videos[0].SourceID)
	assert.Equal(t, "v3", report.Videos[1].SourceID)
	assert.True(t, src.held["v2"], "video lock is held while the video is ingested")
	assert.True(t, src.held["v3"])

	_, ok, err = locker.TryLock(ctx, lock.VideoKey("v2"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "video lock is released after ingestion")
	require.NoError(t, busy.Release(ctx))
}

func countOf(items []string, want string) int {
	n := 0
	for _, it := range items {
		if it == want {
			n++
		}
	}
	return n
}
