package transfer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/cocofetch/cocofetch/internal/integrity"
	"github.com/cocofetch/cocofetch/internal/remote"
	"github.com/cocofetch/cocofetch/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// trackingServer serves ranged GETs over fixed content and records every
// Range header it honors.
type trackingServer struct {
	*httptest.Server
	mu      sync.Mutex
	ranges  []string
	failFor func(start int64) bool
}

func newTrackingServer(t *testing.T, content []byte) *trackingServer {
	t.Helper()
	ts := &trackingServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(content)))
			w.WriteHeader(http.StatusOK)
			return
		}
		var start, end int64
		_, err := fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-%d", &start, &end)
		require.NoError(t, err)
		if ts.failFor != nil && ts.failFor(start) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		ts.mu.Lock()
		ts.ranges = append(ts.ranges, r.Header.Get("Range"))
		ts.mu.Unlock()
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(content)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(content[start : end+1])
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *trackingServer) servedRanges() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]string(nil), ts.ranges...)
}

func testContent(t *testing.T, n int) []byte {
	t.Helper()
	content := make([]byte, n)
	_, err := rand.New(rand.NewSource(7)).Read(content)
	require.NoError(t, err)
	return content
}

func newHTTPResource(t *testing.T, serverURL, outputPath string) Resource {
	t.Helper()
	src, err := remote.NewHTTPSource(serverURL, utils.NewHTTPClient(utils.HTTPClientConfig{}))
	require.NoError(t, err)
	return Resource{Source: src, OutputPath: outputPath}
}

func referenceDigest(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ref.bin")
	require.NoError(t, os.WriteFile(path, content, 0644))
	digest, err := integrity.TreeMD5(path, integrity.DigestWorkers)
	require.NoError(t, err)
	return digest
}

func TestCoordinatorFetchEndToEnd(t *testing.T) {
	content := testContent(t, 1<<20)
	server := newTrackingServer(t, content)
	outputPath := filepath.Join(t.TempDir(), "archive.bin")

	res := newHTTPResource(t, server.URL, outputPath)
	res.ExpectedSize = int64(len(content))
	res.ExpectedMD5 = referenceDigest(t, content)

	var stages []Stage
	var finalPercent float64
	coord := &Coordinator{
		Workers: 4,
		Stages:  func(s Stage) { stages = append(stages, s) },
		Events: func(e ProgressEvent) {
			if e.Segment == Aggregate {
				finalPercent = e.Percent
			}
		},
	}

	path, err := coord.Fetch(context.Background(), res)
	require.NoError(t, err)
	assert.Equal(t, outputPath, path)

	got, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// One ranged request per segment, workspace reclaimed, all stages seen.
	assert.Len(t, server.servedRanges(), 4)
	_, statErr := os.Stat(utils.WorkspaceDir(outputPath))
	assert.True(t, os.IsNotExist(statErr))
	assert.Equal(t, []Stage{StageDownloading, StageMerging, StageVerifying}, stages)
	assert.InDelta(t, 100.0, finalPercent, 0.01)
}

func TestCoordinatorResumeRequestsOnlyRemainingBytes(t *testing.T) {
	content := testContent(t, 400000)
	server := newTrackingServer(t, content)
	outputPath := filepath.Join(t.TempDir(), "archive.bin")

	plan, err := BuildPlan(int64(len(content)), 4)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(utils.WorkspaceDir(outputPath), 0755))
	require.NoError(t, SavePlan(outputPath, plan))

	// Segment 2 already holds the first 30000 bytes of its range.
	seg := plan.Segments[2]
	prefix := int64(30000)
	require.NoError(t, os.WriteFile(PartPath(outputPath, 2), content[seg.Start:seg.Start+prefix], 0644))

	res := newHTTPResource(t, server.URL, outputPath)
	res.ExpectedSize = int64(len(content))
	coord := &Coordinator{Workers: 4}

	_, err = coord.Fetch(context.Background(), res)
	require.NoError(t, err)

	got, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	wantRange := fmt.Sprintf("bytes=%d-%d", seg.Start+prefix, seg.End)
	assert.Contains(t, server.servedRanges(), wantRange)
	assert.NotContains(t, server.servedRanges(), fmt.Sprintf("bytes=%d-%d", seg.Start, seg.End))
}

func TestCoordinatorCompleteSegmentIssuesNoRequest(t *testing.T) {
	content := testContent(t, 100000)
	server := newTrackingServer(t, content)
	outputPath := filepath.Join(t.TempDir(), "archive.bin")

	plan, err := BuildPlan(int64(len(content)), 4)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(utils.WorkspaceDir(outputPath), 0755))
	require.NoError(t, SavePlan(outputPath, plan))

	seg := plan.Segments[1]
	require.NoError(t, os.WriteFile(PartPath(outputPath, 1), content[seg.Start:seg.End+1], 0644))

	res := newHTTPResource(t, server.URL, outputPath)
	coord := &Coordinator{Workers: 4}

	_, err = coord.Fetch(context.Background(), res)
	require.NoError(t, err)

	assert.Len(t, server.servedRanges(), 3)
	assert.NotContains(t, server.servedRanges(), fmt.Sprintf("bytes=%d-%d", seg.Start, seg.End))

	got, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestCoordinatorPlanMismatchDiscardsPartials(t *testing.T) {
	content := testContent(t, 200000)
	server := newTrackingServer(t, content)
	outputPath := filepath.Join(t.TempDir(), "archive.bin")

	// A prior run used 2 workers; its partials describe different ranges
	// and must not be reinterpreted as prefixes of the new partition.
	stale, err := BuildPlan(int64(len(content)), 2)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(utils.WorkspaceDir(outputPath), 0755))
	require.NoError(t, SavePlan(outputPath, stale))
	require.NoError(t, os.WriteFile(PartPath(outputPath, 0), []byte("stale garbage bytes"), 0644))
	require.NoError(t, os.WriteFile(PartPath(outputPath, 1), []byte("more stale garbage"), 0644))

	res := newHTTPResource(t, server.URL, outputPath)
	res.ExpectedSize = int64(len(content))
	res.ExpectedMD5 = referenceDigest(t, content)
	coord := &Coordinator{Workers: 4}

	_, err = coord.Fetch(context.Background(), res)
	require.NoError(t, err)

	got, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// Every new segment was fetched in full.
	fresh, err := BuildPlan(int64(len(content)), 4)
	require.NoError(t, err)
	for _, seg := range fresh.Segments {
		assert.Contains(t, server.servedRanges(), fmt.Sprintf("bytes=%d-%d", seg.Start, seg.End))
	}
}

func TestCoordinatorDigestMismatchDeletesOutput(t *testing.T) {
	content := testContent(t, 50000)
	server := newTrackingServer(t, content)
	outputPath := filepath.Join(t.TempDir(), "archive.bin")

	res := newHTTPResource(t, server.URL, outputPath)
	res.ExpectedSize = int64(len(content))
	res.ExpectedMD5 = "ffffffffffffffffffffffffffffffff"
	coord := &Coordinator{Workers: 4}

	_, err := coord.Fetch(context.Background(), res)
	var digestErr *integrity.DigestMismatchError
	require.ErrorAs(t, err, &digestErr)

	_, statErr := os.Stat(outputPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCoordinatorSizeMismatchDeletesOutput(t *testing.T) {
	content := testContent(t, 50000)
	server := newTrackingServer(t, content)
	outputPath := filepath.Join(t.TempDir(), "archive.bin")

	res := newHTTPResource(t, server.URL, outputPath)
	res.ExpectedSize = int64(len(content)) + 1
	coord := &Coordinator{Workers: 2}

	_, err := coord.Fetch(context.Background(), res)
	var sizeErr *integrity.SizeMismatchError
	require.ErrorAs(t, err, &sizeErr)

	_, statErr := os.Stat(outputPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCoordinatorSegmentFailurePreservesSiblingPartials(t *testing.T) {
	content := testContent(t, 100000)
	server := newTrackingServer(t, content)
	outputPath := filepath.Join(t.TempDir(), "archive.bin")

	plan, err := BuildPlan(int64(len(content)), 4)
	require.NoError(t, err)
	failing := plan.Segments[2]
	server.failFor = func(start int64) bool {
		return start >= failing.Start && start <= failing.End
	}

	res := newHTTPResource(t, server.URL, outputPath)
	coord := &Coordinator{Workers: 4}

	_, err = coord.Fetch(context.Background(), res)
	require.Error(t, err)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, 2, fetchErr.Segment)

	// Siblings completed and everything needed for a resume is still there.
	for _, seg := range plan.Segments {
		if seg.Index == 2 {
			continue
		}
		info, statErr := os.Stat(PartPath(outputPath, seg.Index))
		require.NoError(t, statErr)
		assert.Equal(t, seg.Length(), info.Size())
	}
	stored, err := LoadPlan(outputPath)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, plan.Matches(stored))
	_, statErr := os.Stat(outputPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownloadSegmentAttemptTruncated(t *testing.T) {
	// Server promises the full range but closes early.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 0-99/200")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("only a few bytes"))
	}))
	defer server.Close()

	src, err := remote.NewHTTPSource(server.URL, utils.NewHTTPClient(utils.HTTPClientConfig{}))
	require.NoError(t, err)

	outputPath := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, os.MkdirAll(utils.WorkspaceDir(outputPath), 0755))
	seg := Segment{Index: 0, Start: 0, End: 99}
	progressCh := make(chan segmentProgress, 16)

	err = downloadSegmentAttempt(context.Background(), src, seg, PartPath(outputPath, 0), nil, progressCh)
	assert.True(t, errors.Is(err, errTruncatedBody))
}

func TestCoordinatorFetchThroughSharedRateLimiter(t *testing.T) {
	content := testContent(t, 64<<10)
	server := newTrackingServer(t, content)
	outputPath := filepath.Join(t.TempDir(), "limited.bin")

	res := newHTTPResource(t, server.URL, outputPath)
	res.ExpectedSize = int64(len(content))

	// 1 MB/s with a 16 KB burst: 64 KB across all segments cannot finish
	// faster than the tokens the limiter grants after the initial burst.
	limiter := rate.NewLimiter(rate.Limit(1<<20), 16<<10)
	coord := &Coordinator{Workers: 4, Limiter: limiter}

	started := time.Now()
	path, err := coord.Fetch(context.Background(), res)
	require.NoError(t, err)
	assert.Equal(t, outputPath, path)
	assert.GreaterOrEqual(t, time.Since(started), 30*time.Millisecond)

	got, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestWaitQuotaStepsBeyondBurst(t *testing.T) {
	// A single read can exceed the burst; waitQuota must split it instead
	// of letting WaitN reject the request outright.
	limiter := rate.NewLimiter(rate.Limit(1<<20), 8)
	require.NoError(t, waitQuota(context.Background(), limiter, 100))
}

func TestWaitQuotaNilLimiter(t *testing.T) {
	require.NoError(t, waitQuota(context.Background(), nil, 1<<20))
}

func TestWaitQuotaCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	limiter := rate.NewLimiter(rate.Limit(1), 1)
	assert.Error(t, waitQuota(ctx, limiter, 4))
}
