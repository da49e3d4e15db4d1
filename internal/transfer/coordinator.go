package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cocofetch/cocofetch/internal/integrity"
	"github.com/cocofetch/cocofetch/internal/remote"
	"github.com/cocofetch/cocofetch/internal/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type Stage string

const (
	StageDownloading Stage = "downloading"
	StageMerging     Stage = "merging"
	StageVerifying   Stage = "verifying"
)

// Aggregate marks a ProgressEvent that covers the whole transfer rather
// than a single segment.
const Aggregate = -1

type ProgressEvent struct {
	Segment    int // segment index, or Aggregate
	Downloaded int64
	Total      int64
	Percent    float64
}

// Resource is one remote object to acquire. Identity is the output path;
// expected size/digest are optional reference values checked after merge.
type Resource struct {
	Source       remote.Source
	OutputPath   string
	ExpectedSize int64
	ExpectedMD5  string
}

// Coordinator plans a resource's byte-range partition, runs one segment
// fetch per range, merges the partials, and verifies the result. Segment
// failures are isolated: siblings run to completion so their bytes survive
// for a later resume.
type Coordinator struct {
	Workers int
	Limiter *rate.Limiter       // optional shared byte-rate limiter
	Events  func(ProgressEvent) // optional progress sink
	Stages  func(Stage)         // optional stage-transition sink
}

// Fetch acquires the resource and returns the verified output path. On
// segment failure the partials and plan stay on disk for the next run; on
// verification failure the merged output is removed.
func (c *Coordinator) Fetch(ctx context.Context, res Resource) (string, error) {
	logger := log.With().Str("op", "transfer/coordinator").Str("id", uuid.NewString()[:8]).Logger()
	workers := c.Workers
	if workers < 1 {
		workers = integrity.DigestWorkers
	}

	info, err := res.Source.Probe(ctx)
	if err != nil {
		if errors.Is(err, remote.ErrRangeNotSupported) {
			return "", &FetchError{Kind: FetchRangeUnsupported, Segment: Aggregate, Err: err}
		}
		return "", fmt.Errorf("error probing resource: %v", err)
	}
	logger.Info().Msgf("Fetching %s (%s) with %d segments", res.OutputPath, utils.FormatBytes(uint64(info.Size)), workers)

	plan, err := BuildPlan(info.Size, workers)
	if err != nil {
		return "", err
	}
	if err := c.preparePlan(res.OutputPath, plan, logger); err != nil {
		return "", err
	}

	c.setStage(StageDownloading)
	progressCh := make(chan segmentProgress, 100)
	progressDone := make(chan struct{})
	go c.aggregateProgress(plan, progressCh, progressDone)

	var wg sync.WaitGroup
	segErrs := make([]error, len(plan.Segments))
	for i := range plan.Segments {
		wg.Add(1)
		go func(seg Segment) {
			defer wg.Done()
			segErrs[seg.Index] = fetchSegment(ctx, res.Source, seg, PartPath(res.OutputPath, seg.Index), c.Limiter, progressCh)
		}(plan.Segments[i])
	}
	wg.Wait()
	close(progressCh)
	<-progressDone

	var failed []error
	for _, err := range segErrs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		logger.Error().Msgf("%d of %d segments failed; partial files kept for resume", len(failed), len(plan.Segments))
		return "", errors.Join(failed...)
	}

	c.setStage(StageMerging)
	if err := merge(res.OutputPath, plan); err != nil {
		return "", err
	}

	c.setStage(StageVerifying)
	result, err := integrity.NewVerifier().Verify(res.OutputPath, res.ExpectedSize, res.ExpectedMD5)
	if err != nil {
		os.Remove(res.OutputPath)
		return "", fmt.Errorf("error verifying %s: %v", res.OutputPath, err)
	}
	if !result.OK {
		// The merged file is known-bad; the partials were consumed by the
		// merge, so the next attempt re-downloads from scratch.
		os.Remove(res.OutputPath)
		return "", result.Err
	}
	logger.Info().Msgf("Verified %s: %s", res.OutputPath, result.Reason)
	return res.OutputPath, nil
}

// preparePlan creates the workspace and reconciles any persisted plan from a
// prior run. A mismatched plan means the partials on disk describe a
// different partition, so they are discarded before the fresh plan is saved.
func (c *Coordinator) preparePlan(outputPath string, plan *Plan, logger zerolog.Logger) error {
	if err := os.MkdirAll(utils.WorkspaceDir(outputPath), 0755); err != nil {
		return fmt.Errorf("error creating workspace directory: %v", err)
	}
	stored, err := LoadPlan(outputPath)
	if err != nil {
		return err
	}
	if stored != nil && plan.Matches(stored) {
		return nil
	}
	if stored != nil {
		logger.Warn().Msgf("Stored plan for %s does not match; discarding stale partial files", outputPath)
		for _, seg := range stored.Segments {
			os.Remove(PartPath(outputPath, seg.Index))
		}
	}
	return SavePlan(outputPath, plan)
}

// aggregateProgress owns the event channel: it folds per-segment byte counts
// into per-segment and whole-transfer events for the registered sink.
func (c *Coordinator) aggregateProgress(plan *Plan, progressCh <-chan segmentProgress, done chan<- struct{}) {
	defer close(done)
	perSegment := make([]int64, len(plan.Segments))
	var totalDownloaded int64
	var lastEmitted int64
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case update, ok := <-progressCh:
			if !ok {
				c.emit(ProgressEvent{Segment: Aggregate, Downloaded: totalDownloaded, Total: plan.TotalSize, Percent: percentOf(totalDownloaded, plan.TotalSize)})
				return
			}
			perSegment[update.index] += update.bytes
			totalDownloaded += update.bytes
			seg := plan.Segments[update.index]
			c.emit(ProgressEvent{Segment: update.index, Downloaded: perSegment[update.index], Total: seg.Length(), Percent: percentOf(perSegment[update.index], seg.Length())})
		case <-ticker.C:
			if totalDownloaded > lastEmitted {
				c.emit(ProgressEvent{Segment: Aggregate, Downloaded: totalDownloaded, Total: plan.TotalSize, Percent: percentOf(totalDownloaded, plan.TotalSize)})
				lastEmitted = totalDownloaded
			}
		}
	}
}

func (c *Coordinator) emit(event ProgressEvent) {
	if c.Events != nil {
		c.Events(event)
	}
}

func (c *Coordinator) setStage(stage Stage) {
	if c.Stages != nil {
		c.Stages(stage)
	}
}

func percentOf(current, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(current) / float64(total) * 100
}
