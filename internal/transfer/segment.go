package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cocofetch/cocofetch/internal/remote"
	"github.com/cocofetch/cocofetch/internal/utils"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const maxSegmentRetries = 5

var errTruncatedBody = errors.New("response body ended before the range was complete")

type segmentProgress struct {
	index int
	bytes int64
}

// fetchSegment downloads one byte range into its partial file, resuming from
// whatever prefix of the range is already on disk. Bytes that reached disk in
// a failed attempt are kept and not re-fetched.
func fetchSegment(ctx context.Context, src remote.Source, seg Segment, partPath string, limiter *rate.Limiter, progressCh chan<- segmentProgress) error {
	expectedSize := seg.Length()
	if fileInfo, err := os.Stat(partPath); err == nil {
		if fileInfo.Size() == expectedSize {
			progressCh <- segmentProgress{seg.Index, expectedSize}
			return nil
		}
		if fileInfo.Size() > expectedSize {
			// Stale partial from a different partition, cannot be a prefix.
			os.Remove(partPath)
		} else if fileInfo.Size() > 0 {
			progressCh <- segmentProgress{seg.Index, fileInfo.Size()}
		}
	}
	var lastErr error
	for retry := range maxSegmentRetries {
		if retry > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(retry+1) * 500 * time.Millisecond): // Backoff
			}
		}
		err := downloadSegmentAttempt(ctx, src, seg, partPath, limiter, progressCh)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		if errors.Is(err, remote.ErrRangeNotSupported) {
			return &FetchError{Kind: FetchRangeUnsupported, Segment: seg.Index, Err: err}
		}
		if !remote.Retryable(err) && !errors.Is(err, errTruncatedBody) {
			return &FetchError{Kind: FetchNetwork, Segment: seg.Index, Err: err}
		}
		log.Debug().Str("op", "transfer/segment").Err(err).Msgf("Attempt %d/%d failed for segment %d", retry+1, maxSegmentRetries, seg.Index)
	}
	kind := FetchNetwork
	if errors.Is(lastErr, errTruncatedBody) {
		kind = FetchTruncated
	}
	return &FetchError{Kind: kind, Segment: seg.Index, Err: fmt.Errorf("exhausted %d retries: %v", maxSegmentRetries, lastErr)}
}

func downloadSegmentAttempt(ctx context.Context, src remote.Source, seg Segment, partPath string, limiter *rate.Limiter, progressCh chan<- segmentProgress) error {
	resumeOffset := int64(0)
	if fileInfo, err := os.Stat(partPath); err == nil {
		resumeOffset = fileInfo.Size()
	}
	if resumeOffset == seg.Length() {
		return nil
	}
	flag := os.O_WRONLY | os.O_CREATE
	if resumeOffset > 0 {
		flag |= os.O_APPEND
	} else {
		flag |= os.O_TRUNC
	}
	partFile, err := os.OpenFile(partPath, flag, 0644)
	if err != nil {
		return fmt.Errorf("error opening partial file: %v", err)
	}
	defer partFile.Close()

	startByte := seg.Start + resumeOffset
	body, err := src.OpenRange(ctx, startByte, seg.End)
	if err != nil {
		return err
	}
	defer body.Close()

	remainingBytes := seg.End - startByte + 1
	buffer := make([]byte, utils.DefaultBufferSize)
	newBytes := int64(0)
	for {
		bytesRead, readErr := body.Read(buffer)
		if bytesRead > 0 {
			if err := waitQuota(ctx, limiter, bytesRead); err != nil {
				return err
			}
			if _, writeErr := partFile.Write(buffer[:bytesRead]); writeErr != nil {
				return fmt.Errorf("error writing partial file: %v", writeErr)
			}
			newBytes += int64(bytesRead)
			progressCh <- segmentProgress{seg.Index, int64(bytesRead)}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return readErr
		}
	}
	if newBytes < remainingBytes {
		return fmt.Errorf("%w: expected %d remaining bytes, got %d", errTruncatedBody, remainingBytes, newBytes)
	}
	if newBytes > remainingBytes {
		return fmt.Errorf("server sent %d bytes for a %d byte range", newBytes, remainingBytes)
	}
	partFile.Sync()
	return nil
}

// waitQuota blocks until the shared limiter grants n bytes, stepping by the
// burst size since WaitN rejects requests larger than it.
func waitQuota(ctx context.Context, limiter *rate.Limiter, n int) error {
	if limiter == nil {
		return nil
	}
	for n > 0 {
		step := min(n, limiter.Burst())
		if err := limiter.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}
