// Package integrity computes and checks the reference values a fetched
// archive is accepted against: byte size and a parallel chunked MD5.
package integrity

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"
)

// DigestWorkers is the chunking parameter reference digests are computed
// with. The tree-hash combiner makes the digest depend on the partition, so
// this is a scheme constant, not a tunable.
const DigestWorkers = 4

// hashReadSize is the sequential read size within one chunk.
const hashReadSize = 1024 * 1024 // 1MB

// TreeMD5 digests the file by splitting it into workers contiguous ranges
// (same division rule as a transfer plan: remainder to the last range),
// hashing each range in parallel, then hashing the concatenation of the raw
// per-range digests in range order. The result is only comparable to
// digests computed with the same worker count.
func TreeMD5(path string, workers int) (string, error) {
	fileInfo, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("error accessing file: %v", err)
	}
	if workers < 1 {
		return "", fmt.Errorf("invalid worker count: %d", workers)
	}
	totalSize := fileInfo.Size()
	if totalSize == 0 {
		sum := md5.Sum(nil)
		final := md5.Sum(sum[:])
		return hex.EncodeToString(final[:]), nil
	}
	if totalSize < int64(workers) {
		workers = int(totalSize)
	}

	chunkSize := totalSize / int64(workers)
	chunkDigests := make([][md5.Size]byte, workers)
	var group errgroup.Group
	for i := range workers {
		start := int64(i) * chunkSize
		end := start + chunkSize - 1
		if i == workers-1 {
			end = totalSize - 1
		}
		group.Go(func() error {
			digest, err := hashRange(path, start, end)
			if err != nil {
				return fmt.Errorf("error hashing range %d-%d: %v", start, end, err)
			}
			chunkDigests[i] = digest
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return "", err
	}

	combiner := md5.New()
	for _, digest := range chunkDigests {
		combiner.Write(digest[:])
	}
	return hex.EncodeToString(combiner.Sum(nil)), nil
}

func hashRange(path string, start, end int64) ([md5.Size]byte, error) {
	var digest [md5.Size]byte
	file, err := os.Open(path)
	if err != nil {
		return digest, err
	}
	defer file.Close()
	if _, err := file.Seek(start, io.SeekStart); err != nil {
		return digest, err
	}
	hasher := md5.New()
	remaining := io.LimitReader(file, end-start+1)
	written, err := io.CopyBuffer(hasher, remaining, make([]byte, hashReadSize))
	if err != nil {
		return digest, err
	}
	if written != end-start+1 {
		return digest, fmt.Errorf("short read: expected %d bytes, read %d", end-start+1, written)
	}
	copy(digest[:], hasher.Sum(nil))
	return digest, nil
}
