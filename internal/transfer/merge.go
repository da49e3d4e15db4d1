package transfer

import (
	"fmt"
	"io"
	"os"

	"github.com/cocofetch/cocofetch/internal/utils"
	"github.com/rs/zerolog/log"
)

// merge concatenates the partial files in strict segment-index order into
// outputPath, then reclaims the workspace. The output length must equal the
// plan's total size; a mismatch invalidates the output.
func merge(outputPath string, plan *Plan) error {
	destFile, err := os.Create(outputPath)
	if err != nil {
		return &MergeError{Path: outputPath, Err: fmt.Errorf("error creating output file: %v", err)}
	}
	defer destFile.Close()

	buffer := make([]byte, utils.MergeBufferSize)
	var totalWritten int64
	for _, seg := range plan.Segments {
		partPath := PartPath(outputPath, seg.Index)
		partFile, err := os.Open(partPath)
		if err != nil {
			os.Remove(outputPath)
			return &MergeError{Path: outputPath, Err: fmt.Errorf("error opening partial file %d: %v", seg.Index, err)}
		}
		written, err := io.CopyBuffer(destFile, partFile, buffer)
		partFile.Close()
		if err != nil {
			os.Remove(outputPath)
			return &MergeError{Path: outputPath, Err: fmt.Errorf("error copying partial file %d: %v", seg.Index, err)}
		}
		totalWritten += written
	}
	if totalWritten != plan.TotalSize {
		os.Remove(outputPath)
		return &MergeError{Path: outputPath, Err: fmt.Errorf("size mismatch: expected %d bytes, wrote %d", plan.TotalSize, totalWritten)}
	}
	if err := destFile.Sync(); err != nil {
		return &MergeError{Path: outputPath, Err: err}
	}
	log.Debug().Str("op", "transfer/merge").Msgf("Merged %d segments into %s (%d bytes)", len(plan.Segments), outputPath, totalWritten)
	if err := utils.CleanWorkspace(outputPath); err != nil {
		log.Warn().Str("op", "transfer/merge").Err(err).Msg("Could not reclaim workspace")
	}
	return nil
}
