package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cocofetch/cocofetch/internal/integrity"
	"github.com/cocofetch/cocofetch/internal/remote"
	"github.com/cocofetch/cocofetch/internal/transfer"
	"github.com/cocofetch/cocofetch/internal/utils"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type State string

const (
	StateAbsent      State = "absent"
	StateDownloading State = "downloading"
	StateMerging     State = "merging"
	StateVerifying   State = "verifying"
	StateExtracted   State = "extracted"
	StateFailed      State = "failed"
)

// Flow acquires every resource in a manifest: download via the segmented
// coordinator, verify, extract, clean up. Resources are independent; one
// failing does not stop the others.
type Flow struct {
	BaseDir      string
	Workers      int
	ClientConfig utils.HTTPClientConfig
	S3Profile    string
	Limiter      *rate.Limiter
	Events       func(name string, event transfer.ProgressEvent)
	States       func(name string, state State)

	// newSource is swapped in tests to point resources at fixtures.
	newSource func(url string) (remote.Source, error)
}

func NewFlow(baseDir string, workers int, clientConfig utils.HTTPClientConfig) *Flow {
	f := &Flow{
		BaseDir:      baseDir,
		Workers:      workers,
		ClientConfig: clientConfig,
		S3Profile:    "default",
	}
	f.newSource = f.defaultSource
	return f
}

func (f *Flow) defaultSource(url string) (remote.Source, error) {
	if strings.HasPrefix(url, "s3://") {
		return remote.NewS3Source(url, f.S3Profile)
	}
	return remote.NewHTTPSource(url, utils.NewHTTPClient(f.ClientConfig))
}

// Run walks the manifest and returns each resource's terminal state. The
// error is non-nil iff at least one resource ended Failed.
func (f *Flow) Run(ctx context.Context, manifest *Manifest) (map[string]State, error) {
	logger := utils.GetLogger("dataset/flow")
	if err := os.MkdirAll(f.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("error creating base directory: %v", err)
	}
	states := make(map[string]State, len(manifest.Resources))
	var failed []string
	for _, res := range manifest.Resources {
		if ctx.Err() != nil {
			return states, ctx.Err()
		}
		state := f.acquire(ctx, res)
		states[res.Name] = state
		if state == StateFailed {
			failed = append(failed, res.Name)
		}
	}
	if len(failed) > 0 {
		return states, fmt.Errorf("%d of %d resources failed: %s", len(failed), len(manifest.Resources), strings.Join(failed, ", "))
	}
	logger.Info().Msgf("All %d resources acquired", len(manifest.Resources))
	return states, nil
}

func (f *Flow) acquire(ctx context.Context, res ResourceSpec) State {
	logger := log.With().Str("op", "dataset/flow").Str("resource", res.Name).Logger()
	f.setState(res.Name, StateAbsent)

	if res.Marker != "" {
		if _, err := os.Stat(filepath.Join(f.BaseDir, res.Marker)); err == nil {
			logger.Info().Msg("Already extracted, skipping")
			f.setState(res.Name, StateExtracted)
			return StateExtracted
		}
	}

	archivePath := filepath.Join(f.BaseDir, res.Archive)
	needDownload := true
	if _, err := os.Stat(archivePath); err == nil {
		logger.Info().Msg("Archive already present, verifying before reuse")
		result, err := integrity.NewVerifier().Verify(archivePath, res.Size, res.MD5)
		if err == nil && result.OK {
			logger.Info().Msgf("Reusing verified archive: %s", result.Reason)
			needDownload = false
		} else {
			if err == nil {
				logger.Warn().Msgf("Existing archive is invalid (%s), re-downloading", result.Reason)
			} else {
				logger.Warn().Err(err).Msg("Could not verify existing archive, re-downloading")
			}
			os.Remove(archivePath)
		}
	}

	if needDownload {
		src, err := f.newSource(res.URL)
		if err != nil {
			logger.Error().Err(err).Msg("Could not build source")
			f.setState(res.Name, StateFailed)
			return StateFailed
		}
		coord := &transfer.Coordinator{
			Workers: f.Workers,
			Limiter: f.Limiter,
			Stages: func(stage transfer.Stage) {
				f.setState(res.Name, State(stage))
			},
			Events: func(event transfer.ProgressEvent) {
				if f.Events != nil {
					f.Events(res.Name, event)
				}
			},
		}
		if _, err := coord.Fetch(ctx, transfer.Resource{
			Source:       src,
			OutputPath:   archivePath,
			ExpectedSize: res.Size,
			ExpectedMD5:  res.MD5,
		}); err != nil {
			logger.Error().Err(err).Msg("Acquisition failed; rerun to resume")
			f.setState(res.Name, StateFailed)
			return StateFailed
		}
	}

	destDir := f.BaseDir
	if res.ExtractTo != "" {
		destDir = filepath.Join(f.BaseDir, res.ExtractTo)
	}
	if err := ExtractZip(archivePath, destDir); err != nil {
		logger.Error().Err(err).Msg("Extraction failed")
		f.setState(res.Name, StateFailed)
		return StateFailed
	}
	f.setState(res.Name, StateExtracted)
	return StateExtracted
}

func (f *Flow) setState(name string, state State) {
	if f.States != nil {
		f.States(name, state)
	}
}

// Clean removes every transient and extracted artifact the manifest's
// resources could have produced under the base directory, for a full reset.
func (f *Flow) Clean(manifest *Manifest) error {
	logger := utils.GetLogger("dataset/clean")
	for _, res := range manifest.Resources {
		archivePath := filepath.Join(f.BaseDir, res.Archive)
		for _, path := range []string{archivePath, markerRoot(f.BaseDir, res.Marker)} {
			if path == "" {
				continue
			}
			if err := removeIfPresent(path); err != nil {
				return err
			}
		}
		if res.ExtractTo != "" {
			if err := removeIfPresent(filepath.Join(f.BaseDir, res.ExtractTo)); err != nil {
				return err
			}
		}
	}
	tempDir := filepath.Join(f.BaseDir, utils.WorkspaceDirName)
	if err := removeIfPresent(tempDir); err != nil {
		return err
	}
	logger.Info().Msgf("Cleaned dataset artifacts under %s", f.BaseDir)
	return nil
}

// markerRoot is the top path element of a marker, the directory or file
// extraction created under the base dir.
func markerRoot(baseDir, marker string) string {
	if marker == "" {
		return ""
	}
	first := strings.Split(filepath.ToSlash(marker), "/")[0]
	return filepath.Join(baseDir, first)
}

func removeIfPresent(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("error removing %s: %v", path, err)
	}
	return nil
}
