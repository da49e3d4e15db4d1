package integrity

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
)

// ErrAbsent is returned when the file under verification does not exist.
var ErrAbsent = errors.New("file is absent")

type SizeMismatchError struct {
	Path     string
	Expected int64
	Actual   int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("size mismatch for %s: expected %d bytes, got %d", e.Path, e.Expected, e.Actual)
}

type DigestMismatchError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *DigestMismatchError) Error() string {
	return fmt.Sprintf("digest mismatch for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

type Result struct {
	OK     bool
	Reason string
	Err    error // typed failure cause when !OK
}

// Verifier checks a local file against optional reference values. A zero
// expected size or empty expected digest means that check is skipped.
type Verifier struct {
	digest func(path string, workers int) (string, error)
}

func NewVerifier() *Verifier {
	return &Verifier{digest: TreeMD5}
}

// Verify compares size first: a size mismatch fails without computing the
// digest, since hashing a multi-gigabyte file is the expensive step.
func (v *Verifier) Verify(path string, expectedSize int64, expectedMD5 string) (Result, error) {
	fileInfo, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Reason: "absent", Err: fmt.Errorf("%w: %s", ErrAbsent, path)}, nil
		}
		return Result{}, err
	}
	if expectedSize > 0 && fileInfo.Size() != expectedSize {
		mismatch := &SizeMismatchError{Path: path, Expected: expectedSize, Actual: fileInfo.Size()}
		return Result{Reason: mismatch.Error(), Err: mismatch}, nil
	}
	if expectedMD5 != "" {
		actual, err := v.digest(path, DigestWorkers)
		if err != nil {
			return Result{}, fmt.Errorf("error computing digest: %v", err)
		}
		if actual != expectedMD5 {
			mismatch := &DigestMismatchError{Path: path, Expected: expectedMD5, Actual: actual}
			return Result{Reason: mismatch.Error(), Err: mismatch}, nil
		}
		if expectedSize > 0 {
			return Result{OK: true, Reason: fmt.Sprintf("size and digest match (%s)", actual)}, nil
		}
		return Result{OK: true, Reason: fmt.Sprintf("digest matches (%s), no reference size", actual)}, nil
	}
	if expectedSize > 0 {
		return Result{OK: true, Reason: "size matches (no reference digest)"}, nil
	}
	log.Warn().Str("op", "integrity/verify").Msgf("No reference values for %s; accepting size on disk", path)
	return Result{OK: true, Reason: "no reference values; accepted as-is"}, nil
}
