package transfer

import "fmt"

type FetchKind string

const (
	FetchNetwork          FetchKind = "network"
	FetchTruncated        FetchKind = "truncated"
	FetchRangeUnsupported FetchKind = "range-unsupported"
)

// FetchError is a segment failure after local retries are exhausted.
type FetchError struct {
	Kind    FetchKind
	Segment int
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("segment %d failed (%s): %v", e.Segment, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// MergeError is a failure while concatenating partial files; the partially
// written output must be treated as invalid.
type MergeError struct {
	Path string
	Err  error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge failed for %s: %v", e.Path, e.Err)
}

func (e *MergeError) Unwrap() error {
	return e.Err
}
