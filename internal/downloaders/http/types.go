package httpdl

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/tanq16/segload/internal/utils"
)

var (
	ErrInvalidJob        = errors.New("invalid download job")
	ErrSizeResolution    = errors.New("could not resolve file size")
	ErrPreallocation     = errors.New("could not preallocate destination file")
	ErrDownload          = errors.New("download failed")
	ErrRetriesExhausted  = errors.New("segment retries exhausted")
	ErrRangeNotSupported = errors.New("server ignored the range request")
)

// ProgressFunc receives the file size and the bytes downloaded so far.
type ProgressFunc func(total, downloaded int64)

// Job describes one URL to fetch into OutputDir. FileName is optional.
type Job struct {
	URL            string
	OutputDir      string
	FileName       string
	Connections    int
	Resume         bool
	UpdateInterval time.Duration
}

func (j *Job) validate() error {
	parsedURL, err := url.Parse(j.URL)
	if err != nil {
		return fmt.Errorf("%w: invalid URL: %v", ErrInvalidJob, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidJob, parsedURL.Scheme)
	}
	if j.Connections < 1 {
		return fmt.Errorf("%w: connections must be at least 1, got %d", ErrInvalidJob, j.Connections)
	}
	if j.UpdateInterval <= 0 {
		j.UpdateInterval = utils.DefaultUpdateInterval
	}
	if j.OutputDir == "" {
		j.OutputDir = "."
	}
	return nil
}

// Options tunes how a Coordinator runs its workers.
type Options struct {
	BufferSize   int
	StallTimeout time.Duration // 0 disables the per-worker stall watchdog
	Retry        RetryPolicy
}

func DefaultOptions() Options {
	return Options{
		BufferSize: utils.DefaultBufferSize,
		Retry:      DefaultRetryPolicy(),
	}
}

type JobState int32

const (
	StateCreated JobState = iota
	StateSized
	StateRunning
	StateCompleted
	StateStopped
	StateFailed
)

func (s JobState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSized:
		return "sized"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("JobState(%d)", int32(s))
}

// Result is what Download hands back. Path is the final file when Completed,
// otherwise the partially written working file.
type Result struct {
	Path       string
	Completed  bool
	TotalSize  int64
	Downloaded int64
	Elapsed    time.Duration
}
