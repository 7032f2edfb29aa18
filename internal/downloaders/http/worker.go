package httpdl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tanq16/segload/internal/utils"
)

type WorkerState int32

const (
	WorkerPending WorkerState = iota
	WorkerRunning
	WorkerFinished
	WorkerFailed
)

func (s WorkerState) String() string {
	switch s {
	case WorkerPending:
		return "pending"
	case WorkerRunning:
		return "running"
	case WorkerFinished:
		return "finished"
	case WorkerFailed:
		return "failed"
	}
	return fmt.Sprintf("WorkerState(%d)", int32(s))
}

// WorkerResult is the terminal outcome of one Run. Written counts the bytes
// this run reported, not the segment total.
type WorkerResult struct {
	Index   int
	State   WorkerState
	Written int64
	Err     error
}

// Worker streams one segment, starting resume bytes into it.
type Worker struct {
	url     string
	client  utils.HTTPDoer
	dst     io.WriterAt
	segment Segment
	resume  int64
	bufSize int
	stall   time.Duration
	stopped func() bool
	report  func(index int, n int64)
	state   atomic.Int32
	log     zerolog.Logger
}

type WorkerConfig struct {
	URL          string
	Client       utils.HTTPDoer
	Dst          io.WriterAt
	Segment      Segment
	Resume       int64
	BufferSize   int
	StallTimeout time.Duration
	Stopped      func() bool
	Report       func(index int, n int64)
	Logger       *zerolog.Logger
}

func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = utils.DefaultBufferSize
	}
	if cfg.Stopped == nil {
		cfg.Stopped = func() bool { return false }
	}
	if cfg.Report == nil {
		cfg.Report = func(int, int64) {}
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Worker{
		url:     cfg.URL,
		client:  cfg.Client,
		dst:     cfg.Dst,
		segment: cfg.Segment,
		resume:  cfg.Resume,
		bufSize: cfg.BufferSize,
		stall:   cfg.StallTimeout,
		stopped: cfg.Stopped,
		report:  cfg.Report,
		log:     logger,
	}
}

func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

func (w *Worker) Run(ctx context.Context) (res WorkerResult) {
	res.Index = w.segment.Index
	w.state.Store(int32(WorkerRunning))
	defer func() {
		w.state.Store(int32(res.State))
	}()

	length := w.segment.Length()
	if w.resume >= length {
		res.State = WorkerFinished
		return res
	}
	start := w.segment.Start + w.resume
	end := w.segment.End
	w.log.Debug().Str("op", "worker").Int("segment", res.Index).Int64("from", start).Int64("to", end).Msg("segment started")

	ctx, wd := newWatchdog(ctx, w.stall)
	defer wd.Cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.url, nil)
	if err != nil {
		return w.fail(res, fmt.Errorf("error creating request: %w", err))
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
	resp, err := w.client.Do(req)
	if err != nil {
		return w.interrupted(ctx, res, err)
	}
	defer resp.Body.Close()
	if err := checkRangeResponse(resp, start); err != nil {
		return w.fail(res, err)
	}

	buf := make([]byte, w.bufSize)
	offset := start
	remaining := end - start + 1
	for remaining > 0 {
		n, readErr := resp.Body.Read(buf[:min(int64(len(buf)), remaining)])
		if n > 0 {
			wd.Kick()
			if w.stopped() {
				res.State = WorkerFinished
				return res
			}
			if _, err := w.dst.WriteAt(buf[:n], offset); err != nil {
				return w.fail(res, fmt.Errorf("error writing at offset %d: %w", offset, err))
			}
			offset += int64(n)
			remaining -= int64(n)
			res.Written += int64(n)
			w.report(res.Index, int64(n))
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return w.interrupted(ctx, res, readErr)
		}
	}
	if remaining > 0 {
		return w.fail(res, fmt.Errorf("stream ended %d bytes early: %w", remaining, io.ErrUnexpectedEOF))
	}
	res.State = WorkerFinished
	w.log.Debug().Str("op", "worker").Int("segment", res.Index).Int64("written", res.Written).Msg("segment finished")
	return res
}

// interrupted classifies a transport error: a stall fails the worker, a stop
// or a cancelled parent context finishes it, anything else fails it.
func (w *Worker) interrupted(ctx context.Context, res WorkerResult, err error) WorkerResult {
	if cause := context.Cause(ctx); cause != nil && errors.Is(cause, os.ErrDeadlineExceeded) {
		return w.fail(res, cause)
	}
	if w.stopped() || ctx.Err() != nil {
		res.State = WorkerFinished
		return res
	}
	return w.fail(res, err)
}

func (w *Worker) fail(res WorkerResult, err error) WorkerResult {
	res.State = WorkerFailed
	res.Err = err
	return res
}

func checkRangeResponse(resp *http.Response, start int64) error {
	switch resp.StatusCode {
	case http.StatusPartialContent:
		first, ok := parseContentRangeStart(resp.Header.Get("Content-Range"))
		if !ok {
			return fmt.Errorf("missing or malformed Content-Range %q", resp.Header.Get("Content-Range"))
		}
		if first != start {
			return fmt.Errorf("content range starts at %d, requested %d", first, start)
		}
		return nil
	case http.StatusOK:
		// A full body is usable only when the requested range starts at zero.
		if start == 0 {
			return nil
		}
		if first, ok := parseContentRangeStart(resp.Header.Get("Content-Range")); ok && first == start {
			return nil
		}
		return fmt.Errorf("%w: status 200 for offset %d", ErrRangeNotSupported, start)
	}
	return fmt.Errorf("unexpected status %d", resp.StatusCode)
}

// parseContentRangeStart reads the first byte position from
// "bytes <first>-<last>/<size>".
func parseContentRangeStart(header string) (int64, bool) {
	spec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes ")
	if !ok {
		return 0, false
	}
	first, _, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(first), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
