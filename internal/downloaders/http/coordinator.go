package httpdl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tanq16/segload/internal/progresslog"
	"github.com/tanq16/segload/internal/utils"
)

// Coordinator downloads one URL over Job.Connections ranged requests into a
// single preallocated working file, then renames it into place.
// A Coordinator runs Download once.
type Coordinator struct {
	job    Job
	client utils.HTTPDoer
	store  progresslog.Store
	opts   Options
	log    zerolog.Logger

	stop  atomic.Bool
	state atomic.Int32

	mu       sync.Mutex
	cancel   context.CancelFunc
	tracker  *tracker
	segments []Segment
}

func NewCoordinator(job Job, client utils.HTTPDoer, store progresslog.Store, opts Options) *Coordinator {
	if opts.BufferSize <= 0 {
		opts.BufferSize = utils.DefaultBufferSize
	}
	return &Coordinator{
		job:    job,
		client: client,
		store:  store,
		opts:   opts,
		log:    utils.GetLogger("httpdl"),
	}
}

// Stop asks every worker to finish after its current read. Download then
// returns an incomplete Result with a nil error.
func (c *Coordinator) Stop() {
	c.stop.Store(true)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Coordinator) State() JobState {
	return JobState(c.state.Load())
}

// Segments returns a snapshot of every segment with its current progress.
func (c *Coordinator) Segments() []Segment {
	c.mu.Lock()
	segments := append([]Segment(nil), c.segments...)
	t := c.tracker
	c.mu.Unlock()
	if t == nil {
		return segments
	}
	table := t.table()
	for i := range segments {
		segments[i].Downloaded = table[segments[i].Index]
	}
	return segments
}

func (c *Coordinator) resumeEnabled() bool {
	return c.job.Resume && c.store != nil
}

func (c *Coordinator) Download(ctx context.Context, progress ProgressFunc) (*Result, error) {
	startTime := time.Now()
	if err := c.job.validate(); err != nil {
		c.state.Store(int32(StateFailed))
		return nil, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	stopOnCancel := context.AfterFunc(ctx, c.Stop)
	defer stopOnCancel()

	total, header, err := probeSize(runCtx, c.client, c.job.URL)
	if err != nil {
		c.state.Store(int32(StateFailed))
		c.log.Error().Err(err).Str("op", "probe").Str("url", c.job.URL).Msg("size resolution failed")
		return nil, err
	}
	c.state.Store(int32(StateSized))

	finalPath := filepath.Join(c.job.OutputDir, resolveFileName(c.job.FileName, c.job.URL, header))
	workPath := finalPath + utils.TempFileSuffix
	segments := ComputeSegments(total, c.job.Connections)
	table := c.loadTable(workPath, segments)

	file, err := preallocate(c.job.OutputDir, workPath, total)
	if err != nil {
		c.state.Store(int32(StateFailed))
		c.log.Error().Err(err).Str("op", "preallocate").Str("path", workPath).Msg("could not create working file")
		return nil, err
	}
	fileClosed := false
	defer func() {
		if !fileClosed {
			file.Close()
		}
	}()

	var store progresslog.Store
	if c.resumeEnabled() {
		store = c.store
		if err := store.Replace(c.job.URL, workPath, table); err != nil {
			c.log.Warn().Err(err).Str("op", "progress-log").Msg("could not persist segment table")
		}
	}
	t := newTracker(c.job.URL, workPath, total, table, store, c.log)
	c.mu.Lock()
	c.tracker = t
	c.segments = segments
	c.mu.Unlock()

	result := func(completed bool, path string) *Result {
		total, downloaded := t.progress()
		return &Result{
			Path:       path,
			Completed:  completed,
			TotalSize:  total,
			Downloaded: downloaded,
			Elapsed:    time.Since(startTime),
		}
	}
	report := func() {
		if progress != nil {
			progress(t.progress())
		}
	}

	c.state.Store(int32(StateRunning))
	runErr := c.run(runCtx, file, segments, t, report)
	cancel()
	report()

	switch {
	case runErr != nil:
		c.state.Store(int32(StateFailed))
		c.log.Error().Err(runErr).Str("op", "download").Str("url", c.job.URL).Msg("download failed")
		return result(false, workPath), runErr
	case !t.done():
		c.state.Store(int32(StateStopped))
		_, downloaded := t.progress()
		c.log.Info().Str("op", "download").Int64("downloaded", downloaded).Int64("total", total).Str("path", workPath).Msg("download stopped")
		return result(false, workPath), nil
	}

	fileClosed = true
	if err := closeFile(file); err != nil {
		c.state.Store(int32(StateFailed))
		return result(false, workPath), err
	}
	if err := os.Rename(workPath, finalPath); err != nil {
		c.state.Store(int32(StateFailed))
		return result(false, workPath), fmt.Errorf("%w: error renaming %s: %v", ErrDownload, workPath, err)
	}
	c.finishLog(finalPath)
	c.state.Store(int32(StateCompleted))
	c.log.Info().Str("op", "download").Str("path", finalPath).Int64("size", total).Dur("elapsed", time.Since(startTime)).Msg("download completed")
	return result(true, finalPath), nil
}

// run drives the workers until the file is complete, every worker is done,
// a stop is requested or a segment runs out of retries.
func (c *Coordinator) run(ctx context.Context, file *os.File, segments []Segment, t *tracker, report func()) error {
	n := len(segments)
	results := make(chan WorkerResult, n)
	retryCh := make(chan int, n)
	loopDone := make(chan struct{})
	var wg sync.WaitGroup
	defer func() {
		close(loopDone)
		wg.Wait()
	}()

	byIndex := make(map[int]Segment, n)
	spawn := func(seg Segment) {
		w := NewWorker(WorkerConfig{
			URL:          c.job.URL,
			Client:       c.client,
			Dst:          file,
			Segment:      seg,
			Resume:       t.offset(seg.Index),
			BufferSize:   c.opts.BufferSize,
			StallTimeout: c.opts.StallTimeout,
			Stopped:      c.stop.Load,
			Report:       t.advance,
			Logger:       &c.log,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- w.Run(ctx)
		}()
	}

	// a cancelled parent context counts as a stop even before Stop runs
	stopping := func() bool {
		if ctx.Err() != nil {
			c.stop.Store(true)
		}
		return c.stop.Load()
	}

	running := 0
	for _, seg := range segments {
		byIndex[seg.Index] = seg
		if stopping() || t.done() {
			break
		}
		if t.offset(seg.Index) >= seg.Length() {
			continue
		}
		spawn(seg)
		running++
	}
	c.log.Info().Str("op", "download").Str("url", c.job.URL).Int("workers", running).Int("segments", n).Msg("download started")

	ticker := time.NewTicker(c.job.UpdateInterval)
	defer ticker.Stop()
	failures := make(map[int]int, n)
	pending := 0

	for !t.done() && !stopping() && (running > 0 || pending > 0) {
		select {
		case <-ctx.Done():
		case <-ticker.C:
			report()
		case res := <-results:
			running--
			if res.State != WorkerFailed || stopping() {
				continue
			}
			if res.Written > 0 {
				failures[res.Index] = 0
			}
			failures[res.Index]++
			if c.opts.Retry.Exhausted(failures[res.Index]) {
				c.Stop()
				return fmt.Errorf("%w: segment %d failed %d times: %w", ErrRetriesExhausted, res.Index, failures[res.Index], res.Err)
			}
			delay := c.opts.Retry.Delay(failures[res.Index])
			c.log.Warn().Err(res.Err).Str("op", "worker").Int("segment", res.Index).Int("attempt", failures[res.Index]).Dur("backoff", delay).Msg("segment failed, retrying")
			if delay <= 0 {
				spawn(byIndex[res.Index])
				running++
				continue
			}
			pending++
			index := res.Index
			time.AfterFunc(delay, func() {
				select {
				case retryCh <- index:
				case <-loopDone:
				}
			})
		case index := <-retryCh:
			pending--
			if stopping() {
				continue
			}
			spawn(byIndex[index])
			running++
		}
	}
	if t.done() || stopping() {
		return nil
	}
	_, downloaded := t.progress()
	return fmt.Errorf("%w: workers exited with %d of %d bytes", ErrDownload, downloaded, t.total)
}

// loadTable returns the starting offset of every segment. A log written for
// a different segment count, or one whose working file is gone, is ignored.
func (c *Coordinator) loadTable(workPath string, segments []Segment) map[int]int64 {
	table := make(map[int]int64, len(segments))
	for _, seg := range segments {
		table[seg.Index] = 0
	}
	if !c.resumeEnabled() {
		return table
	}
	saved, err := c.store.Load(c.job.URL)
	if err != nil {
		c.log.Warn().Err(err).Str("op", "progress-log").Msg("could not load saved progress, starting over")
		return table
	}
	if len(saved) == 0 {
		return table
	}
	if len(saved) != len(segments) {
		c.log.Info().Str("op", "progress-log").Int("saved", len(saved)).Int("segments", len(segments)).Msg("segment count changed, starting over")
		return table
	}
	if _, err := os.Stat(workPath); err != nil {
		c.log.Info().Str("op", "progress-log").Str("path", workPath).Msg("working file missing, starting over")
		return table
	}
	for _, seg := range segments {
		table[seg.Index] = min(max(saved[seg.Index], 0), seg.Length())
	}
	return table
}

func (c *Coordinator) finishLog(finalPath string) {
	if !c.resumeEnabled() {
		return
	}
	if err := c.store.Delete(c.job.URL); err != nil {
		c.log.Warn().Err(err).Str("op", "progress-log").Msg("could not clear progress log")
	}
	if recorder, ok := c.store.(progresslog.HistoryRecorder); ok {
		if err := recorder.RecordHistory(c.job.URL, finalPath, time.Now()); err != nil {
			c.log.Warn().Err(err).Str("op", "progress-log").Msg("could not record history")
		}
	}
}

func preallocate(dir, workPath string, total int64) (*os.File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: error creating directory %s: %v", ErrPreallocation, dir, err)
	}
	file, err := os.OpenFile(workPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: error opening %s: %v", ErrPreallocation, workPath, err)
	}
	if err := file.Truncate(total); err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: error sizing %s to %d bytes: %v", ErrPreallocation, workPath, total, err)
	}
	return file, nil
}

func closeFile(file *os.File) error {
	err := errors.Join(file.Sync(), file.Close())
	if err != nil {
		return fmt.Errorf("%w: error closing %s: %v", ErrDownload, file.Name(), err)
	}
	return nil
}
