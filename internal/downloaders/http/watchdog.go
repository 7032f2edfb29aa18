package httpdl

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
)

// watchdog cancels its context with os.ErrDeadlineExceeded when Kick is not
// called for longer than timeout. A zero timeout never fires.
type watchdog struct {
	mu      sync.Mutex
	timer   *time.Timer
	timeout time.Duration
	cancel  context.CancelCauseFunc
}

func newWatchdog(ctx context.Context, timeout time.Duration) (context.Context, *watchdog) {
	ctx, cancel := context.WithCancelCause(ctx)
	w := &watchdog{timeout: timeout, cancel: cancel}
	if timeout > 0 {
		w.timer = time.AfterFunc(timeout, func() {
			cancel(fmt.Errorf("no data for %s: %w", timeout, os.ErrDeadlineExceeded))
		})
	}
	return ctx, w
}

func (w *watchdog) Kick() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Reset(w.timeout)
	}
}

func (w *watchdog) Cancel() {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	w.cancel(context.Canceled)
}
