package httpdl

import (
	"maps"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tanq16/segload/internal/progresslog"
)

// tracker owns the aggregate counter, the per-segment table and the writes
// to the progress log. advance is the only mutator.
type tracker struct {
	mu         sync.Mutex
	url        string
	path       string
	total      int64
	downloaded int64
	segments   map[int]int64
	store      progresslog.Store // nil when resume is disabled
	log        zerolog.Logger
	storeErrs  int
}

func newTracker(url, path string, total int64, table map[int]int64, store progresslog.Store, log zerolog.Logger) *tracker {
	t := &tracker{
		url:      url,
		path:     path,
		total:    total,
		segments: maps.Clone(table),
		store:    store,
		log:      log,
	}
	if t.segments == nil {
		t.segments = make(map[int]int64)
	}
	for _, n := range t.segments {
		t.downloaded += n
	}
	return t
}

func (t *tracker) advance(index int, n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.segments[index] += n
	t.downloaded += n
	if t.store == nil {
		return
	}
	if err := t.store.UpdateSegment(t.url, t.path, index, t.segments[index]); err != nil {
		t.storeErrs++
		// one warning per failure streak is enough, the next success resets it
		if t.storeErrs == 1 {
			t.log.Warn().Err(err).Str("op", "progress-log").Int("segment", index).Msg("could not persist segment progress")
		}
		return
	}
	t.storeErrs = 0
}

func (t *tracker) offset(index int) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.segments[index]
}

func (t *tracker) progress() (int64, int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total, t.downloaded
}

func (t *tracker) done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.downloaded >= t.total
}

func (t *tracker) table() map[int]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.segments)
}
