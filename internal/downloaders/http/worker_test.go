package httpdl

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanq16/segload/internal/utils"
)

type reported struct {
	mu    sync.Mutex
	total int64
	calls int
}

func (r *reported) add(_ int, n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total += n
	r.calls++
}

func newTestWorker(url string, dst io.WriterAt, seg Segment, resume int64, rep *reported) *Worker {
	return NewWorker(WorkerConfig{
		URL:        url,
		Client:     utils.NewClient(utils.HTTPClientConfig{}),
		Dst:        dst,
		Segment:    seg,
		Resume:     resume,
		BufferSize: 256,
		Report:     rep.add,
	})
}

func TestWorkerDownloadsSegment(t *testing.T) {
	data := testPayload(4000)
	rs := newRangeServer(t, data)
	seg := ComputeSegments(int64(len(data)), 4)[1]
	dst := newMemFile(len(data))
	rep := &reported{}

	w := newTestWorker(rs.URL, dst, seg, 0, rep)
	assert.Equal(t, WorkerPending, w.State())
	res := w.Run(context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, WorkerFinished, res.State)
	assert.Equal(t, WorkerFinished, w.State())
	assert.Equal(t, seg.Index, res.Index)
	assert.Equal(t, seg.Length(), res.Written)
	assert.Equal(t, seg.Length(), rep.total)
	assert.Greater(t, rep.calls, 1)
	assert.Equal(t, []string{rangeHeader(seg, 0)}, rs.seenRanges())
	got := dst.bytes()
	assert.Equal(t, data[seg.Start:seg.End+1], got[seg.Start:seg.End+1])
	assert.Zero(t, got[seg.Start-1])
	assert.Zero(t, got[seg.End+1])
}

func TestWorkerResumesFromOffset(t *testing.T) {
	data := testPayload(4000)
	rs := newRangeServer(t, data)
	seg := ComputeSegments(int64(len(data)), 4)[2]
	dst := newMemFile(len(data))
	rep := &reported{}

	res := newTestWorker(rs.URL, dst, seg, 300, rep).Run(context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, seg.Length()-300, res.Written)
	assert.Equal(t, []string{rangeHeader(seg, 300)}, rs.seenRanges())
	got := dst.bytes()
	assert.Equal(t, data[seg.Start+300:seg.End+1], got[seg.Start+300:seg.End+1])
	assert.Zero(t, got[seg.Start+299])
}

func TestWorkerCompleteSegmentMakesNoRequest(t *testing.T) {
	data := testPayload(1000)
	rs := newRangeServer(t, data)
	seg := ComputeSegments(int64(len(data)), 2)[0]

	res := newTestWorker(rs.URL, newMemFile(len(data)), seg, seg.Length(), &reported{}).Run(context.Background())

	assert.Equal(t, WorkerFinished, res.State)
	assert.Zero(t, res.Written)
	assert.Empty(t, rs.seenRanges())
}

func TestWorkerNeverWritesPastSegmentEnd(t *testing.T) {
	data := testPayload(1000)
	rs := newRangeServer(t, data)
	// answer every range request with the rest of the file
	rs.setHook(func(w http.ResponseWriter, r *http.Request) bool {
		if r.Header.Get("Range") == "" {
			return false
		}
		writePartial(w, data, 0, int64(len(data)-1), len(data))
		return true
	})
	seg := ComputeSegments(int64(len(data)), 4)[0]
	dst := newMemFile(len(data))

	res := newTestWorker(rs.URL, dst, seg, 0, &reported{}).Run(context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, seg.Length(), res.Written)
	got := dst.bytes()
	assert.Equal(t, data[:seg.End+1], got[:seg.End+1])
	assert.Zero(t, got[seg.End+1])
}

func TestWorkerFailures(t *testing.T) {
	data := testPayload(2000)
	seg := ComputeSegments(int64(len(data)), 2)[1]
	tests := []struct {
		name    string
		hook    func(w http.ResponseWriter, r *http.Request) bool
		written int64
		check   func(t *testing.T, err error)
	}{
		{
			name: "range ignored",
			hook: func(w http.ResponseWriter, r *http.Request) bool {
				w.Header().Set("Content-Length", "2000")
				w.WriteHeader(http.StatusOK)
				w.Write(data)
				return true
			},
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrRangeNotSupported) },
		},
		{
			name: "server error",
			hook: func(w http.ResponseWriter, r *http.Request) bool {
				http.Error(w, "boom", http.StatusInternalServerError)
				return true
			},
			check: func(t *testing.T, err error) { assert.ErrorContains(t, err, "500") },
		},
		{
			name: "wrong content range",
			hook: func(w http.ResponseWriter, r *http.Request) bool {
				writePartial(w, data, 0, int64(len(data)-1), len(data))
				return true
			},
			check: func(t *testing.T, err error) { assert.ErrorContains(t, err, "requested 1000") },
		},
		{
			name: "premature end of stream",
			hook: func(w http.ResponseWriter, r *http.Request) bool {
				writePartial(w, data, seg.Start, seg.End, 400)
				return true
			},
			written: 400,
			check:   func(t *testing.T, err error) { assert.Error(t, err) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := newRangeServer(t, data)
			rs.setHook(tt.hook)
			rep := &reported{}

			res := newTestWorker(rs.URL, newMemFile(len(data)), seg, 0, rep).Run(context.Background())

			assert.Equal(t, WorkerFailed, res.State)
			assert.Equal(t, tt.written, res.Written)
			assert.Equal(t, tt.written, rep.total)
			tt.check(t, res.Err)
		})
	}
}

func TestWorkerStopDiscardsChunk(t *testing.T) {
	data := testPayload(2000)
	rs := newRangeServer(t, data)
	seg := ComputeSegments(int64(len(data)), 2)[0]
	dst := newMemFile(len(data))
	rep := &reported{}

	w := NewWorker(WorkerConfig{
		URL:     rs.URL,
		Client:  utils.NewClient(utils.HTTPClientConfig{}),
		Dst:     dst,
		Segment: seg,
		Stopped: func() bool { return true },
		Report:  rep.add,
	})
	res := w.Run(context.Background())

	assert.Equal(t, WorkerFinished, res.State)
	assert.NoError(t, res.Err)
	assert.Zero(t, res.Written)
	assert.Zero(t, rep.total)
	assert.Equal(t, make([]byte, len(data)), dst.bytes())
}

func TestWorkerStallWatchdog(t *testing.T) {
	data := testPayload(2000)
	rs := newRangeServer(t, data)
	release := make(chan struct{})
	defer close(release)
	rs.setHook(func(w http.ResponseWriter, r *http.Request) bool {
		w.Header().Set("Content-Range", "bytes 0-999/2000")
		w.Header().Set("Content-Length", "1000")
		w.WriteHeader(http.StatusPartialContent)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
		return true
	})
	seg := ComputeSegments(int64(len(data)), 2)[0]

	w := NewWorker(WorkerConfig{
		URL:          rs.URL,
		Client:       utils.NewClient(utils.HTTPClientConfig{}),
		Dst:          newMemFile(len(data)),
		Segment:      seg,
		StallTimeout: 50 * time.Millisecond,
	})
	start := time.Now()
	res := w.Run(context.Background())

	assert.Equal(t, WorkerFailed, res.State)
	assert.True(t, errors.Is(res.Err, os.ErrDeadlineExceeded), "got %v", res.Err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestParseContentRangeStart(t *testing.T) {
	tests := []struct {
		header string
		want   int64
		ok     bool
	}{
		{"bytes 0-99/100", 0, true},
		{"bytes 250001-500001/1000001", 250001, true},
		{"bytes 5-9/*", 5, true},
		{"bytes */100", 0, false},
		{"items 0-9/10", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseContentRangeStart(tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.want, got, tt.header)
	}
}
