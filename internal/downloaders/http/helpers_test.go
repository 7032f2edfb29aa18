package httpdl

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func testPayload(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte((i*7 + i/251) % 256)
	}
	return data
}

// rangeServer serves data with Range support and records every Range header
// it sees. hook may take over a request by returning true.
type rangeServer struct {
	*httptest.Server
	data []byte

	mu     sync.Mutex
	ranges []string
	hook   func(w http.ResponseWriter, r *http.Request) bool
}

func newRangeServer(t *testing.T, data []byte) *rangeServer {
	t.Helper()
	rs := &rangeServer{data: data}
	rs.Server = httptest.NewServer(http.HandlerFunc(rs.serve))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *rangeServer) serve(w http.ResponseWriter, r *http.Request) {
	rs.mu.Lock()
	if rg := r.Header.Get("Range"); rg != "" {
		rs.ranges = append(rs.ranges, rg)
	}
	hook := rs.hook
	rs.mu.Unlock()
	if hook != nil && hook(w, r) {
		return
	}
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(rs.data))
}

func (rs *rangeServer) setHook(hook func(w http.ResponseWriter, r *http.Request) bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.hook = hook
}

func (rs *rangeServer) seenRanges() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]string(nil), rs.ranges...)
}

// writePartial answers a range request with the right headers but only
// sends the first n bytes of it.
func writePartial(w http.ResponseWriter, data []byte, start, end int64, n int) {
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
	w.Header().Set("Content-Length", fmt.Sprint(end-start+1))
	w.WriteHeader(http.StatusPartialContent)
	w.Write(data[start : start+int64(n)])
}

func rangeHeader(seg Segment, from int64) string {
	return fmt.Sprintf("bytes=%d-%d", seg.Start+from, seg.End)
}

// memFile is an in-memory io.WriterAt.
type memFile struct {
	mu  sync.Mutex
	buf []byte
}

func newMemFile(size int) *memFile {
	return &memFile{buf: make([]byte, size)}
}

func (m *memFile) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off+int64(len(p)) > int64(len(m.buf)) {
		return 0, fmt.Errorf("write past end: %d+%d > %d", off, len(p), len(m.buf))
	}
	return copy(m.buf[off:], p), nil
}

func (m *memFile) bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.buf...)
}
