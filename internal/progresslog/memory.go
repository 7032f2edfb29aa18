package progresslog

import (
	"maps"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a non-durable Store, handy for tests and one-shot runs.
type MemoryStore struct {
	mu        sync.Mutex
	downloads map[string]*memoryDownload
	history   []HistoryEntry
	updates   int
}

type memoryDownload struct {
	file     string
	segments map[int]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{downloads: make(map[string]*memoryDownload)}
}

func (s *MemoryStore) Load(url string) (map[int]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	segments := make(map[int]int64)
	if d, ok := s.downloads[url]; ok {
		maps.Copy(segments, d.segments)
	}
	return segments, nil
}

func (s *MemoryStore) Replace(url, filePath string, segments map[int]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloads[url] = &memoryDownload{file: filePath, segments: maps.Clone(segments)}
	return nil
}

func (s *MemoryStore) UpdateSegment(url, filePath string, index int, downloaded int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.downloads[url]
	if !ok {
		d = &memoryDownload{segments: make(map[int]int64)}
		s.downloads[url] = d
	}
	d.file = filePath
	d.segments[index] = downloaded
	s.updates++
	return nil
}

func (s *MemoryStore) Delete(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.downloads, url)
	return nil
}

func (s *MemoryStore) List() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]Entry, 0, len(s.downloads))
	for url, d := range s.downloads {
		e := Entry{URL: url, FilePath: d.file, Segments: len(d.segments)}
		for _, n := range d.segments {
			e.Downloaded += n
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].URL < entries[j].URL })
	return entries, nil
}

func (s *MemoryStore) RecordHistory(url, filePath string, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, HistoryEntry{URL: url, FilePath: filePath, FinishedAt: finishedAt})
	return nil
}

func (s *MemoryStore) History(limit int) ([]HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []HistoryEntry
	for i := len(s.history) - 1; i >= 0 && (limit <= 0 || len(entries) < limit); i-- {
		entries = append(entries, s.history[i])
	}
	return entries, nil
}

// Updates reports how many UpdateSegment calls the store has seen.
func (s *MemoryStore) Updates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}

func (s *MemoryStore) Close() error { return nil }
