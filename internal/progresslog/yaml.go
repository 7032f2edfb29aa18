package progresslog

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

type yamlDownload struct {
	File     string        `yaml:"file"`
	Segments map[int]int64 `yaml:"segments"`
}

type yamlHistory struct {
	URL        string    `yaml:"url"`
	File       string    `yaml:"file"`
	FinishedAt time.Time `yaml:"finished_at"`
}

type yamlDocument struct {
	Downloads map[string]*yamlDownload `yaml:"downloads"`
	History   []yamlHistory            `yaml:"history,omitempty"`
}

// YAMLStore keeps the whole log in one YAML file and rewrites it atomically
// on every change. It suits small numbers of downloads.
type YAMLStore struct {
	mu     sync.Mutex
	path   string
	doc    yamlDocument
	closed bool
}

func NewYAMLStore(path string) (*YAMLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	s := &YAMLStore{path: path}
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read progress file: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &s.doc); err != nil {
			return nil, fmt.Errorf("parse progress file: %w", err)
		}
	}
	if s.doc.Downloads == nil {
		s.doc.Downloads = make(map[string]*yamlDownload)
	}
	return s, nil
}

// flush must be called with mu held.
func (s *YAMLStore) flush() error {
	data, err := yaml.Marshal(&s.doc)
	if err != nil {
		return fmt.Errorf("encode progress file: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write progress file: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *YAMLStore) Load(url string) (map[int]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	segments := make(map[int]int64)
	if d, ok := s.doc.Downloads[url]; ok {
		maps.Copy(segments, d.Segments)
	}
	return segments, nil
}

func (s *YAMLStore) Replace(url, filePath string, segments map[int]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.doc.Downloads[url] = &yamlDownload{File: filePath, Segments: maps.Clone(segments)}
	return s.flush()
}

func (s *YAMLStore) UpdateSegment(url, filePath string, index int, downloaded int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	d, ok := s.doc.Downloads[url]
	if !ok {
		d = &yamlDownload{Segments: make(map[int]int64)}
		s.doc.Downloads[url] = d
	}
	if d.Segments == nil {
		d.Segments = make(map[int]int64)
	}
	d.File = filePath
	d.Segments[index] = downloaded
	return s.flush()
}

func (s *YAMLStore) Delete(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.doc.Downloads[url]; !ok {
		return nil
	}
	delete(s.doc.Downloads, url)
	return s.flush()
}

func (s *YAMLStore) List() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	entries := make([]Entry, 0, len(s.doc.Downloads))
	for url, d := range s.doc.Downloads {
		e := Entry{URL: url, FilePath: d.File, Segments: len(d.Segments)}
		for _, n := range d.Segments {
			e.Downloaded += n
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].URL < entries[j].URL })
	return entries, nil
}

func (s *YAMLStore) RecordHistory(url, filePath string, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.doc.History = append(s.doc.History, yamlHistory{URL: url, File: filePath, FinishedAt: finishedAt})
	return s.flush()
}

func (s *YAMLStore) History(limit int) ([]HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 20
	}
	var entries []HistoryEntry
	for i := len(s.doc.History) - 1; i >= 0 && len(entries) < limit; i-- {
		h := s.doc.History[i]
		entries = append(entries, HistoryEntry{URL: h.URL, FilePath: h.File, FinishedAt: h.FinishedAt})
	}
	return entries, nil
}

func (s *YAMLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
