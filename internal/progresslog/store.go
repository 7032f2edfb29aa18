// Package progresslog persists per-segment download progress so an interrupted
// download can pick up where it left off. Entries are keyed by source URL.
package progresslog

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownDriver = errors.New("progresslog: unknown store driver")
	ErrClosed        = errors.New("progresslog: store is closed")
)

const (
	DriverSQLite = "sqlite"
	DriverYAML   = "yaml"
)

// Store is the durable segment table used for resuming. Load returns an empty
// map when nothing is recorded for url.
type Store interface {
	Load(url string) (map[int]int64, error)
	Replace(url, filePath string, segments map[int]int64) error
	UpdateSegment(url, filePath string, index int, downloaded int64) error
	Delete(url string) error
	List() ([]Entry, error)
	Close() error
}

// HistoryRecorder is implemented by stores that keep a log of finished downloads.
type HistoryRecorder interface {
	RecordHistory(url, filePath string, finishedAt time.Time) error
	History(limit int) ([]HistoryEntry, error)
}

// Entry summarises one resumable download.
type Entry struct {
	URL        string
	FilePath   string
	Segments   int
	Downloaded int64
}

type HistoryEntry struct {
	URL        string
	FilePath   string
	FinishedAt time.Time
}

// Open creates the store for driver at path.
func Open(driver, path string) (Store, error) {
	switch strings.ToLower(driver) {
	case DriverSQLite, "":
		return NewSQLiteStore(path)
	case DriverYAML:
		return NewYAMLStore(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}
}
