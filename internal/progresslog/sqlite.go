package progresslog

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS download_log (
		url        TEXT    NOT NULL,
		segment    INTEGER NOT NULL,
		downloaded INTEGER NOT NULL DEFAULT 0,
		file       TEXT    NOT NULL,
		PRIMARY KEY (url, segment)
	)`,
	`CREATE TABLE IF NOT EXISTS download_history (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		url         TEXT    NOT NULL,
		file        TEXT    NOT NULL,
		finished_at INTEGER NOT NULL
	)`,
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// a single writer avoids SQLITE_BUSY between pooled connections
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Load(url string) (map[int]int64, error) {
	rows, err := s.db.Query(`SELECT segment, downloaded FROM download_log WHERE url = ?`, url)
	if err != nil {
		return nil, fmt.Errorf("query progress: %w", err)
	}
	defer rows.Close()
	segments := make(map[int]int64)
	for rows.Next() {
		var index int
		var downloaded int64
		if err := rows.Scan(&index, &downloaded); err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		segments[index] = downloaded
	}
	return segments, rows.Err()
}

func (s *SQLiteStore) Replace(url, filePath string, segments map[int]int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM download_log WHERE url = ?`, url); err != nil {
		return fmt.Errorf("clear progress: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO download_log (url, segment, downloaded, file) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for index, downloaded := range segments {
		if _, err := stmt.Exec(url, index, downloaded, filePath); err != nil {
			return fmt.Errorf("insert segment %d: %w", index, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) UpdateSegment(url, filePath string, index int, downloaded int64) error {
	_, err := s.db.Exec(`INSERT INTO download_log (url, segment, downloaded, file) VALUES (?, ?, ?, ?)
		ON CONFLICT (url, segment) DO UPDATE SET downloaded = excluded.downloaded, file = excluded.file`,
		url, index, downloaded, filePath)
	if err != nil {
		return fmt.Errorf("update segment %d: %w", index, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(url string) error {
	if _, err := s.db.Exec(`DELETE FROM download_log WHERE url = ?`, url); err != nil {
		return fmt.Errorf("delete progress: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List() ([]Entry, error) {
	rows, err := s.db.Query(`SELECT url, MAX(file), COUNT(*), SUM(downloaded) FROM download_log GROUP BY url ORDER BY url`)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.URL, &e.FilePath, &e.Segments, &e.Downloaded); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) RecordHistory(url, filePath string, finishedAt time.Time) error {
	_, err := s.db.Exec(`INSERT INTO download_history (url, file, finished_at) VALUES (?, ?, ?)`,
		url, filePath, finishedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	return nil
}

func (s *SQLiteStore) History(limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT url, file, finished_at FROM download_history ORDER BY finished_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()
	var entries []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		var ms int64
		if err := rows.Scan(&h.URL, &h.FilePath, &ms); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		h.FinishedAt = time.UnixMilli(ms)
		entries = append(entries, h)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
