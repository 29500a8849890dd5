package logpipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"coordinator/pkg/logging"
)

// indexEntry locates the most recently written line for an interaction_id
// within its day partition file.
type indexEntry struct {
	Partition string `json:"partition"`
	Offset    int64  `json:"offset"`
}

// Store is the durable append-only, day-partitioned JSON event log: every
// Put appends one JSON line to the current day's partition file rather
// than rewriting it in place, and a point-lookup index (persisted
// alongside the partitions, via atomic tmp-file-then-rename) maps
// interaction_id to the byte offset of its latest line so Get never has
// to scan. Partition files themselves are pure append, which needs no
// atomic-rename dance.
type Store struct {
	mu    sync.Mutex
	dir   string
	index map[string]indexEntry
	files map[string]*os.File // open partition files, one per day seen this run
	redis *RedisCache         // optional read-through front, nil in single-replica deployments
}

// UseRedisCache attaches an optional read-through cache. Safe to call with
// nil (disables it again).
func (s *Store) UseRedisCache(c *RedisCache) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redis = c
}

// Open creates or loads a Store rooted at dir, rebuilding or loading its
// index.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log store dir %s: %w", dir, err)
	}
	s := &Store{dir: dir, index: make(map[string]indexEntry), files: make(map[string]*os.File)}
	if err := s.loadIndex(); err != nil {
		logging.Warn("LogPipeline", "Failed to load index, rebuilding from partitions: %v", err)
		if err := s.rebuildIndex(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) indexPath() string { return filepath.Join(s.dir, "index.json") }

func partitionName(t time.Time) string {
	return t.UTC().Format("2006-01-02") + ".jsonl"
}

func (s *Store) loadIndex() error {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &s.index)
}

// rebuildIndex scans every partition file and keeps the last line's offset
// per interaction_id, used when no index file is present (cold start
// without a clean shutdown) or it failed to parse.
func (s *Store) rebuildIndex() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("scanning log store dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		if err := s.rebuildFromPartition(e.Name()); err != nil {
			logging.Warn("LogPipeline", "Failed to rebuild index from %s: %v", e.Name(), err)
		}
	}
	return nil
}

func (s *Store) rebuildFromPartition(name string) error {
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return err
	}
	defer f.Close()

	var offset int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		var r Record
		if err := json.Unmarshal(line, &r); err == nil && r.InteractionID != "" {
			s.index[r.InteractionID] = indexEntry{Partition: name, Offset: offset}
		}
		offset += int64(len(line)) + 1
	}
	return scanner.Err()
}

func (s *Store) fileFor(partition string) (*os.File, error) {
	if f, ok := s.files[partition]; ok {
		return f, nil
	}
	f, err := os.OpenFile(filepath.Join(s.dir, partition), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	s.files[partition] = f
	return f, nil
}

// Put appends r as one JSON line to its day partition (keyed by
// r.StartTS) and updates the point-lookup index.
func (s *Store) Put(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	partition := partitionName(r.StartTS)
	f, err := s.fileFor(partition)
	if err != nil {
		return fmt.Errorf("opening partition %s: %w", partition, err)
	}

	offset, err := f.Seek(0, os.SEEK_END)
	if err != nil {
		return fmt.Errorf("seeking partition %s: %w", partition, err)
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding record %s: %w", r.InteractionID, err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending to partition %s: %w", partition, err)
	}

	s.index[r.InteractionID] = indexEntry{Partition: partition, Offset: offset}
	redisCache := s.redis
	redisCache.Set(context.Background(), r)
	return nil
}

// Get returns the latest durable state of interactionID, if any.
func (s *Store) Get(interactionID string) (Record, bool, error) {
	s.mu.Lock()
	entry, ok := s.index[interactionID]
	redisCache := s.redis
	s.mu.Unlock()

	if r, hit := redisCache.Get(context.Background(), interactionID); hit {
		return r, true, nil
	}

	if !ok {
		return Record{}, false, nil
	}

	f, err := os.Open(filepath.Join(s.dir, entry.Partition))
	if err != nil {
		return Record{}, false, fmt.Errorf("opening partition %s: %w", entry.Partition, err)
	}
	defer f.Close()

	if _, err := f.Seek(entry.Offset, os.SEEK_SET); err != nil {
		return Record{}, false, fmt.Errorf("seeking partition %s: %w", entry.Partition, err)
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if !scanner.Scan() {
		return Record{}, false, fmt.Errorf("reading partition %s at offset %d: %w", entry.Partition, entry.Offset, scanner.Err())
	}

	var r Record
	if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
		return Record{}, false, fmt.Errorf("decoding record %s: %w", interactionID, err)
	}
	redisCache.Set(context.Background(), r)
	return r, true, nil
}

// PersistIndex writes the current index to disk atomically, so a clean
// shutdown avoids a full partition rescan on next start.
func (s *Store) PersistIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(s.index)
	if err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}
	tmp := s.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing index tmp file: %w", err)
	}
	return os.Rename(tmp, s.indexPath())
}

// DeletePartitionsBefore removes every day partition whose date is before
// cutoff, for the retention sweeper (default retention: 30 days).
func (s *Store) DeletePartitionsBefore(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("scanning log store dir: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		date, err := time.Parse("2006-01-02", e.Name()[:len(e.Name())-len(".jsonl")])
		if err != nil || !date.Before(cutoff) {
			continue
		}
		if f, ok := s.files[e.Name()]; ok {
			f.Close()
			delete(s.files, e.Name())
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			logging.Warn("LogPipeline", "Failed to remove expired partition %s: %v", e.Name(), err)
			continue
		}
		removed++
	}

	for id, entry := range s.index {
		date, err := time.Parse("2006-01-02", entry.Partition[:len(entry.Partition)-len(".jsonl")])
		if err == nil && date.Before(cutoff) {
			delete(s.index, id)
		}
	}
	return removed, nil
}

// ScanSince returns the latest known state of every record whose
// StartTS falls on or after since, by reading every partition file dated
// since.Truncate(day) or later and keeping only the last line seen per
// interaction_id (later appends supersede earlier ones). Used by the
// Query API's history/metrics aggregates, which compute on read rather
// than maintaining a separate secondary index.
func (s *Store) ScanSince(since time.Time) ([]Record, error) {
	s.mu.Lock()
	entries, err := os.ReadDir(s.dir)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("scanning log store dir: %w", err)
	}

	cutoff := since.UTC().Truncate(24 * time.Hour)
	latest := make(map[string]Record)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		date, err := time.Parse("2006-01-02", e.Name()[:len(e.Name())-len(".jsonl")])
		if err != nil || date.Before(cutoff) {
			continue
		}
		if err := scanPartitionInto(filepath.Join(s.dir, e.Name()), latest); err != nil {
			logging.Warn("LogPipeline", "Failed to scan partition %s: %v", e.Name(), err)
		}
	}

	out := make([]Record, 0, len(latest))
	for _, r := range latest {
		if !r.StartTS.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func scanPartitionInto(path string, into map[string]Record) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var r Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err == nil && r.InteractionID != "" {
			into[r.InteractionID] = r
		}
	}
	return scanner.Err()
}

// Close flushes and releases every open partition file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
