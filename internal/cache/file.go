package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trendwatch/internal/logger"
)

// fileEntry is the on-disk record format, one JSON file per key.
type fileEntry struct {
	Value        json.RawMessage `json:"value"`
	ExpiresAt    time.Time       `json:"expires_at"`
	CreatedAt    time.Time       `json:"created_at"`
	LastAccessed time.Time       `json:"last_accessed"`
}

// File is the on-disk backend. File names are the md5 of the key, so keys
// of any length or character set map to valid paths. Writes go through a
// temp file and rename so readers never see a partial entry.
type File struct {
	dir        string
	defaultTTL time.Duration
	mu         sync.Mutex
	log        zerolog.Logger
}

// NewFile builds a file backend rooted at dir, creating it if needed.
func NewFile(dir string, defaultTTL time.Duration) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &BackendError{Op: "mkdir", Err: err}
	}
	return &File{dir: dir, defaultTTL: defaultTTL, log: logger.With("cache")}, nil
}

// BackendError wraps a cache I/O failure. Callers treat it as non-fatal:
// a broken cache degrades to no caching.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string { return "cache " + e.Op + ": " + e.Err.Error() }
func (e *BackendError) Unwrap() error { return e.Err }

func (f *File) path(key string) string {
	sum := md5.Sum([]byte(key))
	return filepath.Join(f.dir, hex.EncodeToString(sum[:])+".cache")
}

// Get reads the entry for key. Expired and corrupt files are deleted and
// reported as absent. A hit advances last_accessed (best effort).
func (f *File) Get(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	var entry fileEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		f.log.Warn().Str("file", path).Err(err).Msg("removing corrupt cache file")
		_ = os.Remove(path)
		return nil, false
	}

	if time.Now().After(entry.ExpiresAt) {
		_ = os.Remove(path)
		return nil, false
	}

	entry.LastAccessed = time.Now()
	f.writeEntry(path, entry)

	return entry.Value, true
}

// Set stores value under key. A zero ttl uses the backend default.
func (f *File) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = f.defaultTTL
	}
	now := time.Now()
	entry := fileEntry{
		Value:        json.RawMessage(value),
		ExpiresAt:    now.Add(ttl),
		CreatedAt:    now,
		LastAccessed: now,
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeEntry(f.path(key), entry)
}

func (f *File) writeEntry(path string, entry fileEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		f.log.Error().Err(err).Msg("failed to encode cache entry")
		return
	}
	tmp, err := os.CreateTemp(f.dir, "write-*")
	if err != nil {
		f.log.Warn().Err(err).Msg("cache write failed")
		return
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		f.log.Warn().Err(err).Msg("cache write failed")
		return
	}
	tmp.Close()
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		f.log.Warn().Err(err).Msg("cache rename failed")
	}
}

// Delete removes the entry for key if present.
func (f *File) Delete(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = os.Remove(f.path(key))
}

// Clear removes every cache file in the directory.
func (f *File) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	matches, _ := filepath.Glob(filepath.Join(f.dir, "*.cache"))
	for _, path := range matches {
		_ = os.Remove(path)
	}
}

// Cleanup removes expired and corrupt cache files and returns the count.
func (f *File) Cleanup() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0
	now := time.Now()
	matches, _ := filepath.Glob(filepath.Join(f.dir, "*.cache"))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var entry fileEntry
		if err := json.Unmarshal(data, &entry); err != nil || now.After(entry.ExpiresAt) {
			if os.Remove(path) == nil {
				count++
			}
		}
	}
	return count
}
