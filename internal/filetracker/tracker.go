// Package filetracker tracks repeated file reads and directory listings so an
// agent loop can skip re-reading content it already has.
package filetracker

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mesutfelat/cowork-oss-sub009/internal/fingerprint"
)

// Config controls the tracker's bounds.
type Config struct {
	// TTL is how long a recorded read or listing stays relevant.
	TTL time.Duration `yaml:"ttl"`
	// MaxPaths caps tracked files and, separately, tracked directories.
	MaxPaths int `yaml:"max_paths"`
	// RepeatThreshold is the number of identical consecutive records after
	// which the next read or listing is reported as blocked.
	RepeatThreshold int `yaml:"repeat_threshold"`
}

// DefaultConfig returns the default tracker configuration.
func DefaultConfig() Config {
	return Config{
		TTL:             5 * time.Minute,
		MaxPaths:        512,
		RepeatThreshold: 2,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TTL <= 0 {
		c.TTL = d.TTL
	}
	if c.MaxPaths <= 0 {
		c.MaxPaths = d.MaxPaths
	}
	if c.RepeatThreshold <= 0 {
		c.RepeatThreshold = d.RepeatThreshold
	}
	return c
}

// Check is the outcome of CheckFileRead or CheckDirectoryListing.
type Check struct {
	Blocked bool
	Reason  string
	// Count is how many consecutive times the same content was recorded.
	Count int
}

type entry struct {
	fingerprint string
	count       int
	recordedAt  time.Time
}

// Tracker is a path-keyed cache of read and listing fingerprints.
// Every mutation of a path must be followed by an Invalidate call for it;
// the tracker cannot observe the filesystem itself.
type Tracker struct {
	mu    sync.Mutex
	cfg   Config
	files *lru.Cache[string, *entry]
	dirs  *lru.Cache[string, *entry]
	now   func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New creates a Tracker. Zero config values fall back to DefaultConfig.
func New(cfg Config, opts ...Option) *Tracker {
	cfg = cfg.withDefaults()
	t := &Tracker{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	t.files = mustCache(cfg.MaxPaths)
	t.dirs = mustCache(cfg.MaxPaths)
	return t
}

func mustCache(size int) *lru.Cache[string, *entry] {
	c, err := lru.New[string, *entry](size)
	if err != nil {
		panic(err)
	}
	return c
}

// RecordFileRead records that path was read and returned content.
func (t *Tracker) RecordFileRead(path, content string) {
	t.record(t.files, normalize(path), fingerprint.Content(content))
}

// CheckFileRead reports whether reading path again would return content the
// caller already has.
func (t *Tracker) CheckFileRead(path string) Check {
	c := t.check(t.files, normalize(path))
	if c.Blocked {
		c.Reason = fmt.Sprintf("file %s was already read %d times with unchanged content", path, c.Count)
	}
	return c
}

// InvalidateFileRead forgets everything recorded for path. Safe to call for
// paths that were never recorded.
func (t *Tracker) InvalidateFileRead(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files.Remove(normalize(path))
}

// RecordDirectoryListing records that dir was listed with the given entry names.
func (t *Tracker) RecordDirectoryListing(dir string, entries []string) {
	t.record(t.dirs, normalize(dir), fingerprint.Listing(entries))
}

// CheckDirectoryListing reports whether listing dir again would be redundant.
func (t *Tracker) CheckDirectoryListing(dir string) Check {
	c := t.check(t.dirs, normalize(dir))
	if c.Blocked {
		c.Reason = fmt.Sprintf("directory %s was already listed %d times with unchanged entries", dir, c.Count)
	}
	return c
}

// InvalidateDirectoryListing forgets everything recorded for dir.
func (t *Tracker) InvalidateDirectoryListing(dir string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dirs.Remove(normalize(dir))
}

// InvalidatePath drops state affected by a write, delete or move of path:
// the file itself, a listing of path if it is a directory, and the listing
// of its parent.
func (t *Tracker) InvalidatePath(path string) {
	p := normalize(path)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files.Remove(p)
	t.dirs.Remove(p)
	t.dirs.Remove(filepath.Dir(p))
}

// InvalidateTree is InvalidatePath for a path that may be a directory: every
// file and listing recorded below path is dropped as well.
func (t *Tracker) InvalidateTree(path string) {
	p := normalize(path)
	prefix := p + string(filepath.Separator)
	if p == string(filepath.Separator) {
		prefix = p
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, cache := range []*lru.Cache[string, *entry]{t.files, t.dirs} {
		for _, k := range cache.Keys() {
			if k == p || strings.HasPrefix(k, prefix) {
				cache.Remove(k)
			}
		}
	}
	t.dirs.Remove(filepath.Dir(p))
}

// Clear forgets all tracked files and directories.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files.Purge()
	t.dirs.Purge()
}

// Len returns the number of tracked files and directories.
func (t *Tracker) Len() (files, dirs int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.files.Len(), t.dirs.Len()
}

func (t *Tracker) record(cache *lru.Cache[string, *entry], key, fp string) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := cache.Get(key)
	if !ok || t.expired(e, now) || e.fingerprint != fp {
		cache.Add(key, &entry{fingerprint: fp, count: 1, recordedAt: now})
		return
	}
	e.count++
	e.recordedAt = now
}

func (t *Tracker) check(cache *lru.Cache[string, *entry], key string) Check {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := cache.Peek(key)
	if !ok || t.expired(e, now) {
		return Check{}
	}
	return Check{Blocked: e.count >= t.cfg.RepeatThreshold, Count: e.count}
}

func (t *Tracker) expired(e *entry, now time.Time) bool {
	return now.Sub(e.recordedAt) > t.cfg.TTL
}

func normalize(path string) string {
	if path == "" {
		return "."
	}
	return filepath.Clean(path)
}
