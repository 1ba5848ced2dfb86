// Package dedup detects repeated tool calls within a bounded, time-limited window.
package dedup

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mesutfelat/cowork-oss-sub009/internal/fingerprint"
	"github.com/mesutfelat/cowork-oss-sub009/internal/tools"
)

// Config bounds the deduplicator along both axes: samples kept per call
// fingerprint, and the number of fingerprints and samples kept overall.
type Config struct {
	// HistoryDepth is the number of samples kept per fingerprint.
	HistoryDepth int `yaml:"history_depth"`
	// TTL is how long a sample counts toward duplicate detection.
	TTL time.Duration `yaml:"ttl"`
	// MaxKeys caps the number of distinct fingerprints tracked.
	MaxKeys int `yaml:"max_keys"`
	// MaxEntries caps the number of samples across all fingerprints.
	MaxEntries int `yaml:"max_entries"`
}

// DefaultConfig returns the default deduplicator configuration.
func DefaultConfig() Config {
	return Config{
		HistoryDepth: 5,
		TTL:          60 * time.Second,
		MaxKeys:      256,
		MaxEntries:   1024,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HistoryDepth <= 0 {
		c.HistoryDepth = d.HistoryDepth
	}
	if c.TTL <= 0 {
		c.TTL = d.TTL
	}
	if c.MaxKeys <= 0 {
		c.MaxKeys = d.MaxKeys
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = d.MaxEntries
	}
	if c.HistoryDepth > c.MaxEntries {
		c.HistoryDepth = c.MaxEntries
	}
	return c
}

// Result is the outcome of CheckDuplicate.
type Result struct {
	IsDuplicate bool
	// Count is the number of unexpired samples for the call.
	Count int
	// LastSeen is the timestamp of the newest unexpired sample.
	LastSeen time.Time
	// LastResult is the result fingerprint of the newest unexpired sample.
	LastResult string
}

type sample struct {
	resultFingerprint string
	timestamp         time.Time
}

type history struct {
	toolName string
	ring     ring
}

// Deduplicator remembers recent (tool, arguments) calls keyed by fingerprint.
// Misses, expiry and eviction all degrade to "not a duplicate".
type Deduplicator struct {
	mu       sync.Mutex
	cfg      Config
	entries  *lru.Cache[string, *history]
	total    int
	now      func() time.Time
	readOnly func(string) bool
}

// Option configures a Deduplicator.
type Option func(*Deduplicator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Deduplicator) { d.now = now }
}

// WithReadOnlyClassifier overrides the read-only tool classification.
func WithReadOnlyClassifier(fn func(toolName string) bool) Option {
	return func(d *Deduplicator) { d.readOnly = fn }
}

// New creates a Deduplicator. Zero config values fall back to DefaultConfig.
func New(cfg Config, opts ...Option) *Deduplicator {
	cfg = cfg.withDefaults()
	d := &Deduplicator{
		cfg:      cfg,
		now:      time.Now,
		readOnly: tools.IsReadOnly,
	}
	for _, opt := range opts {
		opt(d)
	}
	// The callback runs synchronously inside cache calls made under d.mu.
	cache, err := lru.NewWithEvict[string, *history](cfg.MaxKeys, func(_ string, h *history) {
		d.total -= h.ring.len()
	})
	if err != nil {
		// Only returned for a non-positive size, which withDefaults rules out.
		panic(err)
	}
	d.entries = cache
	return d
}

// Config returns the effective configuration.
func (d *Deduplicator) Config() Config {
	return d.cfg
}

// RecordCall appends a sample for (toolName, args) carrying the fingerprint of resultJSON.
func (d *Deduplicator) RecordCall(toolName string, args any, resultJSON string) {
	key := fingerprint.MustToolCall(toolName, args)
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	h, ok := d.entries.Get(key)
	if !ok {
		h = &history{toolName: toolName, ring: newRing(d.cfg.HistoryDepth)}
		d.entries.Add(key, h)
	}

	d.total -= h.ring.pruneBefore(now.Add(-d.cfg.TTL))
	if h.ring.push(sample{resultFingerprint: fingerprint.Result(resultJSON), timestamp: now}) {
		d.total++
	}

	for d.total > d.cfg.MaxEntries && d.entries.Len() > 1 {
		oldest, _, ok := d.entries.GetOldest()
		if !ok || oldest == key {
			break
		}
		d.entries.RemoveOldest()
	}
}

// CheckDuplicate reports whether (toolName, args) has an unexpired sample.
// It does not consider what the result would be this time.
func (d *Deduplicator) CheckDuplicate(toolName string, args any) Result {
	key := fingerprint.MustToolCall(toolName, args)
	cutoff := d.now().Add(-d.cfg.TTL)

	d.mu.Lock()
	defer d.mu.Unlock()

	h, ok := d.entries.Get(key)
	if !ok {
		return Result{}
	}

	var res Result
	h.ring.each(func(s sample) {
		if !s.timestamp.After(cutoff) {
			return
		}
		res.Count++
		if s.timestamp.After(res.LastSeen) || res.LastSeen.IsZero() {
			res.LastSeen = s.timestamp
			res.LastResult = s.resultFingerprint
		}
	})
	res.IsDuplicate = res.Count > 0
	return res
}

// ClearReadOnlyHistory forgets every read-only tool's history and keeps
// everything else. It returns the number of fingerprints removed.
func (d *Deduplicator) ClearReadOnlyHistory() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for _, key := range d.entries.Keys() {
		h, ok := d.entries.Peek(key)
		if !ok {
			continue
		}
		if d.readOnly(h.toolName) {
			d.entries.Remove(key)
			removed++
		}
	}
	return removed
}

// Reset forgets all history.
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries.Purge()
	d.total = 0
}

// Len returns the number of tracked fingerprints.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.entries.Len()
}

// Entries returns the number of samples held across all fingerprints.
func (d *Deduplicator) Entries() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.total
}
