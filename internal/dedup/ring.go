package dedup

import "time"

// ring is a fixed-capacity FIFO of samples; pushing into a full ring drops the oldest.
type ring struct {
	buf   []sample
	start int
	n     int
}

func newRing(depth int) ring {
	return ring{buf: make([]sample, depth)}
}

func (r *ring) len() int { return r.n }

// push appends s and reports whether the ring grew.
func (r *ring) push(s sample) bool {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = s
		r.n++
		return true
	}
	r.buf[r.start] = s
	r.start = (r.start + 1) % len(r.buf)
	return false
}

// pruneBefore drops samples at or before cutoff and returns how many were removed.
// Samples are stored in insertion order, so expired ones are always at the front.
func (r *ring) pruneBefore(cutoff time.Time) int {
	removed := 0
	for r.n > 0 && !r.buf[r.start].timestamp.After(cutoff) {
		r.buf[r.start] = sample{}
		r.start = (r.start + 1) % len(r.buf)
		r.n--
		removed++
	}
	return removed
}

// each visits samples from oldest to newest.
func (r *ring) each(fn func(sample)) {
	for i := 0; i < r.n; i++ {
		fn(r.buf[(r.start+i)%len(r.buf)])
	}
}
