// Package window provides the fixed-size rolling buffers used by the samplers.
package window

import "math"

// Rolling is a fixed-capacity ring of float64 samples, oldest first.
// Not safe for concurrent use; each sampler owns its windows.
type Rolling struct {
	buf   []float64
	start int
	n     int
}

// New creates a rolling window holding at most size samples.
// A non-positive size is treated as 1.
func New(size int) *Rolling {
	if size < 1 {
		size = 1
	}
	return &Rolling{buf: make([]float64, size)}
}

// Push appends a sample, evicting the oldest one when full.
// Non-finite samples are ignored and Push reports false.
func (r *Rolling) Push(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return true
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
	return true
}

// Len returns the number of buffered samples.
func (r *Rolling) Len() int {
	return r.n
}

// Cap returns the window capacity.
func (r *Rolling) Cap() int {
	return len(r.buf)
}

// Mean returns the average of the buffered samples.
// ok is false when the window is empty (insufficient data).
func (r *Rolling) Mean() (mean float64, ok bool) {
	if r.n == 0 {
		return 0, false
	}
	sum := 0.0
	for i := 0; i < r.n; i++ {
		sum += r.buf[(r.start+i)%len(r.buf)]
	}
	return sum / float64(r.n), true
}

// Values returns a copy of the buffered samples, oldest first.
func (r *Rolling) Values() []float64 {
	out := make([]float64, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Last returns up to the n newest samples, oldest first.
func (r *Rolling) Last(n int) []float64 {
	if n > r.n {
		n = r.n
	}
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	offset := r.n - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.start+offset+i)%len(r.buf)]
	}
	return out
}

// Reset drops all samples.
func (r *Rolling) Reset() {
	r.start = 0
	r.n = 0
}
