package logger

import (
	"strconv"
	"strings"
	"sync/atomic"
)

// sampler lets through the first keep events of every window of events.
// A zero ratio disables sampling.
type sampler struct {
	ratio atomic.Uint64 // keep<<32 | window
	seen  atomic.Uint64
}

func newSampler(keep, window int) *sampler {
	s := &sampler{}
	s.Set(keep, window)
	return s
}

// Set replaces the ratio and restarts the window.
func (s *sampler) Set(keep, window int) {
	var packed uint64
	if keep > 0 && window > 0 {
		keep = min(keep, window)
		packed = uint64(keep)<<32 | uint64(uint32(window))
	}
	s.ratio.Store(packed)
	s.seen.Store(0)
}

// Allow reports whether the next event is kept.
func (s *sampler) Allow() bool {
	r := s.ratio.Load()
	if r == 0 {
		return true
	}
	keep, window := r>>32, r&0xffffffff
	n := s.seen.Add(1) - 1
	return n%window < keep
}

// parseSampleRate reads "k/n" (keep k of n), "p%" or a bare "n" (one of n).
// Anything unusable yields 0, 0.
func parseSampleRate(spec string) (keep, window int) {
	spec = strings.TrimSpace(spec)
	switch {
	case spec == "":
		return 0, 0
	case strings.HasSuffix(spec, "%"):
		p, err := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(spec, "%")))
		if err != nil || p <= 0 {
			return 0, 0
		}
		p = min(p, 100)
		g := gcd(p, 100)
		return p / g, 100 / g
	}
	if k, n, ok := strings.Cut(spec, "/"); ok {
		keep, err1 := strconv.Atoi(strings.TrimSpace(k))
		window, err2 := strconv.Atoi(strings.TrimSpace(n))
		if err1 != nil || err2 != nil || keep <= 0 || window <= 0 {
			return 0, 0
		}
		return keep, window
	}
	n, err := strconv.Atoi(spec)
	if err != nil || n <= 0 {
		return 0, 0
	}
	return 1, n
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
