// Package cache collects the per-engine caches named in §5: the
// calculator's compilation and result caches (already implemented by
// internal/calculator.Engine) plus a serialization scratch-buffer cache
// this package owns directly, all exposed uniformly for the memory
// coordinator to register and shrink under pressure.
package cache

import "sync"

// Stats mirrors calculator.CacheStats's shape so every cache in the
// engine reports the same three numbers regardless of what it holds.
type Stats struct {
	Hits        uint64
	Misses      uint64
	Utilization float64
}

// ScratchBuffers pools byte buffers for reuse between Get and Put calls.
// The engine registers it with the memory coordinator and counts its
// utilization in its usage estimate; no marshaling path in this module
// (internal/ruleio, internal/factvalue wire encoding) draws buffers from it.
type ScratchBuffers struct {
	mu      sync.Mutex
	buffers [][]byte
	maxKept int
	hits    uint64
	misses  uint64
}

// NewScratchBuffers constructs a scratch-buffer cache keeping at most
// maxKept buffers between uses.
func NewScratchBuffers(maxKept int) *ScratchBuffers {
	if maxKept <= 0 {
		maxKept = 32
	}
	return &ScratchBuffers{maxKept: maxKept}
}

// Get returns a zero-length buffer, reusing a previously returned one
// when available.
func (s *ScratchBuffers) Get() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.buffers); n > 0 {
		buf := s.buffers[n-1]
		s.buffers = s.buffers[:n-1]
		s.hits++
		return buf[:0]
	}
	s.misses++
	return make([]byte, 0, 256)
}

// Put returns buf to the cache if there is room for it.
func (s *ScratchBuffers) Put(buf []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buffers) >= s.maxKept {
		return
	}
	s.buffers = append(s.buffers, buf)
}

// Clear discards every pooled buffer.
func (s *ScratchBuffers) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffers = nil
}

// Stats reports hit/miss counts and how full the cache currently is
// relative to its cap.
func (s *ScratchBuffers) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	util := 0.0
	if s.maxKept > 0 {
		util = float64(len(s.buffers)) / float64(s.maxKept)
	}
	return Stats{Hits: s.hits, Misses: s.misses, Utilization: util}
}

// ReduceMemoryUsage shrinks the kept-buffer cap by factor (0 < factor <
// 1), evicting down to the new cap immediately, satisfying the
// memory.Consumer interface.
func (s *ScratchBuffers) ReduceMemoryUsage(factor float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if factor <= 0 || factor >= 1 {
		return
	}
	s.maxKept = int(float64(s.maxKept) * factor)
	if s.maxKept < 1 {
		s.maxKept = 1
	}
	if len(s.buffers) > s.maxKept {
		s.buffers = s.buffers[:s.maxKept]
	}
}
