package app

import (
	"sync/atomic"
	"time"
)

// LoopStats tracks main loop timing. Only the loop goroutine records;
// snapshots may be taken from anywhere.
type LoopStats struct {
	ticks     atomic.Uint64
	idleTicks atomic.Uint64
	delivered atomic.Uint64
	totalNs   atomic.Int64
	minNs     atomic.Int64
	maxNs     atomic.Int64
	lastNs    atomic.Int64

	startTime time.Time
}

// NewLoopStats creates a new tracker.
func NewLoopStats() *LoopStats {
	s := &LoopStats{startTime: time.Now()}
	// Initialize min to max int64 so first tick will be smaller
	s.minNs.Store(1<<63 - 1)
	return s
}

// Record records one tick that ran delivered handlers in d.
func (s *LoopStats) Record(d time.Duration, delivered int) {
	ns := d.Nanoseconds()

	s.ticks.Add(1)
	if delivered == 0 {
		s.idleTicks.Add(1)
	}
	s.delivered.Add(uint64(delivered))
	s.totalNs.Add(ns)
	s.lastNs.Store(ns)

	for {
		old := s.minNs.Load()
		if ns >= old || s.minNs.CompareAndSwap(old, ns) {
			break
		}
	}
	for {
		old := s.maxNs.Load()
		if ns <= old || s.maxNs.CompareAndSwap(old, ns) {
			break
		}
	}
}

// Snapshot returns a snapshot of current stats.
func (s *LoopStats) Snapshot() LoopSnapshot {
	ticks := s.ticks.Load()

	var avg time.Duration
	if ticks > 0 {
		avg = time.Duration(s.totalNs.Load() / int64(ticks))
	}
	minNs := s.minNs.Load()
	if minNs == 1<<63-1 {
		minNs = 0
	}

	return LoopSnapshot{
		Uptime:    time.Since(s.startTime),
		Ticks:     ticks,
		IdleTicks: s.idleTicks.Load(),
		Delivered: s.delivered.Load(),
		AvgDrain:  avg,
		MinDrain:  time.Duration(minNs),
		MaxDrain:  time.Duration(s.maxNs.Load()),
		LastDrain: time.Duration(s.lastNs.Load()),
	}
}

// LoopSnapshot is a point-in-time view of loop stats.
type LoopSnapshot struct {
	Uptime    time.Duration `json:"uptime"`
	Ticks     uint64        `json:"ticks"`
	IdleTicks uint64        `json:"idle_ticks"`
	Delivered uint64        `json:"delivered"`
	AvgDrain  time.Duration `json:"avg_drain"`
	MinDrain  time.Duration `json:"min_drain"`
	MaxDrain  time.Duration `json:"max_drain"`
	LastDrain time.Duration `json:"last_drain"`
}

// IdleRate returns the percentage of ticks that ran no handler.
func (s LoopSnapshot) IdleRate() float64 {
	if s.Ticks == 0 {
		return 0
	}
	return float64(s.IdleTicks) / float64(s.Ticks) * 100
}
