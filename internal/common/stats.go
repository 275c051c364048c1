package common

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Stats holds atomic counters for pipeline telemetry.
type Stats struct {
	TotalFramesRead  uint64 // frames loaded across all channels
	TotalMapsWritten uint64 // combined maps written
	TotalSkipped     uint64 // reference frames dropped by alignment

	// Internal state for reporter
	running  atomic.Bool
	stopCh   chan struct{}
	silent   bool
	lastMaps uint64
	lastTime time.Time
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{stopCh: make(chan struct{})}
}

// AddFrames atomically increments the frames-read counter.
func (s *Stats) AddFrames(count uint64) {
	atomic.AddUint64(&s.TotalFramesRead, count)
}

// AddMaps atomically increments the maps-written counter.
func (s *Stats) AddMaps(count uint64) {
	atomic.AddUint64(&s.TotalMapsWritten, count)
}

// AddSkipped atomically increments the skipped-frame counter.
func (s *Stats) AddSkipped(count uint64) {
	atomic.AddUint64(&s.TotalSkipped, count)
}

// GetFrames atomically reads the frames-read counter.
func (s *Stats) GetFrames() uint64 {
	return atomic.LoadUint64(&s.TotalFramesRead)
}

// GetMaps atomically reads the maps-written counter.
func (s *Stats) GetMaps() uint64 {
	return atomic.LoadUint64(&s.TotalMapsWritten)
}

// GetSkipped atomically reads the skipped-frame counter.
func (s *Stats) GetSkipped() uint64 {
	return atomic.LoadUint64(&s.TotalSkipped)
}

// SetSilent enables or disables silent mode.
func (s *Stats) SetSilent(silent bool) {
	s.silent = silent
}

// StartReporter starts a background goroutine that prints progress every
// 2 seconds using newline-based output to avoid conflicts with log.Printf.
func (s *Stats) StartReporter() {
	if s.running.Load() {
		return
	}
	s.running.Store(true)
	s.lastTime = time.Now()
	s.lastMaps = 0
	go s.reporterLoop()
}

// StopReporter stops the background reporter goroutine.
func (s *Stats) StopReporter() {
	if !s.running.Load() {
		return
	}
	s.running.Store(false)
	close(s.stopCh)
}

func (s *Stats) reporterLoop() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.printStatus()
		}
	}
}

func (s *Stats) printStatus() {
	if s.silent {
		return
	}
	now := time.Now()
	elapsed := now.Sub(s.lastTime).Seconds()
	if elapsed < 0.001 {
		return
	}

	maps := s.GetMaps()
	rate := float64(maps-s.lastMaps) / elapsed

	fmt.Printf("[Progress] Maps: %d (%.1f/s) | Frames: %d | Skipped: %d\n",
		maps, rate, s.GetFrames(), s.GetSkipped())

	s.lastMaps = maps
	s.lastTime = now
}

// Reset resets all counters.
func (s *Stats) Reset() {
	atomic.StoreUint64(&s.TotalFramesRead, 0)
	atomic.StoreUint64(&s.TotalMapsWritten, 0)
	atomic.StoreUint64(&s.TotalSkipped, 0)
	s.lastMaps = 0
	s.lastTime = time.Now()
}
