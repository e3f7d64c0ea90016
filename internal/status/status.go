// Package status implements the per-Engine Download Status: total size,
// atomic downloaded counter, optional error, and a snapshot producer, per
// spec §4.5.
package status

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is an immutable, observable point-in-time view of a download.
type Snapshot struct {
	Downloaded      int64   `json:"downloaded"`
	TotalSize       int64   `json:"total_size"`
	ProgressPct     float64 `json:"progress_pct"`
	IsFinished      bool    `json:"is_finished"`
	Error           string  `json:"error,omitempty"`
	CurrentSpeedBps float64 `json:"current_speed_bps"`
	AverageSpeedBps float64 `json:"average_speed_bps"`
	ElapsedSec      float64 `json:"elapsed_sec"`
}

// Status tracks one download's progress and terminal error.
type Status struct {
	totalSize  int64
	downloaded atomic.Int64
	startTime  time.Time

	mu           sync.RWMutex
	errorMessage string
}

// New creates a Status for a download of the given total size.
func New(totalSize int64) *Status {
	return &Status{totalSize: totalSize, startTime: time.Now()}
}

// AddDownloaded advances the downloaded counter; it is monotonically
// non-decreasing, matching the invariant in spec §8.5.
func (s *Status) AddDownloaded(n int64) {
	s.downloaded.Add(n)
}

// SetError records a terminal error message. The first error recorded
// wins; later calls are ignored, matching "the first non-empty error
// becomes the session error" from spec §4.3.6.
func (s *Status) SetError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errorMessage == "" {
		s.errorMessage = msg
	}
}

func (s *Status) ErrorMessage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errorMessage
}

func (s *Status) Downloaded() int64 { return s.downloaded.Load() }
func (s *Status) TotalSize() int64  { return s.totalSize }

// Snapshot produces the observable DownloadSnapshot given the current
// speed figures (sourced from the Performance Monitor).
func (s *Status) Snapshot(currentSpeed, averageSpeed float64) Snapshot {
	downloaded := s.downloaded.Load()
	errMsg := s.ErrorMessage()

	var pct float64
	if s.totalSize > 0 {
		pct = float64(downloaded) / float64(s.totalSize) * 100
	}

	return Snapshot{
		Downloaded:      downloaded,
		TotalSize:       s.totalSize,
		ProgressPct:     pct,
		IsFinished:      downloaded >= s.totalSize || errMsg != "",
		Error:           errMsg,
		CurrentSpeedBps: currentSpeed,
		AverageSpeedBps: averageSpeed,
		ElapsedSec:      time.Since(s.startTime).Seconds(),
	}
}
