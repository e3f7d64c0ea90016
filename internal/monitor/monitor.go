// Package monitor implements the process-wide Performance Monitor: atomic
// byte/chunk counters and RW-locked current/average/peak speed, recomputed
// no more often than every 500ms. Grounded on
// original_source/src/core/performance_monitor.rs, translated from its
// tokio::sync::OnceCell double-checked singleton into a sync.Once-guarded
// package-level instance.
package monitor

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats is a snapshot of the monitor's counters, suitable for
// serialization through the control API or the Message Fan-out.
type Stats struct {
	TotalBytes       int64   `json:"total_bytes"`
	CurrentSpeedBps  float64 `json:"current_speed_bps"`
	CurrentSpeedMBps float64 `json:"current_speed_mbps"`
	AverageSpeedBps  float64 `json:"average_speed_bps"`
	AverageSpeedMBps float64 `json:"average_speed_mbps"`
	PeakSpeedBps     float64 `json:"peak_speed_bps"`
	PeakSpeedMBps    float64 `json:"peak_speed_mbps"`
	ChunkDownloads   int64   `json:"chunk_downloads"`
	FailedChunks     int64   `json:"failed_chunks"`
	RetriedChunks    int64   `json:"retried_chunks"`
	ElapsedSec       float64 `json:"elapsed_time"`
}

// Monitor aggregates throughput and chunk-outcome counters across every
// concurrent download in the process. It has process lifetime and no
// teardown, per spec §9's tolerated-global-state design note.
type Monitor struct {
	startTime time.Time

	totalBytes atomic.Int64
	lastBytes  atomic.Int64

	mu            sync.RWMutex
	lastUpdate    time.Time
	currentSpeed  float64
	averageSpeed  float64
	peakSpeed     float64

	chunkDownloads atomic.Int64
	failedChunks   atomic.Int64
	retriedChunks  atomic.Int64
}

func newMonitor() *Monitor {
	now := time.Now()
	return &Monitor{startTime: now, lastUpdate: now}
}

var (
	globalOnce sync.Once
	global     *Monitor
)

// Global returns the process-wide monitor, constructing it on first call.
func Global() *Monitor {
	globalOnce.Do(func() {
		global = newMonitor()
	})
	return global
}

// AddBytes records n newly-downloaded bytes and opportunistically
// recomputes speed if ≥500ms has elapsed since the last recompute.
func (m *Monitor) AddBytes(n int64) {
	m.totalBytes.Add(n)
	m.updateSpeed()
}

func (m *Monitor) AddChunkDownload() { m.chunkDownloads.Add(1) }
func (m *Monitor) AddFailedChunk()   { m.failedChunks.Add(1) }
func (m *Monitor) AddRetriedChunk()  { m.retriedChunks.Add(1) }

func (m *Monitor) updateSpeed() {
	now := time.Now()

	m.mu.RLock()
	last := m.lastUpdate
	m.mu.RUnlock()

	duration := now.Sub(last).Seconds()
	if duration <= 0.5 {
		return
	}

	current := m.totalBytes.Load()
	prev := m.lastBytes.Load()
	diff := current - prev
	currentSpeed := float64(diff) / duration

	totalDuration := now.Sub(m.startTime).Seconds()
	var averageSpeed float64
	if totalDuration > 0 {
		averageSpeed = float64(current) / totalDuration
	}

	m.mu.Lock()
	if currentSpeed > m.peakSpeed {
		m.peakSpeed = currentSpeed
	}
	m.currentSpeed = currentSpeed
	m.averageSpeed = averageSpeed
	m.lastUpdate = now
	m.mu.Unlock()

	m.lastBytes.Store(current)
}

// GetStats returns a point-in-time snapshot of every counter.
func (m *Monitor) GetStats() Stats {
	m.mu.RLock()
	current, average, peak := m.currentSpeed, m.averageSpeed, m.peakSpeed
	m.mu.RUnlock()

	const mib = 1024 * 1024
	return Stats{
		TotalBytes:       m.totalBytes.Load(),
		CurrentSpeedBps:  current,
		CurrentSpeedMBps: current / mib,
		AverageSpeedBps:  average,
		AverageSpeedMBps: average / mib,
		PeakSpeedBps:     peak,
		PeakSpeedMBps:    peak / mib,
		ChunkDownloads:   m.chunkDownloads.Load(),
		FailedChunks:     m.failedChunks.Load(),
		RetriedChunks:    m.retriedChunks.Load(),
		ElapsedSec:       time.Since(m.startTime).Seconds(),
	}
}
