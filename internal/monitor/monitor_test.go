package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonitorAddBytesAccumulates(t *testing.T) {
	m := newMonitor()
	m.AddBytes(100)
	m.AddBytes(200)
	assert.EqualValues(t, 300, m.totalBytes.Load())
}

func TestMonitorSpeedGatedAt500ms(t *testing.T) {
	m := newMonitor()
	m.lastUpdate = time.Now()
	m.AddBytes(1024)
	stats := m.GetStats()
	assert.Zero(t, stats.CurrentSpeedBps, "speed must not recompute before 500ms elapse")
}

func TestMonitorChunkCounters(t *testing.T) {
	m := newMonitor()
	m.AddChunkDownload()
	m.AddChunkDownload()
	m.AddFailedChunk()
	m.AddRetriedChunk()

	stats := m.GetStats()
	assert.EqualValues(t, 2, stats.ChunkDownloads)
	assert.EqualValues(t, 1, stats.FailedChunks)
	assert.EqualValues(t, 1, stats.RetriedChunks)
}

func TestGlobalIsSingleton(t *testing.T) {
	a := Global()
	b := Global()
	assert.Same(t, a, b)
}
