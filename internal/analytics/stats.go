// Package analytics aggregates cross-session byte/file counters and disk
// usage for the control API's /api/v1/stats endpoint. Grounded on the
// teacher's internal/analytics/stats.go; the unused cache/mutex fields the
// teacher carried (never read anywhere in that package) are dropped here
// in favor of a RecordCompletion method that actually gets called — through
// rangeengine.Options.OnComplete — once a download finishes.
package analytics

import (
	"path/filepath"
	"sync/atomic"

	"github.com/TTHSDownloader/TTHSDNext/internal/storage"

	"github.com/shirou/gopsutil/v3/disk"
)

const bytesPerGB = 1024 * 1024 * 1024

// DiskUsage is the free/used/total space on the volume a download lands
// on.
type DiskUsage struct {
	UsedGB  float64 `json:"used_gb"`
	FreeGB  float64 `json:"free_gb"`
	TotalGB float64 `json:"total_gb"`
	Percent float64 `json:"percent"`
}

// AnalyticsData is the combined snapshot the control API serves.
type AnalyticsData struct {
	TotalDownloaded int64            `json:"total_downloaded"`
	TotalFiles      int64            `json:"total_files"`
	DailyHistory    map[string]int64 `json:"daily_history"`
	DiskUsage       DiskUsage        `json:"disk_usage"`
}

// StatsManager persists lifetime/daily byte and file counts and exposes
// the current instantaneous speed the control API's /stats endpoint
// reports alongside the Performance Monitor's own figures.
type StatsManager struct {
	storage        *storage.Storage
	downloadPathFn func() (string, error)
	currentSpeed   atomic.Int64
}

// NewStatsManager builds a StatsManager backed by s. downloadPathFn
// resolves the directory GetDiskUsage reports free space for (typically
// the user's configured default download directory).
func NewStatsManager(s *storage.Storage, downloadPathFn func() (string, error)) *StatsManager {
	return &StatsManager{storage: s, downloadPathFn: downloadPathFn}
}

// UpdateCurrentSpeed records the instantaneous aggregate download speed.
func (sm *StatsManager) UpdateCurrentSpeed(bytesPerSec int64) {
	sm.currentSpeed.Store(bytesPerSec)
}

// CurrentSpeed returns the last speed UpdateCurrentSpeed recorded.
func (sm *StatsManager) CurrentSpeed() int64 {
	return sm.currentSpeed.Load()
}

// TrackDownloadBytes folds bytes into today's daily total.
func (sm *StatsManager) TrackDownloadBytes(bytes int64) {
	go func() { _ = sm.storage.IncrementDailyBytes(bytes) }()
}

// TrackFileCompleted folds one completed file into today's daily total.
func (sm *StatsManager) TrackFileCompleted() {
	go func() { _ = sm.storage.IncrementDailyFiles() }()
}

// RecordCompletion is the single entry point a finished session calls:
// it folds the session's bytes and file count into today's stats in one
// call instead of requiring the caller to sequence two.
func (sm *StatsManager) RecordCompletion(totalBytes int64) {
	sm.TrackDownloadBytes(totalBytes)
	sm.TrackFileCompleted()
}

// GetLifetimeStats returns total bytes ever downloaded.
func (sm *StatsManager) GetLifetimeStats() (int64, error) {
	return sm.storage.GetTotalLifetime()
}

// GetTotalFiles returns total files ever completed.
func (sm *StatsManager) GetTotalFiles() (int64, error) {
	return sm.storage.GetTotalFiles()
}

// GetDailyStats returns the last `days` days of byte counts, keyed by
// "YYYY-MM-DD".
func (sm *StatsManager) GetDailyStats(days int) (map[string]int64, error) {
	rows, err := sm.storage.GetDailyHistory(days)
	if err != nil {
		return map[string]int64{}, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Date] = row.Bytes
	}
	return out, nil
}

// GetDiskUsage reports usage for the volume named in the configured
// download directory's path (the root "/" when the path carries no
// volume name, as on Unix), or a zero value if that directory can't be
// resolved.
func (sm *StatsManager) GetDiskUsage() DiskUsage {
	if sm.downloadPathFn == nil {
		return DiskUsage{}
	}
	path, err := sm.downloadPathFn()
	if err != nil {
		return DiskUsage{}
	}

	volume := filepath.VolumeName(path)
	if volume == "" {
		volume = "/"
	} else {
		volume += string(filepath.Separator)
	}

	usage, err := disk.Usage(volume)
	if err != nil {
		return DiskUsage{}
	}
	return DiskUsage{
		UsedGB:  float64(usage.Used) / bytesPerGB,
		FreeGB:  float64(usage.Free) / bytesPerGB,
		TotalGB: float64(usage.Total) / bytesPerGB,
		Percent: usage.UsedPercent,
	}
}

// GetAnalytics assembles the full snapshot the control API serves.
func (sm *StatsManager) GetAnalytics() AnalyticsData {
	lifetime, _ := sm.GetLifetimeStats()
	totalFiles, _ := sm.GetTotalFiles()
	daily, _ := sm.GetDailyStats(7)

	return AnalyticsData{
		TotalDownloaded: lifetime,
		TotalFiles:      totalFiles,
		DailyHistory:    daily,
		DiskUsage:       sm.GetDiskUsage(),
	}
}
