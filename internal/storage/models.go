// Package storage persists the ambient, cross-restart-safe bookkeeping this
// engine keeps: performance history, daily/lifetime byte counters,
// speed-test history and application settings. It deliberately does not
// persist download-session state (chunk layout, resume offsets) — sessions
// are not resumable across process restarts.
package storage

// DailyStat tracks daily download statistics for analytics.
type DailyStat struct {
	Date  string `gorm:"primaryKey"` // "YYYY-MM-DD"
	Bytes int64  `gorm:"default:0"`
	Files int64  `gorm:"default:0"`
}

func (DailyStat) TableName() string { return "daily_stats" }

// AppSetting stores key-value application settings.
type AppSetting struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

func (AppSetting) TableName() string { return "app_settings" }

// SpeedTestHistory stores past speed test results.
type SpeedTestHistory struct {
	ID             uint    `gorm:"primaryKey" json:"id"`
	DownloadMbps   float64 `json:"download_mbps"`
	UploadMbps     float64 `json:"upload_mbps"`
	PingMs         int64   `json:"ping_ms"`
	JitterMs       int64   `json:"jitter_ms"`
	ISP            string  `json:"isp"`
	ServerName     string  `json:"server_name"`
	ServerLocation string  `json:"server_location"`
	Timestamp      string  `json:"timestamp"`
}

func (SpeedTestHistory) TableName() string { return "speed_test_history" }

// PerfSnapshot is a periodic persisted sample of the process-wide
// Performance Monitor, used to chart throughput across sessions.
type PerfSnapshot struct {
	ID              uint    `gorm:"primaryKey" json:"id"`
	TotalBytes      int64   `json:"total_bytes"`
	CurrentSpeedBps float64 `json:"current_speed_bps"`
	AverageSpeedBps float64 `json:"average_speed_bps"`
	PeakSpeedBps    float64 `json:"peak_speed_bps"`
	ChunkDownloads  int64   `json:"chunk_downloads"`
	FailedChunks    int64   `json:"failed_chunks"`
	RetriedChunks   int64   `json:"retried_chunks"`
	Timestamp       string  `json:"timestamp"`
}

func (PerfSnapshot) TableName() string { return "perf_snapshots" }
