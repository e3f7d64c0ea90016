package analytics

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/TTHSDownloader/TTHSDNext/internal/storage"
)

func newTestStatsManager(t *testing.T) *StatsManager {
	t.Helper()
	s, err := storage.NewStorageAt(filepath.Join(t.TempDir(), "stats.db"))
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	return NewStatsManager(s, func() (string, error) { return t.TempDir(), nil })
}

// waitForCondition polls cond briefly to absorb RecordCompletion/
// TrackDownloadBytes's fire-and-forget goroutines before asserting on
// their effect.
func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition never became true")
	}
}

func TestRecordCompletionUpdatesLifetimeAndFileCount(t *testing.T) {
	sm := newTestStatsManager(t)

	sm.RecordCompletion(1024)
	sm.TrackDownloadBytes(512) // a second session's worth, same day

	waitForCondition(t, func() bool {
		total, _ := sm.GetLifetimeStats()
		return total == 1536
	})

	files, err := sm.GetTotalFiles()
	if err != nil {
		t.Fatalf("GetTotalFiles: %v", err)
	}
	if files != 1 {
		t.Errorf("expected 1 completed file, got %d", files)
	}
}

func TestCurrentSpeedRoundTrips(t *testing.T) {
	sm := newTestStatsManager(t)
	sm.UpdateCurrentSpeed(4096)
	if got := sm.CurrentSpeed(); got != 4096 {
		t.Errorf("expected 4096, got %d", got)
	}
}

func TestGetDailyStatsBoundedByRequestedDays(t *testing.T) {
	sm := newTestStatsManager(t)
	sm.RecordCompletion(10)
	waitForCondition(t, func() bool {
		daily, _ := sm.GetDailyStats(7)
		return len(daily) > 0
	})

	daily, err := sm.GetDailyStats(7)
	if err != nil {
		t.Fatalf("GetDailyStats: %v", err)
	}
	if len(daily) > 7 {
		t.Errorf("expected at most 7 days, got %d", len(daily))
	}
}

func TestGetDiskUsageReportsSaneBounds(t *testing.T) {
	sm := newTestStatsManager(t)
	usage := sm.GetDiskUsage()
	if usage.Percent < 0 || usage.Percent > 100 {
		t.Errorf("disk usage percent out of range: %f", usage.Percent)
	}
}

func TestGetAnalyticsAssemblesEveryField(t *testing.T) {
	sm := newTestStatsManager(t)
	sm.RecordCompletion(2048)
	waitForCondition(t, func() bool {
		return sm.GetAnalytics().TotalDownloaded == 2048
	})

	data := sm.GetAnalytics()
	if data.TotalDownloaded != 2048 {
		t.Errorf("expected 2048 total downloaded, got %d", data.TotalDownloaded)
	}
	if data.TotalFiles != 1 {
		t.Errorf("expected 1 total file, got %d", data.TotalFiles)
	}
	if len(data.DailyHistory) > 7 {
		t.Errorf("expected at most 7 days of history, got %d", len(data.DailyHistory))
	}
}
