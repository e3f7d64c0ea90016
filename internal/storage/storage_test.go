package storage

import (
	"path/filepath"
	"testing"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorageAt(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewStorageAt: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSetStringGetStringRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	if err := s.SetString("control_token", "abc123"); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	got, err := s.GetString("control_token")
	if err != nil {
		t.Fatalf("GetString: %v", err)
	}
	if got != "abc123" {
		t.Fatalf("expected abc123, got %q", got)
	}
}

func TestGetStringUnsetReturnsEmpty(t *testing.T) {
	s := newTestStorage(t)
	got, err := s.GetString("never_set")
	if err != nil {
		t.Fatalf("GetString: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

func TestIncrementDailyBytesAccumulates(t *testing.T) {
	s := newTestStorage(t)

	if err := s.IncrementDailyBytes(100); err != nil {
		t.Fatalf("IncrementDailyBytes: %v", err)
	}
	if err := s.IncrementDailyBytes(50); err != nil {
		t.Fatalf("IncrementDailyBytes: %v", err)
	}

	total, err := s.GetTotalLifetime()
	if err != nil {
		t.Fatalf("GetTotalLifetime: %v", err)
	}
	if total != 150 {
		t.Fatalf("expected 150, got %d", total)
	}
}

func TestIncrementDailyFilesAccumulates(t *testing.T) {
	s := newTestStorage(t)

	_ = s.IncrementDailyFiles()
	_ = s.IncrementDailyFiles()

	total, err := s.GetTotalFiles()
	if err != nil {
		t.Fatalf("GetTotalFiles: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2, got %d", total)
	}
}

func TestRecordAndFetchSpeedTestHistory(t *testing.T) {
	s := newTestStorage(t)

	if err := s.RecordSpeedTest(SpeedTestHistory{DownloadMbps: 100, UploadMbps: 20}); err != nil {
		t.Fatalf("RecordSpeedTest: %v", err)
	}

	rows, err := s.GetSpeedTestHistory(5)
	if err != nil {
		t.Fatalf("GetSpeedTestHistory: %v", err)
	}
	if len(rows) != 1 || rows[0].DownloadMbps != 100 {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}
