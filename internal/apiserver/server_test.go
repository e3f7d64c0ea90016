package apiserver

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/TTHSDownloader/TTHSDNext/internal/analytics"
	"github.com/TTHSDownloader/TTHSDNext/internal/config"
	"github.com/TTHSDownloader/TTHSDNext/internal/filesystem"
	"github.com/TTHSDownloader/TTHSDNext/internal/registry"
	"github.com/TTHSDownloader/TTHSDNext/internal/security"
	"github.com/TTHSDownloader/TTHSDNext/internal/storage"
)

func newTestServer(t *testing.T) (*Server, *config.ConfigManager) {
	t.Helper()
	st, err := storage.NewStorageAt(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.NewConfigManager(st)
	logger := slog.Default()
	audit := security.NewAuditLogger(logger)
	stats := analytics.NewStatsManager(st, func() (string, error) { return t.TempDir(), nil })
	allocator := filesystem.NewAllocator()
	scanner := security.NewNoOpScanner(logger)

	return New(registry.Global(), cfg, audit, stats, allocator, scanner, logger), cfg
}

func TestUnauthorizedWithoutToken(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/stats")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestStatsWithValidToken(t *testing.T) {
	s, cfg := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/stats", nil)
	req.Header.Set("X-TTHSD-Token", cfg.GetControlToken())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestGetUnknownDownloadReturnsNotFound(t *testing.T) {
	s, cfg := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/downloads/999999", nil)
	req.Header.Set("X-TTHSD-Token", cfg.GetControlToken())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
