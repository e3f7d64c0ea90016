package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/TTHSDownloader/TTHSDNext/internal/downloader"
	"github.com/TTHSDownloader/TTHSDNext/internal/rangeengine"
)

func smallFileServer(t *testing.T, n int) *httptest.Server {
	t.Helper()
	body := make([]byte, n)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", "")
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "4096")
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Length", "4096")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body[:4096])
	}))
}

func TestCreateAssignsDistinctIDs(t *testing.T) {
	r := &Registry{sessions: make(map[int32]*session)}
	id1 := r.Create(rangeengine.Config{})
	id2 := r.Create(rangeengine.Config{})
	if id1 == id2 {
		t.Fatalf("expected distinct session ids, got %d and %d", id1, id2)
	}
}

func TestStopUnknownIDReturnsNotFound(t *testing.T) {
	r := &Registry{sessions: make(map[int32]*session)}
	err := r.Stop(999)
	if _, ok := err.(*rangeengine.NotFoundError); !ok {
		t.Fatalf("expected NotFoundError, got %T: %v", err, err)
	}
}

func TestStartDownloadsFirstTaskAndStopRemovesSession(t *testing.T) {
	srv := smallFileServer(t, 4096)
	defer srv.Close()

	r := &Registry{sessions: make(map[int32]*session)}
	dest := filepath.Join(t.TempDir(), "out.bin")

	id := r.Create(rangeengine.Config{
		Tasks: []downloader.Task{{URL: srv.URL, SavePath: dest, ID: "a"}},
	})

	if err := r.Start(context.Background(), id); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := r.Snapshot(id)
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		if snap != nil && snap.IsFinished {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := r.Stop(id); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := r.Snapshot(id); err == nil {
		t.Fatal("expected session to be gone after Stop")
	}
}

func TestResumeWithoutPauseReturnsError(t *testing.T) {
	srv := smallFileServer(t, 4096)
	defer srv.Close()

	r := &Registry{sessions: make(map[int32]*session)}
	dest := filepath.Join(t.TempDir(), "out.bin")

	id := r.Create(rangeengine.Config{
		Tasks: []downloader.Task{{URL: srv.URL, SavePath: dest, ID: "a"}},
	})
	if err := r.Start(context.Background(), id); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if snap, _ := r.Snapshot(id); snap != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := r.Resume(id); err == nil {
		t.Fatal("expected Resume on a non-paused session to return an error")
	}

	if err := r.Pause(id); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := r.Resume(id); err != nil {
		t.Fatalf("resume after pause: %v", err)
	}

	_ = r.Stop(id)
}
