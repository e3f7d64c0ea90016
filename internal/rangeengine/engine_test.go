package rangeengine

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/TTHSDownloader/TTHSDNext/internal/downloader"
)

// rangeServer serves content out of an in-memory byte slice, honoring
// Range requests the way a real origin would, so the supervisor's
// work-stealing loop has real concurrent ranged GETs to drive.
func rangeServer(t *testing.T, content []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")

		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(content)))
			w.WriteHeader(http.StatusOK)
			return
		}

		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			w.Header().Set("Content-Length", strconv.Itoa(len(content)))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(content)
			return
		}

		var start, end int64
		_, err := fmt.Sscanf(strings.TrimPrefix(rangeHeader, "bytes="), "%d-%d", &start, &end)
		if err != nil {
			http.Error(w, "bad range", http.StatusBadRequest)
			return
		}
		if end >= int64(len(content)) {
			end = int64(len(content)) - 1
		}

		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(content)))
		w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(content[start : end+1])
	}))
}

func TestEngineDownloadsFullFileAcrossMultipleWorkers(t *testing.T) {
	content := make([]byte, 2*1024*1024) // 2 MiB
	for i := range content {
		content[i] = byte(i % 251)
	}
	srv := rangeServer(t, content)
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")

	eng := NewEngine(Config{
		Tasks: []downloader.Task{{URL: srv.URL, SavePath: dest, ID: "t1"}},
		Options: Options{
			ThreadCount: 4,
			ChunkSizeMB: 1, // two 1 MiB chunks against a 2 MiB body
		},
	})

	err := eng.Download(context.Background(), downloader.Task{URL: srv.URL, SavePath: dest, ID: "t1"})
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if len(got) != len(content) {
		t.Fatalf("expected %d bytes, got %d", len(content), len(got))
	}
	for i := range content {
		if got[i] != content[i] {
			t.Fatalf("byte mismatch at offset %d: want %d got %d", i, content[i], got[i])
		}
	}

	snap := eng.Snapshot()
	if snap == nil || !snap.IsFinished {
		t.Fatalf("expected a finished snapshot, got %+v", snap)
	}
}

func TestEnginePreflightRejectsMissingContentLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")

	eng := NewEngine(Config{Tasks: []downloader.Task{{URL: srv.URL, SavePath: dest}}})
	err := eng.Download(context.Background(), downloader.Task{URL: srv.URL, SavePath: dest})

	if err == nil {
		t.Fatal("expected a preflight error for a missing Content-Length")
	}
	if _, ok := err.(*PreflightError); !ok {
		t.Fatalf("expected *PreflightError, got %T: %v", err, err)
	}
}

func TestEngineCancelStopsWithoutIntegrityError(t *testing.T) {
	content := make([]byte, 8*1024*1024)
	srv := rangeServer(t, content)
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")

	eng := NewEngine(Config{
		Tasks:   []downloader.Task{{URL: srv.URL, SavePath: dest}},
		Options: Options{ThreadCount: 2, ChunkSizeMB: 1},
	})

	done := make(chan error, 1)
	go func() {
		done <- eng.Download(context.Background(), downloader.Task{URL: srv.URL, SavePath: dest})
	}()

	time.Sleep(5 * time.Millisecond)
	eng.Cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected a clean nil return on cancel, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("download did not observe cancellation in time")
	}
}

// TestSupervisorStealsFromTheSlowestWorker covers spec §8 scenario 2: one
// worker is made artificially slow (its byte range is trickled out instead
// of written in one shot) while its sibling finishes immediately, so the
// supervisor must shrink the slow worker's endPos at least once and hand
// the freed tail to a fresh worker. The final file must still come out
// byte-for-byte correct, and the worker count after Download must exceed
// the number seeded initially — the only way a steal leaves a trace once
// it's done.
func TestSupervisorStealsFromTheSlowestWorker(t *testing.T) {
	const size = 16 * 1024 * 1024 // 16 MiB, so a seeded chunk clears minReassignSize
	content := make([]byte, size)
	for i := range content {
		content[i] = byte(i % 251)
	}

	var mu sync.Mutex
	var slowClaimed bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(content)))
			w.WriteHeader(http.StatusOK)
			return
		}

		var start, end int64
		_, err := fmt.Sscanf(strings.TrimPrefix(r.Header.Get("Range"), "bytes="), "%d-%d", &start, &end)
		if err != nil {
			http.Error(w, "bad range", http.StatusBadRequest)
			return
		}
		if end >= int64(len(content)) {
			end = int64(len(content)) - 1
		}

		mu.Lock()
		isSlow := !slowClaimed
		if isSlow {
			slowClaimed = true
		}
		mu.Unlock()

		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(content)))
		w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
		w.WriteHeader(http.StatusPartialContent)

		chunk := content[start : end+1]
		if !isSlow {
			_, _ = w.Write(chunk)
			return
		}

		flusher, _ := w.(http.Flusher)
		const step = 32 * 1024
		for i := 0; i < len(chunk); i += step {
			j := i + step
			if j > len(chunk) {
				j = len(chunk)
			}
			if _, err := w.Write(chunk[i:j]); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			time.Sleep(2 * time.Millisecond)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")
	task := downloader.Task{URL: srv.URL, SavePath: dest, ID: "steal"}

	eng := NewEngine(Config{
		Tasks:   []downloader.Task{task},
		Options: Options{ThreadCount: 2, ChunkSizeMB: 8},
	})

	_, numChunks := partition(int64(len(content)), 2, 8*1024*1024)
	seeded := int(numChunks)

	if err := eng.Download(context.Background(), task); err != nil {
		t.Fatalf("download failed: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if len(got) != len(content) || !bytes.Equal(got, content) {
		t.Fatalf("downloaded content mismatch")
	}

	eng.workersMu.Lock()
	final := len(eng.workers)
	eng.workersMu.Unlock()
	if final <= seeded {
		t.Fatalf("expected the supervisor to steal at least one worker from the slow chunk: seeded %d, final %d", seeded, final)
	}
}

// TestWorkerReportsStallErrorAfterThreshold covers spec §8 scenario 3: the
// server writes a burst of bytes and then goes silent past the configured
// stall timeout. The worker must surface a *StallError, and with FailFast
// set the session reports it as the overall failure rather than retrying
// forever.
func TestWorkerReportsStallErrorAfterThreshold(t *testing.T) {
	const fileSize = 1 << 20 // 1 MiB advertised; the body never fully arrives

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(fileSize))
			w.WriteHeader(http.StatusOK)
			return
		}

		w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-%d/%d", fileSize-1, fileSize))
		w.Header().Set("Content-Length", strconv.Itoa(fileSize))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(make([]byte, 64*1024))
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}

		// Hold the connection open well past the test's stall timeout, but
		// release it as soon as the client gives up so the server can shut
		// down cleanly.
		select {
		case <-time.After(10 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")
	task := downloader.Task{URL: srv.URL, SavePath: dest, ID: "stall"}

	eng := NewEngine(Config{
		Tasks: []downloader.Task{task},
		Options: Options{
			ThreadCount:  1,
			ChunkSizeMB:  1,
			FailFast:     true,
			StallTimeout: 300 * time.Millisecond,
		},
	})

	done := make(chan error, 1)
	go func() {
		done <- eng.Download(context.Background(), task)
	}()

	select {
	case err := <-done:
		if _, ok := err.(*StallError); !ok {
			t.Fatalf("expected *StallError, got %T: %v", err, err)
		}
	case <-time.After(8 * time.Second):
		t.Fatal("download did not report a stall within the expected window")
	}
}
