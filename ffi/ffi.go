// Command ffi is the C-linkage boundary spec §6 describes: a small set of
// //export entry points a host application loads as a shared library and
// calls directly, bridging into the host process's registry.Global(), the
// same kind of Session Registry the HTTP control plane
// (../internal/apiserver) drives inside the daemon. Grounded on
// original_source/src/core/export.rs's seven extern "C" functions and its
// global Mutex<HashMap<i32, ...>> registry, translated from a dedicated
// Tokio runtime into native goroutines dispatched straight off
// registry.Global().
package main

/*
#include <stdlib.h>

typedef void (*tthsd_callback)(const char* event_json, const char* data_json);

static inline void tthsd_invoke_callback(tthsd_callback cb, const char* event_json, const char* data_json) {
    if (cb != NULL) {
        cb(event_json, data_json);
    }
}
*/
import "C"

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"unsafe"

	"github.com/TTHSDownloader/TTHSDNext/internal/analytics"
	"github.com/TTHSDownloader/TTHSDNext/internal/bandwidth"
	"github.com/TTHSDownloader/TTHSDNext/internal/downloader"
	"github.com/TTHSDownloader/TTHSDNext/internal/fanout"
	"github.com/TTHSDownloader/TTHSDNext/internal/filesystem"
	"github.com/TTHSDownloader/TTHSDNext/internal/rangeengine"
	"github.com/TTHSDownloader/TTHSDNext/internal/registry"
	"github.com/TTHSDownloader/TTHSDNext/internal/security"
	"github.com/TTHSDownloader/TTHSDNext/internal/storage"
)

// wireTask/wireConfig mirror spec §3's DownloadTask/DownloadConfig JSON
// shape as accepted across the FFI boundary.
type wireTask struct {
	URL      string `json:"url"`
	SavePath string `json:"save_path"`
	ID       string `json:"id"`
	ShowName string `json:"show_name"`
}

type wireConfig struct {
	Tasks             []wireTask `json:"tasks"`
	ThreadCount       int        `json:"thread_count"`
	ChunkSizeMB       int        `json:"chunk_size_mb"`
	BandwidthLimitBps int        `json:"bandwidth_limit_bps"`
}

var ffiLogger = func() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, nil))
}()

// ffiAllocator and ffiScanner are process-wide, same as ffiLogger: the FFI
// boundary has no per-request Server to hang these off of, so every
// session started through this shared library shares one pre-allocator
// and one AV scanner, same as the daemon's single apiserver.Server does.
var ffiAllocator = filesystem.NewAllocator()
var ffiScanner = security.NewScanner(ffiLogger)

// ffiStats lazily opens the same on-disk analytics store the daemon
// binary uses, so a host process embedding only this shared library still
// accumulates lifetime/daily totals across its sessions. A host that never
// calls into a downloading entry point never pays for it.
var (
	ffiStatsOnce sync.Once
	ffiStats     *analytics.StatsManager
)

func statsManager() *analytics.StatsManager {
	ffiStatsOnce.Do(func() {
		store, err := storage.NewStorage()
		if err != nil {
			ffiLogger.Warn("ffi: analytics storage unavailable, completions won't be recorded", "error", err)
			return
		}
		ffiStats = analytics.NewStatsManager(store, os.UserHomeDir)
	})
	return ffiStats
}

func decodeConfig(raw *C.char) (rangeengine.Config, error) {
	var wc wireConfig
	if err := json.Unmarshal([]byte(C.GoString(raw)), &wc); err != nil {
		return rangeengine.Config{}, &rangeengine.ConfigError{Reason: err.Error()}
	}
	tasks := make([]downloader.Task, len(wc.Tasks))
	for i, t := range wc.Tasks {
		tasks[i] = downloader.Task{URL: t.URL, SavePath: t.SavePath, ID: t.ID, ShowName: t.ShowName}
	}

	var onComplete func(int64)
	if sm := statsManager(); sm != nil {
		onComplete = sm.RecordCompletion
	}

	var limiter *bandwidth.BandwidthManager
	if wc.BandwidthLimitBps > 0 {
		limiter = bandwidth.NewBandwidthManager()
		limiter.SetLimit(wc.BandwidthLimitBps)
	}

	return rangeengine.Config{
		Tasks: tasks,
		Options: rangeengine.Options{
			ThreadCount:      wc.ThreadCount,
			ChunkSizeMB:      wc.ChunkSizeMB,
			Logger:           ffiLogger,
			Allocator:        ffiAllocator,
			Scanner:          ffiScanner,
			OnComplete:       onComplete,
			BandwidthLimiter: limiter,
		},
	}, nil
}

// GetDownloader registers configJSON under a new session without
// starting it and returns the session id, or -1 on a malformed config.
// Mirrors export.rs's get_downloader.
//
//export GetDownloader
func GetDownloader(configJSON *C.char, callback C.tthsd_callback) C.int {
	cfg, err := decodeConfig(configJSON)
	if err != nil {
		return -1
	}
	id := registry.Global().Create(withCallback(cfg, callback))
	return C.int(id)
}

// StartDownload registers and immediately starts configJSON's first task,
// returning its new session id or -1 on error. Mirrors export.rs's
// start_download.
//
//export StartDownload
func StartDownload(configJSON *C.char, callback C.tthsd_callback) C.int {
	cfg, err := decodeConfig(configJSON)
	if err != nil {
		return -1
	}
	cfg = withCallback(cfg, callback)
	id, err := registry.Global().StartAndCreate(context.Background(), cfg)
	if err != nil {
		return -1
	}
	return C.int(id)
}

func withCallback(cfg rangeengine.Config, callback C.tthsd_callback) rangeengine.Config {
	if callback == nil {
		return cfg
	}
	// The callback is bound into the session's Fanout before the session
	// id exists; events identify their task by the task's own ID field,
	// not by the session id.
	cfg.Options.Fanout = fanout.New(ffiLogger, func(eventJSON, dataJSON string) {
		cEvent := C.CString(eventJSON)
		cData := C.CString(dataJSON)
		defer C.free(unsafe.Pointer(cEvent))
		defer C.free(unsafe.Pointer(cData))
		C.tthsd_invoke_callback(callback, cEvent, cData)
	})
	return cfg
}

// StartDownloadID starts session id's first task sequentially. Returns 0
// on success, -1 if id is unknown. Mirrors export.rs's start_download_id.
//
//export StartDownloadID
func StartDownloadID(id C.int) C.int {
	if err := registry.Global().Start(context.Background(), int32(id)); err != nil {
		return -1
	}
	return 0
}

// StartMultipleDownloadsID starts every task registered under id
// concurrently. Mirrors export.rs's start_multiple_downloads_id.
//
//export StartMultipleDownloadsID
func StartMultipleDownloadsID(id C.int) C.int {
	if err := registry.Global().StartMulti(context.Background(), int32(id)); err != nil {
		return -1
	}
	return 0
}

// PauseDownload pauses session id. Mirrors export.rs's pause_download.
//
//export PauseDownload
func PauseDownload(id C.int) C.int {
	if err := registry.Global().Pause(int32(id)); err != nil {
		return -1
	}
	return 0
}

// ResumeDownload resumes session id. Mirrors export.rs's resume_download.
//
//export ResumeDownload
func ResumeDownload(id C.int) C.int {
	if err := registry.Global().Resume(int32(id)); err != nil {
		return -1
	}
	return 0
}

// StopDownload cancels and deregisters session id. Mirrors export.rs's
// stop_download.
//
//export StopDownload
func StopDownload(id C.int) C.int {
	if err := registry.Global().Stop(int32(id)); err != nil {
		return -1
	}
	return 0
}

func main() {}
