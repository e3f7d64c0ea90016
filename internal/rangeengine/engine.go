// Package rangeengine implements the HTTP Range Engine: parallel,
// dynamically re-sharded chunked downloading over a single HTTP(S) URL.
// Grounded on original_source/src/core/http_downloader.rs, carrying the
// teacher's context.Context/slog idiom rather than its Rust async runtime.
package rangeengine

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/TTHSDownloader/TTHSDNext/internal/congestion"
	"github.com/TTHSDownloader/TTHSDNext/internal/downloader"
	"github.com/TTHSDownloader/TTHSDNext/internal/fanout"
	"github.com/TTHSDownloader/TTHSDNext/internal/httpclient"
	"github.com/TTHSDownloader/TTHSDNext/internal/monitor"
	"github.com/TTHSDownloader/TTHSDNext/internal/status"
)

// Config is what dispatch.New and the Session Registry build against: a
// task list plus the Options every task in the list shares. An Engine
// only ever drives one task — fanning a multi-task DownloadConfig out
// across one Engine per task is the Session Registry's job (spec §4.1's
// sequential-vs-concurrent distinction).
type Config struct {
	Tasks   []downloader.Task
	Options Options
}

// NewEngine builds an Engine ready to download Tasks[0]. Callers that
// need every task downloaded construct one Engine per task.
func NewEngine(cfg Config) *Engine {
	var task downloader.Task
	if len(cfg.Tasks) > 0 {
		task = cfg.Tasks[0]
	}
	return &Engine{
		opts:      cfg.Options,
		base:      downloader.NewBaseState(),
		monitor:   monitor.Global(),
		client:    httpclient.Shared(),
		task:      task,
		userAgent: cfg.Options.userAgent(httpclient.UserAgent),
	}
}

// Engine is the HTTP Range Engine. It implements downloader.Downloader.
type Engine struct {
	opts Options

	base    *downloader.BaseState
	status  *status.Status
	monitor *monitor.Monitor
	client  *http.Client

	task      downloader.Task
	userAgent string
	host      string

	file *os.File

	workersMu sync.Mutex
	workers   []*chunkWorker

	stallTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	pauseMu   sync.Mutex
	pauseCond *sync.Cond
	paused    bool
}

func (e *Engine) TypeName() string { return "http" }

func (e *Engine) Cancel() {
	e.base.Cancel()
	if e.cancel != nil {
		e.cancel()
	}
	e.Resume() // unblock any worker parked in waitIfPaused
}

func (e *Engine) Snapshot() *status.Snapshot {
	if e.status == nil {
		return nil
	}
	stats := e.monitor.GetStats()
	snap := e.status.Snapshot(stats.CurrentSpeedBps, stats.AverageSpeedBps)
	return &snap
}

// Pause blocks every worker at its next read-loop iteration until Resume
// is called. Grounded on the teacher's internal/queue.go sync.Cond usage.
func (e *Engine) Pause() {
	e.pauseMu.Lock()
	e.paused = true
	e.pauseMu.Unlock()
	e.emit(fanout.EventPaused, nil)
}

func (e *Engine) Resume() {
	e.pauseMu.Lock()
	e.paused = false
	e.pauseMu.Unlock()
	if e.pauseCond != nil {
		e.pauseCond.Broadcast()
	}
	e.emit(fanout.EventResumed, nil)
}

func (e *Engine) IsPaused() bool {
	e.pauseMu.Lock()
	defer e.pauseMu.Unlock()
	return e.paused
}

func (e *Engine) waitIfPaused() {
	e.pauseMu.Lock()
	defer e.pauseMu.Unlock()
	for e.paused && e.base.Running() {
		e.pauseCond.Wait()
	}
}

func (e *Engine) emit(t fanout.EventType, data map[string]any) {
	if e.opts.Fanout == nil {
		return
	}
	e.opts.Fanout.Send(fanout.Event{
		EventType: t,
		Name:      e.task.URL,
		ShowName:  e.task.ShowName,
		ID:        e.task.ID,
	}, data)
}

// Download runs preflight, partitions the file, spawns the initial
// workers and runs the work-stealing supervisor loop until every byte is
// accounted for, per spec §4.3.
func (e *Engine) Download(ctx context.Context, task downloader.Task) error {
	e.task = task
	if e.userAgent == "" {
		e.userAgent = e.opts.userAgent(httpclient.UserAgent)
	}
	if u, err := url.Parse(task.URL); err == nil {
		e.host = u.Host
	}
	e.pauseCond = sync.NewCond(&e.pauseMu)
	e.stallTimeout = e.opts.stallTimeout()

	downloadCtx, cancel := context.WithCancel(ctx)
	e.ctx = downloadCtx
	e.cancel = cancel
	defer cancel()

	fileSize, err := e.preflight(downloadCtx)
	if err != nil {
		return err
	}

	e.status = status.New(fileSize)
	e.base.SetTotalSize(fileSize)
	e.emit(fanout.EventStart, map[string]any{"total_size": fileSize})

	if err := e.openFile(task.SavePath, fileSize); err != nil {
		e.status.SetError(err.Error())
		e.emit(fanout.EventErr, map[string]any{"error": err.Error()})
		return err
	}
	defer e.file.Close()

	chunkSize, numChunks := partition(fileSize, e.opts.threadCount(), e.opts.chunkSizeBytes())
	e.seedWorkers(fileSize, chunkSize, numChunks)

	if err := e.runSupervisor(downloadCtx); err != nil {
		e.status.SetError(err.Error())
		e.emit(fanout.EventErr, map[string]any{"error": err.Error()})
		return err
	}

	if !e.base.Running() {
		// Cancelled/stopped mid-flight; not a completion.
		e.emit(fanout.EventStopped, nil)
		return nil
	}

	downloaded := e.status.Downloaded()
	if downloaded != fileSize {
		err := &IntegrityError{Expected: fileSize, Actual: downloaded}
		e.status.SetError(err.Error())
		e.emit(fanout.EventErr, map[string]any{"error": err.Error()})
		return err
	}

	if e.opts.EnableScan && e.opts.Scanner != nil {
		if scanErr := e.opts.Scanner.ScanFile(downloadCtx, task.SavePath); scanErr != nil {
			e.status.SetError(scanErr.Error())
			e.emit(fanout.EventErr, map[string]any{"error": scanErr.Error()})
			return scanErr
		}
	}

	if e.opts.OnComplete != nil {
		e.opts.OnComplete(fileSize)
	}
	e.emit(fanout.EventComplete, map[string]any{"total_size": fileSize})
	return nil
}

func (e *Engine) seedWorkers(fileSize, chunkSize, numChunks int64) {
	e.workersMu.Lock()
	defer e.workersMu.Unlock()

	e.workers = e.workers[:0]
	var pos int64
	for i := int64(0); i < numChunks && pos < fileSize; i++ {
		end := pos + chunkSize - 1
		if end >= fileSize {
			end = fileSize - 1
		}
		e.workers = append(e.workers, newChunkWorker(pos, end))
		pos = end + 1
	}
}

type workerResult struct {
	idx int
	err error
}

// runSupervisor drives the work-stealing loop: every time a worker
// finishes, it looks for the worker with the most remaining bytes and, if
// that remainder clears minReassignSize and there is spare capacity under
// maxConnections, shrinks the victim's tail and spawns a fresh worker to
// claim it (spec §4.3.2).
func (e *Engine) runSupervisor(ctx context.Context) error {
	resultCh := make(chan workerResult)

	e.workersMu.Lock()
	active := len(e.workers)
	for i, w := range e.workers {
		go func(i int, w *chunkWorker) {
			resultCh <- workerResult{idx: i, err: e.runWorkerTracked(ctx, w)}
		}(i, w)
	}
	e.workersMu.Unlock()

	var firstErr error
	for active > 0 {
		res := <-resultCh
		active--

		if res.err != nil {
			e.monitor.AddFailedChunk()
			if firstErr == nil {
				firstErr = res.err
			}
			if e.opts.FailFast {
				e.cancel()
				continue
			}
		} else {
			e.monitor.AddChunkDownload()
		}

		if !e.base.Running() || ctx.Err() != nil {
			continue
		}

		e.workersMu.Lock()
		if active < maxConnections {
			if victim := e.pickVictimLocked(); victim != nil {
				newWorker := e.stealLocked(victim)
				if newWorker != nil {
					e.workers = append(e.workers, newWorker)
					active++
					go func(w *chunkWorker) {
						resultCh <- workerResult{idx: -1, err: e.runWorkerTracked(ctx, w)}
					}(newWorker)
				}
			}
		}
		e.workersMu.Unlock()
	}

	if firstErr != nil && e.opts.FailFast {
		return firstErr
	}
	return nil
}

// runWorkerTracked wraps runWorker with a latency/outcome report into the
// process-wide congestion controller, so a later download against the same
// host benefits from what this chunk observed (spec §4.9).
func (e *Engine) runWorkerTracked(ctx context.Context, w *chunkWorker) error {
	started := time.Now()
	err := e.runWorker(ctx, w)
	if e.host != "" {
		congestion.Global().RecordOutcome(e.host, time.Since(started), err)
	}
	return err
}

// pickVictimLocked returns the worker with the greatest remaining span,
// first-encountered wins on ties. Callers must hold workersMu.
func (e *Engine) pickVictimLocked() *chunkWorker {
	var best *chunkWorker
	var bestRemaining int64
	for _, w := range e.workers {
		r := w.remaining()
		if r > bestRemaining {
			best = w
			bestRemaining = r
		}
	}
	if best == nil || bestRemaining < minReassignSize {
		return nil
	}
	return best
}

// stealLocked shrinks victim's endPos to the midpoint of its remaining
// span and returns a new worker owning the freed upper half. Callers must
// hold workersMu.
func (e *Engine) stealLocked(victim *chunkWorker) *chunkWorker {
	progress := victim.progress.Load()
	end := victim.endPos.Load()
	mid := progress + (end-progress)/2
	if mid <= progress || mid >= end {
		return nil
	}
	victim.endPos.Store(mid)
	return newChunkWorker(mid+1, end)
}

// preflight issues a HEAD request and requires a positive Content-Length,
// per spec §4.3.1. Probe failure is fatal here, unlike the dispatcher's
// best-effort HTTP/3 probe.
func (e *Engine) preflight(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, e.task.URL, nil)
	if err != nil {
		return 0, &PreflightError{URL: e.task.URL, Err: err}
	}
	req.Header.Set("User-Agent", e.userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, &PreflightError{URL: e.task.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, &PreflightError{URL: e.task.URL, Err: fmt.Errorf("HEAD returned status %d", resp.StatusCode)}
	}
	if resp.ContentLength <= 0 {
		return 0, &PreflightError{URL: e.task.URL, Err: fmt.Errorf("missing or non-positive Content-Length")}
	}
	return resp.ContentLength, nil
}

// openFile creates the destination file and attempts pre-allocation. A
// failed pre-allocation on a file larger than the FAT32 4 GiB ceiling is
// treated as that specific, user-actionable error; any other
// pre-allocation failure is logged and tolerated, falling back to a plain
// (non-pre-allocated) file per spec §4.3.1's edge case.
func (e *Engine) openFile(path string, size int64) error {
	if e.opts.Allocator != nil {
		if err := e.opts.Allocator.AllocateFile(path, size); err != nil {
			if size > fat32MaxFileSize {
				return &FilesystemLimitError{Path: path, FileSize: size}
			}
			if e.opts.Logger != nil {
				e.opts.Logger.Warn("rangeengine: pre-allocation failed, continuing without it", "path", path, "error", err)
			}
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return &PreflightError{URL: e.task.URL, Err: err}
	}
	e.file = f
	return nil
}

var _ downloader.Downloader = (*Engine)(nil)
