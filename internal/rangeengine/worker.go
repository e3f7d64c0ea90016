package rangeengine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// chunkWorker owns an inclusive byte range [startPos, endPos]. startPos is
// fixed at creation; progress advances monotonically as bytes land on
// disk; endPos can shrink exactly once per steal when the supervisor
// reassigns this worker's unclaimed tail to a fresh worker (spec §4.3.2).
//
// stalled is this worker's own flag, set only by its own watcher goroutine
// and read only by its own runWorker — stall detection is per-worker, not
// engine-wide, so one slow peer never aborts its siblings.
type chunkWorker struct {
	startPos int64
	progress atomic.Int64
	endPos   atomic.Int64

	lastActivity atomic.Int64 // unix nano
	stalled      atomic.Bool
}

func newChunkWorker(start, end int64) *chunkWorker {
	w := &chunkWorker{startPos: start}
	w.progress.Store(start)
	w.endPos.Store(end)
	w.lastActivity.Store(time.Now().UnixNano())
	return w
}

func (w *chunkWorker) remaining() int64 {
	return w.endPos.Load() - w.progress.Load() + 1
}

func (w *chunkWorker) idleFor() time.Duration {
	return time.Since(time.Unix(0, w.lastActivity.Load()))
}

// run performs the ranged GET for the worker's current span and streams
// the body to file at the matching offsets. It returns cleanly (nil) both
// on natural completion and when the supervisor has shrunk endPos out
// from under it mid-stream — in the latter case the worker simply stops
// writing once it crosses the new boundary, per spec §4.3.2's "no
// forced cancellation on steal" design.
func (e *Engine) runWorker(ctx context.Context, w *chunkWorker) error {
	start := w.progress.Load()
	if start > w.endPos.Load() {
		return nil // already fully claimed away before the goroutine even ran
	}

	// workerCtx is derived from, not shared with, the engine's downloadCtx:
	// a stall cancels only this worker's own request, never a sibling's
	// (spec §4.3.4).
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()
	go e.watchWorkerStall(workerCtx, w, cancelWorker)

	req, err := http.NewRequestWithContext(workerCtx, http.MethodGet, e.task.URL, nil)
	if err != nil {
		return &NetworkError{URL: e.task.URL, Err: err}
	}
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, w.endPos.Load()))
	req.Header.Set("Accept-Encoding", "identity")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := e.client.Do(req)
	if err != nil {
		return &NetworkError{URL: e.task.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return &NetworkError{URL: e.task.URL, StatusCode: resp.StatusCode}
	}

	body := io.Reader(resp.Body)
	if e.opts.BandwidthLimiter != nil {
		body = e.opts.BandwidthLimiter.Wrap(workerCtx, e.task.ID, body)
	}

	currentPos := start
	var localDownloaded int64
	buf := make([]byte, readBufferSize)

	flush := func() {
		if localDownloaded == 0 {
			return
		}
		e.status.AddDownloaded(localDownloaded)
		e.monitor.AddBytes(localDownloaded)
		localDownloaded = 0
	}

	for {
		if !e.base.Running() {
			flush()
			return nil
		}
		e.waitIfPaused()

		n, readErr := body.Read(buf)
		if n > 0 {
			end := w.endPos.Load()
			writeLen := n
			if currentPos+int64(n)-1 > end {
				writeLen = int(end + 1 - currentPos)
				if writeLen < 0 {
					writeLen = 0
				}
			}

			if writeLen > 0 {
				if _, err := e.file.WriteAt(buf[:writeLen], currentPos); err != nil {
					flush()
					return &WriteError{Offset: currentPos, Err: err}
				}
				currentPos += int64(writeLen)
				localDownloaded += int64(writeLen)
				w.progress.Store(currentPos)
				w.lastActivity.Store(time.Now().UnixNano())
			}

			if localDownloaded >= batchUpdateThreshold {
				flush()
			}

			if writeLen < n {
				// Crossed the post-steal boundary; this worker's span is done.
				flush()
				return nil
			}
		}

		if readErr == io.EOF {
			flush()
			return nil
		}
		if readErr != nil {
			flush()
			if workerCtx.Err() != nil {
				if w.stalled.Load() {
					return &StallError{WorkerStart: w.startPos, Idle: e.stallTimeout.String()}
				}
				return nil // cooperative cancel (Stop/Cancel or a FailFast abort), not a stall
			}
			return &NetworkError{URL: e.task.URL, Err: readErr}
		}
	}
}

// watchWorkerStall runs for the lifetime of a single worker, cancelling
// only that worker's own derived context if it goes quiet past the stall
// timeout. Per spec §4.3.4, this timeout-based abort is the sole exception
// to "never force-cancel an in-flight read", and it is scoped to the one
// worker that stalled — ground truth is
// original_source/src/core/http_downloader.rs's download_chunk_dynamic,
// which spawns an independent stall detector per chunk rather than one
// shared across the whole download.
func (e *Engine) watchWorkerStall(ctx context.Context, w *chunkWorker, cancel context.CancelFunc) {
	ticker := time.NewTicker(stallCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.remaining() > 0 && w.idleFor() > e.stallTimeout {
				w.stalled.Store(true)
				cancel()
				return
			}
		}
	}
}
