// Package downloader defines the Downloader capability set every protocol
// adapter implements, and BaseState, the shared bookkeeping adapters embed
// by composition rather than inheritance (spec §9 design note). Grounded
// on original_source/src/core/downloader_interface.rs.
package downloader

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TTHSDownloader/TTHSDNext/internal/status"
)

// Task is the immutable unit of work a Downloader is given, per spec §3's
// DownloadTask.
type Task struct {
	URL      string
	SavePath string
	ID       string
	ShowName string
}

// Downloader is the capability set every protocol adapter presents,
// dispatched to uniformly by the Session Registry regardless of scheme.
type Downloader interface {
	// Download runs the transfer to completion or until cancelled.
	Download(ctx context.Context, task Task) error
	// TypeName identifies the adapter, e.g. "http", "ftp".
	TypeName() string
	// Cancel sets the running flag false; the adapter must observe it
	// and abort promptly.
	Cancel()
	// Snapshot returns the current observable progress, or nil before
	// the download has started.
	Snapshot() *status.Snapshot
}

// BaseState holds the bookkeeping every adapter needs: size/progress
// counters, timing, and the cooperative running flag. Adapters embed a
// *BaseState value rather than inheriting from a base type.
type BaseState struct {
	running atomic.Bool

	mu            sync.RWMutex
	totalSize     int64
	downloaded    int64
	lastDownload  int64
	startTime     time.Time
}

// NewBaseState returns a BaseState marked running.
func NewBaseState() *BaseState {
	b := &BaseState{startTime: time.Now()}
	b.running.Store(true)
	return b
}

func (b *BaseState) Running() bool { return b.running.Load() }
func (b *BaseState) Cancel()       { b.running.Store(false) }

func (b *BaseState) SetTotalSize(n int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.totalSize = n
}

func (b *BaseState) AddDownloaded(n int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.downloaded += n
}

func (b *BaseState) Progress() (downloaded, total int64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.downloaded, b.totalSize
}

func (b *BaseState) Elapsed() time.Duration {
	return time.Since(b.startTime)
}
