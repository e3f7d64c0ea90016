// Package registry implements the Session Registry: a process-singleton
// map from an int32 session ID to the running download(s) behind it, plus
// the handful of control operations the FFI boundary exposes. Grounded on
// original_source/src/core/export.rs's
// Mutex<HashMap<i32, Arc<RwLock<HSDownloader>>>> plus its dedicated Tokio
// runtime, translated into native goroutines — Go needs no equivalent of
// a pinned worker runtime.
package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/TTHSDownloader/TTHSDNext/internal/dispatch"
	"github.com/TTHSDownloader/TTHSDNext/internal/downloader"
	"github.com/TTHSDownloader/TTHSDNext/internal/rangeengine"
	"github.com/TTHSDownloader/TTHSDNext/internal/status"
)

// Pauser is implemented by Downloaders that support pause/resume — in
// practice only *rangeengine.Engine. Protocol stub adapters simply don't
// satisfy it: Pause is a no-op for them, and Resume of a session whose
// downloaders include none that is paused returns an error.
type Pauser interface {
	Pause()
	Resume()
	IsPaused() bool
}

// session is one registered download, spanning one or more tasks.
//
// stopped guards the window between dispatch.New (which can block up to
// 800ms inside ProbeHTTP3) returning and its Downloader being recorded in
// downloaders: a Stop landing in that window would otherwise find a nil
// slot, cancel nothing, and let the goroutine go on to run an orphaned,
// unstoppable download to completion.
type session struct {
	id  int32
	cfg rangeengine.Config

	mu          sync.Mutex
	downloaders []downloader.Downloader
	started     bool
	stopped     bool
	wg          sync.WaitGroup
}

// Registry is the process-singleton session map. Never hold mu across
// I/O: every method below either mutates the map and returns, or looks up
// a session reference under the lock and then releases it before doing
// any blocking work.
type Registry struct {
	mu       sync.Mutex
	sessions map[int32]*session
	nextID   atomic.Int32
}

var (
	globalOnce sync.Once
	global     *Registry
)

// Global returns the process-wide registry, constructing it on first call.
func Global() *Registry {
	globalOnce.Do(func() {
		global = &Registry{sessions: make(map[int32]*session)}
	})
	return global
}

// Create registers cfg under a new session ID without starting anything,
// mirroring export.rs's get_downloader entry point.
func (r *Registry) Create(cfg rangeengine.Config) int32 {
	id := r.nextID.Add(1)

	s := &session{id: id, cfg: cfg}

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	return id
}

func (r *Registry) lookup(id int32) (*session, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil, &rangeengine.NotFoundError{ID: id}
	}
	return s, nil
}

// Start runs session id's first task only, sequentially — export.rs's
// start_download_id.
func (r *Registry) Start(ctx context.Context, id int32) error {
	s, err := r.lookup(id)
	if err != nil {
		return err
	}
	return s.startTasks(ctx, false)
}

// StartMulti runs every task registered under id concurrently rather than
// sequentially — export.rs's start_multiple_downloads_id.
func (r *Registry) StartMulti(ctx context.Context, id int32) error {
	s, err := r.lookup(id)
	if err != nil {
		return err
	}
	return s.startTasks(ctx, true)
}

// StartAndCreate registers cfg and immediately starts it, mirroring
// export.rs's combined start_download entry point.
func (r *Registry) StartAndCreate(ctx context.Context, cfg rangeengine.Config) (int32, error) {
	id := r.Create(cfg)
	if err := r.Start(ctx, id); err != nil {
		return id, err
	}
	return id, nil
}

func (s *session) startTasks(ctx context.Context, concurrent bool) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("session %d already started", s.id)
	}
	s.started = true

	tasks := s.cfg.Tasks
	if !concurrent && len(tasks) > 1 {
		tasks = tasks[:1]
	}
	s.downloaders = make([]downloader.Downloader, len(tasks))
	s.mu.Unlock()

	run := func(i int, task downloader.Task) {
		defer s.wg.Done()
		d := dispatch.New(ctx, rangeengine.Config{Tasks: []downloader.Task{task}, Options: s.cfg.Options})

		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			d.Cancel()
			return
		}
		s.downloaders[i] = d
		s.mu.Unlock()

		_ = d.Download(ctx, task)
	}

	if concurrent {
		for i, task := range tasks {
			s.wg.Add(1)
			go run(i, task)
		}
		return nil
	}

	if len(tasks) == 0 {
		return &rangeengine.ConfigError{Reason: "no tasks configured"}
	}
	s.wg.Add(1)
	go run(0, tasks[0])
	return nil
}

// Pause pauses every Downloader in session id that supports it.
func (r *Registry) Pause(id int32) error {
	s, err := r.lookup(id)
	if err != nil {
		return err
	}
	s.forEachPauser(func(p Pauser) { p.Pause() })
	return nil
}

// Resume resumes every paused Downloader in session id that supports
// pausing. Per spec §4.1, resuming a session with nothing currently
// paused is an error rather than a silent no-op.
func (r *Registry) Resume(id int32) error {
	s, err := r.lookup(id)
	if err != nil {
		return err
	}

	var anyPaused bool
	s.forEachPauser(func(p Pauser) {
		if p.IsPaused() {
			anyPaused = true
			p.Resume()
		}
	})
	if !anyPaused {
		return fmt.Errorf("session %d is not paused", id)
	}
	return nil
}

func (s *session) forEachPauser(fn func(Pauser)) {
	s.mu.Lock()
	downloaders := append([]downloader.Downloader(nil), s.downloaders...)
	s.mu.Unlock()

	for _, d := range downloaders {
		if p, ok := d.(Pauser); ok {
			fn(p)
		}
	}
}

// Stop cancels every Downloader in session id and removes it from the
// registry. The map mutation happens under the short-held lock; the
// cancellations themselves are non-blocking signals, not I/O.
//
// Setting stopped under the same lock that snapshots downloaders closes
// the race against a start still inside dispatch.New: that goroutine
// checks stopped under s.mu before ever recording its Downloader, so it
// either observes stopped==true and cancels itself, or this snapshot
// already includes it.
func (r *Registry) Stop(id int32) error {
	s, err := r.lookup(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.stopped = true
	downloaders := append([]downloader.Downloader(nil), s.downloaders...)
	s.mu.Unlock()

	for _, d := range downloaders {
		if d != nil {
			d.Cancel()
		}
	}

	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()

	return nil
}

// Snapshot returns the first task's current progress snapshot for id.
func (r *Registry) Snapshot(id int32) (*status.Snapshot, error) {
	s, err := r.lookup(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.downloaders) == 0 || s.downloaders[0] == nil {
		return nil, nil
	}
	return s.downloaders[0].Snapshot(), nil
}

// Snapshots returns every task's progress snapshot for id, for
// multi-task sessions.
func (r *Registry) Snapshots(id int32) ([]*status.Snapshot, error) {
	s, err := r.lookup(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*status.Snapshot, len(s.downloaders))
	for i, d := range s.downloaders {
		if d != nil {
			out[i] = d.Snapshot()
		}
	}
	return out, nil
}
