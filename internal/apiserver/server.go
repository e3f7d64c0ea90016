// Package apiserver implements the Control Plane HTTP API (spec §4.7): a
// loopback-bound, token-authenticated JSON surface over the Session
// Registry, the Performance Monitor, analytics and on-demand speed
// testing. Grounded directly on the teacher's internal/api/server.go,
// carried forward chi route-for-route with the domain swapped from task
// queueing to the Session Registry's session IDs.
package apiserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/TTHSDownloader/TTHSDNext/internal/analytics"
	"github.com/TTHSDownloader/TTHSDNext/internal/bandwidth"
	"github.com/TTHSDownloader/TTHSDNext/internal/config"
	"github.com/TTHSDownloader/TTHSDNext/internal/downloader"
	"github.com/TTHSDownloader/TTHSDNext/internal/fanout"
	"github.com/TTHSDownloader/TTHSDNext/internal/filesystem"
	"github.com/TTHSDownloader/TTHSDNext/internal/monitor"
	"github.com/TTHSDownloader/TTHSDNext/internal/rangeengine"
	"github.com/TTHSDownloader/TTHSDNext/internal/registry"
	"github.com/TTHSDownloader/TTHSDNext/internal/security"
	"github.com/TTHSDownloader/TTHSDNext/internal/speedtest"
)

// Server is the control-plane HTTP API. It is deliberately loopback-only:
// the Session Registry has no concept of multi-tenant auth beyond the
// single shared token spec §6 describes.
type Server struct {
	registry  *registry.Registry
	cfg       *config.ConfigManager
	audit     *security.AuditLogger
	stats     *analytics.StatsManager
	allocator *filesystem.PreAllocator
	scanner   security.Scanner
	logger    *slog.Logger
	router    *chi.Mux
}

// New builds the control-plane API server. allocator, scanner, and
// logger may be nil; when nil, sessions created through this server skip
// pre-allocation/AV-scan and log nothing beyond chi's request logger.
func New(reg *registry.Registry, cfg *config.ConfigManager, audit *security.AuditLogger, stats *analytics.StatsManager, allocator *filesystem.PreAllocator, scanner security.Scanner, logger *slog.Logger) *Server {
	s := &Server{
		registry:  reg,
		cfg:       cfg,
		audit:     audit,
		stats:     stats,
		allocator: allocator,
		scanner:   scanner,
		logger:    logger,
		router:    chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// Start binds the loopback listener and serves in the background. It
// never blocks the caller, matching the rest of this engine's
// fire-and-forget-goroutine idiom.
func (s *Server) Start() error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.GetControlPort())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("control server failed to bind %s: %w", addr, err)
	}

	go func() {
		_ = http.Serve(ln, s.router)
	}()
	return nil
}

// Router exposes the underlying handler for tests and for embedding
// behind a different listener than Start's own loopback bind.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.authMiddleware)

	s.router.Post("/api/v1/downloads", s.handleCreateDownload)
	s.router.Get("/api/v1/downloads/{id}", s.handleGetDownload)
	s.router.Post("/api/v1/downloads/{id}/pause", s.handleControl("pause"))
	s.router.Post("/api/v1/downloads/{id}/resume", s.handleControl("resume"))
	s.router.Post("/api/v1/downloads/{id}/stop", s.handleControl("stop"))
	s.router.Get("/api/v1/speedtest", s.handleSpeedTest)
	s.router.Get("/api/v1/stats", s.handleStats)
}

// authMiddleware enforces loopback origin plus the shared bearer token,
// auditing every request the way the teacher's securityMiddleware does.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sourceIP, _, _ := net.SplitHostPort(r.RemoteAddr)
		action := fmt.Sprintf("%s %s", r.Method, r.URL.Path)

		if sourceIP != "127.0.0.1" && sourceIP != "::1" && sourceIP != "" {
			s.audit.Log(sourceIP, r.UserAgent(), action, http.StatusForbidden, "external access denied")
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		if r.Header.Get("X-TTHSD-Token") != s.cfg.GetControlToken() {
			s.audit.Log(sourceIP, r.UserAgent(), action, http.StatusUnauthorized, "invalid token")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		s.audit.Log(sourceIP, r.UserAgent(), action, http.StatusOK, "authorized")
		next.ServeHTTP(w, r)
	})
}

// RemoteSinks mirrors spec §3's DownloadConfig.remote_sinks: optional
// WebSocket and line-delimited TCP observer endpoints a caller can ask
// this session's lifecycle events to be fanned out to, in addition to
// whatever in-process listener reads the HTTP response.
type RemoteSinks struct {
	WebSocket string `json:"websocket,omitempty"`
	Socket    string `json:"socket,omitempty"`
}

// CreateDownloadRequest mirrors spec §3's DownloadConfig, trimmed to what
// the wire API accepts.
type CreateDownloadRequest struct {
	Tasks             []downloader.Task `json:"tasks"`
	ThreadCount       int               `json:"thread_count"`
	ChunkSizeMB       int               `json:"chunk_size_mb"`
	IsMultiple        bool              `json:"is_multiple"`
	RemoteSinks       RemoteSinks       `json:"remote_sinks"`
	BandwidthLimitBps int               `json:"bandwidth_limit_bps"`
}

type CreateDownloadResponse struct {
	ID int32 `json:"id"`
}

func (s *Server) handleCreateDownload(w http.ResponseWriter, r *http.Request) {
	var req CreateDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Tasks) == 0 {
		http.Error(w, "at least one task is required", http.StatusBadRequest)
		return
	}

	cfg := rangeengine.Config{
		Tasks: req.Tasks,
		Options: rangeengine.Options{
			ThreadCount:      req.ThreadCount,
			ChunkSizeMB:      req.ChunkSizeMB,
			UserAgent:        s.cfg.GetUserAgent(),
			EnableScan:       s.cfg.GetEnableAVScan(),
			Logger:           s.logger,
			Allocator:        s.allocator,
			Scanner:          s.scanner,
			Fanout:           s.buildFanout(req.RemoteSinks),
			OnComplete:       s.stats.RecordCompletion,
			BandwidthLimiter: buildBandwidthLimiter(req.BandwidthLimitBps),
		},
	}

	id := s.registry.Create(cfg)

	var err error
	if req.IsMultiple {
		err = s.registry.StartMulti(r.Context(), id)
	} else {
		err = s.registry.Start(r.Context(), id)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	_ = json.NewEncoder(w).Encode(CreateDownloadResponse{ID: id})
}

func (s *Server) handleGetDownload(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	snaps, err := s.registry.Snapshots(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	_ = json.NewEncoder(w).Encode(snaps)
}

func (s *Server) handleControl(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		switch action {
		case "pause":
			err = s.registry.Pause(id)
		case "resume":
			err = s.registry.Resume(id)
		case "stop":
			err = s.registry.Stop(id)
		}

		if err != nil {
			if _, ok := err.(*rangeengine.NotFoundError); ok {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// buildBandwidthLimiter returns a limiter capped at bps, or nil when the
// caller didn't ask for one — the Range Engine leaves workers unthrottled
// by default (spec §4.9).
func buildBandwidthLimiter(bps int) *bandwidth.BandwidthManager {
	if bps <= 0 {
		return nil
	}
	bm := bandwidth.NewBandwidthManager()
	bm.SetLimit(bps)
	return bm
}

// buildFanout wires up a Fanout for one session if the caller asked for
// any remote sinks; it returns nil when neither was requested, matching
// spec §4.6's "zero or more remote sinks" (a bare Options.Fanout of nil
// is handled by Engine.emit as "no fanout configured").
func (s *Server) buildFanout(sinks RemoteSinks) *fanout.Fanout {
	if sinks.WebSocket == "" && sinks.Socket == "" {
		return nil
	}

	logger := s.logger
	if logger == nil {
		logger = slog.Default()
	}

	var active []fanout.Sink
	if sinks.WebSocket != "" {
		active = append(active, fanout.NewWebSocketSink(logger, fanout.NormalizeWebSocketURL(sinks.WebSocket)))
	}
	if sinks.Socket != "" {
		active = append(active, fanout.NewTCPSink(logger, sinks.Socket))
	}
	return fanout.New(logger, nil, active...)
}

func (s *Server) handleSpeedTest(w http.ResponseWriter, r *http.Request) {
	result, err := speedtest.RunSpeedTest()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	_ = json.NewEncoder(w).Encode(result)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Analytics analytics.AnalyticsData `json:"analytics"`
		Monitor   monitor.Stats           `json:"monitor"`
	}{
		Analytics: s.stats.GetAnalytics(),
		Monitor:   monitor.Global().GetStats(),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func parseID(raw string) (int32, error) {
	var id int32
	_, err := fmt.Sscanf(raw, "%d", &id)
	if err != nil {
		return 0, fmt.Errorf("invalid session id %q", raw)
	}
	return id, nil
}
