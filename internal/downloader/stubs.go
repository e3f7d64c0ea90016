package downloader

import (
	"context"
	"fmt"

	"github.com/TTHSDownloader/TTHSDNext/internal/status"
)

// The adapters below satisfy the Downloader capability set for protocols
// whose wire internals are out of scope for this engine (spec §1):
// FTP/FTPS, SFTP, BitTorrent/magnet, ED2K (via HTTP gateway), and
// Metalink. Each embeds *BaseState by composition, per spec §9, and each
// is a deliberately thin stub — a production build would delegate to a
// protocol-specific library, but the engine only needs them to exist
// behind the uniform Downloader contract so the Protocol Dispatcher's
// routing is exercised end to end.

type stubAdapter struct {
	*BaseState
	typeName string
	status   *status.Status
}

func newStub(typeName string) *stubAdapter {
	return &stubAdapter{BaseState: NewBaseState(), typeName: typeName}
}

func (s *stubAdapter) TypeName() string { return s.typeName }

func (s *stubAdapter) Snapshot() *status.Snapshot {
	if s.status == nil {
		return nil
	}
	snap := s.status.Snapshot(0, 0)
	return &snap
}

func (s *stubAdapter) Download(ctx context.Context, task Task) error {
	s.status = status.New(0)
	if !s.Running() {
		return fmt.Errorf("%s: cancelled before start", s.typeName)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return fmt.Errorf("%s: adapter for %q is not implemented by this build", s.typeName, task.URL)
}

// FTPDownloader handles ftp:// and ftps:// targets.
type FTPDownloader struct{ *stubAdapter }

func NewFTPDownloader() *FTPDownloader { return &FTPDownloader{newStub("ftp")} }

// SFTPDownloader handles sftp:// targets.
type SFTPDownloader struct{ *stubAdapter }

func NewSFTPDownloader() *SFTPDownloader { return &SFTPDownloader{newStub("sftp")} }

// TorrentDownloader handles magnet: links and .torrent files.
type TorrentDownloader struct{ *stubAdapter }

func NewTorrentDownloader() *TorrentDownloader { return &TorrentDownloader{newStub("bittorrent")} }

// ED2KDownloader handles ed2k:// links via an HTTP gateway.
type ED2KDownloader struct{ *stubAdapter }

func NewED2KDownloader() *ED2KDownloader { return &ED2KDownloader{newStub("ed2k")} }

// MetalinkDownloader handles .metalink/.meta4 manifests.
type MetalinkDownloader struct{ *stubAdapter }

func NewMetalinkDownloader() *MetalinkDownloader { return &MetalinkDownloader{newStub("metalink")} }

// HTTP3Downloader handles QUIC/HTTP3 targets discovered via the
// dispatcher's Alt-Svc probe.
type HTTP3Downloader struct{ *stubAdapter }

func NewHTTP3Downloader() *HTTP3Downloader { return &HTTP3Downloader{newStub("http3")} }
