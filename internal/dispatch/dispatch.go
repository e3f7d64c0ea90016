// Package dispatch implements the Protocol Dispatcher: pure scheme
// detection followed by a factory returning a Downloader, plus the
// optional HTTP/3 Alt-Svc capability probe. Grounded on
// original_source/src/core/get_downloader.rs.
package dispatch

import (
	"context"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"github.com/TTHSDownloader/TTHSDNext/internal/congestion"
	"github.com/TTHSDownloader/TTHSDNext/internal/downloader"
	"github.com/TTHSDownloader/TTHSDNext/internal/httpclient"
	"github.com/TTHSDownloader/TTHSDNext/internal/rangeengine"
)

// Protocol is the scheme tag detect_scheme resolves a URL to.
type Protocol string

const (
	ProtocolHTTP       Protocol = "http"
	ProtocolHTTP3      Protocol = "http3"
	ProtocolFTP        Protocol = "ftp"
	ProtocolSFTP       Protocol = "sftp"
	ProtocolBitTorrent Protocol = "bittorrent"
	ProtocolEd2k       Protocol = "ed2k"
	ProtocolMetalink   Protocol = "metalink"
	ProtocolUnknown    Protocol = "unknown"
)

// DetectScheme is a total function: every URL maps to a Protocol, case
// insensitively on the scheme, with Unknown falling back to HTTP at
// dispatch time (spec §4.2, §8.6). First match wins.
func DetectScheme(url string) Protocol {
	lower := strings.ToLower(url)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return ProtocolHTTP
	case strings.HasPrefix(lower, "ftp://"), strings.HasPrefix(lower, "ftps://"):
		return ProtocolFTP
	case strings.HasPrefix(lower, "sftp://"):
		return ProtocolSFTP
	case strings.HasPrefix(lower, "magnet:"), strings.HasSuffix(lower, ".torrent"):
		return ProtocolBitTorrent
	case strings.HasPrefix(lower, "ed2k://"):
		return ProtocolEd2k
	case strings.HasSuffix(lower, ".metalink"), strings.HasSuffix(lower, ".meta4"):
		return ProtocolMetalink
	default:
		return ProtocolUnknown
	}
}

// h3ProbeBudget is the hard timeout for the Alt-Svc capability probe,
// per spec §4.2.
const h3ProbeBudget = 800 * time.Millisecond

// ProbeHTTP3 issues a HEAD request with an 800ms budget and reports
// whether the response's Alt-Svc header advertises h3 support. Probe
// failure of any kind (timeout, connection error, non-2xx) is never
// fatal: it simply yields false.
func ProbeHTTP3(ctx context.Context, url string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, h3ProbeBudget)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", httpclient.UserAgent)

	resp, err := httpclient.Shared().Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}

	altSvc := strings.ToLower(resp.Header.Get("Alt-Svc"))
	return strings.Contains(altSvc, "h3=") || strings.Contains(altSvc, "h3-")
}

// New constructs the Downloader appropriate for the first task's URL.
// Unknown schemes fall back to the HTTP Range Engine, never erroring at
// dispatch time (spec §4.2).
func New(ctx context.Context, rangeCfg rangeengine.Config) downloader.Downloader {
	url := ""
	if len(rangeCfg.Tasks) > 0 {
		url = rangeCfg.Tasks[0].URL
	}

	switch DetectScheme(url) {
	case ProtocolHTTP:
		if url != "" && ProbeHTTP3(ctx, url) {
			return downloader.NewHTTP3Downloader()
		}
		applyCongestionDefault(&rangeCfg.Options, url)
		return rangeengine.NewEngine(rangeCfg)
	case ProtocolFTP:
		return downloader.NewFTPDownloader()
	case ProtocolSFTP:
		return downloader.NewSFTPDownloader()
	case ProtocolBitTorrent:
		return downloader.NewTorrentDownloader()
	case ProtocolEd2k:
		return downloader.NewED2KDownloader()
	case ProtocolMetalink:
		return downloader.NewMetalinkDownloader()
	default:
		applyCongestionDefault(&rangeCfg.Options, url)
		return rangeengine.NewEngine(rangeCfg)
	}
}

// applyCongestionDefault pre-sizes the Range Engine's worker count from the
// AIMD congestion controller's per-host estimate when the caller left
// ThreadCount unset (spec §4.9). An explicit caller value always wins; the
// engine's own flat 2xCPU fallback only applies when the host has never
// been observed.
func applyCongestionDefault(opts *rangeengine.Options, rawURL string) {
	if opts.ThreadCount > 0 || rawURL == "" {
		return
	}
	u, err := neturl.Parse(rawURL)
	if err != nil || u.Host == "" {
		return
	}
	cc := congestion.Global()
	if cc.GetHostStats(u.Host) == nil {
		return
	}
	if ideal := cc.GetIdealConcurrency(u.Host); ideal > 0 {
		opts.ThreadCount = ideal
	}
}
