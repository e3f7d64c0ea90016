package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/TTHSDownloader/TTHSDNext/internal/downloader"
	"github.com/TTHSDownloader/TTHSDNext/internal/rangeengine"
)

func TestDetectSchemeCaseInsensitive(t *testing.T) {
	cases := map[string]Protocol{
		"HTTP://example.com/a.bin":   ProtocolHTTP,
		"HTTPS://example.com/a.bin":  ProtocolHTTP,
		"Ftp://example.com/a":        ProtocolFTP,
		"FTPS://example.com/a":       ProtocolFTP,
		"SFTP://example.com/a":       ProtocolSFTP,
		"magnet:?xt=urn:btih:abc":    ProtocolBitTorrent,
		"file.TORRENT":               ProtocolBitTorrent,
		"ED2K://server|file|123|":    ProtocolEd2k,
		"file.METALINK":              ProtocolMetalink,
		"file.meta4":                 ProtocolMetalink,
		"gopher://example.com/x":     ProtocolUnknown,
	}

	for url, want := range cases {
		if got := DetectScheme(url); got != want {
			t.Errorf("DetectScheme(%q) = %q, want %q", url, got, want)
		}
	}
}

func TestUnknownSchemeFallsBackToHTTPEngine(t *testing.T) {
	// Spec §8.6: an unrecognized scheme must still dispatch to the HTTP
	// Range Engine rather than erroring at dispatch time.
	if DetectScheme("gopher://example.com/x") != ProtocolUnknown {
		t.Fatal("expected unknown scheme classification")
	}
	d := New(context.Background(), rangeengine.Config{Tasks: []downloader.Task{{URL: "gopher://example.com/x"}}})
	if _, ok := d.(*rangeengine.Engine); !ok {
		t.Fatalf("expected *rangeengine.Engine for an unknown scheme, got %T", d)
	}
}

func TestProbeHTTP3FalseOnMissingAltSvc(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if ProbeHTTP3(context.Background(), srv.URL) {
		t.Fatal("expected false when Alt-Svc is absent")
	}
}

func TestProbeHTTP3TrueWhenAltSvcAdvertisesH3(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Alt-Svc", `h3=":443"; ma=86400`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if !ProbeHTTP3(context.Background(), srv.URL) {
		t.Fatal("expected true when Alt-Svc advertises h3")
	}
}

func TestProbeHTTP3FalseOnUnreachableHost(t *testing.T) {
	if ProbeHTTP3(context.Background(), "http://127.0.0.1:1") {
		t.Fatal("expected probe failure to be non-fatal and report false")
	}
}
