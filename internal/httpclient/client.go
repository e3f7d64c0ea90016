// Package httpclient provides the process-wide, lazily-initialised Shared
// HTTP Client singleton every protocol adapter obtains connections
// through, per spec §4.3.7. Grounded on the teacher's
// internal/engine/manager.go transport configuration, extended with the
// spec's explicit 15s connect timeout.
package httpclient

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// UserAgent is the Chrome-133-class browser fingerprint this engine
// presents on every request, matching spec §4.3.3's header requirement.
const UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36"

var (
	once   sync.Once
	client *http.Client
)

// Shared returns the process-wide HTTP client, constructing it on first
// call with a browser-fingerprint-class transport: 15s connect timeout,
// 90s idle timeout, 32 max idle connections per host, 30s TCP keep-alive.
func Shared() *http.Client {
	once.Do(func() {
		dialer := &net.Dialer{
			Timeout:   15 * time.Second,
			KeepAlive: 30 * time.Second,
		}
		transport := &http.Transport{
			DialContext:         dialer.DialContext,
			MaxIdleConns:        256,
			MaxIdleConnsPerHost: 32,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		}
		client = &http.Client{Transport: transport}
	})
	return client
}
