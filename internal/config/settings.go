// Package config manages settings for the control-plane API and the range
// engine's defaults, backed by the same key-value settings table the rest
// of the process uses for ambient state.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"

	"github.com/TTHSDownloader/TTHSDNext/internal/storage"
)

// Keys for AppSettings in DB.
const (
	KeyControlToken       = "control_token"
	KeyControlPort        = "control_port"
	KeyEnableAVScan       = "enable_av_scan"
	KeyUserAgent          = "user_agent"
	KeyDefaultThreadCount = "default_thread_count"
	KeyDefaultChunkSizeMB = "default_chunk_size_mb"
	KeyStallTimeoutSec    = "stall_timeout_sec"
)

// ConfigManager reads and writes engine-wide settings.
type ConfigManager struct {
	storage *storage.Storage
}

func NewConfigManager(s *storage.Storage) *ConfigManager {
	return &ConfigManager{storage: s}
}

func (c *ConfigManager) GetControlPort() int {
	return c.getIntOr(KeyControlPort, 4444)
}

func (c *ConfigManager) SetControlPort(port int) error {
	return c.storage.SetString(KeyControlPort, strconv.Itoa(port))
}

// GetControlToken returns the bearer token for the control API, generating
// and persisting one on first use.
func (c *ConfigManager) GetControlToken() string {
	val, err := c.storage.GetString(KeyControlToken)
	if err != nil || val == "" {
		token := generateSecureToken()
		_ = c.storage.SetString(KeyControlToken, token)
		return token
	}
	return val
}

func (c *ConfigManager) GetEnableAVScan() bool {
	val, err := c.storage.GetString(KeyEnableAVScan)
	if err != nil {
		return false
	}
	return val == "true"
}

func (c *ConfigManager) SetEnableAVScan(enabled bool) error {
	val := "false"
	if enabled {
		val = "true"
	}
	return c.storage.SetString(KeyEnableAVScan, val)
}

// GetUserAgent returns the custom User-Agent string, or "" to use the
// Range Engine's browser-fingerprint default.
func (c *ConfigManager) GetUserAgent() string {
	val, err := c.storage.GetString(KeyUserAgent)
	if err != nil {
		return ""
	}
	return val
}

func (c *ConfigManager) SetUserAgent(ua string) error {
	return c.storage.SetString(KeyUserAgent, ua)
}

// GetDefaultThreadCount returns the configured default, or 0 meaning
// "use 2 x CPU count" per spec §4.3.1.
func (c *ConfigManager) GetDefaultThreadCount() int {
	return c.getIntOr(KeyDefaultThreadCount, 0)
}

func (c *ConfigManager) SetDefaultThreadCount(n int) error {
	return c.storage.SetString(KeyDefaultThreadCount, strconv.Itoa(n))
}

// GetDefaultChunkSizeMB returns the configured default, or 0 meaning
// "use 10 MiB" per spec §4.3.1.
func (c *ConfigManager) GetDefaultChunkSizeMB() int {
	return c.getIntOr(KeyDefaultChunkSizeMB, 0)
}

func (c *ConfigManager) SetDefaultChunkSizeMB(n int) error {
	return c.storage.SetString(KeyDefaultChunkSizeMB, strconv.Itoa(n))
}

// GetStallTimeoutSec returns the configured stall timeout, defaulting to
// the spec's 30s.
func (c *ConfigManager) GetStallTimeoutSec() int {
	return c.getIntOr(KeyStallTimeoutSec, 30)
}

func (c *ConfigManager) SetStallTimeoutSec(n int) error {
	return c.storage.SetString(KeyStallTimeoutSec, strconv.Itoa(n))
}

func (c *ConfigManager) getIntOr(key string, def int) int {
	valStr, err := c.storage.GetString(key)
	if err != nil || valStr == "" {
		return def
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return def
	}
	return val
}

func generateSecureToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "tthsdnext-fallback-token-change-me"
	}
	return hex.EncodeToString(b)
}

// FactoryReset clears all configuration back to defaults.
func (c *ConfigManager) FactoryReset() error {
	keys := []string{
		KeyControlToken,
		KeyControlPort,
		KeyEnableAVScan,
		KeyUserAgent,
		KeyDefaultThreadCount,
		KeyDefaultChunkSizeMB,
		KeyStallTimeoutSec,
	}
	for _, key := range keys {
		if err := c.storage.SetString(key, ""); err != nil {
			return err
		}
	}
	return nil
}
