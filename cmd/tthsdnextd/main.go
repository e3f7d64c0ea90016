// Command tthsdnextd is the headless daemon: it wires storage, config,
// logging, the Performance Monitor, the Session Registry and the control
// plane API together and blocks forever, the way the teacher's main.go
// wires its GUI shell — minus the GUI. The cgo shared library
// (../../ffi) is a separate build that drives the registry.Global() of
// whichever host process loads it, not this daemon's.
package main

import (
	"fmt"
	"os"

	"github.com/TTHSDownloader/TTHSDNext/internal/analytics"
	"github.com/TTHSDownloader/TTHSDNext/internal/apiserver"
	"github.com/TTHSDownloader/TTHSDNext/internal/config"
	"github.com/TTHSDownloader/TTHSDNext/internal/filesystem"
	"github.com/TTHSDownloader/TTHSDNext/internal/logger"
	"github.com/TTHSDownloader/TTHSDNext/internal/registry"
	"github.com/TTHSDownloader/TTHSDNext/internal/security"
	"github.com/TTHSDownloader/TTHSDNext/internal/storage"
)

func main() {
	log, err := logger.New(os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error initializing logger:", err)
		os.Exit(1)
	}

	store, err := storage.NewStorage()
	if err != nil {
		log.Error("error initializing storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	cfg := config.NewConfigManager(store)
	audit := security.NewAuditLogger(log)
	defer audit.Close()

	stats := analytics.NewStatsManager(store, func() (string, error) {
		return os.UserHomeDir()
	})

	reg := registry.Global()
	allocator := filesystem.NewAllocator()
	scanner := security.NewScanner(log)

	srv := apiserver.New(reg, cfg, audit, stats, allocator, scanner, log)
	if err := srv.Start(); err != nil {
		log.Error("control server failed to start", "error", err)
		os.Exit(1)
	}

	log.Info("tthsdnextd listening", "port", cfg.GetControlPort())
	select {}
}
