// OnceFS mount tool: presents a read-only merge of real files and
// on-demand generated files, served from an on-disk cache.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkarhu/oncefs/internal/config"
	oncefuse "github.com/pkarhu/oncefs/internal/fuse"
	"github.com/pkarhu/oncefs/internal/provider"
)

func main() {
	configPath := flag.String("config", "", "Optional configuration file (YAML)")
	mountpoint := flag.String("mount", "", "Mount point (required)")
	cacheDir := flag.String("cache", "", "Cache root directory (required)")
	realDir := flag.String("real", "", "Real files root (optional)")
	manifest := flag.String("manifest", "", "Manifest of generated files (optional)")
	noMetadata := flag.Bool("no-metadata", false, "Disable the .metadata subtree")
	allowOther := flag.Bool("allow-other", false, "Allow other users to access the mount")
	clearCache := flag.Bool("clear-cache", false, "Clear this mount's cache subtree at startup")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "oncefs-mount:", err)
		os.Exit(1)
	}

	// CLI flags take precedence over file and environment.
	if *mountpoint != "" {
		cfg.Mount.Mountpoint = *mountpoint
	}
	if *cacheDir != "" {
		cfg.Mount.CacheDir = *cacheDir
	}
	if *realDir != "" {
		cfg.Mount.RealDir = *realDir
	}
	if *manifest != "" {
		cfg.Mount.Manifest = *manifest
	}
	if *noMetadata {
		cfg.Mount.DisableMetadata = true
	}
	if *allowOther {
		cfg.Mount.AllowOther = true
	}
	if *clearCache {
		cfg.Mount.ClearCache = true
	}
	if *debug {
		cfg.Logging.Level = "DEBUG"
	}

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "oncefs-mount:", err)
		flag.Usage()
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	var prov provider.Provider = provider.None{}
	if cfg.Mount.Manifest != "" {
		m, err := provider.LoadManifest(cfg.Mount.Manifest)
		if err != nil {
			logger.Error("failed to load manifest", "file", cfg.Mount.Manifest, "error", err)
			os.Exit(1)
		}
		prov = m
	}

	server, fsys, err := oncefuse.Mount(cfg, prov, logger)
	if err != nil {
		logger.Error("failed to mount", "mountpoint", cfg.Mount.Mountpoint, "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, unmounting", "signal", sig)
		if err := server.Unmount(); err != nil {
			logger.Error("unmount error", "error", err)
		}
	}()

	server.Wait()
	logger.Info("filesystem unmounted",
		"lookups", fsys.Stats.Lookups.Load(),
		"cache_hits", fsys.Stats.CacheHits.Load(),
		"generations_started", fsys.Stats.GenerationsStarted.Load(),
		"bytes_read", fsys.Stats.BytesRead.Load(),
	)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
