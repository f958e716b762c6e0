package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/akwieck/envfetch/internal/cache"
	"github.com/akwieck/envfetch/internal/config"
	"github.com/akwieck/envfetch/internal/domain"
	"github.com/akwieck/envfetch/internal/engine"
	"github.com/akwieck/envfetch/internal/journal"
	"github.com/akwieck/envfetch/internal/logger"
	"github.com/akwieck/envfetch/internal/metrics"
	"github.com/akwieck/envfetch/internal/mirror"
	"github.com/akwieck/envfetch/internal/retry"
	"github.com/akwieck/envfetch/internal/stats"
	"github.com/akwieck/envfetch/internal/transfer"
)

const version = "0.3.0"

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	destDir := flag.String("dest", ".", "Directory downloads are written to")
	checksum := flag.String("checksum", "", "Expected hex digest (single URL only)")
	algorithm := flag.String("algorithm", "sha256", "Checksum algorithm (sha256, sha1, sha512, md5)")
	concurrency := flag.Int("concurrency", 0, "Override configured download concurrency")
	offline := flag.Bool("offline", false, "Serve only from cache, no network access")
	flag.Parse()

	urls := flag.Args()
	if len(urls) == 0 {
		fmt.Fprintln(os.Stderr, "usage: envfetch [flags] URL [URL ...]")
		os.Exit(2)
	}
	if *checksum != "" && len(urls) > 1 {
		fmt.Fprintln(os.Stderr, "-checksum only applies to a single URL")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.InitWithOptions(logger.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	zapLogger := logger.GetZapLogger()
	zapLogger.Info("starting envfetch",
		zap.String("version", version),
		zap.Int("urls", len(urls)))

	metrics.Register()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st := stats.New()

	cacheRoot := cfg.Cache.RootDir
	if cacheRoot == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			zapLogger.Fatal("failed to resolve home directory", zap.Error(err))
		}
		cacheRoot = filepath.Join(home, ".cache", "envfetch")
	}
	store, err := cache.New(cacheRoot, cfg.Cache.GetMaxCacheSize(), cfg.Cache.EvictEveryCommit, zapLogger, st)
	if err != nil {
		zapLogger.Fatal("failed to open cache", zap.Error(err))
	}

	registry := mirror.NewWithDefaults(mirror.Options{
		ProbeTimeout:     cfg.Mirrors.GetProbeTimeout(),
		HealthyThreshold: cfg.Mirrors.GetHealthyThreshold(),
		UserAgent:        cfg.Network.UserAgent,
	}, zapLogger)
	if cfg.Mirrors.SeedFile != "" {
		if err := registry.LoadSeedFile(cfg.Mirrors.SeedFile); err != nil {
			zapLogger.Warn("failed to load mirror seed file",
				zap.String("path", cfg.Mirrors.SeedFile),
				zap.Error(err))
		}
	}

	offlineMode := *offline || cfg.Network.OfflineMode
	if !offlineMode {
		registry.ProbeAll(ctx)
	}

	client := transfer.NewClient(transfer.Options{
		UserAgent:   cfg.Network.UserAgent,
		BearerToken: cfg.Network.BearerToken,
		Timeout:     cfg.Network.GetTimeout(),
	}, zapLogger, st)

	controller := retry.New(client, registry, retry.Options{
		BackoffBase:   cfg.Downloads.GetBackoffBase(),
		BackoffCap:    cfg.Downloads.GetBackoffCap(),
		MaxCandidates: cfg.Mirrors.MaxCandidates,
	}, zapLogger, st)

	var jnl engine.ResumeJournal
	journalPath := cfg.Journal.Path
	if journalPath == "" {
		journalPath = filepath.Join(cacheRoot, "journal.db")
	}
	j, err := journal.Open(journalPath)
	if err != nil {
		zapLogger.Warn("resume journal unavailable, continuing without it",
			zap.String("path", journalPath),
			zap.Error(err))
	} else {
		defer j.Close()
		jnl = j
	}

	eng := engine.New(store, controller, client, jnl, st, zapLogger, engine.Options{
		OfflineMode: offlineMode,
	})
	scheduler := engine.NewScheduler(eng, zapLogger)

	tasks := make([]domain.DownloadTask, 0, len(urls))
	for _, rawURL := range urls {
		tasks = append(tasks, domain.DownloadTask{
			URL:           rawURL,
			Destination:   filepath.Join(*destDir, fileNameFor(rawURL)),
			ExpectedHash:  *checksum,
			HashAlgorithm: *algorithm,
			MaxRetries:    cfg.Downloads.MaxRetries,
			Timeout:       cfg.Network.GetTimeout(),
			ChunkSize:     cfg.Downloads.GetChunkSize(),
			Resumable:     cfg.Downloads.Resumable,
		})
	}

	workers := cfg.Downloads.Concurrency
	if *concurrency > 0 {
		workers = *concurrency
	}

	results := scheduler.RunAll(ctx, tasks, workers)

	failed := 0
	for _, r := range results {
		if r.OK {
			continue
		}
		failed++
		zapLogger.Error("download failed",
			zap.String("url", r.Task.URL),
			zap.String("class", string(r.Class)),
			zap.Error(r.Err))
	}

	snap := st.Snapshot()
	mirrorSummary := registry.Summary()
	zapLogger.Info("finished",
		zap.Int64("attempted", snap.DownloadsAttempted),
		zap.Int64("succeeded", snap.DownloadsSuccessful),
		zap.Int64("failed", snap.DownloadsFailed),
		zap.Int64("cache_hits", snap.CacheHits),
		zap.Int64("retries", snap.RetryAttempts),
		zap.String("downloaded", humanize.Bytes(uint64(snap.BytesDownloaded))),
		zap.String("cache_size", humanize.Bytes(uint64(store.TotalSize()))),
		zap.Int("mirrors", mirrorSummary.Total),
		zap.Int("healthy_mirrors", mirrorSummary.Healthy))

	if failed > 0 {
		os.Exit(1)
	}
}

// fileNameFor derives a destination file name from a URL path.
func fileNameFor(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if name := path.Base(u.Path); name != "." && name != "/" && name != "" {
			return name
		}
	}
	return "download"
}
