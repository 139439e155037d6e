package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/assets"
	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/deletion"
	"github.com/Aman-CERP/amanrag/internal/encoder"
	"github.com/Aman-CERP/amanrag/internal/ingest"
	"github.com/Aman-CERP/amanrag/internal/logging"
	"github.com/Aman-CERP/amanrag/internal/objstore"
	"github.com/Aman-CERP/amanrag/internal/parser"
	"github.com/Aman-CERP/amanrag/internal/preflight"
	"github.com/Aman-CERP/amanrag/internal/registry"
	"github.com/Aman-CERP/amanrag/internal/research"
	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/server"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/structure"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
	"github.com/Aman-CERP/amanrag/internal/watcher"
	"github.com/Aman-CERP/amanrag/internal/ws"

	goredis "github.com/redis/go-redis/v9"
)

// embeddingDim is the per-token dimension of the encoder sidecar's
// multi-vectors; both collections are created with it.
const embeddingDim = 128

// shutdownDrainTimeout bounds the whole graceful shutdown sequence.
const shutdownDrainTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	var (
		port      int
		skipCheck bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the AmanRAG server",
		Long: `Start the HTTP/WebSocket server with the full ingestion pipeline.

Configuration is read from .amanrag.yaml in the working directory,
~/.config/amanrag/config.yaml, and AMANRAG_* environment variables,
in increasing order of precedence.`,
		Example: `  # Start with defaults
  amanrag serve

  # Override the listen port
  amanrag serve --port 9000

  # Skip the startup system check
  amanrag serve --skip-check`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, port, skipCheck)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "Override the configured listen port")
	cmd.Flags().BoolVar(&skipCheck, "skip-check", false, "Skip pre-flight system checks")

	return cmd
}

func runServe(cmd *cobra.Command, port int, skipCheck bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(".")
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	logger, cleanup, err := setupServeLogging(cfg)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	if !skipCheck && preflight.NeedsCheck(cfg.Data.Root) {
		checker := preflight.New(preflight.WithOutput(cmd.OutOrStdout()))
		results := checker.RunAll(ctx, cfg)
		checker.PrintResults(results)
		if checker.HasCriticalFailures(results) {
			return fmt.Errorf("system check failed, run 'amanrag doctor' for details")
		}
		if err := preflight.MarkPassed(cfg.Data.Root); err != nil {
			logger.Debug("recording preflight marker failed", slog.String("error", err.Error()))
		}
	}

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.closeQuiet(logger)

	app.manager.Start(ctx)
	if err := app.startWatcher(ctx, cfg, logger); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- app.server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownDrainTimeout)
	defer cancel()

	if err := app.manager.Shutdown(shutCtx); err != nil {
		logger.Warn("job drain incomplete", slog.String("error", err.Error()))
	}
	app.hub.Close()
	if err := app.server.Shutdown(shutCtx); err != nil {
		return err
	}
	<-errCh
	return nil
}

// setupServeLogging wires structured file+stderr logging unless --debug
// already installed the debug logger.
func setupServeLogging(cfg *config.Config) (*slog.Logger, func(), error) {
	if debugMode {
		return slog.Default(), nil, nil
	}
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Server.LogLevel
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	slog.SetDefault(logger)
	return logger, cleanup, nil
}

// app carries the wired server stack and everything that needs closing
// on the way out.
type app struct {
	server  *server.Server
	manager *ingest.Manager
	hub     *ws.Hub
	watch   *watcher.HybridWatcher
	enc     *encoder.Client
	metrics *telemetry.Collector

	// watcher collaborators
	reg     registry.Registry
	deleter *deletion.Coordinator
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	vs, err := store.NewQdrant(store.QdrantConfig{
		Host:             cfg.Qdrant.Host,
		Port:             cfg.Qdrant.Port,
		APIKey:           cfg.Qdrant.APIKey,
		UseTLS:           cfg.Qdrant.UseTLS,
		VisualCollection: cfg.Qdrant.VisualCollection,
		TextCollection:   cfg.Qdrant.TextCollection,
		Timeout:          time.Duration(cfg.Qdrant.TimeoutS) * time.Second,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := vs.EnsureCollections(ctx, embeddingDim); err != nil {
		return nil, err
	}

	enc, err := encoder.NewClient(ctx, encoder.Config{
		BaseURL:         cfg.Encoder.BaseURL,
		Device:          encoder.Device(cfg.Encoder.Device),
		BatchSizeVisual: cfg.Encoder.BatchSizeVisual,
		BatchSizeText:   cfg.Encoder.BatchSizeText,
		Timeout:         time.Duration(cfg.Encoder.TimeoutS) * time.Second,
	}, logger)
	if err != nil {
		return nil, err
	}
	cachedEnc := encoder.NewCachedEncoder(enc, cfg.Encoder.QueryCacheSize)

	parserClient, err := parser.NewClient(parser.ClientConfig{
		BaseURL:       cfg.Parser.BaseURL,
		Timeout:       time.Duration(cfg.Parser.TimeoutS) * time.Second,
		WantStructure: cfg.Parser.WantStructure,
		ASR:           cfg.ASR,
	}, logger)
	if err != nil {
		return nil, err
	}
	var conv parser.DocConverter
	if c, err := parser.NewConverter(parser.ConverterConfig{
		BaseURL: cfg.Converter.BaseURL,
		Timeout: time.Duration(cfg.Converter.TimeoutS) * time.Second,
	}); err != nil {
		logger.Warn("office converter disabled", slog.String("error", err.Error()))
	} else {
		conv = c
	}
	docRouter := parser.NewRouter(parserClient, conv, logger)

	assetStore, err := assets.NewStore(assets.Config{
		PageImagesDir: cfg.Data.PageImagesDir(),
		CoversDir:     cfg.Data.CoversDir(),
		ThumbWidth:    cfg.Assets.ThumbnailWidth,
		ThumbHeight:   cfg.Assets.ThumbnailHeight,
		JPEGQuality:   cfg.Assets.JPEGQuality,
	}, logger)
	if err != nil {
		return nil, err
	}

	reg := buildRegistry(ctx, cfg.Redis, logger)

	var objects *objstore.Client
	if cfg.S3.Endpoint != "" {
		objects, err = objstore.New(ctx, objstore.Config{
			Endpoint:      cfg.S3.Endpoint,
			Region:        cfg.S3.Region,
			Bucket:        cfg.S3.Bucket,
			AccessKey:     cfg.S3.AccessKey,
			SecretKey:     cfg.S3.SecretKey,
			UsePathStyle:  cfg.S3.UsePathStyle,
			PresignExpiry: time.Duration(cfg.S3.PresignExpiryS) * time.Second,
		}, logger)
		if err != nil {
			logger.Warn("object store disabled", slog.String("error", err.Error()))
			objects = nil
		}
	}

	var metrics *telemetry.Collector
	if cfg.Telemetry.Enabled {
		metrics, err = telemetry.Open(cfg.EffectiveTelemetryPath())
		if err != nil {
			logger.Warn("telemetry disabled", slog.String("error", err.Error()))
			metrics = nil
		}
	}

	structSvc, err := structure.NewService(vs, cfg.Structure.CacheSize, logger)
	if err != nil {
		return nil, err
	}

	// Interface slots stay nil when the optional collaborator is absent.
	var downloader ingest.Downloader
	var presigner server.Presigner
	var objDeleter deletion.ObjectDeleter
	if objects != nil {
		downloader = objects
		presigner = objects
		objDeleter = objects
	}
	var jobRecorder ingest.StageRecorder
	var searchRecorder search.Recorder
	if metrics != nil {
		jobRecorder = metrics
		searchRecorder = metrics
	}

	processor := ingest.NewProcessor(docRouter, cachedEnc, vs, assetStore, reg, downloader, jobRecorder,
		ingest.ProcessorConfig{
			UploadsDir:        cfg.Data.UploadsDir(),
			TmpDir:            cfg.Data.TmpDir(),
			PerPageTimeout:    time.Duration(cfg.Ingest.JobTimeoutSPerPage) * time.Second,
			MarkdownThreshold: cfg.Markdown.CompressionThresholdBytes,
		}, logger)

	hub := ws.NewHub(logger)
	manager := ingest.NewManager(processor, reg, hub, ingest.ManagerConfig{
		QueueCap:    cfg.Ingest.QueueCapacity,
		MaxParallel: cfg.EffectiveMaxParallelJobs(),
	}, logger)

	searchEngine := search.NewEngine(vs, cachedEnc, searchRecorder, logger)

	var researchEngine server.Researcher
	if provider, err := research.NewProvider(cfg.Research); err != nil {
		logger.Warn("research disabled", slog.String("error", err.Error()))
	} else {
		packer := research.NewPacker(vs, cfg.Research.TokenBudget, logger)
		pre := research.NewPreprocessor(provider, cfg.Preprocess, logger)
		researchEngine = research.NewEngine(searchEngine, packer, provider, pre,
			cfg.Research, cfg.Preprocess, logger)
	}

	deleter := deletion.NewCoordinator(vs, deletion.Config{
		Assets:  assetStore,
		Cache:   structSvc,
		Reg:     reg,
		Objects: objDeleter,
		TmpDir:  cfg.Data.TmpDir(),
	}, logger)

	handlers := server.NewHandlers(server.HandlerConfig{
		Cfg:       cfg,
		Store:     vs,
		Search:    searchEngine,
		Research:  researchEngine,
		Queue:     manager,
		Deleter:   deleter,
		Assets:    assetStore,
		Structure: structSvc,
		Registry:  reg,
		Objects:   presigner,
		Hub:       hub,
		Metrics:   metrics,
	}, logger)

	httpRouter := server.NewRouter(handlers, cfg.Server.CORSOrigins, logger)
	srv := server.New(cfg, httpRouter, logger)

	return &app{
		server:  srv,
		manager: manager,
		hub:     hub,
		enc:     enc,
		metrics: metrics,
		reg:     reg,
		deleter: deleter,
	}, nil
}

// buildRegistry pings redis once; unreachable redis degrades to the
// in-memory registry so single-node setups run without it.
func buildRegistry(ctx context.Context, rc config.RedisConfig, logger *slog.Logger) registry.Registry {
	client := goredis.NewClient(&goredis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		logger.Warn("redis unreachable, using in-memory registration",
			slog.String("addr", rc.Addr), slog.String("error", err.Error()))
		return registry.NewMemory()
	}
	return registry.NewRedisFromClient(client, logger)
}

// startWatcher arms the drop-folder watcher when configured and pumps
// its batches into the ingestion queue.
func (a *app) startWatcher(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if !cfg.Watcher.Enabled {
		return nil
	}
	dropDir := cfg.EffectiveWatchDir()
	if err := os.MkdirAll(dropDir, 0o755); err != nil {
		return fmt.Errorf("creating drop folder %s: %w", dropDir, err)
	}

	opts := watcher.DefaultOptions()
	if cfg.Watcher.DebounceMS > 0 {
		opts.DebounceWindow = time.Duration(cfg.Watcher.DebounceMS) * time.Millisecond
	}
	w, err := watcher.NewHybridWatcher(opts)
	if err != nil {
		return err
	}
	if err := w.Start(ctx, dropDir); err != nil {
		return err
	}
	a.watch = w

	go a.pumpDropEvents(ctx, dropDir, logger)
	logger.Info("watching drop folder", slog.String("dir", dropDir))
	return nil
}

func (a *app) pumpDropEvents(ctx context.Context, dropDir string, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-a.watch.Errors():
			if !ok {
				return
			}
			logger.Warn("drop watcher error", slog.String("error", err.Error()))
		case batch, ok := <-a.watch.Events():
			if !ok {
				return
			}
			for _, ev := range watcher.ObjectEvents(dropDir, batch) {
				a.handleDropEvent(ctx, dropDir, ev, logger)
			}
		}
	}
}

// handleDropEvent mirrors the webhook's create/remove handling for
// local files: creation enqueues a job with the file already staged,
// removal deletes the document.
func (a *app) handleDropEvent(ctx context.Context, dropDir string, ev ingest.ObjectEvent, logger *slog.Logger) {
	filename := ev.Filename()
	docID, err := a.reg.LookupFilename(ctx, filename)
	if err != nil {
		logger.Error("registry lookup failed", slog.String("filename", filename), slog.String("error", err.Error()))
		return
	}

	switch {
	case ev.Created():
		if docID == "" {
			docID = registry.DeriveDocIDFromMeta(filename, ev.Size)
		}
		existing, err := a.reg.Lookup(ctx, docID)
		if err != nil {
			logger.Error("registry lookup failed", slog.String("doc_id", docID), slog.String("error", err.Error()))
			return
		}
		if existing != nil && existing.Size == ev.Size {
			forced, err := a.reg.ConsumeReingest(ctx, docID)
			if err != nil {
				logger.Error("registry lookup failed", slog.String("doc_id", docID), slog.String("error", err.Error()))
				return
			}
			if !forced {
				logger.Info("already ingested, skipping drop file",
					slog.String("doc_id", docID), slog.String("filename", filename))
				return
			}
		}
		job := ingest.NewJob(docID, filename, ev.Key, ev.Size)
		job.LocalPath = filepath.Join(dropDir, filepath.FromSlash(ev.Key))
		admitted, err := a.manager.Enqueue(ctx, job)
		if err != nil {
			logger.Error("enqueue from drop folder failed",
				slog.String("filename", filename), slog.String("error", err.Error()))
			return
		}
		if !admitted {
			logger.Info("duplicate drop collapsed onto running job",
				slog.String("doc_id", docID), slog.String("filename", filename))
		}
	case ev.Removed():
		if docID == "" {
			logger.Warn("removal for unknown drop file", slog.String("filename", filename))
			return
		}
		if _, err := a.deleter.Delete(ctx, docID); err != nil {
			logger.Error("deletion from drop removal failed",
				slog.String("doc_id", docID), slog.String("error", err.Error()))
		}
	}
}

func (a *app) closeQuiet(logger *slog.Logger) {
	if a.watch != nil {
		if err := a.watch.Stop(); err != nil {
			logger.Debug("watcher stop", slog.String("error", err.Error()))
		}
	}
	if a.enc != nil {
		_ = a.enc.Close()
	}
	if a.metrics != nil {
		_ = a.metrics.Close()
	}
}
