// Package main is the VeriDoc CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	iofs "io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/veridoc/veridoc/internal/agents"
	"github.com/veridoc/veridoc/internal/cache"
	"github.com/veridoc/veridoc/internal/checkpoint"
	"github.com/veridoc/veridoc/internal/config"
	"github.com/veridoc/veridoc/internal/conflict"
	"github.com/veridoc/veridoc/internal/models"
	"github.com/veridoc/veridoc/internal/monitor"
	"github.com/veridoc/veridoc/internal/orchestrator"
	"github.com/veridoc/veridoc/internal/query"
	"github.com/veridoc/veridoc/internal/resolution"
	"github.com/veridoc/veridoc/internal/server"
	"github.com/veridoc/veridoc/internal/storage"
	"github.com/veridoc/veridoc/internal/watcher"
	"github.com/veridoc/veridoc/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/veridoc/config.yaml"

// loadConfig loads config from path. When path is the default, a config.yaml
// in the current directory takes precedence so that running from the project
// directory picks up the project's config.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "process":
		runProcess()
	case "batch":
		runBatch()
	case "resume":
		runResume()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("veridoc version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`VeriDoc - hybrid document extraction pipeline

Usage:
  veridoc server [flags]              Run the review API server and inbox watcher
  veridoc process [flags] <file>...   Process one or more documents
  veridoc batch [flags] <dir>         Process every matching file under a directory
  veridoc resume [flags] <doc-id>     Resume a checkpointed or held document
  veridoc status [flags]              Show pipeline status
  veridoc version                     Show version

Flags common to all commands:
  -config <path>   config file path (default ` + defaultConfigPath + `)
  -debug           enable debug logging
`)
}

// Components holds all initialized pipeline components.
type Components struct {
	Store     *storage.SQLiteStore
	Index     *query.Index
	Ckpt      *checkpoint.Store
	Monitor   *monitor.Monitor
	Engine    *resolution.Engine
	Processor *orchestrator.Processor
	cfg       *config.Config
}

// Close releases component resources.
func (c *Components) Close() {
	c.Monitor.Stop()
	if c.Index != nil {
		_ = c.Index.Close()
	}
	_ = c.Store.Close()
}

func initializeComponents(cfg *config.Config, logger *zap.Logger, debug bool) (*Components, error) {
	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	index, err := query.NewIndex(cfg.Storage.IndexPath)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize query index: %w", err)
	}

	ckpt, err := checkpoint.NewStore(cfg.Storage.CheckpointDir, logger)
	if err != nil {
		_ = index.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize checkpoints: %w", err)
	}

	mon := monitor.New(
		monitor.NewSystemSampler(cfg.Fallback.RemoteEndpoint),
		monitor.Thresholds{
			RAMWarningPct:  cfg.Monitor.RAMWarningPct,
			RAMCriticalPct: cfg.Monitor.RAMCriticalPct,
			TempWarningC:   cfg.Monitor.TempWarningC,
			TempCriticalC:  cfg.Monitor.TempCriticalC,
		},
		time.Duration(cfg.Monitor.SampleIntervalS)*time.Second,
		monitor.WithLogger(logger),
	)
	mon.Refresh()

	agentTimeout := time.Duration(cfg.Pipeline.AgentTimeoutS) * time.Second

	var remote agents.Agent
	if cfg.Fallback.RemoteEndpoint != "" {
		remote = agents.NewRemoteVisionAgent(
			cfg.Fallback.RemoteEndpoint,
			cfg.Fallback.RemoteAPIKey,
			cfg.Fallback.RemoteModel,
			agentTimeout,
			logger,
		)
	}
	var local agents.Agent
	if cfg.Fallback.LocalModelPath != "" {
		la, laErr := agents.NewLocalVisionAgent(cfg.Fallback.LocalModelPath, logger)
		if laErr != nil {
			logger.Warn("local vision unavailable, ladder bottoms out at TEXT_ONLY",
				zap.String("model_path", cfg.Fallback.LocalModelPath), zap.Error(laErr))
		} else {
			local = la
		}
	}

	var agentLogger *zap.Logger
	if debug {
		agentLogger = logger
	}
	engine := resolution.NewEngine(resolution.WithLogger(logger))
	orch := orchestrator.New(
		orchestrator.Config{
			ReviewImpactBound: cfg.Pipeline.ReviewImpactBound,
			AgentTimeout:      agentTimeout,
			CheckpointEnabled: cfg.Pipeline.CheckpointOn(),
			Mode:              models.ParseMode(cfg.Fallback.Mode),
			BackoffBase:       time.Duration(cfg.Fallback.RetryBackoffBaseS * float64(time.Second)),
		},
		agents.NewLayoutAgent(agentLogger),
		agents.NewTextAgent(agentLogger),
		remote,
		local,
		conflict.NewDetector(cfg.Pipeline.ConflictThreshold, conflict.WithLogger(logger)),
		engine,
		mon,
		cache.New(cfg.Storage.CacheDir, cfg.Pipeline.ConfigVersion, agentLogger),
		ckpt,
		store,
		index,
		logger,
	)
	proc := orchestrator.NewProcessor(orch, ckpt, cfg.Pipeline.MaxWorkers,
		models.ParseMode(cfg.Fallback.Mode), logger)

	return &Components{
		Store:     store,
		Index:     index,
		Ckpt:      ckpt,
		Monitor:   mon,
		Engine:    engine,
		Processor: proc,
		cfg:       cfg,
	}, nil
}

func setup(args []string) (*config.Config, *zap.Logger, *flag.FlagSet) {
	fs := flag.NewFlagSet(args[0], flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args[1:])

	cfg, resolvedPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded", zap.String("config_path", resolvedPath))
	cfg.Debug = debugMode
	return cfg, logger, fs
}

func runServer() {
	cfg, logger, _ := setup(os.Args[1:])
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, cfg.Debug)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	monCtx, monCancel := context.WithCancel(context.Background())
	defer monCancel()
	components.Monitor.Start(monCtx)

	proc := components.Processor
	watchOpts := []watcher.Option{}
	if cfg.Debug {
		watchOpts = append(watchOpts, watcher.WithLogger(logger))
	}
	watchSvc := watcher.New(
		cfg.Watch.Directories,
		cfg.Watch.Extensions,
		cfg.Watch.RecursiveOrDefault(),
		func(path string) {
			outcome := proc.ProcessFile(context.Background(), path)
			switch {
			case outcome.Err == nil:
			case errors.Is(outcome.Err, orchestrator.ErrHeldForReview):
				logger.Info("document held for review",
					zap.String("path", path), zap.String("document_id", outcome.DocumentID))
			default:
				logger.Warn("document failed",
					zap.String("path", path), zap.Error(outcome.Err))
			}
		},
		watchOpts...,
	)
	if len(cfg.Watch.Directories) > 0 {
		watchCtx, watchCancel := context.WithCancel(context.Background())
		defer watchCancel()
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer watchSvc.Stop()
		go watchSvc.SubmitExisting()
	}

	srv := server.NewServer(
		components.Store,
		components.Engine,
		components.Monitor,
		components.Index,
		components.Processor,
		components.Ckpt,
		&cfg.Server,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runProcess() {
	cfg, logger, fs := setup(os.Args[1:])
	defer logger.Sync()

	if fs.NArg() < 1 {
		fmt.Println("Usage: veridoc process [flags] <file>...")
		os.Exit(1)
	}

	components, err := initializeComponents(cfg, logger, cfg.Debug)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}

	outcomes := components.Processor.ProcessBatch(context.Background(), fs.Args())
	code := reportOutcomes(outcomes)
	components.Close()
	os.Exit(code)
}

func runBatch() {
	cfg, logger, fs := setup(os.Args[1:])
	defer logger.Sync()

	if fs.NArg() != 1 {
		fmt.Println("Usage: veridoc batch [flags] <dir>")
		os.Exit(1)
	}
	root := fs.Arg(0)

	var paths []string
	err := filepath.WalkDir(root, func(path string, d iofs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if matchExtension(path, cfg.Watch.Extensions) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		fmt.Printf("Failed to scan %s: %v\n", root, err)
		os.Exit(1)
	}
	if len(paths) == 0 {
		fmt.Printf("No matching files under %s\n", root)
		return
	}

	components, err := initializeComponents(cfg, logger, cfg.Debug)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}

	fmt.Printf("Processing %d files...\n", len(paths))
	outcomes := components.Processor.ProcessBatch(context.Background(), paths)
	code := reportOutcomes(outcomes)
	components.Close()
	os.Exit(code)
}

func runResume() {
	cfg, logger, fs := setup(os.Args[1:])
	defer logger.Sync()

	if fs.NArg() != 1 {
		fmt.Println("Usage: veridoc resume [flags] <doc-id>")
		os.Exit(1)
	}

	components, err := initializeComponents(cfg, logger, cfg.Debug)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}

	outcome := components.Processor.Resume(context.Background(), fs.Arg(0))
	code := reportOutcomes([]orchestrator.Outcome{outcome})
	components.Close()
	os.Exit(code)
}

func runStatus() {
	cfg, logger, _ := setup(os.Args[1:])
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, cfg.Debug)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	ctx := context.Background()
	health := components.Monitor.Health()
	fmt.Printf("Health:    %s (memory %.0f%%", health.Level, health.Sample.MemoryUsedRatio*100)
	if health.Sample.TemperatureC != nil {
		fmt.Printf(", %.0fC", *health.Sample.TemperatureC)
	}
	fmt.Println(")")

	flagged, err := components.Store.ConflictsByStatus(ctx, models.ConflictFlagged)
	if err != nil {
		logger.Fatal("Failed to query conflicts", zap.Error(err))
	}
	fmt.Printf("Flagged conflicts awaiting review: %d\n", len(flagged))

	held, err := components.Ckpt.List()
	if err != nil {
		logger.Fatal("Failed to list checkpoints", zap.Error(err))
	}
	fmt.Printf("Checkpointed documents: %d\n", len(held))
	for _, id := range held {
		if state, loadErr := components.Ckpt.Load(id); loadErr == nil {
			fmt.Printf("  %s  %s  %s\n", id, state.Stage, filepath.Base(state.Document.Path))
		}
	}
}

// reportOutcomes prints one line per document and returns the process exit
// code: 0 when nothing failed, 1 otherwise. Held-for-review is not a failure.
func reportOutcomes(outcomes []orchestrator.Outcome) int {
	code := 0
	for _, o := range outcomes {
		name := o.Path
		if name == "" {
			name = o.DocumentID
		}
		switch {
		case o.Err == nil:
			fmt.Printf("ok        %s  (%s, %s)\n", name, o.Stage, o.Mode)
		case errors.Is(o.Err, orchestrator.ErrHeldForReview):
			fmt.Printf("review    %s  (document %s)\n", name, o.DocumentID)
		default:
			fmt.Printf("failed    %s  %v\n", name, o.Err)
			code = 1
		}
	}
	return code
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}
