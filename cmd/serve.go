package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/gocrawl/internal/agent"
	"github.com/nextlevelbuilder/gocrawl/internal/browser"
	"github.com/nextlevelbuilder/gocrawl/internal/challenge"
	"github.com/nextlevelbuilder/gocrawl/internal/config"
	"github.com/nextlevelbuilder/gocrawl/internal/crawler"
	"github.com/nextlevelbuilder/gocrawl/internal/gateway"
	"github.com/nextlevelbuilder/gocrawl/internal/ghost"
	"github.com/nextlevelbuilder/gocrawl/internal/markdown"
	"github.com/nextlevelbuilder/gocrawl/internal/mesh"
	"github.com/nextlevelbuilder/gocrawl/internal/precheck"
	"github.com/nextlevelbuilder/gocrawl/internal/providers"
	"github.com/nextlevelbuilder/gocrawl/internal/store"
	"github.com/nextlevelbuilder/gocrawl/internal/telemetry"
	"github.com/nextlevelbuilder/gocrawl/internal/tools"
)

// runServe builds every singleton in dependency order, starts the mesh and
// the gateway, and tears everything down on SIGINT/SIGTERM.
func runServe() {
	setupLogging()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	defer shutdownTelemetry(context.Background())

	// Browser pool.
	factory := browser.NewRodFactory(cfg.Browser.Headless, cfg.Browser.StreamMaxWidth)
	pool := browser.NewPool(cfg.Browser.PoolSize,
		time.Duration(cfg.Browser.StreamMaxLeaseSec)*time.Second, factory)
	if err := pool.Start(ctx); err != nil {
		slog.Error("browser pool start failed", "error", err)
		os.Exit(1)
	}
	defer pool.Shutdown()

	// LLM provider (agent loop + ghost vision).
	var provider agent.Adapter
	if cfg.Agent.Enabled || cfg.Ghost.Enabled {
		provider, err = providers.New(cfg.Agent.Provider, cfg.Providers)
		if err != nil {
			slog.Error("provider setup failed", "error", err)
			os.Exit(1)
		}
	}
	var vision ghost.VisionProvider
	if cfg.Ghost.Enabled {
		visionName := cfg.Ghost.VisionProvider
		if visionName == "" || visionName == cfg.Agent.Provider {
			vision = provider
		} else {
			visionAdapter, err := providers.New(visionName, cfg.Providers)
			if err != nil {
				slog.Error("ghost vision provider setup failed", "error", err)
				os.Exit(1)
			}
			vision = visionAdapter
		}
	}

	// Challenge solver, optionally backed by the external Turnstile service.
	var solverOpts []challenge.SolverOption
	if key := cfg.Providers.CapSolverAPIKey; key != "" {
		solverOpts = append(solverOpts, challenge.WithCapSolver(challenge.NewCapSolverClient(key)))
	}
	solver := challenge.NewSolver(solverOpts...)

	converter := markdown.NewReadability()
	checker := precheck.NewChecker(time.Duration(cfg.Precheck.TimeoutSec) * time.Second)
	cookies := browser.NewCookieStore()

	var ghostRunner *ghost.Runner
	if cfg.Ghost.Enabled {
		ghostRunner = ghost.NewRunner(pool, factory, converter,
			cfg.Ghost.MaxWidth, time.Duration(cfg.Ghost.TimeoutSec)*time.Second)
	}

	// Crawl cache + trace store.
	if err := os.MkdirAll(cfg.Storage.Path, 0o755); err != nil {
		slog.Error("storage path unavailable", "path", cfg.Storage.Path, "error", err)
		os.Exit(1)
	}
	cache, err := store.OpenCrawlCache(
		filepath.Join(cfg.Storage.Path, "crawl_cache.db"),
		time.Duration(cfg.Crawl.CacheTTLSec)*time.Second)
	if err != nil {
		slog.Error("crawl cache unavailable", "error", err)
		os.Exit(1)
	}
	defer cache.Close()
	traces := store.NewTraceStore(cfg.Storage.Path)

	orchestrator := crawler.NewOrchestrator(crawler.OrchestratorConfig{
		Pool:            pool,
		Factory:         factory,
		Checker:         checker,
		Solver:          solver,
		Ghost:           ghostRunner,
		Converter:       converter,
		Cookies:         cookies,
		Cache:           cache,
		Vision:          vision,
		PrecheckEnabled: cfg.Precheck.Enabled,
		DefaultTimeout:  time.Duration(cfg.Crawl.TimeoutSec) * time.Second,
	})

	// Tool registry: registration happens once, here.
	registry := tools.NewRegistry()
	registry.Register(tools.NewCrawlTool(orchestrator, cfg.Ghost.Enabled, cfg.Ghost.AutoTrigger))
	registry.Register(tools.NewMarkdownTool(orchestrator))
	if ghostRunner != nil {
		registry.Register(tools.NewGhostTool(ghostRunner, vision))
	}

	// Mesh (optional).
	var coordinator *mesh.Coordinator
	var meshHandler *mesh.Handler
	var server *gateway.Server
	if cfg.Mesh.Enabled {
		if cfg.Mesh.Secret == "" {
			slog.Error("mesh enabled but GOCRAWL_MESH_SECRET is not set")
			os.Exit(1)
		}
		coordinator = mesh.NewCoordinator(mesh.CoordinatorConfig{
			NodeName:            cfg.Mesh.NodeName,
			AdvertiseURL:        cfg.Mesh.AdvertiseURL,
			Secret:              cfg.Mesh.Secret,
			SeedPeers:           cfg.Mesh.SeedPeers,
			HeartbeatInterval:   time.Duration(cfg.Mesh.HeartbeatIntervalS) * time.Second,
			PeerTimeout:         time.Duration(cfg.Mesh.PeerTimeoutS) * time.Second,
			PeerRemove:          time.Duration(cfg.Mesh.PeerRemoveS) * time.Second,
			Tools:               registry.Names(),
			MaxConcurrentCrawls: cfg.Mesh.MaxConcurrentCrawls,
		}, func() mesh.NodeLoad {
			load := mesh.NodeLoad{
				ActiveCrawls:        orchestrator.ActiveCrawls(),
				BrowserPoolFree:     pool.Free(),
				MaxConcurrentCrawls: cfg.Mesh.MaxConcurrentCrawls,
			}
			if server != nil {
				load.ActiveAgentRuns = server.ActiveAgentRuns()
			}
			return load
		})
		meshHandler = mesh.NewHandler(coordinator, registry)
	}

	server = gateway.NewServer(gateway.ServerConfig{
		Config:       cfg,
		Registry:     registry,
		Orchestrator: orchestrator,
		GhostRunner:  ghostRunner,
		Vision:       vision,
		Provider:     provider,
		Pool:         pool,
		Traces:       traces,
		Coordinator:  coordinator,
		MeshHandler:  meshHandler,
	})

	if coordinator != nil {
		coordinator.Start(ctx)
		defer coordinator.Stop(context.Background())
	}

	if err := server.Start(ctx); err != nil {
		slog.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
}
