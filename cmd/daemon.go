package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/WuChenDi/bitk/internal/client"
	_ "github.com/WuChenDi/bitk/internal/client/providers/amp"
	_ "github.com/WuChenDi/bitk/internal/client/providers/claude"
	_ "github.com/WuChenDi/bitk/internal/client/providers/codex"
	_ "github.com/WuChenDi/bitk/internal/client/providers/echo"
	_ "github.com/WuChenDi/bitk/internal/client/providers/gemini"
	_ "github.com/WuChenDi/bitk/internal/client/providers/opencode"
	"github.com/WuChenDi/bitk/internal/config"
	"github.com/WuChenDi/bitk/internal/engine"
	"github.com/WuChenDi/bitk/internal/eventbus"
	"github.com/WuChenDi/bitk/internal/httpapi"
	"github.com/WuChenDi/bitk/internal/infrastructure/sqlite"
	"github.com/WuChenDi/bitk/internal/log"
	"github.com/WuChenDi/bitk/internal/tracing"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the Issue Execution Engine daemon",
	Long:  `Starts the HTTP/SSE boundary, the Issue Engine, and the reconciliation sweep against the configured database.`,
	RunE:  runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	closeLog, err := log.Init(cfg.LogPath)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer closeLog()
	log.SetMinLevel(log.ParseLevel(cfg.LogLevel))

	db, err := sqlite.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()

	tracingCfg := tracing.DefaultConfig()
	tracingCfg.ServiceName = cfg.ServiceName
	tracingCfg.Enabled = cfg.EnableRuntimeEndpoint
	provider, err := tracing.NewProvider(tracingCfg)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.Error(log.CatEngine, "shutting down tracer provider", "error", err)
		}
	}()

	issues := db.IssueRepository()
	logs := db.LogRepository()
	projects := db.ProjectRepository()

	bus := eventbus.New()
	eng := engine.New(issues, logs, bus, cfg.AdapterEnv, cfg.MaxConcurrentExecutions)
	eng.SetTracer(provider.Tracer())

	eng.StartReconcileLoop(ctx, cfg.ReconcileInterval, projects.ListIDs)

	handler := httpapi.NewHandler(eng, bus, projects, issues.ProjectIDFor)
	server, err := httpapi.NewServer(httpapi.ServerConfig{Addr: cfg.HTTPAddr}, handler)
	if err != nil {
		return fmt.Errorf("starting HTTP/SSE boundary: %w", err)
	}

	log.Info(log.CatEngine, "bitk-engine daemon starting",
		"db", cfg.DBPath, "addr", cfg.HTTPAddr, "adapters", client.RegisteredEngineTypes())

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving HTTP/SSE boundary: %w", err)
		}
	case sig := <-sigCh:
		log.Info(log.CatEngine, "shutting down", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("stopping HTTP/SSE boundary: %w", err)
		}
	}

	return nil
}
