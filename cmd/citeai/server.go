package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/citeai/citeai/internal/api"
	"github.com/citeai/citeai/internal/config"
	"github.com/citeai/citeai/internal/devproxy"
	"github.com/citeai/citeai/internal/paper"
	"github.com/citeai/citeai/internal/prefs"
	"github.com/citeai/citeai/internal/provider"
	"github.com/citeai/citeai/internal/retry"
	"github.com/citeai/citeai/internal/storage"
	"github.com/citeai/citeai/internal/telemetry"
)

const (
	sessionCacheSize = 1024
	sessionTTL       = 30 * time.Minute
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the citeai server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running citeai server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show citeai server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "citeai.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func logLevel(name string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// app is the wired server: the HTTP handler and the MCP server share one
// generator, store and preferences manager.
type app struct {
	handler http.Handler
	mcp     *server.MCPServer
}

func newApp(cfg config.Config, store *storage.Store, logger *slog.Logger) (*app, error) {
	envelope, err := provider.EnvelopeFor(cfg.Provider.Envelope)
	if err != nil {
		return nil, err
	}
	client := provider.NewClient(provider.Config{
		Endpoint: cfg.Provider.Endpoint,
		APIKey:   cfg.Provider.APIKey,
		Auth:     cfg.Provider.Auth,
		KeyParam: cfg.Provider.KeyParam,
		Referer:  cfg.Provider.Referer,
		Title:    cfg.Provider.Title,
		Envelope: envelope,
		Timeout:  cfg.Generation.Timeout,
		Options: provider.Options{
			Temperature: cfg.Generation.Temperature,
			MaxTokens:   cfg.Generation.MaxTokens,
			TopP:        cfg.Generation.TopP,
		},
	})

	metrics := telemetry.New()
	gen := paper.New(client, paper.Options{
		Policy: retry.Policy{
			MaxRetries:   cfg.Retry.MaxRetries,
			InitialDelay: cfg.Retry.InitialDelay,
			Multiplier:   cfg.Retry.Multiplier,
		},
		Timeout:  cfg.Generation.Timeout,
		Model:    cfg.Provider.Model,
		Debug:    cfg.Debug,
		Logger:   logger,
		Recorder: metrics,
	})

	registry := devproxy.NewRegistry(store)
	if err := registry.Seed(cfg.Proxy.ProvidersFile); err != nil {
		return nil, fmt.Errorf("seeding providers: %w", err)
	}
	prefsMgr := prefs.NewManager(store)

	handler := api.NewHandler(api.Deps{
		Generator:        gen,
		Papers:           store,
		Prefs:            prefsMgr,
		Sessions:         paper.NewSessions(sessionCacheSize, sessionTTL),
		Registry:         registry,
		Prober:           devproxy.NewProber(registry),
		Forwarder:        devproxy.NewForwarder(registry),
		Metrics:          metrics,
		AdminToken:       cfg.Proxy.AdminToken,
		RateLimit:        cfg.Proxy.RateLimit,
		Burst:            cfg.Proxy.Burst,
		Version:          version,
		APIKeyConfigured: cfg.HasAPIKey(),
		Logger:           logger,
	})
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Generator: gen,
		Papers:    store,
		Prefs:     prefsMgr,
		Version:   version,
		Logger:    logger,
	})
	return &app{handler: handler, mcp: mcpSrv}, nil
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "citeai version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	if !cfg.HasAPIKey() {
		printWarning("No model provider API key configured; generation will fail until CITEAI_API_KEY is set")
	}

	// Refuse to start twice on the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("citeai is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("citeai is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	a, err := newApp(cfg, store, logger)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if withMCP {
		stdioSrv := server.NewStdioServer(a.mcp)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "citeai listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("citeai is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop citeai (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to citeai (PID %d)", pid)
	return nil
}

type healthInfo struct {
	Status           string `json:"status"`
	Version          string `json:"version"`
	APIKeyConfigured bool   `json:"api_key_configured"`
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}
	ctx := context.Background()

	var health healthInfo
	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else if err := decodeJSON(resp, &health); err != nil {
		printStatus("Server", "error (%v)", err)
	} else {
		printStatus("Server", "running on port %d (version %s)", cfg.Server.Port, health.Version)
		if pid, err := readPIDFile(pidFilePath(cfg.Storage.DataDir)); err == nil {
			printStatus("PID", "%d", pid)
		}
	}

	printStatus("Endpoint", "%s", cfg.Provider.Endpoint)
	printStatus("Model", "%s", cfg.Provider.Model)
	if cfg.HasAPIKey() {
		printStatus("API key", "configured")
	} else {
		printStatus("API key", "missing (run `citeai config set-secret provider.api_key <key>`)")
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
