package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
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
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/appraise/internal/api"
	"github.com/kalambet/appraise/internal/blob"
	"github.com/kalambet/appraise/internal/config"
	"github.com/kalambet/appraise/internal/projector"
	"github.com/kalambet/appraise/internal/realtime"
	"github.com/kalambet/appraise/internal/reconcile"
	"github.com/kalambet/appraise/internal/session"
	"github.com/kalambet/appraise/internal/storage"
	"github.com/kalambet/appraise/internal/upload"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the appraise server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running appraise server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show appraise system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
}

// pidFile records the running server's process id under the data dir.
type pidFile string

func pidFileFor(dataDir string) pidFile {
	return pidFile(filepath.Join(dataDir, "appraise.pid"))
}

func (p pidFile) write() error {
	if err := os.MkdirAll(filepath.Dir(string(p)), 0o755); err != nil {
		return err
	}
	return os.WriteFile(string(p), strconv.AppendInt(nil, int64(os.Getpid()), 10), 0o644)
}

func (p pidFile) read() (int, error) {
	raw, err := os.ReadFile(string(p))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("corrupt PID file %s: %w", p, err)
	}
	return pid, nil
}

func (p pidFile) remove() { _ = os.Remove(string(p)) }

// probeHealth asks a server on the local port for /health and returns the
// HTTP status. An error means nothing answered.
func probeHealth(port int) (int, error) {
	c := &http.Client{Timeout: 2 * time.Second}
	resp, err := c.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func blobConfig(cfg config.Config) blob.Config {
	return blob.Config{
		Backend:  cfg.Blob.Backend,
		Root:     filepath.Join(cfg.Storage.DataDir, "blobs"),
		Bucket:   cfg.Blob.Bucket,
		Region:   cfg.Blob.Region,
		Endpoint: cfg.Blob.Endpoint,
	}
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "appraise version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := newLogger(cfg.Log.Level)
	slog.SetDefault(log)

	kc := config.NewKeychain()
	jwtSecret, err := config.Secret(kc, config.SecretJWT)
	if err != nil {
		return fmt.Errorf("initializing session secret: %w", err)
	}
	pipelineToken, err := config.Secret(kc, config.SecretPipeline)
	if err != nil {
		return fmt.Errorf("initializing pipeline token: %w", err)
	}
	log.Info("session secret and pipeline token available")

	pid := pidFileFor(cfg.Storage.DataDir)
	if _, err := probeHealth(cfg.Server.Port); err == nil {
		if n, perr := pid.read(); perr == nil {
			printWarning("appraise is already running (PID %d)", n)
			return fmt.Errorf("already running as PID %d", n)
		}
		printWarning("appraise is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("port %d is already serving appraise", cfg.Server.Port)
	}
	if err := pid.write(); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer pid.remove()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			log.Warn("closing storage", "error", cerr)
		}
	}()

	blobs, err := blob.Open(ctx, blobConfig(cfg))
	if err != nil {
		return fmt.Errorf("opening blob store: %w", err)
	}
	if c, ok := blobs.(io.Closer); ok {
		defer c.Close()
	}
	log.Info("blob store ready", "backend", cfg.Blob.Backend)

	hub := realtime.NewHub(store, log)
	store.SetChangeHook(hub.Notify)
	defer hub.Close()

	poll, err := cfg.ReconcilePoll()
	if err != nil {
		return err
	}
	worker := reconcile.NewWorker(store, blobs, poll)

	projOpts := projector.Options{StageMarkers: cfg.Projector.StageMarkers}
	uploads := upload.New(store, blobs, upload.Options{
		MaxBytes:  cfg.MaxUploadBytes(),
		VerifyPDF: cfg.Upload.VerifyPDF,
	}, log)

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{
		Addr: addr,
		Handler: api.NewAppHandler(api.AppDeps{
			Store:          store,
			Uploads:        uploads,
			Watcher:        hub,
			Verifier:       session.NewVerifier(jwtSecret),
			PipelineToken:  pipelineToken,
			Projector:      projOpts,
			MaxUploadBytes: cfg.MaxUploadBytes(),
			Logger:         log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "appraise listening on %s\n", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})

	if withMCP {
		// Not in the group: stdin EOF must not take the HTTP server down.
		mcpSrv := server.NewStdioServer(api.NewMCPServer(api.MCPDeps{Store: store, Projector: projOpts}))
		go func() {
			if err := mcpSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("mcp stdio", "error", err)
			}
		}()
		log.Info("serving MCP tools on stdio")
	}

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pid := pidFileFor(cfg.Storage.DataDir)
	n, err := pid.read()
	if err != nil {
		printError("appraise is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	// FindProcess never fails on unix; Signal reports a dead pid.
	proc, _ := os.FindProcess(n)
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop appraise (PID %d): %v", n, err)
		pid.remove()
		return err
	}

	printSuccess("Sent stop signal to appraise (PID %d)", n)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	switch code, err := probeHealth(cfg.Server.Port); {
	case err != nil:
		printStatus("Server", "stopped")
	case code == http.StatusOK:
		printStatus("Server", "running on port %d", cfg.Server.Port)
	default:
		printStatus("Server", "unhealthy (HTTP %d)", code)
	}

	printStatus("Blob backend", "%s", describeBlob(cfg))
	printStatus("PDF check", "%t", cfg.Upload.VerifyPDF)
	printStatus("Upload limit", "%d MB", cfg.Upload.MaxMB)

	if store, err := storage.Open(cfg.Storage.DataDir); err == nil {
		if n, err := store.CountJobs(storage.JobPending); err == nil {
			printStatus("Pending cleanups", "%d", n)
		}
		if n, err := store.CountJobs(storage.JobFailed); err == nil && n > 0 {
			printStatus("Failed cleanups", "%d", n)
		}
		store.Close()
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func describeBlob(cfg config.Config) string {
	switch cfg.Blob.Backend {
	case blob.BackendS3, blob.BackendGCS:
		return fmt.Sprintf("%s (bucket %s)", cfg.Blob.Backend, cfg.Blob.Bucket)
	default:
		return fmt.Sprintf("local (%s)", blobConfig(cfg).Root)
	}
}
