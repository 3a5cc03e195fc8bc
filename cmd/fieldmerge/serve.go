package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/untoldecay/fieldmerge/internal/config"
	"github.com/untoldecay/fieldmerge/internal/httpapi"
	"github.com/untoldecay/fieldmerge/internal/lockfile"
	"github.com/untoldecay/fieldmerge/internal/rpc"
)

var (
	serveHTTPAddr   string
	serveForeground bool
	serveStop       bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the migration daemon",
	Long: `Hosts the migration engine behind a unix socket in the data directory so
migrations outlive the CLI process. With --http (or daemon.http-addr) the same
operations are served as a JSON HTTP API.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		if serveStop {
			stopDaemon()
			return
		}
		if !cmd.Flags().Changed("http") {
			serveHTTPAddr = config.GetString("daemon.http-addr")
		}
		if err := runDaemon(cmd.Context()); err != nil {
			FatalError("%v", err)
		}
	},
}

func stopDaemon() {
	dataDir := config.DataDir()
	client, err := rpc.TryConnect(rpc.SocketPath(dataDir))
	if err != nil || client == nil {
		if running, pid := lockfile.DaemonRunning(dataDir); running {
			FatalError("daemon (pid %d) holds the lock but is not answering on %s", pid, rpc.SocketPath(dataDir))
		}
		fmt.Println("No daemon running")
		return
	}
	defer func() { _ = client.Close() }()
	if err := client.Shutdown(); err != nil {
		FatalError("stopping daemon: %v", err)
	}
	fmt.Println("Daemon stopped")
}

func runDaemon(ctx context.Context) error {
	dataDir := config.DataDir()
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return fmt.Errorf("cannot create data directory: %w", err)
	}

	lock, err := lockfile.AcquireDaemon(dataDir)
	if err != nil {
		if errors.Is(err, lockfile.ErrLocked) {
			_, pid := lockfile.DaemonRunning(dataDir)
			if lockfile.ProcessAlive(pid) {
				return fmt.Errorf("daemon already running (pid %d)", pid)
			}
			return fmt.Errorf("daemon lock %s is held", filepath.Join(dataDir, lockfile.DaemonLockName))
		}
		return err
	}
	defer func() { _ = lock.Release() }()

	log, closer := newDaemonLogger(config.LogSettings(), serveForeground)
	defer func() { _ = closer.Close() }()
	log.Info("daemon starting", "version", Version, "pid", os.Getpid(), "data_dir", dataDir)

	local, err := newLocalBackend(ctx, true, log.logger)
	if err != nil {
		log.Error("failed to initialize engine", "error", err)
		return err
	}
	defer func() {
		log.Info("waiting for running migrations")
		if err := local.Close(); err != nil {
			log.Warn("failed to close store", "error", err)
		}
	}()

	dbPath := ""
	if p := config.DBPath(); p != ":memory:" {
		if abs, err := filepath.Abs(p); err == nil {
			dbPath = abs
		}
	}

	rpc.ServerVersion = Version
	socketPath := rpc.SocketPath(dataDir)
	server := rpc.NewServer(socketPath, local.Service, rpc.ServerOptions{
		DatabasePath:   dbPath,
		MaxConns:       config.GetInt("daemon.max-conns"),
		RequestTimeout: config.GetDuration("daemon.request-timeout"),
		Logger:         log.logger,
	})
	serverErr := make(chan error, 2)
	go func() {
		if err := server.Start(ctx); err != nil {
			serverErr <- fmt.Errorf("rpc server: %w", err)
		}
	}()
	if err := server.WaitReady(5 * time.Second); err != nil {
		select {
		case err := <-serverErr:
			return err
		default:
			log.Warn("rpc server didn't signal ready after 5 seconds (may still be starting)")
		}
	}
	log.log("RPC server listening on %s", socketPath)

	var httpServer *http.Server
	if serveHTTPAddr != "" {
		httpServer = httpapi.NewServer(serveHTTPAddr, httpapi.New(local.Service, Version, log.logger).Router())
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- fmt.Errorf("http server: %w", err)
			}
		}()
		log.log("HTTP API listening on %s", serveHTTPAddr)
	}

	if serveForeground {
		fmt.Fprintf(os.Stderr, "fieldmerge daemon %s listening on %s (Ctrl-C to stop)\n", Version, socketPath)
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case <-server.Done():
		log.Info("shutdown requested over rpc")
	case runErr = <-serverErr:
		log.Error("server failed", "error", runErr)
	}

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", "error", err)
		}
		cancel()
	}
	_ = server.Stop()
	log.Info("daemon stopped")
	return runErr
}

func init() {
	serveCmd.Flags().StringVar(&serveHTTPAddr, "http", "", "Also serve the HTTP API on this address (e.g. :8080)")
	serveCmd.Flags().BoolVar(&serveForeground, "foreground", true, "Mirror daemon logs to stderr")
	serveCmd.Flags().BoolVar(&serveStop, "stop", false, "Stop the running daemon")
	rootCmd.AddCommand(serveCmd)
}
