// Command mindraft-gateway serves workspace and file persistence to the UI
// over a Unix socket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mindraft/mindraft-core/config"
	"github.com/mindraft/mindraft-core/gateway"
	"github.com/mindraft/mindraft-core/ipc"
	"github.com/mindraft/mindraft-core/logger"
	"github.com/mindraft/mindraft-core/metrics"
	"github.com/mindraft/mindraft-core/paths"
)

const version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "mindraft-gateway:", err)
		os.Exit(1)
	}
}

type options struct {
	showVersion bool
	clearLogs   bool
	debug       bool
	socketPath  string
	prefsPath   string
	metricsAddr string
	logPath     string
}

func parseFlags(args []string) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("mindraft-gateway", flag.ContinueOnError)
	fs.BoolVar(&opts.showVersion, "version", false, "Print version and exit")
	fs.BoolVar(&opts.clearLogs, "clear-logs", false, "Remove log files and exit")
	fs.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	fs.StringVar(&opts.socketPath, "socket", "", "Unix socket path (default: state directory)")
	fs.StringVar(&opts.prefsPath, "prefs", "", "Preferences file (default: config directory)")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "host:port to serve /metrics on (overrides preferences)")
	fs.StringVar(&opts.logPath, "log", "", "Log file path (default: logs directory)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return opts, nil
}

func loadPreferences(path string) (*config.Preferences, error) {
	if path != "" {
		return config.LoadPreferencesFrom(path)
	}
	return config.LoadPreferences()
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Fprintln(stdout, "mindraft-gateway", version)
		return nil
	}
	if opts.clearLogs {
		n, err := logger.ClearLogs()
		if err != nil {
			return fmt.Errorf("failed to clear logs: %w", err)
		}
		fmt.Fprintf(stdout, "Removed %d log file(s)\n", n)
		return nil
	}

	prefs, err := loadPreferences(opts.prefsPath)
	if err != nil {
		return err
	}

	logger.SetDebug(opts.debug || prefs.Debug)
	logPath := opts.logPath
	if logPath == "" {
		if logPath, err = logger.GatewayLogPath(); err != nil {
			return err
		}
	}
	if err := logger.Init(logPath); err != nil {
		return err
	}
	defer logger.Close()
	log := logger.WithComponent("main")

	socketPath := opts.socketPath
	if socketPath == "" {
		if socketPath, err = paths.SocketPath(); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(socketPath), 0700); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	srv, err := ipc.NewServer(socketPath, gateway.NewFS(prefs))
	if err != nil {
		return err
	}
	srv.Start()
	srv.WaitReady()
	log.Info("gateway started", "version", version, "socket", socketPath, "legacyLayout", paths.IsLegacyLayout())

	metricsAddr := opts.metricsAddr
	if metricsAddr == "" {
		metricsAddr = prefs.MetricsAddr
	}
	var httpSrv *http.Server
	errCh := make(chan error, 1)
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		httpSrv = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info("serving metrics", "addr", metricsAddr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-errCh:
		log.Error("fatal server error", "error", runErr)
	}

	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics shutdown", "error", err)
		}
	}
	if err := srv.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
