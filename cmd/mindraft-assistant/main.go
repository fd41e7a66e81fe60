// Command mindraft-assistant opens one note through the gateway and serves it
// to an AI chat assistant as MCP tools over stdio. Inserted suggestions are
// autosaved like any other edit and flushed on exit.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mindraft/mindraft-core/assistant"
	"github.com/mindraft/mindraft-core/config"
	"github.com/mindraft/mindraft-core/editor"
	"github.com/mindraft/mindraft-core/ipc"
	"github.com/mindraft/mindraft-core/logger"
	"github.com/mindraft/mindraft-core/metrics"
	"github.com/mindraft/mindraft-core/paths"
)

const version = "0.1.0"

var (
	socketFlag = flag.String("socket", "", "Gateway socket path (default: state directory)")
	fileFlag   = flag.String("file", "", "Note to open")
	debugFlag  = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "mindraft-assistant:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	if *fileFlag == "" {
		return errors.New("-file is required")
	}

	prefs, err := config.LoadPreferences()
	if err != nil {
		return err
	}

	// Stdout carries the MCP protocol, so logs go to a file only.
	logger.SetDebug(*debugFlag || prefs.Debug)
	logPath, err := logger.DefaultLogPath()
	if err != nil {
		return err
	}
	if err := logger.Init(logPath); err != nil {
		return err
	}
	defer logger.Close()
	log := logger.WithComponent("assistant-main")

	socketPath := *socketFlag
	if socketPath == "" {
		if socketPath, err = paths.SocketPath(); err != nil {
			return err
		}
	}
	client, err := ipc.Dial(ctx, socketPath)
	if err != nil {
		return fmt.Errorf("failed to reach gateway at %s: %w", socketPath, err)
	}
	defer client.Close()

	ctl := editor.New(client, editor.WithPreferences(prefs), editor.WithAutosaveHandler(func(path string, err error) {
		if err != nil {
			log.Error("autosave failed", "path", path, "error", err)
		}
	}))
	if err := ctl.OpenFile(ctx, *fileFlag); err != nil {
		return err
	}

	srv := assistant.NewServer(ctl, version)
	serveErr := srv.ServeStdio()

	if ctl.IsDirty() {
		if err := ctl.SaveAs(context.Background(), metrics.TriggerClose); err != nil {
			log.Error("final save failed", "path", ctl.CurrentFile(), "error", err)
			if serveErr == nil {
				serveErr = err
			}
		}
	}
	ctl.RequestClose()
	return serveErr
}
