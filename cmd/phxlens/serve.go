package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/phxlens/phxlens/pkg/mcp"
	"github.com/phxlens/phxlens/pkg/mcplog"
	"github.com/phxlens/phxlens/pkg/workspace"
)

// serveCommand scans the workspace, optionally starts the watcher, and
// blocks serving MCP tool calls on stdio until the client disconnects.
func serveCommand(c *cli.Context) error {
	app, err := buildApp(c)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := app.dispatcher.Scan(ctx, nil); err != nil {
		return fmt.Errorf("initial scan: %w", err)
	}

	if c.Bool("watch") {
		watcher, err := workspace.NewWatcher(app.dispatcher, workspace.WatchOptions{
			DebounceMs: app.cfg.Watch.DebounceMs,
			Ignore:     app.cfg.Watch.Ignore,
		}, app.logger)
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		if err := watcher.Start(app.root); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		defer func() { _ = watcher.Stop() }()
	}

	logPath := c.String("mcp-log")
	if logPath == "" {
		logPath = app.cfg.MCPLogPath
	}
	toolLog, err := mcplog.NewLogger(logPath)
	if err != nil {
		return err
	}
	if toolLog != nil {
		defer func() { _ = toolLog.Close() }()
	}

	app.logger.Info("serving MCP on stdio", "root", app.root, "watch", c.Bool("watch"))
	return mcp.NewServer(app.dispatcher, toolLog).ServeStdio()
}
