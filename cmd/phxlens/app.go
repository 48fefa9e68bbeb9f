package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/phxlens/phxlens/pkg/config"
	"github.com/phxlens/phxlens/pkg/parser"
	"github.com/phxlens/phxlens/pkg/registry"
	"github.com/phxlens/phxlens/pkg/util"
	"github.com/phxlens/phxlens/pkg/workspace"
)

// appContext is the assembled stack behind every command: config,
// logger, and the dispatcher wired to all six registries.
type appContext struct {
	cfg        *config.Config
	root       string
	logger     *slog.Logger
	dispatcher *workspace.Dispatcher
	cleanups   []func()
}

func (a *appContext) Close() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
}

// buildApp loads configuration, applies CLI overrides, and constructs
// the parser stack, registries, and dispatcher.
func buildApp(c *cli.Context) (*appContext, error) {
	root := c.String("root")
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		root = wd
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %q: %w", root, err)
	}

	configDir := c.String("config")
	if configDir == "" {
		configDir = absRoot
	}
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, err
	}
	absRoot = cfg.EffectiveRoot(absRoot)

	lc := cfg.LoggerConfig()
	if lvl := c.String("log-level"); lvl != "" {
		lc.Level = lvl
	}
	if format := c.String("log-format"); format != "" {
		lc.Format = format
	}
	logger := util.NewLogger(lc)
	util.SetDefault(logger)

	if spec := c.String("debug"); spec != "" {
		util.SetDebugCategories(spec)
	}

	app := &appContext{cfg: cfg, root: absRoot, logger: logger}

	pm := parser.NewParserManager(logger)
	app.cleanups = append(app.cleanups, func() { _ = pm.Close() })
	qm := parser.NewQueryManager(pm, logger)
	app.cleanups = append(app.cleanups, func() { _ = qm.Close() })

	trees, err := parser.NewTreeCache(pm, cfg.TreeCacheCapacity, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.cleanups = append(app.cleanups, trees.Purge)

	scanner := parser.NewTemplateScanner(qm, trees, logger)

	sources := util.NewSourceCache(64, logger)
	app.cleanups = append(app.cleanups, func() { _ = sources.Close() })

	templates := registry.NewTemplatesRegistry(logger)
	dispatcher := workspace.NewDispatcher(workspace.DispatcherDeps{
		Router:      registry.NewRouterRegistry(logger),
		Components:  registry.NewComponentsRegistry(logger),
		Schemas:     registry.NewSchemaRegistry(logger),
		Events:      registry.NewEventsRegistry(logger),
		Templates:   templates,
		Controllers: registry.NewControllersRegistry(templates, logger),
		Scanner:     scanner,
		Trees:       trees,
		Sources:     sources,
	}, workspace.ScanOptions{
		Include: cfg.Include,
		Exclude: cfg.Exclude,
	}, logger)
	dispatcher.SetRoot(absRoot)

	app.dispatcher = dispatcher
	return app, nil
}
