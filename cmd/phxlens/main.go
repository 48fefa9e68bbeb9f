// Command phxlens indexes a Phoenix project into fact registries and
// serves point lookups over MCP stdio.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Version is set at build time via ldflags.
var Version = "0.1.0-dev"

func main() {
	if err := newCLIApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newCLIApp() *cli.App {
	return &cli.App{
		Name:    "phxlens",
		Usage:   "Source-fact registries for Phoenix projects, queryable over MCP",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "Workspace root to index (default: current directory)",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Directory holding .phxlens.yml (default: the root)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format: text or json",
			},
			&cli.StringFlag{
				Name:  "debug",
				Usage: "Comma-separated debug categories (router, schema, ...) or \"all\"",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Scan the workspace, then answer MCP tool calls on stdio",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "watch",
						Aliases: []string{"w"},
						Usage:   "Keep registries fresh from filesystem changes",
					},
					&cli.StringFlag{
						Name:  "mcp-log",
						Usage: "JSONL file recording every tool call (overrides config)",
					},
				},
				Action: serveCommand,
			},
			{
				Name:  "scan",
				Usage: "One-shot workspace scan; print what the registries extracted",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "json",
						Aliases: []string{"j"},
						Usage:   "Dump every fact as JSON instead of a summary",
					},
				},
				Action: scanCommand,
			},
			{
				Name:   "routes",
				Usage:  "Print the route table, mix phx.routes style",
				Action: routesCommand,
			},
			{
				Name:  "version",
				Usage: "Print the phxlens version",
				Action: func(c *cli.Context) error {
					fmt.Fprintln(c.App.Writer, "phxlens "+Version)
					return nil
				},
			},
		},
	}
}
