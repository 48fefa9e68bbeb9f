package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/phxlens/phxlens/pkg/registry"
)

// scanCommand runs one workspace scan and prints either a summary or a
// full JSON fact dump.
func scanCommand(c *cli.Context) error {
	app, err := buildApp(c)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats, err := app.dispatcher.Scan(ctx, nil)
	if err != nil {
		return err
	}

	if c.Bool("json") {
		d := app.dispatcher
		dump := struct {
			Root        string                    `json:"root"`
			Routes      []registry.RouteFact      `json:"routes"`
			Components  []registry.ComponentFact  `json:"components"`
			Schemas     []registry.SchemaFact     `json:"schemas"`
			Events      []registry.EventFact      `json:"events"`
			Templates   []registry.TemplateFact   `json:"templates"`
			RenderCalls []registry.RenderCallFact `json:"render_calls"`
		}{
			Root:        app.root,
			Routes:      d.Router().All(),
			Components:  d.Components().All(),
			Schemas:     d.Schemas().All(),
			Events:      d.Events().All(),
			Templates:   d.Templates().All(),
			RenderCalls: d.Controllers().RenderCalls(),
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(dump)
	}

	d := app.dispatcher
	fmt.Printf("Scanned %s\n", app.root)
	fmt.Printf("  files:       %d applied, %d failed (%dms)\n",
		stats.FilesApplied, stats.FilesFailed, stats.TotalMs)
	fmt.Printf("  routes:      %d\n", d.Router().Stats().Facts)
	fmt.Printf("  components:  %d\n", d.Components().Stats().Facts)
	fmt.Printf("  schemas:     %d\n", d.Schemas().Stats().Facts)
	fmt.Printf("  events:      %d\n", d.Events().Stats().Facts)
	fmt.Printf("  templates:   %d\n", d.Templates().Stats().Facts)
	fmt.Printf("  renders:     %d\n", d.Controllers().Stats().Facts)
	return nil
}

// routesCommand prints the route table the way mix phx.routes does:
// helper, verb, path, and the handling module and action.
func routesCommand(c *cli.Context) error {
	app, err := buildApp(c)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := app.dispatcher.Scan(ctx, nil); err != nil {
		return err
	}

	routes := app.dispatcher.Router().All()
	if len(routes) == 0 {
		fmt.Println("No routes found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, r := range routes {
		target := r.Controller
		if r.Action != "" {
			target += " :" + r.Action
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Helper, r.Verb, r.Path, target)
	}
	return w.Flush()
}
