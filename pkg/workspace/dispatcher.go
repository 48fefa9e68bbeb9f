package workspace

import (
	"log/slog"
	"sync"

	"github.com/phxlens/phxlens/pkg/parser"
	"github.com/phxlens/phxlens/pkg/registry"
	"github.com/phxlens/phxlens/pkg/util"
)

// Dispatcher routes file notifications to every registry. Each registry
// decides relevance from the path and content on its own, and its
// content hash gate turns duplicate notifications into no-ops, so the
// dispatcher can fan out every change unconditionally.
//
// Template files take a different path than Elixir source: they are
// scanned once by the template scanner and the extracted facts feed the
// templates registry, the events usage table, and the controller
// binding together.
type Dispatcher struct {
	router      *registry.RouterRegistry
	components  *registry.ComponentsRegistry
	schemas     *registry.SchemaRegistry
	events      *registry.EventsRegistry
	templates   *registry.TemplatesRegistry
	controllers *registry.ControllersRegistry

	scanner *parser.TemplateScanner
	trees   *parser.TreeCache
	sources util.SourceCache

	opts   ScanOptions
	logger *slog.Logger

	mu       sync.RWMutex
	root     string
	lastScan *ScanStats
}

// DispatcherDeps bundles what the dispatcher coordinates.
type DispatcherDeps struct {
	Router      *registry.RouterRegistry
	Components  *registry.ComponentsRegistry
	Schemas     *registry.SchemaRegistry
	Events      *registry.EventsRegistry
	Templates   *registry.TemplatesRegistry
	Controllers *registry.ControllersRegistry

	Scanner *parser.TemplateScanner
	Trees   *parser.TreeCache
	Sources util.SourceCache
}

// NewDispatcher wires the registries behind one notification surface.
func NewDispatcher(deps DispatcherDeps, opts ScanOptions, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		router:      deps.Router,
		components:  deps.Components,
		schemas:     deps.Schemas,
		events:      deps.Events,
		templates:   deps.Templates,
		controllers: deps.Controllers,
		scanner:     deps.Scanner,
		trees:       deps.Trees,
		sources:     deps.Sources,
		opts:        opts,
		logger:      logger,
	}
}

// SetRoot records the workspace root used by Scan and the watcher.
func (d *Dispatcher) SetRoot(root string) {
	d.mu.Lock()
	d.root = root
	d.mu.Unlock()
}

// Root returns the workspace root.
func (d *Dispatcher) Root() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.root
}

// FileOpened indexes a newly opened document. Same routing as
// FileChanged; the hash gates absorb the duplicate when the editor
// sends both.
func (d *Dispatcher) FileOpened(path string, content []byte) {
	if d.applyFile(path, content) {
		d.controllers.Rebuild()
	}
}

// FileChanged re-indexes a changed document.
func (d *Dispatcher) FileChanged(path string, content []byte) {
	if d.applyFile(path, content) {
		d.controllers.Rebuild()
	}
}

// FileClosed destroys every fact derived from the path and drops its
// cache entries. Closing is the only way facts leave the registries, so
// this removes unconditionally instead of checking relevance.
func (d *Dispatcher) FileClosed(path string) {
	if parser.IsTemplateFile(path) {
		d.templates.RemoveFile(path)
		d.events.RemoveTemplateUsage(path)
		d.controllers.Rebuild()
	} else {
		d.router.RemoveFile(path)
		d.components.RemoveFile(path)
		d.schemas.RemoveFile(path)
		d.events.RemoveFile(path)
		d.controllers.RemoveFile(path)
	}

	d.trees.Remove(path)
	d.sources.Invalidate(path)
	util.Debugf(util.DebugWatcher, "file closed", "path", path)
}

// applyFile routes content to the registries that want it and reports
// whether template facts changed, so callers can coalesce the
// controller rebind (per change interactively, once per scan).
func (d *Dispatcher) applyFile(path string, content []byte) bool {
	if parser.IsTemplateFile(path) {
		return d.applyTemplate(path, content)
	}

	d.router.UpdateFile(path, content)
	d.components.UpdateFile(path, content)
	d.schemas.UpdateFile(path, content)
	d.events.UpdateFile(path, content)
	d.controllers.UpdateFile(path, content)
	d.sources.Invalidate(path)
	return false
}

// applyTemplate runs the template scan once and feeds every consumer
// of its facts. The Changed pre-check keeps an unchanged template from
// paying for a tree-sitter parse.
func (d *Dispatcher) applyTemplate(path string, content []byte) bool {
	if !d.templates.Changed(path, content) {
		return false
	}

	facts := d.scanner.Scan(path, content)

	d.templates.UpdateFile(path, content, assignNames(facts.Assigns))

	owner := ""
	if f := d.templates.ByFile(path); f != nil {
		owner = f.ModuleSuffix
	}
	d.events.SetTemplateUsage(path, owner, eventNames(facts.Events))

	d.sources.Invalidate(path)
	return true
}

func assignNames(assigns []parser.AssignUse) []string {
	var names []string
	seen := make(map[string]bool, len(assigns))
	for _, a := range assigns {
		if !seen[a.Name] {
			seen[a.Name] = true
			names = append(names, a.Name)
		}
	}
	return names
}

func eventNames(events []parser.EventUse) []string {
	var names []string
	seen := make(map[string]bool, len(events))
	for _, e := range events {
		if !seen[e.Name] {
			seen[e.Name] = true
			names = append(names, e.Name)
		}
	}
	return names
}

func (d *Dispatcher) setLastScan(stats *ScanStats) {
	d.mu.Lock()
	d.lastScan = stats
	d.mu.Unlock()
}

// LastScan returns the stats of the most recent scan, or nil before the
// first one.
func (d *Dispatcher) LastScan() *ScanStats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastScan
}

// Registry accessors for the query surface.

func (d *Dispatcher) Router() *registry.RouterRegistry { return d.router }

func (d *Dispatcher) Components() *registry.ComponentsRegistry { return d.components }

func (d *Dispatcher) Schemas() *registry.SchemaRegistry { return d.schemas }

func (d *Dispatcher) Events() *registry.EventsRegistry { return d.events }

func (d *Dispatcher) Templates() *registry.TemplatesRegistry { return d.templates }

func (d *Dispatcher) Controllers() *registry.ControllersRegistry { return d.controllers }

func (d *Dispatcher) Sources() util.SourceCache { return d.sources }
