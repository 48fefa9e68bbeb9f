package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/phxlens/phxlens/pkg/registry"
	"github.com/phxlens/phxlens/pkg/workspace"
)

// jsonResult marshals a query result as indented JSON text content.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

// suggestionLimit caps fuzzy suggestions on lookup misses.
const suggestionLimit = 5

// --- routes ---

func (s *Server) handleListRoutes(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.dispatcher.Router().All())
}

func (s *Server) handleGetRoute(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.dispatcher.Router().FindByPath(path))
}

func (s *Server) handleRouteHelper(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	helper, err := req.RequireString("helper")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	router := s.dispatcher.Router()
	routes := router.FindByHelper(helper)

	resp := struct {
		Helper      string               `json:"helper"`
		Routes      []registry.RouteFact `json:"routes"`
		Suggestions []string             `json:"suggestions,omitempty"`
	}{Helper: helper, Routes: routes}
	if len(routes) == 0 {
		resp.Suggestions = router.SuggestHelpers(helper, suggestionLimit)
	}
	return jsonResult(resp)
}

func (s *Server) handleLiveRoutes(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.dispatcher.Router().LiveRoutes())
}

func (s *Server) handleForwardRoutes(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.dispatcher.Router().ForwardRoutes())
}

func (s *Server) handleResourceActions(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	helper, err := req.RequireString("helper")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(struct {
		Helper  string   `json:"helper"`
		Actions []string `json:"actions"`
	}{helper, s.dispatcher.Router().ActionsForHelper(helper)})
}

// --- components ---

func (s *Server) handleResolveComponent(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	module := req.GetString("module", "")
	fromFile := req.GetString("file", "")
	content := req.GetString("content", "")

	components := s.dispatcher.Components()
	fact := components.ResolveComponent(fromFile, name, registry.ResolveOpts{
		Module:      module,
		FileContent: []byte(content),
	})

	resp := struct {
		Resolved    bool                    `json:"resolved"`
		Component   *registry.ComponentFact `json:"component,omitempty"`
		Suggestions []string                `json:"suggestions,omitempty"`
	}{Resolved: fact != nil, Component: fact}
	if fact == nil {
		resp.Suggestions = components.SuggestComponents(name, suggestionLimit)
	}
	return jsonResult(resp)
}

func (s *Server) handleListComponents(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.dispatcher.Components().All())
}

func (s *Server) handleFileComponents(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.dispatcher.Components().ByFile(path))
}

// --- schemas ---

func (s *Server) handleGetSchema(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	module, err := req.RequireString("module")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	schemas := s.dispatcher.Schemas()
	fact := schemas.Get(module)
	if fact == nil {
		if resolved := schemas.ResolveModule(module, ""); resolved != "" {
			fact = schemas.Get(resolved)
		}
	}
	return jsonResult(struct {
		Found  bool                 `json:"found"`
		Schema *registry.SchemaFact `json:"schema,omitempty"`
	}{fact != nil, fact})
}

func (s *Server) handleSchemaFields(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	model, err := req.RequireString("model")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path := req.GetString("path", "")

	return jsonResult(struct {
		Model  string               `json:"model"`
		Path   string               `json:"path,omitempty"`
		Fields []registry.FieldFact `json:"fields"`
	}{model, path, s.dispatcher.Schemas().FieldsForPath(model, path)})
}

func (s *Server) handleResolveAlias(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ctxModule := req.GetString("context", "")

	return jsonResult(struct {
		Name     string `json:"name"`
		Resolved string `json:"resolved,omitempty"`
	}{name, s.dispatcher.Schemas().ResolveModule(name, ctxModule)})
}

// --- events ---

// clauseEvent is an EventFact with its handler clause source attached.
// The registry stores only byte offsets; the text is fetched from the
// source cache when a query asks for it.
type clauseEvent struct {
	registry.EventFact
	Clause string `json:"clause,omitempty"`
}

func (s *Server) withClauses(facts []registry.EventFact) []clauseEvent {
	out := make([]clauseEvent, 0, len(facts))
	for _, f := range facts {
		e := clauseEvent{EventFact: f}
		if f.EndByte > f.StartByte {
			// Missing or rewritten files just yield no clause text.
			if text, err := s.dispatcher.Sources().Slice(f.File, f.StartByte, f.EndByte); err == nil {
				e.Clause = text
			}
		}
		out = append(out, e)
	}
	return out
}

func (s *Server) handleTemplateEvents(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	owner := ""
	if fact := s.dispatcher.Templates().ByFile(path); fact != nil {
		owner = fact.ModuleSuffix
	}
	primary, secondary := s.dispatcher.Events().EventsForTemplate(owner)

	return jsonResult(struct {
		Path      string        `json:"path"`
		Module    string        `json:"module,omitempty"`
		Primary   []clauseEvent `json:"primary"`
		Secondary []clauseEvent `json:"secondary"`
	}{path, owner, s.withClauses(primary), s.withClauses(secondary)})
}

func (s *Server) handleEventExists(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	events := s.dispatcher.Events()
	exists := events.Exists(name)

	resp := struct {
		Name        string   `json:"name"`
		Exists      bool     `json:"exists"`
		Suggestions []string `json:"suggestions,omitempty"`
	}{Name: name, Exists: exists}
	if !exists {
		resp.Suggestions = events.SuggestEvents(name, suggestionLimit)
	}
	return jsonResult(resp)
}

func (s *Server) handleUnusedHandlers(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	module := req.GetString("module", "")
	return jsonResult(s.dispatcher.Events().UnusedHandlers(module))
}

// --- templates and render bindings ---

func (s *Server) handleGetTemplate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	module, err := req.RequireString("module")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	format := req.GetString("format", "")

	fact := s.dispatcher.Templates().Get(module, name, format)
	return jsonResult(struct {
		Found    bool                   `json:"found"`
		Template *registry.TemplateFact `json:"template,omitempty"`
	}{fact != nil, fact})
}

func (s *Server) handleTemplateUsage(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(struct {
		Path    string                               `json:"path"`
		Assigns map[string][]registry.RenderCallFact `json:"assigns"`
	}{path, s.dispatcher.Controllers().UsageSummary(path)})
}

// --- status ---

func (s *Server) handleScanStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	d := s.dispatcher
	return jsonResult(struct {
		Root       string                    `json:"root"`
		LastScan   *workspace.ScanStats      `json:"last_scan,omitempty"`
		Registries map[string]registry.Stats `json:"registries"`
	}{
		Root:     d.Root(),
		LastScan: d.LastScan(),
		Registries: map[string]registry.Stats{
			"router":      d.Router().Stats(),
			"components":  d.Components().Stats(),
			"schemas":     d.Schemas().Stats(),
			"events":      d.Events().Stats(),
			"templates":   d.Templates().Stats(),
			"controllers": d.Controllers().Stats(),
		},
	})
}
