package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phxlens/phxlens/pkg/parser"
	"github.com/phxlens/phxlens/pkg/registry"
	"github.com/phxlens/phxlens/pkg/util"
	"github.com/phxlens/phxlens/pkg/workspace"
)

// --- helpers ---

const testRouterSource = `defmodule ShopWeb.Router do
  use ShopWeb, :router

  scope "/", ShopWeb do
    get "/", PageController, :home
    live "/dashboard", DashboardLive, :index
    forward "/jobs", JobPlug

    resources "/orders", OrderController, only: [:index, :show]
  end
end
`

const testComponentSource = `defmodule ShopWeb.CoreComponents do
  use Phoenix.Component

  attr :type, :string, default: "button", values: ["button", "submit"]
  attr :label, :string, required: true
  def button(assigns) do
  end
end
`

const testSchemaSource = `defmodule Shop.Accounts.User do
  use Ecto.Schema
  alias Shop.Accounts.Profile

  schema "users" do
    field :email, :string
    belongs_to :profile, Profile
  end
end

defmodule Shop.Accounts.Profile do
  use Ecto.Schema

  schema "profiles" do
    field :bio, :string
  end
end
`

const testLiveSource = `defmodule ShopWeb.CartLive do
  use ShopWeb, :live_view

  def handle_event("checkout", _params, socket) do
    {:noreply, socket}
  end

  def handle_event("clear", _params, socket), do: {:noreply, socket}
end
`

const testTemplateSource = `<h1>{@total}</h1>
<button phx-click="checkout">Checkout</button>
`

func newTestDispatcher(t *testing.T) *workspace.Dispatcher {
	t.Helper()
	logger := util.NewLogger(util.DefaultLoggerConfig())

	pm := parser.NewParserManager(logger)
	t.Cleanup(func() { _ = pm.Close() })
	qm := parser.NewQueryManager(pm, logger)
	t.Cleanup(func() { _ = qm.Close() })

	trees, err := parser.NewTreeCache(pm, parser.DefaultTreeCacheCapacity, logger)
	require.NoError(t, err)
	t.Cleanup(trees.Purge)

	scanner := parser.NewTemplateScanner(qm, trees, logger)
	scanner.SetForceFallback(true)

	sources := util.NewSourceCache(16, logger)
	t.Cleanup(func() { _ = sources.Close() })

	templates := registry.NewTemplatesRegistry(logger)
	return workspace.NewDispatcher(workspace.DispatcherDeps{
		Router:      registry.NewRouterRegistry(logger),
		Components:  registry.NewComponentsRegistry(logger),
		Schemas:     registry.NewSchemaRegistry(logger),
		Events:      registry.NewEventsRegistry(logger),
		Templates:   templates,
		Controllers: registry.NewControllersRegistry(templates, logger),
		Scanner:     scanner,
		Trees:       trees,
		Sources:     sources,
	}, workspace.DefaultScanOptions(), logger)
}

func testServer(t *testing.T) *Server {
	t.Helper()
	d := newTestDispatcher(t)

	d.SetRoot("/srv/shop")
	d.FileChanged("lib/shop_web/router.ex", []byte(testRouterSource))
	d.FileChanged("lib/shop_web/components/core_components.ex", []byte(testComponentSource))
	d.FileChanged("lib/shop/accounts/user.ex", []byte(testSchemaSource))
	d.FileChanged("lib/shop_web/live/cart_live.ex", []byte(testLiveSource))
	d.FileChanged("lib/shop_web/live/cart_live.html.heex", []byte(testTemplateSource))

	return NewServer(d, nil)
}

func makeRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	var arguments any
	if args != nil {
		arguments = args
	}
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: arguments,
		},
	}
}

func callTool(t *testing.T, s *Server, req mcp.CallToolRequest) *mcp.CallToolResult {
	t.Helper()
	var handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

	switch req.Params.Name {
	case "list_routes":
		handler = s.handleListRoutes
	case "get_route":
		handler = s.handleGetRoute
	case "route_helper":
		handler = s.handleRouteHelper
	case "live_routes":
		handler = s.handleLiveRoutes
	case "forward_routes":
		handler = s.handleForwardRoutes
	case "resource_actions":
		handler = s.handleResourceActions
	case "resolve_component":
		handler = s.handleResolveComponent
	case "list_components":
		handler = s.handleListComponents
	case "file_components":
		handler = s.handleFileComponents
	case "get_schema":
		handler = s.handleGetSchema
	case "schema_fields":
		handler = s.handleSchemaFields
	case "resolve_alias":
		handler = s.handleResolveAlias
	case "template_events":
		handler = s.handleTemplateEvents
	case "event_exists":
		handler = s.handleEventExists
	case "unused_handlers":
		handler = s.handleUnusedHandlers
	case "get_template":
		handler = s.handleGetTemplate
	case "template_usage":
		handler = s.handleTemplateUsage
	case "scan_status":
		handler = s.handleScanStatus
	default:
		t.Fatalf("unknown tool: %s", req.Params.Name)
	}

	result, err := handler(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func resultJSON(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	textContent, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return textContent.Text
}

// --- routes ---

func TestHandleListRoutes(t *testing.T) {
	s := testServer(t)
	result := callTool(t, s, makeRequest("list_routes", nil))
	assert.False(t, result.IsError)

	var routes []map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultJSON(t, result)), &routes))
	// home + live + forward + two resource actions
	assert.Len(t, routes, 5)
}

func TestHandleGetRoute(t *testing.T) {
	s := testServer(t)
	result := callTool(t, s, makeRequest("get_route", map[string]any{"path": "/"}))

	var routes []map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultJSON(t, result)), &routes))
	require.Len(t, routes, 1)
	assert.Equal(t, "ShopWeb.PageController", routes[0]["controller"])
	assert.Equal(t, "home", routes[0]["action"])
}

func TestHandleGetRoute_MissIsEmptyNotError(t *testing.T) {
	s := testServer(t)
	result := callTool(t, s, makeRequest("get_route", map[string]any{"path": "/nope"}))
	assert.False(t, result.IsError)

	var routes []map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultJSON(t, result)), &routes))
	assert.Empty(t, routes)
}

func TestHandleGetRoute_MissingArg(t *testing.T) {
	s := testServer(t)
	result := callTool(t, s, makeRequest("get_route", nil))
	assert.True(t, result.IsError)
}

func TestHandleRouteHelper_MissSuggests(t *testing.T) {
	s := testServer(t)
	result := callTool(t, s, makeRequest("route_helper", map[string]any{"helper": "ordre"}))

	var resp struct {
		Routes      []map[string]any `json:"routes"`
		Suggestions []string         `json:"suggestions"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultJSON(t, result)), &resp))
	assert.Empty(t, resp.Routes)
	assert.Contains(t, resp.Suggestions, "order")
}

func TestHandleResourceActions(t *testing.T) {
	s := testServer(t)
	result := callTool(t, s, makeRequest("resource_actions", map[string]any{"helper": "order"}))

	var resp struct {
		Actions []string `json:"actions"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultJSON(t, result)), &resp))
	assert.ElementsMatch(t, []string{"index", "show"}, resp.Actions)
}

func TestHandleLiveAndForwardRoutes(t *testing.T) {
	s := testServer(t)

	var live []map[string]any
	require.NoError(t, json.Unmarshal(
		[]byte(resultJSON(t, callTool(t, s, makeRequest("live_routes", nil)))), &live))
	require.Len(t, live, 1)
	assert.Equal(t, "/dashboard", live[0]["path"])

	var fwd []map[string]any
	require.NoError(t, json.Unmarshal(
		[]byte(resultJSON(t, callTool(t, s, makeRequest("forward_routes", nil)))), &fwd))
	require.Len(t, fwd, 1)
	assert.Equal(t, "/jobs", fwd[0]["path"])
}

// --- components ---

func TestHandleResolveComponent(t *testing.T) {
	s := testServer(t)
	result := callTool(t, s, makeRequest("resolve_component", map[string]any{"name": "button"}))

	var resp struct {
		Resolved  bool `json:"resolved"`
		Component struct {
			Module string           `json:"module"`
			Attrs  []map[string]any `json:"attrs"`
		} `json:"component"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultJSON(t, result)), &resp))
	require.True(t, resp.Resolved)
	assert.Equal(t, "ShopWeb.CoreComponents", resp.Component.Module)
	assert.Len(t, resp.Component.Attrs, 2)
}

func TestHandleResolveComponent_UnsavedFileContent(t *testing.T) {
	s := testServer(t)
	buffer := `defmodule ShopWeb.ProfileLive do
  use ShopWeb, :live_view

  attr :size, :string, default: "md"

  def avatar(assigns) do
    ~H"<img />"
  end
end
`
	result := callTool(t, s, makeRequest("resolve_component", map[string]any{
		"name":    "avatar",
		"file":    "lib/shop_web/live/profile_live.ex",
		"content": buffer,
	}))

	var resp struct {
		Resolved  bool `json:"resolved"`
		Component struct {
			Module string `json:"module"`
		} `json:"component"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultJSON(t, result)), &resp))
	require.True(t, resp.Resolved, "an unsaved buffer resolves its own components")
	assert.Equal(t, "ShopWeb.ProfileLive", resp.Component.Module)
}

func TestHandleResolveComponent_MissSuggests(t *testing.T) {
	s := testServer(t)
	result := callTool(t, s, makeRequest("resolve_component", map[string]any{"name": "buton"}))

	var resp struct {
		Resolved    bool     `json:"resolved"`
		Suggestions []string `json:"suggestions"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultJSON(t, result)), &resp))
	assert.False(t, resp.Resolved)
	assert.Contains(t, resp.Suggestions, "button")
}

func TestHandleFileComponents(t *testing.T) {
	s := testServer(t)
	result := callTool(t, s, makeRequest("file_components", map[string]any{
		"path": "lib/shop_web/components/core_components.ex",
	}))

	var comps []map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultJSON(t, result)), &comps))
	require.Len(t, comps, 1)
	assert.Equal(t, "button", comps[0]["name"])
}

// --- schemas ---

func TestHandleGetSchema(t *testing.T) {
	s := testServer(t)
	result := callTool(t, s, makeRequest("get_schema", map[string]any{"module": "Shop.Accounts.User"}))

	var resp struct {
		Found  bool `json:"found"`
		Schema struct {
			Table  string           `json:"table"`
			Fields []map[string]any `json:"fields"`
		} `json:"schema"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultJSON(t, result)), &resp))
	require.True(t, resp.Found)
	assert.Equal(t, "users", resp.Schema.Table)
}

func TestHandleGetSchema_ShortName(t *testing.T) {
	s := testServer(t)
	result := callTool(t, s, makeRequest("get_schema", map[string]any{"module": "Profile"}))

	var resp struct {
		Found bool `json:"found"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultJSON(t, result)), &resp))
	assert.True(t, resp.Found, "a unique suffix should resolve")
}

func TestHandleSchemaFields_NestedPath(t *testing.T) {
	s := testServer(t)
	result := callTool(t, s, makeRequest("schema_fields", map[string]any{
		"model": "Shop.Accounts.User",
		"path":  "profile",
	}))

	var resp struct {
		Fields []map[string]any `json:"fields"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultJSON(t, result)), &resp))

	names := make([]string, 0, len(resp.Fields))
	for _, f := range resp.Fields {
		names = append(names, f["name"].(string))
	}
	assert.Contains(t, names, "bio")
}

func TestHandleSchemaFields_BrokenPathIsEmpty(t *testing.T) {
	s := testServer(t)
	result := callTool(t, s, makeRequest("schema_fields", map[string]any{
		"model": "Shop.Accounts.User",
		"path":  "profile.missing",
	}))
	assert.False(t, result.IsError)

	var resp struct {
		Fields []map[string]any `json:"fields"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultJSON(t, result)), &resp))
	assert.Empty(t, resp.Fields)
}

func TestHandleResolveAlias(t *testing.T) {
	s := testServer(t)
	result := callTool(t, s, makeRequest("resolve_alias", map[string]any{
		"name":    "Profile",
		"context": "Shop.Accounts.User",
	}))

	var resp struct {
		Resolved string `json:"resolved"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultJSON(t, result)), &resp))
	assert.Equal(t, "Shop.Accounts.Profile", resp.Resolved)
}

// --- events ---

func TestHandleTemplateEvents(t *testing.T) {
	s := testServer(t)
	result := callTool(t, s, makeRequest("template_events", map[string]any{
		"path": "lib/shop_web/live/cart_live.html.heex",
	}))

	var resp struct {
		Module  string           `json:"module"`
		Primary []map[string]any `json:"primary"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultJSON(t, result)), &resp))
	assert.Equal(t, "CartLive", resp.Module)
	require.Len(t, resp.Primary, 2)
}

func TestHandleTemplateEvents_IncludesClauseSource(t *testing.T) {
	d := newTestDispatcher(t)
	root := t.TempDir()
	d.SetRoot(root)

	liveDir := filepath.Join(root, "lib", "shop_web", "live")
	require.NoError(t, os.MkdirAll(liveDir, 0o755))
	livePath := filepath.Join(liveDir, "cart_live.ex")
	tplPath := filepath.Join(liveDir, "cart_live.html.heex")
	require.NoError(t, os.WriteFile(livePath, []byte(testLiveSource), 0o644))
	require.NoError(t, os.WriteFile(tplPath, []byte(testTemplateSource), 0o644))
	d.FileChanged(livePath, []byte(testLiveSource))
	d.FileChanged(tplPath, []byte(testTemplateSource))

	s := NewServer(d, nil)
	result := callTool(t, s, makeRequest("template_events", map[string]any{"path": tplPath}))

	var resp struct {
		Primary []struct {
			Name   string `json:"name"`
			Clause string `json:"clause"`
		} `json:"primary"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultJSON(t, result)), &resp))
	require.Len(t, resp.Primary, 2)

	clauses := make(map[string]string, len(resp.Primary))
	for _, ev := range resp.Primary {
		clauses[ev.Name] = ev.Clause
	}
	assert.Contains(t, clauses["checkout"], `def handle_event("checkout"`)
	assert.Contains(t, clauses["checkout"], "{:noreply, socket}")
	assert.Contains(t, clauses["clear"], `do: {:noreply, socket}`)
}

func TestHandleEventExists(t *testing.T) {
	s := testServer(t)

	var resp struct {
		Exists      bool     `json:"exists"`
		Suggestions []string `json:"suggestions"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultJSON(t,
		callTool(t, s, makeRequest("event_exists", map[string]any{"name": "checkout"})))), &resp))
	assert.True(t, resp.Exists)

	require.NoError(t, json.Unmarshal([]byte(resultJSON(t,
		callTool(t, s, makeRequest("event_exists", map[string]any{"name": "checkuot"})))), &resp))
	assert.False(t, resp.Exists)
	assert.Contains(t, resp.Suggestions, "checkout")
}

func TestHandleUnusedHandlers(t *testing.T) {
	s := testServer(t)
	result := callTool(t, s, makeRequest("unused_handlers", map[string]any{
		"module": "ShopWeb.CartLive",
	}))

	var handlers []map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultJSON(t, result)), &handlers))
	require.Len(t, handlers, 1)
	assert.Equal(t, "clear", handlers[0]["name"])
}

// --- templates ---

func TestHandleGetTemplate(t *testing.T) {
	s := testServer(t)
	result := callTool(t, s, makeRequest("get_template", map[string]any{
		"module": "CartLive",
		"name":   "cart_live",
	}))

	var resp struct {
		Found    bool `json:"found"`
		Template struct {
			Path   string `json:"path"`
			Format string `json:"format"`
		} `json:"template"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultJSON(t, result)), &resp))
	require.True(t, resp.Found)
	assert.Equal(t, "html", resp.Template.Format)
}

func TestHandleTemplateUsage_NoRenderSites(t *testing.T) {
	s := testServer(t)
	result := callTool(t, s, makeRequest("template_usage", map[string]any{
		"path": "lib/shop_web/live/cart_live.html.heex",
	}))
	assert.False(t, result.IsError)

	var resp struct {
		Assigns map[string][]map[string]any `json:"assigns"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultJSON(t, result)), &resp))
	assert.Empty(t, resp.Assigns)
}

// --- status ---

func TestHandleScanStatus(t *testing.T) {
	s := testServer(t)
	result := callTool(t, s, makeRequest("scan_status", nil))

	var resp struct {
		Root       string                    `json:"root"`
		Registries map[string]map[string]any `json:"registries"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultJSON(t, result)), &resp))
	assert.Equal(t, "/srv/shop", resp.Root)
	assert.Equal(t, float64(1), resp.Registries["router"]["files"])
	assert.Equal(t, float64(1), resp.Registries["schemas"]["files"])
}
