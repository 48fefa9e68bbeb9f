package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePageController = `defmodule DemoWeb.PageController do
  use DemoWeb, :controller

  def home(conn, _params) do
    render(conn, :home, page_title: "Welcome", stats: stats())
  end

  def about(conn, _params) do
    conn
    |> put_flash(:info, "hi")
    |> render("about.html", team: team())
  end

  def export(conn, _params) do
    render(conn, DemoWeb.ReportHTML, :summary, rows: rows())
  end

  def legacy(conn, _params) do
    render(conn, "dash.html",
      user: user(),
      layout: false
    )
  end
end
`

func newTestControllers(t *testing.T) (*ControllersRegistry, *TemplatesRegistry) {
	t.Helper()
	templates := NewTemplatesRegistry(nil)
	templates.UpdateFile("lib/demo_web/controllers/page_html/home.html.heex", []byte("<h1/>"), []string{"page_title"})
	templates.UpdateFile("lib/demo_web/controllers/page_html/about.html.heex", []byte("<p/>"), []string{"team"})
	templates.UpdateFile("lib/demo_web/controllers/report_html/summary.html.heex", []byte("<table/>"), []string{"rows"})

	reg := NewControllersRegistry(templates, nil)
	reg.UpdateFile("lib/demo_web/controllers/page_controller.ex", []byte(samplePageController))
	return reg, templates
}

func TestControllersRegistry_ExtractsRenderCalls(t *testing.T) {
	reg, _ := newTestControllers(t)

	calls := reg.RenderCalls()
	require.Len(t, calls, 4)

	byAction := make(map[string]RenderCallFact)
	for _, c := range calls {
		byAction[c.Action] = c
		assert.Equal(t, "DemoWeb.PageController", c.Controller)
	}

	home := byAction["home"]
	assert.Equal(t, "home", home.Template)
	assert.Empty(t, home.Format)
	assert.Equal(t, []string{"page_title", "stats"}, home.AssignKeys)

	about := byAction["about"]
	assert.Equal(t, "about", about.Template)
	assert.Equal(t, "html", about.Format)
	assert.Equal(t, []string{"team"}, about.AssignKeys, "piped render calls still parse")

	export := byAction["export"]
	assert.Equal(t, "DemoWeb.ReportHTML", export.View)
	assert.Equal(t, "summary", export.Template)

	legacy := byAction["legacy"]
	assert.Equal(t, "dash", legacy.Template)
	assert.Equal(t, []string{"user"}, legacy.AssignKeys, "layout is an option, not an assign; multi-line calls join")
}

func TestControllersRegistry_ResolvesAgainstTemplates(t *testing.T) {
	reg, _ := newTestControllers(t)

	byAction := make(map[string]RenderCallFact)
	for _, c := range reg.RenderCalls() {
		byAction[c.Action] = c
	}

	assert.Equal(t, "lib/demo_web/controllers/page_html/home.html.heex", byAction["home"].ResolvedPath,
		"an atom template resolves through <Base>HTML")
	assert.Equal(t, "lib/demo_web/controllers/page_html/about.html.heex", byAction["about"].ResolvedPath)
	assert.Equal(t, "lib/demo_web/controllers/report_html/summary.html.heex", byAction["export"].ResolvedPath,
		"an explicit view module wins over the controller base")
	assert.Empty(t, byAction["legacy"].ResolvedPath, "an unknown template resolves to nothing")
}

func TestControllersRegistry_UsageSummary(t *testing.T) {
	reg, _ := newTestControllers(t)

	summary := reg.UsageSummary("lib/demo_web/controllers/page_html/home.html.heex")
	require.NotNil(t, summary)
	require.Contains(t, summary, "page_title")
	require.Contains(t, summary, "stats")
	require.Len(t, summary["page_title"], 1)
	assert.Equal(t, "home", summary["page_title"][0].Action)

	assert.Nil(t, reg.UsageSummary("lib/unknown.heex"))
}

func TestControllersRegistry_DiskFallback(t *testing.T) {
	root := t.TempDir()
	controllerPath := filepath.Join(root, "lib", "demo_web", "controllers", "thing_controller.ex")

	colocated := filepath.Join(root, "lib", "demo_web", "controllers", "thing_html")
	require.NoError(t, os.MkdirAll(colocated, 0o755))
	showPath := filepath.Join(colocated, "show.html.heex")
	require.NoError(t, os.WriteFile(showPath, []byte("<div/>"), 0o644))

	legacyDir := filepath.Join(root, "lib", "demo_web", "templates", "thing")
	require.NoError(t, os.MkdirAll(legacyDir, 0o755))
	indexPath := filepath.Join(legacyDir, "index.html.eex")
	require.NoError(t, os.WriteFile(indexPath, []byte("<ul/>"), 0o644))

	reg := NewControllersRegistry(NewTemplatesRegistry(nil), nil)
	reg.UpdateFile(controllerPath, []byte(`defmodule DemoWeb.ThingController do
  use DemoWeb, :controller

  def show(conn, _params) do
    render(conn, :show, thing: thing())
  end

  def index(conn, _params) do
    render(conn, :index, things: things())
  end
end
`))

	byAction := make(map[string]RenderCallFact)
	for _, c := range reg.RenderCalls() {
		byAction[c.Action] = c
	}
	assert.Equal(t, showPath, byAction["show"].ResolvedPath, "co-located _html folder is probed first")
	assert.Equal(t, indexPath, byAction["index"].ResolvedPath, "legacy templates tree is the last fallback")
}

func TestControllersRegistry_RebuildPicksUpNewTemplates(t *testing.T) {
	templates := NewTemplatesRegistry(nil)
	reg := NewControllersRegistry(templates, nil)

	reg.UpdateFile("lib/demo_web/controllers/page_controller.ex", []byte(samplePageController))
	for _, c := range reg.RenderCalls() {
		if c.Action == "home" {
			require.Empty(t, c.ResolvedPath)
		}
	}

	templates.UpdateFile("lib/demo_web/controllers/page_html/home.html.heex", []byte("<h1/>"), nil)
	reg.Rebuild()

	var resolved bool
	for _, c := range reg.RenderCalls() {
		if c.Action == "home" {
			resolved = c.ResolvedPath != ""
		}
	}
	assert.True(t, resolved, "a rebuild binds calls to templates indexed after the controller")
}

func TestControllersRegistry_RemoveFileDropsCalls(t *testing.T) {
	reg, _ := newTestControllers(t)
	require.NotEmpty(t, reg.RenderCalls())

	reg.RemoveFile("lib/demo_web/controllers/page_controller.ex")
	assert.Empty(t, reg.RenderCalls())
	assert.Empty(t, reg.UsageSummary("lib/demo_web/controllers/page_html/home.html.heex"))
}

func TestControllersRegistry_UpdateIsIdempotent(t *testing.T) {
	reg, _ := newTestControllers(t)

	reg.UpdateFile("lib/demo_web/controllers/page_controller.ex", []byte(samplePageController))
	st := reg.Stats()
	assert.Equal(t, int64(1), st.Updates)
	assert.Equal(t, int64(1), st.Skips)
	assert.Equal(t, 4, st.Facts)
}

func TestControllersRegistry_ByController(t *testing.T) {
	reg, _ := newTestControllers(t)

	assert.Len(t, reg.ByController("PageController"), 4, "suffix match finds the controller")
	assert.Empty(t, reg.ByController("GhostController"))
}
