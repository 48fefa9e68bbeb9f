package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScanner(t *testing.T) *TemplateScanner {
	t.Helper()
	pm := NewParserManager(nil)
	t.Cleanup(func() { pm.Close() })
	qm := NewQueryManager(pm, nil)
	t.Cleanup(func() { qm.Close() })
	cache, err := NewTreeCache(pm, 16, nil)
	require.NoError(t, err)
	return NewTemplateScanner(qm, cache, nil)
}

const sampleTemplate = `<div class="page">
  <h1><%= @page_title %></h1>
  <.button phx-click="save" class="primary">Save</.button>
  <MyAppWeb.CoreComponents.icon name="trash" />
  <form phx-submit="create_user">
    <input type="text" name="email" />
  </form>
  <span phx-click={JS.push("delete")}>remove</span>
  <p>{@user.name}</p>
  <a href="mailto:support@example.com">contact</a>
</div>
`

func TestTemplateScanner_EventsFromQuotedAndBracedBindings(t *testing.T) {
	s := newTestScanner(t)
	facts := s.Scan("home.html.heex", []byte(sampleTemplate))

	byName := make(map[string]EventUse)
	for _, e := range facts.Events {
		byName[e.Name] = e
	}

	require.Contains(t, byName, "save")
	assert.Equal(t, "phx-click", byName["save"].Attr)
	assert.Equal(t, uint32(3), byName["save"].Line)

	require.Contains(t, byName, "create_user")
	assert.Equal(t, "phx-submit", byName["create_user"].Attr)

	require.Contains(t, byName, "delete", "JS.push argument should be recovered")
	assert.Equal(t, uint32(8), byName["delete"].Line)
}

func TestTemplateScanner_DynamicBindingContributesNothing(t *testing.T) {
	s := newTestScanner(t)
	facts := s.Scan("x.html.heex", []byte(`<button phx-click={@event}>go</button>`))
	assert.Empty(t, facts.Events)
}

func TestTemplateScanner_ComponentsFromAST(t *testing.T) {
	s := newTestScanner(t)
	facts := s.Scan("home.html.heex", []byte(sampleTemplate))
	require.True(t, facts.FromAST)

	var local, remote *ComponentUse
	for i := range facts.Components {
		c := &facts.Components[i]
		switch c.Name {
		case "button":
			local = c
		case "icon":
			remote = c
		}
	}

	require.NotNil(t, local, "local component <.button> should be found")
	assert.True(t, local.Local)
	assert.Empty(t, local.Module)
	assert.Equal(t, uint32(3), local.Line)
	assert.Contains(t, local.Attrs, "phx-click")
	assert.Contains(t, local.Attrs, "class")

	require.NotNil(t, remote, "remote component call should be found")
	assert.False(t, remote.Local)
	assert.Equal(t, "MyAppWeb.CoreComponents", remote.Module)
}

func TestTemplateScanner_PlainTagsAreNotComponents(t *testing.T) {
	s := newTestScanner(t)
	facts := s.Scan("x.html.heex", []byte(`<div><span>a</span><custom-el>b</custom-el></div>`))
	assert.Empty(t, facts.Components)
}

func TestTemplateScanner_SlotEntriesAreNotComponents(t *testing.T) {
	s := newTestScanner(t)
	facts := s.Scan("x.html.heex", []byte("<.table rows={@users}>\n<:col>Name</:col>\n</.table>"))

	var names []string
	for _, c := range facts.Components {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, "table")
	assert.NotContains(t, names, "col")
}

func TestTemplateScanner_ComponentWithUnderscore(t *testing.T) {
	s := newTestScanner(t)
	facts := s.Scan("x.html.heex", []byte(`<.live_component module={FormComponent} id="form" />`))

	require.Len(t, facts.Components, 1)
	assert.Equal(t, "live_component", facts.Components[0].Name)
	assert.True(t, facts.Components[0].Local)
}

func TestTemplateScanner_AssignsFromCodeAndBraces(t *testing.T) {
	s := newTestScanner(t)
	facts := s.Scan("home.html.heex", []byte(sampleTemplate))

	var names []string
	for _, a := range facts.Assigns {
		names = append(names, a.Name)
	}
	assert.Contains(t, names, "page_title")
	assert.Contains(t, names, "user")
	assert.NotContains(t, names, "example", "email addresses are not assigns")
}

func TestTemplateScanner_FallbackMode(t *testing.T) {
	s := newTestScanner(t)
	s.SetForceFallback(true)

	facts := s.Scan("home.html.heex", []byte(sampleTemplate))
	assert.False(t, facts.FromAST)

	var compNames []string
	for _, c := range facts.Components {
		compNames = append(compNames, c.Name)
	}
	assert.Contains(t, compNames, "button")
	assert.Contains(t, compNames, "icon")

	var eventNames []string
	for _, e := range facts.Events {
		eventNames = append(eventNames, e.Name)
	}
	assert.Contains(t, eventNames, "save")
	assert.Contains(t, eventNames, "create_user")
	assert.Contains(t, eventNames, "delete")

	var assignNames []string
	for _, a := range facts.Assigns {
		assignNames = append(assignNames, a.Name)
	}
	assert.Contains(t, assignNames, "page_title")
	assert.Contains(t, assignNames, "user")
}

func TestSanitizeTagNames_PreservesLengthAndContent(t *testing.T) {
	in := []byte(`<.live_component id="x"><p class="a_b">t</p></.live_component>`)
	out := sanitizeTagNames(in)

	require.Len(t, out, len(in))
	assert.Equal(t, `<:live-component id="x"><p class="a_b">t</p></:live-component>`, string(out))
}

func TestSanitizeTagNames_LeavesTextAlone(t *testing.T) {
	in := []byte(`<p>a.b c_d</p> x < y`)
	assert.Equal(t, string(in), string(sanitizeTagNames(in)))
}

func TestParseComponentTag(t *testing.T) {
	module, fn, local, ok := parseComponentTag(".button")
	require.True(t, ok)
	assert.True(t, local)
	assert.Empty(t, module)
	assert.Equal(t, "button", fn)

	module, fn, local, ok = parseComponentTag("MyAppWeb.CoreComponents.modal")
	require.True(t, ok)
	assert.False(t, local)
	assert.Equal(t, "MyAppWeb.CoreComponents", module)
	assert.Equal(t, "modal", fn)

	_, _, _, ok = parseComponentTag("div")
	assert.False(t, ok)

	_, _, _, ok = parseComponentTag(":header")
	assert.False(t, ok)

	_, _, _, ok = parseComponentTag("Bare")
	assert.False(t, ok)
}

func TestAssignRefs_WordBoundary(t *testing.T) {
	refs := assignRefs(` @title <> user@example.com <> @count `)
	var names []string
	for _, r := range refs {
		names = append(names, r.name)
	}
	assert.Equal(t, []string{"title", "count"}, names)
}

func TestLineIndex(t *testing.T) {
	li := newLineIndex([]byte("ab\ncd\nef"))
	assert.Equal(t, uint32(1), li.lineFor(0))
	assert.Equal(t, uint32(1), li.lineFor(2))
	assert.Equal(t, uint32(2), li.lineFor(3))
	assert.Equal(t, uint32(3), li.lineFor(7))
}
