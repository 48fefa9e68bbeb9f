package registry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLiveView = `defmodule DemoWeb.UserLive do
  use DemoWeb, :live_view

  def mount(_params, _session, socket) do
    {:ok, socket}
  end

  @doc "Persists the edited user."
  def handle_event("save", %{"user" => params}, socket) do
    {:noreply, save_user(socket, params)}
  end

  def handle_event("save", _params, socket) do
    {:noreply, socket}
  end

  def handle_event("validate", %{"user" => params}, socket) do
    {:noreply, assign(socket, :changeset, validate(params))}
  end

  def handle_event("noop", _params, socket), do: {:noreply, socket}

  def handle_event(event, _params, socket) when is_binary(event) do
    {:noreply, socket}
  end

  def handle_info({:tick, count}, socket) do
    {:noreply, assign(socket, :count, count)}
  end

  def handle_info(:refresh, socket) do
    {:noreply, socket}
  end

  defp save_user(socket, _params), do: socket
end
`

const sampleOtherLive = `defmodule DemoWeb.AdminLive do
  use DemoWeb, :live_view

  def handle_event("purge", _params, socket) do
    {:noreply, socket}
  end
end
`

func newTestEvents(t *testing.T) *EventsRegistry {
	t.Helper()
	reg := NewEventsRegistry(nil)
	reg.UpdateFile("lib/demo_web/live/user_live.ex", []byte(sampleLiveView))
	reg.UpdateFile("lib/demo_web/live/admin_live.ex", []byte(sampleOtherLive))
	return reg
}

func TestEventsRegistry_ParsesHandlers(t *testing.T) {
	reg := newTestEvents(t)

	facts := reg.ByFile("lib/demo_web/live/user_live.ex")
	require.Len(t, facts, 5, "three named ui events plus two message handlers; the dynamic clause yields nothing")

	byName := make(map[string]EventFact)
	for _, f := range facts {
		byName[string(f.Kind)+":"+f.Name] = f
	}

	save := byName["ui:save"]
	assert.Equal(t, "DemoWeb.UserLive", save.Module)
	assert.Equal(t, `%{"user" => params}`, save.Params)
	assert.Equal(t, "Persists the edited user.", save.Doc)

	require.Contains(t, byName, "ui:validate")
	require.Contains(t, byName, "ui:noop")
	assert.Equal(t, EventMessage, byName["message:tick"].Kind)
	require.Contains(t, byName, "message:refresh")
}

func TestEventsRegistry_ClauseDedup(t *testing.T) {
	reg := newTestEvents(t)

	count := 0
	for _, f := range reg.All() {
		if f.Name == "save" {
			count++
		}
	}
	assert.Equal(t, 1, count, "a second clause of the same event collapses into the first")
}

func TestEventsRegistry_ByteSpans(t *testing.T) {
	reg := newTestEvents(t)
	src := sampleLiveView

	for _, f := range reg.ByFile("lib/demo_web/live/user_live.ex") {
		require.Less(t, f.StartByte, f.EndByte, "%s span must be non-empty", f.Name)
		clause := src[f.StartByte:f.EndByte]
		assert.Contains(t, clause, f.Name)
		if f.Name == "save" {
			assert.True(t, strings.HasSuffix(strings.TrimRight(clause, "\n"), "end"),
				"a block clause's span reaches its end keyword")
		}
		if f.Name == "noop" {
			assert.Contains(t, clause, "do: {:noreply, socket}", "a one-line clause spans just its head line")
		}
	}
}

func TestEventsRegistry_Exists(t *testing.T) {
	reg := newTestEvents(t)

	assert.True(t, reg.Exists("save"))
	assert.True(t, reg.Exists("purge"))
	assert.False(t, reg.Exists("tick"), "message handlers are not ui events")
	assert.False(t, reg.Exists("missing"))
}

func TestEventsRegistry_EventsForTemplate(t *testing.T) {
	reg := newTestEvents(t)

	primary, secondary := reg.EventsForTemplate("DemoWeb.UserLive")
	require.NotEmpty(t, primary)
	for _, f := range primary {
		assert.Equal(t, "DemoWeb.UserLive", f.Module)
	}
	var secondaryModules []string
	for _, f := range secondary {
		secondaryModules = append(secondaryModules, f.Module)
	}
	assert.Contains(t, secondaryModules, "DemoWeb.AdminLive")
	assert.NotContains(t, secondaryModules, "DemoWeb.UserLive")
}

func TestEventsRegistry_UnusedHandlers(t *testing.T) {
	reg := newTestEvents(t)

	reg.SetTemplateUsage("lib/demo_web/live/user_live.html.heex", "DemoWeb.UserLive", []string{"save", "validate"})

	unused := reg.UnusedHandlers("DemoWeb.UserLive")
	names := make([]string, len(unused))
	for i, f := range unused {
		names[i] = f.Name
	}
	assert.Equal(t, []string{"noop"}, names, "message handlers never count; referenced ui events drop out")

	assert.Equal(t, []string{"save", "validate"}, reg.UsedEventNames("DemoWeb.UserLive"))
}

func TestEventsRegistry_UsageFollowsTemplateLifecycle(t *testing.T) {
	reg := newTestEvents(t)

	reg.SetTemplateUsage("t.heex", "DemoWeb.UserLive", []string{"save", "validate", "noop"})
	assert.Empty(t, reg.UnusedHandlers("DemoWeb.UserLive"))

	reg.SetTemplateUsage("t.heex", "DemoWeb.UserLive", []string{"save"})
	unused := reg.UnusedHandlers("DemoWeb.UserLive")
	require.Len(t, unused, 2, "replacing a usage set drops the old names")

	reg.RemoveTemplateUsage("t.heex")
	assert.Len(t, reg.UnusedHandlers("DemoWeb.UserLive"), 3)
}

func TestEventsRegistry_SuggestEvents(t *testing.T) {
	reg := newTestEvents(t)

	got := reg.SuggestEvents("svae", 3)
	require.NotEmpty(t, got)
	assert.Equal(t, "save", got[0])
}

func TestEventsRegistry_UpdateAndRemove(t *testing.T) {
	reg := NewEventsRegistry(nil)
	content := []byte(sampleLiveView)

	reg.UpdateFile("a.ex", content)
	reg.UpdateFile("a.ex", content)
	st := reg.Stats()
	assert.Equal(t, int64(1), st.Updates)
	assert.Equal(t, int64(1), st.Skips)

	reg.RemoveFile("a.ex")
	assert.Empty(t, reg.All())
}
