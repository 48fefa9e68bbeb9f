package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectLanguage_Extensions(t *testing.T) {
	tests := []struct {
		path string
		want Language
	}{
		{"lib/my_app_web/router.ex", LanguageElixir},
		{"test/support/conn_case.exs", LanguageElixir},
		{"lib/my_app_web/controllers/page_html/home.html.heex", LanguageHEEx},
		{"lib/my_app_web/templates/page/index.html.eex", LanguageEEx},
		{"lib/my_app_web/live/dashboard.html.leex", LanguageEEx},
		{"assets/js/app.js", LanguageUnknown},
		{"README.md", LanguageUnknown},
		{"priv/static/UPPER.HEEX", LanguageHEEx},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectLanguage(tt.path), "path: %s", tt.path)
	}
}

func TestIsTemplateFile(t *testing.T) {
	assert.True(t, IsTemplateFile("home.html.heex"))
	assert.True(t, IsTemplateFile("index.html.eex"))
	assert.False(t, IsTemplateFile("router.ex"))
	assert.False(t, IsTemplateFile("app.css"))
}

func TestIsElixirFile(t *testing.T) {
	assert.True(t, IsElixirFile("lib/my_app/accounts.ex"))
	assert.True(t, IsElixirFile("mix.exs"))
	assert.False(t, IsElixirFile("home.html.heex"))
}

func TestParseLanguageString(t *testing.T) {
	assert.Equal(t, LanguageElixir, ParseLanguageString("elixir"))
	assert.Equal(t, LanguageHEEx, ParseLanguageString("HEEX"))
	assert.Equal(t, LanguageEEx, ParseLanguageString("eex"))
	assert.Equal(t, LanguageUnknown, ParseLanguageString("ruby"))
}

func TestLanguage_String(t *testing.T) {
	assert.Equal(t, "elixir", LanguageElixir.String())
	assert.Equal(t, "heex", LanguageHEEx.String())
	assert.Equal(t, "eex", LanguageEEx.String())
	assert.Equal(t, "unknown", LanguageUnknown.String())
}
