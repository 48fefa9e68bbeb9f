package parser

import (
	"path/filepath"
	"strings"
)

// Language classifies project source files.
//
// Elixir source is scanned line by line by the registries and never
// tree-parsed; only template files go through tree-sitter.
type Language int

const (
	// LanguageElixir represents Elixir source (.ex, .exs files)
	LanguageElixir Language = iota
	// LanguageHEEx represents HEEx templates (.heex files)
	LanguageHEEx
	// LanguageEEx represents classic EEx templates (.eex, .leex files)
	LanguageEEx
	// LanguageUnknown represents an unsupported file type
	LanguageUnknown
)

// String returns the string representation of the language.
func (l Language) String() string {
	switch l {
	case LanguageElixir:
		return "elixir"
	case LanguageHEEx:
		return "heex"
	case LanguageEEx:
		return "eex"
	default:
		return "unknown"
	}
}

// DetectLanguage detects the language from a file path.
// Returns LanguageUnknown if the extension is not recognized.
func DetectLanguage(filePath string) Language {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".ex", ".exs":
		return LanguageElixir
	case ".heex":
		return LanguageHEEx
	case ".eex", ".leex":
		return LanguageEEx
	default:
		return LanguageUnknown
	}
}

// IsTemplateFile reports whether the path is a template the parser
// subsystem handles with a grammar.
func IsTemplateFile(filePath string) bool {
	lang := DetectLanguage(filePath)
	return lang == LanguageHEEx || lang == LanguageEEx
}

// IsElixirFile reports whether the path is Elixir source.
func IsElixirFile(filePath string) bool {
	return DetectLanguage(filePath) == LanguageElixir
}

// ParseLanguageString converts a language string to a Language type.
// Returns LanguageUnknown if the string is not recognized.
func ParseLanguageString(lang string) Language {
	switch strings.ToLower(lang) {
	case "elixir", "ex":
		return LanguageElixir
	case "heex":
		return LanguageHEEx
	case "eex", "leex":
		return LanguageEEx
	default:
		return LanguageUnknown
	}
}

// TemplateLanguages returns the languages backed by a grammar.
func TemplateLanguages() []Language {
	return []Language{
		LanguageHEEx,
		LanguageEEx,
	}
}
