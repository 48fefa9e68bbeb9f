package util

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Debug categories. Each subsystem logs verbose detail only when its
// category is enabled via PHXLENS_DEBUG (comma-separated list, or "all").
const (
	DebugRouter     = "router"
	DebugComponents = "components"
	DebugSchema     = "schema"
	DebugEvents     = "events"
	DebugTemplates  = "templates"
	DebugRender     = "render"
	DebugParser     = "parser"
	DebugWatcher    = "watcher"
	DebugScan       = "scan"
)

var (
	debugMu   sync.RWMutex
	debugCats map[string]bool
	debugOnce sync.Once
)

func loadDebugEnv() {
	debugOnce.Do(func() {
		SetDebugCategories(os.Getenv("PHXLENS_DEBUG"))
	})
}

// SetDebugCategories replaces the enabled debug category set from a
// comma-separated list. "all" or "1" enables every category. Intended
// for flag/env plumbing and tests.
func SetDebugCategories(spec string) {
	cats := make(map[string]bool)
	for _, c := range strings.Split(spec, ",") {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		cats[c] = true
	}
	debugMu.Lock()
	debugCats = cats
	debugMu.Unlock()
}

// DebugEnabled reports whether verbose logging is on for a category.
func DebugEnabled(category string) bool {
	loadDebugEnv()
	debugMu.RLock()
	defer debugMu.RUnlock()
	return debugCats[category] || debugCats["all"] || debugCats["1"]
}

// Debugf logs through the default slog logger at debug level, tagged
// with its category, but only when that category is enabled. Call sites
// stay cheap when the category is off.
func Debugf(category string, msg string, args ...any) {
	if !DebugEnabled(category) {
		return
	}
	slog.With("debug", category).Debug(msg, args...)
}
