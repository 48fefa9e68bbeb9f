package registry

import (
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/phxlens/phxlens/pkg/parser"
	"github.com/phxlens/phxlens/pkg/util"
)

// TemplatesRegistry maps template files to the modules that own them by
// path convention and records the assigns each template references.
type TemplatesRegistry struct {
	fileStore
	templates map[string]TemplateFact
	logger    *slog.Logger
}

// NewTemplatesRegistry creates an empty templates registry.
func NewTemplatesRegistry(logger *slog.Logger) *TemplatesRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &TemplatesRegistry{
		fileStore: newFileStore(),
		templates: make(map[string]TemplateFact),
		logger:    logger,
	}
}

// Relevant reports whether a path is a template file.
func (r *TemplatesRegistry) Relevant(path string, _ []byte) bool {
	return parser.IsTemplateFile(path)
}

// UpdateFile records a template and its referenced assigns, atomically
// replacing the previous fact. The caller scans the content for
// assigns; passing nil keeps the fact but records none.
func (r *TemplatesRegistry) UpdateFile(path string, content []byte, assigns []string) {
	if !r.Relevant(path, content) {
		return
	}
	hash := util.ContentHash(content)

	fact := templateFactForPath(path)
	fact.Assigns = append([]string(nil), assigns...)

	r.mu.Lock()
	if r.hashes[path] == hash {
		r.mu.Unlock()
		r.noteSkip()
		return
	}
	r.templates[path] = fact
	r.commitLocked(path, hash)
	r.mu.Unlock()

	util.Debugf(util.DebugTemplates, "template updated",
		"path", path, "module", fact.ModuleSuffix, "assigns", len(fact.Assigns))
}

// RemoveFile drops the fact for a path.
func (r *TemplatesRegistry) RemoveFile(path string) {
	r.mu.Lock()
	delete(r.templates, path)
	r.forgetLocked(path)
	r.mu.Unlock()
}

// All returns every template, ordered by path.
func (r *TemplatesRegistry) All() []TemplateFact {
	r.mu.RLock()
	out := make([]TemplateFact, 0, len(r.templates))
	for _, f := range r.templates {
		out = append(out, f)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// ByFile returns the fact for one template path, or nil.
func (r *TemplatesRegistry) ByFile(path string) *TemplateFact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if f, ok := r.templates[path]; ok {
		return &f
	}
	return nil
}

// ByModule returns the templates owned by a module, matching the full
// module name or its conventional suffix.
func (r *TemplatesRegistry) ByModule(module string) []TemplateFact {
	var out []TemplateFact
	for _, f := range r.All() {
		if moduleMatches(module, f.ModuleSuffix) {
			out = append(out, f)
		}
	}
	return out
}

// Get finds a template by owner module and name. An empty format
// prefers html over other formats; a concrete format must match
// exactly.
func (r *TemplatesRegistry) Get(module, name, format string) *TemplateFact {
	var fallback *TemplateFact
	for _, f := range r.ByModule(module) {
		if f.Name != name {
			continue
		}
		switch {
		case format != "":
			if f.Format == format {
				f := f
				return &f
			}
		case f.Format == "html":
			f := f
			return &f
		case fallback == nil:
			f := f
			fallback = &f
		}
	}
	if format != "" {
		return nil
	}
	return fallback
}

// Stats reports registry counters.
func (r *TemplatesRegistry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var st Stats
	r.gateStatsLocked(&st)
	st.Facts = len(r.templates)
	return st
}

// templateFactForPath derives the fact a path implies by convention:
//
//	lib/demo_web/controllers/page_html/home.html.heex -> PageHTML
//	lib/demo_web/templates/page/home.html.eex         -> PageView
//	lib/demo_web/live/user_live.html.heex             -> UserLive
func templateFactForPath(path string) TemplateFact {
	name, format := templateNameFormat(path)

	dir := filepath.Dir(path)
	parent := filepath.Base(dir)
	grand := filepath.Base(filepath.Dir(dir))

	var suffix string
	switch {
	case grand == "templates":
		suffix = camelizeModule(parent) + "View"
	case strings.HasSuffix(parent, "_html") || strings.HasSuffix(parent, "_json") || strings.HasSuffix(parent, "_xml"):
		suffix = camelizeModule(parent)
	default:
		suffix = camelizeModule(name)
	}

	return TemplateFact{
		Path:         path,
		Name:         name,
		Format:       format,
		ModuleSuffix: suffix,
	}
}

// templateNameFormat splits "home.html.heex" into ("home", "html").
// A template without a format segment keeps its bare name.
func templateNameFormat(path string) (name, format string) {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if ext := filepath.Ext(base); ext != "" {
		return strings.TrimSuffix(base, ext), strings.TrimPrefix(ext, ".")
	}
	return base, ""
}

// camelizeModule camelizes a snake_case segment into a module name,
// keeping the conventional serialization suffixes fully upper-cased.
func camelizeModule(s string) string {
	parts := strings.Split(s, "_")
	for i, part := range parts {
		switch part {
		case "html":
			parts[i] = "HTML"
		case "json":
			parts[i] = "JSON"
		case "xml":
			parts[i] = "XML"
		default:
			parts[i] = camelize(part)
		}
	}
	return strings.Join(parts, "")
}
