package registry

import (
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/phxlens/phxlens/pkg/util"
)

// ControllersRegistry extracts render call sites from controllers and
// binds each to a concrete template. Extraction is per-file and hash
// gated like every registry; the binding and the per-template usage
// summary are many-to-one aggregations, so they are rebuilt from
// scratch on any controller change rather than patched incrementally.
type ControllersRegistry struct {
	fileStore
	raw      map[string][]RenderCallFact
	resolved []RenderCallFact
	summary  map[string]map[string][]RenderCallFact

	templates *TemplatesRegistry
	rebuildMu sync.Mutex
	logger    *slog.Logger
}

// NewControllersRegistry creates an empty controllers registry reading
// template facts from templates.
func NewControllersRegistry(templates *TemplatesRegistry, logger *slog.Logger) *ControllersRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ControllersRegistry{
		fileStore: newFileStore(),
		raw:       make(map[string][]RenderCallFact),
		summary:   make(map[string]map[string][]RenderCallFact),
		templates: templates,
		logger:    logger,
	}
}

// Relevant reports whether a file can contain controller render calls.
func (r *ControllersRegistry) Relevant(path string, content []byte) bool {
	if !strings.HasSuffix(path, ".ex") {
		return false
	}
	if strings.HasSuffix(filepath.Base(path), "_controller.ex") {
		return true
	}
	src := string(content)
	return strings.Contains(src, ", :controller") || strings.Contains(src, "Phoenix.Controller")
}

// UpdateFile reparses a controller and rebuilds the workspace binding.
func (r *ControllersRegistry) UpdateFile(path string, content []byte) {
	if !r.Relevant(path, content) {
		return
	}
	hash := util.ContentHash(content)
	if r.unchanged(path, hash) {
		r.noteSkip()
		return
	}

	calls := parseControllerSource(path, content)

	r.mu.Lock()
	if r.hashes[path] == hash {
		r.mu.Unlock()
		r.noteSkip()
		return
	}
	delete(r.raw, path)
	if len(calls) > 0 {
		r.raw[path] = calls
	}
	r.commitLocked(path, hash)
	r.mu.Unlock()

	r.Rebuild()
	util.Debugf(util.DebugRender, "controller updated", "path", path, "renders", len(calls))
}

// RemoveFile drops a controller's calls and rebuilds the binding.
func (r *ControllersRegistry) RemoveFile(path string) {
	r.mu.Lock()
	delete(r.raw, path)
	r.forgetLocked(path)
	r.mu.Unlock()
	r.Rebuild()
}

// Rebuild recomputes template bindings and the usage summary for every
// known controller. Template registry changes do not trigger this
// automatically; the workspace dispatcher calls it after template
// updates settle.
func (r *ControllersRegistry) Rebuild() {
	r.rebuildMu.Lock()
	defer r.rebuildMu.Unlock()

	r.mu.RLock()
	files := make([]string, 0, len(r.raw))
	for path := range r.raw {
		files = append(files, path)
	}
	snapshots := make([][]RenderCallFact, len(files))
	for i, path := range files {
		snapshots[i] = append([]RenderCallFact(nil), r.raw[path]...)
	}
	r.mu.RUnlock()

	g := new(errgroup.Group)
	g.SetLimit(util.GetOptimalPoolSize())
	for i := range snapshots {
		g.Go(func() error {
			for j := range snapshots[i] {
				snapshots[i][j].ResolvedPath = r.resolveCall(&snapshots[i][j])
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(files)
	order := make(map[string]int, len(files))
	for i, f := range files {
		order[f] = i
	}
	var resolved []RenderCallFact
	for i := range snapshots {
		resolved = append(resolved, snapshots[i]...)
	}
	sort.Slice(resolved, func(i, j int) bool {
		a, b := resolved[i], resolved[j]
		if a.File != b.File {
			return order[a.File] < order[b.File]
		}
		return a.Line < b.Line
	})

	summary := make(map[string]map[string][]RenderCallFact)
	for _, call := range resolved {
		if call.ResolvedPath == "" {
			continue
		}
		byAssign, ok := summary[call.ResolvedPath]
		if !ok {
			byAssign = make(map[string][]RenderCallFact)
			summary[call.ResolvedPath] = byAssign
		}
		for _, key := range call.AssignKeys {
			byAssign[key] = append(byAssign[key], call)
		}
	}

	r.mu.Lock()
	r.resolved = resolved
	r.summary = summary
	r.mu.Unlock()
}

// resolveCall binds one render call to a template path: the explicit
// view module, then <Base>HTML, then <Base>View against the template
// registry, then the conventional directories probed on disk.
func (r *ControllersRegistry) resolveCall(call *RenderCallFact) string {
	if call.Template == "" {
		return ""
	}

	var modules []string
	if call.View != "" {
		modules = append(modules, call.View)
	}
	if base := controllerBase(call.Controller); base != "" {
		modules = append(modules, base+"HTML", base+"View")
	}
	for _, m := range modules {
		if f := r.templates.Get(m, call.Template, call.Format); f != nil {
			return f.Path
		}
	}

	for _, candidate := range diskCandidates(call.File, controllerBase(call.Controller), call.Template, call.Format) {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

// RenderCalls returns every resolved render call.
func (r *ControllersRegistry) RenderCalls() []RenderCallFact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]RenderCallFact(nil), r.resolved...)
}

// ByController returns the calls made by one controller module,
// matching full name or suffix.
func (r *ControllersRegistry) ByController(module string) []RenderCallFact {
	var out []RenderCallFact
	for _, call := range r.RenderCalls() {
		if moduleMatches(call.Controller, module) {
			out = append(out, call)
		}
	}
	return out
}

// UsageSummary reports, for one template, which render sites feed each
// assign. The returned map is a copy safe to hold across updates.
func (r *ControllersRegistry) UsageSummary(templatePath string) map[string][]RenderCallFact {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src, ok := r.summary[templatePath]
	if !ok {
		return nil
	}
	out := make(map[string][]RenderCallFact, len(src))
	for assign, calls := range src {
		out[assign] = append([]RenderCallFact(nil), calls...)
	}
	return out
}

// Stats reports registry counters.
func (r *ControllersRegistry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var st Stats
	r.gateStatsLocked(&st)
	st.Facts = len(r.resolved)
	return st
}

// controllerBase strips the namespace and the Controller suffix:
// DemoWeb.PageController becomes Page.
func controllerBase(module string) string {
	base := lastModuleSegment(module)
	base = strings.TrimSuffix(base, "Controller")
	return base
}

// diskCandidates lists the conventional template locations for a
// controller: the co-located _html folder, then the legacy templates
// tree.
func diskCandidates(controllerFile, base, name, format string) []string {
	if base == "" || name == "" {
		return nil
	}
	if format == "" {
		format = "html"
	}
	dir := filepath.Dir(controllerFile)
	snake := snakeCase(base)
	return []string{
		filepath.Join(dir, snake+"_html", name+"."+format+".heex"),
		filepath.Join(filepath.Dir(dir), "templates", snake, name+"."+format+".eex"),
		filepath.Join(filepath.Dir(dir), "templates", snake, name+"."+format+".heex"),
	}
}

// snakeCase converts a module segment to its path form: UserSettings
// becomes user_settings.
func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// --- source scanning ---

var controllerDefRe = regexp.MustCompile(`^defp?\s+([a-z_][\w?!]*)`)

// parseControllerSource extracts render calls with their enclosing
// module and nearest preceding function name. Pure; the caller owns
// locking.
func parseControllerSource(path string, content []byte) []RenderCallFact {
	var (
		facts   []RenderCallFact
		modules []componentModuleFrame
		depth   int
		action  string
	)

	lines := strings.Split(string(content), "\n")
	for i := 0; i < len(lines); i++ {
		lineNo := i + 1
		line := strings.TrimSpace(stripLineComment(lines[i]))
		if line == "" {
			continue
		}
		// Render calls often spread across lines with the close paren
		// alone at the end; join until the call is balanced again.
		for joins := 0; (strings.HasSuffix(line, ",") || parenDepth(line) > 0) && i+1 < len(lines) && joins < 16; joins++ {
			i++
			line = line + " " + strings.TrimSpace(stripLineComment(lines[i]))
		}

		hasDo := line == "do" || strings.HasSuffix(line, " do")

		if line == "end" {
			depth--
			for len(modules) > 0 && depth < modules[len(modules)-1].depth {
				modules = modules[:len(modules)-1]
			}
			continue
		}

		if componentModuleRe.MatchString(line) {
			m := componentModuleRe.FindStringSubmatch(line)
			depth++
			modules = append(modules, componentModuleFrame{name: m[1], depth: depth})
			action = ""
			continue
		}

		if m := controllerDefRe.FindStringSubmatch(line); m != nil {
			action = m[1]
		}

		module := ""
		if len(modules) > 0 {
			module = modules[len(modules)-1].name
		}
		for _, call := range renderCallsInLine(line) {
			fact := call
			fact.Controller = module
			fact.Action = action
			fact.File = path
			fact.Line = lineNo
			facts = append(facts, fact)
		}

		if hasDo {
			depth++
		}
	}
	return facts
}

// renderCallsInLine extracts each render(...) call on a line. The conn
// argument and an explicit view module are recognized positionally;
// keyword arguments and %{} maps contribute assign keys.
func renderCallsInLine(line string) []RenderCallFact {
	var out []RenderCallFact
	for from := 0; ; {
		idx := strings.Index(line[from:], "render(")
		if idx < 0 {
			break
		}
		idx += from
		if idx > 0 && isWordByte(line[idx-1]) {
			from = idx + len("render(")
			continue
		}
		open := idx + len("render(") - 1
		cp := matchingParen(line, open)
		if cp < 0 {
			break
		}
		if fact, ok := parseRenderArgs(line[open+1 : cp]); ok {
			out = append(out, fact)
		}
		from = cp + 1
	}
	return out
}

func parseRenderArgs(args string) (RenderCallFact, bool) {
	parts := SplitArgs(args)
	if len(parts) > 0 && parts[0] == "conn" {
		parts = parts[1:]
	}
	if len(parts) == 0 {
		return RenderCallFact{}, false
	}

	var fact RenderCallFact
	if moduleNameRe.MatchString(parts[0]) && len(parts) > 1 {
		fact.View = parts[0]
		parts = parts[1:]
	}

	tmpl := strings.TrimSpace(parts[0])
	switch {
	case strings.HasPrefix(tmpl, ":"):
		fact.Template = Atom(tmpl)
	case strings.HasPrefix(tmpl, `"`):
		name := Unquote(tmpl)
		if ext := filepath.Ext(name); ext != "" {
			fact.Template = strings.TrimSuffix(name, ext)
			fact.Format = strings.TrimPrefix(ext, ".")
		} else {
			fact.Template = name
		}
	default:
		return RenderCallFact{}, false
	}

	for _, arg := range parts[1:] {
		arg = strings.TrimSpace(arg)
		if strings.HasPrefix(arg, "%{") && strings.HasSuffix(arg, "}") {
			for _, inner := range SplitArgs(arg[2 : len(arg)-1]) {
				if m := keywordRe.FindStringSubmatch(inner); m != nil {
					fact.AssignKeys = append(fact.AssignKeys, m[1])
				}
			}
			continue
		}
		if m := keywordRe.FindStringSubmatch(arg); m != nil && m[1] != "layout" {
			fact.AssignKeys = append(fact.AssignKeys, m[1])
		}
	}
	return fact, true
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// parenDepth counts unclosed parens outside strings.
func parenDepth(s string) int {
	depth := 0
	inStr := byte(0)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == inStr {
				inStr = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			inStr = c
		case '(':
			depth++
		case ')':
			depth--
		}
	}
	return depth
}
