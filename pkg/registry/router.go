package registry

import (
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/phxlens/phxlens/pkg/util"
)

// RouterRegistry extracts route facts from Phoenix router modules.
//
// The scanner is line oriented: a stack of open blocks tracks scope
// nesting, pipe_through attachment, and resources nesting, and do/end
// tokens drive pushes and pops. Unknown lines contribute nothing and
// unbalanced end tokens are ignored, so a router mid-edit degrades to
// fewer facts rather than failures.
type RouterRegistry struct {
	fileStore
	routes map[string][]RouteFact
	logger *slog.Logger
}

// NewRouterRegistry creates an empty router registry.
func NewRouterRegistry(logger *slog.Logger) *RouterRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &RouterRegistry{
		fileStore: newFileStore(),
		routes:    make(map[string][]RouteFact),
		logger:    logger,
	}
}

// Relevant reports whether a file can define routes: a router by name,
// or any .ex file that uses the router macros.
func (r *RouterRegistry) Relevant(path string, content []byte) bool {
	if !strings.HasSuffix(path, ".ex") {
		return false
	}
	base := filepath.Base(path)
	if base == "router.ex" || strings.HasSuffix(base, "_router.ex") {
		return true
	}
	return strings.Contains(string(content), "Phoenix.Router") ||
		strings.Contains(string(content), ", :router")
}

// UpdateFile reparses a router file and atomically replaces its facts.
// Unchanged content is skipped via the hash gate.
func (r *RouterRegistry) UpdateFile(path string, content []byte) {
	if !r.Relevant(path, content) {
		return
	}
	hash := util.ContentHash(content)
	if r.unchanged(path, hash) {
		r.noteSkip()
		return
	}

	facts := parseRouterSource(path, content)

	r.mu.Lock()
	if r.hashes[path] == hash {
		r.mu.Unlock()
		r.noteSkip()
		return
	}
	delete(r.routes, path)
	if len(facts) > 0 {
		r.routes[path] = facts
	}
	r.commitLocked(path, hash)
	r.mu.Unlock()

	util.Debugf(util.DebugRouter, "router updated", "path", path, "routes", len(facts))
}

// RemoveFile drops all facts for a path.
func (r *RouterRegistry) RemoveFile(path string) {
	r.mu.Lock()
	delete(r.routes, path)
	r.forgetLocked(path)
	r.mu.Unlock()
}

// All returns every route, ordered by file, line, then path and verb.
func (r *RouterRegistry) All() []RouteFact {
	r.mu.RLock()
	var out []RouteFact
	for _, facts := range r.routes {
		out = append(out, facts...)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Verb < b.Verb
	})
	return out
}

// FindByPath returns routes whose path matches exactly.
func (r *RouterRegistry) FindByPath(path string) []RouteFact {
	var out []RouteFact
	for _, f := range r.All() {
		if f.Path == path {
			out = append(out, f)
		}
	}
	return out
}

// FindByHelper returns routes for a helper base.
func (r *RouterRegistry) FindByHelper(helper string) []RouteFact {
	var out []RouteFact
	for _, f := range r.All() {
		if f.Helper == helper {
			out = append(out, f)
		}
	}
	return out
}

// LiveRoutes returns the LiveView mounts.
func (r *RouterRegistry) LiveRoutes() []RouteFact {
	var out []RouteFact
	for _, f := range r.All() {
		if f.Kind == RouteLive {
			out = append(out, f)
		}
	}
	return out
}

// ForwardRoutes returns the forwards.
func (r *RouterRegistry) ForwardRoutes() []RouteFact {
	var out []RouteFact
	for _, f := range r.All() {
		if f.Kind == RouteForward {
			out = append(out, f)
		}
	}
	return out
}

// HelperBases returns the distinct helper names, sorted.
func (r *RouterRegistry) HelperBases() []string {
	seen := make(map[string]bool)
	for _, f := range r.All() {
		seen[f.Helper] = true
	}
	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// ActionsForHelper returns the distinct actions declared for a helper
// base, in route order. Empty when the helper names no routes.
func (r *RouterRegistry) ActionsForHelper(helper string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, f := range r.FindByHelper(helper) {
		if f.Action == "" || seen[f.Action] {
			continue
		}
		seen[f.Action] = true
		out = append(out, f.Action)
	}
	return out
}

// SuggestHelpers returns the helper names nearest to a miss.
func (r *RouterRegistry) SuggestHelpers(helper string, max int) []string {
	return Suggest(r.HelperBases(), helper, max)
}

// Stats reports registry counters.
func (r *RouterRegistry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var st Stats
	r.gateStatsLocked(&st)
	for _, facts := range r.routes {
		st.Facts += len(facts)
	}
	return st
}

// --- source scanning ---

type routerBlockKind int

const (
	routerBlockOther routerBlockKind = iota
	routerBlockScope
	routerBlockPipeline
	routerBlockResource
)

// routerBlock is one open do block. Contributions compose from the
// outside in: paths concatenate, alias parts join with dots, helper
// parts join with underscores, pipelines accumulate.
type routerBlock struct {
	kind       routerBlockKind
	pathPart   string
	aliasPart  string
	helperPart string
	pipelines  []string
}

type routerParser struct {
	path   string
	stack  []routerBlock
	facts  []RouteFact
	pending *routerBlock
}

var (
	routerPipelineRe  = regexp.MustCompile(`^pipeline\s+:([\w]+)`)
	routerPipeThruRe  = regexp.MustCompile(`^pipe_through\s+(.+)$`)
	routerScopeRe     = regexp.MustCompile(`^scope\b\s*(.*)$`)
	routerVerbRe      = regexp.MustCompile(`^(get|post|put|patch|delete|options|head)\s+(.+)$`)
	routerMatchRe     = regexp.MustCompile(`^match\s+(.+)$`)
	routerLiveRe      = regexp.MustCompile(`^live\s+(.+)$`)
	routerForwardRe   = regexp.MustCompile(`^forward\s+(.+)$`)
	routerResourcesRe = regexp.MustCompile(`^resources\s+(.+)$`)
	moduleNameRe      = regexp.MustCompile(`^[A-Z][\w.]*$`)
)

// parseRouterSource scans router source into route facts. Pure; the
// caller owns locking.
func parseRouterSource(path string, content []byte) []RouteFact {
	p := &routerParser{path: path}

	lines := strings.Split(string(content), "\n")
	for i := 0; i < len(lines); i++ {
		lineNo := i + 1
		line := strings.TrimSpace(stripLineComment(lines[i]))
		if line == "" {
			continue
		}

		// Join continuation lines so multi-line macro heads read as one.
		for strings.HasSuffix(line, ",") && i+1 < len(lines) {
			i++
			line = line + " " + strings.TrimSpace(stripLineComment(lines[i]))
		}

		p.handleLine(line, lineNo)
	}
	return p.facts
}

func (p *routerParser) handleLine(line string, lineNo int) {
	hasDo := line == "do" || strings.HasSuffix(line, " do")
	body := line
	if hasDo {
		body = strings.TrimSpace(strings.TrimSuffix(line, "do"))
	}

	if line == "end" {
		if n := len(p.stack); n > 0 {
			p.stack = p.stack[:n-1]
		}
		return
	}

	// A bare do resolves a block head that spilled onto an earlier line.
	if line == "do" {
		if p.pending != nil {
			p.stack = append(p.stack, *p.pending)
			p.pending = nil
		} else {
			p.stack = append(p.stack, routerBlock{})
		}
		return
	}
	p.pending = nil

	switch {
	case routerPipelineRe.MatchString(body):
		if hasDo {
			p.stack = append(p.stack, routerBlock{kind: routerBlockPipeline})
		}
		return

	case routerPipeThruRe.MatchString(body):
		m := routerPipeThruRe.FindStringSubmatch(body)
		p.attachPipelines(AtomList(m[1]))
		return

	case routerScopeRe.MatchString(body) && strings.HasPrefix(body, "scope"):
		block := p.scopeBlock(strings.TrimSpace(strings.TrimPrefix(body, "scope")))
		if hasDo {
			p.stack = append(p.stack, block)
		} else {
			p.pending = &block
		}
		return

	case routerResourcesRe.MatchString(body):
		m := routerResourcesRe.FindStringSubmatch(body)
		block, ok := p.resources(m[1], lineNo)
		if hasDo {
			if ok {
				p.stack = append(p.stack, block)
			} else {
				p.stack = append(p.stack, routerBlock{})
			}
		}
		return

	case routerVerbRe.MatchString(body):
		m := routerVerbRe.FindStringSubmatch(body)
		p.verbRoute(Verb(strings.ToUpper(m[1])), m[2], lineNo)

	case routerMatchRe.MatchString(body):
		m := routerMatchRe.FindStringSubmatch(body)
		p.matchRoute(m[1], lineNo)

	case routerLiveRe.MatchString(body):
		m := routerLiveRe.FindStringSubmatch(body)
		p.liveRoute(m[1], lineNo)

	case routerForwardRe.MatchString(body):
		m := routerForwardRe.FindStringSubmatch(body)
		p.forwardRoute(m[1], lineNo)
	}

	// Any other block head (defmodule, def, if, ...) still opens a
	// block so its end pops correctly.
	if hasDo {
		p.stack = append(p.stack, routerBlock{})
	} else if p.pending == nil && strings.HasSuffix(line, " do:") {
		// Inline do: forms never open a block.
		return
	}
}

// attachPipelines adds names to the innermost open scope. The slice is
// cloned so facts captured earlier keep their own pipeline lists.
func (p *routerParser) attachPipelines(names []string) {
	for i := len(p.stack) - 1; i >= 0; i-- {
		if p.stack[i].kind == routerBlockScope {
			merged := make([]string, 0, len(p.stack[i].pipelines)+len(names))
			merged = append(merged, p.stack[i].pipelines...)
			merged = append(merged, names...)
			p.stack[i].pipelines = merged
			return
		}
	}
	util.Debugf(util.DebugRouter, "pipe_through outside scope ignored", "file", p.path)
}

// scopeBlock parses a scope head: path, optional module, optional as:.
func (p *routerParser) scopeBlock(args string) routerBlock {
	positional, opts := KeywordOpts(SplitArgs(args))

	block := routerBlock{kind: routerBlockScope}
	for _, arg := range positional {
		switch {
		case strings.HasPrefix(arg, `"`) || strings.HasPrefix(arg, `'`):
			block.pathPart = Unquote(arg)
		case moduleNameRe.MatchString(arg):
			block.aliasPart = arg
		}
	}
	if v, ok := opts["path"]; ok {
		block.pathPart = Unquote(v)
	}
	if v, ok := opts["alias"]; ok && moduleNameRe.MatchString(v) {
		block.aliasPart = v
	}
	if as, ok := opts["as"]; ok {
		block.helperPart = Atom(as)
	}
	return block
}

func (p *routerParser) verbRoute(verb Verb, args string, lineNo int) {
	positional, opts := KeywordOpts(SplitArgs(args))
	if len(positional) < 2 {
		return
	}
	ownPath := Unquote(positional[0])
	controller := p.resolveModule(positional[1])
	action := ""
	if len(positional) > 2 {
		action = Atom(positional[2])
	}

	p.facts = append(p.facts, RouteFact{
		Verb:       verb,
		Path:       p.fullPath(ownPath),
		Controller: controller,
		Action:     action,
		Helper:     p.helperFor(ownPath, opts["as"]),
		Kind:       RouteHTTP,
		Pipelines:  p.effectivePipelines(),
		File:       p.path,
		Line:       lineNo,
	})
}

// matchRoute fans a multi-verb match out into one fact per verb; the
// :* pseudo-verb produces a single wildcard fact.
func (p *routerParser) matchRoute(args string, lineNo int) {
	positional, opts := KeywordOpts(SplitArgs(args))
	if len(positional) < 3 {
		return
	}

	verbsArg := strings.TrimSpace(positional[0])
	var verbs []Verb
	if verbsArg == ":*" {
		verbs = []Verb{VerbAny}
	} else {
		for _, atom := range AtomList(verbsArg) {
			verbs = append(verbs, Verb(strings.ToUpper(atom)))
		}
	}
	if len(verbs) == 0 {
		return
	}

	ownPath := Unquote(positional[1])
	controller := p.resolveModule(positional[2])
	action := ""
	if len(positional) > 3 {
		action = Atom(positional[3])
	}

	for _, verb := range verbs {
		p.facts = append(p.facts, RouteFact{
			Verb:       verb,
			Path:       p.fullPath(ownPath),
			Controller: controller,
			Action:     action,
			Helper:     p.helperFor(ownPath, opts["as"]),
			Kind:       RouteHTTP,
			Pipelines:  p.effectivePipelines(),
			File:       p.path,
			Line:       lineNo,
		})
	}
}

func (p *routerParser) liveRoute(args string, lineNo int) {
	positional, opts := KeywordOpts(SplitArgs(args))
	if len(positional) < 2 {
		return
	}
	ownPath := Unquote(positional[0])
	action := ""
	if len(positional) > 2 {
		action = Atom(positional[2])
	}

	p.facts = append(p.facts, RouteFact{
		Verb:       VerbGet,
		Path:       p.fullPath(ownPath),
		Controller: p.resolveModule(positional[1]),
		Action:     action,
		Helper:     p.helperFor(ownPath, opts["as"]),
		Kind:       RouteLive,
		Pipelines:  p.effectivePipelines(),
		File:       p.path,
		Line:       lineNo,
	})
}

func (p *routerParser) forwardRoute(args string, lineNo int) {
	positional, _ := KeywordOpts(SplitArgs(args))
	if len(positional) < 2 {
		return
	}
	ownPath := Unquote(positional[0])

	p.facts = append(p.facts, RouteFact{
		Verb:       VerbAny,
		Path:       p.fullPath(ownPath),
		Controller: p.resolveModule(positional[1]),
		Helper:     p.helperFor(ownPath, ""),
		Kind:       RouteForward,
		Pipelines:  p.effectivePipelines(),
		File:       p.path,
		Line:       lineNo,
	})
}

// restAction is one generated action of a resources macro.
type restAction struct {
	action    string
	verb      Verb
	suffix    string
	usesParam bool
}

var collectionActions = []restAction{
	{"index", VerbGet, "", false},
	{"new", VerbGet, "/new", false},
	{"create", VerbPost, "", false},
	{"show", VerbGet, "", true},
	{"edit", VerbGet, "/edit", true},
	{"update", VerbPatch, "", true},
	{"delete", VerbDelete, "", true},
}

var singletonActions = []restAction{
	{"show", VerbGet, "", false},
	{"new", VerbGet, "/new", false},
	{"create", VerbPost, "", false},
	{"edit", VerbGet, "/edit", false},
	{"update", VerbPatch, "", false},
	{"delete", VerbDelete, "", false},
}

// resources expands a resources macro into route facts and returns the
// block to push when the macro opens a nesting block.
func (p *routerParser) resources(args string, lineNo int) (routerBlock, bool) {
	positional, opts := KeywordOpts(SplitArgs(args))
	if len(positional) < 2 {
		return routerBlock{}, false
	}

	ownPath := Unquote(positional[0])
	controller := p.resolveModule(positional[1])
	param := "id"
	if v, ok := opts["param"]; ok {
		param = Unquote(v)
	}

	helper := p.helperFor(ownPath, opts["as"])
	base := p.fullPath(ownPath)
	pipelines := p.effectivePipelines()

	actions := collectionActions
	if TruthyOpt(opts["singleton"]) {
		actions = singletonActions
	}
	allowed := actionFilter(opts)

	for _, a := range actions {
		if !allowed(a.action) {
			continue
		}
		path := base
		if a.usesParam {
			path = pathJoin(path, ":"+param)
		}
		if a.suffix != "" {
			path = pathJoin(path, strings.TrimPrefix(a.suffix, "/"))
		}
		p.facts = append(p.facts, RouteFact{
			Verb:       a.verb,
			Path:       path,
			Controller: controller,
			Action:     a.action,
			Helper:     helper,
			Kind:       RouteHTTP,
			Pipelines:  pipelines,
			File:       p.path,
			Line:       lineNo,
		})
	}

	// Children nest under the member path and inherit the helper chain:
	// resources "/users" ... resources "/posts" gives /users/:user_id/posts
	// and helper user_post.
	singular := helperSegment(lastSegment(ownPath))
	nested := routerBlock{
		kind:       routerBlockResource,
		pathPart:   strings.TrimSuffix(ownPath, "/") + "/:" + singular + "_" + param,
		helperPart: baseHelper(ownPath, opts["as"]),
	}
	return nested, true
}

// actionFilter builds the only/except predicate for resources.
func actionFilter(opts map[string]string) func(string) bool {
	if v, ok := opts["only"]; ok {
		allowed := make(map[string]bool)
		for _, a := range AtomList(v) {
			allowed[a] = true
		}
		return func(action string) bool { return allowed[action] }
	}
	if v, ok := opts["except"]; ok {
		blocked := make(map[string]bool)
		for _, a := range AtomList(v) {
			blocked[a] = true
		}
		return func(action string) bool { return !blocked[action] }
	}
	return func(string) bool { return true }
}

// fullPath prepends the open scope and resource segments to a path.
func (p *routerParser) fullPath(ownPath string) string {
	full := ""
	for _, b := range p.stack {
		full = pathJoin(full, b.pathPart)
	}
	return pathJoin(full, ownPath)
}

// helperFor derives a route's helper: the explicit as: wins over the
// path-derived base, and enclosing scope/resource helper parts prefix
// either one.
func (p *routerParser) helperFor(ownPath, as string) string {
	base := baseHelper(ownPath, as)
	var parts []string
	for _, b := range p.stack {
		if b.helperPart != "" {
			parts = append(parts, b.helperPart)
		}
	}
	if base != "" {
		parts = append(parts, base)
	}
	if len(parts) == 0 {
		return "root"
	}
	return strings.Join(parts, "_")
}

func baseHelper(ownPath, as string) string {
	if as != "" {
		return Atom(as)
	}
	return HelperBase(ownPath)
}

func (p *routerParser) resolveModule(name string) string {
	name = strings.TrimSpace(name)
	var parts []string
	for _, b := range p.stack {
		if b.aliasPart != "" {
			parts = append(parts, b.aliasPart)
		}
	}
	if len(parts) == 0 {
		return name
	}
	return strings.Join(parts, ".") + "." + name
}

func (p *routerParser) effectivePipelines() []string {
	var out []string
	for _, b := range p.stack {
		out = append(out, b.pipelines...)
	}
	return out
}

// pathJoin concatenates path pieces with exactly one slash between
// them; empty pieces vanish and the root path stays "/".
func pathJoin(prefix, part string) string {
	part = strings.Trim(part, "/")
	prefix = strings.TrimSuffix(prefix, "/")
	if part == "" {
		if prefix == "" {
			return "/"
		}
		return prefix
	}
	return prefix + "/" + part
}

func lastSegment(path string) string {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	for i := len(segs) - 1; i >= 0; i-- {
		if segs[i] != "" && !strings.HasPrefix(segs[i], ":") {
			return segs[i]
		}
	}
	return ""
}

// stripLineComment cuts a trailing # comment, leaving # inside strings
// alone.
func stripLineComment(line string) string {
	inStr := byte(0)
	for i := 0; i < len(line); i++ {
		c := line[i]
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
		case '#':
			return line[:i]
		}
	}
	return line
}
