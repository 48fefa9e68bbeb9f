package registry

import (
	"log/slog"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/phxlens/phxlens/pkg/util"
)

// resolveCacheSize bounds the component resolution cache. Resolution
// results are tiny; the cap mostly limits churn from generated keys.
const resolveCacheSize = 512

// ComponentsRegistry extracts function components: def/defp functions
// taking an assigns argument, together with the attr and slot
// declarations stacked above them.
type ComponentsRegistry struct {
	fileStore
	components map[string][]ComponentFact
	resolve    *lru.Cache[string, *ComponentFact]
	logger     *slog.Logger
}

// NewComponentsRegistry creates an empty components registry.
func NewComponentsRegistry(logger *slog.Logger) *ComponentsRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	cache, _ := lru.New[string, *ComponentFact](resolveCacheSize)
	return &ComponentsRegistry{
		fileStore:  newFileStore(),
		components: make(map[string][]ComponentFact),
		resolve:    cache,
		logger:     logger,
	}
}

// Relevant reports whether a file can declare function components.
func (r *ComponentsRegistry) Relevant(path string, content []byte) bool {
	if !strings.HasSuffix(path, ".ex") {
		return false
	}
	src := string(content)
	return strings.Contains(src, "attr :") ||
		strings.Contains(src, "slot :") ||
		strings.Contains(src, "(assigns)") ||
		strings.Contains(src, "Phoenix.Component")
}

// UpdateFile reparses a component file and atomically replaces its
// facts. The resolution cache is purged on any change since a new
// component can win a previously cached lookup.
func (r *ComponentsRegistry) UpdateFile(path string, content []byte) {
	if !r.Relevant(path, content) {
		return
	}
	hash := util.ContentHash(content)
	if r.unchanged(path, hash) {
		r.noteSkip()
		return
	}

	facts := parseComponentSource(path, content)

	r.mu.Lock()
	if r.hashes[path] == hash {
		r.mu.Unlock()
		r.noteSkip()
		return
	}
	delete(r.components, path)
	if len(facts) > 0 {
		r.components[path] = facts
	}
	r.commitLocked(path, hash)
	r.mu.Unlock()

	r.resolve.Purge()
	util.Debugf(util.DebugComponents, "components updated", "path", path, "components", len(facts))
}

// RemoveFile drops all facts for a path.
func (r *ComponentsRegistry) RemoveFile(path string) {
	r.mu.Lock()
	delete(r.components, path)
	r.forgetLocked(path)
	r.mu.Unlock()
	r.resolve.Purge()
}

// All returns every component, ordered by module then name.
func (r *ComponentsRegistry) All() []ComponentFact {
	r.mu.RLock()
	var out []ComponentFact
	for _, facts := range r.components {
		out = append(out, facts...)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Module != out[j].Module {
			return out[i].Module < out[j].Module
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// ByFile returns the components declared in one file.
func (r *ComponentsRegistry) ByFile(path string) []ComponentFact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ComponentFact(nil), r.components[path]...)
}

// Get returns the component declared by an exact module and name, or
// nil.
func (r *ComponentsRegistry) Get(module, name string) *ComponentFact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, facts := range r.components {
		for i := range facts {
			if facts[i].Module == module && facts[i].Name == name {
				f := facts[i]
				return &f
			}
		}
	}
	return nil
}

// Names returns the distinct component names, sorted.
func (r *ComponentsRegistry) Names() []string {
	r.mu.RLock()
	seen := make(map[string]bool)
	for _, facts := range r.components {
		for _, f := range facts {
			seen[f.Name] = true
		}
	}
	r.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ResolveOpts narrows a component resolution.
type ResolveOpts struct {
	// Module restricts the search to a module from a remote call like
	// <Mod.button>: exact, or a trailing suffix so aliased modules
	// still resolve.
	Module string

	// FileContent is the caller's current buffer. It is parsed in
	// place of indexed facts when fromFile is not indexed yet, so a
	// just-typed local component resolves before any update lands.
	FileContent []byte
}

// ResolveComponent finds the component a template tag in fromFile
// refers to.
//
// A remote call matches on opts.Module. A local call (<.fn>) tries the
// caller's own file first, then searches the workspace rooted at the
// conventional components directory under the caller's nearest *_web
// ancestor; a unique hit wins, and among several hits a CoreComponents
// module wins since that is where shared components conventionally
// live. Anything still ambiguous resolves to nil.
func (r *ComponentsRegistry) ResolveComponent(fromFile, name string, opts ResolveOpts) *ComponentFact {
	key := fromFile + "\x00" + name + "\x00" + opts.Module
	if len(opts.FileContent) > 0 {
		key += "\x00" + util.ContentHash(opts.FileContent)
	}
	if f, ok := r.resolve.Get(key); ok {
		return f
	}
	f := r.resolveSlow(fromFile, name, opts)
	r.resolve.Add(key, f)
	return f
}

func (r *ComponentsRegistry) resolveSlow(fromFile, name string, opts ResolveOpts) *ComponentFact {
	local := r.ByFile(fromFile)
	if len(local) == 0 && len(opts.FileContent) > 0 {
		local = parseComponentSource(fromFile, opts.FileContent)
	}

	if opts.Module != "" {
		if f := r.Get(opts.Module, name); f != nil {
			return f
		}
		if f := r.bySuffix(opts.Module, name); f != nil {
			return f
		}
		for i := range local {
			if local[i].Name == name &&
				(local[i].Module == opts.Module || strings.HasSuffix(local[i].Module, "."+opts.Module)) {
				f := local[i]
				return &f
			}
		}
		return nil
	}

	for i := range local {
		if local[i].Name == name {
			f := local[i]
			return &f
		}
	}

	var hits []ComponentFact
	for _, f := range r.All() {
		if f.Name == name {
			hits = append(hits, f)
		}
	}
	if len(hits) == 0 {
		return nil
	}
	if dir := componentsDirFor(fromFile); dir != "" {
		var rooted []ComponentFact
		for _, h := range hits {
			if strings.HasPrefix(filepath.ToSlash(h.File), dir+"/") {
				rooted = append(rooted, h)
			}
		}
		if len(rooted) > 0 {
			hits = rooted
		}
	}
	if len(hits) == 1 {
		return &hits[0]
	}
	for i := range hits {
		if strings.HasSuffix(hits[i].Module, "CoreComponents") {
			return &hits[i]
		}
	}
	return nil
}

// componentsDirFor returns the shared components directory for a
// caller file: the components/ folder under its nearest *_web
// ancestor, or "" when no such ancestor exists.
func componentsDirFor(fromFile string) string {
	dir := path.Dir(filepath.ToSlash(fromFile))
	for dir != "." && dir != "/" && dir != "" {
		if strings.HasSuffix(path.Base(dir), "_web") {
			return dir + "/components"
		}
		dir = path.Dir(dir)
	}
	return ""
}

func (r *ComponentsRegistry) bySuffix(module, name string) *ComponentFact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, facts := range r.components {
		for i := range facts {
			if facts[i].Name == name && strings.HasSuffix(facts[i].Module, "."+module) {
				f := facts[i]
				return &f
			}
		}
	}
	return nil
}

// SuggestComponents returns component names nearest to a miss.
func (r *ComponentsRegistry) SuggestComponents(name string, max int) []string {
	return Suggest(r.Names(), name, max)
}

// Stats reports registry counters.
func (r *ComponentsRegistry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var st Stats
	r.gateStatsLocked(&st)
	for _, facts := range r.components {
		st.Facts += len(facts)
	}
	return st
}

// --- source scanning ---

var (
	componentModuleRe = regexp.MustCompile(`^defmodule\s+([A-Z][\w.]*)\s+do\b`)
	componentAttrRe   = regexp.MustCompile(`^attr\s+:([a-z_][\w?!]*)\s*,\s*(.+)$`)
	componentSlotRe   = regexp.MustCompile(`^slot\s+:([a-z_][\w?!]*)\s*(.*)$`)
	componentDefRe    = regexp.MustCompile(`^defp?\s+([a-z_][\w?!]*)\s*\((.*?)\)`)
	docStartRe        = regexp.MustCompile(`^@doc\s+(.+)$`)
)

type componentModuleFrame struct {
	name  string
	depth int
}

type componentParser struct {
	path    string
	depth   int
	modules []componentModuleFrame

	pendingAttrs []AttrFact
	pendingSlots []SlotFact
	pendingDoc   string

	curSlot   *SlotFact
	slotDepth int

	inDoc  bool
	docBuf []string

	facts   []ComponentFact
	emitted map[string]bool
}

// parseComponentSource scans a component module into facts. Pure; the
// caller owns locking.
func parseComponentSource(path string, content []byte) []ComponentFact {
	p := &componentParser{path: path, emitted: make(map[string]bool)}

	lines := strings.Split(string(content), "\n")
	for i := 0; i < len(lines); i++ {
		lineNo := i + 1
		raw := lines[i]

		if p.inDoc {
			if strings.TrimSpace(raw) == `"""` {
				p.inDoc = false
				p.pendingDoc = strings.TrimSpace(strings.Join(p.docBuf, "\n"))
				p.docBuf = nil
			} else {
				p.docBuf = append(p.docBuf, raw)
			}
			continue
		}

		line := strings.TrimSpace(stripLineComment(raw))
		if line == "" {
			continue
		}
		for strings.HasSuffix(line, ",") && i+1 < len(lines) {
			i++
			line = line + " " + strings.TrimSpace(stripLineComment(lines[i]))
		}

		p.handleLine(line, lineNo)
	}
	return p.facts
}

func (p *componentParser) handleLine(line string, lineNo int) {
	hasDo := line == "do" || strings.HasSuffix(line, " do")
	body := line
	if hasDo {
		body = strings.TrimSpace(strings.TrimSuffix(line, "do"))
	}

	if line == "end" {
		p.depth--
		if p.curSlot != nil && p.depth < p.slotDepth {
			p.pendingSlots = append(p.pendingSlots, *p.curSlot)
			p.curSlot = nil
		}
		for len(p.modules) > 0 && p.depth < p.modules[len(p.modules)-1].depth {
			p.modules = p.modules[:len(p.modules)-1]
		}
		return
	}

	switch {
	case componentModuleRe.MatchString(line):
		m := componentModuleRe.FindStringSubmatch(line)
		p.depth++
		p.modules = append(p.modules, componentModuleFrame{name: m[1], depth: p.depth})
		p.clearPending()
		return

	case docStartRe.MatchString(body):
		m := docStartRe.FindStringSubmatch(body)
		arg := strings.TrimSpace(m[1])
		switch {
		case arg == `"""`:
			p.inDoc = true
		case arg == "false":
			p.pendingDoc = ""
		default:
			p.pendingDoc = Unquote(arg)
		}
		return

	case componentAttrRe.MatchString(body):
		m := componentAttrRe.FindStringSubmatch(body)
		attr := parseAttr(m[1], m[2], lineNo)
		if p.curSlot != nil {
			p.curSlot.Attrs = append(p.curSlot.Attrs, attr)
		} else {
			p.pendingAttrs = append(p.pendingAttrs, attr)
		}
		return

	case componentSlotRe.MatchString(body):
		m := componentSlotRe.FindStringSubmatch(body)
		slot := parseSlot(m[1], m[2], lineNo)
		if hasDo {
			p.depth++
			p.curSlot = &slot
			p.slotDepth = p.depth
		} else {
			p.pendingSlots = append(p.pendingSlots, slot)
		}
		return

	case componentDefRe.MatchString(body):
		m := componentDefRe.FindStringSubmatch(body)
		if isAssignsArg(m[2]) {
			p.emit(m[1], lineNo)
		} else {
			p.clearPending()
		}
		if hasDo {
			p.depth++
		}
		return
	}

	if hasDo {
		p.depth++
	}
}

// emit records a component at its first clause; later clauses of the
// same function add nothing.
func (p *componentParser) emit(name string, lineNo int) {
	module := ""
	if len(p.modules) > 0 {
		module = p.modules[len(p.modules)-1].name
	}
	key := module + "." + name
	if p.emitted[key] {
		p.clearPending()
		return
	}
	p.emitted[key] = true

	p.facts = append(p.facts, ComponentFact{
		Name:   name,
		Module: module,
		File:   p.path,
		Line:   lineNo,
		Doc:    p.pendingDoc,
		Attrs:  p.pendingAttrs,
		Slots:  p.pendingSlots,
	})
	p.pendingAttrs = nil
	p.pendingSlots = nil
	p.pendingDoc = ""
}

func (p *componentParser) clearPending() {
	p.pendingAttrs = nil
	p.pendingSlots = nil
	p.pendingDoc = ""
}

// isAssignsArg reports whether a def head takes the single assigns
// argument that marks a function component. A pattern match that binds
// assigns (%{...} = assigns) counts.
func isAssignsArg(args string) bool {
	parts := SplitArgs(args)
	if len(parts) != 1 {
		return false
	}
	arg := strings.TrimSpace(parts[0])
	return arg == "assigns" || strings.HasSuffix(arg, "= assigns")
}

func parseAttr(name, rest string, lineNo int) AttrFact {
	positional, opts := KeywordOpts(SplitArgs(rest))

	attr := AttrFact{Name: name, Line: lineNo}
	if len(positional) > 0 {
		attr.Type = Atom(positional[0])
	}
	attr.Required = TruthyOpt(opts["required"])
	if v, ok := opts["default"]; ok {
		attr.Default = Unquote(v)
	}
	if v, ok := opts["values"]; ok {
		attr.Values = AtomList(v)
		if attr.Values == nil {
			attr.Values = []string{v}
		}
	}
	if v, ok := opts["doc"]; ok {
		attr.Doc = Unquote(v)
	}
	return attr
}

func parseSlot(name, rest string, lineNo int) SlotFact {
	slot := SlotFact{Name: name, Line: lineNo}
	rest = strings.TrimSpace(strings.TrimPrefix(rest, ","))
	if rest == "" {
		return slot
	}
	_, opts := KeywordOpts(SplitArgs(rest))
	slot.Required = TruthyOpt(opts["required"])
	if v, ok := opts["doc"]; ok {
		slot.Doc = Unquote(v)
	}
	return slot
}
