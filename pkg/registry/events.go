package registry

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/phxlens/phxlens/pkg/util"
)

// EventsRegistry extracts LiveView event handlers: handle_event clause
// heads for UI events, handle_info clause heads for process messages.
// It also tracks which event names each template references, so unused
// handlers can be reported per module.
type EventsRegistry struct {
	fileStore
	events map[string][]EventFact
	usage  map[string]*templateUsage
	logger *slog.Logger
}

// templateUsage is the set of event names one template references,
// tagged with the module the template belongs to.
type templateUsage struct {
	owner  string
	events map[string]bool
}

// NewEventsRegistry creates an empty events registry.
func NewEventsRegistry(logger *slog.Logger) *EventsRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventsRegistry{
		fileStore: newFileStore(),
		events:    make(map[string][]EventFact),
		usage:     make(map[string]*templateUsage),
		logger:    logger,
	}
}

// Relevant reports whether a file can declare event handlers.
func (r *EventsRegistry) Relevant(path string, content []byte) bool {
	if !strings.HasSuffix(path, ".ex") && !strings.HasSuffix(path, ".exs") {
		return false
	}
	src := string(content)
	return strings.Contains(src, "handle_event") || strings.Contains(src, "handle_info")
}

// UpdateFile reparses a handler file and atomically replaces its facts.
func (r *EventsRegistry) UpdateFile(path string, content []byte) {
	if !r.Relevant(path, content) {
		return
	}
	hash := util.ContentHash(content)
	if r.unchanged(path, hash) {
		r.noteSkip()
		return
	}

	facts := parseEventSource(path, content)

	r.mu.Lock()
	if r.hashes[path] == hash {
		r.mu.Unlock()
		r.noteSkip()
		return
	}
	delete(r.events, path)
	if len(facts) > 0 {
		r.events[path] = facts
	}
	r.commitLocked(path, hash)
	r.mu.Unlock()

	util.Debugf(util.DebugEvents, "events updated", "path", path, "handlers", len(facts))
}

// RemoveFile drops all handler facts for a path.
func (r *EventsRegistry) RemoveFile(path string) {
	r.mu.Lock()
	delete(r.events, path)
	r.forgetLocked(path)
	r.mu.Unlock()
}

// SetTemplateUsage records the event names a template references. The
// owner module ties the usage to handlers for UnusedHandlers.
func (r *EventsRegistry) SetTemplateUsage(templatePath, ownerModule string, names []string) {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		if n != "" {
			set[n] = true
		}
	}
	r.mu.Lock()
	r.usage[templatePath] = &templateUsage{owner: ownerModule, events: set}
	r.mu.Unlock()
}

// RemoveTemplateUsage drops a template's usage set.
func (r *EventsRegistry) RemoveTemplateUsage(templatePath string) {
	r.mu.Lock()
	delete(r.usage, templatePath)
	r.mu.Unlock()
}

// All returns every handler, ordered by module, kind, then name.
func (r *EventsRegistry) All() []EventFact {
	r.mu.RLock()
	var out []EventFact
	for _, facts := range r.events {
		out = append(out, facts...)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Module != b.Module {
			return a.Module < b.Module
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Name < b.Name
	})
	return out
}

// ByFile returns the handlers declared in one file.
func (r *EventsRegistry) ByFile(path string) []EventFact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]EventFact(nil), r.events[path]...)
}

// EventsForTemplate splits handlers into those owned by the template's
// module and everything else. Handlers from imported components still
// fire, so the rest stays reachable as a secondary set.
func (r *EventsRegistry) EventsForTemplate(ownerModule string) (primary, secondary []EventFact) {
	for _, f := range r.All() {
		if ownerModule != "" && moduleMatches(f.Module, ownerModule) {
			primary = append(primary, f)
		} else {
			secondary = append(secondary, f)
		}
	}
	return primary, secondary
}

// Exists reports whether any UI event handler has this name.
func (r *EventsRegistry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, facts := range r.events {
		for i := range facts {
			if facts[i].Kind == EventUI && facts[i].Name == name {
				return true
			}
		}
	}
	return false
}

// UsedEventNames returns the union of event names referenced by the
// templates belonging to a module, sorted.
func (r *EventsRegistry) UsedEventNames(module string) []string {
	r.mu.RLock()
	seen := make(map[string]bool)
	for _, u := range r.usage {
		if module == "" || moduleMatches(u.owner, module) {
			for n := range u.events {
				seen[n] = true
			}
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

// UnusedHandlers returns UI handlers no template of their module
// references. A module argument narrows the report; empty covers the
// workspace.
func (r *EventsRegistry) UnusedHandlers(module string) []EventFact {
	var out []EventFact
	for _, f := range r.All() {
		if f.Kind != EventUI {
			continue
		}
		if module != "" && !moduleMatches(f.Module, module) {
			continue
		}
		if !r.nameUsed(f.Module, f.Name) {
			out = append(out, f)
		}
	}
	return out
}

func (r *EventsRegistry) nameUsed(module, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.usage {
		if moduleMatches(u.owner, module) && u.events[name] {
			return true
		}
	}
	return false
}

// EventNames returns the distinct UI event names, sorted.
func (r *EventsRegistry) EventNames() []string {
	r.mu.RLock()
	seen := make(map[string]bool)
	for _, facts := range r.events {
		for _, f := range facts {
			if f.Kind == EventUI {
				seen[f.Name] = true
			}
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

// SuggestEvents returns event names nearest to a miss.
func (r *EventsRegistry) SuggestEvents(name string, max int) []string {
	return Suggest(r.EventNames(), name, max)
}

// Stats reports registry counters.
func (r *EventsRegistry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var st Stats
	r.gateStatsLocked(&st)
	for _, facts := range r.events {
		st.Facts += len(facts)
	}
	return st
}

// moduleMatches reports whether two module names refer to the same
// module, allowing either side to be a shortened suffix of the other.
func moduleMatches(a, b string) bool {
	if a == b {
		return true
	}
	return strings.HasSuffix(a, "."+b) || strings.HasSuffix(b, "."+a)
}

// --- source scanning ---

type eventParser struct {
	path    string
	depth   int
	modules []componentModuleFrame

	pendingDoc string
	inDoc      bool
	docBuf     []string

	openClause  int
	clauseDepth int

	facts []EventFact
	seen  map[string]bool
}

// parseEventSource scans handler clause heads into facts. Pure; the
// caller owns locking.
func parseEventSource(path string, content []byte) []EventFact {
	p := &eventParser{path: path, openClause: -1, seen: make(map[string]bool)}

	lines := strings.Split(string(content), "\n")
	offsets := make([]int, len(lines)+1)
	for i, l := range lines {
		offsets[i+1] = offsets[i] + len(l) + 1
	}

	for i := 0; i < len(lines); i++ {
		startLine := i
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

		start := uint32(offsets[startLine])
		end := uint32(offsets[i] + len(lines[i]))
		p.handleLine(line, startLine+1, start, end)
	}
	return p.facts
}

func (p *eventParser) handleLine(line string, lineNo int, startByte, endByte uint32) {
	hasDo := line == "do" || strings.HasSuffix(line, " do")
	body := line
	if hasDo {
		body = strings.TrimSpace(strings.TrimSuffix(line, "do"))
	}

	if line == "end" {
		p.depth--
		if p.openClause >= 0 && p.depth < p.clauseDepth {
			p.facts[p.openClause].EndByte = endByte
			p.openClause = -1
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
		p.pendingDoc = ""
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
	}

	if kind, args, ok := handlerHead(body); ok {
		p.emit(kind, args, lineNo, startByte, endByte, hasDo)
		if hasDo {
			p.depth++
			if p.openClause >= 0 {
				p.clauseDepth = p.depth
			}
		}
		return
	}

	if strings.HasPrefix(body, "def ") || strings.HasPrefix(body, "defp ") {
		p.pendingDoc = ""
	}
	if hasDo {
		p.depth++
	}
}

// handlerHead recognizes a handle_event or handle_info clause head and
// returns the raw argument list between its parentheses.
func handlerHead(body string) (EventKind, string, bool) {
	rest, ok := strings.CutPrefix(body, "def ")
	if !ok {
		rest, ok = strings.CutPrefix(body, "defp ")
	}
	if !ok {
		return "", "", false
	}
	rest = strings.TrimSpace(rest)

	var kind EventKind
	switch {
	case strings.HasPrefix(rest, "handle_event"):
		kind = EventUI
		rest = rest[len("handle_event"):]
	case strings.HasPrefix(rest, "handle_info"):
		kind = EventMessage
		rest = rest[len("handle_info"):]
	default:
		return "", "", false
	}

	rest = strings.TrimSpace(rest)
	if !strings.HasPrefix(rest, "(") {
		return "", "", false
	}
	close := matchingParen(rest, 0)
	if close < 0 {
		return "", "", false
	}
	return kind, rest[1:close], true
}

// matchingParen finds the index of the close paren matching the open
// paren at position open, skipping string contents.
func matchingParen(s string, open int) int {
	depth := 0
	inStr := byte(0)
	for i := open; i < len(s); i++ {
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
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// emit records a handler clause. Extra clauses of the same handler
// collapse into the first; a one-line do: clause closes immediately.
func (p *eventParser) emit(kind EventKind, args string, lineNo int, startByte, endByte uint32, opensBlock bool) {
	parts := SplitArgs(args)
	if len(parts) == 0 {
		return
	}

	name := eventName(kind, parts[0])
	if name == "" {
		return
	}

	module := ""
	if len(p.modules) > 0 {
		module = p.modules[len(p.modules)-1].name
	}

	key := module + "\x00" + string(kind) + "\x00" + name
	if p.seen[key] {
		p.pendingDoc = ""
		return
	}
	p.seen[key] = true

	params := ""
	if len(parts) > 1 {
		params = parts[1]
	}

	p.facts = append(p.facts, EventFact{
		Kind:      kind,
		Name:      name,
		Module:    module,
		File:      p.path,
		Line:      lineNo,
		Params:    params,
		Doc:       p.pendingDoc,
		StartByte: startByte,
		EndByte:   endByte,
	})
	p.pendingDoc = ""

	if opensBlock {
		p.openClause = len(p.facts) - 1
	}
}

// eventName extracts the handler name from the first clause argument:
// a string literal for UI events, an atom or atom-headed tuple for
// messages. Dynamic patterns yield no name and no fact.
func eventName(kind EventKind, arg string) string {
	arg = strings.TrimSpace(arg)

	if kind == EventUI {
		if strings.HasPrefix(arg, `"`) {
			unq := Unquote(arg)
			if unq != arg && !strings.Contains(unq, `"`) && !strings.Contains(unq, "#{") {
				return unq
			}
		}
		if strings.HasPrefix(arg, ":") {
			return Atom(arg)
		}
		return ""
	}

	arg = strings.TrimPrefix(arg, "{")
	arg = strings.TrimSpace(arg)
	if strings.HasPrefix(arg, ":") {
		name := Atom(arg)
		for i, r := range name {
			if !(r == '_' || r == '?' || r == '!' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
				name = name[:i]
				break
			}
		}
		return name
	}
	return ""
}
