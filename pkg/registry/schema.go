package registry

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/phxlens/phxlens/pkg/util"
)

// SchemaRegistry extracts Ecto schema facts: fields, associations, and
// the alias table needed to resolve association targets. It also
// implements the nested path walk behind dotted-property completion.
type SchemaRegistry struct {
	fileStore
	schemas map[string][]SchemaFact
	logger  *slog.Logger
}

// NewSchemaRegistry creates an empty schema registry.
func NewSchemaRegistry(logger *slog.Logger) *SchemaRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &SchemaRegistry{
		fileStore: newFileStore(),
		schemas:   make(map[string][]SchemaFact),
		logger:    logger,
	}
}

// Relevant reports whether a file can declare an Ecto schema.
func (r *SchemaRegistry) Relevant(path string, content []byte) bool {
	if !strings.HasSuffix(path, ".ex") {
		return false
	}
	src := string(content)
	return strings.Contains(src, `schema "`) || strings.Contains(src, "embedded_schema")
}

// UpdateFile reparses a schema file and atomically replaces its facts.
func (r *SchemaRegistry) UpdateFile(path string, content []byte) {
	if !r.Relevant(path, content) {
		return
	}
	hash := util.ContentHash(content)
	if r.unchanged(path, hash) {
		r.noteSkip()
		return
	}

	facts := parseSchemaSource(path, content)

	r.mu.Lock()
	if r.hashes[path] == hash {
		r.mu.Unlock()
		r.noteSkip()
		return
	}
	delete(r.schemas, path)
	if len(facts) > 0 {
		r.schemas[path] = facts
	}
	r.commitLocked(path, hash)
	r.mu.Unlock()

	util.Debugf(util.DebugSchema, "schemas updated", "path", path, "schemas", len(facts))
}

// RemoveFile drops all facts for a path.
func (r *SchemaRegistry) RemoveFile(path string) {
	r.mu.Lock()
	delete(r.schemas, path)
	r.forgetLocked(path)
	r.mu.Unlock()
}

// All returns every schema, ordered by module name.
func (r *SchemaRegistry) All() []SchemaFact {
	r.mu.RLock()
	var out []SchemaFact
	for _, facts := range r.schemas {
		out = append(out, facts...)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Module < out[j].Module })
	return out
}

// ByFile returns the schemas declared in one file.
func (r *SchemaRegistry) ByFile(path string) []SchemaFact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]SchemaFact(nil), r.schemas[path]...)
}

// Get returns the schema for an exact module name, or nil.
func (r *SchemaRegistry) Get(module string) *SchemaFact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getLocked(module)
}

func (r *SchemaRegistry) getLocked(module string) *SchemaFact {
	for _, facts := range r.schemas {
		for i := range facts {
			if facts[i].Module == module {
				f := facts[i]
				return &f
			}
		}
	}
	return nil
}

// lookup finds a schema by exact name first, then by unique dotted
// suffix, so both Demo.Accounts.User and a bare User find the schema
// as long as the short name is unambiguous.
func (r *SchemaRegistry) lookup(name string) *SchemaFact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if f := r.getLocked(name); f != nil {
		return f
	}
	var hit *SchemaFact
	for _, facts := range r.schemas {
		for i := range facts {
			if strings.HasSuffix(facts[i].Module, "."+name) {
				if hit != nil {
					return nil
				}
				f := facts[i]
				hit = &f
			}
		}
	}
	return hit
}

// ResolveModule expands a short model name to its qualified form using
// the alias table of the context module, then the context's namespace,
// and finally a workspace-unique suffix match. Returns "" when nothing
// known matches.
func (r *SchemaRegistry) ResolveModule(name, context string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if f := r.Get(name); f != nil {
		return f.Module
	}

	if context != "" {
		if ctx := r.Get(context); ctx != nil {
			if resolved := resolveTarget(name, ctx.Module, ctx.Aliases); resolved != name {
				if f := r.Get(resolved); f != nil {
					return f.Module
				}
			}
		}
	}

	if f := r.lookup(name); f != nil {
		return f.Module
	}
	return ""
}

// FieldsForPath walks a dotted association path from a starting model
// and returns the terminal model's fields. Every segment must be an
// association; the walk short-circuits to an empty list at the first
// unknown field, plain field, or unresolvable target.
func (r *SchemaRegistry) FieldsForPath(start, path string) []FieldFact {
	cur := r.lookup(start)
	if cur == nil {
		return nil
	}

	path = strings.Trim(path, ".")
	if path != "" {
		for _, seg := range strings.Split(path, ".") {
			assoc := cur.Association(seg)
			if assoc == nil || assoc.Target == "" {
				return nil
			}
			next := r.Get(assoc.Target)
			if next == nil {
				next = r.lookup(assoc.Target)
			}
			if next == nil {
				return nil
			}
			cur = next
		}
	}
	return append([]FieldFact(nil), cur.Fields...)
}

// Stats reports registry counters.
func (r *SchemaRegistry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var st Stats
	r.gateStatsLocked(&st)
	for _, facts := range r.schemas {
		st.Facts += len(facts)
	}
	return st
}

// --- source scanning ---

var (
	schemaOpenRe   = regexp.MustCompile(`^schema\s+"([^"]*)"\s+do\b`)
	embeddedOpenRe = regexp.MustCompile(`^embedded_schema\s+do\b`)
	schemaFieldRe  = regexp.MustCompile(`^field\s+:([a-z_][\w?!]*)\s*(?:,\s*(.+))?$`)
	schemaAssocRe  = regexp.MustCompile(`^(belongs_to|has_one|has_many|embeds_one|embeds_many)\s+:([a-z_][\w?!]*)\s*(?:,\s*(.+))?$`)
	timestampsRe   = regexp.MustCompile(`^timestamps\s*(?:\(\s*(.*?)\s*\))?$`)
	aliasDeclRe    = regexp.MustCompile(`^alias\s+(.+)$`)
	primaryKeyRe   = regexp.MustCompile(`^@primary_key\s+(.+)$`)
)

type schemaParser struct {
	path    string
	depth   int
	modules []componentModuleFrame
	aliases map[string]string

	pkDisabled bool
	pkName     string
	pkType     string

	cur         *SchemaFact
	schemaDepth int
	ignoreUntil int

	facts []SchemaFact
}

// parseSchemaSource scans schema declarations into facts. Pure; the
// caller owns locking.
func parseSchemaSource(path string, content []byte) []SchemaFact {
	p := &schemaParser{path: path, aliases: make(map[string]string)}

	lines := strings.Split(string(content), "\n")
	for i := 0; i < len(lines); i++ {
		lineNo := i + 1
		line := strings.TrimSpace(stripLineComment(lines[i]))
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

func (p *schemaParser) handleLine(line string, lineNo int) {
	hasDo := line == "do" || strings.HasSuffix(line, " do")
	body := line
	if hasDo {
		body = strings.TrimSpace(strings.TrimSuffix(line, "do"))
	}

	if line == "end" {
		p.depth--
		if p.ignoreUntil > 0 && p.depth < p.ignoreUntil {
			p.ignoreUntil = 0
		}
		if p.cur != nil && p.depth < p.schemaDepth {
			p.finishSchema()
		}
		for len(p.modules) > 0 && p.depth < p.modules[len(p.modules)-1].depth {
			p.modules = p.modules[:len(p.modules)-1]
		}
		return
	}

	// Inside an inline embeds block only the nesting matters; its
	// fields belong to the inline module, not the outer schema.
	if p.ignoreUntil > 0 {
		if hasDo {
			p.depth++
		}
		return
	}

	switch {
	case componentModuleRe.MatchString(line):
		m := componentModuleRe.FindStringSubmatch(line)
		p.depth++
		p.modules = append(p.modules, componentModuleFrame{name: m[1], depth: p.depth})
		p.pkDisabled = false
		p.pkName = ""
		p.pkType = ""
		return

	case aliasDeclRe.MatchString(body):
		m := aliasDeclRe.FindStringSubmatch(body)
		p.recordAlias(m[1])
		return

	case primaryKeyRe.MatchString(body):
		m := primaryKeyRe.FindStringSubmatch(body)
		p.recordPrimaryKey(strings.TrimSpace(m[1]))
		return

	case schemaOpenRe.MatchString(line):
		m := schemaOpenRe.FindStringSubmatch(line)
		p.depth++
		p.openSchema(m[1], false, lineNo)
		return

	case embeddedOpenRe.MatchString(line):
		p.depth++
		p.openSchema("", true, lineNo)
		return
	}

	if p.cur != nil {
		switch {
		case schemaFieldRe.MatchString(body):
			m := schemaFieldRe.FindStringSubmatch(body)
			p.addField(m[1], m[2], lineNo)
			return

		case schemaAssocRe.MatchString(body):
			m := schemaAssocRe.FindStringSubmatch(body)
			p.addAssociation(AssocKind(m[1]), m[2], m[3], lineNo)
			if hasDo {
				p.depth++
				p.ignoreUntil = p.depth
			}
			return

		case timestampsRe.MatchString(body):
			m := timestampsRe.FindStringSubmatch(body)
			p.addTimestamps(m[1], lineNo)
			return
		}
	}

	if hasDo {
		p.depth++
	}
}

func (p *schemaParser) openSchema(table string, embedded bool, lineNo int) {
	module := ""
	if len(p.modules) > 0 {
		module = p.modules[len(p.modules)-1].name
	}
	p.cur = &SchemaFact{
		Module:   module,
		Table:    table,
		Embedded: embedded,
		File:     p.path,
		Line:     lineNo,
	}
	p.schemaDepth = p.depth
}

// finishSchema injects the implicit primary key and snapshots the
// alias table. The key goes first, matching the field order Ecto
// reflects at runtime.
func (p *schemaParser) finishSchema() {
	f := p.cur
	p.cur = nil

	if !f.Embedded && !p.pkDisabled {
		name := p.pkName
		if name == "" {
			name = "id"
		}
		typ := p.pkType
		if typ == "" {
			typ = "id"
		}
		if f.Field(name) == nil {
			f.Fields = append([]FieldFact{{Name: name, Type: typ, Line: f.Line}}, f.Fields...)
		}
	}

	f.Aliases = make(map[string]string, len(p.aliases))
	for k, v := range p.aliases {
		f.Aliases[k] = v
	}
	p.facts = append(p.facts, *f)
}

func (p *schemaParser) addField(name, rest string, lineNo int) {
	typ := "string"
	if rest != "" {
		if positional, _ := KeywordOpts(SplitArgs(rest)); len(positional) > 0 {
			typ = Atom(positional[0])
		}
	}
	p.cur.Fields = append(p.cur.Fields, FieldFact{Name: name, Type: typ, Line: lineNo})
}

func (p *schemaParser) addAssociation(kind AssocKind, name, rest string, lineNo int) {
	var positional []string
	opts := map[string]string{}
	if rest != "" {
		positional, opts = KeywordOpts(SplitArgs(rest))
	}

	target := ""
	switch {
	case len(positional) > 0:
		target = strings.TrimSpace(positional[0])
	case opts["through"] != "":
		// A through association has no direct target module.
	default:
		target = camelize(Singularize(name))
	}
	if target != "" {
		module := ""
		if len(p.modules) > 0 {
			module = p.modules[len(p.modules)-1].name
		}
		target = resolveTarget(target, module, p.aliases)
	}

	p.cur.Associations = append(p.cur.Associations, AssociationFact{
		Kind:   kind,
		Name:   name,
		Target: target,
		Line:   lineNo,
	})

	// belongs_to also declares the foreign key column.
	if kind == AssocBelongsTo {
		fk := name + "_id"
		if v, ok := opts["foreign_key"]; ok {
			fk = Atom(v)
		}
		typ := "id"
		if v, ok := opts["type"]; ok {
			typ = Atom(v)
		}
		if p.cur.Field(fk) == nil {
			p.cur.Fields = append(p.cur.Fields, FieldFact{Name: fk, Type: typ, Line: lineNo})
		}
	}
}

func (p *schemaParser) addTimestamps(rest string, lineNo int) {
	typ := "naive_datetime"
	if rest != "" {
		if _, opts := KeywordOpts(SplitArgs(rest)); opts["type"] != "" {
			typ = Atom(opts["type"])
		}
	}
	for _, name := range []string{"inserted_at", "updated_at"} {
		if p.cur.Field(name) == nil {
			p.cur.Fields = append(p.cur.Fields, FieldFact{Name: name, Type: typ, Line: lineNo})
		}
	}
}

// recordAlias handles the three alias forms: a plain module, the
// multi-alias brace form, and an explicit as:.
func (p *schemaParser) recordAlias(rest string) {
	args := SplitArgs(rest)
	if len(args) == 0 {
		return
	}
	first := args[0]
	_, opts := KeywordOpts(args[1:])

	if i := strings.Index(first, "{"); i >= 0 && strings.HasSuffix(first, "}") {
		base := strings.TrimSuffix(strings.TrimSpace(first[:i]), ".")
		inner := first[i+1 : len(first)-1]
		for _, part := range strings.Split(inner, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			full := base + "." + part
			p.aliases[lastModuleSegment(part)] = full
		}
		return
	}

	short := lastModuleSegment(first)
	if as, ok := opts["as"]; ok {
		short = lastModuleSegment(Atom(as))
	}
	if short != "" {
		p.aliases[short] = first
	}
}

func (p *schemaParser) recordPrimaryKey(arg string) {
	if arg == "false" {
		p.pkDisabled = true
		return
	}
	arg = strings.TrimPrefix(arg, "{")
	arg = strings.TrimSuffix(arg, "}")
	parts := SplitArgs(arg)
	if len(parts) > 0 {
		p.pkName = Atom(parts[0])
	}
	if len(parts) > 1 && strings.HasPrefix(strings.TrimSpace(parts[1]), ":") {
		p.pkType = Atom(parts[1])
	}
}

// resolveTarget qualifies an association target: a name whose head
// matches the alias table expands through it, an already qualified name
// stands as given, and a bare name falls back to the declaring module's
// namespace.
func resolveTarget(target, declModule string, aliases map[string]string) string {
	target = strings.TrimSpace(target)
	if target == "" {
		return ""
	}

	head := target
	rest := ""
	if i := strings.Index(target, "."); i >= 0 {
		head = target[:i]
		rest = target[i:]
	}
	if full, ok := aliases[head]; ok {
		return full + rest
	}
	if rest != "" {
		return target
	}
	if i := strings.LastIndex(declModule, "."); i >= 0 {
		return declModule[:i+1] + target
	}
	return target
}

// camelize turns a snake_case atom name into a module-style name.
func camelize(s string) string {
	var b strings.Builder
	up := true
	for _, r := range s {
		if r == '_' {
			up = true
			continue
		}
		if up && r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		up = false
		b.WriteRune(r)
	}
	return b.String()
}

func lastModuleSegment(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "."); i >= 0 {
		return s[i+1:]
	}
	return s
}
