package parser

import (
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
	"unicode"

	ts "github.com/tree-sitter/go-tree-sitter"

	"github.com/phxlens/phxlens/pkg/util"
)

// NoTreeSitterEnv forces the heuristic template scanner when set,
// bypassing tree-sitter entirely. Useful on platforms where the CGO
// grammars misbehave and as an escape hatch in bug reports.
const NoTreeSitterEnv = "PHXLENS_NO_TREESITTER"

// EventUse is a reference to a server event from a template binding
// such as phx-click="save".
type EventUse struct {
	Name string `json:"name"`
	Attr string `json:"attr"`
	Line uint32 `json:"line"`
}

// ComponentUse is a function component call site in a template:
// <.button> locally, <MyAppWeb.CoreComponents.button> with a module.
type ComponentUse struct {
	Name   string   `json:"name"`
	Module string   `json:"module,omitempty"`
	Local  bool     `json:"local"`
	Line   uint32   `json:"line"`
	Attrs  []string `json:"attrs,omitempty"`
}

// AssignUse is a reference to a template assign (@name).
type AssignUse struct {
	Name string `json:"name"`
	Line uint32 `json:"line"`
}

// TemplateFacts is everything the registries want from one template.
type TemplateFacts struct {
	Path       string         `json:"path"`
	Events     []EventUse     `json:"events,omitempty"`
	Components []ComponentUse `json:"components,omitempty"`
	Assigns    []AssignUse    `json:"assigns,omitempty"`
	FromAST    bool           `json:"from_ast"`
}

// TemplateScanner extracts facts from HEEx and EEx templates.
//
// The tag structure comes from the HTML grammar and the <% %> code
// regions from the embedded-template grammar, both through the tree
// cache. Event bindings are always read from raw source because HEEx
// brace expressions are not valid HTML attribute syntax, so quoted and
// braced bindings behave the same in both modes. When the fallback is
// forced (or a grammar fails) everything comes from the raw-text path.
type TemplateScanner struct {
	qm            *QueryManager
	trees         *TreeCache
	forceFallback bool
	logger        *slog.Logger
}

// NewTemplateScanner creates a scanner backed by the query manager and
// tree cache. The PHXLENS_NO_TREESITTER environment variable forces
// fallback mode at construction.
func NewTemplateScanner(qm *QueryManager, trees *TreeCache, logger *slog.Logger) *TemplateScanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &TemplateScanner{
		qm:            qm,
		trees:         trees,
		forceFallback: os.Getenv(NoTreeSitterEnv) != "",
		logger:        logger,
	}
}

// SetForceFallback toggles the heuristic path regardless of environment.
func (s *TemplateScanner) SetForceFallback(force bool) {
	s.forceFallback = force
}

// Scan extracts template facts from content. Never fails: grammar
// trouble downgrades to the heuristic path for the affected aspect.
func (s *TemplateScanner) Scan(path string, content []byte) *TemplateFacts {
	facts := &TemplateFacts{Path: path}
	lines := newLineIndex(content)

	// Brace interpolation exists in HEEx only; classic EEx braces are
	// literal text.
	heex := DetectLanguage(path) == LanguageHEEx

	facts.Events = scanEvents(content, lines)

	if s.forceFallback {
		facts.Components = scanComponentsFallback(content, lines)
		facts.Assigns = scanAssignsFallback(content, lines, heex)
		return facts
	}

	comps, err := s.scanComponentsAST(path, content)
	if err != nil {
		s.logger.Warn("template structure parse failed, using fallback",
			"path", path, "error", err)
		facts.Components = scanComponentsFallback(content, lines)
	} else {
		facts.Components = comps
		facts.FromAST = true
	}

	assigns, err := s.scanAssignsAST(path, content)
	if err != nil {
		s.logger.Warn("template code parse failed, using fallback",
			"path", path, "error", err)
		facts.Assigns = scanAssignsFallback(content, lines, heex)
	} else {
		if heex {
			// Brace expressions live outside <% %> regions; merge them in.
			assigns = append(assigns, braceAssigns(content, lines)...)
		}
		facts.Assigns = dedupeAssigns(assigns)
	}

	util.Debugf(util.DebugParser, "template scanned",
		"path", path,
		"events", len(facts.Events),
		"components", len(facts.Components),
		"assigns", len(facts.Assigns),
		"ast", facts.FromAST)
	return facts
}

// scanComponentsAST extracts component call sites from the HTML tree.
//
// Component tag names contain '.' and '_', which the HTML grammar's tag
// scanner rejects, so the source is parsed with those bytes rewritten
// to ':' and '-'. The rewrite preserves byte length, so every node
// offset maps back into the original source and the true names are
// read from there.
func (s *TemplateScanner) scanComponentsAST(path string, content []byte) ([]ComponentUse, error) {
	tagsQ, err := s.qm.GetQuery(GrammarHTML, QueryTypeTags)
	if err != nil {
		return nil, err
	}
	attrsQ, err := s.qm.GetQuery(GrammarHTML, QueryTypeAttributes)
	if err != nil {
		return nil, err
	}

	sanitized := sanitizeTagNames(content)

	var uses []ComponentUse
	err = s.trees.WithTree(path, sanitized, GrammarHTML, func(tree *ts.Tree) error {
		tagMatches, err := s.qm.ExecuteQuery(tree, tagsQ, sanitized)
		if err != nil {
			return err
		}
		attrMatches, err := s.qm.ExecuteQuery(tree, attrsQ, sanitized)
		if err != nil {
			return err
		}

		// Attribute names grouped by the byte offset of their tag.
		attrsByTag := make(map[uint32][]string)
		for _, m := range attrMatches {
			for _, c := range m.Captures {
				if c.Field != "name" {
					continue
				}
				tag := enclosingTag(c.Node)
				if tag == nil {
					continue
				}
				name := originalText(content, tagNameNode(tag))
				if _, _, _, ok := parseComponentTag(name); !ok {
					continue
				}
				start := uint32(tag.StartByte())
				attrsByTag[start] = append(attrsByTag[start], c.Text)
			}
		}

		for _, m := range tagMatches {
			for _, c := range m.Captures {
				if c.Field != "name" {
					continue
				}
				module, fn, local, ok := parseComponentTag(originalText(content, c.Node))
				if !ok {
					continue
				}
				use := ComponentUse{
					Name:   fn,
					Module: module,
					Local:  local,
					Line:   c.Location.StartLine,
				}
				if tag := enclosingTag(c.Node); tag != nil {
					use.Attrs = attrsByTag[uint32(tag.StartByte())]
				}
				uses = append(uses, use)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return uses, nil
}

// sanitizeTagNames rewrites tag-name spans so the HTML grammar accepts
// component tags: '.' becomes ':' and '_' becomes '-'. Byte length is
// preserved.
func sanitizeTagNames(content []byte) []byte {
	out := make([]byte, len(content))
	copy(out, content)
	for i := 0; i < len(out); i++ {
		if out[i] != '<' {
			continue
		}
		j := i + 1
		if j < len(out) && out[j] == '/' {
			j++
		}
		if j >= len(out) || !isTagNameStart(out[j]) {
			continue
		}
		for ; j < len(out) && isTagNameByte(out[j]); j++ {
			switch out[j] {
			case '.':
				out[j] = ':'
			case '_':
				out[j] = '-'
			}
		}
		i = j - 1
	}
	return out
}

func isTagNameStart(b byte) bool {
	return b == '.' || b == ':' || b == '_' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isTagNameByte(b byte) bool {
	return b == '.' || b == ':' || b == '_' || b == '-' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}

// originalText reads a node's span from the unmodified source.
func originalText(content []byte, node *ts.Node) string {
	if node == nil {
		return ""
	}
	start, end := node.StartByte(), node.EndByte()
	if start >= end || int(end) > len(content) {
		return ""
	}
	return string(content[start:end])
}

// scanAssignsAST extracts @assign references from <% %> code regions.
func (s *TemplateScanner) scanAssignsAST(path string, content []byte) ([]AssignUse, error) {
	codeQ, err := s.qm.GetQuery(GrammarEEx, QueryTypeCode)
	if err != nil {
		return nil, err
	}

	var assigns []AssignUse
	err = s.trees.WithTree(path, content, GrammarEEx, func(tree *ts.Tree) error {
		matches, err := s.qm.ExecuteQuery(tree, codeQ, content)
		if err != nil {
			return err
		}
		for _, m := range matches {
			for _, c := range m.Captures {
				for _, ref := range assignRefs(c.Text) {
					line := c.Location.StartLine + uint32(strings.Count(c.Text[:ref.offset], "\n"))
					assigns = append(assigns, AssignUse{Name: ref.name, Line: line})
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assigns, nil
}

// enclosingTag walks up to the nearest start or self-closing tag node.
func enclosingTag(node *ts.Node) *ts.Node {
	for n := node.Parent(); n != nil; n = n.Parent() {
		kind := n.Kind()
		if kind == "start_tag" || kind == "self_closing_tag" {
			return n
		}
	}
	return nil
}

// tagNameNode returns the tag_name child of a tag node, or nil.
func tagNameNode(tag *ts.Node) *ts.Node {
	for i := uint(0); i < tag.NamedChildCount(); i++ {
		child := tag.NamedChild(i)
		if child != nil && child.Kind() == "tag_name" {
			return child
		}
	}
	return nil
}

// parseComponentTag splits a tag name into component parts.
//
//	".button"                        -> ("", "button", local)
//	"MyAppWeb.CoreComponents.button" -> ("MyAppWeb.CoreComponents", "button", remote)
//
// Lowercase names are plain HTML tags and slot entries (":header")
// belong to their enclosing component call, so neither is a component.
func parseComponentTag(name string) (module, fn string, local bool, ok bool) {
	if name == "" || strings.HasPrefix(name, ":") {
		return "", "", false, false
	}
	if strings.HasPrefix(name, ".") {
		fn = name[1:]
		if fn == "" {
			return "", "", false, false
		}
		return "", fn, true, true
	}
	first := []rune(name)[0]
	if !unicode.IsUpper(first) {
		return "", "", false, false
	}
	idx := strings.LastIndex(name, ".")
	if idx < 0 || idx == len(name)-1 {
		// A bare module tag is not a component call.
		return "", "", false, false
	}
	last := name[idx+1:]
	if r := []rune(last)[0]; unicode.IsUpper(r) {
		return "", "", false, false
	}
	return name[:idx], last, false, true
}

// eventAttrRe matches the LiveView event binding attributes.
var eventAttrRe = regexp.MustCompile(`\bphx-(click-away|click|submit|change|window-keydown|window-keyup|keydown|keyup|window-blur|window-focus|blur|focus|viewport-top|viewport-bottom)\s*=\s*`)

// scanEvents finds event bindings with literal event names. Dynamic
// bindings like phx-click={@event} contribute nothing.
func scanEvents(content []byte, lines *lineIndex) []EventUse {
	var events []EventUse
	text := string(content)
	for _, loc := range eventAttrRe.FindAllStringSubmatchIndex(text, -1) {
		attr := "phx-" + text[loc[2]:loc[3]]
		name, ok := literalAttrValue(text, loc[1])
		if !ok {
			continue
		}
		events = append(events, EventUse{
			Name: name,
			Attr: attr,
			Line: lines.lineFor(loc[0]),
		})
	}
	return events
}

// literalAttrValue reads an attribute value starting at pos and returns
// the literal event name it carries, if any. Quoted values are taken
// whole; brace expressions yield their first string literal, which
// covers JS.push("name") chains.
func literalAttrValue(text string, pos int) (string, bool) {
	if pos >= len(text) {
		return "", false
	}
	switch text[pos] {
	case '"', '\'':
		quote := text[pos]
		end := strings.IndexByte(text[pos+1:], quote)
		if end < 0 {
			return "", false
		}
		val := text[pos+1 : pos+1+end]
		if val == "" || strings.ContainsAny(val, "{}<>") {
			return "", false
		}
		return val, true
	case '{':
		depth := 0
		for i := pos; i < len(text); i++ {
			switch text[i] {
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return firstStringLiteral(text[pos+1 : i])
				}
			case '"':
				// Skip over the string so braces inside it are ignored.
				end := strings.IndexByte(text[i+1:], '"')
				if end < 0 {
					return "", false
				}
				i += end + 1
			}
		}
	}
	return "", false
}

// firstStringLiteral returns the first double-quoted string in an
// expression, excluding interpolations.
func firstStringLiteral(expr string) (string, bool) {
	start := strings.IndexByte(expr, '"')
	if start < 0 {
		return "", false
	}
	end := strings.IndexByte(expr[start+1:], '"')
	if end < 0 {
		return "", false
	}
	val := expr[start+1 : start+1+end]
	if val == "" || strings.Contains(val, "#{") {
		return "", false
	}
	return val, true
}

var componentTagRe = regexp.MustCompile(`<(\.[a-z_][A-Za-z0-9_]*|[A-Z][A-Za-z0-9_.]*)[\s/>]`)

// scanComponentsFallback finds component tags with a regex when the
// grammar is unavailable. Attribute lists are not recovered here.
func scanComponentsFallback(content []byte, lines *lineIndex) []ComponentUse {
	var uses []ComponentUse
	text := string(content)
	for _, loc := range componentTagRe.FindAllStringSubmatchIndex(text, -1) {
		name := text[loc[2]:loc[3]]
		module, fn, local, ok := parseComponentTag(name)
		if !ok {
			continue
		}
		uses = append(uses, ComponentUse{
			Name:   fn,
			Module: module,
			Local:  local,
			Line:   lines.lineFor(loc[0]),
		})
	}
	return uses
}

var eexRegionRe = regexp.MustCompile(`(?s)<%=?(.*?)%>`)

// scanAssignsFallback finds @assign references inside <% %> regions and,
// for HEEx, brace expressions, without a grammar.
func scanAssignsFallback(content []byte, lines *lineIndex, heex bool) []AssignUse {
	var assigns []AssignUse
	text := string(content)
	for _, loc := range eexRegionRe.FindAllStringSubmatchIndex(text, -1) {
		region := text[loc[2]:loc[3]]
		for _, ref := range assignRefs(region) {
			assigns = append(assigns, AssignUse{
				Name: ref.name,
				Line: lines.lineFor(loc[2] + ref.offset),
			})
		}
	}
	if heex {
		assigns = append(assigns, braceAssigns(content, lines)...)
	}
	return dedupeAssigns(assigns)
}

// braceAssigns scans {...} interpolation regions for assign references.
// String contents are skipped so quoted braces do not derail depth
// tracking.
func braceAssigns(content []byte, lines *lineIndex) []AssignUse {
	var assigns []AssignUse
	text := string(content)
	depth := 0
	start := -1
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '"':
			end := strings.IndexByte(text[i+1:], '"')
			if end < 0 {
				i = len(text)
				break
			}
			i += end + 1
		case '{':
			if depth == 0 {
				start = i + 1
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				for _, ref := range assignRefs(text[start:i]) {
					assigns = append(assigns, AssignUse{
						Name: ref.name,
						Line: lines.lineFor(start + ref.offset),
					})
				}
				start = -1
			}
		}
	}
	return assigns
}

type assignRef struct {
	name   string
	offset int
}

var assignRe = regexp.MustCompile(`@([a-z_][A-Za-z0-9_]*[?!]?)`)

// assignRefs finds @name references in an Elixir expression. A word
// character before the @ means it is not an assign (user@example.com).
func assignRefs(expr string) []assignRef {
	var refs []assignRef
	for _, loc := range assignRe.FindAllStringSubmatchIndex(expr, -1) {
		if loc[0] > 0 {
			prev := expr[loc[0]-1]
			if prev == '_' || prev == '@' ||
				(prev >= 'a' && prev <= 'z') || (prev >= 'A' && prev <= 'Z') ||
				(prev >= '0' && prev <= '9') {
				continue
			}
		}
		refs = append(refs, assignRef{
			name:   expr[loc[2]:loc[3]],
			offset: loc[0],
		})
	}
	return refs
}

// dedupeAssigns keeps the first reference per assign name, ordered by
// line for stable output.
func dedupeAssigns(assigns []AssignUse) []AssignUse {
	sort.SliceStable(assigns, func(i, j int) bool { return assigns[i].Line < assigns[j].Line })
	seen := make(map[string]bool, len(assigns))
	out := assigns[:0]
	for _, a := range assigns {
		if seen[a.Name] {
			continue
		}
		seen[a.Name] = true
		out = append(out, a)
	}
	return out
}

// lineIndex maps byte offsets to 1-based line numbers.
type lineIndex struct {
	starts []int
}

func newLineIndex(content []byte) *lineIndex {
	starts := []int{0}
	for i, b := range content {
		if b == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &lineIndex{starts: starts}
}

func (li *lineIndex) lineFor(offset int) uint32 {
	n := sort.Search(len(li.starts), func(i int) bool { return li.starts[i] > offset })
	return uint32(n)
}
