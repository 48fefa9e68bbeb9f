package parser

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	ts "github.com/tree-sitter/go-tree-sitter"
)

// QueryType identifies which template query to run.
type QueryType int

const (
	// QueryTypeTags captures opening and self-closing tag names.
	// Component calls show up here as capitalized or dotted names.
	QueryTypeTags QueryType = iota
	// QueryTypeAttributes captures attribute names and quoted values
	QueryTypeAttributes
	// QueryTypeCode captures embedded Elixir code regions (<% ... %>)
	QueryTypeCode
)

// String returns the string representation of a QueryType.
func (qt QueryType) String() string {
	switch qt {
	case QueryTypeTags:
		return "tags"
	case QueryTypeAttributes:
		return "attributes"
	case QueryTypeCode:
		return "code"
	default:
		return "unknown"
	}
}

// tagsQuery matches element names in both open and self-closing form.
const tagsQuery = `
(start_tag (tag_name) @tag.name)
(self_closing_tag (tag_name) @tag.name)
`

// attributesQuery matches attribute names with optional quoted values.
// Brace-expression values are not valid HTML attribute syntax and are
// read from raw source by the template scanner instead.
const attributesQuery = `
(attribute
  (attribute_name) @attr.name
  (quoted_attribute_value (attribute_value) @attr.value)?)
`

// codeQuery matches the Elixir code inside <% %> and <%= %> regions.
const codeQuery = `
(code) @code.text
`

// queryKey uniquely identifies a compiled query (grammar + type).
type queryKey struct {
	grammar Grammar
	qtype   QueryType
}

// QueryManager compiles tree-sitter queries lazily and caches them.
//
// Thread-safe; compiled queries are freed via Close().
type QueryManager struct {
	parserManager *ParserManager
	cache         map[queryKey]*ts.Query
	mutex         sync.RWMutex
	logger        *slog.Logger
}

// NewQueryManager creates a new query manager. The parser manager is
// required to reach grammar pointers for compilation; logger may be nil.
func NewQueryManager(pm *ParserManager, logger *slog.Logger) *QueryManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryManager{
		parserManager: pm,
		cache:         make(map[queryKey]*ts.Query),
		logger:        logger,
	}
}

// GetQuery returns a compiled query for the grammar and type, compiling
// it on first access. Thread-safe via double-checked locking.
func (qm *QueryManager) GetQuery(grammar Grammar, qtype QueryType) (*ts.Query, error) {
	key := queryKey{grammar: grammar, qtype: qtype}

	qm.mutex.RLock()
	query, exists := qm.cache[key]
	qm.mutex.RUnlock()

	if exists {
		return query, nil
	}

	qm.mutex.Lock()
	defer qm.mutex.Unlock()

	// Another goroutine may have compiled it while we waited.
	if query, exists = qm.cache[key]; exists {
		return query, nil
	}

	queryString, err := queryString(grammar, qtype)
	if err != nil {
		return nil, err
	}

	langPtr, err := qm.parserManager.GetLanguagePointer(grammar)
	if err != nil {
		return nil, fmt.Errorf("failed to get grammar pointer for %s: %w", grammar, err)
	}
	tsLang := ts.NewLanguage(langPtr)

	query, qerr := ts.NewQuery(tsLang, queryString)
	if qerr != nil {
		return nil, fmt.Errorf("failed to compile %s query for %s: %s", qtype, grammar, qerr.Message)
	}

	qm.cache[key] = query
	qm.logger.Debug("compiled query",
		"grammar", grammar.String(),
		"type", qtype.String())

	return query, nil
}

// queryString returns the query source for a grammar and type.
func queryString(grammar Grammar, qtype QueryType) (string, error) {
	switch qtype {
	case QueryTypeTags:
		if grammar != GrammarHTML {
			return "", fmt.Errorf("tags query requires the html grammar, got %s", grammar)
		}
		return tagsQuery, nil
	case QueryTypeAttributes:
		if grammar != GrammarHTML {
			return "", fmt.Errorf("attributes query requires the html grammar, got %s", grammar)
		}
		return attributesQuery, nil
	case QueryTypeCode:
		if grammar != GrammarEEx {
			return "", fmt.Errorf("code query requires the embedded-template grammar, got %s", grammar)
		}
		return codeQuery, nil
	default:
		return "", fmt.Errorf("unknown query type: %d", qtype)
	}
}

// ExecuteQuery runs a compiled query on a parse tree and returns
// structured matches with capture text and locations.
func (qm *QueryManager) ExecuteQuery(tree *ts.Tree, query *ts.Query, source []byte) ([]QueryMatch, error) {
	if tree == nil {
		return nil, fmt.Errorf("tree is nil")
	}
	if query == nil {
		return nil, fmt.Errorf("query is nil")
	}

	cursor := ts.NewQueryCursor()
	defer cursor.Close()

	iter := cursor.Matches(query, tree.RootNode(), source)
	captureNames := query.CaptureNames()

	var matches []QueryMatch
	for {
		match := iter.Next()
		if match == nil {
			break
		}

		var captures []QueryCapture
		for _, capture := range match.Captures {
			var captureName string
			if int(capture.Index) < len(captureNames) {
				captureName = captureNames[capture.Index]
			}
			category, field := parseCaptureName(captureName)

			captures = append(captures, QueryCapture{
				Name:     captureName,
				Category: category,
				Field:    field,
				Node:     &capture.Node,
				Text:     capture.Node.Utf8Text(source),
				Location: nodeLocation(&capture.Node),
			})
		}

		matches = append(matches, QueryMatch{
			PatternIndex: uint32(match.PatternIndex),
			Captures:     captures,
		})
	}

	return matches, nil
}

// Close releases all compiled queries.
// After Close(), the QueryManager cannot be used.
func (qm *QueryManager) Close() error {
	qm.mutex.Lock()
	defer qm.mutex.Unlock()

	qm.logger.Debug("closing QueryManager",
		"queries_compiled", len(qm.cache))

	for key, query := range qm.cache {
		if query != nil {
			query.Close()
		}
		delete(qm.cache, key)
	}
	return nil
}

// QueryMatch represents a single pattern match from query execution.
type QueryMatch struct {
	PatternIndex uint32
	Captures     []QueryCapture
}

// QueryCapture represents a single captured node from a query match.
type QueryCapture struct {
	// Name is the full capture name (e.g. "tag.name")
	Name string

	// Category is the part before the dot, Field the part after.
	// Field is empty when the name has no dot.
	Category string
	Field    string

	// Node is the captured AST node
	Node *ts.Node

	// Text is the source text of the captured node
	Text string

	// Location is the position of the captured node
	Location Location
}

// Location represents a position in source code. Lines and columns are
// 1-based; byte offsets are 0-based.
type Location struct {
	StartLine   uint32
	StartColumn uint32
	EndLine     uint32
	EndColumn   uint32
	StartByte   uint32
	EndByte     uint32
}

// parseCaptureName splits "tag.name" into ("tag", "name").
func parseCaptureName(name string) (category, field string) {
	parts := strings.SplitN(name, ".", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return name, ""
}

// nodeLocation converts tree-sitter 0-based coordinates to 1-based
// line/column numbers.
func nodeLocation(node *ts.Node) Location {
	start := node.StartPosition()
	end := node.EndPosition()

	return Location{
		StartLine:   uint32(start.Row + 1),
		StartColumn: uint32(start.Column + 1),
		EndLine:     uint32(end.Row + 1),
		EndColumn:   uint32(end.Column + 1),
		StartByte:   uint32(node.StartByte()),
		EndByte:     uint32(node.EndByte()),
	}
}
